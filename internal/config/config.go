// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes settings for the
// HTTP server, logging, the vote store, the change channel, live results,
// rate limiting, and observability.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-poll-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DBConfig selects and locates the durable vote store.
type DBConfig struct {
	Driver string // sqlite|postgres
	Path   string // SQLite file (sqlite driver)
	URL    string // DSN (postgres driver)
}

// RedisConfig configures the cross-instance change channel. An empty Addr
// keeps notifications in-process.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// LiveConfig tunes the per-poll aggregation units.
type LiveConfig struct {
	InboxSize      int           // bounded inbox per poll
	IdleTTL        time.Duration // evict units without subscribers after this
	ResyncInterval time.Duration // periodic count check against the store
	Heartbeat      time.Duration // SSE keepalive
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Store / change channel
	DB    DBConfig
	Redis RedisConfig

	// Voting
	VoteTimeout   time.Duration // upper bound for persisting a submission
	VoterHashSalt string        // salt for hashed connection identifiers
	Live          LiveConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads the environment, applies defaults and normalization, and
// validates the result. A set but malformed variable is an error rather
// than a silent fallback to the default; all problems are reported at once.
func Load() (Config, error) {
	var e env
	cfg := Config{
		Port:              e.str("PORT", "8080"),
		ReadTimeout:       e.dur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: e.dur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      e.dur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       e.dur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    e.num("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(e.str("GIN_MODE", "release")),

		LogLevel:       strings.ToLower(e.str("LOG_LEVEL", "info")),
		LogPretty:      e.flag("LOG_PRETTY", false),
		SwaggerEnabled: e.flag("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(e.str("API_BASE_PATH", "/api/v1")),

		DB: DBConfig{
			Driver: strings.ToLower(strings.TrimSpace(e.str("DB_DRIVER", "sqlite"))),
			Path:   e.str("DB_PATH", "polls.db"),
			URL:    e.str("DATABASE_URL", ""),
		},
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(e.str("REDIS_ADDR", "")),
			Password: e.str("REDIS_PASSWORD", ""),
			DB:       e.num("REDIS_DB", 0),
			Channel:  e.str("REDIS_CHANNEL", "poll-votes"),
		},

		VoteTimeout:   e.dur("VOTE_TIMEOUT", 5*time.Second),
		VoterHashSalt: e.str("VOTER_HASH_SALT", ""),
		Live: LiveConfig{
			InboxSize:      e.num("LIVE_INBOX_SIZE", 256),
			IdleTTL:        e.dur("LIVE_IDLE_TTL", 30*time.Second),
			ResyncInterval: e.dur("LIVE_RESYNC_INTERVAL", 15*time.Second),
			Heartbeat:      e.dur("LIVE_HEARTBEAT", 20*time.Second),
		},

		RateRPS:   e.float("RATE_RPS", 5.0),
		RateBurst: e.num("RATE_BURST", 10),

		CORS: CORSConfig{AllowedOrigins: splitCSV(e.str("CORS_ALLOWED_ORIGINS", ""))},
		Security: SecurityConfig{
			EnableHSTS: e.flag("ENABLE_HSTS", false),
			HSTSMaxAge: e.dur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		IdempotencyTTL: e.dur("IDEMPOTENCY_TTL", 24*time.Hour),

		OTEL: OTELConfig{
			Enabled:     e.flag("OTEL_ENABLED", false),
			Endpoint:    e.str("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    e.flag("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: e.str("OTEL_SERVICE_NAME", "go-poll-backend"),
			SampleRatio: e.float("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}
	cfg.normalize()
	return cfg, errors.Join(append(e.errs, cfg.validate()...)...)
}

func (c *Config) normalize() {
	if c.LogLevel == "warning" {
		c.LogLevel = "warn"
	}
	switch c.GinMode {
	case "debug", "release", "test":
	default:
		c.GinMode = "release"
	}
	switch c.DB.Driver {
	case "postgresql", "pg":
		c.DB.Driver = "postgres"
	}
}

// validate returns every violated constraint, server settings first.
func (c Config) validate() []error {
	var errs []error
	check := func(bad bool, msg string) {
		if bad {
			errs = append(errs, errors.New(msg))
		}
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		errs = append(errs, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic"))
	}
	check(strings.TrimSpace(c.Port) == "", "PORT must not be empty")
	check(c.ReadTimeout <= 0 || c.ReadHeaderTimeout <= 0 || c.WriteTimeout <= 0 || c.IdleTimeout <= 0,
		"timeouts must be positive durations")
	check(c.MaxHeaderBytes <= 0, "MAX_HEADER_BYTES must be > 0")

	switch c.DB.Driver {
	case "sqlite":
		check(strings.TrimSpace(c.DB.Path) == "", "DB_PATH must not be empty")
	case "postgres":
		check(strings.TrimSpace(c.DB.URL) == "", "DATABASE_URL is required when DB_DRIVER=postgres")
	default:
		errs = append(errs, errors.New("DB_DRIVER must be one of: sqlite, postgres"))
	}
	check(c.Redis.Addr != "" && strings.TrimSpace(c.Redis.Channel) == "", "REDIS_CHANNEL must not be empty")

	check(c.VoteTimeout <= 0, "VOTE_TIMEOUT must be > 0")
	check(c.Live.InboxSize < 1, "LIVE_INBOX_SIZE must be >= 1")
	check(c.Live.IdleTTL <= 0 || c.Live.ResyncInterval <= 0 || c.Live.Heartbeat <= 0,
		"LIVE_* durations must be positive")
	check(c.RateRPS < 0, "RATE_RPS must be >= 0")
	check(c.RateBurst < 1, "RATE_BURST must be >= 1")
	check(c.Security.HSTSMaxAge < 0, "HSTS_MAX_AGE must be >= 0")
	check(c.IdempotencyTTL <= 0, "IDEMPOTENCY_TTL must be > 0")
	check(c.OTEL.SampleRatio < 0 || c.OTEL.SampleRatio > 1, "OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	return errs
}

// env reads typed variables. Unset or empty variables yield the default;
// unparsable ones yield the default and record an error.
type env struct {
	errs []error
}

func lookup[T any](e *env, k string, def T, parse func(string) (T, error)) T {
	v, ok := os.LookupEnv(k)
	if !ok || v == "" {
		return def
	}
	out, err := parse(strings.TrimSpace(v))
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid value %q", k, v))
		return def
	}
	return out
}

func (e *env) str(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func (e *env) num(k string, def int) int { return lookup(e, k, def, strconv.Atoi) }

func (e *env) float(k string, def float64) float64 {
	return lookup(e, k, def, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
}

func (e *env) dur(k string, def time.Duration) time.Duration {
	return lookup(e, k, def, time.ParseDuration)
}

func (e *env) flag(k string, def bool) bool {
	return lookup(e, k, def, parseBool)
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean: %q", s)
}

// splitCSV splits on commas, trimming and dropping empty entries.
func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures a leading '/' and strips trailing ones (except root).
func normalizeBasePath(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	return "/" + p
}
