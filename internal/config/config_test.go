package config

import (
	"os"
	"reflect"
	"strings"
	"testing"
	"time"
)

// Load reads the real environment; clear the variables a developer shell or
// CI runner commonly sets so defaults are deterministic.
func TestMain(m *testing.M) {
	for _, k := range []string{"PORT", "DB_DRIVER", "DATABASE_URL", "REDIS_ADDR", "LOG_LEVEL", "GIN_MODE"} {
		os.Unsetenv(k)
	}
	os.Exit(m.Run())
}

func setenv(t *testing.T, kv map[string]string) {
	t.Helper()
	for k, v := range kv {
		t.Setenv(k, v)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Port != "8080" || cfg.GinMode != "release" || cfg.APIBasePath != "/api/v1" || cfg.LogLevel != "info" {
		t.Fatalf("server defaults unexpected: %+v", cfg)
	}
	if cfg.DB != (DBConfig{Driver: "sqlite", Path: "polls.db"}) {
		t.Fatalf("db defaults unexpected: %+v", cfg.DB)
	}
	if cfg.Redis.Addr != "" || cfg.Redis.Channel != "poll-votes" {
		t.Fatalf("redis should be off with the default channel: %+v", cfg.Redis)
	}
	want := LiveConfig{InboxSize: 256, IdleTTL: 30 * time.Second, ResyncInterval: 15 * time.Second, Heartbeat: 20 * time.Second}
	if cfg.Live != want || cfg.VoteTimeout != 5*time.Second {
		t.Fatalf("voting defaults unexpected: live=%+v timeout=%v", cfg.Live, cfg.VoteTimeout)
	}
	if cfg.CORS.AllowedOrigins != nil || cfg.IdempotencyTTL != 24*time.Hour || cfg.OTEL.SampleRatio != 1 {
		t.Fatalf("misc defaults unexpected: %+v", cfg)
	}
}

func TestLoad_OverridesAndNormalization(t *testing.T) {
	setenv(t, map[string]string{
		"PORT":                        "8088",
		"READ_TIMEOUT":                "2s",
		"MAX_HEADER_BYTES":            "8192",
		"GIN_MODE":                    "weird",
		"LOG_LEVEL":                   "WARNING",
		"LOG_PRETTY":                  "yes",
		"SWAGGER_ENABLED":             "on",
		"API_BASE_PATH":               "api/v1/",
		"DB_DRIVER":                   "PostgreSQL",
		"DATABASE_URL":                "postgres://u:p@db:5432/polls",
		"REDIS_ADDR":                  " redis:6379 ",
		"REDIS_DB":                    "2",
		"REDIS_CHANNEL":               "votes",
		"VOTE_TIMEOUT":                "750ms",
		"VOTER_HASH_SALT":             "pepper",
		"LIVE_INBOX_SIZE":             "8",
		"LIVE_HEARTBEAT":              "10s",
		"RATE_RPS":                    "0.5",
		"RATE_BURST":                  "3",
		"CORS_ALLOWED_ORIGINS":        " https://a.com , , http://b ",
		"ENABLE_HSTS":                 " TRUE ",
		"IDEMPOTENCY_TTL":             "48h",
		"OTEL_ENABLED":                "1",
		"OTEL_EXPORTER_OTLP_INSECURE": "0",
		"OTEL_TRACES_SAMPLER_ARG":     "0.75",
	})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Port != "8088" || cfg.ReadTimeout != 2*time.Second || cfg.MaxHeaderBytes != 8192 || cfg.GinMode != "release" {
		t.Fatalf("server fields unexpected: %+v", cfg)
	}
	if cfg.LogLevel != "warn" || !cfg.LogPretty || !cfg.SwaggerEnabled || cfg.APIBasePath != "/api/v1" {
		t.Fatalf("logging/docs unexpected: %+v", cfg)
	}
	if cfg.DB.Driver != "postgres" || cfg.DB.URL != "postgres://u:p@db:5432/polls" {
		t.Fatalf("db unexpected: %+v", cfg.DB)
	}
	if cfg.Redis != (RedisConfig{Addr: "redis:6379", DB: 2, Channel: "votes"}) {
		t.Fatalf("redis unexpected: %+v", cfg.Redis)
	}
	if cfg.VoteTimeout != 750*time.Millisecond || cfg.VoterHashSalt != "pepper" ||
		cfg.Live.InboxSize != 8 || cfg.Live.Heartbeat != 10*time.Second {
		t.Fatalf("voting unexpected: %+v", cfg)
	}
	if cfg.RateRPS != 0.5 || cfg.RateBurst != 3 {
		t.Fatalf("rate limiting unexpected: %v/%d", cfg.RateRPS, cfg.RateBurst)
	}
	if !reflect.DeepEqual(cfg.CORS.AllowedOrigins, []string{"https://a.com", "http://b"}) {
		t.Fatalf("cors origins unexpected: %#v", cfg.CORS.AllowedOrigins)
	}
	if !cfg.Security.EnableHSTS || cfg.IdempotencyTTL != 48*time.Hour {
		t.Fatalf("security/idempotency unexpected: %+v %v", cfg.Security, cfg.IdempotencyTTL)
	}
	if !cfg.OTEL.Enabled || cfg.OTEL.Insecure || cfg.OTEL.SampleRatio != 0.75 {
		t.Fatalf("otel unexpected: %+v", cfg.OTEL)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"invalid LOG_LEVEL", map[string]string{"LOG_LEVEL": "verbose"}, "LOG_LEVEL"},
		{"blank PORT", map[string]string{"PORT": "   "}, "PORT must not be empty"},
		{"non-positive timeouts", map[string]string{"READ_TIMEOUT": "0s"}, "timeouts must be positive"},
		{"max header bytes", map[string]string{"MAX_HEADER_BYTES": "0"}, "MAX_HEADER_BYTES"},
		{"blank DB_PATH", map[string]string{"DB_PATH": "   "}, "DB_PATH must not be empty"},
		{"unknown driver", map[string]string{"DB_DRIVER": "oracle"}, "DB_DRIVER"},
		{"postgres without url", map[string]string{"DB_DRIVER": "pg"}, "DATABASE_URL"},
		{"redis without channel", map[string]string{"REDIS_ADDR": "r:6379", "REDIS_CHANNEL": " "}, "REDIS_CHANNEL"},
		{"vote timeout", map[string]string{"VOTE_TIMEOUT": "0s"}, "VOTE_TIMEOUT"},
		{"inbox size", map[string]string{"LIVE_INBOX_SIZE": "0"}, "LIVE_INBOX_SIZE"},
		{"live durations", map[string]string{"LIVE_IDLE_TTL": "-1s"}, "LIVE_*"},
		{"rate rps negative", map[string]string{"RATE_RPS": "-1"}, "RATE_RPS"},
		{"rate burst", map[string]string{"RATE_BURST": "0"}, "RATE_BURST"},
		{"hsts max age negative", map[string]string{"HSTS_MAX_AGE": "-1s"}, "HSTS_MAX_AGE"},
		{"idempotency ttl", map[string]string{"IDEMPOTENCY_TTL": "0s"}, "IDEMPOTENCY_TTL"},
		{"sample ratio", map[string]string{"OTEL_TRACES_SAMPLER_ARG": "1.5"}, "OTEL_TRACES_SAMPLER_ARG"},
		{"malformed number", map[string]string{"RATE_RPS": "fast"}, `RATE_RPS: invalid value "fast"`},
		{"malformed duration", map[string]string{"VOTE_TIMEOUT": "soon"}, `VOTE_TIMEOUT: invalid value "soon"`},
		{"malformed bool", map[string]string{"ENABLE_HSTS": "maybe"}, `ENABLE_HSTS: invalid value "maybe"`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setenv(t, tc.env)
			if _, err := Load(); err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got: %v", tc.want, err)
			}
		})
	}
}

func TestLoad_ReportsAllProblems(t *testing.T) {
	setenv(t, map[string]string{"RATE_BURST": "x", "LOG_LEVEL": "loud", "VOTE_TIMEOUT": "0s"})
	_, err := Load()
	if err == nil {
		t.Fatalf("expected error")
	}
	for _, want := range []string{"RATE_BURST", "LOG_LEVEL", "VOTE_TIMEOUT"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("missing %s in %v", want, err)
		}
	}
}

func TestMustLoad_PanicsOnInvalidConfig(t *testing.T) {
	t.Setenv("LOG_LEVEL", "verbose")
	defer func() {
		if recover() == nil {
			t.Fatalf("MustLoad should panic on invalid config")
		}
	}()
	_ = MustLoad()
}

func Test_parseBool(t *testing.T) {
	for _, s := range []string{"1", "true", "YES", "y", "On"} {
		if v, err := parseBool(s); err != nil || !v {
			t.Fatalf("parseBool(%q) = %v, %v", s, v, err)
		}
	}
	for _, s := range []string{"0", "false", "No", "n", "OFF"} {
		if v, err := parseBool(s); err != nil || v {
			t.Fatalf("parseBool(%q) = %v, %v", s, v, err)
		}
	}
	if _, err := parseBool("perhaps"); err == nil {
		t.Fatalf("parseBool should reject unknown words")
	}
}

func Test_splitCSV_and_normalizeBasePath(t *testing.T) {
	if out := splitCSV(""); out != nil {
		t.Fatalf("splitCSV empty should return nil")
	}
	if got := splitCSV(" a, ,b ,  c  ,"); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("splitCSV mismatch: got %#v", got)
	}
	for in, want := range map[string]string{"": "/", " / ": "/", "v1": "/v1", "/v1/": "/v1", "/api/v1": "/api/v1"} {
		if got := normalizeBasePath(in); got != want {
			t.Fatalf("normalizeBasePath(%q) = %q; want %q", in, got, want)
		}
	}
}
