// Command server runs the poll backend HTTP API.
//
//	@title						Poll Backend API
//	@version					1.0
//	@description				Vote recording and live result aggregation for polls.
//	@BasePath					/api/v1
//	@schemes					http https
//	@securityDefinitions.apikey	UserID
//	@in							header
//	@name						X-User-ID
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	_ "github.com/tbourn/go-poll-backend/docs"
	"github.com/tbourn/go-poll-backend/internal/config"
	httpapi "github.com/tbourn/go-poll-backend/internal/http"
	"github.com/tbourn/go-poll-backend/internal/live"
	"github.com/tbourn/go-poll-backend/internal/notify"
	"github.com/tbourn/go-poll-backend/internal/observability"
	"github.com/tbourn/go-poll-backend/internal/repo"
	"github.com/tbourn/go-poll-backend/internal/sysutil"
)

// version is set at build time via -ldflags "-X main.version=...".
var version string

const (
	shutdownTimeout = 15 * time.Second
	purgeInterval   = 10 * time.Minute
)

func main() {
	// .env is optional; real environment wins.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetupLogger(sysutil.LogOptions{
		Level:   cfg.LogLevel,
		Pretty:  cfg.LogPretty,
		Service: cfg.OTEL.ServiceName,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ver := sysutil.FirstNonEmpty(version, os.Getenv("APP_VERSION"), "dev")
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, ver)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}

	db, err := repo.Open(cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DB.Driver).Msg("open database")
	}
	if !sysutil.EnvFlag("SKIP_MIGRATE") {
		if err := repo.AutoMigrate(db); err != nil {
			log.Fatal().Err(err).Msg("migrate database")
		}
	}

	notifier, closeNotifier := openNotifier(ctx, cfg)

	hub := live.NewHub(live.DBStore{DB: db}, live.Options{
		InboxSize:      cfg.Live.InboxSize,
		IdleTTL:        cfg.Live.IdleTTL,
		ResyncInterval: cfg.Live.ResyncInterval,
	}, log.Logger)
	if bus, ok := notifier.(*notify.Bus); ok {
		bus.OnDrop = hub.Dropped
	}
	if err := hub.Listen(ctx, notifier); err != nil {
		log.Fatal().Err(err).Msg("subscribe live hub")
	}

	go purgeIdempotency(ctx, db)

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, db, hub, notifier, cfg)

	srv := &http.Server{
		Addr:              ":" + sysutil.FirstNonEmpty(cfg.Port, "8080"),
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}
	// Result streams never go idle; closing the hub ends them so Shutdown
	// can drain the remaining connections.
	srv.RegisterOnShutdown(hub.Close)

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", ver).Str("db", cfg.DB.Driver).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	closeNotifier()
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	if err := shutdownOTel(sctx); err != nil {
		log.Error().Err(err).Msg("otel shutdown")
	}
	log.Info().Msg("server stopped")
}

// openNotifier returns the Redis channel when REDIS_ADDR is set, otherwise
// the in-process bus. The returned func releases it.
func openNotifier(ctx context.Context, cfg config.Config) (notify.Channel, func()) {
	if cfg.Redis.Addr == "" {
		return notify.NewBus(0, log.Logger), func() {}
	}
	rn, err := notify.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Channel, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("connect redis")
	}
	log.Info().Str("addr", cfg.Redis.Addr).Str("channel", cfg.Redis.Channel).Msg("vote notifications via redis")
	return rn, func() { _ = rn.Close() }
}

// purgeIdempotency drops expired Idempotency-Key records until ctx ends.
func purgeIdempotency(ctx context.Context, db *gorm.DB) {
	t := time.NewTicker(purgeInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := repo.PurgeExpiredIdempotency(ctx, db, now.UTC())
			if err != nil {
				log.Warn().Err(err).Msg("purge idempotency")
				continue
			}
			if n > 0 {
				log.Debug().Int64("rows", n).Msg("purged idempotency keys")
			}
		}
	}
}
