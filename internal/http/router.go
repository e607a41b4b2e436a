// Package httpapi builds the Gin engine for the poll service: the global
// middleware pipeline, health and metrics endpoints, and the versioned poll,
// vote and results API.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-poll-backend/internal/config"
	"github.com/tbourn/go-poll-backend/internal/http/handlers"
	"github.com/tbourn/go-poll-backend/internal/http/middleware"
	"github.com/tbourn/go-poll-backend/internal/notify"
	"github.com/tbourn/go-poll-backend/internal/repo"
	"github.com/tbourn/go-poll-backend/internal/services"
)

const maxBodyBytes = 1 << 20

// idempotencyLookup adapts repo.GetIdempotency to the middleware contract.
// Not-found is a plain miss; other errors are returned for the caller to
// treat as a miss.
func idempotencyLookup(db *gorm.DB) middleware.IdempotencyLookup {
	return func(ctx context.Context, voterKey, pollID, key string, now time.Time) (bool, error) {
		rec, err := repo.GetIdempotency(ctx, db, voterKey, pollID, key, now)
		if errors.Is(err, repo.ErrNotFound) {
			return false, nil
		}
		return rec != nil, err
	}
}

// pipeline is the global middleware in execution order. Identity precedes
// the idempotency check, which precedes the rate limiter so a replayed
// submission is never throttled. The access logger sits before Recovery so a
// panic still produces its access line.
func pipeline(db *gorm.DB, cfg config.Config) []gin.HandlerFunc {
	access := middleware.RedactingLogger(middleware.RedactOptions{MaskHeaders: []string{"X-API-Key"}})
	if cfg.LogPretty {
		access = middleware.Logger()
	}
	limiter := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByVoterOrIP()).
		LimitMethods(http.MethodPost, http.MethodPut)

	chain := []gin.HandlerFunc{
		otelgin.Middleware(cfg.OTEL.ServiceName),
		middleware.RequestID(),
		access,
		middleware.Recovery(),
		limitBody(maxBodyBytes),
		middleware.Metrics(),
		middleware.Identity(middleware.IdentityOptions{Salt: cfg.VoterHashSalt}),
		middleware.IdempotencyValidator(middleware.IdempotencyOptions{MaxLen: 200}, idempotencyLookup(db)),
		limiter.Handler(),
	}
	chain = append(chain, corsHandlers(cfg.CORS)...)
	return append(chain, middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		EnablePolicy: true,
	}))
}

// RegisterRoutes installs the pipeline and every endpoint on r. tallies
// serves live results (normally a *live.Hub listening on notifier); notifier
// carries vote and poll change events, possibly across instances via Redis.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, tallies services.Tallies, notifier notify.Channel, cfg config.Config) {
	r.HandleMethodNotAllowed = true
	r.Use(pipeline(db, cfg)...)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "no such route")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, c.Request.Method+" not allowed here")
	})
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	pollSvc := services.NewPollService(db, notifier, log.Logger)
	voteSvc := services.NewVoteService(db, notifier, cfg.VoteTimeout, cfg.IdempotencyTTL, log.Logger)
	resultsSvc := services.NewResultsService(db, tallies)
	h := handlers.New(pollSvc, voteSvc, resultsSvc, cfg.Live.Heartbeat)

	api := groupWithPrefix(r, cfg.APIBasePath)

	// Compressed JSON and CSV; the SSE stream must flush event by event.
	zipped := api.Group("", gzip.Gzip(gzip.DefaultCompression,
		gzip.WithExcludedPathsRegexs([]string{`/results/stream$`}),
	))
	{
		// Polls
		zipped.PUT("/polls", h.UpsertPoll)
		zipped.GET("/polls", h.ListPolls)
		zipped.GET("/polls/:id", h.GetPoll)
		zipped.POST("/polls/:id/close", h.ClosePoll)
		zipped.POST("/polls/:id/reopen", h.ReopenPoll)

		// Votes
		zipped.POST("/polls/:id/votes", h.SubmitVote)

		// Results
		zipped.GET("/polls/:id/results", middleware.Revalidate(), h.GetResults)
		zipped.GET("/polls/:id/results/stream", middleware.NoStore(), h.StreamResults)
		zipped.GET("/polls/:id/export.csv", middleware.Revalidate(), h.ExportCSV)
	}
}

// limitBody caps request bodies at maxBytes; reads past the cap fail.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts the API at prefix; "" and "/" mean the root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "/" {
		prefix = ""
	}
	return r.Group(prefix)
}
