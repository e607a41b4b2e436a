// Package middleware contains the Gin middleware shared by the HTTP layer.
//
// This file holds request correlation, the access logger, and panic recovery:
//
//   - RequestID() reuses or mints the X-Request-ID for each request.
//   - Logger() writes one compact access line per request. RedactingLogger
//     is the production variant that also scrubs and records headers.
//   - Recovery() turns panics into the JSON 500 envelope.
//   - LoggerFrom() hands handlers the request-scoped zerolog.Logger.
//
// Recommended order is RequestID, then a logger, then Recovery, so panics are
// logged with their correlation id.
package middleware

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// requestIDKey is the Gin context key under which the request ID is stored.
	requestIDKey = "requestID"
	// requestIDHeader is the HTTP header used to propagate the correlation ID.
	requestIDHeader = "X-Request-ID"
	// loggerKey holds the request-scoped *zerolog.Logger.
	loggerKey = "logger"
	// maxQueryLogLength caps the number of bytes of the raw query string logged.
	maxQueryLogLength = 2048
)

// RequestID attaches (or propagates) a correlation identifier per request.
// An incoming X-Request-ID is reused; otherwise a UUIDv4 is generated. The
// value is echoed on the response and stored under requestIDKey.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// scopeLogger builds the request-scoped logger (request id, poll id, method
// and route) and stores it for LoggerFrom. Without RequestID the id is taken
// from the response header, then the inbound one.
func scopeLogger(c *gin.Context, path string) zerolog.Logger {
	rid := asString(c.Value(requestIDKey))
	if rid == "" {
		rid = c.Writer.Header().Get(requestIDHeader)
	}
	if rid == "" {
		rid = c.GetHeader(requestIDHeader)
	}
	ctx := log.With().
		Str("request_id", rid).
		Str("method", c.Request.Method).
		Str("path", path)
	if id := c.Param("id"); id != "" {
		ctx = ctx.Str("poll_id", id)
	}
	l := ctx.Logger()
	c.Set(loggerKey, &l)
	return l
}

// routePath prefers the matched route pattern so /polls/:id aggregates.
func routePath(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return c.Request.URL.Path
}

// Logger writes a structured access line per request: remote ip, user agent,
// truncated query, sizes, status, latency, and the voter source once
// Identity has run. Level follows the outcome: error for 5xx or recorded Gin
// errors, warn for 4xx, info otherwise.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		l := scopeLogger(c, routePath(c))

		c.Next()

		ctx := l.With().
			Str("remote_ip", c.ClientIP()).
			Str("user_agent", c.Request.UserAgent()).
			Str("query", truncate(c.Request.URL.RawQuery, maxQueryLogLength)).
			// ContentLength can be -1 if unknown.
			Int64("bytes_in", c.Request.ContentLength).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Int("bytes_out", c.Writer.Size())
		if _, ok := c.Get(ctxKeyVoter); ok {
			ctx = ctx.Str("voter", voterSource(VoterFrom(c)))
		}
		ev := ctx.Logger()

		switch status := c.Writer.Status(); {
		case len(c.Errors) > 0:
			ev.Error().Str("errors", c.Errors.String()).Msg("request")
		case status >= 500:
			ev.Error().Msg("request")
		case status >= 400:
			ev.Warn().Msg("request")
		default:
			ev.Info().Msg("request")
		}
	}
}

// Recovery intercepts panics, logs the stack with the request id, and, when
// nothing has been written yet, answers with the JSON internal_error body.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			rid := asString(c.Value(requestIDKey))
			log.Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Str("request_id", rid).
				Str("path", routePath(c)).
				Msg("panic recovered")

			if c.Writer.Written() {
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			c.Header("Content-Type", "application/json")
			c.Header(requestIDHeader, rid)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"request_id": rid,
				"code":       "internal_error",
				"message":    "internal server error",
			})
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped logger, or a bare one when no
// logging middleware ran. Never nil.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// truncate caps s at max bytes plus an ellipsis; max <= 0 disables it.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
