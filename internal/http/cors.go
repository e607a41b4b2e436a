package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-poll-backend/internal/config"
	"github.com/tbourn/go-poll-backend/internal/http/middleware"
)

// corsAllowHeaders are the request headers browsers may send cross-origin.
var corsAllowHeaders = []string{
	"Origin", "Content-Type", "Accept", "Authorization", "If-None-Match",
	middleware.HeaderUserID, middleware.HeaderUserEmail, middleware.HeaderDeviceToken,
	middleware.HeaderVotedHint, middleware.HeaderIdempotencyKey,
}

var corsExposeHeaders = []string{"X-Request-ID", "Content-Length", "ETag", "Idempotency-Replayed", "Retry-After"}

// corsHandlers returns the CORS middleware for the configured origins. With
// no allowlist every origin is accepted without credentials and "*" is set
// even on same-origin requests. With an allowlist credentials are allowed so
// the voted_<id> hint cookie travels.
func corsHandlers(c config.CORSConfig) []gin.HandlerFunc {
	base := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders:  corsAllowHeaders,
		ExposeHeaders: corsExposeHeaders,
		MaxAge:        12 * time.Hour,
	}
	if len(c.AllowedOrigins) > 0 {
		base.AllowOrigins = c.AllowedOrigins
		base.AllowCredentials = true
		return []gin.HandlerFunc{cors.New(base)}
	}

	base.AllowAllOrigins = true
	wildcard := func(ctx *gin.Context) {
		ctx.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		ctx.Next()
	}
	return []gin.HandlerFunc{wildcard, cors.New(base)}
}
