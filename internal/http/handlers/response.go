// Package handlers implements the public poll API on Gin.
//
// Every failure is written as an ErrorResponse with a stable code. Gate
// denials add a reason and validation failures add one detail per violated
// constraint, so clients can render them without parsing messages:
//
//	HTTP/1.1 422 Unprocessable Entity
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "validation_failed",
//	  "message": "submission is invalid",
//	  "details": [{"code": "missing_required", "question_id": "q1", "message": "..."}]
//	}
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-poll-backend/internal/http/middleware"
	"github.com/tbourn/go-poll-backend/internal/services"
)

// ErrorResponse is the error envelope returned by all endpoints.
type ErrorResponse struct {
	// Echo of X-Request-ID
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go)
	Code    string `json:"code" example:"not_found"`
	Message string `json:"message" example:"poll not found"`
	// closed, expired, login_required or domain_not_allowed; access_denied only
	Reason string `json:"reason,omitempty" example:"login_required"`
	// validation_failed only
	Details []services.Violation `json:"details,omitempty"`
}

func fail(c *gin.Context, status int, code, msg string) {
	failWith(c, status, ErrorResponse{Code: code, Message: msg})
}

// failWith aborts with resp, stamping the request id. 5xx responses are
// logged on the request-scoped logger.
func failWith(c *gin.Context, status int, resp ErrorResponse) {
	resp.RequestID = c.Writer.Header().Get("X-Request-ID")
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", resp.Code).
			Str("message", resp.Message).
			Str("poll_id", c.Param("id")).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, resp)
}

// Fail lets the router answer NoRoute and NoMethod with the same envelope.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}
