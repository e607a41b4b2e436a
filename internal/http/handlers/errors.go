// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// This file centralizes the symbolic error codes returned in ErrorResponse and
// the translation of service errors into status + code pairs. Codes are stable,
// lowercase snake_case strings that clients branch on; messages are for humans.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "access_denied",
//	  "reason": "login_required",
//	  "message": "access denied: login_required"
//	}
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-poll-backend/internal/services"
)

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Domain-specific:
	ErrCodeAccessDenied     = "access_denied"
	ErrCodeAlreadyVoted     = "already_voted"
	ErrCodeValidationFailed = "validation_failed"
	ErrCodeSubmissionFailed = "submission_failed"
	ErrCodeResultsHidden    = "results_hidden"
)

// failErr maps a service error onto the error envelope. Unknown errors are
// reported as 500 internal_error and logged by fail.
func failErr(c *gin.Context, err error) {
	var (
		denied  *services.AccessDeniedError
		invalid *services.ValidationError
	)
	switch {
	case errors.As(err, &denied):
		failWith(c, http.StatusForbidden, ErrorResponse{
			Code:    ErrCodeAccessDenied,
			Reason:  string(denied.Reason),
			Message: err.Error(),
		})
	case errors.As(err, &invalid):
		failWith(c, http.StatusUnprocessableEntity, ErrorResponse{
			Code:    ErrCodeValidationFailed,
			Message: "submission failed validation",
			Details: invalid.Violations,
		})
	case errors.Is(err, services.ErrAlreadyVoted):
		fail(c, http.StatusConflict, ErrCodeAlreadyVoted, "you have already voted in this poll")
	case errors.Is(err, services.ErrPersistence):
		c.Header("Retry-After", "1")
		fail(c, http.StatusServiceUnavailable, ErrCodeSubmissionFailed, "submission could not be recorded, please retry")
	case errors.Is(err, services.ErrPollNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "poll not found")
	case errors.Is(err, services.ErrResultsHidden):
		fail(c, http.StatusForbidden, ErrCodeResultsHidden, "results are not visible yet")
	case errors.Is(err, services.ErrForbidden):
		fail(c, http.StatusForbidden, ErrCodeForbidden, "only the poll creator may do this")
	case errors.Is(err, services.ErrUnauthenticated):
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required")
	case errors.Is(err, services.ErrInvalidPoll):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}
