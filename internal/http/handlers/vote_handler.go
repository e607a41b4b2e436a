// Vote HTTP handlers.
//
// This file exposes the submission endpoint:
//   - POST /polls/{id}/votes
//
// Idempotency:
// If the client supplies an Idempotency-Key header and the same voter already
// committed a submission with that key on this poll, the original receipt is
// returned with 200 and `Idempotency-Replayed: true` instead of 409.
//
// After an accepted submission the voted_<id> hint cookie is set so clients
// can skip the form; the server never trusts it to grant access.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-poll-backend/internal/http/middleware"
	"github.com/tbourn/go-poll-backend/internal/services"
)

// votedCookieMaxAge keeps the hint for a year.
const votedCookieMaxAge = 365 * 24 * 60 * 60

// SubmitVoteRequest is the JSON payload for a submission, keyed by question id.
type SubmitVoteRequest struct {
	Answers map[string]services.Answer `json:"answers"`
}

// SubmitVote godoc
// @ID          submitVote
// @Summary     Submit answers to a poll
// @Description Validates and records one answer set per voter. The whole submission is stored or nothing is.
// @Tags        Votes
// @Accept      json
// @Produce     json
//
// @Param       id               path    string  true  "Poll ID"
// @Param       X-User-ID        header  string  false "User ID (demo header)"
// @Param       X-User-Email     header  string  false "User email (demo header)"
// @Param       X-Device-Token   header  string  false "Anonymous device token"
// @Param       Idempotency-Key  header  string  false "Optional idempotency key for safe retries"  example(3f1c1a8e-4a0f-4c0b-a7d9-7f1f3d2f9e4b)
// @Param       body             body    handlers.SubmitVoteRequest  true  "Answers by question id"
//
// @Success     201  {object} services.VoteReceipt
// @Success     200  {object} services.VoteReceipt "Idempotent replay"
// @Header      201  {string} Set-Cookie "voted_{id}=1"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     401  {object} handlers.ErrorResponse "No voter identity"
// @Failure     403  {object} handlers.ErrorResponse "Access denied (see reason)"
// @Failure     404  {object} handlers.ErrorResponse "Poll not found"
// @Failure     409  {object} handlers.ErrorResponse "Already voted"
// @Failure     422  {object} handlers.ErrorResponse "Validation failed (see details)"
// @Failure     429  {object} handlers.ErrorResponse "Too many requests"
// @Failure     503  {object} handlers.ErrorResponse "Submission failed, retry"
// @Router      /polls/{id}/votes [post]
func (h *Handlers) SubmitVote(c *gin.Context) {
	id, okID := pollID(c)
	if !okID {
		return
	}
	var req SubmitVoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	idemKey, _ := middleware.GetIdempotencyKey(c)
	receipt, err := h.voteSvc.Submit(c.Request.Context(), id, middleware.VoterFrom(c), req.Answers, idemKey)
	if err != nil {
		failErr(c, err)
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.VotedCookiePrefix+id, "1", votedCookieMaxAge, "/", "", false, false)

	if receipt.Replayed {
		c.Header("Idempotency-Replayed", "true")
		ok(c, http.StatusOK, receipt)
		return
	}
	ok(c, http.StatusCreated, receipt)
}
