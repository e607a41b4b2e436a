// Poll HTTP handlers.
//
// This file exposes REST endpoints for poll resources:
//   - PUT    /polls               (authoring upsert)
//   - GET    /polls               (creator dashboard, paginated)
//   - GET    /polls/{id}          (poll view)
//   - POST   /polls/{id}/close    (creator only)
//   - POST   /polls/{id}/reopen   (creator only)
//
// Handlers are transport-thin: they bind input, resolve the requester from
// the identity middleware, call application services, and translate results
// into HTTP responses.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-poll-backend/internal/domain"
	"github.com/tbourn/go-poll-backend/internal/export"
	"github.com/tbourn/go-poll-backend/internal/http/middleware"
	"github.com/tbourn/go-poll-backend/internal/live"
	"github.com/tbourn/go-poll-backend/internal/services"
	"github.com/tbourn/go-poll-backend/internal/tally"
	"github.com/tbourn/go-poll-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// PollService defines poll authoring and read operations consumed by HTTP
// handlers.
type PollService interface {
	// Upsert creates or replaces a poll definition owned by creator.
	Upsert(ctx context.Context, creator domain.Voter, in services.PollInput) (*domain.Poll, error)
	// SetClosed closes or reopens a poll owned by requester.
	SetClosed(ctx context.Context, requester domain.Voter, pollID string, closed bool) (*domain.Poll, error)
	// ListPage returns a page of the creator's polls and the total count.
	ListPage(ctx context.Context, creatorID string, page, pageSize int) ([]services.PollSummary, int64, error)
	// Get returns a poll with its definition as seen by viewer.
	Get(ctx context.Context, pollID string, viewer domain.Voter) (*services.PollView, error)
}

// VoteService records answer sets.
type VoteService interface {
	Submit(ctx context.Context, pollID string, voter domain.Voter, answers map[string]services.Answer, idemKey string) (*services.VoteReceipt, error)
}

// ResultsService serves tallies and exports behind the visibility rules.
type ResultsService interface {
	Snapshot(ctx context.Context, pollID string, viewer domain.Voter) (*tally.Snapshot, error)
	Subscribe(ctx context.Context, pollID string, viewer domain.Voter) (*live.Subscription, error)
	// Version returns the vote row count and latest vote time for ETags.
	Version(ctx context.Context, pollID string) (*services.ResultsVersion, error)
	Export(ctx context.Context, pollID string, requester domain.Voter) (*export.Table, error)
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for polls, votes, and results. It depends
// on abstract service interfaces to keep transport concerns separate from
// business logic.
type Handlers struct {
	pollSvc    PollService
	voteSvc    VoteService
	resultsSvc ResultsService

	// heartbeat is the SSE keepalive interval for result streams.
	heartbeat time.Duration
}

// New constructs and returns a Handlers instance bound to the given services.
// A heartbeat <= 0 defaults to 20s.
func New(pollSvc PollService, voteSvc VoteService, resultsSvc ResultsService, heartbeat time.Duration) *Handlers {
	if heartbeat <= 0 {
		heartbeat = 20 * time.Second
	}
	return &Handlers{pollSvc: pollSvc, voteSvc: voteSvc, resultsSvc: resultsSvc, heartbeat: heartbeat}
}

//
// DTOs
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListPollsResponse wraps a page of the creator's polls.
type ListPollsResponse struct {
	Polls      []services.PollSummary `json:"polls"`
	Pagination Pagination             `json:"pagination"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	return utils.ClampPage(
		utils.AtoiDefault(c.Query("page"), 1),
		utils.AtoiDefault(c.Query("page_size"), utils.DefaultPageSize),
	)
}

// pollID returns the :id path parameter, or writes a 400 and returns false
// when it cannot be a poll id.
func pollID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if id == "" || len(id) > 36 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid poll id")
		return "", false
	}
	return id, true
}

//
// Handlers
//

// UpsertPoll godoc
// @ID          upsertPoll
// @Summary     Create or replace a poll
// @Description Upserts a poll and its question set by id. Questions and options missing from the payload are removed together with their votes.
// @Tags        Polls
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID     header  string  true  "User ID (demo header)"     example(user123)
// @Param       X-User-Email  header  string  false "User email (demo header)"  example(user@example.com)
// @Param       body          body    services.PollInput  true  "Poll definition"
//
// @Success     200  {object}  domain.Poll
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Authentication required"
// @Failure     403  {object}  handlers.ErrorResponse  "Not the poll creator"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /polls [put]
func (h *Handlers) UpsertPoll(c *gin.Context) {
	var in services.PollInput
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	p, err := h.pollSvc.Upsert(c.Request.Context(), middleware.VoterFrom(c), in)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, p)
}

// ListPolls godoc
// @ID          listPolls
// @Summary     List my polls (paginated)
// @Description Returns the creator's polls newest first with their submission counts.
// @Tags        Polls
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "User ID (demo header)"  example(user123)
// @Param       page       query   int     false "Page number"            minimum(1) default(1)
// @Param       page_size  query   int     false "Items per page"         minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListPollsResponse
// @Failure     401  {object} handlers.ErrorResponse "Authentication required"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /polls [get]
func (h *Handlers) ListPolls(c *gin.Context) {
	v := middleware.VoterFrom(c)
	if !v.Authenticated() {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required")
		return
	}
	page, pageSize := clampPagination(c)

	items, total, err := h.pollSvc.ListPage(c.Request.Context(), v.UserID, page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}
	if items == nil {
		items = []services.PollSummary{}
	}

	totalPages := utils.TotalPages(total, pageSize)
	ok(c, http.StatusOK, ListPollsResponse{
		Polls: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// GetPoll godoc
// @ID          getPoll
// @Summary     Get a poll
// @Description Returns the poll with ordered questions and options, whether it is open, and whether the requester has already voted.
// @Tags        Polls
// @Produce     json
//
// @Param       id             path    string  true  "Poll ID"
// @Param       X-User-ID      header  string  false "User ID (demo header)"
// @Param       X-Device-Token header  string  false "Anonymous device token"
// @Param       X-Voted-Hint   header  string  false "Client-side voted flag (1)"
//
// @Success     200  {object} services.PollView
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Poll not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /polls/{id} [get]
func (h *Handlers) GetPoll(c *gin.Context) {
	id, okID := pollID(c)
	if !okID {
		return
	}
	view, err := h.pollSvc.Get(c.Request.Context(), id, middleware.VoterFrom(c))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, view)
}

// ClosePoll godoc
// @ID          closePoll
// @Summary     Close a poll
// @Description Stops accepting submissions. Creator only.
// @Tags        Polls
// @Produce     json
//
// @Param       id         path    string  true  "Poll ID"
// @Param       X-User-ID  header  string  true  "User ID (demo header)"
//
// @Success     200  {object} domain.Poll
// @Failure     401  {object} handlers.ErrorResponse "Authentication required"
// @Failure     403  {object} handlers.ErrorResponse "Not the poll creator"
// @Failure     404  {object} handlers.ErrorResponse "Poll not found"
// @Router      /polls/{id}/close [post]
func (h *Handlers) ClosePoll(c *gin.Context) { h.setClosed(c, true) }

// ReopenPoll godoc
// @ID          reopenPoll
// @Summary     Reopen a poll
// @Description Accepts submissions again (until expiry). Creator only.
// @Tags        Polls
// @Produce     json
//
// @Param       id         path    string  true  "Poll ID"
// @Param       X-User-ID  header  string  true  "User ID (demo header)"
//
// @Success     200  {object} domain.Poll
// @Failure     401  {object} handlers.ErrorResponse "Authentication required"
// @Failure     403  {object} handlers.ErrorResponse "Not the poll creator"
// @Failure     404  {object} handlers.ErrorResponse "Poll not found"
// @Router      /polls/{id}/reopen [post]
func (h *Handlers) ReopenPoll(c *gin.Context) { h.setClosed(c, false) }

func (h *Handlers) setClosed(c *gin.Context, closed bool) {
	id, okID := pollID(c)
	if !okID {
		return
	}
	p, err := h.pollSvc.SetClosed(c.Request.Context(), middleware.VoterFrom(c), id, closed)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, p)
}
