// Results HTTP handlers.
//
// This file exposes result delivery:
//   - GET /polls/{id}/results          (snapshot, weak ETag)
//   - GET /polls/{id}/results/stream   (Server-Sent Events, "tally" events)
//   - GET /polls/{id}/export.csv       (creator only, weak ETag)
//
// Visibility is decided by the results service; handlers only translate.
package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-poll-backend/internal/http/middleware"
)

// SSE event names.
const (
	EventTally     = "tally"
	EventHeartbeat = "heartbeat"
)

// versionETag builds a weak ETag from the vote row count, the latest vote
// time and the poll's last edit, so relabelled definitions revalidate too.
// ok is false when the version could not be read.
func (h *Handlers) versionETag(c *gin.Context, kind, id string) (etag string, ok bool) {
	v, err := h.resultsSvc.Version(c.Request.Context(), id)
	if err != nil {
		return "", false
	}
	var ts int64
	if v.LatestVote != nil {
		ts = v.LatestVote.UnixNano()
	}
	return fmt.Sprintf(`W/"%s:%s:%d:%d:%d"`, kind, id, v.Votes, ts, v.PollUpdated.UnixNano()), true
}

// notModified sets ETag and reports whether If-None-Match matched, in which
// case a 304 has been written.
func notModified(c *gin.Context, etag string) bool {
	c.Header("ETag", etag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
		c.Status(http.StatusNotModified)
		return true
	}
	return false
}

// GetResults godoc
// @ID          getResults
// @Summary     Get the current tally
// @Description Returns per-question counts and percentages (relative to distinct voters of each question) and collected text answers. Supports weak ETag via If-None-Match.
// @Tags        Results
// @Produce     json
//
// @Param       id             path    string  true  "Poll ID"
// @Param       X-User-ID      header  string  false "User ID (demo header)"
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
//
// @Success     200  {object} tally.Snapshot
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     403  {object} handlers.ErrorResponse "Results hidden"
// @Failure     404  {object} handlers.ErrorResponse "Poll not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /polls/{id}/results [get]
func (h *Handlers) GetResults(c *gin.Context) {
	id, okID := pollID(c)
	if !okID {
		return
	}
	snap, err := h.resultsSvc.Snapshot(c.Request.Context(), id, middleware.VoterFrom(c))
	if err != nil {
		failErr(c, err)
		return
	}
	if etag, okTag := h.versionETag(c, "results", id); okTag && notModified(c, etag) {
		return
	}
	ok(c, http.StatusOK, snap)
}

// StreamResults godoc
// @ID          streamResults
// @Summary     Stream live results
// @Description Server-Sent Events. The current tally is sent immediately as a "tally" event, then the latest tally after changes. Intermediate tallies may be skipped. "heartbeat" events keep idle connections open.
// @Tags        Results
// @Produce     text/event-stream
//
// @Param       id         path    string  true  "Poll ID"
// @Param       X-User-ID  header  string  false "User ID (demo header)"
//
// @Success     200  {string} string "event stream"
// @Failure     403  {object} handlers.ErrorResponse "Results hidden"
// @Failure     404  {object} handlers.ErrorResponse "Poll not found"
// @Router      /polls/{id}/results/stream [get]
func (h *Handlers) StreamResults(c *gin.Context) {
	id, okID := pollID(c)
	if !okID {
		return
	}
	ctx := c.Request.Context()
	sub, err := h.resultsSvc.Subscribe(ctx, id, middleware.VoterFrom(c))
	if err != nil {
		failErr(c, err)
		return
	}
	defer sub.Close()

	// Streams outlive the server-wide write timeout.
	_ = http.NewResponseController(c.Writer).SetWriteDeadline(time.Time{})

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-store")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	tick := time.NewTicker(h.heartbeat)
	defer tick.Stop()

	lg := middleware.LoggerFrom(c)
	sent := 0
	defer func() { lg.Debug().Str("poll_id", id).Int("events", sent).Msg("results stream closed") }()

	for {
		select {
		case <-ctx.Done():
			return
		case snap, open := <-sub.C:
			if !open {
				return
			}
			c.SSEvent(EventTally, snap)
			c.Writer.Flush()
			sent++
		case now := <-tick.C:
			c.SSEvent(EventHeartbeat, now.UTC().Unix())
			c.Writer.Flush()
		}
	}
}

// ExportCSV godoc
// @ID          exportCSV
// @Summary     Export responses as CSV
// @Description One row per voter: timestamp, voter label, then one column per question by position. Multiple choices are joined with "; ". Creator only.
// @Tags        Results
// @Produce     text/csv
//
// @Param       id             path    string  true  "Poll ID"
// @Param       X-User-ID      header  string  true  "User ID (demo header)"
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
//
// @Success     200  {string} string "CSV document"
// @Header      200  {string} ETag "Weak ETag for current export"
// @Success     304  {string} string "Not Modified"
// @Failure     401  {object} handlers.ErrorResponse "Authentication required"
// @Failure     403  {object} handlers.ErrorResponse "Not the poll creator"
// @Failure     404  {object} handlers.ErrorResponse "Poll not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /polls/{id}/export.csv [get]
func (h *Handlers) ExportCSV(c *gin.Context) {
	id, okID := pollID(c)
	if !okID {
		return
	}
	table, err := h.resultsSvc.Export(c.Request.Context(), id, middleware.VoterFrom(c))
	if err != nil {
		failErr(c, err)
		return
	}
	if etag, okTag := h.versionETag(c, "export", id); okTag && notModified(c, etag) {
		return
	}

	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="poll-%s.csv"`, id))
	c.Status(http.StatusOK)
	if err := table.WriteCSV(c.Writer); err != nil {
		// Headers are gone; log and let the client see a truncated body.
		middleware.LoggerFrom(c).Error().Err(err).Str("poll_id", id).Msg("csv export write failed")
		_ = c.Error(err)
	}
}
