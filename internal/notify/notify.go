// Package notify carries "votes were committed" events from the write path
// to the live aggregation units. Delivery is at-least-once and unordered;
// consumers must tolerate duplicates and gaps.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tbourn/go-poll-backend/internal/domain"
)

// Kind distinguishes vote inserts from definition changes.
type Kind string

const (
	// KindVotes announces a committed answer batch; Votes carries its rows.
	KindVotes Kind = "votes"
	// KindPollChanged announces that a poll's definition or state changed
	// and cached tallies must be rebuilt.
	KindPollChanged Kind = "poll_changed"
)

// Event is a single change notification, filterable by PollID.
type Event struct {
	PollID       string        `json:"poll_id"`
	Kind         Kind          `json:"kind"`
	SubmissionID string        `json:"submission_id,omitempty"`
	Votes        []domain.Vote `json:"votes,omitempty"`
}

// Handler consumes one event.
type Handler func(ctx context.Context, ev Event)

// Channel publishes events and fans them out to subscribers.
type Channel interface {
	Publish(ctx context.Context, ev Event) error
	// Subscribe registers h until ctx is cancelled.
	Subscribe(ctx context.Context, h Handler) error
}

func encode(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}

func decode(b []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(b, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if ev.PollID == "" {
		return Event{}, fmt.Errorf("decode event: missing poll_id")
	}
	return ev, nil
}
