// Package services – ResultsService
//
// This file implements ResultsService, which serves poll results: the
// current tally snapshot, a live subscription that pushes a new snapshot
// whenever votes land, and the creator-only tabular export.
//
// Results are visible to the creator at any time, to everyone while the poll
// shows results instantly, and to everyone once voting has ended.
package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-poll-backend/internal/domain"
	"github.com/tbourn/go-poll-backend/internal/export"
	"github.com/tbourn/go-poll-backend/internal/live"
	"github.com/tbourn/go-poll-backend/internal/repo"
	"github.com/tbourn/go-poll-backend/internal/tally"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Tallies is the live aggregation contract consumed by ResultsService.
// *live.Hub satisfies it.
type Tallies interface {
	Snapshot(ctx context.Context, pollID string) (*tally.Snapshot, error)
	Subscribe(ctx context.Context, pollID string) (*live.Subscription, error)
}

// ResultsService exposes tallies and exports.
type ResultsService struct {
	DB   *gorm.DB
	Live Tallies

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// NewResultsService constructs a ResultsService.
func NewResultsService(db *gorm.DB, t Tallies) *ResultsService {
	return &ResultsService{DB: db, Live: t}
}

func (s *ResultsService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// visible loads the poll and applies the visibility rule.
func (s *ResultsService) visible(ctx context.Context, pollID string, viewer domain.Voter) (*domain.Poll, error) {
	p, err := repo.GetPoll(ctx, s.DB, pollID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrPollNotFound
	}
	if err != nil {
		return nil, err
	}
	if viewer.Authenticated() && viewer.UserID == p.CreatorID {
		return p, nil
	}
	if p.ShowResultsInstant || !p.OpenAt(s.now()) {
		return p, nil
	}
	return nil, ErrResultsHidden
}

// Snapshot returns the current tally of pollID.
func (s *ResultsService) Snapshot(ctx context.Context, pollID string, viewer domain.Voter) (*tally.Snapshot, error) {
	tr := otel.Tracer("services/ResultsService")
	ctx, span := tr.Start(ctx, "Snapshot", trace.WithAttributes(attribute.String("poll.id", pollID)))
	defer span.End()

	if _, err := s.visible(ctx, pollID, viewer); err != nil {
		return nil, err
	}
	return s.Live.Snapshot(ctx, pollID)
}

// Subscribe opens a live feed of pollID's tally. The first snapshot is
// available immediately; the feed ends with ctx or Close.
func (s *ResultsService) Subscribe(ctx context.Context, pollID string, viewer domain.Voter) (*live.Subscription, error) {
	tr := otel.Tracer("services/ResultsService")
	sctx, span := tr.Start(ctx, "Subscribe", trace.WithAttributes(attribute.String("poll.id", pollID)))
	defer span.End()

	if _, err := s.visible(sctx, pollID, viewer); err != nil {
		return nil, err
	}
	// The subscription outlives the span; bind it to the caller's ctx.
	return s.Live.Subscribe(ctx, pollID)
}

// ResultsVersion identifies the stored state behind a results or export
// body: the vote rows and the poll definition they are rendered against.
type ResultsVersion struct {
	Votes       int64
	LatestVote  *time.Time
	PollUpdated time.Time
}

// Version reports the current ResultsVersion of pollID for conditional GETs.
// Errors: ErrPollNotFound.
func (s *ResultsService) Version(ctx context.Context, pollID string) (*ResultsVersion, error) {
	poll, err := repo.GetPoll(ctx, s.DB, pollID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrPollNotFound
	}
	if err != nil {
		return nil, err
	}
	n, latest, err := repo.VotesStats(ctx, s.DB, pollID)
	if err != nil {
		return nil, err
	}
	return &ResultsVersion{Votes: n, LatestVote: latest, PollUpdated: poll.UpdatedAt}, nil
}

// Export builds the per-voter table of pollID. Only the creator may export.
func (s *ResultsService) Export(ctx context.Context, pollID string, requester domain.Voter) (*export.Table, error) {
	tr := otel.Tracer("services/ResultsService")
	ctx, span := tr.Start(ctx, "Export", trace.WithAttributes(attribute.String("poll.id", pollID)))
	defer span.End()

	if !requester.Authenticated() {
		return nil, ErrUnauthenticated
	}
	def, err := repo.LoadDefinition(ctx, s.DB, pollID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrPollNotFound
	}
	if err != nil {
		return nil, err
	}
	if def.CreatorID != requester.UserID {
		return nil, ErrForbidden
	}

	votes, err := repo.ListVotes(ctx, s.DB, pollID)
	if err != nil {
		return nil, err
	}
	var ids []string
	seen := make(map[string]struct{})
	for _, v := range votes {
		if v.VoterID == nil {
			continue
		}
		if _, ok := seen[*v.VoterID]; ok {
			continue
		}
		seen[*v.VoterID] = struct{}{}
		ids = append(ids, *v.VoterID)
	}
	labels, err := repo.LabelsByIDs(ctx, s.DB, ids)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("votes", len(votes)))
	return export.Build(def, votes, labels), nil
}
