// Package services – VoteService
//
// This file implements VoteService, which records one voter's answer set for
// a poll. A submission runs the eligibility gate, the duplicate-vote guard,
// and the validator in that order, then writes the submission row and all of
// its vote rows in one transaction bounded by Timeout. After commit a change
// notification is published for the live tallies; publishing is best effort
// and never fails an accepted submission.
//
// Observability: Submit is OpenTelemetry-instrumented and every outcome is
// counted in observability.VotesSubmitted.
package services

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-poll-backend/internal/domain"
	"github.com/tbourn/go-poll-backend/internal/notify"
	"github.com/tbourn/go-poll-backend/internal/observability"
	"github.com/tbourn/go-poll-backend/internal/repo"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const publishTimeout = 2 * time.Second

// VoteReceipt confirms an accepted (or replayed) submission.
type VoteReceipt struct {
	SubmissionID string    `json:"submission_id"`
	PollID       string    `json:"poll_id"`
	VoteCount    int       `json:"vote_count"`
	RecordedAt   time.Time `json:"recorded_at"`
	// ShowResults tells the client whether results may be shown right away.
	ShowResults bool `json:"show_results"`
	// Replayed is set when an Idempotency-Key matched an earlier submission.
	Replayed bool `json:"replayed"`
}

// VoteService records answer sets.
type VoteService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Notifier receives a KindVotes event per accepted batch. Optional.
	Notifier notify.Channel
	// Log receives best-effort failures (profile upsert, publish).
	Log zerolog.Logger

	Gate  Gate
	Guard Guard

	// Timeout bounds the persistence step.
	Timeout time.Duration
	// IdempotencyTTL is how long an Idempotency-Key replays its receipt.
	IdempotencyTTL time.Duration

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// NewVoteService constructs a VoteService with its gate and guard bound to db.
func NewVoteService(db *gorm.DB, n notify.Channel, timeout, idemTTL time.Duration, log zerolog.Logger) *VoteService {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if idemTTL <= 0 {
		idemTTL = 24 * time.Hour
	}
	return &VoteService{
		DB:             db,
		Notifier:       n,
		Log:            log,
		Guard:          Guard{DB: db},
		Timeout:        timeout,
		IdempotencyTTL: idemTTL,
	}
}

func (s *VoteService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Submit validates and records answers for voter on pollID. idemKey is
// optional; when set, a retry of a committed submission returns the original
// receipt with Replayed=true.
//
// Errors: ErrPollNotFound, *AccessDeniedError, ErrAlreadyVoted,
// *ValidationError, *PersistenceError, ErrUnauthenticated (no voter key on a
// poll the gate admits).
func (s *VoteService) Submit(ctx context.Context, pollID string, voter domain.Voter, answers map[string]Answer, idemKey string) (*VoteReceipt, error) {
	tr := otel.Tracer("services/VoteService")
	ctx, span := tr.Start(ctx, "Submit",
		trace.WithAttributes(
			attribute.String("poll.id", pollID),
			attribute.Bool("voter.authenticated", voter.Authenticated()),
			attribute.Int("answers", len(answers)),
		),
	)
	defer span.End()

	rec, outcome, err := s.submit(ctx, pollID, voter, answers, idemKey)
	observability.VotesSubmitted.WithLabelValues(outcome).Inc()
	span.SetAttributes(attribute.String("vote.outcome", outcome))
	if err != nil {
		if outcome == observability.OutcomeFailed {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return nil, err
	}
	return rec, nil
}

func (s *VoteService) submit(ctx context.Context, pollID string, voter domain.Voter, answers map[string]Answer, idemKey string) (*VoteReceipt, string, error) {
	voterKey := voter.Key()
	poll, err := repo.GetPoll(ctx, s.DB, pollID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, observability.OutcomeDenied, ErrPollNotFound
	}
	if err != nil {
		return nil, observability.OutcomeFailed, &PersistenceError{Err: err}
	}

	// A retry of a committed submission gets its receipt back even if the
	// poll has closed since; nothing is written.
	if idemKey != "" && voterKey != "" {
		if rec, err := s.replay(ctx, poll, voterKey, idemKey); err == nil {
			return rec, observability.OutcomeReplayed, nil
		} else if !errors.Is(err, repo.ErrNotFound) {
			return nil, observability.OutcomeFailed, &PersistenceError{Err: err}
		}
	}

	gate := s.Gate
	if gate.Now == nil {
		gate.Now = s.now
	}
	if err := gate.Check(poll, voter); err != nil {
		return nil, observability.OutcomeDenied, err
	}
	// Gate reasons win over a missing key so a closed poll reads as closed.
	if voterKey == "" {
		return nil, observability.OutcomeDenied, ErrUnauthenticated
	}

	if err := s.Guard.Check(ctx, pollID, voter); err != nil {
		if errors.Is(err, ErrAlreadyVoted) {
			return nil, observability.OutcomeDuplicate, err
		}
		return nil, observability.OutcomeFailed, err
	}

	def, err := repo.LoadDefinition(ctx, s.DB, pollID)
	if err != nil {
		return nil, observability.OutcomeFailed, &PersistenceError{Err: err}
	}
	rows, err := Validate(def, answers)
	if err != nil {
		return nil, observability.OutcomeInvalid, err
	}

	now := s.now()
	sub := repo.NewSubmission(uuid.NewString(), pollID, voter, now)
	for i := range rows {
		rows[i].ID = uuid.NewString()
		rows[i].PollID = pollID
		rows[i].VoterKey = sub.VoterKey
		rows[i].VoterID = sub.VoterID
		rows[i].SubmissionID = sub.ID
		rows[i].CreatedAt = now
	}
	var idem *domain.Idempotency
	if idemKey != "" {
		idem = repo.NewIdempotency(voterKey, pollID, idemKey, sub.ID, http.StatusCreated, now, s.IdempotencyTTL)
	}

	pctx, cancel := context.WithTimeout(ctx, s.Timeout)
	start := time.Now()
	err = repo.InsertSubmission(pctx, s.DB, sub, rows, idem)
	cancel()
	observability.SubmitLatency.Observe(time.Since(start).Seconds())
	if errors.Is(err, repo.ErrDuplicate) {
		// Either the dedupe index or a concurrent retry with the same key won.
		if idemKey != "" {
			if rec, rerr := s.replay(ctx, poll, voterKey, idemKey); rerr == nil {
				return rec, observability.OutcomeReplayed, nil
			}
		}
		return nil, observability.OutcomeDuplicate, ErrAlreadyVoted
	}
	if err != nil {
		return nil, observability.OutcomeFailed, &PersistenceError{Err: err}
	}

	if voter.Authenticated() {
		if err := repo.UpsertProfile(ctx, s.DB, voter.UserID, voter.Email, ""); err != nil {
			s.Log.Warn().Err(err).Str("poll_id", pollID).Msg("profile upsert failed")
		}
	}
	s.publish(ctx, notify.Event{PollID: pollID, Kind: notify.KindVotes, SubmissionID: sub.ID, Votes: rows})

	return &VoteReceipt{
		SubmissionID: sub.ID,
		PollID:       pollID,
		VoteCount:    len(rows),
		RecordedAt:   now,
		ShowResults:  poll.ShowResultsInstant,
	}, observability.OutcomeAccepted, nil
}

func (s *VoteService) replay(ctx context.Context, poll *domain.Poll, voterKey, key string) (*VoteReceipt, error) {
	rec, err := repo.GetIdempotency(ctx, s.DB, voterKey, poll.ID, key, s.now())
	if err != nil {
		return nil, err
	}
	r, err := repo.GetSubmissionReceipt(ctx, s.DB, rec.SubmissionID)
	if err != nil {
		return nil, err
	}
	return &VoteReceipt{
		SubmissionID: r.Submission.ID,
		PollID:       poll.ID,
		VoteCount:    int(r.VoteCount),
		RecordedAt:   r.Submission.CreatedAt.UTC(),
		ShowResults:  poll.ShowResultsInstant,
		Replayed:     true,
	}, nil
}

// publish sends ev detached from the request so a client disconnect right
// after commit does not lose the notification.
func (s *VoteService) publish(ctx context.Context, ev notify.Event) {
	if s.Notifier == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.Notifier.Publish(pctx, ev); err != nil {
		s.Log.Warn().Err(err).Str("poll_id", ev.PollID).Str("kind", string(ev.Kind)).Msg("change notification not published")
	}
}
