// Package services – PollService
//
// This file implements PollService, which owns poll authoring and the
// creator-facing views: upsert of a poll with its full question set,
// close/reopen, the paginated dashboard, and the single-poll view.
//
// Every change to a poll's definition or state publishes a poll_changed
// notification so live tallies are rebuilt from the store.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"

	"github.com/tbourn/go-poll-backend/internal/domain"
	"github.com/tbourn/go-poll-backend/internal/notify"
	"github.com/tbourn/go-poll-backend/internal/repo"
	"github.com/tbourn/go-poll-backend/internal/utils"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	maxTitleLen  = 255
	maxLabelLen  = 255
	defaultTempl = "custom"
)

// PollInput is an authored poll. Empty IDs are assigned; array order sets
// positions.
type PollInput struct {
	ID                 string          `json:"id"`
	Title              string          `json:"title"`
	Description        string          `json:"description"`
	TemplateType       string          `json:"template_type"`
	RequiresLogin      bool            `json:"requires_login"`
	AllowedDomains     []string        `json:"allowed_domains"`
	ShowResultsInstant bool            `json:"show_results_instant"`
	ExpiresAt          *time.Time      `json:"expires_at"`
	IsClosed           bool            `json:"is_closed"`
	Questions          []QuestionInput `json:"questions"`
}

// QuestionInput is one authored question.
type QuestionInput struct {
	ID         string              `json:"id"`
	Type       domain.QuestionType `json:"type"`
	Prompt     string              `json:"prompt"`
	IsRequired bool                `json:"is_required"`
	Options    []OptionInput       `json:"options"`
}

// OptionInput is one authored option.
type OptionInput struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// PollSummary is a dashboard row.
type PollSummary struct {
	domain.Poll
	Open        bool  `json:"open"`
	Submissions int64 `json:"submissions"`
}

// PollView is a poll with its definition as seen by one requester.
type PollView struct {
	*domain.Poll
	Open     bool `json:"open"`
	HasVoted bool `json:"has_voted"`
}

// PollService provides poll authoring and read operations.
type PollService struct {
	DB       *gorm.DB
	Notifier notify.Channel
	Log      zerolog.Logger
	Guard    Guard

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// NewPollService constructs a PollService bound to db.
func NewPollService(db *gorm.DB, n notify.Channel, log zerolog.Logger) *PollService {
	return &PollService{DB: db, Notifier: n, Log: log, Guard: Guard{DB: db}}
}

func (s *PollService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Upsert creates or replaces a poll owned by creator. Questions and options
// missing from in are deleted together with their votes.
//
// Errors: ErrUnauthenticated, ErrForbidden (poll owned by someone else),
// ErrInvalidPoll (wrapped with the reason).
func (s *PollService) Upsert(ctx context.Context, creator domain.Voter, in PollInput) (*domain.Poll, error) {
	tr := otel.Tracer("services/PollService")
	ctx, span := tr.Start(ctx, "Upsert",
		trace.WithAttributes(
			attribute.String("poll.id", in.ID),
			attribute.String("user.id", creator.UserID),
			attribute.Int("questions", len(in.Questions)),
		),
	)
	defer span.End()

	if !creator.Authenticated() {
		return nil, ErrUnauthenticated
	}

	p, err := buildPoll(in)
	if err != nil {
		return nil, err
	}
	p.CreatorID = creator.UserID

	existing, err := repo.GetPoll(ctx, s.DB, p.ID)
	switch {
	case err == nil:
		if existing.CreatorID != creator.UserID {
			return nil, ErrForbidden
		}
		p.CreatedAt = existing.CreatedAt
	case errors.Is(err, repo.ErrNotFound):
		p.CreatedAt = s.now()
	default:
		return nil, err
	}
	p.UpdatedAt = s.now()

	if err := repo.SavePoll(ctx, s.DB, p); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return nil, fmt.Errorf("%w: question or option id belongs to another poll", ErrInvalidPoll)
		}
		return nil, err
	}

	if err := repo.UpsertProfile(ctx, s.DB, creator.UserID, creator.Email, ""); err != nil {
		s.Log.Warn().Err(err).Str("poll_id", p.ID).Msg("profile upsert failed")
	}
	s.changed(ctx, p.ID)

	return repo.LoadDefinition(ctx, s.DB, p.ID)
}

// buildPoll normalizes and checks in. Positions follow array order.
func buildPoll(in PollInput) (*domain.Poll, error) {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: "+format, append([]any{ErrInvalidPoll}, args...)...)
	}

	title := cleanText(in.Title)
	if title == "" {
		return nil, invalid("title is required")
	}
	if len([]rune(title)) > maxTitleLen {
		return nil, invalid("title exceeds %d characters", maxTitleLen)
	}
	if len(in.Questions) == 0 {
		return nil, invalid("at least one question is required")
	}

	p := &domain.Poll{
		ID:                 strings.TrimSpace(in.ID),
		Title:              title,
		Description:        cleanText(in.Description),
		TemplateType:       strings.TrimSpace(in.TemplateType),
		RequiresLogin:      in.RequiresLogin,
		AllowedDomains:     normalizeDomains(in.AllowedDomains),
		ShowResultsInstant: in.ShowResultsInstant,
		IsClosed:           in.IsClosed,
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.TemplateType == "" {
		p.TemplateType = defaultTempl
	}
	if in.ExpiresAt != nil {
		t := in.ExpiresAt.UTC()
		p.ExpiresAt = &t
	}

	seen := make(map[string]struct{})
	claim := func(id string) (string, error) {
		id = strings.TrimSpace(id)
		if id == "" {
			id = uuid.NewString()
		}
		if _, dup := seen[id]; dup {
			return "", invalid("duplicate id %s", id)
		}
		seen[id] = struct{}{}
		return id, nil
	}

	for i, qi := range in.Questions {
		if !qi.Type.Valid() {
			return nil, invalid("question %d has unknown type %q", i+1, qi.Type)
		}
		prompt := cleanText(qi.Prompt)
		if prompt == "" {
			return nil, invalid("question %d needs a prompt", i+1)
		}
		qid, err := claim(qi.ID)
		if err != nil {
			return nil, err
		}
		q := domain.Question{
			ID:         qid,
			PollID:     p.ID,
			Position:   i,
			Type:       qi.Type,
			IsRequired: qi.IsRequired,
			Prompt:     prompt,
		}

		if !qi.Type.IsChoice() {
			if len(qi.Options) > 0 {
				return nil, invalid("text question %d cannot have options", i+1)
			}
			p.Questions = append(p.Questions, q)
			continue
		}

		for _, oi := range qi.Options {
			label := cleanText(oi.Label)
			if label == "" {
				continue
			}
			if len([]rune(label)) > maxLabelLen {
				return nil, invalid("option label exceeds %d characters", maxLabelLen)
			}
			oid, err := claim(oi.ID)
			if err != nil {
				return nil, err
			}
			q.Options = append(q.Options, domain.Option{
				ID:         oid,
				QuestionID: q.ID,
				Position:   len(q.Options),
				Label:      label,
			})
		}
		if len(q.Options) < 2 {
			return nil, invalid("choice question %d needs at least two options", i+1)
		}
		p.Questions = append(p.Questions, q)
	}
	return p, nil
}

func cleanText(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// normalizeDomains trims, strips '@', case-folds and de-duplicates. An empty
// result is nil so the column stays null.
func normalizeDomains(in []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(in))
	for _, d := range in {
		d = NormalizeDomain(d)
		if d == "" {
			continue
		}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out
}

// SetClosed closes or reopens a poll. Only the creator may do this.
func (s *PollService) SetClosed(ctx context.Context, requester domain.Voter, pollID string, closed bool) (*domain.Poll, error) {
	tr := otel.Tracer("services/PollService")
	ctx, span := tr.Start(ctx, "SetClosed",
		trace.WithAttributes(
			attribute.String("poll.id", pollID),
			attribute.Bool("closed", closed),
		),
	)
	defer span.End()

	if !requester.Authenticated() {
		return nil, ErrUnauthenticated
	}
	p, err := s.ownedPoll(ctx, requester, pollID)
	if err != nil {
		return nil, err
	}
	if err := repo.SetClosed(ctx, s.DB, pollID, closed); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrPollNotFound
		}
		return nil, err
	}
	p.IsClosed = closed
	s.changed(ctx, pollID)
	return p, nil
}

// ListPage returns a page of the creator's polls, newest first, with
// submission counts, and the total number of polls.
func (s *PollService) ListPage(ctx context.Context, creatorID string, page, pageSize int) ([]PollSummary, int64, error) {
	tr := otel.Tracer("services/PollService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("user.id", creatorID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	page, pageSize = utils.ClampPage(page, pageSize)
	offset := utils.Offset(page, pageSize)

	total, err := repo.CountPollsByCreator(ctx, s.DB, creatorID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []PollSummary{}, 0, nil
	}
	polls, err := repo.ListPollsByCreatorPage(ctx, s.DB, creatorID, offset, pageSize)
	if err != nil {
		return nil, 0, err
	}
	ids := make([]string, len(polls))
	for i := range polls {
		ids[i] = polls[i].ID
	}
	counts, err := repo.CountSubmissions(ctx, s.DB, ids)
	if err != nil {
		return nil, 0, err
	}

	now := s.now()
	out := make([]PollSummary, len(polls))
	for i := range polls {
		out[i] = PollSummary{
			Poll:        polls[i],
			Open:        polls[i].OpenAt(now),
			Submissions: counts[polls[i].ID],
		}
	}
	return out, total, nil
}

// Get returns the poll definition with the requester's open/has-voted view.
func (s *PollService) Get(ctx context.Context, pollID string, viewer domain.Voter) (*PollView, error) {
	tr := otel.Tracer("services/PollService")
	ctx, span := tr.Start(ctx, "Get", trace.WithAttributes(attribute.String("poll.id", pollID)))
	defer span.End()

	def, err := repo.LoadDefinition(ctx, s.DB, pollID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrPollNotFound
	}
	if err != nil {
		return nil, err
	}
	voted, err := s.Guard.HasVoted(ctx, pollID, viewer)
	if err != nil {
		return nil, err
	}
	return &PollView{Poll: def, Open: def.OpenAt(s.now()), HasVoted: voted}, nil
}

func (s *PollService) ownedPoll(ctx context.Context, requester domain.Voter, pollID string) (*domain.Poll, error) {
	p, err := repo.GetPoll(ctx, s.DB, pollID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrPollNotFound
	}
	if err != nil {
		return nil, err
	}
	if p.CreatorID != requester.UserID {
		return nil, ErrForbidden
	}
	return p, nil
}

func (s *PollService) changed(ctx context.Context, pollID string) {
	if s.Notifier == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.Notifier.Publish(pctx, notify.Event{PollID: pollID, Kind: notify.KindPollChanged}); err != nil {
		s.Log.Warn().Err(err).Str("poll_id", pollID).Msg("poll change not published")
	}
}
