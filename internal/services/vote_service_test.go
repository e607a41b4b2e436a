package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-poll-backend/internal/domain"
	"github.com/tbourn/go-poll-backend/internal/notify"
	"github.com/tbourn/go-poll-backend/internal/repo"
)

// ---------- test helpers ----------

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:pollsvc_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
		t.Cleanup(func() { _ = sqlDB.Close() })
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// seedPoll stores defPoll's definition under id, owned by "owner".
func seedPoll(t *testing.T, db *gorm.DB, id string, mutate func(p *domain.Poll)) *domain.Poll {
	t.Helper()
	p := defPoll()
	p.ID = id
	p.CreatorID = "owner"
	p.Title = "Lunch survey"
	for qi := range p.Questions {
		q := &p.Questions[qi]
		q.ID = id + "-" + q.ID
		for oi := range q.Options {
			q.Options[oi].ID = id + "-" + q.Options[oi].ID
		}
	}
	if mutate != nil {
		mutate(p)
	}
	if err := repo.SavePoll(context.Background(), db, p); err != nil {
		t.Fatalf("SavePoll: %v", err)
	}
	return p
}

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
	err    error
}

func (r *recorder) Publish(_ context.Context, ev notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) Subscribe(context.Context, notify.Handler) error { return nil }

func (r *recorder) all() []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Event(nil), r.events...)
}

func newVoteSvc(db *gorm.DB, n notify.Channel) *VoteService {
	return NewVoteService(db, n, time.Second, time.Hour, zerolog.Nop())
}

func validAnswers(pollID string) map[string]Answer {
	return map[string]Answer{
		pollID + "-q1": {OptionIDs: []string{pollID + "-a"}},
		pollID + "-q2": {OptionIDs: []string{pollID + "-red", pollID + "-blue"}},
		pollID + "-q3": {Text: "tasty"},
	}
}

func countRows(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	if err := db.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

// ---------- Submit() ----------

func TestSubmit_Accepted(t *testing.T) {
	db := newTestDB(t)
	seedPoll(t, db, "p1", func(p *domain.Poll) { p.ShowResultsInstant = true })
	rec := &recorder{}
	svc := newVoteSvc(db, rec)

	voter := domain.Voter{UserID: "u1", Email: "u1@example.com"}
	r, err := svc.Submit(context.Background(), "p1", voter, validAnswers("p1"), "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if r.VoteCount != 4 || r.PollID != "p1" || !r.ShowResults || r.Replayed || r.SubmissionID == "" {
		t.Fatalf("unexpected receipt: %+v", r)
	}

	votes, _ := repo.ListVotes(context.Background(), db, "p1")
	if len(votes) != 4 {
		t.Fatalf("want 4 stored rows, got %d", len(votes))
	}
	for _, v := range votes {
		if v.VoterKey != "user:u1" || v.VoterID == nil || *v.VoterID != "u1" || v.SubmissionID != r.SubmissionID {
			t.Fatalf("row not stamped: %+v", v)
		}
	}

	evs := rec.all()
	if len(evs) != 1 || evs[0].Kind != notify.KindVotes || evs[0].PollID != "p1" || len(evs[0].Votes) != 4 {
		t.Fatalf("unexpected events: %+v", evs)
	}

	labels, _ := repo.LabelsByIDs(context.Background(), db, []string{"u1"})
	if labels["u1"] != "u1@example.com" {
		t.Fatalf("profile not recorded: %v", labels)
	}
}

func TestSubmit_ClosedAlwaysDenied(t *testing.T) {
	db := newTestDB(t)
	seedPoll(t, db, "p1", func(p *domain.Poll) { p.IsClosed = true })
	svc := newVoteSvc(db, nil)

	for _, answers := range []map[string]Answer{validAnswers("p1"), nil, {"bogus": {Text: "x"}}} {
		for _, voter := range []domain.Voter{{UserID: "u1"}, {}} {
			_, err := svc.Submit(context.Background(), "p1", voter, answers, "retry-1")
			var ad *AccessDeniedError
			if !errors.As(err, &ad) || ad.Reason != DenyClosed {
				t.Fatalf("voter %+v: expected closed, got %v", voter, err)
			}
		}
	}
	if n := countRows(t, db, &domain.Vote{}); n != 0 {
		t.Fatalf("nothing may be stored, got %d rows", n)
	}
}

func TestSubmit_LoginRequiredBeforeValidation(t *testing.T) {
	db := newTestDB(t)
	seedPoll(t, db, "p1", func(p *domain.Poll) { p.RequiresLogin = true })
	svc := newVoteSvc(db, nil)

	anon := domain.Voter{DeviceToken: "dev-1"}
	for _, answers := range []map[string]Answer{validAnswers("p1"), {"p1-q3": {OptionIDs: []string{"x"}}}} {
		_, err := svc.Submit(context.Background(), "p1", anon, answers, "")
		var ad *AccessDeniedError
		if !errors.As(err, &ad) || ad.Reason != DenyLoginRequired {
			t.Fatalf("expected login_required, got %v", err)
		}
	}
}

func TestSubmit_ResubmitIsAlreadyVoted(t *testing.T) {
	db := newTestDB(t)
	seedPoll(t, db, "p1", nil)
	svc := newVoteSvc(db, nil)
	voter := domain.Voter{UserID: "u1"}

	if _, err := svc.Submit(context.Background(), "p1", voter, validAnswers("p1"), ""); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	other := map[string]Answer{"p1-q1": {OptionIDs: []string{"p1-b"}}}
	if _, err := svc.Submit(context.Background(), "p1", voter, other, ""); !errors.Is(err, ErrAlreadyVoted) {
		t.Fatalf("expected ErrAlreadyVoted, got %v", err)
	}
	if n := countRows(t, db, &domain.Submission{}); n != 1 {
		t.Fatalf("want 1 submission, got %d", n)
	}
}

func TestSubmit_StorageUniquenessCatchesRace(t *testing.T) {
	db := newTestDB(t)
	seedPoll(t, db, "p1", nil)
	svc := newVoteSvc(db, nil)

	// A concurrent submission committed its batch row but the guard has not
	// seen its votes yet.
	if err := db.Omit("Poll").Create(&domain.Submission{
		ID: uuid.NewString(), PollID: "p1", DedupeKey: "user:u1", VoterKey: "user:u1", CreatedAt: time.Now(),
	}).Error; err != nil {
		t.Fatalf("seed submission: %v", err)
	}

	_, err := svc.Submit(context.Background(), "p1", domain.Voter{UserID: "u1"}, validAnswers("p1"), "")
	if !errors.Is(err, ErrAlreadyVoted) {
		t.Fatalf("expected ErrAlreadyVoted from the unique index, got %v", err)
	}
	if n := countRows(t, db, &domain.Vote{}); n != 0 {
		t.Fatalf("rejected batch must leave no rows, got %d", n)
	}
}

func TestSubmit_LocalHintShortCircuits(t *testing.T) {
	db := newTestDB(t)
	seedPoll(t, db, "p1", nil)
	svc := newVoteSvc(db, nil)

	_, err := svc.Submit(context.Background(), "p1", domain.Voter{DeviceToken: "d", LocalHint: true}, validAnswers("p1"), "")
	if !errors.Is(err, ErrAlreadyVoted) {
		t.Fatalf("expected ErrAlreadyVoted, got %v", err)
	}
}

func TestSubmit_LocalHintNeverGrantsAccess(t *testing.T) {
	db := newTestDB(t)
	seedPoll(t, db, "p1", func(p *domain.Poll) { p.RequiresLogin = true })
	svc := newVoteSvc(db, nil)

	_, err := svc.Submit(context.Background(), "p1", domain.Voter{DeviceToken: "d", LocalHint: true}, validAnswers("p1"), "")
	if !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("gate must run before the hint, got %v", err)
	}
}

func TestSubmit_AnonymousNotDeduplicatedServerSide(t *testing.T) {
	db := newTestDB(t)
	seedPoll(t, db, "p1", nil)
	svc := newVoteSvc(db, nil)
	anon := domain.Voter{DeviceToken: "same-device"}

	for i := 0; i < 2; i++ {
		if _, err := svc.Submit(context.Background(), "p1", anon, validAnswers("p1"), ""); err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
	}
	if n := countRows(t, db, &domain.Submission{}); n != 2 {
		t.Fatalf("want 2 submissions, got %d", n)
	}
}

func TestSubmit_ValidationLeavesNothing(t *testing.T) {
	db := newTestDB(t)
	seedPoll(t, db, "p1", nil)
	rec := &recorder{}
	svc := newVoteSvc(db, rec)

	answers := validAnswers("p1")
	answers["p1-q2"] = Answer{OptionIDs: []string{"p1-red", "p1-a"}}
	_, err := svc.Submit(context.Background(), "p1", domain.Voter{UserID: "u1"}, answers, "")
	var ve *ValidationError
	if !errors.As(err, &ve) || !ve.Has(InvalidReference) {
		t.Fatalf("expected invalid_reference, got %v", err)
	}
	if countRows(t, db, &domain.Vote{}) != 0 || countRows(t, db, &domain.Submission{}) != 0 {
		t.Fatalf("no rows may be written")
	}
	if len(rec.all()) != 0 {
		t.Fatalf("no event may be published")
	}
}

func TestSubmit_PollNotFound(t *testing.T) {
	svc := newVoteSvc(newTestDB(t), nil)
	_, err := svc.Submit(context.Background(), "missing", domain.Voter{UserID: "u1"}, nil, "")
	if !errors.Is(err, ErrPollNotFound) {
		t.Fatalf("expected ErrPollNotFound, got %v", err)
	}
}

func TestSubmit_NoVoterKey(t *testing.T) {
	db := newTestDB(t)
	seedPoll(t, db, "p1", nil)
	svc := newVoteSvc(db, nil)
	_, err := svc.Submit(context.Background(), "p1", domain.Voter{}, validAnswers("p1"), "")
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestSubmit_TimeoutLeavesNothing(t *testing.T) {
	db := newTestDB(t)
	seedPoll(t, db, "p1", nil)
	rec := &recorder{}
	svc := newVoteSvc(db, rec)
	svc.Timeout = time.Nanosecond

	_, err := svc.Submit(context.Background(), "p1", domain.Voter{UserID: "u1"}, validAnswers("p1"), "k-1")
	if !errors.Is(err, ErrPersistence) || !strings.Contains(err.Error(), "deadline exceeded") {
		t.Fatalf("expected a persistence error from the deadline, got %v", err)
	}
	for _, m := range []any{&domain.Submission{}, &domain.Vote{}, &domain.Idempotency{}} {
		if n := countRows(t, db, m); n != 0 {
			t.Fatalf("%T rows after timeout = %d; want 0", m, n)
		}
	}
	if evs := rec.all(); len(evs) != 0 {
		t.Fatalf("nothing may be published after a timeout: %+v", evs)
	}
}

func TestSubmit_PersistenceError(t *testing.T) {
	db := newTestDB(t)
	seedPoll(t, db, "p1", nil)
	svc := newVoteSvc(db, nil)

	if err := db.Migrator().DropTable(&domain.Vote{}); err != nil {
		t.Fatalf("drop: %v", err)
	}
	_, err := svc.Submit(context.Background(), "p1", domain.Voter{DeviceToken: "d"}, validAnswers("p1"), "")
	var pe *PersistenceError
	if !errors.As(err, &pe) || !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected *PersistenceError, got %v", err)
	}
	if n := countRows(t, db, &domain.Submission{}); n != 0 {
		t.Fatalf("transaction must roll back, got %d submissions", n)
	}
}

func TestSubmit_IdempotentReplay(t *testing.T) {
	db := newTestDB(t)
	seedPoll(t, db, "p1", nil)
	rec := &recorder{}
	svc := newVoteSvc(db, rec)
	voter := domain.Voter{UserID: "u1"}

	first, err := svc.Submit(context.Background(), "p1", voter, validAnswers("p1"), "key-1")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	again, err := svc.Submit(context.Background(), "p1", voter, validAnswers("p1"), "key-1")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !again.Replayed || again.SubmissionID != first.SubmissionID || again.VoteCount != first.VoteCount {
		t.Fatalf("replay mismatch: %+v vs %+v", again, first)
	}
	if len(rec.all()) != 1 {
		t.Fatalf("replay must not publish")
	}

	// A different key from the same voter is a second vote.
	if _, err := svc.Submit(context.Background(), "p1", voter, validAnswers("p1"), "key-2"); !errors.Is(err, ErrAlreadyVoted) {
		t.Fatalf("expected ErrAlreadyVoted, got %v", err)
	}
}

func TestSubmit_ReplayAfterClose(t *testing.T) {
	db := newTestDB(t)
	seedPoll(t, db, "p1", nil)
	svc := newVoteSvc(db, nil)
	voter := domain.Voter{DeviceToken: "d1"}

	first, err := svc.Submit(context.Background(), "p1", voter, validAnswers("p1"), "k")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := repo.SetClosed(context.Background(), db, "p1", true); err != nil {
		t.Fatalf("SetClosed: %v", err)
	}
	again, err := svc.Submit(context.Background(), "p1", voter, validAnswers("p1"), "k")
	if err != nil || !again.Replayed || again.SubmissionID != first.SubmissionID {
		t.Fatalf("expected replay, got %+v, %v", again, err)
	}
}

func TestSubmit_PublishFailureDoesNotFail(t *testing.T) {
	db := newTestDB(t)
	seedPoll(t, db, "p1", nil)
	svc := newVoteSvc(db, &recorder{err: errors.New("bus down")})

	if _, err := svc.Submit(context.Background(), "p1", domain.Voter{UserID: "u1"}, validAnswers("p1"), ""); err != nil {
		t.Fatalf("Submit must succeed when publishing fails: %v", err)
	}
}

func TestSubmit_ExpiredUsesServiceClock(t *testing.T) {
	db := newTestDB(t)
	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	seedPoll(t, db, "p1", func(p *domain.Poll) { p.ExpiresAt = &exp })
	svc := newVoteSvc(db, nil)
	svc.Now = func() time.Time { return exp.Add(time.Second) }

	_, err := svc.Submit(context.Background(), "p1", domain.Voter{UserID: "u1"}, validAnswers("p1"), "")
	var ad *AccessDeniedError
	if !errors.As(err, &ad) || ad.Reason != DenyExpired {
		t.Fatalf("expected expired, got %v", err)
	}
}
