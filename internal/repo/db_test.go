package repo

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tbourn/go-poll-backend/internal/config"
	"github.com/tbourn/go-poll-backend/internal/domain"
)

func TestOpen_RejectsBadInput(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "no-such-dir", "polls.db")
	cases := []struct {
		name string
		cfg  config.DBConfig
		want string
	}{
		{"unknown driver", config.DBConfig{Driver: "oracle"}, `unsupported db driver "oracle"`},
		{"blank dsn", config.DBConfig{Driver: "postgres", URL: "  "}, "postgres dsn is required"},
		{"missing sqlite dir", config.DBConfig{Driver: "sqlite", Path: missing}, "sqlite dir"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			db, err := Open(tc.cfg)
			if db != nil || err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Open(%+v) = %v, %v; want error containing %q", tc.cfg, db, err, tc.want)
			}
		})
	}

	if _, err := OpenSQLite(missing); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("missing dir should wrap a not-exist error, got %v", err)
	}
}

func TestOpen_SQLiteFileIsTunedAndMigrates(t *testing.T) {
	db, err := Open(config.DBConfig{Path: filepath.Join(t.TempDir(), "polls.db")})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	sqlDB, _ := db.DB()
	t.Cleanup(func() { _ = sqlDB.Close() })

	var journal string
	var busy, fk int
	for pragma, dst := range map[string]any{"journal_mode": &journal, "busy_timeout": &busy, "foreign_keys": &fk} {
		if err := db.Raw("PRAGMA " + pragma).Row().Scan(dst); err != nil {
			t.Fatalf("PRAGMA %s: %v", pragma, err)
		}
	}
	if strings.ToLower(journal) != "wal" || busy != 5000 || fk != 1 {
		t.Fatalf("pragmas: journal=%q busy=%d fk=%d", journal, busy, fk)
	}
	if max := sqlDB.Stats().MaxOpenConnections; max != 10 {
		t.Fatalf("MaxOpenConnections = %d; want 10", max)
	}

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate must be re-runnable: %v", err)
	}
	for _, m := range Models() {
		if !db.Migrator().HasTable(m) {
			t.Fatalf("table for %T missing", m)
		}
	}
}

func TestSQLiteDSN(t *testing.T) {
	want := "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if got := sqliteDSN("polls.db"); got != "polls.db"+want {
		t.Fatalf("sqliteDSN = %q", got)
	}
	if got := sqliteDSN("file:x?mode=memory"); !strings.HasPrefix(got, "file:x?mode=memory&_pragma=") {
		t.Fatalf("existing query not kept: %q", got)
	}
}

func TestOpenSQLite_PragmasOnEveryPooledConnection(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "polls.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	sqlDB, _ := db.DB()
	t.Cleanup(func() { _ = sqlDB.Close() })

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		// Held open so the pool has to dial the next one.
		conn, err := sqlDB.Conn(ctx)
		if err != nil {
			t.Fatalf("conn %d: %v", i, err)
		}
		defer conn.Close()

		var fk, busy int
		if err := conn.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk); err != nil {
			t.Fatalf("conn %d foreign_keys: %v", i, err)
		}
		if err := conn.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&busy); err != nil {
			t.Fatalf("conn %d busy_timeout: %v", i, err)
		}
		if fk != 1 || busy != 5000 {
			t.Fatalf("conn %d: foreign_keys=%d busy_timeout=%d", i, fk, busy)
		}
	}
}

func TestOpenSQLite_RemovedQuestionVotesCascadeOnAnyConnection(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "polls.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	sqlDB, _ := db.DB()
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}

	ctx := context.Background()
	first, err := sqlDB.Conn(ctx)
	if err != nil {
		t.Fatalf("conn: %v", err)
	}
	defer first.Close()

	p := seedPoll(t, db, "p1")
	now := time.Now().UTC()
	sub := &domain.Submission{ID: "s1", PollID: "p1", VoterKey: "device:x", DedupeKey: "s1", CreatedAt: now}
	vote := domain.Vote{ID: "v1", PollID: "p1", QuestionID: "p1-q2", TextResponse: strp("near"), VoterKey: "device:x", SubmissionID: "s1", CreatedAt: now}
	if err := InsertSubmission(ctx, db, sub, []domain.Vote{vote}, nil); err != nil {
		t.Fatalf("InsertSubmission: %v", err)
	}

	p.Questions = p.Questions[:1]
	if err := SavePoll(ctx, db, p); err != nil {
		t.Fatalf("SavePoll: %v", err)
	}
	if n, err := CountVotes(ctx, db, "p1"); err != nil || n != 0 {
		t.Fatalf("votes after removing q2 = %d, %v; want 0", n, err)
	}
}
