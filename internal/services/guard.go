package services

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/go-poll-backend/internal/domain"
	"github.com/tbourn/go-poll-backend/internal/repo"
)

// Guard enforces at most one answer set per voter and poll.
//
// The client's local hint can only short-circuit a submission. The
// authoritative check queries stored votes and only applies to
// authenticated voters; anonymous voters have no server-side identity to
// query. The (poll_id, dedupe_key) unique index on submissions closes the
// race between this check and the insert.
type Guard struct {
	DB *gorm.DB
}

// Check returns ErrAlreadyVoted when the voter already has votes on pollID.
// Store failures are returned as *PersistenceError.
func (g Guard) Check(ctx context.Context, pollID string, v domain.Voter) error {
	if v.LocalHint {
		return ErrAlreadyVoted
	}
	if !v.Authenticated() {
		return nil
	}
	voted, err := repo.HasVoted(ctx, g.DB, pollID, v.Key())
	if err != nil {
		return &PersistenceError{Err: err}
	}
	if voted {
		return ErrAlreadyVoted
	}
	return nil
}

// HasVoted reports the hint or, for authenticated voters, the stored state.
// Used for display only.
func (g Guard) HasVoted(ctx context.Context, pollID string, v domain.Voter) (bool, error) {
	if v.LocalHint {
		return true, nil
	}
	if !v.Authenticated() {
		return false, nil
	}
	return repo.HasVoted(ctx, g.DB, pollID, v.Key())
}
