// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate queries used for
// conditional responses (ETag generation) and for checking live tallies
// against the store.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-poll-backend/internal/domain"
)

// VotesStats returns the number of vote rows for a poll and the greatest
// CreatedAt among them. When the poll has no votes, the count is 0 and
// latest is nil.
func VotesStats(ctx context.Context, db *gorm.DB, pollID string) (count int64, latest *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Vote{}).Where("poll_id = ?", pollID)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest created_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		CreatedAt time.Time
	}
	if err = db.WithContext(ctx).
		Model(&domain.Vote{}).
		Where("poll_id = ?", pollID).
		Select("created_at").
		Order("created_at DESC").
		Limit(1).
		Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.CreatedAt, nil
}

// CountVotes returns only the number of vote rows for a poll.
func CountVotes(ctx context.Context, db *gorm.DB, pollID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Vote{}).Where("poll_id = ?", pollID).Count(&n).Error
	return n, err
}
