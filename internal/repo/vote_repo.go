// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for submissions
// and their vote rows.
//
// Error semantics:
//   - InsertSubmission returns ErrDuplicate when the (poll_id, dedupe_key)
//     or idempotency unique index rejects the batch. Nothing is written in
//     that case.
//   - On other DB errors the transaction is rolled back and the raw error
//     is returned.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-poll-backend/internal/domain"
)

// InsertSubmission writes the submission row, every vote of the batch, and
// the optional idempotency record atomically.
func InsertSubmission(ctx context.Context, db *gorm.DB, sub *domain.Submission, votes []domain.Vote, idem *domain.Idempotency) error {
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(sub).Error; err != nil {
			return err
		}
		if len(votes) > 0 {
			if err := tx.Omit(clause.Associations).CreateInBatches(votes, 100).Error; err != nil {
				return err
			}
		}
		if idem != nil {
			if err := tx.Create(idem).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// HasVoted reports whether any vote row exists for (pollID, voterKey).
func HasVoted(ctx context.Context, db *gorm.DB, pollID, voterKey string) (bool, error) {
	var ids []string
	err := db.WithContext(ctx).
		Model(&domain.Vote{}).
		Where("poll_id = ? AND voter_key = ?", pollID, voterKey).
		Limit(1).
		Pluck("id", &ids).Error
	if err != nil {
		return false, err
	}
	return len(ids) > 0, nil
}

// ListVotes returns every vote of a poll in insertion order
// (CreatedAt ASC, SubmissionID ASC, Seq ASC, ID ASC).
func ListVotes(ctx context.Context, db *gorm.DB, pollID string) ([]domain.Vote, error) {
	var out []domain.Vote
	err := db.WithContext(ctx).
		Where("poll_id = ?", pollID).
		Order("created_at ASC, submission_id ASC, seq ASC, id ASC").
		Find(&out).Error
	return out, err
}

// SubmissionReceipt summarizes a stored submission.
type SubmissionReceipt struct {
	Submission domain.Submission
	VoteCount  int64
}

// GetSubmissionReceipt loads a submission with its vote count, used to
// replay the response of an idempotent retry.
func GetSubmissionReceipt(ctx context.Context, db *gorm.DB, id string) (*SubmissionReceipt, error) {
	var sub domain.Submission
	if err := db.WithContext(ctx).Where("id = ?", id).First(&sub).Error; err != nil {
		return nil, err
	}
	var n int64
	if err := db.WithContext(ctx).
		Model(&domain.Vote{}).
		Where("submission_id = ?", id).
		Count(&n).Error; err != nil {
		return nil, err
	}
	return &SubmissionReceipt{Submission: sub, VoteCount: n}, nil
}

// NewSubmission builds an unsaved submission row. Anonymous voters dedupe on
// the submission ID itself, so only authenticated voters are constrained.
func NewSubmission(id, pollID string, voter domain.Voter, now time.Time) *domain.Submission {
	s := &domain.Submission{
		ID:        id,
		PollID:    pollID,
		VoterKey:  voter.Key(),
		DedupeKey: id,
		CreatedAt: now,
	}
	if voter.Authenticated() {
		uid := voter.UserID
		s.VoterID = &uid
		s.DedupeKey = s.VoterKey
	}
	return s
}
