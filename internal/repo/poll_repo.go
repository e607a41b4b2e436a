// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for polls and
// their question/option definitions.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions. They follow the "thin repository"
// approach: persistence and query composition only, no business rules.
//
// Error semantics:
//   - Missing rows surface as ErrNotFound (alias of gorm.ErrRecordNotFound).
//   - SavePoll returns ErrConflict when a question or option ID in the new
//     definition already belongs to a different parent.
//   - Other DB errors are propagated unchanged.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-poll-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrConflict reports an ID that is already owned by another parent.
var ErrConflict = errors.New("conflict")

// GetPoll fetches the poll row without its definition.
func GetPoll(ctx context.Context, db *gorm.DB, id string) (*domain.Poll, error) {
	var p domain.Poll
	if err := db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadDefinition fetches the poll with questions ordered by position and
// each question's options ordered by position.
func LoadDefinition(ctx context.Context, db *gorm.DB, pollID string) (*domain.Poll, error) {
	p, err := GetPoll(ctx, db, pollID)
	if err != nil {
		return nil, err
	}

	var qs []domain.Question
	if err := db.WithContext(ctx).
		Where("poll_id = ?", pollID).
		Order("position ASC").
		Find(&qs).Error; err != nil {
		return nil, err
	}
	if len(qs) == 0 {
		return p, nil
	}

	ids := make([]string, len(qs))
	for i := range qs {
		ids[i] = qs[i].ID
	}
	var opts []domain.Option
	if err := db.WithContext(ctx).
		Where("question_id IN ?", ids).
		Order("question_id ASC, position ASC").
		Find(&opts).Error; err != nil {
		return nil, err
	}
	byQuestion := make(map[string][]domain.Option, len(qs))
	for _, o := range opts {
		byQuestion[o.QuestionID] = append(byQuestion[o.QuestionID], o)
	}
	for i := range qs {
		qs[i].Options = byQuestion[qs[i].ID]
	}
	p.Questions = qs
	return p, nil
}

// SavePoll upserts the poll row and rewrites its question set in one
// transaction. Questions and options missing from p are deleted (their votes
// cascade). Positions are taken from the structs as given.
func SavePoll(ctx context.Context, db *gorm.DB, p *domain.Poll) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"title", "description", "template_type", "requires_login",
				"allowed_domains", "show_results_instant", "expires_at", "is_closed", "updated_at",
			}),
		}).Create(p).Error; err != nil {
			return err
		}

		keepQ := make([]string, 0, len(p.Questions))
		var keepO []string
		for _, q := range p.Questions {
			keepQ = append(keepQ, q.ID)
			for _, o := range q.Options {
				keepO = append(keepO, o.ID)
			}
		}

		if err := ensureOwned(tx, &domain.Question{}, "poll_id", p.ID, keepQ); err != nil {
			return err
		}

		del := tx.Where("poll_id = ?", p.ID)
		if len(keepQ) > 0 {
			del = del.Where("id NOT IN ?", keepQ)
		}
		if err := del.Delete(&domain.Question{}).Error; err != nil {
			return err
		}
		if len(keepQ) == 0 {
			return nil
		}

		// Park current positions out of the way so reordering does not trip
		// the (poll_id, position) unique index mid-statement.
		if err := tx.Model(&domain.Question{}).
			Where("poll_id = ?", p.ID).
			Update("position", gorm.Expr("-position - 1")).Error; err != nil {
			return err
		}

		for i := range p.Questions {
			q := p.Questions[i]
			q.PollID = p.ID
			if err := tx.Omit(clause.Associations).Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				DoUpdates: clause.AssignmentColumns([]string{"position", "type", "is_required", "prompt"}),
			}).Create(&q).Error; err != nil {
				return err
			}

			if err := ensureOwned(tx, &domain.Option{}, "question_id", q.ID, optionIDs(q.Options)); err != nil {
				return err
			}
			odel := tx.Where("question_id = ?", q.ID)
			if ids := optionIDs(q.Options); len(ids) > 0 {
				odel = odel.Where("id NOT IN ?", ids)
			}
			if err := odel.Delete(&domain.Option{}).Error; err != nil {
				return err
			}
			if len(q.Options) == 0 {
				continue
			}
			if err := tx.Model(&domain.Option{}).
				Where("question_id = ?", q.ID).
				Update("position", gorm.Expr("-position - 1")).Error; err != nil {
				return err
			}
			for j := range q.Options {
				o := q.Options[j]
				o.QuestionID = q.ID
				if err := tx.Omit(clause.Associations).Clauses(clause.OnConflict{
					Columns:   []clause.Column{{Name: "id"}},
					DoUpdates: clause.AssignmentColumns([]string{"position", "label"}),
				}).Create(&o).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func optionIDs(opts []domain.Option) []string {
	out := make([]string, len(opts))
	for i := range opts {
		out[i] = opts[i].ID
	}
	return out
}

// ensureOwned fails with ErrConflict if any id already exists under a
// different parent.
func ensureOwned(tx *gorm.DB, model any, parentCol, parentID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	var n int64
	if err := tx.Model(model).
		Where("id IN ? AND "+parentCol+" <> ?", ids, parentID).
		Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return ErrConflict
	}
	return nil
}

// SetClosed flips the manual close switch. Returns ErrNotFound when the poll
// does not exist.
func SetClosed(ctx context.Context, db *gorm.DB, id string, closed bool) error {
	res := db.WithContext(ctx).
		Model(&domain.Poll{}).
		Where("id = ?", id).
		Updates(map[string]any{"is_closed": closed, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CountPollsByCreator returns the number of polls owned by creatorID.
func CountPollsByCreator(ctx context.Context, db *gorm.DB, creatorID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Poll{}).
		Where("creator_id = ?", creatorID).
		Count(&total).Error
	return total, err
}

// ListPollsByCreatorPage returns a page of the creator's polls, newest first.
//
// The caller is responsible for computing offset and limit (e.g., (page-1)*pageSize).
func ListPollsByCreatorPage(ctx context.Context, db *gorm.DB, creatorID string, offset, limit int) ([]domain.Poll, error) {
	var out []domain.Poll
	err := db.WithContext(ctx).
		Where("creator_id = ?", creatorID).
		Order("created_at desc, id asc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountSubmissions returns accepted answer batches per poll for the given ids.
// Polls without submissions are absent from the map.
func CountSubmissions(ctx context.Context, db *gorm.DB, pollIDs []string) (map[string]int64, error) {
	out := make(map[string]int64, len(pollIDs))
	if len(pollIDs) == 0 {
		return out, nil
	}
	var rows []struct {
		PollID string
		N      int64
	}
	if err := db.WithContext(ctx).
		Model(&domain.Submission{}).
		Select("poll_id, COUNT(*) AS n").
		Where("poll_id IN ?", pollIDs).
		Group("poll_id").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.PollID] = r.N
	}
	return out, nil
}
