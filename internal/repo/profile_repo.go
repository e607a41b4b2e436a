package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-poll-backend/internal/domain"
)

// UpsertProfile records the latest email seen for an account. A non-empty
// display name overwrites the stored one; an empty one leaves it alone.
func UpsertProfile(ctx context.Context, db *gorm.DB, id, email, displayName string) error {
	cols := []string{"email", "updated_at"}
	if displayName != "" {
		cols = append(cols, "display_name")
	}
	p := &domain.Profile{ID: id, Email: email, DisplayName: displayName, UpdatedAt: time.Now().UTC()}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns(cols),
	}).Create(p).Error
}

// LabelsByIDs resolves account ids to display labels. Unknown ids and
// profiles without any label are absent from the result.
func LabelsByIDs(ctx context.Context, db *gorm.DB, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []domain.Profile
	if err := db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, p := range rows {
		if l := p.Label(); l != "" {
			out[p.ID] = l
		}
	}
	return out, nil
}
