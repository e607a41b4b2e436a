package live

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/go-poll-backend/internal/domain"
	"github.com/tbourn/go-poll-backend/internal/repo"
)

// Store is the read side the hub rebuilds tallies from.
type Store interface {
	LoadDefinition(ctx context.Context, pollID string) (*domain.Poll, error)
	ListVotes(ctx context.Context, pollID string) ([]domain.Vote, error)
	CountVotes(ctx context.Context, pollID string) (int64, error)
}

// DBStore adapts the repo functions to Store.
type DBStore struct {
	DB *gorm.DB
}

func (s DBStore) LoadDefinition(ctx context.Context, pollID string) (*domain.Poll, error) {
	return repo.LoadDefinition(ctx, s.DB, pollID)
}

func (s DBStore) ListVotes(ctx context.Context, pollID string) ([]domain.Vote, error) {
	return repo.ListVotes(ctx, s.DB, pollID)
}

func (s DBStore) CountVotes(ctx context.Context, pollID string) (int64, error) {
	return repo.CountVotes(ctx, s.DB, pollID)
}
