package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/notifyhub/birthday-scheduler/internal/domain"
)

// UserRepository is the read contract the pipeline needs from user storage.
// The pgx implementation is in pg_user_repo.go.
// Tests use a hand-written in-memory implementation (mock_user_repo.go).
type UserRepository interface {
	// FindEligible returns at most batchSize active users, ordered by id,
	// whose local hour equals targetHour and whose dateField falls on their
	// local today. A non-nil cursor excludes ids at or before it.
	FindEligible(ctx context.Context, dateField string, targetHour, batchSize int, cursor *uuid.UUID) ([]*domain.User, error)
	FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
}

// LedgerRepository persists one entry per (user, notification type, year).
type LedgerRepository interface {
	// Create inserts a pending entry. A uniqueness conflict returns domain.ErrConflict.
	Create(ctx context.Context, e *domain.LedgerEntry) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.LedgerEntry, error)
	MarkSuccess(ctx context.Context, id uuid.UUID, processedAt time.Time) error
	// MarkFailed records a terminal failure. It never overwrites a success.
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error
	// FindStalePending lists pending entries of any of years created before
	// olderThan, oldest first.
	FindStalePending(ctx context.Context, years []int, olderThan time.Time, limit int) ([]*domain.LedgerEntry, error)
}

// dateColumns whitelists the user columns a strategy may query by.
var dateColumns = map[string]string{
	"date_of_birth": "date_of_birth",
}

func validateEligibilityArgs(dateField string, targetHour, batchSize int) (string, error) {
	col, ok := dateColumns[dateField]
	if !ok {
		return "", domain.ErrUnknownDateField
	}
	if err := domain.ValidateHour(targetHour); err != nil {
		return "", err
	}
	if batchSize <= 0 {
		return "", domain.ErrInvalidBatchSize
	}
	return col, nil
}
