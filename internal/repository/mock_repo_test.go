package repository_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notifyhub/birthday-scheduler/internal/domain"
	"github.com/notifyhub/birthday-scheduler/internal/repository"
)

func TestMockLedger_ConcurrentCreateKeepsOneEntry(t *testing.T) {
	repo := repository.NewMockLedgerRepository()
	userID := uuid.New()
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	var (
		wg        sync.WaitGroup
		created   atomic.Int32
		conflicts atomic.Int32
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.Create(context.Background(), domain.NewLedgerEntry(userID, domain.NotificationBirthday, 2026, now))
			switch {
			case err == nil:
				created.Add(1)
			case errors.Is(err, domain.ErrConflict):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, created.Load())
	assert.EqualValues(t, 19, conflicts.Load())
	assert.Len(t, repo.All(), 1)
}

func TestMockLedger_DifferentYearIsNewEntry(t *testing.T) {
	repo := repository.NewMockLedgerRepository()
	ctx := context.Background()
	userID := uuid.New()
	now := time.Now()

	require.NoError(t, repo.Create(ctx, domain.NewLedgerEntry(userID, domain.NotificationBirthday, 2026, now)))
	require.NoError(t, repo.Create(ctx, domain.NewLedgerEntry(userID, domain.NotificationBirthday, 2027, now)))
}

func TestMockLedger_MarkFailedNeverOverwritesSuccess(t *testing.T) {
	repo := repository.NewMockLedgerRepository()
	ctx := context.Background()
	e := domain.NewLedgerEntry(uuid.New(), domain.NotificationBirthday, 2026, time.Now())
	require.NoError(t, repo.Create(ctx, e))

	processedAt := time.Date(2026, 5, 1, 9, 0, 3, 0, time.UTC)
	require.NoError(t, repo.MarkSuccess(ctx, e.ID, processedAt))
	require.NoError(t, repo.MarkFailed(ctx, e.ID, "late failure"))

	got, err := repo.GetByID(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, got.Status)
	require.NotNil(t, got.ProcessedAt)
	assert.True(t, got.ProcessedAt.Equal(processedAt))
	assert.Nil(t, got.ErrorMessage)
}

func TestMockLedger_FindStalePending(t *testing.T) {
	repo := repository.NewMockLedgerRepository()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	old := domain.NewLedgerEntry(uuid.New(), domain.NotificationBirthday, 2026, now.Add(-3*time.Hour))
	older := domain.NewLedgerEntry(uuid.New(), domain.NotificationBirthday, 2026, now.Add(-5*time.Hour))
	fresh := domain.NewLedgerEntry(uuid.New(), domain.NotificationBirthday, 2026, now.Add(-10*time.Minute))
	lastYear := domain.NewLedgerEntry(uuid.New(), domain.NotificationBirthday, 2025, now.Add(-48*time.Hour))
	done := domain.NewLedgerEntry(uuid.New(), domain.NotificationBirthday, 2026, now.Add(-4*time.Hour))
	done.Status = domain.StatusSuccess
	for _, e := range []*domain.LedgerEntry{old, older, fresh, lastYear, done} {
		repo.Put(e)
	}

	got, err := repo.FindStalePending(context.Background(), []int{2026}, now.Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, older.ID, got[0].ID, "oldest first")
	assert.Equal(t, old.ID, got[1].ID)

	got, err = repo.FindStalePending(context.Background(), []int{2026}, now.Add(-time.Hour), 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = repo.FindStalePending(context.Background(), []int{2025, 2026}, now.Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Len(t, got, 3, "every requested year is searched")
}

func TestMockUser_FindEligiblePagesByID(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 15, 0, 0, time.UTC)
	repo := repository.NewMockUserRepository()
	repo.Now = func() time.Time { return now }

	for range 5 {
		repo.Add(&domain.User{
			ID:          uuid.New(),
			Timezone:    "UTC",
			DateOfBirth: time.Date(1990, 5, 1, 0, 0, 0, 0, time.UTC),
			Active:      true,
		})
	}
	// Wrong day, never returned.
	repo.Add(&domain.User{
		ID:          uuid.New(),
		Timezone:    "UTC",
		DateOfBirth: time.Date(1990, 5, 2, 0, 0, 0, 0, time.UTC),
		Active:      true,
	})

	ctx := context.Background()
	first, err := repo.FindEligible(ctx, "date_of_birth", 9, 3, nil)
	require.NoError(t, err)
	require.Len(t, first, 3)

	cursor := first[len(first)-1].ID
	second, err := repo.FindEligible(ctx, "date_of_birth", 9, 3, &cursor)
	require.NoError(t, err)
	require.Len(t, second, 2)

	seen := map[uuid.UUID]bool{}
	for _, u := range append(first, second...) {
		assert.False(t, seen[u.ID], "user returned twice")
		seen[u.ID] = true
	}
	assert.Equal(t, 2, repo.FindEligibleCalls())
}

func TestMockUser_FindEligibleValidatesArguments(t *testing.T) {
	repo := repository.NewMockUserRepository()
	ctx := context.Background()

	_, err := repo.FindEligible(ctx, "anniversary", 9, 10, nil)
	assert.ErrorIs(t, err, domain.ErrUnknownDateField)

	_, err = repo.FindEligible(ctx, "date_of_birth", 24, 10, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidHour)

	_, err = repo.FindEligible(ctx, "date_of_birth", 9, 0, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidBatchSize)
}

func TestMockUser_FindByIDMissing(t *testing.T) {
	repo := repository.NewMockUserRepository()
	_, err := repo.FindByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMockUser_UnknownTimezoneIsReadAsUTC(t *testing.T) {
	repo := repository.NewMockUserRepository()
	repo.Now = func() time.Time { return time.Date(2026, 5, 1, 9, 15, 0, 0, time.UTC) }
	u := &domain.User{
		ID:          uuid.New(),
		Timezone:    "Mars/Olympus_Mons",
		DateOfBirth: time.Date(1990, 5, 1, 0, 0, 0, 0, time.UTC),
		Active:      true,
	}
	repo.Add(u)
	repo.Add(&domain.User{
		ID:          uuid.New(),
		Timezone:    "Asia/Tokyo",
		DateOfBirth: time.Date(1990, 5, 1, 0, 0, 0, 0, time.UTC),
		Active:      true,
	})

	got, err := repo.FindEligible(context.Background(), "date_of_birth", 9, 10, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, u.ID, got[0].ID)
}
