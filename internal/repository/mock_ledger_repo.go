package repository

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/notifyhub/birthday-scheduler/internal/domain"
)

type ledgerKey struct {
	userID uuid.UUID
	typ    domain.NotificationType
	year   int
}

// MockLedgerRepository is a hand-written, in-memory LedgerRepository used in
// unit tests. It enforces the same (user, type, year) uniqueness as the
// Postgres index, under a single mutex.
type MockLedgerRepository struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*domain.LedgerEntry
	unique  map[ledgerKey]uuid.UUID

	// Optional error overrides, set in tests to simulate failure paths.
	CreateErr           error
	MarkSuccessErr      error
	MarkFailedErr       error
	FindStalePendingErr error

	// MarkFailedCalls counts MarkFailed invocations per entry.
	MarkFailedCalls map[uuid.UUID]int
}

func NewMockLedgerRepository() *MockLedgerRepository {
	return &MockLedgerRepository{
		entries:         make(map[uuid.UUID]*domain.LedgerEntry),
		unique:          make(map[ledgerKey]uuid.UUID),
		MarkFailedCalls: make(map[uuid.UUID]int),
	}
}

func (m *MockLedgerRepository) Create(_ context.Context, e *domain.LedgerEntry) error {
	if m.CreateErr != nil {
		return m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := ledgerKey{userID: e.UserID, typ: e.Type, year: e.Year}
	if _, exists := m.unique[key]; exists {
		return domain.ErrConflict
	}
	clone := *e
	m.entries[e.ID] = &clone
	m.unique[key] = e.ID
	return nil
}

// Put stores e as-is, bypassing the uniqueness check. Used to seed fixtures
// such as entries with a backdated CreatedAt.
func (m *MockLedgerRepository) Put(e *domain.LedgerEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *e
	m.entries[e.ID] = &clone
	m.unique[ledgerKey{userID: e.UserID, typ: e.Type, year: e.Year}] = e.ID
}

func (m *MockLedgerRepository) GetByID(_ context.Context, id uuid.UUID) (*domain.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *e
	return &clone, nil
}

func (m *MockLedgerRepository) MarkSuccess(_ context.Context, id uuid.UUID, processedAt time.Time) error {
	if m.MarkSuccessErr != nil {
		return m.MarkSuccessErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return domain.ErrNotFound
	}
	at := processedAt.UTC()
	e.Status = domain.StatusSuccess
	e.ProcessedAt = &at
	e.ErrorMessage = nil
	e.UpdatedAt = at
	return nil
}

func (m *MockLedgerRepository) MarkFailed(_ context.Context, id uuid.UUID, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MarkFailedCalls[id]++
	if m.MarkFailedErr != nil {
		return m.MarkFailedErr
	}
	if e, ok := m.entries[id]; ok && e.Status != domain.StatusSuccess {
		e.Status = domain.StatusFailed
		e.ErrorMessage = &errMsg
		e.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (m *MockLedgerRepository) FindStalePending(_ context.Context, years []int, olderThan time.Time, limit int) ([]*domain.LedgerEntry, error) {
	if m.FindStalePendingErr != nil {
		return nil, m.FindStalePendingErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.LedgerEntry
	for _, e := range m.entries {
		if e.Status == domain.StatusPending && slices.Contains(years, e.Year) && e.CreatedAt.Before(olderThan) {
			clone := *e
			result = append(result, &clone)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// All returns a snapshot of every stored entry.
func (m *MockLedgerRepository) All() []*domain.LedgerEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*domain.LedgerEntry, 0, len(m.entries))
	for _, e := range m.entries {
		clone := *e
		result = append(result, &clone)
	}
	return result
}

var _ LedgerRepository = (*MockLedgerRepository)(nil)
