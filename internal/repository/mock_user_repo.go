package repository

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/notifyhub/birthday-scheduler/internal/domain"
)

// MockUserRepository is an in-memory UserRepository that evaluates
// eligibility in Go with the same rules the SQL query applies.
type MockUserRepository struct {
	mu    sync.RWMutex
	users map[uuid.UUID]*domain.User

	// Now is the clock used for eligibility. Defaults to time.Now.
	Now func() time.Time

	// Optional error overrides.
	FindEligibleErr error
	FindByIDErr     error

	findEligibleCalls int
}

func NewMockUserRepository(users ...*domain.User) *MockUserRepository {
	m := &MockUserRepository{
		users: make(map[uuid.UUID]*domain.User),
		Now:   time.Now,
	}
	for _, u := range users {
		m.Add(u)
	}
	return m
}

func (m *MockUserRepository) Add(u *domain.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *u
	m.users[u.ID] = &clone
}

func (m *MockUserRepository) Delete(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, id)
}

// FindEligibleCalls reports how many eligibility queries were issued.
func (m *MockUserRepository) FindEligibleCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findEligibleCalls
}

func (m *MockUserRepository) FindEligible(
	_ context.Context,
	dateField string,
	targetHour, batchSize int,
	cursor *uuid.UUID,
) ([]*domain.User, error) {
	m.mu.Lock()
	m.findEligibleCalls++
	m.mu.Unlock()

	if m.FindEligibleErr != nil {
		return nil, m.FindEligibleErr
	}
	if _, err := validateEligibilityArgs(dateField, targetHour, batchSize); err != nil {
		return nil, err
	}

	now := m.Now()
	m.mu.RLock()
	var matched []*domain.User
	for _, u := range m.users {
		if cursor != nil && bytes.Compare(u.ID[:], cursor[:]) <= 0 {
			continue
		}
		if domain.IsEligible(u, u.DateOfBirth, targetHour, now) {
			clone := *u
			matched = append(matched, &clone)
		}
	}
	m.mu.RUnlock()

	// Postgres orders uuid columns bytewise, which is what bytes.Compare does.
	sort.Slice(matched, func(i, j int) bool {
		return bytes.Compare(matched[i].ID[:], matched[j].ID[:]) < 0
	})
	if len(matched) > batchSize {
		matched = matched[:batchSize]
	}
	return matched, nil
}

func (m *MockUserRepository) FindByID(_ context.Context, id uuid.UUID) (*domain.User, error) {
	if m.FindByIDErr != nil {
		return nil, m.FindByIDErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *u
	return &clone, nil
}

var _ UserRepository = (*MockUserRepository)(nil)
