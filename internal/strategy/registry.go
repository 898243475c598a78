package strategy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/notifyhub/birthday-scheduler/internal/domain"
)

// Registry indexes strategies by notification type and by job name.
type Registry struct {
	mu     sync.RWMutex
	byType map[domain.NotificationType]Strategy
	byJob  map[string]Strategy
}

func NewRegistry(strategies ...Strategy) (*Registry, error) {
	r := &Registry{
		byType: make(map[domain.NotificationType]Strategy),
		byJob:  make(map[string]Strategy),
	}
	for _, s := range strategies {
		if err := r.Register(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// DefaultRegistry holds every built-in strategy.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(Birthday{})
	if err != nil {
		panic(err)
	}
	return r
}

// Register adds s. A type or job name already taken is an error.
func (r *Registry) Register(s Strategy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byType[s.NotificationType()]; ok {
		return fmt.Errorf("strategy for type %q already registered", s.NotificationType())
	}
	if _, ok := r.byJob[s.JobName()]; ok {
		return fmt.Errorf("strategy for job %q already registered", s.JobName())
	}
	r.byType[s.NotificationType()] = s
	r.byJob[s.JobName()] = s
	return nil
}

func (r *Registry) Get(t domain.NotificationType) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byType[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownNotificationType, t)
	}
	return s, nil
}

func (r *Registry) ByJobName(name string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byJob[name]
	if !ok {
		return nil, fmt.Errorf("%w: job %q", domain.ErrUnknownNotificationType, name)
	}
	return s, nil
}

// All returns the registered strategies ordered by type.
func (r *Registry) All() []Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Strategy, 0, len(r.byType))
	for _, s := range r.byType {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NotificationType() < out[j].NotificationType() })
	return out
}

// QueueNames lists the distinct queues the registered strategies publish to.
func (r *Registry) QueueNames() []string {
	seen := map[string]bool{}
	var names []string
	for _, s := range r.All() {
		if !seen[s.QueueName()] {
			seen[s.QueueName()] = true
			names = append(names, s.QueueName())
		}
	}
	return names
}
