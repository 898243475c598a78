package ratelimiter

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/notifyhub/birthday-scheduler/internal/domain"
)

// Limiters holds one token bucket per notification type, created lazily so
// a newly registered type is throttled without wiring changes.
// Burst equals the rate, so nothing beyond the per-second maximum is saved up.
type Limiters struct {
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	limiters map[domain.NotificationType]*rate.Limiter
}

// New creates Limiters allowing ratePerSec deliveries per second per type.
// A non-positive rate disables throttling.
func New(ratePerSec int) *Limiters {
	l := &Limiters{
		rate:     rate.Limit(ratePerSec),
		burst:    ratePerSec,
		limiters: make(map[domain.NotificationType]*rate.Limiter),
	}
	if ratePerSec <= 0 {
		l.rate = rate.Inf
		l.burst = 1
	}
	return l
}

// Wait blocks until the type's limiter grants a token.
// Returns a non-nil error only if ctx is cancelled while waiting.
func (l *Limiters) Wait(ctx context.Context, t domain.NotificationType) error {
	return l.get(t).Wait(ctx)
}

func (l *Limiters) get(t domain.NotificationType) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[t]
	if !ok {
		lim = rate.NewLimiter(l.rate, l.burst)
		l.limiters[t] = lim
	}
	return lim
}
