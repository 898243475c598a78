package service

import (
	"time"

	"github.com/notifyhub/birthday-scheduler/internal/domain"
)

// Hooks carries metric callbacks injected by main so the services stay
// metrics-agnostic. Any nil field is a no-op.
type Hooks struct {
	OnScheduled     func(t domain.NotificationType)
	OnDuplicate     func(t domain.NotificationType)
	OnScheduleError func(t domain.NotificationType, stage string)
	OnRunFinished   func(t domain.NotificationType, d time.Duration)

	OnDelivered      func(t domain.NotificationType, latency time.Duration)
	OnAttemptFailed  func(t domain.NotificationType, reason string)
	OnDeliveryFailed func(t domain.NotificationType)

	OnRecovered func(outcome string)
}

// Schedule-error stages.
const (
	StageFetch   = "fetch"
	StageLedger  = "ledger"
	StageEnqueue = "enqueue"
	StageQueue   = "queue"
)

// Recovery outcomes.
const (
	OutcomeRequeued    = "requeued"
	OutcomeInFlight    = "in_flight"
	OutcomeUserMissing = "user_missing"
	OutcomeError       = "error"
)

func (h Hooks) scheduled(t domain.NotificationType) {
	if h.OnScheduled != nil {
		h.OnScheduled(t)
	}
}

func (h Hooks) duplicate(t domain.NotificationType) {
	if h.OnDuplicate != nil {
		h.OnDuplicate(t)
	}
}

func (h Hooks) scheduleError(t domain.NotificationType, stage string) {
	if h.OnScheduleError != nil {
		h.OnScheduleError(t, stage)
	}
}

func (h Hooks) runFinished(t domain.NotificationType, d time.Duration) {
	if h.OnRunFinished != nil {
		h.OnRunFinished(t, d)
	}
}

func (h Hooks) delivered(t domain.NotificationType, latency time.Duration) {
	if h.OnDelivered != nil {
		h.OnDelivered(t, latency)
	}
}

func (h Hooks) attemptFailed(t domain.NotificationType, reason string) {
	if h.OnAttemptFailed != nil {
		h.OnAttemptFailed(t, reason)
	}
}

func (h Hooks) deliveryFailed(t domain.NotificationType) {
	if h.OnDeliveryFailed != nil {
		h.OnDeliveryFailed(t)
	}
}

func (h Hooks) recovered(outcome string) {
	if h.OnRecovered != nil {
		h.OnRecovered(outcome)
	}
}
