// Package strategy describes each kind of date-based notification: which
// user column it keys on, where its jobs go, and what message it renders.
package strategy

import (
	"github.com/google/uuid"

	"github.com/notifyhub/birthday-scheduler/internal/domain"
)

// Strategy is the per-type plug-in consulted by the scheduler, the delivery
// processor and the recovery sweep. Adding a notification type means adding
// a Strategy and registering it; none of those callers change.
type Strategy interface {
	NotificationType() domain.NotificationType
	// DateField names the users column compared against the local calendar day.
	DateField() string
	QueueName() string
	JobName() string
	// JobID must be a pure function of the user and event year so that
	// repeated enqueues collapse onto the same job.
	JobID(u *domain.User, year int) string
	JobPayload(u *domain.User, ledgerEntryID uuid.UUID) domain.JobPayload
	RenderMessage(p domain.JobPayload) string
}

const recoverySuffix = "-recovery"

// RecoveryJobID derives the id used when the recovery sweep re-enqueues a
// job whose canonical id is no longer in flight.
func RecoveryJobID(canonical string) string {
	return canonical + recoverySuffix
}
