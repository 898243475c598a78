package domain

import (
	"time"

	"github.com/google/uuid"
)

// NotificationType identifies a pluggable notification kind.
type NotificationType string

const (
	NotificationBirthday NotificationType = "birthday"
)

// Status tracks the lifecycle of a ledger entry.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// LedgerEntry records that a notification of a given type was scheduled for
// a user in a given event year. (UserID, Type, Year) is unique.
type LedgerEntry struct {
	ID           uuid.UUID        `json:"id"`
	UserID       uuid.UUID        `json:"user_id"`
	Type         NotificationType `json:"notification_type"`
	Year         int              `json:"year"`
	Status       Status           `json:"status"`
	ProcessedAt  *time.Time       `json:"processed_at,omitempty"`
	ErrorMessage *string          `json:"error_message,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// NewLedgerEntry builds a pending entry with a time-ordered id.
func NewLedgerEntry(userID uuid.UUID, t NotificationType, year int, now time.Time) *LedgerEntry {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	now = now.UTC()
	return &LedgerEntry{
		ID:        id,
		UserID:    userID,
		Type:      t,
		Year:      year,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// JobPayload is the data carried by a delivery job. The ledger entry id
// links the job outcome back to the entry that scheduled it.
type JobPayload struct {
	UserID        uuid.UUID `json:"user_id"`
	Email         string    `json:"email"`
	FirstName     string    `json:"first_name"`
	LastName      string    `json:"last_name"`
	LedgerEntryID uuid.UUID `json:"ledger_entry_id"`
}
