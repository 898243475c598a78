package strategy

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/notifyhub/birthday-scheduler/internal/domain"
)

const (
	BirthdayQueue   = "birthday-notifications"
	BirthdayJobName = "send-birthday-notification"
)

// Birthday notifies users on their date of birth.
type Birthday struct{}

func (Birthday) NotificationType() domain.NotificationType { return domain.NotificationBirthday }
func (Birthday) DateField() string                         { return "date_of_birth" }
func (Birthday) QueueName() string                         { return BirthdayQueue }
func (Birthday) JobName() string                           { return BirthdayJobName }

func (Birthday) JobID(u *domain.User, year int) string {
	return fmt.Sprintf("birthday-%s-%d", u.ID, year)
}

func (Birthday) JobPayload(u *domain.User, ledgerEntryID uuid.UUID) domain.JobPayload {
	return domain.JobPayload{
		UserID:        u.ID,
		Email:         u.Email,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		LedgerEntryID: ledgerEntryID,
	}
}

func (Birthday) RenderMessage(p domain.JobPayload) string {
	return fmt.Sprintf("Hey, %s %s it's your birthday", p.FirstName, p.LastName)
}

var _ Strategy = Birthday{}
