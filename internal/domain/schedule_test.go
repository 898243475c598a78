package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/notifyhub/birthday-scheduler/internal/domain"
)

func TestParseNotificationHour(t *testing.T) {
	t.Run("valid time returns hour", func(t *testing.T) {
		h, err := domain.ParseNotificationHour("09:00")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if h != 9 {
			t.Fatalf("expected 9, got %d", h)
		}
	})

	t.Run("minutes are ignored", func(t *testing.T) {
		h, err := domain.ParseNotificationHour("23:45")
		if err != nil || h != 23 {
			t.Fatalf("expected 23, got %d (err=%v)", h, err)
		}
	})

	t.Run("empty is not configured", func(t *testing.T) {
		_, err := domain.ParseNotificationHour("  ")
		if !errors.Is(err, domain.ErrNotificationTimeNotConfigured) {
			t.Fatalf("expected ErrNotificationTimeNotConfigured, got %v", err)
		}
	})

	for _, bad := range []string{"9:00", "24:00", "12:60", "noon", "12-00"} {
		t.Run("rejects "+bad, func(t *testing.T) {
			_, err := domain.ParseNotificationHour(bad)
			if !errors.Is(err, domain.ErrInvalidNotificationTime) {
				t.Fatalf("expected ErrInvalidNotificationTime, got %v", err)
			}
		})
	}
}

func TestValidateHour(t *testing.T) {
	for _, h := range []int{0, 12, 23} {
		if err := domain.ValidateHour(h); err != nil {
			t.Fatalf("hour %d: expected no error, got %v", h, err)
		}
	}
	for _, h := range []int{-1, 24} {
		if err := domain.ValidateHour(h); !errors.Is(err, domain.ErrInvalidHour) {
			t.Fatalf("hour %d: expected ErrInvalidHour, got %v", h, err)
		}
	}
}

func TestIsEligible(t *testing.T) {
	// 2026-03-14 22:30 UTC is 2026-03-15 09:30 in Sydney (UTC+11 during AEDT).
	now := time.Date(2026, 3, 14, 22, 30, 0, 0, time.UTC)
	user := &domain.User{
		ID:          uuid.New(),
		Timezone:    "Australia/Sydney",
		DateOfBirth: time.Date(1990, 3, 15, 0, 0, 0, 0, time.UTC),
		Active:      true,
	}

	t.Run("local hour and local day match", func(t *testing.T) {
		if !domain.IsEligible(user, user.DateOfBirth, 9, now) {
			t.Fatal("expected user to be eligible at 09:00 Sydney time")
		}
	})

	t.Run("different hour", func(t *testing.T) {
		if domain.IsEligible(user, user.DateOfBirth, 10, now) {
			t.Fatal("expected user not to be eligible at hour 10")
		}
	})

	t.Run("utc day is not used", func(t *testing.T) {
		utcUser := *user
		utcUser.DateOfBirth = time.Date(1990, 3, 14, 0, 0, 0, 0, time.UTC)
		if domain.IsEligible(&utcUser, utcUser.DateOfBirth, 9, now) {
			t.Fatal("expected the UTC calendar day to be ignored")
		}
	})

	t.Run("inactive user", func(t *testing.T) {
		inactive := *user
		inactive.Active = false
		if domain.IsEligible(&inactive, inactive.DateOfBirth, 9, now) {
			t.Fatal("expected inactive user to be skipped")
		}
	})

	t.Run("event year follows local calendar", func(t *testing.T) {
		newYear := time.Date(2026, 12, 31, 14, 0, 0, 0, time.UTC)
		if got := user.EventYear(newYear); got != 2027 {
			t.Fatalf("expected 2027 in Sydney, got %d", got)
		}
	})
}

func TestUserLocation_FallsBackToUTC(t *testing.T) {
	u := &domain.User{Timezone: "Mars/Olympus_Mons"}
	if u.Location() != time.UTC {
		t.Fatalf("expected UTC fallback, got %s", u.Location())
	}
}

func TestEventYearsAt(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want []int
	}{
		{"mid year", time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC), []int{2026}},
		{"kiribati already in new year", time.Date(2026, 12, 31, 12, 0, 0, 0, time.UTC), []int{2026, 2027}},
		{"pago pago still in old year", time.Date(2027, 1, 1, 9, 0, 0, 0, time.UTC), []int{2026, 2027}},
		{"grace covers the day after", time.Date(2027, 1, 2, 11, 0, 0, 0, time.UTC), []int{2026, 2027}},
		{"grace over", time.Date(2027, 1, 3, 14, 0, 0, 0, time.UTC), []int{2027}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := domain.EventYearsAt(tc.now, 25*time.Hour)
			if len(got) != len(tc.want) {
				t.Fatalf("EventYearsAt(%s) = %v, want %v", tc.now, got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("EventYearsAt(%s) = %v, want %v", tc.now, got, tc.want)
				}
			}
		})
	}
}
