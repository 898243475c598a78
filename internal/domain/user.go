package domain

import (
	"time"

	"github.com/google/uuid"
)

// User is the read-only projection of a user record needed to schedule and
// deliver notifications. User management itself lives elsewhere.
type User struct {
	ID          uuid.UUID `json:"id"`
	Email       string    `json:"email"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	Timezone    string    `json:"timezone"`
	DateOfBirth time.Time `json:"date_of_birth"`
	Active      bool      `json:"active"`
}

// Location resolves the user's IANA timezone, falling back to UTC for an
// empty or unknown zone name.
func (u *User) Location() *time.Location {
	if u.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(u.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// LocalNow returns now as seen on the user's wall clock.
func (u *User) LocalNow(now time.Time) time.Time {
	return now.In(u.Location())
}

// EventYear is the year a notification generated at now belongs to.
// It is read from the user's local calendar, the same clock that decides eligibility.
func (u *User) EventYear(now time.Time) int {
	return u.LocalNow(now).Year()
}

// Wall clocks range from UTC-12 to UTC+14.
const (
	minUTCOffset = -12 * time.Hour
	maxUTCOffset = 14 * time.Hour
)

// EventYearsAt lists every event year some user's local calendar shows at
// now, extended back by grace so entries created just before a New Year
// stay reachable for a while after it. Outside the turn of the year this is
// a single year.
func EventYearsAt(now time.Time, grace time.Duration) []int {
	first := now.UTC().Add(minUTCOffset - grace).Year()
	last := now.UTC().Add(maxUTCOffset).Year()
	years := make([]int, 0, last-first+1)
	for y := first; y <= last; y++ {
		years = append(years, y)
	}
	return years
}
