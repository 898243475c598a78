package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var notificationTimeRe = regexp.MustCompile(`^([01]\d|2[0-3]):([0-5]\d)$`)

// ParseNotificationHour extracts the hour component of a local delivery
// time such as "09:00". Minutes are validated but otherwise ignored since
// runs are triggered hourly.
func ParseNotificationHour(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrNotificationTimeNotConfigured
	}
	m := notificationTimeRe.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidNotificationTime, s)
	}
	h, _ := strconv.Atoi(m[1])
	return h, nil
}

// ValidateHour checks an explicit hour override.
func ValidateHour(h int) error {
	if h < 0 || h > 23 {
		return fmt.Errorf("%w: got %d", ErrInvalidHour, h)
	}
	return nil
}

// ValidateTimezone checks that tz is a loadable IANA location and returns
// its canonical name.
func ValidateTimezone(tz string) (string, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return "", err
	}
	return loc.String(), nil
}

// IsEligible reports whether u should be notified at now for targetHour,
// comparing date against the user's local calendar day.
func IsEligible(u *User, date time.Time, targetHour int, now time.Time) bool {
	if !u.Active {
		return false
	}
	local := u.LocalNow(now)
	if local.Hour() != targetHour {
		return false
	}
	return date.Month() == local.Month() && date.Day() == local.Day()
}
