package domain

import "errors"

// Sentinel errors used throughout the application.
// Handlers translate these to HTTP status codes via a single mapError function.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict: ledger entry already exists for user, type and year")

	// ErrUnrecoverable marks a delivery failure that retrying cannot fix.
	// The queue moves such jobs straight to the failed state.
	ErrUnrecoverable = errors.New("unrecoverable delivery failure")

	ErrUnknownNotificationType       = errors.New("no strategy registered for notification type")
	ErrNotificationTimeNotConfigured = errors.New("notification time not configured")
	ErrInvalidNotificationTime       = errors.New("notification time must be in HH:mm format")
	ErrInvalidHour                   = errors.New("hour must be between 0 and 23")
	ErrInvalidBatchSize              = errors.New("batch size must be positive")
	ErrUnknownDateField              = errors.New("unknown date field")
	ErrRunInProgress                 = errors.New("a run for this notification type is already in progress")
	ErrUnknownQueue                  = errors.New("unknown queue")
)
