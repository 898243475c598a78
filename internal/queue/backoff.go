package queue

import "time"

type BackoffType string

const (
	BackoffFixed       BackoffType = "fixed"
	BackoffExponential BackoffType = "exponential"
)

// maxBackoff caps exponential growth so a large attempt count cannot overflow.
const maxBackoff = time.Hour

// Backoff describes the wait before a failed job is retried.
type Backoff struct {
	Type  BackoffType   `json:"type"`
	Delay time.Duration `json:"delay"`
}

// Next returns the wait after the given number of attempts. For exponential
// backoff with a 1s delay that is 1s, 2s, 4s and so on.
func (b Backoff) Next(attemptsMade int) time.Duration {
	if b.Delay <= 0 {
		return 0
	}
	if b.Type != BackoffExponential || attemptsMade <= 1 {
		return b.Delay
	}
	d := b.Delay
	for i := 1; i < attemptsMade; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}
