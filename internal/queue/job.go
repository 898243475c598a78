package queue

import (
	"encoding/json"
	"time"
)

// JobState is where a job currently sits in its queue.
type JobState string

const (
	StateAbsent    JobState = "absent"
	StateWaiting   JobState = "waiting"
	StateActive    JobState = "active"
	StateDelayed   JobState = "delayed"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
)

// InFlight reports whether a job in state s may still be delivered without
// outside help.
func (s JobState) InFlight() bool {
	return s == StateWaiting || s == StateActive || s == StateDelayed
}

// DefaultMaxAttempts applies when a job is enqueued with MaxAttempts <= 0.
const DefaultMaxAttempts = 3

// Job is a unit of work together with its retry bookkeeping.
type Job struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Queue        string            `json:"queue"`
	Payload      json.RawMessage   `json:"payload"`
	Headers      map[string]string `json:"headers,omitempty"`
	AttemptsMade int               `json:"attempts_made"`
	MaxAttempts  int               `json:"max_attempts"`
	Backoff      Backoff           `json:"backoff"`
	State        JobState          `json:"state"`
	LastError    string            `json:"last_error,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	ProcessAt    time.Time         `json:"process_at"`
	FinishedAt   *time.Time        `json:"finished_at,omitempty"`
}

func (j *Job) clone() *Job {
	c := *j
	if j.Payload != nil {
		c.Payload = append(json.RawMessage(nil), j.Payload...)
	}
	if j.Headers != nil {
		c.Headers = make(map[string]string, len(j.Headers))
		for k, v := range j.Headers {
			c.Headers[k] = v
		}
	}
	if j.FinishedAt != nil {
		at := *j.FinishedAt
		c.FinishedAt = &at
	}
	return &c
}

// EnqueueOptions controls identity and retry behaviour of a new job.
type EnqueueOptions struct {
	// JobID deduplicates: enqueueing an id that already exists returns the
	// existing job. Empty means a random id.
	JobID       string
	MaxAttempts int
	Backoff     Backoff
	Headers     map[string]string
}

// Stats is a point-in-time count of jobs per state.
type Stats struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
	Paused    bool  `json:"paused"`
}
