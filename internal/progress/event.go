package progress

import (
	"errors"
	"fmt"
	"time"
)

// Kind discriminates the Event payload.
type Kind string

// Supported event kinds.
const (
	KindWorker Kind = "worker"
	KindQueue  Kind = "queue"
	KindJob    Kind = "job"
	KindLog    Kind = "log"
)

// Outcome is the terminal result of one job execution.
type Outcome string

// Job outcomes. A failed job is restored to the head of its queue.
const (
	OutcomeStarted   Outcome = "started"
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// Event is one fire-and-forget notification. Which fields are set depends on Kind:
//   - worker: WorkerID, Field, Value
//   - queue: Vendor, Queue
//   - job: WorkerID, Vendor, JobID, JobKind, Outcome, Followups, Dur, Message (on failure)
//   - log: Level, Message, optionally WorkerID/Vendor
type Event struct {
	Kind Kind      `json:"kind"`
	TS   time.Time `json:"ts"`

	WorkerID string `json:"worker_id,omitempty"`
	Vendor   string `json:"vendor,omitempty"`
	Field    string `json:"field,omitempty"`
	Value    any    `json:"value,omitempty"`

	Queue *QueueState `json:"queue,omitempty"`

	JobID     string        `json:"job_id,omitempty"`
	JobKind   string        `json:"job_kind,omitempty"`
	Outcome   Outcome       `json:"outcome,omitempty"`
	Followups int           `json:"followups,omitempty"`
	Dur       time.Duration `json:"dur,omitempty"`

	Level   string `json:"level,omitempty"`
	Message string `json:"message,omitempty"`
}

// QueueState summarizes one vendor's pending list.
type QueueState struct {
	Size int      `json:"size"`
	Head []string `json:"head"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Kind {
	case KindWorker:
		if e.WorkerID == "" || e.Field == "" {
			return errors.New("worker event requires worker id and field")
		}
	case KindQueue:
		if e.Vendor == "" || e.Queue == nil {
			return errors.New("queue event requires vendor and queue state")
		}
	case KindJob:
		if e.JobID == "" {
			return errors.New("job event requires job id")
		}
		switch e.Outcome {
		case OutcomeStarted, OutcomeSucceeded, OutcomeFailed:
		default:
			return fmt.Errorf("unknown outcome %q", e.Outcome)
		}
	case KindLog:
		if e.Message == "" {
			return errors.New("log event requires message")
		}
	default:
		return fmt.Errorf("unknown kind %q", e.Kind)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
