package notify

import (
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindConfirmation  Kind = "confirmation"
	KindProviderAlert Kind = "provider-alert"
	KindQueueUpdate   Kind = "queue-update"
	KindTurnAlert     Kind = "turn-alert"
)

// Job is one message to one recipient. It is consumed exactly once and
// discarded after delivery or failure.
type Job struct {
	ID            uuid.UUID
	Kind          Kind
	Recipient     string // phone number as stored; the channel normalizes it
	Message       string
	AppointmentID uuid.UUID
	Token         int
	EnqueuedAt    time.Time
}

// Cascade is an ordered batch of jobs produced by one lifecycle event.
// Jobs are delivered in slice order.
type Cascade struct {
	ID     uuid.UUID
	Reason string
	Jobs   []Job
}

// NewCascade stamps ids and enqueue time on jobs.
func NewCascade(reason string, jobs ...Job) Cascade {
	now := time.Now()
	for i := range jobs {
		if jobs[i].ID == uuid.Nil {
			jobs[i].ID = uuid.New()
		}
		jobs[i].EnqueuedAt = now
	}
	return Cascade{ID: uuid.New(), Reason: reason, Jobs: jobs}
}
