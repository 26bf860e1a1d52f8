package appointment

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusScheduled   Status = "scheduled"
	StatusRescheduled Status = "rescheduled"
	StatusCompleted   Status = "completed"
	StatusCancelled   Status = "cancelled"
)

// DateLayout is the wire and storage layout of an appointment day.
const DateLayout = "2006-01-02"

// Active reports whether the appointment still holds a place in the queue.
func (s Status) Active() bool {
	return s == StatusScheduled || s == StatusRescheduled
}

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func (s Status) Valid() bool {
	return s.Active() || s.Terminal()
}

// CanTransition is the appointment state machine. Terminal states have no exits.
func CanTransition(from, to Status) bool {
	if !from.Active() {
		return false
	}
	switch to {
	case StatusRescheduled, StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Phone     string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Doctor struct {
	ID        uuid.UUID
	Name      string
	Phone     string
	Specialty *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Appointment struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	PatientID uuid.UUID
	Date      time.Time // midnight UTC of the appointment day
	Time      string    // HH:MM
	Token     int
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Day returns the appointment day in DateLayout.
func (a Appointment) Day() string {
	return a.Date.Format(DateLayout)
}

// QueueSnapshot is derived from current appointment state and never stored.
type QueueSnapshot struct {
	AppointmentID        uuid.UUID
	Token                int
	PatientsAhead        int
	EstimatedWaitMinutes int
}

// TokenCounts is what the allocator reads for one doctor and day.
type TokenCounts struct {
	Active  int // scheduled or rescheduled
	Highest int // largest token ever assigned, any status
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// ParseDay parses a DateLayout string into midnight UTC.
func ParseDay(raw string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, raw, time.UTC)
}

// NormalizeDay drops the clock part of t, keeping its calendar date.
func NormalizeDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
