package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound     = errors.New("patient not found")
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrDuplicateToken      = errors.New("token already assigned for this doctor and day")
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// WithinTokenScope runs fn with a repository bound to a unit of work that
	// excludes every other scope for the same doctor and day until fn returns.
	WithinTokenScope(ctx context.Context, doctorID uuid.UUID, day time.Time, fn func(ctx context.Context, tx Repository) error) error

	// Token allocation
	CountTokens(ctx context.Context, doctorID uuid.UUID, day time.Time) (TokenCounts, error)
	InsertAppointment(ctx context.Context, a Appointment) (*Appointment, error)

	// Queue evaluation
	CountActiveBefore(ctx context.Context, doctorID uuid.UUID, day time.Time, token int) (int, error)
	ListActiveAfter(ctx context.Context, doctorID uuid.UUID, day time.Time, token int) ([]Appointment, error)

	// Status updates, guarded by the expected current status
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to Status, newTime *string) (*Appointment, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
