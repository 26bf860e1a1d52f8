package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	redisclient "github.com/hackgods/clinic-queue/internal/redis"
)

const (
	EventAppointmentCreated       = "APPOINTMENT_CREATED"
	EventAppointmentStatusChanged = "APPOINTMENT_STATUS_CHANGED"
)

var (
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrInvalidTime             = errors.New("time must be HH:MM")
	ErrInvalidStatus           = errors.New("unknown appointment status")
)

var timeOfDay = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

var tracer = otel.Tracer("github.com/hackgods/clinic-queue/internal/appointment")

// Hooks is how the booking layer hands committed changes to the queue core.
// Implementations must not block on notification delivery.
type Hooks interface {
	OnCreated(ctx context.Context, appt Appointment)
	OnStatusChanged(ctx context.Context, appt Appointment, previous Status)
}

type BookingRequest struct {
	DoctorID  uuid.UUID
	PatientID uuid.UUID
	Date      time.Time
	Time      string
}

type Service struct {
	repo      Repository
	allocator *TokenAllocator
	evaluator *QueueEvaluator
	hooks     Hooks
	logger    zerolog.Logger
}

func NewService(repo Repository, locker redisclient.Locker, evaluator *QueueEvaluator, logger zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		allocator: NewTokenAllocator(repo, locker),
		evaluator: evaluator,
		logger:    logger,
	}
}

// SetHooks registers the lifecycle controller. It is set after construction
// because the controller itself reads through this service's evaluator.
func (s *Service) SetHooks(h Hooks) {
	s.hooks = h
}

func (s *Service) Evaluator() *QueueEvaluator {
	return s.evaluator
}

// Book allocates a token, persists a scheduled appointment and returns it with
// its queue position. Notification work is handed off after the commit.
func (s *Service) Book(ctx context.Context, req BookingRequest) (*Appointment, QueueSnapshot, error) {
	ctx, span := tracer.Start(ctx, "appointment.Book")
	defer span.End()

	if !timeOfDay.MatchString(req.Time) {
		return nil, QueueSnapshot{}, ErrInvalidTime
	}

	if _, err := s.repo.GetPatientByID(ctx, req.PatientID); err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, QueueSnapshot{}, err
		}
		return nil, QueueSnapshot{}, fmt.Errorf("load patient: %w", err)
	}
	if _, err := s.repo.GetDoctorByID(ctx, req.DoctorID); err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, QueueSnapshot{}, err
		}
		return nil, QueueSnapshot{}, fmt.Errorf("load doctor: %w", err)
	}

	appt, err := s.allocator.Allocate(ctx, Appointment{
		DoctorID:  req.DoctorID,
		PatientID: req.PatientID,
		Date:      NormalizeDay(req.Date),
		Time:      req.Time,
		Status:    StatusScheduled,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "allocation failed")
		return nil, QueueSnapshot{}, err
	}
	span.SetAttributes(attribute.Int("appointment.token", appt.Token))

	s.logEvent(ctx, appt.ID, EventAppointmentCreated, map[string]any{
		"doctor_id":  appt.DoctorID.String(),
		"patient_id": appt.PatientID.String(),
		"date":       appt.Day(),
		"token":      appt.Token,
	})

	snap, err := s.evaluator.Evaluate(ctx, *appt)
	if err != nil {
		s.logger.Warn().Err(err).Str("appointment_id", appt.ID.String()).Msg("queue snapshot unavailable after booking")
		snap = QueueSnapshot{AppointmentID: appt.ID, Token: appt.Token}
	}

	if s.hooks != nil {
		s.hooks.OnCreated(ctx, *appt)
	}

	return appt, snap, nil
}

// ChangeStatus moves an appointment along its lifecycle. newTime is only
// honoured when rescheduling.
func (s *Service) ChangeStatus(ctx context.Context, id uuid.UUID, to Status, newTime *string) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointment.ChangeStatus")
	defer span.End()

	if !to.Valid() {
		return nil, ErrInvalidStatus
	}
	if to != StatusRescheduled {
		newTime = nil
	}
	if newTime != nil && !timeOfDay.MatchString(*newTime) {
		return nil, ErrInvalidTime
	}

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	if !CanTransition(appt.Status, to) {
		return nil, ErrInvalidStatusTransition
	}

	previous := appt.Status
	updated, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, previous, to, newTime)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// status moved underneath us
			return nil, ErrInvalidStatusTransition
		}
		return nil, fmt.Errorf("update appointment status: %w", err)
	}

	s.logEvent(ctx, updated.ID, EventAppointmentStatusChanged, map[string]any{
		"from": string(previous),
		"to":   string(to),
	})

	if s.hooks != nil {
		s.hooks.OnStatusChanged(ctx, *updated, previous)
	}

	return updated, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return appt, nil
}

// Queue returns the live position of an appointment. Terminal appointments
// are no longer queued and report zero ahead.
func (s *Service) Queue(ctx context.Context, id uuid.UUID) (*Appointment, QueueSnapshot, error) {
	appt, err := s.Get(ctx, id)
	if err != nil {
		return nil, QueueSnapshot{}, err
	}
	if appt.Status.Terminal() {
		return appt, QueueSnapshot{AppointmentID: appt.ID, Token: appt.Token}, nil
	}
	snap, err := s.evaluator.Evaluate(ctx, *appt)
	if err != nil {
		return nil, QueueSnapshot{}, err
	}
	return appt, snap, nil
}

// DoctorDay lists the active queue of one doctor on one day, ascending by token.
func (s *Service) DoctorDay(ctx context.Context, doctorID uuid.UUID, day time.Time) ([]Appointment, []QueueSnapshot, error) {
	if _, err := s.repo.GetDoctorByID(ctx, doctorID); err != nil {
		return nil, nil, err
	}
	return s.evaluator.Trailing(ctx, Appointment{DoctorID: doctorID, Date: NormalizeDay(day), Token: 0})
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     time.Now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.logger.Error().Err(err).
			Str("event_type", eventType).
			Str("appointment_id", appointmentID.String()).
			Msg("failed to insert event log")
	}
}
