// Package lifecycle turns committed appointment changes into queue
// re-evaluations and notification cascades.
package lifecycle

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-queue/internal/appointment"
	"github.com/hackgods/clinic-queue/internal/events"
	"github.com/hackgods/clinic-queue/internal/notify"
)

// DefaultWindow is how many trailing appointments hear about a completion.
const DefaultWindow = 3

const (
	ReasonCreated   = "created"
	ReasonCompleted = "completed"
)

type Directory interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*appointment.Patient, error)
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*appointment.Doctor, error)
}

type Enqueuer interface {
	Enqueue(c notify.Cascade) error
}

// Controller reacts to lifecycle events. It never blocks on delivery and
// never fails the change that triggered it; problems are logged.
type Controller struct {
	evaluator *appointment.QueueEvaluator
	directory Directory
	notifier  Enqueuer
	publisher events.Publisher
	window    int
	logger    zerolog.Logger
}

var _ appointment.Hooks = (*Controller)(nil)

func NewController(evaluator *appointment.QueueEvaluator, directory Directory, notifier Enqueuer, publisher events.Publisher, window int, logger zerolog.Logger) *Controller {
	if window <= 0 {
		window = DefaultWindow
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &Controller{
		evaluator: evaluator,
		directory: directory,
		notifier:  notifier,
		publisher: publisher,
		window:    window,
		logger:    logger,
	}
}

// OnCreated confirms the booking to the patient and alerts the doctor.
func (c *Controller) OnCreated(ctx context.Context, appt appointment.Appointment) {
	log := c.logger.With().Str("appointment_id", appt.ID.String()).Int("token", appt.Token).Logger()

	snap, err := c.evaluator.Evaluate(ctx, appt)
	if err != nil {
		log.Error().Err(err).Msg("queue evaluation failed, no confirmation sent")
		return
	}

	patient, doctor, err := c.parties(ctx, appt)
	if err != nil {
		log.Error().Err(err).Msg("booking parties unavailable, no confirmation sent")
		return
	}

	var jobs []notify.Job
	if patient.Phone != "" {
		jobs = append(jobs, notify.Job{
			Kind:          notify.KindConfirmation,
			Recipient:     patient.Phone,
			Message:       confirmationText(*patient, *doctor, appt, snap),
			AppointmentID: appt.ID,
			Token:         appt.Token,
		})
	}
	if doctor.Phone != "" {
		jobs = append(jobs, notify.Job{
			Kind:          notify.KindProviderAlert,
			Recipient:     doctor.Phone,
			Message:       providerAlertText(*patient, appt),
			AppointmentID: appt.ID,
			Token:         appt.Token,
		})
	}

	c.enqueue(log, ReasonCreated, jobs)
	c.publish(ctx, ReasonCreated, appt.DoctorID, appt.Day(), []appointment.QueueSnapshot{snap})
}

// OnStatusChanged advances the queue when an active appointment completes.
// Cancellations and reschedules change positions silently.
func (c *Controller) OnStatusChanged(ctx context.Context, appt appointment.Appointment, previous appointment.Status) {
	if appt.Status != appointment.StatusCompleted || !previous.Active() {
		return
	}

	log := c.logger.With().Str("appointment_id", appt.ID.String()).Int("token", appt.Token).Logger()

	siblings, snaps, err := c.evaluator.Trailing(ctx, appt)
	if err != nil {
		log.Error().Err(err).Msg("trailing queue evaluation failed, no cascade sent")
		return
	}
	if len(siblings) == 0 {
		return
	}

	c.publish(ctx, ReasonCompleted, appt.DoctorID, appt.Day(), snaps)

	doctor, err := c.directory.GetDoctorByID(ctx, appt.DoctorID)
	if err != nil {
		log.Error().Err(err).Msg("doctor unavailable, no cascade sent")
		return
	}

	jobs := c.cascade(ctx, log, *doctor, siblings, snaps)
	c.enqueue(log, ReasonCompleted, jobs)
}

// cascade builds jobs for the first window siblings. The next in line gets a
// turn alert when nobody is ahead of them; everyone else gets an update.
func (c *Controller) cascade(ctx context.Context, log zerolog.Logger, doctor appointment.Doctor, siblings []appointment.Appointment, snaps []appointment.QueueSnapshot) []notify.Job {
	limit := min(len(siblings), c.window)
	jobs := make([]notify.Job, 0, limit)

	for i := 0; i < limit; i++ {
		sib, snap := siblings[i], snaps[i]

		patient, err := c.directory.GetPatientByID(ctx, sib.PatientID)
		if err != nil {
			log.Warn().Err(err).Str("sibling_id", sib.ID.String()).Msg("skipping sibling without patient record")
			continue
		}
		if patient.Phone == "" {
			continue
		}

		job := notify.Job{
			Kind:          notify.KindQueueUpdate,
			Recipient:     patient.Phone,
			Message:       queueUpdateText(*patient, snap),
			AppointmentID: sib.ID,
			Token:         sib.Token,
		}
		if i == 0 && snap.PatientsAhead == 0 {
			job.Kind = notify.KindTurnAlert
			job.Message = turnAlertText(*patient, doctor, sib)
		}
		jobs = append(jobs, job)
	}
	return jobs
}

func (c *Controller) parties(ctx context.Context, appt appointment.Appointment) (*appointment.Patient, *appointment.Doctor, error) {
	patient, err := c.directory.GetPatientByID(ctx, appt.PatientID)
	if err != nil {
		return nil, nil, err
	}
	doctor, err := c.directory.GetDoctorByID(ctx, appt.DoctorID)
	if err != nil {
		return nil, nil, err
	}
	return patient, doctor, nil
}

func (c *Controller) enqueue(log zerolog.Logger, reason string, jobs []notify.Job) {
	if len(jobs) == 0 {
		return
	}
	cascade := notify.NewCascade(reason, jobs...)
	if err := c.notifier.Enqueue(cascade); err != nil {
		lvl := log.Error()
		if errors.Is(err, notify.ErrQueueFull) {
			lvl = log.Warn()
		}
		lvl.Err(err).Str("cascade_id", cascade.ID.String()).Int("jobs", len(jobs)).Msg("notification cascade dropped")
		return
	}
	log.Debug().Str("cascade_id", cascade.ID.String()).Str("reason", reason).Int("jobs", len(jobs)).Msg("notification cascade enqueued")
}

func (c *Controller) publish(ctx context.Context, reason string, doctorID uuid.UUID, day string, snaps []appointment.QueueSnapshot) {
	out := make([]events.QueueSnapshot, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, events.QueueSnapshot{
			Reason:               reason,
			DoctorID:             doctorID,
			Date:                 day,
			AppointmentID:        s.AppointmentID,
			Token:                s.Token,
			PatientsAhead:        s.PatientsAhead,
			EstimatedWaitMinutes: s.EstimatedWaitMinutes,
		})
	}
	if err := c.publisher.PublishSnapshots(ctx, out); err != nil {
		c.logger.Warn().Err(err).Str("doctor_id", doctorID.String()).Msg("queue snapshot publish failed")
	}
}
