package appointment

import (
	"context"
	"fmt"
)

const DefaultPerPatientMinutes = 15

// QueueEvaluator computes live queue position. It only reads committed state
// and is safe to call any number of times.
type QueueEvaluator struct {
	repo              Repository
	perPatientMinutes int
}

func NewQueueEvaluator(repo Repository, perPatientMinutes int) *QueueEvaluator {
	if perPatientMinutes <= 0 {
		perPatientMinutes = DefaultPerPatientMinutes
	}
	return &QueueEvaluator{repo: repo, perPatientMinutes: perPatientMinutes}
}

func (e *QueueEvaluator) Evaluate(ctx context.Context, appt Appointment) (QueueSnapshot, error) {
	ahead, err := e.repo.CountActiveBefore(ctx, appt.DoctorID, appt.Date, appt.Token)
	if err != nil {
		return QueueSnapshot{}, fmt.Errorf("evaluate queue for %s: %w", appt.ID, err)
	}

	return QueueSnapshot{
		AppointmentID:        appt.ID,
		Token:                appt.Token,
		PatientsAhead:        ahead,
		EstimatedWaitMinutes: ahead * e.perPatientMinutes,
	}, nil
}

// Trailing returns the active appointments behind token on the same doctor
// and day, ascending by token, each with a fresh snapshot.
func (e *QueueEvaluator) Trailing(ctx context.Context, appt Appointment) ([]Appointment, []QueueSnapshot, error) {
	siblings, err := e.repo.ListActiveAfter(ctx, appt.DoctorID, appt.Date, appt.Token)
	if err != nil {
		return nil, nil, fmt.Errorf("list trailing appointments: %w", err)
	}

	snapshots := make([]QueueSnapshot, 0, len(siblings))
	for _, s := range siblings {
		snap, err := e.Evaluate(ctx, s)
		if err != nil {
			return nil, nil, err
		}
		snapshots = append(snapshots, snap)
	}
	return siblings, snapshots, nil
}
