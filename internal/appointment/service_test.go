package appointment_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-queue/internal/appointment"
)

var testDay = time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)

func TestBookScenarioTokensAndWait(t *testing.T) {
	svc, repo, hooks := newTestService(t)
	ctx := context.Background()
	doctor := repo.AddDoctor("Dr D", "9876500001")

	want := []struct {
		token, ahead, wait int
	}{
		{1, 0, 0},
		{2, 1, 15},
		{3, 2, 30},
	}

	var booked []*appointment.Appointment
	for i, w := range want {
		p := repo.AddPatient("P", "987650010"+string(rune('1'+i)))
		appt, snap, err := svc.Book(ctx, appointment.BookingRequest{
			DoctorID: doctor.ID, PatientID: p.ID, Date: testDay, Time: "10:00",
		})
		require.NoError(t, err)
		assert.Equal(t, w.token, appt.Token)
		assert.Equal(t, appointment.StatusScheduled, appt.Status)
		assert.Equal(t, w.ahead, snap.PatientsAhead)
		assert.Equal(t, w.wait, snap.EstimatedWaitMinutes)
		assert.Equal(t, "2026-10-19", appt.Day())
		booked = append(booked, appt)
	}

	calls := hooks.Calls()
	require.Len(t, calls, 3)
	for i, c := range calls {
		assert.Equal(t, "created", c.kind)
		assert.Equal(t, booked[i].ID, c.appt.ID)
	}

	events := repo.Events()
	require.Len(t, events, 3)
	assert.Equal(t, appointment.EventAppointmentCreated, events[0].EventType)
}

func TestBookValidation(t *testing.T) {
	svc, repo, hooks := newTestService(t)
	ctx := context.Background()
	doctor := repo.AddDoctor("Dr D", "9876500001")
	patient := repo.AddPatient("P", "9876500002")

	_, _, err := svc.Book(ctx, appointment.BookingRequest{DoctorID: doctor.ID, PatientID: uuid.New(), Date: testDay, Time: "10:00"})
	assert.ErrorIs(t, err, appointment.ErrPatientNotFound)

	_, _, err = svc.Book(ctx, appointment.BookingRequest{DoctorID: uuid.New(), PatientID: patient.ID, Date: testDay, Time: "10:00"})
	assert.ErrorIs(t, err, appointment.ErrDoctorNotFound)

	_, _, err = svc.Book(ctx, appointment.BookingRequest{DoctorID: doctor.ID, PatientID: patient.ID, Date: testDay, Time: "25:00"})
	assert.ErrorIs(t, err, appointment.ErrInvalidTime)

	assert.Empty(t, hooks.Calls())
	assert.Empty(t, repo.All())
}

func TestChangeStatusTransitions(t *testing.T) {
	tests := []struct {
		name    string
		path    []appointment.Status
		wantErr error
	}{
		{name: "complete", path: []appointment.Status{appointment.StatusCompleted}},
		{name: "cancel", path: []appointment.Status{appointment.StatusCancelled}},
		{name: "reschedule then complete", path: []appointment.Status{appointment.StatusRescheduled, appointment.StatusCompleted}},
		{name: "reschedule twice", path: []appointment.Status{appointment.StatusRescheduled, appointment.StatusRescheduled}},
		{name: "no exit from completed", path: []appointment.Status{appointment.StatusCompleted, appointment.StatusCancelled}, wantErr: appointment.ErrInvalidStatusTransition},
		{name: "no exit from cancelled", path: []appointment.Status{appointment.StatusCancelled, appointment.StatusScheduled}, wantErr: appointment.ErrInvalidStatusTransition},
		{name: "back to scheduled", path: []appointment.Status{appointment.StatusScheduled}, wantErr: appointment.ErrInvalidStatusTransition},
		{name: "unknown status", path: []appointment.Status{"archived"}, wantErr: appointment.ErrInvalidStatus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, repo, _ := newTestService(t)
			ctx := context.Background()
			doctor := repo.AddDoctor("Dr D", "9876500001")
			patient := repo.AddPatient("P", "9876500002")
			appt, _, err := svc.Book(ctx, appointment.BookingRequest{DoctorID: doctor.ID, PatientID: patient.ID, Date: testDay, Time: "10:00"})
			require.NoError(t, err)

			var lastErr error
			for _, to := range tt.path {
				_, lastErr = svc.ChangeStatus(ctx, appt.ID, to, nil)
			}
			if tt.wantErr != nil {
				assert.ErrorIs(t, lastErr, tt.wantErr)
				return
			}
			require.NoError(t, lastErr)
			got, err := svc.Get(ctx, appt.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.path[len(tt.path)-1], got.Status)
		})
	}
}

func TestChangeStatusReportsPreviousToHooks(t *testing.T) {
	svc, repo, hooks := newTestService(t)
	ctx := context.Background()
	doctor := repo.AddDoctor("Dr D", "9876500001")
	patient := repo.AddPatient("P", "9876500002")
	appt, _, err := svc.Book(ctx, appointment.BookingRequest{DoctorID: doctor.ID, PatientID: patient.ID, Date: testDay, Time: "10:00"})
	require.NoError(t, err)

	newTime := "11:15"
	updated, err := svc.ChangeStatus(ctx, appt.ID, appointment.StatusRescheduled, &newTime)
	require.NoError(t, err)
	assert.Equal(t, "11:15", updated.Time)
	assert.Equal(t, appt.Token, updated.Token)

	_, err = svc.ChangeStatus(ctx, appt.ID, appointment.StatusCompleted, &newTime)
	require.NoError(t, err)

	calls := hooks.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, appointment.StatusScheduled, calls[1].previous)
	assert.Equal(t, appointment.StatusRescheduled, calls[2].previous)
	assert.Equal(t, appointment.StatusCompleted, calls[2].appt.Status)
	assert.Equal(t, "11:15", calls[2].appt.Time, "time only changes on reschedule")
}

func TestCancelNeverRenumbers(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	doctor := repo.AddDoctor("Dr D", "9876500001")

	var ids []uuid.UUID
	for i := 0; i < 4; i++ {
		p := repo.AddPatient("P", "9876500002")
		appt, _, err := svc.Book(ctx, appointment.BookingRequest{DoctorID: doctor.ID, PatientID: p.ID, Date: testDay, Time: "10:00"})
		require.NoError(t, err)
		ids = append(ids, appt.ID)
	}

	_, err := svc.ChangeStatus(ctx, ids[1], appointment.StatusCancelled, nil)
	require.NoError(t, err)

	for i, id := range ids {
		got, err := svc.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, i+1, got.Token)
	}

	_, snap, err := svc.Queue(ctx, ids[3])
	require.NoError(t, err)
	assert.Equal(t, 2, snap.PatientsAhead)

	// a later booking never reuses the vacated number
	p := repo.AddPatient("Late", "9876500009")
	late, _, err := svc.Book(ctx, appointment.BookingRequest{DoctorID: doctor.ID, PatientID: p.ID, Date: testDay, Time: "12:00"})
	require.NoError(t, err)
	assert.Equal(t, 5, late.Token)
}

func TestQueueForTerminalAppointment(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	doctor := repo.AddDoctor("Dr D", "9876500001")
	patient := repo.AddPatient("P", "9876500002")

	first, _, err := svc.Book(ctx, appointment.BookingRequest{DoctorID: doctor.ID, PatientID: patient.ID, Date: testDay, Time: "10:00"})
	require.NoError(t, err)
	second, _, err := svc.Book(ctx, appointment.BookingRequest{DoctorID: doctor.ID, PatientID: patient.ID, Date: testDay, Time: "10:15"})
	require.NoError(t, err)
	_, err = svc.ChangeStatus(ctx, second.ID, appointment.StatusCancelled, nil)
	require.NoError(t, err)

	_, snap, err := svc.Queue(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.PatientsAhead)
	assert.Equal(t, 2, snap.Token)

	_, snap, err = svc.Queue(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.PatientsAhead)
}

func TestDoctorDayListsActiveQueue(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	doctor := repo.AddDoctor("Dr D", "9876500001")
	patient := repo.AddPatient("P", "9876500002")

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		appt, _, err := svc.Book(ctx, appointment.BookingRequest{DoctorID: doctor.ID, PatientID: patient.ID, Date: testDay, Time: "10:00"})
		require.NoError(t, err)
		ids = append(ids, appt.ID)
	}
	_, err := svc.ChangeStatus(ctx, ids[0], appointment.StatusCompleted, nil)
	require.NoError(t, err)

	appts, snaps, err := svc.DoctorDay(ctx, doctor.ID, testDay)
	require.NoError(t, err)
	require.Len(t, appts, 2)
	assert.Equal(t, 2, appts[0].Token)
	assert.Equal(t, 0, snaps[0].PatientsAhead)
	assert.Equal(t, 1, snaps[1].PatientsAhead)

	_, _, err = svc.DoctorDay(ctx, uuid.New(), testDay)
	assert.ErrorIs(t, err, appointment.ErrDoctorNotFound)
}

func TestCanTransitionTable(t *testing.T) {
	all := []appointment.Status{
		appointment.StatusScheduled, appointment.StatusRescheduled,
		appointment.StatusCompleted, appointment.StatusCancelled,
	}
	for _, from := range all {
		for _, to := range all {
			want := from.Active() && to != appointment.StatusScheduled
			assert.Equal(t, want, appointment.CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}
