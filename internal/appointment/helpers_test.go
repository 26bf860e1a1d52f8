package appointment_test

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-queue/internal/appointment"
	"github.com/hackgods/clinic-queue/internal/appointment/apptest"
)

func mustUUID(t *testing.T, raw string) uuid.UUID {
	t.Helper()
	id, err := uuid.Parse(raw)
	require.NoError(t, err)
	return id
}

type hookCall struct {
	kind     string
	appt     appointment.Appointment
	previous appointment.Status
}

type recordingHooks struct {
	mu    sync.Mutex
	calls []hookCall
}

func (h *recordingHooks) OnCreated(_ context.Context, appt appointment.Appointment) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, hookCall{kind: "created", appt: appt})
}

func (h *recordingHooks) OnStatusChanged(_ context.Context, appt appointment.Appointment, previous appointment.Status) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, hookCall{kind: "status", appt: appt, previous: previous})
}

func (h *recordingHooks) Calls() []hookCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]hookCall, len(h.calls))
	copy(out, h.calls)
	return out
}

func newTestService(t *testing.T) (*appointment.Service, *apptest.MemoryRepository, *recordingHooks) {
	t.Helper()
	repo := apptest.NewMemoryRepository()
	svc := appointment.NewService(repo, nil, appointment.NewQueueEvaluator(repo, 15), zerolog.Nop())
	hooks := &recordingHooks{}
	svc.SetHooks(hooks)
	return svc, repo, hooks
}
