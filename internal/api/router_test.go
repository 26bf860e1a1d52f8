package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-queue/internal/appointment"
	"github.com/hackgods/clinic-queue/internal/appointment/apptest"
	"github.com/hackgods/clinic-queue/internal/messaging"
	"github.com/hackgods/clinic-queue/internal/notify"
)

type fakeSession struct {
	mu          sync.Mutex
	status      messaging.Status
	challenge   *messaging.Challenge
	connects    int
	disconnects int
	connectErr  error
}

func (s *fakeSession) Status() messaging.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *fakeSession) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects++
	return s.connectErr
}

func (s *fakeSession) Challenge() (messaging.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.challenge == nil {
		return messaging.Challenge{}, messaging.ErrNoChallenge
	}
	return *s.challenge, nil
}

func (s *fakeSession) Disconnect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnects++
	s.status.State = messaging.StateUnpaired
	return nil
}

type fixedStats notify.Stats

func (f fixedStats) Stats() notify.Stats { return notify.Stats(f) }

type testServer struct {
	handler http.Handler
	repo    *apptest.MemoryRepository
	session *fakeSession
	doctor  appointment.Doctor
	patient appointment.Patient
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	repo := apptest.NewMemoryRepository()
	svc := appointment.NewService(repo, nil, appointment.NewQueueEvaluator(repo, 15), zerolog.Nop())
	session := &fakeSession{status: messaging.Status{State: messaging.StateConnected}}

	ts := &testServer{
		repo:    repo,
		session: session,
		doctor:  repo.AddDoctor("Rao", "9876599999"),
		patient: repo.AddPatient("Meera", "9876501234"),
	}
	ts.handler = NewRouter(RouterConfig{
		Service:    svc,
		Session:    session,
		Dispatcher: fixedStats{Enqueued: 4, Delivered: 3, Failed: 1},
		Postgres:   func(context.Context) error { return nil },
		Redis:      func(context.Context) error { return nil },
		Logger:     zerolog.Nop(),
		Env:        "test",
		Version:    "v0.0.0-test",
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) book(t *testing.T, patientID uuid.UUID) BookingResponse {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/appointments", CreateAppointmentRequest{
		DoctorID:  ts.doctor.ID.String(),
		PatientID: patientID.String(),
		Date:      "2026-03-02",
		Time:      "10:00",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp BookingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	return e
}

func TestCreateAppointmentReturnsTokenAndWait(t *testing.T) {
	ts := newTestServer(t)

	first := ts.book(t, ts.patient.ID)
	assert.Equal(t, 1, first.Token)
	assert.Equal(t, 0, first.PatientsAhead)
	assert.Equal(t, "scheduled", first.Status)
	assert.Equal(t, "2026-03-02", first.Date)

	other := ts.repo.AddPatient("Arun", "9876501235")
	second := ts.book(t, other.ID)
	assert.Equal(t, 2, second.Token)
	assert.Equal(t, 1, second.PatientsAhead)
	assert.Equal(t, 15, second.EstimatedWaitMinutes)
}

func TestCreateAppointmentValidation(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"bad json", "not an object", http.StatusBadRequest, "invalid_request_body"},
		{"bad doctor", CreateAppointmentRequest{DoctorID: "x", PatientID: ts.patient.ID.String(), Date: "2026-03-02", Time: "10:00"}, http.StatusBadRequest, "invalid_doctor_id"},
		{"bad patient", CreateAppointmentRequest{DoctorID: ts.doctor.ID.String(), PatientID: "x", Date: "2026-03-02", Time: "10:00"}, http.StatusBadRequest, "invalid_patient_id"},
		{"bad date", CreateAppointmentRequest{DoctorID: ts.doctor.ID.String(), PatientID: ts.patient.ID.String(), Date: "02/03/2026", Time: "10:00"}, http.StatusBadRequest, "invalid_date"},
		{"bad time", CreateAppointmentRequest{DoctorID: ts.doctor.ID.String(), PatientID: ts.patient.ID.String(), Date: "2026-03-02", Time: "25:00"}, http.StatusBadRequest, "invalid_time"},
		{"unknown doctor", CreateAppointmentRequest{DoctorID: uuid.NewString(), PatientID: ts.patient.ID.String(), Date: "2026-03-02", Time: "10:00"}, http.StatusNotFound, "doctor_not_found"},
		{"unknown patient", CreateAppointmentRequest{DoctorID: ts.doctor.ID.String(), PatientID: uuid.NewString(), Date: "2026-03-02", Time: "10:00"}, http.StatusNotFound, "patient_not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/appointments", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec).Error)
		})
	}
}

func TestAppointmentLookupAndQueue(t *testing.T) {
	ts := newTestServer(t)
	first := ts.book(t, ts.patient.ID)
	second := ts.book(t, ts.repo.AddPatient("Arun", "9876501235").ID)

	rec := ts.do(t, http.MethodGet, "/appointments/"+second.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 2, got.Token)

	rec = ts.do(t, http.MethodGet, "/appointments/"+second.ID.String()+"/queue", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var q QueueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &q))
	assert.Equal(t, 1, q.PatientsAhead)
	assert.Equal(t, 15, q.EstimatedWaitMinutes)

	rec = ts.do(t, http.MethodPatch, "/appointments/"+first.ID.String()+"/status", ChangeStatusRequest{Status: "completed"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/appointments/"+second.ID.String()+"/queue", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &q))
	assert.Equal(t, 0, q.PatientsAhead)
	assert.Equal(t, 2, q.Token, "tokens are never renumbered")

	rec = ts.do(t, http.MethodGet, "/appointments/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/appointments/not-a-uuid/queue", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChangeStatusErrors(t *testing.T) {
	ts := newTestServer(t)
	appt := ts.book(t, ts.patient.ID)
	path := "/appointments/" + appt.ID.String() + "/status"

	rec := ts.do(t, http.MethodPatch, path, ChangeStatusRequest{Status: "bogus"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_status", decodeError(t, rec).Error)

	newTime := "11:45"
	rec = ts.do(t, http.MethodPatch, path, ChangeStatusRequest{Status: "rescheduled", Time: &newTime})
	require.Equal(t, http.StatusOK, rec.Code)
	var got AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "11:45", got.Time)
	assert.Equal(t, "rescheduled", got.Status)

	rec = ts.do(t, http.MethodPatch, path, ChangeStatusRequest{Status: "cancelled"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPatch, path, ChangeStatusRequest{Status: "completed"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_status_transition", decodeError(t, rec).Error)
}

func TestDoctorQueue(t *testing.T) {
	ts := newTestServer(t)
	first := ts.book(t, ts.patient.ID)
	ts.book(t, ts.repo.AddPatient("Arun", "9876501235").ID)
	ts.book(t, ts.repo.AddPatient("Divya", "9876501236").ID)

	rec := ts.do(t, http.MethodPatch, "/appointments/"+first.ID.String()+"/status", ChangeStatusRequest{Status: "cancelled"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/doctors/"+ts.doctor.ID.String()+"/queue?date=2026-03-02", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp DoctorQueueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "2026-03-02", resp.Date)
	require.Len(t, resp.Entries, 2)
	assert.Equal(t, 2, resp.Entries[0].Token)
	assert.Equal(t, 0, resp.Entries[0].PatientsAhead)
	assert.Equal(t, 3, resp.Entries[1].Token)
	assert.Equal(t, 1, resp.Entries[1].PatientsAhead)

	rec = ts.do(t, http.MethodGet, "/doctors/"+uuid.NewString()+"/queue?date=2026-03-02", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/doctors/"+ts.doctor.ID.String()+"/queue?date=tomorrow", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMessagingStatusIncludesDispatcherStats(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/messaging/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp MessagingStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, messaging.StateConnected, resp.State)
	require.NotNil(t, resp.Notifications)
	assert.EqualValues(t, 3, resp.Notifications.Delivered)
	assert.EqualValues(t, 1, resp.Notifications.Failed)
}

func TestMessagingConnectAndLogout(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/messaging/connect", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, ts.session.connects)

	ts.session.connectErr = messaging.ErrManagerClosed
	rec = ts.do(t, http.MethodPost, "/messaging/connect", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	ts.session.connectErr = messaging.ErrNotConfigured
	rec = ts.do(t, http.MethodPost, "/messaging/connect", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "messaging_not_configured")

	rec = ts.do(t, http.MethodPost, "/messaging/logout", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, ts.session.disconnects)
	var resp MessagingStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, messaging.StateUnpaired, resp.State)
}

func TestPairingArtifact(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/messaging/pairing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "no_pairing_challenge", decodeError(t, rec).Error)

	ts.session.challenge = &messaging.Challenge{Code: "2@pairing-ref", IssuedAt: time.Now()}

	rec = ts.do(t, http.MethodGet, "/messaging/pairing", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))

	rec = ts.do(t, http.MethodGet, "/messaging/pairing?format=text", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var text PairingTextResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &text))
	assert.Equal(t, "2@pairing-ref", text.Code)
	assert.NotEmpty(t, strings.TrimSpace(text.QR))
}

func TestReadiness(t *testing.T) {
	tests := []struct {
		name     string
		postgres error
		redis    error
		state    messaging.State
		want     string
		code     int
	}{
		{"all up", nil, nil, messaging.StateConnected, "ok", http.StatusOK},
		{"messaging down is degraded", nil, nil, messaging.StateUnpaired, "degraded", http.StatusOK},
		{"redis down is degraded", nil, errors.New("refused"), messaging.StateConnected, "degraded", http.StatusOK},
		{"postgres down is an error", errors.New("refused"), nil, messaging.StateConnected, "error", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(
				func(context.Context) error { return tt.postgres },
				func(context.Context) error { return tt.redis },
				&fakeSession{status: messaging.Status{State: tt.state}},
				"test", "v1",
			)
			rec := httptest.NewRecorder()
			h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			assert.Equal(t, tt.code, rec.Code)
			var resp ReadinessResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.want, resp.Status)
			assert.Equal(t, string(tt.state), resp.Dependencies["messaging"])
		})
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))

	rec = ts.do(t, http.MethodGet, "/health/live", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
