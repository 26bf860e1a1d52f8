// Package apptest provides an in-memory appointment repository for tests of
// the booking service and of the packages built on top of it.
package apptest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-queue/internal/appointment"
)

type MemoryRepository struct {
	mu       sync.Mutex
	patients map[uuid.UUID]appointment.Patient
	doctors  map[uuid.UUID]appointment.Doctor
	appts    map[uuid.UUID]appointment.Appointment
	events   []appointment.EventLog

	scopeMu sync.Mutex
	scopes  map[string]*sync.Mutex

	// ScopeEntered, when set, runs inside every token scope before fn.
	ScopeEntered func(key string)
}

var _ appointment.Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		patients: make(map[uuid.UUID]appointment.Patient),
		doctors:  make(map[uuid.UUID]appointment.Doctor),
		appts:    make(map[uuid.UUID]appointment.Appointment),
		scopes:   make(map[string]*sync.Mutex),
	}
}

func (r *MemoryRepository) AddPatient(name, phone string) appointment.Patient {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := appointment.Patient{ID: uuid.New(), Name: name, Phone: phone, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	r.patients[p.ID] = p
	return p
}

func (r *MemoryRepository) AddDoctor(name, phone string) appointment.Doctor {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := appointment.Doctor{ID: uuid.New(), Name: name, Phone: phone, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	r.doctors[d.ID] = d
	return d
}

// All returns every stored appointment ordered by doctor, day and token.
func (r *MemoryRepository) All() []appointment.Appointment {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]appointment.Appointment, 0, len(r.appts))
	for _, a := range r.appts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DoctorID != out[j].DoctorID {
			return out[i].DoctorID.String() < out[j].DoctorID.String()
		}
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].Token < out[j].Token
	})
	return out
}

func (r *MemoryRepository) Events() []appointment.EventLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]appointment.EventLog, len(r.events))
	copy(out, r.events)
	return out
}

func (r *MemoryRepository) GetPatientByID(_ context.Context, id uuid.UUID) (*appointment.Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, appointment.ErrPatientNotFound
	}
	return &p, nil
}

func (r *MemoryRepository) GetDoctorByID(_ context.Context, id uuid.UUID) (*appointment.Doctor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.doctors[id]
	if !ok {
		return nil, appointment.ErrDoctorNotFound
	}
	return &d, nil
}

func (r *MemoryRepository) GetAppointmentByID(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appts[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *MemoryRepository) WithinTokenScope(ctx context.Context, doctorID uuid.UUID, day time.Time, fn func(ctx context.Context, tx appointment.Repository) error) error {
	key := appointment.TokenScopeKey(doctorID, day)

	r.scopeMu.Lock()
	m, ok := r.scopes[key]
	if !ok {
		m = &sync.Mutex{}
		r.scopes[key] = m
	}
	r.scopeMu.Unlock()

	m.Lock()
	defer m.Unlock()

	if r.ScopeEntered != nil {
		r.ScopeEntered(key)
	}
	return fn(ctx, r)
}

func (r *MemoryRepository) CountTokens(_ context.Context, doctorID uuid.UUID, day time.Time) (appointment.TokenCounts, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var c appointment.TokenCounts
	for _, a := range r.appts {
		if a.DoctorID != doctorID || !a.Date.Equal(day) {
			continue
		}
		if a.Status.Active() {
			c.Active++
		}
		if a.Token > c.Highest {
			c.Highest = a.Token
		}
	}
	return c, nil
}

func (r *MemoryRepository) InsertAppointment(_ context.Context, a appointment.Appointment) (*appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.appts {
		if existing.DoctorID == a.DoctorID && existing.Date.Equal(a.Date) && existing.Token == a.Token {
			return nil, appointment.ErrDuplicateToken
		}
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := time.Now()
	a.CreatedAt = now
	a.UpdatedAt = now
	r.appts[a.ID] = a
	return &a, nil
}

func (r *MemoryRepository) CountActiveBefore(_ context.Context, doctorID uuid.UUID, day time.Time, token int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.appts {
		if a.DoctorID == doctorID && a.Date.Equal(day) && a.Token < token && a.Status.Active() {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) ListActiveAfter(_ context.Context, doctorID uuid.UUID, day time.Time, token int) ([]appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []appointment.Appointment
	for _, a := range r.appts {
		if a.DoctorID == doctorID && a.Date.Equal(day) && a.Token > token && a.Status.Active() {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out, nil
}

func (r *MemoryRepository) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to appointment.Status, newTime *string) (*appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appts[id]
	if !ok || a.Status != from {
		return nil, appointment.ErrAppointmentNotFound
	}
	a.Status = to
	if newTime != nil {
		a.Time = *newTime
	}
	a.UpdatedAt = time.Now()
	r.appts[id] = a
	return &a, nil
}

func (r *MemoryRepository) InsertEvent(_ context.Context, ev appointment.EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}
