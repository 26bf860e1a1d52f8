package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-queue/internal/appointment"
	"github.com/hackgods/clinic-queue/internal/messaging"
	"github.com/hackgods/clinic-queue/internal/notify"
)

type CreateAppointmentRequest struct {
	DoctorID  string `json:"doctor_id"`
	PatientID string `json:"patient_id"`
	Date      string `json:"date"` // YYYY-MM-DD
	Time      string `json:"time"` // HH:MM
}

type ChangeStatusRequest struct {
	Status string  `json:"status"`
	Time   *string `json:"time,omitempty"` // only for rescheduled
}

type AppointmentResponse struct {
	ID        uuid.UUID `json:"id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	PatientID uuid.UUID `json:"patient_id"`
	Date      string    `json:"date"`
	Time      string    `json:"time"`
	Token     int       `json:"token"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type BookingResponse struct {
	AppointmentResponse
	PatientsAhead        int `json:"patients_ahead"`
	EstimatedWaitMinutes int `json:"estimated_wait_minutes"`
}

type QueueResponse struct {
	AppointmentID        uuid.UUID `json:"appointment_id"`
	Token                int       `json:"token"`
	Status               string    `json:"status"`
	PatientsAhead        int       `json:"patients_ahead"`
	EstimatedWaitMinutes int       `json:"estimated_wait_minutes"`
}

type DoctorQueueEntry struct {
	AppointmentID        uuid.UUID `json:"appointment_id"`
	PatientID            uuid.UUID `json:"patient_id"`
	Token                int       `json:"token"`
	Time                 string    `json:"time"`
	Status               string    `json:"status"`
	PatientsAhead        int       `json:"patients_ahead"`
	EstimatedWaitMinutes int       `json:"estimated_wait_minutes"`
}

type DoctorQueueResponse struct {
	DoctorID uuid.UUID          `json:"doctor_id"`
	Date     string             `json:"date"`
	Entries  []DoctorQueueEntry `json:"entries"`
}

type MessagingStatusResponse struct {
	messaging.Status
	Notifications *notify.Stats `json:"notifications,omitempty"`
}

type PairingTextResponse struct {
	Code     string    `json:"code"`
	IssuedAt time.Time `json:"issued_at"`
	QR       string    `json:"qr"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:        a.ID,
		DoctorID:  a.DoctorID,
		PatientID: a.PatientID,
		Date:      a.Day(),
		Time:      a.Time,
		Token:     a.Token,
		Status:    string(a.Status),
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}
