package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-queue/internal/appointment"
	redisclient "github.com/hackgods/clinic-queue/internal/redis"
)

func createAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}

		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}

		day, err := appointment.ParseDay(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		appt, snap, err := svc.Book(r.Context(), appointment.BookingRequest{
			DoctorID:  doctorID,
			PatientID: patientID,
			Date:      day,
			Time:      req.Time,
		})
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, BookingResponse{
			AppointmentResponse:  toAppointmentResponse(appt),
			PatientsAhead:        snap.PatientsAhead,
			EstimatedWaitMinutes: snap.EstimatedWaitMinutes,
		})
	}
}

func getAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		appt, err := svc.Get(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func appointmentQueueHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		appt, snap, err := svc.Queue(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, QueueResponse{
			AppointmentID:        appt.ID,
			Token:                appt.Token,
			Status:               string(appt.Status),
			PatientsAhead:        snap.PatientsAhead,
			EstimatedWaitMinutes: snap.EstimatedWaitMinutes,
		})
	}
}

func changeStatusHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		var req ChangeStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		appt, err := svc.ChangeStatus(r.Context(), id, appointment.Status(req.Status), req.Time)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func doctorQueueHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "id must be a valid UUID")
			return
		}

		day := appointment.NormalizeDay(time.Now().UTC())
		if raw := r.URL.Query().Get("date"); raw != "" {
			day, err = appointment.ParseDay(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
				return
			}
		}

		appts, snaps, err := svc.DoctorDay(r.Context(), doctorID, day)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		resp := DoctorQueueResponse{
			DoctorID: doctorID,
			Date:     day.Format(appointment.DateLayout),
			Entries:  make([]DoctorQueueEntry, 0, len(appts)),
		}
		for i, a := range appts {
			resp.Entries = append(resp.Entries, DoctorQueueEntry{
				AppointmentID:        a.ID,
				PatientID:            a.PatientID,
				Token:                a.Token,
				Time:                 a.Time,
				Status:               string(a.Status),
				PatientsAhead:        snaps[i].PatientsAhead,
				EstimatedWaitMinutes: snaps[i].EstimatedWaitMinutes,
			})
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func appointmentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, appointment.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, appointment.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrInvalidTime):
		writeError(w, http.StatusBadRequest, "invalid_time", err.Error())
	case errors.Is(err, appointment.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, "invalid_status", err.Error())
	case errors.Is(err, appointment.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, appointment.ErrTokenAllocationBusy),
		errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "token_allocation_busy", "another booking for this doctor and day is in progress, please retry shortly")
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("unhandled service error")
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
