package lifecycle

import (
	"fmt"

	"github.com/hackgods/clinic-queue/internal/appointment"
)

func confirmationText(patient appointment.Patient, doctor appointment.Doctor, appt appointment.Appointment, snap appointment.QueueSnapshot) string {
	return fmt.Sprintf(
		"Hi %s, your appointment with Dr. %s on %s at %s is confirmed. Your token number is %d. Patients ahead of you: %d, estimated wait: %d min.",
		patient.Name, doctor.Name, appt.Day(), appt.Time, appt.Token, snap.PatientsAhead, snap.EstimatedWaitMinutes,
	)
}

func providerAlertText(patient appointment.Patient, appt appointment.Appointment) string {
	return fmt.Sprintf("New booking: %s has token %d on %s at %s.", patient.Name, appt.Token, appt.Day(), appt.Time)
}

func turnAlertText(patient appointment.Patient, doctor appointment.Doctor, appt appointment.Appointment) string {
	return fmt.Sprintf("Hi %s, it's your turn now. Token %d, please proceed to Dr. %s.", patient.Name, appt.Token, doctor.Name)
}

func queueUpdateText(patient appointment.Patient, snap appointment.QueueSnapshot) string {
	return fmt.Sprintf(
		"Hi %s, queue update for token %d: %d patient(s) ahead of you, estimated wait %d min.",
		patient.Name, snap.Token, snap.PatientsAhead, snap.EstimatedWaitMinutes,
	)
}
