package entities

import (
	"time"
)

// AppointmentStatus represents the status of an appointment
type AppointmentStatus string

const (
	AppointmentStatusPending   AppointmentStatus = "pending"
	AppointmentStatusConfirmed AppointmentStatus = "confirmed"
	AppointmentStatusCancelled AppointmentStatus = "cancelled"
	AppointmentStatusCompleted AppointmentStatus = "completed"
)

// Appointment is the consultation booking owned by the appointment subsystem.
// The call core only reads participants/mode from it and writes back completion.
type Appointment struct {
	ID           string            `json:"id" db:"id"`
	DoctorID     string            `json:"doctor_id" db:"doctor_id"`
	PatientID    string            `json:"patient_id" db:"patient_id"`
	Mode         CallMode          `json:"mode" db:"mode"`
	ScheduledAt  time.Time         `json:"scheduled_at" db:"scheduled_at"`
	Status       AppointmentStatus `json:"status" db:"status"`
	PatientName  string            `json:"patient_name" db:"patient_name"`
	PatientPhone string            `json:"patient_phone" db:"patient_phone"`
	Reason       string            `json:"reason" db:"reason"`
	CreatedAt    time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at" db:"updated_at"`
}

// UserRole is the identity-provider role of the current user
type UserRole string

const (
	UserRoleDoctor  UserRole = "doctor"
	UserRolePatient UserRole = "patient"
)

// Identity is the authenticated user, supplied by the external identity subsystem
type Identity struct {
	UserID string   `json:"user_id"`
	Role   UserRole `json:"role"`
}

// Valid reports whether r is a known user role
func (r UserRole) Valid() bool {
	return r == UserRoleDoctor || r == UserRolePatient
}
