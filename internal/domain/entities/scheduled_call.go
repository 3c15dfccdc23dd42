package entities

import (
	"time"
)

// ScheduledCallStatus is the scheduler-local lifecycle of a call booking
type ScheduledCallStatus string

const (
	ScheduledCallStatusPending   ScheduledCallStatus = "pending"
	ScheduledCallStatusActive    ScheduledCallStatus = "active"
	ScheduledCallStatusCompleted ScheduledCallStatus = "completed"
	ScheduledCallStatusCancelled ScheduledCallStatus = "cancelled"
)

// Valid reports whether s is a known status
func (s ScheduledCallStatus) Valid() bool {
	switch s {
	case ScheduledCallStatusPending, ScheduledCallStatusActive,
		ScheduledCallStatusCompleted, ScheduledCallStatusCancelled:
		return true
	}
	return false
}

// ScheduledCall is the admission scheduler's record of a call booking
type ScheduledCall struct {
	ID             string              `json:"id" db:"id"`
	PatientID      string              `json:"patient_id" db:"patient_id"`
	DoctorID       string              `json:"doctor_id" db:"doctor_id"`
	AppointmentID  string              `json:"appointment_id,omitempty" db:"appointment_id"`
	PatientName    string              `json:"patient_name" db:"patient_name"`
	PatientPhone   string              `json:"patient_phone" db:"patient_phone"`
	Issue          string              `json:"issue" db:"issue"`
	Mode           CallMode            `json:"mode" db:"mode"`
	IsImmediate    bool                `json:"is_immediate" db:"is_immediate"`
	ScheduledTime  *time.Time          `json:"scheduled_time,omitempty" db:"scheduled_time"`
	Status         ScheduledCallStatus `json:"status" db:"status"`
	CallLink       string              `json:"call_link" db:"call_link"`
	ReminderSentAt *time.Time          `json:"reminder_sent_at,omitempty" db:"reminder_sent_at"`
	CreatedAt      time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at" db:"updated_at"`
}

// ReminderAt returns the instant the pre-call reminder is due, and false for immediate calls
func (c *ScheduledCall) ReminderAt(lead time.Duration) (time.Time, bool) {
	if c.IsImmediate || c.ScheduledTime == nil {
		return time.Time{}, false
	}
	return c.ScheduledTime.Add(-lead), true
}

// CallDetails are the inputs to create a scheduled call
type CallDetails struct {
	PatientID     string     `json:"patient_id"`
	DoctorID      string     `json:"doctor_id"`
	AppointmentID string     `json:"appointment_id,omitempty"`
	PatientName   string     `json:"patient_name"`
	PatientPhone  string     `json:"patient_phone"`
	Issue         string     `json:"issue"`
	Mode          CallMode   `json:"mode,omitempty"`
	IsImmediate   bool       `json:"is_immediate"`
	ScheduledTime *time.Time `json:"scheduled_time,omitempty"`
}

// CompareUpcoming orders immediate calls first by creation time,
// then scheduled calls by scheduled time ascending.
func CompareUpcoming(a, b *ScheduledCall) int {
	aImmediate := a.IsImmediate || a.ScheduledTime == nil
	bImmediate := b.IsImmediate || b.ScheduledTime == nil
	switch {
	case aImmediate && !bImmediate:
		return -1
	case !aImmediate && bImmediate:
		return 1
	case !aImmediate && !bImmediate:
		if c := a.ScheduledTime.Compare(*b.ScheduledTime); c != 0 {
			return c
		}
	}
	return a.CreatedAt.Compare(b.CreatedAt)
}
