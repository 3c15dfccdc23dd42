package entities

import (
	"time"

	"github.com/google/uuid"
)

// CallEventType represents the type of scheduled call event
type CallEventType string

const (
	CallEventCreated       CallEventType = "call_created"
	CallEventStatusChanged CallEventType = "call_status_changed"
	CallEventCancelled     CallEventType = "call_cancelled"
	CallEventReminder      CallEventType = "call_reminder"
)

// CallEvent is published whenever a patient's pending call set may have changed
type CallEvent struct {
	ID        string              `json:"id"`
	EventType CallEventType       `json:"event_type"`
	CallID    string              `json:"call_id"`
	PatientID string              `json:"patient_id"`
	DoctorID  string              `json:"doctor_id"`
	Status    ScheduledCallStatus `json:"status"`
	Timestamp time.Time           `json:"timestamp"`
}

// NewCallEvent creates an event describing the current state of call
func NewCallEvent(eventType CallEventType, call *ScheduledCall, at time.Time) *CallEvent {
	return &CallEvent{
		ID:        uuid.NewString(),
		EventType: eventType,
		CallID:    call.ID,
		PatientID: call.PatientID,
		DoctorID:  call.DoctorID,
		Status:    call.Status,
		Timestamp: at,
	}
}
