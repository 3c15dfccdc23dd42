package providers

import (
	"context"

	"github.com/zatekoja/telecare/internal/domain/entities"
)

// EventBus defines the interface for publishing and subscribing to call events
type EventBus interface {
	// Publish publishes an event to all subscribers
	Publish(ctx context.Context, channel string, event *entities.CallEvent) error

	// Subscribe subscribes to events on a channel until ctx is done
	Subscribe(ctx context.Context, channel string) (<-chan *entities.CallEvent, error)

	// Unsubscribe drops every subscriber of a channel
	Unsubscribe(ctx context.Context, channel string) error

	// Close closes the event bus and all subscriptions
	Close() error
}

const (
	// EventChannelCallUpdates carries every scheduled call event
	EventChannelCallUpdates = "calls:updates"

	EventChannelPatientCallsPrefix = "calls:patient:"
	EventChannelDoctorCallsPrefix  = "calls:doctor:"
)

// GetPatientCallsChannel returns the channel for one patient's scheduled calls
func GetPatientCallsChannel(patientID string) string {
	return EventChannelPatientCallsPrefix + patientID
}

// GetDoctorCallsChannel returns the channel for one doctor's scheduled calls
func GetDoctorCallsChannel(doctorID string) string {
	return EventChannelDoctorCallsPrefix + doctorID
}
