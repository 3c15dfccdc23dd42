package providers

import (
	"context"

	"github.com/zatekoja/telecare/internal/domain/entities"
)

// MessageSender delivers a message to a phone number and returns the provider message id
type MessageSender interface {
	SendReminder(ctx context.Context, to string, reminder entities.CallReminder) (string, error)
	SendText(ctx context.Context, to, body string) (string, error)
	Channel() entities.NotificationChannel
}

// ReminderNotifier emits the pre-call reminder for a scheduled call
type ReminderNotifier interface {
	NotifyCallReminder(ctx context.Context, call *entities.ScheduledCall) error
}
