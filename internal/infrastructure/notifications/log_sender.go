package notifications

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/zatekoja/telecare/internal/domain/entities"
	"github.com/zatekoja/telecare/internal/domain/providers"
	"github.com/zatekoja/telecare/internal/infrastructure/observability"
)

// LogSender writes messages to the service log instead of delivering them.
// It stands in when no WhatsApp credentials are configured.
type LogSender struct{}

// NewLogSender creates a log-only sender
func NewLogSender() *LogSender {
	return &LogSender{}
}

var _ providers.MessageSender = (*LogSender)(nil)

// Channel identifies the delivery channel
func (s *LogSender) Channel() entities.NotificationChannel {
	return entities.ChannelLog
}

// SendReminder logs the template and the values it would be filled with
func (s *LogSender) SendReminder(ctx context.Context, to string, reminder entities.CallReminder) (string, error) {
	id := uuid.NewString()
	observability.LoggerFromContext(ctx).Info().
		Str("message_id", id).
		Str("to", maskPhone(to)).
		Str("template", reminder.Template).
		Str("language", reminder.Language).
		Str("mode", string(reminder.Mode)).
		Str("when", reminder.When).
		Str("session_id", reminder.SessionID).
		Msg("notification (log channel)")
	return id, nil
}

// SendText logs the message body
func (s *LogSender) SendText(ctx context.Context, to, body string) (string, error) {
	id := uuid.NewString()
	observability.LoggerFromContext(ctx).Info().
		Str("message_id", id).
		Str("to", maskPhone(to)).
		Str("body", body).
		Msg("notification (log channel)")
	return id, nil
}

func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return phone
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}
