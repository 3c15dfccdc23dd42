package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/zatekoja/telecare/internal/domain/entities"
	"github.com/zatekoja/telecare/internal/domain/providers"
	"github.com/zatekoja/telecare/internal/infrastructure/observability"
	"github.com/zatekoja/telecare/pkg/config"
)

const reminderTextTemplate = "Hello {{patient_name}}, your {{mode}} consultation starts at {{scheduled_time}}. " +
	"Join here: {{call_link}}"

// NotificationService delivers pre-call reminders and keeps a delivery log
type NotificationService struct {
	db           *sqlx.DB
	sender       providers.MessageSender
	templateName string
	templateLang string
	now          func() time.Time
}

// NewNotificationService creates a new notification service. db may be nil, in
// which case deliveries are not logged.
func NewNotificationService(db *sqlx.DB, sender providers.MessageSender, cfg config.WhatsAppConfig) (*NotificationService, error) {
	if sender == nil {
		return nil, fmt.Errorf("notification sender is required")
	}
	lang := cfg.TemplateLanguage
	if lang == "" {
		lang = "en_US"
	}
	return &NotificationService{
		db:           db,
		sender:       sender,
		templateName: cfg.ReminderTemplate,
		templateLang: lang,
		now:          time.Now,
	}, nil
}

var _ providers.ReminderNotifier = (*NotificationService)(nil)

// NotifyCallReminder sends the reminder to the patient's phone. A call without a
// phone number is recorded as skipped.
func (n *NotificationService) NotifyCallReminder(ctx context.Context, call *entities.ScheduledCall) error {
	logger := observability.LoggerFromContext(ctx).With().Str("call_id", call.ID).Logger()

	now := n.now()
	notification := &entities.CallNotification{
		ID:               uuid.New().String(),
		CallID:           call.ID,
		NotificationType: entities.NotificationCallReminder,
		Channel:          n.sender.Channel(),
		Recipient:        call.PatientPhone,
		Status:           entities.NotificationStatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if call.PatientPhone == "" {
		notification.Status = entities.NotificationStatusSkipped
		logger.Info().Msg("reminder skipped: no patient phone")
		return n.createNotification(ctx, notification)
	}

	if err := n.createNotification(ctx, notification); err != nil {
		return fmt.Errorf("failed to create notification record: %w", err)
	}

	var messageID string
	var sendErr error
	if n.templateName != "" && n.sender.Channel() == entities.ChannelWhatsApp {
		messageID, sendErr = n.sender.SendReminder(ctx, call.PatientPhone, n.reminderFor(call))
	} else {
		messageID, sendErr = n.sender.SendText(ctx, call.PatientPhone, renderReminder(reminderTextTemplate, call))
	}

	at := n.now()
	notification.UpdatedAt = at
	if sendErr != nil {
		errMsg := sendErr.Error()
		notification.Status = entities.NotificationStatusFailed
		notification.FailedAt = &at
		notification.ErrorMessage = &errMsg
	} else {
		notification.Status = entities.NotificationStatusSent
		notification.MessageID = &messageID
		notification.SentAt = &at
	}

	if err := n.updateNotification(ctx, notification); err != nil {
		logger.Warn().Err(err).Msg("failed to update notification record")
	}
	if sendErr != nil {
		return fmt.Errorf("failed to send reminder: %w", sendErr)
	}
	logger.Info().Str("message_id", messageID).Str("channel", string(notification.Channel)).Msg("reminder sent")
	return nil
}

// ListForCall returns the delivery log of one call, oldest first
func (n *NotificationService) ListForCall(ctx context.Context, callID string) ([]entities.CallNotification, error) {
	if n.db == nil {
		return nil, nil
	}
	var out []entities.CallNotification
	query := `SELECT id, call_id, notification_type, channel, recipient, status, message_id,
		sent_at, failed_at, error_message, created_at, updated_at
		FROM call_notifications WHERE call_id = $1 ORDER BY created_at ASC`
	if err := n.db.SelectContext(ctx, &out, query, callID); err != nil {
		return nil, err
	}
	return out, nil
}

func formatScheduledTime(call *entities.ScheduledCall) string {
	if call.ScheduledTime == nil {
		return "now"
	}
	return call.ScheduledTime.Format("Monday, January 2, 3:04 PM MST")
}

func (n *NotificationService) reminderFor(call *entities.ScheduledCall) entities.CallReminder {
	sessionID := call.ID
	if id, err := entities.ParseCallLink(call.CallLink); err == nil {
		sessionID = id
	}
	return entities.CallReminder{
		Template:    n.templateName,
		Language:    n.templateLang,
		PatientName: call.PatientName,
		Mode:        callMode(call),
		When:        formatScheduledTime(call),
		SessionID:   sessionID,
	}
}

func callMode(call *entities.ScheduledCall) entities.CallMode {
	if call.Mode == "" {
		return entities.CallModeVideo
	}
	return call.Mode
}

func renderReminder(template string, call *entities.ScheduledCall) string {
	return strings.NewReplacer(
		"{{patient_name}}", call.PatientName,
		"{{mode}}", string(callMode(call)),
		"{{scheduled_time}}", formatScheduledTime(call),
		"{{call_link}}", call.CallLink,
		"{{issue}}", call.Issue,
	).Replace(template)
}

func (n *NotificationService) createNotification(ctx context.Context, notification *entities.CallNotification) error {
	if n.db == nil {
		return nil
	}
	query := `
		INSERT INTO call_notifications
		(id, call_id, notification_type, channel, recipient, status, message_id,
		 sent_at, failed_at, error_message, created_at, updated_at)
		VALUES (:id, :call_id, :notification_type, :channel, :recipient, :status, :message_id,
		 :sent_at, :failed_at, :error_message, :created_at, :updated_at)
	`
	_, err := n.db.NamedExecContext(ctx, query, notification)
	return err
}

func (n *NotificationService) updateNotification(ctx context.Context, notification *entities.CallNotification) error {
	if n.db == nil {
		return nil
	}
	query := `
		UPDATE call_notifications
		SET status = :status, message_id = :message_id, sent_at = :sent_at,
		    failed_at = :failed_at, error_message = :error_message, updated_at = :updated_at
		WHERE id = :id
	`
	_, err := n.db.NamedExecContext(ctx, query, notification)
	return err
}
