package entities

import "time"

// NotificationChannel represents the delivery channel
type NotificationChannel string

const (
	ChannelWhatsApp NotificationChannel = "whatsapp"
	ChannelLog      NotificationChannel = "log"
)

// NotificationType represents the notification purpose
type NotificationType string

const (
	NotificationCallReminder NotificationType = "call_reminder"
)

// NotificationStatus represents the delivery status
type NotificationStatus string

const (
	NotificationStatusPending NotificationStatus = "pending"
	NotificationStatusSent    NotificationStatus = "sent"
	NotificationStatusFailed  NotificationStatus = "failed"
	// NotificationStatusSkipped marks a reminder with no usable channel; not an error
	NotificationStatusSkipped NotificationStatus = "skipped"
)

// CallReminder fills an approved reminder template. SessionID is the
// variable part of the template's join button.
type CallReminder struct {
	Template    string
	Language    string
	PatientName string
	Mode        CallMode
	When        string
	SessionID   string
}

// CallNotification tracks one delivery attempt for a scheduled call
type CallNotification struct {
	ID               string              `json:"id" db:"id"`
	CallID           string              `json:"call_id" db:"call_id"`
	NotificationType NotificationType    `json:"notification_type" db:"notification_type"`
	Channel          NotificationChannel `json:"channel" db:"channel"`
	Recipient        string              `json:"recipient" db:"recipient"`
	Status           NotificationStatus  `json:"status" db:"status"`
	MessageID        *string             `json:"message_id,omitempty" db:"message_id"`
	SentAt           *time.Time          `json:"sent_at,omitempty" db:"sent_at"`
	FailedAt         *time.Time          `json:"failed_at,omitempty" db:"failed_at"`
	ErrorMessage     *string             `json:"error_message,omitempty" db:"error_message"`
	CreatedAt        time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at" db:"updated_at"`
}
