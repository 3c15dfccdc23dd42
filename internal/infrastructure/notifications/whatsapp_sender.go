package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/zatekoja/telecare/internal/domain/entities"
	"github.com/zatekoja/telecare/internal/domain/providers"
	"github.com/zatekoja/telecare/pkg/config"
)

const defaultGraphURL = "https://graph.facebook.com/v18.0"

// WhatsAppCloudSender delivers call reminders through the WhatsApp Cloud API.
//
// The approved reminder template is expected to take the patient name, the
// consultation mode and the start time as body variables, and to carry a
// "Join call" URL button whose dynamic suffix is the session id.
type WhatsAppCloudSender struct {
	accessToken   string
	phoneNumberID string
	httpClient    *http.Client
	baseURL       string
}

// NewWhatsAppCloudSender creates a new WhatsApp sender; client may be nil
func NewWhatsAppCloudSender(cfg config.WhatsAppConfig, client *http.Client) (*WhatsAppCloudSender, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("WHATSAPP_ACCESS_TOKEN and WHATSAPP_PHONE_NUMBER_ID must be set")
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultGraphURL
	}

	return &WhatsAppCloudSender{
		accessToken:   cfg.AccessToken,
		phoneNumberID: cfg.PhoneNumberID,
		httpClient:    client,
		baseURL:       baseURL,
	}, nil
}

var _ providers.MessageSender = (*WhatsAppCloudSender)(nil)

type outboundMessage struct {
	MessagingProduct string            `json:"messaging_product"`
	To               string            `json:"to"`
	Type             string            `json:"type"`
	Template         *reminderTemplate `json:"template,omitempty"`
	Text             *textBody         `json:"text,omitempty"`
}

type reminderTemplate struct {
	Name       string              `json:"name"`
	Language   templateLanguage    `json:"language"`
	Components []templateComponent `json:"components"`
}

type templateLanguage struct {
	Code string `json:"code"`
}

type templateComponent struct {
	Type       string          `json:"type"`
	SubType    string          `json:"sub_type,omitempty"`
	Index      string          `json:"index,omitempty"`
	Parameters []textParameter `json:"parameters"`
}

type textParameter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type textBody struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

// sendResponse keeps only what a delivery row needs
type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// Channel identifies the delivery channel
func (w *WhatsAppCloudSender) Channel() entities.NotificationChannel {
	return entities.ChannelWhatsApp
}

// SendReminder fills the approved reminder template for one call
func (w *WhatsAppCloudSender) SendReminder(ctx context.Context, to string, reminder entities.CallReminder) (string, error) {
	if reminder.Template == "" || reminder.SessionID == "" {
		return "", fmt.Errorf("reminder template and session id are required")
	}
	return w.send(ctx, outboundMessage{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "template",
		Template:         buildReminderTemplate(reminder),
	})
}

func buildReminderTemplate(reminder entities.CallReminder) *reminderTemplate {
	return &reminderTemplate{
		Name:     reminder.Template,
		Language: templateLanguage{Code: reminder.Language},
		Components: []templateComponent{
			{
				Type: "body",
				Parameters: []textParameter{
					{Type: "text", Text: reminder.PatientName},
					{Type: "text", Text: string(reminder.Mode)},
					{Type: "text", Text: reminder.When},
				},
			},
			{
				Type:       "button",
				SubType:    "url",
				Index:      "0",
				Parameters: []textParameter{{Type: "text", Text: reminder.SessionID}},
			},
		},
	}
}

// SendText sends a freeform text message; the call link is previewed
func (w *WhatsAppCloudSender) SendText(ctx context.Context, to, body string) (string, error) {
	return w.send(ctx, outboundMessage{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "text",
		Text:             &textBody{PreviewURL: true, Body: body},
	})
}

func (w *WhatsAppCloudSender) send(ctx context.Context, message outboundMessage) (string, error) {
	payload, err := json.Marshal(message)
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", w.baseURL, w.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+w.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var parsed sendResponse
	decodeErr := json.Unmarshal(body, &parsed)
	if resp.StatusCode != http.StatusOK {
		if decodeErr == nil && parsed.Error != nil {
			return "", fmt.Errorf("WhatsApp API error %d (status %d): %s", parsed.Error.Code, resp.StatusCode, parsed.Error.Message)
		}
		return "", fmt.Errorf("WhatsApp API error (status %d): %s", resp.StatusCode, string(body))
	}
	if decodeErr != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", decodeErr)
	}
	if len(parsed.Messages) == 0 {
		return "", fmt.Errorf("no message ID in response")
	}
	return parsed.Messages[0].ID, nil
}
