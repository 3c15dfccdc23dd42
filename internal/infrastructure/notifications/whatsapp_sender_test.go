package notifications

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/zatekoja/telecare/internal/domain/entities"
	"github.com/zatekoja/telecare/pkg/config"
)

func TestNewWhatsAppCloudSender(t *testing.T) {
	tests := []struct {
		name          string
		accessToken   string
		phoneNumberID string
		wantErr       bool
	}{
		{
			name:          "Valid credentials",
			accessToken:   "test_token",
			phoneNumberID: "123456789",
			wantErr:       false,
		},
		{
			name:          "Missing access token",
			accessToken:   "",
			phoneNumberID: "123456789",
			wantErr:       true,
		},
		{
			name:          "Missing phone number ID",
			accessToken:   "test_token",
			phoneNumberID: "",
			wantErr:       true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender, err := NewWhatsAppCloudSender(config.WhatsAppConfig{
				AccessToken:   tt.accessToken,
				PhoneNumberID: tt.phoneNumberID,
			}, nil)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewWhatsAppCloudSender() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr {
				return
			}
			if sender == nil {
				t.Fatal("NewWhatsAppCloudSender() returned nil sender")
			}
			if sender.baseURL != defaultGraphURL {
				t.Errorf("unexpected default base URL %q", sender.baseURL)
			}
			if sender.Channel() != entities.ChannelWhatsApp {
				t.Errorf("Channel() = %q", sender.Channel())
			}
		})
	}
}

func newTestSender(t *testing.T, handler http.HandlerFunc) *WhatsAppCloudSender {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	sender, err := NewWhatsAppCloudSender(config.WhatsAppConfig{
		AccessToken:   "test_token",
		PhoneNumberID: "123456789",
		BaseURL:       server.URL,
	}, server.Client())
	if err != nil {
		t.Fatalf("NewWhatsAppCloudSender() error = %v", err)
	}
	return sender
}

const sentBody = `{"messaging_product":"whatsapp","contacts":[{"wa_id":"2348001234567"}],"messages":[{"id":"wamid.test123"}]}`

func reminder() entities.CallReminder {
	return entities.CallReminder{
		Template:    "call_reminder",
		Language:    "en_US",
		PatientName: "Ada",
		Mode:        entities.CallModeVideo,
		When:        "Monday, March 2, 10:00 AM UTC",
		SessionID:   "c1",
	}
}

func TestWhatsAppCloudSender_SendReminder(t *testing.T) {
	var got outboundMessage
	sender := newTestSender(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST request, got %s", r.Method)
		}
		if r.URL.Path != "/123456789/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test_token" {
			t.Errorf("missing bearer token")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		_, _ = w.Write([]byte(sentBody))
	})

	messageID, err := sender.SendReminder(context.Background(), "+2348001234567", reminder())
	if err != nil {
		t.Fatalf("SendReminder() error = %v", err)
	}
	if messageID != "wamid.test123" {
		t.Errorf("SendReminder() = %q", messageID)
	}

	if got.Type != "template" || got.Text != nil || got.Template == nil {
		t.Fatalf("unexpected message %+v", got)
	}
	if got.Template.Name != "call_reminder" || got.Template.Language.Code != "en_US" {
		t.Errorf("unexpected template %+v", got.Template)
	}
	if len(got.Template.Components) != 2 {
		t.Fatalf("components = %d, want 2", len(got.Template.Components))
	}

	body := got.Template.Components[0]
	var texts []string
	for _, p := range body.Parameters {
		texts = append(texts, p.Text)
	}
	if body.Type != "body" || strings.Join(texts, "|") != "Ada|video|Monday, March 2, 10:00 AM UTC" {
		t.Errorf("unexpected body component %+v", body)
	}

	button := got.Template.Components[1]
	if button.Type != "button" || button.SubType != "url" || button.Index != "0" {
		t.Errorf("unexpected button component %+v", button)
	}
	if len(button.Parameters) != 1 || button.Parameters[0].Text != "c1" {
		t.Errorf("join button should carry the session id, got %+v", button.Parameters)
	}
}

func TestWhatsAppCloudSender_SendReminderRequiresSession(t *testing.T) {
	called := false
	sender := newTestSender(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	r := reminder()
	r.SessionID = ""
	if _, err := sender.SendReminder(context.Background(), "+2348001234567", r); err == nil {
		t.Error("Expected error for reminder without a session id")
	}
	if called {
		t.Error("nothing should be sent for an incomplete reminder")
	}
}

func TestWhatsAppCloudSender_SendText(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		mockStatusCode int
		mockResponse   string
		wantErr        string
	}{
		{
			name:           "Successful text send",
			body:           "Your call starts in 5 minutes",
			mockStatusCode: http.StatusOK,
			mockResponse:   sentBody,
		},
		{
			name:           "API rate limit error",
			body:           "Test message",
			mockStatusCode: http.StatusTooManyRequests,
			mockResponse:   `{"error":{"message":"Rate limit hit","type":"OAuthException","code":130429}}`,
			wantErr:        "WhatsApp API error 130429 (status 429): Rate limit hit",
		},
		{
			name:           "Unparseable error body",
			body:           "Test message",
			mockStatusCode: http.StatusBadGateway,
			mockResponse:   "upstream down",
			wantErr:        "status 502",
		},
		{
			name:           "Missing message id",
			body:           "Test message",
			mockStatusCode: http.StatusOK,
			mockResponse:   `{"messaging_product":"whatsapp","messages":[]}`,
			wantErr:        "no message ID",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := newTestSender(t, func(w http.ResponseWriter, r *http.Request) {
				var msg outboundMessage
				if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
					t.Errorf("failed to decode request: %v", err)
				}
				if msg.Type != "text" || msg.Text == nil || msg.Text.Body != tt.body || !msg.Text.PreviewURL {
					t.Errorf("unexpected text payload %+v", msg)
				}
				w.WriteHeader(tt.mockStatusCode)
				_, _ = w.Write([]byte(tt.mockResponse))
			})

			messageID, err := sender.SendText(context.Background(), "+2348001234567", tt.body)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("SendText() error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("SendText() error = %v", err)
			}
			if messageID == "" {
				t.Error("SendText() returned empty message ID")
			}
		})
	}
}

func TestWhatsAppCloudSender_CancelledContext(t *testing.T) {
	sender := newTestSender(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := sender.SendText(ctx, "+2348001234567", "Test"); err == nil {
		t.Error("Expected error for cancelled context, got nil")
	}
}

func TestLogSender(t *testing.T) {
	sender := NewLogSender()
	if sender.Channel() != entities.ChannelLog {
		t.Errorf("Channel() = %q", sender.Channel())
	}

	id, err := sender.SendText(context.Background(), "+2348001234567", "hello")
	if err != nil || id == "" {
		t.Errorf("SendText() = %q, %v", id, err)
	}
	id, err = sender.SendReminder(context.Background(), "+2348001234567", reminder())
	if err != nil || id == "" {
		t.Errorf("SendReminder() = %q, %v", id, err)
	}
}

func TestMaskPhone(t *testing.T) {
	if got := maskPhone("+2348001234567"); got != "**********4567" {
		t.Errorf("maskPhone() = %q", got)
	}
	if got := maskPhone("123"); got != "123" {
		t.Errorf("maskPhone() = %q", got)
	}
}
