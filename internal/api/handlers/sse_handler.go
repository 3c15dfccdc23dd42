package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/zatekoja/telecare/internal/application/services"
	"github.com/zatekoja/telecare/internal/domain/entities"
	"github.com/zatekoja/telecare/internal/infrastructure/observability"
)

const defaultHeartbeat = 30 * time.Second

// CallSubscriber pushes a patient's pending calls on every change
type CallSubscriber interface {
	SubscribeToCalls(ctx context.Context, patientID string, cb services.CallListCallback) (func(), error)
}

// InboxSubscriber pushes a user's calls in both roles on every change
type InboxSubscriber interface {
	Subscribe(ctx context.Context, userID string, cb func(services.InboxSnapshot)) (func(), error)
}

// sseEvent is one frame written to the stream
type sseEvent struct {
	name string
	data interface{}
}

// SSEHandler handles Server-Sent Events for live call lists
type SSEHandler struct {
	calls     CallSubscriber
	inbox     InboxSubscriber
	heartbeat time.Duration

	mu      sync.RWMutex
	clients map[string]int // stream key -> connected clients
}

// NewSSEHandler creates a new SSE handler
func NewSSEHandler(calls CallSubscriber, inbox InboxSubscriber) *SSEHandler {
	return &SSEHandler{
		calls:     calls,
		inbox:     inbox,
		heartbeat: defaultHeartbeat,
		clients:   make(map[string]int),
	}
}

// SetHeartbeat changes the keep-alive interval
func (h *SSEHandler) SetHeartbeat(d time.Duration) {
	h.heartbeat = d
}

// StreamPatientCalls handles GET /api/stream/patients/{id}/calls
func (h *SSEHandler) StreamPatientCalls(w http.ResponseWriter, r *http.Request) {
	patientID := r.PathValue("id")
	if patientID == "" {
		respondWithError(w, http.StatusBadRequest, "patient ID is required")
		return
	}

	h.stream(w, r, "patient:"+patientID, func(ctx context.Context, push func(sseEvent)) (func(), error) {
		return h.calls.SubscribeToCalls(ctx, patientID, func(calls []*entities.ScheduledCall) {
			push(sseEvent{name: "calls", data: map[string]interface{}{
				"patient_id": patientID,
				"calls":      calls,
			}})
		})
	})
}

// StreamInbox handles GET /api/stream/users/{id}/inbox. Users may only stream their own inbox.
func (h *SSEHandler) StreamInbox(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	who, ok := identityFrom(r)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	if who.UserID != userID {
		respondWithError(w, http.StatusForbidden, "cannot stream another user's calls")
		return
	}

	h.stream(w, r, "inbox:"+userID, func(ctx context.Context, push func(sseEvent)) (func(), error) {
		return h.inbox.Subscribe(ctx, userID, func(snap services.InboxSnapshot) {
			push(sseEvent{name: "inbox", data: map[string]interface{}{
				"as_patient": snap.AsPatient,
				"as_doctor":  snap.AsDoctor,
				"calls":      snap.Union(),
			}})
		})
	})
}

type subscribeFunc func(ctx context.Context, push func(sseEvent)) (func(), error)

func (h *SSEHandler) stream(w http.ResponseWriter, r *http.Request, key string, subscribe subscribeFunc) {
	ctx := r.Context()
	logger := observability.LoggerFromContext(ctx).With().Str("stream", key).Logger()

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondWithError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// only the latest list matters, so a slow client skips intermediate ones
	events := make(chan sseEvent, 1)
	push := func(e sseEvent) {
		for {
			select {
			case events <- e:
				return
			default:
			}
			select {
			case <-events:
			default:
			}
		}
	}

	unsubscribe, err := subscribe(ctx, push)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	defer unsubscribe()

	h.register(key)
	defer h.unregister(key)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	h.sendEvent(w, "connected", map[string]interface{}{
		"stream":    key,
		"timestamp": time.Now(),
	})
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("client disconnected from call stream")
			return
		case <-ticker.C:
			h.sendEvent(w, "heartbeat", map[string]interface{}{
				"timestamp": time.Now(),
			})
			flusher.Flush()
		case e := <-events:
			h.sendEvent(w, e.name, e.data)
			flusher.Flush()
		}
	}
}

func (h *SSEHandler) register(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[key]++
}

func (h *SSEHandler) unregister(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[key]--
	if h.clients[key] <= 0 {
		delete(h.clients, key)
	}
}

// sendEvent sends an SSE event to the client
func (h *SSEHandler) sendEvent(w http.ResponseWriter, eventType string, data interface{}) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		observability.GetLogger().Warn().Err(err).Msg("failed to marshal event data")
		return
	}

	fmt.Fprintf(w, "event: %s\n", eventType)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
}

// GetClientCount returns the number of connected clients
func (h *SSEHandler) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, n := range h.clients {
		count += n
	}
	return count
}
