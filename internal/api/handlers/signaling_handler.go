package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zatekoja/telecare/internal/application/signaling"
	"github.com/zatekoja/telecare/internal/domain/entities"
	"github.com/zatekoja/telecare/internal/domain/providers"
	"github.com/zatekoja/telecare/internal/infrastructure/observability"
)

const (
	wsReadLimit    = 64 * 1024
	wsPongWait     = 60 * time.Second
	wsPingInterval = 25 * time.Second
	wsWriteTimeout = 10 * time.Second
)

// RoleResolver decides which role a user occupies in a session
type RoleResolver interface {
	ResolveRole(ctx context.Context, who entities.Identity, sessionID string) (*entities.CallSession, entities.Role, error)
}

// signalMessage is the websocket frame exchanged with the browser
type signalMessage struct {
	Type        string                       `json:"type"`
	SessionID   string                       `json:"session_id,omitempty"`
	Role        entities.Role                `json:"role,omitempty"`
	Description *entities.SessionDescription `json:"description,omitempty"`
	Candidate   *entities.ICECandidate       `json:"candidate,omitempty"`
	Error       string                       `json:"error,omitempty"`
}

type wsPeer struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (p *wsPeer) send(msg signalMessage) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return p.conn.WriteJSON(msg)
}

func (p *wsPeer) ping() error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(wsWriteTimeout))
}

// SignalingHandler bridges a browser websocket to the signaling channel of one session.
// The browser owns the peer connection; the server only relays the protocol.
type SignalingHandler struct {
	resolver  RoleResolver
	store     providers.SessionStore
	completer providers.AppointmentCompleter
	upgrader  websocket.Upgrader
}

// NewSignalingHandler creates a signaling bridge accepting upgrades from allowedOrigins
func NewSignalingHandler(resolver RoleResolver, store providers.SessionStore, completer providers.AppointmentCompleter, allowedOrigins []string) *SignalingHandler {
	return &SignalingHandler{
		resolver:  resolver,
		store:     store,
		completer: completer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || isAllowedOrigin(origin, allowedOrigins)
			},
		},
	}
}

// ServeWS handles GET /ws/calls/{id}
func (h *SignalingHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	who, ok := identityFrom(r)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "missing identity")
		return
	}

	_, role, err := h.resolver.ResolveRole(r.Context(), who, sessionID)
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already written the HTTP error
		observability.CallLogger(r.Context(), sessionID).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	logger := observability.CallLogger(ctx, sessionID).With().Str("user_id", who.UserID).Str("role", string(role)).Logger()
	peer := &wsPeer{conn: conn}

	channel := signaling.NewChannel(h.store, signaling.Participant{ID: who.UserID, Role: role})
	defer channel.Close()

	err = channel.Join(ctx, sessionID, signaling.Handlers{
		OnOffer: func(offer entities.SessionDescription) {
			// the initiator wrote it; only the responder needs it
			if role == entities.RoleResponder {
				_ = peer.send(signalMessage{Type: "offer", Description: &offer})
			}
		},
		OnAnswer: func(answer entities.SessionDescription) {
			if role == entities.RoleInitiator {
				_ = peer.send(signalMessage{Type: "answer", Description: &answer})
			}
		},
		OnCandidate: func(rec entities.CandidateRecord) {
			c := rec.Candidate
			_ = peer.send(signalMessage{Type: "candidate", Candidate: &c})
		},
		OnEnded: func() {
			_ = peer.send(signalMessage{Type: "ended"})
			_ = conn.Close()
		},
		OnError: func(err error) {
			_ = peer.send(signalMessage{Type: "error", Error: err.Error()})
		},
	})
	if err != nil {
		_ = peer.send(signalMessage{Type: "error", Error: err.Error()})
		return
	}

	if err := peer.send(signalMessage{Type: "joined", SessionID: sessionID, Role: role}); err != nil {
		return
	}
	logger.Info().Msg("signaling bridge connected")

	stopPing := make(chan struct{})
	defer close(stopPing)
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := peer.ping(); err != nil {
					_ = conn.Close()
					return
				}
			case <-stopPing:
				return
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			logger.Debug().Err(err).Msg("signaling bridge closed")
			return
		}

		var msg signalMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			_ = peer.send(signalMessage{Type: "error", Error: "invalid signaling payload"})
			continue
		}

		if done := h.handleMessage(ctx, channel, peer, sessionID, role, msg); done {
			return
		}
	}
}

// handleMessage applies one browser message and reports whether the bridge should close
func (h *SignalingHandler) handleMessage(ctx context.Context, channel *signaling.Channel, peer *wsPeer, sessionID string, role entities.Role, msg signalMessage) bool {
	var err error
	switch msg.Type {
	case "offer":
		if msg.Description == nil {
			return false
		}
		err = channel.SendOffer(ctx, sessionID, *msg.Description)
	case "answer":
		if msg.Description == nil {
			return false
		}
		err = channel.SendAnswer(ctx, sessionID, *msg.Description)
	case "candidate":
		if msg.Candidate == nil {
			return false
		}
		err = channel.SendIceCandidate(ctx, sessionID, *msg.Candidate, role)
	case "hangup":
		channel.Leave(sessionID)
		if err := signaling.Release(ctx, h.store, h.completer, sessionID, role); err != nil {
			_ = peer.send(signalMessage{Type: "error", Error: err.Error()})
		}
		_ = peer.send(signalMessage{Type: "ended"})
		return true
	case "ping":
		err = peer.send(signalMessage{Type: "pong"})
	default:
		err = peer.send(signalMessage{Type: "error", Error: "unsupported signaling message type"})
	}
	if err != nil {
		_ = peer.send(signalMessage{Type: "error", Error: err.Error()})
	}
	return false
}
