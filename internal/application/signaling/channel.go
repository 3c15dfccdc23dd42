// Package signaling relays offers, answers and ICE candidates between the two
// peers of a call through the shared session record.
package signaling

import (
	"context"
	"sync"

	"github.com/zatekoja/telecare/internal/domain/entities"
	"github.com/zatekoja/telecare/internal/domain/providers"
	"github.com/zatekoja/telecare/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/telecare/pkg/errors"
)

// Participant is the local side of a call
type Participant struct {
	ID   string
	Role entities.Role
}

// Handlers receive signaling events for one joined session. They are invoked
// serially from a single goroutine and must tolerate repeated delivery.
type Handlers struct {
	// OnOffer fires for every observed change of the offer field, on both peers
	OnOffer func(offer entities.SessionDescription)
	// OnAnswer fires for every observed change of the answer field, never before OnOffer
	OnAnswer func(answer entities.SessionDescription)
	// OnCandidate fires for candidates appended by the remote role
	OnCandidate func(candidate entities.CandidateRecord)
	// OnEnded fires once when the record is deleted or its status becomes ended
	OnEnded func()
	// OnError fires for protocol violations observed in the record
	OnError func(err error)
}

type subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Channel is one participant's view of the signaling protocol. Offer may only be
// written by the initiator and answer only by the responder.
type Channel struct {
	store providers.SessionStore
	self  Participant

	mu   sync.Mutex
	subs map[string]*subscription
}

// NewChannel creates a channel for self
func NewChannel(store providers.SessionStore, self Participant) *Channel {
	return &Channel{
		store: store,
		self:  self,
		subs:  make(map[string]*subscription),
	}
}

// Self returns the local participant
func (c *Channel) Self() Participant {
	return c.self
}

// Join ensures the session record exists and starts delivering events to h until Leave
func (c *Channel) Join(ctx context.Context, sessionID string, h Handlers) error {
	if !c.self.Role.Valid() {
		return apperrors.NewValidationError("participant role must be initiator or responder")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, joined := c.subs[sessionID]; joined {
		return apperrors.NewConflictError("already joined session " + sessionID)
	}

	session, err := c.store.EnsureSession(ctx, sessionID)
	if err != nil {
		return persistence("failed to open call session", err)
	}
	if !c.admitted(session) {
		return apperrors.NewUnauthorizedError("not a participant of this call")
	}

	// subscriptions outlive ctx but keep its values
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	snapshots, err := c.store.WatchSession(subCtx, sessionID)
	if err != nil {
		cancel()
		return persistence("failed to watch call session", err)
	}
	candidates, err := c.store.WatchCandidates(subCtx, sessionID)
	if err != nil {
		cancel()
		return persistence("failed to watch candidates", err)
	}

	sub := &subscription{cancel: cancel, done: make(chan struct{})}
	c.subs[sessionID] = sub

	d := &dispatcher{
		ctx:       subCtx,
		store:     c.store,
		self:      c.self,
		sessionID: sessionID,
		h:         h,
	}
	go func() {
		defer close(sub.done)
		d.run(snapshots, candidates)
	}()

	observability.CallLogger(ctx, sessionID).Debug().
		Str("participant", c.self.ID).
		Str("role", string(c.self.Role)).
		Msg("joined signaling channel")
	return nil
}

// SendOffer writes the offer. Only the initiator may do so; the first offer on a
// placeholder record claims it for the sender as initiator and doctor.
func (c *Channel) SendOffer(ctx context.Context, sessionID string, offer entities.SessionDescription) error {
	ctx, span := observability.StartSpan(ctx, "Signaling.SendOffer")
	defer span.End()

	if c.self.Role != entities.RoleInitiator {
		return apperrors.NewSignalingProtocolError("only the initiator may write the offer")
	}
	session, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return persistence("failed to read call session", err)
	}
	if session.IsPlaceholder() {
		claim := &entities.CallSession{ID: sessionID, InitiatorID: c.self.ID, DoctorID: c.self.ID}
		if _, err := c.store.ClaimSession(ctx, claim); err != nil {
			return err
		}
	} else if session.InitiatorID != c.self.ID {
		return apperrors.NewSignalingProtocolError("offer rejected: sender is not the session initiator")
	}

	offer.Type = entities.SDPTypeOffer
	if err := c.store.SetOffer(ctx, sessionID, offer); err != nil {
		observability.RecordError(span, err)
		return persistence("failed to write offer", err)
	}
	return nil
}

// SendAnswer writes the answer. Only the session's patient may do so; when no patient
// is bound yet the first responder to answer becomes it. The store rejects an
// answer written before the offer.
func (c *Channel) SendAnswer(ctx context.Context, sessionID string, answer entities.SessionDescription) error {
	ctx, span := observability.StartSpan(ctx, "Signaling.SendAnswer")
	defer span.End()

	if c.self.Role != entities.RoleResponder {
		return apperrors.NewSignalingProtocolError("only the responder may write the answer")
	}
	session, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return persistence("failed to read call session", err)
	}
	if session.IsPlaceholder() {
		return apperrors.NewSignalingProtocolError("answer written before offer")
	}
	if !session.AcceptsResponder(c.self.ID) {
		return apperrors.NewUnauthorizedError("answer rejected: sender is not the session patient")
	}
	if session.PatientID == "" {
		bind := &entities.CallSession{ID: sessionID, InitiatorID: session.InitiatorID, PatientID: c.self.ID}
		if _, err := c.store.ClaimSession(ctx, bind); err != nil {
			return err
		}
	}

	answer.Type = entities.SDPTypeAnswer
	if err := c.store.SetAnswer(ctx, sessionID, answer); err != nil {
		observability.RecordError(span, err)
		return persistence("failed to write answer", err)
	}
	return nil
}

// SendIceCandidate appends a candidate tagged with the sender's role. The sender must
// hold that role in the claimed record.
func (c *Channel) SendIceCandidate(ctx context.Context, sessionID string, candidate entities.ICECandidate, senderRole entities.Role) error {
	if senderRole != c.self.Role {
		return apperrors.NewSignalingProtocolError("candidate sender role does not match participant role")
	}
	if candidate.Candidate == "" {
		return apperrors.NewSignalingProtocolError("empty ICE candidate")
	}
	session, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return persistence("failed to read call session", err)
	}
	if session.IsPlaceholder() {
		return apperrors.NewSignalingProtocolError("candidate sent before the session was claimed")
	}
	if role, ok := session.RoleOf(c.self.ID); !ok || role != senderRole {
		return apperrors.NewUnauthorizedError("candidate rejected: sender does not hold that role in this call")
	}
	_, err = c.store.AppendCandidate(ctx, sessionID, entities.CandidateRecord{
		SenderRole: senderRole,
		SenderID:   c.self.ID,
		Candidate:  candidate,
	})
	if err != nil {
		return persistence("failed to append candidate", err)
	}
	return nil
}

// Leave stops both subscriptions for sessionID. It is safe to call repeatedly and
// from inside a handler; no handler starts after it returns.
func (c *Channel) Leave(sessionID string) {
	c.mu.Lock()
	sub, ok := c.subs[sessionID]
	delete(c.subs, sessionID)
	c.mu.Unlock()

	if ok {
		sub.cancel()
	}
}

// Close leaves every joined session and waits for their dispatchers to stop.
// It must not be called from a handler.
func (c *Channel) Close() {
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[string]*subscription)
	c.mu.Unlock()

	for _, sub := range subs {
		sub.cancel()
		<-sub.done
	}
}

// admitted reports whether the local participant may watch session
func (c *Channel) admitted(session *entities.CallSession) bool {
	if session.IsPlaceholder() || session.IsParticipant(c.self.ID) {
		return true
	}
	return c.self.Role == entities.RoleResponder && session.AcceptsResponder(c.self.ID)
}

func persistence(message string, err error) error {
	switch apperrors.TypeOf(err) {
	case "", apperrors.ErrorTypeInternal:
		return apperrors.NewPersistenceError(message, err)
	}
	return err
}
