package signaling

import (
	"context"

	"github.com/zatekoja/telecare/internal/domain/entities"
	"github.com/zatekoja/telecare/internal/domain/providers"
	"github.com/zatekoja/telecare/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/telecare/pkg/errors"
)

// dispatcher turns store notifications into handler calls for one joined session
type dispatcher struct {
	ctx       context.Context
	store     providers.SessionStore
	self      Participant
	sessionID string
	h         Handlers

	offer       *entities.SessionDescription
	answer      *entities.SessionDescription
	lastSeq     int64
	protocolErr bool
	ended       bool
}

func (d *dispatcher) run(snapshots <-chan providers.SessionSnapshot, candidates <-chan entities.CandidateRecord) {
	// candidates appended before the watch started are replayed first
	d.catchUp()

	for !d.ended {
		select {
		case <-d.ctx.Done():
			return
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			d.onSnapshot(snap)
		case rec, ok := <-candidates:
			if !ok {
				return
			}
			d.onCandidate(rec)
		}
	}
}

func (d *dispatcher) onSnapshot(snap providers.SessionSnapshot) {
	if snap.Deleted || snap.Session == nil {
		d.end()
		return
	}
	s := snap.Session

	if s.Offer != nil && !sameDescription(d.offer, s.Offer) {
		d.offer = s.Offer
		if d.h.OnOffer != nil && d.live() {
			d.h.OnOffer(*s.Offer)
		}
	}

	if s.Answer != nil && !sameDescription(d.answer, s.Answer) {
		if d.offer == nil {
			d.protocolError(apperrors.NewSignalingProtocolError("answer observed without an offer"))
		} else {
			d.answer = s.Answer
			if d.h.OnAnswer != nil && d.live() {
				d.h.OnAnswer(*s.Answer)
			}
		}
	}

	if s.Status == entities.CallSessionStatusEnded {
		d.end()
	}
}

func (d *dispatcher) onCandidate(rec entities.CandidateRecord) {
	if rec.Seq <= d.lastSeq {
		return
	}
	if rec.Seq > d.lastSeq+1 {
		// a notification was missed; fill the gap from the sequence itself
		d.catchUp()
		if rec.Seq <= d.lastSeq {
			return
		}
	}
	d.deliver(rec)
}

func (d *dispatcher) catchUp() {
	missed, err := d.store.ListCandidates(d.ctx, d.sessionID, d.lastSeq)
	if err != nil {
		if d.ctx.Err() == nil {
			observability.CallLogger(d.ctx, d.sessionID).Warn().Err(err).Msg("failed to replay candidates")
		}
		return
	}
	for _, rec := range missed {
		if rec.Seq > d.lastSeq {
			d.deliver(rec)
		}
	}
}

func (d *dispatcher) deliver(rec entities.CandidateRecord) {
	d.lastSeq = rec.Seq
	if rec.SenderRole == d.self.Role {
		return
	}
	if d.h.OnCandidate != nil && d.live() {
		d.h.OnCandidate(rec)
	}
}

func (d *dispatcher) protocolError(err error) {
	if d.protocolErr {
		return
	}
	d.protocolErr = true
	observability.CallLogger(d.ctx, d.sessionID).Warn().Err(err).Msg("signaling protocol violation")
	if d.h.OnError != nil && d.live() {
		d.h.OnError(err)
	}
}

func (d *dispatcher) end() {
	if d.ended {
		return
	}
	d.ended = true
	if d.h.OnEnded != nil && d.live() {
		d.h.OnEnded()
	}
}

func (d *dispatcher) live() bool {
	return d.ctx.Err() == nil
}

func sameDescription(a, b *entities.SessionDescription) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Type == b.Type && a.SDP == b.SDP
}
