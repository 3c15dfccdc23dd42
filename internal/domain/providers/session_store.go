package providers

import (
	"context"

	"github.com/zatekoja/telecare/internal/domain/entities"
)

// SessionSnapshot is one observed state of a CallSession record
type SessionSnapshot struct {
	Session *entities.CallSession
	// Deleted is set once the record is gone; Session is nil then
	Deleted bool
}

// SessionStore is the shared mutable record both peers coordinate through.
//
// Writes are field-level. Every method returns an apperrors PERSISTENCE error
// when the backend fails, NOT_FOUND when the record is absent, and
// SIGNALING_PROTOCOL when a write breaks the offer/answer ordering.
type SessionStore interface {
	// EnsureSession creates an empty placeholder if id is absent and returns the current record.
	// Concurrent callers observe the same record; the first writer wins.
	EnsureSession(ctx context.Context, id string) (*entities.CallSession, error)

	// ClaimSession fills the participant fields and marks session.InitiatorID as the creator.
	// Claiming a record already claimed by a different initiator is a CONFLICT.
	ClaimSession(ctx context.Context, session *entities.CallSession) (*entities.CallSession, error)

	GetSession(ctx context.Context, id string) (*entities.CallSession, error)

	SetOffer(ctx context.Context, id string, offer entities.SessionDescription) error

	// SetAnswer fails with SIGNALING_PROTOCOL when no offer has been written
	SetAnswer(ctx context.Context, id string, answer entities.SessionDescription) error

	SetStatus(ctx context.Context, id string, status entities.CallSessionStatus) error

	// AppendCandidate appends to the candidates sequence and returns the assigned Seq
	AppendCandidate(ctx context.Context, id string, candidate entities.CandidateRecord) (int64, error)

	// ListCandidates returns candidates with Seq greater than afterSeq, in append order
	ListCandidates(ctx context.Context, id string, afterSeq int64) ([]entities.CandidateRecord, error)

	// WatchSession delivers the current record, then one snapshot per change, until ctx is done
	WatchSession(ctx context.Context, id string) (<-chan SessionSnapshot, error)

	// WatchCandidates delivers newly appended candidates until ctx is done.
	// Entries appended before the call may be missed; callers replay with ListCandidates.
	WatchCandidates(ctx context.Context, id string) (<-chan entities.CandidateRecord, error)

	// DeleteSession removes the record and its candidates; deleting a missing record is not an error
	DeleteSession(ctx context.Context, id string) error
}
