package memory

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/zatekoja/telecare/internal/domain/entities"
	"github.com/zatekoja/telecare/internal/domain/providers"
	apperrors "github.com/zatekoja/telecare/pkg/errors"
)

type storedSession struct {
	record     entities.CallSession
	candidates []entities.CandidateRecord
}

// InMemoryStore implements providers.SessionStore inside one process.
// It backs tests and the CALL_STORE_BACKEND=memory demo mode.
type InMemoryStore struct {
	mu    sync.Mutex
	clock clock.Clock

	sessions          map[string]*storedSession
	sessionWatchers   map[string]map[*mailbox[providers.SessionSnapshot]]struct{}
	candidateWatchers map[string]map[*mailbox[entities.CandidateRecord]]struct{}
}

// NewInMemoryStore creates an empty store; a nil clock means wall time
func NewInMemoryStore(clk clock.Clock) *InMemoryStore {
	if clk == nil {
		clk = clock.New()
	}
	return &InMemoryStore{
		clock:             clk,
		sessions:          make(map[string]*storedSession),
		sessionWatchers:   make(map[string]map[*mailbox[providers.SessionSnapshot]]struct{}),
		candidateWatchers: make(map[string]map[*mailbox[entities.CandidateRecord]]struct{}),
	}
}

var _ providers.SessionStore = (*InMemoryStore)(nil)

// EnsureSession creates a placeholder record when id is absent
func (s *InMemoryStore) EnsureSession(ctx context.Context, id string) (*entities.CallSession, error) {
	if id == "" {
		return nil, apperrors.NewValidationError("session id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.sessions[id]
	if !ok {
		now := s.clock.Now().UTC()
		stored = &storedSession{record: entities.CallSession{
			ID:        id,
			Status:    entities.CallSessionStatusWaiting,
			CreatedAt: now,
			UpdatedAt: now,
		}}
		s.sessions[id] = stored
		s.publishLocked(id)
	}
	return cloneSession(&stored.record), nil
}

// ClaimSession marks session.InitiatorID as the creator of the record
func (s *InMemoryStore) ClaimSession(ctx context.Context, session *entities.CallSession) (*entities.CallSession, error) {
	if session == nil || session.ID == "" || session.InitiatorID == "" {
		return nil, apperrors.NewValidationError("session id and initiator are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now().UTC()
	stored, ok := s.sessions[session.ID]
	if !ok {
		stored = &storedSession{record: entities.CallSession{
			ID:        session.ID,
			Status:    entities.CallSessionStatusWaiting,
			CreatedAt: now,
		}}
		s.sessions[session.ID] = stored
	}

	rec := &stored.record
	if rec.InitiatorID != "" && rec.InitiatorID != session.InitiatorID {
		return nil, apperrors.NewConflictError("session already bound to other participants")
	}
	if rebinds(rec.DoctorID, session.DoctorID) || rebinds(rec.PatientID, session.PatientID) {
		return nil, apperrors.NewConflictError("session already bound to other participants")
	}
	rec.InitiatorID = session.InitiatorID
	if session.AppointmentID != "" {
		rec.AppointmentID = session.AppointmentID
	}
	if session.DoctorID != "" {
		rec.DoctorID = session.DoctorID
	}
	if session.PatientID != "" {
		rec.PatientID = session.PatientID
	}
	if session.Mode != "" {
		rec.Mode = session.Mode
	}
	rec.UpdatedAt = now
	s.publishLocked(session.ID)

	return cloneSession(rec), nil
}

// GetSession returns a copy of the record
func (s *InMemoryStore) GetSession(ctx context.Context, id string) (*entities.CallSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.sessions[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("call session not found")
	}
	return cloneSession(&stored.record), nil
}

// SetOffer writes the offer field
func (s *InMemoryStore) SetOffer(ctx context.Context, id string, offer entities.SessionDescription) error {
	return s.update(id, func(rec *entities.CallSession) error {
		rec.Offer = &offer
		return nil
	})
}

// SetAnswer writes the answer field and activates the session
func (s *InMemoryStore) SetAnswer(ctx context.Context, id string, answer entities.SessionDescription) error {
	return s.update(id, func(rec *entities.CallSession) error {
		if rec.Offer == nil {
			return apperrors.NewSignalingProtocolError("answer written before offer")
		}
		rec.Answer = &answer
		rec.Status = entities.CallSessionStatusActive
		return nil
	})
}

// SetStatus writes the status field
func (s *InMemoryStore) SetStatus(ctx context.Context, id string, status entities.CallSessionStatus) error {
	return s.update(id, func(rec *entities.CallSession) error {
		rec.Status = status
		return nil
	})
}

func (s *InMemoryStore) update(id string, fn func(rec *entities.CallSession) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.sessions[id]
	if !ok {
		return apperrors.NewNotFoundError("call session not found")
	}
	if err := fn(&stored.record); err != nil {
		return err
	}
	stored.record.UpdatedAt = s.clock.Now().UTC()
	s.publishLocked(id)
	return nil
}

// AppendCandidate appends to the candidates sequence
func (s *InMemoryStore) AppendCandidate(ctx context.Context, id string, candidate entities.CandidateRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.sessions[id]
	if !ok {
		return 0, apperrors.NewNotFoundError("call session not found")
	}
	candidate.Seq = int64(len(stored.candidates)) + 1
	if candidate.CreatedAt.IsZero() {
		candidate.CreatedAt = s.clock.Now().UTC()
	}
	stored.candidates = append(stored.candidates, candidate)

	for mb := range s.candidateWatchers[id] {
		mb.push(candidate)
	}
	return candidate.Seq, nil
}

// ListCandidates returns candidates appended after afterSeq
func (s *InMemoryStore) ListCandidates(ctx context.Context, id string, afterSeq int64) ([]entities.CandidateRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	var out []entities.CandidateRecord
	for _, c := range stored.candidates {
		if c.Seq > afterSeq {
			out = append(out, c)
		}
	}
	return out, nil
}

// WatchSession streams snapshots of the record until ctx is done
func (s *InMemoryStore) WatchSession(ctx context.Context, id string) (<-chan providers.SessionSnapshot, error) {
	mb := newMailbox[providers.SessionSnapshot](ctx)

	s.mu.Lock()
	if s.sessionWatchers[id] == nil {
		s.sessionWatchers[id] = make(map[*mailbox[providers.SessionSnapshot]]struct{})
	}
	s.sessionWatchers[id][mb] = struct{}{}
	if stored, ok := s.sessions[id]; ok {
		mb.push(providers.SessionSnapshot{Session: cloneSession(&stored.record)})
	}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.sessionWatchers[id], mb)
		if len(s.sessionWatchers[id]) == 0 {
			delete(s.sessionWatchers, id)
		}
		s.mu.Unlock()
	}()

	return mb.out, nil
}

// WatchCandidates streams appended candidates until ctx is done
func (s *InMemoryStore) WatchCandidates(ctx context.Context, id string) (<-chan entities.CandidateRecord, error) {
	mb := newMailbox[entities.CandidateRecord](ctx)

	s.mu.Lock()
	if s.candidateWatchers[id] == nil {
		s.candidateWatchers[id] = make(map[*mailbox[entities.CandidateRecord]]struct{})
	}
	s.candidateWatchers[id][mb] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.candidateWatchers[id], mb)
		if len(s.candidateWatchers[id]) == 0 {
			delete(s.candidateWatchers, id)
		}
		s.mu.Unlock()
	}()

	return mb.out, nil
}

// DeleteSession removes the record and its candidates
func (s *InMemoryStore) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return nil
	}
	delete(s.sessions, id)
	for mb := range s.sessionWatchers[id] {
		mb.push(providers.SessionSnapshot{Deleted: true})
	}
	return nil
}

// publishLocked must be called with s.mu held
func (s *InMemoryStore) publishLocked(id string) {
	stored, ok := s.sessions[id]
	if !ok {
		return
	}
	for mb := range s.sessionWatchers[id] {
		mb.push(providers.SessionSnapshot{Session: cloneSession(&stored.record)})
	}
}

func cloneSession(in *entities.CallSession) *entities.CallSession {
	out := *in
	if in.Offer != nil {
		offer := *in.Offer
		out.Offer = &offer
	}
	if in.Answer != nil {
		answer := *in.Answer
		out.Answer = &answer
	}
	return &out
}

// rebinds reports whether want would replace an already bound participant
func rebinds(bound, want string) bool {
	return bound != "" && want != "" && bound != want
}
