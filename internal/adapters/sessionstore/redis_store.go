package sessionstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/redis/go-redis/v9"
	"github.com/zatekoja/telecare/internal/domain/entities"
	"github.com/zatekoja/telecare/internal/domain/providers"
	redisclient "github.com/zatekoja/telecare/internal/infrastructure/clients/redis"
	"github.com/zatekoja/telecare/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/telecare/pkg/errors"
)

const (
	keyPrefix    = "calls:"
	eventDeleted = "deleted"

	defaultExpiryCheck = 30 * time.Second
)

func sessionKey(id string) string { return keyPrefix + id }
func candidatesKey(id string) string { return keyPrefix + id + ":candidates" }
func sessionEvents(id string) string { return keyPrefix + id + ":events" }
func candidateEvents(id string) string { return keyPrefix + id + ":candidates:events" }

// KEYS[1]=session KEYS[2]=events ARGV[1]=id ARGV[2]=now ARGV[3]=ttl ms
var ensureScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'id', ARGV[1], 'status', 'waiting', 'created_at', ARGV[2], 'updated_at', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
redis.call('PUBLISH', KEYS[2], 'updated')
return 1
`)

// KEYS[1]=session KEYS[2]=events ARGV[1]=id ARGV[2]=initiator ARGV[3]=now ARGV[4]=ttl ms, then field/value pairs
var claimScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  redis.call('HSET', KEYS[1], 'id', ARGV[1], 'status', 'waiting', 'created_at', ARGV[3])
end
local current = redis.call('HGET', KEYS[1], 'initiator_id')
if current and current ~= '' and current ~= ARGV[2] then
  return 0
end
for i = 5, #ARGV, 2 do
  if (ARGV[i] == 'doctor_id' or ARGV[i] == 'patient_id') and ARGV[i + 1] ~= '' then
    local bound = redis.call('HGET', KEYS[1], ARGV[i])
    if bound and bound ~= '' and bound ~= ARGV[i + 1] then
      return 0
    end
  end
end
redis.call('HSET', KEYS[1], 'initiator_id', ARGV[2], 'updated_at', ARGV[3])
for i = 5, #ARGV, 2 do
  if ARGV[i + 1] ~= '' then
    redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
  end
end
redis.call('PEXPIRE', KEYS[1], ARGV[4])
redis.call('PUBLISH', KEYS[2], 'updated')
return 1
`)

// KEYS[1]=session KEYS[2]=events ARGV[1]=field ARGV[2]=value ARGV[3]=now ARGV[4]=ttl ms
var setFieldScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2], 'updated_at', ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
redis.call('PUBLISH', KEYS[2], 'updated')
return 1
`)

// KEYS[1]=session KEYS[2]=events ARGV[1]=answer ARGV[2]=now ARGV[3]=ttl ms
var setAnswerScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
local offer = redis.call('HGET', KEYS[1], 'offer')
if not offer or offer == '' then
  return -1
end
redis.call('HSET', KEYS[1], 'answer', ARGV[1], 'status', 'active', 'updated_at', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
redis.call('PUBLISH', KEYS[2], 'updated')
return 1
`)

// KEYS[1]=session KEYS[2]=candidates KEYS[3]=candidate events ARGV[1]=candidate json ARGV[2]=ttl ms
var appendCandidateScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
local seq = redis.call('RPUSH', KEYS[2], ARGV[1])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
redis.call('PEXPIRE', KEYS[2], ARGV[2])
redis.call('PUBLISH', KEYS[3], seq .. ':' .. ARGV[1])
return seq
`)

// RemoteStore implements providers.SessionStore on Redis.
//
// The record is a hash at calls:{id}; candidates are a list at
// calls:{id}:candidates whose 1-based index is the candidate Seq.
// Changes are announced on calls:{id}:events and calls:{id}:candidates:events.
// Every write extends the TTL; a record that expires anyway is reported to
// watchers as deleted by a periodic existence check.
type RemoteStore struct {
	client      *redisclient.Client
	clock       clock.Clock
	ttl         time.Duration
	expiryCheck time.Duration
}

// NewRemoteStore creates a Redis session store; ttl bounds abandoned records
func NewRemoteStore(client *redisclient.Client, ttl time.Duration, clk clock.Clock) *RemoteStore {
	if clk == nil {
		clk = clock.New()
	}
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &RemoteStore{client: client, clock: clk, ttl: ttl, expiryCheck: defaultExpiryCheck}
}

// SetExpiryCheck changes how often watchers look for an expired record
func (s *RemoteStore) SetExpiryCheck(d time.Duration) {
	s.expiryCheck = d
}

var _ providers.SessionStore = (*RemoteStore)(nil)

func (s *RemoteStore) now() string {
	return s.clock.Now().UTC().Format(time.RFC3339Nano)
}

// EnsureSession creates a placeholder record when id is absent
func (s *RemoteStore) EnsureSession(ctx context.Context, id string) (*entities.CallSession, error) {
	if id == "" {
		return nil, apperrors.NewValidationError("session id is required")
	}
	rdb := s.client.Client()
	if err := ensureScript.Run(ctx, rdb, []string{sessionKey(id), sessionEvents(id)}, id, s.now(), s.ttl.Milliseconds()).Err(); err != nil {
		return nil, apperrors.NewPersistenceError("failed to ensure call session", err)
	}
	return s.GetSession(ctx, id)
}

// ClaimSession marks session.InitiatorID as the creator of the record
func (s *RemoteStore) ClaimSession(ctx context.Context, session *entities.CallSession) (*entities.CallSession, error) {
	if session == nil || session.ID == "" || session.InitiatorID == "" {
		return nil, apperrors.NewValidationError("session id and initiator are required")
	}
	args := []interface{}{
		session.ID, session.InitiatorID, s.now(), s.ttl.Milliseconds(),
		"appointment_id", session.AppointmentID,
		"doctor_id", session.DoctorID,
		"patient_id", session.PatientID,
		"mode", string(session.Mode),
	}
	res, err := claimScript.Run(ctx, s.client.Client(), []string{sessionKey(session.ID), sessionEvents(session.ID)}, args...).Int()
	if err != nil {
		return nil, apperrors.NewPersistenceError("failed to claim call session", err)
	}
	if res == 0 {
		return nil, apperrors.NewConflictError("session already bound to other participants")
	}
	return s.GetSession(ctx, session.ID)
}

// GetSession reads the record hash
func (s *RemoteStore) GetSession(ctx context.Context, id string) (*entities.CallSession, error) {
	fields, err := s.client.Client().HGetAll(ctx, sessionKey(id)).Result()
	if err != nil {
		return nil, apperrors.NewPersistenceError("failed to read call session", err)
	}
	if len(fields) == 0 {
		return nil, apperrors.NewNotFoundError("call session not found")
	}
	session, err := decodeSession(fields)
	if err != nil {
		return nil, apperrors.NewPersistenceError("corrupt call session record", err)
	}
	return session, nil
}

// SetOffer writes the offer field
func (s *RemoteStore) SetOffer(ctx context.Context, id string, offer entities.SessionDescription) error {
	data, err := json.Marshal(offer)
	if err != nil {
		return apperrors.NewValidationError("invalid offer")
	}
	return s.setField(ctx, id, "offer", string(data))
}

// SetStatus writes the status field
func (s *RemoteStore) SetStatus(ctx context.Context, id string, status entities.CallSessionStatus) error {
	return s.setField(ctx, id, "status", string(status))
}

func (s *RemoteStore) setField(ctx context.Context, id, field, value string) error {
	res, err := setFieldScript.Run(ctx, s.client.Client(), []string{sessionKey(id), sessionEvents(id)}, field, value, s.now(), s.ttl.Milliseconds()).Int()
	if err != nil {
		return apperrors.NewPersistenceError("failed to update call session", err)
	}
	if res == 0 {
		return apperrors.NewNotFoundError("call session not found")
	}
	return nil
}

// SetAnswer writes the answer once an offer exists
func (s *RemoteStore) SetAnswer(ctx context.Context, id string, answer entities.SessionDescription) error {
	data, err := json.Marshal(answer)
	if err != nil {
		return apperrors.NewValidationError("invalid answer")
	}
	res, err := setAnswerScript.Run(ctx, s.client.Client(), []string{sessionKey(id), sessionEvents(id)}, string(data), s.now(), s.ttl.Milliseconds()).Int()
	if err != nil {
		return apperrors.NewPersistenceError("failed to write answer", err)
	}
	switch res {
	case 0:
		return apperrors.NewNotFoundError("call session not found")
	case -1:
		return apperrors.NewSignalingProtocolError("answer written before offer")
	}
	return nil
}

// AppendCandidate appends to the candidates list; the list length is the Seq
func (s *RemoteStore) AppendCandidate(ctx context.Context, id string, candidate entities.CandidateRecord) (int64, error) {
	candidate.Seq = 0
	if candidate.CreatedAt.IsZero() {
		candidate.CreatedAt = s.clock.Now().UTC()
	}
	data, err := json.Marshal(candidate)
	if err != nil {
		return 0, apperrors.NewValidationError("invalid candidate")
	}
	seq, err := appendCandidateScript.Run(ctx, s.client.Client(),
		[]string{sessionKey(id), candidatesKey(id), candidateEvents(id)},
		string(data), s.ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return 0, apperrors.NewPersistenceError("failed to append candidate", err)
	}
	if seq == 0 {
		return 0, apperrors.NewNotFoundError("call session not found")
	}
	return seq, nil
}

// ListCandidates returns candidates with Seq greater than afterSeq
func (s *RemoteStore) ListCandidates(ctx context.Context, id string, afterSeq int64) ([]entities.CandidateRecord, error) {
	if afterSeq < 0 {
		afterSeq = 0
	}
	raw, err := s.client.Client().LRange(ctx, candidatesKey(id), afterSeq, -1).Result()
	if err != nil {
		return nil, apperrors.NewPersistenceError("failed to list candidates", err)
	}
	out := make([]entities.CandidateRecord, 0, len(raw))
	for i, item := range raw {
		var rec entities.CandidateRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, apperrors.NewPersistenceError("corrupt candidate record", err)
		}
		rec.Seq = afterSeq + int64(i) + 1
		out = append(out, rec)
	}
	return out, nil
}

// WatchSession subscribes to record changes, then emits the current record
func (s *RemoteStore) WatchSession(ctx context.Context, id string) (<-chan providers.SessionSnapshot, error) {
	pubsub := s.client.Client().Subscribe(ctx, sessionEvents(id))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, apperrors.NewPersistenceError("failed to subscribe to call session", err)
	}

	out := make(chan providers.SessionSnapshot, 16)
	go func() {
		defer close(out)
		defer pubsub.Close()

		logger := observability.CallLogger(ctx, id)
		emit := func(snap providers.SessionSnapshot) bool {
			select {
			case out <- snap:
				return true
			case <-ctx.Done():
				return false
			}
		}
		reload := func() (providers.SessionSnapshot, bool) {
			session, err := s.GetSession(ctx, id)
			switch {
			case err == nil:
				return providers.SessionSnapshot{Session: session}, true
			case apperrors.IsType(err, apperrors.ErrorTypeNotFound):
				return providers.SessionSnapshot{Deleted: true}, true
			default:
				if ctx.Err() == nil {
					logger.Warn().Err(err).Msg("failed to reload call session")
				}
				return providers.SessionSnapshot{}, false
			}
		}

		if snap, ok := reload(); ok && !snap.Deleted {
			if !emit(snap) {
				return
			}
		}

		// expiry publishes nothing, so look for it
		expiry := s.clock.Ticker(s.expiryCheck)
		defer expiry.Stop()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-expiry.C:
				n, err := s.client.Client().Exists(ctx, sessionKey(id)).Result()
				if err != nil || n > 0 {
					continue
				}
				logger.Info().Msg("call session expired")
				emit(providers.SessionSnapshot{Deleted: true})
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var snap providers.SessionSnapshot
				if msg.Payload == eventDeleted {
					snap = providers.SessionSnapshot{Deleted: true}
				} else {
					var ok bool
					if snap, ok = reload(); !ok {
						continue
					}
				}
				if !emit(snap) {
					return
				}
			}
		}
	}()

	return out, nil
}

// WatchCandidates subscribes to appended candidates
func (s *RemoteStore) WatchCandidates(ctx context.Context, id string) (<-chan entities.CandidateRecord, error) {
	pubsub := s.client.Client().Subscribe(ctx, candidateEvents(id))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, apperrors.NewPersistenceError("failed to subscribe to candidates", err)
	}

	out := make(chan entities.CandidateRecord, 64)
	go func() {
		defer close(out)
		defer pubsub.Close()

		logger := observability.CallLogger(ctx, id)
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				rec, err := decodeCandidateEvent(msg.Payload)
				if err != nil {
					logger.Warn().Err(err).Msg("dropping malformed candidate event")
					continue
				}
				select {
				case out <- rec:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// DeleteSession removes the record and its candidates
func (s *RemoteStore) DeleteSession(ctx context.Context, id string) error {
	var deleted *redis.IntCmd
	_, err := s.client.Client().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.Del(ctx, sessionKey(id), candidatesKey(id))
		return nil
	})
	if err != nil {
		return apperrors.NewPersistenceError("failed to delete call session", err)
	}
	if deleted.Val() > 0 {
		if err := s.client.Client().Publish(ctx, sessionEvents(id), eventDeleted).Err(); err != nil {
			return apperrors.NewPersistenceError("failed to announce call session deletion", err)
		}
	}
	return nil
}

func decodeSession(fields map[string]string) (*entities.CallSession, error) {
	session := &entities.CallSession{
		ID:            fields["id"],
		AppointmentID: fields["appointment_id"],
		DoctorID:      fields["doctor_id"],
		PatientID:     fields["patient_id"],
		InitiatorID:   fields["initiator_id"],
		Mode:          entities.CallMode(fields["mode"]),
		Status:        entities.CallSessionStatus(fields["status"]),
	}
	if v := fields["offer"]; v != "" {
		var offer entities.SessionDescription
		if err := json.Unmarshal([]byte(v), &offer); err != nil {
			return nil, fmt.Errorf("offer: %w", err)
		}
		session.Offer = &offer
	}
	if v := fields["answer"]; v != "" {
		var answer entities.SessionDescription
		if err := json.Unmarshal([]byte(v), &answer); err != nil {
			return nil, fmt.Errorf("answer: %w", err)
		}
		session.Answer = &answer
	}
	var err error
	if session.CreatedAt, err = parseTime(fields["created_at"]); err != nil {
		return nil, fmt.Errorf("created_at: %w", err)
	}
	if session.UpdatedAt, err = parseTime(fields["updated_at"]); err != nil {
		return nil, fmt.Errorf("updated_at: %w", err)
	}
	return session, nil
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, v)
}

// decodeCandidateEvent parses "<seq>:<json>"
func decodeCandidateEvent(payload string) (entities.CandidateRecord, error) {
	var rec entities.CandidateRecord
	seqStr, body, ok := strings.Cut(payload, ":")
	if !ok {
		return rec, fmt.Errorf("missing sequence prefix")
	}
	seq, err := strconv.ParseInt(seqStr, 10, 64)
	if err != nil {
		return rec, fmt.Errorf("invalid sequence: %w", err)
	}
	if err := json.Unmarshal([]byte(body), &rec); err != nil {
		return rec, err
	}
	rec.Seq = seq
	return rec, nil
}
