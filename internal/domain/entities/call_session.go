package entities

import (
	"time"
)

// CallMode is how a consultation is held
type CallMode string

const (
	CallModeVideo CallMode = "video"
	CallModeVoice CallMode = "voice"
	// CallModeVisit is an in-person visit; it never produces a CallSession
	CallModeVisit CallMode = "visit"
)

// Valid reports whether m is a known mode
func (m CallMode) Valid() bool {
	switch m {
	case CallModeVideo, CallModeVoice, CallModeVisit:
		return true
	}
	return false
}

// NeedsSession reports whether the mode requires peer-to-peer signaling
func (m CallMode) NeedsSession() bool {
	return m == CallModeVideo || m == CallModeVoice
}

// Role is a participant's fixed role in a two-party call
type Role string

const (
	// RoleInitiator creates the CallSession record and writes the offer
	RoleInitiator Role = "initiator"
	// RoleResponder waits for the offer and writes the answer
	RoleResponder Role = "responder"
)

// Valid reports whether r is one of the two call roles
func (r Role) Valid() bool {
	return r == RoleInitiator || r == RoleResponder
}

// Remote returns the opposite role
func (r Role) Remote() Role {
	if r == RoleInitiator {
		return RoleResponder
	}
	return RoleInitiator
}

// CallSessionStatus is bookkeeping for cleanup; it is not the peer connection state
type CallSessionStatus string

const (
	CallSessionStatusWaiting CallSessionStatus = "waiting"
	CallSessionStatusActive  CallSessionStatus = "active"
	CallSessionStatusEnded   CallSessionStatus = "ended"
)

// SessionDescriptionType mirrors the SDP type of an offer or answer
type SessionDescriptionType string

const (
	SDPTypeOffer  SessionDescriptionType = "offer"
	SDPTypeAnswer SessionDescriptionType = "answer"
)

// SessionDescription is an opaque SDP blob exchanged through the session record
type SessionDescription struct {
	Type SessionDescriptionType `json:"type"`
	SDP  string                 `json:"sdp"`
}

// ICECandidate is an opaque trickle-ICE candidate
type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// CandidateRecord is one entry of a session's append-only candidate sequence
type CandidateRecord struct {
	// Seq is the 1-based position in the sequence, assigned by the store
	Seq        int64        `json:"seq"`
	SenderRole Role         `json:"sender_role"`
	SenderID   string       `json:"sender_id,omitempty"`
	Candidate  ICECandidate `json:"candidate"`
	CreatedAt  time.Time    `json:"created_at"`
}

// CallSession is the shared mutable record both peers read and write
type CallSession struct {
	ID            string              `json:"id"`
	AppointmentID string              `json:"appointment_id,omitempty"`
	DoctorID      string              `json:"doctor_id,omitempty"`
	PatientID     string              `json:"patient_id,omitempty"`
	// InitiatorID is the participant that created the record; empty while the record is a placeholder
	InitiatorID string              `json:"initiator_id,omitempty"`
	Mode        CallMode            `json:"mode,omitempty"`
	Offer       *SessionDescription `json:"offer,omitempty"`
	Answer      *SessionDescription `json:"answer,omitempty"`
	Status      CallSessionStatus   `json:"status"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// IsPlaceholder reports whether the record was created by a joiner before the initiator claimed it
func (s *CallSession) IsPlaceholder() bool {
	return s.InitiatorID == ""
}

// IsParticipant reports whether userID is the doctor or the patient of the session
func (s *CallSession) IsParticipant(userID string) bool {
	return userID != "" && (userID == s.DoctorID || userID == s.PatientID)
}

// AcceptsResponder reports whether userID may hold the responder seat of a claimed
// record: it is the bound patient, or no patient is bound yet and userID is not the doctor.
func (s *CallSession) AcceptsResponder(userID string) bool {
	if userID == "" || s.IsPlaceholder() || userID == s.InitiatorID || userID == s.DoctorID {
		return false
	}
	return s.PatientID == "" || s.PatientID == userID
}

// RoleOf returns the role userID occupies, based on the initiator rule
func (s *CallSession) RoleOf(userID string) (Role, bool) {
	if !s.IsParticipant(userID) {
		return "", false
	}
	if userID == s.InitiatorID {
		return RoleInitiator, true
	}
	return RoleResponder, true
}
