package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/zatekoja/telecare/internal/application/services"
	"github.com/zatekoja/telecare/internal/domain/entities"
)

// CallScheduler is the part of the admission scheduler the API exposes
type CallScheduler interface {
	CreateCall(ctx context.Context, details entities.CallDetails) (string, error)
	GetCall(ctx context.Context, id string) (*entities.ScheduledCall, error)
	UpdateCallStatus(ctx context.Context, id string, status entities.ScheduledCallStatus) error
	CancelCall(ctx context.Context, id string) error
	GetUpcomingCalls(ctx context.Context, patientID string) ([]*entities.ScheduledCall, error)
}

// CallInbox returns a user's pending calls in both roles
type CallInbox interface {
	Get(ctx context.Context, userID string) (*services.InboxSnapshot, error)
}

// CallHandler handles scheduled call requests
type CallHandler struct {
	scheduler CallScheduler
	inbox     CallInbox
}

// NewCallHandler creates a new call handler
func NewCallHandler(scheduler CallScheduler, inbox CallInbox) *CallHandler {
	return &CallHandler{
		scheduler: scheduler,
		inbox:     inbox,
	}
}

// CreateCall handles POST /api/calls
func (h *CallHandler) CreateCall(w http.ResponseWriter, r *http.Request) {
	var details entities.CallDetails
	if err := json.NewDecoder(r.Body).Decode(&details); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request payload")
		return
	}

	id, err := h.scheduler.CreateCall(r.Context(), details)
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	call, err := h.scheduler.GetCall(r.Context(), id)
	if err != nil {
		respondWithJSON(w, http.StatusCreated, map[string]string{"id": id})
		return
	}
	respondWithJSON(w, http.StatusCreated, call)
}

// GetCall handles GET /api/calls/{id}
func (h *CallHandler) GetCall(w http.ResponseWriter, r *http.Request) {
	call, err := h.scheduler.GetCall(r.Context(), r.PathValue("id"))
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, call)
}

type statusRequest struct {
	Status entities.ScheduledCallStatus `json:"status"`
}

// UpdateStatus handles PATCH /api/calls/{id}/status
func (h *CallHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request payload")
		return
	}

	if err := h.scheduler.UpdateCallStatus(r.Context(), r.PathValue("id"), req.Status); err != nil {
		respondWithAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CancelCall handles POST /api/calls/{id}/cancel
func (h *CallHandler) CancelCall(w http.ResponseWriter, r *http.Request) {
	if err := h.scheduler.CancelCall(r.Context(), r.PathValue("id")); err != nil {
		respondWithAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetUpcomingCalls handles GET /api/patients/{id}/calls/upcoming
func (h *CallHandler) GetUpcomingCalls(w http.ResponseWriter, r *http.Request) {
	calls, err := h.scheduler.GetUpcomingCalls(r.Context(), r.PathValue("id"))
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"calls": calls,
		"count": len(calls),
	})
}

// GetInbox handles GET /api/users/{id}/calls/inbox. Users may only read their own inbox.
func (h *CallHandler) GetInbox(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	who, ok := identityFrom(r)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	if who.UserID != userID {
		respondWithError(w, http.StatusForbidden, "cannot read another user's calls")
		return
	}

	snap, err := h.inbox.Get(r.Context(), userID)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"as_patient": snap.AsPatient,
		"as_doctor":  snap.AsDoctor,
		"calls":      snap.Union(),
	})
}
