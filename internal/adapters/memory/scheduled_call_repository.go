package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/zatekoja/telecare/internal/domain/entities"
	"github.com/zatekoja/telecare/internal/domain/repositories"
	apperrors "github.com/zatekoja/telecare/pkg/errors"
)

// ScheduledCallRepository keeps scheduled calls in a map
type ScheduledCallRepository struct {
	mu    sync.RWMutex
	calls map[string]*entities.ScheduledCall
}

// NewScheduledCallRepository creates an empty repository
func NewScheduledCallRepository() *ScheduledCallRepository {
	return &ScheduledCallRepository{calls: make(map[string]*entities.ScheduledCall)}
}

var _ repositories.ScheduledCallRepository = (*ScheduledCallRepository)(nil)

func (r *ScheduledCallRepository) Create(ctx context.Context, call *entities.ScheduledCall) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.calls[call.ID]; exists {
		return apperrors.NewConflictError("scheduled call already exists")
	}
	r.calls[call.ID] = cloneCall(call)
	return nil
}

func (r *ScheduledCallRepository) GetByID(ctx context.Context, id string) (*entities.ScheduledCall, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	call, ok := r.calls[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("scheduled call not found")
	}
	return cloneCall(call), nil
}

func (r *ScheduledCallRepository) UpdateStatus(ctx context.Context, id string, status entities.ScheduledCallStatus, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	call, ok := r.calls[id]
	if !ok {
		return apperrors.NewNotFoundError("scheduled call not found")
	}
	call.Status = status
	call.UpdatedAt = at
	return nil
}

func (r *ScheduledCallRepository) MarkReminderSent(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	call, ok := r.calls[id]
	if !ok {
		return apperrors.NewNotFoundError("scheduled call not found")
	}
	call.ReminderSentAt = &at
	call.UpdatedAt = at
	return nil
}

func (r *ScheduledCallRepository) List(ctx context.Context, filter repositories.ScheduledCallFilter) ([]*entities.ScheduledCall, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*entities.ScheduledCall
	for _, call := range r.calls {
		if filter.PatientID != "" && call.PatientID != filter.PatientID {
			continue
		}
		if filter.DoctorID != "" && call.DoctorID != filter.DoctorID {
			continue
		}
		if filter.AppointmentID != "" && call.AppointmentID != filter.AppointmentID {
			continue
		}
		if filter.Status != "" && call.Status != filter.Status {
			continue
		}
		if filter.ReminderPending && (call.IsImmediate || call.ScheduledTime == nil || call.ReminderSentAt != nil) {
			continue
		}
		if filter.UpdatedBefore != nil && !call.UpdatedAt.Before(*filter.UpdatedBefore) {
			continue
		}
		out = append(out, cloneCall(call))
	}

	slices.SortStableFunc(out, entities.CompareUpcoming)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *ScheduledCallRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.calls, id)
	return nil
}

func cloneCall(in *entities.ScheduledCall) *entities.ScheduledCall {
	out := *in
	if in.ScheduledTime != nil {
		t := *in.ScheduledTime
		out.ScheduledTime = &t
	}
	if in.ReminderSentAt != nil {
		t := *in.ReminderSentAt
		out.ReminderSentAt = &t
	}
	return &out
}
