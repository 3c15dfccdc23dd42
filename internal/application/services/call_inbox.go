package services

import (
	"context"
	"slices"
	"sync"

	"github.com/zatekoja/telecare/internal/domain/entities"
)

// InboxSnapshot holds a user's pending calls split by the role they hold in each
type InboxSnapshot struct {
	AsPatient []*entities.ScheduledCall `json:"as_patient"`
	AsDoctor  []*entities.ScheduledCall `json:"as_doctor"`
}

// Union merges both sets, dropping duplicates by id, in upcoming order
func (s InboxSnapshot) Union() []*entities.ScheduledCall {
	seen := make(map[string]struct{}, len(s.AsPatient)+len(s.AsDoctor))
	out := make([]*entities.ScheduledCall, 0, len(s.AsPatient)+len(s.AsDoctor))
	for _, set := range [][]*entities.ScheduledCall{s.AsPatient, s.AsDoctor} {
		for _, call := range set {
			if _, dup := seen[call.ID]; dup {
				continue
			}
			seen[call.ID] = struct{}{}
			out = append(out, call)
		}
	}
	slices.SortStableFunc(out, entities.CompareUpcoming)
	return out
}

// CallInbox aggregates the pending calls a user takes part in as patient and as doctor.
// The two sets are tracked independently; an update to one never overwrites the other.
type CallInbox struct {
	scheduler *CallScheduler
}

// NewCallInbox creates an inbox over scheduler
func NewCallInbox(scheduler *CallScheduler) *CallInbox {
	return &CallInbox{scheduler: scheduler}
}

// Get returns the user's current inbox
func (i *CallInbox) Get(ctx context.Context, userID string) (*InboxSnapshot, error) {
	asPatient, err := i.scheduler.GetUpcomingCalls(ctx, userID)
	if err != nil {
		return nil, err
	}
	asDoctor, err := i.scheduler.GetDoctorUpcomingCalls(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &InboxSnapshot{AsPatient: asPatient, AsDoctor: asDoctor}, nil
}

// Subscribe invokes cb with the full inbox whenever either set changes.
// The returned function stops both subscriptions.
func (i *CallInbox) Subscribe(ctx context.Context, userID string, cb func(InboxSnapshot)) (func(), error) {
	var mu sync.Mutex
	var current InboxSnapshot

	emit := func(update func(*InboxSnapshot)) {
		mu.Lock()
		defer mu.Unlock()
		update(&current)
		cb(InboxSnapshot{
			AsPatient: slices.Clone(current.AsPatient),
			AsDoctor:  slices.Clone(current.AsDoctor),
		})
	}

	stopPatient, err := i.scheduler.SubscribeToCalls(ctx, userID, func(calls []*entities.ScheduledCall) {
		emit(func(s *InboxSnapshot) { s.AsPatient = calls })
	})
	if err != nil {
		return nil, err
	}
	stopDoctor, err := i.scheduler.SubscribeToDoctorCalls(ctx, userID, func(calls []*entities.ScheduledCall) {
		emit(func(s *InboxSnapshot) { s.AsDoctor = calls })
	})
	if err != nil {
		stopPatient()
		return nil, err
	}

	return func() {
		stopPatient()
		stopDoctor()
	}, nil
}
