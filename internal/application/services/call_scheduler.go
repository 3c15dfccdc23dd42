package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/zatekoja/telecare/internal/domain/entities"
	"github.com/zatekoja/telecare/internal/domain/providers"
	"github.com/zatekoja/telecare/internal/domain/repositories"
	"github.com/zatekoja/telecare/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/telecare/pkg/errors"
)

// ReminderCallback receives the full call payload when its reminder fires
type ReminderCallback func(ctx context.Context, call *entities.ScheduledCall)

// CallListCallback receives the current filtered list of pending calls
type CallListCallback func(calls []*entities.ScheduledCall)

// CallSchedulerConfig holds the scheduler's tunables
type CallSchedulerConfig struct {
	PublicOrigin string
	ReminderLead time.Duration
}

// CallScheduler admits immediate and scheduled calls and fires a reminder
// ReminderLead before each scheduled call. It is constructed once per process.
type CallScheduler struct {
	repo     repositories.ScheduledCallRepository
	bus      providers.EventBus
	notifier providers.ReminderNotifier
	clock    clock.Clock
	metrics  *observability.Metrics
	origin   string
	lead     time.Duration
	newID    func() string

	mu             sync.Mutex
	timers         map[string]*clock.Timer
	callbacks      map[int]ReminderCallback
	nextCallbackID int

	ctx    context.Context
	cancel context.CancelFunc
}

// NewCallScheduler creates a scheduler. notifier and metrics may be nil; a nil clock means wall time.
func NewCallScheduler(
	repo repositories.ScheduledCallRepository,
	bus providers.EventBus,
	notifier providers.ReminderNotifier,
	clk clock.Clock,
	metrics *observability.Metrics,
	cfg CallSchedulerConfig,
) *CallScheduler {
	if clk == nil {
		clk = clock.New()
	}
	if cfg.ReminderLead <= 0 {
		cfg.ReminderLead = 5 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &CallScheduler{
		repo:      repo,
		bus:       bus,
		notifier:  notifier,
		clock:     clk,
		metrics:   metrics,
		origin:    cfg.PublicOrigin,
		lead:      cfg.ReminderLead,
		newID:     uuid.NewString,
		timers:    make(map[string]*clock.Timer),
		callbacks: make(map[int]ReminderCallback),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// CreateCall validates details, persists a pending ScheduledCall and arms its reminder
func (s *CallScheduler) CreateCall(ctx context.Context, details entities.CallDetails) (string, error) {
	ctx, span := observability.StartSpan(ctx, "CallScheduler.CreateCall")
	defer span.End()

	if !details.IsImmediate && details.ScheduledTime == nil {
		return "", apperrors.NewInvalidScheduleError("scheduled_time is required when is_immediate is false")
	}
	if details.PatientID == "" || details.DoctorID == "" {
		return "", apperrors.NewValidationError("patient_id and doctor_id are required")
	}
	mode := details.Mode
	if mode == "" {
		mode = entities.CallModeVideo
	}
	if !mode.Valid() {
		return "", apperrors.NewValidationError(fmt.Sprintf("unknown call mode %q", mode))
	}
	if !mode.NeedsSession() {
		return "", apperrors.NewValidationError("in-person visits do not schedule calls")
	}

	now := s.clock.Now().UTC()
	id := s.newID()
	call := &entities.ScheduledCall{
		ID:            id,
		PatientID:     details.PatientID,
		DoctorID:      details.DoctorID,
		AppointmentID: details.AppointmentID,
		PatientName:   details.PatientName,
		PatientPhone:  details.PatientPhone,
		Issue:         details.Issue,
		Mode:          mode,
		IsImmediate:   details.IsImmediate,
		Status:        entities.ScheduledCallStatusPending,
		CallLink:      entities.BuildCallLink(s.origin, id),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if !details.IsImmediate {
		t := details.ScheduledTime.UTC()
		call.ScheduledTime = &t
	}

	if err := s.repo.Create(ctx, call); err != nil {
		observability.RecordError(span, err)
		return "", asPersistenceError("failed to save scheduled call", err)
	}

	logger := observability.LoggerFromContext(ctx).With().Str("call_id", id).Logger()
	if s.armReminder(call) {
		logger.Info().Time("scheduled_time", *call.ScheduledTime).Msg("scheduled call created, reminder armed")
	} else {
		logger.Info().Bool("immediate", call.IsImmediate).Msg("scheduled call created")
	}

	observability.RecordCallCreated(ctx, s.metrics, string(mode), call.IsImmediate)
	s.publish(ctx, entities.CallEventCreated, call)
	return id, nil
}

// UpdateCallStatus moves a call to status. A missing record is logged and ignored.
func (s *CallScheduler) UpdateCallStatus(ctx context.Context, id string, status entities.ScheduledCallStatus) error {
	if !status.Valid() {
		return apperrors.NewValidationError(fmt.Sprintf("unknown call status %q", status))
	}
	logger := observability.LoggerFromContext(ctx).With().Str("call_id", id).Str("status", string(status)).Logger()

	if status != entities.ScheduledCallStatusPending {
		s.disarm(id)
	}

	err := s.repo.UpdateStatus(ctx, id, status, s.clock.Now().UTC())
	if apperrors.IsType(err, apperrors.ErrorTypeNotFound) {
		logger.Warn().Msg("status update for missing scheduled call ignored")
		return nil
	}
	if err != nil {
		return asPersistenceError("failed to update scheduled call", err)
	}

	call, err := s.repo.GetByID(ctx, id)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to reload scheduled call after status update")
		return nil
	}
	if status == entities.ScheduledCallStatusPending {
		s.armReminder(call)
	}
	s.publish(ctx, entities.CallEventStatusChanged, call)
	return nil
}

// GetCall returns one scheduled call
func (s *CallScheduler) GetCall(ctx context.Context, id string) (*entities.ScheduledCall, error) {
	call, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if apperrors.IsType(err, apperrors.ErrorTypeNotFound) {
			return nil, err
		}
		return nil, asPersistenceError("failed to read scheduled call", err)
	}
	return call, nil
}

// GetUpcomingCalls returns a patient's pending calls, immediate calls first then by scheduled time
func (s *CallScheduler) GetUpcomingCalls(ctx context.Context, patientID string) ([]*entities.ScheduledCall, error) {
	return s.listPending(ctx, repositories.ScheduledCallFilter{PatientID: patientID})
}

// GetDoctorUpcomingCalls returns a doctor's pending calls in the same order
func (s *CallScheduler) GetDoctorUpcomingCalls(ctx context.Context, doctorID string) ([]*entities.ScheduledCall, error) {
	return s.listPending(ctx, repositories.ScheduledCallFilter{DoctorID: doctorID})
}

func (s *CallScheduler) listPending(ctx context.Context, filter repositories.ScheduledCallFilter) ([]*entities.ScheduledCall, error) {
	filter.Status = entities.ScheduledCallStatusPending
	calls, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, asPersistenceError("failed to list scheduled calls", err)
	}
	return calls, nil
}

// SubscribeToCalls invokes cb with the patient's pending calls now and after every change.
// The returned function stops the subscription and waits for an in-flight callback;
// it must not be called from inside cb.
func (s *CallScheduler) SubscribeToCalls(ctx context.Context, patientID string, cb CallListCallback) (func(), error) {
	return s.subscribe(ctx, providers.GetPatientCallsChannel(patientID), func(ctx context.Context) ([]*entities.ScheduledCall, error) {
		return s.GetUpcomingCalls(ctx, patientID)
	}, cb)
}

// SubscribeToDoctorCalls is SubscribeToCalls keyed by doctor
func (s *CallScheduler) SubscribeToDoctorCalls(ctx context.Context, doctorID string, cb CallListCallback) (func(), error) {
	return s.subscribe(ctx, providers.GetDoctorCallsChannel(doctorID), func(ctx context.Context) ([]*entities.ScheduledCall, error) {
		return s.GetDoctorUpcomingCalls(ctx, doctorID)
	}, cb)
}

func (s *CallScheduler) subscribe(
	ctx context.Context,
	channel string,
	query func(ctx context.Context) ([]*entities.ScheduledCall, error),
	cb CallListCallback,
) (func(), error) {
	subCtx, cancel := context.WithCancel(ctx)

	events, err := s.bus.Subscribe(subCtx, channel)
	if err != nil {
		cancel()
		return nil, apperrors.NewPersistenceError("failed to subscribe to scheduled calls", err)
	}

	initial, err := query(subCtx)
	if err != nil {
		cancel()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		logger := observability.LoggerFromContext(ctx).With().Str("channel", channel).Logger()

		cb(initial)
		for {
			select {
			case <-subCtx.Done():
				return
			case _, ok := <-events:
				if !ok {
					return
				}
				// several events may describe one change; re-query once
				drainEvents(events)

				calls, err := query(subCtx)
				if err != nil {
					if subCtx.Err() == nil {
						logger.Warn().Err(err).Msg("failed to refresh scheduled calls")
					}
					continue
				}
				if subCtx.Err() != nil {
					return
				}
				cb(calls)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}, nil
}

func drainEvents(events <-chan *entities.CallEvent) {
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// CancelCall disarms the reminder and marks the call cancelled; the record is kept
func (s *CallScheduler) CancelCall(ctx context.Context, id string) error {
	s.disarm(id)

	if err := s.repo.UpdateStatus(ctx, id, entities.ScheduledCallStatusCancelled, s.clock.Now().UTC()); err != nil {
		if apperrors.IsType(err, apperrors.ErrorTypeNotFound) {
			return err
		}
		return asPersistenceError("failed to cancel scheduled call", err)
	}

	observability.LoggerFromContext(ctx).Info().Str("call_id", id).Msg("scheduled call cancelled")
	if call, err := s.repo.GetByID(ctx, id); err == nil {
		s.publish(ctx, entities.CallEventCancelled, call)
	}
	return nil
}

// OnReminder registers cb for every fired reminder and returns a function removing it
func (s *CallScheduler) OnReminder(cb ReminderCallback) func() {
	s.mu.Lock()
	id := s.nextCallbackID
	s.nextCallbackID++
	s.callbacks[id] = cb
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.callbacks, id)
		s.mu.Unlock()
	}
}

// Restore re-arms reminders for pending scheduled calls after a restart and returns how many were armed.
// Calls whose reminder instant already passed, or whose reminder was sent, are skipped.
func (s *CallScheduler) Restore(ctx context.Context) (int, error) {
	calls, err := s.repo.List(ctx, repositories.ScheduledCallFilter{
		Status:          entities.ScheduledCallStatusPending,
		ReminderPending: true,
	})
	if err != nil {
		return 0, asPersistenceError("failed to scan pending calls", err)
	}

	armed := 0
	for _, call := range calls {
		if s.armReminder(call) {
			armed++
		}
	}
	observability.LoggerFromContext(ctx).Info().Int("pending", len(calls)).Int("armed", armed).Msg("reminders restored")
	return armed, nil
}

// Armed reports whether a reminder timer is currently armed for id
func (s *CallScheduler) Armed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[id]
	return ok
}

// Close stops every armed timer
func (s *CallScheduler) Close() {
	s.cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

// armReminder arms a one-shot timer at ScheduledTime-lead; it reports false if
// the call needs no reminder, the instant has passed, or a timer is already armed.
func (s *CallScheduler) armReminder(call *entities.ScheduledCall) bool {
	if call.Status != entities.ScheduledCallStatusPending || call.ReminderSentAt != nil {
		return false
	}
	at, ok := call.ReminderAt(s.lead)
	if !ok {
		return false
	}
	delay := at.Sub(s.clock.Now())
	if delay <= 0 {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	if _, exists := s.timers[call.ID]; exists {
		return false
	}
	id := call.ID
	s.timers[id] = s.clock.AfterFunc(delay, func() { s.fireReminder(id) })
	return true
}

func (s *CallScheduler) disarm(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
}

func (s *CallScheduler) fireReminder(id string) {
	s.mu.Lock()
	if _, ok := s.timers[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.timers, id)
	callbacks := make([]ReminderCallback, 0, len(s.callbacks))
	for _, cb := range s.callbacks {
		callbacks = append(callbacks, cb)
	}
	s.mu.Unlock()

	ctx := s.ctx
	logger := observability.GetLogger().With().Str("call_id", id).Logger()

	call, err := s.repo.GetByID(ctx, id)
	if err != nil {
		logger.Warn().Err(err).Msg("reminder skipped: scheduled call unavailable")
		return
	}
	if call.Status != entities.ScheduledCallStatusPending || call.ReminderSentAt != nil {
		return
	}

	now := s.clock.Now().UTC()
	if err := s.repo.MarkReminderSent(ctx, id, now); err != nil {
		logger.Warn().Err(err).Msg("failed to record reminder")
	}
	call.ReminderSentAt = &now

	if s.notifier != nil {
		if err := s.notifier.NotifyCallReminder(ctx, call); err != nil {
			logger.Warn().Err(err).Msg("reminder notification failed")
		}
	}
	for _, cb := range callbacks {
		s.runCallback(cb, call)
	}

	observability.RecordReminderFired(ctx, s.metrics)
	s.publish(ctx, entities.CallEventReminder, call)
	logger.Info().Msg("call reminder fired")
}

func (s *CallScheduler) runCallback(cb ReminderCallback, call *entities.ScheduledCall) {
	defer func() {
		if r := recover(); r != nil {
			observability.GetLogger().Error().Interface("panic", r).Str("call_id", call.ID).Msg("reminder callback panicked")
		}
	}()
	cb(s.ctx, call)
}

func (s *CallScheduler) publish(ctx context.Context, eventType entities.CallEventType, call *entities.ScheduledCall) {
	if s.bus == nil {
		return
	}
	event := entities.NewCallEvent(eventType, call, s.clock.Now().UTC())
	for _, channel := range []string{
		providers.GetPatientCallsChannel(call.PatientID),
		providers.GetDoctorCallsChannel(call.DoctorID),
		providers.EventChannelCallUpdates,
	} {
		if err := s.bus.Publish(ctx, channel, event); err != nil {
			observability.LoggerFromContext(ctx).Warn().Err(err).Str("channel", channel).Msg("failed to publish call event")
		}
	}
}

func asPersistenceError(message string, err error) error {
	if apperrors.IsType(err, apperrors.ErrorTypePersistence) {
		return err
	}
	return apperrors.NewPersistenceError(message, err)
}

// GetCallsForAppointment returns every scheduled call booked for an appointment, regardless of status
func (s *CallScheduler) GetCallsForAppointment(ctx context.Context, appointmentID string) ([]*entities.ScheduledCall, error) {
	calls, err := s.repo.List(ctx, repositories.ScheduledCallFilter{AppointmentID: appointmentID})
	if err != nil {
		return nil, asPersistenceError("failed to list appointment calls", err)
	}
	return calls, nil
}

// GetStaleActiveCalls returns active calls not updated since before
func (s *CallScheduler) GetStaleActiveCalls(ctx context.Context, before time.Time) ([]*entities.ScheduledCall, error) {
	calls, err := s.repo.List(ctx, repositories.ScheduledCallFilter{
		Status:        entities.ScheduledCallStatusActive,
		UpdatedBefore: &before,
	})
	if err != nil {
		return nil, asPersistenceError("failed to list active calls", err)
	}
	return calls, nil
}
