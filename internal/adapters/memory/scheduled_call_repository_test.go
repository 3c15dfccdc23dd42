package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/telecare/internal/domain/entities"
	"github.com/zatekoja/telecare/internal/domain/repositories"
	apperrors "github.com/zatekoja/telecare/pkg/errors"
)

func TestScheduledCallRepository_ListOrdering(t *testing.T) {
	repo := NewScheduledCallRepository()
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	later := base.Add(2 * time.Hour)
	sooner := base.Add(time.Hour)

	calls := []*entities.ScheduledCall{
		{ID: "later", PatientID: "p1", ScheduledTime: &later, Status: entities.ScheduledCallStatusPending, CreatedAt: base},
		{ID: "now-2", PatientID: "p1", IsImmediate: true, Status: entities.ScheduledCallStatusPending, CreatedAt: base.Add(time.Minute)},
		{ID: "sooner", PatientID: "p1", ScheduledTime: &sooner, Status: entities.ScheduledCallStatusPending, CreatedAt: base},
		{ID: "now-1", PatientID: "p1", IsImmediate: true, Status: entities.ScheduledCallStatusPending, CreatedAt: base},
		{ID: "other", PatientID: "p2", IsImmediate: true, Status: entities.ScheduledCallStatusPending, CreatedAt: base},
		{ID: "gone", PatientID: "p1", IsImmediate: true, Status: entities.ScheduledCallStatusCancelled, CreatedAt: base},
	}
	for _, c := range calls {
		require.NoError(t, repo.Create(ctx, c))
	}

	got, err := repo.List(ctx, repositories.ScheduledCallFilter{PatientID: "p1", Status: entities.ScheduledCallStatusPending})
	require.NoError(t, err)

	ids := make([]string, len(got))
	for i, c := range got {
		ids[i] = c.ID
	}
	assert.Equal(t, []string{"now-1", "now-2", "sooner", "later"}, ids)
}

func TestScheduledCallRepository_ReminderPending(t *testing.T) {
	repo := NewScheduledCallRepository()
	ctx := context.Background()
	start := time.Now().Add(time.Hour)

	require.NoError(t, repo.Create(ctx, &entities.ScheduledCall{ID: "a", ScheduledTime: &start, Status: entities.ScheduledCallStatusPending}))
	require.NoError(t, repo.Create(ctx, &entities.ScheduledCall{ID: "b", ScheduledTime: &start, Status: entities.ScheduledCallStatusPending}))
	require.NoError(t, repo.Create(ctx, &entities.ScheduledCall{ID: "c", IsImmediate: true, Status: entities.ScheduledCallStatusPending}))
	require.NoError(t, repo.MarkReminderSent(ctx, "b", time.Now()))

	got, err := repo.List(ctx, repositories.ScheduledCallFilter{Status: entities.ScheduledCallStatusPending, ReminderPending: true})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)
}

func TestScheduledCallRepository_UpdateMissing(t *testing.T) {
	repo := NewScheduledCallRepository()

	err := repo.UpdateStatus(context.Background(), "missing", entities.ScheduledCallStatusActive, time.Now())
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
}
