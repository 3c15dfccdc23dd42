package database

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/telecare/internal/adapters/memory"
	"github.com/zatekoja/telecare/internal/domain/entities"
	"github.com/zatekoja/telecare/internal/domain/providers"
)

type MockCacheProvider struct {
	mock.Mock
}

func (m *MockCacheProvider) Get(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockCacheProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	args := m.Called(ctx, key, value, ttl)
	return args.Error(0)
}

func (m *MockCacheProvider) Delete(ctx context.Context, keys ...string) error {
	args := m.Called(ctx, keys)
	return args.Error(0)
}

func TestCachedScheduledCallAdapter_GetByIDMissThenStore(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewScheduledCallRepository()
	require.NoError(t, repo.Create(ctx, &entities.ScheduledCall{ID: "c1", PatientID: "p1", IsImmediate: true, Status: entities.ScheduledCallStatusPending}))

	cache := new(MockCacheProvider)
	cache.On("Get", ctx, "scheduled_call:c1").Return(nil, providers.ErrCacheMiss)
	cache.On("Set", ctx, "scheduled_call:c1", mock.Anything, time.Minute).Return(nil)

	adapter := NewCachedScheduledCallAdapter(repo, cache, time.Minute)
	call, err := adapter.GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "p1", call.PatientID)
	cache.AssertExpectations(t)
}

func TestCachedScheduledCallAdapter_GetByIDHit(t *testing.T) {
	ctx := context.Background()
	data, err := json.Marshal(&entities.ScheduledCall{ID: "c1", PatientID: "cached"})
	require.NoError(t, err)

	cache := new(MockCacheProvider)
	cache.On("Get", ctx, "scheduled_call:c1").Return(data, nil)

	adapter := NewCachedScheduledCallAdapter(memory.NewScheduledCallRepository(), cache, time.Minute)
	call, err := adapter.GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "cached", call.PatientID)
	cache.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCachedScheduledCallAdapter_UpdateInvalidates(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewScheduledCallRepository()
	require.NoError(t, repo.Create(ctx, &entities.ScheduledCall{ID: "c1", IsImmediate: true, Status: entities.ScheduledCallStatusPending}))

	cache := new(MockCacheProvider)
	cache.On("Delete", ctx, []string{"scheduled_call:c1"}).Return(nil)

	adapter := NewCachedScheduledCallAdapter(repo, cache, time.Minute)
	require.NoError(t, adapter.UpdateStatus(ctx, "c1", entities.ScheduledCallStatusActive, time.Now()))
	cache.AssertExpectations(t)

	got, err := repo.GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, entities.ScheduledCallStatusActive, got.Status)
}
