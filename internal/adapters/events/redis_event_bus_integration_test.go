//go:build integration

package events

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/telecare/internal/domain/entities"
	"github.com/zatekoja/telecare/internal/domain/providers"
	redisclient "github.com/zatekoja/telecare/internal/infrastructure/clients/redis"
	"github.com/zatekoja/telecare/pkg/config"
)

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func newTestRedisClient(t *testing.T) *redisclient.Client {
	t.Helper()
	host := os.Getenv("TEST_REDIS_HOST")
	if host == "" {
		t.Skip("Skipping integration test: TEST_REDIS_HOST not set")
	}

	client, err := redisclient.NewClient(context.Background(), &config.RedisConfig{
		Host:     host,
		Port:     getEnvAsInt("TEST_REDIS_PORT", 6379),
		Password: os.Getenv("TEST_REDIS_PASSWORD"),
		DB:       getEnvAsInt("TEST_REDIS_DB", 0),
	})
	require.NoError(t, err, "Failed to create redis client")
	t.Cleanup(func() { client.Close() })
	return client
}

func waitForCallEvent(t *testing.T, ch <-chan *entities.CallEvent) *entities.CallEvent {
	t.Helper()
	select {
	case event := <-ch:
		require.NotNil(t, event)
		return event
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for call event")
		return nil
	}
}

func TestRedisEventBusFanoutIntegration(t *testing.T) {
	bus := NewRedisEventBus(newTestRedisClient(t))
	defer bus.Close()

	channel := providers.GetPatientCallsChannel("patient-" + uuid.NewString())
	ctx1, cancel1 := context.WithCancel(context.Background())
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel1()
	defer cancel2()

	sub1, err := bus.Subscribe(ctx1, channel)
	require.NoError(t, err)
	sub2, err := bus.Subscribe(ctx2, channel)
	require.NoError(t, err)

	call := &entities.ScheduledCall{ID: uuid.NewString(), PatientID: "patient-1", DoctorID: "doctor-1", Status: entities.ScheduledCallStatusPending}
	event := entities.NewCallEvent(entities.CallEventCreated, call, time.Now().UTC())
	require.NoError(t, bus.Publish(context.Background(), channel, event))

	received1 := waitForCallEvent(t, sub1)
	received2 := waitForCallEvent(t, sub2)
	assert.Equal(t, event.ID, received1.ID)
	assert.Equal(t, event.ID, received2.ID)
	assert.Equal(t, call.ID, received1.CallID)
	assert.Equal(t, entities.CallEventCreated, received2.EventType)
}

func TestRedisEventBusUnsubscribeOnCancelIntegration(t *testing.T) {
	bus := NewRedisEventBus(newTestRedisClient(t))
	defer bus.Close()

	channel := providers.GetDoctorCallsChannel("doctor-" + uuid.NewString())
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := bus.Subscribe(ctx, channel)
	require.NoError(t, err)
	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-sub:
			return !ok
		default:
			return false
		}
	}, 3*time.Second, 20*time.Millisecond)
}
