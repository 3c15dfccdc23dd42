package handlers_test

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/telecare/internal/api/handlers"
	"github.com/zatekoja/telecare/internal/application/services"
	"github.com/zatekoja/telecare/internal/domain/entities"
)

// fakeCallFeed pushes the current list on subscribe and on every update
type fakeCallFeed struct {
	mu       sync.Mutex
	calls    []*entities.ScheduledCall
	cbs      map[int]services.CallListCallback
	next     int
	unsubbed chan struct{}
}

func newFakeCallFeed() *fakeCallFeed {
	return &fakeCallFeed{cbs: make(map[int]services.CallListCallback), unsubbed: make(chan struct{}, 1)}
}

func (f *fakeCallFeed) SubscribeToCalls(ctx context.Context, patientID string, cb services.CallListCallback) (func(), error) {
	f.mu.Lock()
	id := f.next
	f.next++
	f.cbs[id] = cb
	current := f.calls
	f.mu.Unlock()

	cb(current)
	return func() {
		f.mu.Lock()
		delete(f.cbs, id)
		f.mu.Unlock()
		f.unsubbed <- struct{}{}
	}, nil
}

func (f *fakeCallFeed) set(calls ...*entities.ScheduledCall) {
	f.mu.Lock()
	f.calls = calls
	cbs := make([]services.CallListCallback, 0, len(f.cbs))
	for _, cb := range f.cbs {
		cbs = append(cbs, cb)
	}
	f.mu.Unlock()
	for _, cb := range cbs {
		cb(calls)
	}
}

type fakeInboxFeed struct{}

func (fakeInboxFeed) Subscribe(ctx context.Context, userID string, cb func(services.InboxSnapshot)) (func(), error) {
	cb(services.InboxSnapshot{AsDoctor: []*entities.ScheduledCall{{ID: "doc-call", IsImmediate: true}}})
	return func() {}, nil
}

func newSSEServer(t *testing.T, handler *handlers.SSEHandler) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/stream/patients/{id}/calls", handler.StreamPatientCalls)
	mux.HandleFunc("GET /api/stream/users/{id}/inbox", handler.StreamInbox)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

// readEvents collects "event:" and "data:" lines until n events were read
func readEvents(t *testing.T, scanner *bufio.Scanner, n int) []string {
	t.Helper()
	var events []string
	var current string
	for len(events) < n && scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			current = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			events = append(events, current+" "+strings.TrimPrefix(line, "data: "))
		}
	}
	return events
}

func TestSSEHandler_StreamPatientCalls(t *testing.T) {
	feed := newFakeCallFeed()
	feed.set(&entities.ScheduledCall{ID: "call-1", PatientID: "patient-1", IsImmediate: true})

	handler := handlers.NewSSEHandler(feed, fakeInboxFeed{})
	handler.SetHeartbeat(time.Hour)
	server := newSSEServer(t, handler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/stream/patients/patient-1/calls", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	scanner := bufio.NewScanner(resp.Body)

	events := readEvents(t, scanner, 2)
	require.Len(t, events, 2)
	assert.True(t, strings.HasPrefix(events[0], "connected "))
	assert.True(t, strings.HasPrefix(events[1], "calls "))
	assert.Contains(t, events[1], `"call-1"`)
	assert.Equal(t, 1, handler.GetClientCount())

	feed.set()
	events = readEvents(t, scanner, 1)
	require.Len(t, events, 1)
	assert.True(t, strings.HasPrefix(events[0], "calls "))
	assert.NotContains(t, events[0], `"call-1"`)

	cancel()
	select {
	case <-feed.unsubbed:
	case <-time.After(2 * time.Second):
		t.Fatal("subscription was not released")
	}
}

func TestSSEHandler_StreamInbox(t *testing.T) {
	handler := handlers.NewSSEHandler(newFakeCallFeed(), fakeInboxFeed{})
	handler.SetHeartbeat(time.Hour)
	server := newSSEServer(t, handler)

	t.Run("own inbox", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/stream/users/doctor-1/inbox?userId=doctor-1&role=doctor", nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		events := readEvents(t, bufio.NewScanner(resp.Body), 2)
		require.Len(t, events, 2)
		assert.True(t, strings.HasPrefix(events[1], "inbox "))
		assert.Contains(t, events[1], `"doc-call"`)
	})

	t.Run("someone else's inbox", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/api/stream/users/doctor-1/inbox?userId=patient-1&role=patient")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}
