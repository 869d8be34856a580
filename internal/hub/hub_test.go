package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oriys/cloudcode/internal/domain"
)

func startHub(t *testing.T, runID string, backlog []domain.JobEvent) (*Hub, *websocket.Conn) {
	t.Helper()
	h := New(nil)
	return h, connect(t, h, runID, func() []domain.JobEvent { return backlog })
}

func connect(t *testing.T, h *Hub, runID string, backlog func() []domain.JobEvent) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.HandleConnect(w, r, runID, backlog)
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// heldEvents counts live events parked on clients still loading a backlog.
func heldEvents(h *Hub) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for c := range h.clients {
		n += len(c.held)
	}
	return n
}

// emitWhileLoading returns a backlog loader that emits evs through the hub
// and waits until they reach the connecting client before returning past.
func emitWhileLoading(t *testing.T, h *Hub, past []domain.JobEvent, evs ...domain.JobEvent) func() []domain.JobEvent {
	return func() []domain.JobEvent {
		for _, ev := range evs {
			assert.NoError(t, h.Emit(context.Background(), ev))
		}
		deadline := time.Now().Add(2 * time.Second)
		for heldEvents(h) < len(evs) && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		return past
	}
}

func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Clients() != n && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, n, h.Clients())
}

func readEvent(t *testing.T, conn *websocket.Conn) domain.JobEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev domain.JobEvent
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func TestHubDeliversOnlySubscribedRun(t *testing.T) {
	h, conn := startHub(t, "run-a", nil)
	waitForClients(t, h, 1)

	require.NoError(t, h.Emit(context.Background(), domain.JobEvent{RunID: "run-b", Kind: domain.EventProgress, Message: "other"}))
	require.NoError(t, h.Emit(context.Background(), domain.JobEvent{RunID: "run-a", Kind: domain.EventProgress, Message: "0 users processed."}))
	require.NoError(t, h.Emit(context.Background(), domain.JobEvent{RunID: "run-a", Kind: domain.EventSuccess, Message: "Migration completed successfully."}))

	ev := readEvent(t, conn)
	assert.Equal(t, "0 users processed.", ev.Message)
	ev = readEvent(t, conn)
	assert.Equal(t, domain.EventSuccess, ev.Kind)

	// The terminal event ends the subscription.
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
	waitForClients(t, h, 0)
}

func TestHubReplaysBacklog(t *testing.T) {
	backlog := []domain.JobEvent{
		{RunID: "run-a", Kind: domain.EventProgress, Message: "0 users processed."},
		{RunID: "run-a", Kind: domain.EventError, Message: "Uh oh, something went wrong."},
	}
	h, conn := startHub(t, "run-a", backlog)

	assert.Equal(t, "0 users processed.", readEvent(t, conn).Message)
	assert.Equal(t, domain.EventError, readEvent(t, conn).Kind)
	assert.Zero(t, h.Clients())
}

func TestHubDeliversTerminalEventEmittedDuringBacklog(t *testing.T) {
	h := New(nil)
	done := domain.JobEvent{RunID: "run-a", Kind: domain.EventSuccess, Message: "Migration completed successfully.", Processed: 3}
	conn := connect(t, h, "run-a", emitWhileLoading(t, h,
		[]domain.JobEvent{{RunID: "run-a", Kind: domain.EventProgress, Message: "0 users processed."}},
		done,
	))

	assert.Equal(t, "0 users processed.", readEvent(t, conn).Message)
	assert.Equal(t, done.Message, readEvent(t, conn).Message)

	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
	waitForClients(t, h, 0)
}

func TestHubSkipsLiveEventsCoveredByBacklog(t *testing.T) {
	h := New(nil)
	progress := domain.JobEvent{RunID: "run-a", Kind: domain.EventProgress, Message: "0 users processed."}
	failed := domain.JobEvent{RunID: "run-a", Kind: domain.EventError, Message: "Uh oh, something went wrong.", Processed: 37}
	conn := connect(t, h, "run-a", emitWhileLoading(t, h,
		[]domain.JobEvent{progress, failed},
		progress, failed,
	))

	assert.Equal(t, progress.Message, readEvent(t, conn).Message)
	assert.Equal(t, domain.EventError, readEvent(t, conn).Kind)

	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
}

func TestCheckOrigin(t *testing.T) {
	h := New([]string{"https://app.example.com"})
	check := func(origin string) bool {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return h.upgrader.CheckOrigin(r)
	}
	assert.True(t, check(""))
	assert.True(t, check("https://app.example.com"))
	assert.True(t, check("http://localhost:3000"))
	assert.False(t, check("https://evil.example.com"))
}
