package notify

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardWSLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestPublisher_StreamsMatchingNotifications exercises the websocket
// endpoint end to end: a client connects with a run ID in the URL, and only
// notifications whose payload matches that run ID are written to the socket.
func TestPublisher_StreamsMatchingNotifications(t *testing.T) {
	listener := newFakeListener()
	factory := func(ctx context.Context, name string) (Listener, error) { return listener, nil }
	reg := NewRegistry(context.Background(), factory, discardWSLogger(), nil)

	r := chi.NewRouter()
	r.Get("/sockets/pipeline-run-tasks/{runId}", NewPublisher(reg.Get("pipeline_run_task_changed"), "runId", discardWSLogger()).ServeHTTP)

	srv := httptest.NewServer(r)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sockets/pipeline-run-tasks/7"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, reg.Get("pipeline_run_task_changed").HasListener, time.Second, time.Millisecond)

	listener.payloads <- "9"
	listener.payloads <- "7"

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "7", string(msg))
}

func TestPublisher_MissingFilterIsBadRequest(t *testing.T) {
	listener := newFakeListener()
	factory := func(ctx context.Context, name string) (Listener, error) { return listener, nil }
	reg := NewRegistry(context.Background(), factory, discardWSLogger(), nil)

	r := chi.NewRouter()
	r.Get("/sockets/pipeline-run-tasks/", NewPublisher(reg.Get("pipeline_run_task_changed"), "runId", discardWSLogger()).ServeHTTP)

	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/sockets/pipeline-run-tasks/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// TestPublisher_ListenerSurvivesSubscriberDisconnect exercises the same
// lifecycle guarantee as TestChannel_ListenerSurvivesFirstSubscriberDisconnect,
// but end to end through the HTTP layer: the first websocket client's
// request context ends when it disconnects, which must not tear down the
// listener for a second, still-connected client.
func TestPublisher_ListenerSurvivesSubscriberDisconnect(t *testing.T) {
	listener := newFakeListener()
	factory := func(ctx context.Context, name string) (Listener, error) { return listener, nil }
	reg := NewRegistry(context.Background(), factory, discardWSLogger(), nil)
	channel := reg.Get("pipeline_run_task_changed")

	r := chi.NewRouter()
	r.Get("/sockets/pipeline-run-tasks/{runId}", NewPublisher(channel, "runId", discardWSLogger()).ServeHTTP)

	srv := httptest.NewServer(r)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sockets/pipeline-run-tasks/"

	conn1, _, err := websocket.DefaultDialer.Dial(wsURL+"7", nil)
	require.NoError(t, err)
	require.Eventually(t, channel.HasListener, time.Second, time.Millisecond)

	conn2, _, err := websocket.DefaultDialer.Dial(wsURL+"9", nil)
	require.NoError(t, err)
	defer conn2.Close()

	// First subscriber disconnects; its request context is cancelled.
	require.NoError(t, conn1.Close())

	require.Eventually(t, func() bool { return channel.SubscriberCount() == 1 }, time.Second, time.Millisecond)
	assert.True(t, channel.HasListener(), "listener must survive a disconnected subscriber's own request")

	listener.payloads <- "9"
	require.NoError(t, conn2.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn2.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "9", string(msg))
}
