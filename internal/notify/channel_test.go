package notify

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeListener hands out payloads from a channel and blocks on Next until
// either a payload arrives or ctx is cancelled, simulating the pg_listener
// implementation without a real database.
type fakeListener struct {
	payloads chan string
	closed   chan struct{}
	closeErr error
}

func newFakeListener() *fakeListener {
	return &fakeListener{payloads: make(chan string, 16), closed: make(chan struct{})}
}

func (f *fakeListener) Next(ctx context.Context) (string, error) {
	select {
	case p, ok := <-f.payloads:
		if !ok {
			return "", context.Canceled
		}
		return p, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-f.closed:
		return "", context.Canceled
	}
}

func (f *fakeListener) Close(ctx context.Context) error {
	return f.closeErr
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestChannel_ListenerLifecycleRefCounted(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var created int
	listener := newFakeListener()
	factory := func(ctx context.Context, name string) (Listener, error) {
		mu.Lock()
		created++
		mu.Unlock()
		return listener, nil
	}

	ch := NewChannel(context.Background(), "pipeline_run_task_changed", factory, discardLogger(), nil)
	assert.Equal(t, 0, ch.SubscriberCount())
	assert.False(t, ch.HasListener())

	sub1 := NewSubscriber("7")
	ch.Subscribe(sub1)
	assert.Eventually(t, ch.HasListener, time.Second, time.Millisecond)
	assert.Equal(t, 1, ch.SubscriberCount())

	sub2 := NewSubscriber("9")
	ch.Subscribe(sub2)
	assert.Equal(t, 2, ch.SubscriberCount())

	mu.Lock()
	assert.Equal(t, 1, created, "listener must start only on the 0->1 transition")
	mu.Unlock()

	ch.Unsubscribe(sub1)
	assert.Equal(t, 1, ch.SubscriberCount())
	assert.True(t, ch.HasListener(), "listener stays up while a subscriber remains")

	ch.Unsubscribe(sub2)
	assert.Equal(t, 0, ch.SubscriberCount())
	assert.Eventually(t, func() bool { return !ch.HasListener() }, time.Second, time.Millisecond)
}

// TestChannel_BroadcastMatchesFilterOnly: two subscribers with different
// filters each receive only the notifications matching their filter.
func TestChannel_BroadcastMatchesFilterOnly(t *testing.T) {
	t.Parallel()

	listener := newFakeListener()
	factory := func(ctx context.Context, name string) (Listener, error) { return listener, nil }
	ch := NewChannel(context.Background(), "pipeline_run_task_changed", factory, discardLogger(), nil)

	sub7 := NewSubscriber("7")
	sub9 := NewSubscriber("9")
	ch.Subscribe(sub7)
	ch.Subscribe(sub9)
	assert.Eventually(t, ch.HasListener, time.Second, time.Millisecond)

	listener.payloads <- "7"
	listener.payloads <- "9"
	listener.payloads <- "7"

	assert.Eventually(t, func() bool { return len(sub7.Events) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, "7", <-sub7.Events)
	assert.Equal(t, "7", <-sub7.Events)

	assert.Eventually(t, func() bool { return len(sub9.Events) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, "9", <-sub9.Events)

	ch.Unsubscribe(sub7)
	ch.Unsubscribe(sub9)
}

func TestChannel_UnsubscribeUnknownSubscriberIsNoop(t *testing.T) {
	t.Parallel()

	factory := func(ctx context.Context, name string) (Listener, error) { return newFakeListener(), nil }
	ch := NewChannel(context.Background(), "c", factory, discardLogger(), nil)

	ch.Unsubscribe(NewSubscriber("never-subscribed"))
	assert.Equal(t, 0, ch.SubscriberCount())
}

func TestChannel_ListenerErrorTearsDownForRestart(t *testing.T) {
	t.Parallel()

	listener := newFakeListener()
	var calls int
	var mu sync.Mutex
	factory := func(ctx context.Context, name string) (Listener, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return listener, nil
	}
	ch := NewChannel(context.Background(), "c", factory, discardLogger(), nil)

	sub := NewSubscriber("1")
	ch.Subscribe(sub)
	assert.Eventually(t, ch.HasListener, time.Second, time.Millisecond)

	close(listener.closed)
	assert.Eventually(t, func() bool { return !ch.HasListener() }, time.Second, time.Millisecond)

	ch.Unsubscribe(sub)
	require.Equal(t, 0, ch.SubscriberCount())
}

// TestChannel_ListenerSurvivesFirstSubscriberDisconnect guards against the
// listener's lifetime being tied to whichever subscriber happened to
// arrive first: cancelling the context that was live when the first
// subscriber joined must not tear the listener down while a second
// subscriber remains.
func TestChannel_ListenerSurvivesFirstSubscriberDisconnect(t *testing.T) {
	t.Parallel()

	listener := newFakeListener()
	factory := func(ctx context.Context, name string) (Listener, error) { return listener, nil }
	ch := NewChannel(context.Background(), "c", factory, discardLogger(), nil)

	firstReqCtx, firstReqCancel := context.WithCancel(context.Background())
	sub1 := NewSubscriber("7")
	ch.Subscribe(sub1)
	assert.Eventually(t, ch.HasListener, time.Second, time.Millisecond)

	sub2 := NewSubscriber("9")
	ch.Subscribe(sub2)

	// Simulate the first subscriber's own request context ending (e.g. its
	// HTTP handler returning) without ever calling Unsubscribe.
	firstReqCancel()
	_ = firstReqCtx

	listener.payloads <- "9"
	assert.Eventually(t, func() bool { return len(sub2.Events) == 1 }, time.Second, time.Millisecond)
	assert.True(t, ch.HasListener(), "listener must survive a disconnected subscriber's own request context")

	ch.Unsubscribe(sub1)
	ch.Unsubscribe(sub2)
	assert.Eventually(t, func() bool { return !ch.HasListener() }, time.Second, time.Millisecond)
}

func TestRegistry_GetCreatesLazily(t *testing.T) {
	t.Parallel()

	factory := func(ctx context.Context, name string) (Listener, error) { return newFakeListener(), nil }
	reg := NewRegistry(context.Background(), factory, discardLogger(), nil)

	ch1 := reg.Get("pipeline_run_task_changed")
	ch2 := reg.Get("pipeline_run_task_changed")
	assert.Same(t, ch1, ch2)

	other := reg.Get("other_channel")
	assert.NotSame(t, ch1, other)
}
