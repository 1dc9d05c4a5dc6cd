package bus

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu       sync.Mutex
	payloads []string
}

func (r *recorder) handler(_ string, payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, string(payload))
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.payloads...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestMemoryBusDeliversToAllSubscribers(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	first, second := &recorder{}, &recorder{}
	require.NoError(t, b.Subscribe(ctx, "conversation:1", first.handler))
	require.NoError(t, b.Subscribe(ctx, "conversation:1", second.handler))

	require.NoError(t, b.Publish(ctx, "conversation:1", []byte("hello")))

	waitFor(t, func() bool {
		return len(first.snapshot()) == 1 && len(second.snapshot()) == 1
	})
	assert.Equal(t, []string{"hello"}, first.snapshot())
	assert.Equal(t, []string{"hello"}, second.snapshot())
}

func TestMemoryBusChannelIsolation(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	rec := &recorder{}
	require.NoError(t, b.Subscribe(ctx, "conversation:1", rec.handler))

	require.NoError(t, b.Publish(ctx, "conversation:2", []byte("other room")))
	require.NoError(t, b.Publish(ctx, "conversation:1", []byte("this room")))

	waitFor(t, func() bool { return len(rec.snapshot()) == 1 })
	assert.Equal(t, []string{"this room"}, rec.snapshot())
}

func TestMemoryBusOrderingWithinChannel(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	rec := &recorder{}
	require.NoError(t, b.Subscribe(ctx, "conversation:1", rec.handler))

	const n = 50
	want := make([]string, 0, n)
	for i := 0; i < n; i++ {
		p := fmt.Sprintf("msg-%03d", i)
		want = append(want, p)
		require.NoError(t, b.Publish(ctx, "conversation:1", []byte(p)))
	}

	waitFor(t, func() bool { return len(rec.snapshot()) == n })
	assert.Equal(t, want, rec.snapshot())
}

func TestMemoryBusUnsubscribeOnCancel(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	rec := &recorder{}
	require.NoError(t, b.Subscribe(ctx, "conversation:1", rec.handler))

	require.NoError(t, b.Publish(context.Background(), "conversation:1", []byte("before")))
	waitFor(t, func() bool { return len(rec.snapshot()) == 1 })

	cancel()
	// Give the subscription loop a moment to drain and exit.
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, b.Publish(context.Background(), "conversation:1", []byte("after")))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{"before"}, rec.snapshot())
}

func TestMemoryBusNoDeliveryWithoutSubscriber(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	// Published before anyone subscribes: lost by design.
	require.NoError(t, b.Publish(ctx, "conversation:1", []byte("ghost")))

	rec := &recorder{}
	require.NoError(t, b.Subscribe(ctx, "conversation:1", rec.handler))
	require.NoError(t, b.Publish(ctx, "conversation:1", []byte("real")))

	waitFor(t, func() bool { return len(rec.snapshot()) == 1 })
	assert.Equal(t, []string{"real"}, rec.snapshot())
}
