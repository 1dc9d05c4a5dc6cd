package presence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-core/internal/ephemeral"
)

func newTestTracker(t *testing.T) (*Tracker, *ephemeral.MemoryStore) {
	t.Helper()
	store := ephemeral.NewMemoryStore()
	t.Cleanup(store.Close)
	return NewTracker(store), store
}

func TestOnlineLifecycle(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	assert.False(t, tracker.IsOnline(ctx, "alice"))

	tracker.SetOnline(ctx, "alice")
	assert.True(t, tracker.IsOnline(ctx, "alice"))

	tracker.SetOffline(ctx, "alice")
	assert.False(t, tracker.IsOnline(ctx, "alice"))
}

func TestOnlineLeaseExpires(t *testing.T) {
	tracker, _ := newTestTracker(t)
	tracker.onlineTTL = 30 * time.Millisecond
	ctx := context.Background()

	tracker.SetOnline(ctx, "alice")
	assert.True(t, tracker.IsOnline(ctx, "alice"))

	// No renewal: the lease must lapse on its own.
	time.Sleep(50 * time.Millisecond)
	assert.False(t, tracker.IsOnline(ctx, "alice"))
}

func TestOnlineUsersFilter(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	tracker.SetOnline(ctx, "alice")
	tracker.SetOnline(ctx, "carol")

	online := tracker.OnlineUsers(ctx, []string{"alice", "bob", "carol"})
	assert.ElementsMatch(t, []string{"alice", "carol"}, online)
}

func TestTypingLifecycle(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	require.Empty(t, tracker.ListTyping(ctx, "conv-1"))

	tracker.SetTyping(ctx, "conv-1", "alice")
	tracker.SetTyping(ctx, "conv-1", "bob")
	tracker.SetTyping(ctx, "conv-2", "carol")

	assert.ElementsMatch(t, []string{"alice", "bob"}, tracker.ListTyping(ctx, "conv-1"))
	assert.ElementsMatch(t, []string{"carol"}, tracker.ListTyping(ctx, "conv-2"))

	tracker.ClearTyping(ctx, "conv-1", "alice")
	assert.ElementsMatch(t, []string{"bob"}, tracker.ListTyping(ctx, "conv-1"))
}

func TestTypingLeaseExpires(t *testing.T) {
	tracker, _ := newTestTracker(t)
	tracker.typingTTL = 30 * time.Millisecond
	ctx := context.Background()

	tracker.SetTyping(ctx, "conv-1", "alice")
	assert.NotEmpty(t, tracker.ListTyping(ctx, "conv-1"))

	// A dropped stop_typing must not leave the indicator stuck.
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, tracker.ListTyping(ctx, "conv-1"))
}
