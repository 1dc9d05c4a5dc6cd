package ws

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-core/internal/bus"
	"chat-core/internal/chat"
	"chat-core/internal/ephemeral"
	"chat-core/internal/presence"
)

type hubFixture struct {
	hub     *Hub
	bus     *bus.MemoryBus
	store   *chat.MemoryStore
	tracker *presence.Tracker
	chats   *chat.Service
	ctx     context.Context
}

func newHubFixture(t *testing.T) *hubFixture {
	t.Helper()

	b := bus.NewMemoryBus()
	t.Cleanup(func() { b.Close() })

	leases := ephemeral.NewMemoryStore()
	t.Cleanup(func() { leases.Close() })

	store := chat.NewMemoryStore()
	chats := chat.NewService(store, b)
	tracker := presence.NewTracker(leases)

	hub := NewHub(b, tracker, chats)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	return &hubFixture{hub: hub, bus: b, store: store, tracker: tracker, chats: chats, ctx: ctx}
}

// connect registers a fake socket and waits until the hub has processed the
// registration, using the tracker's online lease as the signal.
func (f *hubFixture) connect(t *testing.T, userID string) *Client {
	t.Helper()
	c := &Client{
		hub:      f.hub,
		Send:     make(chan []byte, 32),
		UserID:   userID,
		Username: userID,
	}
	f.hub.Register <- c
	require.Eventually(t, func() bool {
		return f.tracker.IsOnline(f.ctx, userID)
	}, time.Second, 5*time.Millisecond)
	return c
}

// join sends a join_room frame and waits until the hub routed a probe event
// through the room back to the client.
func (f *hubFixture) join(t *testing.T, c *Client, conversationID string) {
	t.Helper()
	data, err := json.Marshal(roomPayload{ConversationID: conversationID})
	require.NoError(t, err)
	f.hub.inbound <- inboundFrame{client: c, event: eventJoinRoom, data: data}

	channel := chat.ConversationChannel(conversationID)
	probe, err := chat.NewEnvelope("probe", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		if f.bus.Publish(f.ctx, channel, probe) != nil {
			return false
		}
		return drainFor(c, 20*time.Millisecond, "probe") > 0
	}, time.Second, time.Millisecond)
	drain(c)
}

// drain empties the client's send buffer.
func drain(c *Client) {
	for {
		select {
		case <-c.Send:
		default:
			return
		}
	}
}

// drainFor reads frames for the given window and counts those matching event.
func drainFor(c *Client, window time.Duration, event string) int {
	deadline := time.After(window)
	n := 0
	for {
		select {
		case raw := <-c.Send:
			var frame clientFrame
			if json.Unmarshal(raw, &frame) == nil && frame.Event == event {
				n++
			}
		case <-deadline:
			return n
		}
	}
}

// nextFrame waits for one frame, skipping events not in want (presence noise
// from concurrent registrations is common).
func nextFrame(t *testing.T, c *Client, want string) clientFrame {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case raw, ok := <-c.Send:
			require.True(t, ok, "send channel closed while waiting for %s", want)
			var frame clientFrame
			require.NoError(t, json.Unmarshal(raw, &frame))
			if frame.Event == want {
				return frame
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s frame", want)
		}
	}
}

func TestPersonalRoomDelivery(t *testing.T) {
	f := newHubFixture(t)
	alice := f.connect(t, "alice")

	payload, err := chat.NewEnvelope(chat.EventMemberAdded, chat.MemberAddedPayload{NewMemberID: "alice"})
	require.NoError(t, err)
	require.NoError(t, f.bus.Publish(f.ctx, chat.UserChannel("alice"), payload))

	frame := nextFrame(t, alice, chat.EventMemberAdded)
	var p chat.MemberAddedPayload
	require.NoError(t, json.Unmarshal(frame.Data, &p))
	assert.Equal(t, "alice", p.NewMemberID)
}

func TestRoomDeliveryAndExclusion(t *testing.T) {
	f := newHubFixture(t)
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")
	f.join(t, alice, "conv-1")
	f.join(t, bob, "conv-1")
	drain(alice)
	drain(bob)

	payload, err := chat.NewExcludingEnvelope(chat.EventTyping, chat.TypingPayload{
		ConversationID: "conv-1", UserID: "bob",
	}, "bob")
	require.NoError(t, err)
	require.NoError(t, f.bus.Publish(f.ctx, chat.ConversationChannel("conv-1"), payload))

	frame := nextFrame(t, alice, chat.EventTyping)

	// The exclude marker is transport metadata and must not reach a socket.
	var env chat.Envelope
	require.NoError(t, json.Unmarshal(mustMarshal(t, frame), &env))
	assert.Empty(t, env.ExcludeUserID)

	assert.Zero(t, drainFor(bob, 50*time.Millisecond, chat.EventTyping),
		"originator must not hear its own typing event")
}

func TestLeaveRoomStopsDelivery(t *testing.T) {
	f := newHubFixture(t)
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")
	f.join(t, alice, "conv-1")
	f.join(t, bob, "conv-1")

	data, err := json.Marshal(roomPayload{ConversationID: "conv-1"})
	require.NoError(t, err)
	f.hub.inbound <- inboundFrame{client: alice, event: eventLeaveRoom, data: data}

	// Bob keeps the channel alive, so delivery to him proves the leave was
	// processed before the publish below.
	probe, err := chat.NewEnvelope("probe", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		if f.bus.Publish(f.ctx, chat.ConversationChannel("conv-1"), probe) != nil {
			return false
		}
		return drainFor(bob, 20*time.Millisecond, "probe") > 0 &&
			drainFor(alice, 20*time.Millisecond, "probe") == 0
	}, time.Second, time.Millisecond)
}

func TestTypingLeasesAndFanOut(t *testing.T) {
	f := newHubFixture(t)
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")
	f.join(t, alice, "conv-1")
	f.join(t, bob, "conv-1")
	drain(alice)
	drain(bob)

	data, err := json.Marshal(roomPayload{ConversationID: "conv-1"})
	require.NoError(t, err)
	f.hub.inbound <- inboundFrame{client: alice, event: eventTyping, data: data}

	frame := nextFrame(t, bob, chat.EventTyping)
	var p chat.TypingPayload
	require.NoError(t, json.Unmarshal(frame.Data, &p))
	assert.Equal(t, "alice", p.UserID)
	assert.Equal(t, []string{"alice"}, f.tracker.ListTyping(f.ctx, "conv-1"))

	f.hub.inbound <- inboundFrame{client: alice, event: eventStopTyping, data: data}
	nextFrame(t, bob, chat.EventStopTyping)
	assert.Empty(t, f.tracker.ListTyping(f.ctx, "conv-1"))
}

func TestStatusChangeBroadcast(t *testing.T) {
	f := newHubFixture(t)
	alice := f.connect(t, "alice")

	f.connect(t, "bob")
	frame := nextFrame(t, alice, chat.EventUserStatusChange)
	var p chat.UserStatusPayload
	require.NoError(t, json.Unmarshal(frame.Data, &p))
	assert.Equal(t, "bob", p.UserID)
	assert.Equal(t, "online", p.Status)
}

func TestUnregisterCleansUp(t *testing.T) {
	f := newHubFixture(t)
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")
	drain(bob)

	f.hub.Unregister <- alice

	frame := nextFrame(t, bob, chat.EventUserStatusChange)
	var p chat.UserStatusPayload
	require.NoError(t, json.Unmarshal(frame.Data, &p))
	assert.Equal(t, "alice", p.UserID)
	assert.Equal(t, "offline", p.Status)
	assert.False(t, f.tracker.IsOnline(f.ctx, "alice"))

	// The hub closes the channel once the client is fully removed.
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-alice.Send:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestSecondSocketKeepsUserOnline(t *testing.T) {
	f := newHubFixture(t)
	bob := f.connect(t, "bob")
	alice1 := f.connect(t, "alice")

	// A second device for the same identity. connect() can't confirm this
	// registration (alice is already online), so wait for delivery on the
	// personal channel instead.
	alice2 := &Client{
		hub:      f.hub,
		Send:     make(chan []byte, 32),
		UserID:   "alice",
		Username: "alice",
	}
	f.hub.Register <- alice2
	ping, err := chat.NewEnvelope("ping", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		if f.bus.Publish(f.ctx, chat.UserChannel("alice"), ping) != nil {
			return false
		}
		return drainFor(alice2, 20*time.Millisecond, "ping") > 0
	}, time.Second, time.Millisecond)
	drain(bob)
	drain(alice1)
	drain(alice2)

	// Dropping one of two sockets must not take the identity offline.
	f.hub.Unregister <- alice1
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-alice1.Send:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	assert.True(t, f.tracker.IsOnline(f.ctx, "alice"))
	assert.Zero(t, drainFor(bob, 50*time.Millisecond, chat.EventUserStatusChange),
		"no offline broadcast while a socket remains")

	// The last socket going away does.
	f.hub.Unregister <- alice2
	frame := nextFrame(t, bob, chat.EventUserStatusChange)
	var p chat.UserStatusPayload
	require.NoError(t, json.Unmarshal(frame.Data, &p))
	assert.Equal(t, "alice", p.UserID)
	assert.Equal(t, "offline", p.Status)
	assert.False(t, f.tracker.IsOnline(f.ctx, "alice"))
}

func TestMessageReadGoesThroughPipeline(t *testing.T) {
	f := newHubFixture(t)
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")

	conv := &chat.Conversation{
		ID:           "conv-1",
		Kind:         chat.KindGroup,
		Name:         "team",
		Participants: []string{"alice", "bob"},
		Admins:       []string{"bob"},
		CreatedBy:    "bob",
	}
	require.NoError(t, f.store.CreateConversation(f.ctx, conv))

	sent, err := f.chats.SendMessage(f.ctx, "conv-1", "bob", chat.SendMessageInput{Content: "hello"})
	require.NoError(t, err)

	f.join(t, alice, "conv-1")
	f.join(t, bob, "conv-1")
	drain(alice)
	drain(bob)

	data, err := json.Marshal(readPayload{MessageID: sent.ID, ConversationID: "conv-1"})
	require.NoError(t, err)
	f.hub.inbound <- inboundFrame{client: alice, event: eventMessageRead, data: data}

	frame := nextFrame(t, bob, chat.EventMessagesRead)
	var p chat.MessagesReadPayload
	require.NoError(t, json.Unmarshal(frame.Data, &p))
	assert.Equal(t, "alice", p.UserID)
	assert.Equal(t, []string{sent.ID}, p.MessageIDs)

	stored, err := f.store.GetMessage(f.ctx, sent.ID)
	require.NoError(t, err)
	assert.Contains(t, stored.SeenBy, "alice")
}

func TestMalformedInboundIgnored(t *testing.T) {
	f := newHubFixture(t)
	alice := f.connect(t, "alice")

	f.hub.inbound <- inboundFrame{client: alice, event: eventJoinRoom, data: json.RawMessage(`{`)}
	f.hub.inbound <- inboundFrame{client: alice, event: "no_such_event", data: nil}

	// The hub stays live: a well-formed frame after garbage still works.
	f.join(t, alice, "conv-1")
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}
