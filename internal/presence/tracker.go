// Package presence tracks who is online and who is typing. State lives only
// in the ephemeral store as short leases; nothing here is authoritative, and
// an unreachable store degrades to "offline / nobody typing" rather than
// failing the caller.
package presence

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"chat-core/internal/ephemeral"
)

const (
	onlineKeyPrefix = "user:online:"
	typingKeyPrefix = "typing:"

	// OnlineTTL bounds how long a crashed process can leave a user
	// appearing online.
	OnlineTTL = 5 * time.Minute
	// TypingTTL bounds how long a dropped stop_typing can leave an
	// indicator stuck.
	TypingTTL = 5 * time.Second
)

type Tracker struct {
	store ephemeral.Store

	onlineTTL time.Duration
	typingTTL time.Duration
}

func NewTracker(store ephemeral.Store) *Tracker {
	return &Tracker{
		store:     store,
		onlineTTL: OnlineTTL,
		typingTTL: TypingTTL,
	}
}

// SetOnline renews the caller's online lease. Called on connect and on each
// heartbeat.
func (t *Tracker) SetOnline(ctx context.Context, userID string) {
	key := onlineKeyPrefix + userID
	if err := t.store.SetEx(ctx, key, time.Now().Format(time.RFC3339), t.onlineTTL); err != nil {
		slog.Warn("presence: set online failed", "user_id", userID, "error", err)
	}
}

// SetOffline drops the lease immediately instead of waiting for expiry.
func (t *Tracker) SetOffline(ctx context.Context, userID string) {
	if err := t.store.Del(ctx, onlineKeyPrefix+userID); err != nil {
		slog.Warn("presence: set offline failed", "user_id", userID, "error", err)
	}
}

func (t *Tracker) IsOnline(ctx context.Context, userID string) bool {
	ok, err := t.store.Exists(ctx, onlineKeyPrefix+userID)
	if err != nil {
		slog.Warn("presence: online check failed", "user_id", userID, "error", err)
		return false
	}
	return ok
}

// OnlineUsers filters userIDs down to those currently online.
func (t *Tracker) OnlineUsers(ctx context.Context, userIDs []string) []string {
	var online []string
	for _, id := range userIDs {
		if t.IsOnline(ctx, id) {
			online = append(online, id)
		}
	}
	return online
}

func (t *Tracker) SetTyping(ctx context.Context, conversationID, userID string) {
	key := typingKey(conversationID, userID)
	if err := t.store.SetEx(ctx, key, "1", t.typingTTL); err != nil {
		slog.Warn("presence: set typing failed", "conversation_id", conversationID, "user_id", userID, "error", err)
	}
}

func (t *Tracker) ClearTyping(ctx context.Context, conversationID, userID string) {
	if err := t.store.Del(ctx, typingKey(conversationID, userID)); err != nil {
		slog.Warn("presence: clear typing failed", "conversation_id", conversationID, "user_id", userID, "error", err)
	}
}

// ListTyping returns the users currently typing in a conversation. The scan
// is point-in-time; a lease expiring mid-scan is indicator flicker, not an
// error.
func (t *Tracker) ListTyping(ctx context.Context, conversationID string) []string {
	prefix := typingKeyPrefix + conversationID + ":"
	keys, err := t.store.ScanPrefix(ctx, prefix)
	if err != nil {
		slog.Warn("presence: typing scan failed", "conversation_id", conversationID, "error", err)
		return nil
	}
	users := make([]string, 0, len(keys))
	for _, k := range keys {
		users = append(users, strings.TrimPrefix(k, prefix))
	}
	return users
}

func typingKey(conversationID, userID string) string {
	return typingKeyPrefix + conversationID + ":" + userID
}
