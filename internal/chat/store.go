package chat

import (
	"context"
	"sort"
	"strings"
	"time"
)

// Store is the durable source of truth for conversations and messages. Every
// write is a single-entity atomic update; there are no multi-entity
// transactions (see SetLastMessage).
//
// Get/Update/Delete return ErrNotFound when the entity is absent.
type Store interface {
	// CreateConversation inserts a group conversation.
	CreateConversation(ctx context.Context, c *Conversation) error
	// CreatePrivateConversation is a race-safe get-or-create keyed on the
	// participant pair: concurrent callers for the same pair all observe
	// the same conversation.
	CreatePrivateConversation(ctx context.Context, c *Conversation) (*Conversation, error)
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	// UpdateConversation rewrites name, avatar, participants and admins.
	UpdateConversation(ctx context.Context, c *Conversation) error
	// DeleteConversation removes the conversation and all its messages.
	DeleteConversation(ctx context.Context, id string) error
	// ListConversations returns userID's conversations, most recent
	// activity first.
	ListConversations(ctx context.Context, userID string) ([]*Conversation, error)
	// SetLastMessage advances the conversation's last-message pointer.
	// Deliberately separate from CreateMessage: the window where the
	// message exists but the pointer lags is benign eventual consistency.
	SetLastMessage(ctx context.Context, conversationID, messageID string, at time.Time) error

	// CreateMessage inserts a message, assigning CreatedAt and the
	// arrival-order Seq.
	CreateMessage(ctx context.Context, m *Message) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	// UpdateMessage rewrites content, flags, reactions and seen/delivered
	// sets in one atomic write.
	UpdateMessage(ctx context.Context, m *Message) error
	// ListMessages returns one newest-first page of undeleted messages and
	// the undeleted total.
	ListMessages(ctx context.Context, conversationID string, page, limit int) ([]*Message, int, error)
	// MarkSeen unions userID into the seen-by set of the given messages,
	// scoped to one conversation.
	MarkSeen(ctx context.Context, conversationID, userID string, messageIDs []string) error
	// SearchMessages full-text searches undeleted messages across the
	// conversations userID participates in. A non-empty conversationID
	// restricts the search to that conversation.
	SearchMessages(ctx context.Context, userID, query, conversationID string, limit int) ([]*Message, error)
}

// privatePairKey builds the order-independent uniqueness key for a private
// conversation, so (A,B) and (B,A) collide.
func privatePairKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, "|")
}
