package chat

import "encoding/json"

// Server→client event names. These are the wire contract: clients switch on
// the event string.
const (
	EventReceiveMessage      = "receive_message"
	EventMessageUpdated      = "message_updated"
	EventMessageDeleted      = "message_deleted"
	EventReactionAdded       = "reaction_added"
	EventReactionRemoved     = "reaction_removed"
	EventMessagesRead        = "messages_read"
	EventTyping              = "typing"
	EventStopTyping          = "stop_typing"
	EventUserStatusChange    = "user_status_change"
	EventGroupUpdated        = "group_updated"
	EventMemberAdded         = "member_added"
	EventMemberRemoved       = "member_removed"
	EventConversationDeleted = "conversation_deleted"
)

// Envelope is the frame published on the bus and forwarded to sockets.
// ExcludeUserID is transport metadata: the connection manager strips it and
// skips that identity's sockets, so typing and presence events do not echo
// back to their originator.
type Envelope struct {
	Event         string          `json:"event"`
	Data          json.RawMessage `json:"data"`
	ExcludeUserID string          `json:"exclude_user_id,omitempty"`
}

// NewEnvelope marshals data into a bus-ready envelope.
func NewEnvelope(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// NewExcludingEnvelope is NewEnvelope with an identity to skip on delivery.
func NewExcludingEnvelope(event string, data any, excludeUserID string) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw, ExcludeUserID: excludeUserID})
}

// Bus channel naming. One channel per conversation keeps per-conversation
// ordering; each identity also has a personal channel, and presence changes
// go out on a single shared channel.
const PresenceChannel = "presence"

func ConversationChannel(conversationID string) string {
	return "conversation:" + conversationID
}

func UserChannel(userID string) string {
	return "user:" + userID
}

// Event payload shapes, matching what the original clients consume.

type ReceiveMessagePayload struct {
	Message        *Message `json:"message"`
	ConversationID string   `json:"conversationId"`
}

type MessageUpdatedPayload struct {
	Message *Message `json:"message"`
}

type MessageDeletedPayload struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
}

type ReactionPayload struct {
	MessageID string   `json:"messageId"`
	UserID    string   `json:"userId"`
	Emoji     string   `json:"emoji"`
	Message   *Message `json:"message"`
}

type MessagesReadPayload struct {
	ConversationID string   `json:"conversationId"`
	UserID         string   `json:"userId"`
	MessageIDs     []string `json:"messageIds"`
}

type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	Username       string `json:"username,omitempty"`
}

type UserStatusPayload struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}

type GroupUpdatedPayload struct {
	Conversation *Conversation `json:"conversation"`
}

type MemberAddedPayload struct {
	Conversation *Conversation `json:"conversation"`
	NewMemberID  string        `json:"newMemberId"`
}

type MemberRemovedPayload struct {
	Conversation    *Conversation `json:"conversation"`
	RemovedMemberID string        `json:"removedMemberId"`
}

type ConversationDeletedPayload struct {
	ConversationID string `json:"conversationId"`
}
