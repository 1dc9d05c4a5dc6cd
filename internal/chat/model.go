package chat

import (
	"time"

	"github.com/google/uuid"
)

// newID mints a v7 uuid so entity ids sort by creation time. Ordering never
// depends on it (Seq does that); it just keeps ids index-friendly.
func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// validID rejects malformed ids before they reach a uuid-typed column, where
// they would surface as a database error instead of a validation one.
func validID(id string) bool {
	return uuid.Validate(id) == nil
}

// Conversation kinds.
const (
	KindPrivate = "private"
	KindGroup   = "group"
)

// Message kinds.
const (
	MessageText  = "text"
	MessageImage = "image"
	MessageFile  = "file"
	MessageVoice = "voice"
	MessageVideo = "video"
)

// MaxContentLength bounds message body size in runes.
const MaxContentLength = 5000

// DeletedPlaceholder replaces the body of a soft-deleted message.
const DeletedPlaceholder = "This message was deleted"

type Conversation struct {
	ID            string     `json:"id"`
	Kind          string     `json:"kind"`
	Name          string     `json:"name,omitempty"`
	AvatarURL     string     `json:"avatar_url,omitempty"`
	Participants  []string   `json:"participants"`
	Admins        []string   `json:"admins,omitempty"`
	CreatedBy     string     `json:"created_by"`
	LastMessageID string     `json:"last_message_id,omitempty"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// IsParticipant reports whether userID belongs to the conversation.
func (c *Conversation) IsParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// IsAdmin reports whether userID may perform privileged group mutations.
// Private conversations have no admin concept.
func (c *Conversation) IsAdmin(userID string) bool {
	for _, a := range c.Admins {
		if a == userID {
			return true
		}
	}
	return false
}

type Attachment struct {
	URL      string `json:"url"`
	FileType string `json:"file_type"`
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size"`
}

type Reaction struct {
	UserID    string    `json:"user_id"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

type Message struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversation_id"`
	SenderID       string       `json:"sender_id"`
	Content        string       `json:"content"`
	Kind           string       `json:"kind"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	ReplyTo        string       `json:"reply_to,omitempty"`
	Reactions      []Reaction   `json:"reactions"`
	DeliveredTo    []string     `json:"delivered_to"`
	SeenBy         []string     `json:"seen_by"`
	Edited         bool         `json:"is_edited"`
	Deleted        bool         `json:"is_deleted"`
	DeletedAt      *time.Time   `json:"deleted_at,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`

	// Seq is the store-assigned arrival order, used to break creation-time
	// ties within a conversation. Not part of the wire shape.
	Seq int64 `json:"-"`
}

// HasReaction reports whether userID already reacted with emoji.
func (m *Message) HasReaction(userID, emoji string) bool {
	for _, r := range m.Reactions {
		if r.UserID == userID && r.Emoji == emoji {
			return true
		}
	}
	return false
}

// Page describes one slice of a conversation's history.
type Page struct {
	Messages []*Message `json:"messages"`
	PageNum  int        `json:"page"`
	Limit    int        `json:"limit"`
	Total    int        `json:"total"`
	Pages    int        `json:"pages"`
}
