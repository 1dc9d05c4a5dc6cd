package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"chat-core/internal/bus"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 100
	searchLimit      = 50
)

// Service runs every state-changing chat operation through the same
// pipeline: authorize, validate, persist, publish, respond. Failures before
// persist never publish; a publish failure after persist is logged and
// swallowed, because the durable write already won.
type Service struct {
	store Store
	bus   bus.Bus

	// One mutex per conversation keeps persist+publish atomic per logical
	// operation, so subscribers observe events in persisted order.
	locks sync.Map
}

func NewService(store Store, b bus.Bus) *Service {
	return &Service{store: store, bus: b}
}

func (s *Service) lockConversation(id string) func() {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// lockMessage resolves a message to its conversation's lock and re-reads it
// under that lock, so validation and the following write see the same state.
// The conversation id of a message never changes, which is what makes the
// two-step lookup safe.
func (s *Service) lockMessage(ctx context.Context, messageID string) (*Message, func(), error) {
	m, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, nil, err
	}
	unlock := s.lockConversation(m.ConversationID)
	m, err = s.store.GetMessage(ctx, messageID)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	return m, unlock, nil
}

func (s *Service) lockMessageWithConversation(ctx context.Context, messageID string) (*Message, *Conversation, func(), error) {
	m, unlock, err := s.lockMessage(ctx, messageID)
	if err != nil {
		return nil, nil, nil, err
	}
	conv, err := s.store.GetConversation(ctx, m.ConversationID)
	if err != nil {
		unlock()
		return nil, nil, nil, err
	}
	return m, conv, unlock, nil
}

// publish fans out an event. Bus trouble degrades silently: the entity is
// already durable and the caller still gets it back.
func (s *Service) publish(ctx context.Context, channel, event string, data any) {
	payload, err := NewEnvelope(event, data)
	if err != nil {
		slog.Error("chat: marshal event", "event", event, "error", err)
		return
	}
	if err := s.bus.Publish(ctx, channel, payload); err != nil {
		slog.Warn("chat: publish failed", "event", event, "channel", channel, "error", err)
	}
}

// SendMessageInput carries the client-supplied parts of a new message. The
// store assigns id, timestamp and ordering; nothing client-side is trusted
// for ordering.
type SendMessageInput struct {
	Content     string
	Kind        string
	Attachments []Attachment
	ReplyTo     string
}

func (s *Service) SendMessage(ctx context.Context, conversationID, senderID string, in SendMessageInput) (*Message, error) {
	// Durability wins over the caller: once we decide to persist, a client
	// disconnect must not abort the write or the fan-out.
	ctx = context.WithoutCancel(ctx)

	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.IsParticipant(senderID) {
		return nil, fmt.Errorf("%w: not a participant in this conversation", ErrUnauthorized)
	}

	kind := in.Kind
	if kind == "" {
		kind = MessageText
	}
	if !validMessageKind(kind) {
		return nil, fmt.Errorf("%w: unknown message kind %q", ErrValidation, in.Kind)
	}
	if err := validateContent(in.Content, in.Attachments); err != nil {
		return nil, err
	}
	if in.ReplyTo != "" && !validID(in.ReplyTo) {
		return nil, fmt.Errorf("%w: reply_to is not a valid message id", ErrValidation)
	}

	m := &Message{
		ID:             newID(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        in.Content,
		Kind:           kind,
		Attachments:    in.Attachments,
		ReplyTo:        in.ReplyTo,
		Reactions:      []Reaction{},
		DeliveredTo:    []string{senderID}, // sender always starts delivered
		SeenBy:         []string{},
	}

	unlock := s.lockConversation(conversationID)
	defer unlock()

	if err := s.store.CreateMessage(ctx, m); err != nil {
		return nil, err
	}

	// The pointer update is a separate single-entity write; the window
	// where the message exists without it is accepted eventual
	// consistency.
	if err := s.store.SetLastMessage(ctx, conversationID, m.ID, m.CreatedAt); err != nil {
		slog.Warn("chat: last-message pointer update failed",
			"conversation_id", conversationID, "message_id", m.ID, "error", err)
	}

	s.publish(ctx, ConversationChannel(conversationID), EventReceiveMessage,
		ReceiveMessagePayload{Message: m, ConversationID: conversationID})

	return m, nil
}

func (s *Service) EditMessage(ctx context.Context, messageID, userID, newContent string) (*Message, error) {
	ctx = context.WithoutCancel(ctx)

	m, unlock, err := s.lockMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if m.SenderID != userID {
		return nil, fmt.Errorf("%w: can only edit your own messages", ErrUnauthorized)
	}
	if m.Deleted {
		return nil, fmt.Errorf("%w: message is deleted", ErrValidation)
	}
	if err := validateContent(newContent, m.Attachments); err != nil {
		return nil, err
	}

	// Edit touches content and the edited flag only; delivery and seen
	// state are untouched.
	m.Content = newContent
	m.Edited = true
	if err := s.store.UpdateMessage(ctx, m); err != nil {
		return nil, err
	}

	s.publish(ctx, ConversationChannel(m.ConversationID), EventMessageUpdated,
		MessageUpdatedPayload{Message: m})

	return m, nil
}

func (s *Service) DeleteMessage(ctx context.Context, messageID, userID string) (*Message, error) {
	ctx = context.WithoutCancel(ctx)

	m, unlock, err := s.lockMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if m.SenderID != userID {
		return nil, fmt.Errorf("%w: can only delete your own messages", ErrUnauthorized)
	}
	if m.Deleted {
		return nil, fmt.Errorf("%w: message is already deleted", ErrValidation)
	}

	// Soft delete: id and position survive for reply references.
	now := time.Now()
	m.Deleted = true
	m.DeletedAt = &now
	m.Content = DeletedPlaceholder
	if err := s.store.UpdateMessage(ctx, m); err != nil {
		return nil, err
	}

	s.publish(ctx, ConversationChannel(m.ConversationID), EventMessageDeleted,
		MessageDeletedPayload{MessageID: messageID, ConversationID: m.ConversationID})

	return m, nil
}

func (s *Service) AddReaction(ctx context.Context, messageID, userID, emoji string) (*Message, error) {
	ctx = context.WithoutCancel(ctx)

	m, conv, unlock, err := s.lockMessageWithConversation(ctx, messageID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if !conv.IsParticipant(userID) {
		return nil, fmt.Errorf("%w: not a participant in this conversation", ErrUnauthorized)
	}
	if emoji == "" {
		return nil, fmt.Errorf("%w: emoji is required", ErrValidation)
	}
	if m.HasReaction(userID, emoji) {
		return nil, fmt.Errorf("%w: already reacted with this emoji", ErrValidation)
	}

	m.Reactions = append(m.Reactions, Reaction{UserID: userID, Emoji: emoji, CreatedAt: time.Now()})
	if err := s.store.UpdateMessage(ctx, m); err != nil {
		return nil, err
	}

	s.publish(ctx, ConversationChannel(m.ConversationID), EventReactionAdded,
		ReactionPayload{MessageID: messageID, UserID: userID, Emoji: emoji, Message: m})

	return m, nil
}

func (s *Service) RemoveReaction(ctx context.Context, messageID, userID, emoji string) (*Message, error) {
	ctx = context.WithoutCancel(ctx)

	m, conv, unlock, err := s.lockMessageWithConversation(ctx, messageID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if !conv.IsParticipant(userID) {
		return nil, fmt.Errorf("%w: not a participant in this conversation", ErrUnauthorized)
	}

	// Removing an absent reaction succeeds without a write or an event.
	if !m.HasReaction(userID, emoji) {
		return m, nil
	}

	kept := m.Reactions[:0]
	for _, r := range m.Reactions {
		if !(r.UserID == userID && r.Emoji == emoji) {
			kept = append(kept, r)
		}
	}
	m.Reactions = kept
	if err := s.store.UpdateMessage(ctx, m); err != nil {
		return nil, err
	}

	s.publish(ctx, ConversationChannel(m.ConversationID), EventReactionRemoved,
		ReactionPayload{MessageID: messageID, UserID: userID, Emoji: emoji, Message: m})

	return m, nil
}

// MarkAsRead unions userID into the seen-by set of a batch of messages and
// fans out exactly one event for the whole batch.
func (s *Service) MarkAsRead(ctx context.Context, conversationID, userID string, messageIDs []string) error {
	ctx = context.WithoutCancel(ctx)

	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conv.IsParticipant(userID) {
		return fmt.Errorf("%w: not a participant in this conversation", ErrUnauthorized)
	}
	if len(messageIDs) == 0 {
		return fmt.Errorf("%w: no message ids given", ErrValidation)
	}
	for _, id := range messageIDs {
		if !validID(id) {
			return fmt.Errorf("%w: %q is not a valid message id", ErrValidation, id)
		}
	}

	unlock := s.lockConversation(conversationID)
	defer unlock()

	if err := s.store.MarkSeen(ctx, conversationID, userID, messageIDs); err != nil {
		return err
	}

	s.publish(ctx, ConversationChannel(conversationID), EventMessagesRead,
		MessagesReadPayload{ConversationID: conversationID, UserID: userID, MessageIDs: messageIDs})

	return nil
}

func (s *Service) GetMessages(ctx context.Context, conversationID, userID string, page, limit int) (*Page, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.IsParticipant(userID) {
		return nil, fmt.Errorf("%w: not a participant in this conversation", ErrUnauthorized)
	}

	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	msgs, total, err := s.store.ListMessages(ctx, conversationID, page, limit)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []*Message{}
	}

	// Queried newest-first for the page window, delivered oldest-first.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	pages := (total + limit - 1) / limit
	return &Page{Messages: msgs, PageNum: page, Limit: limit, Total: total, Pages: pages}, nil
}

// SearchMessages full-text searches the caller's conversations. A non-empty
// conversationID narrows the search to that one conversation.
func (s *Service) SearchMessages(ctx context.Context, userID, query, conversationID string) ([]*Message, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: search query is required", ErrValidation)
	}
	return s.store.SearchMessages(ctx, userID, query, conversationID, searchLimit)
}

func validMessageKind(kind string) bool {
	switch kind {
	case MessageText, MessageImage, MessageFile, MessageVoice, MessageVideo:
		return true
	}
	return false
}

func validateContent(content string, attachments []Attachment) error {
	if strings.TrimSpace(content) == "" && len(attachments) == 0 {
		return fmt.Errorf("%w: message content is required", ErrValidation)
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return fmt.Errorf("%w: message content exceeds %d characters", ErrValidation, MaxContentLength)
	}
	return nil
}
