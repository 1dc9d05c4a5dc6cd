package chat

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and single-process runs. It
// mimics the database contract: returned entities are copies, creation
// assigns timestamps and arrival order, and private-pair uniqueness is
// enforced under one lock.
type MemoryStore struct {
	mu            sync.Mutex
	conversations map[string]*Conversation
	messages      map[string]*Message
	privatePairs  map[string]string // pair key -> conversation id
	seq           int64

	// now is swappable so tests can force creation-time ties.
	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*Conversation),
		messages:      make(map[string]*Message),
		privatePairs:  make(map[string]string),
		now:           time.Now,
	}
}

func (s *MemoryStore) CreateConversation(_ context.Context, c *Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.CreatedAt = s.now()
	s.conversations[c.ID] = cloneConversation(c)
	return nil
}

func (s *MemoryStore) CreatePrivateConversation(_ context.Context, c *Conversation) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := privatePairKey(c.Participants[0], c.Participants[1])
	if id, ok := s.privatePairs[key]; ok {
		return cloneConversation(s.conversations[id]), nil
	}

	c.CreatedAt = s.now()
	s.conversations[c.ID] = cloneConversation(c)
	s.privatePairs[key] = c.ID
	return cloneConversation(c), nil
}

func (s *MemoryStore) GetConversation(_ context.Context, id string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneConversation(c), nil
}

func (s *MemoryStore) UpdateConversation(_ context.Context, c *Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.conversations[c.ID]
	if !ok {
		return ErrNotFound
	}
	updated := cloneConversation(c)
	updated.CreatedAt = stored.CreatedAt
	updated.LastMessageID = stored.LastMessageID
	updated.LastMessageAt = stored.LastMessageAt
	s.conversations[c.ID] = updated
	return nil
}

func (s *MemoryStore) DeleteConversation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return ErrNotFound
	}
	if c.Kind == KindPrivate && len(c.Participants) == 2 {
		delete(s.privatePairs, privatePairKey(c.Participants[0], c.Participants[1]))
	}
	delete(s.conversations, id)
	for msgID, m := range s.messages {
		if m.ConversationID == id {
			delete(s.messages, msgID)
		}
	}
	return nil
}

func (s *MemoryStore) ListConversations(_ context.Context, userID string) ([]*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Conversation
	for _, c := range s.conversations {
		if c.IsParticipant(userID) {
			out = append(out, cloneConversation(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return lastActivity(out[i]).After(lastActivity(out[j]))
	})
	return out, nil
}

func (s *MemoryStore) SetLastMessage(_ context.Context, conversationID, messageID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	c.LastMessageID = messageID
	t := at
	c.LastMessageAt = &t
	return nil
}

func (s *MemoryStore) CreateMessage(_ context.Context, m *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[m.ConversationID]; !ok {
		return ErrNotFound
	}
	s.seq++
	m.Seq = s.seq
	m.CreatedAt = s.now()
	s.messages[m.ID] = cloneMessage(m)
	return nil
}

func (s *MemoryStore) GetMessage(_ context.Context, id string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneMessage(m), nil
}

func (s *MemoryStore) UpdateMessage(_ context.Context, m *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.messages[m.ID]
	if !ok {
		return ErrNotFound
	}
	updated := cloneMessage(m)
	updated.Seq = stored.Seq
	updated.CreatedAt = stored.CreatedAt
	s.messages[m.ID] = updated
	return nil
}

func (s *MemoryStore) ListMessages(_ context.Context, conversationID string, page, limit int) ([]*Message, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []*Message
	for _, m := range s.messages {
		if m.ConversationID == conversationID && !m.Deleted {
			all = append(all, m)
		}
	}
	// Newest first; arrival order breaks timestamp ties.
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].Seq > all[j].Seq
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	total := len(all)
	start := (page - 1) * limit
	if start >= total {
		return nil, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}

	out := make([]*Message, 0, end-start)
	for _, m := range all[start:end] {
		out = append(out, cloneMessage(m))
	}
	return out, total, nil
}

func (s *MemoryStore) MarkSeen(_ context.Context, conversationID, userID string, messageIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range messageIDs {
		m, ok := s.messages[id]
		if !ok || m.ConversationID != conversationID {
			continue
		}
		if !containsString(m.SeenBy, userID) {
			m.SeenBy = append(m.SeenBy, userID)
		}
	}
	return nil
}

func (s *MemoryStore) SearchMessages(_ context.Context, userID, query, conversationID string, limit int) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	needle := strings.ToLower(query)
	var out []*Message
	for _, m := range s.messages {
		if conversationID != "" && m.ConversationID != conversationID {
			continue
		}
		if m.Deleted || !strings.Contains(strings.ToLower(m.Content), needle) {
			continue
		}
		c, ok := s.conversations[m.ConversationID]
		if !ok || !c.IsParticipant(userID) {
			continue
		}
		out = append(out, cloneMessage(m))
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func lastActivity(c *Conversation) time.Time {
	if c.LastMessageAt != nil {
		return *c.LastMessageAt
	}
	return c.CreatedAt
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func cloneConversation(c *Conversation) *Conversation {
	out := *c
	out.Participants = append([]string(nil), c.Participants...)
	out.Admins = append([]string(nil), c.Admins...)
	if c.LastMessageAt != nil {
		t := *c.LastMessageAt
		out.LastMessageAt = &t
	}
	return &out
}

func cloneMessage(m *Message) *Message {
	out := *m
	out.Attachments = append([]Attachment(nil), m.Attachments...)
	out.Reactions = append([]Reaction(nil), m.Reactions...)
	out.DeliveredTo = append([]string(nil), m.DeliveredTo...)
	out.SeenBy = append([]string(nil), m.SeenBy...)
	if m.DeletedAt != nil {
		t := *m.DeletedAt
		out.DeletedAt = &t
	}
	return &out
}
