package chat

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
)

const maxGroupNameLength = 100

// CreatePrivate finds or creates the private conversation between the caller
// and another user. At most one conversation ever exists per pair, no matter
// how many callers race.
func (s *Service) CreatePrivate(ctx context.Context, userID, otherUserID string) (*Conversation, error) {
	ctx = context.WithoutCancel(ctx)

	if otherUserID == "" {
		return nil, fmt.Errorf("%w: other user id is required", ErrValidation)
	}
	if otherUserID == userID {
		return nil, fmt.Errorf("%w: cannot start a conversation with yourself", ErrValidation)
	}

	c := &Conversation{
		ID:           newID(),
		Kind:         KindPrivate,
		Participants: []string{userID, otherUserID},
		CreatedBy:    userID,
	}
	return s.store.CreatePrivateConversation(ctx, c)
}

func (s *Service) CreateGroup(ctx context.Context, creatorID, name string, memberIDs []string, avatarURL string) (*Conversation, error) {
	ctx = context.WithoutCancel(ctx)

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: group name is required", ErrValidation)
	}
	if utf8.RuneCountInString(name) > maxGroupNameLength {
		return nil, fmt.Errorf("%w: group name exceeds %d characters", ErrValidation, maxGroupNameLength)
	}

	// Creator is always a participant; duplicates collapse.
	participants := []string{creatorID}
	seen := map[string]bool{creatorID: true}
	for _, id := range memberIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		participants = append(participants, id)
	}
	if len(participants) < 2 {
		return nil, fmt.Errorf("%w: a group needs at least 2 participants", ErrValidation)
	}

	c := &Conversation{
		ID:           newID(),
		Kind:         KindGroup,
		Name:         name,
		AvatarURL:    avatarURL,
		Participants: participants,
		Admins:       []string{creatorID}, // admin set defaults to the creator
		CreatedBy:    creatorID,
	}
	if err := s.store.CreateConversation(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// UpdateGroupInput carries the mutable group fields; nil means unchanged.
type UpdateGroupInput struct {
	Name      *string
	AvatarURL *string
}

func (s *Service) UpdateGroup(ctx context.Context, conversationID, userID string, in UpdateGroupInput) (*Conversation, error) {
	ctx = context.WithoutCancel(ctx)

	unlock := s.lockConversation(conversationID)
	defer unlock()

	conv, err := s.adminConversation(ctx, conversationID, userID, "update")
	if err != nil {
		return nil, err
	}

	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: group name is required", ErrValidation)
		}
		if utf8.RuneCountInString(name) > maxGroupNameLength {
			return nil, fmt.Errorf("%w: group name exceeds %d characters", ErrValidation, maxGroupNameLength)
		}
		conv.Name = name
	}
	if in.AvatarURL != nil {
		conv.AvatarURL = *in.AvatarURL
	}

	if err := s.store.UpdateConversation(ctx, conv); err != nil {
		return nil, err
	}

	s.publish(ctx, ConversationChannel(conversationID), EventGroupUpdated,
		GroupUpdatedPayload{Conversation: conv})

	return conv, nil
}

func (s *Service) AddMember(ctx context.Context, conversationID, userID, newMemberID string) (*Conversation, error) {
	ctx = context.WithoutCancel(ctx)

	unlock := s.lockConversation(conversationID)
	defer unlock()

	conv, err := s.adminConversation(ctx, conversationID, userID, "add members to")
	if err != nil {
		return nil, err
	}
	if newMemberID == "" {
		return nil, fmt.Errorf("%w: member id is required", ErrValidation)
	}
	if conv.IsParticipant(newMemberID) {
		return nil, fmt.Errorf("%w: user is already a member", ErrValidation)
	}

	conv.Participants = append(conv.Participants, newMemberID)
	if err := s.store.UpdateConversation(ctx, conv); err != nil {
		return nil, err
	}

	s.publish(ctx, ConversationChannel(conversationID), EventMemberAdded,
		MemberAddedPayload{Conversation: conv, NewMemberID: newMemberID})

	return conv, nil
}

func (s *Service) RemoveMember(ctx context.Context, conversationID, userID, memberID string) (*Conversation, error) {
	ctx = context.WithoutCancel(ctx)

	unlock := s.lockConversation(conversationID)
	defer unlock()

	conv, err := s.adminConversation(ctx, conversationID, userID, "remove members from")
	if err != nil {
		return nil, err
	}
	if !conv.IsParticipant(memberID) {
		return nil, fmt.Errorf("%w: user is not a member", ErrValidation)
	}
	if len(conv.Participants) <= 2 {
		return nil, fmt.Errorf("%w: a group needs at least 2 participants", ErrValidation)
	}
	if conv.IsAdmin(memberID) && len(conv.Admins) == 1 {
		return nil, fmt.Errorf("%w: cannot remove the only admin", ErrValidation)
	}

	conv.Participants = removeString(conv.Participants, memberID)
	conv.Admins = removeString(conv.Admins, memberID)
	if err := s.store.UpdateConversation(ctx, conv); err != nil {
		return nil, err
	}

	s.publish(ctx, ConversationChannel(conversationID), EventMemberRemoved,
		MemberRemovedPayload{Conversation: conv, RemovedMemberID: memberID})

	return conv, nil
}

// DeleteConversation removes a conversation and all its messages. Groups may
// only be deleted by an admin; a private conversation by either participant.
func (s *Service) DeleteConversation(ctx context.Context, conversationID, userID string) error {
	ctx = context.WithoutCancel(ctx)

	unlock := s.lockConversation(conversationID)
	defer unlock()

	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	switch conv.Kind {
	case KindGroup:
		if !conv.IsAdmin(userID) {
			return fmt.Errorf("%w: only admins can delete a group", ErrUnauthorized)
		}
	default:
		if !conv.IsParticipant(userID) {
			return fmt.Errorf("%w: not a participant in this conversation", ErrUnauthorized)
		}
	}

	if err := s.store.DeleteConversation(ctx, conversationID); err != nil {
		return err
	}

	s.publish(ctx, ConversationChannel(conversationID), EventConversationDeleted,
		ConversationDeletedPayload{ConversationID: conversationID})

	return nil
}

// ListConversations returns the caller's conversations, most recent activity
// first.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]*Conversation, error) {
	return s.store.ListConversations(ctx, userID)
}

func (s *Service) GetConversation(ctx context.Context, conversationID, userID string) (*Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.IsParticipant(userID) {
		return nil, fmt.Errorf("%w: not a participant in this conversation", ErrUnauthorized)
	}
	return conv, nil
}

// adminConversation loads a conversation and checks the caller may perform a
// privileged group mutation on it. Callers hold the conversation lock, so the
// loaded state is the state the mutation applies to.
func (s *Service) adminConversation(ctx context.Context, conversationID, userID, verb string) (*Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.Kind != KindGroup {
		return nil, fmt.Errorf("%w: can only %s group conversations", ErrValidation, verb)
	}
	if !conv.IsAdmin(userID) {
		return nil, fmt.Errorf("%w: only admins can %s a group", ErrUnauthorized, verb)
	}
	return conv, nil
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
