package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"chat-core/internal/bus"
	"chat-core/internal/chat"
	"chat-core/internal/presence"
)

type inboundFrame struct {
	client *Client
	event  string
	data   json.RawMessage
}

type delivery struct {
	channel string
	payload []byte
}

// Client→server event names.
const (
	eventJoinRoom    = "join_room"
	eventLeaveRoom   = "leave_room"
	eventTyping      = "typing"
	eventStopTyping  = "stop_typing"
	eventMessageRead = "message_read"
)

// Hub owns every live connection on this process. It keeps room membership
// local and leans on the bus for everything else: all outbound events,
// including ones this process published itself, arrive through a bus
// subscription, so local and cross-process delivery share one code path.
type Hub struct {
	Register   chan *Client
	Unregister chan *Client
	inbound    chan inboundFrame
	deliver    chan delivery

	clients map[*Client]bool
	byUser  map[string]map[*Client]bool
	// rooms maps a bus channel name to the local clients joined to it.
	rooms       map[string]map[*Client]bool
	memberships map[*Client]map[string]bool
	// subCancels holds one cancel per live bus subscription; a room is
	// subscribed exactly while it has local members.
	subCancels map[string]context.CancelFunc

	bus      bus.Bus
	presence *presence.Tracker
	chats    *chat.Service

	ctx context.Context
}

func NewHub(b bus.Bus, tracker *presence.Tracker, chats *chat.Service) *Hub {
	return &Hub{
		Register:    make(chan *Client),
		Unregister:  make(chan *Client),
		inbound:     make(chan inboundFrame, 64),
		deliver:     make(chan delivery, 256),
		clients:     make(map[*Client]bool),
		byUser:      make(map[string]map[*Client]bool),
		rooms:       make(map[string]map[*Client]bool),
		memberships: make(map[*Client]map[string]bool),
		subCancels:  make(map[string]context.CancelFunc),
		bus:         b,
		presence:    tracker,
		chats:       chats,
	}
}

// Run processes all hub events on a single goroutine; every map above is
// owned by this loop and touched nowhere else.
func (h *Hub) Run(ctx context.Context) {
	h.ctx = ctx
	h.subscribe(chat.PresenceChannel)

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.Register:
			h.addClient(ctx, client)

		case client := <-h.Unregister:
			h.removeClient(ctx, client)

		case frame := <-h.inbound:
			h.handleInbound(ctx, frame)

		case d := <-h.deliver:
			h.route(d)
		}
	}
}

func (h *Hub) addClient(ctx context.Context, c *Client) {
	h.clients[c] = true
	if h.byUser[c.UserID] == nil {
		h.byUser[c.UserID] = make(map[*Client]bool)
	}
	h.byUser[c.UserID][c] = true
	h.memberships[c] = make(map[string]bool)

	// Every connection sits in its identity's personal room so direct
	// events reach it without an explicit join.
	h.joinRoom(c, chat.UserChannel(c.UserID))

	h.presence.SetOnline(ctx, c.UserID)
	h.publishStatus(ctx, c.UserID, "online")

	slog.Info("ws: client connected", "user_id", c.UserID, "username", c.Username)
}

func (h *Hub) removeClient(ctx context.Context, c *Client) {
	if !h.clients[c] {
		return
	}
	delete(h.clients, c)

	for room := range h.memberships[c] {
		h.leaveRoom(c, room)
	}
	delete(h.memberships, c)

	delete(h.byUser[c.UserID], c)
	lastSocket := len(h.byUser[c.UserID]) == 0
	if lastSocket {
		delete(h.byUser, c.UserID)
	}
	close(c.Send)

	// The identity stays online while any of its sockets remains.
	if lastSocket {
		h.presence.SetOffline(ctx, c.UserID)
		h.publishStatus(ctx, c.UserID, "offline")
	}

	slog.Info("ws: client disconnected", "user_id", c.UserID)
}

func (h *Hub) handleInbound(ctx context.Context, f inboundFrame) {
	switch f.event {
	case eventJoinRoom:
		var p roomPayload
		if json.Unmarshal(f.data, &p) != nil || p.ConversationID == "" {
			return
		}
		h.joinRoom(f.client, chat.ConversationChannel(p.ConversationID))

	case eventLeaveRoom:
		var p roomPayload
		if json.Unmarshal(f.data, &p) != nil || p.ConversationID == "" {
			return
		}
		h.leaveRoom(f.client, chat.ConversationChannel(p.ConversationID))

	case eventTyping, eventStopTyping:
		var p roomPayload
		if json.Unmarshal(f.data, &p) != nil || p.ConversationID == "" {
			return
		}
		// Store and bus calls leave the hub loop so one slow peer cannot
		// stall every connection on this process.
		client, event := f.client, f.event
		go h.forwardTyping(ctx, client, event, p.ConversationID)

	case eventMessageRead:
		var p readPayload
		if json.Unmarshal(f.data, &p) != nil || p.MessageID == "" || p.ConversationID == "" {
			return
		}
		client := f.client
		go func() {
			// Reads persist through the same pipeline as everything else;
			// the pipeline publishes the messages_read event.
			err := h.chats.MarkAsRead(ctx, p.ConversationID, client.UserID, []string{p.MessageID})
			if err != nil {
				slog.Debug("ws: message_read rejected", "user_id", client.UserID, "error", err)
			}
		}()

	default:
		slog.Debug("ws: unknown client event", "event", f.event, "user_id", f.client.UserID)
	}
}

func (h *Hub) forwardTyping(ctx context.Context, c *Client, event, conversationID string) {
	if event == eventTyping {
		h.presence.SetTyping(ctx, conversationID, c.UserID)
	} else {
		h.presence.ClearTyping(ctx, conversationID, c.UserID)
	}

	payload, err := chat.NewExcludingEnvelope(event, chat.TypingPayload{
		ConversationID: conversationID,
		UserID:         c.UserID,
		Username:       c.Username,
	}, c.UserID)
	if err != nil {
		return
	}
	if err := h.bus.Publish(ctx, chat.ConversationChannel(conversationID), payload); err != nil {
		slog.Warn("ws: typing publish failed", "conversation_id", conversationID, "error", err)
	}
}

func (h *Hub) publishStatus(ctx context.Context, userID, status string) {
	payload, err := chat.NewExcludingEnvelope(chat.EventUserStatusChange,
		chat.UserStatusPayload{UserID: userID, Status: status}, userID)
	if err != nil {
		return
	}
	if err := h.bus.Publish(ctx, chat.PresenceChannel, payload); err != nil {
		slog.Warn("ws: status publish failed", "user_id", userID, "error", err)
	}
}

// joinRoom adds the client to a room, subscribing the room's bus channel if
// this is its first local member. Joining a room twice is a no-op.
func (h *Hub) joinRoom(c *Client, room string) {
	if h.memberships[c][room] {
		return
	}
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]bool)
		h.subscribe(room)
	}
	h.rooms[room][c] = true
	h.memberships[c][room] = true
}

// leaveRoom is a no-op for rooms the client never joined.
func (h *Hub) leaveRoom(c *Client, room string) {
	if !h.memberships[c][room] {
		return
	}
	delete(h.memberships[c], room)
	delete(h.rooms[room], c)
	if len(h.rooms[room]) == 0 {
		delete(h.rooms, room)
		if cancel, ok := h.subCancels[room]; ok {
			cancel()
			delete(h.subCancels, room)
		}
	}
}

func (h *Hub) subscribe(channel string) {
	subCtx, cancel := context.WithCancel(h.ctx)
	err := h.bus.Subscribe(subCtx, channel, func(ch string, payload []byte) {
		h.deliver <- delivery{channel: ch, payload: payload}
	})
	if err != nil {
		// Best effort: local clients lose remote events for this room
		// until they rejoin, but nothing durable is affected.
		slog.Warn("ws: bus subscribe failed", "channel", channel, "error", err)
		cancel()
		return
	}
	h.subCancels[channel] = cancel
}

// route fans one bus delivery out to the sockets it concerns.
func (h *Hub) route(d delivery) {
	var env chat.Envelope
	if err := json.Unmarshal(d.payload, &env); err != nil {
		slog.Warn("ws: dropping malformed bus payload", "channel", d.channel, "error", err)
		return
	}

	// Strip transport metadata before the frame reaches a socket.
	frame, err := json.Marshal(clientFrame{Event: env.Event, Data: env.Data})
	if err != nil {
		return
	}

	var targets map[*Client]bool
	if d.channel == chat.PresenceChannel {
		targets = h.clients
	} else {
		targets = h.rooms[d.channel]
	}

	var dead []*Client
	for client := range targets {
		if env.ExcludeUserID != "" && client.UserID == env.ExcludeUserID {
			continue
		}
		select {
		case client.Send <- frame:
		default:
			// Send buffer full: the peer is stuck or gone.
			dead = append(dead, client)
		}
	}
	for _, client := range dead {
		h.removeClient(h.ctx, client)
	}
}

type roomPayload struct {
	ConversationID string `json:"conversationId"`
}

type readPayload struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
}
