package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/iamgatling/mxxc/internal/roomcode"
	"go.uber.org/zap"
)

var (
	ErrRoomFull        = errors.New("room is full")
	ErrInvalidRoomCode = errors.New("invalid room code")
)

// Drop reasons reported to metrics and logs.
const (
	dropNotMember  = "not_member"
	dropNoPeer     = "no_peer"
	dropBufferFull = "buffer_full"
)

// Policy holds the caller-level room rules enforced on join.
type Policy struct {
	// MaxMembers caps room membership. Zero means unbounded.
	MaxMembers int

	// CodeLength is the required room code length. Zero disables validation
	// beyond case normalization.
	CodeLength int
}

// DefaultPolicy allows two members per room and six character codes.
func DefaultPolicy() Policy {
	return Policy{MaxMembers: 2, CodeLength: roomcode.Length}
}

// Hub is the central brain of the signaling relay.
// It owns all rooms and endpoints; only the Run goroutine touches them.
type Hub struct {
	rooms   map[string]*Room
	clients map[string]*Client

	// Register is a channel for registering new clients.
	Register chan *Client

	// Unregister is a channel for unregistering clients.
	Unregister chan *Client

	// Broadcast carries inbound client messages for the hub to process.
	Broadcast chan *Message

	inspect chan func()
	done    chan struct{}

	policy  Policy
	logger  *zap.SugaredLogger
	metrics *Metrics
}

// NewHub creates a new Hub. metrics may be nil.
func NewHub(logger *zap.SugaredLogger, metrics *Metrics, policy Policy) *Hub {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Hub{
		rooms:      make(map[string]*Room),
		clients:    make(map[string]*Client),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Broadcast:  make(chan *Message),
		inspect:    make(chan func()),
		done:       make(chan struct{}),
		policy:     policy,
		logger:     logger,
		metrics:    metrics,
	}
}

// Run starts the hub's main processing loop and blocks until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for _, c := range h.clients {
				close(c.Send)
			}
			h.logger.Infow("hub stopped", "endpoints", len(h.clients), "rooms", len(h.rooms))
			return

		case client := <-h.Register:
			h.clients[client.ID] = client
			h.metrics.setEndpoints(len(h.clients))
			h.logger.Debugw("endpoint registered", "endpoint", client.ID, "addr", client.RemoteAddr())
			h.deliver(client, &Message{Type: MessageTypeWelcome, SenderID: client.ID})

		case client := <-h.Unregister:
			if _, ok := h.clients[client.ID]; !ok {
				continue
			}
			h.leave(client)
			delete(h.clients, client.ID)
			h.metrics.setEndpoints(len(h.clients))
			close(client.Send)
			h.logger.Debugw("endpoint unregistered", "endpoint", client.ID)

		case message := <-h.Broadcast:
			h.handle(message)

		case fn := <-h.inspect:
			fn()
		}
	}
}

// Submit hands an inbound message from c to the hub. It returns false once
// the hub has stopped.
func (h *Hub) Submit(c *Client, msg *Message) bool {
	msg.client = c
	select {
	case h.Broadcast <- msg:
		return true
	case <-h.done:
		return false
	}
}

// Disconnect unregisters c unless the hub has already stopped.
func (h *Hub) Disconnect(c *Client) {
	select {
	case h.Unregister <- c:
	case <-h.done:
	}
}

// RoomMembers returns the member ids of a room in join order, or nil if the
// room does not exist. It is answered by the hub goroutine, so every message
// submitted before the call has been processed when it returns.
func (h *Hub) RoomMembers(roomID string) []string {
	var members []string
	h.query(func() {
		if room, ok := h.rooms[roomcode.Normalize(roomID)]; ok {
			members = room.Members()
		}
	})
	return members
}

// RoomCount returns the number of live rooms.
func (h *Hub) RoomCount() int {
	var n int
	h.query(func() { n = len(h.rooms) })
	return n
}

func (h *Hub) query(fn func()) {
	ran := make(chan struct{})
	select {
	case h.inspect <- func() { fn(); close(ran) }:
		<-ran
	case <-h.done:
	}
}

func (h *Hub) handle(message *Message) {
	client := message.client
	if client == nil {
		return
	}
	if _, ok := h.clients[client.ID]; !ok {
		h.logger.Debugw("message from unregistered endpoint", "endpoint", client.ID, "type", message.Type)
		return
	}

	switch message.Type {
	case MessageTypeJoinRoom:
		h.join(client, message.RoomID)

	case MessageTypeCreateRoom:
		code := roomcode.GenerateUnique(h.policy.CodeLength, func(id string) bool {
			_, ok := h.rooms[id]
			return ok
		})
		h.logger.Infow("room created", "room", code, "endpoint", client.ID)
		h.join(client, code)

	case MessageTypeLeaveRoom:
		h.leave(client)

	case MessageTypeSignal:
		h.relaySignal(client, message)

	default:
		h.logger.Debugw("unknown message type", "endpoint", client.ID, "type", message.Type)
		h.deliver(client, errorMessage(CodeBadMessage, fmt.Errorf("unknown message type %q", message.Type)))
	}
}

func (h *Hub) parseRoomID(raw string) (string, error) {
	if h.policy.CodeLength == 0 {
		id := roomcode.Normalize(raw)
		if id == "" {
			return "", fmt.Errorf("%w: empty", ErrInvalidRoomCode)
		}
		return id, nil
	}
	id, err := roomcode.Parse(raw, h.policy.CodeLength)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRoomCode, err)
	}
	return id, nil
}

func (h *Hub) join(client *Client, rawID string) {
	roomID, err := h.parseRoomID(rawID)
	if err != nil {
		h.reject(client, CodeInvalidRoomCode, err)
		return
	}

	room, ok := h.rooms[roomID]

	// Re-joining the room we're already in just re-acks.
	if ok && room.Has(client.ID) {
		h.logger.Debugw("endpoint re-joined room", "endpoint", client.ID, "room", roomID)
		h.ack(client, room)
		return
	}

	if ok && h.policy.MaxMembers > 0 && room.Len() >= h.policy.MaxMembers {
		h.reject(client, CodeRoomFull, fmt.Errorf("%w: %s has %d members", ErrRoomFull, roomID, room.Len()))
		return
	}

	if client.RoomID != "" {
		h.leave(client)
	}

	if !ok {
		room = newRoom(roomID)
		h.rooms[roomID] = room
		h.metrics.setRooms(len(h.rooms))
	}

	room.add(client)
	client.RoomID = roomID

	h.logger.Infow("endpoint joined room", "endpoint", client.ID, "room", roomID, "members", room.Len())

	for _, other := range room.others(client.ID) {
		h.deliver(other, &Message{
			Type:     MessageTypeUserConnected,
			RoomID:   roomID,
			SenderID: client.ID,
			Role:     RoleInitiator,
		})
	}

	h.ack(client, room)
}

func (h *Hub) ack(client *Client, room *Room) {
	role := RoleWaiting
	if room.Len() > 1 {
		role = RoleResponder
	}
	h.deliver(client, &Message{
		Type:    MessageTypeRoomJoined,
		RoomID:  room.ID,
		Members: room.Len(),
		Role:    role,
	})
}

func (h *Hub) reject(client *Client, code string, err error) {
	h.logger.Infow("join rejected", "endpoint", client.ID, "code", code, "error", err)
	h.metrics.rejected(code)
	h.deliver(client, errorMessage(code, err))
}

// leave removes client from its room without notifying anyone. Empty rooms
// are deleted.
func (h *Hub) leave(client *Client) {
	if client.RoomID == "" {
		return
	}
	roomID := client.RoomID
	client.RoomID = ""

	room, ok := h.rooms[roomID]
	if !ok {
		return
	}
	room.remove(client.ID)
	h.logger.Infow("endpoint left room", "endpoint", client.ID, "room", roomID, "members", room.Len())

	if room.Len() == 0 {
		delete(h.rooms, roomID)
		h.metrics.setRooms(len(h.rooms))
		h.logger.Infow("room deleted", "room", roomID)
	}
}

func (h *Hub) relaySignal(client *Client, message *Message) {
	roomID := roomcode.Normalize(message.RoomID)
	if roomID == "" {
		roomID = client.RoomID
	}

	room, ok := h.rooms[roomID]
	if !ok || !room.Has(client.ID) {
		h.logger.Debugw("signal from non-member dropped", "endpoint", client.ID, "room", roomID)
		h.metrics.dropped(dropNotMember)
		return
	}

	others := room.others(client.ID)
	if len(others) == 0 {
		h.logger.Debugw("signal dropped, no peer in room", "endpoint", client.ID, "room", roomID)
		h.metrics.dropped(dropNoPeer)
		return
	}

	for _, other := range others {
		if h.deliver(other, &Message{
			Type:     MessageTypeSignal,
			RoomID:   roomID,
			SenderID: client.ID,
			Payload:  message.Payload,
		}) {
			h.metrics.relayed()
		}
	}
}

// deliver queues msg without blocking the hub. A full buffer drops it.
func (h *Hub) deliver(client *Client, msg *Message) bool {
	select {
	case client.Send <- msg:
		return true
	default:
		h.logger.Warnw("send buffer full, message dropped", "endpoint", client.ID, "type", msg.Type)
		h.metrics.dropped(dropBufferFull)
		return false
	}
}
