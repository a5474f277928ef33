package signaling

import (
	"encoding/json"
	"fmt"
)

// Message represents all websocket messages between an endpoint and the relay.
type Message struct {
	Type     string          `json:"type"`
	RoomID   string          `json:"room_id,omitempty"`
	SenderID string          `json:"sender_id,omitempty"`
	Role     string          `json:"role,omitempty"`
	Members  int             `json:"members,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Message type constants.
const (
	MessageTypeJoinRoom   = "join-room"
	MessageTypeCreateRoom = "create-room"
	MessageTypeLeaveRoom  = "leave-room"
	MessageTypeSignal     = "signal"

	MessageTypeWelcome       = "welcome"
	MessageTypeRoomJoined    = "room-joined"
	MessageTypeUserConnected = "user-connected"
	MessageTypeError         = "error"
)

// Roles assigned by the relay.
const (
	RoleInitiator = "initiator"
	RoleResponder = "responder"
	RoleWaiting   = "waiting"
)

// Error codes sent by the relay.
const (
	CodeRoomFull        = "room_full"
	CodeInvalidRoomCode = "invalid_room_code"
	CodeBadMessage      = "bad_message"
)

// ErrorPayload represents error messages from the relay.
type ErrorPayload struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// RelayError is an error reported by the relay.
type RelayError struct {
	Code    string
	Message string
}

func (e *RelayError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("relay error: %s", e.Code)
	}
	return fmt.Sprintf("relay error: %s (%s)", e.Message, e.Code)
}

// Err decodes the payload of an error message. It returns nil for any other
// message type.
func (m *Message) Err() error {
	if m.Type != MessageTypeError {
		return nil
	}
	var p ErrorPayload
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		return &RelayError{Code: "unknown", Message: "unreadable error from relay"}
	}
	return &RelayError{Code: p.Code, Message: p.Error}
}
