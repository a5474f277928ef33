package relay

import "encoding/json"

// Message defines the structure for all C2S (Client to Server)
// and S2C (Server to Client) websocket messages.
type Message struct {
	Type     string          `json:"type"`
	RoomID   string          `json:"room_id,omitempty"`
	SenderID string          `json:"sender_id,omitempty"`
	Role     string          `json:"role,omitempty"`
	Members  int             `json:"members,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`

	// client is the client that sent the message.
	// It's used internally by the Hub and not sent over JSON.
	client *Client `json:"-"`
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

// Roles handed out so endpoints don't have to race for the offer.
const (
	RoleInitiator = "initiator"
	RoleResponder = "responder"
	RoleWaiting   = "waiting"
)

// Error codes carried in error payloads.
const (
	CodeRoomFull        = "room_full"
	CodeInvalidRoomCode = "invalid_room_code"
	CodeBadMessage      = "bad_message"
)

// ErrorPayload is the payload of an error message.
type ErrorPayload struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func errorMessage(code string, err error) *Message {
	payload, _ := json.Marshal(ErrorPayload{Code: code, Error: err.Error()})
	return &Message{Type: MessageTypeError, Payload: payload}
}
