package rendezvous

import (
	"errors"
	"fmt"

	"github.com/iamgatling/mxxc/internal/signaling"
)

var (
	ErrRelayUnavailable  = errors.New("signaling relay unavailable")
	ErrNegotiationFailed = errors.New("peer negotiation failed")
	ErrChannelClosed     = errors.New("peer channel closed")
	ErrRoomFull          = errors.New("room is full")
	ErrInvalidRoomCode   = errors.New("invalid room code")
	ErrLeft              = errors.New("left the room")
)

// Error is a failure of one room attempt.
type Error struct {
	Op   string
	Room string
	Err  error
}

func (e *Error) Error() string {
	if e.Room == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s room %s: %v", e.Op, e.Room, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// relayError maps an error message from the relay onto our taxonomy.
func relayError(msg *signaling.Message) error {
	err := msg.Err()
	var re *signaling.RelayError
	if !errors.As(err, &re) {
		return err
	}
	switch re.Code {
	case signaling.CodeRoomFull:
		return fmt.Errorf("%w: %s", ErrRoomFull, re.Message)
	case signaling.CodeInvalidRoomCode:
		return fmt.Errorf("%w: %s", ErrInvalidRoomCode, re.Message)
	default:
		return err
	}
}
