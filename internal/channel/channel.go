// Package channel defines the transport channel the transfer engine runs
// over, with a WebRTC data channel implementation and an in-memory one.
package channel

import (
	"encoding/json"
	"errors"
)

var (
	ErrNotConnected = errors.New("channel not connected")
	ErrNegotiation  = errors.New("negotiation failed")
)

// Message is one message received from the channel.
type Message struct {
	Data     []byte
	IsString bool
}

// Handlers receive a peer's events. They may be called from any goroutine
// and must not block for long.
type Handlers struct {
	// OnSignal is called with a negotiation payload to relay to the other side.
	OnSignal  func(payload json.RawMessage)
	OnConnect func()
	OnData    func(msg Message)
	OnError   func(err error)
	OnClose   func()
}

// Channel is an ordered, reliable, bidirectional message channel.
type Channel interface {
	Send(data []byte) error
	SendText(text string) error
	Connected() bool

	// BufferedAmount is the number of bytes queued but not yet sent.
	BufferedAmount() uint64

	// OnBufferedAmountLow registers f to be called when BufferedAmount
	// drops to threshold or below.
	OnBufferedAmountLow(threshold uint64, f func())

	Close() error
}

// Peer is a Channel that is still being negotiated through a relay.
type Peer interface {
	Channel

	// Signal feeds a negotiation payload received from the other side.
	Signal(payload json.RawMessage) error
}

// Factory creates a peer. The initiator makes the first offer.
type Factory func(initiator bool, h Handlers) (Peer, error)

func (h Handlers) signal(payload json.RawMessage) {
	if h.OnSignal != nil {
		h.OnSignal(payload)
	}
}

func (h Handlers) connect() {
	if h.OnConnect != nil {
		h.OnConnect()
	}
}

func (h Handlers) data(msg Message) {
	if h.OnData != nil {
		h.OnData(msg)
	}
}

func (h Handlers) error(err error) {
	if h.OnError != nil {
		h.OnError(err)
	}
}

func (h Handlers) close() {
	if h.OnClose != nil {
		h.OnClose()
	}
}
