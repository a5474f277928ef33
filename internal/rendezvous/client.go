// Package rendezvous drives a room attempt through the signaling relay until
// a direct peer channel is connected, and hands that channel to a handler.
package rendezvous

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/iamgatling/mxxc/internal/channel"
	"github.com/iamgatling/mxxc/internal/roomcode"
	"github.com/iamgatling/mxxc/internal/signaling"
)

const eventQueue = 256

// Relay is the connection to the signaling relay. *signaling.Client
// satisfies it.
type Relay interface {
	Send(msg *signaling.Message) error

	// Incoming is closed when the relay connection ends.
	Incoming() <-chan *signaling.Message
}

// Handler receives the connected channel and everything read from it.
// *transfer.Engine satisfies it. Calls are made from the client's loop, one
// at a time.
type Handler interface {
	ChannelReady(ch channel.Channel)
	ChannelData(msg channel.Message)
	ChannelLost(err error)
}

type eventKind int

const (
	evJoin eventKind = iota
	evCreate
	evLeave
	evSignal
	evConnect
	evData
	evError
	evClose
)

// event is a command from the caller or something a peer reported. Peer
// events carry the generation of the peer that raised them.
type event struct {
	kind    eventKind
	gen     uint64
	seq     uint64
	room    string
	payload json.RawMessage
	msg     channel.Message
	err     error
}

// Client is the rendezvous state machine for one endpoint. All state is
// owned by the goroutine running Run; the exported methods only queue
// events or read a snapshot.
type Client struct {
	relay      Relay
	newPeer    channel.Factory
	handler    Handler
	logger     *slog.Logger
	codeLength int
	onChange   func(Change)

	events chan event
	done   chan struct{}

	// owned by Run
	peer       channel.Peer
	gen        uint64
	pending    string
	relayGone  bool
	relayInbox <-chan *signaling.Message
	// early holds data the peer delivered before its connect event.
	early []channel.Message

	mu      sync.Mutex
	snap    Snapshot
	changed chan struct{}
	// posted counts queued commands, applied the ones Run has handled.
	posted  uint64
	applied uint64
	cmdMu   sync.Mutex
	runOnce sync.Once
}

type Option func(*Client)

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithCodeLength sets the room code length Join validates against. Zero
// accepts any non-empty alphanumeric code.
func WithCodeLength(n int) Option {
	return func(c *Client) { c.codeLength = n }
}

// OnStateChange registers f to be called from the loop on every transition.
func OnStateChange(f func(Change)) Option {
	return func(c *Client) { c.onChange = f }
}

func New(relay Relay, newPeer channel.Factory, handler Handler, opts ...Option) *Client {
	c := &Client{
		relay:      relay,
		newPeer:    newPeer,
		handler:    handler,
		logger:     slog.Default(),
		codeLength: roomcode.Length,
		events:     make(chan event, eventQueue),
		done:       make(chan struct{}),
		changed:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "rendezvous")
	return c
}

// Join starts an attempt on room, abandoning any current one.
func (c *Client) Join(room string) error {
	code, err := roomcode.Parse(room, c.codeLength)
	if err != nil {
		return &Error{Op: "join", Room: roomcode.Normalize(room), Err: fmt.Errorf("%w: %v", ErrInvalidRoomCode, err)}
	}
	return c.command(event{kind: evJoin, room: code})
}

// Create asks the relay for a fresh room and joins it.
func (c *Client) Create() error {
	return c.command(event{kind: evCreate})
}

// Leave closes any channel, leaves the room and returns to StateIdle.
func (c *Client) Leave() error {
	return c.command(event{kind: evLeave})
}

// Snapshot returns the current state.
func (c *Client) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

func (c *Client) State() State {
	return c.Snapshot().State
}

// Wait blocks until cond holds for the current snapshot. It returns the
// snapshot's error if the client reaches StateError first. Commands queued
// before Wait was called are applied before cond is checked.
func (c *Client) Wait(ctx context.Context, cond func(Snapshot) bool) (Snapshot, error) {
	c.mu.Lock()
	want := c.posted
	c.mu.Unlock()

	for {
		c.mu.Lock()
		snap, changed, settled := c.snap, c.changed, c.applied >= want
		c.mu.Unlock()

		if settled {
			if cond(snap) {
				return snap, nil
			}
			if snap.State == StateError {
				return snap, snap.Err
			}
		}

		select {
		case <-changed:
		case <-c.done:
			snap = c.Snapshot()
			if cond(snap) {
				return snap, nil
			}
			if snap.Err != nil {
				return snap, snap.Err
			}
			return snap, &Error{Op: "wait", Room: snap.Room, Err: ErrRelayUnavailable}
		case <-ctx.Done():
			return snap, ctx.Err()
		}
	}
}

// WaitFor blocks until the client is in state s.
func (c *Client) WaitFor(ctx context.Context, s State) error {
	_, err := c.Wait(ctx, func(snap Snapshot) bool { return snap.State == s })
	return err
}

// command queues a caller command and numbers it so Wait can tell when it
// has been applied.
func (c *Client) command(ev event) error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	c.mu.Lock()
	c.posted++
	ev.seq = c.posted
	c.mu.Unlock()

	return c.post(ev)
}

func (c *Client) post(ev event) error {
	select {
	case <-c.done:
		return &Error{Op: "post", Err: ErrRelayUnavailable}
	default:
	}
	select {
	case c.events <- ev:
		return nil
	case <-c.done:
		return &Error{Op: "post", Err: ErrRelayUnavailable}
	}
}

// Run consumes relay messages and events until ctx is done, or the relay
// connection ends while no channel is connected.
func (c *Client) Run(ctx context.Context) error {
	started := false
	c.runOnce.Do(func() { started = true })
	if !started {
		return errors.New("rendezvous: Run called twice")
	}
	defer close(c.done)

	c.relayInbox = c.relay.Incoming()

	for {
		select {
		case <-ctx.Done():
			c.teardown(ErrLeft)
			return ctx.Err()

		case msg, ok := <-c.relayInbox:
			if !ok {
				if err := c.relayLost(); err != nil {
					return err
				}
				continue
			}
			c.handleRelay(msg)

		case ev := <-c.events:
			c.handleEvent(ev)
		}

		if c.relayGone && c.peer == nil {
			err := &Error{Op: "relay", Room: c.Snapshot().Room, Err: ErrRelayUnavailable}
			c.setState(StateError, err)
			return err
		}
	}
}

// relayLost stops reading the relay. A connected channel keeps running
// without it.
func (c *Client) relayLost() error {
	c.relayInbox = nil
	c.relayGone = true

	snap := c.Snapshot()
	c.logger.Warn("relay connection lost", "room", snap.Room, "state", snap.State)
	if snap.State == StateConnected {
		return nil
	}
	c.teardown(ErrRelayUnavailable)
	err := &Error{Op: "relay", Room: snap.Room, Err: ErrRelayUnavailable}
	c.setState(StateError, err)
	return err
}

func (c *Client) handleRelay(msg *signaling.Message) {
	snap := c.Snapshot()

	switch msg.Type {
	case signaling.MessageTypeWelcome:
		c.logger.Debug("registered with relay", "id", msg.SenderID)

	case signaling.MessageTypeRoomJoined:
		if snap.State != StateJoining || (c.pending != "" && msg.RoomID != c.pending) {
			c.logger.Debug("ignoring stale join ack", "room", msg.RoomID, "state", snap.State)
			return
		}
		c.logger.Info("joined room", "room", msg.RoomID, "members", msg.Members, "role", msg.Role)
		c.pending = ""
		c.update(func(s *Snapshot) {
			s.State = StateWaitingForPeer
			s.Room = msg.RoomID
			s.Err = nil
		})

	case signaling.MessageTypeUserConnected:
		if !c.inRoom(snap, msg.RoomID) || snap.State != StateWaitingForPeer {
			c.logger.Debug("ignoring peer join", "peer", msg.SenderID, "state", snap.State)
			return
		}
		c.logger.Info("peer joined", "room", snap.Room, "peer", msg.SenderID)
		c.startPeer(true)

	case signaling.MessageTypeSignal:
		if !c.inRoom(snap, msg.RoomID) {
			return
		}
		switch snap.State {
		case StateWaitingForPeer:
			c.logger.Info("peer is negotiating", "room", snap.Room, "peer", msg.SenderID)
			if !c.startPeer(false) {
				return
			}
		case StateNegotiating:
		default:
			// Nothing is negotiated once connected.
			return
		}
		if err := c.peer.Signal(msg.Payload); err != nil {
			c.fail("negotiate", fmt.Errorf("%w: %w", ErrNegotiationFailed, err))
		}

	case signaling.MessageTypeError:
		err := relayError(msg)
		if snap.State == StateJoining {
			c.pending = ""
			c.fail("join", err)
			return
		}
		c.logger.Warn("relay reported an error", "room", snap.Room, "error", err)

	default:
		c.logger.Debug("ignoring relay message", "type", msg.Type)
	}
}

func (c *Client) inRoom(snap Snapshot, room string) bool {
	return room == "" || room == snap.Room
}

func (c *Client) handleEvent(ev event) {
	if ev.seq != 0 {
		defer c.markApplied(ev.seq)
	}

	switch ev.kind {
	case evJoin, evCreate:
		c.teardown(ErrLeft)
		msg := &signaling.Message{Type: signaling.MessageTypeJoinRoom, RoomID: ev.room}
		if ev.kind == evCreate {
			msg = &signaling.Message{Type: signaling.MessageTypeCreateRoom}
		}
		c.pending = ev.room
		c.update(func(s *Snapshot) {
			s.State = StateJoining
			s.Room = ev.room
			s.Initiator = false
			s.Err = nil
		})
		if err := c.relay.Send(msg); err != nil {
			c.fail("join", fmt.Errorf("%w: %w", ErrRelayUnavailable, err))
		}

	case evLeave:
		c.teardown(ErrLeft)
		room := c.Snapshot().Room
		c.pending = ""
		c.update(func(s *Snapshot) {
			s.State = StateIdle
			s.Room = ""
			s.Initiator = false
			s.Err = nil
		})
		if room != "" && !c.relayGone {
			if err := c.relay.Send(&signaling.Message{Type: signaling.MessageTypeLeaveRoom}); err != nil {
				c.logger.Debug("leave not sent", "room", room, "error", err)
			}
		}

	default:
		if ev.gen != c.gen || c.peer == nil {
			return
		}
		c.handlePeer(ev)
	}
}

func (c *Client) handlePeer(ev event) {
	snap := c.Snapshot()

	switch ev.kind {
	case evSignal:
		if c.relayGone {
			return
		}
		msg := &signaling.Message{Type: signaling.MessageTypeSignal, RoomID: snap.Room, Payload: ev.payload}
		if err := c.relay.Send(msg); err != nil {
			c.logger.Debug("signal not sent", "room", snap.Room, "error", err)
		}

	case evConnect:
		if snap.State != StateNegotiating {
			return
		}
		c.logger.Info("peer channel connected", "room", snap.Room, "initiator", snap.Initiator)
		// The handler owns the channel before anyone waiting on the state
		// can use it.
		c.handler.ChannelReady(c.peer)
		early := c.early
		c.early = nil
		for _, msg := range early {
			c.handler.ChannelData(msg)
		}
		c.update(func(s *Snapshot) {
			s.State = StateConnected
			s.Err = nil
		})

	case evData:
		switch snap.State {
		case StateConnected:
			c.handler.ChannelData(ev.msg)
		case StateNegotiating:
			// The other side can connect, and start sending, before our own
			// connect event arrives.
			c.early = append(c.early, ev.msg)
		}

	case evError:
		op := "channel"
		err := ev.err
		if snap.State == StateNegotiating {
			op = "negotiate"
			err = fmt.Errorf("%w: %w", ErrNegotiationFailed, ev.err)
		}
		c.fail(op, err)

	case evClose:
		c.logger.Info("peer channel closed", "room", snap.Room, "state", snap.State)
		c.teardown(ErrChannelClosed)
		c.update(func(s *Snapshot) {
			s.State = StateWaitingForPeer
			s.Initiator = false
			s.Err = &Error{Op: "channel", Room: s.Room, Err: ErrChannelClosed}
		})
	}
}

// startPeer creates the one peer of this attempt. It reports whether the
// peer was created.
func (c *Client) startPeer(initiator bool) bool {
	c.gen++
	gen := c.gen
	c.early = nil
	c.update(func(s *Snapshot) {
		s.State = StateNegotiating
		s.Initiator = initiator
	})

	peer, err := c.newPeer(initiator, channel.Handlers{
		OnSignal:  func(p json.RawMessage) { c.peerEvent(event{kind: evSignal, gen: gen, payload: p}) },
		OnConnect: func() { c.peerEvent(event{kind: evConnect, gen: gen}) },
		OnData:    func(m channel.Message) { c.peerEvent(event{kind: evData, gen: gen, msg: m}) },
		OnError:   func(err error) { c.peerEvent(event{kind: evError, gen: gen, err: err}) },
		OnClose:   func() { c.peerEvent(event{kind: evClose, gen: gen}) },
	})
	if err != nil {
		c.fail("negotiate", fmt.Errorf("%w: %w", ErrNegotiationFailed, err))
		return false
	}
	c.peer = peer
	return true
}

// peerEvent queues an event from a peer callback. Events raised after Run
// has returned are dropped.
func (c *Client) peerEvent(ev event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// teardown closes the current peer. If it was connected, the handler is told
// the channel is gone.
func (c *Client) teardown(reason error) {
	if c.peer == nil {
		return
	}
	wasConnected := c.Snapshot().State == StateConnected
	peer := c.peer
	c.peer = nil
	c.early = nil
	c.gen++

	if err := peer.Close(); err != nil {
		c.logger.Debug("closing peer", "error", err)
	}
	if wasConnected {
		c.handler.ChannelLost(reason)
	}
}

// fail ends the attempt.
func (c *Client) fail(op string, err error) {
	c.teardown(err)
	room := c.Snapshot().Room
	c.logger.Warn("room attempt failed", "op", op, "room", room, "error", err)
	c.setState(StateError, &Error{Op: op, Room: room, Err: err})
}

func (c *Client) markApplied(seq uint64) {
	c.mu.Lock()
	if seq > c.applied {
		c.applied = seq
	}
	close(c.changed)
	c.changed = make(chan struct{})
	c.mu.Unlock()
}

func (c *Client) setState(state State, err error) {
	c.update(func(s *Snapshot) {
		s.State = state
		s.Err = err
	})
}

// update applies f to the snapshot. The listener sees the change before
// Snapshot and Wait do.
func (c *Client) update(f func(*Snapshot)) {
	c.mu.Lock()
	next := c.snap
	c.mu.Unlock()

	from := next.State
	f(&next)
	if from != next.State {
		c.logger.Debug("state changed", "from", from, "to", next.State, "room", next.Room)
	}
	if c.onChange != nil {
		c.onChange(Change{From: from, Snapshot: next})
	}

	c.mu.Lock()
	c.snap = next
	close(c.changed)
	c.changed = make(chan struct{})
	c.mu.Unlock()
}
