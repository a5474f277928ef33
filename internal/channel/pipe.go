package channel

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
)

const pipeInbox = 4096

// Switchboard pairs in-memory peers through the same offer/answer exchange a
// WebRTC peer performs, so the rendezvous and transfer layers can run without
// a network. Messages are delivered in order on a per-peer goroutine.
type Switchboard struct {
	// FailNegotiation makes every responder report ErrNegotiation instead of
	// answering.
	FailNegotiation bool

	mu     sync.Mutex
	next   int
	offers map[string]*PipePeer
	peers  []*PipePeer
}

func NewSwitchboard() *Switchboard {
	return &Switchboard{offers: make(map[string]*PipePeer)}
}

// Factory returns a Factory creating peers on this switchboard.
func (s *Switchboard) Factory() Factory {
	return func(initiator bool, h Handlers) (Peer, error) {
		return s.NewPeer(initiator, h), nil
	}
}

// Peers returns every peer created so far, oldest first.
func (s *Switchboard) Peers() []*PipePeer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*PipePeer, len(s.peers))
	copy(out, s.peers)
	return out
}

type pipeSignal struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// NewPeer creates a peer. An initiator immediately emits its offer.
func (s *Switchboard) NewPeer(initiator bool, h Handlers) *PipePeer {
	p := &PipePeer{
		sb:        s,
		initiator: initiator,
		h:         h,
		inbox:     make(chan pipeEvent, pipeInbox),
		stop:      make(chan struct{}),
	}

	s.mu.Lock()
	s.peers = append(s.peers, p)
	if initiator {
		s.next++
		p.token = strconv.Itoa(s.next)
		s.offers[p.token] = p
	}
	s.mu.Unlock()

	go p.loop()

	if initiator {
		p.emit(SignalOffer)
	}
	return p
}

func (s *Switchboard) take(token string) *PipePeer {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.offers[token]
	delete(s.offers, token)
	return p
}

type pipeEvent struct {
	msg   Message
	from  *PipePeer
	close bool
}

// PipePeer is one end of an in-memory channel.
type PipePeer struct {
	sb        *Switchboard
	initiator bool
	h         Handlers
	token     string

	mu        sync.Mutex
	remote    *PipePeer
	connected bool
	closed    bool
	lowMark   uint64
	lowFn     func()

	buffered atomic.Int64
	inbox    chan pipeEvent
	stop     chan struct{}
	stopOnce sync.Once
}

func (p *PipePeer) emit(typ string) {
	data, _ := json.Marshal(pipeSignal{Type: typ, Token: p.token})
	p.h.signal(data)
}

// Signal handles the other side's offer or answer.
func (p *PipePeer) Signal(raw json.RawMessage) error {
	var sig pipeSignal
	if err := json.Unmarshal(raw, &sig); err != nil {
		return fmt.Errorf("parse signal: %w", err)
	}

	switch sig.Type {
	case SignalOffer:
		if p.initiator {
			return fmt.Errorf("unexpected offer for initiator")
		}
		if p.sb.FailNegotiation {
			go p.h.error(ErrNegotiation)
			return nil
		}
		remote := p.sb.take(sig.Token)
		if remote == nil {
			return fmt.Errorf("unknown offer %q", sig.Token)
		}
		p.token = sig.Token

		remote.mu.Lock()
		remote.remote = p
		remote.mu.Unlock()

		p.mu.Lock()
		p.remote = remote
		p.connected = true
		p.mu.Unlock()

		// Connect before answering so our connect event precedes any data.
		p.h.connect()
		p.emit(SignalAnswer)
		return nil

	case SignalAnswer:
		if !p.initiator {
			return fmt.Errorf("unexpected answer for responder")
		}
		p.mu.Lock()
		if p.remote == nil || p.closed {
			p.mu.Unlock()
			return fmt.Errorf("answer before offer was taken")
		}
		p.connected = true
		p.mu.Unlock()
		// Like a real transport, the connect event comes from another
		// goroutine, possibly after data the remote already sent.
		go p.h.connect()
		return nil

	case SignalCandidate:
		return nil

	default:
		return fmt.Errorf("unexpected signal type %q", sig.Type)
	}
}

func (p *PipePeer) loop() {
	for {
		select {
		case ev := <-p.inbox:
			if ev.close {
				p.mu.Lock()
				p.connected = false
				p.closed = true
				p.mu.Unlock()
				p.halt()
				p.h.close()
				return
			}
			p.h.data(ev.msg)
			ev.from.drained(len(ev.msg.Data))
		case <-p.stop:
			return
		}
	}
}

func (p *PipePeer) enqueue(ev pipeEvent) {
	select {
	case p.inbox <- ev:
	case <-p.stop:
	}
}

func (p *PipePeer) drained(n int) {
	after := p.buffered.Add(-int64(n))
	before := after + int64(n)

	p.mu.Lock()
	mark, fn := int64(p.lowMark), p.lowFn
	p.mu.Unlock()

	if fn != nil && before > mark && after <= mark {
		fn()
	}
}

func (p *PipePeer) send(data []byte, isString bool) error {
	p.mu.Lock()
	remote, ok := p.remote, p.connected && !p.closed
	p.mu.Unlock()
	if !ok || remote == nil {
		return ErrNotConnected
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	p.buffered.Add(int64(len(buf)))
	remote.enqueue(pipeEvent{msg: Message{Data: buf, IsString: isString}, from: p})
	return nil
}

func (p *PipePeer) Send(data []byte) error { return p.send(data, false) }

func (p *PipePeer) SendText(text string) error { return p.send([]byte(text), true) }

func (p *PipePeer) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected && !p.closed
}

func (p *PipePeer) BufferedAmount() uint64 {
	n := p.buffered.Load()
	if n < 0 {
		return 0
	}
	return uint64(n)
}

func (p *PipePeer) OnBufferedAmountLow(threshold uint64, f func()) {
	p.mu.Lock()
	p.lowMark = threshold
	p.lowFn = f
	p.mu.Unlock()
}

// Close closes this end. The other end sees OnClose after any data already
// in flight.
func (p *PipePeer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.connected = false
	remote := p.remote
	p.mu.Unlock()

	p.halt()
	if remote != nil {
		remote.enqueue(pipeEvent{close: true})
	}
	return nil
}

// Fail reports err on this end as a transport error.
func (p *PipePeer) Fail(err error) {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	p.h.error(err)
}

func (p *PipePeer) halt() {
	p.stopOnce.Do(func() { close(p.stop) })
}
