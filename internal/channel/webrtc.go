package channel

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/iamgatling/mxxc/internal/config"
	"github.com/iamgatling/mxxc/internal/utils"
	pion "github.com/pion/webrtc/v4"
)

// DataChannelLabel is the label of the single data channel.
const DataChannelLabel = "file-transfer"

// Signal payload types.
const (
	SignalOffer     = "offer"
	SignalAnswer    = "answer"
	SignalCandidate = "candidate"
)

// SignalPayload is the WebRTC signaling data (SDP offer/answer or ICE candidate).
type SignalPayload struct {
	Type         string                 `json:"type"`
	SDP          string                 `json:"sdp,omitempty"`
	ICECandidate *pion.ICECandidateInit `json:"ice_candidate,omitempty"`
}

// WebRTCPeer is a Peer backed by a pion peer connection with one ordered
// data channel. Offers and answers use trickle ICE.
type WebRTCPeer struct {
	pc        *pion.PeerConnection
	h         Handlers
	initiator bool
	logger    *slog.Logger

	mu        sync.Mutex
	dc        *pion.DataChannel
	remoteSet bool
	pending   []pion.ICECandidateInit

	connected atomic.Bool
	closeOnce sync.Once
	endOnce   sync.Once
}

// NewWebRTCFactory returns a Factory creating WebRTC peers from cfg.
func NewWebRTCFactory(cfg *config.Config, logger *slog.Logger) Factory {
	return func(initiator bool, h Handlers) (Peer, error) {
		return NewWebRTCPeer(cfg, initiator, h, logger)
	}
}

func NewWebRTCPeer(cfg *config.Config, initiator bool, h Handlers, logger *slog.Logger) (*WebRTCPeer, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pc, err := newPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	p := &WebRTCPeer{
		pc:        pc,
		h:         h,
		initiator: initiator,
		logger:    logger.With("component", "webrtc", "initiator", initiator),
	}
	p.setupHandlers()

	if !initiator {
		return p, nil
	}

	ordered := true
	dc, err := pc.CreateDataChannel(DataChannelLabel, &pion.DataChannelInit{Ordered: &ordered})
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create data channel: %w", err)
	}
	p.attach(dc)

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		pc.Close()
		return nil, fmt.Errorf("set local description: %w", err)
	}
	p.emit(SignalPayload{Type: SignalOffer, SDP: offer.SDP})

	return p, nil
}

func newPeerConnection(cfg *config.Config) (*pion.PeerConnection, error) {
	var iceServers []pion.ICEServer
	if stun := cfg.GetSTUNServers(); len(stun) > 0 {
		iceServers = append(iceServers, pion.ICEServer{URLs: stun})
	}

	turnServers := cfg.GetTURNServers()
	if turnServers != nil {
		username, password := cfg.GetTURNCredentials()
		iceServers = append(iceServers, pion.ICEServer{
			URLs:       turnServers,
			Username:   username,
			Credential: password,
		})
	}

	policy := pion.ICETransportPolicyAll
	if turnServers != nil && (cfg.ForceRelay || utils.ShouldForceRelay()) {
		policy = pion.ICETransportPolicyRelay
	}

	return pion.NewPeerConnection(pion.Configuration{
		ICEServers:         iceServers,
		ICETransportPolicy: policy,
	})
}

func (p *WebRTCPeer) setupHandlers() {
	p.pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			return
		}
		candidate := c.ToJSON()
		p.emit(SignalPayload{Type: SignalCandidate, ICECandidate: &candidate})
	})

	p.pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		p.logger.Debug("peer connection state", "state", state.String())
		switch state {
		case pion.PeerConnectionStateFailed:
			// A failure after the channel opened means the peer went away.
			if p.connected.Load() {
				p.end(nil)
			} else {
				p.end(errors.New("peer connection failed"))
			}
		case pion.PeerConnectionStateClosed:
			p.end(nil)
		}
	})

	if !p.initiator {
		p.pc.OnDataChannel(func(dc *pion.DataChannel) {
			if dc.Label() != DataChannelLabel {
				p.logger.Debug("ignoring unexpected data channel", "label", dc.Label())
				return
			}
			p.attach(dc)
		})
	}
}

func (p *WebRTCPeer) attach(dc *pion.DataChannel) {
	p.mu.Lock()
	p.dc = dc
	p.mu.Unlock()

	dc.OnOpen(func() {
		p.connected.Store(true)
		p.h.connect()
	})
	dc.OnMessage(func(msg pion.DataChannelMessage) {
		p.h.data(Message{Data: msg.Data, IsString: msg.IsString})
	})
	dc.OnError(func(err error) {
		p.end(err)
	})
	dc.OnClose(func() {
		p.end(nil)
	})
}

// end reports the first terminal event: an error, or a close when err is nil.
func (p *WebRTCPeer) end(err error) {
	p.endOnce.Do(func() {
		p.connected.Store(false)
		if err != nil {
			p.h.error(err)
			return
		}
		p.h.close()
	})
}

func (p *WebRTCPeer) emit(payload SignalPayload) {
	data, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error("failed to encode signal", "error", err)
		return
	}
	p.h.signal(data)
}

// Signal applies a payload received from the other peer. Candidates that
// arrive before the remote description are queued.
func (p *WebRTCPeer) Signal(raw json.RawMessage) error {
	var payload SignalPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("parse signal: %w", err)
	}

	switch payload.Type {
	case SignalOffer:
		if p.initiator {
			return fmt.Errorf("unexpected offer for initiator")
		}
		if err := p.setRemote(pion.SessionDescription{Type: pion.SDPTypeOffer, SDP: payload.SDP}); err != nil {
			return err
		}
		answer, err := p.pc.CreateAnswer(nil)
		if err != nil {
			return fmt.Errorf("create answer: %w", err)
		}
		if err := p.pc.SetLocalDescription(answer); err != nil {
			return fmt.Errorf("set local description: %w", err)
		}
		p.emit(SignalPayload{Type: SignalAnswer, SDP: answer.SDP})
		return nil

	case SignalAnswer:
		if !p.initiator {
			return fmt.Errorf("unexpected answer for responder")
		}
		return p.setRemote(pion.SessionDescription{Type: pion.SDPTypeAnswer, SDP: payload.SDP})

	case SignalCandidate:
		if payload.ICECandidate == nil {
			return nil
		}
		p.mu.Lock()
		if !p.remoteSet {
			p.pending = append(p.pending, *payload.ICECandidate)
			p.mu.Unlock()
			return nil
		}
		p.mu.Unlock()
		if err := p.pc.AddICECandidate(*payload.ICECandidate); err != nil {
			return fmt.Errorf("add ICE candidate: %w", err)
		}
		return nil

	default:
		return fmt.Errorf("unexpected signal type %q", payload.Type)
	}
}

func (p *WebRTCPeer) setRemote(desc pion.SessionDescription) error {
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}

	p.mu.Lock()
	p.remoteSet = true
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, c := range pending {
		if err := p.pc.AddICECandidate(c); err != nil {
			return fmt.Errorf("add ICE candidate: %w", err)
		}
	}
	return nil
}

func (p *WebRTCPeer) channel() (*pion.DataChannel, error) {
	p.mu.Lock()
	dc := p.dc
	p.mu.Unlock()
	if dc == nil || !p.connected.Load() || dc.ReadyState() != pion.DataChannelStateOpen {
		return nil, ErrNotConnected
	}
	return dc, nil
}

func (p *WebRTCPeer) Send(data []byte) error {
	dc, err := p.channel()
	if err != nil {
		return err
	}
	return dc.Send(data)
}

func (p *WebRTCPeer) SendText(text string) error {
	dc, err := p.channel()
	if err != nil {
		return err
	}
	return dc.SendText(text)
}

func (p *WebRTCPeer) Connected() bool {
	_, err := p.channel()
	return err == nil
}

func (p *WebRTCPeer) BufferedAmount() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dc == nil {
		return 0
	}
	return p.dc.BufferedAmount()
}

func (p *WebRTCPeer) OnBufferedAmountLow(threshold uint64, f func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dc == nil {
		return
	}
	p.dc.SetBufferedAmountLowThreshold(threshold)
	p.dc.OnBufferedAmountLow(f)
}

// Close tears down the peer connection. Events after Close are still
// delivered once, so callers should ignore events from peers they closed.
func (p *WebRTCPeer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.connected.Store(false)
		err = p.pc.Close()
	})
	return err
}
