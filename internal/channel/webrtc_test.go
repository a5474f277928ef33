package channel

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/iamgatling/mxxc/internal/config"
)

// TestWebRTCLoopback negotiates two real peers in-process. Hosts without a
// usable non-loopback interface can't gather candidates, so the test skips
// when the channel doesn't open in time.
func TestWebRTCLoopback(t *testing.T) {
	cfg := &config.Config{}

	var a, b *WebRTCPeer
	ready := make(chan struct{})
	toA := make(chan json.RawMessage, 64)
	toB := make(chan json.RawMessage, 64)
	connected := make(chan struct{}, 2)
	received := make(chan Message, 4)

	hb := Handlers{
		OnSignal:  func(p json.RawMessage) { toA <- p },
		OnConnect: func() { connected <- struct{}{} },
		OnData:    func(m Message) { received <- m },
	}
	ha := Handlers{
		OnSignal:  func(p json.RawMessage) { toB <- p },
		OnConnect: func() { connected <- struct{}{} },
	}

	var err error
	b, err = NewWebRTCPeer(cfg, false, hb, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	a, err = NewWebRTCPeer(cfg, true, ha, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	close(ready)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		<-ready
		for {
			select {
			case p := <-toB:
				if err := b.Signal(p); err != nil {
					t.Errorf("responder signal: %v", err)
				}
			case p := <-toA:
				if err := a.Signal(p); err != nil {
					t.Errorf("initiator signal: %v", err)
				}
			case <-stop:
				return
			}
		}
	}()

	for range 2 {
		select {
		case <-connected:
		case <-time.After(10 * time.Second):
			t.Skip("data channel did not open; no usable network interface")
		}
	}

	if err := a.SendText(`{"type":"FILE_START"}`); err != nil {
		t.Fatal(err)
	}
	if err := a.Send([]byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}

	var got []Message
	for len(got) < 2 {
		select {
		case m := <-received:
			got = append(got, m)
		case <-time.After(5 * time.Second):
			t.Fatalf("received %d of 2 messages", len(got))
		}
	}
	if !got[0].IsString {
		t.Error("expected first message to be text")
	}
	if got[1].IsString || len(got[1].Data) != 3 {
		t.Errorf("unexpected binary message %+v", got[1])
	}
}

func TestWebRTCSignalRejectsWrongRole(t *testing.T) {
	cfg := &config.Config{}

	p, err := NewWebRTCPeer(cfg, false, Handlers{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	if err := p.Signal(json.RawMessage(`{"type":"answer","sdp":"v=0"}`)); err == nil {
		t.Error("expected responder to reject an answer")
	}
	if err := p.Signal(json.RawMessage(`{"type":"bogus"}`)); err == nil {
		t.Error("expected unknown signal type to fail")
	}
	if err := p.Signal(json.RawMessage(`not json`)); err == nil {
		t.Error("expected malformed payload to fail")
	}
	if p.Connected() {
		t.Error("expected unconnected peer")
	}
	if err := p.Send([]byte("x")); err != ErrNotConnected {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}
