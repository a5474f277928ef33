package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/iamgatling/mxxc/internal/channel"
)

// fakeChannel records what the sender writes.
type fakeChannel struct {
	mu        sync.Mutex
	connected bool
	texts     []string
	chunks    [][]byte

	// dropAfter disconnects the channel once this many chunks were sent.
	dropAfter int

	buffered uint64
	lowFn    func()
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{connected: true}
}

func (f *fakeChannel) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return channel.ErrNotConnected
	}
	f.chunks = append(f.chunks, bytes.Clone(data))
	if f.dropAfter > 0 && len(f.chunks) >= f.dropAfter {
		f.connected = false
	}
	return nil
}

func (f *fakeChannel) SendText(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return channel.ErrNotConnected
	}
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeChannel) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeChannel) BufferedAmount() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buffered
}

func (f *fakeChannel) OnBufferedAmountLow(_ uint64, fn func()) {
	f.mu.Lock()
	f.lowFn = fn
	f.mu.Unlock()
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	return nil
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// events collects hook calls.
type events struct {
	mu       sync.Mutex
	progress []Progress
	complete []Progress
	files    []ReceivedFile
	errs     []error
	cleared  chan Role
}

func newEvents() *events {
	return &events{cleared: make(chan Role, 4)}
}

func (ev *events) hooks() Hooks {
	return Hooks{
		OnProgress: func(p Progress) {
			ev.mu.Lock()
			ev.progress = append(ev.progress, p)
			ev.mu.Unlock()
		},
		OnComplete: func(p Progress) {
			ev.mu.Lock()
			ev.complete = append(ev.complete, p)
			ev.mu.Unlock()
		},
		OnFileReceived: func(f ReceivedFile) {
			ev.mu.Lock()
			ev.files = append(ev.files, f)
			ev.mu.Unlock()
		},
		OnError: func(err error) {
			ev.mu.Lock()
			ev.errs = append(ev.errs, err)
			ev.mu.Unlock()
		},
		OnCleared: func(r Role) { ev.cleared <- r },
	}
}

func (ev *events) errors() []error {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	return append([]error(nil), ev.errs...)
}

func control(t *testing.T, meta FileMetadata) channel.Message {
	t.Helper()
	text, err := EncodeControl(meta)
	if err != nil {
		t.Fatal(err)
	}
	return channel.Message{Data: []byte(text), IsString: true}
}

func chunk(data []byte) channel.Message {
	return channel.Message{Data: data}
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i * 7)
	}
	return b
}

func TestSendFileChunking(t *testing.T) {
	const c = ChunkSize
	sizes := []int{0, 1, 10, c - 1, c, c + 1, 3 * c, 3*c + 17}

	for _, size := range sizes {
		t.Run(fmt.Sprint(size), func(t *testing.T) {
			ev := newEvents()
			e := NewEngine(ev.hooks(), WithGraceDelay(time.Hour))
			ch := newFakeChannel()
			e.ChannelReady(ch)

			data := pattern(size)
			meta := FileMetadata{Name: "f.bin", Size: int64(size), Type: "application/octet-stream"}
			if err := e.SendFile(context.Background(), meta, bytes.NewReader(data)); err != nil {
				t.Fatalf("SendFile: %v", err)
			}

			if len(ch.texts) != 1 {
				t.Fatalf("expected one control message, got %d", len(ch.texts))
			}
			got, err := DecodeControl([]byte(ch.texts[0]))
			if err != nil || got != meta {
				t.Fatalf("control message decoded to %+v, %v", got, err)
			}

			want := (size + c - 1) / c
			if len(ch.chunks) != want {
				t.Errorf("expected %d chunks, got %d", want, len(ch.chunks))
			}
			for i, b := range ch.chunks {
				if len(b) > c {
					t.Errorf("chunk %d is %d bytes", i, len(b))
				}
			}
			if !bytes.Equal(bytes.Join(ch.chunks, nil), data) {
				t.Error("sent bytes differ from the source")
			}

			ev.mu.Lock()
			defer ev.mu.Unlock()
			if len(ev.progress) != want {
				t.Errorf("expected %d progress callbacks, got %d", want, len(ev.progress))
			}
			var last int64
			for _, p := range ev.progress {
				if p.TransferredBytes < last || p.TransferredBytes > meta.Size {
					t.Errorf("byte counter out of bounds: %d after %d (size %d)", p.TransferredBytes, last, meta.Size)
				}
				last = p.TransferredBytes
			}
			if len(ev.complete) != 1 || ev.complete[0].Percent != 100 {
				t.Errorf("expected one completion at 100%%, got %+v", ev.complete)
			}
		})
	}
}

func TestHappyPathOverPipe(t *testing.T) {
	sb := channel.NewSwitchboard()

	recvEvents := newEvents()
	received := make(chan ReceivedFile, 1)
	hooks := recvEvents.hooks()
	hooks.OnFileReceived = func(f ReceivedFile) { received <- f }

	receiver := NewEngine(hooks, WithGraceDelay(time.Hour))
	sender := NewEngine(Hooks{}, WithGraceDelay(time.Hour))

	connected := make(chan struct{}, 2)
	var initiator, responder *channel.PipePeer
	var signalToResponder, signalToInitiator json.RawMessage

	initiator = sb.NewPeer(true, channel.Handlers{
		OnSignal:  func(p json.RawMessage) { signalToResponder = p },
		OnConnect: func() { connected <- struct{}{} },
	})
	responder = sb.NewPeer(false, channel.Handlers{
		OnSignal:  func(p json.RawMessage) { signalToInitiator = p },
		OnConnect: func() { connected <- struct{}{} },
		OnData:    receiver.ChannelData,
	})
	defer initiator.Close()
	defer responder.Close()

	if err := responder.Signal(signalToResponder); err != nil {
		t.Fatal(err)
	}
	if err := initiator.Signal(signalToInitiator); err != nil {
		t.Fatal(err)
	}
	<-connected
	<-connected

	sender.ChannelReady(initiator)
	receiver.ChannelReady(responder)

	content := []byte("0123456789")
	meta := FileMetadata{Name: "x.txt", Size: 10, Type: "text/plain"}
	if err := sender.SendFile(context.Background(), meta, bytes.NewReader(content)); err != nil {
		t.Fatalf("SendFile: %v", err)
	}

	select {
	case f := <-received:
		if f.Metadata != meta {
			t.Errorf("unexpected metadata %+v", f.Metadata)
		}
		if !bytes.Equal(f.Data, content) {
			t.Errorf("expected %q, got %q", content, f.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("file was not received")
	}

	s, ok := receiver.Session()
	if !ok || !s.Complete || s.TransferredBytes != 10 {
		t.Errorf("unexpected receiver session %+v (ok=%v)", s, ok)
	}
	if errs := recvEvents.errors(); len(errs) != 0 {
		t.Errorf("unexpected errors: %v", errs)
	}
}

func TestStrayChunkIsProtocolError(t *testing.T) {
	ev := newEvents()
	e := NewEngine(ev.hooks(), WithGraceDelay(time.Hour))

	e.ChannelData(chunk([]byte("stray")))
	if errs := ev.errors(); len(errs) != 1 || !errors.Is(errs[0], ErrProtocol) {
		t.Fatalf("expected one protocol error, got %v", errs)
	}
	if _, ok := e.Session(); ok {
		t.Error("stray chunk must not open a session")
	}

	// A stray chunk after completion leaves the finished session alone.
	e.ChannelData(control(t, FileMetadata{Name: "a", Size: 4}))
	e.ChannelData(chunk([]byte("abcd")))
	before, _ := e.Session()

	e.ChannelData(chunk([]byte("late")))
	after, ok := e.Session()
	if !ok || after.TransferredBytes != before.TransferredBytes || !after.Complete {
		t.Errorf("session changed by stray chunk: %+v -> %+v", before, after)
	}
	if errs := ev.errors(); len(errs) != 2 || !errors.Is(errs[1], ErrProtocol) {
		t.Errorf("expected a second protocol error, got %v", errs)
	}
}

func TestMalformedControlResetsSession(t *testing.T) {
	ev := newEvents()
	e := NewEngine(ev.hooks())

	e.ChannelData(control(t, FileMetadata{Name: "a", Size: 10}))
	e.ChannelData(chunk([]byte("abc")))

	e.ChannelData(channel.Message{Data: []byte(`{"type":"FILE_START","metadata":`), IsString: true})

	if _, ok := e.Session(); ok {
		t.Error("expected session to be reset")
	}
	if errs := ev.errors(); len(errs) != 1 || !errors.Is(errs[0], ErrProtocol) {
		t.Errorf("expected protocol error, got %v", errs)
	}
}

func TestFileStartResetsSession(t *testing.T) {
	e := NewEngine(Hooks{})

	e.ChannelData(control(t, FileMetadata{Name: "first", Size: 100}))
	e.ChannelData(chunk(make([]byte, 40)))

	e.ChannelData(control(t, FileMetadata{Name: "second", Size: 50}))
	s, ok := e.Session()
	if !ok || s.Metadata.Name != "second" || s.TransferredBytes != 0 {
		t.Fatalf("expected fresh session, got %+v", s)
	}
}

func TestOverflowIsRejected(t *testing.T) {
	ev := newEvents()
	e := NewEngine(ev.hooks())

	e.ChannelData(control(t, FileMetadata{Name: "a", Size: 5}))
	e.ChannelData(chunk([]byte("abc")))
	e.ChannelData(chunk([]byte("defg")))

	if _, ok := e.Session(); ok {
		t.Error("expected overflowing session to be discarded")
	}
	if errs := ev.errors(); len(errs) != 1 || !errors.Is(errs[0], ErrProtocol) {
		t.Errorf("expected protocol error, got %v", errs)
	}
	if len(ev.files) != 0 {
		t.Error("overflowing file must not be delivered")
	}
}

func TestZeroByteFile(t *testing.T) {
	ev := newEvents()
	e := NewEngine(ev.hooks(), WithGraceDelay(time.Hour))

	e.ChannelData(control(t, FileMetadata{Name: "empty.txt", Size: 0}))

	ev.mu.Lock()
	defer ev.mu.Unlock()
	if len(ev.files) != 1 || len(ev.files[0].Data) != 0 {
		t.Fatalf("expected one empty file, got %+v", ev.files)
	}
}

func TestMidTransferDisconnect(t *testing.T) {
	ev := newEvents()
	e := NewEngine(ev.hooks())
	e.ChannelReady(newFakeChannel())

	const chunkLen = 4
	e.ChannelData(control(t, FileMetadata{Name: "ten.bin", Size: 10 * chunkLen}))
	for range 4 {
		e.ChannelData(chunk(make([]byte, chunkLen)))
	}
	if s, _ := e.Session(); s.TransferredBytes != 4*chunkLen {
		t.Fatalf("expected %d bytes, got %d", 4*chunkLen, s.TransferredBytes)
	}

	e.ChannelLost(errors.New("peer went away"))

	if _, ok := e.Session(); ok {
		t.Error("expected session to be discarded")
	}
	if errs := ev.errors(); len(errs) != 1 || !errors.Is(errs[0], ErrChannelClosed) {
		t.Fatalf("expected ErrChannelClosed, got %v", errs)
	}

	e.ChannelReady(newFakeChannel())
	e.ChannelData(control(t, FileMetadata{Name: "ten.bin", Size: 10 * chunkLen}))
	s, ok := e.Session()
	if !ok || s.TransferredBytes != 0 {
		t.Errorf("expected a new session from zero, got %+v", s)
	}
	if len(ev.files) != 0 {
		t.Error("partial file must not be delivered")
	}
}

func TestSpeedSampling(t *testing.T) {
	clock := newFakeClock()
	ev := newEvents()
	e := NewEngine(ev.hooks(), WithClock(clock.Now))

	e.ChannelData(control(t, FileMetadata{Name: "a", Size: 10000}))

	steps := []struct {
		bytes int
		want  float64
	}{
		{1000, 0},    // 0.5s: no sample yet
		{1000, 2000}, // 1.0s: 2000 bytes over 1s
		{1000, 2000}, // 1.5s: unchanged
		{3000, 4000}, // 2.0s: 4000 bytes over the last 1s
	}
	for i, step := range steps {
		clock.Advance(500 * time.Millisecond)
		e.ChannelData(chunk(make([]byte, step.bytes)))
		s, _ := e.Session()
		if s.Speed != step.want {
			t.Errorf("step %d: expected speed %.0f, got %.0f", i, step.want, s.Speed)
		}
	}
}

func TestGraceDelayClearsSession(t *testing.T) {
	ev := newEvents()
	e := NewEngine(ev.hooks(), WithGraceDelay(20*time.Millisecond))

	e.ChannelData(control(t, FileMetadata{Name: "a", Size: 3}))
	e.ChannelData(chunk([]byte("abc")))

	if s, ok := e.Session(); !ok || !s.Complete {
		t.Fatalf("expected completed session during grace delay, got %+v", s)
	}

	select {
	case role := <-ev.cleared:
		if role != RoleReceiver {
			t.Errorf("expected receiver cleared, got %s", role)
		}
	case <-time.After(time.Second):
		t.Fatal("session was not cleared")
	}
	if _, ok := e.Session(); ok {
		t.Error("expected no session after grace delay")
	}
}

func TestNewSessionCancelsPendingClear(t *testing.T) {
	ev := newEvents()
	e := NewEngine(ev.hooks(), WithGraceDelay(30*time.Millisecond))

	e.ChannelData(control(t, FileMetadata{Name: "a", Size: 1}))
	e.ChannelData(chunk([]byte("a")))
	e.ChannelData(control(t, FileMetadata{Name: "b", Size: 100}))

	time.Sleep(80 * time.Millisecond)
	s, ok := e.Session()
	if !ok || s.Metadata.Name != "b" {
		t.Errorf("second session was cleared by the first one's timer: %+v", s)
	}
}

func TestSendFileNotConnected(t *testing.T) {
	e := NewEngine(Hooks{})
	err := e.SendFile(context.Background(), FileMetadata{Name: "a", Size: 1}, strings.NewReader("a"))
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestSendFileAbortsWhenChannelDrops(t *testing.T) {
	ev := newEvents()
	e := NewEngine(ev.hooks(), WithChunkSize(4))
	ch := newFakeChannel()
	ch.dropAfter = 2
	e.ChannelReady(ch)

	err := e.SendFile(context.Background(), FileMetadata{Name: "a", Size: 40}, bytes.NewReader(make([]byte, 40)))
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if len(ch.chunks) != 2 {
		t.Errorf("expected 2 chunks before the drop, got %d", len(ch.chunks))
	}
	if _, ok := e.Session(); ok {
		t.Error("expected aborted session to be discarded")
	}
	if errs := ev.errors(); len(errs) != 1 {
		t.Errorf("expected the abort to be reported once, got %v", errs)
	}
}

func TestSendFileRejectsConcurrentSession(t *testing.T) {
	e := NewEngine(Hooks{})
	e.ChannelReady(newFakeChannel())
	e.ChannelData(control(t, FileMetadata{Name: "incoming", Size: 100}))

	err := e.SendFile(context.Background(), FileMetadata{Name: "a", Size: 1}, strings.NewReader("a"))
	if !errors.Is(err, ErrSessionActive) {
		t.Errorf("expected ErrSessionActive, got %v", err)
	}
	if s, _ := e.Session(); s.Metadata.Name != "incoming" {
		t.Error("active session was replaced")
	}
}

func TestSendFileShortRead(t *testing.T) {
	e := NewEngine(Hooks{})
	e.ChannelReady(newFakeChannel())

	err := e.SendFile(context.Background(), FileMetadata{Name: "a", Size: 100}, io.LimitReader(bytes.NewReader(make([]byte, 100)), 50))
	if !errors.Is(err, ErrShortRead) {
		t.Errorf("expected ErrShortRead, got %v", err)
	}
}

func TestSendFileCancelled(t *testing.T) {
	e := NewEngine(Hooks{})
	e.ChannelReady(newFakeChannel())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := e.SendFile(ctx, FileMetadata{Name: "a", Size: 10}, bytes.NewReader(make([]byte, 10)))
	if !errors.Is(err, ErrCancelled) {
		t.Errorf("expected ErrCancelled, got %v", err)
	}
}

func TestBackpressure(t *testing.T) {
	t.Run("times out", func(t *testing.T) {
		e := NewEngine(Hooks{}, WithBackpressure(100, 10, 20*time.Millisecond))
		ch := newFakeChannel()
		ch.buffered = 1000
		e.ChannelReady(ch)

		err := e.SendFile(context.Background(), FileMetadata{Name: "a", Size: 10}, bytes.NewReader(make([]byte, 10)))
		if !errors.Is(err, ErrBufferTimeout) {
			t.Errorf("expected ErrBufferTimeout, got %v", err)
		}
		if len(ch.chunks) != 0 {
			t.Errorf("expected no chunks while the buffer is full, got %d", len(ch.chunks))
		}
	})

	t.Run("resumes when drained", func(t *testing.T) {
		e := NewEngine(Hooks{}, WithBackpressure(100, 10, 5*time.Second))
		ch := newFakeChannel()
		ch.buffered = 1000
		e.ChannelReady(ch)

		go func() {
			for {
				ch.mu.Lock()
				fn := ch.lowFn
				if fn != nil {
					ch.buffered = 0
				}
				ch.mu.Unlock()
				if fn != nil {
					fn()
					return
				}
				time.Sleep(5 * time.Millisecond)
			}
		}()

		err := e.SendFile(context.Background(), FileMetadata{Name: "a", Size: 10}, bytes.NewReader(make([]byte, 10)))
		if err != nil {
			t.Fatalf("SendFile: %v", err)
		}
		if len(ch.chunks) != 1 {
			t.Errorf("expected 1 chunk, got %d", len(ch.chunks))
		}
	})
}

func TestDrain(t *testing.T) {
	e := NewEngine(Hooks{})
	ch := newFakeChannel()
	ch.buffered = 10
	e.ChannelReady(ch)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := e.Drain(ctx); !errors.Is(err, ErrCancelled) {
		t.Errorf("expected ErrCancelled while buffer is full, got %v", err)
	}

	ch.mu.Lock()
	ch.buffered = 0
	ch.mu.Unlock()
	if err := e.Drain(context.Background()); err != nil {
		t.Errorf("expected drained channel, got %v", err)
	}
}
