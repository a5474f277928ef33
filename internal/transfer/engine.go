package transfer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/iamgatling/mxxc/internal/channel"
)

// ReceivedFile is a fully reassembled inbound file.
type ReceivedFile struct {
	Metadata FileMetadata
	Data     []byte
}

// Hooks are called by the engine outside its lock. Any of them may be nil.
type Hooks struct {
	OnStart        func(Progress)
	OnProgress     func(Progress)
	OnComplete     func(Progress)
	OnFileReceived func(ReceivedFile)
	OnError        func(error)

	// OnCleared fires when a completed session is cleared after the grace
	// delay.
	OnCleared func(Role)
}

// Engine moves one file at a time over a channel. It owns the session; at
// most one session, in either direction, exists per channel.
type Engine struct {
	hooks  Hooks
	logger *slog.Logger

	clock          func() time.Time
	graceDelay     time.Duration
	sampleInterval time.Duration
	chunkSize      int
	highWater      uint64
	lowWater       uint64
	sendTimeout    time.Duration

	mu      sync.Mutex
	ch      channel.Channel
	session *Session
	// gen changes whenever the session is replaced or discarded, so stale
	// timers and senders can tell they no longer own it.
	gen        uint64
	discardErr error
	grace      *time.Timer
}

type Option func(*Engine)

// WithClock replaces time.Now for speed sampling.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.clock = now }
}

func WithGraceDelay(d time.Duration) Option {
	return func(e *Engine) { e.graceDelay = d }
}

func WithSampleInterval(d time.Duration) Option {
	return func(e *Engine) { e.sampleInterval = d }
}

func WithChunkSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.chunkSize = n
		}
	}
}

// WithBackpressure sets the buffered-amount window and how long to wait for
// it to drain.
func WithBackpressure(high, low uint64, timeout time.Duration) Option {
	return func(e *Engine) {
		e.highWater, e.lowWater, e.sendTimeout = high, low, timeout
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func NewEngine(hooks Hooks, opts ...Option) *Engine {
	e := &Engine{
		hooks:          hooks,
		logger:         slog.Default(),
		clock:          time.Now,
		graceDelay:     GraceDelay,
		sampleInterval: SpeedSampleInterval,
		chunkSize:      ChunkSize,
		highWater:      HighWaterMark,
		lowWater:       LowWaterMark,
		sendTimeout:    SendTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "transfer")
	return e
}

// ChannelReady hands the engine a freshly connected channel.
func (e *Engine) ChannelReady(ch channel.Channel) {
	e.mu.Lock()
	e.ch = ch
	e.discardLocked(ErrChannelClosed)
	e.mu.Unlock()

	e.logger.Debug("channel ready")
}

// ChannelLost drops the channel. An unfinished session is discarded and
// reported; nothing is resumed.
func (e *Engine) ChannelLost(err error) {
	e.mu.Lock()
	e.ch = nil
	s := e.session
	e.discardLocked(ErrChannelClosed)
	e.mu.Unlock()

	if s == nil || s.Complete {
		return
	}

	e.logger.Warn("channel lost mid-transfer",
		"file", s.Metadata.Name, "bytes", s.TransferredBytes, "size", s.Metadata.Size, "error", err)
	details := ""
	if err != nil {
		details = err.Error()
	}
	e.fail(&TransferError{Op: s.Role.String(), File: s.Metadata.Name, Err: ErrChannelClosed, Details: details})
}

// ChannelData handles one inbound message.
func (e *Engine) ChannelData(msg channel.Message) {
	if IsControl(msg) {
		e.handleControl(msg.Data)
		return
	}
	if msg.IsString {
		e.protocolError("unexpected text message", nil)
		return
	}
	e.handleChunk(msg.Data)
}

// Session returns a copy of the current session.
func (e *Engine) Session() (Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return Session{}, false
	}
	return e.session.snapshot(), true
}

// Drain waits until everything sent has left the channel's buffer, the
// channel closes, or ctx is done.
func (e *Engine) Drain(ctx context.Context) error {
	e.mu.Lock()
	ch := e.ch
	e.mu.Unlock()
	if ch == nil {
		return nil
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for ch.BufferedAmount() > 0 && ch.Connected() {
		select {
		case <-ctx.Done():
			return NewError("drain", ErrCancelled)
		case <-ticker.C:
		}
	}
	return nil
}

// Cancel discards any session without touching the channel.
func (e *Engine) Cancel() {
	e.mu.Lock()
	e.discardLocked(ErrCancelled)
	e.mu.Unlock()
}

// discardLocked drops the session and invalidates its generation.
func (e *Engine) discardLocked(reason error) {
	e.stopGraceLocked()
	if e.session != nil {
		e.discardErr = reason
	}
	e.session = nil
	e.gen++
}

func (e *Engine) stopGraceLocked() {
	if e.grace != nil {
		e.grace.Stop()
		e.grace = nil
	}
}

// startLocked replaces any session with a new one and returns its generation.
func (e *Engine) startLocked(role Role, meta FileMetadata) (*Session, uint64) {
	e.discardLocked(ErrCancelled)
	e.session = newSession(role, meta, e.clock())
	return e.session, e.gen
}

// advance records n bytes for session gen and reports progress. It returns
// false if gen no longer owns the session.
func (e *Engine) advance(gen uint64, n int64) bool {
	e.mu.Lock()
	if gen != e.gen || e.session == nil {
		e.mu.Unlock()
		return false
	}
	now := e.clock()
	e.session.advance(n, now, e.sampleInterval)
	p := e.session.progress(now)
	e.mu.Unlock()

	if e.hooks.OnProgress != nil {
		e.hooks.OnProgress(p)
	}
	return true
}

// completeLocked marks the session done and schedules it to be cleared.
// The caller must hold e.mu; the returned func runs the hooks after unlock.
func (e *Engine) completeLocked(gen uint64) func() {
	s := e.session
	s.Complete = true
	p := s.progress(e.clock())

	var file *ReceivedFile
	if s.Role == RoleReceiver {
		var size int
		for _, c := range s.chunks {
			size += len(c)
		}
		data := make([]byte, 0, size)
		for _, c := range s.chunks {
			data = append(data, c...)
		}
		s.chunks = nil
		file = &ReceivedFile{Metadata: s.Metadata, Data: data}
	}

	role := s.Role
	e.stopGraceLocked()
	e.grace = time.AfterFunc(e.graceDelay, func() { e.clear(gen, role) })

	e.logger.Info("transfer complete",
		"role", role.String(), "file", s.Metadata.Name, "bytes", s.TransferredBytes, "elapsed", p.Elapsed)

	return func() {
		if e.hooks.OnComplete != nil {
			e.hooks.OnComplete(p)
		}
		if file != nil && e.hooks.OnFileReceived != nil {
			e.hooks.OnFileReceived(*file)
		}
	}
}

func (e *Engine) clear(gen uint64, role Role) {
	e.mu.Lock()
	if gen != e.gen || e.session == nil {
		e.mu.Unlock()
		return
	}
	e.session = nil
	e.grace = nil
	e.gen++
	e.mu.Unlock()

	if e.hooks.OnCleared != nil {
		e.hooks.OnCleared(role)
	}
}

func (e *Engine) fail(err error) {
	if e.hooks.OnError != nil {
		e.hooks.OnError(err)
	}
}

func (e *Engine) start(p Progress) {
	if e.hooks.OnStart != nil {
		e.hooks.OnStart(p)
	}
}
