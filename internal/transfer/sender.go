package transfer

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/iamgatling/mxxc/internal/channel"
)

// SendFile sends meta then exactly meta.Size bytes from r over the current
// channel. One chunk is read and sent before the next is read.
func (e *Engine) SendFile(ctx context.Context, meta FileMetadata, r io.Reader) error {
	if err := meta.validate(); err != nil {
		return WrapError("send", ErrProtocol, err.Error())
	}

	e.mu.Lock()
	ch := e.ch
	if ch == nil || !ch.Connected() {
		e.mu.Unlock()
		return NewFileError("send", meta.Name, ErrNotConnected)
	}
	if e.session != nil && !e.session.Complete {
		e.mu.Unlock()
		return NewFileError("send", meta.Name, ErrSessionActive)
	}
	s, gen := e.startLocked(RoleSender, meta)
	p := s.progress(e.clock())
	e.mu.Unlock()

	e.logger.Debug("sending file", "file", meta.Name, "size", meta.Size)
	e.start(p)

	control, err := EncodeControl(meta)
	if err != nil {
		return e.abort(gen, WrapError("send", ErrProtocol, err.Error()))
	}
	if err := ch.SendText(control); err != nil {
		return e.abort(gen, &TransferError{Op: "send control", File: meta.Name, Err: ErrNotConnected, Details: err.Error()})
	}

	buf := make([]byte, e.chunkSize)
	var sent int64

	for sent < meta.Size {
		if ctx.Err() != nil {
			return e.abort(gen, NewFileError("send", meta.Name, ErrCancelled))
		}
		if err := e.owned(gen); err != nil {
			return NewFileError("send", meta.Name, err)
		}
		if !ch.Connected() {
			return e.abort(gen, NewFileError("send", meta.Name, ErrNotConnected))
		}

		if err := e.waitForWindow(ctx, ch); err != nil {
			return e.abort(gen, &TransferError{Op: "send", File: meta.Name, Err: err})
		}

		n := int64(len(buf))
		if remaining := meta.Size - sent; remaining < n {
			n = remaining
		}

		if _, err := io.ReadFull(r, buf[:n]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return e.abort(gen, NewFileError("read", meta.Name, ErrShortRead))
			}
			return e.abort(gen, &TransferError{Op: "read", File: meta.Name, Err: err})
		}

		if err := ch.Send(buf[:n]); err != nil {
			return e.abort(gen, &TransferError{Op: "send", File: meta.Name, Err: ErrNotConnected, Details: err.Error()})
		}

		sent += n
		if !e.advance(gen, n) {
			return NewFileError("send", meta.Name, e.discardReason())
		}
	}

	e.mu.Lock()
	if gen != e.gen || e.session == nil {
		e.mu.Unlock()
		return NewFileError("send", meta.Name, e.discardReason())
	}
	after := e.completeLocked(gen)
	e.mu.Unlock()
	after()

	return nil
}

// owned returns nil while gen still owns the session, or why it was dropped.
func (e *Engine) owned(gen uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if gen == e.gen && e.session != nil {
		return nil
	}
	if e.discardErr != nil {
		return e.discardErr
	}
	return ErrCancelled
}

func (e *Engine) discardReason() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.discardErr != nil {
		return e.discardErr
	}
	return ErrCancelled
}

// abort discards session gen and reports err, unless the session was
// already dropped and reported elsewhere.
func (e *Engine) abort(gen uint64, err error) error {
	e.mu.Lock()
	current := gen == e.gen
	if current {
		e.discardLocked(err)
	}
	e.mu.Unlock()

	if current {
		e.logger.Warn("send aborted", "error", err)
		e.fail(err)
	}
	return err
}

// waitForWindow blocks while the channel's buffer is above the high-water
// mark, until it drains to the low-water mark.
func (e *Engine) waitForWindow(ctx context.Context, ch channel.Channel) error {
	buffered := ch.BufferedAmount()
	if buffered < e.highWater {
		return nil
	}

	wait := make(chan struct{}, 1)
	ch.OnBufferedAmountLow(e.lowWater, func() {
		select {
		case wait <- struct{}{}:
		default:
		}
	})

	// It may have drained before the callback was registered.
	if ch.BufferedAmount() <= e.lowWater {
		return nil
	}

	timer := time.NewTimer(e.sendTimeout)
	defer timer.Stop()

	select {
	case <-wait:
		return nil
	case <-ctx.Done():
		return ErrCancelled
	case <-timer.C:
		if ch.BufferedAmount() < buffered {
			return nil
		}
		return ErrBufferTimeout
	}
}
