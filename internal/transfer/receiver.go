package transfer

import "fmt"

// handleControl opens a fresh inbound session, replacing whatever was there.
func (e *Engine) handleControl(data []byte) {
	meta, err := DecodeControl(data)
	if err != nil {
		e.mu.Lock()
		e.discardLocked(ErrProtocol)
		e.mu.Unlock()
		e.protocolError("malformed "+ControlMarker, err)
		return
	}

	e.mu.Lock()
	s, gen := e.startLocked(RoleReceiver, meta)
	p := s.progress(e.clock())
	var after func()
	if meta.Size == 0 {
		after = e.completeLocked(gen)
	}
	e.mu.Unlock()

	e.logger.Debug("receiving file", "file", meta.Name, "size", meta.Size, "type", meta.Type)
	e.start(p)
	if after != nil {
		after()
	}
}

// handleChunk appends one binary message to the inbound session.
func (e *Engine) handleChunk(data []byte) {
	e.mu.Lock()
	s := e.session
	if s == nil || s.Role != RoleReceiver || s.Complete {
		e.mu.Unlock()
		e.protocolError("data chunk with no active session", fmt.Errorf("%d bytes", len(data)))
		return
	}

	n := int64(len(data))
	if s.TransferredBytes+n > s.Metadata.Size {
		name := s.Metadata.Name
		over := s.TransferredBytes + n - s.Metadata.Size
		e.discardLocked(ErrProtocol)
		e.mu.Unlock()
		e.protocolError("data past end of "+name, fmt.Errorf("%d extra bytes", over))
		return
	}

	chunk := make([]byte, len(data))
	copy(chunk, data)
	s.chunks = append(s.chunks, chunk)

	now := e.clock()
	s.advance(n, now, e.sampleInterval)
	p := s.progress(now)

	var after func()
	if s.TransferredBytes >= s.Metadata.Size {
		after = e.completeLocked(e.gen)
	}
	e.mu.Unlock()

	if e.hooks.OnProgress != nil {
		e.hooks.OnProgress(p)
	}
	if after != nil {
		after()
	}
}

func (e *Engine) protocolError(details string, cause error) {
	if cause != nil {
		details = fmt.Sprintf("%s: %v", details, cause)
	}
	err := WrapError("receive", ErrProtocol, details)
	e.logger.Warn("protocol error", "error", err)
	e.fail(err)
}
