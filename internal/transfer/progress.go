package transfer

import "time"

// Role is the direction of a session.
type Role int

const (
	RoleSender Role = iota
	RoleReceiver
)

func (r Role) String() string {
	if r == RoleReceiver {
		return "receiver"
	}
	return "sender"
}

// Session is one file transfer in one direction over one channel.
type Session struct {
	Role     Role
	Metadata FileMetadata

	// TransferredBytes never decreases and never exceeds Metadata.Size.
	TransferredBytes int64

	StartedAt       time.Time
	LastSampleAt    time.Time
	LastSampleBytes int64

	// Speed is the throughput over the last sample interval in bytes/second.
	Speed float64

	Complete bool

	// receiver only
	chunks [][]byte
}

func newSession(role Role, meta FileMetadata, now time.Time) *Session {
	return &Session{
		Role:         role,
		Metadata:     meta,
		StartedAt:    now,
		LastSampleAt: now,
	}
}

// Percent is TransferredBytes as a percentage of the file size. An empty
// file is 100% as soon as it starts.
func (s *Session) Percent() float64 {
	if s.Metadata.Size == 0 {
		return 100
	}
	return float64(s.TransferredBytes) / float64(s.Metadata.Size) * 100
}

// advance adds n bytes and takes a speed sample if at least interval has
// passed since the last one.
func (s *Session) advance(n int64, now time.Time, interval time.Duration) {
	s.TransferredBytes += n

	elapsed := now.Sub(s.LastSampleAt)
	if elapsed < interval || elapsed <= 0 {
		return
	}
	s.Speed = float64(s.TransferredBytes-s.LastSampleBytes) / elapsed.Seconds()
	s.LastSampleAt = now
	s.LastSampleBytes = s.TransferredBytes
}

// snapshot copies the session without its chunk buffers.
func (s *Session) snapshot() Session {
	c := *s
	c.chunks = nil
	return c
}

// Progress is reported to hooks after every chunk.
type Progress struct {
	Role             Role
	Metadata         FileMetadata
	TransferredBytes int64
	Percent          float64
	Speed            float64
	Elapsed          time.Duration
}

func (s *Session) progress(now time.Time) Progress {
	return Progress{
		Role:             s.Role,
		Metadata:         s.Metadata,
		TransferredBytes: s.TransferredBytes,
		Percent:          s.Percent(),
		Speed:            s.Speed,
		Elapsed:          now.Sub(s.StartedAt),
	}
}

// AverageSpeed is the whole-transfer throughput in bytes/second.
func (p Progress) AverageSpeed() float64 {
	if p.Elapsed <= 0 {
		return 0
	}
	return float64(p.TransferredBytes) / p.Elapsed.Seconds()
}
