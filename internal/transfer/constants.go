package transfer

import "time"

const (
	// ChunkSize is the maximum size of one binary data message.
	ChunkSize = 16 * 1024

	// GraceDelay is how long a completed session stays visible before it is
	// cleared.
	GraceDelay = 3 * time.Second

	// SpeedSampleInterval is the minimum time between speed samples.
	SpeedSampleInterval = time.Second
)

// Backpressure
const (
	HighWaterMark = 1024 * 1024 // 1 MB - stop sending above this
	LowWaterMark  = 256 * 1024  // 256 KB - resume below this

	SendTimeout  = 30 * time.Second
	DrainTimeout = 30 * time.Second
)
