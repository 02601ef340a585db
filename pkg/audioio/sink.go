package audioio

import (
	"context"
	"io"
)

// Sink is the speaker synthesized replies are played on.
//
// Playback of one reply is Start, a run of Writes, then Flush. Clear cuts
// a reply short on interruption; the sink stays started and may be reused.
type Sink interface {
	Start(ctx context.Context) error
	Stop() error

	// Write queues PCM16 and may block while the device buffer is full.
	Write(ctx context.Context, chunk AudioChunk) error

	// Flush returns once everything queued has been heard.
	Flush(ctx context.Context) error

	// Clear drops queued audio without waiting.
	Clear() error

	Config() Config
	Name() string

	io.Closer
}
