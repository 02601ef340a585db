package capture

import (
	"sync"
	"time"

	"github.com/teslashibe/go-galina/pkg/audioio"
)

// Chunk is a closed recording segment handed to remote transcription.
type Chunk struct {
	Samples    []int16
	SampleRate int
	Channels   int
	Started    time.Time
	Ended      time.Time
}

// Duration returns the audio length of the chunk.
func (c Chunk) Duration() time.Duration {
	a := audioio.AudioChunk{Samples: c.Samples, SampleRate: c.SampleRate, Channels: c.Channels}
	return a.Duration()
}

// WAV encodes the chunk as a WAV file.
func (c Chunk) WAV() []byte {
	return audioio.EncodeWAV(c.Samples, c.SampleRate, c.Channels)
}

// Size returns the encoded size in bytes, the figure compared against
// minimum-size floors.
func (c Chunk) Size() int {
	if len(c.Samples) == 0 {
		return 0
	}
	return 44 + len(c.Samples)*2
}

// AverageVolume returns the mean absolute amplitude in percent of full scale.
func (c Chunk) AverageVolume() float64 {
	return audioio.AverageVolume(c.Samples)
}

// Recorder accumulates captured audio into a rolling buffer that the
// fallback recognition strategy flushes on demand.
type Recorder struct {
	limit time.Duration

	mu        sync.Mutex
	recording bool
	samples   []int16
	rate      int
	channels  int
	started   time.Time
}

// NewRecorder creates a recorder keeping at most limit of audio per chunk.
// Older audio is dropped once the limit is reached.
func NewRecorder(limit time.Duration) *Recorder {
	return &Recorder{limit: limit}
}

// Start begins a new chunk. Starting a running recorder is a no-op.
func (r *Recorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recording {
		return
	}
	r.recording = true
	r.samples = nil
	r.started = time.Now()
}

// Recording reports whether the recorder is accepting audio.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// Append adds captured audio to the current chunk.
func (r *Recorder) Append(c audioio.AudioChunk) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return
	}
	r.rate = c.SampleRate
	r.channels = c.Channels
	r.samples = append(r.samples, c.Samples...)

	if r.limit > 0 && r.rate > 0 && r.channels > 0 {
		keep := int(r.limit.Seconds()*float64(r.rate)) * r.channels
		if over := len(r.samples) - keep; over > 0 {
			r.samples = append(r.samples[:0], r.samples[over:]...)
		}
	}
}

// Rotate closes the current chunk and immediately opens the next one so
// no audio falls between them. ok is false when not recording.
func (r *Recorder) Rotate() (Chunk, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return Chunk{}, false
	}
	c := r.closeLocked()
	r.samples = nil
	r.started = c.Ended
	return c, true
}

// Stop closes the current chunk and stops recording.
func (r *Recorder) Stop() (Chunk, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return Chunk{}, false
	}
	c := r.closeLocked()
	r.recording = false
	r.samples = nil
	return c, true
}

func (r *Recorder) closeLocked() Chunk {
	return Chunk{
		Samples:    r.samples,
		SampleRate: r.rate,
		Channels:   r.channels,
		Started:    r.started,
		Ended:      time.Now(),
	}
}
