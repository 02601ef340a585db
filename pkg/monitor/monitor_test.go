package monitor

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/teslashibe/go-galina/internal/log"
	"github.com/teslashibe/go-galina/pkg/audioio"
)

func tone(n, rate int, freq, amplitude float64) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(amplitude * 32767 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return out
}

func TestAnalyser(t *testing.T) {
	t.Run("silence is zero", func(t *testing.T) {
		a := NewAnalyser(256, 0.8, -100, -30)
		a.Push(make([]int16, 512))
		if e := a.Energy(); e != 0 {
			t.Errorf("Energy = %v, want 0", e)
		}
	})

	t.Run("loud tone exceeds quiet tone", func(t *testing.T) {
		loud := NewAnalyser(256, 0, -100, -30)
		quiet := NewAnalyser(256, 0, -100, -30)
		loud.Push(tone(256, 24000, 1000, 0.8))
		quiet.Push(tone(256, 24000, 1000, 0.001))

		le, qe := loud.Energy(), quiet.Energy()
		if le <= qe {
			t.Errorf("loud energy %v <= quiet energy %v", le, qe)
		}
		if le > 255 {
			t.Errorf("energy %v out of byte range", le)
		}
	})

	t.Run("smoothing slows decay", func(t *testing.T) {
		a := NewAnalyser(256, 0.8, -100, -30)
		a.Push(tone(256, 24000, 1000, 0.8))
		for i := 0; i < 5; i++ {
			a.Energy()
		}
		before := a.Energy()
		a.Push(make([]int16, 256))
		after := a.Energy()
		if after == 0 || after >= before {
			t.Errorf("after silence energy = %v, want in (0, %v)", after, before)
		}
	})

	t.Run("spectrum has half the bins", func(t *testing.T) {
		a := NewAnalyser(256, 0.8, -100, -30)
		if n := len(a.ByteFrequencyData()); n != 128 {
			t.Errorf("bins = %d, want 128", n)
		}
	})
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		opt  Option
		ok   bool
	}{
		{"defaults", func(*Config) {}, true},
		{"not power of two", WithFFTSize(300), false},
		{"smoothing too high", WithSmoothing(1), false},
		{"inverted range", WithDecibelRange(-30, -100), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opt, WithLogger(log.Discard()))
			if (err == nil) != tt.ok {
				t.Errorf("New error = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func TestMonitorActivation(t *testing.T) {
	m, err := New(WithLogger(log.Discard()))
	if err != nil {
		t.Fatal(err)
	}
	chunk := audioio.AudioChunk{Samples: tone(480, 24000, 800, 0.5), SampleRate: 24000, Channels: 1}

	if _, ok := m.Process(chunk); ok {
		t.Error("inactive monitor should not emit")
	}

	m.SetActive(true)
	lvl, ok := m.Process(chunk)
	if !ok {
		t.Fatal("active monitor should emit")
	}
	if lvl.Energy <= 0 || lvl.RMS <= 0 || lvl.At.IsZero() {
		t.Errorf("level = %+v", lvl)
	}
	if m.Last() != lvl {
		t.Error("Last should return the latest level")
	}
}

func TestMonitorRun(t *testing.T) {
	m, err := New(WithLogger(log.Discard()))
	if err != nil {
		t.Fatal(err)
	}
	m.SetActive(true)

	levels, cancel := m.Subscribe(4)
	defer cancel()

	in := make(chan audioio.AudioChunk, 1)
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	done := make(chan struct{})
	go func() {
		m.Run(ctx, in)
		close(done)
	}()

	in <- audioio.AudioChunk{Samples: tone(480, 24000, 800, 0.5), SampleRate: 24000, Channels: 1}

	select {
	case lvl := <-levels:
		if lvl.Energy <= 0 {
			t.Errorf("Energy = %v", lvl.Energy)
		}
	case <-time.After(time.Second):
		t.Fatal("no level published")
	}

	close(in)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after input closed")
	}
}
