package playback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/teslashibe/go-galina/internal/log"
	"github.com/teslashibe/go-galina/pkg/audioio"
)

func newController(t *testing.T, flushDelay time.Duration) (*Controller, *audioio.MockSink) {
	t.Helper()
	sink := audioio.NewMockSink(audioio.DefaultConfig(), log.Discard())
	sink.FlushDelay = flushDelay
	c := New(sink, WithLogger(log.Discard()), WithWriteSize(20*time.Millisecond))
	t.Cleanup(func() { c.Close() })
	return c, sink
}

func wavAudio(ms int) Audio {
	samples := make([]int16, 24*ms)
	for i := range samples {
		samples[i] = 1000
	}
	return Audio{Data: audioio.EncodeWAV(samples, 24000, 1), Encoding: "wav"}
}

func nextEvent(t *testing.T, c *Controller) Event {
	t.Helper()
	select {
	case ev := <-c.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for playback event")
		return Event{}
	}
}

func TestAudioDecode(t *testing.T) {
	t.Run("wav", func(t *testing.T) {
		chunk, err := wavAudio(100).Decode()
		if err != nil {
			t.Fatal(err)
		}
		if chunk.SampleRate != 24000 || len(chunk.Samples) != 2400 {
			t.Errorf("chunk = rate %d, %d samples", chunk.SampleRate, len(chunk.Samples))
		}
	})

	t.Run("raw pcm", func(t *testing.T) {
		a := Audio{Data: make([]byte, 3200), Encoding: "pcm_16000", SampleRate: 16000}
		chunk, err := a.Decode()
		if err != nil {
			t.Fatal(err)
		}
		if chunk.Duration() != 100*time.Millisecond {
			t.Errorf("Duration() = %v", chunk.Duration())
		}
	})

	t.Run("mp3 unsupported", func(t *testing.T) {
		a := Audio{Data: []byte{0xff, 0xfb, 0x90}, Encoding: "mp3_44100_128"}
		if _, err := a.Decode(); !errors.Is(err, ErrUnsupportedFormat) {
			t.Errorf("error = %v, want ErrUnsupportedFormat", err)
		}
	})

	t.Run("empty", func(t *testing.T) {
		if _, err := (Audio{Encoding: "wav"}).Decode(); !errors.Is(err, ErrEmptyAudio) {
			t.Errorf("error = %v, want ErrEmptyAudio", err)
		}
	})
}

func TestControllerPlay(t *testing.T) {
	c, sink := newController(t, 10*time.Millisecond)

	h, err := c.Play(context.Background(), wavAudio(100))
	if err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	if ev := nextEvent(t, c); ev.Type != EventStarted || ev.Handle != h {
		t.Errorf("first event = %+v", ev)
	}
	if ev := nextEvent(t, c); ev.Type != EventEnded || ev.Handle != h {
		t.Errorf("second event = %+v", ev)
	}
	if c.Playing() {
		t.Error("Playing() = true after end")
	}
	if sink.PlayedSamples() != 2400 {
		t.Errorf("PlayedSamples() = %d, want 2400", sink.PlayedSamples())
	}
}

func TestControllerSingleFlight(t *testing.T) {
	c, sink := newController(t, time.Second)

	first, err := c.Play(context.Background(), wavAudio(100))
	if err != nil {
		t.Fatal(err)
	}
	nextEvent(t, c)

	second, err := c.Play(context.Background(), wavAudio(100))
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Fatal("handles must differ")
	}
	if ev := nextEvent(t, c); ev.Type != EventInterrupted || ev.Handle != first {
		t.Errorf("expected first handle interrupted, got %+v", ev)
	}
	if ev := nextEvent(t, c); ev.Type != EventStarted || ev.Handle != second {
		t.Errorf("expected second handle started, got %+v", ev)
	}
	if c.Current() != second {
		t.Error("Current() should be the second handle")
	}
	if sink.ClearCount() != 1 {
		t.Errorf("ClearCount() = %d, want 1", sink.ClearCount())
	}
}

func TestControllerStop(t *testing.T) {
	c, sink := newController(t, time.Second)

	if c.Stop() {
		t.Error("Stop() on idle controller reported playing")
	}

	h, _ := c.Play(context.Background(), wavAudio(100))
	nextEvent(t, c)

	begin := time.Now()
	if !c.Stop() {
		t.Fatal("Stop() = false while playing")
	}
	if elapsed := time.Since(begin); elapsed > 500*time.Millisecond {
		t.Errorf("Stop took %v", elapsed)
	}
	if ev := nextEvent(t, c); ev.Type != EventInterrupted || ev.Handle != h {
		t.Errorf("event = %+v", ev)
	}
	if c.Playing() {
		t.Error("Playing() = true after Stop")
	}
	if sink.PlayedSamples() != 0 {
		t.Errorf("stopped audio should not count as played, got %d", sink.PlayedSamples())
	}

	select {
	case ev := <-c.Events():
		t.Errorf("unexpected event after stop: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestControllerErrors(t *testing.T) {
	t.Run("decode error", func(t *testing.T) {
		c, _ := newController(t, 0)
		_, err := c.Play(context.Background(), Audio{Data: []byte("ID3"), Encoding: "mp3_44100_128"})
		if !errors.Is(err, ErrUnsupportedFormat) {
			t.Fatalf("error = %v", err)
		}
		if ev := nextEvent(t, c); ev.Type != EventError {
			t.Errorf("event = %+v", ev)
		}
	})

	t.Run("sink failure", func(t *testing.T) {
		c, sink := newController(t, 0)
		sink.FlushErr = errors.New("device unplugged")
		h, err := c.Play(context.Background(), wavAudio(50))
		if err != nil {
			t.Fatal(err)
		}
		nextEvent(t, c)
		ev := nextEvent(t, c)
		if ev.Type != EventError || ev.Handle != h || ev.Err == nil {
			t.Errorf("event = %+v", ev)
		}
	})

	t.Run("closed", func(t *testing.T) {
		c, _ := newController(t, 0)
		c.Close()
		if _, err := c.Play(context.Background(), wavAudio(10)); err == nil {
			t.Error("Play() after Close should fail")
		}
	})
}
