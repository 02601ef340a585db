package recognition

import (
	"sync"
	"time"
)

// NativeEventKind identifies a native recognizer callback.
type NativeEventKind string

const (
	NativeStart       NativeEventKind = "start"
	NativeResult      NativeEventKind = "result"
	NativeSpeechStart NativeEventKind = "speechstart"
	NativeError       NativeEventKind = "error"
	NativeEnd         NativeEventKind = "end"
)

// NativeEvent is one callback from a continuous platform recognizer.
type NativeEvent struct {
	Kind    NativeEventKind `json:"kind"`
	Text    string          `json:"text,omitempty"`
	IsFinal bool            `json:"is_final,omitempty"`
	Error   ErrorCode       `json:"error,omitempty"`
	At      time.Time       `json:"at"`
}

// Native is a continuous streaming recognizer. Its callbacks arrive as
// events; an End event follows every session, expected or not.
type Native interface {
	// Start begins a recognition session. It returns ErrNativeBusy when a
	// session is already running.
	Start() error

	// Stop ends the current session. The recognizer still emits End.
	Stop()

	// Events returns the callback channel.
	Events() <-chan NativeEvent
}

// Relay is a Native whose recognizer runs in the user's browser. The web
// layer pushes the browser callbacks in, and Control carries start and
// stop commands back out.
type Relay struct {
	events chan NativeEvent

	mu      sync.Mutex
	running bool
	control func(command string)
}

// NewRelay creates a relay. control receives "start" and "stop".
func NewRelay(control func(command string)) *Relay {
	return &Relay{
		events:  make(chan NativeEvent, 64),
		control: control,
	}
}

// SetControl replaces the command callback.
func (r *Relay) SetControl(control func(command string)) {
	r.mu.Lock()
	r.control = control
	r.mu.Unlock()
}

// Start asks the browser to start recognizing.
func (r *Relay) Start() error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrNativeBusy
	}
	r.running = true
	control := r.control
	r.mu.Unlock()

	if control != nil {
		control("start")
	}
	return nil
}

// Stop asks the browser to stop recognizing.
func (r *Relay) Stop() {
	r.mu.Lock()
	control := r.control
	r.mu.Unlock()

	if control != nil {
		control("stop")
	}
}

// Push delivers a browser callback. End clears the running flag so the
// next Start is accepted.
func (r *Relay) Push(ev NativeEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	if ev.Kind == NativeEnd {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}
	select {
	case r.events <- ev:
	default:
	}
}

// Events returns the callback channel.
func (r *Relay) Events() <-chan NativeEvent {
	return r.events
}

// MockNative is a scripted Native for tests. Start emits NativeStart and
// Stop emits NativeEnd; everything else is injected with Emit.
type MockNative struct {
	events chan NativeEvent

	mu       sync.Mutex
	running  bool
	starts   int
	stops    int
	startErr error
}

// NewMockNative creates a mock recognizer.
func NewMockNative() *MockNative {
	return &MockNative{events: make(chan NativeEvent, 64)}
}

// SetStartError makes subsequent Start calls fail.
func (m *MockNative) SetStartError(err error) {
	m.mu.Lock()
	m.startErr = err
	m.mu.Unlock()
}

// Start records the call and emits NativeStart.
func (m *MockNative) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starts++
	if m.startErr != nil {
		return m.startErr
	}
	if m.running {
		return ErrNativeBusy
	}
	m.running = true
	m.events <- NativeEvent{Kind: NativeStart, At: time.Now()}
	return nil
}

// Stop records the call and emits NativeEnd if running.
func (m *MockNative) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
	if !m.running {
		return
	}
	m.running = false
	m.events <- NativeEvent{Kind: NativeEnd, At: time.Now()}
}

// Emit injects a callback. Emitting NativeEnd or a transient error ends
// the running session the way a platform recognizer does.
func (m *MockNative) Emit(ev NativeEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	m.mu.Lock()
	if ev.Kind == NativeEnd {
		m.running = false
	}
	m.mu.Unlock()
	m.events <- ev
}

// Fail emits an error followed by End.
func (m *MockNative) Fail(code ErrorCode) {
	m.Emit(NativeEvent{Kind: NativeError, Error: code})
	m.Emit(NativeEvent{Kind: NativeEnd})
}

// Events returns the callback channel.
func (m *MockNative) Events() <-chan NativeEvent {
	return m.events
}

// Running reports whether a session is active.
func (m *MockNative) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Starts returns the number of Start calls.
func (m *MockNative) Starts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts
}

// Stops returns the number of Stop calls.
func (m *MockNative) Stops() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops
}

var (
	_ Native = (*Relay)(nil)
	_ Native = (*MockNative)(nil)
)
