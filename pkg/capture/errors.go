package capture

import (
	"errors"
	"fmt"

	"github.com/teslashibe/go-galina/pkg/audioio"
)

// Sentinel errors for microphone acquisition failures.
var (
	ErrMicrophoneDenied   = errors.New("capture: microphone access denied")
	ErrMicrophoneNotFound = errors.New("capture: microphone not found")
	ErrMicrophoneBusy     = errors.New("capture: microphone busy")
)

// Kind classifies a microphone failure.
type Kind string

const (
	KindDenied   Kind = "denied"
	KindNotFound Kind = "not_found"
	KindBusy     Kind = "busy"
	KindUnknown  Kind = "unknown"
)

// User-facing remediation messages, one per kind.
var userMessages = map[Kind]string{
	KindDenied:   "Доступ к микрофону запрещен. Разрешите доступ в настройках браузера.",
	KindNotFound: "Микрофон не найден.",
	KindBusy:     "Микрофон занят другим приложением.",
	KindUnknown:  "Ошибка доступа к микрофону",
}

// MicError is returned by Session.Start when the microphone cannot be
// acquired. It is fatal to the session and never retried.
type MicError struct {
	Kind Kind
	Err  error
}

// Error implements the error interface.
func (e *MicError) Error() string {
	return fmt.Sprintf("capture: microphone %s: %v", e.Kind, e.Err)
}

// Unwrap returns the backend error.
func (e *MicError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel error for the kind.
func (e *MicError) Is(target error) bool {
	switch target {
	case ErrMicrophoneDenied:
		return e.Kind == KindDenied
	case ErrMicrophoneNotFound:
		return e.Kind == KindNotFound
	case ErrMicrophoneBusy:
		return e.Kind == KindBusy
	}
	return false
}

// UserMessage returns the remediation text shown to the user.
func (e *MicError) UserMessage() string {
	return userMessages[e.Kind]
}

// classify maps a backend start error onto a MicError.
func classify(err error) *MicError {
	var me *MicError
	if errors.As(err, &me) {
		return me
	}
	switch {
	case errors.Is(err, audioio.ErrPermissionDenied):
		return &MicError{Kind: KindDenied, Err: err}
	case errors.Is(err, audioio.ErrDeviceNotFound):
		return &MicError{Kind: KindNotFound, Err: err}
	case errors.Is(err, audioio.ErrDeviceBusy):
		return &MicError{Kind: KindBusy, Err: err}
	default:
		return &MicError{Kind: KindUnknown, Err: err}
	}
}

// UserMessage returns the remediation text for any error returned by
// Start, or "" if err is not a microphone error.
func UserMessage(err error) string {
	var me *MicError
	if errors.As(err, &me) {
		return me.UserMessage()
	}
	return ""
}
