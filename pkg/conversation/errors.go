package conversation

import (
	"errors"

	"github.com/teslashibe/go-galina/pkg/capture"
	"github.com/teslashibe/go-galina/pkg/recognition"
	"github.com/teslashibe/go-galina/pkg/reply"
	"github.com/teslashibe/go-galina/pkg/tts"
)

// Sentinel errors for the conversation package.
var (
	// ErrMissingComponent indicates a required collaborator was not provided.
	ErrMissingComponent = errors.New("conversation: missing component")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("conversation: already started")

	// ErrNotStarted is returned by controls used before Start.
	ErrNotStarted = errors.New("conversation: not started")

	// ErrTornDown is returned by controls used after Teardown.
	ErrTornDown = errors.New("conversation: torn down")

	// ErrUnknownCommand is returned for unrecognized UI commands.
	ErrUnknownCommand = errors.New("conversation: unknown command")

	// ErrNoRelay is returned when browser recognizer messages arrive but
	// recognition does not run in the browser.
	ErrNoRelay = errors.New("conversation: browser recognition not in use")
)

const (
	msgRecognition = "Не удалось распознать речь. Попробуйте еще раз."
	msgGeneric     = "Что-то пошло не так. Попробуйте еще раз."
)

// UserMessage returns the text shown to the user for err.
func UserMessage(err error) string {
	var mic *capture.MicError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &mic):
		return mic.UserMessage()
	case errors.Is(err, recognition.ErrNoSpeech):
		return msgRecognition
	case isRecognitionCode(err):
		return msgRecognition
	case errors.Is(err, reply.ErrEmptyReply):
		return reply.FallbackEmpty
	default:
		var (
			replyErr *reply.APIError
			ttsErr   *tts.APIError
		)
		if errors.As(err, &replyErr) || errors.As(err, &ttsErr) {
			return reply.FallbackError
		}
		return msgGeneric
	}
}

func isRecognitionCode(err error) bool {
	var code recognition.ErrorCode
	return errors.As(err, &code)
}
