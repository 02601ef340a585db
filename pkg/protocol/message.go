// Package protocol defines the WebSocket envelope exchanged between the
// conversation and its UI clients.
//
// Server to client messages report conversation progress (state,
// utterances, replies, interruptions, recognition changes, errors) and
// drive the in-browser recognizer (control). Client to server messages
// carry the browser recognizer's callbacks (native) and user commands.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// Server → client
	TypeState       MessageType = "state"
	TypeUtterance   MessageType = "utterance"
	TypeReply       MessageType = "reply"
	TypeInterrupted MessageType = "interrupted"
	TypeRecognition MessageType = "recognition"
	TypeError       MessageType = "error"
	TypeControl     MessageType = "control"

	// Client → server
	TypeNative  MessageType = "native"
	TypeCommand MessageType = "command"

	// Bidirectional
	TypePing MessageType = "ping"
	TypePong MessageType = "pong"
)

// Message is the base wrapper for all WebSocket messages
type Message struct {
	ID        string          `json:"id,omitempty"`
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with a fresh ID and the current timestamp
func NewMessage(msgType MessageType, data any) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v any) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("failed to parse message: missing type")
	}
	return &msg, nil
}

// =============================================================================
// Server → Client Message Types
// =============================================================================

// StateData is a conversation status snapshot
type StateData struct {
	CallID      string `json:"call_id,omitempty"`
	State       string `json:"state"`
	Generation  uint64 `json:"generation"`
	Recognition string `json:"recognition,omitempty"`
	Strategy    string `json:"strategy,omitempty"`
	Muted       bool   `json:"muted"`
	Sound       bool   `json:"sound"`
}

// UtteranceData is an accepted user utterance
type UtteranceData struct {
	Text       string `json:"text"`
	Generation uint64 `json:"generation"`
}

// ReplyData is the assistant's reply text
type ReplyData struct {
	Text       string `json:"text"`
	Generation uint64 `json:"generation"`
	Fallback   bool   `json:"fallback,omitempty"` // Canned apology
}

// InterruptedData reports an abandoned turn
type InterruptedData struct {
	Reason     string `json:"reason"`
	Generation uint64 `json:"generation"`
}

// RecognitionData reports a recognition state change or downgrade
type RecognitionData struct {
	State      string `json:"state"`
	Strategy   string `json:"strategy"`
	Downgraded bool   `json:"downgraded,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ErrorData reports a failure with a message fit for the user
type ErrorData struct {
	Message     string `json:"message"`
	UserMessage string `json:"user_message,omitempty"`
}

// ControlData tells the browser recognizer to start or stop
type ControlData struct {
	Command string `json:"command"` // "start", "stop"
}

// =============================================================================
// Client → Server Message Types
// =============================================================================

// NativeData is one callback from the browser's speech recognizer
type NativeData struct {
	Kind    string `json:"kind"` // start, result, speechstart, error, end
	Text    string `json:"text,omitempty"`
	IsFinal bool   `json:"is_final,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Commands accepted in CommandData.Name.
const (
	CommandMute        = "mute"
	CommandUnmute      = "unmute"
	CommandStop        = "stop"
	CommandInterrupt   = "interrupt"
	CommandRecordStart = "record_start"
	CommandRecordStop  = "record_stop"
	CommandSound       = "sound"
)

// CommandData is a user action from the UI
type CommandData struct {
	Name    string `json:"name"`
	Enabled *bool  `json:"enabled,omitempty"` // For "sound"
}

// =============================================================================
// Bidirectional Message Types
// =============================================================================

// PingData contains ping information
type PingData struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"ts"`
}

// PongData contains pong response
type PongData struct {
	ID        string `json:"id"`
	PingTS    int64  `json:"ping_ts"`
	PongTS    int64  `json:"pong_ts"`
	LatencyMs int64  `json:"latency_ms"`
}
