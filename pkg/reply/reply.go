// Package reply produces the assistant's answer to a user utterance.
//
// Providers talk to a language model: the product gateway's /api/chat
// route or OpenAI directly, each in whole-response or streaming mode.
// Service sits on top of a Provider and owns what the conversation needs
// from it: the system prompt, a bounded history, client profile memory,
// and the retry policy that turns empty or failed replies into a neutral
// spoken apology instead of an error.
package reply

import (
	"context"
	"errors"
	"io"
	"strings"
)

// Role identifies a message author.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat message.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates an assistant message.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// Request is a chat completion request.
type Request struct {
	Messages []Message

	// Model, MaxTokens and Temperature override the provider defaults
	// when non-zero.
	Model       string
	MaxTokens   int
	Temperature float64
}

// Response is a completed reply.
type Response struct {
	Text      string
	Model     string
	Usage     Usage
	LatencyMs int64
}

// Usage tracks token consumption when the provider reports it.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Provider is a language model backend.
type Provider interface {
	// Complete returns the whole reply.
	Complete(ctx context.Context, req *Request) (*Response, error)

	// Stream returns the reply incrementally.
	Stream(ctx context.Context, req *Request) (Stream, error)

	// Name identifies the provider in logs and errors.
	Name() string
}

// Stream is an incremental reply. Recv returns io.EOF after the last chunk.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// Collect drains a stream into one string and closes it.
func Collect(s Stream) (string, error) {
	defer s.Close()
	var b strings.Builder
	for {
		delta, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return b.String(), err
		}
		b.WriteString(delta)
	}
}
