// Package generation provides the monotonic token that invalidates stale
// asynchronous work.
//
// Every asynchronous continuation (reply request, synthesis request,
// transcription) captures a Token when it starts and checks it with
// Counter.IsCurrent when it resolves. A result whose token has been
// superseded is dropped. Nothing is aborted mid-flight.
package generation

import (
	"strconv"
	"sync/atomic"
)

// Token is a captured generation value.
type Token uint64

// String implements fmt.Stringer.
func (t Token) String() string {
	return "gen-" + strconv.FormatUint(uint64(t), 10)
}

// Reason records why the generation advanced.
type Reason string

const (
	ReasonNewTurn      Reason = "new_turn"
	ReasonInterruption Reason = "interruption"
	ReasonReset        Reason = "reset"
	ReasonStop         Reason = "stop"
)

// Counter is a concurrency-safe monotonic generation counter.
// The zero value is ready to use and starts at token 0.
type Counter struct {
	value atomic.Uint64

	// OnAdvance, if set, is called after every advance.
	OnAdvance func(next Token, reason Reason)
}

// Current returns the live token.
func (c *Counter) Current() Token {
	return Token(c.value.Load())
}

// Advance moves to the next generation and returns it.
func (c *Counter) Advance(reason Reason) Token {
	next := Token(c.value.Add(1))
	if c.OnAdvance != nil {
		c.OnAdvance(next, reason)
	}
	return next
}

// IsCurrent reports whether t is still the live token.
func (c *Counter) IsCurrent(t Token) bool {
	return c.Current() == t
}

// IsStale reports whether t has been superseded.
func (c *Counter) IsStale(t Token) bool {
	return !c.IsCurrent(t)
}
