package conversation

import (
	"context"

	"github.com/teslashibe/go-galina/pkg/orchestrator"
	"github.com/teslashibe/go-galina/pkg/protocol"
	"github.com/teslashibe/go-galina/pkg/recognition"
)

// forward publishes orchestrator events until ctx is done.
func (c *Conversation) forward(ctx context.Context) {
	events := c.orch.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			c.handle(ev)
		}
	}
}

func (c *Conversation) handle(ev orchestrator.Event) {
	gen := uint64(ev.Token)

	switch ev.Kind {
	case orchestrator.EventState:
		c.publishState()

	case orchestrator.EventUtterance:
		c.publish(protocol.NewUtteranceMessage(ev.Text, gen))

	case orchestrator.EventReply:
		c.publish(protocol.NewReplyMessage(ev.Text, gen, ev.Fallback))

	case orchestrator.EventInterrupted:
		c.publish(protocol.NewInterruptedMessage(ev.Reason, gen))

	case orchestrator.EventError:
		c.publishError(ev.Err)

	case orchestrator.EventRecognition:
		c.handleRecognition(ev.Recognition)

	case orchestrator.EventDropped:
		c.logger.Debug("stale result dropped", "generation", gen, "reason", ev.Reason)
	}
}

func (c *Conversation) handleRecognition(ev recognition.Event) {
	data := protocol.RecognitionData{
		State:    c.recognizer.State().String(),
		Strategy: string(c.recognizer.Strategy()),
	}

	switch ev.Kind {
	case recognition.EventStateChange:
		data.State = ev.State.String()
	case recognition.EventDowngrade:
		data.State = ev.State.String()
		data.Strategy = string(recognition.StrategyFallback)
		data.Downgraded = true
		if ev.Err != nil {
			data.Error = ev.Err.Error()
		}
	case recognition.EventError:
		c.publishError(ev.Err)
		return
	default:
		return
	}
	c.publish(protocol.NewRecognitionMessage(data))
}

func (c *Conversation) publish(msg *protocol.Message, err error) {
	if err != nil {
		c.logger.Warn("build event message", "error", err)
		return
	}
	if c.comp.Publisher == nil {
		return
	}
	if err := c.comp.Publisher.Publish(msg); err != nil {
		c.logger.Debug("publish event", "type", msg.Type, "error", err)
	}
}

func (c *Conversation) publishState() {
	c.publish(protocol.NewStateMessage(protocol.StateData{
		CallID:      c.id,
		State:       c.orch.State().String(),
		Generation:  uint64(c.gen.Current()),
		Recognition: c.recognizer.State().String(),
		Strategy:    string(c.recognizer.Strategy()),
		Muted:       c.orch.Muted(),
		Sound:       c.orch.SoundEnabled(),
	}))
}

func (c *Conversation) publishError(err error) {
	if err == nil {
		return
	}
	c.publish(protocol.NewErrorMessage(err.Error(), UserMessage(err)))
}

// publishControl drives the browser recognizer through the relay.
func (c *Conversation) publishControl(command string) {
	c.publish(protocol.NewControlMessage(command))
}
