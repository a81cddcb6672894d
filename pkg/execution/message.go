package execution

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Message is one unit of a message API stream.
type Message struct {
	ID            string
	CorrelationID string
	Headers       map[string][]string
	Metadata      map[string]any
	Attributes    map[string]any
	Content       []byte
	Timestamp     time.Time
	Error         bool

	ack func()
}

// NewMessage creates a message with a generated id.
func NewMessage(content []byte) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Headers:   make(map[string][]string),
		Metadata:  make(map[string]any),
		Content:   content,
		Timestamp: time.Now(),
	}
}

// OnAck registers the acknowledgment callback of the message source.
func (m *Message) OnAck(fn func()) {
	m.ack = fn
}

// Ack acknowledges the message to its source, if the source asked for it.
func (m *Message) Ack() {
	if m.ack != nil {
		m.ack()
		m.ack = nil
	}
}

// MessageTransformer processes one message. Returning a nil message drops it.
type MessageTransformer func(ctx context.Context, msg *Message) (*Message, error)

// MessageFlow is a single-consumer stream of messages with an ordered list of
// transformers applied to each message as it is consumed.
type MessageFlow struct {
	source       <-chan *Message
	transformers []MessageTransformer
}

// SetSource installs the producer side of the flow.
func (f *MessageFlow) SetSource(source <-chan *Message) {
	f.source = source
}

// HasSource reports whether a producer is attached.
func (f *MessageFlow) HasSource() bool {
	return f.source != nil
}

// OnMessage appends a transformer. Transformers run in registration order.
func (f *MessageFlow) OnMessage(t MessageTransformer) {
	f.transformers = append(f.transformers, t)
}

// Consume drains the flow into fn until the source closes, ctx is done, or
// a transformer or fn fails.
func (f *MessageFlow) Consume(ctx context.Context, fn func(*Message) error) error {
	if f.source == nil {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-f.source:
			if !ok {
				return nil
			}
			out, err := f.apply(ctx, msg)
			if err != nil {
				return err
			}
			if out == nil {
				msg.Ack()
				continue
			}
			if err := fn(out); err != nil {
				if errors.Is(err, ErrStopConsuming) {
					return nil
				}
				return err
			}
		}
	}
}

func (f *MessageFlow) apply(ctx context.Context, msg *Message) (*Message, error) {
	current := msg
	for _, t := range f.transformers {
		next, err := t(ctx, current)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return nil, nil
		}
		current = next
	}
	return current, nil
}

// ErrStopConsuming can be returned by a Consume callback to end consumption without error.
var ErrStopConsuming = errors.New("stop consuming")
