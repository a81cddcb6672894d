package execution

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBodyStreamIsReadOnce(t *testing.T) {
	body := NewBody(io.NopCloser(strings.NewReader("payload")))
	assert.Equal(t, -1, body.Len())

	r, err := body.Reader()
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	_, err = body.Reader()
	assert.True(t, errors.Is(err, ErrBodyConsumed))
	_, err = body.Buffer()
	assert.True(t, errors.Is(err, ErrBodyConsumed))
}

func TestBodyBufferReplays(t *testing.T) {
	body := NewBody(io.NopCloser(strings.NewReader("payload")))

	data, err := body.Buffer()
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	for i := 0; i < 2; i++ {
		r, err := body.Reader()
		require.NoError(t, err)
		replay, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, "payload", string(replay))
	}
	assert.Equal(t, 7, body.Len())
}

func TestBodySetReplacesStream(t *testing.T) {
	body := NewBody(io.NopCloser(strings.NewReader("original")))
	body.Set([]byte("new"))

	data, err := body.Buffer()
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestMessageFlowAppliesTransformersInOrder(t *testing.T) {
	source := make(chan *Message, 3)
	source <- NewMessage([]byte("a"))
	source <- NewMessage([]byte("drop"))
	source <- NewMessage([]byte("b"))
	close(source)

	var flow MessageFlow
	flow.SetSource(source)
	flow.OnMessage(func(_ context.Context, msg *Message) (*Message, error) {
		if string(msg.Content) == "drop" {
			return nil, nil
		}
		msg.Content = append(msg.Content, '1')
		return msg, nil
	})
	flow.OnMessage(func(_ context.Context, msg *Message) (*Message, error) {
		msg.Content = append(msg.Content, '2')
		return msg, nil
	})

	var got []string
	err := flow.Consume(context.Background(), func(msg *Message) error {
		got = append(got, string(msg.Content))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a12", "b12"}, got)
}

func TestMessageFlowStopsOnTransformerError(t *testing.T) {
	source := make(chan *Message, 2)
	source <- NewMessage([]byte("a"))
	source <- NewMessage([]byte("b"))
	close(source)

	var flow MessageFlow
	flow.SetSource(source)
	flow.OnMessage(func(_ context.Context, _ *Message) (*Message, error) {
		return nil, NewFailure(400, "BAD_MESSAGE", "rejected")
	})

	consumed := 0
	err := flow.Consume(context.Background(), func(*Message) error {
		consumed++
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, OutcomeInterruptWith, Classify(err))
	assert.Zero(t, consumed)
}

func TestMessageFlowStopConsuming(t *testing.T) {
	source := make(chan *Message, 2)
	source <- NewMessage([]byte("a"))
	source <- NewMessage([]byte("b"))

	var flow MessageFlow
	flow.SetSource(source)

	consumed := 0
	err := flow.Consume(context.Background(), func(*Message) error {
		consumed++
		return ErrStopConsuming
	})
	require.NoError(t, err)
	assert.Equal(t, 1, consumed)
}
