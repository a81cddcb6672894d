package policy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-gateway/pkg/execution"
)

type recorder struct {
	calls []string
}

type stubPolicy struct {
	id  string
	rec *recorder
	err error
}

func (p *stubPolicy) ID() string { return p.id }

func (p *stubPolicy) OnRequest(_ context.Context, _ execution.PolicyContext) error {
	p.rec.calls = append(p.rec.calls, p.id)
	return p.err
}

func (p *stubPolicy) OnResponse(_ context.Context, _ execution.PolicyContext) error {
	p.rec.calls = append(p.rec.calls, p.id+":response")
	return p.err
}

type upperPolicy struct {
	id   string
	drop bool
}

func (p *upperPolicy) ID() string { return p.id }

func (p *upperPolicy) OnMessageResponse(_ context.Context, _ execution.PolicyContext, msg *execution.Message) (*execution.Message, error) {
	if p.drop {
		return nil, nil
	}
	msg.Content = append(msg.Content, []byte("+"+p.id)...)
	return msg, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestContext() *execution.Context {
	return execution.NewContext(nil, nil, execution.Config{Logger: discardLogger()})
}

func testConfig() ChainConfig {
	return ChainConfig{Logger: discardLogger()}
}

func TestChainRunsPoliciesInOrder(t *testing.T) {
	rec := &recorder{}
	chain := NewChain("c", []Policy{
		&stubPolicy{id: "a", rec: rec},
		&stubPolicy{id: "b", rec: rec},
		&stubPolicy{id: "c", rec: rec},
	}, execution.PhaseRequest, testConfig())

	require.NoError(t, chain.Execute(context.Background(), newTestContext()))
	assert.Equal(t, []string{"a", "b", "c"}, rec.calls)
	assert.Equal(t, StateCompleted, chain.State())
}

func TestChainStopsAtFirstSignal(t *testing.T) {
	boom := errors.New("boom")
	failure := execution.NewFailure(http.StatusForbidden, "CUSTOM_DENY", "denied")

	tests := []struct {
		name  string
		err   error
		state State
	}{
		{name: "interrupt", err: execution.ErrInterrupted, state: StateInterrupted},
		{name: "interrupt with failure", err: failure, state: StateFailed},
		{name: "unexpected error", err: boom, state: StateFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			chain := NewChain("c", []Policy{
				&stubPolicy{id: "a", rec: rec},
				&stubPolicy{id: "b", rec: rec, err: tt.err},
				&stubPolicy{id: "c", rec: rec},
			}, execution.PhaseRequest, testConfig())

			err := chain.Execute(context.Background(), newTestContext())
			assert.Same(t, tt.err, err)
			assert.Equal(t, []string{"a", "b"}, rec.calls)
			assert.Equal(t, tt.state, chain.State())
		})
	}
}

func TestChainIsSingleUse(t *testing.T) {
	rec := &recorder{}
	chain := NewChain("c", []Policy{&stubPolicy{id: "a", rec: rec}}, execution.PhaseRequest, testConfig())
	ec := newTestContext()

	require.NoError(t, chain.Execute(context.Background(), ec))
	err := chain.Execute(context.Background(), ec)
	require.ErrorIs(t, err, ErrChainReused)
	assert.Equal(t, []string{"a"}, rec.calls)
}

func TestChainSkipsPoliciesWithoutPhase(t *testing.T) {
	rec := &recorder{}
	chain := NewChain("c", []Policy{
		&upperPolicy{id: "message-only"},
		&stubPolicy{id: "a", rec: rec},
	}, execution.PhaseResponse, testConfig())

	require.NoError(t, chain.Execute(context.Background(), newTestContext()))
	assert.Equal(t, []string{"a:response"}, rec.calls)
}

func TestChainStopsOnCancelledContext(t *testing.T) {
	rec := &recorder{}
	chain := NewChain("c", []Policy{&stubPolicy{id: "a", rec: rec}}, execution.PhaseRequest, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := chain.Execute(ctx, newTestContext())
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, rec.calls)
	assert.Equal(t, StateFailed, chain.State())
}

func TestMessageChainTransformsEachMessage(t *testing.T) {
	ec := newTestContext()
	source := make(chan *execution.Message, 3)
	source <- execution.NewMessage([]byte("m1"))
	source <- execution.NewMessage([]byte("m2"))
	close(source)
	ec.Response().Messages().SetSource(source)

	chain := NewChain("c", []Policy{
		&upperPolicy{id: "x"},
		&upperPolicy{id: "y"},
	}, execution.PhaseMessageResponse, testConfig())
	require.NoError(t, chain.Execute(context.Background(), ec))
	assert.Equal(t, StateCompleted, chain.State())

	var got []string
	err := ec.Response().Messages().Consume(context.Background(), func(m *execution.Message) error {
		got = append(got, string(m.Content))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"m1+x+y", "m2+x+y"}, got)
}

func TestMessageChainDropsMessages(t *testing.T) {
	ec := newTestContext()
	source := make(chan *execution.Message, 1)
	acked := false
	msg := execution.NewMessage([]byte("m1"))
	msg.OnAck(func() { acked = true })
	source <- msg
	close(source)
	ec.Response().Messages().SetSource(source)

	chain := NewChain("c", []Policy{&upperPolicy{id: "x", drop: true}, &upperPolicy{id: "y"}}, execution.PhaseMessageResponse, testConfig())
	require.NoError(t, chain.Execute(context.Background(), ec))

	delivered := 0
	require.NoError(t, ec.Response().Messages().Consume(context.Background(), func(*execution.Message) error {
		delivered++
		return nil
	}))
	assert.Zero(t, delivered)
	assert.True(t, acked)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "READY", StateReady.String())
	assert.Equal(t, "INTERRUPTED", StateInterrupted.String())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateRunning.Terminal())
}
