package connector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/polisai/polis-gateway/pkg/domain"
	"github.com/polisai/polis-gateway/pkg/execution"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeEntrypoint struct {
	id       string
	criteria int
	listener domain.ListenerType
	api      domain.ApiType
	matches  bool
	stopErr  error
	stopped  *[]string
}

func (f *fakeEntrypoint) ID() string                                 { return f.id }
func (f *fakeEntrypoint) SupportedApi() domain.ApiType               { return f.api }
func (f *fakeEntrypoint) SupportedListenerType() domain.ListenerType { return f.listener }
func (f *fakeEntrypoint) SupportedQos() []domain.Qos                 { return []domain.Qos{domain.QosAuto} }
func (f *fakeEntrypoint) MatchCriteriaCount() int                    { return f.criteria }
func (f *fakeEntrypoint) Matches(*execution.Context) bool            { return f.matches }

func (f *fakeEntrypoint) HandleRequest(context.Context, *execution.Context) error  { return nil }
func (f *fakeEntrypoint) HandleResponse(context.Context, *execution.Context) error { return nil }

func (f *fakeEntrypoint) PreStop(context.Context) error { return nil }

func (f *fakeEntrypoint) Stop(context.Context) error {
	if f.stopped != nil {
		*f.stopped = append(*f.stopped, f.id)
	}
	return f.stopErr
}

type fakeEndpoint struct {
	name    string
	stopErr error
	stopped *[]string
}

func (f *fakeEndpoint) ID() string                                        { return f.name }
func (f *fakeEndpoint) SupportedApi() domain.ApiType                      { return domain.ApiTypeProxy }
func (f *fakeEndpoint) Connect(context.Context, *execution.Context) error { return nil }
func (f *fakeEndpoint) PreStop(context.Context) error                     { return nil }

func (f *fakeEndpoint) Stop(context.Context) error {
	if f.stopped != nil {
		*f.stopped = append(*f.stopped, f.name)
	}
	return f.stopErr
}

func httpContext() *execution.Context {
	ec := execution.NewContext(execution.NewRequest(http.MethodGet, "/", nil, nil), nil, execution.Config{Logger: discardLogger()})
	ec.SetInternalAttribute(execution.InternalListenerType, domain.ListenerHTTP)
	return ec
}

func TestResolveMostSpecificFirst(t *testing.T) {
	conns := []EntrypointConnector{
		&fakeEntrypoint{id: "one", criteria: 1, listener: domain.ListenerHTTP, matches: true},
		&fakeEntrypoint{id: "three", criteria: 3, listener: domain.ListenerHTTP, matches: true},
		&fakeEntrypoint{id: "two", criteria: 2, listener: domain.ListenerHTTP, matches: true},
	}
	r := NewEntrypointResolverFrom(conns, discardLogger())

	got := r.Resolve(httpContext())
	require.NotNil(t, got)
	assert.Equal(t, "three", got.ID())

	var order []int
	for _, c := range r.Connectors() {
		order = append(order, c.MatchCriteriaCount())
	}
	assert.Equal(t, []int{3, 2, 1}, order)
}

func TestResolveSkipsNonMatching(t *testing.T) {
	r := NewEntrypointResolverFrom([]EntrypointConnector{
		&fakeEntrypoint{id: "three", criteria: 3, listener: domain.ListenerHTTP, matches: false},
		&fakeEntrypoint{id: "sub", criteria: 2, listener: domain.ListenerSubscription, matches: true},
		&fakeEntrypoint{id: "one", criteria: 1, listener: domain.ListenerHTTP, matches: true},
	}, discardLogger())

	got := r.Resolve(httpContext())
	require.NotNil(t, got)
	assert.Equal(t, "one", got.ID())
}

func TestResolveNoMatchReturnsNil(t *testing.T) {
	r := NewEntrypointResolverFrom([]EntrypointConnector{
		&fakeEntrypoint{id: "a", listener: domain.ListenerHTTP, matches: false},
	}, discardLogger())
	assert.Nil(t, r.Resolve(httpContext()))
}

func TestSpecificityOrderingProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		counts := rapid.SliceOfN(rapid.IntRange(0, 5), 1, 8).Draw(t, "counts")
		conns := make([]EntrypointConnector, len(counts))
		for i, c := range counts {
			conns[i] = &fakeEntrypoint{id: fmt.Sprintf("c%d", i), criteria: c, listener: domain.ListenerHTTP, matches: true}
		}
		r := NewEntrypointResolverFrom(conns, discardLogger())

		sorted := r.Connectors()
		for i := 1; i < len(sorted); i++ {
			if sorted[i-1].MatchCriteriaCount() < sorted[i].MatchCriteriaCount() {
				t.Fatalf("connectors not sorted descending: %d before %d", sorted[i-1].MatchCriteriaCount(), sorted[i].MatchCriteriaCount())
			}
		}
		highest := 0
		for _, c := range counts {
			if c > highest {
				highest = c
			}
		}
		if got := r.Resolve(httpContext()); got.MatchCriteriaCount() != highest {
			t.Fatalf("resolved criteria %d, want %d", got.MatchCriteriaCount(), highest)
		}
	})
}

func TestBuildSkipsUnknownAndInvalid(t *testing.T) {
	registry := NewRegistry()
	registry.RegisterEntrypoint("good", EntrypointFactoryFunc(func(DeploymentContext, map[string]any, domain.Qos) (EntrypointConnector, error) {
		return &fakeEntrypoint{id: "good", listener: domain.ListenerHTTP, api: domain.ApiTypeMessage, matches: true}, nil
	}))
	var gotQos domain.Qos
	registry.RegisterEntrypoint("qos", EntrypointFactoryFunc(func(_ DeploymentContext, _ map[string]any, qos domain.Qos) (EntrypointConnector, error) {
		gotQos = qos
		return &fakeEntrypoint{id: "qos", criteria: 1, listener: domain.ListenerHTTP, api: domain.ApiTypeMessage}, nil
	}))
	registry.RegisterEntrypoint("invalid", EntrypointFactoryFunc(func(DeploymentContext, map[string]any, domain.Qos) (EntrypointConnector, error) {
		return nil, errors.New("bad configuration")
	}))
	registry.RegisterEntrypoint("proxy-only", EntrypointFactoryFunc(func(DeploymentContext, map[string]any, domain.Qos) (EntrypointConnector, error) {
		return &fakeEntrypoint{id: "proxy-only", listener: domain.ListenerHTTP, api: domain.ApiTypeProxy}, nil
	}))

	api := &domain.Api{ID: "api", Type: domain.ApiTypeMessage, Listeners: []domain.Listener{{
		Type: domain.ListenerHTTP,
		Entrypoints: []domain.Entrypoint{
			{Type: "unknown"}, {Type: "invalid"}, {Type: "good"}, {Type: "proxy-only"}, {Type: "qos"},
		},
	}}}

	r := NewEntrypointResolver(DeploymentContext{Api: api, Logger: discardLogger()}, registry)
	var ids []string
	for _, c := range r.Connectors() {
		ids = append(ids, c.ID())
	}
	assert.Equal(t, []string{"qos", "good"}, ids)
	assert.Equal(t, domain.QosAuto, gotQos)
}

func TestStopIsBestEffort(t *testing.T) {
	var stopped []string
	r := NewEntrypointResolverFrom([]EntrypointConnector{
		&fakeEntrypoint{id: "a", stopErr: errors.New("stuck"), stopped: &stopped},
		&fakeEntrypoint{id: "b", stopped: &stopped},
		&fakeEntrypoint{id: "c", stopErr: errors.New("stuck"), stopped: &stopped},
	}, discardLogger())

	r.PreStop(context.Background())
	r.Stop(context.Background())
	assert.Equal(t, []string{"a", "b", "c"}, stopped)
}

func endpointRegistry(stopped *[]string) *Registry {
	registry := NewRegistry()
	registry.RegisterEndpoint("fake", EndpointFactoryFunc(func(_ DeploymentContext, ep domain.Endpoint, _ map[string]any) (EndpointConnector, error) {
		var stopErr error
		if ep.Name == "broken-stop" {
			stopErr = errors.New("stuck")
		}
		return &fakeEndpoint{name: ep.Name, stopErr: stopErr, stopped: stopped}, nil
	}))
	return registry
}

func TestEndpointRoundRobin(t *testing.T) {
	api := &domain.Api{ID: "api", EndpointGroups: []domain.EndpointGroup{{
		Name: "default",
		Type: "fake",
		Endpoints: []domain.Endpoint{
			{Name: "a", Weight: 2},
			{Name: "b"},
			{Name: "backup", Secondary: true},
		},
	}}}
	r := NewEndpointResolver(DeploymentContext{Api: api, Logger: discardLogger()}, endpointRegistry(nil))
	require.Equal(t, 3, r.Count())

	var picked []string
	for i := 0; i < 6; i++ {
		conn, ok := r.Resolve(httpContext())
		require.True(t, ok)
		picked = append(picked, conn.ID())
	}
	assert.Equal(t, []string{"a", "a", "b", "a", "a", "b"}, picked)
}

func TestEndpointTargetAttribute(t *testing.T) {
	api := &domain.Api{ID: "api", EndpointGroups: []domain.EndpointGroup{
		{Name: "first", Type: "fake", Endpoints: []domain.Endpoint{{Name: "a"}}},
		{Name: "second", Type: "fake", Endpoints: []domain.Endpoint{{Name: "b"}, {Name: "c", Secondary: true}}},
	}}
	r := NewEndpointResolver(DeploymentContext{Api: api, Logger: discardLogger()}, endpointRegistry(nil))

	tests := map[string]string{"second": "b", "c": "c", "a": "a"}
	for target, want := range tests {
		ec := httpContext()
		ec.SetAttribute(execution.AttrRequestEndpoint, target)
		conn, ok := r.Resolve(ec)
		require.True(t, ok, target)
		assert.Equal(t, want, conn.ID())
	}

	ec := httpContext()
	ec.SetAttribute(execution.AttrRequestEndpoint, "nowhere")
	_, ok := r.Resolve(ec)
	assert.False(t, ok)
}

func TestEndpointStopIsBestEffort(t *testing.T) {
	var stopped []string
	api := &domain.Api{ID: "api", EndpointGroups: []domain.EndpointGroup{{
		Name: "g", Type: "fake",
		Endpoints: []domain.Endpoint{{Name: "broken-stop"}, {Name: "ok"}, {Name: "unknown", Type: "missing"}},
	}}}
	r := NewEndpointResolver(DeploymentContext{Api: api, Logger: discardLogger()}, endpointRegistry(&stopped))

	r.Stop(context.Background())
	assert.Equal(t, []string{"broken-stop", "ok"}, stopped)
}
