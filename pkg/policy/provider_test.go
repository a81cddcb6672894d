package policy

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/polisai/polis-gateway/pkg/domain"
	"github.com/polisai/polis-gateway/pkg/execution"
)

func unresolved(context.Context, *execution.Context, StreamType) ([]Metadata, bool) {
	return nil, false
}

func TestProviderDeniesUnresolvedRequest(t *testing.T) {
	provider := NewChainProvider("security", ResolverFunc(unresolved), NewManager(NewRegistry(), discardLogger()), testConfig())

	chain, err := provider.Provide(context.Background(), newTestContext(), OnRequest)
	require.NoError(t, err)

	err = chain.Execute(context.Background(), newTestContext())
	failure, ok := execution.AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, failure.StatusCode)
	assert.Equal(t, domain.KeyMissingSecuredRequestPlan, failure.Key)
	assert.Equal(t, StateFailed, chain.State())
}

func TestProviderDenyByDefaultProperty(t *testing.T) {
	provider := NewChainProvider("security", ResolverFunc(unresolved), NewManager(NewRegistry(), discardLogger()), testConfig())

	rapid.Check(t, func(t *rapid.T) {
		method := rapid.SampledFrom([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}).Draw(t, "method")
		path := "/" + rapid.StringMatching(`[a-z]{0,8}`).Draw(t, "path")
		ec := execution.NewContext(execution.NewRequest(method, path, nil, nil), nil, execution.Config{Logger: discardLogger()})

		chain, err := provider.Provide(context.Background(), ec, OnRequest)
		if err != nil {
			t.Fatalf("provide: %v", err)
		}
		failure, ok := execution.AsFailure(chain.Execute(context.Background(), ec))
		if !ok || failure.StatusCode != http.StatusUnauthorized || failure.Key != domain.KeyMissingSecuredRequestPlan {
			t.Fatalf("expected 401 %s, got %+v", domain.KeyMissingSecuredRequestPlan, failure)
		}
	})
}

func TestProviderUnresolvedResponseIsNoop(t *testing.T) {
	provider := NewChainProvider("security", ResolverFunc(unresolved), NewManager(NewRegistry(), discardLogger()), testConfig())

	chain, err := provider.Provide(context.Background(), newTestContext(), OnResponse)
	require.NoError(t, err)
	require.NoError(t, chain.Execute(context.Background(), newTestContext()))
	assert.Zero(t, chain.Len())
}

func TestProviderCreatesResolvedPolicies(t *testing.T) {
	rec := &recorder{}
	registry := NewRegistry()
	registry.RegisterFunc("stub", "", func(meta Metadata) (Policy, error) {
		return &stubPolicy{id: meta.ID(), rec: rec}, nil
	})
	resolver := ResolverFunc(func(context.Context, *execution.Context, StreamType) ([]Metadata, bool) {
		return []Metadata{{Policy: "stub", Name: "key-check", Key: "plan-1"}}, true
	})
	provider := NewChainProvider("security", resolver, NewManager(registry, discardLogger()), testConfig())

	chain, err := provider.Provide(context.Background(), newTestContext(), OnRequest)
	require.NoError(t, err)
	require.NoError(t, chain.Execute(context.Background(), newTestContext()))
	assert.Equal(t, []string{"key-check"}, rec.calls)
}

func TestProviderUnknownPolicy(t *testing.T) {
	resolver := ResolverFunc(func(context.Context, *execution.Context, StreamType) ([]Metadata, bool) {
		return []Metadata{{Policy: "missing"}}, true
	})
	provider := NewChainProvider("security", resolver, NewManager(NewRegistry(), discardLogger()), testConfig())

	_, err := provider.Provide(context.Background(), newTestContext(), OnRequest)
	require.ErrorIs(t, err, domain.ErrPolicyNotFound)
}
