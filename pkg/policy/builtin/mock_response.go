package builtin

import (
	"context"
	"net/http"

	"github.com/polisai/polis-gateway/pkg/execution"
	"github.com/polisai/polis-gateway/pkg/policy"
)

type mockResponseConfig struct {
	Status  int               `yaml:"status"`
	Headers map[string]string `yaml:"headers"`
	Body    string            `yaml:"body"`
}

// MockResponse answers the call itself and interrupts the chain, so the
// endpoint is never invoked.
type MockResponse struct {
	id  string
	cfg mockResponseConfig
}

// NewMockResponse creates the policy. The status defaults to 200.
func NewMockResponse(meta policy.Metadata) (policy.Policy, error) {
	cfg := mockResponseConfig{Status: http.StatusOK}
	if err := policy.DecodeConfiguration(meta.Configuration, &cfg); err != nil {
		return nil, err
	}
	return &MockResponse{id: meta.ID(), cfg: cfg}, nil
}

func (p *MockResponse) ID() string { return p.id }

func (p *MockResponse) OnRequest(_ context.Context, pc execution.PolicyContext) error {
	engine := pc.TemplateEngine()
	body, err := engine.Render(p.cfg.Body)
	if err != nil {
		return err
	}
	resp := pc.Response()
	resp.Status = p.cfg.Status
	for name, value := range p.cfg.Headers {
		rendered, err := engine.Render(value)
		if err != nil {
			return err
		}
		resp.Headers.Set(name, rendered)
	}
	resp.SetBody([]byte(body))
	return pc.Interrupt()
}
