package builtin

import (
	"context"
	"fmt"
	"net/http"

	"github.com/polisai/polis-gateway/pkg/execution"
	"github.com/polisai/polis-gateway/pkg/policy"
)

type interruptWithConfig struct {
	Status      int    `yaml:"status"`
	Key         string `yaml:"key"`
	Message     string `yaml:"message"`
	ContentType string `yaml:"contentType"`
}

// InterruptWith stops the chain with a configured failure. The message is a
// template.
type InterruptWith struct {
	id  string
	cfg interruptWithConfig
}

// NewInterruptWith creates the policy. The status defaults to 403.
func NewInterruptWith(meta policy.Metadata) (policy.Policy, error) {
	cfg := interruptWithConfig{Status: http.StatusForbidden}
	if err := policy.DecodeConfiguration(meta.Configuration, &cfg); err != nil {
		return nil, err
	}
	if cfg.Status < 100 || cfg.Status > 599 {
		return nil, fmt.Errorf("%w: status %d", policy.ErrInvalidConfiguration, cfg.Status)
	}
	if cfg.Message == "" {
		cfg.Message = http.StatusText(cfg.Status)
	}
	return &InterruptWith{id: meta.ID(), cfg: cfg}, nil
}

func (p *InterruptWith) ID() string { return p.id }

func (p *InterruptWith) OnRequest(_ context.Context, pc execution.PolicyContext) error {
	return p.interrupt(pc)
}

func (p *InterruptWith) OnResponse(_ context.Context, pc execution.PolicyContext) error {
	return p.interrupt(pc)
}

func (p *InterruptWith) OnMessageRequest(_ context.Context, pc execution.PolicyContext, _ *execution.Message) (*execution.Message, error) {
	return nil, p.interrupt(pc)
}

func (p *InterruptWith) OnMessageResponse(_ context.Context, pc execution.PolicyContext, _ *execution.Message) (*execution.Message, error) {
	return nil, p.interrupt(pc)
}

func (p *InterruptWith) interrupt(pc execution.PolicyContext) error {
	message, err := pc.TemplateEngine().Render(p.cfg.Message)
	if err != nil {
		return err
	}
	return pc.InterruptWith(execution.ExecutionFailure{
		StatusCode:  p.cfg.Status,
		Key:         p.cfg.Key,
		Message:     message,
		ContentType: p.cfg.ContentType,
	})
}
