package processor

import (
	"log/slog"

	"github.com/polisai/polis-gateway/pkg/domain"
	"github.com/polisai/polis-gateway/pkg/execution"
	"github.com/polisai/polis-gateway/pkg/hook"
	"github.com/polisai/polis-gateway/pkg/policy"
)

// Config describes what the processors of one API need.
type Config struct {
	Api *domain.Api
	// Security provides the plan security chain. Without it no security
	// processor is installed.
	Security *policy.ChainProvider
	Node     DrainState
	Hooks    []hook.Hook
	Helper   *hook.Helper
	Logger   *slog.Logger
}

// Chains groups the three processor chains of an API.
type Chains struct {
	Pre   *Chain
	Post  *Chain
	Error *Chain
}

// Build assembles the processor chains of an API from its static
// configuration.
func Build(cfg Config) Chains {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	chainCfg := ChainConfig{Hooks: cfg.Hooks, Helper: cfg.Helper, Logger: logger}

	var (
		cors     *domain.Cors
		mappings []string
	)
	if listener := cfg.Api.HTTPListener(); listener != nil {
		if listener.Cors != nil && listener.Cors.Enabled {
			cors = listener.Cors
		}
		mappings = listener.PathMappings
	}
	logging := cfg.Api.Logging

	pre := []Processor{Transaction{}}
	if cors != nil {
		pre = append(pre, NewCorsPreflight(*cors))
	}
	if logging.Enabled() {
		pre = append(pre, NewLogRequest(*logging))
	}
	if cfg.Security != nil {
		pre = append(pre, NewSecurityPlan(cfg.Security))
	}

	var post, failure []Processor
	if cors != nil {
		post = append(post, NewCorsHeaders(*cors))
		failure = append(failure, NewCorsHeaders(*cors))
	}
	if len(mappings) > 0 {
		post = append(post, NewPathMapping(mappings))
		failure = append(failure, NewPathMapping(mappings))
	}
	if len(cfg.Api.ResponseTemplates) > 0 {
		failure = append(failure, NewResponseTemplate(cfg.Api.ResponseTemplates))
	} else {
		failure = append(failure, SimpleFailure{})
	}
	if logging.Enabled() {
		post = append(post, NewLogResponse(*logging, logger))
		failure = append(failure, NewLogResponse(*logging, logger))
	}
	post = append(post, NewShutdown(cfg.Node))
	failure = append(failure, NewShutdown(cfg.Node))

	return Chains{
		Pre:   NewChain("processor-pre", execution.PhaseRequest, pre, chainCfg),
		Post:  NewChain("processor-post", execution.PhaseResponse, post, chainCfg),
		Error: NewChain("processor-error", execution.PhaseResponse, failure, chainCfg),
	}
}
