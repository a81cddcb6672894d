package reactor

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/polisai/polis-gateway/pkg/connector"
	"github.com/polisai/polis-gateway/pkg/domain"
	"github.com/polisai/polis-gateway/pkg/el"
	"github.com/polisai/polis-gateway/pkg/execution"
	"github.com/polisai/polis-gateway/pkg/flow"
	"github.com/polisai/polis-gateway/pkg/hook"
	"github.com/polisai/polis-gateway/pkg/policy"
	"github.com/polisai/polis-gateway/pkg/processor"
	"github.com/polisai/polis-gateway/pkg/security"
	"github.com/polisai/polis-gateway/pkg/telemetry"
)

// ErrNoEntrypoint is returned when none of the entrypoints of an API could
// be built.
var ErrNoEntrypoint = errors.New("api has no usable entrypoint")

// FactoryConfig holds what every reactor shares.
type FactoryConfig struct {
	Policies   *policy.Registry
	Connectors *connector.Registry
	// PlatformFlows run for every API, before the plan and API flows on the
	// request and after them on the response.
	PlatformFlows []domain.Flow
	Node          *Node
	Hooks         []hook.Hook
	Metrics       *telemetry.Metrics
	Components    execution.ComponentProvider
	Evaluator     *el.Evaluator
	Logger        *slog.Logger
}

// Component ids under which hooks see the connector calls.
const (
	componentEntrypointRequest  = "entrypoint-request"
	componentInvoker            = "invoker"
	componentEntrypointResponse = "entrypoint-response"
)

// Factory builds reactors from API definitions.
type Factory struct {
	cfg      FactoryConfig
	helper   *hook.Helper
	platform *flow.ConditionalResolver
}

// NewFactory creates a reactor factory.
func NewFactory(cfg FactoryConfig) *Factory {
	if cfg.Policies == nil || cfg.Connectors == nil {
		panic("reactor: policy and connector registries are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Node == nil {
		cfg.Node = NewNode("", "")
	}
	return &Factory{
		cfg:      cfg,
		helper:   hook.NewHelper(cfg.Logger),
		platform: flow.NewStaticResolver(cfg.PlatformFlows, nil, cfg.Logger),
	}
}

// Create builds the reactor of api. The reactor is not started.
func (f *Factory) Create(api *domain.Api) (*ApiReactor, error) {
	if api == nil || api.ID == "" {
		return nil, fmt.Errorf("api definition without id")
	}
	logger := f.cfg.Logger.With("api_id", api.ID)
	dc := connector.DeploymentContext{Api: api, Logger: logger}

	entrypoints := connector.NewEntrypointResolver(dc, f.cfg.Connectors)
	if len(entrypoints.Connectors()) == 0 {
		return nil, fmt.Errorf("api %s: %w", api.ID, ErrNoEntrypoint)
	}
	endpoints := connector.NewEndpointResolver(dc, f.cfg.Connectors)

	manager := policy.NewManager(f.cfg.Policies, logger)
	chainCfg := policy.ChainConfig{Hooks: f.cfg.Hooks, Helper: f.helper, Logger: logger}
	chains := policy.NewFlowChainFactory(manager, chainCfg)
	flowCfg := flow.ChainConfig{Hooks: f.cfg.Hooks, Helper: f.helper, Logger: logger}

	securityChain := policy.NewChainProvider("security", security.NewPlanResolver(api), manager, chainCfg)
	processors := processor.Build(processor.Config{
		Api:      api,
		Security: securityChain,
		Node:     f.cfg.Node,
		Hooks:    f.cfg.Hooks,
		Helper:   f.helper,
		Logger:   logger,
	})

	r := &ApiReactor{
		api:           api,
		entrypoints:   entrypoints,
		endpoints:     endpoints,
		processors:    processors,
		platformFlows: flow.NewChain(chainPlatform, f.platform, chains, flowCfg),
		planFlows:     flow.NewChain(chainPlan, flow.NewPlanResolver(nil, logger), chains, flowCfg),
		apiFlows:      flow.NewChain(chainApi, flow.NewStaticResolver(api.Flows, nil, logger), chains, flowCfg),
		contextCfg: execution.Config{
			Components:        f.cfg.Components,
			Evaluator:         f.cfg.Evaluator,
			TemplateProviders: f.providers(api),
			Logger:            logger,
		},
		metrics: f.cfg.Metrics,
		logger:  logger,
	}
	r.handleRequest = f.helper.Wrap(entrypointRequest, componentEntrypointRequest, f.cfg.Hooks, execution.PhaseRequest)
	r.invoker = f.helper.Wrap(r.invoke, componentInvoker, f.cfg.Hooks, execution.PhaseRequest)
	r.handleResponse = f.helper.Wrap(entrypointResponse, componentEntrypointResponse, f.cfg.Hooks, execution.PhaseResponse)
	return r, nil
}

// providers exposes the API, its properties and the node to expressions.
func (f *Factory) providers(api *domain.Api) []el.VariableProvider {
	properties := make(map[string]any, len(api.Properties))
	for k, v := range api.Properties {
		properties[k] = v
	}
	apiView := map[string]any{
		"id":         api.ID,
		"name":       api.Name,
		"version":    api.Version,
		"type":       string(api.Type),
		"properties": properties,
	}
	nodeView := map[string]any{
		"id":      f.cfg.Node.ID,
		"version": f.cfg.Node.Version,
	}
	return []el.VariableProvider{
		el.VariableProviderFunc(func(engine *el.TemplateEngine) {
			engine.Set(el.VarApi, apiView)
			engine.Set(el.VarProperties, properties)
			engine.Set(el.VarNode, nodeView)
		}),
	}
}
