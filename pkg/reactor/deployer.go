package reactor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/polisai/polis-gateway/pkg/config"
)

// Deployer keeps a Registry in line with successive definition sets.
type Deployer struct {
	cfg      FactoryConfig
	registry *Registry
	logger   *slog.Logger

	mu        sync.Mutex
	factory   *Factory
	platform  string
	checksums map[string]string
}

// NewDeployer creates a deployer. cfg.PlatformFlows is ignored: platform
// flows come with each definition set.
func NewDeployer(cfg FactoryConfig, registry *Registry) *Deployer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Deployer{cfg: cfg, registry: registry, logger: logger, checksums: map[string]string{}}
}

// Apply deploys new and changed APIs and undeploys removed ones. Every API
// is redeployed when the platform flows change. Failures of single APIs are
// joined; the other APIs are still applied.
func (d *Deployer) Apply(ctx context.Context, defs config.Definitions) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	platform, err := yaml.Marshal(defs.PlatformFlows)
	if err != nil {
		return fmt.Errorf("platform flows: %w", err)
	}
	redeployAll := d.factory == nil || string(platform) != d.platform
	if redeployAll {
		cfg := d.cfg
		cfg.PlatformFlows = defs.PlatformFlows
		d.factory = NewFactory(cfg)
		d.platform = string(platform)
	}

	var errs []error
	wanted := make(map[string]bool, len(defs.Apis))
	for i := range defs.Apis {
		api := &defs.Apis[i]
		wanted[api.ID] = true
		checksum := defs.Checksums[api.ID]
		if !redeployAll && checksum != "" && d.checksums[api.ID] == checksum {
			continue
		}
		r, err := d.factory.Create(api)
		if err == nil {
			err = d.registry.Deploy(ctx, r)
		}
		if err != nil {
			d.logger.Error("api deployment failed", "api_id", api.ID, "error", err)
			errs = append(errs, fmt.Errorf("api %s: %w", api.ID, err))
			continue
		}
		d.checksums[api.ID] = checksum
		d.logger.Info("api deployed", "api_id", api.ID, "generation", defs.Generation)
	}

	for _, r := range d.registry.Reactors() {
		id := r.Api().ID
		if wanted[id] {
			continue
		}
		if err := d.registry.Undeploy(ctx, id); err != nil {
			errs = append(errs, err)
			continue
		}
		delete(d.checksums, id)
		d.logger.Info("api undeployed", "api_id", id, "generation", defs.Generation)
	}
	return errors.Join(errs...)
}

// Watch applies every definition set received until updates is closed or
// ctx is done.
func (d *Deployer) Watch(ctx context.Context, updates <-chan config.Definitions) {
	for {
		select {
		case <-ctx.Done():
			return
		case defs, ok := <-updates:
			if !ok {
				return
			}
			if err := d.Apply(ctx, defs); err != nil {
				d.logger.Warn("definitions applied with errors", "generation", defs.Generation, "error", err)
			}
		}
	}
}
