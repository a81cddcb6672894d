package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/polisai/polis-gateway/pkg/config"
	"github.com/polisai/polis-gateway/pkg/reactor"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and build every API definition without serving",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return validate(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}
}

func validate(ctx context.Context, cfg *config.Config, out io.Writer) error {
	logger := newLogger(cfg, io.Discard)

	defs, err := config.LoadDefinitions(cfg.Definitions.Dir)
	if err != nil {
		return err
	}

	fc := factoryConfig(cfg, reactor.NewNode("validate", version), nil, logger)
	fc.PlatformFlows = defs.PlatformFlows
	factory := reactor.NewFactory(fc)
	registry := reactor.NewRegistry(nil, logger)
	var errs []error
	for i := range defs.Apis {
		api := &defs.Apis[i]
		r, err := factory.Create(api)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := registry.Deploy(ctx, r); err != nil {
			errs = append(errs, fmt.Errorf("api %s: %w", api.ID, err))
		}
	}
	registry.Shutdown(ctx)
	if err := errors.Join(errs...); err != nil {
		return err
	}

	fmt.Fprintf(out, "%d api definition(s) valid, checksum %s\n", len(defs.Apis), defs.Checksum)
	return nil
}
