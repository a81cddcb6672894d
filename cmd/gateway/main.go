// Package main is the entry point for the gateway binary.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command of the gateway.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "gateway",
		Short:         "API gateway data plane",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to configuration file (YAML)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringP("definitions", "d", "", "Directory holding the API definitions")

	rootCmd.AddCommand(newServeCmd(), newValidateCmd())
	return rootCmd
}
