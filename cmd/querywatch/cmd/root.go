// Package cmd provides the CLI commands for querywatch.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/querywatch/querywatch/pkg/version"
)

var (
	configPath string
	debugMode  bool
)

// NewRootCmd creates the root command for the querywatch CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "querywatch",
		Short: "Continuous query monitor (reverse search)",
		Long: `querywatch holds a corpus of registered queries and, for every
incoming document, reports which queries match it.

Register queries once, then stream documents through 'querywatch run'.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.SetVersionTemplate("querywatch version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
