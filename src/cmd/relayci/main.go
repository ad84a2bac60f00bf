// Package main provides the relayci command line.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"relayci/src/config"
	"relayci/src/logger"
	"relayci/src/workflow"
)

// errRunFailed signals a run that finished unsuccessfully. Its summary has
// already been printed.
var errRunFailed = errors.New("run failed")

var (
	appConfig    *config.Config
	workflowPath string
	debug        bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "relayci",
	Short: "relayci - a two-stage release pipeline runner",
	Long: `relayci runs a release workflow: a build stage that installs, tests and
packages a project, then a publish stage that uploads the package to PyPI.

Publish only runs for tag refs, only after the build stage succeeded, and
only with the exact files the build stage produced.

Runs execute in-process by default (local mode). Set REDPANDA_BROKERS and
POSTGRES_DSN to share runs with relay-agent workers (distributed mode).`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		appConfig, err = config.LoadFromEnv()
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}
		if workflowPath != "" {
			appConfig.WorkflowPath = workflowPath
		}
		if debug {
			appConfig.Debug = true
		}
		return nil
	},
}

// newLogger returns the console logger, or a silent one while a TUI owns the terminal.
func newLogger(quiet bool) logger.Logger {
	if quiet {
		return logger.NewSilentLogger()
	}
	return logger.NewConsoleLogger().SetDebug(appConfig.Debug)
}

func loadWorkflow() (*workflow.Workflow, error) {
	wf, err := workflow.Load(appConfig.WorkflowPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}
	return wf, nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&workflowPath, "workflow", "w", "", "Workflow file (default: built-in release workflow, or RELAYCI_WORKFLOW)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(artifactsCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errRunFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
