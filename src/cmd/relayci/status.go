package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"relayci/src/contracts"
	"relayci/src/pipeline"
	"relayci/src/relay"
	"relayci/src/store"
	"relayci/src/webhook"
)

var (
	statusServer string
	statusLimit  int
	artifactsOut string
)

// statusCmd shows a run, or the most recent runs
var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show the status of a run",
	Long: `Show a run's status and step results, or list recent runs when no run ID
is given.

Runs are read from Postgres in distributed mode. In local mode run records only
live inside the process that ran them; use --server to ask a running
'relayci serve' instead.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if statusServer != "" {
			return statusFromServer(out, statusServer, args)
		}

		ctx := cmd.Context()
		backends, err := pipeline.OpenBackends(ctx, appConfig, newLogger(false))
		if err != nil {
			return err
		}
		defer backends.Close()
		if backends.Mode == pipeline.LocalMode {
			fmt.Fprintln(os.Stderr, "Local mode keeps no run history between invocations; use --server or set REDPANDA_BROKERS and POSTGRES_DSN.")
		}

		if len(args) == 0 {
			runs, err := backends.Store.ListRuns(ctx, statusLimit)
			if err != nil {
				return err
			}
			printRuns(out, runs)
			return nil
		}

		run, err := backends.Store.GetRun(ctx, args[0])
		if errors.Is(err, store.ErrRunNotFound) {
			return fmt.Errorf("run %s not found", args[0])
		}
		if err != nil {
			return err
		}
		steps, err := backends.Store.GetStepResults(ctx, args[0])
		if err != nil {
			return err
		}
		printRun(out, run, steps)
		return nil
	},
}

func statusFromServer(out io.Writer, server string, args []string) error {
	base := strings.TrimRight(server, "/")
	if len(args) == 0 {
		var resp struct {
			Runs []contracts.RunStatus `json:"runs"`
		}
		if err := getJSON(fmt.Sprintf("%s/runs?limit=%d", base, statusLimit), &resp); err != nil {
			return err
		}
		printRuns(out, resp.Runs)
		return nil
	}

	var resp webhook.RunResponse
	if err := getJSON(base+"/runs/"+url.PathEscape(args[0]), &resp); err != nil {
		return err
	}
	printRun(out, resp.Run, resp.Steps)
	return nil
}

func getJSON(target string, v interface{}) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("request %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func printRuns(out io.Writer, runs []contracts.RunStatus) {
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs.")
		return
	}
	for _, run := range runs {
		fmt.Fprintf(out, "%-36s  %-9s  %s  %s\n",
			run.RunID, run.Status, run.CreatedAt.Local().Format(time.DateTime), run.Event)
	}
}

func printRun(out io.Writer, run *contracts.RunStatus, steps []contracts.StepResult) {
	fmt.Fprintf(out, "Run:     %s\n", run.RunID)
	fmt.Fprintf(out, "Event:   %s\n", run.Event)
	fmt.Fprintf(out, "Status:  %s\n", run.Status)
	fmt.Fprintf(out, "Created: %s\n", run.CreatedAt.Local().Format(time.DateTime))
	if run.CompletedAt != nil {
		fmt.Fprintf(out, "Done:    %s\n", run.CompletedAt.Local().Format(time.DateTime))
	}
	if run.Error != "" {
		fmt.Fprintf(out, "Error:   %s\n", run.Error)
	}

	if len(steps) > 0 {
		fmt.Fprintln(out)
	}
	for _, step := range steps {
		fmt.Fprintf(out, "  %-10s %2d  %-30s %-9s exit %d  %s\n",
			step.Stage, step.Index, step.Name, step.Status, step.ExitCode, step.Duration.Round(time.Millisecond))
	}
}

// artifactsCmd groups artifact subcommands
var artifactsCmd = &cobra.Command{
	Use:   "artifacts",
	Short: "Work with stored artifacts",
}

// artifactsGetCmd extracts a stored artifact
var artifactsGetCmd = &cobra.Command{
	Use:   "get <run-id> <name>",
	Short: "Extract a run's artifact into a directory",
	Long: `Retrieve the named artifact of a run from the artifact relay and write its
files under --out, preserving their relative paths.

Example:
  relayci artifacts get 0b7c... dist --out ./downloaded`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		backends, err := pipeline.OpenBackends(ctx, appConfig, newLogger(false))
		if err != nil {
			return err
		}
		defer backends.Close()

		artifact, err := backends.Relay.Retrieve(ctx, args[0], args[1])
		if errors.Is(err, relay.ErrArtifactNotFound) {
			return fmt.Errorf("run %s has no artifact %q", args[0], args[1])
		}
		if err != nil {
			return err
		}

		written, err := relay.Extract(artifact, artifactsOut)
		if err != nil {
			return err
		}
		for _, path := range written {
			fmt.Fprintln(cmd.OutOrStdout(), path)
		}
		fmt.Fprintf(os.Stderr, "Extracted %d files (%d bytes, sha256 %s) to %s\n",
			len(written), artifact.Size(), artifact.Digest(), artifactsOut)
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusServer, "server", "", "Base URL of a running 'relayci serve'")
	statusCmd.Flags().IntVarP(&statusLimit, "limit", "n", 20, "Runs to list")

	artifactsGetCmd.Flags().StringVarP(&artifactsOut, "out", "o", ".", "Directory to extract into")
	artifactsCmd.AddCommand(artifactsGetCmd)
}
