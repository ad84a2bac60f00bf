package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"relayci/src/contracts"
	"relayci/src/pipeline"
	"relayci/src/tui"
	"relayci/src/workflow"
)

var (
	runEvent       eventFlags
	runWorkDir     string
	runWatch       bool
	runDetach      bool
	runOutputLines int
)

// runCmd runs the workflow for one event
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the workflow for an event",
	Long: `Evaluate the workflow's triggers for an event and run every eligible stage.

The build stage runs in the working directory. When it succeeds and the ref is
a tag, the publish stage runs in a fresh directory holding only the build
stage's artifact.

With --detach (distributed mode only) the run is queued for relay-agent
workers and the run ID is printed.

Example:
  relayci run --event release --action published --ref refs/tags/v1.2.0
  relayci run --event push --ref refs/heads/main --tui
  relayci run --from-env`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ev, err := runEvent.resolve(os.Getenv)
		if err != nil {
			return err
		}
		if runWorkDir != "" {
			appConfig.WorkDir = runWorkDir
		}

		wf, err := loadWorkflow()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log := newLogger(runWatch)
		backends, err := pipeline.OpenBackends(ctx, appConfig, log)
		if err != nil {
			return err
		}
		defer backends.Close()

		if runDetach {
			return submitRun(ctx, backends, ev)
		}

		p, err := pipeline.NewFromConfig(appConfig, wf, backends, log)
		if err != nil {
			return err
		}

		req := pipeline.NewRunRequest(ev)
		var result *pipeline.RunResult
		if runWatch {
			result, err = watchRun(ctx, p, backends, wf, req)
		} else {
			log.Info("[Run] %s: %s (%s mode)", req.RunID, ev, backends.Mode)
			result, err = p.Run(ctx, req)
		}
		if result == nil {
			return err
		}

		fmt.Print(tui.RenderSummaryWithStyles(result, tui.DefaultStyles(), 100, runOutputLines))
		if result.Status == contracts.StateFailed {
			return errRunFailed
		}
		return nil
	},
}

func submitRun(ctx context.Context, backends *pipeline.Backends, ev contracts.EventDescriptor) error {
	if backends.Mode != pipeline.DistributedMode {
		return errors.New("--detach needs distributed mode; set REDPANDA_BROKERS and POSTGRES_DSN")
	}
	runID, err := pipeline.Submit(ctx, backends.Broker, backends.Store, ev)
	if err != nil {
		return err
	}
	fmt.Printf("Queued run %s for %s\n", runID, ev)
	fmt.Printf("Check status: relayci status %s\n", runID)
	return nil
}

// watchRun runs req under the TUI, following its events on the run broker.
func watchRun(ctx context.Context, p *pipeline.Pipeline, backends *pipeline.Backends, wf *workflow.Workflow, req contracts.RunRequest) (*pipeline.RunResult, error) {
	order, err := wf.Order()
	if err != nil {
		return nil, err
	}
	stages := make([]string, 0, len(order))
	for _, s := range order {
		stages = append(stages, s.Name)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	events, err := backends.Broker.Subscribe(watchCtx, contracts.TopicRunEvents, "relayci-watch-"+req.RunID)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", contracts.TopicRunEvents, err)
	}

	return tui.Watch(ctx, req.RunID, stages, events, func(ctx context.Context) (*pipeline.RunResult, error) {
		return p.Run(ctx, req)
	})
}

func init() {
	runEvent.register(runCmd)
	runCmd.Flags().StringVar(&runWorkDir, "workdir", "", "Source directory the build stage runs in (default: RELAYCI_WORKDIR or .)")
	runCmd.Flags().BoolVarP(&runWatch, "tui", "t", false, "Follow the run in an interactive view")
	runCmd.Flags().BoolVarP(&runDetach, "detach", "d", false, "Queue the run for relay-agent workers and exit")
	runCmd.Flags().IntVar(&runOutputLines, "output-lines", 0, "Lines of failing step output to print (0: all)")
	runCmd.MarkFlagsMutuallyExclusive("tui", "detach")
}
