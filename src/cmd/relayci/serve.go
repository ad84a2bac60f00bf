package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"relayci/src/pipeline"
	"relayci/src/webhook"
)

var (
	serveAddr  string
	serveAgent bool
)

// serveCmd starts the webhook receiver
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Receive GitHub webhooks and queue runs",
	Long: `Start the webhook receiver. GitHub release, pull_request and push deliveries
are evaluated against the workflow; triggered ones are queued as runs.

In local mode an agent runs in the same process and executes queued runs. In
distributed mode runs are left to relay-agent workers unless --agent is set.

Endpoints:
  POST /webhooks/github   GitHub deliveries (X-Hub-Signature-256 checked when
                          RELAYCI_WEBHOOK_SECRET is set)
  GET  /runs              recent runs
  GET  /runs/{runID}      run status and step results
  GET  /healthz`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if serveAddr != "" {
			appConfig.ListenAddr = serveAddr
		}
		wf, err := loadWorkflow()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log := newLogger(false)
		backends, err := pipeline.OpenBackends(ctx, appConfig, log)
		if err != nil {
			return err
		}
		defer backends.Close()

		p, err := pipeline.NewFromConfig(appConfig, wf, backends, log)
		if err != nil {
			return err
		}

		server := webhook.New(p.Evaluator(), backends.Broker, backends.Store, appConfig.WebhookSecret, log)
		if appConfig.WebhookSecret == "" {
			log.Warn("[Serve] RELAYCI_WEBHOOK_SECRET is not set; deliveries are not authenticated")
		}

		runAgent := serveAgent || backends.Mode == pipeline.LocalMode
		log.Info("[Serve] %s mode, in-process agent: %t", backends.Mode, runAgent)

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return server.ListenAndServe(ctx, appConfig.ListenAddr)
		})
		if runAgent {
			agent := pipeline.NewAgent(backends.Broker, p, log)
			g.Go(func() error {
				return agent.Run(ctx)
			})
		}

		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default: RELAYCI_LISTEN_ADDR or :8080)")
	serveCmd.Flags().BoolVar(&serveAgent, "agent", false, "Also run an agent in distributed mode")
}
