package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"relayci/src/trigger"
	"relayci/src/workflow"
)

var (
	evaluateEvent eventFlags
	evaluateJSON  bool
)

// evaluateCmd prints the plan for an event without running anything
var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Show which stages an event would run",
	Long: `Evaluate the workflow's triggers and stage conditions for an event and print
the eligible stages, plus the reason each other stage would be skipped.
Nothing is executed.

Example:
  relayci evaluate --event push --ref refs/heads/main
  relayci evaluate --event release --action published --ref refs/tags/v1.2.0 --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ev, err := evaluateEvent.resolve(os.Getenv)
		if err != nil {
			return err
		}
		wf, err := loadWorkflow()
		if err != nil {
			return err
		}
		evaluator, err := trigger.NewEvaluator(wf)
		if err != nil {
			return err
		}
		plan, err := evaluator.Evaluate(ev)
		if err != nil {
			return err
		}

		if evaluateJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(planOutput(plan))
		}
		fmt.Fprint(cmd.OutOrStdout(), formatPlan(plan))
		return nil
	},
}

// planJSON is the --json form of a plan.
type planJSON struct {
	Event    string            `json:"event"`
	Accepted bool              `json:"accepted"`
	Eligible []string          `json:"eligible"`
	Skipped  []string          `json:"skipped"`
	Reasons  map[string]string `json:"reasons,omitempty"`
}

func planOutput(plan trigger.Plan) planJSON {
	skipped := plan.Skipped
	if skipped == nil {
		skipped = []string{}
	}
	return planJSON{
		Event:    plan.Event.String(),
		Accepted: plan.Accepted,
		Eligible: plan.EligibleNames(),
		Skipped:  skipped,
		Reasons:  plan.Reasons,
	}
}

func formatPlan(plan trigger.Plan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Event: %s\n", plan.Event)
	if !plan.Accepted {
		b.WriteString("The workflow does not trigger on this event.\n")
	}
	for _, name := range plan.EligibleNames() {
		fmt.Fprintf(&b, "  run   %s\n", name)
	}
	for _, name := range plan.Skipped {
		fmt.Fprintf(&b, "  skip  %s: %s\n", name, plan.Reasons[name])
	}
	return b.String()
}

// validateCmd checks a workflow file
var validateCmd = &cobra.Command{
	Use:   "validate [workflow.yaml]",
	Short: "Check a workflow file",
	Long: `Parse and validate a workflow file: stage names, dependencies, conditions,
artifact hand-off and credentials. Without an argument the configured
workflow is checked.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			wf  *workflow.Workflow
			err error
		)
		if len(args) == 1 {
			wf, err = workflow.LoadFile(args[0])
		} else {
			wf, err = loadWorkflow()
		}
		if err != nil {
			return err
		}

		order, err := wf.Order()
		if err != nil {
			return err
		}
		names := make([]string, 0, len(order))
		for _, s := range order {
			names = append(names, s.Name)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Workflow %q is valid: %s\n", wf.Name, strings.Join(names, " -> "))
		return nil
	},
}

func init() {
	evaluateEvent.register(evaluateCmd)
	evaluateCmd.Flags().BoolVar(&evaluateJSON, "json", false, "Print the plan as JSON")
}
