// Package trigger decides which workflow stages a repository event makes eligible.
package trigger

import (
	"fmt"

	"relayci/src/contracts"
	"relayci/src/workflow"
)

// Plan is the outcome of evaluating one event against a workflow.
type Plan struct {
	Event contracts.EventDescriptor `json:"event"`
	// Accepted is false when the workflow's triggers do not match the event.
	Accepted bool `json:"accepted"`
	// Eligible stages in execution order.
	Eligible []workflow.Stage `json:"-"`
	// Skipped stage names in execution order.
	Skipped []string `json:"skipped"`
	// Reasons maps each skipped stage to why it was skipped.
	Reasons map[string]string `json:"reasons,omitempty"`
}

// Has reports whether the named stage is eligible.
func (p Plan) Has(name string) bool {
	for _, s := range p.Eligible {
		if s.Name == name {
			return true
		}
	}
	return false
}

// Empty reports whether no stage is eligible.
func (p Plan) Empty() bool {
	return len(p.Eligible) == 0
}

// EligibleNames returns the eligible stage names in execution order.
func (p Plan) EligibleNames() []string {
	names := make([]string, 0, len(p.Eligible))
	for _, s := range p.Eligible {
		names = append(names, s.Name)
	}
	return names
}

// Evaluator evaluates events against a fixed workflow. It holds no mutable
// state and is safe for concurrent use.
type Evaluator struct {
	wf    *workflow.Workflow
	order []workflow.Stage
}

// NewEvaluator prepares an evaluator for wf.
func NewEvaluator(wf *workflow.Workflow) (*Evaluator, error) {
	if wf == nil {
		return nil, &contracts.ConfigurationError{Field: "workflow", Reason: "workflow is required"}
	}
	order, err := wf.Order()
	if err != nil {
		return nil, err
	}
	return &Evaluator{wf: wf, order: order}, nil
}

// Workflow returns the workflow being evaluated.
func (e *Evaluator) Workflow() *workflow.Workflow {
	return e.wf
}

// Evaluate returns the stages eligible to run for ev. A stage is eligible when
// its condition holds and every stage it needs is eligible. An event the
// workflow does not trigger on yields an empty plan and no error.
func (e *Evaluator) Evaluate(ev contracts.EventDescriptor) (Plan, error) {
	if err := ev.Validate(); err != nil {
		return Plan{}, err
	}

	plan := Plan{Event: ev, Reasons: make(map[string]string)}
	if !e.wf.On.Accepts(ev) {
		for _, s := range e.order {
			plan.Skipped = append(plan.Skipped, s.Name)
			plan.Reasons[s.Name] = fmt.Sprintf("workflow does not trigger on %s", ev)
		}
		return plan, nil
	}
	plan.Accepted = true

	eligible := make(map[string]bool, len(e.order))
	for _, s := range e.order {
		if reason, ok := blocked(s, ev, eligible); ok {
			plan.Skipped = append(plan.Skipped, s.Name)
			plan.Reasons[s.Name] = reason
			continue
		}
		eligible[s.Name] = true
		plan.Eligible = append(plan.Eligible, s)
	}
	return plan, nil
}

func blocked(s workflow.Stage, ev contracts.EventDescriptor, eligible map[string]bool) (string, bool) {
	for _, need := range s.Needs {
		if !eligible[need] {
			return fmt.Sprintf("needs %q, which is not eligible", need), true
		}
	}
	if !s.If.Matches(ev) {
		return fmt.Sprintf("condition %q does not hold", s.If), true
	}
	return "", false
}
