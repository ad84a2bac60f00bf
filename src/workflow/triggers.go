package workflow

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"relayci/src/contracts"
)

// EventFilter narrows which events of one kind start a run. Empty lists match everything.
type EventFilter struct {
	Types    []string `yaml:"types,omitempty"`
	Branches []string `yaml:"branches,omitempty"`
	Tags     []string `yaml:"tags,omitempty"`
}

// Triggers is the workflow's "on" block. A nil filter means the kind is not a trigger.
type Triggers struct {
	Release     *EventFilter
	PullRequest *EventFilter
	Push        *EventFilter
}

// Accepts reports whether ev starts a run of the workflow.
func (t Triggers) Accepts(ev contracts.EventDescriptor) bool {
	filter := t.filterFor(ev.Kind)
	if filter == nil {
		return false
	}
	// A deleted branch or tag has nothing left to build.
	if ev.Kind == contracts.KindPush && ev.Action == contracts.ActionDeleted {
		return false
	}
	if len(filter.Types) > 0 && ev.Action != "" && !contains(filter.Types, ev.Action) {
		return false
	}

	// Ref filters only apply to pushes; releases and pull requests are matched by type.
	if ev.Kind != contracts.KindPush || (len(filter.Branches) == 0 && len(filter.Tags) == 0) {
		return true
	}
	if b := ev.BranchName(); b != "" && matchAny(filter.Branches, b) {
		return true
	}
	if tag := ev.TagName(); tag != "" && matchAny(filter.Tags, tag) {
		return true
	}
	return false
}

// Kinds returns the configured trigger kinds.
func (t Triggers) Kinds() []contracts.EventKind {
	var kinds []contracts.EventKind
	if t.Release != nil {
		kinds = append(kinds, contracts.KindRelease)
	}
	if t.PullRequest != nil {
		kinds = append(kinds, contracts.KindPullRequest)
	}
	if t.Push != nil {
		kinds = append(kinds, contracts.KindPush)
	}
	return kinds
}

func (t Triggers) filterFor(kind contracts.EventKind) *EventFilter {
	switch kind {
	case contracts.KindRelease:
		return t.Release
	case contracts.KindPullRequest:
		return t.PullRequest
	case contracts.KindPush:
		return t.Push
	}
	return nil
}

func (t *Triggers) set(kind contracts.EventKind, f *EventFilter) {
	switch kind {
	case contracts.KindRelease:
		t.Release = f
	case contracts.KindPullRequest:
		t.PullRequest = f
	case contracts.KindPush:
		t.Push = f
	}
}

// UnmarshalYAML accepts either a list of event names or a mapping of event
// name to filter. A key with an empty value enables the kind without filters.
func (t *Triggers) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode, yaml.SequenceNode:
		var names []string
		if value.Kind == yaml.ScalarNode {
			names = []string{value.Value}
		} else if err := value.Decode(&names); err != nil {
			return fmt.Errorf("line %d: on: %w", value.Line, err)
		}
		for _, name := range names {
			kind, err := contracts.ParseEventKind(name)
			if err != nil {
				return err
			}
			t.set(kind, &EventFilter{})
		}
		return nil

	case yaml.MappingNode:
		for i := 0; i+1 < len(value.Content); i += 2 {
			key, val := value.Content[i], value.Content[i+1]
			kind, err := contracts.ParseEventKind(key.Value)
			if err != nil {
				return err
			}
			filter := &EventFilter{}
			if val.Tag != "!!null" {
				if err := val.Decode(filter); err != nil {
					return fmt.Errorf("line %d: on.%s: %w", val.Line, key.Value, err)
				}
			}
			t.set(kind, filter)
		}
		return nil
	}
	return fmt.Errorf("line %d: on: expected a list or mapping", value.Line)
}

// MarshalYAML encodes the block as a mapping of enabled kinds.
func (t Triggers) MarshalYAML() (interface{}, error) {
	out := map[string]*EventFilter{}
	for _, kind := range t.Kinds() {
		out[string(kind)] = t.filterFor(kind)
	}
	return out, nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if globMatch(p, name) {
			return true
		}
	}
	return false
}
