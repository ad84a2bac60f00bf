// Package workflow defines the declarative pipeline: triggers, stages and
// steps, decoded from YAML and validated before anything runs.
package workflow

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dominikbraun/graph"
	"gopkg.in/yaml.v3"

	"relayci/src/contracts"
)

// Workflow is a complete pipeline definition.
type Workflow struct {
	Name   string   `yaml:"name"`
	On     Triggers `yaml:"on"`
	Stages []Stage  `yaml:"stages"`
}

// Stage is an ordered group of steps sharing a pass/fail outcome.
type Stage struct {
	Name  string    `yaml:"name"`
	Needs []string  `yaml:"needs,omitempty"`
	If    Condition `yaml:"if,omitempty"`
	Steps []Step    `yaml:"steps"`

	// Outputs are paths, relative to the stage working directory, that make up the stage result.
	Outputs []string `yaml:"outputs,omitempty"`
	// Artifact names the relayed artifact built from Outputs.
	Artifact string `yaml:"artifact,omitempty"`
	// Consumes names an artifact produced by a stage in Needs; it is extracted into a fresh workdir.
	Consumes string `yaml:"consumes,omitempty"`
	// Credentials names the credential provider acquired right before this stage runs.
	Credentials string `yaml:"credentials,omitempty"`

	Env map[string]string `yaml:"env,omitempty"`
}

// Step is a single command.
type Step struct {
	Name    string            `yaml:"name"`
	Run     string            `yaml:"run"`
	If      Condition         `yaml:"if,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	// JUnit is a report path inspected when the step fails.
	JUnit string `yaml:"junit,omitempty"`
}

// DisplayName returns the step name, falling back to the first line of its command.
func (s Step) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	line, _, _ := strings.Cut(strings.TrimSpace(s.Run), "\n")
	return line
}

// Duration is a time.Duration decoded from strings like "10m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("line %d: duration must be a string: %w", value.Line, err)
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	if parsed < 0 {
		return fmt.Errorf("line %d: duration must not be negative", value.Line)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	if d == 0 {
		return nil, nil
	}
	return time.Duration(d).String(), nil
}

//go:embed default.yaml
var defaultWorkflow []byte

// Default returns the built-in release workflow: build, test and package on
// every trigger, publish to PyPI on tag refs only.
func Default() *Workflow {
	wf, err := Parse(defaultWorkflow)
	if err != nil {
		panic(fmt.Sprintf("workflow: built-in definition is invalid: %v", err))
	}
	return wf
}

// Parse decodes and validates a workflow definition.
func Parse(data []byte) (*Workflow, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &contracts.ConfigurationError{Reason: "workflow definition is empty"}
	}
	var wf Workflow
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&wf); err != nil {
		var cfgErr *contracts.ConfigurationError
		if errors.As(err, &cfgErr) {
			return nil, cfgErr
		}
		return nil, &contracts.ConfigurationError{Reason: fmt.Sprintf("decode workflow: %v", err)}
	}
	if err := wf.Validate(); err != nil {
		return nil, err
	}
	return &wf, nil
}

// LoadFile reads and parses a workflow file.
func LoadFile(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("workflow: read %s: %w", path, err)
	}
	wf, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("workflow: %s: %w", filepath.Clean(path), err)
	}
	return wf, nil
}

// Load returns the workflow at path, or the built-in one when path is empty.
func Load(path string) (*Workflow, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// Stage returns the stage with the given name.
func (w *Workflow) Stage(name string) (Stage, bool) {
	for _, s := range w.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return Stage{}, false
}

// Validate checks the definition for structural errors.
func (w *Workflow) Validate() error {
	if len(w.On.Kinds()) == 0 {
		return configErr("on", "at least one trigger is required")
	}
	if len(w.Stages) == 0 {
		return configErr("stages", "at least one stage is required")
	}

	byName := make(map[string]Stage, len(w.Stages))
	producers := make(map[string]string)
	for i, s := range w.Stages {
		field := fmt.Sprintf("stages[%d]", i)
		if strings.TrimSpace(s.Name) == "" {
			return configErr(field+".name", "stage name is required")
		}
		if _, dup := byName[s.Name]; dup {
			return configErr(field+".name", fmt.Sprintf("duplicate stage %q", s.Name))
		}
		byName[s.Name] = s

		if len(s.Steps) == 0 {
			return configErr(field+".steps", fmt.Sprintf("stage %q has no steps", s.Name))
		}
		for j, step := range s.Steps {
			if strings.TrimSpace(step.Run) == "" {
				return configErr(fmt.Sprintf("%s.steps[%d].run", field, j), "run is required")
			}
		}

		if s.Artifact != "" {
			if len(s.Outputs) == 0 {
				return configErr(field+".outputs", fmt.Sprintf("stage %q declares artifact %q without outputs", s.Name, s.Artifact))
			}
			if prev, ok := producers[s.Artifact]; ok {
				return configErr(field+".artifact", fmt.Sprintf("artifact %q is already produced by stage %q", s.Artifact, prev))
			}
			producers[s.Artifact] = s.Name
		}
		for _, out := range s.Outputs {
			if filepath.IsAbs(out) || strings.HasPrefix(filepath.Clean(out), "..") {
				return configErr(field+".outputs", fmt.Sprintf("output %q must be relative to the stage workdir", out))
			}
		}
	}

	for i, s := range w.Stages {
		field := fmt.Sprintf("stages[%d]", i)
		for _, need := range s.Needs {
			if _, ok := byName[need]; !ok {
				return configErr(field+".needs", fmt.Sprintf("stage %q needs unknown stage %q", s.Name, need))
			}
		}
		if s.Consumes != "" {
			producer, ok := producers[s.Consumes]
			if !ok {
				return configErr(field+".consumes", fmt.Sprintf("no stage produces artifact %q", s.Consumes))
			}
			if !contains(s.Needs, producer) {
				return configErr(field+".consumes", fmt.Sprintf("stage %q consumes %q but does not need its producer %q", s.Name, s.Consumes, producer))
			}
		}
	}

	_, err := w.Order()
	return err
}

// Order returns the stages sorted so every stage follows the stages it needs.
// Ties keep declaration order.
func (w *Workflow) Order() ([]Stage, error) {
	g := graph.New(graph.StringHash, graph.Directed(), graph.PreventCycles())
	index := make(map[string]int, len(w.Stages))
	for i, s := range w.Stages {
		index[s.Name] = i
		if err := g.AddVertex(s.Name); err != nil {
			return nil, configErr("stages", fmt.Sprintf("add stage %q: %v", s.Name, err))
		}
	}
	for _, s := range w.Stages {
		for _, need := range s.Needs {
			if err := g.AddEdge(need, s.Name); err != nil {
				if errors.Is(err, graph.ErrEdgeCreatesCycle) {
					return nil, configErr("stages", fmt.Sprintf("dependency cycle through %q and %q", need, s.Name))
				}
				if errors.Is(err, graph.ErrEdgeAlreadyExists) {
					continue
				}
				return nil, configErr("stages", fmt.Sprintf("stage %q needs %q: %v", s.Name, need, err))
			}
		}
	}

	names, err := graph.StableTopologicalSort(g, func(a, b string) bool { return index[a] < index[b] })
	if err != nil {
		return nil, configErr("stages", fmt.Sprintf("order stages: %v", err))
	}

	ordered := make([]Stage, 0, len(names))
	for _, name := range names {
		ordered = append(ordered, w.Stages[index[name]])
	}
	return ordered, nil
}

func configErr(field, reason string) error {
	return &contracts.ConfigurationError{Field: field, Reason: reason}
}
