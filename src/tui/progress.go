package tui

import (
	"relayci/src/contracts"
)

// StepProgress is the last known state of one step.
type StepProgress struct {
	Index  int
	Name   string
	Status contracts.RunState
}

// StageProgress is the last known state of one stage and its steps.
type StageProgress struct {
	Name     string
	Status   contracts.RunState
	Reason   string
	Artifact string
	Steps    []StepProgress
}

// Progress folds run events into per-stage state for rendering.
type Progress struct {
	RunID   string
	Event   string
	Status  contracts.RunState
	Message string
	Stages  []StageProgress
}

// NewProgress starts every stage as pending, in execution order.
func NewProgress(runID string, stages []string) Progress {
	p := Progress{RunID: runID, Status: contracts.StatePending}
	for _, name := range stages {
		p.Stages = append(p.Stages, StageProgress{Name: name, Status: contracts.StatePending})
	}
	return p
}

// Apply updates the state from one event. Events of other runs are ignored.
func (p *Progress) Apply(ev contracts.RunEvent) {
	if p.RunID != "" && ev.RunID != p.RunID {
		return
	}

	switch ev.Type {
	case contracts.EventRunStarted:
		p.Status = contracts.StateRunning
		p.Event = ev.Message
	case contracts.EventRunFinished:
		p.Status = ev.Status
		p.Message = ev.Message
	case contracts.EventStageStarted:
		p.stage(ev.Stage).Status = contracts.StateRunning
	case contracts.EventStageSkipped:
		s := p.stage(ev.Stage)
		s.Status = contracts.StateSkipped
		s.Reason = ev.Message
	case contracts.EventStageFinished:
		s := p.stage(ev.Stage)
		s.Status = ev.Status
		if ev.Status == contracts.StateFailed {
			s.Reason = ev.Message
		}
	case contracts.EventArtifactStored:
		p.stage(ev.Stage).Artifact = ev.Message
	case contracts.EventStepStarted, contracts.EventStepFinished:
		p.stage(ev.Stage).setStep(ev.StepIndex, ev.Step, ev.Status)
	}
}

// Done reports whether the run reached a terminal state.
func (p Progress) Done() bool {
	return p.Status.Terminal()
}

func (p *Progress) stage(name string) *StageProgress {
	for i := range p.Stages {
		if p.Stages[i].Name == name {
			return &p.Stages[i]
		}
	}
	p.Stages = append(p.Stages, StageProgress{Name: name, Status: contracts.StatePending})
	return &p.Stages[len(p.Stages)-1]
}

func (s *StageProgress) setStep(index int, name string, status contracts.RunState) {
	for i := range s.Steps {
		if s.Steps[i].Index == index {
			s.Steps[i].Status = status
			if name != "" {
				s.Steps[i].Name = name
			}
			return
		}
	}
	s.Steps = append(s.Steps, StepProgress{Index: index, Name: name, Status: status})
}
