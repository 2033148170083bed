package wizard

import (
	"fmt"

	"github.com/perchbot/perch/internal/config"
)

// Completion is the terminal output of a flow: the config patch it produced
// and the note to record with it.
type Completion struct {
	Patch config.Document
	Note  string
}

// Driver advances one flow instance. It owns the flow state and the current
// step; Advance is its only mutating operation, and a failed Advance leaves
// the driver unchanged so the client can correct its answer and retry.
type Driver struct {
	flow    Flow
	state   *FlowState
	current *Step
}

// NewDriver binds a driver to a flow. The first Advance(nil) yields the
// opening step.
func NewDriver(flow Flow, workspace string) *Driver {
	return &Driver{
		flow:  flow,
		state: &FlowState{Workspace: workspace, Values: map[string]any{}},
	}
}

// Current returns the step awaiting an answer, nil before the first Advance.
func (d *Driver) Current() *Step { return d.current }

// Advance records the answer for the current step and moves to the next one.
// It returns the next step, or a Completion when the flow is finished.
// Answer shaping errors and mismatched step ids do not consume the step.
func (d *Driver) Advance(answer *Answer) (*Step, *Completion, error) {
	lastStepID := ""
	if d.current != nil {
		if answer != nil && answer.StepID != "" && answer.StepID != d.current.ID {
			return nil, nil, fmt.Errorf("answer targets step %q but %q is current", answer.StepID, d.current.ID)
		}
		var raw any
		if answer != nil {
			raw = answer.Value
		}
		shaped, err := ShapeAnswer(d.current, raw)
		if err != nil {
			return nil, nil, err
		}
		d.state.Values[d.current.ID] = shaped
		lastStepID = d.current.ID
	}

	next, err := d.flow.NextStep(d.state, lastStepID)
	if err != nil {
		return nil, nil, err
	}
	if next == nil {
		patch, note, err := d.flow.Finish(d.state)
		if err != nil {
			return nil, nil, err
		}
		d.current = nil
		return nil, &Completion{Patch: patch, Note: note}, nil
	}

	d.current = next
	return next, nil, nil
}
