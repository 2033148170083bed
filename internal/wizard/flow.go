package wizard

import (
	"fmt"

	"github.com/perchbot/perch/internal/config"
)

// FlowState accumulates shaped answers keyed by step id. Each transition is a
// pure function of (state, answer); nothing outside the state influences the
// step sequence, which is what makes sessions resumable.
type FlowState struct {
	Workspace string
	Values    map[string]any
}

// String returns the shaped string answer for a step id.
func (s *FlowState) String(stepID string) string {
	value, _ := s.Values[stepID].(string)
	return value
}

// Bool returns the shaped boolean answer for a step id.
func (s *FlowState) Bool(stepID string) bool {
	value, _ := s.Values[stepID].(bool)
	return value
}

// Strings returns the shaped multiselect answer for a step id.
func (s *FlowState) Strings(stepID string) []string {
	value, _ := s.Values[stepID].([]string)
	return value
}

// Flow is a step program. NextStep returns the step following lastStepID
// (empty for the first step) given the answers collected so far, or nil when
// the flow is complete; Finish turns the collected answers into the config
// patch the flow exists to produce.
type Flow interface {
	Name() string

	// Fresh flows never resume prior multi-step state: starting one discards
	// any running session instead of resuming it.
	Fresh() bool

	NextStep(state *FlowState, lastStepID string) (*Step, error)

	Finish(state *FlowState) (patch config.Document, note string, err error)
}

// NewFlow builds a registered flow by name. An empty name selects the guided
// quickstart flow.
func NewFlow(name string) (Flow, error) {
	switch name {
	case "", FlowQuickstart:
		return &quickstartFlow{}, nil
	case FlowChannel:
		return &channelFlow{}, nil
	default:
		return nil, fmt.Errorf("unknown wizard flow %q", name)
	}
}
