// Package wizard drives resumable, multi-step guided configuration flows.
// Sessions live only in server memory; every flow ends in a structured config
// patch submitted to the config patch gate.
package wizard

// StepType enumerates the step variants a client can render.
type StepType string

const (
	StepText        StepType = "text"
	StepPassword    StepType = "password"
	StepConfirm     StepType = "confirm"
	StepSelect      StepType = "select"
	StepMultiSelect StepType = "multiselect"
	StepNote        StepType = "note"
	StepAction      StepType = "action"
	StepProgress    StepType = "progress"
)

// Option is a selectable choice for select/multiselect steps.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Step is one unit of the guided flow. Sensitive marks answers destined for
// the secret store; the UI must not echo them.
type Step struct {
	ID           string   `json:"id"`
	Type         StepType `json:"type"`
	Title        string   `json:"title"`
	Message      string   `json:"message,omitempty"`
	Options      []Option `json:"options,omitempty"`
	Placeholder  string   `json:"placeholder,omitempty"`
	InitialValue any      `json:"initialValue,omitempty"`
	Sensitive    bool     `json:"sensitive,omitempty"`
}

// Status is the session lifecycle state. Running is the only non-terminal
// status; a session is purged from the table the moment it leaves it.
type Status string

const (
	StatusRunning   Status = "running"
	StatusDone      Status = "done"
	StatusCancelled Status = "cancelled"
	StatusError     Status = "error"
)

// Terminal reports whether s is a terminal status.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusCancelled || s == StatusError
}
