package wizard

import (
	"fmt"
	"sort"
	"strings"
)

// Answer carries a client's response to a step.
type Answer struct {
	StepID string `json:"stepId,omitempty"`
	Value  any    `json:"value,omitempty"`
}

// ShapeAnswer normalizes a raw answer value against the step that asked for
// it. The server trusts the shaped value directly, so clients that pre-shape
// locally must apply these exact rules:
//
//   - text/password: the raw string.
//   - confirm: a boolean; an omitted value defaults to the step's declared
//     initial value.
//   - select: exactly the chosen option's value (by value or by index); no
//     default.
//   - multiselect: the subset of option values selected by index, sorted by
//     index rather than input order.
//   - note/action/progress: any truthy acknowledgment advances the flow; a
//     falsy value is rejected and the step stays current.
func ShapeAnswer(step *Step, raw any) (any, error) {
	switch step.Type {
	case StepText, StepPassword:
		if raw == nil {
			return "", nil
		}
		value, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("step %s expects a string answer, got %T", step.ID, raw)
		}
		return value, nil

	case StepConfirm:
		if raw == nil {
			initial, _ := step.InitialValue.(bool)
			return initial, nil
		}
		value, ok := asBool(raw)
		if !ok {
			return nil, fmt.Errorf("step %s expects a boolean answer, got %T", step.ID, raw)
		}
		return value, nil

	case StepSelect:
		if raw == nil {
			return nil, fmt.Errorf("step %s requires a selection", step.ID)
		}
		if index, ok := asIndex(raw); ok {
			if index < 0 || index >= len(step.Options) {
				return nil, fmt.Errorf("step %s: option index %d out of range", step.ID, index)
			}
			return step.Options[index].Value, nil
		}
		if value, ok := raw.(string); ok {
			for _, option := range step.Options {
				if option.Value == value {
					return option.Value, nil
				}
			}
			return nil, fmt.Errorf("step %s: %q is not an option", step.ID, value)
		}
		return nil, fmt.Errorf("step %s expects an option value or index, got %T", step.ID, raw)

	case StepMultiSelect:
		indices, err := asIndexList(raw)
		if err != nil {
			return nil, fmt.Errorf("step %s: %w", step.ID, err)
		}
		sort.Ints(indices)
		values := make([]string, 0, len(indices))
		seen := map[int]bool{}
		for _, index := range indices {
			if index < 0 || index >= len(step.Options) {
				return nil, fmt.Errorf("step %s: option index %d out of range", step.ID, index)
			}
			if seen[index] {
				continue
			}
			seen[index] = true
			values = append(values, step.Options[index].Value)
		}
		return values, nil

	case StepNote, StepAction, StepProgress:
		if !truthy(raw) {
			return nil, fmt.Errorf("step %s requires an acknowledgment", step.ID)
		}
		return true, nil

	default:
		return nil, fmt.Errorf("step %s has unknown type %q", step.ID, step.Type)
	}
}

func asBool(raw any) (bool, bool) {
	switch typed := raw.(type) {
	case bool:
		return typed, true
	case string:
		switch strings.ToLower(strings.TrimSpace(typed)) {
		case "true", "yes", "y", "1":
			return true, true
		case "false", "no", "n", "0", "":
			return false, true
		}
	}
	return false, false
}

// asIndex accepts the numeric types a JSON or YAML decode can produce.
func asIndex(raw any) (int, bool) {
	switch typed := raw.(type) {
	case int:
		return typed, true
	case int64:
		return int(typed), true
	case float64:
		if typed == float64(int(typed)) {
			return int(typed), true
		}
	}
	return 0, false
}

func asIndexList(raw any) ([]int, error) {
	if raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		if indices, ok := raw.([]int); ok {
			return append([]int(nil), indices...), nil
		}
		return nil, fmt.Errorf("expects a list of option indices, got %T", raw)
	}
	indices := make([]int, 0, len(list))
	for _, item := range list {
		index, ok := asIndex(item)
		if !ok {
			return nil, fmt.Errorf("expects numeric option indices, got %T", item)
		}
		indices = append(indices, index)
	}
	return indices, nil
}

func truthy(raw any) bool {
	switch typed := raw.(type) {
	case nil:
		return true
	case bool:
		return typed
	case string:
		return typed != "" && typed != "false" && typed != "0"
	case float64:
		return typed != 0
	case int:
		return typed != 0
	default:
		return true
	}
}
