package timeline

import (
	"fmt"

	"jordanella.com/macropilot/internal/detect"
)

// ActionType identifies what an action does when the engine reaches it
type ActionType string

const (
	ActionWait            ActionType = "wait"
	ActionMouseClick      ActionType = "mouse_click"
	ActionKeySequence     ActionType = "key_sequence"
	ActionDetect          ActionType = "detect"
	ActionConditionalJump ActionType = "conditional_jump"
	ActionLabel           ActionType = "label"
	ActionLoopUntil       ActionType = "loop_until"
)

// KnownTypes lists every action type the engine dispatches on
func KnownTypes() []ActionType {
	return []ActionType{
		ActionWait,
		ActionMouseClick,
		ActionKeySequence,
		ActionDetect,
		ActionConditionalJump,
		ActionLabel,
		ActionLoopUntil,
	}
}

// Known reports whether t is a recognized action type.
// The engine treats unknown types as warn-and-skip, not as errors.
func Known(t ActionType) bool {
	switch t {
	case ActionWait, ActionMouseClick, ActionKeySequence, ActionDetect,
		ActionConditionalJump, ActionLabel, ActionLoopUntil:
		return true
	}
	return false
}

// Action is one timeline step. Params carries per-type arguments as loosely
// typed values straight from JSON or YAML; the engine validates and converts
// them before a run starts.
type Action struct {
	ID            string                 `json:"id" yaml:"id"`
	Type          ActionType             `json:"type" yaml:"type"`
	Target        string                 `json:"target" yaml:"target,omitempty"`
	Params        map[string]interface{} `json:"params" yaml:"params,omitempty"`
	DelayBeforeMs int                    `json:"delay_before_ms" yaml:"delay_before_ms,omitempty"`
	DelayAfterMs  int                    `json:"delay_after_ms" yaml:"delay_after_ms,omitempty"`
	RepeatCount   int                    `json:"repeat_count" yaml:"repeat_count,omitempty"`

	// Result holds the outcome of the most recent execution of a detect
	// action. The engine overwrites it on every execution; it is runtime
	// state and never persisted.
	Result *detect.Result `json:"-" yaml:"-"`
}

// Normalize clamps fields to their documented ranges: repeat_count is at
// least 1 and delays are non-negative.
func (a *Action) Normalize() {
	if a.RepeatCount < 1 {
		a.RepeatCount = 1
	}
	if a.DelayBeforeMs < 0 {
		a.DelayBeforeMs = 0
	}
	if a.DelayAfterMs < 0 {
		a.DelayAfterMs = 0
	}
}

// Timeline is an ordered list of actions; indices are execution addresses
type Timeline []*Action

// Normalize applies Action.Normalize to every action
func (tl Timeline) Normalize() {
	for _, a := range tl {
		a.Normalize()
	}
}

// BuildIndex maps jump-target names to timeline indices. Every non-empty
// action id maps to its index; a label action additionally maps its target
// (or its id when the target is empty) to the same index. Duplicates are
// resolved last-wins: a later entry silently overwrites an earlier one.
func (tl Timeline) BuildIndex() map[string]int {
	index := make(map[string]int)
	for i, a := range tl {
		if a.ID != "" {
			index[a.ID] = i
		}
		if a.Type == ActionLabel {
			name := a.Target
			if name == "" {
				name = a.ID
			}
			if name != "" {
				index[name] = i
			}
		}
	}
	return index
}

// Validate reports structural problems: missing types and unknown types.
// It does not inspect params; the engine's param parser owns that.
func (tl Timeline) Validate() []error {
	var errs []error
	for i, a := range tl {
		if a.Type == "" {
			errs = append(errs, fmt.Errorf("action %d (%s): missing type", i, a.ID))
			continue
		}
		if !Known(a.Type) {
			errs = append(errs, fmt.Errorf("action %d (%s): unknown type %q", i, a.ID, a.Type))
		}
	}
	return errs
}

// UnresolvedTargets returns the jump targets referenced by conditional_jump
// and loop_until actions that do not resolve in the timeline's index map.
// Unresolved targets are not errors at run time (the engine logs and falls
// through), but a linter wants to surface them before a run.
func (tl Timeline) UnresolvedTargets() []string {
	index := tl.BuildIndex()
	seen := make(map[string]bool)
	var missing []string

	note := func(name string) {
		if name == "" || seen[name] {
			return
		}
		if _, ok := index[name]; !ok {
			seen[name] = true
			missing = append(missing, name)
		}
	}

	for _, a := range tl {
		switch a.Type {
		case ActionConditionalJump:
			note(stringParam(a.Params, "true_target"))
			note(stringParam(a.Params, "false_target"))
		case ActionLoopUntil:
			note(stringParam(a.Params, "label"))
		}
	}
	return missing
}

func stringParam(params map[string]interface{}, key string) string {
	if params == nil {
		return ""
	}
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}
