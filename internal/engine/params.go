package engine

import (
	"fmt"
	"strconv"
	"strings"

	"jordanella.com/macropilot/internal/detect"
	"jordanella.com/macropilot/internal/timeline"
)

// actionParams is the closed union of parsed per-type parameter records.
// Parsing happens once at start time so malformed parameters reject the run
// before anything executes instead of failing mid-run.
type actionParams interface {
	isActionParams()
}

type waitParams struct {
	Ms int
}

type clickParams struct {
	X, Y     int
	HasPoint bool
	Button   string
}

type keyParams struct {
	Sequence []string
	TextMode bool
	HoldMs   int
}

type detectParams struct {
	Method        detect.Method
	Conf          *float64
	ROI           *detect.Box
	MaxCandidates int
	Detector      string
}

type jumpParams struct {
	Test        string
	TrueTarget  string
	FalseTarget string
}

type labelParams struct{}

type loopParams struct {
	Test     string
	Value    bool
	Label    string
	MaxIters int
}

// unknownParams stands in for unrecognized action types, which execute as
// warn-and-skip rather than rejecting the run
type unknownParams struct{}

func (waitParams) isActionParams()    {}
func (clickParams) isActionParams()   {}
func (keyParams) isActionParams()     {}
func (detectParams) isActionParams()  {}
func (jumpParams) isActionParams()    {}
func (labelParams) isActionParams()   {}
func (loopParams) isActionParams()    {}
func (unknownParams) isActionParams() {}

// step is one compiled timeline entry: the original action plus its parsed
// parameters and clamped scheduling fields
type step struct {
	action      *timeline.Action
	params      actionParams
	delayBefore int
	delayAfter  int
	repeat      int
}

// program is a compiled timeline ready for the worker
type program struct {
	steps []*step
	index map[string]int
}

// compile parses every action's parameters and builds the jump index.
// Scheduling fields are clamped the same way persistence normalization
// clamps them, so hand-built timelines behave like loaded ones.
func compile(tl timeline.Timeline) (*program, error) {
	prog := &program{
		steps: make([]*step, 0, len(tl)),
		index: tl.BuildIndex(),
	}
	for i, a := range tl {
		params, err := parseParams(a)
		if err != nil {
			return nil, fmt.Errorf("action %d (%s): %w", i, a.ID, err)
		}
		st := &step{
			action:      a,
			params:      params,
			delayBefore: a.DelayBeforeMs,
			delayAfter:  a.DelayAfterMs,
			repeat:      a.RepeatCount,
		}
		if st.delayBefore < 0 {
			st.delayBefore = 0
		}
		if st.delayAfter < 0 {
			st.delayAfter = 0
		}
		if st.repeat < 1 {
			st.repeat = 1
		}
		prog.steps = append(prog.steps, st)
	}
	return prog, nil
}

// ValidateTimeline reports every parameter problem in the timeline without
// running it, one error per offending action. Linters call this alongside
// the timeline's own structural validation.
func ValidateTimeline(tl timeline.Timeline) []error {
	var errs []error
	for i, a := range tl {
		if _, err := parseParams(a); err != nil {
			errs = append(errs, fmt.Errorf("action %d (%s): %w", i, a.ID, err))
		}
	}
	return errs
}

func parseParams(a *timeline.Action) (actionParams, error) {
	switch a.Type {
	case timeline.ActionWait:
		return parseWaitParams(a.Params)
	case timeline.ActionMouseClick:
		return parseClickParams(a.Params)
	case timeline.ActionKeySequence:
		return parseKeyParams(a.Params)
	case timeline.ActionDetect:
		return parseDetectParams(a.Params)
	case timeline.ActionConditionalJump:
		return parseJumpParams(a.Params)
	case timeline.ActionLabel:
		return labelParams{}, nil
	case timeline.ActionLoopUntil:
		return parseLoopParams(a.Params)
	default:
		return unknownParams{}, nil
	}
}

func parseWaitParams(params map[string]interface{}) (waitParams, error) {
	ms, err := intParam(params, "ms", 0)
	if err != nil {
		return waitParams{}, err
	}
	if ms < 0 {
		return waitParams{}, fmt.Errorf("param 'ms' must be non-negative, got %d", ms)
	}
	return waitParams{Ms: ms}, nil
}

func parseClickParams(params map[string]interface{}) (clickParams, error) {
	x, hasX, err := optionalIntParam(params, "x")
	if err != nil {
		return clickParams{}, err
	}
	y, hasY, err := optionalIntParam(params, "y")
	if err != nil {
		return clickParams{}, err
	}
	button, err := stringParam(params, "button", "left")
	if err != nil {
		return clickParams{}, err
	}
	// A point is only used when both coordinates are present; otherwise the
	// click lands at the current cursor position.
	return clickParams{X: x, Y: y, HasPoint: hasX && hasY, Button: button}, nil
}

func parseKeyParams(params map[string]interface{}) (keyParams, error) {
	seq, err := stringListParam(params, "sequence")
	if err != nil {
		return keyParams{}, err
	}
	textMode, err := boolParam(params, "text_mode", true)
	if err != nil {
		return keyParams{}, err
	}
	holdMs, err := intParam(params, "hold_ms", 50)
	if err != nil {
		return keyParams{}, err
	}
	if holdMs < 0 {
		return keyParams{}, fmt.Errorf("param 'hold_ms' must be non-negative, got %d", holdMs)
	}
	return keyParams{Sequence: seq, TextMode: textMode, HoldMs: holdMs}, nil
}

func parseDetectParams(params map[string]interface{}) (detectParams, error) {
	p := detectParams{Method: detect.MethodTemplate}

	method, err := stringParam(params, "method", "")
	if err != nil {
		return p, err
	}
	switch strings.ToLower(method) {
	case "", string(detect.MethodTemplate):
		p.Method = detect.MethodTemplate
	case string(detect.MethodFeature):
		p.Method = detect.MethodFeature
	default:
		return p, fmt.Errorf("param 'method' must be 'template' or 'feature', got '%s'", method)
	}

	p.Conf, err = optionalFloatParam(params, "conf")
	if err != nil {
		return p, err
	}

	p.ROI, err = roiParam(params, "roi")
	if err != nil {
		return p, err
	}

	p.MaxCandidates, err = intParam(params, "max_candidates", 0)
	if err != nil {
		return p, err
	}
	if p.MaxCandidates < 0 {
		return p, fmt.Errorf("param 'max_candidates' must be non-negative, got %d", p.MaxCandidates)
	}

	backend, err := stringParam(params, "detector", "")
	if err != nil {
		return p, err
	}
	switch strings.ToUpper(backend) {
	case "":
	case detect.DetectorORB:
		p.Detector = detect.DetectorORB
	case detect.DetectorAKAZE:
		p.Detector = detect.DetectorAKAZE
	default:
		return p, fmt.Errorf("param 'detector' must be 'ORB' or 'AKAZE', got '%s'", backend)
	}
	return p, nil
}

func parseJumpParams(params map[string]interface{}) (jumpParams, error) {
	test, err := stringParam(params, "test", TestLastDetect)
	if err != nil {
		return jumpParams{}, err
	}
	trueTarget, err := stringParam(params, "true_target", "")
	if err != nil {
		return jumpParams{}, err
	}
	falseTarget, err := stringParam(params, "false_target", "")
	if err != nil {
		return jumpParams{}, err
	}
	return jumpParams{Test: test, TrueTarget: trueTarget, FalseTarget: falseTarget}, nil
}

func parseLoopParams(params map[string]interface{}) (loopParams, error) {
	p := loopParams{Test: TestLastDetect, Value: true, MaxIters: 100}

	until, ok, err := mapParam(params, "until")
	if err != nil {
		return p, err
	}
	if ok {
		p.Test, err = stringParam(until, "test", TestLastDetect)
		if err != nil {
			return p, fmt.Errorf("param 'until': %w", err)
		}
		p.Value, err = boolParam(until, "value", true)
		if err != nil {
			return p, fmt.Errorf("param 'until': %w", err)
		}
	}

	p.Label, err = stringParam(params, "label", "")
	if err != nil {
		return p, err
	}
	p.MaxIters, err = intParam(params, "max_iters", 100)
	if err != nil {
		return p, err
	}
	if p.MaxIters < 1 {
		return p, fmt.Errorf("param 'max_iters' must be positive, got %d", p.MaxIters)
	}
	return p, nil
}

// Coercion helpers. JSON decodes numbers as float64 and YAML as int, so
// every numeric param accepts both, plus numeric strings for hand-edited
// files.

func coerceInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return i, true
		}
	}
	return 0, false
}

func coerceFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func intParam(params map[string]interface{}, key string, def int) (int, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	n, ok := coerceInt(v)
	if !ok {
		return 0, fmt.Errorf("param '%s' must be an integer, got %T", key, v)
	}
	return n, nil
}

func optionalIntParam(params map[string]interface{}, key string) (int, bool, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return 0, false, nil
	}
	n, ok := coerceInt(v)
	if !ok {
		return 0, false, fmt.Errorf("param '%s' must be an integer, got %T", key, v)
	}
	return n, true, nil
}

func optionalFloatParam(params map[string]interface{}, key string) (*float64, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return nil, nil
	}
	f, ok := coerceFloat(v)
	if !ok {
		return nil, fmt.Errorf("param '%s' must be a number, got %T", key, v)
	}
	return &f, nil
}

func boolParam(params map[string]interface{}, key string, def bool) (bool, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("param '%s' must be a boolean, got %T", key, v)
	}
	return b, nil
}

func stringParam(params map[string]interface{}, key, def string) (string, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("param '%s' must be a string, got %T", key, v)
	}
	return s, nil
}

func stringListParam(params map[string]interface{}, key string) ([]string, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return nil, nil
	}
	raw, ok := v.([]interface{})
	if !ok {
		if direct, ok := v.([]string); ok {
			return direct, nil
		}
		return nil, fmt.Errorf("param '%s' must be a list, got %T", key, v)
	}
	items := make([]string, len(raw))
	for i, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("param '%s' item %d must be a string, got %T", key, i, item)
		}
		items[i] = s
	}
	return items, nil
}

func mapParam(params map[string]interface{}, key string) (map[string]interface{}, bool, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return nil, false, nil
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, false, fmt.Errorf("param '%s' must be a map, got %T", key, v)
	}
	return m, true, nil
}

func roiParam(params map[string]interface{}, key string) (*detect.Box, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return nil, nil
	}
	raw, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("param '%s' must be a list of four integers, got %T", key, v)
	}
	if len(raw) != 4 {
		return nil, fmt.Errorf("param '%s' must have exactly four entries (x, y, w, h), got %d", key, len(raw))
	}
	vals := make([]int, 4)
	for i, item := range raw {
		n, ok := coerceInt(item)
		if !ok {
			return nil, fmt.Errorf("param '%s' entry %d must be an integer, got %T", key, i, item)
		}
		vals[i] = n
	}
	return &detect.Box{X: vals[0], Y: vals[1], W: vals[2], H: vals[3]}, nil
}
