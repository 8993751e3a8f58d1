package engine

import (
	"fmt"
	"strings"

	"jordanella.com/macropilot/internal/detect"
	"jordanella.com/macropilot/internal/events"
	"jordanella.com/macropilot/internal/timeline"
)

// stepResult says what the worker does after a handler returns: advance to
// the next index, or jump to an explicit one
type stepResult struct {
	jump    bool
	toIndex int
}

func stepContinue() stepResult {
	return stepResult{}
}

func jumpTo(index int) stepResult {
	return stepResult{jump: true, toIndex: index}
}

// executeStep runs one compiled step: the before-delay once, the handler
// inside the repeat loop with a stop check per iteration, then the
// after-delay once. A jump returns immediately, skipping any remaining
// iterations and the after-delay. Handler panics are converted to errors so
// a misbehaving collaborator aborts the run instead of the process.
func (e *Engine) executeStep(st *step, index int, mr *macroRun) (res stepResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			res = stepContinue()
			err = fmt.Errorf("action panicked: %v", p)
		}
	}()

	if st.delayBefore > 0 {
		e.sleepMs(st.delayBefore)
	}

	for rep := 0; rep < st.repeat; rep++ {
		if e.ctrl.StopRequested() {
			break
		}
		r, derr := e.dispatch(st, index, mr)
		if derr != nil {
			return stepContinue(), derr
		}
		if r.jump {
			return r, nil
		}
	}

	if st.delayAfter > 0 {
		e.sleepMs(st.delayAfter)
	}
	return stepContinue(), nil
}

func (e *Engine) dispatch(st *step, index int, mr *macroRun) (stepResult, error) {
	switch p := st.params.(type) {
	case waitParams:
		e.execWait(p)
	case clickParams:
		if err := e.execClick(p); err != nil {
			return stepContinue(), err
		}
	case keyParams:
		if err := e.execKeys(p); err != nil {
			return stepContinue(), err
		}
	case detectParams:
		if err := e.execDetect(st.action, p, index, mr); err != nil {
			return stepContinue(), err
		}
	case jumpParams:
		return e.execJump(p, mr), nil
	case labelParams:
		e.log.DebugWithContext("Label", map[string]interface{}{
			"index": index,
			"name":  labelName(st.action),
		})
	case loopParams:
		return e.execLoop(p, index, mr), nil
	default:
		e.log.WarnWithContext("Unknown action type, skipping", map[string]interface{}{
			"index": index,
			"type":  string(st.action.Type),
		})
	}
	return stepContinue(), nil
}

func (e *Engine) execWait(p waitParams) {
	e.sleepMs(p.Ms)
}

func (e *Engine) execClick(p clickParams) error {
	if !e.simulation.Load() {
		if e.inj == nil {
			return fmt.Errorf("no input injector configured")
		}
		var err error
		if p.HasPoint {
			err = e.inj.ClickAt(p.X, p.Y, p.Button)
		} else {
			err = e.inj.Click(p.Button)
		}
		if err != nil {
			return err
		}
	}

	ctx := map[string]interface{}{
		"button":    p.Button,
		"simulated": e.simulation.Load(),
	}
	if p.HasPoint {
		ctx["x"] = p.X
		ctx["y"] = p.Y
	}
	e.log.InfoWithContext("Mouse click", ctx)
	return nil
}

func (e *Engine) execKeys(p keyParams) error {
	if !e.simulation.Load() {
		if e.inj == nil {
			return fmt.Errorf("no input injector configured")
		}
		var err error
		if p.TextMode {
			err = e.inj.TypeSequence(p.Sequence)
		} else {
			err = e.inj.PressChord(p.Sequence, p.HoldMs)
		}
		if err != nil {
			return err
		}
	}

	e.log.InfoWithContext("Key sequence", map[string]interface{}{
		"sequence":  p.Sequence,
		"text_mode": p.TextMode,
		"simulated": e.simulation.Load(),
	})
	return nil
}

// execDetect runs a fresh capture-and-match and records the result in three
// places: the run context for control flow, the action itself for later
// inspection, and the event bus for journalling. The result is overwritten
// on every execution, including repeat iterations.
func (e *Engine) execDetect(a *timeline.Action, p detectParams, index int, mr *macroRun) error {
	if e.det == nil {
		return fmt.Errorf("no detector configured")
	}

	req := detect.Request{
		Template:        a.Target,
		Method:          p.Method,
		Conf:            p.Conf,
		ROI:             p.ROI,
		MaxCandidates:   p.MaxCandidates,
		FeatureDetector: p.Detector,
	}
	res, err := e.det.Detect(req)
	if err != nil {
		return err
	}

	stored := res
	a.Result = &stored
	mr.ctx.LastDetect = &stored

	ctx := map[string]interface{}{
		"template": a.Target,
		"method":   string(res.Method),
		"found":    res.Found,
		"score":    res.Score,
	}
	if res.Box != nil {
		ctx["box"] = fmt.Sprintf("(%d,%d %dx%d)", res.Box.X, res.Box.Y, res.Box.W, res.Box.H)
	}
	e.log.InfoWithContext("Detect result", ctx)

	info := events.DetectionInfo{
		Index:      index,
		ActionID:   a.ID,
		Template:   a.Target,
		Method:     string(res.Method),
		Found:      res.Found,
		Score:      res.Score,
		ScreenHash: res.ScreenHash,
	}
	if res.Box != nil {
		info.HasBox = true
		info.BoxX = res.Box.X
		info.BoxY = res.Box.Y
		info.BoxW = res.Box.W
		info.BoxH = res.Box.H
	}
	e.publish(events.NewDetectionEvent(info))
	return nil
}

func (e *Engine) execJump(p jumpParams, mr *macroRun) stepResult {
	cond := evalTest(p.Test, mr.ctx)
	target := p.FalseTarget
	if cond {
		target = p.TrueTarget
	}

	if target != "" {
		if index, ok := mr.index[target]; ok {
			e.log.InfoWithContext("Conditional jump", map[string]interface{}{
				"cond":   cond,
				"target": target,
				"index":  index,
			})
			return jumpTo(index)
		}
	}
	e.log.InfoWithContext("Conditional jump target unresolved, falling through", map[string]interface{}{
		"cond":   cond,
		"target": target,
	})
	return stepContinue()
}

// execLoop jumps back to its label until the condition holds or the
// iteration limit trips. The counter lives in the run context keyed by this
// action's index, so it survives re-entry from elsewhere in the timeline.
func (e *Engine) execLoop(p loopParams, index int, mr *macroRun) stepResult {
	if evalTest(p.Test, mr.ctx) == p.Value {
		e.log.DebugWithContext("Loop condition satisfied, exiting", map[string]interface{}{
			"index": index,
			"test":  p.Test,
		})
		return stepContinue()
	}

	mr.ctx.LoopIterations[index]++
	count := mr.ctx.LoopIterations[index]
	if count > p.MaxIters {
		e.log.WarnWithContext("Loop iteration limit reached, exiting loop", map[string]interface{}{
			"index":      index,
			"iterations": count,
			"max_iters":  p.MaxIters,
		})
		return stepContinue()
	}

	if p.Label != "" {
		if target, ok := mr.index[p.Label]; ok {
			e.log.DebugWithContext("Loop re-entry", map[string]interface{}{
				"index":     index,
				"label":     p.Label,
				"iteration": count,
			})
			return jumpTo(target)
		}
	}
	e.log.WarnWithContext("Loop label unresolved, falling through", map[string]interface{}{
		"index": index,
		"label": p.Label,
	})
	return stepContinue()
}

// evalTest resolves a boolean test expression against the run context.
// Unrecognized expressions evaluate to false rather than erroring.
func evalTest(test string, ctx *RunContext) bool {
	switch {
	case test == "" || test == TestLastDetect:
		return ctx.LastDetect != nil && ctx.LastDetect.Found
	case strings.HasPrefix(test, varTestPrefix):
		return ctx.Vars[strings.TrimPrefix(test, varTestPrefix)]
	}
	return false
}

func labelName(a *timeline.Action) string {
	if a.Target != "" {
		return a.Target
	}
	return a.ID
}
