// Package engine interprets macro timelines: it executes actions on a
// dedicated worker goroutine, resolves jump and loop control flow through
// detection results, and exposes cooperative pause/resume/stop control that
// never blocks the caller.
package engine

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"jordanella.com/macropilot/internal/detect"
	"jordanella.com/macropilot/internal/events"
	"jordanella.com/macropilot/internal/logging"
	"jordanella.com/macropilot/internal/timeline"
)

// Status strings delivered to subscribers at state transitions
const (
	StatusRunning       = "Running"
	StatusPaused        = "Paused"
	StatusResumed       = "Resumed"
	StatusStopped       = "Stopped"
	StatusEmergencyStop = "EMERGENCY STOP"
	StatusIdle          = "Idle"
)

// Terminal run outcomes carried on run-finished events
const (
	outcomeCompleted = "completed"
	outcomeStopped   = "stopped"
	outcomeEmergency = "emergency_stopped"
	outcomeFailed    = "failed"
)

// Injector sends real input to the OS. Satisfied by input.Robot.
type Injector interface {
	Click(button string) error
	ClickAt(x, y int, button string) error
	TypeSequence(items []string) error
	PressChord(keys []string, holdMs int) error
}

// Detector runs one capture-and-match. Satisfied by detect.Service.
type Detector interface {
	Detect(req detect.Request) (detect.Result, error)
}

// StatusCallback receives human-readable engine status strings. Callbacks
// run on whichever goroutine emits the status, including the worker, so
// they must be cheap and must not call back into the engine synchronously.
type StatusCallback func(status string)

// macroRun bundles the state owned by one worker for the run's duration
type macroRun struct {
	name     string
	steps    []*step
	index    map[string]int
	ctx      *RunContext
	executed int
}

// Engine executes one macro at a time. Control methods are safe to call
// from any goroutine and never block; they communicate with the worker
// through level-triggered flags polled at checkpoints.
type Engine struct {
	log  *logging.Logger
	bus  events.EventBus
	inj  Injector
	det  Detector
	ctrl *RunController

	// simulation suppresses input injection but never detection
	simulation atomic.Bool

	statusMu   sync.RWMutex
	statusSubs []StatusCallback

	mu   sync.Mutex
	done chan struct{}
}

// New returns an engine with simulation mode enabled, so nothing reaches
// the OS until a caller explicitly turns injection on
func New() *Engine {
	e := &Engine{
		log:  logging.GetLogger("engine"),
		ctrl: NewRunController(),
	}
	e.simulation.Store(true)
	return e
}

// WithBus attaches an event bus for run, action, and detection events
func (e *Engine) WithBus(bus events.EventBus) *Engine {
	e.bus = bus
	return e
}

// WithInjector attaches the input backend used when simulation is off
func (e *Engine) WithInjector(inj Injector) *Engine {
	e.inj = inj
	return e
}

// WithDetector attaches the detection facade used by detect actions
func (e *Engine) WithDetector(det Detector) *Engine {
	e.det = det
	return e
}

// WithPollInterval overrides the worker's poll granularity for pause checks
// and sleep slicing. Non-positive durations keep the default.
func (e *Engine) WithPollInterval(d time.Duration) *Engine {
	e.ctrl.SetPollInterval(d)
	return e
}

// Logger exposes the engine's logger for output configuration
func (e *Engine) Logger() *logging.Logger {
	return e.log
}

// SetSimulationMode toggles input suppression. May be called mid-run;
// detection keeps executing against the real screen either way.
func (e *Engine) SetSimulationMode(enabled bool) {
	e.simulation.Store(enabled)
	e.log.InfoWithContext("Simulation mode changed", map[string]interface{}{
		"enabled": enabled,
	})
}

// SimulationMode reports whether input injection is suppressed
func (e *Engine) SimulationMode() bool {
	return e.simulation.Load()
}

// SubscribeStatus registers a callback for status strings
func (e *Engine) SubscribeStatus(cb StatusCallback) {
	if cb == nil {
		return
	}
	e.statusMu.Lock()
	e.statusSubs = append(e.statusSubs, cb)
	e.statusMu.Unlock()
}

// State reports the current engine state
func (e *Engine) State() RunState {
	return e.ctrl.State()
}

// Start launches the timeline on a new worker goroutine and returns
// immediately. Starting while a run is active is a warn-level no-op. All
// action parameters are parsed up front; a malformed parameter rejects the
// whole run before anything executes.
//
// The timeline slice is snapshotted so later caller-side edits do not
// affect the active run, but the actions themselves are shared: detect
// actions get their Result field overwritten in place.
func (e *Engine) Start(name string, tl timeline.Timeline) error {
	if !e.ctrl.BeginRun() {
		e.log.WarnWithContext("Engine already running, ignoring start", map[string]interface{}{
			"macro": name,
		})
		return nil
	}

	snapshot := make(timeline.Timeline, len(tl))
	copy(snapshot, tl)

	prog, err := compile(snapshot)
	if err != nil {
		e.ctrl.SetIdle()
		e.log.ErrorWithContext("Start rejected, invalid action parameters", err, map[string]interface{}{
			"macro": name,
		})
		return fmt.Errorf("start %s: %w", name, err)
	}

	e.ctrl.Reset()
	mr := &macroRun{
		name:  name,
		steps: prog.steps,
		index: prog.index,
		ctx:   NewRunContext(),
	}

	done := make(chan struct{})
	e.mu.Lock()
	e.done = done
	e.mu.Unlock()

	go e.run(mr, done)
	return nil
}

// Pause sets the pause flag; the worker honors it within the poll interval
func (e *Engine) Pause() {
	e.ctrl.Pause()
	e.emitStatus(StatusPaused)
}

// Resume clears the pause flag
func (e *Engine) Resume() {
	e.ctrl.Resume()
	e.emitStatus(StatusResumed)
}

// Stop requests a cooperative stop: the in-flight iteration finishes, then
// the worker halts before the next index
func (e *Engine) Stop() {
	e.ctrl.RequestStop()
	e.emitStatus(StatusStopped)
}

// EmergencyStop requests a stop with abort semantics. It shares the
// cooperative checkpoints with Stop, so it takes effect at the next
// iteration or index boundary rather than mid-action.
func (e *Engine) EmergencyStop() {
	e.ctrl.RequestEmergencyStop()
	e.log.Warn("Emergency stop requested")
	e.emitStatus(StatusEmergencyStop)
}

// Wait blocks until the active run finishes. Returns immediately when idle.
func (e *Engine) Wait() {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	if done != nil {
		<-done
	}
}

// run is the worker loop. The stop flag is checked before each index; the
// pause flag holds the loop in place without advancing. A handler error
// aborts the run, logged with the failing index. Every exit path releases
// the run slot and emits Idle.
func (e *Engine) run(mr *macroRun, done chan struct{}) {
	defer close(done)
	started := time.Now()

	e.emitStatus(StatusRunning)
	e.publish(events.NewRunStartedEvent(mr.name, len(mr.steps), e.simulation.Load()))
	e.log.InfoWithContext("Run started", map[string]interface{}{
		"macro":   mr.name,
		"actions": len(mr.steps),
	})

	var runErr error
	i := 0
	for i < len(mr.steps) {
		if e.ctrl.StopRequested() {
			break
		}
		e.ctrl.WaitWhilePaused()

		st := mr.steps[i]
		res, err := e.executeStep(st, i, mr)
		if err != nil {
			e.log.ErrorWithContext("Action failed, aborting run", err, map[string]interface{}{
				"index":     i,
				"action_id": st.action.ID,
				"type":      string(st.action.Type),
			})
			runErr = fmt.Errorf("action %d: %w", i, err)
			e.publish(events.NewErrorEvent("engine", "engine", runErr, map[string]interface{}{
				"macro":     mr.name,
				"index":     i,
				"action_id": st.action.ID,
			}))
			break
		}

		mr.executed++
		e.publish(events.NewActionExecutedEvent(i, st.action.ID, string(st.action.Type)))

		if res.jump {
			i = res.toIndex
		} else {
			i++
		}
	}

	outcome := outcomeCompleted
	switch e.ctrl.Cause() {
	case StopRequested:
		outcome = outcomeStopped
	case StopEmergency:
		outcome = outcomeEmergency
	}
	if runErr != nil {
		outcome = outcomeFailed
	}

	elapsed := time.Since(started)
	e.publish(events.NewRunFinishedEvent(mr.name, outcome, mr.executed, elapsed, runErr))
	e.log.InfoWithContext("Run finished", map[string]interface{}{
		"macro":    mr.name,
		"outcome":  outcome,
		"executed": mr.executed,
		"elapsed":  elapsed.Round(time.Millisecond).String(),
	})

	e.ctrl.SetIdle()
	e.emitStatus(StatusIdle)
}

// sleepMs sleeps in poll-interval slices so a pause can hold the remaining
// time without consuming it. Stop does not cut a sleep short; it is
// observed at the next checkpoint once the sleep completes.
func (e *Engine) sleepMs(ms int) {
	every := e.ctrl.PollInterval()
	remaining := time.Duration(ms) * time.Millisecond
	for remaining > 0 {
		slice := every
		if remaining < slice {
			slice = remaining
		}
		time.Sleep(slice)
		remaining -= slice
		e.ctrl.WaitWhilePaused()
	}
}

func (e *Engine) emitStatus(status string) {
	e.statusMu.RLock()
	subs := make([]StatusCallback, len(e.statusSubs))
	copy(subs, e.statusSubs)
	e.statusMu.RUnlock()

	for _, cb := range subs {
		cb(status)
	}
	e.publish(events.NewStatusChangedEvent(status))
}

func (e *Engine) publish(ev events.Event) {
	if e.bus != nil {
		e.bus.Publish(ev)
	}
}
