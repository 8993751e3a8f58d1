package engine

import (
	"sync/atomic"
	"time"
)

// DefaultPollInterval is the granularity at which the worker polls the
// pause flag, both between actions and inside timed sleeps, unless a run
// configures its own. Pause latency is bounded by this interval.
const DefaultPollInterval = 50 * time.Millisecond

// RunState is the externally visible engine state
type RunState int32

const (
	StateIdle RunState = iota
	StateRunning
	StatePaused
)

func (s RunState) String() string {
	switch s {
	case StateRunning:
		return "Running"
	case StatePaused:
		return "Paused"
	default:
		return "Idle"
	}
}

// StopCause distinguishes why a stop was requested
type StopCause int32

const (
	StopNone StopCause = iota
	StopRequested
	StopEmergency
)

// RunController coordinates the engine's public control methods with the
// single worker goroutine. All signalling is level-triggered atomic flags:
// the caller sets them, the worker polls them at checkpoints (index
// boundaries, repeat-iteration boundaries, sleep slices). The worker is
// never interrupted mid-action.
type RunController struct {
	running atomic.Bool
	paused  atomic.Bool
	stop    atomic.Int32

	// poll holds the configured poll interval in nanoseconds; zero means
	// DefaultPollInterval
	poll atomic.Int64
}

// NewRunController returns a controller in the idle state
func NewRunController() *RunController {
	return &RunController{}
}

// BeginRun claims the single run slot. It returns false when a run is
// already active, in which case the caller must not launch a worker.
func (rc *RunController) BeginRun() bool {
	return rc.running.CompareAndSwap(false, true)
}

// SetIdle releases the run slot; called by the worker on exit
func (rc *RunController) SetIdle() {
	rc.running.Store(false)
}

// Reset clears the pause and stop flags so a new run starts clean.
// It does not touch the run slot.
func (rc *RunController) Reset() {
	rc.paused.Store(false)
	rc.stop.Store(int32(StopNone))
}

// State derives the visible state from the flags
func (rc *RunController) State() RunState {
	if !rc.running.Load() {
		return StateIdle
	}
	if rc.paused.Load() {
		return StatePaused
	}
	return StateRunning
}

// IsRunning reports whether a worker currently owns the run slot
func (rc *RunController) IsRunning() bool {
	return rc.running.Load()
}

// IsPaused reports the raw pause flag. The flag can be set while idle;
// it only suspends execution once a worker is active.
func (rc *RunController) IsPaused() bool {
	return rc.paused.Load()
}

// Pause sets the cooperative pause flag
func (rc *RunController) Pause() {
	rc.paused.Store(true)
}

// Resume clears the cooperative pause flag
func (rc *RunController) Resume() {
	rc.paused.Store(false)
}

// RequestStop sets the cooperative stop flag. Idempotent; it never
// downgrades an emergency stop already in effect.
func (rc *RunController) RequestStop() {
	rc.stop.CompareAndSwap(int32(StopNone), int32(StopRequested))
}

// RequestEmergencyStop sets the stop flag with emergency cause, upgrading
// a plain stop if one was already requested
func (rc *RunController) RequestEmergencyStop() {
	rc.stop.Store(int32(StopEmergency))
}

// StopRequested reports whether any stop flag is set
func (rc *RunController) StopRequested() bool {
	return StopCause(rc.stop.Load()) != StopNone
}

// Cause returns which kind of stop, if any, was requested
func (rc *RunController) Cause() StopCause {
	return StopCause(rc.stop.Load())
}

// SetPollInterval overrides the poll granularity. Non-positive values are
// ignored and leave the default in place.
func (rc *RunController) SetPollInterval(d time.Duration) {
	if d > 0 {
		rc.poll.Store(int64(d))
	}
}

// PollInterval returns the effective poll granularity
func (rc *RunController) PollInterval() time.Duration {
	if v := rc.poll.Load(); v > 0 {
		return time.Duration(v)
	}
	return DefaultPollInterval
}

// WaitWhilePaused blocks in poll-interval steps while the pause flag is set
// and no stop has been requested
func (rc *RunController) WaitWhilePaused() {
	for rc.paused.Load() && !rc.StopRequested() {
		time.Sleep(rc.PollInterval())
	}
}
