package engine

import "jordanella.com/macropilot/internal/detect"

// Test expressions understood by conditional_jump and loop_until
const (
	// TestLastDetect evaluates to whether the most recent detect action
	// in the run found its template
	TestLastDetect = "last_detect"

	// varTestPrefix marks a test that reads a named boolean from the
	// run context instead of the last detection
	varTestPrefix = "var:"
)

// RunContext is the mutable state of one macro run. It is created fresh by
// every start and owned exclusively by that run's worker goroutine; handlers
// read and write it without locking.
type RunContext struct {
	// LastDetect holds the result of the most recent detect action
	LastDetect *detect.Result

	// Vars holds named booleans readable through "var:<name>" tests
	Vars map[string]bool

	// LoopIterations counts loop_until re-entries, keyed by the loop
	// action's own timeline index so distinct loops track independently.
	// Counters persist for the whole run; they are never reset when a
	// loop is re-entered from elsewhere.
	LoopIterations map[int]int
}

// NewRunContext returns an empty context for a new run
func NewRunContext() *RunContext {
	return &RunContext{
		Vars:           make(map[string]bool),
		LoopIterations: make(map[int]int),
	}
}

// SetVar stores a named boolean for "var:<name>" tests
func (c *RunContext) SetVar(name string, value bool) {
	c.Vars[name] = value
}
