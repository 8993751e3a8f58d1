package journal

import "time"

// Run statuses mirror the engine's terminal states
const (
	RunStatusRunning          = "running"
	RunStatusCompleted        = "completed"
	RunStatusStopped          = "stopped"
	RunStatusEmergencyStopped = "emergency_stopped"
	RunStatusFailed           = "failed"
)

// Run is one journaled macro execution
type Run struct {
	ID              int64
	MacroName       string
	StartedAt       time.Time
	FinishedAt      *time.Time
	Status          string
	ActionsExecuted int
	Simulation      bool
	ErrorMessage    *string
}

// Duration returns the run's wall-clock time, or zero if it never finished
func (r *Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Detection is one journaled detect-action outcome. Box fields are nil when
// nothing was found.
type Detection struct {
	ID          int64
	RunID       int64
	ActionID    string
	ActionIndex int
	Template    string
	Method      string
	Found       bool
	Score       float64
	BoxX        *int
	BoxY        *int
	BoxW        *int
	BoxH        *int
	ScreenHash  string
	DetectedAt  time.Time
}

// TemplateStats aggregates detection outcomes per template
type TemplateStats struct {
	Template string
	Total    int
	Found    int
	AvgScore float64
}

// HitRate returns found/total in [0, 1]
func (s TemplateStats) HitRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Found) / float64(s.Total)
}
