package logging

import (
	"fmt"
	"sync"
	"time"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	ErrorCategoryEngine     ErrorCategory = "engine"
	ErrorCategoryDetection  ErrorCategory = "detection"
	ErrorCategoryInput      ErrorCategory = "input"
	ErrorCategoryCapture    ErrorCategory = "capture"
	ErrorCategoryJournal    ErrorCategory = "journal"
	ErrorCategoryValidation ErrorCategory = "validation"
	ErrorCategorySystem     ErrorCategory = "system"
)

// ErrorSeverity represents the severity of an error
type ErrorSeverity string

const (
	ErrorSeverityLow      ErrorSeverity = "low"
	ErrorSeverityMedium   ErrorSeverity = "medium"
	ErrorSeverityHigh     ErrorSeverity = "high"
	ErrorSeverityCritical ErrorSeverity = "critical"
)

// ErrorReport represents a detailed error report
type ErrorReport struct {
	Timestamp   time.Time              `json:"timestamp"`
	Category    ErrorCategory          `json:"category"`
	Severity    ErrorSeverity          `json:"severity"`
	Component   string                 `json:"component"`
	Message     string                 `json:"message"`
	Error       error                  `json:"-"`
	Context     map[string]interface{} `json:"context,omitempty"`
	Recoverable bool                   `json:"recoverable"`
}

// ErrorReporter collects error reports across components, keeping a bounded
// history that CLIs can summarize after a run.
type ErrorReporter struct {
	logger     *Logger
	history    []*ErrorReport
	historyMu  sync.RWMutex
	maxHistory int
}

// NewErrorReporter creates a new error reporter
func NewErrorReporter() *ErrorReporter {
	return &ErrorReporter{
		logger:     NewLogger("ErrorReporter"),
		history:    make([]*ErrorReport, 0),
		maxHistory: 1000,
	}
}

// SetLogger sets the logger used for report echo
func (er *ErrorReporter) SetLogger(logger *Logger) {
	er.logger = logger
}

// Report records an error report
func (er *ErrorReporter) Report(report *ErrorReport) {
	report.Timestamp = time.Now()

	er.logReport(report)
	er.addToHistory(report)
}

// ReportError records a simple recoverable error
func (er *ErrorReporter) ReportError(category ErrorCategory, severity ErrorSeverity, component, message string, err error) {
	er.Report(&ErrorReport{
		Category:    category,
		Severity:    severity,
		Component:   component,
		Message:     message,
		Error:       err,
		Recoverable: true,
	})
}

// ReportErrorWithContext records a recoverable error with additional context
func (er *ErrorReporter) ReportErrorWithContext(category ErrorCategory, severity ErrorSeverity, component, message string, err error, context map[string]interface{}) {
	er.Report(&ErrorReport{
		Category:    category,
		Severity:    severity,
		Component:   component,
		Message:     message,
		Error:       err,
		Context:     context,
		Recoverable: true,
	})
}

// ReportCriticalError records a critical, non-recoverable error
func (er *ErrorReporter) ReportCriticalError(category ErrorCategory, component, message string, err error, context map[string]interface{}) {
	er.Report(&ErrorReport{
		Category:    category,
		Severity:    ErrorSeverityCritical,
		Component:   component,
		Message:     message,
		Error:       err,
		Context:     context,
		Recoverable: false,
	})
}

// logReport echoes a report to the logger at a level matching its severity
func (er *ErrorReporter) logReport(report *ErrorReport) {
	context := map[string]interface{}{
		"category":    string(report.Category),
		"severity":    string(report.Severity),
		"component":   report.Component,
		"recoverable": report.Recoverable,
	}
	for k, v := range report.Context {
		context[k] = v
	}

	switch report.Severity {
	case ErrorSeverityCritical:
		er.logger.FatalWithContext(report.Message, report.Error, context)
	case ErrorSeverityHigh:
		er.logger.ErrorWithContext(report.Message, report.Error, context)
	case ErrorSeverityMedium:
		er.logger.WarnWithContext(report.Message, context)
	default:
		er.logger.InfoWithContext(report.Message, context)
	}
}

// addToHistory appends a report, trimming to the max history size
func (er *ErrorReporter) addToHistory(report *ErrorReport) {
	er.historyMu.Lock()
	defer er.historyMu.Unlock()

	er.history = append(er.history, report)
	if len(er.history) > er.maxHistory {
		er.history = er.history[len(er.history)-er.maxHistory:]
	}
}

// RecentErrors returns the N most recent reports, oldest first
func (er *ErrorReporter) RecentErrors(n int) []*ErrorReport {
	er.historyMu.RLock()
	defer er.historyMu.RUnlock()

	if n > len(er.history) {
		n = len(er.history)
	}

	start := len(er.history) - n
	result := make([]*ErrorReport, n)
	copy(result, er.history[start:])

	return result
}

// ErrorsByCategory returns up to limit reports of one category, newest first
func (er *ErrorReporter) ErrorsByCategory(category ErrorCategory, limit int) []*ErrorReport {
	er.historyMu.RLock()
	defer er.historyMu.RUnlock()

	result := make([]*ErrorReport, 0)
	for i := len(er.history) - 1; i >= 0 && len(result) < limit; i-- {
		if er.history[i].Category == category {
			result = append(result, er.history[i])
		}
	}

	return result
}

// Stats returns per-severity and per-category counts
func (er *ErrorReporter) Stats() map[string]int {
	er.historyMu.RLock()
	defer er.historyMu.RUnlock()

	stats := map[string]int{
		"total": len(er.history),
	}

	for _, report := range er.history {
		stats[fmt.Sprintf("severity_%s", report.Severity)]++
		stats[fmt.Sprintf("category_%s", report.Category)]++
		if report.Recoverable {
			stats["recoverable"]++
		} else {
			stats["non_recoverable"]++
		}
	}

	return stats
}

// Clear resets the history
func (er *ErrorReporter) Clear() {
	er.historyMu.Lock()
	defer er.historyMu.Unlock()

	er.history = make([]*ErrorReport, 0)
}
