package logging

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
)

func newQuietReporter() *ErrorReporter {
	er := NewErrorReporter()
	er.logger.ReplaceOutputs(io.Discard, nil)
	return er
}

func TestReportEchoesAtSeverityLevel(t *testing.T) {
	var buf bytes.Buffer
	er := NewErrorReporter()
	er.logger.ReplaceOutputs(&buf, nil)

	er.ReportError(ErrorCategoryInput, ErrorSeverityHigh, "injector", "click rejected", errors.New("device busy"))

	out := buf.String()
	for _, want := range []string{"ERROR", "click rejected", "device busy", "category=input", "severity=high"} {
		if !strings.Contains(out, want) {
			t.Errorf("echoed report missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	er.ReportErrorWithContext(ErrorCategoryDetection, ErrorSeverityLow, "matcher", "soft miss", nil,
		map[string]interface{}{"template": "btn.png"})
	if !strings.Contains(buf.String(), "INFO") || !strings.Contains(buf.String(), "template=btn.png") {
		t.Errorf("low severity should echo as info with context:\n%s", buf.String())
	}
}

func TestRecentErrorsReturnsOldestFirst(t *testing.T) {
	er := newQuietReporter()
	for i := 0; i < 5; i++ {
		er.ReportError(ErrorCategoryEngine, ErrorSeverityMedium, "engine", fmt.Sprintf("fault %d", i), nil)
	}

	recent := er.RecentErrors(3)
	if len(recent) != 3 {
		t.Fatalf("got %d reports, want 3", len(recent))
	}
	for i, want := range []string{"fault 2", "fault 3", "fault 4"} {
		if recent[i].Message != want {
			t.Errorf("recent[%d] = %q, want %q", i, recent[i].Message, want)
		}
	}

	if got := er.RecentErrors(50); len(got) != 5 {
		t.Errorf("oversized request returned %d reports, want all 5", len(got))
	}
}

func TestErrorsByCategoryFiltersNewestFirst(t *testing.T) {
	er := newQuietReporter()
	er.ReportError(ErrorCategoryInput, ErrorSeverityLow, "injector", "first input", nil)
	er.ReportError(ErrorCategoryCapture, ErrorSeverityLow, "screen", "capture miss", nil)
	er.ReportError(ErrorCategoryInput, ErrorSeverityLow, "injector", "second input", nil)
	er.ReportError(ErrorCategoryInput, ErrorSeverityLow, "injector", "third input", nil)

	got := er.ErrorsByCategory(ErrorCategoryInput, 2)
	if len(got) != 2 {
		t.Fatalf("got %d reports, want 2", len(got))
	}
	if got[0].Message != "third input" || got[1].Message != "second input" {
		t.Errorf("order = [%q, %q], want newest first", got[0].Message, got[1].Message)
	}

	if empty := er.ErrorsByCategory(ErrorCategoryJournal, 10); len(empty) != 0 {
		t.Errorf("unreported category returned %d reports", len(empty))
	}
}

func TestStatsCountsBySeverityAndCategory(t *testing.T) {
	er := newQuietReporter()
	er.ReportError(ErrorCategoryEngine, ErrorSeverityHigh, "engine", "a", nil)
	er.ReportError(ErrorCategoryEngine, ErrorSeverityMedium, "engine", "b", nil)
	er.ReportCriticalError(ErrorCategorySystem, "watchdog", "c", errors.New("tripped"), nil)

	stats := er.Stats()
	want := map[string]int{
		"total":           3,
		"severity_high":   1,
		"severity_medium": 1,
		"category_engine": 2,
		"category_system": 1,
		"recoverable":     2,
		"non_recoverable": 1,
	}
	for k, v := range want {
		if stats[k] != v {
			t.Errorf("stats[%q] = %d, want %d", k, stats[k], v)
		}
	}
}

func TestHistoryTrimsToMaxAndClears(t *testing.T) {
	er := newQuietReporter()
	er.maxHistory = 3

	for i := 0; i < 5; i++ {
		er.ReportError(ErrorCategoryEngine, ErrorSeverityLow, "engine", fmt.Sprintf("fault %d", i), nil)
	}

	if got := er.Stats()["total"]; got != 3 {
		t.Fatalf("history size = %d, want trimmed to 3", got)
	}
	recent := er.RecentErrors(3)
	if recent[0].Message != "fault 2" {
		t.Errorf("oldest survivor = %q, want %q", recent[0].Message, "fault 2")
	}

	er.Clear()
	if got := er.Stats()["total"]; got != 0 {
		t.Errorf("history after clear = %d, want 0", got)
	}
}
