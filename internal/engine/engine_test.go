package engine

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"jordanella.com/macropilot/internal/detect"
	"jordanella.com/macropilot/internal/events"
	"jordanella.com/macropilot/internal/timeline"
)

// stubInjector records every injection call instead of touching the OS
type stubInjector struct {
	mu       sync.Mutex
	clicks   []string
	typed    [][]string
	chords   []chordCall
	clickErr error
}

type chordCall struct {
	keys   []string
	holdMs int
}

func (s *stubInjector) Click(button string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clickErr != nil {
		return s.clickErr
	}
	s.clicks = append(s.clicks, "current:"+button)
	return nil
}

func (s *stubInjector) ClickAt(x, y int, button string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clickErr != nil {
		return s.clickErr
	}
	s.clicks = append(s.clicks, fmt.Sprintf("%d,%d:%s", x, y, button))
	return nil
}

func (s *stubInjector) TypeSequence(items []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.typed = append(s.typed, items)
	return nil
}

func (s *stubInjector) PressChord(keys []string, holdMs int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chords = append(s.chords, chordCall{keys: keys, holdMs: holdMs})
	return nil
}

func (s *stubInjector) clickList() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.clicks))
	copy(out, s.clicks)
	return out
}

// stubDetector replays a scripted sequence of results; the last result
// repeats once the script runs out
type stubDetector struct {
	mu       sync.Mutex
	results  []detect.Result
	requests []detect.Request
	err      error
}

func (s *stubDetector) Detect(req detect.Request) (detect.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return detect.Result{}, s.err
	}
	res := detect.Result{Method: req.Method, Template: req.Template}
	if len(s.results) > 0 {
		i := len(s.requests) - 1
		if i >= len(s.results) {
			i = len(s.results) - 1
		}
		res = s.results[i]
		res.Method = req.Method
		res.Template = req.Template
	}
	return res, nil
}

func (s *stubDetector) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// statusRecorder collects status callback emissions
type statusRecorder struct {
	mu  sync.Mutex
	got []string
}

func (sr *statusRecorder) cb(status string) {
	sr.mu.Lock()
	sr.got = append(sr.got, status)
	sr.mu.Unlock()
}

func (sr *statusRecorder) list() []string {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	out := make([]string, len(sr.got))
	copy(out, sr.got)
	return out
}

func (sr *statusRecorder) contains(status string) bool {
	for _, s := range sr.list() {
		if s == status {
			return true
		}
	}
	return false
}

// eventCapture collects bus events for post-run assertions
type eventCapture struct {
	mu  sync.Mutex
	got []events.Event
}

func (c *eventCapture) handler(ev events.Event) {
	c.mu.Lock()
	c.got = append(c.got, ev)
	c.mu.Unlock()
}

func (c *eventCapture) byType(t events.EventType) []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []events.Event
	for _, ev := range c.got {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func newTestEngine() (*Engine, *stubInjector, *stubDetector, *statusRecorder) {
	inj := &stubInjector{}
	det := &stubDetector{}
	e := New().WithInjector(inj).WithDetector(det)
	e.Logger().ReplaceOutputs(io.Discard, nil)
	sr := &statusRecorder{}
	e.SubscribeStatus(sr.cb)
	return e, inj, det, sr
}

func clickAction(id string, x, y int) *timeline.Action {
	return &timeline.Action{
		ID:   id,
		Type: timeline.ActionMouseClick,
		Params: map[string]interface{}{
			"x": x,
			"y": y,
		},
	}
}

func labelAction(id string) *timeline.Action {
	return &timeline.Action{ID: id, Type: timeline.ActionLabel}
}

func detectAction(id, target string) *timeline.Action {
	return &timeline.Action{ID: id, Type: timeline.ActionDetect, Target: target}
}

func waitAction(id string, ms int) *timeline.Action {
	return &timeline.Action{
		ID:     id,
		Type:   timeline.ActionWait,
		Params: map[string]interface{}{"ms": ms},
	}
}

func TestRunControllerFlags(t *testing.T) {
	rc := NewRunController()

	if rc.State() != StateIdle {
		t.Fatalf("fresh controller state = %v, want Idle", rc.State())
	}
	if !rc.BeginRun() {
		t.Fatal("BeginRun on idle controller should succeed")
	}
	if rc.BeginRun() {
		t.Fatal("second BeginRun should fail while a run is active")
	}
	if rc.State() != StateRunning {
		t.Fatalf("state = %v, want Running", rc.State())
	}

	rc.Pause()
	if rc.State() != StatePaused || !rc.IsPaused() {
		t.Fatal("pause flag not reflected in state")
	}
	rc.Resume()
	if rc.State() != StateRunning {
		t.Fatal("resume did not return to Running")
	}

	rc.RequestStop()
	if !rc.StopRequested() || rc.Cause() != StopRequested {
		t.Fatal("stop request not recorded")
	}
	rc.RequestEmergencyStop()
	if rc.Cause() != StopEmergency {
		t.Fatal("emergency stop should upgrade a plain stop")
	}
	rc.RequestStop()
	if rc.Cause() != StopEmergency {
		t.Fatal("plain stop must not downgrade an emergency stop")
	}

	rc.Reset()
	if rc.StopRequested() || rc.IsPaused() {
		t.Fatal("reset should clear pause and stop flags")
	}

	rc.SetIdle()
	if rc.State() != StateIdle {
		t.Fatal("SetIdle did not release the run slot")
	}
}

func TestRunControllerPollInterval(t *testing.T) {
	rc := NewRunController()
	if rc.PollInterval() != DefaultPollInterval {
		t.Fatalf("fresh poll interval = %v, want %v", rc.PollInterval(), DefaultPollInterval)
	}

	rc.SetPollInterval(10 * time.Millisecond)
	if rc.PollInterval() != 10*time.Millisecond {
		t.Errorf("poll interval = %v, want 10ms", rc.PollInterval())
	}

	rc.SetPollInterval(0)
	if rc.PollInterval() != 10*time.Millisecond {
		t.Error("non-positive interval should be ignored")
	}
}

func TestEvalTest(t *testing.T) {
	ctx := NewRunContext()

	if evalTest(TestLastDetect, ctx) {
		t.Error("last_detect with no prior detection should be false")
	}
	ctx.LastDetect = &detect.Result{Found: true}
	if !evalTest(TestLastDetect, ctx) {
		t.Error("last_detect should be true after a found detection")
	}
	if !evalTest("", ctx) {
		t.Error("empty test should default to last_detect")
	}

	ctx.SetVar("armed", true)
	if !evalTest("var:armed", ctx) {
		t.Error("var test should read the named boolean")
	}
	if evalTest("var:unset", ctx) {
		t.Error("unset var should evaluate false")
	}
	if evalTest("garbage", ctx) {
		t.Error("unrecognized test should evaluate false")
	}
}

func TestCompileDefaults(t *testing.T) {
	tl := timeline.Timeline{
		{Type: timeline.ActionMouseClick},
		{Type: timeline.ActionMouseClick, Params: map[string]interface{}{
			"x": float64(10.7), "y": 20, "button": "right",
		}},
		{Type: timeline.ActionWait, Params: map[string]interface{}{"ms": "250"}},
		{Type: timeline.ActionKeySequence, Params: map[string]interface{}{
			"sequence": []interface{}{"hello", "ENTER"},
		}},
		{Type: timeline.ActionLoopUntil},
		{Type: timeline.ActionDetect, Target: "btn.png", Params: map[string]interface{}{
			"method":   "feature",
			"conf":     0.7,
			"roi":      []interface{}{1, 2, 3, 4},
			"detector": "akaze",
		}},
		{Type: timeline.ActionWait, RepeatCount: 0, DelayBeforeMs: -5},
	}

	prog, err := compile(tl)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}

	click := prog.steps[0].params.(clickParams)
	if click.HasPoint || click.Button != "left" {
		t.Errorf("bare click params = %+v, want no point and left button", click)
	}

	placed := prog.steps[1].params.(clickParams)
	if !placed.HasPoint || placed.X != 10 || placed.Y != 20 || placed.Button != "right" {
		t.Errorf("placed click params = %+v", placed)
	}

	wait := prog.steps[2].params.(waitParams)
	if wait.Ms != 250 {
		t.Errorf("numeric string ms = %d, want 250", wait.Ms)
	}

	keys := prog.steps[3].params.(keyParams)
	if !keys.TextMode || len(keys.Sequence) != 2 {
		t.Errorf("key params = %+v, want text mode with 2 items", keys)
	}
	if keys.HoldMs != 50 {
		t.Errorf("default chord hold = %d, want 50", keys.HoldMs)
	}

	loop := prog.steps[4].params.(loopParams)
	if loop.Test != TestLastDetect || !loop.Value || loop.MaxIters != 100 {
		t.Errorf("loop defaults = %+v", loop)
	}

	det := prog.steps[5].params.(detectParams)
	if det.Method != detect.MethodFeature || det.Conf == nil || *det.Conf != 0.7 {
		t.Errorf("detect params = %+v", det)
	}
	if det.ROI == nil || *det.ROI != (detect.Box{X: 1, Y: 2, W: 3, H: 4}) {
		t.Errorf("detect roi = %+v", det.ROI)
	}
	if det.Detector != detect.DetectorAKAZE {
		t.Errorf("detector backend = %q, want AKAZE", det.Detector)
	}

	clamped := prog.steps[6]
	if clamped.repeat != 1 || clamped.delayBefore != 0 {
		t.Errorf("scheduling clamp: repeat=%d delayBefore=%d", clamped.repeat, clamped.delayBefore)
	}
}

func TestValidateTimelineReportsBadParams(t *testing.T) {
	tl := timeline.Timeline{
		{ID: "w", Type: timeline.ActionWait, Params: map[string]interface{}{"ms": true}},
		{ID: "d", Type: timeline.ActionDetect, Params: map[string]interface{}{"method": "sift"}},
		{ID: "ok", Type: timeline.ActionLabel},
	}

	errs := ValidateTimeline(tl)
	if len(errs) != 2 {
		t.Fatalf("got %d errors, want 2: %v", len(errs), errs)
	}
	if !strings.Contains(errs[0].Error(), "action 0") || !strings.Contains(errs[0].Error(), "'ms'") {
		t.Errorf("first error = %v", errs[0])
	}
	if !strings.Contains(errs[1].Error(), "action 1") || !strings.Contains(errs[1].Error(), "'method'") {
		t.Errorf("second error = %v", errs[1])
	}
}

func TestStartRejectsMalformedParams(t *testing.T) {
	e, _, _, sr := newTestEngine()

	err := e.Start("bad", timeline.Timeline{
		{ID: "w", Type: timeline.ActionWait, Params: map[string]interface{}{"ms": "abc"}},
	})
	if err == nil {
		t.Fatal("expected start to reject malformed params")
	}
	if !strings.Contains(err.Error(), "param 'ms'") {
		t.Errorf("error = %v, want mention of param 'ms'", err)
	}
	if e.State() != StateIdle {
		t.Errorf("state after rejected start = %v, want Idle", e.State())
	}
	if len(sr.list()) != 0 {
		t.Errorf("rejected start emitted statuses: %v", sr.list())
	}
}

func TestSequentialRunExecutesEachActionOnce(t *testing.T) {
	e, inj, _, sr := newTestEngine()
	e.SetSimulationMode(false)

	tl := timeline.Timeline{
		clickAction("a", 1, 1),
		clickAction("b", 2, 2),
		{ID: "k", Type: timeline.ActionKeySequence, Params: map[string]interface{}{
			"sequence": []interface{}{"hi"},
		}},
		clickAction("c", 3, 3),
	}
	if err := e.Start("seq", tl); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	e.Wait()

	want := []string{"1,1:left", "2,2:left", "3,3:left"}
	got := inj.clickList()
	if len(got) != len(want) {
		t.Fatalf("clicks = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("click %d = %q, want %q", i, got[i], want[i])
		}
	}
	if len(inj.typed) != 1 {
		t.Fatalf("typed sequences = %d, want 1", len(inj.typed))
	}

	statuses := sr.list()
	if len(statuses) == 0 || statuses[0] != StatusRunning {
		t.Errorf("first status = %v, want Running", statuses)
	}
	if statuses[len(statuses)-1] != StatusIdle {
		t.Errorf("last status = %q, want Idle", statuses[len(statuses)-1])
	}
	if e.State() != StateIdle {
		t.Errorf("state after run = %v, want Idle", e.State())
	}
}

func TestStartWhileRunningIsIgnored(t *testing.T) {
	e, inj, _, _ := newTestEngine()
	e.SetSimulationMode(false)

	if err := e.Start("first", timeline.Timeline{waitAction("w", 300)}); err != nil {
		t.Fatalf("first start failed: %v", err)
	}
	if err := e.Start("second", timeline.Timeline{clickAction("x", 5, 5)}); err != nil {
		t.Fatalf("second start should be a no-op, got error: %v", err)
	}
	e.Wait()

	if len(inj.clickList()) != 0 {
		t.Errorf("second macro ran anyway: clicks = %v", inj.clickList())
	}
}

func TestConditionalJumpTakesTrueTarget(t *testing.T) {
	e, inj, det, _ := newTestEngine()
	e.SetSimulationMode(false)
	det.results = []detect.Result{{Found: true, Score: 0.95}}

	tl := timeline.Timeline{
		detectAction("d", "ok.png"),
		{ID: "j", Type: timeline.ActionConditionalJump, Params: map[string]interface{}{
			"true_target": "land",
		}},
		clickAction("skipme", 1, 1),
		labelAction("land"),
		clickAction("final", 2, 2),
	}
	if err := e.Start("jump", tl); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	e.Wait()

	got := inj.clickList()
	if len(got) != 1 || got[0] != "2,2:left" {
		t.Errorf("clicks = %v, want only the post-label click", got)
	}
}

func TestConditionalJumpUnresolvedFallsThrough(t *testing.T) {
	e, inj, det, _ := newTestEngine()
	e.SetSimulationMode(false)
	det.results = []detect.Result{{Found: true, Score: 0.9}}

	tl := timeline.Timeline{
		detectAction("d", "ok.png"),
		{ID: "j", Type: timeline.ActionConditionalJump, Params: map[string]interface{}{
			"true_target": "nowhere",
		}},
		clickAction("next", 4, 4),
	}
	if err := e.Start("fallthrough", tl); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	e.Wait()

	got := inj.clickList()
	if len(got) != 1 || got[0] != "4,4:left" {
		t.Errorf("clicks = %v, want fall-through to the next action", got)
	}
}

func TestDetectRetryScenario(t *testing.T) {
	e, _, det, sr := newTestEngine()
	det.results = []detect.Result{
		{Found: false, Score: 0.2},
		{Found: false, Score: 0.3},
		{Found: true, Score: 0.95},
	}

	conf := map[string]interface{}{"conf": 0.9}
	tl := timeline.Timeline{
		{ID: "start", Type: timeline.ActionLabel, Target: "start"},
		{ID: "d", Type: timeline.ActionDetect, Target: "button.png", Params: conf},
		{ID: "j", Type: timeline.ActionConditionalJump, Params: map[string]interface{}{
			"test":         TestLastDetect,
			"true_target":  "done",
			"false_target": "start",
		}},
		{ID: "done", Type: timeline.ActionLabel, Target: "done"},
	}
	if err := e.Start("retry", tl); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	e.Wait()

	if det.callCount() != 3 {
		t.Errorf("detect visited %d times, want 3", det.callCount())
	}
	if det.requests[0].Conf == nil || *det.requests[0].Conf != 0.9 {
		t.Errorf("conf override not forwarded: %+v", det.requests[0].Conf)
	}
	if !sr.contains(StatusIdle) {
		t.Errorf("statuses = %v, want Idle at the end", sr.list())
	}
}

func TestLoopUntilIterationLimit(t *testing.T) {
	e, inj, det, _ := newTestEngine()
	e.SetSimulationMode(false)
	// Detection never succeeds, so only the iteration limit ends the loop.

	tl := timeline.Timeline{
		labelAction("top"),
		detectAction("d", "never.png"),
		{ID: "loop", Type: timeline.ActionLoopUntil, Params: map[string]interface{}{
			"until":     map[string]interface{}{"test": TestLastDetect, "value": true},
			"label":     "top",
			"max_iters": 3,
		}},
		clickAction("after", 9, 9),
	}
	if err := e.Start("bounded", tl); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	e.Wait()

	// 3 re-entries plus the final fall-through pass.
	if det.callCount() != 4 {
		t.Errorf("loop body ran %d times, want 4", det.callCount())
	}
	got := inj.clickList()
	if len(got) != 1 || got[0] != "9,9:left" {
		t.Errorf("post-loop action: clicks = %v", got)
	}
	if e.State() != StateIdle {
		t.Errorf("state = %v, want Idle", e.State())
	}
}

func TestPauseResumeKeepsProgress(t *testing.T) {
	e, inj, _, sr := newTestEngine()
	e.SetSimulationMode(false)

	tl := timeline.Timeline{
		waitAction("w", 150),
		clickAction("a", 1, 1),
		clickAction("b", 2, 2),
	}
	if err := e.Start("pausable", tl); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	time.Sleep(30 * time.Millisecond)
	e.Pause()
	time.Sleep(400 * time.Millisecond)

	if got := inj.clickList(); len(got) != 0 {
		t.Fatalf("actions ran while paused: %v", got)
	}

	e.Resume()
	e.Wait()

	got := inj.clickList()
	if len(got) != 2 || got[0] != "1,1:left" || got[1] != "2,2:left" {
		t.Errorf("clicks after resume = %v, want both exactly once in order", got)
	}
	if !sr.contains(StatusPaused) || !sr.contains(StatusResumed) {
		t.Errorf("statuses = %v, want Paused and Resumed", sr.list())
	}
}

func TestStopHaltsBeforeNextIndex(t *testing.T) {
	e, inj, _, sr := newTestEngine()
	e.SetSimulationMode(false)

	bus := events.NewEventBus(16)
	capture := &eventCapture{}
	bus.Subscribe(events.EventTypeRunFinished, capture.handler)
	e.WithBus(bus)

	tl := timeline.Timeline{
		clickAction("a", 1, 1),
		waitAction("w", 250),
		clickAction("b", 2, 2),
	}
	if err := e.Start("stoppable", tl); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	time.Sleep(80 * time.Millisecond)
	e.Stop()
	e.Wait()
	bus.Stop()

	got := inj.clickList()
	if len(got) != 1 || got[0] != "1,1:left" {
		t.Errorf("clicks = %v, want only the pre-stop click", got)
	}
	if !sr.contains(StatusStopped) {
		t.Errorf("statuses = %v, want Stopped", sr.list())
	}
	if sr.list()[len(sr.list())-1] != StatusIdle {
		t.Errorf("final status = %v, want Idle", sr.list())
	}

	finished := capture.byType(events.EventTypeRunFinished)
	if len(finished) != 1 {
		t.Fatalf("run finished events = %d, want 1", len(finished))
	}
	if outcome := finished[0].Data["status"]; outcome != "stopped" {
		t.Errorf("run outcome = %v, want stopped", outcome)
	}
}

func TestEmergencyStopOutcome(t *testing.T) {
	e, _, _, sr := newTestEngine()

	bus := events.NewEventBus(16)
	capture := &eventCapture{}
	bus.Subscribe(events.EventTypeRunFinished, capture.handler)
	e.WithBus(bus)

	tl := timeline.Timeline{waitAction("w", 250), labelAction("end")}
	if err := e.Start("abortable", tl); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	time.Sleep(80 * time.Millisecond)
	e.EmergencyStop()
	e.Wait()
	bus.Stop()

	if !sr.contains(StatusEmergencyStop) {
		t.Errorf("statuses = %v, want EMERGENCY STOP", sr.list())
	}
	finished := capture.byType(events.EventTypeRunFinished)
	if len(finished) != 1 {
		t.Fatalf("run finished events = %d, want 1", len(finished))
	}
	if outcome := finished[0].Data["status"]; outcome != "emergency_stopped" {
		t.Errorf("run outcome = %v, want emergency_stopped", outcome)
	}
}

func TestHandlerErrorAbortsRun(t *testing.T) {
	e, inj, _, sr := newTestEngine()
	e.SetSimulationMode(false)
	inj.clickErr = errors.New("device unavailable")

	bus := events.NewEventBus(16)
	capture := &eventCapture{}
	bus.Subscribe(events.EventTypeRunFinished, capture.handler)
	bus.Subscribe(events.EventTypeError, capture.handler)
	e.WithBus(bus)

	tl := timeline.Timeline{
		clickAction("a", 1, 1),
		clickAction("b", 2, 2),
	}
	if err := e.Start("failing", tl); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	e.Wait()
	bus.Stop()

	if len(inj.clickList()) != 0 {
		t.Errorf("clicks recorded despite injection error: %v", inj.clickList())
	}
	statuses := sr.list()
	if statuses[len(statuses)-1] != StatusIdle {
		t.Errorf("final status = %v, want Idle", statuses)
	}

	finished := capture.byType(events.EventTypeRunFinished)
	if len(finished) != 1 {
		t.Fatalf("run finished events = %d, want 1", len(finished))
	}
	if outcome := finished[0].Data["status"]; outcome != "failed" {
		t.Errorf("run outcome = %v, want failed", outcome)
	}
	if msg, ok := finished[0].Data["error"].(string); !ok || !strings.Contains(msg, "device unavailable") {
		t.Errorf("run error payload = %v", finished[0].Data["error"])
	}
	if executed := finished[0].Data["actions_executed"]; executed != 0 {
		t.Errorf("actions_executed = %v, want 0", executed)
	}

	errs := capture.byType(events.EventTypeError)
	if len(errs) != 1 {
		t.Fatalf("error events = %d, want 1", len(errs))
	}
	data := errs[0].Data
	if data["macro"] != "failing" || data["index"] != 0 || data["action_id"] != "a" {
		t.Errorf("error event payload = %v", data)
	}
	if msg, ok := data["error"].(string); !ok || !strings.Contains(msg, "device unavailable") {
		t.Errorf("error event message = %v", data["error"])
	}
}

func TestUnknownActionTypeIsSkipped(t *testing.T) {
	e, inj, _, _ := newTestEngine()
	e.SetSimulationMode(false)

	tl := timeline.Timeline{
		{ID: "weird", Type: timeline.ActionType("teleport")},
		clickAction("after", 7, 7),
	}
	if err := e.Start("tolerant", tl); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	e.Wait()

	got := inj.clickList()
	if len(got) != 1 || got[0] != "7,7:left" {
		t.Errorf("clicks = %v, want execution to continue past the unknown type", got)
	}
}

func TestKeyChordForwardsHold(t *testing.T) {
	e, inj, _, _ := newTestEngine()
	e.SetSimulationMode(false)

	tl := timeline.Timeline{
		{ID: "k", Type: timeline.ActionKeySequence, Params: map[string]interface{}{
			"sequence":  []interface{}{"ctrl", "shift", "s"},
			"text_mode": false,
			"hold_ms":   120,
		}},
	}
	if err := e.Start("chord", tl); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	e.Wait()

	if len(inj.chords) != 1 {
		t.Fatalf("chords = %d, want 1", len(inj.chords))
	}
	if inj.chords[0].holdMs != 120 {
		t.Errorf("chord hold = %d, want 120", inj.chords[0].holdMs)
	}
	if len(inj.chords[0].keys) != 3 || inj.chords[0].keys[0] != "ctrl" {
		t.Errorf("chord keys = %v", inj.chords[0].keys)
	}
}

func TestSimulationSuppressesInjectionNotDetection(t *testing.T) {
	e, inj, det, _ := newTestEngine()
	// Simulation stays at its default: enabled.

	tl := timeline.Timeline{
		clickAction("a", 1, 1),
		{ID: "k", Type: timeline.ActionKeySequence, Params: map[string]interface{}{
			"sequence":  []interface{}{"ctrl", "s"},
			"text_mode": false,
		}},
		detectAction("d", "still.png"),
	}
	if err := e.Start("dryrun", tl); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	e.Wait()

	if n := len(inj.clickList()); n != 0 {
		t.Errorf("clicks injected in simulation mode: %d", n)
	}
	if len(inj.chords) != 0 {
		t.Errorf("chords injected in simulation mode: %v", inj.chords)
	}
	if det.callCount() != 1 {
		t.Errorf("detect calls = %d, want 1 even in simulation", det.callCount())
	}
}

func TestDetectOverwritesActionResult(t *testing.T) {
	e, _, det, _ := newTestEngine()
	det.results = []detect.Result{
		{Found: false, Score: 0.1},
		{Found: true, Score: 0.9, Box: &detect.Box{X: 3, Y: 4, W: 10, H: 12}},
	}

	action := detectAction("d", "twice.png")
	action.RepeatCount = 2

	if err := e.Start("annotate", timeline.Timeline{action}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	e.Wait()

	if det.callCount() != 2 {
		t.Fatalf("detect calls = %d, want 2", det.callCount())
	}
	if action.Result == nil {
		t.Fatal("detect did not annotate the action")
	}
	if !action.Result.Found || action.Result.Score != 0.9 {
		t.Errorf("annotated result = %+v, want the second execution's result", action.Result)
	}
	if action.Result.Box == nil || action.Result.Box.X != 3 {
		t.Errorf("annotated box = %+v", action.Result.Box)
	}
}

func TestDetectionEventCarriesBox(t *testing.T) {
	e, _, det, _ := newTestEngine()
	det.results = []detect.Result{
		{Found: true, Score: 0.88, Box: &detect.Box{X: 5, Y: 6, W: 20, H: 30}, ScreenHash: "p:abc123"},
	}

	bus := events.NewEventBus(16)
	capture := &eventCapture{}
	bus.Subscribe(events.EventTypeDetection, capture.handler)
	e.WithBus(bus)

	if err := e.Start("observed", timeline.Timeline{detectAction("d", "seen.png")}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	e.Wait()
	bus.Stop()

	detections := capture.byType(events.EventTypeDetection)
	if len(detections) != 1 {
		t.Fatalf("detection events = %d, want 1", len(detections))
	}
	data := detections[0].Data
	if data["found"] != true || data["template"] != "seen.png" {
		t.Errorf("detection payload = %v", data)
	}
	if data["box_x"] != 5 || data["box_w"] != 20 {
		t.Errorf("box payload = %v", data)
	}
	if data["screen_hash"] != "p:abc123" {
		t.Errorf("screen_hash payload = %v", data["screen_hash"])
	}
}
