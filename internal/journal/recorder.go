package journal

import (
	"sync"

	"jordanella.com/macropilot/internal/events"
	"jordanella.com/macropilot/internal/logging"
)

// Recorder subscribes to engine events and journals them. It tracks the
// current run id so detection rows attach to the right run; this relies on
// the bus dispatching events in publish order.
type Recorder struct {
	db     *DB
	bus    events.EventBus
	logger *logging.Logger

	mu      sync.Mutex
	runID   int64
	actions int

	subscriptionIDs []events.SubscriptionID
}

// NewRecorder attaches a recorder to the bus
func NewRecorder(db *DB, bus events.EventBus) *Recorder {
	r := &Recorder{
		db:     db,
		bus:    bus,
		logger: logging.GetLogger("journal"),
	}

	r.subscriptionIDs = append(r.subscriptionIDs,
		bus.Subscribe(events.EventTypeRunStarted, r.onRunStarted),
		bus.Subscribe(events.EventTypeActionExecuted, r.onActionExecuted),
		bus.Subscribe(events.EventTypeDetection, r.onDetection),
		bus.Subscribe(events.EventTypeRunFinished, r.onRunFinished),
	)

	return r
}

// Close detaches the recorder from the bus
func (r *Recorder) Close() {
	for _, id := range r.subscriptionIDs {
		r.bus.Unsubscribe(id)
	}
	r.subscriptionIDs = nil
}

// CurrentRunID returns the run currently being journaled (0 when idle)
func (r *Recorder) CurrentRunID() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runID
}

func (r *Recorder) onRunStarted(event events.Event) {
	macroName := asString(event.Data["macro_name"])
	simulation := asBool(event.Data["simulation"])

	runID, err := r.db.StartRun(macroName, simulation)
	if err != nil {
		r.logger.Error("Failed to journal run start", err)
		return
	}

	r.mu.Lock()
	r.runID = runID
	r.actions = 0
	r.mu.Unlock()
}

func (r *Recorder) onActionExecuted(events.Event) {
	r.mu.Lock()
	r.actions++
	r.mu.Unlock()
}

func (r *Recorder) onDetection(event events.Event) {
	r.mu.Lock()
	runID := r.runID
	r.mu.Unlock()

	if runID == 0 {
		return // Detection outside a journaled run
	}

	d := &Detection{
		RunID:       runID,
		ActionID:    asString(event.Data["action_id"]),
		ActionIndex: asInt(event.Data["index"]),
		Template:    asString(event.Data["template"]),
		Method:      asString(event.Data["method"]),
		Found:       asBool(event.Data["found"]),
		Score:       asFloat(event.Data["score"]),
		ScreenHash:  asString(event.Data["screen_hash"]),
	}
	if x, ok := event.Data["box_x"]; ok {
		d.BoxX = intPtr(asInt(x))
		d.BoxY = intPtr(asInt(event.Data["box_y"]))
		d.BoxW = intPtr(asInt(event.Data["box_w"]))
		d.BoxH = intPtr(asInt(event.Data["box_h"]))
	}

	if _, err := r.db.RecordDetection(d); err != nil {
		r.logger.Error("Failed to journal detection", err)
	}
}

func (r *Recorder) onRunFinished(event events.Event) {
	r.mu.Lock()
	runID := r.runID
	localActions := r.actions
	r.runID = 0
	r.actions = 0
	r.mu.Unlock()

	if runID == 0 {
		return
	}

	status := asString(event.Data["status"])
	if status == "" {
		status = RunStatusCompleted
	}

	actions := localActions
	if v, ok := event.Data["actions_executed"]; ok {
		actions = asInt(v)
	}

	if err := r.db.FinishRun(runID, status, actions, asString(event.Data["error"])); err != nil {
		r.logger.Error("Failed to journal run finish", err)
	}
}

// Payload coercion helpers: event data values are interface{} and may arrive
// as different numeric widths.

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asBool(v interface{}) bool {
	b, _ := v.(bool)
	return b
}

func asInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

func asFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}
