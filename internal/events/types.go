package events

import "time"

// EventType represents different types of events in the system
type EventType string

const (
	// Run lifecycle events
	EventTypeRunStarted    EventType = "run.started"
	EventTypeRunFinished   EventType = "run.finished"
	EventTypeStatusChanged EventType = "run.status_changed"

	// Per-action events
	EventTypeActionExecuted EventType = "action.executed"
	EventTypeDetection      EventType = "detection.completed"

	// Watchdog events
	EventTypeWatchdogTripped EventType = "watchdog.tripped"

	// Error events
	EventTypeError EventType = "error"
)

// Event represents a system event with metadata
type Event struct {
	Type      EventType              // Type of event
	Source    string                 // Component that emitted the event (e.g., "engine", "watchdog")
	Timestamp time.Time              // When the event occurred
	Data      map[string]interface{} // Event-specific data
}

// EventHandler is a function that processes an event
type EventHandler func(Event)

// SubscriptionID uniquely identifies a subscription
type SubscriptionID int64

// EventBus defines the interface for event pub/sub
type EventBus interface {
	// Subscribe registers a handler for a specific event type
	Subscribe(eventType EventType, handler EventHandler) SubscriptionID

	// Unsubscribe removes a subscription by ID
	Unsubscribe(id SubscriptionID)

	// Publish sends an event to all subscribers (blocking until queued)
	Publish(event Event)

	// Stop stops the event bus and drains remaining events
	Stop()
}

// Helper constructors for common events

// NewRunStartedEvent signals that the engine launched a run
func NewRunStartedEvent(macroName string, actionCount int, simulation bool) Event {
	return Event{
		Type:      EventTypeRunStarted,
		Source:    "engine",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"macro_name":   macroName,
			"action_count": actionCount,
			"simulation":   simulation,
		},
	}
}

// NewRunFinishedEvent signals that a run reached its terminal state
func NewRunFinishedEvent(macroName, status string, actionsExecuted int, duration time.Duration, err error) Event {
	data := map[string]interface{}{
		"macro_name":       macroName,
		"status":           status,
		"actions_executed": actionsExecuted,
		"duration_ms":      duration.Milliseconds(),
	}
	if err != nil {
		data["error"] = err.Error()
	}
	return Event{
		Type:      EventTypeRunFinished,
		Source:    "engine",
		Timestamp: time.Now(),
		Data:      data,
	}
}

// NewStatusChangedEvent mirrors a status-callback emission onto the bus
func NewStatusChangedEvent(status string) Event {
	return Event{
		Type:      EventTypeStatusChanged,
		Source:    "engine",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"status": status,
		},
	}
}

// NewActionExecutedEvent reports one completed action dispatch
func NewActionExecutedEvent(index int, actionID, actionType string) Event {
	return Event{
		Type:      EventTypeActionExecuted,
		Source:    "engine",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"index":       index,
			"action_id":   actionID,
			"action_type": actionType,
		},
	}
}

// DetectionInfo is the flattened payload for a detection event. Box fields
// are only meaningful when HasBox is true.
type DetectionInfo struct {
	Index      int
	ActionID   string
	Template   string
	Method     string
	Found      bool
	Score      float64
	HasBox     bool
	BoxX       int
	BoxY       int
	BoxW       int
	BoxH       int
	ScreenHash string
}

// NewDetectionEvent reports the outcome of one detect action
func NewDetectionEvent(info DetectionInfo) Event {
	data := map[string]interface{}{
		"index":     info.Index,
		"action_id": info.ActionID,
		"template":  info.Template,
		"method":    info.Method,
		"found":     info.Found,
		"score":     info.Score,
	}
	if info.HasBox {
		data["box_x"] = info.BoxX
		data["box_y"] = info.BoxY
		data["box_w"] = info.BoxW
		data["box_h"] = info.BoxH
	}
	if info.ScreenHash != "" {
		data["screen_hash"] = info.ScreenHash
	}
	return Event{
		Type:      EventTypeDetection,
		Source:    "engine",
		Timestamp: time.Now(),
		Data:      data,
	}
}

// NewWatchdogTrippedEvent reports a watchdog intervention
func NewWatchdogTrippedEvent(reason, macroName string, data map[string]interface{}) Event {
	merged := map[string]interface{}{
		"reason":     reason,
		"macro_name": macroName,
	}
	for k, v := range data {
		merged[k] = v
	}
	return Event{
		Type:      EventTypeWatchdogTripped,
		Source:    "watchdog",
		Timestamp: time.Now(),
		Data:      merged,
	}
}

// NewErrorEvent creates an error event
func NewErrorEvent(source, component string, err error, metadata map[string]interface{}) Event {
	data := map[string]interface{}{
		"component": component,
		"error":     err.Error(),
	}
	for k, v := range metadata {
		data[k] = v
	}
	return Event{
		Type:      EventTypeError,
		Source:    source,
		Timestamp: time.Now(),
		Data:      data,
	}
}
