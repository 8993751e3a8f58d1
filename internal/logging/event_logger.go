package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"jordanella.com/macropilot/internal/events"
)

// EventLogger subscribes to the event bus and logs every engine event,
// mirroring them to a JSON-lines file for offline inspection.
type EventLogger struct {
	logger          *Logger
	eventBus        events.EventBus
	subscriptionIDs []events.SubscriptionID
	logFile         *os.File
}

// NewEventLogger creates a new event logger writing under logDir
func NewEventLogger(eventBus events.EventBus, logDir string) (*EventLogger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	logPath := filepath.Join(logDir, fmt.Sprintf("events_%s.jsonl", timestamp))
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	logger := NewLogger("EventLogger")
	logger.AddOutput(logFile, &JSONLinesFormatter{})

	el := &EventLogger{
		logger:   logger,
		eventBus: eventBus,
		logFile:  logFile,
	}

	el.subscribeToEvents()

	return el, nil
}

// subscribeToEvents subscribes to every event type the engine emits
func (el *EventLogger) subscribeToEvents() {
	eventTypes := []events.EventType{
		events.EventTypeRunStarted,
		events.EventTypeRunFinished,
		events.EventTypeStatusChanged,
		events.EventTypeActionExecuted,
		events.EventTypeDetection,
		events.EventTypeWatchdogTripped,
		events.EventTypeError,
	}

	for _, eventType := range eventTypes {
		id := el.eventBus.Subscribe(eventType, el.handleEvent)
		el.subscriptionIDs = append(el.subscriptionIDs, id)
	}
}

// handleEvent logs one incoming event with its payload as context
func (el *EventLogger) handleEvent(event events.Event) {
	context := map[string]interface{}{
		"event_type": string(event.Type),
		"source":     event.Source,
	}

	for k, v := range event.Data {
		context[k] = v
	}

	el.logger.InfoWithContext(fmt.Sprintf("Event: %s", event.Type), context)
}

// Close unsubscribes and closes the log file
func (el *EventLogger) Close() error {
	for _, id := range el.subscriptionIDs {
		el.eventBus.Unsubscribe(id)
	}
	if el.logFile != nil {
		return el.logFile.Close()
	}
	return nil
}
