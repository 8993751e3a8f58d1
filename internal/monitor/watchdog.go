// Package monitor watches active runs and intervenes when one misbehaves.
package monitor

import (
	"context"
	"sync"
	"time"

	"jordanella.com/macropilot/internal/events"
	"jordanella.com/macropilot/internal/logging"
)

// Stopper aborts the active run. Satisfied by the engine's EmergencyStop.
type Stopper interface {
	EmergencyStop()
}

// WatchdogConfig bounds a run. A zero value disables that check, so the
// zero config is a watchdog that never trips.
type WatchdogConfig struct {
	// MaxRunDuration is the wall-clock budget for one run
	MaxRunDuration time.Duration

	// MaxConsecutiveMisses trips after this many detect actions in a row
	// report not-found. A found detection resets the streak.
	MaxConsecutiveMisses int
}

// RunWatchdog subscribes to engine events and emergency-stops a run that
// exceeds its wall-clock budget or keeps missing detections. It trips at
// most once per run.
type RunWatchdog struct {
	log     *logging.Logger
	bus     events.EventBus
	stopper Stopper
	cfg     WatchdogConfig

	checkInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	subs   []events.SubscriptionID

	mu         sync.Mutex
	runActive  bool
	macroName  string
	runStarted time.Time
	misses     int
	tripped    bool
}

// NewRunWatchdog creates a watchdog wired to the bus. Call Start to begin
// the duration check; event-driven checks are active immediately.
func NewRunWatchdog(bus events.EventBus, stopper Stopper, cfg WatchdogConfig) *RunWatchdog {
	ctx, cancel := context.WithCancel(context.Background())
	w := &RunWatchdog{
		log:           logging.GetLogger("watchdog"),
		bus:           bus,
		stopper:       stopper,
		cfg:           cfg,
		checkInterval: time.Second,
		ctx:           ctx,
		cancel:        cancel,
	}

	w.subs = append(w.subs,
		bus.Subscribe(events.EventTypeRunStarted, w.onRunStarted),
		bus.Subscribe(events.EventTypeDetection, w.onDetection),
		bus.Subscribe(events.EventTypeRunFinished, w.onRunFinished),
	)
	return w
}

// WithCheckInterval overrides how often the duration budget is checked
func (w *RunWatchdog) WithCheckInterval(interval time.Duration) *RunWatchdog {
	if interval > 0 {
		w.checkInterval = interval
	}
	return w
}

// Logger exposes the watchdog's logger for output configuration
func (w *RunWatchdog) Logger() *logging.Logger {
	return w.log
}

// Start launches the duration monitor goroutine
func (w *RunWatchdog) Start() {
	w.wg.Add(1)
	go w.monitorDuration()
}

// Stop unsubscribes from the bus and stops the duration monitor
func (w *RunWatchdog) Stop() {
	for _, id := range w.subs {
		w.bus.Unsubscribe(id)
	}
	w.subs = nil
	w.cancel()
	w.wg.Wait()
}

func (w *RunWatchdog) onRunStarted(ev events.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.runActive = true
	w.macroName, _ = ev.Data["macro_name"].(string)
	w.runStarted = time.Now()
	w.misses = 0
	w.tripped = false
}

func (w *RunWatchdog) onDetection(ev events.Event) {
	found, _ := ev.Data["found"].(bool)

	w.mu.Lock()
	if !w.runActive {
		w.mu.Unlock()
		return
	}
	if found {
		w.misses = 0
		w.mu.Unlock()
		return
	}
	w.misses++
	fire := w.cfg.MaxConsecutiveMisses > 0 &&
		w.misses >= w.cfg.MaxConsecutiveMisses &&
		w.markTrippedLocked()
	macro, misses := w.macroName, w.misses
	w.mu.Unlock()

	if fire {
		w.trip("consecutive_misses", macro, map[string]interface{}{
			"misses": misses,
			"limit":  w.cfg.MaxConsecutiveMisses,
		})
	}
}

func (w *RunWatchdog) onRunFinished(ev events.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.runActive = false
	w.misses = 0
}

func (w *RunWatchdog) monitorDuration() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.checkDuration()
		}
	}
}

func (w *RunWatchdog) checkDuration() {
	w.mu.Lock()
	if !w.runActive || w.cfg.MaxRunDuration <= 0 {
		w.mu.Unlock()
		return
	}
	elapsed := time.Since(w.runStarted)
	fire := elapsed > w.cfg.MaxRunDuration && w.markTrippedLocked()
	macro := w.macroName
	w.mu.Unlock()

	if fire {
		w.trip("run_duration_exceeded", macro, map[string]interface{}{
			"elapsed_ms": elapsed.Milliseconds(),
			"budget_ms":  w.cfg.MaxRunDuration.Milliseconds(),
		})
	}
}

// markTrippedLocked claims the one intervention allowed per run. Caller
// holds w.mu.
func (w *RunWatchdog) markTrippedLocked() bool {
	if w.tripped {
		return false
	}
	w.tripped = true
	return true
}

// trip logs, announces, and aborts. Runs without the lock held: the
// announce may originate inside a bus handler, and publishing must not be
// able to block the dispatcher, so it goes through a goroutine.
func (w *RunWatchdog) trip(reason, macro string, data map[string]interface{}) {
	w.log.WarnWithContext("Watchdog tripped, emergency-stopping run", map[string]interface{}{
		"reason": reason,
		"macro":  macro,
	})

	ev := events.NewWatchdogTrippedEvent(reason, macro, data)
	go w.bus.Publish(ev)

	if w.stopper != nil {
		w.stopper.EmergencyStop()
	} else {
		w.log.Warn("No stopper configured, run left unchecked")
	}
}
