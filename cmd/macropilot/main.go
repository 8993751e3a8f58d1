package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"jordanella.com/macropilot/internal/config"
	"jordanella.com/macropilot/internal/detect"
	"jordanella.com/macropilot/internal/engine"
	"jordanella.com/macropilot/internal/events"
	"jordanella.com/macropilot/internal/input"
	"jordanella.com/macropilot/internal/journal"
	"jordanella.com/macropilot/internal/logging"
	"jordanella.com/macropilot/internal/monitor"
	"jordanella.com/macropilot/internal/screen"
	"jordanella.com/macropilot/internal/timeline"
	"jordanella.com/macropilot/pkg/templates"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Parse command line flags
	projectPath := flag.String("project", "", "Path to a project JSON file")
	macroKey := flag.String("macro", "", "Macro id or name inside the project (default: first macro)")
	macroPath := flag.String("macro-file", "", "Path to a standalone macro YAML file")
	settingsPath := flag.String("settings", "Settings.ini", "Path to the settings INI file")
	live := flag.Bool("live", false, "Disable simulation mode and inject real input")
	list := flag.Bool("list", false, "List the macros in the project and exit")
	flag.Parse()

	settings, err := config.LoadOrDefault(*settingsPath)
	if err != nil {
		log.Printf("Settings unavailable, using defaults: %v", err)
	}

	if *list {
		return listMacros(*projectPath)
	}

	name, tl, err := loadTimeline(*projectPath, *macroKey, *macroPath)
	if err != nil {
		return err
	}
	log.Printf("Loaded macro %q with %d actions", name, len(tl))

	// Event bus first: everything else hangs off it
	bus := events.NewEventBus(256)

	if settings.JournalEnabled {
		rec, db, err := openJournal(settings.JournalPath, bus)
		if err != nil {
			log.Printf("Journal disabled: %v", err)
		} else {
			defer db.Close()
			defer rec.Close()
		}
	}

	if settings.EventsDir != "" {
		el, err := logging.NewEventLogger(bus, settings.EventsDir)
		if err != nil {
			log.Printf("Event mirror disabled: %v", err)
		} else {
			defer el.Close()
		}
	}

	// Stop drains pending events before the journal and event-mirror defers
	// close their files
	defer bus.Stop()

	registry := loadTemplates(settings)

	svc := detect.NewService(screen.New()).
		WithTemplateRegistry(registry).
		WithFeatureDetector(settings.FeatureDetector)

	robot := input.New()
	if settings.ChordHoldMs > 0 {
		robot.WithChordHold(time.Duration(settings.ChordHoldMs) * time.Millisecond)
	}

	eng := engine.New().
		WithBus(bus).
		WithInjector(robot).
		WithDetector(svc)
	if settings.PollIntervalMs > 0 {
		eng.WithPollInterval(time.Duration(settings.PollIntervalMs) * time.Millisecond)
	}

	simulation := settings.SimulationMode && !*live
	eng.SetSimulationMode(simulation)
	if simulation {
		log.Println("Simulation mode: input injection is suppressed")
	} else {
		log.Println("Live mode: real input will be injected")
	}

	loggers := []*logging.Logger{eng.Logger(), svc.Logger()}
	if settings.WatchdogEnabled {
		wd := monitor.NewRunWatchdog(bus, eng, monitor.WatchdogConfig{
			MaxRunDuration:       time.Duration(settings.MaxRunMinutes) * time.Minute,
			MaxConsecutiveMisses: settings.MaxConsecutiveMisses,
		})
		loggers = append(loggers, wd.Logger())
		wd.Start()
		defer wd.Stop()
	}
	applyLogging(settings, loggers...)

	eng.SubscribeStatus(func(status string) {
		log.Printf("Engine status: %s", status)
	})

	finished := make(chan events.Event, 1)
	bus.Subscribe(events.EventTypeRunFinished, func(ev events.Event) {
		select {
		case finished <- ev:
		default:
		}
	})

	reporter := logging.NewErrorReporter()
	bus.Subscribe(events.EventTypeError, func(ev events.Event) {
		comp, _ := ev.Data["component"].(string)
		msg, _ := ev.Data["error"].(string)
		reporter.ReportErrorWithContext(logging.ErrorCategoryEngine, logging.ErrorSeverityHigh,
			comp, msg, nil, ev.Data)
	})
	bus.Subscribe(events.EventTypeWatchdogTripped, func(ev events.Event) {
		reason, _ := ev.Data["reason"].(string)
		reporter.ReportErrorWithContext(logging.ErrorCategorySystem, logging.ErrorSeverityHigh,
			"watchdog", fmt.Sprintf("watchdog tripped: %s", reason), nil, ev.Data)
	})

	// First interrupt stops after the in-flight action, second one is an
	// emergency stop
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Interrupt received, stopping after the current action")
		eng.Stop()
		<-sigCh
		log.Println("Second interrupt, emergency stop")
		eng.EmergencyStop()
	}()

	if err := eng.Start(name, tl); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}
	eng.Wait()

	var runFailed error
	select {
	case ev := <-finished:
		status, _ := ev.Data["status"].(string)
		log.Printf("Run %q finished: %s (%v actions in %vms)",
			name, status, ev.Data["actions_executed"], ev.Data["duration_ms"])
		if status == "failed" {
			if msg, ok := ev.Data["error"].(string); ok {
				runFailed = fmt.Errorf("run failed: %s", msg)
			} else {
				runFailed = fmt.Errorf("run failed")
			}
		}
	case <-time.After(2 * time.Second):
		log.Println("Run finished, no summary event received")
	}

	if stats := reporter.Stats(); stats["total"] > 0 {
		log.Printf("Errors reported during the run: %d", stats["total"])
		for _, rep := range reporter.RecentErrors(5) {
			log.Printf("  [%s/%s] %s: %s", rep.Category, rep.Severity, rep.Component, rep.Message)
		}
	}

	return runFailed
}

func listMacros(projectPath string) error {
	if projectPath == "" {
		return fmt.Errorf("-list requires -project")
	}
	project, err := timeline.LoadProject(projectPath)
	if err != nil {
		return fmt.Errorf("load project: %w", err)
	}
	fmt.Printf("Project %q (%d macros)\n", project.Name, len(project.Macros))
	for _, m := range project.Macros {
		fmt.Printf("  %-24s %-24s %3d actions  %s\n", m.ID, m.Name, len(m.Timeline), m.Description)
	}
	return nil
}

// loadTimeline resolves the macro to run from the flag combination
func loadTimeline(projectPath, macroKey, macroPath string) (string, timeline.Timeline, error) {
	switch {
	case macroPath != "":
		macro, err := timeline.LoadMacroFile(macroPath)
		if err != nil {
			return "", nil, fmt.Errorf("load macro file: %w", err)
		}
		return macro.Name, macro.Timeline, nil

	case projectPath != "":
		project, err := timeline.LoadProject(projectPath)
		if err != nil {
			return "", nil, fmt.Errorf("load project: %w", err)
		}
		if macroKey == "" {
			if len(project.Macros) == 0 {
				return "", nil, fmt.Errorf("project %s contains no macros", projectPath)
			}
			first := project.Macros[0]
			return first.Name, first.Timeline, nil
		}
		macro, ok := project.FindMacro(macroKey)
		if !ok {
			return "", nil, fmt.Errorf("macro %q not found in %s", macroKey, projectPath)
		}
		return macro.Name, macro.Timeline, nil

	default:
		return "", nil, fmt.Errorf("one of -project or -macro-file is required")
	}
}

func openJournal(path string, bus events.EventBus) (*journal.Recorder, *journal.DB, error) {
	db, err := journal.Open(path)
	if err != nil {
		return nil, nil, err
	}
	if err := db.RunMigrations(); err != nil {
		db.Close()
		return nil, nil, err
	}
	return journal.NewRecorder(db, bus), db, nil
}

// loadTemplates builds the registry from the manifest file when configured,
// otherwise from every YAML file in the templates directory.
func loadTemplates(settings *config.Settings) *templates.TemplateRegistry {
	registry := templates.NewTemplateRegistry(settings.TemplatesDir)

	if settings.TemplatesManifest != "" {
		if err := registry.LoadFromFile(settings.TemplatesManifest); err != nil {
			log.Printf("Template manifest load failed: %v", err)
		}
	} else if info, err := os.Stat(settings.TemplatesDir); err == nil && info.IsDir() {
		if err := registry.LoadFromDirectory(settings.TemplatesDir); err != nil {
			log.Printf("Template directory load failed: %v", err)
		}
	}

	if n := registry.Count(); n > 0 {
		log.Printf("Loaded %d templates", n)
		if err := registry.PreloadAll(); err != nil {
			log.Printf("Template preload failed: %v", err)
		}
	}
	return registry
}

func applyLogging(settings *config.Settings, loggers ...*logging.Logger) {
	level := logging.ParseLevel(settings.LogLevel)
	for _, lg := range loggers {
		lg.SetMinLevel(level)
	}

	if settings.LogFile == "" {
		return
	}
	f, err := os.OpenFile(settings.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		log.Printf("Log file unavailable: %v", err)
		return
	}
	// The file handle lives for the remainder of the process
	for _, lg := range loggers {
		lg.AddOutput(f, &logging.JSONLinesFormatter{})
	}
}
