// Package config loads and saves tool settings from Settings.ini.
package config

import (
	"fmt"
	"strings"

	"gopkg.in/ini.v1"
)

// Settings holds every tunable the tools read at startup. Project files and
// macro files carry their own per-macro data; this is host configuration.
type Settings struct {
	// Engine
	SimulationMode bool
	PollIntervalMs int

	// Detection
	TemplatesDir      string
	TemplatesManifest string
	FeatureDetector   string

	// Input
	ChordHoldMs int

	// Journal
	JournalEnabled bool
	JournalPath    string

	// Logging
	LogLevel  string
	LogFile   string
	EventsDir string

	// Watchdog
	WatchdogEnabled      bool
	MaxRunMinutes        int
	MaxConsecutiveMisses int
}

// NewDefaultSettings returns the settings used when no ini file exists.
// Simulation starts enabled and the watchdog disabled, so a bare install
// neither injects input nor aborts runs until configured to.
func NewDefaultSettings() *Settings {
	return &Settings{
		SimulationMode:       true,
		PollIntervalMs:       50,
		TemplatesDir:         "templates",
		TemplatesManifest:    "",
		FeatureDetector:      "ORB",
		ChordHoldMs:          50,
		JournalEnabled:       true,
		JournalPath:          "journal.db",
		LogLevel:             "INFO",
		LogFile:              "",
		EventsDir:            "",
		WatchdogEnabled:      false,
		MaxRunMinutes:        30,
		MaxConsecutiveMisses: 20,
	}
}

// LoadFromINI loads settings from an ini file, filling absent keys with the
// defaults above
func LoadFromINI(path string) (*Settings, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings file: %w", err)
	}

	def := NewDefaultSettings()
	s := &Settings{}

	engine := cfg.Section("Engine")
	s.SimulationMode = engine.Key("simulationMode").MustBool(def.SimulationMode)
	s.PollIntervalMs = engine.Key("pollIntervalMs").MustInt(def.PollIntervalMs)

	detection := cfg.Section("Detection")
	s.TemplatesDir = detection.Key("templatesDir").MustString(def.TemplatesDir)
	s.TemplatesManifest = detection.Key("templatesManifest").MustString(def.TemplatesManifest)
	s.FeatureDetector = strings.ToUpper(detection.Key("featureDetector").MustString(def.FeatureDetector))

	input := cfg.Section("Input")
	s.ChordHoldMs = input.Key("chordHoldMs").MustInt(def.ChordHoldMs)

	journal := cfg.Section("Journal")
	s.JournalEnabled = journal.Key("enabled").MustBool(def.JournalEnabled)
	s.JournalPath = journal.Key("path").MustString(def.JournalPath)

	logging := cfg.Section("Logging")
	s.LogLevel = logging.Key("level").MustString(def.LogLevel)
	s.LogFile = logging.Key("file").MustString(def.LogFile)
	s.EventsDir = logging.Key("eventsDir").MustString(def.EventsDir)

	watchdog := cfg.Section("Watchdog")
	s.WatchdogEnabled = watchdog.Key("enabled").MustBool(def.WatchdogEnabled)
	s.MaxRunMinutes = watchdog.Key("maxRunMinutes").MustInt(def.MaxRunMinutes)
	s.MaxConsecutiveMisses = watchdog.Key("maxConsecutiveMisses").MustInt(def.MaxConsecutiveMisses)

	return s, nil
}

// LoadOrDefault loads settings, falling back to defaults when the file does
// not exist or cannot be parsed. The error is returned alongside so callers
// can log the fallback without aborting.
func LoadOrDefault(path string) (*Settings, error) {
	s, err := LoadFromINI(path)
	if err != nil {
		return NewDefaultSettings(), err
	}
	return s, nil
}

// SaveToINI writes settings to an ini file
func SaveToINI(s *Settings, path string) error {
	cfg := ini.Empty()

	engine := cfg.Section("Engine")
	engine.Key("simulationMode").SetValue(fmt.Sprintf("%t", s.SimulationMode))
	engine.Key("pollIntervalMs").SetValue(fmt.Sprintf("%d", s.PollIntervalMs))

	detection := cfg.Section("Detection")
	detection.Key("templatesDir").SetValue(s.TemplatesDir)
	detection.Key("templatesManifest").SetValue(s.TemplatesManifest)
	detection.Key("featureDetector").SetValue(s.FeatureDetector)

	input := cfg.Section("Input")
	input.Key("chordHoldMs").SetValue(fmt.Sprintf("%d", s.ChordHoldMs))

	journal := cfg.Section("Journal")
	journal.Key("enabled").SetValue(fmt.Sprintf("%t", s.JournalEnabled))
	journal.Key("path").SetValue(s.JournalPath)

	logging := cfg.Section("Logging")
	logging.Key("level").SetValue(s.LogLevel)
	logging.Key("file").SetValue(s.LogFile)
	logging.Key("eventsDir").SetValue(s.EventsDir)

	watchdog := cfg.Section("Watchdog")
	watchdog.Key("enabled").SetValue(fmt.Sprintf("%t", s.WatchdogEnabled))
	watchdog.Key("maxRunMinutes").SetValue(fmt.Sprintf("%d", s.MaxRunMinutes))
	watchdog.Key("maxConsecutiveMisses").SetValue(fmt.Sprintf("%d", s.MaxConsecutiveMisses))

	return cfg.SaveTo(path)
}
