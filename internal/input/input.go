// Package input sends real mouse and keyboard events to the OS.
package input

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-vgo/robotgo"
)

// DefaultChordHold is how long a key chord stays held before release
const DefaultChordHold = 50 * time.Millisecond

// namedKeys are the sequence items typed as key taps instead of literal text
var namedKeys = map[string]string{
	"ENTER": "enter",
	"TAB":   "tab",
	"ESC":   "escape",
}

// Robot injects input through robotgo
type Robot struct {
	chordHold time.Duration
}

// New returns an injector with default timing
func New() *Robot {
	return &Robot{chordHold: DefaultChordHold}
}

// WithChordHold overrides how long chords are held down
func (r *Robot) WithChordHold(hold time.Duration) *Robot {
	if hold > 0 {
		r.chordHold = hold
	}
	return r
}

// Move places the cursor at screen coordinates
func (r *Robot) Move(x, y int) error {
	robotgo.Move(x, y)
	return nil
}

// ClickAt moves the cursor and clicks the given button
func (r *Robot) ClickAt(x, y int, button string) error {
	robotgo.Move(x, y)
	robotgo.Click(normalizeButton(button), false)
	return nil
}

// Click presses the given button at the current cursor position
func (r *Robot) Click(button string) error {
	robotgo.Click(normalizeButton(button), false)
	return nil
}

// TypeSequence processes sequence items in order: ENTER, TAB and ESC
// (case-insensitive) are tapped as keys, everything else is typed as
// literal text.
func (r *Robot) TypeSequence(items []string) error {
	for _, item := range items {
		if key, ok := namedKeys[strings.ToUpper(item)]; ok {
			if err := robotgo.KeyTap(key); err != nil {
				return fmt.Errorf("key tap %q failed: %w", key, err)
			}
			continue
		}
		robotgo.TypeStr(item)
	}
	return nil
}

// PressChord holds all keys down together for holdMs milliseconds, then
// releases them in reverse order. Keys may be modifiers ("ctrl", "shift")
// or regular keys. A non-positive holdMs uses the injector's configured
// hold.
func (r *Robot) PressChord(keys []string, holdMs int) error {
	hold := r.chordHold
	if holdMs > 0 {
		hold = time.Duration(holdMs) * time.Millisecond
	}

	resolved := make([]string, len(keys))
	for i, k := range keys {
		resolved[i] = normalizeKey(k)
	}

	var pressed []string
	for _, k := range resolved {
		if err := robotgo.KeyToggle(k, "down"); err != nil {
			// Release anything already held before reporting
			releaseReversed(pressed)
			return fmt.Errorf("key down %q failed: %w", k, err)
		}
		pressed = append(pressed, k)
	}

	time.Sleep(hold)
	releaseReversed(pressed)
	return nil
}

func releaseReversed(keys []string) {
	for i := len(keys) - 1; i >= 0; i-- {
		robotgo.KeyToggle(keys[i], "up")
	}
}

// normalizeButton maps button aliases onto robotgo's names
func normalizeButton(button string) string {
	switch strings.ToLower(button) {
	case "", "left":
		return "left"
	case "right":
		return "right"
	case "middle", "center":
		return "center"
	default:
		return strings.ToLower(button)
	}
}

// normalizeKey maps common key aliases onto robotgo's names
func normalizeKey(key string) string {
	switch strings.ToLower(key) {
	case "command", "cmd", "super":
		return "command"
	case "control", "ctrl":
		return "control"
	case "alt", "option":
		return "alt"
	case "esc", "escape":
		return "escape"
	case "return":
		return "enter"
	default:
		return strings.ToLower(key)
	}
}
