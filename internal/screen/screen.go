// Package screen grabs frames from the primary display for detection.
package screen

import (
	"fmt"
	"image"

	"github.com/vova616/screenshot"
)

// Screen captures the primary display. It satisfies the detection service's
// capture dependency.
type Screen struct{}

// New returns a screen capturer
func New() *Screen {
	return &Screen{}
}

// CaptureFullScreen grabs the entire primary screen as RGBA
func (s *Screen) CaptureFullScreen() (*image.RGBA, error) {
	img, err := screenshot.CaptureScreen()
	if err != nil {
		return nil, fmt.Errorf("screen capture failed: %w", err)
	}
	return img, nil
}

// CaptureRegion grabs the w x h sub-rectangle anchored at (x, y). The
// returned image's coordinates are region-relative.
func (s *Screen) CaptureRegion(x, y, w, h int) (*image.RGBA, error) {
	rect := image.Rect(x, y, x+w, y+h)
	img, err := screenshot.CaptureRect(rect)
	if err != nil {
		return nil, fmt.Errorf("screen capture failed for %v: %w", rect, err)
	}
	return img, nil
}

// Bounds reports the primary screen rectangle
func (s *Screen) Bounds() (image.Rectangle, error) {
	rect, err := screenshot.ScreenRect()
	if err != nil {
		return image.Rectangle{}, fmt.Errorf("screen bounds query failed: %w", err)
	}
	return rect, nil
}
