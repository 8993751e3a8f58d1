package detect

import (
	"errors"
	"time"
)

// Method selects the matching algorithm for a detect request
type Method string

const (
	MethodTemplate Method = "template"
	MethodFeature  Method = "feature"
)

// Feature detector backends
const (
	DetectorORB   = "ORB"
	DetectorAKAZE = "AKAZE"
)

// Default acceptance thresholds per method
const (
	DefaultTemplateConfidence = 0.85
	DefaultFeatureConfidence  = 0.5
)

// DefaultMaxCandidates bounds the candidate list returned by feature matching
const DefaultMaxCandidates = 5

// DefaultIoUThreshold is the overlap limit used during suppression
const DefaultIoUThreshold = 0.3

// Box is an axis-aligned rectangle in (x, y, w, h) form.
// Width and height are always at least 1 for boxes produced by the matchers.
type Box struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Area returns the box area in pixels
func (b Box) Area() int {
	return b.W * b.H
}

// Candidate is one ranked feature-matching hit
type Candidate struct {
	Box   Box     `json:"box"`
	Score float64 `json:"score"`
}

// Request describes one detection to perform
type Request struct {
	// Template is a registry name or an image file path
	Template string

	// Method chooses the algorithm; empty means MethodTemplate
	Method Method

	// Conf is the acceptance threshold. Nil falls back to the registry
	// template's threshold when one is configured, then to the method default.
	Conf *float64

	// ROI restricts template matching to a sub-rectangle of the screen.
	// The resulting box is relative to the ROI crop, not the full screen.
	ROI *Box

	// MaxCandidates bounds the feature candidate list (0 means default)
	MaxCandidates int

	// FeatureDetector selects ORB or AKAZE (empty means ORB)
	FeatureDetector string
}

// Result is the normalized outcome of one detection
type Result struct {
	Found      bool          `json:"found"`
	Box        *Box          `json:"box,omitempty"`
	Score      float64       `json:"score"`
	Candidates []Candidate   `json:"candidates,omitempty"`
	Method     Method        `json:"method"`
	Template   string        `json:"template"`
	ScreenHash string        `json:"screen_hash,omitempty"`
	Elapsed    time.Duration `json:"elapsed_ns"`
}

// Error types
var (
	ErrTemplateNotFound = errors.New("template not found")
	ErrUnknownMethod    = errors.New("unknown detection method")
	ErrCaptureFailed    = errors.New("screen capture failed")
)

// clampScore keeps scores inside [0, 1]; raw correlation can dip below zero
func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
