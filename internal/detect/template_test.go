package detect

import (
	"image"
	"image/color"
	"testing"
)

// patternImage builds a deterministic high-frequency grayscale pattern.
// Different seeds change the spatial frequencies, so two patterns with
// different seeds do not correlate.
func patternImage(w, h, seed int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8((x*(37+seed) + y*(91+2*seed) + x*y*(13+seed)) % 251)
			img.SetRGBA(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

// flatImage returns a uniform gray canvas
func flatImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 128, G: 128, B: 128, A: 255})
		}
	}
	return img
}

// pasteAt copies src into dst with its top-left corner at (x, y)
func pasteAt(dst, src *image.RGBA, x, y int) {
	b := src.Bounds()
	for yy := 0; yy < b.Dy(); yy++ {
		for xx := 0; xx < b.Dx(); xx++ {
			dst.SetRGBA(x+xx, y+yy, src.RGBAAt(b.Min.X+xx, b.Min.Y+yy))
		}
	}
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func TestMatchTemplateFindsPastedPattern(t *testing.T) {
	tmpl := patternImage(20, 16, 1)
	screen := flatImage(100, 80)
	pasteAt(screen, tmpl, 37, 25)

	res := MatchTemplate(screen, tmpl, 0.99, nil, TemplateOptions{})

	if !res.Found {
		t.Fatalf("expected the pasted pattern to be found, score %.4f", res.Score)
	}
	if res.Score < 0.99 {
		t.Errorf("expected a near-perfect score, got %.4f", res.Score)
	}
	if res.Box == nil {
		t.Fatal("expected a bounding box")
	}
	if absInt(res.Box.X-37) > 1 || absInt(res.Box.Y-25) > 1 {
		t.Errorf("expected box at (37, 25), got (%d, %d)", res.Box.X, res.Box.Y)
	}
	if res.Box.W != 20 || res.Box.H != 16 {
		t.Errorf("expected the native-scale size 20x16, got %dx%d", res.Box.W, res.Box.H)
	}
	if res.Method != MethodTemplate {
		t.Errorf("expected method %q, got %q", MethodTemplate, res.Method)
	}
}

func TestMatchTemplateMissingInputs(t *testing.T) {
	tmpl := patternImage(8, 8, 1)
	screen := flatImage(40, 40)

	tests := []struct {
		name   string
		screen *image.RGBA
		tmpl   *image.RGBA
	}{
		{"nil screen", nil, tmpl},
		{"nil template", screen, nil},
		{"empty template", screen, image.NewRGBA(image.Rect(0, 0, 0, 0))},
		{"template larger than screen", flatImage(10, 10), patternImage(50, 50, 2)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := MatchTemplate(tt.screen, tt.tmpl, 0.8, nil, TemplateOptions{})
			if res.Found {
				t.Error("expected no match")
			}
			if res.Score != 0 {
				t.Errorf("expected score 0, got %.4f", res.Score)
			}
			if res.Box != nil {
				t.Errorf("expected no box, got %+v", *res.Box)
			}
		})
	}
}

func TestMatchTemplateROIBoxIsCropRelative(t *testing.T) {
	tmpl := patternImage(20, 16, 1)
	screen := flatImage(120, 90)
	pasteAt(screen, tmpl, 50, 40)

	roi := &Box{X: 40, Y: 30, W: 50, H: 40}
	res := MatchTemplate(screen, tmpl, 0.99, roi, TemplateOptions{})

	if !res.Found || res.Box == nil {
		t.Fatalf("expected a match inside the ROI, found=%v score=%.4f", res.Found, res.Score)
	}
	// Coordinates come back relative to the crop, not the full screen
	if absInt(res.Box.X-10) > 1 || absInt(res.Box.Y-10) > 1 {
		t.Errorf("expected crop-relative box near (10, 10), got (%d, %d)", res.Box.X, res.Box.Y)
	}
}

func TestMatchTemplateROIOutsideScreen(t *testing.T) {
	tmpl := patternImage(8, 8, 1)
	screen := flatImage(40, 40)

	roi := &Box{X: 500, Y: 500, W: 20, H: 20}
	res := MatchTemplate(screen, tmpl, 0.5, roi, TemplateOptions{})

	if res.Found || res.Score != 0 || res.Box != nil {
		t.Errorf("expected an empty result for an off-screen ROI, got %+v", res)
	}
}

func TestMatchTemplateROIClampsNegativeOrigin(t *testing.T) {
	tmpl := patternImage(8, 8, 3)
	screen := flatImage(40, 40)
	pasteAt(screen, tmpl, 5, 5)

	roi := &Box{X: -10, Y: -10, W: 30, H: 30}
	res := MatchTemplate(screen, tmpl, 0.99, roi, TemplateOptions{})

	if !res.Found || res.Box == nil {
		t.Fatalf("expected a match after clamping the ROI origin, found=%v", res.Found)
	}
	if absInt(res.Box.X-5) > 1 || absInt(res.Box.Y-5) > 1 {
		t.Errorf("expected box near (5, 5), got (%d, %d)", res.Box.X, res.Box.Y)
	}
}

func TestMatchTemplateReportsBestScoreBelowConfidence(t *testing.T) {
	present := patternImage(20, 16, 1)
	absent := patternImage(20, 16, 9)
	screen := flatImage(100, 80)
	pasteAt(screen, present, 30, 20)

	res := MatchTemplate(screen, absent, 0.99, nil, TemplateOptions{})

	if res.Found {
		t.Errorf("expected no acceptable match, got score %.4f", res.Score)
	}
	// The best score and its box are still reported for diagnostics
	if res.Box == nil {
		t.Error("expected the best-effort box to be reported")
	}
	if res.Score >= 0.99 {
		t.Errorf("expected a score below the threshold, got %.4f", res.Score)
	}
}

func TestMatchTemplateFlatImagesNeverMatch(t *testing.T) {
	res := MatchTemplate(flatImage(60, 60), flatImage(12, 12), 0.1, nil, TemplateOptions{})

	if res.Found || res.Box != nil || res.Score != 0 {
		t.Errorf("expected no match between flat images, got %+v", res)
	}
}

func TestMatchTemplateStrideWithRefine(t *testing.T) {
	tmpl := patternImage(20, 16, 2)
	screen := flatImage(100, 80)
	// Paste on the stride lattice so the coarse pass lands on the peak
	pasteAt(screen, tmpl, 40, 28)

	res := MatchTemplate(screen, tmpl, 0.99, nil, TemplateOptions{Stride: 4, Refine: true})

	if !res.Found || res.Box == nil {
		t.Fatalf("expected the strided scan to find the pattern, found=%v score=%.4f", res.Found, res.Score)
	}
	if absInt(res.Box.X-40) > 1 || absInt(res.Box.Y-28) > 1 {
		t.Errorf("expected box near (40, 28), got (%d, %d)", res.Box.X, res.Box.Y)
	}
}
