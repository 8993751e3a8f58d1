package detect

import (
	"image"
	"math"
	"time"

	"github.com/nfnt/resize"
)

// templateScales is the fixed multi-scale search order. The order matters:
// equal best scores resolve to the scale evaluated later in this list.
var templateScales = []float64{1.0, 0.9, 0.8, 1.1}

// TemplateOptions tunes the NCC scan. The zero value scans exhaustively.
type TemplateOptions struct {
	// Stride skips positions during the coarse scan; <=1 scans every pixel
	Stride int
	// Refine re-scans a stride-sized neighborhood of the coarse best at
	// stride 1. Only meaningful with Stride > 1.
	Refine bool
}

// grayPlane holds a grayscale image with its summed-area tables.
// The integrals are (w+1)*(h+1) so window queries need no edge cases.
type grayPlane struct {
	w, h       int
	pix        []float64
	integral   []float64
	integralSq []float64
}

// newGrayPlane converts an RGBA image to grayscale and builds the integral
// tables that make per-window mean/variance queries O(1).
func newGrayPlane(img *image.RGBA) *grayPlane {
	if img == nil {
		return nil
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil
	}

	p := &grayPlane{
		w:          w,
		h:          h,
		pix:        make([]float64, w*h),
		integral:   make([]float64, (w+1)*(h+1)),
		integralSq: make([]float64, (w+1)*(h+1)),
	}

	for y := 0; y < h; y++ {
		rowSum := 0.0
		rowSumSq := 0.0
		srcRow := img.PixOffset(b.Min.X, b.Min.Y+y)
		for x := 0; x < w; x++ {
			idx := srcRow + x*4
			r := img.Pix[idx]
			g := img.Pix[idx+1]
			bl := img.Pix[idx+2]

			// Luminance formula
			v := float64((int(r)*299 + int(g)*587 + int(bl)*114) / 1000)
			p.pix[y*w+x] = v

			rowSum += v
			rowSumSq += v * v
			p.integral[(y+1)*(w+1)+(x+1)] = p.integral[y*(w+1)+(x+1)] + rowSum
			p.integralSq[(y+1)*(w+1)+(x+1)] = p.integralSq[y*(w+1)+(x+1)] + rowSumSq
		}
	}

	return p
}

// windowSum queries an integral table for the inclusive window
// (x, y)..(x+w-1, y+h-1).
func (p *grayPlane) windowSum(table []float64, x, y, w, h int) float64 {
	w1 := p.w + 1
	return table[(y+h)*w1+(x+w)] - table[y*w1+(x+w)] - table[(y+h)*w1+x] + table[y*w1+x]
}

// templateStats caches the grayscale pixels and summary statistics of one
// template at one scale.
type templateStats struct {
	w, h int
	pix  []float64
	mean float64
	std  float64
}

func newTemplateStats(img *image.RGBA) *templateStats {
	p := newGrayPlane(img)
	if p == nil {
		return nil
	}
	n := float64(p.w * p.h)
	var sum, sumSq float64
	for _, v := range p.pix {
		sum += v
		sumSq += v * v
	}
	mean := sum / n
	variance := (sumSq - sum*sum/n) / n
	std := 0.0
	if variance > 0 {
		std = math.Sqrt(variance)
	}
	return &templateStats{w: p.w, h: p.h, pix: p.pix, mean: mean, std: std}
}

// MatchTemplate searches screen for tmpl with multi-scale normalized
// cross-correlation and returns the single best match.
//
// When roi is non-nil the search is restricted to that sub-rectangle of the
// screen (coordinates clamped to >=0, size clamped to >=1) and the returned
// box is relative to the ROI crop — it is intentionally NOT reprojected to
// full-screen coordinates.
//
// A nil or empty screen/template yields found=false with score 0, never an
// error: missing or corrupt template files are a soft failure by contract.
func MatchTemplate(screen, tmpl *image.RGBA, conf float64, roi *Box, opts TemplateOptions) Result {
	start := time.Now()
	res := Result{Method: MethodTemplate, Score: 0}

	search := screen
	if roi != nil && screen != nil {
		search = cropROI(screen, *roi)
	}

	plane := newGrayPlane(search)
	if plane == nil || tmpl == nil {
		res.Elapsed = time.Since(start)
		return res
	}

	tb := tmpl.Bounds()
	tw0, th0 := tb.Dx(), tb.Dy()
	if tw0 == 0 || th0 == 0 {
		res.Elapsed = time.Since(start)
		return res
	}

	bestScore := -1.0
	bestBox := Box{}
	matched := false

	for _, scale := range templateScales {
		tw := maxInt(1, int(float64(tw0)*scale))
		th := maxInt(1, int(float64(th0)*scale))
		if tw > plane.w || th > plane.h {
			continue
		}

		scaled := tmpl
		if tw != tw0 || th != th0 {
			scaled = toRGBA(resize.Resize(uint(tw), uint(th), tmpl, resize.Bilinear))
		}
		stats := newTemplateStats(scaled)
		if stats == nil {
			continue
		}

		score, x, y, ok := scanNCC(plane, stats, opts)
		if !ok {
			continue
		}

		// Later scales win ties: >= rather than >
		if score >= bestScore {
			bestScore = score
			bestBox = Box{X: x, Y: y, W: tw, H: th}
			matched = true
		}
	}

	if matched {
		res.Found = bestScore >= conf
		res.Score = clampScore(bestScore)
		box := bestBox
		res.Box = &box
	}
	res.Elapsed = time.Since(start)
	return res
}

// scanNCC slides the template over the plane and returns the best raw
// correlation with its position. Within one scale the first position wins
// ties (strict > comparison), matching a row-major arg-max.
func scanNCC(plane *grayPlane, stats *templateStats, opts TemplateOptions) (score float64, bx, by int, ok bool) {
	w, h := stats.w, stats.h
	if w > plane.w || h > plane.h {
		return 0, 0, 0, false
	}

	stride := opts.Stride
	if stride <= 1 {
		stride = 1
	}

	bestScore := math.Inf(-1)
	bestX, bestY := 0, 0
	found := false

	eval := func(x, y int) {
		s, valid := nccAt(plane, stats, x, y)
		if valid && s > bestScore {
			bestScore, bestX, bestY = s, x, y
			found = true
		}
	}

	for y := 0; y+h <= plane.h; y += stride {
		for x := 0; x+w <= plane.w; x += stride {
			eval(x, y)
		}
	}

	if opts.Refine && stride > 1 && found {
		minY := maxInt(0, bestY-stride)
		maxY := minInt(plane.h-h, bestY+stride)
		minX := maxInt(0, bestX-stride)
		maxX := minInt(plane.w-w, bestX+stride)
		for y := minY; y <= maxY; y++ {
			for x := minX; x <= maxX; x++ {
				eval(x, y)
			}
		}
	}

	if !found {
		return 0, 0, 0, false
	}
	return bestScore, bestX, bestY, true
}

// nccAt computes the zero-mean normalized cross-correlation of the template
// against the window at (x, y). Flat windows or a flat template produce no
// valid score.
func nccAt(plane *grayPlane, stats *templateStats, x, y int) (float64, bool) {
	w, h := stats.w, stats.h
	n := float64(w * h)

	if stats.std <= 1e-9 {
		return 0, false
	}

	sumF := plane.windowSum(plane.integral, x, y, w, h)
	sumF2 := plane.windowSum(plane.integralSq, x, y, w, h)
	meanF := sumF / n
	varF := (sumF2 - sumF*sumF/n) / n
	if varF <= 1e-9 {
		return 0, false
	}
	stdF := math.Sqrt(varF)

	var dot float64
	for ty := 0; ty < h; ty++ {
		rowP := (y + ty) * plane.w
		rowT := ty * w
		for tx := 0; tx < w; tx++ {
			dot += plane.pix[rowP+x+tx] * stats.pix[rowT+tx]
		}
	}

	numer := dot - n*meanF*stats.mean
	denom := n * stdF * stats.std
	if denom <= 0 {
		return 0, false
	}
	return numer / denom, true
}

// cropROI clamps a requested ROI against the screen bounds and copies the
// covered pixels. Origin clamps to >=0, size to >=1.
func cropROI(screen *image.RGBA, roi Box) *image.RGBA {
	x := maxInt(0, roi.X)
	y := maxInt(0, roi.Y)
	w := maxInt(1, roi.W)
	h := maxInt(1, roi.H)

	b := screen.Bounds()
	rect := image.Rect(b.Min.X+x, b.Min.Y+y, b.Min.X+x+w, b.Min.Y+y+h).Intersect(b)
	if rect.Empty() {
		return nil
	}

	cropped := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	for yy := 0; yy < rect.Dy(); yy++ {
		for xx := 0; xx < rect.Dx(); xx++ {
			cropped.SetRGBA(xx, yy, screen.RGBAAt(rect.Min.X+xx, rect.Min.Y+yy))
		}
	}
	return cropped
}

// toRGBA converts any decoded image to RGBA without copying when possible
func toRGBA(img image.Image) *image.RGBA {
	if img == nil {
		return nil
	}
	if rgba, isRGBA := img.(*image.RGBA); isRGBA {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			rgba.Set(x, y, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return rgba
}
