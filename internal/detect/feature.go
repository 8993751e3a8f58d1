package detect

import (
	"image"
	"math"
	"sort"

	"gocv.io/x/gocv"
)

// Feature-matching constants. The ratio test and RANSAC parameters are fixed
// by contract, not configurable.
const (
	orbFeatureCount    = 2000
	loweRatio          = 0.75
	clusterBinSize     = 40.0
	minClusterPoints   = 6
	ransacReprojThresh = 5.0
	minCorrespondences = 4
)

// FeatureOptions configures a feature-matching run
type FeatureOptions struct {
	// Detector selects DetectorORB (default) or DetectorAKAZE
	Detector string
	// MaxCandidates truncates the ranked candidate list (0 means default)
	MaxCandidates int
}

type keypointDetector interface {
	DetectAndCompute(src gocv.Mat, mask gocv.Mat) ([]gocv.KeyPoint, gocv.Mat)
	Close() error
}

// MatchFeatures locates a template in screen using keypoint matching and
// returns ranked candidates, best first. It returns an empty list on decode
// failure, fewer than 4 keypoints in either image, or fewer than 4 good
// descriptor matches.
//
// Matched screen points are clustered into a uniform 40px grid before
// per-cluster homography estimation. This is coarse proximity clustering, not
// density-based: one object sitting across a bin boundary can split into two
// clusters.
func MatchFeatures(screen, tmpl *image.RGBA, conf float64, opts FeatureOptions) []Candidate {
	if screen == nil || tmpl == nil {
		return nil
	}

	grayScreen, okS := toGrayMat(screen)
	if !okS {
		return nil
	}
	defer grayScreen.Close()

	grayTmpl, okT := toGrayMat(tmpl)
	if !okT {
		return nil
	}
	defer grayTmpl.Close()

	detector, ok := newKeypointDetector(opts.Detector)
	if !ok {
		return nil
	}
	defer detector.Close()

	mask := gocv.NewMat()
	defer mask.Close()

	kpTmpl, desTmpl := detector.DetectAndCompute(grayTmpl, mask)
	defer desTmpl.Close()
	kpScreen, desScreen := detector.DetectAndCompute(grayScreen, mask)
	defer desScreen.Close()

	if len(kpTmpl) < 4 || len(kpScreen) < 4 || desTmpl.Empty() || desScreen.Empty() {
		return nil
	}

	matcher := gocv.NewBFMatcherWithParams(gocv.NormHamming, false)
	defer matcher.Close()

	knn := matcher.KnnMatch(desTmpl, desScreen, 2)

	// Lowe ratio test against the second-best neighbor
	var tmplXs, tmplYs, screenXs, screenYs []float64
	for _, pair := range knn {
		if len(pair) < 2 {
			continue
		}
		if pair[0].Distance < loweRatio*pair[1].Distance {
			qt := kpTmpl[pair[0].QueryIdx]
			ts := kpScreen[pair[0].TrainIdx]
			tmplXs = append(tmplXs, qt.X)
			tmplYs = append(tmplYs, qt.Y)
			screenXs = append(screenXs, ts.X)
			screenYs = append(screenYs, ts.Y)
		}
	}

	if len(screenXs) < minCorrespondences {
		return nil
	}

	tb := tmpl.Bounds()
	tw, th := float64(tb.Dx()), float64(tb.Dy())

	var candidates []Candidate
	clusters := clusterByGrid(screenXs, screenYs, clusterBinSize, minClusterPoints)
	for _, cluster := range clusters {
		cand, ok := homographyCandidate(tmplXs, tmplYs, screenXs, screenYs, cluster, tw, th)
		if !ok {
			continue
		}
		if cand.Score >= conf {
			candidates = append(candidates, cand)
		}
	}

	// Global fallback: one homography over every good match, accepted
	// regardless of the confidence threshold.
	if len(candidates) == 0 {
		all := make([]int, len(screenXs))
		for i := range all {
			all[i] = i
		}
		if cand, ok := homographyCandidate(tmplXs, tmplYs, screenXs, screenYs, all, tw, th); ok {
			candidates = append(candidates, cand)
		}
	}

	if len(candidates) == 0 {
		return nil
	}

	boxes := make([]Box, len(candidates))
	scores := make([]float64, len(candidates))
	for i, c := range candidates {
		boxes[i] = c.Box
		scores[i] = c.Score
	}

	keep := Suppress(boxes, scores, DefaultIoUThreshold)
	kept := make([]Candidate, 0, len(keep))
	for _, i := range keep {
		kept = append(kept, candidates[i])
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Score > kept[j].Score
	})

	limit := opts.MaxCandidates
	if limit <= 0 {
		limit = DefaultMaxCandidates
	}
	if len(kept) > limit {
		kept = kept[:limit]
	}

	return kept
}

// newKeypointDetector builds the configured detector backend
func newKeypointDetector(name string) (keypointDetector, bool) {
	switch name {
	case "", DetectorORB:
		orb := gocv.NewORBWithParams(orbFeatureCount, 1.2, 8, 31, 0, 2, gocv.ORBScoreTypeHarris, 31, 20)
		return &orb, true
	case DetectorAKAZE:
		akaze := gocv.NewAKAZE()
		return &akaze, true
	default:
		return nil, false
	}
}

// toGrayMat converts an RGBA image into a single-channel Mat
func toGrayMat(img *image.RGBA) (gocv.Mat, bool) {
	mat, err := gocv.ImageToMatRGBA(img)
	if err != nil {
		return gocv.Mat{}, false
	}
	defer mat.Close()

	gray := gocv.NewMat()
	gocv.CvtColor(mat, &gray, gocv.ColorRGBAToGray)
	if gray.Empty() {
		gray.Close()
		return gocv.Mat{}, false
	}
	return gray, true
}

// homographyCandidate estimates a RANSAC homography from the template points
// to the screen points selected by idxs and converts it into a scored
// candidate box. It reports failure when fewer than 4 correspondences are
// available or estimation does not converge.
func homographyCandidate(tmplXs, tmplYs, screenXs, screenYs []float64, idxs []int, tw, th float64) (Candidate, bool) {
	if len(idxs) < minCorrespondences {
		return Candidate{}, false
	}

	src := pointsToMat(tmplXs, tmplYs, idxs)
	defer src.Close()
	dst := pointsToMat(screenXs, screenYs, idxs)
	defer dst.Close()

	inlierMask := gocv.NewMat()
	defer inlierMask.Close()

	hom := gocv.FindHomography(src, &dst, gocv.HomographyMethodRANSAC, ransacReprojThresh, &inlierMask, 2000, 0.995)
	defer hom.Close()
	if hom.Empty() {
		return Candidate{}, false
	}

	inliers := 0
	for i := 0; i < inlierMask.Rows(); i++ {
		if inlierMask.GetUCharAt(i, 0) != 0 {
			inliers++
		}
	}

	score := clampScore(float64(inliers) / float64(len(idxs)))

	projXs, projYs, ok := projectCorners(hom, tw, th)
	if !ok {
		return Candidate{}, false
	}

	return Candidate{Box: boxFromProjected(projXs, projYs), Score: score}, true
}

// projectCorners maps the template's four corners through the homography
func projectCorners(hom gocv.Mat, tw, th float64) ([]float64, []float64, bool) {
	corners := gocv.NewMatWithSize(4, 1, gocv.MatTypeCV64FC2)
	defer corners.Close()

	xs := []float64{0, tw, tw, 0}
	ys := []float64{0, 0, th, th}
	for i := 0; i < 4; i++ {
		corners.SetDoubleAt(i, 0, xs[i])
		corners.SetDoubleAt(i, 1, ys[i])
	}

	projected := gocv.NewMat()
	defer projected.Close()
	gocv.PerspectiveTransform(corners, &projected, hom)
	if projected.Rows() < 4 {
		return nil, nil, false
	}

	outXs := make([]float64, 4)
	outYs := make([]float64, 4)
	for i := 0; i < 4; i++ {
		outXs[i] = projected.GetDoubleAt(i, 0)
		outYs[i] = projected.GetDoubleAt(i, 1)
	}
	return outXs, outYs, true
}

// pointsToMat packs the selected points into an Nx1 two-channel mat
func pointsToMat(xs, ys []float64, idxs []int) gocv.Mat {
	mat := gocv.NewMatWithSize(len(idxs), 1, gocv.MatTypeCV64FC2)
	for i, idx := range idxs {
		mat.SetDoubleAt(i, 0, xs[idx])
		mat.SetDoubleAt(i, 1, ys[idx])
	}
	return mat
}

// clusterByGrid groups point indices into uniform grid cells of the given bin
// size and returns the clusters holding at least minPts points. Cluster order
// follows the first-seen order of their bins, keeping the result
// deterministic.
func clusterByGrid(xs, ys []float64, bin float64, minPts int) [][]int {
	type cell struct{ cx, cy int }

	order := make([]cell, 0)
	grid := make(map[cell][]int)
	for i := range xs {
		c := cell{
			cx: int(math.Floor(xs[i] / bin)),
			cy: int(math.Floor(ys[i] / bin)),
		}
		if _, seen := grid[c]; !seen {
			order = append(order, c)
		}
		grid[c] = append(grid[c], i)
	}

	var clusters [][]int
	for _, c := range order {
		if pts := grid[c]; len(pts) >= minPts {
			clusters = append(clusters, pts)
		}
	}
	return clusters
}

// boxFromProjected builds the axis-aligned box covering the projected
// corners, flooring each dimension to at least one pixel.
func boxFromProjected(xs, ys []float64) Box {
	minX, maxX := xs[0], xs[0]
	minY, maxY := ys[0], ys[0]
	for i := 1; i < len(xs); i++ {
		minX = math.Min(minX, xs[i])
		maxX = math.Max(maxX, xs[i])
		minY = math.Min(minY, ys[i])
		maxY = math.Max(maxY, ys[i])
	}

	x0 := int(minX)
	y0 := int(minY)
	w := maxInt(1, int(maxX)-x0)
	h := maxInt(1, int(maxY)-y0)
	return Box{X: x0, Y: y0, W: w, H: h}
}
