package detect

import "sort"

// IoU returns the intersection-over-union of two boxes.
// Two boxes with zero union area have an IoU of 0.
func IoU(a, b Box) float64 {
	x1 := maxInt(a.X, b.X)
	y1 := maxInt(a.Y, b.Y)
	x2 := minInt(a.X+a.W, b.X+b.W)
	y2 := minInt(a.Y+a.H, b.Y+b.H)

	iw := maxInt(0, x2-x1)
	ih := maxInt(0, y2-y1)
	inter := iw * ih

	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// Suppress performs greedy non-max suppression and returns the indices of the
// boxes to keep, highest score first. A box is discarded when its IoU with an
// already-kept box exceeds iouThreshold (strictly greater). Equal scores keep
// their original index order.
func Suppress(boxes []Box, scores []float64, iouThreshold float64) []int {
	if len(boxes) == 0 {
		return nil
	}

	order := make([]int, len(boxes))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return scores[order[i]] > scores[order[j]]
	})

	keep := make([]int, 0, len(boxes))
	suppressed := make([]bool, len(boxes))

	for _, i := range order {
		if suppressed[i] {
			continue
		}
		keep = append(keep, i)
		for _, j := range order {
			if j == i || suppressed[j] {
				continue
			}
			if IoU(boxes[i], boxes[j]) > iouThreshold {
				suppressed[j] = true
			}
		}
	}

	return keep
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
