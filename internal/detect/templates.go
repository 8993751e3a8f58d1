package detect

// Template describes a registered template asset: where its image lives and
// how detect requests referencing it by name should be matched.
type Template struct {
	Name      string
	Path      string
	Threshold float64
	Method    Method
	ROI       *Box
}

// Builder methods

// WithThreshold sets the acceptance threshold used when a request carries none
func (t Template) WithThreshold(threshold float64) Template {
	t.Threshold = threshold
	return t
}

// WithMethod sets the preferred matching method
func (t Template) WithMethod(method Method) Template {
	t.Method = method
	return t
}

// InROI restricts template matching to a sub-rectangle of the screen.
// Matches are reported relative to that rectangle.
func (t Template) InROI(x, y, w, h int) Template {
	roi := Box{X: x, Y: y, W: w, H: h}
	t.ROI = &roi
	return t
}
