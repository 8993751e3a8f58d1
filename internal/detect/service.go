package detect

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"sync"
	"time"

	"github.com/corona10/goimagehash"

	"jordanella.com/macropilot/internal/logging"
)

// Capturer provides screen frames for detection
type Capturer interface {
	CaptureFullScreen() (*image.RGBA, error)
}

// RegionCapturer is an optional Capturer capability: grabbing just a
// sub-rectangle of the screen. When available, template detection with a
// region of interest captures only that region instead of cropping a full
// frame; match coordinates stay region-relative either way.
type RegionCapturer interface {
	CaptureRegion(x, y, w, h int) (*image.RGBA, error)
}

// TemplateRegistryInterface defines interface for template registry access
type TemplateRegistryInterface interface {
	Get(name string) (Template, bool)
	ImageCache() ImageCacheInterface
}

// ImageCacheInterface defines interface for image cache access
type ImageCacheInterface interface {
	Get(name string) (*image.RGBA, Template, error)
	Release(name string) error
}

// Service runs detection requests against fresh screen captures
type Service struct {
	capturer Capturer
	registry TemplateRegistryInterface // Optional: for named templates

	templateCache   map[string]*image.RGBA
	featureDetector string
	tmplOpts        TemplateOptions

	logger *logging.Logger
	mu     sync.RWMutex
}

// NewService creates a detection service
func NewService(capturer Capturer) *Service {
	return &Service{
		capturer:        capturer,
		templateCache:   make(map[string]*image.RGBA),
		featureDetector: DetectorORB,
		logger:          logging.GetLogger("detect"),
	}
}

// WithTemplateRegistry sets the template registry used to resolve named templates
func (s *Service) WithTemplateRegistry(registry TemplateRegistryInterface) *Service {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registry = registry
	return s
}

// WithFeatureDetector sets the default feature detector backend (ORB or AKAZE)
func (s *Service) WithFeatureDetector(backend string) *Service {
	s.mu.Lock()
	defer s.mu.Unlock()
	if backend != "" {
		s.featureDetector = backend
	}
	return s
}

// WithTemplateOptions sets scan options for template matching
func (s *Service) WithTemplateOptions(opts TemplateOptions) *Service {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tmplOpts = opts
	return s
}

// Logger returns the service logger so callers can redirect its output
func (s *Service) Logger() *logging.Logger {
	return s.logger
}

// Detect captures the screen and runs one detection request against it.
// A template that cannot be resolved or decoded is a soft miss: the result
// reports found=false and no error, so a run can keep going. Capture failures
// are returned as errors.
func (s *Service) Detect(req Request) (Result, error) {
	start := time.Now()

	method := req.Method
	if method == "" {
		method = MethodTemplate
	}

	res := Result{Method: method, Template: req.Template}

	meta, tmplImg, err := s.resolveTemplate(req.Template)
	if err != nil {
		s.logger.WarnWithContext("Template unavailable, reporting miss", map[string]interface{}{
			"template": req.Template,
			"reason":   err.Error(),
		})
		res.Elapsed = time.Since(start)
		return res, nil
	}

	conf := resolveConfidence(req.Conf, meta, method)
	roi := req.ROI
	if roi == nil {
		roi = meta.ROI
	}

	screen, roi, err := s.captureFrame(method, roi)
	if err != nil {
		res.Elapsed = time.Since(start)
		return res, fmt.Errorf("%w: %v", ErrCaptureFailed, err)
	}

	if hash, hashErr := goimagehash.PerceptionHash(screen); hashErr == nil {
		res.ScreenHash = hash.ToString()
	}

	switch method {
	case MethodTemplate:
		match := MatchTemplate(screen, tmplImg, conf, roi, s.templateOptions())
		res.Found = match.Found
		res.Box = match.Box
		res.Score = match.Score

	case MethodFeature:
		opts := FeatureOptions{
			Detector:      req.FeatureDetector,
			MaxCandidates: req.MaxCandidates,
		}
		if opts.Detector == "" {
			opts.Detector = s.defaultDetector()
		}
		cands := MatchFeatures(screen, tmplImg, conf, opts)
		res.Candidates = cands
		if len(cands) > 0 {
			top := cands[0]
			box := top.Box
			res.Found = top.Score >= conf
			res.Score = top.Score
			res.Box = &box
		}

	default:
		res.Elapsed = time.Since(start)
		return res, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}

	res.Elapsed = time.Since(start)
	s.logger.DebugWithContext("Detection completed", map[string]interface{}{
		"template": req.Template,
		"method":   string(method),
		"found":    res.Found,
		"score":    res.Score,
		"elapsed":  res.Elapsed.String(),
	})
	return res, nil
}

// captureFrame grabs a fresh frame for one detection. A template-method
// request with a region of interest uses the capturer's region support when
// present, consuming the ROI: the captured frame already is the crop, so
// match coordinates stay region-relative. A failed region grab falls back
// to a full frame with the ROI kept, so an out-of-bounds region degrades
// to a clamped crop instead of aborting the run.
func (s *Service) captureFrame(method Method, roi *Box) (*image.RGBA, *Box, error) {
	if method == MethodTemplate && roi != nil {
		if rc, ok := s.capturer.(RegionCapturer); ok {
			x := maxInt(0, roi.X)
			y := maxInt(0, roi.Y)
			w := maxInt(1, roi.W)
			h := maxInt(1, roi.H)
			img, err := rc.CaptureRegion(x, y, w, h)
			if err == nil {
				return img, nil, nil
			}
			s.logger.WarnWithContext("Region capture failed, using full frame", map[string]interface{}{
				"region": fmt.Sprintf("(%d,%d %dx%d)", x, y, w, h),
				"reason": err.Error(),
			})
		}
	}

	img, err := s.capturer.CaptureFullScreen()
	if err != nil {
		return nil, nil, err
	}
	return img, roi, nil
}

// ClearTemplateCache clears decoded template images (useful if assets change)
func (s *Service) ClearTemplateCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templateCache = make(map[string]*image.RGBA)
}

func (s *Service) templateOptions() TemplateOptions {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tmplOpts
}

func (s *Service) defaultDetector() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.featureDetector
}

// resolveTemplate maps a request's template reference to its registry entry
// and decoded image. Unregistered names are treated as file paths.
func (s *Service) resolveTemplate(name string) (Template, *image.RGBA, error) {
	s.mu.RLock()
	cached, ok := s.templateCache[name]
	registry := s.registry
	s.mu.RUnlock()

	meta := Template{Name: name, Path: name}
	if registry != nil {
		if regMeta, found := registry.Get(name); found {
			meta = regMeta
		}
	}

	if ok {
		return meta, cached, nil
	}

	img, err := s.loadTemplateImage(registry, meta)
	if err != nil {
		return meta, nil, err
	}

	s.mu.Lock()
	s.templateCache[name] = img
	s.mu.Unlock()

	return meta, img, nil
}

func (s *Service) loadTemplateImage(registry TemplateRegistryInterface, meta Template) (*image.RGBA, error) {
	// Prefer the registry's image cache when one is wired in
	if registry != nil {
		if cache := registry.ImageCache(); cache != nil {
			if img, _, err := cache.Get(meta.Name); err == nil {
				return img, nil
			}
		}
	}

	if meta.Path == "" {
		return nil, fmt.Errorf("%w: %q", ErrTemplateNotFound, meta.Name)
	}
	return loadImageFile(meta.Path)
}

func loadImageFile(path string) (*image.RGBA, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open template image %s: %w", path, err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("decode template image %s: %w", path, err)
	}
	return toRGBA(img), nil
}

func resolveConfidence(override *float64, meta Template, method Method) float64 {
	if override != nil {
		return *override
	}
	if meta.Threshold > 0 {
		return meta.Threshold
	}
	if method == MethodFeature {
		return DefaultFeatureConfidence
	}
	return DefaultTemplateConfidence
}
