package templates

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
	"jordanella.com/macropilot/internal/detect"
)

// TemplateRegistry manages a dynamic collection of templates loaded from YAML files
type TemplateRegistry struct {
	mu         sync.RWMutex
	templates  map[string]detect.Template
	basePath   string      // Base path for template image files
	imageCache *ImageCache // Optional: for caching loaded images
}

// TemplateDefinition represents a template in the YAML file
type TemplateDefinition struct {
	Name        string  `yaml:"name"`
	Path        string  `yaml:"path"`
	Threshold   float64 `yaml:"threshold,omitempty"`
	Method      string  `yaml:"method,omitempty"`
	ROI         *ROIDef `yaml:"roi,omitempty"`
	Preload     bool    `yaml:"preload,omitempty"`      // Load image at startup
	UnloadAfter bool    `yaml:"unload_after,omitempty"` // Unload after use
}

// ROIDef represents a search region in the YAML file
type ROIDef struct {
	X int `yaml:"x"`
	Y int `yaml:"y"`
	W int `yaml:"w"`
	H int `yaml:"h"`
}

// TemplateFile represents the structure of a template YAML file
type TemplateFile struct {
	Templates []TemplateDefinition `yaml:"templates"`
}

// NewTemplateRegistry creates a new template registry
// basePath is the root directory where template image files are stored
func NewTemplateRegistry(basePath string) *TemplateRegistry {
	return &TemplateRegistry{
		templates:  make(map[string]detect.Template),
		basePath:   basePath,
		imageCache: NewImageCache(),
	}
}

// WithoutImageCache disables image caching for this registry
func (tr *TemplateRegistry) WithoutImageCache() *TemplateRegistry {
	tr.imageCache = nil
	return tr
}

// LoadFromFile loads templates from a YAML file
func (tr *TemplateRegistry) LoadFromFile(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read template file %s: %w", filePath, err)
	}

	var templateFile TemplateFile
	if err := yaml.Unmarshal(data, &templateFile); err != nil {
		return fmt.Errorf("failed to unmarshal template YAML: %w", err)
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()

	for i, def := range templateFile.Templates {
		if def.Name == "" {
			return fmt.Errorf("template %d: name cannot be empty", i+1)
		}
		if def.Path == "" {
			return fmt.Errorf("template %d (%s): path cannot be empty", i+1, def.Name)
		}

		method := detect.Method(def.Method)
		switch method {
		case "", detect.MethodTemplate, detect.MethodFeature:
		default:
			return fmt.Errorf("template %d (%s): unknown method %q", i+1, def.Name, def.Method)
		}

		// A zero threshold means unset: the detection service falls back
		// to its per-method default.
		template := detect.Template{
			Name:      def.Name,
			Path:      filepath.Join(tr.basePath, def.Path),
			Threshold: def.Threshold,
			Method:    method,
		}

		if def.ROI != nil {
			template.ROI = &detect.Box{
				X: def.ROI.X,
				Y: def.ROI.Y,
				W: def.ROI.W,
				H: def.ROI.H,
			}
		}

		tr.templates[def.Name] = template

		// Register with image cache if enabled
		if tr.imageCache != nil {
			if err := tr.imageCache.Register(template, def.Preload, def.UnloadAfter); err != nil {
				// Don't fail loading, just log the preload failure
				// The image can still be loaded on-demand
				fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
			}
		}
	}

	return nil
}

// LoadFromDirectory loads all YAML files from a directory
func (tr *TemplateRegistry) LoadFromDirectory(dirPath string) error {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return fmt.Errorf("failed to read template directory %s: %w", dirPath, err)
	}

	var loadErrors []error

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		// Only process .yaml and .yml files
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		fullPath := filepath.Join(dirPath, entry.Name())
		if err := tr.LoadFromFile(fullPath); err != nil {
			loadErrors = append(loadErrors, fmt.Errorf("file %s: %w", entry.Name(), err))
		}
	}

	if len(loadErrors) > 0 {
		// Return first error but log that there were multiple
		return fmt.Errorf("failed to load %d template files (first error): %w", len(loadErrors), loadErrors[0])
	}

	return nil
}

// Get retrieves a template by name
// Returns the template and true if found, or an empty template and false if not found
func (tr *TemplateRegistry) Get(name string) (detect.Template, bool) {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	template, ok := tr.templates[name]
	return template, ok
}

// MustGet retrieves a template by name and panics if not found
// Use this only during initialization or when the template is guaranteed to exist
func (tr *TemplateRegistry) MustGet(name string) detect.Template {
	template, ok := tr.Get(name)
	if !ok {
		panic(fmt.Sprintf("template '%s' not found in registry", name))
	}
	return template
}

// GetOrDefault retrieves a template by name, or returns a default template if not found
func (tr *TemplateRegistry) GetOrDefault(name string, defaultThreshold float64) detect.Template {
	template, ok := tr.Get(name)
	if !ok {
		// Return a basic template with the name and default threshold
		return detect.Template{
			Name:      name,
			Path:      filepath.Join(tr.basePath, name+".png"),
			Threshold: defaultThreshold,
		}
	}
	return template
}

// Register adds a template to the registry programmatically
func (tr *TemplateRegistry) Register(template detect.Template) error {
	if template.Name == "" {
		return fmt.Errorf("template name cannot be empty")
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()

	tr.templates[template.Name] = template
	return nil
}

// RegisterBatch adds multiple templates to the registry
func (tr *TemplateRegistry) RegisterBatch(templates []detect.Template) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	for i, template := range templates {
		if template.Name == "" {
			return fmt.Errorf("template %d: name cannot be empty", i)
		}
		tr.templates[template.Name] = template
	}

	return nil
}

// Has checks if a template exists in the registry
func (tr *TemplateRegistry) Has(name string) bool {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	_, ok := tr.templates[name]
	return ok
}

// List returns all template names in the registry, sorted
func (tr *TemplateRegistry) List() []string {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	names := make([]string, 0, len(tr.templates))
	for name := range tr.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of templates in the registry
func (tr *TemplateRegistry) Count() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	return len(tr.templates)
}

// Clear removes all templates from the registry
func (tr *TemplateRegistry) Clear() {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	tr.templates = make(map[string]detect.Template)
}

// Remove removes a template from the registry
func (tr *TemplateRegistry) Remove(name string) bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	if _, ok := tr.templates[name]; ok {
		delete(tr.templates, name)
		// Also unload from cache if present
		if tr.imageCache != nil {
			tr.imageCache.Release(name)
		}
		return true
	}
	return false
}

// ImageCache returns the image cache (nil when disabled)
func (tr *TemplateRegistry) ImageCache() detect.ImageCacheInterface {
	if tr.imageCache == nil {
		return nil
	}
	return tr.imageCache
}

// PreloadAll preloads all templates marked for preloading
func (tr *TemplateRegistry) PreloadAll() error {
	if tr.imageCache == nil {
		return fmt.Errorf("image cache not enabled")
	}
	return tr.imageCache.PreloadAll()
}

// UnloadAll unloads all cached images
func (tr *TemplateRegistry) UnloadAll() {
	if tr.imageCache != nil {
		tr.imageCache.UnloadAll()
	}
}

// CacheStats returns image cache statistics
func (tr *TemplateRegistry) CacheStats() CacheStats {
	if tr.imageCache == nil {
		return CacheStats{}
	}
	return tr.imageCache.Stats()
}
