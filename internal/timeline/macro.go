package timeline

// Macro is a named timeline plus authoring metadata
type Macro struct {
	ID          string                   `json:"id" yaml:"id"`
	Name        string                   `json:"name" yaml:"name"`
	Description string                   `json:"description" yaml:"description,omitempty"`
	Timeline    Timeline                 `json:"timeline" yaml:"timeline"`
	Triggers    []map[string]interface{} `json:"triggers" yaml:"triggers,omitempty"`
}

// Project is the unit of JSON persistence: a set of macros plus
// project-wide settings
type Project struct {
	Name           string                   `json:"name"`
	Version        string                   `json:"version"`
	Macros         []*Macro                 `json:"macros"`
	Keymaps        []map[string]interface{} `json:"keymaps"`
	Objects        []map[string]interface{} `json:"objects"`
	GlobalSettings map[string]interface{}   `json:"global_settings"`
	Metadata       map[string]interface{}   `json:"metadata"`
}

// Project file defaults
const (
	DefaultProjectName    = "Project"
	DefaultProjectVersion = "0.1"
)

// DefaultGlobalSettings returns the settings a fresh project starts with
func DefaultGlobalSettings() map[string]interface{} {
	return map[string]interface{}{
		"default_confidence": 0.85,
		"anti_detection":     false,
	}
}

// NewProject creates an empty project with default settings
func NewProject(name string) *Project {
	if name == "" {
		name = DefaultProjectName
	}
	return &Project{
		Name:           name,
		Version:        DefaultProjectVersion,
		Macros:         []*Macro{},
		Keymaps:        []map[string]interface{}{},
		Objects:        []map[string]interface{}{},
		GlobalSettings: DefaultGlobalSettings(),
		Metadata:       map[string]interface{}{},
	}
}

// FindMacro returns the first macro whose id or name matches key
func (p *Project) FindMacro(key string) (*Macro, bool) {
	for _, m := range p.Macros {
		if m.ID == key || m.Name == key {
			return m, true
		}
	}
	return nil, false
}

// Normalize applies timeline normalization to every macro
func (p *Project) Normalize() {
	for _, m := range p.Macros {
		m.Timeline.Normalize()
	}
}
