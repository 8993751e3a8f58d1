package timeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// SaveProject writes a project as pretty-printed JSON, creating parent
// directories as needed
func SaveProject(path string, project *Project) error {
	data, err := json.MarshalIndent(project, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal project: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create project directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write project file: %w", err)
	}
	return nil
}

// LoadProject reads a project JSON file. Unknown fields are ignored and
// missing fields fall back to defaults, so older or hand-edited files load
// cleanly.
func LoadProject(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read project file %s: %w", path, err)
	}

	var project Project
	if err := json.Unmarshal(data, &project); err != nil {
		return nil, fmt.Errorf("failed to parse project file %s: %w", path, err)
	}

	applyProjectDefaults(&project)
	project.Normalize()
	return &project, nil
}

func applyProjectDefaults(p *Project) {
	if p.Name == "" {
		p.Name = DefaultProjectName
	}
	if p.Version == "" {
		p.Version = DefaultProjectVersion
	}
	if p.Macros == nil {
		p.Macros = []*Macro{}
	}
	if p.Keymaps == nil {
		p.Keymaps = []map[string]interface{}{}
	}
	if p.Objects == nil {
		p.Objects = []map[string]interface{}{}
	}
	if p.GlobalSettings == nil {
		p.GlobalSettings = DefaultGlobalSettings()
	}
	if p.Metadata == nil {
		p.Metadata = map[string]interface{}{}
	}
	for _, m := range p.Macros {
		if m.Timeline == nil {
			m.Timeline = Timeline{}
		}
	}
}
