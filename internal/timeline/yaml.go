package timeline

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// MacroFile is the single-macro YAML authoring format: a name, an optional
// description, and a timeline of actions.
type MacroFile struct {
	MacroName   string   `yaml:"macro_name"`
	Description string   `yaml:"description,omitempty"`
	Timeline    Timeline `yaml:"timeline"`
}

// LoadMacroFile reads a macro from a YAML file, validates its action types,
// and normalizes the timeline
func LoadMacroFile(path string) (*Macro, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read macro file %s: %w", path, err)
	}

	var file MacroFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal macro YAML: %w", err)
	}

	if file.MacroName == "" {
		return nil, fmt.Errorf("macro file %s: macro_name cannot be empty", path)
	}
	if errs := file.Timeline.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("macro file %s: %w", path, errs[0])
	}

	file.Timeline.Normalize()
	return &Macro{
		ID:          file.MacroName,
		Name:        file.MacroName,
		Description: file.Description,
		Timeline:    file.Timeline,
	}, nil
}

// SaveMacroFile writes a macro to YAML in the authoring format
func SaveMacroFile(path string, macro *Macro) error {
	file := MacroFile{
		MacroName:   macro.Name,
		Description: macro.Description,
		Timeline:    macro.Timeline,
	}

	data, err := yaml.Marshal(&file)
	if err != nil {
		return fmt.Errorf("failed to marshal macro YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write macro file: %w", err)
	}
	return nil
}
