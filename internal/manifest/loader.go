package manifest

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/conduct-run/orchestrator/internal/paths"
)

// Load reads and validates a manifest.json file, expanding any "~"-prefixed
// work_dir into an absolute path.
func Load(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("manifest: read %s: %w", path, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("manifest: parse %s: %w", path, err)
	}
	if m.WorkDir != "" {
		expanded, err := paths.Expand(m.WorkDir)
		if err != nil {
			return Manifest{}, fmt.Errorf("manifest: expand work_dir: %w", err)
		}
		m.WorkDir = expanded
	}
	if err := m.Validate(); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// Save writes the manifest as indented JSON, collapsing work_dir back to a
// "~"-prefixed portable form when it falls under the user's home directory.
func Save(path string, m Manifest) error {
	portable := m.Clone()
	portable.WorkDir = paths.Collapse(portable.WorkDir)
	encoded, err := json.MarshalIndent(portable, "", "  ")
	if err != nil {
		return fmt.Errorf("manifest: encode: %w", err)
	}
	if err := os.WriteFile(path, append(encoded, '\n'), 0o644); err != nil {
		return fmt.Errorf("manifest: write %s: %w", path, err)
	}
	return nil
}
