package agentrunner

import (
	"fmt"
	"os"
	"path/filepath"
)

// FilePromptLoader loads prompt templates from a directory on disk.
type FilePromptLoader struct {
	Dir string
}

// Load reads templatePath relative to Dir.
func (l FilePromptLoader) Load(templatePath string) (string, error) {
	data, err := os.ReadFile(filepath.Join(l.Dir, templatePath))
	if err != nil {
		return "", fmt.Errorf("prompts: read %s: %w", templatePath, err)
	}
	return string(data), nil
}
