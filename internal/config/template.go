package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

//go:embed config.template.yaml
var defaultTemplate []byte

// EnsureDefault writes the starter config at path when no file exists yet.
// Returns true when a new file was created. An existing file is never
// touched.
func EnsureDefault(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("checking config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, defaultTemplate, 0o600); err != nil {
		return false, fmt.Errorf("writing starter config: %w", err)
	}
	return true, nil
}
