// Package output writes resolution artifacts to disk.
package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"v8spy/internal/v8"
)

// WriteLayoutJSON writes the resolved layout as layout.json under dir,
// creating the directory if needed.
func WriteLayoutJSON(dir string, res *v8.Result) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("output: %w", err)
	}
	path := filepath.Join(dir, "layout.json")
	if err := writeJSON(path, res); err != nil {
		return "", err
	}
	log.Infof("output: wrote %s", path)
	return path, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("output: marshal %s: %w", path, err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("output: %w", err)
	}
	return nil
}
