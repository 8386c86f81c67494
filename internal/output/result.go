package output

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/wesleyorama2/merchload/internal/loadtest/engine"
)

// WriteResultFile writes result as indented JSON to path.
func WriteResultFile(path string, result *engine.TestResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write result file %s: %w", path, err)
	}
	return nil
}
