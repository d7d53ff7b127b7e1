package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
)

// LoadJSON reads and unmarshals a JSON fixture stored next to this
// package. If target is provided, it also unmarshals the JSON into the
// target struct.
func LoadJSON(filename string, target ...any) (map[string]any, error) {
	var result map[string]any

	data, err := os.ReadFile(FixturePath(filename))
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(data, &result)
	if err != nil {
		return nil, err
	}

	if len(target) > 0 && target[0] != nil {
		err = json.Unmarshal(data, target[0])
		if err != nil {
			return nil, err
		}
	}

	return result, nil
}

// LoadBytes returns the raw contents of a fixture file.
func LoadBytes(filename string) ([]byte, error) {
	return os.ReadFile(FixturePath(filename))
}

// FixturePath resolves a fixture filename relative to this package's
// directory, so tests in any package can share the same fixtures.
func FixturePath(filename string) string {
	_, currentFile, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(currentFile), filename)
}
