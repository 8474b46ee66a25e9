package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// document is the on-disk layout of a settings file.
type document struct {
	Version int      `toml:"version"`
	Capture Settings `toml:"capture"`
}

const documentVersion = 1

// Load reads settings from a TOML file on top of Default. A missing file
// yields the defaults.
func Load(path string) (Settings, error) {
	doc := document{Version: documentVersion, Capture: Default()}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return doc.Capture, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read capture settings: %w", err)
	}

	if err := toml.Unmarshal(data, &doc); err != nil {
		return Settings{}, fmt.Errorf("failed to parse capture settings: %w", err)
	}

	Normalize(&doc.Capture)
	return doc.Capture, nil
}

// Save writes settings to a TOML file, creating parent directories.
func Save(path string, s Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	data, err := toml.Marshal(document{Version: documentVersion, Capture: s})
	if err != nil {
		return fmt.Errorf("failed to marshal capture settings: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write capture settings: %w", err)
	}
	return nil
}
