// Package store persists the last encoder capability report.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pelletier/go-toml/v2"

	"github.com/smazurov/omnicapture/internal/nvenc"
)

// DefaultPath is used when no report path is configured.
const DefaultPath = "capabilities.toml"

// report is the complete report file for TOML marshaling.
type report struct {
	Version      int                 `toml:"version" json:"version"`
	Hostname     string              `toml:"hostname,omitempty" json:"hostname,omitempty"`
	Capabilities *nvenc.Capabilities `toml:"capabilities,omitempty" json:"capabilities,omitempty"`
}

// Capabilities stores the capability report in a TOML file.
type Capabilities struct {
	path string

	mu     sync.RWMutex
	report report
}

// NewTOML creates a store for path. Nothing is read until Load.
func NewTOML(path string) *Capabilities {
	if path == "" {
		path = DefaultPath
	}
	return &Capabilities{
		path:   path,
		report: report{Version: 1},
	}
}

// Path returns the report file.
func (s *Capabilities) Path() string { return s.path }

// Load reads the report. A missing file leaves the store empty.
func (s *Capabilities) Load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read capability report: %w", err)
	}

	var r report
	if err := toml.Unmarshal(data, &r); err != nil {
		return fmt.Errorf("failed to parse capability report: %w", err)
	}
	if r.Version == 0 {
		r.Version = 1
	}

	s.mu.Lock()
	s.report = r
	s.mu.Unlock()
	return nil
}

// Save replaces the stored report with caps and writes the file.
func (s *Capabilities) Save(caps nvenc.Capabilities) error {
	host, _ := os.Hostname()

	s.mu.Lock()
	s.report.Hostname = host
	s.report.Capabilities = &caps
	data, err := toml.Marshal(s.report)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to marshal capability report: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write capability report: %w", err)
	}
	return nil
}

// Latest returns the stored report.
func (s *Capabilities) Latest() (nvenc.Capabilities, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.report.Capabilities == nil {
		return nvenc.Capabilities{}, false
	}
	return *s.report.Capabilities, true
}
