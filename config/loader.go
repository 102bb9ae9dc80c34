package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"compvalue/server/internal/models"
)

// Source kinds
const (
	KindAPI           = "api"
	KindPublicRecords = "public_records"
	KindDemo          = "demo"
)

// SourceConfig defines one comp source.
type SourceConfig struct {
	Name           string           `json:"name"`
	Kind           string           `json:"kind"`
	BaseURL        string           `json:"base_url,omitempty"`
	APIKey         string           `json:"api_key,omitempty"`
	Tag            models.SourceTag `json:"tag"`
	TimeoutSeconds int              `json:"timeout_seconds,omitempty"`
}

// Timeout returns the per-source timeout, or zero for the aggregator default.
func (s SourceConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// Validate checks a single definition.
func (s SourceConfig) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("source without a name")
	}
	switch s.Kind {
	case KindAPI:
		if s.BaseURL == "" {
			return fmt.Errorf("source %s: base_url is required", s.Name)
		}
	case KindPublicRecords, KindDemo:
	default:
		return fmt.Errorf("source %s: unknown kind %q", s.Name, s.Kind)
	}
	if !s.Tag.IsValid() {
		return fmt.Errorf("source %s: unknown tag %q", s.Name, s.Tag)
	}
	return nil
}

type sourcesFile struct {
	Sources []SourceConfig `json:"sources"`
}

// LoadSourcesFile reads source definitions from a JSON file of the form
// {"sources": [...]}. Order in the file is priority order.
func LoadSourcesFile(path string) ([]SourceConfig, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read sources file: %w", err)
	}

	var file sourcesFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse sources file: %w", err)
	}

	seen := make(map[string]bool, len(file.Sources))
	for _, s := range file.Sources {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("duplicate source name: %s", s.Name)
		}
		seen[s.Name] = true
	}
	return file.Sources, nil
}
