package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// CascadeFile is the optional YAML tuning file for the strategy cascade.
// Zero values leave the corresponding env-derived setting untouched.
type CascadeFile struct {
	DefaultDeadlineSeconds int            `yaml:"default_deadline_seconds"`
	BackendDeadlineSeconds map[string]int `yaml:"backend_deadline_seconds"`
	EarlyExitThreshold     float64        `yaml:"early_exit_threshold"`
	MinConfidence          float64        `yaml:"min_confidence"`
}

func LoadCascadeFile(path string) (CascadeFile, error) {
	var file CascadeFile
	raw, err := os.ReadFile(path)
	if err != nil {
		return file, fmt.Errorf("read cascade config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return file, fmt.Errorf("parse cascade config: %w", err)
	}
	return file, nil
}

// Apply merges the file's non-zero settings onto the base config.
func (f CascadeFile) Apply(cfg Config) Config {
	if f.DefaultDeadlineSeconds > 0 {
		cfg.DefaultDeadlineSeconds = f.DefaultDeadlineSeconds
	}
	if f.EarlyExitThreshold > 0 {
		cfg.EarlyExitThreshold = f.EarlyExitThreshold
	}
	if f.MinConfidence > 0 {
		cfg.MinConfidence = f.MinConfidence
	}
	return cfg
}
