package main

import (
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Settings stores operator preferences persisted as YAML. The file path
// comes from the DOATRACK_CONFIG env var; flags override individual fields.
type Settings struct {
	Device           string  `yaml:"device,omitempty"`
	MicDistance      float64 `yaml:"mic_distance,omitempty"`
	OutputIntervalMS int     `yaml:"output_interval_ms"`
	MinAngleChange   float64 `yaml:"min_angle_change"`
	VADThreshold     float64 `yaml:"vad_threshold,omitempty"`
	VADHoldFrames    int     `yaml:"vad_hold_frames,omitempty"`
	RecordDB         string  `yaml:"record_db,omitempty"`
	ListenAddr       string  `yaml:"listen_addr,omitempty"`
}

// DefaultSettings returns the production defaults.
func DefaultSettings() *Settings {
	return &Settings{
		MicDistance:      0.046,
		OutputIntervalMS: 1000,
		MinAngleChange:   15,
		VADThreshold:     200,
		VADHoldFrames:    10,
	}
}

// LoadSettings loads settings from YAML or returns defaults.
func LoadSettings(path string) *Settings {
	s := DefaultSettings()
	if path == "" {
		return s
	}
	data, err := os.ReadFile(path) //nolint:gosec // path from operator env var
	if err != nil {
		return s
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		slog.Error("parse settings", "path", path, "err", err)
		return DefaultSettings()
	}
	return s
}

// Save writes settings to YAML.
func (s *Settings) Save(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
