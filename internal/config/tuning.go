package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/expression.report/internal/expression/features"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig is the startup configuration for the engine and its host.
// Every field is optional; the Get* methods supply defaults.
type TuningConfig struct {
	// Engine params
	TargetFaceID         *int                `json:"target_face_id,omitempty"`
	ExpressionStabilizer *int                `json:"expression_stabilizer,omitempty"`
	RecordingSkip        *int                `json:"recording_skip,omitempty"`
	OverRecordingSkip    *int                `json:"over_recording_skip,omitempty"`
	OverRecording        *bool               `json:"over_recording,omitempty"`
	FeatureSelection     *features.Selection `json:"feature_selection,omitempty"`
	Seed                 *uint64             `json:"seed,omitempty"` // omitted: seeded from the clock

	// Model params
	ModelL2            *float64 `json:"model_l2,omitempty"`
	ModelMaxIterations *int     `json:"model_max_iterations,omitempty"`

	// Host params
	TickInterval    *string `json:"tick_interval,omitempty"` // duration string like "33ms"
	UDPListen       *string `json:"udp_listen,omitempty"`
	UDPRcvBuf       *int    `json:"udp_rcvbuf,omitempty"`
	SnapshotOnTrain *bool   `json:"snapshot_on_train,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file must have a .json extension and be under 1MB. Omitted fields
// fall back to the Get* defaults, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches the current directory and its parents up to the repository
// root. Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/expression/statefile/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	nonNegative := []struct {
		name string
		v    *int
	}{
		{"target_face_id", c.TargetFaceID},
		{"expression_stabilizer", c.ExpressionStabilizer},
		{"recording_skip", c.RecordingSkip},
		{"over_recording_skip", c.OverRecordingSkip},
		{"udp_rcvbuf", c.UDPRcvBuf},
	}
	for _, f := range nonNegative {
		if f.v != nil && *f.v < 0 {
			return fmt.Errorf("%s must be non-negative, got %d", f.name, *f.v)
		}
	}

	if c.ModelL2 != nil && *c.ModelL2 < 0 {
		return fmt.Errorf("model_l2 must be non-negative, got %f", *c.ModelL2)
	}
	if c.ModelMaxIterations != nil && *c.ModelMaxIterations < 1 {
		return fmt.Errorf("model_max_iterations must be at least 1, got %d", *c.ModelMaxIterations)
	}

	if c.TickInterval != nil && *c.TickInterval != "" {
		d, err := time.ParseDuration(*c.TickInterval)
		if err != nil {
			return fmt.Errorf("invalid tick_interval '%s': %w", *c.TickInterval, err)
		}
		if d <= 0 {
			return fmt.Errorf("tick_interval must be positive, got %s", d)
		}
	}

	return nil
}

// GetTargetFaceID returns the target_face_id value or the default.
func (c *TuningConfig) GetTargetFaceID() int {
	if c.TargetFaceID == nil {
		return 0
	}
	return *c.TargetFaceID
}

// GetExpressionStabilizer returns the expression_stabilizer value or the default.
func (c *TuningConfig) GetExpressionStabilizer() int {
	if c.ExpressionStabilizer == nil {
		return 3
	}
	return *c.ExpressionStabilizer
}

// GetRecordingSkip returns the recording_skip value or the default.
func (c *TuningConfig) GetRecordingSkip() int {
	if c.RecordingSkip == nil {
		return 1 // every frame
	}
	return *c.RecordingSkip
}

// GetOverRecordingSkip returns the over_recording_skip value or the default.
func (c *TuningConfig) GetOverRecordingSkip() int {
	if c.OverRecordingSkip == nil {
		return 3
	}
	return *c.OverRecordingSkip
}

// GetOverRecording returns the over_recording value or the default.
func (c *TuningConfig) GetOverRecording() bool {
	if c.OverRecording == nil {
		return false
	}
	return *c.OverRecording
}

// GetFeatureSelection returns the feature_selection value or all groups.
func (c *TuningConfig) GetFeatureSelection() features.Selection {
	if c.FeatureSelection == nil {
		return features.AllSelected()
	}
	return *c.FeatureSelection
}

// GetSeed returns the configured seed and whether one was set.
func (c *TuningConfig) GetSeed() (uint64, bool) {
	if c.Seed == nil {
		return 0, false
	}
	return *c.Seed, true
}

// GetModelL2 returns the model_l2 value or the default.
func (c *TuningConfig) GetModelL2() float64 {
	if c.ModelL2 == nil {
		return 1e-3
	}
	return *c.ModelL2
}

// GetModelMaxIterations returns the model_max_iterations value or the default.
func (c *TuningConfig) GetModelMaxIterations() int {
	if c.ModelMaxIterations == nil {
		return 200
	}
	return *c.ModelMaxIterations
}

// GetTickInterval parses and returns the TickInterval as a time.Duration.
func (c *TuningConfig) GetTickInterval() time.Duration {
	if c.TickInterval == nil || *c.TickInterval == "" {
		return 33 * time.Millisecond // default
	}
	d, err := time.ParseDuration(*c.TickInterval)
	if err != nil || d <= 0 {
		return 33 * time.Millisecond // default on parse error
	}
	return d
}

// GetUDPListen returns the udp_listen value or the tracker's default port.
func (c *TuningConfig) GetUDPListen() string {
	if c.UDPListen == nil {
		return "127.0.0.1:11573"
	}
	return *c.UDPListen
}

// GetUDPRcvBuf returns the udp_rcvbuf value or the default.
func (c *TuningConfig) GetUDPRcvBuf() int {
	if c.UDPRcvBuf == nil {
		return 4 << 20
	}
	return *c.UDPRcvBuf
}

// GetSnapshotOnTrain returns the snapshot_on_train value or the default.
func (c *TuningConfig) GetSnapshotOnTrain() bool {
	if c.SnapshotOnTrain == nil {
		return true
	}
	return *c.SnapshotOnTrain
}
