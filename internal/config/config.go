// Package config loads and validates outletd's YAML configuration, per
// spec.md §6's enumerated keys plus the ambient logging/storage/alertsink
// settings SPEC_FULL.md adds. Grounded on
// internal/config/config.go in the teacher repo: same Load/setDefaults/
// Validate shape, same yaml.v3 library.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration document for one outletd process.
type Config struct {
	Log         LogConfig         `yaml:"log"`
	DataDir     string            `yaml:"data_dir"`
	Camera      CameraConfig      `yaml:"camera"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Presence    PresenceConfig    `yaml:"presence"`
	Inference   InferenceConfig   `yaml:"inference"`
	Storage     StorageConfig     `yaml:"storage"`
	Outlet      OutletConfig      `yaml:"outlet"`
	AlertSink   AlertSinkConfig   `yaml:"alert_sink"`
	StatusAPI   StatusAPIConfig   `yaml:"status_api"`
	Registry    RegistryConfig    `yaml:"registry"`
}

// LogConfig mirrors internal/logger.Config.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// CameraSource describes one physical camera feed.
type CameraSource struct {
	ID   string `yaml:"id"`
	URI  string `yaml:"uri"`  // rtsp://... for rtsp, a directory of JPEG/PNG frames for file_loop
	Kind string `yaml:"kind"` // "rtsp" or "file_loop"; `outletd run` rejects "webcam"
}

// CameraConfig is spec.md §6's camera.* settings.
type CameraConfig struct {
	ProcessFPS        float64        `yaml:"process_fps"`
	Sources           []CameraSource `yaml:"sources"`
	ReconnectCooldown time.Duration  `yaml:"reconnect_cooldown"`
}

// RecognitionConfig is spec.md §6's recognition.* settings.
type RecognitionConfig struct {
	Threshold float64 `yaml:"threshold"`
	DetSize   [2]int  `yaml:"det_size"`
	ModelPath string  `yaml:"model_path"`
}

// PresenceConfig is spec.md §6's presence.* settings.
type PresenceConfig struct {
	GraceSeconds  int `yaml:"grace_seconds"`
	AbsentSeconds int `yaml:"absent_seconds"`
}

// InferenceConfig is spec.md §6's inference.* settings.
type InferenceConfig struct {
	FrameSkip     int `yaml:"frame_skip"`
	MaxFrameHeight int `yaml:"max_frame_height"`
	MaxFrameWidth  int `yaml:"max_frame_width"`
}

// StorageConfig is spec.md §6's storage.* settings, including the preview
// JPEG tuning of spec.md §4.3 point 5.
type StorageConfig struct {
	SnapshotRetentionDays int           `yaml:"snapshot_retention_days"`
	PreviewSaveInterval   time.Duration `yaml:"preview_save_interval"`
	PreviewWidth          int           `yaml:"preview_width"`
	PreviewQuality        int           `yaml:"preview_quality"`
}

// OutletConfig is spec.md §6's outlet.* settings.
type OutletConfig struct {
	ID            string   `yaml:"id"`
	Cameras       []string `yaml:"cameras"`
	TargetSPGIDs  []string `yaml:"target_spg_ids"`
}

// AlertSinkConfig names the environment variables holding Telegram
// credentials (spec.md §6) and the retry/backoff tuning of §4.9.
type AlertSinkConfig struct {
	BotTokenEnvVar       string  `yaml:"bot_token_env_var"`
	ChatIDEnvVar         string  `yaml:"chat_id_env_var"`
	MaxRetries           int     `yaml:"max_retries"`
	BackoffBaseSeconds   float64 `yaml:"backoff_base_seconds"`
	RetryAfterDefaultSec int     `yaml:"retry_after_default_sec"`
}

// StatusAPIConfig configures the read-only gin HTTP surface.
type StatusAPIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// RegistryConfig configures the ambient SQLite registry database.
type RegistryConfig struct {
	Path string `yaml:"path"`
}

// Load reads and parses the YAML configuration file at path, then fills in
// defaults. A missing or unparsable file is a fatal startup error per
// spec.md §7.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "./config/outletd.yaml"
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read configuration file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse configuration: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}

	if c.Camera.ProcessFPS == 0 {
		c.Camera.ProcessFPS = 5
	}
	if c.Camera.ReconnectCooldown == 0 {
		c.Camera.ReconnectCooldown = 5 * time.Second
	}

	if c.Recognition.Threshold == 0 {
		c.Recognition.Threshold = 0.45
	}
	if c.Recognition.DetSize == ([2]int{}) {
		c.Recognition.DetSize = [2]int{640, 640}
	}

	if c.Presence.GraceSeconds == 0 {
		c.Presence.GraceSeconds = 3
	}
	if c.Presence.AbsentSeconds == 0 {
		c.Presence.AbsentSeconds = 30
	}

	if c.Inference.MaxFrameHeight == 0 {
		c.Inference.MaxFrameHeight = 720
	}
	if c.Inference.MaxFrameWidth == 0 {
		c.Inference.MaxFrameWidth = 1280
	}

	if c.Storage.SnapshotRetentionDays == 0 {
		c.Storage.SnapshotRetentionDays = 7
	}
	if c.Storage.PreviewSaveInterval == 0 {
		c.Storage.PreviewSaveInterval = 5 * time.Second
	}
	if c.Storage.PreviewWidth == 0 {
		c.Storage.PreviewWidth = 320
	}
	if c.Storage.PreviewQuality == 0 {
		c.Storage.PreviewQuality = 85
	}

	if c.AlertSink.BotTokenEnvVar == "" {
		c.AlertSink.BotTokenEnvVar = "SPG_TELEGRAM_BOT_TOKEN"
	}
	if c.AlertSink.ChatIDEnvVar == "" {
		c.AlertSink.ChatIDEnvVar = "SPG_TELEGRAM_CHAT_ID"
	}
	if c.AlertSink.MaxRetries == 0 {
		c.AlertSink.MaxRetries = 3
	}
	if c.AlertSink.BackoffBaseSeconds == 0 {
		c.AlertSink.BackoffBaseSeconds = 2.0
	}
	if c.AlertSink.RetryAfterDefaultSec == 0 {
		c.AlertSink.RetryAfterDefaultSec = 30
	}

	if c.StatusAPI.Addr == "" {
		c.StatusAPI.Addr = ":8090"
	}

	if c.Registry.Path == "" {
		c.Registry.Path = filepath.Join(c.DataDir, "registry.db")
	}
}

// Validate checks invariants that setDefaults cannot repair, accumulating
// every violation before returning one combined error, per spec.md §7 and
// the teacher's internal/config/validation.go.
func (c *Config) Validate() error {
	var errors []string

	if c.Outlet.ID == "" {
		errors = append(errors, "outlet.id is required")
	}
	if len(c.Outlet.Cameras) == 0 {
		errors = append(errors, "outlet.cameras must list at least one camera id")
	}
	if c.Presence.GraceSeconds > c.Presence.AbsentSeconds {
		errors = append(errors, fmt.Sprintf("presence.grace_seconds (%d) must be <= presence.absent_seconds (%d)",
			c.Presence.GraceSeconds, c.Presence.AbsentSeconds))
	}
	if c.Inference.FrameSkip < 0 {
		errors = append(errors, "inference.frame_skip must be >= 0")
	}
	if c.Recognition.Threshold < -1 || c.Recognition.Threshold > 1 {
		errors = append(errors, "recognition.threshold must be within [-1, 1]")
	}
	if c.Storage.PreviewWidth < 0 {
		errors = append(errors, "storage.preview_width must be >= 0")
	}
	if c.Storage.PreviewQuality < 0 || c.Storage.PreviewQuality > 100 {
		errors = append(errors, fmt.Sprintf("storage.preview_quality must be within [0, 100], got: %d", c.Storage.PreviewQuality))
	}

	declared := make(map[string]bool, len(c.Camera.Sources))
	for _, src := range c.Camera.Sources {
		if src.ID == "" {
			errors = append(errors, "camera.sources entries require an id")
			continue
		}
		declared[src.ID] = true
	}
	for _, camID := range c.Outlet.Cameras {
		if !declared[camID] {
			errors = append(errors, fmt.Sprintf("outlet.cameras references undeclared camera id %q", camID))
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}
	return nil
}
