// Package config provides configuration management for ClassTrack.
// It loads configuration from YAML files with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all ClassTrack configuration.
type Config struct {
	Camera      CameraConfig      `yaml:"camera"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Alerts      AlertConfig       `yaml:"alerts"`
	Storage     StorageConfig     `yaml:"storage"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// CameraConfig holds camera settings.
type CameraConfig struct {
	Device string `yaml:"device"`
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	FPS    int    `yaml:"fps"`
}

// RecognitionConfig holds face matching settings.
type RecognitionConfig struct {
	// MatchThreshold is the maximum probe-to-identity distance accepted as a
	// confident match. Higher values admit more false accepts and fewer
	// false rejects.
	MatchThreshold float64 `yaml:"match_threshold"`
	// EmbeddingDim is the embedding length produced by the model. Gallery
	// entries are validated against it at load time.
	EmbeddingDim int    `yaml:"embedding_dim"`
	ModelPath    string `yaml:"model_path"`
	// Index selects the matcher implementation: "brute" or "hnsw".
	Index string `yaml:"index"`
}

// AlertConfig holds unauthorized-entry alert settings.
type AlertConfig struct {
	// CooldownSeconds is the minimum time between consecutive security
	// alerts within one session.
	CooldownSeconds float64 `yaml:"cooldown_seconds"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	DataDir           string `yaml:"data_dir"`
	AttendanceDB      string `yaml:"attendance_db"`
	EncryptionEnabled bool   `yaml:"encryption_enabled"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".local/share/classtrack")
	return &Config{
		Camera: CameraConfig{
			Device: "/dev/video0",
			Width:  640,
			Height: 480,
			FPS:    30,
		},
		Recognition: RecognitionConfig{
			MatchThreshold: 0.6,
			EmbeddingDim:   128,
			ModelPath:      filepath.Join(dataDir, "models"),
			Index:          "brute",
		},
		Alerts: AlertConfig{
			CooldownSeconds: 10,
		},
		Storage: StorageConfig{
			DataDir:           dataDir,
			AttendanceDB:      filepath.Join(dataDir, "attendance.db"),
			EncryptionEnabled: true,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(dataDir, "classtrack.log"),
		},
	}
}

// Load loads configuration from the specified file.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return config, err
	}

	return config, nil
}

// LoadDefault tries to load configuration from default locations.
func LoadDefault() (*Config, error) {
	if _, err := os.Stat("/etc/classtrack/classtrack.yaml"); err == nil {
		return Load("/etc/classtrack/classtrack.yaml")
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return DefaultConfig(), nil
	}

	userConfig := filepath.Join(homeDir, ".config/classtrack/classtrack.yaml")
	if _, err := os.Stat(userConfig); err == nil {
		return Load(userConfig)
	}

	return DefaultConfig(), nil
}

// ExpandPath expands ~ and environment variables in a path.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[2:])
		}
	}
	return os.ExpandEnv(path)
}

// ExpandPaths expands all paths in the configuration.
func (c *Config) ExpandPaths() {
	c.Camera.Device = ExpandPath(c.Camera.Device)
	c.Recognition.ModelPath = ExpandPath(c.Recognition.ModelPath)
	c.Storage.DataDir = ExpandPath(c.Storage.DataDir)
	c.Storage.AttendanceDB = ExpandPath(c.Storage.AttendanceDB)
	c.Logging.File = ExpandPath(c.Logging.File)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		return fmt.Errorf("invalid camera resolution: %dx%d", c.Camera.Width, c.Camera.Height)
	}
	if c.Camera.FPS <= 0 {
		return fmt.Errorf("invalid camera FPS: %d", c.Camera.FPS)
	}

	if c.Recognition.MatchThreshold <= 0 {
		return fmt.Errorf("match_threshold must be positive, got %f", c.Recognition.MatchThreshold)
	}
	if c.Recognition.EmbeddingDim <= 0 {
		return fmt.Errorf("embedding_dim must be positive, got %d", c.Recognition.EmbeddingDim)
	}
	if c.Recognition.Index != "brute" && c.Recognition.Index != "hnsw" {
		return fmt.Errorf("invalid recognition index: %s (must be brute or hnsw)", c.Recognition.Index)
	}

	if c.Alerts.CooldownSeconds < 0 {
		return fmt.Errorf("cooldown_seconds must not be negative, got %f", c.Alerts.CooldownSeconds)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

// EnsureDirectories creates necessary directories for storage and logging.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.Storage.DataDir, 0700); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	if err := os.MkdirAll(c.Recognition.ModelPath, 0755); err != nil {
		return fmt.Errorf("failed to create models directory: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.Storage.AttendanceDB), 0700); err != nil {
		return fmt.Errorf("failed to create attendance database directory: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.Logging.File), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	return nil
}

// GalleryPath returns the path of the gallery file.
func (c *Config) GalleryPath() string {
	name := "gallery.json"
	if c.Storage.EncryptionEnabled {
		name = "gallery.enc"
	}
	return filepath.Join(c.Storage.DataDir, name)
}
