package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// CameraConfig holds configuration for a single RTSP camera
type CameraConfig struct {
	ID      string `json:"id" yaml:"id"`             // Unique camera id (used for file naming)
	Name    string `json:"name" yaml:"name"`         // Display name
	RTSPURL string `json:"rtsp_url" yaml:"rtsp_url"` // Source URI, credentials embedded
	Enabled bool   `json:"enabled" yaml:"enabled"`   // Whether this camera is recorded
}

// DisplayName returns the camera name, falling back to its id.
func (c CameraConfig) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}

// ArchiveConfig configures the optional S3-compatible archive of closed segments.
type ArchiveConfig struct {
	Enabled   bool
	AccessKey string
	SecretKey string
	AccountID string
	Bucket    string
	Region    string
	Endpoint  string
	Prefix    string
}

// Config contains all configuration for the application
type Config struct {
	// Cameras
	Cameras []CameraConfig

	// Recording Configuration
	OutputDir       string
	SegmentDuration time.Duration
	ReconnectDelay  time.Duration
	ConnectTimeout  time.Duration
	StallTimeout    time.Duration
	ShutdownTimeout time.Duration

	// Retention Configuration
	RetentionDays  int
	ReaperSchedule string

	// Server Configuration
	ServerPort string

	// Database Configuration
	DatabasePath string

	// Archive (S3/R2) Configuration
	Archive ArchiveConfig

	// Source file, empty when running from environment only
	ConfigFile string
}

// Retention returns the retention threshold as a duration.
func (c Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// EnabledCameras returns the enabled cameras in configuration order.
func (c Config) EnabledCameras() []CameraConfig {
	var out []CameraConfig
	for _, cam := range c.Cameras {
		if cam.Enabled {
			out = append(out, cam)
		}
	}
	return out
}

// StatePath is where the recorder persists its last status snapshot.
func (c Config) StatePath() string {
	return filepath.Join(c.OutputDir, "recording_state.json")
}

// fileConfig mirrors the on-disk config.json / config.yaml layout.
type fileConfig struct {
	Cameras         []fileCamera `json:"cameras" yaml:"cameras"`
	RecordingsPath  string       `json:"recordings_path" yaml:"recordings_path"`
	RetentionDays   *int         `json:"retention_days" yaml:"retention_days"`
	SegmentDuration *int         `json:"segment_duration" yaml:"segment_duration"`
	ReconnectDelay  *int         `json:"ffmpeg_reconnect_delay" yaml:"ffmpeg_reconnect_delay"`
	Port            *int         `json:"flask_port" yaml:"flask_port"`
}

type fileCamera struct {
	ID      string `json:"id" yaml:"id"`
	Name    string `json:"name" yaml:"name"`
	RTSPURL string `json:"rtsp_url" yaml:"rtsp_url"`
	Enabled *bool  `json:"enabled" yaml:"enabled"`
}

// Defaults returns a Config populated with built-in defaults only.
func Defaults() Config {
	return Config{
		OutputDir:       "./recordings",
		SegmentDuration: 3600 * time.Second,
		ReconnectDelay:  5 * time.Second,
		ConnectTimeout:  10 * time.Second,
		StallTimeout:    10 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RetentionDays:   7,
		ReaperSchedule:  "@every 1h",
		ServerPort:      "5000",
		DatabasePath:    "./data/camrec.db",
	}
}

// LoadConfig loads configuration from .env, the config file named by
// CONFIG_FILE (default config.json) and environment overrides, in that order
// of increasing precedence. The result is validated.
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("[config] ⚠️ no .env file loaded: %v", err)
	}

	cfg := Defaults()

	path, explicit := os.LookupEnv("CONFIG_FILE")
	if !explicit {
		path = "config.json"
	}
	if err := cfg.mergeFile(path); err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			log.Printf("[config] %s not found, using environment only", path)
		} else {
			return cfg, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	log.Printf("[config] ✅ loaded %d cameras (%d enabled), output %s", len(cfg.Cameras), len(cfg.EnabledCameras()), cfg.OutputDir)
	return cfg, nil
}

// LoadConfigFromFile loads defaults plus a JSON or YAML config file, without
// consulting the environment. The result is validated.
func LoadConfigFromFile(filePath string) (Config, error) {
	cfg := Defaults()
	if err := cfg.mergeFile(filePath); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fc)
	default:
		err = json.Unmarshal(data, &fc)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filePath, err)
	}

	c.ConfigFile = filePath
	for _, cam := range fc.Cameras {
		enabled := true
		if cam.Enabled != nil {
			enabled = *cam.Enabled
		}
		c.Cameras = append(c.Cameras, CameraConfig{
			ID:      strings.TrimSpace(cam.ID),
			Name:    cam.Name,
			RTSPURL: strings.TrimSpace(cam.RTSPURL),
			Enabled: enabled,
		})
	}
	if fc.RecordingsPath != "" {
		c.OutputDir = fc.RecordingsPath
	}
	if fc.RetentionDays != nil {
		c.RetentionDays = *fc.RetentionDays
	}
	if fc.SegmentDuration != nil {
		c.SegmentDuration = time.Duration(*fc.SegmentDuration) * time.Second
	}
	if fc.ReconnectDelay != nil {
		c.ReconnectDelay = time.Duration(*fc.ReconnectDelay) * time.Second
	}
	if fc.Port != nil {
		c.ServerPort = strconv.Itoa(*fc.Port)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.OutputDir = getEnv("RECORDINGS_PATH", c.OutputDir)
	c.SegmentDuration = getEnvSeconds("SEGMENT_DURATION", c.SegmentDuration)
	c.ReconnectDelay = getEnvSeconds("RECONNECT_DELAY", c.ReconnectDelay)
	c.ConnectTimeout = getEnvSeconds("CONNECT_TIMEOUT", c.ConnectTimeout)
	c.StallTimeout = getEnvSeconds("STALL_TIMEOUT", c.StallTimeout)
	c.ShutdownTimeout = getEnvSeconds("SHUTDOWN_TIMEOUT", c.ShutdownTimeout)
	c.RetentionDays = getEnvInt("RETENTION_DAYS", c.RetentionDays)
	c.ReaperSchedule = getEnv("REAPER_SCHEDULE", c.ReaperSchedule)
	c.ServerPort = getEnv("SERVER_PORT", c.ServerPort)
	c.DatabasePath = getEnv("DATABASE_PATH", c.DatabasePath)

	c.Archive = ArchiveConfig{
		Enabled:   getEnvBool("R2_ENABLED", false),
		AccessKey: getEnv("R2_ACCESS_KEY", ""),
		SecretKey: getEnv("R2_SECRET_KEY", ""),
		AccountID: getEnv("R2_ACCOUNT_ID", ""),
		Bucket:    getEnv("R2_BUCKET", ""),
		Region:    getEnv("R2_REGION", "auto"),
		Endpoint:  getEnv("R2_ENDPOINT", ""),
		Prefix:    getEnv("R2_PREFIX", "recordings"),
	}

	// Legacy single camera from the environment
	if len(c.Cameras) == 0 {
		if url := getEnv("RTSP_URL", ""); url != "" {
			log.Println("[config] No cameras in config file, using RTSP_URL")
			c.Cameras = append(c.Cameras, CameraConfig{
				ID:      getEnv("RTSP_CAMERA_ID", "camera_A"),
				Name:    getEnv("RTSP_CAMERA_NAME", "Camera A"),
				RTSPURL: url,
				Enabled: true,
			})
		}
	}
}

// getEnv returns environment variable or fallback value
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		log.Printf("[config] ⚠️ invalid %s=%q, using %d", key, value, fallback)
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		log.Printf("[config] ⚠️ invalid %s=%q, using %t", key, value, fallback)
		return fallback
	}
	return b
}

// getEnvSeconds reads a whole number of seconds.
func getEnvSeconds(key string, fallback time.Duration) time.Duration {
	secs := getEnvInt(key, int(fallback/time.Second))
	return time.Duration(secs) * time.Second
}

// EnsurePaths creates the output and database directories.
func EnsurePaths(cfg Config) error {
	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("create output directory %s: %w", cfg.OutputDir, err)
	}
	dbDir := filepath.Dir(cfg.DatabasePath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return fmt.Errorf("create database directory %s: %w", dbDir, err)
	}
	return nil
}
