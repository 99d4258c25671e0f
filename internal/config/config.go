package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Eviction policies for sessions that time out while still inside the zone.
const (
	EvictDrop = "drop"
	EvictExit = "exit"
)

// Event store backends.
const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config holds the server settings (environment) and the monitoring
// settings (YAML file referenced by CONFIG_FILE).
type Config struct {
	Port            int
	APIKey          string
	ConfigFile      string
	EventDirectory  string
	EventStore      string
	DatabasePath    string
	PostgresURL     string
	LogDirectory    string
	LogLevel        string
	QueueSize       int
	EnqueueTimeout  time.Duration
	ShutdownTimeout time.Duration
	JoinTimeout     time.Duration
	StartStagger    time.Duration
	PreviewInterval int // Co którą klatkę wysyłać podgląd (0 = wyłączony)

	Model      ModelConfig      `yaml:"model"`
	Thresholds ThresholdsConfig `yaml:"thresholds"`
	Processing ProcessingConfig `yaml:"processing"`
	Cameras    []CameraConfig   `yaml:"cameras"`
}

// ModelConfig describes the detection network.
type ModelConfig struct {
	Path          string            `yaml:"path"`
	Config        string            `yaml:"config"`
	TargetClasses []int             `yaml:"target_classes"`
	ClassNames    map[string]string `yaml:"class_names"`
	Confidence    float64           `yaml:"conf"`
}

// ThresholdsConfig holds dwell thresholds in seconds.
type ThresholdsConfig struct {
	Warning   float64 `yaml:"warning"`
	Violation float64 `yaml:"violation"`
}

// ProcessingConfig tunes the per-camera processing loop.
type ProcessingConfig struct {
	AdaptiveMode   *bool   `yaml:"adaptive_mode"`
	IdleInterval   int     `yaml:"idle_interval"`
	ActiveInterval int     `yaml:"active_interval"`
	FrameSkipIdle  int     `yaml:"frame_skip_idle"`
	FrameSkipAct   int     `yaml:"frame_skip_active"`
	TimeoutSeconds float64 `yaml:"timeout_seconds"`
	EmptyThreshold int     `yaml:"empty_threshold"`
	EvictPolicy    string  `yaml:"evict_policy"`
}

// Adaptive reports whether adaptive frame skipping is on (default true).
func (p ProcessingConfig) Adaptive() bool {
	return p.AdaptiveMode == nil || *p.AdaptiveMode
}

// CameraConfig describes one monitored camera.
type CameraConfig struct {
	ID       int    `yaml:"id"`
	Name     string `yaml:"name"`
	Source   string `yaml:"source"`
	ZoneFile string `yaml:"zone_file"`
	// PolygonFile is the older name of zone_file.
	PolygonFile string `yaml:"polygon_file"`
	Enabled     *bool  `yaml:"enabled"`
}

// IsEnabled reports whether the camera should be started (default true).
func (c CameraConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Load reads environment settings and then the YAML monitoring file.
func Load() (*Config, error) {
	cfg := &Config{
		Port:            getEnvAsInt("PORT", 8080),
		APIKey:          getEnv("API_KEY", ""),
		ConfigFile:      getEnv("CONFIG_FILE", filepath.Join(".", "config", "config.yaml")),
		EventDirectory:  getEnv("EVENT_DIR", filepath.Join(".", "saved_images")),
		EventStore:      getEnv("EVENT_STORE", StoreSQLite),
		DatabasePath:    getEnv("DB_PATH", filepath.Join(".", "data", "events.db")),
		PostgresURL:     getEnv("POSTGRES_URL", ""),
		LogDirectory:    getEnv("LOG_DIR", filepath.Join(".", "logs")),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		QueueSize:       getEnvAsInt("QUEUE_SIZE", 256),
		EnqueueTimeout:  time.Duration(getEnvAsInt("ENQUEUE_TIMEOUT_MS", 50)) * time.Millisecond,
		ShutdownTimeout: time.Duration(getEnvAsInt("SHUTDOWN_TIMEOUT_S", 10)) * time.Second,
		JoinTimeout:     time.Duration(getEnvAsInt("JOIN_TIMEOUT_S", 5)) * time.Second,
		StartStagger:    time.Duration(getEnvAsInt("START_STAGGER_MS", 50)) * time.Millisecond,
		PreviewInterval: getEnvAsInt("PREVIEW_INTERVAL", 0),
	}

	if err := cfg.LoadFile(cfg.ConfigFile); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile parses the YAML monitoring file into cfg, applies defaults and validates.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	p := &c.Processing
	// frame_skip_* are the key names older config files use
	if p.IdleInterval == 0 {
		p.IdleInterval = p.FrameSkipIdle
	}
	if p.ActiveInterval == 0 {
		p.ActiveInterval = p.FrameSkipAct
	}
	if p.IdleInterval <= 0 {
		p.IdleInterval = 3
	}
	if p.ActiveInterval <= 0 {
		p.ActiveInterval = 2
	}
	if p.TimeoutSeconds == 0 {
		p.TimeoutSeconds = 3.0
	}
	if p.EmptyThreshold <= 0 {
		p.EmptyThreshold = 3
	}
	if p.EvictPolicy == "" {
		p.EvictPolicy = EvictDrop
	}
	if c.Model.Confidence == 0 {
		c.Model.Confidence = 0.35
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	for i := range c.Cameras {
		if c.Cameras[i].ZoneFile == "" {
			c.Cameras[i].ZoneFile = c.Cameras[i].PolygonFile
		}
		if c.Cameras[i].Name == "" {
			c.Cameras[i].Name = fmt.Sprintf("camera_%d", c.Cameras[i].ID)
		}
	}
}

// Validate checks the monitoring settings for values the pipeline cannot run with.
func (c *Config) Validate() error {
	if len(c.Cameras) == 0 {
		return errors.New("no cameras configured")
	}
	seen := make(map[int]bool, len(c.Cameras))
	for _, cam := range c.Cameras {
		if seen[cam.ID] {
			return fmt.Errorf("duplicate camera id %d", cam.ID)
		}
		seen[cam.ID] = true
		if cam.Source == "" {
			return fmt.Errorf("camera %d: source is required", cam.ID)
		}
		if cam.ZoneFile == "" {
			return fmt.Errorf("camera %d: zone_file is required", cam.ID)
		}
	}
	if c.Thresholds.Violation <= 0 {
		return errors.New("thresholds.violation must be positive")
	}
	if c.Thresholds.Warning < 0 || c.Thresholds.Warning > c.Thresholds.Violation {
		return errors.New("thresholds.warning must be between 0 and thresholds.violation")
	}
	if c.Processing.TimeoutSeconds <= 0 {
		return errors.New("processing.timeout_seconds must be positive")
	}
	switch c.Processing.EvictPolicy {
	case EvictDrop, EvictExit:
	default:
		return fmt.Errorf("unknown processing.evict_policy %q", c.Processing.EvictPolicy)
	}
	switch c.EventStore {
	case "", StoreSQLite:
	case StorePostgres:
		if c.PostgresURL == "" {
			return errors.New("POSTGRES_URL is required when EVENT_STORE=postgres")
		}
	default:
		return fmt.Errorf("unknown event store %q", c.EventStore)
	}
	return nil
}

// EnabledCameras returns the cameras that should be started.
func (c *Config) EnabledCameras() []CameraConfig {
	out := make([]CameraConfig, 0, len(c.Cameras))
	for _, cam := range c.Cameras {
		if cam.IsEnabled() {
			out = append(out, cam)
		}
	}
	return out
}

// ClassName returns the configured name for a class id.
func (m ModelConfig) ClassName(classID int) string {
	if name, ok := m.ClassNames[strconv.Itoa(classID)]; ok {
		return name
	}
	return fmt.Sprintf("class_%d", classID)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
