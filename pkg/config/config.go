package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/golobby/config/v3"
	"github.com/golobby/config/v3/pkg/feeder"
	"github.com/joho/godotenv"
	"go.yaml.in/yaml/v3"

	"github.com/confmesh/confmesh/pkg/utils"
)

var cfg *Config

// Config holds the application configuration
type Config struct {
	NodeID        string   `yaml:"node_id"`         // Unique participant identifier (auto-generated if not set)
	DisplayName   string   `yaml:"display_name"`    // Name announced to the meeting backend
	SignalingURL  string   `yaml:"signaling_url"`   // WebSocket signaling server URL
	MeetingAPIURL string   `yaml:"meeting_api_url"` // Meeting registry / upload REST endpoint
	DBPath        string   `yaml:"db_path"`
	ServerAddr    string   `yaml:"server_addr"` // Local control API listen address
	LogLevel      string   `yaml:"log_level"`
	STUNServers   []string `yaml:"stun_servers"` // Override for the default public STUN list

	AudioDeviceID string `yaml:"audio_device_id"` // Seed preference; durable state lives in the DB
	VideoDeviceID string `yaml:"video_device_id"`

	Version string `yaml:"-"`

	mu   sync.Mutex `yaml:"-"`
	file string     `yaml:"-"`
}

// GetServerPort returns the port part of the control API address.
func (c *Config) GetServerPort() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	parts := strings.Split(c.ServerAddr, ":")
	return parts[len(parts)-1]
}

// Save writes the current configuration back to the file
func (c *Config) Save() error {
	if c.file == "" {
		return fmt.Errorf("config file path is not set")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(c.file, data, 0o644)
}

// EnsureDefaultConfig sets default values for missing config fields
func (c *Config) EnsureDefaultConfig(save bool) error {
	changed := false
	c.mu.Lock()

	// Env overrides
	if url := utils.Env("CONFMESH_SIGNALING_URL", ""); url != "" {
		c.SignalingURL = url
	}

	if url := utils.Env("CONFMESH_MEETING_API_URL", ""); url != "" {
		c.MeetingAPIURL = url
	}

	if name := utils.Env("CONFMESH_DISPLAY_NAME", ""); name != "" {
		c.DisplayName = name
	}

	if logLevel := utils.Env("CONFMESH_LOG_LEVEL", ""); logLevel != "" {
		c.LogLevel = logLevel
	}

	// Create defaults
	if c.NodeID == "" {
		nodeID, _ := utils.GenerateID()
		c.NodeID = nodeID
		changed = true
	}

	if c.DisplayName == "" {
		c.DisplayName = c.NodeID
		changed = true
	}

	if c.DBPath == "" {
		dir := filepath.Dir(c.file)
		c.DBPath = dir + "/confmesh.db"
		changed = true
	}

	if c.ServerAddr == "" {
		c.ServerAddr = ":3080"
		changed = true
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
		changed = true
	}

	c.mu.Unlock()

	if changed && save {
		return c.Save()
	}
	return nil
}

// ConfigInstance returns the global config instance
func ConfigInstance() *Config {
	return cfg
}

// Load loads configuration from the specified file and environment variables
func Load(version, file, logLevel string) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg = &Config{
		Version: version,
		file:    file,
	}

	yamlFeeder := feeder.Yaml{Path: file}
	_ = config.New().AddFeeder(yamlFeeder).AddStruct(cfg).Feed()

	if err := cfg.EnsureDefaultConfig(cfg.file != ""); err != nil {
		return nil, err
	}

	// Override log level from command-line argument
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	return cfg, nil
}
