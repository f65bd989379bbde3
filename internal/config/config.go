// Package config loads the mlsctl YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the whole configuration file.
type Config struct {
	NetworkPrefix string    `yaml:"network_prefix" json:"network_prefix"`
	Peer          Peer      `yaml:"peer" json:"peer"`
	Reconnect     Reconnect `yaml:"reconnect" json:"reconnect"`
	Liveness      Liveness  `yaml:"liveness" json:"liveness"`
	Socket        string    `yaml:"socket" json:"socket"`
	HTTP          HTTP      `yaml:"http" json:"http"`
	Inventory     Inventory `yaml:"inventory" json:"inventory"`
	Presets       []string  `yaml:"presets" json:"presets"`
	Log           Log       `yaml:"log" json:"log"`
}

// Peer identifies the remote device and its GATT layout.
type Peer struct {
	NamePrefix     string        `yaml:"name_prefix" json:"name_prefix"`
	Adapter        string        `yaml:"adapter" json:"adapter"`
	ScanTimeout    time.Duration `yaml:"scan_timeout" json:"scan_timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout"`
	ServiceUUID    string        `yaml:"service_uuid" json:"service_uuid"`
	CommandUUID    string        `yaml:"command_uuid" json:"command_uuid"`
	StatusUUID     string        `yaml:"status_uuid" json:"status_uuid"`
}

type Reconnect struct {
	MaxAttempts int           `yaml:"max_attempts" json:"max_attempts"`
	Delay       time.Duration `yaml:"delay" json:"delay"`
}

type Liveness struct {
	Interval  time.Duration `yaml:"interval" json:"interval"`
	Threshold time.Duration `yaml:"threshold" json:"threshold"`
}

type HTTP struct {
	Listen string `yaml:"listen" json:"listen"`
}

// Inventory locates the device check-in records.
type Inventory struct {
	Dir            string            `yaml:"dir" json:"dir"`
	DefaultIID     string            `yaml:"default_iid" json:"default_iid"`
	LatestFirmware map[string]string `yaml:"latest_firmware" json:"latest_firmware"` // board -> version
}

type Log struct {
	Level string `yaml:"level" json:"level"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		NetworkPrefix: "AMX",
		Peer: Peer{
			NamePrefix:     "MovingLightShow",
			Adapter:        "hci0",
			ScanTimeout:    10 * time.Second,
			ConnectTimeout: 15 * time.Second,
			ServiceUUID:    "fe150000-c76e-46b7-a964-3358a4efcf62",
			CommandUUID:    "fe150001-c76e-46b7-a964-3358a4efcf62",
			StatusUUID:     "fe150002-c76e-46b7-a964-3358a4efcf62",
		},
		Reconnect: Reconnect{MaxAttempts: 30, Delay: time.Second},
		Liveness:  Liveness{Interval: time.Second, Threshold: time.Second},
		Inventory: Inventory{Dir: "devices", DefaultIID: "AMX"},
		Presets:   []string{"ON", "OFF", "NEXT", "PREV"},
		Log:       Log{Level: "info"},
	}
}

// DefaultPath returns $XDG_CONFIG_HOME/mlsctl/config.yaml, falling back to
// ~/.config.
func DefaultPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		dir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(dir, "mlsctl", "config.yaml")
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// SocketPath returns the IPC socket location.
func (c *Config) SocketPath() string {
	if c.Socket != "" {
		return c.Socket
	}
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "mlsctl.sock")
}
