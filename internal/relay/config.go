package relay

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config holds relay server configuration.
type Config struct {
	// Network settings
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Per-connection settings
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxMessageSize int64         `yaml:"max_message_size"`
	SendQueueDepth int           `yaml:"send_queue_depth"`

	// Room settings
	MaxRoomConnections int `yaml:"max_room_connections"`

	// Logging
	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns the default relay configuration.
func DefaultConfig() Config {
	return Config{
		Host:               "127.0.0.1",
		Port:               8080,
		ReadTimeout:        0, // clients may idle indefinitely
		WriteTimeout:       10 * time.Second,
		MaxMessageSize:     4 * 1024 * 1024, // 4MB
		SendQueueDepth:     256,
		MaxRoomConnections: 128,
		LogLevel:           "info",
	}
}

// fileConfig mirrors Config for yaml decoding. Pointers distinguish
// absent keys from explicit zeroes, and durations arrive as strings
// like "10s".
type fileConfig struct {
	Host *string `yaml:"host"`
	Port *int    `yaml:"port"`

	ReadTimeout    *string `yaml:"read_timeout"`
	WriteTimeout   *string `yaml:"write_timeout"`
	MaxMessageSize *int64  `yaml:"max_message_size"`
	SendQueueDepth *int    `yaml:"send_queue_depth"`

	MaxRoomConnections *int `yaml:"max_room_connections"`

	LogLevel *string `yaml:"log_level"`
}

// LoadConfig reads a yaml config file over the defaults. A missing path
// returns plain defaults.
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()
	if path == "" {
		return config, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return config, errors.Wrapf(err, "failed to read config %q", path)
	}
	var file fileConfig
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return config, errors.Wrapf(err, "failed to parse config %q", path)
	}

	if file.Host != nil {
		config.Host = *file.Host
	}
	if file.Port != nil {
		config.Port = *file.Port
	}
	if file.ReadTimeout != nil {
		if config.ReadTimeout, err = time.ParseDuration(*file.ReadTimeout); err != nil {
			return config, errors.Wrap(err, "invalid read_timeout")
		}
	}
	if file.WriteTimeout != nil {
		if config.WriteTimeout, err = time.ParseDuration(*file.WriteTimeout); err != nil {
			return config, errors.Wrap(err, "invalid write_timeout")
		}
	}
	if file.MaxMessageSize != nil {
		config.MaxMessageSize = *file.MaxMessageSize
	}
	if file.SendQueueDepth != nil {
		config.SendQueueDepth = *file.SendQueueDepth
	}
	if file.MaxRoomConnections != nil {
		config.MaxRoomConnections = *file.MaxRoomConnections
	}
	if file.LogLevel != nil {
		config.LogLevel = *file.LogLevel
	}
	return config, nil
}
