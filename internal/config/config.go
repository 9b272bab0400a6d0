// internal/config/config.go
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

type Config struct {
	Server struct {
		Host string `json:"host"`
		Port int    `json:"port"`
	} `json:"server"`

	Database struct {
		Path string `json:"path"` // working tree holding the .arbor directory
	} `json:"database"`

	Repository struct {
		Format      string `json:"format"`     // rich-root, legacy
		CacheSize   int    `json:"cache_size"` // blobs held in the read cache
		Compression struct {
			MinSize int `json:"min_size"`
			Level   int `json:"level"`
		} `json:"compression"`
	} `json:"repository"`

	Lock struct {
		TimeoutSeconds int `json:"timeout_seconds"`
		PollMillis     int `json:"poll_millis"`
	} `json:"lock"`

	Committer   string `json:"committer"`
	Environment string `json:"environment"` // dev, prod
	LogLevel    string `json:"log_level"`   // debug, info, warn, error
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	var c Config
	c.Server.Host = "127.0.0.1"
	c.Server.Port = 8470
	c.Database.Path = "."
	c.Repository.Format = "rich-root"
	c.Repository.CacheSize = 1000
	c.Repository.Compression.MinSize = 1024
	c.Repository.Compression.Level = 2
	c.Lock.TimeoutSeconds = 30
	c.Lock.PollMillis = 200
	c.Environment = "development"
	c.LogLevel = "info"
	return &c
}

// ConfigPath picks the config file for the environment named by ARBOR_ENV.
func ConfigPath() string {
	env := os.Getenv("ARBOR_ENV")
	if env == "" {
		env = "development"
	}
	return fmt.Sprintf("config/config.%s.json", env)
}

// Load reads a JSON config file on top of the defaults.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	config := Default()
	if err := json.NewDecoder(file).Decode(config); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}

	return config, nil
}

// LoadOrDefault is Load, falling back to Default when path does not exist.
func LoadOrDefault(path string) (*Config, error) {
	c, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return c, err
}

func (c *Config) LockTimeout() time.Duration {
	return time.Duration(c.Lock.TimeoutSeconds) * time.Second
}

func (c *Config) LockPoll() time.Duration {
	return time.Duration(c.Lock.PollMillis) * time.Millisecond
}
