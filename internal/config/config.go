// Package config loads the daemon configuration from a YAML file and watches
// it for schedule changes.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

type Config struct {
	Listen string `yaml:"listen"`

	DB struct {
		Path        string `yaml:"path"`
		BusyTimeout string `yaml:"busy_timeout"`
	} `yaml:"db"`

	// Schedule is a cron spec for periodic speedtests; empty disables them.
	Schedule string `yaml:"schedule"`

	Probe struct {
		Timeout        string `yaml:"timeout"`
		ServerCount    int    `yaml:"server_count"`
		MaxConnections int    `yaml:"max_connections"`
		SavingMode     bool   `yaml:"saving_mode"`
	} `yaml:"probe"`

	Queue struct {
		Workers   int `yaml:"workers"`
		QueueSize int `yaml:"queue_size"`
	} `yaml:"queue"`

	HTTP struct {
		RunPerMinute int `yaml:"run_per_minute"`
	} `yaml:"http"`

	Log struct {
		Level   string `yaml:"level"`
		Console *bool  `yaml:"console"`
		File    string `yaml:"file"`
	} `yaml:"log"`
}

// Default returns a runnable configuration: hourly tests, one worker,
// local SQLite file.
func Default() *Config {
	cfg := &Config{}
	cfg.Listen = ":8766"
	cfg.DB.Path = "data/netpulse.db"
	cfg.DB.BusyTimeout = "5s"
	cfg.Schedule = "@hourly"
	cfg.Probe.Timeout = "5m"
	cfg.Queue.Workers = 1
	cfg.Queue.QueueSize = 64
	return cfg
}

// Load reads and validates the YAML file at path. Missing fields fall back
// to defaults; unknown fields are rejected to catch typos early.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	dec := yaml.NewDecoder(strings.NewReader(string(b)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DB.Path) == "" {
		return errors.New("db.path is required")
	}
	if c.Queue.Workers < 0 || c.Queue.QueueSize < 0 {
		return errors.New("queue.workers and queue.queue_size must be >= 0")
	}
	if _, err := c.ProbeTimeout(); err != nil {
		return err
	}
	if _, err := c.DBBusyTimeout(); err != nil {
		return err
	}
	return nil
}

func (c *Config) ProbeTimeout() (time.Duration, error) {
	return parseDurationField("probe.timeout", c.Probe.Timeout)
}

func (c *Config) DBBusyTimeout() (time.Duration, error) {
	return parseDurationField("db.busy_timeout", c.DB.BusyTimeout)
}

func parseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}
