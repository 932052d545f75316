package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/spacetimed/pkg/log"
)

// Config is spacetimed's server configuration: where it listens, where it
// persists data, and the tunables left to deployment policy (keepalive
// interval, backpressure watermarks, scheduler tick).
type Config struct {
	ListenAddr  string `yaml:"listen_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	DataDir     string `yaml:"data_dir"`

	LogLevel log.Level `yaml:"log_level"`
	LogJSON  bool      `yaml:"log_json"`

	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
	HighWatermark     int           `yaml:"high_watermark"`
	HardWatermark     int           `yaml:"hard_watermark"`
	SchedulerInterval time.Duration `yaml:"scheduler_interval"`
	SnapshotInterval  time.Duration `yaml:"snapshot_interval"`

	ComputeRateQuantaPerMicro int64 `yaml:"compute_rate_quanta_per_micro"`
}

// Default returns the configuration a freshly-initialized node boots with
// absent a config file, matching the defaults the individual packages
// already fall back to when their own zero value is passed in
// (gateway.Config{}, controlplane.DefaultSchedulerInterval, ...).
func Default() Config {
	return Config{
		ListenAddr:        "127.0.0.1:3000",
		MetricsAddr:       "127.0.0.1:9090",
		DataDir:           "./data",
		LogLevel:          log.InfoLevel,
		LogJSON:           false,
		KeepaliveInterval: 30 * time.Second,
		HighWatermark:     256,
		HardWatermark:     1024,
		SchedulerInterval: 100 * time.Millisecond,
		SnapshotInterval:  5 * time.Minute,
	}
}

// Load reads a YAML config file at path (if non-empty and it exists),
// layers SPACETIMED_*-prefixed environment variables on top, the same two-
// step precedence cmd/warren's flags-then-manifest apply flow uses, and
// fills in Default() for anything left unset.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("config: read %q: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SPACETIMED_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("SPACETIMED_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("SPACETIMED_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("SPACETIMED_LOG_LEVEL"); v != "" {
		cfg.LogLevel = log.Level(v)
	}
	if v := os.Getenv("SPACETIMED_LOG_JSON"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.LogJSON = b
		}
	}
	if v := os.Getenv("SPACETIMED_KEEPALIVE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.KeepaliveInterval = d
		}
	}
	if v := os.Getenv("SPACETIMED_SCHEDULER_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.SchedulerInterval = d
		}
	}
	if v := os.Getenv("SPACETIMED_SNAPSHOT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.SnapshotInterval = d
		}
	}
}
