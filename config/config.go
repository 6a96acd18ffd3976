package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Chartflow ChartflowConfig `yaml:"chartflow"`
	Feed      FeedConfig      `yaml:"feed"`
	Search    SearchConfig    `yaml:"search"`
	Output    OutputConfig    `yaml:"output"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Recorder  RecorderConfig  `yaml:"recorder"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Symbols   []SymbolConfig  `yaml:"symbols"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ChartflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type FeedConfig struct {
	URL             string        `yaml:"url"`
	Origin          string        `yaml:"origin"`
	AuthToken       string        `yaml:"auth_token"`
	Timeout         time.Duration `yaml:"timeout"`
	MetadataTimeout time.Duration `yaml:"metadata_timeout"`
	Adjustment      string        `yaml:"adjustment"`
	SessionType     string        `yaml:"session_type"`
}

type SearchConfig struct {
	URL               string  `yaml:"url"`
	UserAgent         string  `yaml:"user_agent"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

type OutputConfig struct {
	Dir string `yaml:"dir"`
}

type ArchiveConfig struct {
	Enabled bool     `yaml:"enabled"`
	Dir     string   `yaml:"dir"`
	S3      S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
}

type RecorderConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type ScheduleConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
}

type SymbolConfig struct {
	Symbol   string `yaml:"symbol"`
	Name     string `yaml:"name"`
	Interval string `yaml:"interval"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// LoadConfig reads the YAML configuration file, applies defaults and
// environment overrides, and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&config)

	// Environment overrides
	if v := os.Getenv("CHART_AUTH_TOKEN"); v != "" {
		config.Feed.AuthToken = strings.TrimSpace(v)
	}
	if config.Archive.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Archive.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Archive.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Archive.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Archive.S3.Bucket = strings.TrimSpace(v)
		}
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyDefaults(config *Config) {
	if config.Feed.URL == "" {
		config.Feed.URL = "wss://data.tradingview.com/socket.io/websocket"
	}
	if config.Feed.Origin == "" {
		config.Feed.Origin = "https://www.tradingview.com"
	}
	if config.Feed.AuthToken == "" {
		config.Feed.AuthToken = "unauthorized_user_token"
	}
	if config.Feed.Timeout == 0 {
		config.Feed.Timeout = 15 * time.Second
	}
	if config.Feed.MetadataTimeout == 0 {
		config.Feed.MetadataTimeout = 5 * time.Second
	}
	if config.Feed.Adjustment == "" {
		config.Feed.Adjustment = "splits"
	}
	if config.Feed.SessionType == "" {
		config.Feed.SessionType = "extended"
	}
	if config.Search.URL == "" {
		config.Search.URL = "https://symbol-search.tradingview.com/symbol_search/v3/"
	}
	if config.Search.UserAgent == "" {
		config.Search.UserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:147.0) Gecko/20100101 Firefox/147.0"
	}
	if config.Search.RequestsPerSecond == 0 {
		config.Search.RequestsPerSecond = 2
	}
	if config.Search.Burst == 0 {
		config.Search.Burst = 1
	}
	if config.Output.Dir == "" {
		config.Output.Dir = "charts"
	}
	if config.Archive.Dir == "" {
		config.Archive.Dir = "archive"
	}
	if config.Metrics.Namespace == "" {
		config.Metrics.Namespace = "Chartflow"
	}
	if config.Recorder.Path == "" {
		config.Recorder.Path = "chartflow.db"
	}
	for i := range config.Symbols {
		if config.Symbols[i].Interval == "" {
			config.Symbols[i].Interval = "5"
		}
		if config.Symbols[i].Name == "" {
			config.Symbols[i].Name = strings.ReplaceAll(config.Symbols[i].Symbol, ":", "_")
		}
	}
}

func validateConfig(config *Config) error {
	if config.Feed.Timeout <= 0 {
		return fmt.Errorf("feed timeout must be positive")
	}
	if config.Feed.MetadataTimeout <= 0 {
		return fmt.Errorf("feed metadata timeout must be positive")
	}
	if config.Feed.MetadataTimeout > config.Feed.Timeout {
		return fmt.Errorf("metadata timeout must not exceed the session timeout")
	}
	for _, s := range config.Symbols {
		if s.Symbol == "" {
			return fmt.Errorf("symbol entry missing symbol id")
		}
	}
	if config.Archive.S3.Enabled && config.Archive.S3.Bucket == "" {
		return fmt.Errorf("archive s3 enabled but bucket not set")
	}
	if config.Schedule.Enabled && config.Schedule.Cron == "" {
		return fmt.Errorf("schedule enabled but cron spec not set")
	}
	return nil
}
