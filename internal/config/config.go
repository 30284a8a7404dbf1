// Package config loads engine configuration from an optional YAML file with
// environment variable overrides.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Metrics  MetricsConfig
	Queue    QueueConfig
	Search   SearchConfig
	Crawler  CrawlerConfig
	Analyzer AnalyzerConfig
	Storage  StorageConfig
}

type ServerConfig struct {
	Port string
	Env  string
}

type MetricsConfig struct {
	Enabled bool
	Port    int
}

type QueueConfig struct {
	Workers     int
	MaxAttempts int
	BackoffBase time.Duration
	StartLimit  int
	StartWindow time.Duration
	Backlog     int
}

// ProviderConfig describes one JSON search API endpoint.
type ProviderConfig struct {
	Name   string  `mapstructure:"name"`
	URL    string  `mapstructure:"url"`
	APIKey string  `mapstructure:"api_key"`
	Weight float64 `mapstructure:"weight"`
}

type SearchConfig struct {
	Providers []ProviderConfig
}

type CrawlerConfig struct {
	Timeout       time.Duration
	MaxRedirects  int
	Concurrency   int
	RespectRobots bool
	Fingerprint   string
	ProxyFile     string
	UserAgents    []string
}

type AnalyzerConfig struct {
	APIKey      string
	Model       string
	Temperature float64
}

type StorageConfig struct {
	// Backend selects the checkpoint store: memory, sqlite, postgres, json.
	Backend string
	DSN     string
}

// Load reads config.yaml if present and applies DELVER_* env overrides.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("delver")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.env", "development")

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.port", 9091)

	viper.SetDefault("queue.workers", 2)
	viper.SetDefault("queue.max_attempts", 3)
	viper.SetDefault("queue.backoff_base", "1s")
	viper.SetDefault("queue.start_limit", 5)
	viper.SetDefault("queue.start_window", "1m")
	viper.SetDefault("queue.backlog", 64)

	viper.SetDefault("crawler.timeout", "10s")
	viper.SetDefault("crawler.max_redirects", 3)
	viper.SetDefault("crawler.concurrency", 3)
	viper.SetDefault("crawler.respect_robots", false)
	viper.SetDefault("crawler.fingerprint", "")
	viper.SetDefault("crawler.proxy_file", "")

	viper.SetDefault("analyzer.api_key", "")
	viper.SetDefault("analyzer.model", "gemini-1.5-flash")
	viper.SetDefault("analyzer.temperature", 0.1)

	viper.SetDefault("storage.backend", "memory")
	viper.SetDefault("storage.dsn", "")

	_ = viper.ReadInConfig()

	var providers []ProviderConfig
	if err := viper.UnmarshalKey("search.providers", &providers); err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: viper.GetString("server.port"),
			Env:  viper.GetString("server.env"),
		},
		Metrics: MetricsConfig{
			Enabled: viper.GetBool("metrics.enabled"),
			Port:    viper.GetInt("metrics.port"),
		},
		Queue: QueueConfig{
			Workers:     viper.GetInt("queue.workers"),
			MaxAttempts: viper.GetInt("queue.max_attempts"),
			BackoffBase: viper.GetDuration("queue.backoff_base"),
			StartLimit:  viper.GetInt("queue.start_limit"),
			StartWindow: viper.GetDuration("queue.start_window"),
			Backlog:     viper.GetInt("queue.backlog"),
		},
		Search: SearchConfig{
			Providers: providers,
		},
		Crawler: CrawlerConfig{
			Timeout:       viper.GetDuration("crawler.timeout"),
			MaxRedirects:  viper.GetInt("crawler.max_redirects"),
			Concurrency:   viper.GetInt("crawler.concurrency"),
			RespectRobots: viper.GetBool("crawler.respect_robots"),
			Fingerprint:   viper.GetString("crawler.fingerprint"),
			ProxyFile:     viper.GetString("crawler.proxy_file"),
			UserAgents:    viper.GetStringSlice("crawler.user_agents"),
		},
		Analyzer: AnalyzerConfig{
			APIKey:      viper.GetString("analyzer.api_key"),
			Model:       viper.GetString("analyzer.model"),
			Temperature: viper.GetFloat64("analyzer.temperature"),
		},
		Storage: StorageConfig{
			Backend: viper.GetString("storage.backend"),
			DSN:     viper.GetString("storage.dsn"),
		},
	}

	return cfg, nil
}
