// internal/config/config.go
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// ConfigurationError reports a missing or malformed run parameter.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// Stream is one named crawl target from configuration.
type Stream struct {
	ID    string
	Query string
}

// Config holds all configuration for the pipeline.
type Config struct {
	LogLevel    string   `mapstructure:"LOG_LEVEL"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	GithubToken string   `mapstructure:"GITHUB_TOKEN"`
	SearchQuery string   `mapstructure:"SEARCH_QUERY"`
	StreamID    string   `mapstructure:"STREAM_ID"`
	StartCursor string   `mapstructure:"START_CURSOR"`
	ExtraStream []string `mapstructure:"STREAMS"`

	PageSize          int     `mapstructure:"PAGE_SIZE"`
	MaxPages          int     `mapstructure:"MAX_PAGES"`
	MaxAttempts       int     `mapstructure:"MAX_ATTEMPTS"`
	RequestsPerSecond float64 `mapstructure:"REQUESTS_PER_SECOND"`
	Concurrency       int     `mapstructure:"CONCURRENCY"`
	EnrichMeta        bool    `mapstructure:"ENRICH_META"`

	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	Serve    bool   `mapstructure:"SERVE"`
}

// Load reads configuration from a .env file and/or environment variables.
func Load() (*Config, error) {
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("SEARCH_QUERY", "stars:>1000 sort:stars-desc")
	viper.SetDefault("STREAM_ID", "stars")
	viper.SetDefault("PAGE_SIZE", 100)
	viper.SetDefault("MAX_PAGES", 10)
	viper.SetDefault("MAX_ATTEMPTS", 5)
	viper.SetDefault("REQUESTS_PER_SECOND", 1.0)
	viper.SetDefault("CONCURRENCY", 2)
	viper.SetDefault("ENRICH_META", false)
	viper.SetDefault("HTTP_ADDR", ":8080")
	viper.SetDefault("SERVE", false)

	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	_ = viper.ReadInConfig() // the .env file is optional

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDatabaseURL reads only the database connection string, for read-only
// tools that need no crawl credentials.
func LoadDatabaseURL() (string, error) {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	_ = viper.ReadInConfig()
	viper.AutomaticEnv()

	url := viper.GetString("DATABASE_URL")
	if url == "" {
		return "", &ConfigurationError{Field: "DATABASE_URL", Reason: "required"}
	}
	return url, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return &ConfigurationError{Field: "DATABASE_URL", Reason: "required"}
	}
	if c.GithubToken == "" {
		return &ConfigurationError{Field: "GITHUB_TOKEN", Reason: "required"}
	}
	if c.PageSize < 1 || c.PageSize > 100 {
		return &ConfigurationError{Field: "PAGE_SIZE", Reason: "must be between 1 and 100"}
	}
	if c.MaxPages < 1 {
		return &ConfigurationError{Field: "MAX_PAGES", Reason: "must be at least 1"}
	}
	if c.MaxAttempts < 1 {
		return &ConfigurationError{Field: "MAX_ATTEMPTS", Reason: "must be at least 1"}
	}
	if c.RequestsPerSecond <= 0 {
		return &ConfigurationError{Field: "REQUESTS_PER_SECOND", Reason: "must be positive"}
	}
	if c.Concurrency < 1 {
		return &ConfigurationError{Field: "CONCURRENCY", Reason: "must be at least 1"}
	}
	if _, err := c.Streams(); err != nil {
		return err
	}
	return nil
}

// Streams returns every configured crawl target: the primary stream plus any
// STREAMS entries in "id=query" form.
func (c *Config) Streams() ([]Stream, error) {
	streams := []Stream{{ID: c.StreamID, Query: c.SearchQuery}}
	seen := map[string]bool{c.StreamID: true}

	for _, raw := range c.ExtraStream {
		id, query, ok := strings.Cut(raw, "=")
		id = strings.TrimSpace(id)
		query = strings.TrimSpace(query)
		if !ok || id == "" || query == "" {
			return nil, &ConfigurationError{Field: "STREAMS",
				Reason: fmt.Sprintf("entry %q must be in 'id=query' form", raw)}
		}
		if seen[id] {
			return nil, &ConfigurationError{Field: "STREAMS",
				Reason: fmt.Sprintf("duplicate stream id %q", id)}
		}
		seen[id] = true
		streams = append(streams, Stream{ID: id, Query: query})
	}
	return streams, nil
}
