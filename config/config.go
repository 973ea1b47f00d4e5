package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type GitHub struct {
	Token      string `env:"GITHUB_TOKEN"`
	Repository string `env:"GITHUB_REPOSITORY"`
	APIBase    string `env:"GITHUB_API_URL, default=https://api.github.com"`
	RunID      int64  `env:"GITHUB_RUN_ID"`
}

type Splunk struct {
	URL        string `env:"SPLUNK_URL"`
	Token      string `env:"SPLUNK_TOKEN"`
	Index      string `env:"SPLUNK_INDEX"`
	SourceType string `env:"SPLUNK_SOURCE_TYPE, default=github:workflow:logs"`
	Host       string `env:"SPLUNK_HOST"`
}

type Config struct {
	GitHub GitHub
	Splunk Splunk

	SSLVerify       bool          `env:"SSL_VERIFY, default=true"`
	IncludeJobSteps bool          `env:"INCLUDE_JOB_STEPS, default=true"`
	Timeout         time.Duration `env:"TIMEOUT, default=30s"`
	MaxRetries      uint          `env:"MAX_RETRIES, default=3"`
	Workers         int           `env:"WORKERS, default=4"`
	Debug           bool          `env:"DEBUG, default=false"`
}

func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	err := envconfig.Process(ctx, &cfg)
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the fields that have no usable default. Repository is
// required because every GitHub API path is scoped to an owner/name slug.
func (c *Config) Validate() error {
	if c.GitHub.Token == "" {
		return fmt.Errorf("GITHUB_TOKEN is required")
	}
	if c.GitHub.Repository == "" || !strings.Contains(c.GitHub.Repository, "/") {
		return fmt.Errorf("GITHUB_REPOSITORY must be an owner/name slug, got %q", c.GitHub.Repository)
	}
	if c.Splunk.URL == "" {
		return fmt.Errorf("SPLUNK_URL is required")
	}
	if c.Splunk.Token == "" && !c.Debug {
		return fmt.Errorf("SPLUNK_TOKEN is required")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("WORKERS must be positive, got %d", c.Workers)
	}
	return nil
}
