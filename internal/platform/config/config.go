// Package config loads sweeper settings from the environment and optional
// .env files. API credentials are read from CLIENT_ID and CLIENT_SECRET.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	dErrors "sweeper/pkg/domain-errors"
	"sweeper/pkg/validation"
)

// Falcon cloud regions and their API base URLs.
var cloudBaseURLs = map[string]string{
	"us-1":     "https://api.crowdstrike.com",
	"us-2":     "https://api.us-2.crowdstrike.com",
	"eu-1":     "https://api.eu-1.crowdstrike.com",
	"us-gov-1": "https://api.laggar.gcw.crowdstrike.com",
}

const DefaultParentName = "Parent Tenant"

// Config captures everything a sweep needs besides its command-line flags.
type Config struct {
	ClientID     string `env:"CLIENT_ID" validate:"notblank"`
	ClientSecret string `env:"CLIENT_SECRET" validate:"notblank"`

	Cloud      string `env:"FALCON_CLOUD" envDefault:"us-1" validate:"oneof=us-1 us-2 eu-1 us-gov-1"`
	BaseURL    string `env:"FALCON_BASE_URL" validate:"omitempty,url"`
	ParentName string `env:"FALCON_PARENT_NAME" envDefault:"Parent Tenant" validate:"notblank"`

	Timeout        time.Duration `env:"FALCON_TIMEOUT" envDefault:"30s" validate:"gt=0"`
	RateLimitRPS   float64       `env:"FALCON_RATE_LIMIT_RPS" envDefault:"10" validate:"gt=0"`
	RateLimitBurst int           `env:"FALCON_RATE_LIMIT_BURST" envDefault:"5" validate:"min=1"`
	MaxRetries     uint64        `env:"FALCON_MAX_RETRIES" envDefault:"3" validate:"max=10"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console" validate:"oneof=console json"`
}

// APIBaseURL returns the explicit base URL when set, otherwise the URL of the
// configured cloud.
func (c Config) APIBaseURL() string {
	if c.BaseURL != "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	return cloudBaseURLs[c.Cloud]
}

// Load reads the given .env files (missing ones are skipped, already-set
// variables win), parses the environment, and validates the result.
func Load(envFiles ...string) (Config, error) {
	if err := loadEnvFiles(envFiles); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, dErrors.Wrap(err, dErrors.CodeValidation, "could not parse environment")
	}
	if err := validation.Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadEnvFiles(files []string) error {
	existing := make([]string, 0, len(files))
	for _, f := range files {
		if f == "" {
			continue
		}
		if _, err := os.Stat(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return dErrors.Wrap(err, dErrors.CodeInvalidInput, "could not read env file "+f)
		}
		existing = append(existing, f)
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "could not load env files")
	}
	return nil
}
