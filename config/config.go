// Package config loads runtime settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	GoogleAPIKey string `env:"GOOGLE_API_KEY,required"`
	GeminiModel  string `env:"GEMINI_MODEL" envDefault:"gemini-2.5-flash"`

	SlackBotToken      string `env:"SLACK_BOT_TOKEN,required"`
	SlackSigningSecret string `env:"SLACK_SIGNING_SECRET"`
	// Resolved with auth.test when empty.
	BotUserID string `env:"BOT_USER_ID"`

	Port string `env:"PORT" envDefault:"8080"`

	DatabaseURL   string        `env:"DATABASE_URL"`
	DedupTTL      time.Duration `env:"DEDUP_TTL" envDefault:"1h"`
	DedupCapacity int           `env:"DEDUP_CAPACITY" envDefault:"10000"`
	SweepSchedule string        `env:"DEDUP_SWEEP_SCHEDULE" envDefault:"@every 1m"`

	WorkerCount int `env:"WORKER_COUNT" envDefault:"8"`
	QueueSize   int `env:"QUEUE_SIZE" envDefault:"256"`

	CompletionTimeout       time.Duration `env:"COMPLETION_TIMEOUT" envDefault:"0s"`
	CompletionFailurePolicy string        `env:"COMPLETION_FAILURE_POLICY" envDefault:"drop"`
	CompletionFailureText   string        `env:"COMPLETION_FAILURE_TEXT"`

	DeploymentBaseURI string `env:"DEPLOYMENT_BASE_URI"`
	KeepaliveSchedule string `env:"KEEPALIVE_SCHEDULE" envDefault:"@every 5m"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// Load reads .env files (a missing file is fine) and then the process
// environment. Variables already set in the environment win over .env.
func Load(envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}
	return Parse(env.Options{})
}

// Parse builds a Config from opts. Tests pass opts.Environment instead of
// touching the process environment.
func Parse(opts env.Options) (Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](opts)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.GoogleAPIKey) == "" {
		errs = append(errs, errors.New("GOOGLE_API_KEY is empty"))
	}
	if strings.TrimSpace(c.SlackBotToken) == "" {
		errs = append(errs, errors.New("SLACK_BOT_TOKEN is empty"))
	}
	if strings.TrimSpace(c.Port) == "" {
		errs = append(errs, errors.New("PORT is empty"))
	}
	if c.DedupTTL < 0 {
		errs = append(errs, fmt.Errorf("DEDUP_TTL must not be negative, got %s", c.DedupTTL))
	}
	if c.DedupCapacity < 0 {
		errs = append(errs, fmt.Errorf("DEDUP_CAPACITY must not be negative, got %d", c.DedupCapacity))
	}
	if c.WorkerCount <= 0 {
		errs = append(errs, fmt.Errorf("WORKER_COUNT must be positive, got %d", c.WorkerCount))
	}
	if c.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("QUEUE_SIZE must be positive, got %d", c.QueueSize))
	}
	if c.CompletionTimeout < 0 {
		errs = append(errs, fmt.Errorf("COMPLETION_TIMEOUT must not be negative, got %s", c.CompletionTimeout))
	}
	switch strings.ToLower(strings.TrimSpace(c.CompletionFailurePolicy)) {
	case "", "drop", "notify":
	default:
		errs = append(errs, fmt.Errorf("COMPLETION_FAILURE_POLICY must be drop or notify, got %q", c.CompletionFailurePolicy))
	}
	switch strings.ToLower(strings.TrimSpace(c.LogFormat)) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string {
	return ":" + strings.TrimPrefix(strings.TrimSpace(c.Port), ":")
}
