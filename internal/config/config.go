package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// DefaultBackendURL is only meant for local development, where the lesson
// backend runs next to the dashboard.
const DefaultBackendURL = "http://127.0.0.1:8000"

type Config struct {
	// Backend
	BackendURL     string        `env:"BACKEND_URL" envDefault:"http://127.0.0.1:8000"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
	UploadTimeout  time.Duration `env:"UPLOAD_TIMEOUT" envDefault:"10m"`

	// Chat
	ChatTimeout       time.Duration `env:"CHAT_TIMEOUT" envDefault:"60s"`
	ChatHistory       string        `env:"CHAT_HISTORY" envDefault:"none"` // none | full
	ChatHistoryLimit  int           `env:"CHAT_HISTORY_LIMIT" envDefault:"20"`
	AssistantProvider string        `env:"ASSISTANT_PROVIDER" envDefault:"backend"` // backend | openai
	OpenAIKey         string        `env:"OPENAI_API_KEY"`
	OpenAIModel       string        `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	OpenAIBaseURL     string        `env:"OPENAI_BASE_URL"`

	// Lessons
	JobPollInterval time.Duration `env:"JOB_POLL_INTERVAL" envDefault:"2s"`
	CatalogFile     string        `env:"CATALOG_FILE"`

	// Server
	Port          string `env:"PORT" envDefault:"3000"`
	AllowedOrigin string `env:"ALLOWED_ORIGIN" envDefault:"*"`
	WebDir        string `env:"WEB_DIR" envDefault:"web"`
	LogMode       string `env:"LOG_MODE" envDefault:"dev"`
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return parse(env.Options{})
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	c.BackendURL = strings.TrimRight(strings.TrimSpace(c.BackendURL), "/")
	u, err := url.Parse(c.BackendURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid BACKEND_URL %q", c.BackendURL)
	}

	c.ChatHistory = strings.ToLower(strings.TrimSpace(c.ChatHistory))
	switch c.ChatHistory {
	case "none", "full":
	default:
		return fmt.Errorf("invalid CHAT_HISTORY %q (want none or full)", c.ChatHistory)
	}

	c.AssistantProvider = strings.ToLower(strings.TrimSpace(c.AssistantProvider))
	switch c.AssistantProvider {
	case "backend":
	case "openai":
		if c.OpenAIKey == "" {
			return fmt.Errorf("ASSISTANT_PROVIDER=openai requires OPENAI_API_KEY")
		}
	default:
		return fmt.Errorf("unknown ASSISTANT_PROVIDER %q", c.AssistantProvider)
	}

	if c.RequestTimeout <= 0 || c.UploadTimeout <= 0 || c.ChatTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if c.JobPollInterval <= 0 {
		c.JobPollInterval = 2 * time.Second
	}
	return nil
}

// Addr is the listen address for the dashboard server.
func (c *Config) Addr() string {
	return ":" + c.Port
}
