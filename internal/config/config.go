package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Milestone generation modes
const (
	MilestonesDirect = "direct"
	MilestonesPoll   = "poll"
)

// Event bus backends
const (
	EventsMemory = "memory"
	EventsRedis  = "redis"
)

// Config holds all configuration for apprentice-engine
type Config struct {
	Server    ServerConfig
	Upstream  UpstreamConfig
	Workflow  WorkflowConfig
	Session   SessionConfig
	Events    EventsConfig
	Redis     RedisConfig
	Templates TemplatesConfig
	Cleanup   CleanupConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host     string
	Port     int
	LogLevel string
}

// UpstreamConfig holds the endpoints of the external collaborators
type UpstreamConfig struct {
	CatalogURL        string
	MilestonesURL     string
	MilestonesMode    string
	MilestonesPollURL string
	PollInterval      time.Duration
	PollMaxAttempts   int
	ReviewURL         string
	CompanyURL        string
	Timeout           time.Duration
}

// WorkflowConfig holds scoring rules
type WorkflowConfig struct {
	PassScore int
}

// SessionConfig holds session lifetime configuration
type SessionConfig struct {
	TTL time.Duration
}

// EventsConfig selects the event bus backend
type EventsConfig struct {
	Backend string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// TemplatesConfig holds placeholder milestone configuration
type TemplatesConfig struct {
	Dir string
}

// CleanupConfig holds cleanup worker configuration
type CleanupConfig struct {
	Interval time.Duration
}

const defaultAPIBase = "https://5s3kpyaws4.execute-api.us-west-2.amazonaws.com/dev"

// Load loads configuration from an optional .env file and environment variables
func Load() (*Config, error) {
	if err := loadDotEnv(getEnv("ENV_FILE", ".env")); err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:     getEnv("SERVER_HOST", "0.0.0.0"),
			Port:     getEnvAsInt("SERVER_PORT", 8080),
			LogLevel: getEnv("LOG_LEVEL", "info"),
		},
		Upstream: UpstreamConfig{
			CatalogURL:        getEnv("CATALOG_URL", defaultAPIBase+"/generate-tasks"),
			MilestonesURL:     getEnv("MILESTONES_URL", defaultAPIBase+"/agent-milestones"),
			MilestonesMode:    strings.ToLower(getEnv("MILESTONES_MODE", MilestonesDirect)),
			MilestonesPollURL: getEnv("MILESTONES_POLL_URL", ""),
			PollInterval:      getEnvAsDuration("MILESTONES_POLL_INTERVAL", 3*time.Second),
			PollMaxAttempts:   getEnvAsInt("MILESTONES_POLL_MAX_ATTEMPTS", 20),
			ReviewURL:         getEnv("REVIEW_URL", defaultAPIBase+"/get-feedback"),
			CompanyURL:        getEnv("COMPANY_URL", defaultAPIBase+"/submit-solution"),
			Timeout:           getEnvAsDuration("UPSTREAM_TIMEOUT", 60*time.Second),
		},
		Workflow: WorkflowConfig{
			PassScore: getEnvAsInt("PASS_SCORE", 80),
		},
		Session: SessionConfig{
			TTL: getEnvAsDuration("SESSION_TTL", 2*time.Hour),
		},
		Events: EventsConfig{
			Backend: strings.ToLower(getEnv("EVENTS_BACKEND", EventsMemory)),
		},
		Redis: RedisConfig{
			Address:  getEnv("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Templates: TemplatesConfig{
			Dir: getEnv("TEMPLATES_DIR", "./templates"),
		},
		Cleanup: CleanupConfig{
			Interval: getEnvAsDuration("CLEANUP_INTERVAL", 5*time.Minute),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Upstream.CatalogURL == "" || c.Upstream.ReviewURL == "" || c.Upstream.CompanyURL == "" {
		return fmt.Errorf("catalog, review and company URLs are required")
	}

	switch c.Upstream.MilestonesMode {
	case MilestonesDirect:
		if c.Upstream.MilestonesURL == "" {
			return fmt.Errorf("milestones URL is required")
		}
	case MilestonesPoll:
		if c.Upstream.MilestonesURL == "" || c.Upstream.MilestonesPollURL == "" {
			return fmt.Errorf("poll mode requires both MILESTONES_URL and MILESTONES_POLL_URL")
		}
		if c.Upstream.PollMaxAttempts < 1 {
			return fmt.Errorf("poll max attempts must be at least 1, got %d", c.Upstream.PollMaxAttempts)
		}
		if c.Upstream.PollInterval <= 0 {
			return fmt.Errorf("poll interval must be positive")
		}
	default:
		return fmt.Errorf("unknown milestones mode: %q", c.Upstream.MilestonesMode)
	}

	if c.Workflow.PassScore < 0 || c.Workflow.PassScore > 100 {
		return fmt.Errorf("pass score must be within [0,100], got %d", c.Workflow.PassScore)
	}

	if c.Session.TTL <= 0 {
		return fmt.Errorf("session TTL must be positive")
	}

	if c.Events.Backend != EventsMemory && c.Events.Backend != EventsRedis {
		return fmt.Errorf("unknown events backend: %q", c.Events.Backend)
	}

	return nil
}

// loadDotEnv populates the environment from path when the file exists.
// Variables already set in the environment win.
func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat env file %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	slog.Debug("loaded env file", "path", path)
	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
