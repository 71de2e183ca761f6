// Package config loads process configuration from the environment and
// per-repository configuration from .ci-script.yml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sevigo/ci-script/internal/logger"
)

// Config holds the application's configuration values.
type Config struct {
	Server   ServerConfig
	Logging  logger.Config
	Database DBConfig
	GitHub   GitHubConfig
	Trigger  TriggerConfig
	Queue    QueueConfig
	Script   ScriptConfig
	Worker   WorkerConfig
}

type ServerConfig struct {
	Port string
}

// DBConfig configures the durable queue store.
type DBConfig struct {
	Driver          string // postgres or sqlite
	Host            string
	Port            int
	Username        string
	Password        string
	Database        string
	Path            string // sqlite file
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

type GitHubConfig struct {
	AppID          int64
	PrivateKeyPath string
	WebhookSecret  string
	// Token is a personal access token used when no App is configured.
	Token string
	Owner string
	Name  string
}

// TriggerConfig controls how comments are turned into script paths.
type TriggerConfig struct {
	CommandPrefix       string
	AllowedKeywords     []string
	AllowedAssociations []string
	Root                string
	ScriptExt           string
}

type QueueConfig struct {
	Backend       string // memory or sql
	URL           string // queue server address for remote workers
	Token         string
	LeaseDuration time.Duration
	ReapInterval  time.Duration
	PollInterval  time.Duration
}

// ScriptConfig bounds what a script may do.
type ScriptConfig struct {
	Timeout        time.Duration
	MaxOperations  int
	AllowedTools   []string
	EnvPassthrough []string
	CommitterName  string
	CommitterEmail string
}

type WorkerConfig struct {
	ID         string
	WorkDir    string
	MaxWorkers int
}

// SetDefaults registers every default on the global viper instance.
func SetDefaults() {
	viper.SetDefault("SERVER_PORT", "8080")

	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "text")
	viper.SetDefault("LOG_OUTPUT", "stdout")

	viper.SetDefault("GITHUB_PRIVATE_KEY_PATH", "keys/ci-script.private-key.pem")

	viper.SetDefault("COMMAND_PREFIX", "/")
	viper.SetDefault("ALLOWED_KEYWORDS", "")
	viper.SetDefault("ALLOWED_ASSOCIATIONS", "OWNER,MEMBER,COLLABORATOR")
	viper.SetDefault("TRIGGER_ROOT", ".github")
	viper.SetDefault("SCRIPT_EXT", ".js")

	viper.SetDefault("QUEUE_BACKEND", "memory")
	viper.SetDefault("QUEUE_URL", "http://localhost:8080")
	viper.SetDefault("LEASE_DURATION", "15m")
	viper.SetDefault("REAP_INTERVAL", "30s")
	viper.SetDefault("POLL_INTERVAL", "2s")

	viper.SetDefault("DB_DRIVER", "sqlite")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", 5432)
	viper.SetDefault("DB_USER", "ci-script")
	viper.SetDefault("DB_NAME", "ci-script")
	viper.SetDefault("DB_PATH", "ci-script.db")
	viper.SetDefault("DB_CONN_MAX_LIFETIME", "30m")
	viper.SetDefault("DB_CONN_MAX_IDLE_TIME", "5m")

	viper.SetDefault("SCRIPT_TIMEOUT", "10m")
	viper.SetDefault("SCRIPT_MAX_OPERATIONS", 0)
	viper.SetDefault("ALLOWED_TOOLS", "cargo,go,gofmt,make,npm")
	viper.SetDefault("ENV_PASSTHROUGH", "PATH,HOME")
	viper.SetDefault("COMMITTER_NAME", "ci-script")
	viper.SetDefault("COMMITTER_EMAIL", "ci-script@users.noreply.github.com")

	viper.SetDefault("WORK_DIR", filepath.Join(os.TempDir(), "ci-script"))
	viper.SetDefault("MAX_WORKERS", 2)
	if host, err := os.Hostname(); err == nil {
		viper.SetDefault("WORKER_ID", host)
	}
}

// LoadConfig reads configuration from environment variables and a .env file,
// sets sensible defaults, and validates the values it can check on its own.
// Requirements that depend on the binary are checked by the Validate* methods.
func LoadConfig() (*Config, error) {
	viper.SetConfigFile(".env")
	viper.SetConfigType("env")
	viper.AutomaticEnv()
	SetDefaults()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read .env file: %w", err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: viper.GetString("SERVER_PORT"),
		},
		Logging: logger.Config{
			Level:  strings.ToLower(viper.GetString("LOG_LEVEL")),
			Format: viper.GetString("LOG_FORMAT"),
			Output: viper.GetString("LOG_OUTPUT"),
		},
		Database: DBConfig{
			Driver:          viper.GetString("DB_DRIVER"),
			Host:            viper.GetString("DB_HOST"),
			Port:            viper.GetInt("DB_PORT"),
			Username:        viper.GetString("DB_USER"),
			Password:        viper.GetString("DB_PASSWORD"),
			Database:        viper.GetString("DB_NAME"),
			Path:            viper.GetString("DB_PATH"),
			ConnMaxLifetime: viper.GetDuration("DB_CONN_MAX_LIFETIME"),
			ConnMaxIdleTime: viper.GetDuration("DB_CONN_MAX_IDLE_TIME"),
		},
		GitHub: GitHubConfig{
			AppID:          viper.GetInt64("GITHUB_APP_ID"),
			PrivateKeyPath: viper.GetString("GITHUB_PRIVATE_KEY_PATH"),
			WebhookSecret:  viper.GetString("GITHUB_WEBHOOK_SECRET"),
			Token:          viper.GetString("GITHUB_TOKEN"),
			Owner:          viper.GetString("GITHUB_OWNER"),
			Name:           viper.GetString("GITHUB_NAME"),
		},
		Trigger: TriggerConfig{
			CommandPrefix:       viper.GetString("COMMAND_PREFIX"),
			AllowedKeywords:     splitList(viper.GetString("ALLOWED_KEYWORDS")),
			AllowedAssociations: upper(splitList(viper.GetString("ALLOWED_ASSOCIATIONS"))),
			Root:                viper.GetString("TRIGGER_ROOT"),
			ScriptExt:           normalizeExt(viper.GetString("SCRIPT_EXT")),
		},
		Queue: QueueConfig{
			Backend:       viper.GetString("QUEUE_BACKEND"),
			URL:           viper.GetString("QUEUE_URL"),
			Token:         viper.GetString("QUEUE_TOKEN"),
			LeaseDuration: viper.GetDuration("LEASE_DURATION"),
			ReapInterval:  viper.GetDuration("REAP_INTERVAL"),
			PollInterval:  viper.GetDuration("POLL_INTERVAL"),
		},
		Script: ScriptConfig{
			Timeout:        viper.GetDuration("SCRIPT_TIMEOUT"),
			MaxOperations:  viper.GetInt("SCRIPT_MAX_OPERATIONS"),
			AllowedTools:   splitList(viper.GetString("ALLOWED_TOOLS")),
			EnvPassthrough: splitList(viper.GetString("ENV_PASSTHROUGH")),
			CommitterName:  viper.GetString("COMMITTER_NAME"),
			CommitterEmail: viper.GetString("COMMITTER_EMAIL"),
		},
		Worker: WorkerConfig{
			ID:         viper.GetString("WORKER_ID"),
			WorkDir:    viper.GetString("WORK_DIR"),
			MaxWorkers: viper.GetInt("MAX_WORKERS"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Queue.Backend {
	case "memory", "sql":
	default:
		return fmt.Errorf("QUEUE_BACKEND must be memory or sql, got %q", c.Queue.Backend)
	}
	if c.Queue.Backend == "sql" {
		switch c.Database.Driver {
		case "postgres", "sqlite":
		default:
			return fmt.Errorf("DB_DRIVER must be postgres or sqlite, got %q", c.Database.Driver)
		}
	}
	if c.Queue.LeaseDuration <= 0 {
		return fmt.Errorf("LEASE_DURATION must be positive")
	}
	if c.Script.Timeout <= 0 {
		return fmt.Errorf("SCRIPT_TIMEOUT must be positive")
	}
	if c.Script.MaxOperations < 0 {
		return fmt.Errorf("SCRIPT_MAX_OPERATIONS must not be negative")
	}
	if c.Trigger.Root == "" || filepath.IsAbs(c.Trigger.Root) || strings.Contains(c.Trigger.Root, "..") {
		return fmt.Errorf("TRIGGER_ROOT must be a relative path inside the repository, got %q", c.Trigger.Root)
	}
	return nil
}

// ValidateServer checks what the webhook server needs on top of LoadConfig.
func (c *Config) ValidateServer() error {
	if c.GitHub.WebhookSecret == "" {
		return fmt.Errorf("GITHUB_WEBHOOK_SECRET must be set")
	}
	if c.GitHub.AppID == 0 && c.GitHub.Token == "" {
		return fmt.Errorf("either GITHUB_APP_ID or GITHUB_TOKEN must be set")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func upper(in []string) []string {
	for i, s := range in {
		in[i] = strings.ToUpper(s)
	}
	return in
}

func normalizeExt(ext string) string {
	if ext == "" || strings.HasPrefix(ext, ".") {
		return ext
	}
	return "." + ext
}
