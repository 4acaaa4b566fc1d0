// Package config loads the runtime configuration from .env, an optional
// YAML file and environment variables.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/naka-gawa/year-review/internal/credential"
	"github.com/naka-gawa/year-review/internal/gateway"
	"github.com/naka-gawa/year-review/internal/usecase"
)

const (
	EnvPrefix      = "YEAR_REVIEW"
	ConfigName     = ".year-review"
	DefaultSQLite  = "./year-review.db"
	DefaultAPIPort = "8080"
)

// Config holds the application configuration
type Config struct {
	Year        int           `mapstructure:"year"`
	LogLevel    string        `mapstructure:"log_level"`
	LogFormat   string        `mapstructure:"log_format"`
	Output      string        `mapstructure:"output"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Concurrency int           `mapstructure:"concurrency"`

	Storage StorageConfig `mapstructure:"storage"`
	Server  ServerConfig  `mapstructure:"server"`
	GitHub  GitHubConfig  `mapstructure:"github"`
	Google  GoogleConfig  `mapstructure:"google"`
	Slack   SlackConfig   `mapstructure:"slack"`
	Linear  LinearConfig  `mapstructure:"linear"`
}

// StorageConfig selects where credentials are persisted.
type StorageConfig struct {
	Backend string `mapstructure:"backend"` // "memory", "sqlite" or "postgres"
	DSN     string `mapstructure:"dsn"`
}

type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           string   `mapstructure:"port"`
	Mode           string   `mapstructure:"mode"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type GitHubConfig struct {
	Token          string        `mapstructure:"token"`
	BaseURL        string        `mapstructure:"base_url"`
	GraphQLURL     string        `mapstructure:"graphql_url"`
	MaxRepos       int           `mapstructure:"max_repos"`
	RepoListLimit  int           `mapstructure:"repo_list_limit"`
	MaxCommitPages int           `mapstructure:"max_commit_pages"`
	PageDelay      time.Duration `mapstructure:"page_delay"`
}

type GoogleConfig struct {
	AccessToken       string        `mapstructure:"access_token"`
	RefreshToken      string        `mapstructure:"refresh_token"`
	ClientID          string        `mapstructure:"client_id"`
	ClientSecret      string        `mapstructure:"client_secret"`
	TokenURL          string        `mapstructure:"token_url"`
	BaseURL           string        `mapstructure:"base_url"`
	SampleSize        int           `mapstructure:"sample_size"`
	SampleDelay       time.Duration `mapstructure:"sample_delay"`
	CalendarMaxPages  int           `mapstructure:"calendar_max_pages"`
	CalendarPageDelay time.Duration `mapstructure:"calendar_page_delay"`
}

type SlackConfig struct {
	Token       string        `mapstructure:"token"`
	BaseURL     string        `mapstructure:"base_url"`
	MaxChannels int           `mapstructure:"max_channels"`
	MessageCap  int           `mapstructure:"message_cap"`
	PageDelay   time.Duration `mapstructure:"page_delay"`
}

type LinearConfig struct {
	APIKey    string        `mapstructure:"api_key"`
	URL       string        `mapstructure:"url"`
	MaxPages  int           `mapstructure:"max_pages"`
	PageDelay time.Duration `mapstructure:"page_delay"`
}

// conventionalEnv maps keys to the variable names other tools already use.
var conventionalEnv = map[string]string{
	"github.token":         "GITHUB_TOKEN",
	"google.access_token":  "GOOGLE_ACCESS_TOKEN",
	"google.refresh_token": "GOOGLE_REFRESH_TOKEN",
	"google.client_id":     "GOOGLE_CLIENT_ID",
	"google.client_secret": "GOOGLE_CLIENT_SECRET",
	"slack.token":          "SLACK_TOKEN",
	"linear.api_key":       "LINEAR_API_KEY",
}

// SetDefaults registers every key so that environment overrides are seen
// by Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("year", 0)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("output", "table")
	v.SetDefault("timeout", usecase.DefaultTimeout)
	v.SetDefault("concurrency", usecase.DefaultConcurrency)

	v.SetDefault("storage.backend", string(credential.BackendSQLite))
	v.SetDefault("storage.dsn", DefaultSQLite)

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", DefaultAPIPort)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})

	v.SetDefault("github.token", "")
	v.SetDefault("github.base_url", "")
	v.SetDefault("github.graphql_url", "")
	v.SetDefault("github.max_repos", gateway.DefaultGitHubMaxRepos)
	v.SetDefault("github.repo_list_limit", gateway.DefaultGitHubRepoListLimit)
	v.SetDefault("github.max_commit_pages", gateway.DefaultGitHubMaxCommitPages)
	v.SetDefault("github.page_delay", gateway.DefaultGitHubPageDelay)

	v.SetDefault("google.access_token", "")
	v.SetDefault("google.refresh_token", "")
	v.SetDefault("google.client_id", "")
	v.SetDefault("google.client_secret", "")
	v.SetDefault("google.token_url", "")
	v.SetDefault("google.base_url", gateway.DefaultGoogleBaseURL)
	v.SetDefault("google.sample_size", gateway.DefaultMailSampleSize)
	v.SetDefault("google.sample_delay", gateway.DefaultMailSampleDelay)
	v.SetDefault("google.calendar_max_pages", gateway.DefaultCalendarMaxPages)
	v.SetDefault("google.calendar_page_delay", gateway.DefaultCalendarPageDelay)

	v.SetDefault("slack.token", "")
	v.SetDefault("slack.base_url", gateway.DefaultSlackBaseURL)
	v.SetDefault("slack.max_channels", gateway.DefaultSlackMaxChannels)
	v.SetDefault("slack.message_cap", gateway.DefaultSlackMessageCap)
	v.SetDefault("slack.page_delay", gateway.DefaultSlackPageDelay)

	v.SetDefault("linear.api_key", "")
	v.SetDefault("linear.url", gateway.DefaultLinearURL)
	v.SetDefault("linear.max_pages", gateway.DefaultLinearMaxPages)
	v.SetDefault("linear.page_delay", gateway.DefaultLinearPageDelay)
}

// Load reads .env, then configFile (or .year-review.yaml in the working or
// home directory when empty), then the environment.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(ConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for key, env := range conventionalEnv {
		if err := v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, err
		}
	}
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, &ConfigError{Field: "config", Message: err.Error()}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &ConfigError{Field: "config", Message: err.Error()}
	}
	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch credential.Backend(c.Storage.Backend) {
	case credential.BackendMemory, credential.BackendSQLite:
	case credential.BackendPostgres:
		if c.Storage.DSN == "" {
			return &ConfigError{Field: "storage.dsn", Message: "PostgreSQL DSN is required when storage.backend is 'postgres'"}
		}
	default:
		return &ConfigError{Field: "storage.backend", Message: "must be 'memory', 'sqlite' or 'postgres'"}
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return &ConfigError{Field: "log_format", Message: "must be 'text' or 'json'"}
	}
	if c.Output != "table" && c.Output != "json" {
		return &ConfigError{Field: "output", Message: "must be 'table' or 'json'"}
	}
	if c.Concurrency <= 0 {
		return &ConfigError{Field: "concurrency", Message: "must be greater than 0"}
	}
	if c.Timeout <= 0 {
		return &ConfigError{Field: "timeout", Message: "must be greater than 0"}
	}
	if c.Google.RefreshToken != "" && (c.Google.ClientID == "" || c.Google.ClientSecret == "") {
		return &ConfigError{Field: "google.client_id", Message: "client id and secret are required to refresh Google tokens"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
