package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Keys used in viper. Commands bind their flags to these.
const (
	KeyClientID            = "client_id"
	KeyClientSecret        = "client_secret"
	KeyTokenFile           = "token_file"
	KeyRedirectURL         = "redirect_url"
	KeyAPIBaseURL          = "api_base_url"
	KeyAuthURL             = "auth_url"
	KeyTokenURL            = "token_url"
	KeyDataDir             = "data_dir"
	KeyPlanFile            = "plan_file"
	KeyDatabasePath        = "db_path"
	KeyRateLimit           = "rate_limit"
	KeyMaxRateLimitRetries = "max_rate_limit_retries"
	KeyLogLevel            = "log_level"
	KeyLogFormat           = "log_format"
)

// ErrMissingClientCredentials is returned when an operation needs the OAuth
// client id and secret but they are not configured.
var ErrMissingClientCredentials = errors.New("FB_CLIENT_ID and FB_CLIENT_SECRET environment variables are required")

// Config holds application configuration
type Config struct {
	ClientID            string
	ClientSecret        string
	TokenFile           string
	RedirectURL         string
	APIBaseURL          string
	AuthURL             string
	TokenURL            string
	DataDir             string
	PlanFile            string
	DatabasePath        string
	RateLimit           time.Duration
	MaxRateLimitRetries int
	LogLevel            string
	LogFormat           string
}

// Bind registers defaults and environment variable names on v.
func Bind(v *viper.Viper) {
	v.SetDefault(KeyTokenFile, "tokens.json")
	v.SetDefault(KeyRedirectURL, "https://localhost:8080/callback")
	v.SetDefault(KeyAPIBaseURL, "https://api.fitbit.com")
	v.SetDefault(KeyAuthURL, "https://www.fitbit.com/oauth2/authorize")
	v.SetDefault(KeyTokenURL, "https://api.fitbit.com/oauth2/token")
	v.SetDefault(KeyDataDir, "data/fitbit_activities")
	v.SetDefault(KeyPlanFile, "data/tcx-files.json")
	v.SetDefault(KeyDatabasePath, "data/fitbit.db")
	v.SetDefault(KeyRateLimit, "0s")
	v.SetDefault(KeyMaxRateLimitRetries, 5)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "console")

	_ = v.BindEnv(KeyClientID, "FB_CLIENT_ID")
	_ = v.BindEnv(KeyClientSecret, "FB_CLIENT_SECRET")
	_ = v.BindEnv(KeyTokenFile, "FB_TOKENS_FILE", "FB_CLIENT_SECRET_FILE")
	_ = v.BindEnv(KeyRedirectURL, "FB_REDIRECT_URI")
	_ = v.BindEnv(KeyDataDir, "FITBITKML_DATA_DIR")
	_ = v.BindEnv(KeyPlanFile, "FITBITKML_PLAN_FILE")
	_ = v.BindEnv(KeyDatabasePath, "FITBITKML_DB_PATH")
	_ = v.BindEnv(KeyRateLimit, "FITBITKML_RATE_LIMIT")
	_ = v.BindEnv(KeyMaxRateLimitRetries, "FITBITKML_MAX_RATE_LIMIT_RETRIES")
	_ = v.BindEnv(KeyLogLevel, "FITBITKML_LOG_LEVEL")
	_ = v.BindEnv(KeyLogFormat, "FITBITKML_LOG_FORMAT")
}

// LoadConfig loads configuration from .env, the environment and any flags
// bound to the global viper instance.
func LoadConfig() (*Config, error) {
	// A missing .env is not an error.
	_ = godotenv.Load()

	v := viper.GetViper()
	Bind(v)
	return Load(v)
}

// Load builds a Config from an already bound viper instance.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		ClientID:            strings.TrimSpace(v.GetString(KeyClientID)),
		ClientSecret:        strings.TrimSpace(v.GetString(KeyClientSecret)),
		TokenFile:           v.GetString(KeyTokenFile),
		RedirectURL:         v.GetString(KeyRedirectURL),
		APIBaseURL:          strings.TrimRight(v.GetString(KeyAPIBaseURL), "/"),
		AuthURL:             v.GetString(KeyAuthURL),
		TokenURL:            v.GetString(KeyTokenURL),
		DataDir:             v.GetString(KeyDataDir),
		PlanFile:            v.GetString(KeyPlanFile),
		DatabasePath:        v.GetString(KeyDatabasePath),
		RateLimit:           parseDuration(v.GetString(KeyRateLimit), 0),
		MaxRateLimitRetries: v.GetInt(KeyMaxRateLimitRetries),
		LogLevel:            v.GetString(KeyLogLevel),
		LogFormat:           v.GetString(KeyLogFormat),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail much later.
func (c *Config) Validate() error {
	if c.TokenFile == "" {
		return fmt.Errorf("token file path must not be empty")
	}
	if c.MaxRateLimitRetries < 0 {
		return fmt.Errorf("max rate limit retries must be >= 0, got %d", c.MaxRateLimitRetries)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate limit must be >= 0, got %s", c.RateLimit)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("unknown log format %q (want console or json)", c.LogFormat)
	}
	return nil
}

// RequireClientCredentials reports whether the OAuth client id and secret
// are available.
func (c *Config) RequireClientCredentials() error {
	if c.ClientID == "" || c.ClientSecret == "" {
		return ErrMissingClientCredentials
	}
	return nil
}

// parseDuration parses a duration string with a default. Bare numbers are
// read as seconds.
func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if value == "" {
		return defaultValue
	}

	d, err := time.ParseDuration(value)
	if err == nil {
		return d
	}
	if d, err = time.ParseDuration(value + "s"); err == nil {
		return d
	}

	return defaultValue
}
