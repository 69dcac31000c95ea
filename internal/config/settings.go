package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Auth type constants
const (
	AuthTypeNone   = "none"
	AuthTypeBasic  = "basic"
	AuthTypeAPIKey = "apikey"
)

// Log format constants
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// EnvPrefix is the prefix of all environment variables
const EnvPrefix = "ARTIFACT_INDEX"

// AuthSettings configuration for authentication
type AuthSettings struct {
	Type    string            `mapstructure:"type"` // AuthTypeNone, AuthTypeBasic, or AuthTypeAPIKey
	Basic   BasicAuthSettings `mapstructure:"basic"`
	APIKeys []string          `mapstructure:"api_keys"`
}

// BasicAuthSettings configuration for basic auth
type BasicAuthSettings struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// IndexSettings configuration for remote index synchronization and search
type IndexSettings struct {
	BaseDir            string        `mapstructure:"base_dir"`
	Repositories       []string      `mapstructure:"repositories"` // "name=url" or url
	UpdateOnStart      bool          `mapstructure:"update_on_start"`
	UpdateInterval     time.Duration `mapstructure:"update_interval"` // 0 disables periodic updates
	LockTimeout        time.Duration `mapstructure:"lock_timeout"`
	FetchTimeout       time.Duration `mapstructure:"fetch_timeout"`
	RequestsPerSecond  float64       `mapstructure:"requests_per_second"` // 0 means unlimited
	MaxParallelUpdates int           `mapstructure:"max_parallel_updates"`
	MaxResults         int           `mapstructure:"max_results"`
	Creators           []string      `mapstructure:"creators"`
	FallbackOnGap      bool          `mapstructure:"fallback_on_gap"`
	QueryCacheSize     int           `mapstructure:"query_cache_size"`
}

// Settings application settings
type Settings struct {
	Transport string        `mapstructure:"transport"`
	Host      string        `mapstructure:"host"`
	Port      int           `mapstructure:"port"`
	LogLevel  string        `mapstructure:"log_level"`
	LogFormat string        `mapstructure:"log_format"`
	Auth      AuthSettings  `mapstructure:"auth"`
	Index     IndexSettings `mapstructure:"index"`
}

// LoadSettings loads settings from environment variables and optional .env file
func LoadSettings() (*Settings, error) {
	return LoadSettingsWithFlags(nil)
}

// LoadSettingsWithFlags loads settings with optional CLI flag overrides.
// Priority: CLI flags > environment variables > config file (--config or .env) > defaults.
// If flags is nil, only env vars, .env and defaults are used.
func LoadSettingsWithFlags(flags *pflag.FlagSet) (*Settings, error) {
	v := viper.New()

	// Default values
	v.SetDefault("transport", "stdio")
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", LogFormatText)
	v.SetDefault("auth.type", AuthTypeNone)

	// Index defaults
	v.SetDefault("index.base_dir", defaultIndexBaseDir())
	v.SetDefault("index.update_on_start", true)
	v.SetDefault("index.update_interval", time.Duration(0))
	v.SetDefault("index.lock_timeout", 10*time.Minute)
	v.SetDefault("index.fetch_timeout", 5*time.Minute)
	v.SetDefault("index.requests_per_second", 0.0)
	v.SetDefault("index.max_parallel_updates", 4)
	v.SetDefault("index.max_results", 20)
	v.SetDefault("index.fallback_on_gap", true)
	v.SetDefault("index.query_cache_size", 256)

	// Environment variables
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Bind specific env vars for nested config
	for _, key := range []string{
		"auth.type", "auth.basic.username", "auth.basic.password", "auth.api_keys",
		"index.base_dir", "index.repositories", "index.update_on_start", "index.update_interval",
		"index.lock_timeout", "index.fetch_timeout", "index.requests_per_second",
		"index.max_parallel_updates", "index.max_results", "index.creators",
		"index.fallback_on_gap", "index.query_cache_size",
	} {
		_ = v.BindEnv(key, envName(key))
	}

	configFile := ""
	// Bind CLI flags if provided (highest priority)
	if flags != nil {
		bind := func(key, flag string) {
			if f := flags.Lookup(flag); f != nil {
				_ = v.BindPFlag(key, f)
			}
		}
		bind("transport", "transport")
		bind("host", "host")
		bind("port", "port")
		bind("log_level", "log-level")
		bind("log_format", "log-format")
		bind("auth.type", "auth-type")
		bind("auth.basic.username", "auth-basic-username")
		bind("auth.basic.password", "auth-basic-password")
		bind("auth.api_keys", "auth-api-keys")

		// Index CLI flags
		bind("index.base_dir", "base-dir")
		bind("index.repositories", "repository")
		bind("index.update_on_start", "update-on-start")
		bind("index.update_interval", "update-interval")
		bind("index.lock_timeout", "lock-timeout")
		bind("index.fetch_timeout", "fetch-timeout")
		bind("index.requests_per_second", "requests-per-second")
		bind("index.max_parallel_updates", "max-parallel-updates")
		bind("index.max_results", "max-results")
		bind("index.creators", "creators")
		bind("index.fallback_on_gap", "fallback-on-gap")
		bind("index.query_cache_size", "query-cache-size")

		if f := flags.Lookup("config"); f != nil {
			configFile = f.Value.String()
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	} else {
		// Helper to look for .env file
		v.SetConfigName(".env")
		v.SetConfigType("env")
		v.AddConfigPath(".")
		_ = v.ReadInConfig() // Ignore error if .env doesn't exist
	}

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, err
	}

	settings.Auth.APIKeys = splitListEnv(settings.Auth.APIKeys, envName("auth.api_keys"))
	settings.Index.Repositories = splitListEnv(settings.Index.Repositories, envName("index.repositories"))
	settings.Index.Creators = splitListEnv(settings.Index.Creators, envName("index.creators"))

	// Expand home directory in base_dir
	settings.Index.BaseDir = expandHomeDir(settings.Index.BaseDir)
	settings.LogLevel = strings.ToLower(strings.TrimSpace(settings.LogLevel))
	settings.LogFormat = strings.ToLower(strings.TrimSpace(settings.LogFormat))

	return &settings, nil
}

// envName returns the environment variable bound to a settings key
func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// splitListEnv handles lists provided via env var as comma-separated strings,
// trims the items and drops empty ones.
func splitListEnv(values []string, env string) []string {
	if raw := os.Getenv(env); raw != "" {
		if len(values) == 0 || (len(values) == 1 && strings.Contains(values[0], ",")) {
			values = strings.Split(raw, ",")
		}
	}
	for i := range values {
		values[i] = strings.TrimSpace(values[i])
	}
	return filterEmptyStrings(values)
}

// defaultIndexBaseDir returns the default base directory for local index state
func defaultIndexBaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".artifact-index"
	}
	return filepath.Join(home, ".artifact-index")
}

// expandHomeDir expands ~ to the user's home directory
func expandHomeDir(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return home
	}
	return path
}

// filterEmptyStrings removes empty strings from a slice
func filterEmptyStrings(s []string) []string {
	var result []string
	for _, str := range s {
		if str != "" {
			result = append(result, str)
		}
	}
	return result
}

// ValidateSettings checks for conflicting configurations.
// Returns an error if the settings contain mutually exclusive or incomplete auth config.
func ValidateSettings(s *Settings) error {
	// Validate transport type
	switch s.Transport {
	case "stdio", "sse":
		// valid
	default:
		return errors.New("transport must be 'stdio' or 'sse', got: " + s.Transport)
	}

	if _, err := ParseLogLevel(s.LogLevel); err != nil {
		return err
	}
	switch s.LogFormat {
	case LogFormatText, LogFormatJSON, "":
	default:
		return errors.New("log-format must be 'text' or 'json', got: " + s.LogFormat)
	}

	hasBasicCreds := s.Auth.Basic.Username != "" || s.Auth.Basic.Password != ""
	hasAPIKeys := len(s.Auth.APIKeys) > 0

	switch s.Auth.Type {
	case AuthTypeNone, "":
		if hasBasicCreds || hasAPIKeys {
			return errors.New("auth-type 'none' is incompatible with auth credentials")
		}
	case AuthTypeBasic:
		if hasAPIKeys {
			return errors.New("auth-type 'basic' is mutually exclusive with auth-api-keys")
		}
		if s.Auth.Basic.Username == "" || s.Auth.Basic.Password == "" {
			return errors.New("auth-type 'basic' requires both username and password")
		}
	case AuthTypeAPIKey:
		if hasBasicCreds {
			return errors.New("auth-type 'apikey' is mutually exclusive with basic auth credentials")
		}
		if !hasAPIKeys {
			return errors.New("auth-type 'apikey' requires at least one API key")
		}
	default:
		return errors.New("unknown auth-type: " + s.Auth.Type)
	}

	return ValidateIndexSettings(&s.Index)
}

// ValidateIndexSettings validates the index configuration
func ValidateIndexSettings(g *IndexSettings) error {
	if g.BaseDir == "" {
		return errors.New("base-dir cannot be empty")
	}

	if g.UpdateInterval < 0 {
		return errors.New("update-interval cannot be negative")
	}

	if g.LockTimeout <= 0 {
		return errors.New("lock-timeout must be positive")
	}

	if g.FetchTimeout <= 0 {
		return errors.New("fetch-timeout must be positive")
	}

	if g.RequestsPerSecond < 0 {
		return errors.New("requests-per-second cannot be negative")
	}

	if g.MaxParallelUpdates <= 0 {
		return errors.New("max-parallel-updates must be positive")
	}

	if g.MaxResults <= 0 {
		return errors.New("max-results must be positive")
	}

	if g.QueryCacheSize < 0 {
		return errors.New("query-cache-size cannot be negative")
	}

	return nil
}
