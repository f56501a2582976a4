// Package config provides configuration management for gitsnap.
//
// Configuration is loaded from three sources with the following precedence
// (highest to lowest):
//  1. CLI flags
//  2. Environment variables (GITSNAP_ prefix)
//  3. Config file (.gitsnap.yaml)
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Supported log levels.
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// Supported log formats.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Supported watch modes.
const (
	WatchModeEvent = "event"
	WatchModePoll  = "poll"
)

// Config represents the global configuration for gitsnap.
type Config struct {
	// LogLevel controls the verbosity of log output.
	// Valid values: debug, info, warn, error.
	LogLevel string `mapstructure:"log-level" json:"logLevel"`

	// LogFormat controls the format of log output.
	// Valid values: text, json.
	LogFormat string `mapstructure:"log-format" json:"logFormat"`

	// LogFile routes log output to a rotating file instead of stderr.
	// Empty means stderr.
	LogFile string `mapstructure:"log-file" json:"logFile"`

	// NoColor disables colored output.
	NoColor bool `mapstructure:"no-color" json:"noColor"`

	// Quiet suppresses all log output below error level.
	Quiet bool `mapstructure:"quiet" json:"quiet"`

	// Registry overrides the path of the repository registry file.
	// Empty means the per-user default location.
	Registry string `mapstructure:"registry" json:"registry"`

	// Debounce is the quiet window that must elapse after the last
	// filesystem event before a snapshot is taken.
	Debounce time.Duration `mapstructure:"debounce" json:"debounce"`

	// DebounceMax caps how long a snapshot may be deferred while events
	// keep arriving. Zero disables the cap.
	DebounceMax time.Duration `mapstructure:"debounce-max" json:"debounceMax"`

	// Mode selects how changes are detected.
	// Valid values: event, poll.
	Mode string `mapstructure:"mode" json:"mode"`

	// PollInterval is the snapshot period in poll mode.
	PollInterval time.Duration `mapstructure:"poll-interval" json:"pollInterval"`

	// PushTimeout bounds how long a single push attempt may take.
	// Zero disables the bound.
	PushTimeout time.Duration `mapstructure:"push-timeout" json:"pushTimeout"`

	// ConfigFile is the resolved path to the config file used.
	// Set after Load(), not read from config itself.
	ConfigFile string `mapstructure:"-" json:"-"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		LogLevel:     LogLevelInfo,
		LogFormat:    LogFormatText,
		NoColor:      false,
		Quiet:        false,
		Debounce:     60 * time.Second,
		DebounceMax:  5 * time.Minute,
		Mode:         WatchModeEvent,
		PollInterval: 5 * time.Minute,
		PushTimeout:  30 * time.Second,
	}
}

// Validate checks that all config values are valid.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		// valid
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", c.LogLevel)
	}

	switch c.LogFormat {
	case LogFormatText, LogFormatJSON:
		// valid
	default:
		return fmt.Errorf("invalid log format %q: must be one of text, json", c.LogFormat)
	}

	switch c.Mode {
	case WatchModeEvent, WatchModePoll:
		// valid
	default:
		return fmt.Errorf("invalid watch mode %q: must be one of event, poll", c.Mode)
	}

	if c.Debounce <= 0 {
		return fmt.Errorf("invalid debounce %s: must be positive", c.Debounce)
	}

	if c.DebounceMax < 0 {
		return fmt.Errorf("invalid debounce-max %s: must be zero or positive", c.DebounceMax)
	}

	if c.DebounceMax > 0 && c.DebounceMax < c.Debounce {
		return fmt.Errorf("invalid debounce-max %s: must not be shorter than debounce %s", c.DebounceMax, c.Debounce)
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("invalid poll-interval %s: must be positive", c.PollInterval)
	}

	if c.PushTimeout < 0 {
		return fmt.Errorf("invalid push-timeout %s: must be zero or positive", c.PushTimeout)
	}

	return nil
}

// EffectiveLogLevel returns the log level to use. When Quiet is true the log
// level is overridden to "error" regardless of the configured LogLevel.
func (c *Config) EffectiveLogLevel() string {
	if c.Quiet {
		return LogLevelError
	}

	return c.LogLevel
}

// Load initialises configuration from flags, environment variables, and an
// optional config file. A fresh viper instance is used on every call so that
// Load is safe for concurrent tests.
func Load(cmd *cobra.Command, configFile string) (*Config, error) {
	v := viper.New()

	setDefaults(v)
	configureEnv(v)

	if err := configureFile(v, configFile); err != nil {
		return nil, err
	}

	if err := bindFlags(v, cmd); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Store the resolved config file path so downstream code can locate it.
	cfg.ConfigFile = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults registers default values in viper.
func setDefaults(v *viper.Viper) {
	v.SetDefault("log-level", LogLevelInfo)
	v.SetDefault("log-format", LogFormatText)
	v.SetDefault("log-file", "")
	v.SetDefault("no-color", false)
	v.SetDefault("quiet", false)
	v.SetDefault("registry", "")
	v.SetDefault("debounce", 60*time.Second)
	v.SetDefault("debounce-max", 5*time.Minute)
	v.SetDefault("mode", WatchModeEvent)
	v.SetDefault("poll-interval", 5*time.Minute)
	v.SetDefault("push-timeout", 30*time.Second)
}

// configureEnv sets up environment variable support.
func configureEnv(v *viper.Viper) {
	v.SetEnvPrefix("GITSNAP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
}

// configureFile sets up the config file source.
func configureFile(v *viper.Viper, configFile string) error {
	if configFile != "" {
		v.SetConfigFile(configFile)

		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config file %q: %w", configFile, err)
		}

		return nil
	}

	// Auto-discovery mode.
	v.SetConfigName(".gitsnap")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "gitsnap"))
	}

	if err := v.ReadInConfig(); err != nil {
		// No config file found is fine in auto-discovery.
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}

		// Found a file but it was malformed.
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// bindFlags walks from cmd up to the root and binds all PersistentFlags.
func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	if cmd == nil {
		return nil
	}

	// Bind the current command's own flags.
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}

	// Walk up to root and bind all persistent flags at each level.
	for c := cmd; c != nil; c = c.Parent() {
		if err := v.BindPFlags(c.PersistentFlags()); err != nil {
			return fmt.Errorf("binding persistent flags: %w", err)
		}
	}

	return nil
}

// ---------------------------------------------------------------------------
// Context helpers
// ---------------------------------------------------------------------------

type ctxKey struct{}
type ctxFileKey struct{}

// NewContext returns a child context carrying cfg.
func NewContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, ctxKey{}, cfg)
}

// FromContext extracts a Config from ctx, falling back to Default().
func FromContext(ctx context.Context) *Config {
	if cfg, ok := ctx.Value(ctxKey{}).(*Config); ok {
		return cfg
	}

	return Default()
}

// NewContextWithConfigFile returns a child context carrying the resolved
// config file path. This allows downstream code to locate the config file
// without re-discovering it.
func NewContextWithConfigFile(ctx context.Context, path string) context.Context {
	return context.WithValue(ctx, ctxFileKey{}, path)
}

// ConfigFileFromContext extracts the config file path from ctx.
// Returns empty string if no config file was resolved.
func ConfigFileFromContext(ctx context.Context) string {
	if p, ok := ctx.Value(ctxFileKey{}).(string); ok {
		return p
	}

	return ""
}
