// Package config provides configuration management for codepad using Viper
// for loading from files, environment variables and command-line flags.
//
// The configuration supports YAML files, environment variable overrides with
// the CODEPAD_ prefix and validation. It covers the HTTP server, the
// workspace directory, the preview pipeline, external change detection,
// logging and keyboard shortcuts.
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/conneroisu/codepad/internal/commands"
	"github.com/conneroisu/codepad/internal/errors"
	"github.com/conneroisu/codepad/internal/logging"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig      `mapstructure:"server" yaml:"server"`
	Workspace WorkspaceConfig   `mapstructure:"workspace" yaml:"workspace"`
	Preview   PreviewConfig     `mapstructure:"preview" yaml:"preview"`
	Watch     WatchConfig       `mapstructure:"watch" yaml:"watch"`
	Logging   LoggingConfig     `mapstructure:"logging" yaml:"logging"`
	Shortcuts map[string]string `mapstructure:"shortcuts" yaml:"shortcuts"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port" yaml:"port"`
	Host           string   `mapstructure:"host" yaml:"host"`
	Open           bool     `mapstructure:"open" yaml:"open"`
	NoOpen         bool     `mapstructure:"no-open" yaml:"-"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

type WorkspaceConfig struct {
	Root string `mapstructure:"root" yaml:"root"`
}

type PreviewConfig struct {
	Debounce  time.Duration `mapstructure:"debounce" yaml:"debounce"`
	CacheSize int           `mapstructure:"cache_size" yaml:"cache_size"`
}

type WatchConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// setDefaults registers the default of every setting on v.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.open", true)
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("workspace.root", ".")
	v.SetDefault("preview.debounce", 150*time.Millisecond)
	v.SetDefault("preview.cache_size", 64)
	v.SetDefault("watch.enabled", true)
	v.SetDefault("watch.debounce", 300*time.Millisecond)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Load reads the configuration from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads and validates the configuration held by v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid, "decoding configuration: "+err.Error())
	}

	if config.Server.NoOpen {
		config.Server.Open = false
	}
	if config.Shortcuts == nil {
		config.Shortcuts = map[string]string{}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks every setting and returns the first problem found.
func (c *Config) Validate() error {
	if err := validateServerConfig(&c.Server); err != nil {
		return invalid("server", err)
	}
	if err := validateWorkspaceConfig(&c.Workspace); err != nil {
		return invalid("workspace", err)
	}
	if c.Preview.Debounce < 0 {
		return invalid("preview", fmt.Errorf("debounce %s is negative", c.Preview.Debounce))
	}
	if c.Preview.CacheSize < 0 {
		return invalid("preview", fmt.Errorf("cache_size %d is negative", c.Preview.CacheSize))
	}
	if c.Watch.Debounce < 0 {
		return invalid("watch", fmt.Errorf("debounce %s is negative", c.Watch.Debounce))
	}
	if err := validateLoggingConfig(&c.Logging); err != nil {
		return invalid("logging", err)
	}
	if err := validateShortcuts(c.Shortcuts); err != nil {
		return invalid("shortcuts", err)
	}
	return nil
}

func invalid(section string, err error) error {
	return errors.NewConfigError(errors.ErrCodeConfigInvalid,
		fmt.Sprintf("invalid configuration: %s: %s", section, errors.Message(err)))
}

// validateServerConfig validates server configuration values
func validateServerConfig(config *ServerConfig) error {
	// 0 lets the system pick a port
	if config.Port < 0 || config.Port > 65535 {
		return fmt.Errorf("port %d is not in valid range 0-65535", config.Port)
	}

	if config.Host != "" {
		dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\", "/"}
		for _, char := range dangerousChars {
			if strings.Contains(config.Host, char) {
				return fmt.Errorf("host contains dangerous character: %s", char)
			}
		}
	}

	for _, origin := range config.AllowedOrigins {
		if origin != "*" && !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
			return fmt.Errorf("allowed origin %q must start with http:// or https://", origin)
		}
	}
	return nil
}

func validateWorkspaceConfig(config *WorkspaceConfig) error {
	if strings.TrimSpace(config.Root) == "" {
		return fmt.Errorf("root is empty")
	}
	info, err := os.Stat(config.Root)
	if err != nil {
		return fmt.Errorf("root %s: %w", config.Root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("root %s is not a directory", config.Root)
	}
	return nil
}

func validateLoggingConfig(config *LoggingConfig) error {
	if _, err := logging.ParseLevel(config.Level); err != nil {
		return err
	}
	switch config.Format {
	case "text", "json":
		return nil
	default:
		return fmt.Errorf("format %q must be text or json", config.Format)
	}
}

func validateShortcuts(shortcuts map[string]string) error {
	for _, chord := range sortedKeys(shortcuts) {
		if _, err := commands.ParseChord(chord); err != nil {
			return err
		}
		if name := shortcuts[chord]; name != "" && !commands.IsBuiltin(name) {
			return errors.ErrUnknownCommand(name)
		}
	}
	return nil
}

// Keymap returns the default shortcuts with the configured ones applied on
// top. A chord mapped to an empty name is unbound.
func (c *Config) Keymap() (*commands.Keymap, error) {
	k := commands.DefaultKeymap()
	for _, chord := range sortedKeys(c.Shortcuts) {
		if err := k.Bind(chord, c.Shortcuts[chord]); err != nil {
			return nil, err
		}
	}
	return k, nil
}

// LoggerConfig returns the logger settings.
func (c *Config) LoggerConfig() *logging.LoggerConfig {
	lc := logging.DefaultConfig()
	if level, err := logging.ParseLevel(c.Logging.Level); err == nil {
		lc.Level = level
	}
	lc.Format = c.Logging.Format
	return lc
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
