//go:build property
// +build property

package config

import (
	"strings"
	"testing"

	"github.com/conneroisu/codepad/internal/commands"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func validConfig() *Config {
	return &Config{
		Server:    ServerConfig{Host: "localhost", Port: 8080},
		Workspace: WorkspaceConfig{Root: "."},
		Logging:   LoggingConfig{Level: "info", Format: "text"},
		Shortcuts: map[string]string{},
	}
}

func TestConfigurationProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(4242)
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("port validity follows its range", prop.ForAll(
		func(port int) bool {
			cfg := validConfig()
			cfg.Server.Port = port
			err := cfg.Validate()
			return (err == nil) == (port >= 0 && port <= 65535)
		},
		gen.IntRange(-100000, 100000),
	))

	properties.Property("modifier chords bound to built-ins validate", prop.ForAll(
		func(mods []string, key rune, cmd int) bool {
			chord := strings.Join(append(mods, string(key)), "+")
			cfg := validConfig()
			cfg.Shortcuts = map[string]string{chord: commands.BuiltinNames[cmd]}
			if cfg.Validate() != nil {
				return false
			}
			k, err := cfg.Keymap()
			if err != nil {
				return false
			}
			name, ok, err := k.Lookup(chord)
			return err == nil && ok && name == commands.BuiltinNames[cmd]
		},
		gen.SliceOf(gen.OneConstOf("Ctrl", "Alt", "Shift", "Meta", "cmd", "control")),
		gen.AlphaChar(),
		gen.IntRange(0, len(commands.BuiltinNames)-1),
	))

	properties.Property("log levels outside the known set are rejected", prop.ForAll(
		func(level string) bool {
			cfg := validConfig()
			cfg.Logging.Level = level
			known := map[string]bool{"": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}
			return (cfg.Validate() == nil) == known[strings.ToLower(strings.TrimSpace(level))]
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
