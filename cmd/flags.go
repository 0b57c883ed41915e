package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/conneroisu/codepad/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// logLevelValue is a pflag.Value that only accepts known log levels.
type logLevelValue struct {
	level logging.LogLevel
}

var _ pflag.Value = (*logLevelValue)(nil)

func newLogLevelValue() *logLevelValue {
	return &logLevelValue{level: logging.LevelInfo}
}

func (v *logLevelValue) String() string {
	return strings.ToLower(v.level.String())
}

func (v *logLevelValue) Set(s string) error {
	level, err := logging.ParseLevel(s)
	if err != nil {
		return err
	}
	v.level = level
	return nil
}

func (v *logLevelValue) Type() string {
	return "level"
}

// addFormatFlag adds a validated --format flag whose default is the first
// of formats.
func addFormatFlag(cmd *cobra.Command, target *string, formats ...string) {
	cmd.Flags().StringVarP(target, "format", "f", formats[0],
		"Output format ("+strings.Join(formats, "|")+")")
	AddFlagValidation(cmd, "format", func(format string) error {
		return ValidateFormat(format, formats)
	})
}

// AddFlagValidation adds validation for a specific flag
func AddFlagValidation(cmd *cobra.Command, flagName string, validator func(string) error) {
	flag := cmd.Flags().Lookup(flagName)
	if flag == nil {
		return
	}

	originalSet := flag.Value.Set
	flag.Value = &validatingValue{
		Value:       flag.Value,
		validator:   validator,
		originalSet: originalSet,
	}
}

type validatingValue struct {
	pflag.Value
	validator   func(string) error
	originalSet func(string) error
}

func (v *validatingValue) Set(val string) error {
	if v.validator != nil {
		if err := v.validator(val); err != nil {
			return err
		}
	}
	return v.originalSet(val)
}

// ValidateFormat checks format against the accepted ones.
func ValidateFormat(format string, valid []string) error {
	for _, f := range valid {
		if strings.EqualFold(format, f) {
			return nil
		}
	}
	return fmt.Errorf("invalid output format %s, must be one of: %s", format, strings.Join(valid, ", "))
}

// ValidatePort accepts 0 (any free port) through 65535.
func ValidatePort(portStr string) error {
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid port number: %s", portStr)
	}
	if port < 0 || port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535, got %d", port)
	}
	return nil
}

// ValidateDirExists accepts an existing directory.
func ValidateDirExists(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("directory does not exist: %s", dir)
	}
	if !info.IsDir() {
		return fmt.Errorf("not a directory: %s", dir)
	}
	return nil
}
