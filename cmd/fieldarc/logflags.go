package main

import (
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const (
	logFormatFlag = "logformat"
	logLevelFlag  = "loglevel"
	logOutputFlag = "logoutput"
)

// enumValue is a string flag restricted to a fixed set of options. The
// first option is the default.
type enumValue struct {
	value   string
	options []string
}

func newEnum(options ...string) *enumValue {
	return &enumValue{value: options[0], options: options}
}

func (e *enumValue) String() string { return e.value }

func (e *enumValue) Type() string { return "enum" }

func (e *enumValue) Set(v string) error {
	if !slices.Contains(e.options, v) {
		return fmt.Errorf("must be one of %s", strings.Join(e.options, ", "))
	}
	e.value = v
	return nil
}

func registerLoggingFlags(fs *pflag.FlagSet) {
	fs.Var(newEnum("text", "json"), logFormatFlag, "log output format (text, json)")
	fs.Var(newEnum("warn", "debug", "info", "error"), logLevelFlag, "log level (debug, info, warn, error)")
	fs.Var(newEnum("stderr", "stdout"), logOutputFlag, "log destination (stderr, stdout)")
}

// baseLogger builds the logger selected by the logging flags.
func baseLogger(cmd *cobra.Command) (*slog.Logger, error) {
	var level slog.Level
	switch cmd.Flag(logLevelFlag).Value.String() {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var out io.Writer = cmd.ErrOrStderr()
	if cmd.Flag(logOutputFlag).Value.String() == "stdout" {
		out = cmd.OutOrStdout()
	}

	opts := &slog.HandlerOptions{Level: level}
	switch format := cmd.Flag(logFormatFlag).Value.String(); format {
	case "json":
		return slog.New(slog.NewJSONHandler(out, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(out, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}
}
