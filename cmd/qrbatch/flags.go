package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/pflag"

	"qrbatch/internal/config"
	"qrbatch/internal/logging"
)

// loadSettings parses the shared config flags plus whatever extra
// registers, then resolves settings. done reports that the caller should
// exit with code.
func loadSettings(name string, args []string, deps commandDeps, extra func(*pflag.FlagSet)) (settings config.Settings, fs *pflag.FlagSet, code int, done bool) {
	fs = pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(deps.Stderr)
	config.RegisterFlags(fs)
	if extra != nil {
		extra(fs)
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return settings, fs, 0, true
		}
		return settings, fs, 2, true
	}
	settings, err := config.Load(fs, deps.Lookup)
	if err != nil {
		fmt.Fprintln(deps.Stderr, err)
		return settings, fs, 1, true
	}
	return settings, fs, 0, false
}

func newLogger(settings config.Settings, out io.Writer) *logging.Logger {
	level, ok := logging.ParseLevel(settings.Log.Level)
	if !ok {
		level = logging.LevelInfo
	}
	return logging.NewLoggerWithOutput(logging.NewLogBuffer(logging.DefaultBufferSize), level, out)
}
