// Package config loads qrbatch settings from defaults, an optional TOML
// file, QRBATCH_* environment variables and command-line flags, in that
// order of precedence, and records where each value came from.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Source string

const (
	SourceDefault Source = "default"
	SourceFile    Source = "file"
	SourceEnv     Source = "env"
	SourceFlag    Source = "flag"
)

// Duration is a time.Duration written as "90s" or "10m" in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type ServerSettings struct {
	Addr        string   `toml:"addr"`
	CORSOrigins []string `toml:"cors_origins"`
}

type StorageSettings struct {
	Driver string `toml:"driver"`
	Path   string `toml:"path"`
}

type ZoneSettings struct {
	Path  string `toml:"path"`
	Watch bool   `toml:"watch"`
}

type AllocationSettings struct {
	MaxSequence int `toml:"max_sequence"`
}

type RenderSettings struct {
	Backend     string   `toml:"backend"`
	Command     string   `toml:"command"`
	Args        []string `toml:"args"`
	WorkDir     string   `toml:"work_dir"`
	Workers     int      `toml:"workers"`
	Timeout     Duration `toml:"timeout"`
	CardProfile string   `toml:"card_profile"`
}

type PackagingSettings struct {
	Layout        string `toml:"layout"`
	MaxSheetItems int    `toml:"max_sheet_items"`
	CutGuides     bool   `toml:"cut_guides"`
}

type JobSettings struct {
	WorkDir       string   `toml:"work_dir"`
	OutputDir     string   `toml:"output_dir"`
	Retention     Duration `toml:"retention"`
	SweepInterval Duration `toml:"sweep_interval"`
	KeepScratch   bool     `toml:"keep_scratch"`
}

type LogSettings struct {
	Level string `toml:"level"`
}

type Settings struct {
	Server     ServerSettings     `toml:"server"`
	Storage    StorageSettings    `toml:"storage"`
	Zones      ZoneSettings       `toml:"zones"`
	Allocation AllocationSettings `toml:"allocation"`
	Render     RenderSettings     `toml:"render"`
	Packaging  PackagingSettings  `toml:"packaging"`
	Jobs       JobSettings        `toml:"jobs"`
	Log        LogSettings        `toml:"log"`

	// File is the config file that was read, if any.
	File    string            `toml:"-"`
	Sources map[string]Source `toml:"-"`
}

func Defaults() Settings {
	return Settings{
		Server:     ServerSettings{Addr: ":3000"},
		Storage:    StorageSettings{Driver: "file", Path: "data/intervals.json"},
		Zones:      ZoneSettings{Path: "data/communes.json", Watch: true},
		Allocation: AllocationSettings{MaxSequence: 99999},
		Render: RenderSettings{
			Backend: "native",
			Workers: 4,
			Timeout: Duration{10 * time.Minute},
		},
		Packaging: PackagingSettings{Layout: "landscape", MaxSheetItems: 500},
		Jobs: JobSettings{
			WorkDir:       "data/work",
			OutputDir:     "data/output",
			Retention:     Duration{24 * time.Hour},
			SweepInterval: Duration{5 * time.Minute},
		},
		Log:     LogSettings{Level: "info"},
		Sources: map[string]Source{},
	}
}

// Source reports where key ("render.workers") was set from.
func (s Settings) Source(key string) Source {
	if source, ok := s.Sources[key]; ok {
		return source
	}
	return SourceDefault
}

func (s Settings) Validate() error {
	var errs []error
	if strings.TrimSpace(s.Server.Addr) == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	switch s.Storage.Driver {
	case "memory":
	case "file", "sqlite":
		if strings.TrimSpace(s.Storage.Path) == "" {
			errs = append(errs, fmt.Errorf("storage.path is required for driver %q", s.Storage.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not one of file, sqlite, memory", s.Storage.Driver))
	}
	if s.Allocation.MaxSequence < 1 || s.Allocation.MaxSequence > 99999 {
		errs = append(errs, errors.New("allocation.max_sequence must be between 1 and 99999"))
	}
	switch s.Render.Backend {
	case "native":
	case "process":
		if strings.TrimSpace(s.Render.Command) == "" {
			errs = append(errs, errors.New("render.command is required for the process backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("render.backend %q is not one of native, process", s.Render.Backend))
	}
	if s.Render.Workers < 1 {
		errs = append(errs, errors.New("render.workers must be > 0"))
	}
	if s.Render.Timeout.Duration <= 0 {
		errs = append(errs, errors.New("render.timeout must be > 0"))
	}
	switch s.Packaging.Layout {
	case "landscape", "portrait":
	default:
		errs = append(errs, fmt.Errorf("packaging.layout %q is not one of landscape, portrait", s.Packaging.Layout))
	}
	if s.Packaging.MaxSheetItems < 1 {
		errs = append(errs, errors.New("packaging.max_sheet_items must be > 0"))
	}
	if strings.TrimSpace(s.Jobs.WorkDir) == "" || strings.TrimSpace(s.Jobs.OutputDir) == "" {
		errs = append(errs, errors.New("jobs.work_dir and jobs.output_dir are required"))
	}
	if s.Jobs.Retention.Duration <= 0 {
		errs = append(errs, errors.New("jobs.retention must be > 0"))
	}
	switch strings.ToLower(s.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", s.Log.Level))
	}
	return errors.Join(errs...)
}
