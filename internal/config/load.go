package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/pflag"
)

const (
	EnvPrefix     = "QRBATCH_"
	EnvConfigFile = "QRBATCH_CONFIG"
)

// field binds one setting to its env variable and optional flag.
type field struct {
	key   string
	flag  string
	usage string
	get   func(*Settings) string
	set   func(*Settings, string) error
}

func (f field) envName() string {
	return EnvPrefix + strings.ToUpper(strings.NewReplacer(".", "_").Replace(f.key))
}

var fields = []field{
	{key: "server.addr", flag: "addr", usage: "HTTP listen address",
		get: func(s *Settings) string { return s.Server.Addr },
		set: func(s *Settings, v string) error { s.Server.Addr = v; return nil }},
	{key: "server.cors_origins", usage: "comma separated allowed CORS origins",
		get: func(s *Settings) string { return strings.Join(s.Server.CORSOrigins, ",") },
		set: func(s *Settings, v string) error { s.Server.CORSOrigins = splitList(v); return nil }},
	{key: "storage.driver", flag: "storage-driver", usage: "interval store driver (file, sqlite, memory)",
		get: func(s *Settings) string { return s.Storage.Driver },
		set: func(s *Settings, v string) error { s.Storage.Driver = strings.ToLower(v); return nil }},
	{key: "storage.path", flag: "storage-path", usage: "interval store location",
		get: func(s *Settings) string { return s.Storage.Path },
		set: func(s *Settings, v string) error { s.Storage.Path = v; return nil }},
	{key: "zones.path", flag: "zones", usage: "zone catalog JSON file",
		get: func(s *Settings) string { return s.Zones.Path },
		set: func(s *Settings, v string) error { s.Zones.Path = v; return nil }},
	{key: "zones.watch", usage: "reload the zone catalog when it changes",
		get: func(s *Settings) string { return strconv.FormatBool(s.Zones.Watch) },
		set: func(s *Settings, v string) error { return parseBool(v, &s.Zones.Watch) }},
	{key: "allocation.max_sequence", usage: "highest sequence number that may be reserved",
		get: func(s *Settings) string { return strconv.Itoa(s.Allocation.MaxSequence) },
		set: func(s *Settings, v string) error { return parseInt(v, &s.Allocation.MaxSequence) }},
	{key: "render.backend", flag: "render-backend", usage: "card renderer (native, process)",
		get: func(s *Settings) string { return s.Render.Backend },
		set: func(s *Settings, v string) error { s.Render.Backend = strings.ToLower(v); return nil }},
	{key: "render.command", flag: "render-command", usage: "external renderer executable",
		get: func(s *Settings) string { return s.Render.Command },
		set: func(s *Settings, v string) error { s.Render.Command = v; return nil }},
	{key: "render.workers", flag: "workers", usage: "parallel card renders for the native backend",
		get: func(s *Settings) string { return strconv.Itoa(s.Render.Workers) },
		set: func(s *Settings, v string) error { return parseInt(v, &s.Render.Workers) }},
	{key: "render.timeout", flag: "render-timeout", usage: "maximum time for one render batch",
		get: func(s *Settings) string { return s.Render.Timeout.String() },
		set: func(s *Settings, v string) error { return parseDuration(v, &s.Render.Timeout) }},
	{key: "render.card_profile", flag: "card-profile", usage: "YAML card profile",
		get: func(s *Settings) string { return s.Render.CardProfile },
		set: func(s *Settings, v string) error { s.Render.CardProfile = v; return nil }},
	{key: "packaging.layout", flag: "layout", usage: "print sheet layout (landscape, portrait)",
		get: func(s *Settings) string { return s.Packaging.Layout },
		set: func(s *Settings, v string) error { s.Packaging.Layout = strings.ToLower(v); return nil }},
	{key: "packaging.max_sheet_items", usage: "largest range accepted in print mode",
		get: func(s *Settings) string { return strconv.Itoa(s.Packaging.MaxSheetItems) },
		set: func(s *Settings, v string) error { return parseInt(v, &s.Packaging.MaxSheetItems) }},
	{key: "packaging.cut_guides", usage: "draw cut marks around printed cards",
		get: func(s *Settings) string { return strconv.FormatBool(s.Packaging.CutGuides) },
		set: func(s *Settings, v string) error { return parseBool(v, &s.Packaging.CutGuides) }},
	{key: "jobs.work_dir", flag: "work-dir", usage: "scratch directory root",
		get: func(s *Settings) string { return s.Jobs.WorkDir },
		set: func(s *Settings, v string) error { s.Jobs.WorkDir = v; return nil }},
	{key: "jobs.output_dir", flag: "output-dir", usage: "finished artifact directory",
		get: func(s *Settings) string { return s.Jobs.OutputDir },
		set: func(s *Settings, v string) error { s.Jobs.OutputDir = v; return nil }},
	{key: "jobs.retention", usage: "how long finished jobs and their output are kept",
		get: func(s *Settings) string { return s.Jobs.Retention.String() },
		set: func(s *Settings, v string) error { return parseDuration(v, &s.Jobs.Retention) }},
	{key: "jobs.keep_scratch", usage: "keep rendered cards after packaging",
		get: func(s *Settings) string { return strconv.FormatBool(s.Jobs.KeepScratch) },
		set: func(s *Settings, v string) error { return parseBool(v, &s.Jobs.KeepScratch) }},
	{key: "log.level", flag: "log-level", usage: "minimum log level",
		get: func(s *Settings) string { return s.Log.Level },
		set: func(s *Settings, v string) error { s.Log.Level = strings.ToLower(v); return nil }},
}

// RegisterFlags adds the config file flag and one flag per flag-bound
// setting, with defaults as help values.
func RegisterFlags(fs *pflag.FlagSet) {
	defaults := Defaults()
	fs.StringP("config", "c", "", "TOML config file (env "+EnvConfigFile+")")
	for _, f := range fields {
		if f.flag == "" {
			continue
		}
		fs.String(f.flag, f.get(&defaults), f.usage+" (env "+f.envName()+")")
	}
}

// Load resolves settings. fs may be nil; lookup defaults to os.LookupEnv.
func Load(fs *pflag.FlagSet, lookup func(string) (string, bool)) (Settings, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	settings := Defaults()

	path := ""
	if value, ok := lookup(EnvConfigFile); ok {
		path = strings.TrimSpace(value)
	}
	if fs != nil && fs.Changed("config") {
		path, _ = fs.GetString("config")
	}
	if path != "" {
		if err := settings.readFile(path); err != nil {
			return Settings{}, err
		}
	}

	for _, f := range fields {
		value, ok := lookup(f.envName())
		if !ok || strings.TrimSpace(value) == "" {
			continue
		}
		if err := f.set(&settings, strings.TrimSpace(value)); err != nil {
			return Settings{}, fmt.Errorf("invalid %s: %w", f.envName(), err)
		}
		settings.Sources[f.key] = SourceEnv
	}

	if fs != nil {
		for _, f := range fields {
			if f.flag == "" || !fs.Changed(f.flag) {
				continue
			}
			value, err := fs.GetString(f.flag)
			if err != nil {
				return Settings{}, err
			}
			if err := f.set(&settings, strings.TrimSpace(value)); err != nil {
				return Settings{}, fmt.Errorf("invalid --%s: %w", f.flag, err)
			}
			settings.Sources[f.key] = SourceFlag
		}
	}

	if err := settings.Validate(); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

func (s *Settings) readFile(path string) error {
	meta, err := toml.DecodeFile(path, s)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		sort.Strings(keys)
		return fmt.Errorf("config %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	for _, key := range meta.Keys() {
		if len(key) == 2 {
			s.Sources[key.String()] = SourceFile
		}
	}
	s.File = path
	return nil
}

// Describe lists every setting as "key = value (source)" in key order.
func (s Settings) Describe() []string {
	lines := make([]string, 0, len(fields))
	for _, f := range fields {
		lines = append(lines, fmt.Sprintf("%s = %q (%s)", f.key, f.get(&s), s.Source(f.key)))
	}
	sort.Strings(lines)
	return lines
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseInt(value string, target *int) error {
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return errors.New("must be an integer")
	}
	*target = parsed
	return nil
}

func parseBool(value string, target *bool) error {
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return errors.New("must be true or false")
	}
	*target = parsed
	return nil
}

func parseDuration(value string, target *Duration) error {
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return errors.New("must be a duration such as 90s or 10m")
	}
	target.Duration = parsed
	return nil
}
