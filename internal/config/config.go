// Package config loads the equipdb run configuration from defaults, an
// optional YAML file, EQUIPDB_* environment variables and bound CLI flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"equipdb/internal/storage"
)

// EnvPrefix is the environment variable prefix; "storage.dsn" reads
// EQUIPDB_STORAGE_DSN.
const EnvPrefix = "EQUIPDB"

type Storage struct {
	Kind string `mapstructure:"kind" yaml:"kind"`
	DSN  string `mapstructure:"dsn" yaml:"dsn"`
}

// Documents names the input files inside InputDir.
type Documents struct {
	Stats          string `mapstructure:"stats" yaml:"stats"`
	WeaponProperty string `mapstructure:"weapon_property" yaml:"weapon_property"`
	WeaponName     string `mapstructure:"weapon_name" yaml:"weapon_name"`
}

type Projection struct {
	Slots          int    `mapstructure:"slots" yaml:"slots"`
	MappingFile    string `mapstructure:"mapping_file" yaml:"mapping_file"`
	HealthFallback bool   `mapstructure:"health_fallback" yaml:"health_fallback"`
}

type Metrics struct {
	Backend    string        `mapstructure:"backend" yaml:"backend"`
	Tags       []string      `mapstructure:"tags" yaml:"tags"`
	FlushEvery time.Duration `mapstructure:"flush_every" yaml:"flush_every"`
}

type Config struct {
	InputDir   string     `mapstructure:"input_dir" yaml:"input_dir"`
	Storage    Storage    `mapstructure:"storage" yaml:"storage"`
	Documents  Documents  `mapstructure:"documents" yaml:"documents"`
	Projection Projection `mapstructure:"projection" yaml:"projection"`
	Metrics    Metrics    `mapstructure:"metrics" yaml:"metrics"`
	Verbose    bool       `mapstructure:"verbose" yaml:"verbose"`
	Debug      bool       `mapstructure:"debug" yaml:"debug"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		InputDir: "data",
		Storage:  Storage{Kind: "sqlite", DSN: "equipdb.sqlite"},
		Documents: Documents{
			Stats:          "equip_data_statistics.json",
			WeaponProperty: "weapon_property.json",
			WeaponName:     "weapon_name.json",
		},
		Projection: Projection{Slots: 3, HealthFallback: true},
		Metrics:    Metrics{Backend: "none", FlushEvery: 60 * time.Second},
	}
}

// SetDefaults registers Default() on v so every key is known to viper
// (AutomaticEnv only resolves keys viper already knows about).
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("input_dir", d.InputDir)
	v.SetDefault("storage.kind", d.Storage.Kind)
	v.SetDefault("storage.dsn", d.Storage.DSN)
	v.SetDefault("documents.stats", d.Documents.Stats)
	v.SetDefault("documents.weapon_property", d.Documents.WeaponProperty)
	v.SetDefault("documents.weapon_name", d.Documents.WeaponName)
	v.SetDefault("projection.slots", d.Projection.Slots)
	v.SetDefault("projection.mapping_file", d.Projection.MappingFile)
	v.SetDefault("projection.health_fallback", d.Projection.HealthFallback)
	v.SetDefault("metrics.backend", d.Metrics.Backend)
	v.SetDefault("metrics.flush_every", d.Metrics.FlushEvery)
	v.SetDefault("verbose", d.Verbose)
	v.SetDefault("debug", d.Debug)
}

// New returns a viper instance with defaults and environment binding set up.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// No default value, so the key must be bound explicitly.
	_ = v.BindEnv("metrics.tags")
	return v
}

// Load reads the optional YAML file at path (empty means none) into v and
// decodes the result.
func Load(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// StorageConfig converts to the storage factory input.
func (c Config) StorageConfig() storage.Config {
	return storage.Config{Kind: c.Storage.Kind, DSN: c.Storage.DSN}
}

// ---- validation ----

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding. Path is the dotted config key.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

// ErrInvalid is returned by Check when any error-severity issue exists.
var ErrInvalid = errors.New("invalid configuration")

// Validate reports every problem it finds; it never stops at the first.
func Validate(c Config) []Issue {
	var out []Issue
	add := func(sev Severity, path, format string, args ...any) {
		out = append(out, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(c.InputDir) == "" {
		add(SeverityError, "input_dir", "must not be empty")
	}

	if c.Storage.Kind == "" {
		add(SeverityError, "storage.kind", "must not be empty")
	} else if !contains(storage.Kinds(), c.Storage.Kind) {
		add(SeverityError, "storage.kind", "unsupported kind %q (registered: %s)",
			c.Storage.Kind, strings.Join(storage.Kinds(), ", "))
	}
	if strings.TrimSpace(c.Storage.DSN) == "" {
		add(SeverityError, "storage.dsn", "must not be empty")
	}

	docs := map[string]string{
		"documents.stats":           c.Documents.Stats,
		"documents.weapon_property": c.Documents.WeaponProperty,
		"documents.weapon_name":     c.Documents.WeaponName,
	}
	for _, k := range []string{"documents.stats", "documents.weapon_property", "documents.weapon_name"} {
		if strings.TrimSpace(docs[k]) == "" {
			add(SeverityError, k, "must not be empty")
		}
	}

	if c.Projection.Slots < 1 {
		add(SeverityError, "projection.slots", "must be >= 1, got %d", c.Projection.Slots)
	} else if c.Projection.Slots > 3 {
		add(SeverityWarning, "projection.slots", "source data carries 3 slots; %d configured", c.Projection.Slots)
	}

	switch c.Metrics.Backend {
	case "", "none", "datadog":
	default:
		add(SeverityError, "metrics.backend", "unknown backend %q (none|datadog)", c.Metrics.Backend)
	}
	if c.Metrics.Backend == "datadog" && c.Metrics.FlushEvery <= 0 {
		add(SeverityWarning, "metrics.flush_every", "non-positive; the 60s default applies")
	}

	return out
}

// Check runs Validate and returns ErrInvalid when any issue is an error.
func Check(c Config) ([]Issue, error) {
	issues := Validate(c)
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return issues, ErrInvalid
		}
	}
	return issues, nil
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}
