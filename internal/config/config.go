// Package config loads engine settings from YAML or TOML files.
//
// Every field has a default; a file only overrides what it names. Unknown
// keys are errors in both formats.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/roach88/morph/internal/engine"
	"github.com/roach88/morph/internal/ghost"
	"github.com/roach88/morph/internal/harden"
	"github.com/roach88/morph/internal/profile"
)

// Config is the full engine configuration.
type Config struct {
	Thresholds profile.Thresholds `yaml:"thresholds" toml:"thresholds" json:"thresholds"`
	Hardening  HardeningConfig    `yaml:"hardening" toml:"hardening" json:"hardening"`
	Logging    LoggingConfig      `yaml:"logging" toml:"logging" json:"logging"`
	Store      StoreConfig        `yaml:"store" toml:"store" json:"store"`
	Delegation DelegationConfig   `yaml:"delegation" toml:"delegation" json:"delegation"`

	// MaxDepth bounds nested calls. Zero keeps the interpreter default.
	MaxDepth int `yaml:"max_depth" toml:"max_depth" json:"max_depth"`
}

// HardeningConfig selects how native forms are built.
type HardeningConfig struct {
	// Mode is "sync" or "async".
	Mode string `yaml:"mode" toml:"mode" json:"mode"`

	// GhostPolicy is "retain" or "refuse".
	GhostPolicy string `yaml:"ghost_policy" toml:"ghost_policy" json:"ghost_policy"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level" json:"level"`
	Format string `yaml:"format" toml:"format" json:"format"`
}

// StoreConfig locates the SQLite database. An empty path disables
// persistence.
type StoreConfig struct {
	Path string `yaml:"path" toml:"path" json:"path"`
}

// DelegationConfig limits cross-stack delegation.
type DelegationConfig struct {
	// Limit caps concurrent calls in a batch. Zero means no limit.
	Limit int `yaml:"limit" toml:"limit" json:"limit"`

	// Allow lists the functions that may be delegated. Empty allows all.
	Allow []string `yaml:"allow" toml:"allow" json:"allow"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Thresholds: profile.DefaultThresholds(),
		Hardening:  HardeningConfig{Mode: "sync", GhostPolicy: "retain"},
		Logging:    LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads a YAML (.yaml, .yml) or TOML (.toml) file over the defaults
// and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = decodeYAML(path, &cfg)
	case ".toml":
		err = decodeTOML(path, &cfg)
	default:
		return Config{}, fmt.Errorf("load config %s: unsupported extension (want .yaml, .yml or .toml)", path)
	}
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

func decodeYAML(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func decodeTOML(path string, cfg *Config) error {
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	return nil
}

// Validate checks thresholds and enumerated settings. All problems are
// reported together.
func (c Config) Validate() error {
	var errs []error
	if err := c.Thresholds.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("thresholds: %w", err))
	}
	if _, err := harden.ParseMode(c.Hardening.Mode); err != nil {
		errs = append(errs, fmt.Errorf("hardening: %w", err))
	}
	if _, err := ghost.ParsePolicy(c.Hardening.GhostPolicy); err != nil {
		errs = append(errs, fmt.Errorf("hardening: %w", err))
	}
	if _, err := parseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging: unknown format %q (want text or json)", c.Logging.Format))
	}
	if c.Delegation.Limit < 0 {
		errs = append(errs, fmt.Errorf("delegation: limit must be non-negative, got %d", c.Delegation.Limit))
	}
	if c.MaxDepth < 0 {
		errs = append(errs, fmt.Errorf("max_depth must be non-negative, got %d", c.MaxDepth))
	}
	return errors.Join(errs...)
}

// EngineOptions converts the configuration to engine options. The config
// must be valid.
func (c Config) EngineOptions(logger *slog.Logger) []engine.Option {
	mode, _ := harden.ParseMode(c.Hardening.Mode)
	policy, _ := ghost.ParsePolicy(c.Hardening.GhostPolicy)
	opts := []engine.Option{
		engine.WithThresholds(c.Thresholds),
		engine.WithHardenMode(mode),
		engine.WithGhostPolicy(policy),
		engine.WithDelegationLimit(c.Delegation.Limit),
		engine.WithMaxDepth(c.MaxDepth),
	}
	if logger != nil {
		opts = append(opts, engine.WithLogger(logger))
	}
	if len(c.Delegation.Allow) > 0 {
		allow := slices.Clone(c.Delegation.Allow)
		opts = append(opts, engine.WithCapabilityCheck(AllowDelegation(allow)))
	}
	return opts
}

// AllowDelegation grants delegate:<fn> for the listed functions and every
// other capability.
func AllowDelegation(functions []string) engine.CapabilityFunc {
	return func(_ context.Context, capability string) bool {
		fn, ok := strings.CutPrefix(capability, "delegate:")
		if !ok {
			return true
		}
		return slices.Contains(functions, fn)
	}
}

// NewLogger builds the slog logger described by the logging section.
func (c Config) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(c.Logging.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Logging.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func parseLevel(s string) (slog.Level, error) {
	if s == "" {
		return slog.LevelInfo, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}
