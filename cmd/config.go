package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tailscale/hujson"

	"github.com/bisegni/msiq/internal/logging"
	"github.com/bisegni/msiq/pkg/stream"
)

var (
	errConfigInvalid      = errors.New("invalid config")
	errConfigFileNotFound = errors.New("config file not found")
	errConfigFileRead     = errors.New("cannot read config file")
)

// Output formats.
const (
	FormatJSON  = "json"
	FormatTable = "table"
)

// Config holds all configuration options.
type Config struct {
	ChunkSize int    `json:"chunk_size,omitempty"`
	Format    string `json:"format,omitempty"`
	LogLevel  string `json:"log_level,omitempty"`
	OutputDir string `json:"output_dir,omitempty"`
}

// ConfigSources tracks which config files were loaded.
type ConfigSources struct {
	Global  string // Path to global config if loaded, empty otherwise
	Project string // Path to project config if loaded, empty otherwise
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		ChunkSize: stream.DefaultChunkSize,
		Format:    FormatJSON,
		LogLevel:  string(logging.LevelWarn),
		OutputDir: ".",
	}
}

// ConfigFileName is the project config file name.
const ConfigFileName = ".msiq.json"

// globalConfigPath returns $XDG_CONFIG_HOME/msiq/config.json, falling back to
// ~/.config/msiq/config.json. It returns "" when neither can be determined.
func globalConfigPath(env []string) string {
	for _, e := range env {
		if after, ok := strings.CutPrefix(e, "XDG_CONFIG_HOME="); ok && after != "" {
			return filepath.Join(after, "msiq", "config.json")
		}
	}
	home, err := os.UserHomeDir()
	if err == nil {
		return filepath.Join(home, ".config", "msiq", "config.json")
	}
	return ""
}

// LoadConfig loads configuration with the following precedence (highest wins):
// 1. Defaults
// 2. Global user config
// 3. Project config file in workDir (.msiq.json, if it exists)
// 4. Explicit config file via configPath (if non-empty)
//
// CLI flags are applied on top by the caller.
func LoadConfig(workDir, configPath string, env []string) (Config, ConfigSources, error) {
	cfg := DefaultConfig()
	var sources ConfigSources

	if path := globalConfigPath(env); path != "" {
		global, loaded, err := loadConfigFile(path, false)
		if err != nil {
			return Config{}, ConfigSources{}, err
		}
		if loaded {
			sources.Global = path
			cfg = mergeConfig(cfg, global)
		}
	}

	path := filepath.Join(workDir, ConfigFileName)
	mustExist := false
	if configPath != "" {
		path = configPath
		if !filepath.IsAbs(path) {
			path = filepath.Join(workDir, path)
		}
		mustExist = true
		if _, err := os.Stat(path); err != nil {
			return Config{}, ConfigSources{}, fmt.Errorf("%w: %s", errConfigFileNotFound, configPath)
		}
	}
	project, loaded, err := loadConfigFile(path, mustExist)
	if err != nil {
		return Config{}, ConfigSources{}, err
	}
	if loaded {
		sources.Project = path
		cfg = mergeConfig(cfg, project)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, ConfigSources{}, err
	}
	return cfg, sources, nil
}

// loadConfigFile loads a config file. A missing optional file is not an
// error and reports loaded == false.
func loadConfigFile(path string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is intentionally user-controlled
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return Config{}, false, nil
		}
		return Config{}, false, fmt.Errorf("%w: %s: %w", errConfigFileRead, path, err)
	}

	cfg, err := parseConfig(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("%w %s: %w", errConfigInvalid, path, err)
	}
	return cfg, true, nil
}

func parseConfig(data []byte) (Config, error) {
	// JSONC: comments and trailing commas allowed
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg Config
	dec := json.NewDecoder(strings.NewReader(string(standardized)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}
	return cfg, nil
}

func mergeConfig(base, overlay Config) Config {
	if overlay.ChunkSize != 0 {
		base.ChunkSize = overlay.ChunkSize
	}
	if overlay.Format != "" {
		base.Format = overlay.Format
	}
	if overlay.LogLevel != "" {
		base.LogLevel = overlay.LogLevel
	}
	if overlay.OutputDir != "" {
		base.OutputDir = overlay.OutputDir
	}
	return base
}

func validateConfig(cfg Config) error {
	if cfg.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size must be positive, got %d", errConfigInvalid, cfg.ChunkSize)
	}
	switch cfg.Format {
	case FormatJSON, FormatTable:
	default:
		return fmt.Errorf("%w: format must be %q or %q, got %q", errConfigInvalid, FormatJSON, FormatTable, cfg.Format)
	}
	if cfg.OutputDir == "" {
		return fmt.Errorf("%w: output_dir is empty", errConfigInvalid)
	}
	return nil
}
