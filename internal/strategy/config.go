package strategy

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the persisted state of one strategy. Mutating it never touches disk;
// callers persist explicitly with Save.
type Config struct {
	Name      string            `yaml:"name"`
	Enabled   bool              `yaml:"enabled"`
	Symbols   []string          `yaml:"symbols,omitempty"`
	Params    map[string]string `yaml:"params,omitempty"`
	Counters  map[string]int64  `yaml:"counters,omitempty"`
	UpdatedAt time.Time         `yaml:"updated_at,omitempty"`

	path string
}

// LoadConfig reads the YAML config at path. A missing file yields an enabled config
// named after the file, bound to path for a later Save.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			cfg.Enabled = true
			cfg.ensureMaps()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read strategy config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse strategy config %s: %w", path, err)
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("strategy config %s has no name", path)
	}
	cfg.ensureMaps()
	return cfg, nil
}

// Path returns the file the config is saved to.
func (c *Config) Path() string {
	return c.path
}

// Save writes the config to its path atomically.
func (c *Config) Save() error {
	if c.path == "" {
		return errors.New("strategy config has no path")
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode strategy config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("failed to create strategy config directory: %w", err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write strategy config: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace strategy config: %w", err)
	}
	return nil
}

// Param returns a parameter or def when unset.
func (c *Config) Param(key, def string) string {
	if v, ok := c.Params[key]; ok && v != "" {
		return v
	}
	return def
}

func (c *Config) ensureMaps() {
	if c.Params == nil {
		c.Params = make(map[string]string)
	}
	if c.Counters == nil {
		c.Counters = make(map[string]int64)
	}
}
