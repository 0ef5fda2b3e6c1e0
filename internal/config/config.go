// Package config loads the optional user configuration file. Everything
// has a working default; the file only exists when the user wrote one.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

type Config struct {
	ParallelDownloads int  `json:"parallel_downloads"`
	ShowProgress      bool `json:"show_progress"`
	Verbose           bool `json:"verbose"`
}

var (
	cfg     *Config
	cfgOnce sync.Once
)

func DefaultConfig() *Config {
	return &Config{
		ParallelDownloads: 0, // 0 means "use the CPU count"
		ShowProgress:      true,
	}
}

func Path() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "chug", "config.json")
}

// Get loads the config file once, falling back to defaults when it is
// missing or malformed.
func Get() *Config {
	cfgOnce.Do(func() {
		cfg = DefaultConfig()
		data, err := os.ReadFile(Path())
		if err != nil {
			return
		}
		json.Unmarshal(data, cfg)
	})
	return cfg
}

func (c *Config) Save() error {
	path := Path()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Workers is the bound on the executor's parallel add/remove phases.
func (c *Config) Workers() int {
	if c.ParallelDownloads > 0 {
		return min(c.ParallelDownloads, 20)
	}
	return runtime.NumCPU()
}
