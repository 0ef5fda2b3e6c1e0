// Package dirs resolves the directories chug installs into. Every path is
// derived from environment variables with XDG fallbacks and created on
// first resolution.
package dirs

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const programName = "chug"

// Paths holds every directory and file location the rest of the program
// uses. Default computes it once; the fields are read-only afterwards.
type Paths struct {
	Home    string
	Cache   string // <cache>/chug
	Data    string // <data>/chug
	Bottles string // <data>/chug/bottles
	Opt     string // <data>/chug/opt
	Bin     string // XDG_BIN_HOME or ~/.local/bin
	Etc     string // <data>/chug/etc
	Catalog string // <data>/chug/catalog.sqlite
}

var (
	defaultOnce  sync.Once
	defaultPaths *Paths
	defaultErr   error
)

// Default resolves the process-wide paths once and returns the cached
// result on subsequent calls.
func Default() (*Paths, error) {
	defaultOnce.Do(func() {
		defaultPaths, defaultErr = Resolve()
	})
	return defaultPaths, defaultErr
}

// Resolve computes the installation paths from the environment and creates
// every directory that does not exist yet.
func Resolve() (*Paths, error) {
	home := os.Getenv("HOME")
	if home == "" {
		return nil, fmt.Errorf("$HOME is not set")
	}

	p := &Paths{Home: home}

	p.Cache = filepath.Join(envOr("XDG_CACHE_HOME", filepath.Join(home, ".cache")), programName)
	p.Data = filepath.Join(envOr("XDG_DATA_HOME", filepath.Join(home, ".local", "share")), programName)
	p.Bin = envOr("XDG_BIN_HOME", filepath.Join(home, ".local", "bin"))
	p.Bottles = filepath.Join(p.Data, "bottles")
	p.Opt = filepath.Join(p.Data, "opt")
	p.Etc = filepath.Join(p.Data, "etc")
	p.Catalog = filepath.Join(p.Data, "catalog.sqlite")

	for _, dir := range []string{p.Cache, p.Data, p.Bottles, p.Opt, p.Bin, p.Etc} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return p, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
