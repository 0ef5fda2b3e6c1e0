package formula

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"chug/internal/httpclient"
	"chug/internal/retry"
)

// FormulaAPI is the upstream list of every formula with bottle metadata.
// A variable so tests can point it at a local server.
var FormulaAPI = "https://formulae.brew.sh/api/formula.json"

const (
	cacheFilename = "formula.json"
	cacheTimeout  = 24 * time.Hour
)

// Index is the loaded formula list, sorted by name, with a lazily built
// alias lookup. Read-only after Load.
type Index struct {
	formulae []Formula

	aliasOnce sync.Once
	aliases   []aliasEntry
}

type aliasEntry struct {
	alias   string
	formula *Formula
}

var (
	defaultOnce sync.Once
	defaultIdx  *Index
	defaultErr  error
)

// Default loads the index once per process, preferring the disk cache.
func Default(cacheDir string) (*Index, error) {
	defaultOnce.Do(func() {
		defaultIdx, defaultErr = Load(cacheDir)
	})
	return defaultIdx, defaultErr
}

// Load returns the formula index from the disk cache when it is younger
// than 24 hours, refetching from the upstream API otherwise. A fresh
// fetch is written through to the cache as the raw JSON text.
func Load(cacheDir string) (*Index, error) {
	cachePath := filepath.Join(cacheDir, cacheFilename)

	if formulae, err := loadCached(cachePath); err == nil {
		return newIndex(formulae), nil
	}

	fmt.Println("Downloading fresh formula list...")
	raw, err := retry.WithResult(context.Background(), func() ([]byte, error) {
		return fetchRaw(FormulaAPI)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch formula index: %w", err)
	}

	var formulae []Formula
	if err := json.Unmarshal(raw, &formulae); err != nil {
		return nil, fmt.Errorf("failed to parse formula index: %w", err)
	}

	if err := os.WriteFile(cachePath, raw, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write formula cache: %w", err)
	}

	return newIndex(formulae), nil
}

// NewIndex builds an index from an in-memory formula list. Tests and the
// planner's fakes use it; production loads through Load.
func NewIndex(formulae []Formula) *Index {
	return newIndex(formulae)
}

func newIndex(formulae []Formula) *Index {
	sort.Slice(formulae, func(i, j int) bool { return formulae[i].Name < formulae[j].Name })
	return &Index{formulae: formulae}
}

// All returns every formula, sorted by name.
func (idx *Index) All() []Formula {
	return idx.formulae
}

// GetExact looks a formula up by its canonical name.
func (idx *Index) GetExact(name string) (*Formula, error) {
	i := sort.Search(len(idx.formulae), func(i int) bool { return idx.formulae[i].Name >= name })
	if i < len(idx.formulae) && idx.formulae[i].Name == name {
		return &idx.formulae[i], nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// Get looks a formula up by canonical name, falling back to aliases.
func (idx *Index) Get(name string) (*Formula, error) {
	if f, err := idx.GetExact(name); err == nil {
		return f, nil
	}

	idx.aliasOnce.Do(func() {
		for i := range idx.formulae {
			f := &idx.formulae[i]
			for _, a := range f.Aliases {
				idx.aliases = append(idx.aliases, aliasEntry{alias: a, formula: f})
			}
		}
		sort.Slice(idx.aliases, func(i, j int) bool { return idx.aliases[i].alias < idx.aliases[j].alias })
	})

	i := sort.Search(len(idx.aliases), func(i int) bool { return idx.aliases[i].alias >= name })
	if i < len(idx.aliases) && idx.aliases[i].alias == name {
		return idx.aliases[i].formula, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// loadCached reads the cache file when it is still fresh. Any failure
// falls through to a refetch.
func loadCached(path string) ([]Formula, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("cache %s is not a regular file", path)
	}
	if time.Since(info.ModTime()) >= cacheTimeout {
		return nil, fmt.Errorf("disk cache has expired")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var formulae []Formula
	if err := json.Unmarshal(data, &formulae); err != nil {
		return nil, err
	}
	return formulae, nil
}

func fetchRaw(url string) ([]byte, error) {
	resp, err := httpclient.Get().Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, retry.NonRetryable(fmt.Errorf("formula index request returned %s", resp.Status))
	}

	return io.ReadAll(resp.Body)
}
