package executor

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"chug/internal/catalog"
	"chug/internal/dirs"
	"chug/internal/fetch"
	"chug/internal/formula"
	"chug/internal/planner"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTarget = "x86_64_linux"

type fixture struct {
	exec  *Executor
	index *formula.Index
	store *catalog.Store
	paths *dirs.Paths
}

type bottleSpec struct {
	name    string
	version string
	deps    []string
	files   map[string]string // relative path -> contents
}

// newFixture serves each bottle from a local HTTP server and wires an
// executor against temp directories and a fresh catalog.
func newFixture(t *testing.T, bottles []bottleSpec) *fixture {
	t.Helper()

	root := t.TempDir()
	paths := &dirs.Paths{
		Home:    root,
		Cache:   filepath.Join(root, "cache"),
		Data:    filepath.Join(root, "data"),
		Bottles: filepath.Join(root, "data", "bottles"),
		Opt:     filepath.Join(root, "data", "opt"),
		Bin:     filepath.Join(root, "bin"),
		Etc:     filepath.Join(root, "data", "etc"),
		Catalog: filepath.Join(root, "data", "catalog.sqlite"),
	}
	for _, dir := range []string{paths.Cache, paths.Bottles, paths.Opt, paths.Bin} {
		require.NoError(t, os.MkdirAll(dir, 0o755))
	}

	archives := make(map[string][]byte)
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	var formulae []formula.Formula
	for _, spec := range bottles {
		body := bottleArchive(t, spec)
		route := "/" + spec.name + ".bottle.tar.gz"
		archives[route] = body
		mux.HandleFunc(route, func(w http.ResponseWriter, r *http.Request) {
			w.Write(archives[route])
		})

		sum := sha256.Sum256(body)
		formulae = append(formulae, formula.Formula{
			Name:         spec.name,
			Dependencies: spec.deps,
			Versions:     formula.Versions{Stable: spec.version, Bottle: true},
			Bottle: formula.Bottle{Stable: formula.BottleStable{Files: map[string]formula.BottleFile{
				testTarget: {URL: srv.URL + route, SHA256: hex.EncodeToString(sum[:])},
			}}},
		})
	}

	index := formula.NewIndex(formulae)
	store, err := catalog.Open(paths.Catalog)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return &fixture{
		exec:  &Executor{Paths: paths, Store: store, Index: index, Target: testTarget, Workers: 2},
		index: index,
		store: store,
		paths: paths,
	}
}

func bottleArchive(t *testing.T, spec bottleSpec) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, path := range sortedKeys(spec.files) {
		contents := spec.files[path]
		hdr := &tar.Header{
			Name:     spec.name + "/" + spec.version + "/" + path,
			Typeflag: tar.TypeReg,
			Mode:     0o755,
			Size:     int64(len(contents)),
		}
		require.NoError(t, tw.WriteHeader(hdr))
		_, err := tw.Write([]byte(contents))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (fx *fixture) apply(t *testing.T, mutate func(p *planner.Planner) error) error {
	t.Helper()
	snapshot, err := planner.LoadSnapshot(fx.store)
	require.NoError(t, err)
	p := planner.New(snapshot, fx.index)
	require.NoError(t, mutate(p))
	plan, err := p.Resolve()
	if err != nil {
		return err
	}
	return fx.exec.Apply(snapshot, plan)
}

// checkInvariants asserts the §8-style properties: every catalog path
// exists, every linked file resolves into its bottle, every non-root is
// reachable from a root.
func (fx *fixture) checkInvariants(t *testing.T) {
	t.Helper()

	bottles, err := fx.store.AllBottles()
	require.NoError(t, err)
	for _, b := range bottles {
		info, err := os.Stat(b.Path)
		require.NoError(t, err, "bottle path %s", b.Path)
		assert.True(t, info.IsDir())

		files, err := fx.store.LinkedFiles(b.ID)
		require.NoError(t, err)
		for _, f := range files {
			target, err := os.Readlink(f.Path)
			require.NoError(t, err, "linked file %s", f.Path)
			assert.True(t, strings.HasPrefix(target, b.Path+string(os.PathSeparator)),
				"link %s resolves outside its bottle", f.Path)
		}
	}

	deps, err := fx.store.AllDependencies()
	require.NoError(t, err)
	reached := make(map[int64]bool)
	children := make(map[int64][]int64)
	var stack []int64
	for _, d := range deps {
		if d.DependentID == nil {
			stack = append(stack, d.DependencyID)
		} else {
			children[*d.DependentID] = append(children[*d.DependentID], d.DependencyID)
		}
	}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if reached[id] {
			continue
		}
		reached[id] = true
		stack = append(stack, children[id]...)
	}
	for _, b := range bottles {
		assert.True(t, reached[b.ID], "bottle %s %s is not reachable from any root", b.Name, b.Version)
	}
}

func TestApplyInstallsClosure(t *testing.T) {
	fx := newFixture(t, []bottleSpec{
		{name: "zlib", version: "1.3.1", files: map[string]string{"lib/libz.so": "zlib"}},
		{name: "gh", version: "2.52.0", deps: []string{"zlib"}, files: map[string]string{"bin/gh": "#!/bin/sh\necho gh\n"}},
	})

	require.NoError(t, fx.apply(t, func(p *planner.Planner) error { return p.Add([]string{"gh"}) }))

	bottles, err := fx.store.AllBottles()
	require.NoError(t, err)
	require.Len(t, bottles, 2)

	target, err := os.Readlink(filepath.Join(fx.paths.Bin, "gh"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(fx.paths.Bottles, "gh", "2.52.0", "bin", "gh"), target)

	optTarget, err := os.Readlink(filepath.Join(fx.paths.Opt, "gh"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(fx.paths.Bottles, "gh", "2.52.0"), optTarget)

	deps, err := fx.store.AllDependencies()
	require.NoError(t, err)
	assert.Len(t, deps, 2)

	fx.checkInvariants(t)
}

func TestApplyTwiceIsNoWork(t *testing.T) {
	fx := newFixture(t, []bottleSpec{
		{name: "gh", version: "2.52.0", files: map[string]string{"bin/gh": "gh"}},
	})

	require.NoError(t, fx.apply(t, func(p *planner.Planner) error { return p.Add([]string{"gh"}) }))
	err := fx.apply(t, func(p *planner.Planner) error { return p.Add([]string{"gh"}) })
	assert.ErrorIs(t, err, planner.ErrNoWorkToDo)
}

func TestAddThenRemoveRestoresCleanState(t *testing.T) {
	fx := newFixture(t, []bottleSpec{
		{name: "zlib", version: "1.3.1", files: map[string]string{"lib/libz.so": "zlib"}},
		{name: "gh", version: "2.52.0", deps: []string{"zlib"}, files: map[string]string{"bin/gh": "gh"}},
	})

	require.NoError(t, fx.apply(t, func(p *planner.Planner) error { return p.Add([]string{"gh"}) }))
	require.NoError(t, fx.apply(t, func(p *planner.Planner) error { return p.Remove([]string{"gh"}) }))

	bottles, err := fx.store.AllBottles()
	require.NoError(t, err)
	assert.Empty(t, bottles)

	_, err = os.Lstat(filepath.Join(fx.paths.Bin, "gh"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Lstat(filepath.Join(fx.paths.Opt, "gh"))
	assert.True(t, os.IsNotExist(err))

	entries, err := os.ReadDir(fx.paths.Bottles)
	require.NoError(t, err)
	assert.Empty(t, entries, "bottles directory must be empty after removal")
}

func TestApplyChecksumMismatchLeavesNoTrace(t *testing.T) {
	fx := newFixture(t, []bottleSpec{
		{name: "gh", version: "2.52.0", files: map[string]string{"bin/gh": "gh"}},
	})

	// Corrupt the advertised digest so validation fails after extraction.
	f, err := fx.index.GetExact("gh")
	require.NoError(t, err)
	file := f.Bottle.Stable.Files[testTarget]
	file.SHA256 = strings.Repeat("00", 32)
	f.Bottle.Stable.Files[testTarget] = file

	err = fx.apply(t, func(p *planner.Planner) error { return p.Add([]string{"gh"}) })
	require.Error(t, err)
	assert.ErrorIs(t, err, fetch.ErrChecksumMismatch)

	bottles, err := fx.store.AllBottles()
	require.NoError(t, err)
	assert.Empty(t, bottles, "catalog must be unchanged")

	_, err = os.Lstat(filepath.Join(fx.paths.Bin, "gh"))
	assert.True(t, os.IsNotExist(err), "no symlink may be published")

	entries, err := os.ReadDir(fx.paths.Bottles)
	require.NoError(t, err)
	assert.Empty(t, entries, "partial extraction must be cleaned up")
}

func TestApplyRunsCACertificatesHook(t *testing.T) {
	fx := newFixture(t, []bottleSpec{
		{name: "ca-certificates", version: "2026-07-01", files: map[string]string{
			"share/ca-certificates/cacert.pem": "PEM DATA",
		}},
	})

	require.NoError(t, fx.apply(t, func(p *planner.Planner) error { return p.Add([]string{"ca-certificates"}) }))

	got, err := os.ReadFile(filepath.Join(fx.paths.Etc, "ca-certificates", "cert.pem"))
	require.NoError(t, err)
	assert.Equal(t, "PEM DATA", string(got))
}

func TestPublishLinksLeavesUserFilesAlone(t *testing.T) {
	fx := newFixture(t, []bottleSpec{
		{name: "gh", version: "2.52.0", files: map[string]string{"bin/gh": "gh"}},
	})

	userFile := filepath.Join(fx.paths.Bin, "gh")
	require.NoError(t, os.WriteFile(userFile, []byte("user script"), 0o755))

	require.NoError(t, fx.apply(t, func(p *planner.Planner) error { return p.Add([]string{"gh"}) }))

	info, err := os.Lstat(userFile)
	require.NoError(t, err)
	assert.True(t, info.Mode().IsRegular(), "user file must not be replaced")

	got, err := os.ReadFile(userFile)
	require.NoError(t, err)
	assert.Equal(t, "user script", string(got))

	bottles, err := fx.store.AllBottles()
	require.NoError(t, err)
	require.Len(t, bottles, 1)
	files, err := fx.store.LinkedFiles(bottles[0].ID)
	require.NoError(t, err)
	assert.Empty(t, files, "a skipped link must not be recorded")
}

func TestUpdateReplacesVersion(t *testing.T) {
	fx := newFixture(t, []bottleSpec{
		{name: "gh", version: "2.52.0", files: map[string]string{"bin/gh": "new gh"}},
	})

	// Install an older version by hand, the way a previous run with an
	// older index would have left it.
	oldPath := filepath.Join(fx.paths.Bottles, "gh", "2.40.0")
	require.NoError(t, os.MkdirAll(filepath.Join(oldPath, "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(oldPath, "bin", "gh"), []byte("old gh"), 0o755))
	oldRow, err := fx.store.CreateBottle("gh", "2.40.0", oldPath)
	require.NoError(t, err)
	oldLink := filepath.Join(fx.paths.Bin, "gh")
	require.NoError(t, os.Symlink(filepath.Join(oldPath, "bin", "gh"), oldLink))
	require.NoError(t, fx.store.CreateLinkedFile(oldLink, oldRow.ID))
	require.NoError(t, fx.store.ReplaceAllDependencies([]catalog.Dependency{{DependencyID: oldRow.ID}}))

	require.NoError(t, fx.apply(t, func(p *planner.Planner) error { return p.Update() }))

	bottles, err := fx.store.AllBottles()
	require.NoError(t, err)
	require.Len(t, bottles, 1)
	assert.Equal(t, "2.52.0", bottles[0].Version)

	target, err := os.Readlink(oldLink)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(fx.paths.Bottles, "gh", "2.52.0", "bin", "gh"), target)

	_, err = os.Stat(oldPath)
	assert.True(t, os.IsNotExist(err), "old version directory must be removed")

	fx.checkInvariants(t)
}
