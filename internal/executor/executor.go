// Package executor drives a resolved plan: parallel downloads into the
// bottles tree, symlink publication, the transactional edge rewrite and
// parallel removals.
package executor

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"chug/internal/catalog"
	"chug/internal/dirs"
	"chug/internal/extract"
	"chug/internal/fetch"
	"chug/internal/formula"
	"chug/internal/planner"
	"chug/internal/progress"
	"chug/internal/retry"

	"golang.org/x/sync/errgroup"
)

// Executor applies plans against one catalog and installation tree.
type Executor struct {
	Paths *dirs.Paths
	Store *catalog.Store
	Index planner.Resolver

	// Workers bounds the parallel add and remove phases. Defaults to
	// the CPU count.
	Workers int
	// Progress receives a tracker per download when set.
	Progress *progress.Manager
	// Target overrides the bottle target tag; empty means the current
	// machine.
	Target string
}

func (e *Executor) workers() int {
	if e.Workers > 0 {
		return e.Workers
	}
	return runtime.NumCPU()
}

func (e *Executor) target() (string, error) {
	if e.Target != "" {
		return e.Target, nil
	}
	return formula.Target()
}

// Apply executes the plan: downloads everything in ToAdd, links the new
// bottles, rewrites the dependency edges and finally removes everything
// in ToRemove.
func (e *Executor) Apply(snapshot *planner.Snapshot, plan *planner.Plan) error {
	if len(plan.ToAdd) > 0 {
		fmt.Println("Adding bottles:")
		printRefs(plan.ToAdd)
	}
	if len(plan.ToRemove) > 0 {
		fmt.Println("Removing bottles:")
		printRefs(plan.ToRemove)
	}

	downloaded, err := e.addBottles(plan.ToAdd)
	if err != nil {
		return err
	}

	lg := new(errgroup.Group)
	lg.SetLimit(e.workers())
	for _, b := range downloaded {
		lg.Go(func() error {
			if err := e.publishLinks(b); err != nil {
				return fmt.Errorf("failed to link %s: %w", b.Name, err)
			}
			if err := e.runPostInstall(b); err != nil {
				return fmt.Errorf("post-install for %s failed: %w", b.Name, err)
			}
			return nil
		})
	}
	if err := lg.Wait(); err != nil {
		return err
	}

	if err := e.replaceEdges(snapshot, plan, downloaded); err != nil {
		return err
	}

	return e.removeBottles(snapshot, plan.ToRemove)
}

// addBottles downloads, extracts, patches and records every bottle in
// refs, bounded by the worker pool. Any failure aborts the run, but
// in-flight downloads complete or fail independently first.
func (e *Executor) addBottles(refs []planner.BottleRef) ([]*catalog.DownloadedBottle, error) {
	downloaded := make([]*catalog.DownloadedBottle, len(refs))

	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(e.workers())
	for i, ref := range refs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			b, err := e.downloadBottle(ref)
			if err != nil {
				return fmt.Errorf("downloading %s: %w", ref, err)
			}
			downloaded[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return downloaded, nil
}

// downloadBottle runs the fetch→digest→extract→patch pipeline for one
// bottle and records it in the catalog. A failure anywhere leaves no
// partial extraction and no catalog row.
func (e *Executor) downloadBottle(ref planner.BottleRef) (*catalog.DownloadedBottle, error) {
	f, err := e.Index.GetExact(ref.Name)
	if err != nil {
		return nil, err
	}

	target, err := e.target()
	if err != nil {
		return nil, err
	}
	file, err := f.FileForTarget(target)
	if err != nil {
		return nil, err
	}

	stream, err := retry.WithResult(context.Background(), func() (*fetch.BottleStream, error) {
		return fetch.OpenBottle(file)
	})
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var reader io.Reader = stream
	if e.Progress != nil {
		tracker := e.Progress.Register(ref.String())
		tracker.Start(stream.ContentLength)
		defer func() {
			if err != nil {
				tracker.Error(err)
			} else {
				tracker.Complete()
			}
		}()
		reader = &progress.Reader{Inner: stream, Tracker: tracker}
	}

	patcher := &extract.Patcher{Prefix: e.Paths.Data, Cellar: e.Paths.Bottles}
	path, err := extract.Extract(reader, f, e.Paths.Bottles, patcher)
	if err != nil {
		e.cleanupExtraction(f)
		return nil, err
	}

	// Drain the trailing archive bytes so the digest covers the whole
	// body, then validate before anything is recorded.
	if _, err = io.Copy(io.Discard, reader); err != nil {
		e.cleanupExtraction(f)
		return nil, fmt.Errorf("failed to read bottle download: %w", err)
	}
	if err = stream.Validate(); err != nil {
		e.cleanupExtraction(f)
		return nil, fmt.Errorf("failed to validate bottle download: %w", err)
	}

	b, err := e.Store.CreateBottle(ref.Name, ref.Version, path)
	if err != nil {
		e.cleanupExtraction(f)
		return nil, err
	}

	return b, nil
}

// cleanupExtraction best-effort removes whatever a failed extraction
// left behind, including the now-empty package directory.
func (e *Executor) cleanupExtraction(f *formula.Formula) {
	pkgDir := filepath.Join(e.Paths.Bottles, f.Name)
	entries, err := os.ReadDir(pkgDir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if len(entry.Name()) >= len(f.Versions.Stable) && entry.Name()[:len(f.Versions.Stable)] == f.Versions.Stable {
			os.RemoveAll(filepath.Join(pkgDir, entry.Name()))
		}
	}
	os.Remove(pkgDir)
}

// replaceEdges rewrites the dependency table to the plan's edge set,
// translating refs to row ids over the union of pre-existing and newly
// downloaded bottles.
func (e *Executor) replaceEdges(snapshot *planner.Snapshot, plan *planner.Plan, downloaded []*catalog.DownloadedBottle) error {
	byRef := make(map[planner.BottleRef]int64, len(snapshot.Bottles)+len(downloaded))
	for _, b := range snapshot.Bottles {
		byRef[planner.BottleRef{Name: b.Name, Version: b.Version}] = b.ID
	}
	for _, b := range downloaded {
		byRef[planner.BottleRef{Name: b.Name, Version: b.Version}] = b.ID
	}

	deps := make([]catalog.Dependency, 0, len(plan.Edges))
	for _, edge := range plan.Edges {
		childID, ok := byRef[edge.Child]
		if !ok {
			return fmt.Errorf("no catalog row for %s", edge.Child)
		}
		d := catalog.Dependency{DependencyID: childID}
		if !edge.IsRoot() {
			parentID, ok := byRef[edge.Parent]
			if !ok {
				return fmt.Errorf("no catalog row for %s", edge.Parent)
			}
			d.DependentID = &parentID
		}
		deps = append(deps, d)
	}

	if err := e.Store.ReplaceAllDependencies(deps); err != nil {
		return fmt.Errorf("failed to update dependency records: %w", err)
	}
	return nil
}

// removeBottles unlinks and deletes every bottle in refs.
func (e *Executor) removeBottles(snapshot *planner.Snapshot, refs []planner.BottleRef) error {
	if len(refs) == 0 {
		return nil
	}

	byRef := make(map[planner.BottleRef]catalog.DownloadedBottle, len(snapshot.Bottles))
	for _, b := range snapshot.Bottles {
		byRef[planner.BottleRef{Name: b.Name, Version: b.Version}] = b
	}

	g := new(errgroup.Group)
	g.SetLimit(e.workers())
	for _, ref := range refs {
		g.Go(func() error {
			b, ok := byRef[ref]
			if !ok {
				return fmt.Errorf("no catalog row for %s", ref)
			}
			if err := e.removeBottle(b); err != nil {
				return fmt.Errorf("removing %s: %w", ref, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// removeBottle retracts the bottle's symlinks, deletes its directory and
// drops the catalog row (cascading any remaining edges).
func (e *Executor) removeBottle(b catalog.DownloadedBottle) error {
	if err := e.unlinkBottle(b); err != nil {
		return err
	}

	if err := os.RemoveAll(b.Path); err != nil {
		return fmt.Errorf("failed to delete %s: %w", b.Path, err)
	}
	// The per-package directory is shared between versions; drop it only
	// once it is empty.
	os.Remove(filepath.Dir(b.Path))

	return e.Store.DeleteBottle(b.ID)
}

func printRefs(refs []planner.BottleRef) {
	sorted := make([]planner.BottleRef, len(refs))
	copy(sorted, refs)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Name != sorted[j].Name {
			return sorted[i].Name < sorted[j].Name
		}
		return sorted[i].Version < sorted[j].Version
	})
	for _, ref := range sorted {
		fmt.Printf("  %s\n", ref)
	}
}
