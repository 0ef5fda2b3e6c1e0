package cmd

import (
	"fmt"
	"time"

	"chug/internal/catalog"
	"chug/internal/config"
	"chug/internal/dirs"
	"chug/internal/executor"
	"chug/internal/formula"
	"chug/internal/planner"
	"chug/internal/progress"
)

// openCatalog resolves the installation paths and the catalog store.
func openCatalog() (*dirs.Paths, *catalog.Store, error) {
	paths, err := dirs.Default()
	if err != nil {
		return nil, nil, err
	}
	store, err := catalog.Default(paths.Catalog)
	if err != nil {
		return nil, nil, err
	}
	return paths, store, nil
}

// runPlan loads the current forest, applies mutate to it and executes
// the resulting diff.
func runPlan(mutate func(p *planner.Planner) error) error {
	paths, store, err := openCatalog()
	if err != nil {
		return err
	}
	index, err := formula.Default(paths.Cache)
	if err != nil {
		return err
	}

	snapshot, err := planner.LoadSnapshot(store)
	if err != nil {
		return err
	}

	p := planner.New(snapshot, index)
	if err := mutate(p); err != nil {
		return err
	}
	plan, err := p.Resolve()
	if err != nil {
		return err
	}

	exec := &executor.Executor{
		Paths:   paths,
		Store:   store,
		Index:   index,
		Workers: config.Get().Workers(),
	}
	if config.Get().ShowProgress {
		exec.Progress = progress.NewManager()
		go displayProgress(exec.Progress)
	}

	return exec.Apply(snapshot, plan)
}

// displayProgress periodically redraws the aggregate download line until
// every download has finished.
func displayProgress(pm *progress.Manager) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		agg := pm.GetAggregate()
		if agg.Total == 0 {
			continue
		}
		if agg.OverallPercent > 0 && agg.OverallPercent < 100 {
			fmt.Printf("\r  %.1f%% | active: %d | %.2f MB/s    ",
				agg.OverallPercent, agg.Active, agg.SpeedSum/(1024*1024))
		}
		if pm.IsComplete() {
			fmt.Println()
			return
		}
	}
}
