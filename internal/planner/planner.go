// Package planner computes the target bottle forest for a request and
// diffs it against the installed catalog.
//
// The forest is held as two flat sets keyed by BottleRef: the bottles
// themselves and the parent→child edges between them. Mutators relax the
// forest invariants; Resolve restores them (every dependency present, no
// orphans) before producing the add/remove diff.
package planner

import (
	"errors"
	"fmt"
	"sort"

	"chug/internal/catalog"
	"chug/internal/formula"
)

var (
	// ErrNoWorkToDo reports a plan whose diff is empty.
	ErrNoWorkToDo = errors.New("no bottles to add or remove")
	// ErrNotInstalled reports removing a known formula that has no
	// installed bottle.
	ErrNotInstalled = errors.New("not installed")
	// ErrUnavailableVersion reports a planned bottle whose version is no
	// longer the formula's current stable.
	ErrUnavailableVersion = errors.New("unavailable version")
	// ErrNoBottle reports a formula without a prebuilt bottle.
	ErrNoBottle = errors.New("no bottle for formula")
)

// BottleRef identifies a bottle during planning. Ordered by name, then
// version.
type BottleRef struct {
	Name    string
	Version string
}

func (r BottleRef) String() string {
	return r.Name + " " + r.Version
}

func refLess(a, b BottleRef) bool {
	if a.Name != b.Name {
		return a.Name < b.Name
	}
	return a.Version < b.Version
}

// Edge is one parent→child edge of the forest. A zero Parent marks the
// child as a user-declared root.
type Edge struct {
	Parent BottleRef
	Child  BottleRef
}

// IsRoot reports whether the edge marks its child as user-requested.
func (e Edge) IsRoot() bool {
	return e.Parent == BottleRef{}
}

// Resolver is the slice of the formula index the planner needs.
type Resolver interface {
	Get(name string) (*formula.Formula, error)
	GetExact(name string) (*formula.Formula, error)
}

// Snapshot is the catalog state the planner starts from.
type Snapshot struct {
	Bottles map[int64]catalog.DownloadedBottle
	Edges   []catalog.Dependency
}

// LoadSnapshot reads the full catalog.
func LoadSnapshot(store *catalog.Store) (*Snapshot, error) {
	bottles, err := store.AllBottles()
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog bottles: %w", err)
	}
	edges, err := store.AllDependencies()
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog dependencies: %w", err)
	}

	byID := make(map[int64]catalog.DownloadedBottle, len(bottles))
	for _, b := range bottles {
		byID[b.ID] = b
	}
	return &Snapshot{Bottles: byID, Edges: edges}, nil
}

// Refs returns the snapshot's bottles as planning keys.
func (s *Snapshot) Refs() map[BottleRef]struct{} {
	refs := make(map[BottleRef]struct{}, len(s.Bottles))
	for _, b := range s.Bottles {
		refs[BottleRef{Name: b.Name, Version: b.Version}] = struct{}{}
	}
	return refs
}

// Planner mutates a working copy of the forest.
type Planner struct {
	snapshot *Snapshot
	index    Resolver

	bottles map[BottleRef]struct{}
	edges   map[Edge]struct{}
}

// New seeds a planner from the snapshot's bottles and edges.
func New(snapshot *Snapshot, index Resolver) *Planner {
	p := &Planner{
		snapshot: snapshot,
		index:    index,
		bottles:  snapshot.Refs(),
		edges:    make(map[Edge]struct{}, len(snapshot.Edges)),
	}

	for _, d := range snapshot.Edges {
		var e Edge
		if d.DependentID != nil {
			parent := snapshot.Bottles[*d.DependentID]
			e.Parent = BottleRef{Name: parent.Name, Version: parent.Version}
		}
		child := snapshot.Bottles[d.DependencyID]
		e.Child = BottleRef{Name: child.Name, Version: child.Version}
		p.edges[e] = struct{}{}
	}

	return p
}

// Add inserts each name as a root at its current stable version. Names
// already present in the forest (any version) are no-ops.
func (p *Planner) Add(names []string) error {
	for _, name := range names {
		if len(p.refsNamed(name)) > 0 {
			continue
		}

		f, err := p.index.Get(name)
		if err != nil {
			return err
		}

		ref := BottleRef{Name: f.Name, Version: f.Versions.Stable}
		p.bottles[ref] = struct{}{}
		p.edges[Edge{Child: ref}] = struct{}{}
	}
	return nil
}

// Remove drops each named bottle from the forest. Aliases resolve to
// canonical names when the index knows them. Orphaned dependencies are
// cleaned up by Resolve.
func (p *Planner) Remove(names []string) error {
	for _, alias := range names {
		name := alias
		f, lookupErr := p.index.Get(alias)
		if lookupErr == nil {
			name = f.Name
		}

		named := p.refsNamed(name)
		if len(named) == 0 {
			if lookupErr == nil {
				return fmt.Errorf("could not remove %s as it is %w", name, ErrNotInstalled)
			}
			return lookupErr
		}

		for _, ref := range named {
			delete(p.bottles, ref)
		}
	}
	return nil
}

// RemoveAll clears the bottle set; Resolve turns that into the removal
// of everything.
func (p *Planner) RemoveAll() {
	p.bottles = make(map[BottleRef]struct{})
}

// Update replaces the forest with the current stable version of every
// root; Resolve re-adds transitive dependencies at current versions.
func (p *Planner) Update() error {
	var roots []*formula.Formula
	for e := range p.edges {
		if !e.IsRoot() {
			continue
		}
		f, err := p.index.GetExact(e.Child.Name)
		if err != nil {
			return err
		}
		roots = append(roots, f)
	}

	p.bottles = make(map[BottleRef]struct{}, len(roots))
	p.edges = make(map[Edge]struct{}, len(roots))
	for _, f := range roots {
		ref := BottleRef{Name: f.Name, Version: f.Versions.Stable}
		p.bottles[ref] = struct{}{}
		p.edges[Edge{Child: ref}] = struct{}{}
	}
	return nil
}

// Plan is the resolved target forest and its diff against the snapshot.
type Plan struct {
	ToAdd    []BottleRef
	ToRemove []BottleRef
	// Bottles is the full target forest, sorted.
	Bottles []BottleRef
	// Edges is the full target edge set the catalog should hold after
	// the run.
	Edges []Edge
}

// Resolve closes the forest over dependencies, removes orphans, diffs
// against the snapshot and validates that every bottle to add is still
// downloadable.
func (p *Planner) Resolve() (*Plan, error) {
	if err := p.addDependencies(); err != nil {
		return nil, err
	}
	p.removeOrphans()

	before := p.snapshot.Refs()
	plan := &Plan{}
	for ref := range p.bottles {
		plan.Bottles = append(plan.Bottles, ref)
		if _, ok := before[ref]; !ok {
			plan.ToAdd = append(plan.ToAdd, ref)
		}
	}
	for ref := range before {
		if _, ok := p.bottles[ref]; !ok {
			plan.ToRemove = append(plan.ToRemove, ref)
		}
	}
	for e := range p.edges {
		plan.Edges = append(plan.Edges, e)
	}

	sort.Slice(plan.Bottles, func(i, j int) bool { return refLess(plan.Bottles[i], plan.Bottles[j]) })
	sort.Slice(plan.ToAdd, func(i, j int) bool { return refLess(plan.ToAdd[i], plan.ToAdd[j]) })
	sort.Slice(plan.ToRemove, func(i, j int) bool { return refLess(plan.ToRemove[i], plan.ToRemove[j]) })
	sort.Slice(plan.Edges, func(i, j int) bool {
		if plan.Edges[i].Parent != plan.Edges[j].Parent {
			return refLess(plan.Edges[i].Parent, plan.Edges[j].Parent)
		}
		return refLess(plan.Edges[i].Child, plan.Edges[j].Child)
	})

	if len(plan.ToAdd) == 0 && len(plan.ToRemove) == 0 {
		return nil, ErrNoWorkToDo
	}

	for _, ref := range plan.ToAdd {
		f, err := p.index.GetExact(ref.Name)
		if err != nil {
			return nil, err
		}
		if f.Versions.Stable != ref.Version {
			return nil, fmt.Errorf("%w: attempted to install %s %s (stable is %s)",
				ErrUnavailableVersion, ref.Name, ref.Version, f.Versions.Stable)
		}
		if !f.Versions.Bottle {
			return nil, fmt.Errorf("%w: %s", ErrNoBottle, ref.Name)
		}
	}

	return plan, nil
}

// addDependencies walks the dependency lists of every current-version
// bottle, inserting missing dependencies at their current stable
// versions.
func (p *Planner) addDependencies() error {
	var stack []*formula.Formula
	for _, ref := range p.sortedBottles() {
		f, err := p.index.GetExact(ref.Name)
		if err != nil {
			continue
		}
		if f.Versions.Stable != ref.Version {
			continue
		}
		stack = append(stack, f)
	}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		parent := BottleRef{Name: f.Name, Version: f.Versions.Stable}
		for _, depName := range f.Dependencies {
			if existing := p.refsNamed(depName); len(existing) > 0 {
				p.edges[Edge{Parent: parent, Child: existing[0]}] = struct{}{}
				continue
			}

			dep, err := p.index.GetExact(depName)
			if err != nil {
				return err
			}
			ref := BottleRef{Name: dep.Name, Version: dep.Versions.Stable}
			p.bottles[ref] = struct{}{}
			p.edges[Edge{Parent: parent, Child: ref}] = struct{}{}
			stack = append(stack, dep)
		}
	}

	return nil
}

// removeOrphans drops edges with missing endpoints, then iteratively
// removes every bottle with no remaining incoming edge. Root edges count
// toward in-degree, which is what exempts user-requested bottles.
func (p *Planner) removeOrphans() {
	inDegree := make(map[BottleRef]int, len(p.bottles))
	for ref := range p.bottles {
		inDegree[ref] = 0
	}

	children := make(map[BottleRef][]BottleRef)
	for e := range p.edges {
		if !e.IsRoot() {
			if _, ok := p.bottles[e.Parent]; !ok {
				delete(p.edges, e)
				continue
			}
		}
		if _, ok := p.bottles[e.Child]; !ok {
			delete(p.edges, e)
			continue
		}

		inDegree[e.Child]++
		if !e.IsRoot() {
			children[e.Parent] = append(children[e.Parent], e.Child)
		}
	}

	var stack []BottleRef
	for ref, count := range inDegree {
		if count == 0 {
			stack = append(stack, ref)
		}
	}

	for len(stack) > 0 {
		ref := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		delete(p.bottles, ref)
		for _, child := range children[ref] {
			delete(p.edges, Edge{Parent: ref, Child: child})
			inDegree[child]--
			if inDegree[child] == 0 {
				stack = append(stack, child)
			}
		}
	}
}

// refsNamed returns the forest's bottles with the given name, sorted by
// version.
func (p *Planner) refsNamed(name string) []BottleRef {
	var refs []BottleRef
	for ref := range p.bottles {
		if ref.Name == name {
			refs = append(refs, ref)
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Version < refs[j].Version })
	return refs
}

func (p *Planner) sortedBottles() []BottleRef {
	refs := make([]BottleRef, 0, len(p.bottles))
	for ref := range p.bottles {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refLess(refs[i], refs[j]) })
	return refs
}
