// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package constraint builds the rebase constraint graph (spec.md §4.4): the
// refined parent→children placement the plan builder walks depth-first.
package constraint

import (
	"context"
	"fmt"

	"github.com/emirpasic/gods/sets/treeset"

	"github.com/zeta-scm/branchless/modules/plumbing"
)

// Constraint is the closed set of things a caller can ask the builder to do
// before the graph is refined into its final shape.
type Constraint interface {
	isConstraint()
}

// MoveSubtree places child under each of parents, replacing wherever it was
// previously constrained (latest constraint wins).
type MoveSubtree struct {
	Parents []plumbing.Id
	Child   plumbing.Id
}

func (MoveSubtree) isConstraint() {}

// MoveChildren rebases the real DAG children of ChildrenOf onto the nearest
// unconstrained ancestor of ParentOf.
type MoveChildren struct {
	ParentOf   plumbing.Id
	ChildrenOf plumbing.Id
}

func (MoveChildren) isConstraint() {}

// FixUpCommit folds Source's content into Target; Source's own descendants
// cascade onto Source's parent (handled as an implicit MoveChildren).
type FixUpCommit struct {
	Target plumbing.Id
	Source plumbing.Id
}

func (FixUpCommit) isConstraint() {}

// Graph is the refined constraint state (spec.md §3): edges is parent→set of
// children to place under that parent; fixups is target→set of sources whose
// content is folded into target rather than placed independently.
type Graph struct {
	Edges  map[plumbing.Id]map[plumbing.Id]struct{}
	Fixups map[plumbing.Id]map[plumbing.Id]struct{}
}

func newGraph() *Graph {
	return &Graph{
		Edges:  make(map[plumbing.Id]map[plumbing.Id]struct{}),
		Fixups: make(map[plumbing.Id]map[plumbing.Id]struct{}),
	}
}

// ErrConstraintCycle is raised when the refined graph contains a cycle; Path
// is non-empty with its first and last entries equal (testable property 5).
type ErrConstraintCycle struct {
	Path []plumbing.Id
}

func (e *ErrConstraintCycle) Error() string {
	return fmt.Sprintf("constraint: cycle detected: %v", idsShort(e.Path))
}

// ErrMoveIllegalCommits is raised when the moving set is not a subset of the
// pre-authorized commit set.
type ErrMoveIllegalCommits struct {
	Set []plumbing.Id
}

func (e *ErrMoveIllegalCommits) Error() string {
	return fmt.Sprintf("constraint: attempted to move unauthorized commits: %v", idsShort(e.Set))
}

// ErrMovePublicCommits is raised when the moving set intersects commits
// already public (reachable from main) and force-rewrite was not requested.
type ErrMovePublicCommits struct {
	Set []plumbing.Id
}

func (e *ErrMovePublicCommits) Error() string {
	return fmt.Sprintf("constraint: refusing to rewrite public commits without force: %v", idsShort(e.Set))
}

func idsShort(ids []plumbing.Id) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.Short()
	}
	return out
}

// Options parameterizes graph construction with the permission inputs
// spec.md §4.4's checks consume.
type Options struct {
	AllowedCommits            map[plumbing.Id]struct{}
	ForceRewritePublicCommits bool
}

// Build applies constraints in the three passes spec.md §4.4 specifies
// (explicit constraints, MoveChildren expansion, descendant closure), then
// runs the cycle and permission checks.
func Build(ctx context.Context, repo plumbing.RepoOps, constraints []Constraint, opts Options) (*Graph, error) {
	g := newGraph()

	// Pass 1: explicit constraints.
	for _, c := range constraints {
		switch v := c.(type) {
		case MoveSubtree:
			g.addMoveSubtree(v.Child, v.Parents)
		case FixUpCommit:
			g.removeChildEverywhere(v.Source)
			g.addFixup(v.Target, v.Source)
		}
	}

	// Pass 2: MoveChildren expansion, including the implicit one FixUpCommit
	// triggers (fixup source's descendants rebase onto its parent).
	for _, c := range constraints {
		switch v := c.(type) {
		case MoveChildren:
			if err := g.expandMoveChildren(ctx, repo, v.ParentOf, v.ChildrenOf); err != nil {
				return nil, err
			}
		case FixUpCommit:
			if err := g.expandMoveChildren(ctx, repo, v.Source, v.Source); err != nil {
				return nil, err
			}
		}
	}

	// Pass 3: closure over descendants, so the graph represents the final
	// shape rather than only the caller's deltas.
	if err := g.closeOverDescendants(ctx, repo); err != nil {
		return nil, err
	}

	if err := g.checkCycles(); err != nil {
		return nil, err
	}
	if err := g.checkPermissions(ctx, repo, opts); err != nil {
		return nil, err
	}
	return g, nil
}

// addMoveSubtree removes child from wherever it is currently placed (latest
// constraint wins) then adds it under each of parents.
func (g *Graph) addMoveSubtree(child plumbing.Id, parents []plumbing.Id) {
	g.removeChildEverywhere(child)
	for _, p := range parents {
		g.addEdge(p, child)
	}
}

func (g *Graph) addEdge(parent, child plumbing.Id) {
	if g.Edges[parent] == nil {
		g.Edges[parent] = make(map[plumbing.Id]struct{})
	}
	g.Edges[parent][child] = struct{}{}
}

func (g *Graph) removeChildEverywhere(child plumbing.Id) {
	for _, children := range g.Edges {
		delete(children, child)
	}
}

func (g *Graph) addFixup(target, source plumbing.Id) {
	if g.Fixups[target] == nil {
		g.Fixups[target] = make(map[plumbing.Id]struct{})
	}
	g.Fixups[target][source] = struct{}{}
}

// movingSet is every commit that currently has an assigned parent in the
// graph, plus every fixup source (its content is folded elsewhere, but it is
// still "moving" in the sense of no longer standing on its own).
func (g *Graph) movingSet() map[plumbing.Id]struct{} {
	out := make(map[plumbing.Id]struct{})
	for _, children := range g.Edges {
		for c := range children {
			out[c] = struct{}{}
		}
	}
	for _, sources := range g.Fixups {
		for s := range sources {
			out[s] = struct{}{}
		}
	}
	return out
}

// isHidden reports whether a commit should be excluded from descendant
// expansion because it is obsolete.
func isHidden(ctx context.Context, repo plumbing.RepoOps, id plumbing.Id) (bool, error) {
	return repo.IsObsolete(ctx, id)
}

// expandMoveChildren resolves parentOf's nearest unconstrained real-DAG
// ancestor, then attaches childrenOf's real-DAG children (minus the moving
// set, minus hidden commits) under that ancestor (spec.md §4.4 pass 2).
func (g *Graph) expandMoveChildren(ctx context.Context, repo plumbing.RepoOps, parentOf, childrenOf plumbing.Id) error {
	ancestor, err := g.findUnconstrainedAncestor(ctx, repo, parentOf)
	if err != nil {
		return err
	}

	children, err := repo.Children(ctx, childrenOf)
	if err != nil {
		return fmt.Errorf("constraint: resolve children of %s: %w", childrenOf.Short(), err)
	}
	moving := g.movingSet()
	for _, child := range children {
		if child == childrenOf {
			continue
		}
		if _, ok := moving[child]; ok {
			continue
		}
		hidden, err := isHidden(ctx, repo, child)
		if err != nil {
			return fmt.Errorf("constraint: check obsolete %s: %w", child.Short(), err)
		}
		if hidden {
			continue
		}
		g.addEdge(ancestor, child)
	}
	return nil
}

// findUnconstrainedAncestor walks parentOf's real DAG parent chain until it
// finds a commit that is not itself being moved in this range, preventing
// loops when a range head is itself being moved.
func (g *Graph) findUnconstrainedAncestor(ctx context.Context, repo plumbing.RepoOps, start plumbing.Id) (plumbing.Id, error) {
	cur := start
	moving := g.movingSet()
	for {
		ci, err := repo.Commit(ctx, cur)
		if err != nil {
			return plumbing.ZeroId, fmt.Errorf("constraint: resolve commit %s: %w", cur.Short(), err)
		}
		if len(ci.Parents) == 0 {
			return cur, nil
		}
		parent := ci.Parents[0]
		if _, ok := moving[parent]; !ok {
			return parent, nil
		}
		cur = parent
	}
}

// closeOverDescendants finds every real-DAG descendant of the already
// moving-or-fixed-up set and constrains it too, so the graph describes the
// whole end-state subtree rather than just the explicit constraints. Each
// descendant is attached under ALL of its real parents (not just the DAG
// edge it was discovered through): a merge commit two moving branches share
// ends up constrained under both of them, and a later visit from either
// parent's recursive descent can place it once both are ready (spec.md
// §4.5's deferred-recursion rule for merge commits).
func (g *Graph) closeOverDescendants(ctx context.Context, repo plumbing.RepoOps) error {
	seed := g.movingOrFixedUpSet()
	visited := make(map[plumbing.Id]struct{}, len(seed))
	for id := range seed {
		visited[id] = struct{}{}
	}

	descendants := make(map[plumbing.Id]struct{})
	worklist := sortedIds(seed)
	for len(worklist) > 0 {
		cur := worklist[0]
		worklist = worklist[1:]

		children, err := repo.Children(ctx, cur)
		if err != nil {
			return fmt.Errorf("constraint: resolve children of %s: %w", cur.Short(), err)
		}
		for _, child := range sortedIdSlice(children) {
			if _, already := visited[child]; already {
				continue
			}
			visited[child] = struct{}{}
			worklist = append(worklist, child)

			hidden, err := isHidden(ctx, repo, child)
			if err != nil {
				return fmt.Errorf("constraint: check obsolete %s: %w", child.Short(), err)
			}
			if hidden {
				continue
			}
			descendants[child] = struct{}{}
		}
	}

	for _, d := range sortedIds(descendants) {
		ci, err := repo.Commit(ctx, d)
		if err != nil {
			return fmt.Errorf("constraint: resolve commit %s: %w", d.Short(), err)
		}
		g.addMoveSubtree(d, ci.Parents)
	}
	return nil
}

func (g *Graph) movingOrFixedUpSet() map[plumbing.Id]struct{} {
	out := g.movingSet()
	for target := range g.Fixups {
		out[target] = struct{}{}
	}
	return out
}

// checkCycles runs DFS from every parent key, visiting children in
// deterministic order; a revisit of a node on the current path is a cycle.
func (g *Graph) checkCycles() error {
	const (
		unvisited = 0
		onStack   = 1
		done      = 2
	)
	color := make(map[plumbing.Id]int)
	var path []plumbing.Id

	roots := make([]plumbing.Id, 0, len(g.Edges))
	for parent := range g.Edges {
		roots = append(roots, parent)
	}
	roots = sortedIdSlice(roots)

	var visit func(node plumbing.Id) error
	visit = func(node plumbing.Id) error {
		color[node] = onStack
		path = append(path, node)
		for _, child := range sortedIds(g.Edges[node]) {
			switch color[child] {
			case onStack:
				cyclePath := append([]plumbing.Id(nil), path...)
				cyclePath = append(cyclePath, child)
				for i, n := range cyclePath {
					if n == child {
						cyclePath = cyclePath[i:]
						break
					}
				}
				return &ErrConstraintCycle{Path: cyclePath}
			case unvisited:
				if err := visit(child); err != nil {
					return err
				}
			}
		}
		path = path[:len(path)-1]
		color[node] = done
		return nil
	}

	for _, root := range roots {
		if color[root] == unvisited {
			if err := visit(root); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkPermissions enforces the pre-authorized commit set and the public
// commit guard (spec.md §4.4).
func (g *Graph) checkPermissions(ctx context.Context, repo plumbing.RepoOps, opts Options) error {
	moving := sortedIds(g.movingSet())

	var illegal []plumbing.Id
	for _, id := range moving {
		if _, ok := opts.AllowedCommits[id]; !ok {
			illegal = append(illegal, id)
		}
	}
	if len(illegal) > 0 {
		return &ErrMoveIllegalCommits{Set: illegal}
	}

	if opts.ForceRewritePublicCommits {
		return nil
	}
	var public []plumbing.Id
	for _, id := range moving {
		isPub, err := repo.IsPublic(ctx, id)
		if err != nil {
			return fmt.Errorf("constraint: check public %s: %w", id.Short(), err)
		}
		if isPub {
			public = append(public, id)
		}
	}
	if len(public) > 0 {
		return &ErrMovePublicCommits{Set: public}
	}
	return nil
}

// MovingSet exposes the set of commits the graph places under some parent,
// for callers (the plan builder) that need to test membership.
func (g *Graph) MovingSet() map[plumbing.Id]struct{} {
	return g.movingSet()
}

// FixupSources returns every commit that is folded into some fixup target,
// across all targets.
func (g *Graph) FixupSources() map[plumbing.Id]struct{} {
	out := make(map[plumbing.Id]struct{})
	for _, sources := range g.Fixups {
		for s := range sources {
			out[s] = struct{}{}
		}
	}
	return out
}

// Roots returns the unconstrained anchors (parents keys or fixup targets not
// themselves in the moving set), sorted for determinism (spec.md §4.4).
func (g *Graph) Roots() []plumbing.Id {
	moving := g.movingSet()
	seen := make(map[plumbing.Id]struct{})
	var roots []plumbing.Id
	for parent := range g.Edges {
		if _, ok := moving[parent]; ok {
			continue
		}
		if _, dup := seen[parent]; dup {
			continue
		}
		seen[parent] = struct{}{}
		roots = append(roots, parent)
	}
	for target := range g.Fixups {
		if _, ok := moving[target]; ok {
			continue
		}
		if _, dup := seen[target]; dup {
			continue
		}
		seen[target] = struct{}{}
		roots = append(roots, target)
	}
	return sortedIdSlice(roots)
}

// sortedIds returns the keys of a set in deterministic ascending order,
// grounded on the teacher's use of emirpasic/gods (gods/trees/binaryheap)
// for deterministic commit-walk ordering elsewhere in the corpus.
func sortedIds(set map[plumbing.Id]struct{}) []plumbing.Id {
	ids := make([]plumbing.Id, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return sortedIdSlice(ids)
}

func sortedIdSlice(ids []plumbing.Id) []plumbing.Id {
	if len(ids) == 0 {
		return nil
	}
	ts := treeset.NewWithStringComparator()
	byString := make(map[string]plumbing.Id, len(ids))
	for _, id := range ids {
		s := id.String()
		byString[s] = id
		ts.Add(s)
	}
	out := make([]plumbing.Id, 0, ts.Size())
	for _, v := range ts.Values() {
		out = append(out, byString[v.(string)])
	}
	return out
}
