// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package plan

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/zeta-scm/branchless/internal/xlog"
	"github.com/zeta-scm/branchless/modules/plumbing"
	"github.com/zeta-scm/branchless/rebase/constraint"
)

// BuildOptions controls plan construction beyond what the constraint graph
// already decided (permissions were already checked when the graph was
// built; spec.md §4.5).
type BuildOptions struct {
	// Replacements maps an original commit id to a commit the caller has
	// already produced for it (amend-in-place, conflict resolution
	// carried over from a previous attempt, ...). A replaced commit is
	// emitted as Replace instead of Pick, re-parented the same way the
	// original would have been (spec.md §4.5, "replacement commits").
	Replacements map[plumbing.Id]plumbing.Id

	// DetectDuplicateCommitsViaPatchID enables the upstream-patch-id dedup
	// pass (spec.md §4.5, S5): commits whose diff patch id matches a
	// commit already reachable from the destination are emitted as
	// SkipUpstreamAppliedCommit instead of Pick.
	DetectDuplicateCommitsViaPatchID bool

	// PatchIDWorkers bounds the parallel patch-id computation pool. Zero
	// means a reasonable default (spec.md §5: "patch-id computation may
	// run concurrently across an errgroup-bounded worker pool").
	PatchIDWorkers int
}

// buildState is the mutable state threaded through the recursive descent,
// mirroring the reference implementation's BuildState (used/known labels,
// and the label assigned to each commit with multiple or merge children).
type buildState struct {
	usedLabels   map[string]struct{}
	parentLabels map[plumbing.Id]string
}

// Build walks graph's roots and, for each, resets to the root's unconstrained
// parent and recursively descends its moving children, producing a flat
// Plan (spec.md §4.5).
func Build(ctx context.Context, repo plumbing.RepoOps, graph *constraint.Graph, opts BuildOptions) (*Plan, error) {
	roots, err := findRoots(ctx, repo, graph)
	if err != nil {
		return nil, err
	}

	state := &buildState{
		usedLabels:   make(map[string]struct{}),
		parentLabels: make(map[plumbing.Id]string),
	}

	var acc []Command
	var firstDestOid plumbing.Id
	haveFirstDest := false

	for _, root := range roots {
		firstParent := root.ParentOids[0]
		if !haveFirstDest {
			firstDestOid = firstParent
			haveFirstDest = true
		}
		acc = append(acc, Reset{Target: OidDestination{Oid: firstParent}})

		var upstream map[string]struct{}
		if opts.DetectDuplicateCommitsViaPatchID {
			upstream, err = upstreamPatchIds(ctx, repo, graph, root.ChildOid, root.ParentOids, opts.PatchIDWorkers)
			if err != nil {
				return nil, err
			}
		}

		current, err := repo.Commit(ctx, root.ChildOid)
		if err != nil {
			return nil, fmt.Errorf("plan: resolving root commit %s: %w", root.ChildOid.Short(), err)
		}
		acc, err = makePlanForCurrentCommit(ctx, repo, graph, opts, state, current, upstream, acc)
		if err != nil {
			return nil, err
		}
	}

	acc = append(acc, RegisterExtraPostRewriteHook{})
	checkAllCommitsIncluded(graph, acc)

	if !haveFirstDest {
		return nil, nil
	}
	return &Plan{FirstDestOid: firstDestOid, Commands: acc}, nil
}

// rootStep is one reconstructed root edge: reset to ParentOids[0], then
// descend into ChildOid. Unlike Graph.Roots(), which collapses all of a
// parent's children into one anchor, the plan builder needs one step per
// (parent, child) pair so that every root gets its own Reset (spec.md §4.5,
// grounded on the reference implementation's find_roots()).
type rootStep struct {
	ParentOids []plumbing.Id
	ChildOid   plumbing.Id
}

func findRoots(ctx context.Context, repo plumbing.RepoOps, g *constraint.Graph) ([]rootStep, error) {
	moving := g.MovingSet()
	fixupTargets := make(map[plumbing.Id]struct{}, len(g.Fixups))
	for target := range g.Fixups {
		fixupTargets[target] = struct{}{}
	}
	unconstrainedFixup := make(map[plumbing.Id]struct{})
	for target := range fixupTargets {
		if _, moved := moving[target]; !moved {
			unconstrainedFixup[target] = struct{}{}
		}
	}

	var anchors []plumbing.Id
	for parent := range g.Edges {
		if _, moved := moving[parent]; moved {
			continue
		}
		if _, fixup := unconstrainedFixup[parent]; fixup {
			continue
		}
		anchors = append(anchors, parent)
	}
	plumbing.SortIds(anchors)

	var steps []rootStep
	for _, anchor := range anchors {
		children := make([]plumbing.Id, 0, len(g.Edges[anchor]))
		for child := range g.Edges[anchor] {
			children = append(children, child)
		}
		plumbing.SortIds(children)
		for _, child := range children {
			steps = append(steps, rootStep{ParentOids: []plumbing.Id{anchor}, ChildOid: child})
		}
	}

	var fixupRoots []plumbing.Id
	for target := range unconstrainedFixup {
		fixupRoots = append(fixupRoots, target)
	}
	plumbing.SortIds(fixupRoots)
	for _, target := range fixupRoots {
		info, err := repo.Commit(ctx, target)
		if err != nil {
			return nil, fmt.Errorf("plan: resolving fixup target %s: %w", target.Short(), err)
		}
		steps = append(steps, rootStep{ParentOids: info.Parents, ChildOid: target})
	}

	return steps, nil
}

// makePlanForCurrentCommit is the recursive descent at the heart of the
// builder (spec.md §4.5). It emits zero or more commands for current, then
// recurses into its moving children, fanning out with labels when there is
// more than one.
func makePlanForCurrentCommit(
	ctx context.Context,
	repo plumbing.RepoOps,
	graph *constraint.Graph,
	opts BuildOptions,
	state *buildState,
	current *plumbing.CommitInfo,
	upstreamPatchIds map[string]struct{},
	acc []Command,
) ([]Command, error) {
	var err error
	alreadyApplied := false
	if len(upstreamPatchIds) > 0 {
		var id string
		id, err = repo.PatchId(ctx, current.Id)
		if err != nil {
			return nil, fmt.Errorf("plan: computing patch id for %s: %w", current.Id.Short(), err)
		}
		_, alreadyApplied = upstreamPatchIds[id]
	}

	switch {
	case alreadyApplied:
		acc = append(acc, SkipUpstreamAppliedCommit{Oid: current.Id})

	case len(current.Parents) > 1:
		var handled bool
		acc, handled, err = emitMerge(ctx, repo, graph, opts, state, current, acc)
		if err != nil {
			return nil, err
		}
		if !handled {
			// Either not all parents have labels yet (a later recursive
			// path will revisit this commit once they do), or this merge
			// was already placed via another parent edge (whose descent
			// already covered this commit's children). Either way, stop
			// here without descending into children.
			return acc, nil
		}

	case isFixupSource(graph, current.Id):
		// Fixup commits contribute no command of their own; their content
		// is folded into the Pick/Apply list of their target.

	default:
		acc, err = emitPickOrReplace(ctx, repo, graph, opts, current, acc)
		if err != nil {
			return nil, err
		}
	}

	childOids := movingChildrenOf(graph, current.Id)
	childInfos := make([]*plumbing.CommitInfo, len(childOids))
	for i, oid := range childOids {
		childInfos[i], err = repo.Commit(ctx, oid)
		if err != nil {
			return nil, fmt.Errorf("plan: resolving child commit %s: %w", oid.Short(), err)
		}
	}

	if needsParentLabel(opts, childInfos) {
		commandNum := len(acc)
		label := makeLabelName(state, fmt.Sprintf("parent-%d", commandNum))
		state.parentLabels[current.Id] = label
		acc = append(acc, CreateLabel{Name: label})
	}

	switch len(childInfos) {
	case 0:
		return acc, nil

	case 1:
		return makePlanForCurrentCommit(ctx, repo, graph, opts, state, childInfos[0], upstreamPatchIds, acc)

	default:
		commandNum := len(acc)
		label := makeLabelName(state, fmt.Sprintf("label-%d", commandNum))
		acc = append(acc, CreateLabel{Name: label})
		for _, childInfo := range childInfos {
			acc, err = makePlanForCurrentCommit(ctx, repo, graph, opts, state, childInfo, upstreamPatchIds, acc)
			if err != nil {
				return nil, err
			}
			acc = append(acc, Reset{Target: LabelDestination{Name: label}})
		}
		return acc, nil
	}
}

// emitMerge handles a merge commit: every moving parent must already have a
// label assigned (from a prior visit via a different parent edge) before
// this commit can be placed. handled is false, and acc is returned
// unchanged, when a parent's label isn't ready yet or this merge was
// already placed via another parent edge.
func emitMerge(
	ctx context.Context,
	repo plumbing.RepoOps,
	graph *constraint.Graph,
	opts BuildOptions,
	state *buildState,
	current *plumbing.CommitInfo,
	acc []Command,
) ([]Command, bool, error) {
	moving := graph.MovingSet()
	dests := make([]Destination, 0, len(current.Parents))
	for _, parentOid := range current.Parents {
		if _, moves := moving[parentOid]; moves {
			label, ok := state.parentLabels[parentOid]
			if !ok {
				return acc, false, nil
			}
			dests = append(dests, LabelDestination{Name: label})
		} else {
			dests = append(dests, OidDestination{Oid: parentOid})
		}
	}

	for _, c := range acc {
		switch v := c.(type) {
		case Merge:
			if v.Oid == current.Id {
				return acc, false, nil
			}
		case Replace:
			if v.Oid == current.Id {
				return acc, false, nil
			}
		}
	}

	firstParent, mergeParents := dests[0], dests[1:]
	acc = append(acc, Reset{Target: firstParent})
	if replacement, ok := opts.Replacements[current.Id]; ok {
		acc = append(acc, Replace{Oid: current.Id, Replacement: replacement, Parents: dests})
	} else {
		acc = append(acc, Merge{Oid: current.Id, Parents: mergeParents})
	}
	return acc, true, nil
}

// emitPickOrReplace handles the common case: a replaced commit, or a normal
// one-parent commit (optionally absorbing fixups folded into it).
func emitPickOrReplace(
	ctx context.Context,
	repo plumbing.RepoOps,
	graph *constraint.Graph,
	opts BuildOptions,
	current *plumbing.CommitInfo,
	acc []Command,
) ([]Command, error) {
	if replacement, ok := opts.Replacements[current.Id]; ok {
		replacementInfo, err := repo.Commit(ctx, replacement)
		if err != nil {
			return nil, fmt.Errorf("plan: resolving replacement commit %s: %w", replacement.Short(), err)
		}
		dests := make([]Destination, 0, len(replacementInfo.Parents))
		for _, p := range replacementInfo.Parents {
			dests = append(dests, OidDestination{Oid: p})
		}
		acc = append(acc, Replace{Oid: current.Id, Replacement: replacement, Parents: dests})
		return acc, nil
	}

	apply := []plumbing.Id{current.Id}
	if sources := sortedFixupSources(graph, current.Id); len(sources) > 0 {
		apply = append(apply, sources...)
		ordered, err := topoSortAncestryFirst(ctx, repo, apply)
		if err != nil {
			return nil, fmt.Errorf("plan: ordering fixups for %s: %w", current.Id.Short(), err)
		}
		apply = ordered
	}
	acc = append(acc, Pick{Orig: current.Id, Apply: apply})
	acc = append(acc, DetectEmptyCommit{Oid: current.Id})
	return acc, nil
}

func sortedFixupSources(g *constraint.Graph, target plumbing.Id) []plumbing.Id {
	sources, ok := g.Fixups[target]
	if !ok {
		return nil
	}
	out := make([]plumbing.Id, 0, len(sources))
	for s := range sources {
		out = append(out, s)
	}
	plumbing.SortIds(out)
	return out
}

// topoSortAncestryFirst orders ids so that every ancestor precedes its
// descendants (spec.md §4.5: multiple fixups folded into one Pick must be
// applied oldest-first). The candidate set is small (a commit's own fixup
// sources), so a plain insertion sort against repo.IsAncestor is adequate.
func topoSortAncestryFirst(ctx context.Context, repo plumbing.RepoOps, ids []plumbing.Id) ([]plumbing.Id, error) {
	out := make([]plumbing.Id, 0, len(ids))
	for _, id := range ids {
		pos := len(out)
		for i, placed := range out {
			isAncestor, err := repo.IsAncestor(ctx, id, placed)
			if err != nil {
				return nil, err
			}
			if isAncestor {
				pos = i
				break
			}
		}
		out = append(out, plumbing.ZeroId)
		copy(out[pos+1:], out[pos:])
		out[pos] = id
	}
	return out, nil
}

func isFixupSource(g *constraint.Graph, id plumbing.Id) bool {
	_, ok := g.FixupSources()[id]
	return ok
}

func movingChildrenOf(g *constraint.Graph, parent plumbing.Id) []plumbing.Id {
	children, ok := g.Edges[parent]
	if !ok {
		return nil
	}
	out := make([]plumbing.Id, 0, len(children))
	for c := range children {
		out = append(out, c)
	}
	plumbing.SortIds(out)
	return out
}

// needsParentLabel reports whether current needs a label so a merge or
// replaced child can reference it later (spec.md §4.5): a plain one-parent
// descendant can always address current by a stable label-or-oid computed
// when *it* runs, but a merge commit may run before all its parents are
// ready, so the parent side must pre-create a named label.
func needsParentLabel(opts BuildOptions, children []*plumbing.CommitInfo) bool {
	for _, c := range children {
		if len(c.Parents) > 1 {
			return true
		}
		if _, replaced := opts.Replacements[c.Id]; replaced {
			return true
		}
	}
	return false
}

func makeLabelName(state *buildState, preferred string) string {
	for {
		if _, used := state.usedLabels[preferred]; !used {
			state.usedLabels[preferred] = struct{}{}
			return preferred
		}
		preferred += "'"
	}
}

func checkAllCommitsIncluded(g *constraint.Graph, commands []Command) {
	included := make(map[plumbing.Id]struct{})
	for _, c := range commands {
		switch v := c.(type) {
		case Pick:
			included[v.Orig] = struct{}{}
			for _, a := range v.Apply {
				included[a] = struct{}{}
			}
		case Merge:
			included[v.Oid] = struct{}{}
		case Replace:
			included[v.Oid] = struct{}{}
		case SkipUpstreamAppliedCommit:
			included[v.Oid] = struct{}{}
		}
	}
	var missing []plumbing.Id
	for id := range g.MovingSet() {
		if _, ok := included[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		plumbing.SortIds(missing)
		xlog.Warnf("plan: %d commit(s) missing from rebase plan, they may disappear after the rebase completes: %v", len(missing), missing)
	}
}

// upstreamPatchIds computes the set of patch ids reachable from dests but
// not from the merge base of current and dests, restricted to commits whose
// touched paths overlap the moving set (spec.md §4.5, S5). Patch ids are
// computed concurrently, bounded by an errgroup worker pool.
func upstreamPatchIds(ctx context.Context, repo plumbing.RepoOps, graph *constraint.Graph, current plumbing.Id, dests []plumbing.Id, workers int) (map[string]struct{}, error) {
	if len(dests) == 0 {
		return nil, nil
	}

	baseSet := make(map[plumbing.Id]struct{})
	for _, dest := range dests {
		bases, err := repo.MergeBase(ctx, current, dest)
		if err != nil {
			return nil, fmt.Errorf("plan: computing merge base for upstream dedup: %w", err)
		}
		for _, b := range bases {
			baseSet[b] = struct{}{}
		}
	}
	bases := make([]plumbing.Id, 0, len(baseSet))
	for b := range baseSet {
		bases = append(bases, b)
	}

	candidates, err := repo.RangeBetween(ctx, bases, dests)
	if err != nil {
		return nil, fmt.Errorf("plan: walking upstream candidates: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	moving := graph.MovingSet()
	touchedByMoving := make(map[string]struct{})
	for id := range moving {
		paths, err := repo.TouchedPaths(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("plan: reading touched paths for %s: %w", id.Short(), err)
		}
		for _, p := range paths {
			touchedByMoving[p] = struct{}{}
		}
	}

	filtered := make([]plumbing.Id, 0, len(candidates))
	for _, c := range candidates {
		paths, err := repo.TouchedPaths(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("plan: reading touched paths for %s: %w", c.Short(), err)
		}
		for _, p := range paths {
			if _, overlap := touchedByMoving[p]; overlap {
				filtered = append(filtered, c)
				break
			}
		}
	}
	if len(filtered) == 0 {
		return nil, nil
	}

	if workers <= 0 {
		workers = 8
	}
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(workers)
	ids := make([]string, len(filtered))
	for i, c := range filtered {
		i, c := i, c
		group.Go(func() error {
			id, err := repo.PatchId(gctx, c)
			if err != nil {
				return fmt.Errorf("plan: computing patch id for %s: %w", c.Short(), err)
			}
			ids[i] = id
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			out[id] = struct{}{}
		}
	}
	return out, nil
}
