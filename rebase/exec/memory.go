// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package exec runs a rebase.plan.Plan against a RepoOps (spec.md §4.6,
// §4.7): MemoryExecutor replays it entirely against in-memory/CAS state (no
// working copy, no checkpoint file, no interruption), and OnDiskExecutor
// serializes it as a rebase-todo script plus sidecars the host VCS's own
// rebase machinery drives one step at a time.
package exec

import (
	"context"
	"errors"
	"fmt"

	"github.com/zeta-scm/branchless/modules/effects"
	"github.com/zeta-scm/branchless/modules/plumbing"
	"github.com/zeta-scm/branchless/rebase/plan"
)

// ErrUnsupportedInMemory is returned when a plan contains a command the
// in-memory executor cannot perform without a real working copy: merge
// commits (spec.md §4.6 restricts MemoryExecutor to non-merge rebases — use
// OnDiskExecutor instead), Replace (which neither executor supports) and
// Break (there is no paused state to resume into without a working copy).
var ErrUnsupportedInMemory = errors.New("rebase/exec: command unsupported by in-memory executor")

// BranchMove is one move_branches outcome: Name moved from Old to New, or
// Err is set if the CAS update failed.
type BranchMove struct {
	Name plumbing.ReferenceName
	Old  plumbing.Id
	New  plumbing.Id
	Err  error
}

// ExecuteResult is MemoryExecutor's output (spec.md §4.6).
type ExecuteResult struct {
	// Rewritten maps each original commit id to its replacement. A commit
	// that became empty or was skipped as already-upstream is present with
	// plumbing.ZeroId as its value.
	Rewritten map[plumbing.Id]plumbing.Id

	// HeadOid is the commit the new HEAD resolves to, after applying
	// spec.md §4.6's HEAD-determination rule. HasHead is false if the repo
	// was unborn and HEAD was left untouched.
	HeadOid plumbing.Id
	HasHead bool

	// BranchMoves records every branch relocated by move_branches.
	BranchMoves []BranchMove

	// PartialBranchMoves mirrors BranchMoves but is populated even when
	// Execute returns an error from a later branch move, so a caller can
	// see exactly how far move_branches got before failing and repair the
	// rest by hand (SPEC_FULL §9).
	PartialBranchMoves []BranchMove

	// BranchMoveErr is set when move_branches stopped partway through; a
	// caller should surface the "reference graph may be in a mixed state"
	// hint from spec.md §9 and inspect PartialBranchMoves (SPEC_FULL §9).
	BranchMoveErr error
}

// MemoryExecutor runs a plan purely through RepoOps calls: no working copy
// is touched mid-run, so it only supports plans without Merge, Replace or
// Break commands (spec.md §4.6).
type MemoryExecutor struct{}

type execState struct {
	currentOid plumbing.Id
	hasCurrent bool
	labels     map[string]plumbing.Id
	rewritten  map[plumbing.Id]plumbing.Id
	// skippedHeadNewOid tracks where HEAD should follow forward to when its
	// original target became empty or was skipped as already-upstream
	// (spec.md §4.6): it always holds the current_oid at the moment that
	// happened, so HEAD lands just after the nearest surviving ancestor.
	skippedHeadNewOid plumbing.MaybeZeroId
}

// Execute runs plan against repo, reporting per-pick progress through a
// "RebaseCommits" operation (spec.md §4.1, §4.6).
func (MemoryExecutor) Execute(ctx context.Context, p *plan.Plan, repo plumbing.RepoOps, eff *effects.Effects) (*ExecuteResult, error) {
	if p == nil {
		return &ExecuteResult{Rewritten: map[plumbing.Id]plumbing.Id{}}, nil
	}

	_, handle := eff.StartOperation("RebaseCommits")
	defer handle.Close()

	st := &execState{
		currentOid: p.FirstDestOid,
		hasCurrent: true,
		labels:     make(map[string]plumbing.Id),
		rewritten:  make(map[plumbing.Id]plumbing.Id),
	}

	total := len(p.Commands)
	for i, cmd := range p.Commands {
		handle.SetProgress(i, total)
		if err := ctx.Err(); err != nil {
			handle.Fail()
			return nil, err
		}
		if err := st.apply(ctx, repo, cmd); err != nil {
			handle.Fail()
			return nil, fmt.Errorf("rebase/exec: command %d: %w", i, err)
		}
	}
	handle.SetProgress(total, total)

	result := &ExecuteResult{Rewritten: map[plumbing.Id]plumbing.Id{}}
	for orig, newId := range st.rewritten {
		result.Rewritten[orig] = newId
	}

	headName, headOid, err := repo.Head(ctx)
	if err != nil {
		return nil, fmt.Errorf("rebase/exec: resolve HEAD: %w", err)
	}
	newHead, hasHead := determineNewHead(st, headOid, !headOid.IsZero())
	result.HeadOid = newHead
	result.HasHead = hasHead

	if hasHead {
		if err := moveRewrittenBranches(ctx, repo, st.rewritten, result); err != nil {
			result.BranchMoveErr = err
			return result, err
		}
		if err := runPostRewriteHooks(ctx, repo, result.BranchMoves, st.rewritten); err != nil {
			return result, err
		}
		// A branch HEAD already points at its new commit via move_branches
		// above; only a detached HEAD needs pointing at it directly here.
		if !headName.IsBranch() {
			if err := repo.DetachHead(ctx, newHead); err != nil {
				return result, fmt.Errorf("rebase/exec: detach HEAD: %w", err)
			}
		}
		if err := repo.Checkout(ctx, newHead); err != nil {
			return result, fmt.Errorf("rebase/exec: checkout new HEAD: %w", err)
		}
	}

	return result, nil
}

// determineNewHead implements spec.md §4.6's HEAD rule: an unborn repo (no
// HEAD resolved) is left untouched; otherwise the original HEAD commit is
// looked up in rewritten — present and non-zero maps directly, present and
// zero follows skippedHeadNewOid (or keeps the old oid if that was never
// set), and absent (HEAD's commit was never touched by this rebase) also
// keeps the old oid.
func determineNewHead(st *execState, headOid plumbing.Id, born bool) (plumbing.Id, bool) {
	if !born {
		return plumbing.ZeroId, false
	}
	newId, ok := st.rewritten[headOid]
	if !ok {
		return headOid, true
	}
	if !newId.IsZero() {
		return newId, true
	}
	if !st.skippedHeadNewOid.IsZero() {
		return st.skippedHeadNewOid.Id(), true
	}
	return headOid, true
}

func (st *execState) apply(ctx context.Context, repo plumbing.RepoOps, cmd plan.Command) error {
	switch c := cmd.(type) {
	case plan.CreateLabel:
		if !st.hasCurrent {
			return fmt.Errorf("label %s: no current commit", c.Name)
		}
		st.labels[c.Name] = st.currentOid
		return nil

	case plan.Reset:
		oid, err := st.resolve(c.Target)
		if err != nil {
			return err
		}
		st.currentOid = oid
		st.hasCurrent = true
		return nil

	case plan.Pick:
		return st.applyPick(ctx, repo, c)

	case plan.Merge:
		return fmt.Errorf("%w: merge commit %s requires a working copy", ErrUnsupportedInMemory, c.Oid.Short())

	case plan.Replace:
		return fmt.Errorf("%w: replace %s", ErrUnsupportedInMemory, c.Oid.Short())

	case plan.Break:
		return fmt.Errorf("%w: break", ErrUnsupportedInMemory)

	case plan.RegisterExtraPostRewriteHook:
		return nil

	case plan.DetectEmptyCommit:
		return nil

	case plan.SkipUpstreamAppliedCommit:
		st.rewritten[c.Oid] = plumbing.ZeroId
		st.skippedHeadNewOid = plumbing.NonZero(st.currentOid)
		return nil

	default:
		return fmt.Errorf("rebase/exec: unknown command %T", cmd)
	}
}

// applyPick performs a three-way merge of every commit in c.Apply (the pick
// target followed by any fixups folded into it, spec.md §4.5) in turn onto
// the running tree, using each source commit's own first parent as the
// merge base. If the combined result leaves the tree identical to its new
// parent's, the whole pick is recorded as empty (spec.md §4.6).
func (st *execState) applyPick(ctx context.Context, repo plumbing.RepoOps, c plan.Pick) error {
	if !st.hasCurrent {
		return fmt.Errorf("pick %s: no current commit", c.Orig.Short())
	}
	parentOid := st.currentOid

	ourTree, err := repo.Tree(ctx, parentOid)
	if err != nil {
		return fmt.Errorf("pick %s: resolve parent tree: %w", c.Orig.Short(), err)
	}

	var lastApplied *plumbing.CommitInfo
	for _, src := range c.Apply {
		ci, err := repo.Commit(ctx, src)
		if err != nil {
			return fmt.Errorf("pick %s: resolve %s: %w", c.Orig.Short(), src.Short(), err)
		}
		if len(ci.Parents) == 0 {
			return fmt.Errorf("pick %s: source %s has no parent to diff against", c.Orig.Short(), src.Short())
		}
		baseTree, err := repo.Tree(ctx, ci.Parents[0])
		if err != nil {
			return fmt.Errorf("pick %s: resolve base tree of %s: %w", c.Orig.Short(), src.Short(), err)
		}
		theirTree, err := repo.Tree(ctx, src)
		if err != nil {
			return fmt.Errorf("pick %s: resolve tree of %s: %w", c.Orig.Short(), src.Short(), err)
		}

		mr, err := repo.MergeTrees(ctx, baseTree, ourTree, theirTree, "current", src.Short())
		if err != nil {
			return fmt.Errorf("pick %s: merge %s: %w", c.Orig.Short(), src.Short(), err)
		}
		if len(mr.Conflicts) > 0 {
			return fmt.Errorf("pick %s: %w", c.Orig.Short(), &plumbing.MergeConflict{Paths: mr.Conflicts})
		}
		ourTree = mr.Tree
		lastApplied = ci
	}

	parentTree, err := repo.Tree(ctx, parentOid)
	if err != nil {
		return fmt.Errorf("pick %s: resolve parent tree for empty check: %w", c.Orig.Short(), err)
	}
	empty, err := repo.TreesEqual(ctx, ourTree, parentTree)
	if err != nil {
		return fmt.Errorf("pick %s: compare trees: %w", c.Orig.Short(), err)
	}

	if empty {
		st.rewritten[c.Orig] = plumbing.ZeroId
		st.skippedHeadNewOid = plumbing.NonZero(st.currentOid)
		return nil
	}

	author := lastApplied.Author
	newId, err := repo.WriteCommit(ctx, &plumbing.CommitInfo{
		Parents:   []plumbing.Id{parentOid},
		Author:    author,
		Committer: lastApplied.Committer,
		Message:   lastApplied.Message,
	}, ourTree)
	if err != nil {
		return fmt.Errorf("pick %s: write commit: %w", c.Orig.Short(), err)
	}

	st.rewritten[c.Orig] = newId
	for _, src := range c.Apply {
		if src != c.Orig {
			st.rewritten[src] = newId
		}
	}
	st.currentOid = newId
	return nil
}

func (st *execState) resolve(d plan.Destination) (plumbing.Id, error) {
	switch v := d.(type) {
	case plan.OidDestination:
		return v.Oid, nil
	case plan.LabelDestination:
		oid, ok := st.labels[v.Name]
		if !ok {
			return plumbing.Id{}, fmt.Errorf("label %q not yet created", v.Name)
		}
		return oid, nil
	default:
		return plumbing.Id{}, fmt.Errorf("rebase/exec: unknown destination %T", d)
	}
}

// moveRewrittenBranches is move_branches (spec.md §4.6): every branch
// pointing at an original commit is CAS-moved to its replacement. Moves
// accumulate non-atomically — a failure partway through leaves earlier
// moves in place and is reported via PartialBranchMoves rather than rolled
// back (SPEC_FULL §9), since there is no multi-reference transaction in
// RepoOps to wrap them in.
func moveRewrittenBranches(ctx context.Context, repo plumbing.RepoOps, rewritten map[plumbing.Id]plumbing.Id, result *ExecuteResult) error {
	for orig, newId := range rewritten {
		if newId.IsZero() {
			continue
		}
		names, err := repo.BranchesAt(ctx, orig)
		if err != nil {
			return fmt.Errorf("rebase/exec: enumerate branches at %s: %w", orig.Short(), err)
		}
		for _, name := range names {
			mv := BranchMove{Name: name, Old: orig, New: newId}
			err := repo.UpdateReference(ctx, name, plumbing.NonZero(orig), plumbing.NonZero(newId))
			mv.Err = err
			result.PartialBranchMoves = append(result.PartialBranchMoves, mv)
			if err != nil {
				return fmt.Errorf("rebase/exec: move branch %s: %w", name, err)
			}
			result.BranchMoves = append(result.BranchMoves, mv)
		}
	}
	return nil
}

// runPostRewriteHooks fires reference-transaction then post-rewrite
// (spec.md §4.6). reference-transaction gets "old new ref_name\n" per moved
// branch (spec.md §6); post-rewrite gets "old\tnew\n" per rewritten commit.
// The two hooks see different bodies: a commit can be rewritten with no
// branch pointing at it, and a moved branch needs its name, which the
// rewritten-commit map doesn't carry.
func runPostRewriteHooks(ctx context.Context, repo plumbing.RepoOps, branchMoves []BranchMove, rewritten map[plumbing.Id]plumbing.Id) error {
	if len(branchMoves) > 0 {
		var refBody []byte
		for _, mv := range branchMoves {
			refBody = append(refBody, []byte(mv.Old.String()+" "+mv.New.String()+" "+mv.Name.String()+"\n")...)
		}
		if err := repo.RunHook(ctx, "reference-transaction", []string{"committed"}, refBody); err != nil {
			return fmt.Errorf("rebase/exec: reference-transaction hook: %w", err)
		}
	}

	if len(rewritten) == 0 {
		return nil
	}
	var postRewriteBody []byte
	for orig, newId := range rewritten {
		postRewriteBody = append(postRewriteBody, []byte(orig.String()+"\t"+newId.String()+"\n")...)
	}
	if err := repo.RunHook(ctx, "post-rewrite", []string{"rebase"}, postRewriteBody); err != nil {
		return fmt.Errorf("rebase/exec: post-rewrite hook: %w", err)
	}
	return nil
}
