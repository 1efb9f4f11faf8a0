// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package plumbing

import (
	"context"
	"time"
)

// Signature is an author/committer identity plus timestamp, mirroring the
// host VCS's commit signature (teacher: modules/zeta/object.Signature).
type Signature struct {
	Name  string
	Email string
	When  time.Time
}

// CommitInfo is the subset of a commit's metadata the planner and executor
// need; it never carries tree content, only what's needed to re-derive it
// through RepoOps.
type CommitInfo struct {
	Id        Id
	Parents   []Id
	Author    Signature
	Committer Signature
	Message   string
}

// MergeConflict describes the paths that did not auto-resolve during a
// three-way merge attempted by the in-memory executor (spec §4.6).
type MergeConflict struct {
	Paths []string
}

func (e *MergeConflict) Error() string {
	return "merge conflict"
}

// MergeResult is the outcome of a three-way tree merge.
type MergeResult struct {
	Tree      Id
	Conflicts []string
}

// RepoOps is the abstract seam onto the host VCS's object/reference store.
// Every algorithm in this repository (constraint graph, plan builder,
// executors, undo synthesizer) is written against this interface only; a
// real implementation reaches an actual zeta/git backend, and
// modules/plumbing/faketest provides an in-memory one for tests.
type RepoOps interface {
	// Resolve turns a revision expression (branch name, short id, "HEAD",
	// etc.) into a commit Id.
	Resolve(ctx context.Context, rev string) (Id, error)

	// Commit returns the metadata for a single commit.
	Commit(ctx context.Context, id Id) (*CommitInfo, error)

	// MergeBase returns the best common ancestor(s) of a and b.
	MergeBase(ctx context.Context, a, b Id) ([]Id, error)

	// IsAncestor reports whether ancestor is reachable from descendant by
	// following parent edges.
	IsAncestor(ctx context.Context, ancestor, descendant Id) (bool, error)

	// Children returns the immediate children of id across the whole DAG
	// known to the repo (not limited to any particular branch).
	Children(ctx context.Context, id Id) ([]Id, error)

	// IsObsolete reports whether id is currently hidden (obsolete) in the
	// repo's visibility state.
	IsObsolete(ctx context.Context, id Id) (bool, error)

	// IsPublic reports whether id is reachable from the configured main
	// branch and therefore likely shared with collaborators.
	IsPublic(ctx context.Context, id Id) (bool, error)

	// TouchedPaths returns the set of paths id's commit diff touches
	// relative to its first parent.
	TouchedPaths(ctx context.Context, id Id) ([]string, error)

	// PatchId returns a hash of id's diff (not its content), stable across
	// cherry-picks, used to detect "same change, different commit".
	PatchId(ctx context.Context, id Id) (string, error)

	// RangeBetween returns the commits reachable from any of dests but not
	// from any of the merge-base(s), used for upstream dedup candidate
	// discovery (spec §4.5).
	RangeBetween(ctx context.Context, bases, dests []Id) ([]Id, error)

	// MergeTrees performs a three-way merge of theirs against ours using
	// base as the common ancestor tree; branch1/branch2 only label conflict
	// markers and never change semantics.
	MergeTrees(ctx context.Context, base, ours, theirs Id, branch1, branch2 string) (*MergeResult, error)

	// WriteCommit creates a new commit object and returns its Id.
	WriteCommit(ctx context.Context, c *CommitInfo, tree Id) (Id, error)

	// Tree returns the tree id a commit points at.
	Tree(ctx context.Context, commit Id) (Id, error)

	// TreesEqual reports whether two tree ids denote identical content,
	// used by the executor to detect "empty" cherry-picks.
	TreesEqual(ctx context.Context, a, b Id) (bool, error)

	// ReadReference returns the current target of name, or ZeroMaybe() if
	// it does not exist.
	ReadReference(ctx context.Context, name ReferenceName) (MaybeZeroId, error)

	// UpdateReference performs a compare-and-swap reference update: it sets
	// name to newId (or deletes it, if newId.IsZero()) only if its current
	// value equals oldId.
	UpdateReference(ctx context.Context, name ReferenceName, oldId, newId MaybeZeroId) error

	// Head returns the name HEAD currently points at (symbolic) and,
	// separately, the commit it resolves to.
	Head(ctx context.Context) (ReferenceName, Id, error)

	// DetachHead points HEAD directly at id instead of a branch.
	DetachHead(ctx context.Context, id Id) error

	// Checkout updates the working copy to match id's tree.
	Checkout(ctx context.Context, id Id) error

	// MainBranch returns the configured main branch's reference name.
	MainBranch() ReferenceName

	// BranchesAt returns every branch reference currently pointing at id,
	// used by the in-memory executor's move_branches step to relocate each
	// rewritten commit's branches onto its replacement (spec §4.6) and by
	// undo to move them back.
	BranchesAt(ctx context.Context, id Id) ([]ReferenceName, error)

	// RunHook invokes an external hook by name with the given stdin,
	// mirroring the host VCS's reference-transaction/post-rewrite hooks
	// (spec §6). A RepoOps with no hooks configured returns nil.
	RunHook(ctx context.Context, name string, args []string, stdin []byte) error
}

// Pool hands out short-lived RepoOps handles to worker-pool goroutines, per
// spec §5 ("Repo handles are not shared across threads; the resource pool
// hands out a fresh handle per worker").
type Pool interface {
	Get(ctx context.Context) (RepoOps, func(), error)
}
