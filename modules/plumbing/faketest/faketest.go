// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package faketest provides an in-memory plumbing.RepoOps so the planner,
// executors, replayer, and undo synthesizer can be exercised without a real
// VCS object store (spec.md's RepoOps is explicitly an external
// collaborator, out of scope for this repository).
package faketest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/zeta-scm/branchless/modules/plumbing"
)

// Repo is a small in-memory DAG: each commit owns a flat tree (path ->
// content). It is not thread-safe across writers beyond a single mutex,
// which is enough for tests and for the worker-pool pattern in rebase/plan
// (each worker borrows the same *Repo through faketest.Pool, serialized).
type Repo struct {
	mu sync.Mutex

	commits map[plumbing.Id]*plumbing.CommitInfo
	trees   map[plumbing.Id]map[string]string // commit id -> path -> content
	refs    map[plumbing.ReferenceName]plumbing.MaybeZeroId
	head    plumbing.ReferenceName // symbolic target, or "" if detached
	headOid plumbing.Id            // only meaningful when head == ""

	obsolete map[plumbing.Id]bool
	main     plumbing.ReferenceName

	hooks map[string][]HookCall
}

type HookCall struct {
	Name  string
	Args  []string
	Stdin string
}

func New() *Repo {
	return &Repo{
		commits:  make(map[plumbing.Id]*plumbing.CommitInfo),
		trees:    make(map[plumbing.Id]map[string]string),
		refs:     make(map[plumbing.ReferenceName]plumbing.MaybeZeroId),
		obsolete: make(map[plumbing.Id]bool),
		main:     plumbing.NewBranchReferenceName("master"),
		hooks:    make(map[string][]HookCall),
		head:     plumbing.HEAD,
	}
}

func (r *Repo) SetMainBranch(name plumbing.ReferenceName) { r.main = name }

// AddCommit synthesizes a deterministic id from parents+tree+message and
// registers it, returning the new Id. Tests build history with this instead
// of WriteCommit so ids are predictable in assertions.
func (r *Repo) AddCommit(parents []plumbing.Id, tree map[string]string, message string) plumbing.Id {
	r.mu.Lock()
	defer r.mu.Unlock()
	sig := plumbing.Signature{Name: "Test User", Email: "test@example.com"}
	ci := &plumbing.CommitInfo{
		Parents:   append([]plumbing.Id(nil), parents...),
		Author:    sig,
		Committer: sig,
		Message:   message,
	}
	id := r.hashCommit(ci, tree)
	ci.Id = id
	r.commits[id] = ci
	r.trees[id] = cloneTree(tree)
	return id
}

func (r *Repo) hashCommit(ci *plumbing.CommitInfo, tree map[string]string) plumbing.Id {
	h := plumbing.NewHasher()
	for _, p := range ci.Parents {
		_, _ = h.Write(p[:])
	}
	for _, k := range sortedKeys(tree) {
		_, _ = h.Write([]byte(k))
		_, _ = h.Write([]byte(tree[k]))
	}
	_, _ = h.Write([]byte(ci.Message))
	return h.Sum()
}

func cloneTree(t map[string]string) map[string]string {
	out := make(map[string]string, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (r *Repo) SetRef(name plumbing.ReferenceName, id plumbing.MaybeZeroId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refs[name] = id
}

func (r *Repo) SetHeadBranch(name plumbing.ReferenceName) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.head = name
}

func (r *Repo) SetObsolete(id plumbing.Id, obsolete bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.obsolete[id] = obsolete
}

func (r *Repo) HookCalls(name string) []HookCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]HookCall(nil), r.hooks[name]...)
}

var _ plumbing.RepoOps = (*Repo)(nil)

func (r *Repo) Resolve(_ context.Context, rev string) (plumbing.Id, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rev == "HEAD" {
		return r.resolveHeadLocked()
	}
	if id, err := plumbing.NewIdEx(rev); err == nil {
		if _, ok := r.commits[id]; ok {
			return id, nil
		}
	}
	for _, candidate := range []plumbing.ReferenceName{
		plumbing.ReferenceName(rev),
		plumbing.NewBranchReferenceName(rev),
	} {
		if v, ok := r.refs[candidate]; ok && !v.IsZero() {
			return v.Id(), nil
		}
	}
	return plumbing.ZeroId, fmt.Errorf("faketest: cannot resolve %q", rev)
}

func (r *Repo) resolveHeadLocked() (plumbing.Id, error) {
	if r.head == "" {
		return r.headOid, nil
	}
	v, ok := r.refs[r.head]
	if !ok || v.IsZero() {
		return plumbing.ZeroId, fmt.Errorf("faketest: HEAD branch %s has no commit", r.head)
	}
	return v.Id(), nil
}

func (r *Repo) Commit(_ context.Context, id plumbing.Id) (*plumbing.CommitInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ci, ok := r.commits[id]
	if !ok {
		return nil, fmt.Errorf("faketest: unknown commit %s", id)
	}
	cp := *ci
	cp.Parents = append([]plumbing.Id(nil), ci.Parents...)
	return &cp, nil
}

func (r *Repo) ancestors(id plumbing.Id) map[plumbing.Id]struct{} {
	seen := map[plumbing.Id]struct{}{}
	queue := []plumbing.Id{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if _, ok := seen[cur]; ok {
			continue
		}
		seen[cur] = struct{}{}
		ci, ok := r.commits[cur]
		if !ok {
			continue
		}
		queue = append(queue, ci.Parents...)
	}
	return seen
}

func (r *Repo) MergeBase(_ context.Context, a, b plumbing.Id) ([]plumbing.Id, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ancA := r.ancestors(a)
	ancB := r.ancestors(b)
	common := make([]plumbing.Id, 0)
	for id := range ancA {
		if _, ok := ancB[id]; ok {
			common = append(common, id)
		}
	}
	// Reduce to maximal elements: drop any commit that is itself an
	// ancestor of another commit in the common set.
	best := make([]plumbing.Id, 0, len(common))
	for _, c := range common {
		dominated := false
		for _, o := range common {
			if o == c {
				continue
			}
			if _, ok := r.ancestors(o)[c]; ok && o != c {
				// c is an ancestor of o, so o is "better" (more recent).
				if _, ok2 := r.ancestors(c)[o]; !ok2 {
					dominated = true
					break
				}
			}
		}
		if !dominated {
			best = append(best, c)
		}
	}
	plumbing.SortIds(best)
	return best, nil
}

func (r *Repo) IsAncestor(_ context.Context, ancestor, descendant plumbing.Id) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.ancestors(descendant)[ancestor]
	return ok, nil
}

func (r *Repo) Children(_ context.Context, id plumbing.Id) ([]plumbing.Id, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []plumbing.Id
	for cid, ci := range r.commits {
		for _, p := range ci.Parents {
			if p == id {
				out = append(out, cid)
				break
			}
		}
	}
	plumbing.SortIds(out)
	return out, nil
}

func (r *Repo) IsObsolete(_ context.Context, id plumbing.Id) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.obsolete[id], nil
}

func (r *Repo) IsPublic(_ context.Context, id plumbing.Id) (bool, error) {
	r.mu.Lock()
	mainRef, ok := r.refs[r.main]
	r.mu.Unlock()
	if !ok || mainRef.IsZero() {
		return false, nil
	}
	return r.IsAncestor(context.Background(), id, mainRef.Id())
}

func (r *Repo) treeFor(id plumbing.Id) map[string]string {
	if id.IsZero() {
		return map[string]string{}
	}
	return r.trees[id]
}

func (r *Repo) TouchedPaths(_ context.Context, id plumbing.Id) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ci, ok := r.commits[id]
	if !ok {
		return nil, fmt.Errorf("faketest: unknown commit %s", id)
	}
	var parentTree map[string]string
	if len(ci.Parents) > 0 {
		parentTree = r.treeFor(ci.Parents[0])
	}
	return diffPaths(parentTree, r.trees[id]), nil
}

func diffPaths(base, next map[string]string) []string {
	var out []string
	for k, v := range next {
		if base[k] != v {
			out = append(out, k)
		}
	}
	for k := range base {
		if _, ok := next[k]; !ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func (r *Repo) PatchId(_ context.Context, id plumbing.Id) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ci, ok := r.commits[id]
	if !ok {
		return "", fmt.Errorf("faketest: unknown commit %s", id)
	}
	var parentTree map[string]string
	if len(ci.Parents) > 0 {
		parentTree = r.treeFor(ci.Parents[0])
	}
	tree := r.trees[id]
	paths := diffPaths(parentTree, tree)
	h := plumbing.NewHasher()
	for _, p := range paths {
		_, _ = h.Write([]byte(p))
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(tree[p]))
		_, _ = h.Write([]byte{0})
	}
	return h.Sum().String(), nil
}

func (r *Repo) RangeBetween(_ context.Context, bases, dests []plumbing.Id) ([]plumbing.Id, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	excluded := map[plumbing.Id]struct{}{}
	for _, b := range bases {
		for id := range r.ancestors(b) {
			excluded[id] = struct{}{}
		}
	}
	seen := map[plumbing.Id]struct{}{}
	var out []plumbing.Id
	for _, d := range dests {
		for id := range r.ancestors(d) {
			if _, ok := excluded[id]; ok {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	plumbing.SortIds(out)
	return out, nil
}

// MergeTrees performs a naive per-path three-way merge: unchanged-from-base
// on one side yields the other side's content; both-changed-and-different
// is a conflict.
func (r *Repo) MergeTrees(_ context.Context, base, ours, theirs plumbing.Id, _, _ string) (*plumbing.MergeResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	baseTree := r.treeFor(base)
	oursTree := r.treeFor(ours)
	theirsTree := r.treeFor(theirs)

	merged := map[string]string{}
	var conflicts []string
	paths := map[string]struct{}{}
	for _, t := range []map[string]string{baseTree, oursTree, theirsTree} {
		for k := range t {
			paths[k] = struct{}{}
		}
	}
	for p := range paths {
		b, bOk := baseTree[p]
		o, oOk := oursTree[p]
		t, tOk := theirsTree[p]
		switch {
		case oOk == tOk && o == t:
			if oOk {
				merged[p] = o
			}
		case bOk && b == o && !oOk == !tOk:
			// ours unchanged from base -> take theirs
			if tOk {
				merged[p] = t
			}
		case bOk && b == t:
			// theirs unchanged from base -> take ours
			if oOk {
				merged[p] = o
			}
		case !bOk && !oOk && tOk:
			merged[p] = t
		case !bOk && oOk && !tOk:
			merged[p] = o
		default:
			conflicts = append(conflicts, p)
		}
	}
	sort.Strings(conflicts)
	if len(conflicts) > 0 {
		return &plumbing.MergeResult{Conflicts: conflicts}, nil
	}
	newTreeId := r.registerAnonymousTree(merged)
	return &plumbing.MergeResult{Tree: newTreeId}, nil
}

func (r *Repo) registerAnonymousTree(tree map[string]string) plumbing.Id {
	h := plumbing.NewHasher()
	for _, k := range sortedKeys(tree) {
		_, _ = h.Write([]byte(k))
		_, _ = h.Write([]byte(tree[k]))
	}
	id := h.Sum()
	r.trees[id] = cloneTree(tree)
	return id
}

func (r *Repo) WriteCommit(_ context.Context, c *plumbing.CommitInfo, tree plumbing.Id) (plumbing.Id, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ci := &plumbing.CommitInfo{
		Parents:   append([]plumbing.Id(nil), c.Parents...),
		Author:    c.Author,
		Committer: c.Committer,
		Message:   c.Message,
	}
	id := r.hashCommit(ci, r.trees[tree])
	ci.Id = id
	r.commits[id] = ci
	// The written commit's tree IS `tree` (already registered by MergeTrees
	// or by the caller); alias it under the commit id too so TouchedPaths/
	// PatchId (which key off commit id) keep working uniformly.
	r.trees[id] = r.trees[tree]
	return id, nil
}

func (r *Repo) Tree(_ context.Context, commit plumbing.Id) (plumbing.Id, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.trees[commit]; !ok {
		return plumbing.ZeroId, fmt.Errorf("faketest: unknown commit %s", commit)
	}
	return commit, nil
}

func (r *Repo) TreesEqual(_ context.Context, a, b plumbing.Id) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ta, tb := r.trees[a], r.trees[b]
	if len(ta) != len(tb) {
		return false, nil
	}
	for k, v := range ta {
		if tb[k] != v {
			return false, nil
		}
	}
	return true, nil
}

func (r *Repo) ReadReference(_ context.Context, name plumbing.ReferenceName) (plumbing.MaybeZeroId, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.refs[name]
	if !ok {
		return plumbing.ZeroMaybe(), nil
	}
	return v, nil
}

func (r *Repo) UpdateReference(_ context.Context, name plumbing.ReferenceName, oldId, newId plumbing.MaybeZeroId) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.refs[name]
	if !ok {
		cur = plumbing.ZeroMaybe()
	}
	if !cur.Equal(oldId) {
		return fmt.Errorf("faketest: compare-and-swap failed for %s", name)
	}
	if newId.IsZero() {
		delete(r.refs, name)
		return nil
	}
	r.refs[name] = newId
	return nil
}

func (r *Repo) Head(_ context.Context) (plumbing.ReferenceName, plumbing.Id, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, err := r.resolveHeadLocked()
	return r.head, id, err
}

func (r *Repo) DetachHead(_ context.Context, id plumbing.Id) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.head = ""
	r.headOid = id
	return nil
}

func (r *Repo) Checkout(_ context.Context, _ plumbing.Id) error {
	return nil
}

func (r *Repo) MainBranch() plumbing.ReferenceName {
	return r.main
}

// BranchesAt returns every branch reference currently pointing at id, in
// sorted order for deterministic test assertions.
func (r *Repo) BranchesAt(_ context.Context, id plumbing.Id) ([]plumbing.ReferenceName, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []plumbing.ReferenceName
	for name, v := range r.refs {
		if !name.IsBranch() || v.IsZero() {
			continue
		}
		if v.Id() == id {
			out = append(out, name)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (r *Repo) RunHook(_ context.Context, name string, args []string, stdin []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks[name] = append(r.hooks[name], HookCall{Name: name, Args: args, Stdin: string(stdin)})
	return nil
}

// Pool is the trivial single-repo Pool: every Get returns the same *Repo,
// serialized by its internal mutex, matching spec §5's "fresh handle per
// worker" contract without needing a real connection pool in tests.
type Pool struct {
	Repo *Repo
}

var _ plumbing.Pool = (*Pool)(nil)

func (p *Pool) Get(_ context.Context) (plumbing.RepoOps, func(), error) {
	return p.Repo, func() {}, nil
}

// DumpRefs is a debugging helper for tests that want to assert on the whole
// reference table at once.
func (r *Repo) DumpRefs() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.refs))
	for k, v := range r.refs {
		out[k.String()] = v.String()
	}
	return out
}

func (r *Repo) String() string {
	var sb strings.Builder
	for id, ci := range r.commits {
		fmt.Fprintf(&sb, "%s %v %q\n", id.Short(), ci.Parents, ci.Message)
	}
	return sb.String()
}
