// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package exec

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zeta-scm/branchless/modules/effects"
	"github.com/zeta-scm/branchless/modules/plumbing"
	"github.com/zeta-scm/branchless/modules/plumbing/faketest"
	"github.com/zeta-scm/branchless/rebase/plan"
)

// TestExecutePicksChainAndMovesBranch runs a chain plan end to end: pick B,
// C, D onto A2 (a sibling of B, so every pick produces a new id), then move
// branch "feature" (which pointed at D) onto the new D (spec.md §4.6).
func TestExecutePicksChainAndMovesBranch(t *testing.T) {
	repo := faketest.New()
	a := repo.AddCommit(nil, map[string]string{"f": "1"}, "A")
	b := repo.AddCommit([]plumbing.Id{a}, map[string]string{"f": "2"}, "B")
	c := repo.AddCommit([]plumbing.Id{b}, map[string]string{"f": "2", "g": "1"}, "C")
	d := repo.AddCommit([]plumbing.Id{c}, map[string]string{"f": "2", "g": "1", "h": "1"}, "D")
	a2 := repo.AddCommit([]plumbing.Id{a}, map[string]string{"f": "1", "x": "1"}, "A2")
	repo.SetRef(plumbing.NewBranchReferenceName("feature"), plumbing.NonZero(d))
	repo.SetHeadBranch(plumbing.NewBranchReferenceName("feature"))

	p := &plan.Plan{
		FirstDestOid: a2,
		Commands: []plan.Command{
			plan.Pick{Orig: b, Apply: []plumbing.Id{b}},
			plan.Pick{Orig: c, Apply: []plumbing.Id{c}},
			plan.Pick{Orig: d, Apply: []plumbing.Id{d}},
		},
	}

	eff := effects.NewSuppressedEffects()
	res, err := MemoryExecutor{}.Execute(context.Background(), p, repo, eff)
	require.NoError(t, err)

	require.NotEqual(t, b, res.Rewritten[b])
	require.NotEqual(t, c, res.Rewritten[c])
	newD := res.Rewritten[d]
	require.NotEqual(t, d, newD)
	require.True(t, res.HasHead)
	require.Equal(t, newD, res.HeadOid)

	require.Len(t, res.BranchMoves, 1)
	require.Equal(t, plumbing.NewBranchReferenceName("feature"), res.BranchMoves[0].Name)
	require.Equal(t, newD, res.BranchMoves[0].New)

	cur, err := repo.ReadReference(context.Background(), plumbing.NewBranchReferenceName("feature"))
	require.NoError(t, err)
	require.Equal(t, newD, cur.Id())

	// reference-transaction gets one line per moved branch, "old new
	// ref_name\n"; post-rewrite gets one line per rewritten commit, distinct
	// from the reference-transaction body (spec.md §6).
	refCalls := repo.HookCalls("reference-transaction")
	require.Len(t, refCalls, 1)
	require.Equal(t, []string{"committed"}, refCalls[0].Args)
	require.Equal(t, d.String()+" "+newD.String()+" "+plumbing.NewBranchReferenceName("feature").String()+"\n", refCalls[0].Stdin)

	rewriteCalls := repo.HookCalls("post-rewrite")
	require.Len(t, rewriteCalls, 1)
	require.Equal(t, []string{"rebase"}, rewriteCalls[0].Args)
	require.Contains(t, rewriteCalls[0].Stdin, b.String()+"\t"+res.Rewritten[b].String()+"\n")
	require.Contains(t, rewriteCalls[0].Stdin, c.String()+"\t"+res.Rewritten[c].String()+"\n")
	require.Contains(t, rewriteCalls[0].Stdin, d.String()+"\t"+newD.String()+"\n")
	require.NotContains(t, rewriteCalls[0].Stdin, "feature")
}

// TestExecuteEmptyPickSkipsAndFollowsHead exercises the empty-commit path:
// re-applying the same change already present in the destination yields no
// new commit, and HEAD (which pointed at the empty commit) follows forward
// to the nearest surviving ancestor (spec.md §4.6).
func TestExecuteEmptyPickSkipsAndFollowsHead(t *testing.T) {
	repo := faketest.New()
	a := repo.AddCommit(nil, map[string]string{"f": "1"}, "A")
	// B's change (f: 1 -> 2) is already present at the new destination.
	dest := repo.AddCommit(nil, map[string]string{"f": "2"}, "already has B's change")
	b := repo.AddCommit([]plumbing.Id{a}, map[string]string{"f": "2"}, "B")
	repo.SetRef(plumbing.HEAD, plumbing.NonZero(b))

	p := &plan.Plan{
		FirstDestOid: dest,
		Commands: []plan.Command{
			plan.Pick{Orig: b, Apply: []plumbing.Id{b}},
		},
	}

	eff := effects.NewSuppressedEffects()
	res, err := MemoryExecutor{}.Execute(context.Background(), p, repo, eff)
	require.NoError(t, err)

	require.Equal(t, plumbing.ZeroId, res.Rewritten[b])
	require.True(t, res.HasHead)
	require.Equal(t, dest, res.HeadOid)
}

// TestExecuteMergeCommandUnsupported documents spec.md §4.6's restriction:
// MemoryExecutor cannot recreate merge commits.
func TestExecuteMergeCommandUnsupported(t *testing.T) {
	repo := faketest.New()
	a := repo.AddCommit(nil, map[string]string{"f": "1"}, "A")

	p := &plan.Plan{
		FirstDestOid: a,
		Commands: []plan.Command{
			plan.Merge{Oid: a, Parents: []plan.Destination{plan.OidDestination{Oid: a}}},
		},
	}

	eff := effects.NewSuppressedEffects()
	_, err := MemoryExecutor{}.Execute(context.Background(), p, repo, eff)
	require.ErrorIs(t, err, ErrUnsupportedInMemory)
}

// TestExecutePickConflictReturnsMergeConflict exercises the failure path of
// a three-way merge during Pick.
func TestExecutePickConflictReturnsMergeConflict(t *testing.T) {
	repo := faketest.New()
	a := repo.AddCommit(nil, map[string]string{"f": "1"}, "A")
	dest := repo.AddCommit(nil, map[string]string{"f": "3"}, "dest changes f differently")
	b := repo.AddCommit([]plumbing.Id{a}, map[string]string{"f": "2"}, "B changes f too")

	p := &plan.Plan{
		FirstDestOid: dest,
		Commands: []plan.Command{
			plan.Pick{Orig: b, Apply: []plumbing.Id{b}},
		},
	}

	eff := effects.NewSuppressedEffects()
	_, err := MemoryExecutor{}.Execute(context.Background(), p, repo, eff)
	require.Error(t, err)

	var conflict *plumbing.MergeConflict
	require.ErrorAs(t, err, &conflict)
	require.Contains(t, conflict.Paths, "f")
}
