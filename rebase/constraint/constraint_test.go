// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package constraint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zeta-scm/branchless/modules/plumbing"
	"github.com/zeta-scm/branchless/modules/plumbing/faketest"
)

func allowAll(ids ...plumbing.Id) Options {
	allowed := make(map[plumbing.Id]struct{}, len(ids))
	for _, id := range ids {
		allowed[id] = struct{}{}
	}
	return Options{AllowedCommits: allowed}
}

// buildChain builds A -> B -> C -> D, HEAD-independent, all on faketest.Repo.
func buildChain(t *testing.T) (*faketest.Repo, map[string]plumbing.Id) {
	t.Helper()
	repo := faketest.New()
	a := repo.AddCommit(nil, map[string]string{"f": "1"}, "A")
	b := repo.AddCommit([]plumbing.Id{a}, map[string]string{"f": "1", "test1": "x"}, "B")
	c := repo.AddCommit([]plumbing.Id{b}, map[string]string{"f": "1", "test1": "x", "test2": "y"}, "C")
	d := repo.AddCommit([]plumbing.Id{c}, map[string]string{"f": "1", "test1": "x", "test2": "y", "test3": "z"}, "D")
	repo.SetRef(repo.MainBranch(), plumbing.NonZero(a))
	return repo, map[string]plumbing.Id{"A": a, "B": b, "C": c, "D": d}
}

func TestMoveSingleCommitRebasesDescendantsOntoFormerParent(t *testing.T) {
	repo, ids := buildChain(t)
	ctx := context.Background()

	// move_commit(B, A): B is placed directly under A (a no-op reposition
	// here), and B's descendants (C, D) follow the MoveChildren{B, B}
	// constraint move_range always pairs with a MoveSubtree.
	g, err := Build(ctx, repo, []Constraint{
		MoveSubtree{Parents: []plumbing.Id{ids["A"]}, Child: ids["B"]},
		MoveChildren{ParentOf: ids["B"], ChildrenOf: ids["B"]},
	}, allowAll(ids["A"], ids["B"], ids["C"], ids["D"]))
	require.NoError(t, err)

	require.Contains(t, g.Edges[ids["A"]], ids["B"])
	require.Contains(t, g.Edges[ids["A"]], ids["C"])
	require.Contains(t, g.Edges[ids["C"]], ids["D"])

	roots := g.Roots()
	require.Equal(t, []plumbing.Id{ids["A"]}, roots)
}

func TestFixUpCommitCascadesOntoParent(t *testing.T) {
	repo, ids := buildChain(t)
	ctx := context.Background()

	g, err := Build(ctx, repo, []Constraint{
		FixUpCommit{Target: ids["B"], Source: ids["C"]},
	}, allowAll(ids["B"], ids["C"], ids["D"]))
	require.NoError(t, err)

	require.Contains(t, g.Fixups[ids["B"]], ids["C"])
	// C's descendant D cascades onto C's real parent, B, since C folds into B.
	require.Contains(t, g.Edges[ids["B"]], ids["D"])
}

func TestCycleDetection(t *testing.T) {
	repo := faketest.New()
	a := repo.AddCommit(nil, map[string]string{"f": "1"}, "A")
	b := repo.AddCommit([]plumbing.Id{a}, map[string]string{"f": "2"}, "B")
	ctx := context.Background()

	_, err := Build(ctx, repo, []Constraint{
		MoveSubtree{Parents: []plumbing.Id{b}, Child: a},
		MoveSubtree{Parents: []plumbing.Id{a}, Child: b},
	}, allowAll(a, b))

	var cycleErr *ErrConstraintCycle
	require.ErrorAs(t, err, &cycleErr)
	require.NotEmpty(t, cycleErr.Path)
	require.Equal(t, cycleErr.Path[0], cycleErr.Path[len(cycleErr.Path)-1])
}

func TestMoveIllegalCommitsRejected(t *testing.T) {
	repo, ids := buildChain(t)
	ctx := context.Background()

	_, err := Build(ctx, repo, []Constraint{
		MoveSubtree{Parents: []plumbing.Id{ids["A"]}, Child: ids["C"]},
	}, Options{AllowedCommits: map[plumbing.Id]struct{}{}})

	var illegalErr *ErrMoveIllegalCommits
	require.ErrorAs(t, err, &illegalErr)
	require.Contains(t, illegalErr.Set, ids["C"])
}

func TestMovePublicCommitsRejectedWithoutForce(t *testing.T) {
	repo, ids := buildChain(t)
	ctx := context.Background()
	// Advance main to C, so C (reachable from main) is public; D is not.
	repo.SetRef(repo.MainBranch(), plumbing.NonZero(ids["C"]))

	_, err := Build(ctx, repo, []Constraint{
		MoveSubtree{Parents: []plumbing.Id{ids["A"]}, Child: ids["C"]},
	}, allowAll(ids["A"], ids["C"], ids["D"]))

	var publicErr *ErrMovePublicCommits
	require.ErrorAs(t, err, &publicErr)

	_, err = Build(ctx, repo, []Constraint{
		MoveSubtree{Parents: []plumbing.Id{ids["A"]}, Child: ids["C"]},
	}, Options{
		AllowedCommits:            map[plumbing.Id]struct{}{ids["A"]: {}, ids["C"]: {}, ids["D"]: {}},
		ForceRewritePublicCommits: true,
	})
	require.NoError(t, err)
}
