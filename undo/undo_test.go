// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package undo

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zeta-scm/branchless/modules/eventlog"
	"github.com/zeta-scm/branchless/modules/plumbing"
	"github.com/zeta-scm/branchless/modules/plumbing/faketest"
	"github.com/zeta-scm/branchless/replayer"
	"github.com/zeta-scm/branchless/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "events.sqlite3"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// TestPlanInvertsCommitAndRefUpdate covers the simplest undo scenario: a
// single commit plus the branch move that followed it invert to an
// obsolete-commit action and a reversed ref move (spec.md §4.8).
func TestPlanInvertsCommitAndRefUpdate(t *testing.T) {
	now := time.Now()
	a := plumbing.Id{1}
	branch := plumbing.NewBranchReferenceName("feature")

	raw := []eventlog.Event{
		eventlog.NewCommitEvent(now, 1, a),
		eventlog.NewRefUpdateEvent(now, 1, branch, plumbing.ZeroMaybe(), plumbing.NonZero(a), "commit"),
	}
	r := replayer.New(raw)

	plan, err := Synthesizer{}.Plan(context.Background(), r, nil, 0)
	require.NoError(t, err)
	require.Len(t, plan.Actions, 2)

	require.Equal(t, MoveReference, plan.Actions[0].Kind)
	require.Equal(t, branch, plan.Actions[0].RefName)
	require.Equal(t, a, plan.Actions[0].Old.Id())
	require.True(t, plan.Actions[0].New.IsZero())

	require.Equal(t, ObsoleteCommit, plan.Actions[1].Kind)
	require.Equal(t, a, plan.Actions[1].Oid)
}

// TestPlanRewriteMovesBranchesBackToOriginal exercises the RewriteEvent
// inverse: unobsolete the original commit, obsolete the replacement, and
// relocate every branch currently on the replacement back onto the
// original (spec.md §4.8).
func TestPlanRewriteMovesBranchesBackToOriginal(t *testing.T) {
	now := time.Now()
	a := plumbing.Id{1}
	b := plumbing.Id{2}

	repo := faketest.New()
	branch := plumbing.NewBranchReferenceName("feature")
	repo.SetRef(branch, plumbing.NonZero(b))

	raw := []eventlog.Event{
		eventlog.NewRewriteEvent(now, 1, plumbing.NonZero(a), plumbing.NonZero(b)),
	}
	r := replayer.New(raw)

	plan, err := Synthesizer{}.Plan(context.Background(), r, repo, 0)
	require.NoError(t, err)

	var sawUnobsoleteA, sawObsoleteB, sawBranchMove bool
	for _, act := range plan.Actions {
		switch {
		case act.Kind == UnobsoleteCommit && act.Oid == a:
			sawUnobsoleteA = true
		case act.Kind == ObsoleteCommit && act.Oid == b:
			sawObsoleteB = true
		case act.Kind == MoveReference && act.RefName == branch:
			sawBranchMove = true
			require.Equal(t, b, act.Old.Id())
			require.Equal(t, a, act.New.Id())
		}
	}
	require.True(t, sawUnobsoleteA)
	require.True(t, sawObsoleteB)
	require.True(t, sawBranchMove)
}

// TestApplyMovesReferenceAndAppendsNewTransaction exercises Apply end to
// end: the live reference moves via RepoOps, and the inverse actions land
// in the store as a brand new transaction rather than mutating history in
// place (spec.md §4.8's "undo is itself undoable").
func TestApplyMovesReferenceAndAppendsNewTransaction(t *testing.T) {
	a := plumbing.Id{1}
	b := plumbing.Id{2}
	branch := plumbing.NewBranchReferenceName("feature")

	repo := faketest.New()
	repo.SetRef(branch, plumbing.NonZero(b))

	st := openTestStore(t)
	ctx := context.Background()

	seedTx, err := st.MakeTransactionId(ctx, 1.0, "seed")
	require.NoError(t, err)
	require.NoError(t, st.AddEvents(ctx, []eventlog.Event{
		eventlog.NewRefUpdateEvent(time.Now(), seedTx, branch, plumbing.NonZero(a), plumbing.NonZero(b), "move"),
	}))

	plan := &UndoPlan{Actions: []Action{
		{Kind: MoveReference, RefName: branch, Old: plumbing.NonZero(b), New: plumbing.NonZero(a)},
	}}
	require.NoError(t, plan.Apply(ctx, repo, st))

	cur, err := repo.ReadReference(ctx, branch)
	require.NoError(t, err)
	require.Equal(t, a, cur.Id())

	events, err := st.GetEvents(ctx)
	require.NoError(t, err)
	require.Len(t, events, 2)
	last := events[1].(*eventlog.RefUpdateEvent)
	require.Equal(t, b, last.Old.Id())
	require.Equal(t, a, last.New.Id())
	require.NotEqual(t, seedTx, last.TxId())
}

func TestDescribeRendersReadableLines(t *testing.T) {
	plan := &UndoPlan{Actions: []Action{
		{Kind: ObsoleteCommit, Oid: plumbing.Id{9}},
	}}
	lines := plan.Describe()
	require.Len(t, lines, 1)
	require.Contains(t, lines[0], "hide")
}
