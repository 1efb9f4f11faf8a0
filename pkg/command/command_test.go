// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zeta-scm/branchless/modules/plumbing"
)

func TestRebaseRecordsRewriteAndRefUpdateEvents(t *testing.T) {
	g := &Globals{StoreDir: t.TempDir()}
	c := &Rebase{Args: []string{"feature"}, Onto: "master"}
	require.NoError(t, c.Run(g))

	st, err := g.openStore()
	require.NoError(t, err)
	defer st.Close()

	events, err := st.GetEvents(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, events)

	repo, err := newDemoRepo(context.Background(), st)
	require.NoError(t, err)
	feature, err := repo.ReadReference(context.Background(), plumbing.NewBranchReferenceName("feature"))
	require.NoError(t, err)
	require.False(t, feature.IsZero())
}

func TestUndoWithNothingRecordedIsANoop(t *testing.T) {
	g := &Globals{StoreDir: t.TempDir()}
	c := &Undo{Steps: 1}
	require.NoError(t, c.Run(g))
}

func TestRebaseDryRunRecordsNoEvents(t *testing.T) {
	g := &Globals{StoreDir: t.TempDir()}
	c := &Rebase{Args: []string{"feature"}, Onto: "master", DryRun: true}
	require.NoError(t, c.Run(g))

	st, err := g.openStore()
	require.NoError(t, err)
	defer st.Close()

	events, err := st.GetEvents(context.Background())
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestUndoAfterRebasePreviewsInverseActions(t *testing.T) {
	g := &Globals{StoreDir: t.TempDir()}
	require.NoError(t, (&Rebase{Args: []string{"feature"}, Onto: "master"}).Run(g))

	st, err := g.openStore()
	require.NoError(t, err)
	before, err := st.GetEvents(context.Background())
	require.NoError(t, err)
	st.Close()

	require.NoError(t, (&Undo{Steps: 1, DryRun: true}).Run(g))

	st2, err := g.openStore()
	require.NoError(t, err)
	defer st2.Close()
	after, err := st2.GetEvents(context.Background())
	require.NoError(t, err)
	require.Len(t, after, len(before), "dry-run undo must not append events")
}
