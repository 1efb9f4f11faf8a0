// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package replayer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zeta-scm/branchless/modules/eventlog"
	"github.com/zeta-scm/branchless/modules/plumbing"
	"github.com/zeta-scm/branchless/modules/plumbing/faketest"
)

func mkId(b byte) plumbing.Id {
	var id plumbing.Id
	id[0] = b
	return id
}

func TestCursorClampingAndMonotone(t *testing.T) {
	oidA := mkId(1)
	events := []eventlog.Event{
		eventlog.NewCommitEvent(time.Unix(1, 0), 1, oidA),
		eventlog.NewCommitEvent(time.Unix(2, 0), 1, oidA),
	}
	r := New(events)
	require.Equal(t, Cursor(0), r.MakeCursor(-5))
	require.Equal(t, Cursor(2), r.MakeCursor(100))
	require.Equal(t, Cursor(1), r.MakeCursor(1))
	require.LessOrEqual(t, int(r.MakeCursor(0)), int(r.MakeCursor(1)))
}

func TestTransactionSnapping(t *testing.T) {
	a, b := mkId(1), mkId(2)
	events := []eventlog.Event{
		eventlog.NewCommitEvent(time.Unix(1, 0), 1, a),
		eventlog.NewCommitEvent(time.Unix(2, 0), 1, a),
		eventlog.NewCommitEvent(time.Unix(3, 0), 2, b),
		eventlog.NewCommitEvent(time.Unix(4, 0), 2, b),
	}
	r := New(events)
	mid := r.MakeCursor(1) // between the two tx-1 events, not a boundary
	snapped := r.AdvanceCursorByTransaction(mid, 0)
	require.True(t, r.isBoundary(snapped))

	forward := r.AdvanceCursorByTransaction(snapped, 1)
	back := r.AdvanceCursorByTransaction(forward, -1)
	require.Equal(t, snapped, back)
}

func TestCommitActivityStatus(t *testing.T) {
	oid := mkId(7)
	events := []eventlog.Event{
		eventlog.NewCommitEvent(time.Unix(1, 0), 1, oid),
		eventlog.NewObsoleteEvent(time.Unix(2, 0), 2, oid),
		eventlog.NewUnobsoleteEvent(time.Unix(3, 0), 3, oid),
	}
	r := New(events)
	require.Equal(t, Inactive, r.CommitActivityStatus(r.MakeCursor(0), oid))
	require.Equal(t, Active, r.CommitActivityStatus(r.MakeCursor(1), oid))
	require.Equal(t, Obsolete, r.CommitActivityStatus(r.MakeCursor(2), oid))
	require.Equal(t, Active, r.CommitActivityStatus(r.MakeCursor(3), oid))
}

func TestIgnoredPseudoRefsAreDropped(t *testing.T) {
	oid := mkId(9)
	events := []eventlog.Event{
		eventlog.NewRefUpdateEvent(time.Unix(1, 0), 1, "ORIG_HEAD", plumbing.ZeroMaybe(), plumbing.NonZero(oid), ""),
		eventlog.NewRefUpdateEvent(time.Unix(2, 0), 1, plumbing.HEAD, plumbing.ZeroMaybe(), plumbing.NonZero(oid), "commit"),
	}
	r := New(events)
	require.Len(t, r.Events(), 1)
	head, ok := r.HeadOid(r.MakeCursor(1))
	require.True(t, ok)
	require.Equal(t, oid, head)
}

func TestDoubleDeleteRefUpdateDeduped(t *testing.T) {
	ref := plumbing.NewBranchReferenceName("test1")
	oid := mkId(3)
	events := []eventlog.Event{
		eventlog.NewRefUpdateEvent(time.Unix(1, 0), 1, ref, plumbing.ZeroMaybe(), plumbing.NonZero(oid), "create"),
		eventlog.NewRefUpdateEvent(time.Unix(2, 0), 2, ref, plumbing.NonZero(oid), plumbing.ZeroMaybe(), "branch deleted"),
		eventlog.NewRefUpdateEvent(time.Unix(3, 0), 2, ref, plumbing.ZeroMaybe(), plumbing.ZeroMaybe(), "branch deleted"),
	}
	r := New(events)
	require.Len(t, r.Events(), 2)
}

func TestReferencesSnapshotGroupsBranchesByOid(t *testing.T) {
	repo := faketest.New()
	base := repo.AddCommit(nil, map[string]string{"a": "1"}, "base")
	repo.SetRef(repo.MainBranch(), plumbing.NonZero(base))

	events := []eventlog.Event{
		eventlog.NewRefUpdateEvent(time.Unix(1, 0), 1, plumbing.NewBranchReferenceName("feature-a"), plumbing.ZeroMaybe(), plumbing.NonZero(base), ""),
		eventlog.NewRefUpdateEvent(time.Unix(2, 0), 1, plumbing.NewBranchReferenceName("feature-b"), plumbing.ZeroMaybe(), plumbing.NonZero(base), ""),
	}
	r := New(events)
	snap, err := r.ReferencesSnapshot(context.Background(), r.MakeCursor(2), repo)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"feature-a", "feature-b"}, snap.BranchOidToNames[base])
	require.Equal(t, base, snap.MainBranchOid)
}
