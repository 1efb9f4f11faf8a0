// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zeta-scm/branchless/modules/eventlog"
	"github.com/zeta-scm/branchless/modules/plumbing"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "db.sqlite3"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAddAndGetEventsRoundTrip(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	tx, err := s.MakeTransactionId(ctx, 1.0, "test commit")
	require.NoError(t, err)

	oid := plumbing.NewId("7d93f7dad4160ce2a30e7083e1fbe189b68142bcefd029fdc376f892eedb250a")
	events := []eventlog.Event{
		eventlog.NewCommitEvent(time.Unix(1000, 0), tx, oid),
		eventlog.NewRefUpdateEvent(time.Unix(1001, 0), tx, plumbing.HEAD, plumbing.ZeroMaybe(), plumbing.NonZero(oid), "commit"),
	}
	require.NoError(t, s.AddEvents(ctx, events))

	got, err := s.GetEvents(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)

	ce, ok := got[0].(*eventlog.CommitEvent)
	require.True(t, ok)
	require.Equal(t, oid, ce.Oid)

	ru, ok := got[1].(*eventlog.RefUpdateEvent)
	require.True(t, ok)
	require.Equal(t, plumbing.HEAD, ru.RefName)
	require.True(t, ru.Old.IsZero())
	require.Equal(t, oid, ru.New.Id())
}

func TestAddEventsAppendOnly(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	tx, err := s.MakeTransactionId(ctx, 1.0, "")
	require.NoError(t, err)

	first := eventlog.NewObsoleteEvent(time.Unix(1, 0), tx, plumbing.NewId("aa"))
	require.NoError(t, s.AddEvents(ctx, []eventlog.Event{first}))

	before, err := s.GetEvents(ctx)
	require.NoError(t, err)
	require.Len(t, before, 1)

	second := eventlog.NewUnobsoleteEvent(time.Unix(2, 0), tx, plumbing.NewId("aa"))
	require.NoError(t, s.AddEvents(ctx, []eventlog.Event{second}))

	after, err := s.GetEvents(ctx)
	require.NoError(t, err)
	require.Len(t, after, 2)
	// Invariant 1: the prefix observed before the second append is
	// unchanged by it.
	require.Equal(t, before[0].TxId(), after[0].TxId())
	require.IsType(t, &eventlog.ObsoleteEvent{}, after[0])
	require.IsType(t, &eventlog.UnobsoleteEvent{}, after[1])
}

func TestMakeTransactionIdJoinsParent(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	require.NoError(t, os.Setenv("BRANCHLESS_TRANSACTION_ID", "4242"))
	t.Cleanup(func() { _ = os.Unsetenv("BRANCHLESS_TRANSACTION_ID") })

	id, err := s.MakeTransactionId(ctx, 1.0, "joined")
	require.NoError(t, err)
	require.Equal(t, eventlog.TransactionId(4242), id)
}

func TestMakeTransactionIdAllocatesMonotonically(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	a, err := s.MakeTransactionId(ctx, 1.0, "a")
	require.NoError(t, err)
	b, err := s.MakeTransactionId(ctx, 2.0, "b")
	require.NoError(t, err)
	require.Less(t, int64(a), int64(b))
}
