// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package replayer folds the append-only event log into queryable
// per-commit and per-reference state (spec.md §4.3): activity history,
// reference locations, and cursor-parameterized historical queries used by
// smartlog-style callers and by the undo synthesizer.
package replayer

import (
	"context"

	"github.com/zeta-scm/branchless/modules/eventlog"
	"github.com/zeta-scm/branchless/modules/plumbing"
)

// Classification is how a commit_history entry affects a commit's
// visibility: Commit/Unobsolete/Rewrite.New map to Show, Obsolete/
// Rewrite.Old map to Hide (spec §4.3).
type Classification int

const (
	Show Classification = iota
	Hide
)

// ActivityStatus is the result of commit_activity_status (spec §4.3).
type ActivityStatus int

const (
	Inactive ActivityStatus = iota
	Active
	Obsolete
)

// HistoryEntry is one entry in a commit's activity history.
type HistoryEntry struct {
	Index          int // position in the replayer's filtered event slice
	Event          eventlog.Event
	Classification Classification
}

// Replayer incrementally builds queryable state from an ordered event
// sequence, applying the RefUpdate filtering spec.md §4.3 specifies before
// any query sees the events.
type Replayer struct {
	events  []eventlog.Event
	history map[plumbing.Id][]HistoryEntry
}

// New filters raw (exactly as read from the store) events and builds the
// replayer's indices. The filtering happens once, here, not per-query.
func New(raw []eventlog.Event) *Replayer {
	r := &Replayer{
		history: make(map[plumbing.Id][]HistoryEntry),
	}
	refLocations := make(map[plumbing.ReferenceName]plumbing.MaybeZeroId)
	for _, e := range raw {
		r.processEvent(e, refLocations)
	}
	return r
}

func (r *Replayer) processEvent(e eventlog.Event, refLocations map[plumbing.ReferenceName]plumbing.MaybeZeroId) {
	if ru, ok := e.(*eventlog.RefUpdateEvent); ok {
		if ru.RefName.IsIgnoredPseudoRef() {
			return
		}
		old := ru.Old
		if ru.Old.IsZero() && ru.New.IsZero() {
			if known, ok := refLocations[ru.RefName]; ok {
				old = known
			}
		}
		resolved := eventlog.NewRefUpdateEvent(ru.Ts, ru.Tx, ru.RefName, old, ru.New, ru.Message)

		if ru.New.IsZero() && len(r.events) > 0 {
			if prev, ok := r.events[len(r.events)-1].(*eventlog.RefUpdateEvent); ok &&
				prev.RefName == ru.RefName && prev.New.IsZero() && prev.Message == ru.Message {
				// Packed-refs double-delete-event quirk (spec §4.3): drop
				// the duplicate, but still update refLocations below so a
				// later lookup sees the deletion.
				refLocations[ru.RefName] = plumbing.ZeroMaybe()
				return
			}
		}

		r.events = append(r.events, resolved)
		if ru.New.IsZero() {
			refLocations[ru.RefName] = plumbing.ZeroMaybe()
		} else {
			refLocations[ru.RefName] = ru.New
		}
		return
	}

	idx := len(r.events)
	r.events = append(r.events, e)
	switch ev := e.(type) {
	case *eventlog.CommitEvent:
		r.appendHistory(ev.Oid, idx, e, Show)
	case *eventlog.ObsoleteEvent:
		r.appendHistory(ev.Oid, idx, e, Hide)
	case *eventlog.UnobsoleteEvent:
		r.appendHistory(ev.Oid, idx, e, Show)
	case *eventlog.RewriteEvent:
		if !ev.Old.IsZero() {
			r.appendHistory(ev.Old.Id(), idx, e, Hide)
		}
		if !ev.New.IsZero() {
			r.appendHistory(ev.New.Id(), idx, e, Show)
		}
	}
}

func (r *Replayer) appendHistory(oid plumbing.Id, idx int, e eventlog.Event, c Classification) {
	r.history[oid] = append(r.history[oid], HistoryEntry{Index: idx, Event: e, Classification: c})
}

// Events returns the filtered (post-processing) event sequence. N = len(Events())
// is the upper bound for every cursor in this replayer's scope.
func (r *Replayer) Events() []eventlog.Event {
	return r.events
}

// CommitHistory returns the full activity history for oid, in event order.
func (r *Replayer) CommitHistory(oid plumbing.Id) []HistoryEntry {
	return r.history[oid]
}

// CommitActivityStatus is commit_activity_status(c, oid) (spec §4.3): the
// classification of the last history entry strictly before cursor c.
func (r *Replayer) CommitActivityStatus(c Cursor, oid plumbing.Id) ActivityStatus {
	entries := r.history[oid]
	limit := int(c)
	var last *HistoryEntry
	for i := range entries {
		if entries[i].Index < limit {
			last = &entries[i]
		} else {
			break
		}
	}
	if last == nil {
		return Inactive
	}
	if last.Classification == Show {
		return Active
	}
	return Obsolete
}

// HeadOid is head_oid(c) (spec §4.3): the latest non-zero HEAD RefUpdate
// before c, falling back to the most recent Commit for robustness if no
// RefUpdate touched HEAD.
func (r *Replayer) HeadOid(c Cursor) (plumbing.Id, bool) {
	limit := int(c)
	for i := limit - 1; i >= 0; i-- {
		if ru, ok := r.events[i].(*eventlog.RefUpdateEvent); ok && ru.RefName == plumbing.HEAD && !ru.New.IsZero() {
			return ru.New.Id(), true
		}
	}
	for i := limit - 1; i >= 0; i-- {
		if ce, ok := r.events[i].(*eventlog.CommitEvent); ok {
			return ce.Oid, true
		}
	}
	return plumbing.ZeroId, false
}

// BranchOid is branch_oid(c, ref) (spec §4.3): the latest non-zero update
// for ref before cursor c.
func (r *Replayer) BranchOid(c Cursor, ref plumbing.ReferenceName) (plumbing.Id, bool) {
	limit := int(c)
	for i := limit - 1; i >= 0; i-- {
		if ru, ok := r.events[i].(*eventlog.RefUpdateEvent); ok && ru.RefName == ref && !ru.New.IsZero() {
			return ru.New.Id(), true
		}
	}
	return plumbing.ZeroId, false
}

// MainBranchOid is main_branch_oid(c, repo) (spec §4.3): as BranchOid for
// the configured main reference, falling back to the repo's live value.
func (r *Replayer) MainBranchOid(ctx context.Context, c Cursor, repo plumbing.RepoOps) (plumbing.Id, error) {
	if oid, ok := r.BranchOid(c, repo.MainBranch()); ok {
		return oid, nil
	}
	v, err := repo.ReadReference(ctx, repo.MainBranch())
	if err != nil {
		return plumbing.ZeroId, err
	}
	if v.IsZero() {
		return plumbing.ZeroId, nil
	}
	return v.Id(), nil
}

// ReferencesSnapshot is RepoReferencesSnapshot (spec §3): the replayed
// reference state as of cursor c.
type ReferencesSnapshot struct {
	HeadOid           plumbing.Id
	HasHead           bool
	MainBranchOid     plumbing.Id
	BranchOidToNames  map[plumbing.Id][]string
}

// ReferencesSnapshot is references_snapshot(c, repo) (spec §4.3): replays
// all RefUpdate events up to c, keeping a live map, and groups local
// branches by OID.
func (r *Replayer) ReferencesSnapshot(ctx context.Context, c Cursor, repo plumbing.RepoOps) (*ReferencesSnapshot, error) {
	live := make(map[plumbing.ReferenceName]plumbing.Id)
	limit := int(c)
	for i := 0; i < limit; i++ {
		ru, ok := r.events[i].(*eventlog.RefUpdateEvent)
		if !ok {
			continue
		}
		if ru.New.IsZero() {
			delete(live, ru.RefName)
			continue
		}
		live[ru.RefName] = ru.New.Id()
	}

	snap := &ReferencesSnapshot{BranchOidToNames: make(map[plumbing.Id][]string)}
	if head, ok := live[plumbing.HEAD]; ok {
		snap.HeadOid, snap.HasHead = head, true
	} else if head, ok := r.HeadOid(c); ok {
		snap.HeadOid, snap.HasHead = head, true
	}

	mainOid, err := r.MainBranchOid(ctx, c, repo)
	if err != nil {
		return nil, err
	}
	snap.MainBranchOid = mainOid

	for name, oid := range live {
		if name.IsBranch() {
			snap.BranchOidToNames[oid] = append(snap.BranchOidToNames[oid], name.BranchName())
		}
	}
	return snap, nil
}
