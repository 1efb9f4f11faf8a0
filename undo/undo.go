// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package undo synthesizes and applies the inverse of everything recorded
// in the event log since a target cursor (spec.md §4.8): a dry-run
// Describe() preview, and an Apply that both mutates live references and
// appends the inverse actions themselves as one fresh transaction, so
// undoing is itself an undoable operation.
package undo

import (
	"context"
	"fmt"
	"time"

	"github.com/zeta-scm/branchless/modules/eventlog"
	"github.com/zeta-scm/branchless/modules/plumbing"
	"github.com/zeta-scm/branchless/replayer"
	"github.com/zeta-scm/branchless/store"
)

// ActionKind is the closed set of inverse actions an UndoPlan can contain
// (spec.md §4.8).
type ActionKind int

const (
	ObsoleteCommit ActionKind = iota
	UnobsoleteCommit
	MoveReference
)

// Action is one inverse step. Oid is set for the two obsolescence kinds;
// RefName/Old/New are set for MoveReference.
type Action struct {
	Kind    ActionKind
	Oid     plumbing.Id
	RefName plumbing.ReferenceName
	Old     plumbing.MaybeZeroId
	New     plumbing.MaybeZeroId
}

// UndoPlan is a synthesized, not-yet-applied sequence of inverse actions.
type UndoPlan struct {
	Actions []Action
}

// Synthesizer computes UndoPlans from a replayer's event history.
type Synthesizer struct{}

// Plan walks the events strictly between target and the replayer's current
// end cursor in reverse order, producing one inverse action per event
// (spec.md §4.8):
//
//   - CommitEvent        -> obsolete the new commit (undoing its creation
//     means hiding it, not destroying the object)
//   - ObsoleteEvent       -> unobsolete
//   - UnobsoleteEvent     -> obsolete
//   - RefUpdateEvent(old,new) -> move the reference back: new RefUpdate
//     with Old and New swapped (a deletion's inverse is therefore a
//     creation, and vice versa, for free)
//   - RewriteEvent(a->b)  -> unobsolete a, obsolete b, and move every
//     branch repo currently reports pointing at b back onto a, so a
//     caller left holding a branch on the now-unwound replacement doesn't
//     end up pointing at a hidden commit
//
// repo may be nil when only the dry-run Describe() preview is needed (no
// RewriteEvent branch lookups are then possible, and those inverse branch
// moves are simply omitted from the preview).
func (Synthesizer) Plan(ctx context.Context, r *replayer.Replayer, repo plumbing.RepoOps, target replayer.Cursor) (*UndoPlan, error) {
	events := r.Events()
	current := r.MakeCursor(len(events))
	target = r.MakeCursor(int(target))
	if target > current {
		target = current
	}

	var actions []Action
	for i := int(current) - 1; i >= int(target); i-- {
		e := events[i]
		switch ev := e.(type) {
		case *eventlog.CommitEvent:
			actions = append(actions, Action{Kind: ObsoleteCommit, Oid: ev.Oid})

		case *eventlog.ObsoleteEvent:
			actions = append(actions, Action{Kind: UnobsoleteCommit, Oid: ev.Oid})

		case *eventlog.UnobsoleteEvent:
			actions = append(actions, Action{Kind: ObsoleteCommit, Oid: ev.Oid})

		case *eventlog.RefUpdateEvent:
			actions = append(actions, Action{Kind: MoveReference, RefName: ev.RefName, Old: ev.New, New: ev.Old})

		case *eventlog.RewriteEvent:
			if !ev.Old.IsZero() {
				actions = append(actions, Action{Kind: UnobsoleteCommit, Oid: ev.Old.Id()})
			}
			if !ev.New.IsZero() {
				actions = append(actions, Action{Kind: ObsoleteCommit, Oid: ev.New.Id()})
				if repo != nil && !ev.Old.IsZero() {
					names, err := repo.BranchesAt(ctx, ev.New.Id())
					if err != nil {
						return nil, fmt.Errorf("undo: find branches at %s: %w", ev.New.Id().Short(), err)
					}
					for _, name := range names {
						actions = append(actions, Action{
							Kind: MoveReference, RefName: name,
							Old: plumbing.NonZero(ev.New.Id()), New: ev.Old,
						})
					}
				}
			}
		}
	}
	return &UndoPlan{Actions: actions}, nil
}

// Describe renders a human-readable "would do" preview (supplemented
// feature, SPEC_FULL §9), independent of Apply.
func (p *UndoPlan) Describe() []string {
	lines := make([]string, 0, len(p.Actions))
	for _, a := range p.Actions {
		switch a.Kind {
		case ObsoleteCommit:
			lines = append(lines, "hide "+a.Oid.Short())
		case UnobsoleteCommit:
			lines = append(lines, "unhide "+a.Oid.Short())
		case MoveReference:
			lines = append(lines, fmt.Sprintf("move %s: %s -> %s", a.RefName, a.Old, a.New))
		}
	}
	return lines
}

// Apply performs every action against repo (reference moves only;
// obsolescence is tracked purely through the event log, never as separate
// RepoOps state) and appends the whole plan to store as one new
// transaction, so the undo itself shows up in history and can in turn be
// undone (spec.md §4.8).
func (p *UndoPlan) Apply(ctx context.Context, repo plumbing.RepoOps, st *store.Store) error {
	if len(p.Actions) == 0 {
		return nil
	}
	now := time.Now().UTC()
	tx, err := st.MakeTransactionId(ctx, float64(now.UnixNano())/1e9, "undo")
	if err != nil {
		return fmt.Errorf("undo: allocate transaction: %w", err)
	}

	events := make([]eventlog.Event, 0, len(p.Actions))
	for _, a := range p.Actions {
		switch a.Kind {
		case ObsoleteCommit:
			events = append(events, eventlog.NewObsoleteEvent(now, tx, a.Oid))
		case UnobsoleteCommit:
			events = append(events, eventlog.NewUnobsoleteEvent(now, tx, a.Oid))
		case MoveReference:
			if err := repo.UpdateReference(ctx, a.RefName, a.Old, a.New); err != nil {
				return fmt.Errorf("undo: move reference %s: %w", a.RefName, err)
			}
			events = append(events, eventlog.NewRefUpdateEvent(now, tx, a.RefName, a.Old, a.New, "undo"))
		}
	}
	return st.AddEvents(ctx, events)
}
