// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package eventlog defines the append-only record of repository state
// transitions (spec.md §3, §4.2): a tagged variant Event type plus the
// EventTransactionId and EventCursor concepts the replayer and undo
// synthesizer build on.
package eventlog

import (
	"time"

	"github.com/zeta-scm/branchless/modules/plumbing"
)

// TransactionId groups events emitted under the same user action (spec §3).
type TransactionId int64

// EventVisitor dispatches on the concrete Event variant, the exhaustive
// tagged-union pattern the teacher uses throughout modules/zeta/object
// instead of a type hierarchy.
type EventVisitor interface {
	VisitCommit(*CommitEvent)
	VisitRefUpdate(*RefUpdateEvent)
	VisitRewrite(*RewriteEvent)
	VisitObsolete(*ObsoleteEvent)
	VisitUnobsolete(*UnobsoleteEvent)
}

// Event is the closed set of things that can happen to a repository; the
// unexported marker method makes the set closed to this package.
type Event interface {
	isEvent()
	Timestamp() time.Time
	TxId() TransactionId
	Accept(EventVisitor)
}

type base struct {
	Ts time.Time
	Tx TransactionId
}

func (b base) Timestamp() time.Time  { return b.Ts }
func (b base) TxId() TransactionId   { return b.Tx }

// CommitEvent records that a new commit was created.
type CommitEvent struct {
	base
	Oid plumbing.Id
}

func (e *CommitEvent) isEvent()                {}
func (e *CommitEvent) Accept(v EventVisitor)    { v.VisitCommit(e) }

func NewCommitEvent(ts time.Time, tx TransactionId, oid plumbing.Id) *CommitEvent {
	return &CommitEvent{base: base{Ts: ts, Tx: tx}, Oid: oid}
}

// RefUpdateEvent records a reference moving from Old to New, optionally with
// a free-form message (e.g. "commit", "rebase (squash): ...").
type RefUpdateEvent struct {
	base
	RefName plumbing.ReferenceName
	Old     plumbing.MaybeZeroId
	New     plumbing.MaybeZeroId
	Message string
}

func (e *RefUpdateEvent) isEvent()             {}
func (e *RefUpdateEvent) Accept(v EventVisitor) { v.VisitRefUpdate(e) }

func NewRefUpdateEvent(ts time.Time, tx TransactionId, ref plumbing.ReferenceName, old, new plumbing.MaybeZeroId, message string) *RefUpdateEvent {
	return &RefUpdateEvent{base: base{Ts: ts, Tx: tx}, RefName: ref, Old: old, New: new, Message: message}
}

// RewriteEvent records a commit being replaced by another (amend, rebase).
type RewriteEvent struct {
	base
	Old plumbing.MaybeZeroId
	New plumbing.MaybeZeroId
}

func (e *RewriteEvent) isEvent()             {}
func (e *RewriteEvent) Accept(v EventVisitor) { v.VisitRewrite(e) }

func NewRewriteEvent(ts time.Time, tx TransactionId, old, new plumbing.MaybeZeroId) *RewriteEvent {
	return &RewriteEvent{base: base{Ts: ts, Tx: tx}, Old: old, New: new}
}

// ObsoleteEvent ("hide") marks a commit as no longer part of the visible
// history, without destroying it.
type ObsoleteEvent struct {
	base
	Oid plumbing.Id
}

func (e *ObsoleteEvent) isEvent()             {}
func (e *ObsoleteEvent) Accept(v EventVisitor) { v.VisitObsolete(e) }

func NewObsoleteEvent(ts time.Time, tx TransactionId, oid plumbing.Id) *ObsoleteEvent {
	return &ObsoleteEvent{base: base{Ts: ts, Tx: tx}, Oid: oid}
}

// UnobsoleteEvent ("unhide") reverses an ObsoleteEvent.
type UnobsoleteEvent struct {
	base
	Oid plumbing.Id
}

func (e *UnobsoleteEvent) isEvent()             {}
func (e *UnobsoleteEvent) Accept(v EventVisitor) { v.VisitUnobsolete(e) }

func NewUnobsoleteEvent(ts time.Time, tx TransactionId, oid plumbing.Id) *UnobsoleteEvent {
	return &UnobsoleteEvent{base: base{Ts: ts, Tx: tx}, Oid: oid}
}
