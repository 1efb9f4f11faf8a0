// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package eventlog

import (
	"fmt"
	"time"

	"github.com/zeta-scm/branchless/modules/plumbing"
)

// rowType is the wire-stable string stored in event_log.type (spec §4.2,
// §6). These names are part of the on-disk format and must never change
// even though the in-memory variant names differ ("hide"/"unhide" predate
// ObsoleteEvent/UnobsoleteEvent).
const (
	rowTypeCommit   = "commit"
	rowTypeRefMove  = "ref-move"
	rowTypeRewrite  = "rewrite"
	rowTypeHide     = "hide"
	rowTypeUnhide   = "unhide"
)

// Row is the flat, storage-shaped encoding of an Event: exactly the columns
// of event_log (spec §6). A Row's RefName/OldRef/NewRef fields are lossy text
// conversions of the in-memory byte-exact reference/oid values; Row exists
// only at the store boundary.
type Row struct {
	Timestamp float64
	Type      string
	TxId      TransactionId
	OldRef    string
	NewRef    string
	RefName   string
	Message   string
}

func encodeMaybe(id plumbing.MaybeZeroId) string {
	return id.IdOrZero().String()
}

func decodeMaybe(s string) plumbing.MaybeZeroId {
	id := plumbing.NewId(s)
	if id.IsZero() {
		return plumbing.ZeroMaybe()
	}
	return plumbing.NonZero(id)
}

// EncodeRow converts an in-memory Event into its Row form.
func EncodeRow(e Event) Row {
	ts := float64(e.Timestamp().UnixNano()) / 1e9
	switch ev := e.(type) {
	case *CommitEvent:
		return Row{Timestamp: ts, Type: rowTypeCommit, TxId: ev.Tx, NewRef: ev.Oid.String()}
	case *RefUpdateEvent:
		return Row{
			Timestamp: ts, Type: rowTypeRefMove, TxId: ev.Tx,
			RefName: ev.RefName.String(),
			OldRef:  encodeMaybe(ev.Old),
			NewRef:  encodeMaybe(ev.New),
			Message: ev.Message,
		}
	case *RewriteEvent:
		return Row{Timestamp: ts, Type: rowTypeRewrite, TxId: ev.Tx, OldRef: encodeMaybe(ev.Old), NewRef: encodeMaybe(ev.New)}
	case *ObsoleteEvent:
		return Row{Timestamp: ts, Type: rowTypeHide, TxId: ev.Tx, NewRef: ev.Oid.String()}
	case *UnobsoleteEvent:
		return Row{Timestamp: ts, Type: rowTypeUnhide, TxId: ev.Tx, NewRef: ev.Oid.String()}
	default:
		panic(fmt.Sprintf("eventlog: unknown event type %T", e))
	}
}

// DecodeRow converts a stored Row back into an Event. A malformed row is
// reported as an error; the caller (store.GetEvents) is responsible for
// logging the offending row and aborting the whole read per spec §4.2.
func DecodeRow(r Row) (Event, error) {
	for _, s := range []string{r.OldRef, r.NewRef} {
		if s == "" {
			continue
		}
		if _, err := plumbing.NewIdEx(s); err != nil {
			return nil, fmt.Errorf("eventlog: malformed id in row: %w", err)
		}
	}
	sec := int64(r.Timestamp)
	nsec := int64((r.Timestamp - float64(sec)) * 1e9)
	ts := time.Unix(sec, nsec).UTC()
	switch r.Type {
	case rowTypeCommit:
		return NewCommitEvent(ts, r.TxId, plumbing.NewId(r.NewRef)), nil
	case rowTypeRefMove:
		return NewRefUpdateEvent(ts, r.TxId, plumbing.ReferenceName(r.RefName), decodeMaybe(r.OldRef), decodeMaybe(r.NewRef), r.Message), nil
	case rowTypeRewrite:
		return NewRewriteEvent(ts, r.TxId, decodeMaybe(r.OldRef), decodeMaybe(r.NewRef)), nil
	case rowTypeHide:
		return NewObsoleteEvent(ts, r.TxId, plumbing.NewId(r.NewRef)), nil
	case rowTypeUnhide:
		return NewUnobsoleteEvent(ts, r.TxId, plumbing.NewId(r.NewRef)), nil
	default:
		return nil, fmt.Errorf("eventlog: unrecognized row type %q", r.Type)
	}
}
