// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package store is the durable append-only backing for modules/eventlog
// (spec.md §4.2/§6): two SQLite tables reached through database/sql, in the
// same query style the teacher uses for its server-side MySQL layer
// (pkg/serve/database), adapted to SQLite's single-writer reality.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"

	_ "modernc.org/sqlite"

	"github.com/zeta-scm/branchless/internal/xlog"
	"github.com/zeta-scm/branchless/modules/eventlog"
)

const envTransactionId = "BRANCHLESS_TRANSACTION_ID"

const schema = `
CREATE TABLE IF NOT EXISTS event_transactions (
	event_tx_id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp   REAL NOT NULL,
	message     TEXT
);

CREATE TABLE IF NOT EXISTS event_log (
	rowid       INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp   REAL NOT NULL,
	type        TEXT NOT NULL,
	event_tx_id INTEGER NOT NULL,
	old_ref     TEXT,
	new_ref     TEXT,
	ref_name    TEXT,
	message     TEXT
);
`

// Store is the event log's durable handle. One Store wraps one SQLite file
// (the CLI opens <store dir>/branchless.sqlite3); callers share it across the
// process rather than opening per-call connections.
type Store struct {
	db *sql.DB
}

// Open creates (if needed) and opens the event log database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// SQLite has a single writer; serialize through one connection rather
	// than pooling the way the teacher's MySQL-backed
	// pkg/serve/database.NewDB does, where concurrent writers are expected.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: init schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// AddEvents appends events in a single transaction (spec §4.2): either all
// rows land, or none do.
func (s *Store) AddEvents(ctx context.Context, events []eventlog.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin add-events: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO event_log (timestamp, type, event_tx_id, old_ref, new_ref, ref_name, message)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		row := eventlog.EncodeRow(e)
		if _, err := stmt.ExecContext(ctx, row.Timestamp, row.Type, int64(row.TxId), row.OldRef, row.NewRef, row.RefName, row.Message); err != nil {
			return fmt.Errorf("store: insert event: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit add-events: %w", err)
	}
	return nil
}

// GetEvents returns every event in the log, rowid ascending. A single
// undecodable row aborts the whole call (spec §4.2): it is not safe to
// silently skip a row, since the replayer's cursor arithmetic assumes a
// dense, correctly-ordered sequence.
func (s *Store) GetEvents(ctx context.Context) ([]eventlog.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT timestamp, type, event_tx_id, old_ref, new_ref, ref_name, message
		 FROM event_log ORDER BY rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: query events: %w", err)
	}
	defer rows.Close()

	var out []eventlog.Event
	for rows.Next() {
		var r eventlog.Row
		var oldRef, newRef, refName, message sql.NullString
		var txId int64
		if err := rows.Scan(&r.Timestamp, &r.Type, &txId, &oldRef, &newRef, &refName, &message); err != nil {
			return nil, fmt.Errorf("store: scan event row: %w", err)
		}
		r.TxId = eventlog.TransactionId(txId)
		r.OldRef, r.NewRef, r.RefName, r.Message = oldRef.String, newRef.String, refName.String, message.String
		ev, err := eventlog.DecodeRow(r)
		if err != nil {
			return nil, xlog.Errorf("store: could not decode event row %+v: %v", r, err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate events: %w", err)
	}
	return out, nil
}

// MakeTransactionId allocates a new EventTransactionId, or joins the
// caller's parent transaction if BRANCHLESS_TRANSACTION_ID is set and
// parses as an integer (spec §4.2, §6) — this is how a child process (e.g.
// a hook shelled out by the host VCS) groups its own events under the
// command that spawned it.
func (s *Store) MakeTransactionId(ctx context.Context, timestamp float64, message string) (eventlog.TransactionId, error) {
	if raw, ok := os.LookupEnv(envTransactionId); ok {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return eventlog.TransactionId(id), nil
		}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: begin make-transaction-id: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `INSERT INTO event_transactions (timestamp, message) VALUES (?, ?)`, timestamp, message)
	if err != nil {
		return 0, fmt.Errorf("store: insert transaction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: read transaction id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: commit make-transaction-id: %w", err)
	}
	return eventlog.TransactionId(id), nil
}
