// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 APC Contributors

package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/apc-dev/apc/internal/store"
	apcerr "github.com/apc-dev/apc/pkg/errors"
)

// Compile-time interface check.
var _ store.Journal = (*Journal)(nil)

// maxRows bounds the journal table; the oldest rows are trimmed on append.
const maxRows = 10000

// Journal implements store.Journal backed by a single SQLite database.
type Journal struct {
	db *sql.DB
}

// NewJournal opens (or creates) a SQLite database at dbPath and initialises
// the journal table.
func NewJournal(dbPath string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, apcerr.Wrapf(err, apcerr.CodeStoreDatabaseFailure, "creating journal directory for %s", dbPath)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, apcerr.Wrap(err, apcerr.CodeStoreDatabaseFailure, "opening journal db")
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, apcerr.Wrap(err, apcerr.CodeStoreDatabaseFailure, "pinging journal db")
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, apcerr.Wrap(err, apcerr.CodeStoreDatabaseFailure, "migrating journal db")
	}

	return &Journal{db: db}, nil
}

func migrate(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS journal (
	seq            INTEGER PRIMARY KEY AUTOINCREMENT,
	id             TEXT NOT NULL UNIQUE,
	at             INTEGER NOT NULL,
	workspace_hash TEXT NOT NULL DEFAULT '',
	kind           TEXT NOT NULL,
	from_state     TEXT NOT NULL DEFAULT '',
	to_state       TEXT NOT NULL,
	detail         TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_journal_at        ON journal(at);
CREATE INDEX IF NOT EXISTS idx_journal_kind      ON journal(kind);
CREATE INDEX IF NOT EXISTS idx_journal_workspace ON journal(workspace_hash);
`
	_, err := db.Exec(ddl)
	return err
}

func (j *Journal) Append(ctx context.Context, entry *store.Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}

	const q = `INSERT INTO journal (id, at, workspace_hash, kind, from_state, to_state, detail)
VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := j.db.ExecContext(ctx, q,
		entry.ID, entry.At.UnixNano(), entry.WorkspaceHash, string(entry.Kind),
		entry.From, entry.To, entry.Detail,
	)
	if err != nil {
		return apcerr.Wrapf(err, apcerr.CodeStoreDatabaseFailure, "appending journal entry %s", entry.ID)
	}

	const trim = `DELETE FROM journal WHERE seq <= (SELECT MAX(seq) - ? FROM journal)`
	if _, err := j.db.ExecContext(ctx, trim, maxRows); err != nil {
		return apcerr.Wrap(err, apcerr.CodeStoreDatabaseFailure, "trimming journal")
	}
	return nil
}

func (j *Journal) Recent(ctx context.Context, filter store.Filter) ([]*store.Entry, error) {
	var qb strings.Builder
	qb.WriteString(`SELECT id, at, workspace_hash, kind, from_state, to_state, detail FROM journal`)

	var conditions []string
	var args []any

	if filter.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if filter.WorkspaceHash != "" {
		conditions = append(conditions, "workspace_hash = ?")
		args = append(args, filter.WorkspaceHash)
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "at >= ?")
		args = append(args, filter.Since.UnixNano())
	}

	if len(conditions) > 0 {
		qb.WriteString(" WHERE ")
		qb.WriteString(strings.Join(conditions, " AND "))
	}

	qb.WriteString(" ORDER BY at DESC, seq DESC LIMIT ?")
	args = append(args, filter.EffectiveLimit())

	rows, err := j.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, apcerr.Wrap(err, apcerr.CodeStoreDatabaseFailure, "querying journal")
	}
	defer rows.Close() //nolint:errcheck // error on read-path close is not actionable

	var entries []*store.Entry
	for rows.Next() {
		var e store.Entry
		var at int64
		var kind string
		if err := rows.Scan(&e.ID, &at, &e.WorkspaceHash, &kind, &e.From, &e.To, &e.Detail); err != nil {
			return nil, apcerr.Wrap(err, apcerr.CodeStoreDatabaseFailure, "scanning journal row")
		}
		e.At = time.Unix(0, at)
		e.Kind = store.Kind(kind)
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, apcerr.Wrap(err, apcerr.CodeStoreDatabaseFailure, "iterating journal entries")
	}
	return entries, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}
