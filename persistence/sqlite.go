package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kartikbazzad/syncbase/mvcc"
	_ "modernc.org/sqlite"
)

// SQLite is a durable reference Store backed by modernc.org/sqlite (pure
// Go, no cgo), grounded on the sibling docdb module's choice of the same
// driver for an embedded, single-binary-friendly persistence layer. It is
// a reference deployment target, not the only valid persistence backend:
// the core only ever talks to the Store interface.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if necessary) a SQLite-backed persistence
// store at path. Use ":memory:" for an ephemeral, in-process instance.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("persistence: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer committer; avoid SQLITE_BUSY under concurrent readers
	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS documents (
	ts INTEGER NOT NULL,
	tablet INTEGER NOT NULL,
	table_num INTEGER NOT NULL,
	internal_id INTEGER NOT NULL,
	doc BLOB,
	PRIMARY KEY (tablet, table_num, internal_id, ts)
);
CREATE INDEX IF NOT EXISTS documents_by_ts ON documents(ts);
CREATE TABLE IF NOT EXISTS index_writes (
	ts INTEGER NOT NULL,
	seq INTEGER NOT NULL,
	update_bytes BLOB NOT NULL,
	PRIMARY KEY (ts, seq)
);
CREATE TABLE IF NOT EXISTS globals (
	key TEXT PRIMARY KEY,
	value BLOB NOT NULL
);
`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLite) Write(ctx context.Context, documents []DocumentWrite, indexes []IndexWrite, strategy ConflictStrategy) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("persistence: begin: %w", err)
	}
	defer tx.Rollback()

	for _, d := range documents {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO documents(ts, tablet, table_num, internal_id, doc) VALUES (?, ?, ?, ?, ?)`,
			uint64(d.Ts), d.ID.Tablet, d.ID.TableNum, d.ID.Internal, d.Doc); err != nil {
			// A write-conflict (primary key collision) is a definite,
			// non-ambiguous failure: the transaction rolled back cleanly.
			return fmt.Errorf("persistence: write document %s@%s: %w", d.ID, d.Ts, err)
		}
	}
	for i, u := range indexes {
		if _, err := tx.ExecContext(ctx, `INSERT INTO index_writes(ts, seq, update_bytes) VALUES (?, ?, ?)`,
			uint64(u.Ts), i, u.Update); err != nil {
			return fmt.Errorf("persistence: write index update: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		// A commit that errors after being issued to the driver has an
		// ambiguous durability outcome: the bytes may have reached the
		// OS page cache before the failure. The committer must treat
		// this as fatal rather than silently retrying.
		return &AmbiguousError{Cause: err}
	}
	return nil
}

type sqlRowsStream struct {
	rows *sql.Rows
	cur  DocumentWrite
	err  error
}

func (s *sqlRowsStream) Next() bool {
	if !s.rows.Next() {
		s.err = s.rows.Err()
		return false
	}
	var ts uint64
	var tablet, tableNum uint32
	var internal uint64
	var doc []byte
	if s.err = s.rows.Scan(&ts, &tablet, &tableNum, &internal, &doc); s.err != nil {
		return false
	}
	s.cur = DocumentWrite{Ts: mvcc.Timestamp(ts), ID: DocID{Tablet: tablet, TableNum: tableNum, Internal: internal}, Doc: doc}
	return true
}
func (s *sqlRowsStream) Value() DocumentWrite { return s.cur }
func (s *sqlRowsStream) Err() error           { return s.err }
func (s *sqlRowsStream) Close() error         { return s.rows.Close() }

func (s *SQLite) LoadDocuments(ctx context.Context, from, to mvcc.Timestamp, order Order, tablets []uint32) (DocumentStream, error) {
	dir := "ASC"
	if order == Descending {
		dir = "DESC"
	}
	query := fmt.Sprintf(`SELECT ts, tablet, table_num, internal_id, doc FROM documents
		WHERE ts >= ? AND ts <= ? ORDER BY ts %s, tablet %s, table_num %s, internal_id %s`, dir, dir, dir, dir)
	rows, err := s.db.QueryContext(ctx, query, uint64(from), uint64(to))
	if err != nil {
		return nil, fmt.Errorf("persistence: load documents: %w", err)
	}
	if len(tablets) == 0 {
		return &sqlRowsStream{rows: rows}, nil
	}
	allow := make(map[uint32]bool, len(tablets))
	for _, t := range tablets {
		allow[t] = true
	}
	return &filteredStream{inner: &sqlRowsStream{rows: rows}, allow: allow}, nil
}

// filteredStream applies a tablet allow-list over a raw stream; SQLite's
// query planner does not know about our tablet set cheaply without a
// temp table, so filtering client-side keeps the schema simple.
type filteredStream struct {
	inner DocumentStream
	allow map[uint32]bool
}

func (f *filteredStream) Next() bool {
	for f.inner.Next() {
		if f.allow[f.inner.Value().ID.Tablet] {
			return true
		}
	}
	return false
}
func (f *filteredStream) Value() DocumentWrite { return f.inner.Value() }
func (f *filteredStream) Err() error           { return f.inner.Err() }
func (f *filteredStream) Close() error         { return f.inner.Close() }

func (s *SQLite) PreviousRevisions(ctx context.Context, keys []struct {
	ID DocID
	Ts mvcc.Timestamp
}) (map[DocID]Revision, error) {
	out := make(map[DocID]Revision, len(keys))
	for _, k := range keys {
		row := s.db.QueryRowContext(ctx, `SELECT ts, doc FROM documents
			WHERE tablet = ? AND table_num = ? AND internal_id = ? AND ts < ?
			ORDER BY ts DESC LIMIT 1`, k.ID.Tablet, k.ID.TableNum, k.ID.Internal, uint64(k.Ts))
		var ts uint64
		var doc []byte
		if err := row.Scan(&ts, &doc); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				out[k.ID] = Revision{}
				continue
			}
			return nil, fmt.Errorf("persistence: previous revision of %s: %w", k.ID, err)
		}
		out[k.ID] = Revision{PrevTs: mvcc.Timestamp(ts), Doc: doc}
	}
	return out, nil
}

func (s *SQLite) WritePersistenceGlobal(ctx context.Context, key GlobalKey, value []byte) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO globals(key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, string(key), value)
	return err
}

func (s *SQLite) ReadPersistenceGlobal(ctx context.Context, key GlobalKey) ([]byte, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT value FROM globals WHERE key = ?`, string(key))
	var v []byte
	if err := row.Scan(&v); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return v, true, nil
}

func (s *SQLite) Version(ctx context.Context) (string, error) {
	row := s.db.QueryRowContext(ctx, `SELECT sqlite_version()`)
	var v string
	if err := row.Scan(&v); err != nil {
		return "", err
	}
	return "sqlite-" + v, nil
}

func (s *SQLite) Close() error { return s.db.Close() }
