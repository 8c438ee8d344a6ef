// Package persistence defines the pluggable durability contract: the core
// never assumes a particular on-disk layout, only this interface. Two
// reference implementations are provided: Memory (for tests and
// single-process operation) and SQLite (a durable, pure-Go reference
// backend built on modernc.org/sqlite).
package persistence

import (
	"context"
	"fmt"

	"github.com/kartikbazzad/syncbase/mvcc"
)

// ConflictStrategy controls how Write reacts to a (ts, id) collision.
type ConflictStrategy int

const (
	// ConflictError fails the whole write on any (ts, id) collision —
	// the only strategy the committer uses (step 7).
	ConflictError ConflictStrategy = iota
)

// DocumentWrite is one row of the document log, keyed
// "(ts, doc_id, Option<doc>)". A nil Doc represents a tombstone.
type DocumentWrite struct {
	Ts  mvcc.Timestamp
	ID  DocID
	Doc []byte // nil means deleted; otherwise opaque serialized Document
}

// DocID is the wire-level document identifier persistence deals in. It is
// a plain struct (not syncbase.DocumentID) so this package has no import
// dependency on the root module — persistence is meant to be implementable
// out-of-tree.
type DocID struct {
	Tablet    uint32
	TableNum  uint32
	Internal  uint64
}

func (d DocID) String() string { return fmt.Sprintf("%d/%d/%d", d.Tablet, d.TableNum, d.Internal) }

// IndexWrite is one row of the index log: (ts, index_update).
// Update is an opaque, persistence-encoded representation of the index
// mutation; the core does not interpret its bytes, only replays them.
type IndexWrite struct {
	Ts     mvcc.Timestamp
	Update []byte
}

// Order controls load_documents iteration direction.
type Order int

const (
	Ascending Order = iota
	Descending
)

// Revision is one row of previous_revisions's result.
type Revision struct {
	PrevTs mvcc.Timestamp
	Doc    []byte // nil if the previous revision was a tombstone or absent
}

// GlobalKey names a persistence global.
type GlobalKey string

const (
	GlobalMaxRepeatableTimestamp GlobalKey = "max_repeatable_timestamp"
	GlobalBootstrapMarker        GlobalKey = "search_bootstrap_marker"
)

// DocumentStream is returned by LoadDocuments; results are strictly
// ordered by (ts, doc_id).
type DocumentStream interface {
	// Next advances the stream. It returns false when exhausted or on
	// error; call Err after Next returns false to distinguish the two.
	Next() bool
	Value() DocumentWrite
	Err() error
	Close() error
}

// Store is the persistence provider contract the committer depends on.
type Store interface {
	// Write durably appends document and index writes atomically. A
	// returned error must indicate whether the outcome is ambiguous
	// (wrap with AmbiguousError) or definite; the committer treats these
	// very differently (fatal vs. returned-to-caller).
	Write(ctx context.Context, documents []DocumentWrite, indexes []IndexWrite, strategy ConflictStrategy) error

	// LoadDocuments streams (ts, doc_id, Option<doc>) in the given
	// timestamp range (inclusive of From, exclusive-none semantics left
	// to callers via From/To selection), strictly ordered by (ts, id).
	LoadDocuments(ctx context.Context, from, to mvcc.Timestamp, order Order, tablets []uint32) (DocumentStream, error)

	// PreviousRevisions resolves, for each requested (doc_id, ts), the
	// revision immediately preceding ts.
	PreviousRevisions(ctx context.Context, keys []struct {
		ID DocID
		Ts mvcc.Timestamp
	}) (map[DocID]Revision, error)

	WritePersistenceGlobal(ctx context.Context, key GlobalKey, value []byte) error
	ReadPersistenceGlobal(ctx context.Context, key GlobalKey) ([]byte, bool, error)

	// Version keys index encodings the core propagates but does not
	// interpret.
	Version(ctx context.Context) (string, error)

	Close() error
}

// AmbiguousError wraps a Store error whose durability outcome is unknown
// (e.g. a write timed out after the bytes may or may not have reached
// disk). The committer treats this as fatal per step 7.
type AmbiguousError struct{ Cause error }

func (e *AmbiguousError) Error() string { return fmt.Sprintf("ambiguous persistence outcome: %v", e.Cause) }
func (e *AmbiguousError) Unwrap() error  { return e.Cause }
