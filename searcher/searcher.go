// Package searcher defines the pluggable text/vector search contract.
// The core compiles queries (package transaction, via
// cel-go) and hands the compiled predicate to a Provider; this package
// never interprets disk segment formats itself, matching its
// scoping of "the pluggable searcher's disk segment file formats" out of
// the core.
package searcher

import "github.com/kartikbazzad/syncbase/mvcc"

// SegmentHandle is the opaque, content-addressed storage key a disk
// segment is identified by; the core passes it through without
// interpreting its bytes.
type SegmentHandle string

// TextResult is one row returned by ExecuteQuery: a
// "(internal_id, ts, creation_time, score)".
type TextResult struct {
	InternalID uint64
	Ts         mvcc.Timestamp
	CreatedAt  mvcc.Timestamp
	Score      float64
}

// VectorResult is one row returned by a vector query.
type VectorResult struct {
	InternalID uint64
	Ts         mvcc.Timestamp
	Score      float64
}

// TokenMatch is returned by QueryTokens for fuzzy/prefix term expansion.
type TokenMatch struct {
	Term       string
	DocFreq    uint64
	EditDist   int
}

// BM25Stats is the aggregate statistic QueryBM25Stats returns per term,
// adjusted for deletions the searcher's deletion tracker knows about.
type BM25Stats struct {
	Term         string
	DocFrequency uint64
	TotalDocs    uint64
}

// CompiledQuery is an opaque, already-validated query the transaction
// layer produces (via cel-go compilation in package transaction); the
// searcher only needs to know how to execute it, not how it was built.
type CompiledQuery struct {
	// Terms are the shortlisted search terms after fuzzy/prefix
	// expansion (see QueryTokens).
	Terms []string
	Limit int
}

// CompiledVectorSearch is an opaque, already-validated vector query.
type CompiledVectorSearch struct {
	Vector []float32
	Limit  int
}

// PostingListQuery selects a term's posting list directly, bypassing
// scoring — used for exact-match / equality index lookups layered on top
// of the text engine.
type PostingListQuery struct {
	Term string
}

// MemoryStatsDiff lets ExecuteQuery report how much additional heap the
// query execution consumed scoring candidates, for the same heap-size
// accounting discipline in-memory collections are held to elsewhere.
type MemoryStatsDiff struct {
	Bytes int64
}

// Provider is the searcher contract the transaction layer depends on.
type Provider interface {
	ExecuteQuery(storage Storage, segment SegmentHandle, schema []string, query CompiledQuery, memDiff *MemoryStatsDiff, shortlisted []string, limit int) ([]TextResult, error)
	QueryTokens(storage Storage, segments []SegmentHandle, schema []string, tokenQueries []string, maxResults int) ([]TokenMatch, error)
	QueryBM25Stats(storage Storage, segments []SegmentHandle, terms []string) ([]BM25Stats, error)
	QueryPostingLists(storage Storage, segments []SegmentHandle, query PostingListQuery) ([]TextResult, error)
	ExecuteMultiSegmentVectorQuery(storage Storage, segments []SegmentHandle, schema []string, query CompiledVectorSearch, overfetchDelta int) ([]VectorResult, error)
	ExecuteVectorCompaction(storage Storage, segments []SegmentHandle, dimension int) (SegmentHandle, error)
}

// Storage is the minimal blob-access capability the searcher needs to
// fetch segment bytes; concrete deployments back it with whatever object
// store persistence.Store itself uses, kept separate because segment
// storage is content-addressed and read-mostly, unlike the document log.
type Storage interface {
	Get(handle SegmentHandle) ([]byte, error)
	Put(data []byte) (SegmentHandle, error)
}
