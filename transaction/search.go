package transaction

import (
	"fmt"
	"sort"

	"github.com/kartikbazzad/syncbase/core"
	"github.com/kartikbazzad/syncbase/mvcc"
	"github.com/kartikbazzad/syncbase/search"
	"github.com/kartikbazzad/syncbase/searcher"
)

// SearchResult is one row of a text search, the document id plus the
// searcher's relevance score.
type SearchResult struct {
	ID    core.DocumentID
	Score float64
}

// VectorSearchResult is one row of a vector search.
type VectorSearchResult struct {
	ID    core.DocumentID
	Score float64
}

// TextQuery names a text search against an index, per the searcher package's
// search(index, query): a term list plus an optional CEL predicate
// (evaluated via QueryCompiler) deciding whether the terms apply at all.
type TextQuery struct {
	Terms      []string
	FilterExpr string
	Args       map[string]interface{}
	Limit      int
}

// VectorQuery names a vector search against a vector index.
type VectorQuery struct {
	Vector         []float32
	Limit          int
	OverfetchDelta int
}

// Search implements the search(index, query) for a text index:
// compile the query, resolve the index's disk+memory segments, execute
// against provider, and record a read over the whole index so a
// subsequent write anywhere in it invalidates this transaction's result.
// It returns an ErrSearchUnavailable core.Error if the index has not
// finished backfilling, i.e. "search indexes unavailable"
// error kind, which the sync worker defers and retries.
func (t *Transaction) Search(provider searcher.Provider, storage searcher.Storage, tablet core.TabletID, indexID mvcc.IndexID, q TextQuery) ([]SearchResult, error) {
	tm, err := t.textManager(indexID)
	if err != nil {
		return nil, err
	}

	compiled, err := t.compiler.CompileTextQuery(q.FilterExpr, q.Args, q.Terms, q.Limit)
	if err != nil {
		return nil, err
	}

	segments, err := tm.Segments(storage)
	if err != nil {
		return nil, fmt.Errorf("transaction: materialize search segments: %w", err)
	}

	tableNum, ok := t.reader.TableNumber(tablet)
	if !ok {
		return nil, core.NewBootstrappingError()
	}

	t.readSet.RecordRange(mvcc.Interval{Tablet: tablet, Index: indexID})

	var out []SearchResult
	for _, seg := range segments {
		rows, err := provider.ExecuteQuery(storage, seg, nil, compiled, nil, nil, q.Limit)
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			out = append(out, SearchResult{
				ID:    core.DocumentID{Tablet: tablet, Developer: core.DeveloperID{TableNumber: tableNum, InternalID: r.InternalID}},
				Score: r.Score,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// VectorSearch is Search's vector-index analogue, merging per-segment
// results via provider.ExecuteMultiSegmentVectorQuery's bounded min-heap
// rather than iterating segments one at a time: a vector query's ranking
// only makes sense evaluated jointly across the whole segment set.
func (t *Transaction) VectorSearch(provider searcher.Provider, storage searcher.Storage, tablet core.TabletID, indexID mvcc.IndexID, q VectorQuery) ([]VectorSearchResult, error) {
	vm, err := t.vectorManager(indexID)
	if err != nil {
		return nil, err
	}

	segments, err := vm.Segments(storage)
	if err != nil {
		return nil, fmt.Errorf("transaction: materialize search segments: %w", err)
	}

	tableNum, ok := t.reader.TableNumber(tablet)
	if !ok {
		return nil, core.NewBootstrappingError()
	}

	t.readSet.RecordRange(mvcc.Interval{Tablet: tablet, Index: indexID})

	compiled := t.compiler.CompileVectorQuery(q.Vector, q.Limit)
	rows, err := provider.ExecuteMultiSegmentVectorQuery(storage, segments, nil, compiled, q.OverfetchDelta)
	if err != nil {
		return nil, err
	}
	out := make([]VectorSearchResult, 0, len(rows))
	for _, r := range rows {
		out = append(out, VectorSearchResult{
			ID:    core.DocumentID{Tablet: tablet, Developer: core.DeveloperID{TableNumber: tableNum, InternalID: r.InternalID}},
			Score: r.Score,
		})
	}
	return out, nil
}

func (t *Transaction) textManager(indexID mvcc.IndexID) (*search.TextIndexManager, error) {
	handle, ok := t.reader.Search().TextIndex(indexID)
	if !ok {
		return nil, core.NewSearchUnavailableError(fmt.Sprintf("text:%d", indexID))
	}
	tm, ok := handle.(*search.TextIndexManager)
	if !ok || tm.State() != mvcc.IndexEnabled {
		return nil, core.NewSearchUnavailableError(fmt.Sprintf("text:%d", indexID))
	}
	return tm, nil
}

func (t *Transaction) vectorManager(indexID mvcc.IndexID) (*search.VectorIndexManager, error) {
	handle, ok := t.reader.Search().VectorIndex(indexID)
	if !ok {
		return nil, core.NewSearchUnavailableError(fmt.Sprintf("vector:%d", indexID))
	}
	vm, ok := handle.(*search.VectorIndexManager)
	if !ok || vm.State() != mvcc.IndexEnabled {
		return nil, core.NewSearchUnavailableError(fmt.Sprintf("vector:%d", indexID))
	}
	return vm, nil
}
