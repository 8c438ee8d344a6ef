package transaction

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kartikbazzad/syncbase/core"
	"github.com/kartikbazzad/syncbase/mvcc"
	"github.com/kartikbazzad/syncbase/search"
	"github.com/kartikbazzad/syncbase/searcher"
)

type searchReader struct {
	*fakeReader
	managers *search.Managers
}

func (r *searchReader) Search() mvcc.SearchManagers { return r.managers }

func TestSearchReturnsMatchingDocuments(t *testing.T) {
	storage := searcher.NewMemoryStorage()
	handle, err := searcher.EncodeSegment(storage, []searcher.SegmentDoc{
		{InternalID: 1, Terms: []string{"hello", "world"}},
		{InternalID: 2, Terms: []string{"goodbye"}},
	})
	require.NoError(t, err)

	disk := &mvcc.SearchSnapshot{DiskKey: string(handle), DiskTs: 10}
	tm := search.NewTextIndexManager(mvcc.IndexEnabled, 11, disk, "body")
	managers := search.NewManagers().WithText(5, tm)

	reader := &searchReader{fakeReader: newFakeReader(), managers: managers}
	tx := New(1, reader, nil, nil)

	compiler, err := NewQueryCompiler()
	require.NoError(t, err)
	tx.compiler = compiler

	results, err := tx.Search(searcher.NewMemory(), storage, 1, 5, TextQuery{Terms: []string{"hello"}, Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, uint64(1), results[0].ID.Developer.InternalID)
	require.Len(t, tx.ReadSet().Intervals, 1)
}

func TestSearchUnavailableBeforeBootstrap(t *testing.T) {
	reader := &searchReader{fakeReader: newFakeReader(), managers: search.NewManagers()}
	tx := New(1, reader, nil, nil)
	compiler, err := NewQueryCompiler()
	require.NoError(t, err)
	tx.compiler = compiler

	_, err = tx.Search(searcher.NewMemory(), searcher.NewMemoryStorage(), 1, 5, TextQuery{Terms: []string{"hello"}})
	var syncErr *core.Error
	require.ErrorAs(t, err, &syncErr)
	require.Equal(t, core.ErrSearchUnavailable, syncErr.Kind)
}

func TestVectorSearchRanksByCosineSimilarity(t *testing.T) {
	storage := searcher.NewMemoryStorage()
	handle, err := searcher.EncodeSegment(storage, []searcher.SegmentDoc{
		{InternalID: 1, Vector: []float32{1, 0}},
		{InternalID: 2, Vector: []float32{0, 1}},
	})
	require.NoError(t, err)

	disk := &mvcc.SearchSnapshot{DiskKey: string(handle), DiskTs: 10}
	vm := search.NewVectorIndexManager(mvcc.IndexEnabled, 11, disk, "embedding", 2)
	managers := search.NewManagers().WithVector(7, vm)

	reader := &searchReader{fakeReader: newFakeReader(), managers: managers}
	tx := New(1, reader, nil, nil)
	compiler, err := NewQueryCompiler()
	require.NoError(t, err)
	tx.compiler = compiler

	results, err := tx.VectorSearch(searcher.NewMemory(), storage, 1, 7, VectorQuery{Vector: []float32{1, 0}, Limit: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, uint64(1), results[0].ID.Developer.InternalID)
}
