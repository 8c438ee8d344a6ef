package mvcc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestManagerPushMonotonic(t *testing.T) {
	m := NewManager(NewEmptySnapshot())

	m.Push(5, NewEmptySnapshot().WithTimestamp(5))
	ts, snap := m.Latest()
	require.Equal(t, Timestamp(5), ts)
	require.Equal(t, Timestamp(5), snap.Timestamp)

	require.Panics(t, func() { m.Push(5, NewEmptySnapshot()) }, "push at or before latest must panic")
	require.Panics(t, func() { m.Push(3, NewEmptySnapshot()) })
}

func TestManagerAtPicksLargestLE(t *testing.T) {
	m := NewManager(NewEmptySnapshot())
	m.Push(10, NewEmptySnapshot().WithTimestamp(10))
	m.Push(20, NewEmptySnapshot().WithTimestamp(20))

	snap, ok := m.At(15)
	require.True(t, ok)
	require.Equal(t, Timestamp(10), snap.Timestamp)

	snap, ok = m.At(20)
	require.True(t, ok)
	require.Equal(t, Timestamp(20), snap.Timestamp)

	snap, ok = m.At(25)
	require.True(t, ok)
	require.Equal(t, Timestamp(20), snap.Timestamp)
}

func TestOverwriteLastSearchRejectsConcurrentPublish(t *testing.T) {
	m := NewManager(NewEmptySnapshot())
	m.Push(10, NewEmptySnapshot().WithTimestamp(10))

	err := m.OverwriteLastSearch(5, EmptySearchManagers{})
	require.Error(t, err, "expectTs stale relative to latest must be rejected")

	err = m.OverwriteLastSearch(10, EmptySearchManagers{})
	require.NoError(t, err)
}

func TestMemoryIndexUpsertAndRange(t *testing.T) {
	idx := NewMemoryIndex()
	doc1 := DocumentID{Tablet: TabletID(1), Developer: DeveloperID{TableNumber: 1, InternalID: 1}}
	doc2 := DocumentID{Tablet: TabletID(1), Developer: DeveloperID{TableNumber: 1, InternalID: 2}}

	idx = idx.Upsert(nil, []IndexEntry{
		{Key: IndexKey("a"), Doc: doc1, Ts: 1},
		{Key: IndexKey("c"), Doc: doc2, Ts: 1},
	})
	require.Equal(t, 2, idx.Len())

	got := idx.Range(IndexKey("a"), IndexKey("b"))
	require.Len(t, got, 1)
	require.Equal(t, doc1, got[0].Doc)

	// Upsert replaces doc1's prior entry rather than appending a duplicate.
	idx2 := idx.Upsert([]DocumentID{doc1}, []IndexEntry{{Key: IndexKey("z"), Doc: doc1, Ts: 2}})
	require.Equal(t, 2, idx2.Len())
	require.Equal(t, 2, idx.Len(), "original index must be unmodified (copy-on-write)")

	_, ok := idx2.Get(IndexKey("a"))
	require.False(t, ok)
	e, ok := idx2.Get(IndexKey("z"))
	require.True(t, ok)
	require.Equal(t, doc1, e.Doc)
}

func TestTableRegistryActiveUniqueness(t *testing.T) {
	r := NewTableRegistry()
	r, err := r.WithUpsert(TableMetadata{Tablet: 1, Namespace: "app", TableName: "posts", TableNumber: 1, State: TableActive})
	require.NoError(t, err)

	_, err = r.WithUpsert(TableMetadata{Tablet: 2, Namespace: "app", TableName: "posts", TableNumber: 2, State: TableActive})
	require.Error(t, err, "a second active tablet for the same name must be rejected")

	m, ok := r.ActiveByName("app", "posts")
	require.True(t, ok)
	require.Equal(t, TabletID(1), m.Tablet)
}
