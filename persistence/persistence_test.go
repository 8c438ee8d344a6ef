package persistence

import (
	"context"
	"testing"

	"github.com/kartikbazzad/syncbase/mvcc"
	"github.com/stretchr/testify/require"
)

func TestMemoryWriteAndLoad(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	id := DocID{Tablet: 1, TableNum: 1, Internal: 1}
	require.NoError(t, m.Write(ctx, []DocumentWrite{{Ts: 1, ID: id, Doc: []byte(`{"a":1}`)}}, nil, ConflictError))

	err := m.Write(ctx, []DocumentWrite{{Ts: 1, ID: id, Doc: []byte(`{}`)}}, nil, ConflictError)
	require.Error(t, err, "duplicate (ts, id) must be rejected")

	stream, err := m.LoadDocuments(ctx, 0, 10, Ascending, nil)
	require.NoError(t, err)
	defer stream.Close()
	require.True(t, stream.Next())
	require.Equal(t, id, stream.Value().ID)
	require.False(t, stream.Next())
}

func TestMemoryPreviousRevisions(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	id := DocID{Tablet: 1, TableNum: 1, Internal: 1}
	require.NoError(t, m.Write(ctx, []DocumentWrite{{Ts: 1, ID: id, Doc: []byte(`{"v":1}`)}}, nil, ConflictError))
	require.NoError(t, m.Write(ctx, []DocumentWrite{{Ts: 2, ID: id, Doc: []byte(`{"v":2}`)}}, nil, ConflictError))

	revs, err := m.PreviousRevisions(ctx, []struct {
		ID DocID
		Ts mvcc.Timestamp
	}{{ID: id, Ts: 2}})
	require.NoError(t, err)
	require.Equal(t, mvcc.Timestamp(1), revs[id].PrevTs)
}

func TestMemoryGlobals(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, ok, err := m.ReadPersistenceGlobal(ctx, GlobalMaxRepeatableTimestamp)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, m.WritePersistenceGlobal(ctx, GlobalMaxRepeatableTimestamp, []byte("42")))
	v, ok, err := m.ReadPersistenceGlobal(ctx, GlobalMaxRepeatableTimestamp)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("42"), v)
}
