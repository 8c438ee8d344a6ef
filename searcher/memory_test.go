package searcher

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExecuteQueryScoresAndLimits(t *testing.T) {
	storage := NewMemoryStorage()
	handle, err := EncodeSegment(storage, []SegmentDoc{
		{InternalID: 1, Terms: []string{"red", "panda"}},
		{InternalID: 2, Terms: []string{"red", "fox", "panda"}},
		{InternalID: 3, Terms: []string{"fox"}},
	})
	require.NoError(t, err)

	m := NewMemory()
	var diff MemoryStatsDiff
	results, err := m.ExecuteQuery(storage, handle, nil, CompiledQuery{Terms: []string{"red", "panda"}}, &diff, nil, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, uint64(1), results[0].InternalID)
	require.True(t, diff.Bytes > 0)
}

func TestQueryTokensPrefixMatch(t *testing.T) {
	storage := NewMemoryStorage()
	handle, err := EncodeSegment(storage, []SegmentDoc{
		{InternalID: 1, Terms: []string{"alpha", "alphabet"}},
		{InternalID: 2, Terms: []string{"beta"}},
	})
	require.NoError(t, err)

	m := NewMemory()
	matches, err := m.QueryTokens(storage, []SegmentHandle{handle}, nil, []string{"alph"}, 10)
	require.NoError(t, err)
	require.Len(t, matches, 2)
}

func TestExecuteMultiSegmentVectorQueryMergesBoundedly(t *testing.T) {
	storage := NewMemoryStorage()
	seg1, err := EncodeSegment(storage, []SegmentDoc{
		{InternalID: 1, Vector: []float32{1, 0}},
		{InternalID: 2, Vector: []float32{0, 1}},
	})
	require.NoError(t, err)
	seg2, err := EncodeSegment(storage, []SegmentDoc{
		{InternalID: 3, Vector: []float32{0.9, 0.1}},
	})
	require.NoError(t, err)

	m := NewMemory()
	results, err := m.ExecuteMultiSegmentVectorQuery(storage, []SegmentHandle{seg1, seg2}, nil,
		CompiledVectorSearch{Vector: []float32{1, 0}, Limit: 2}, 1)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, uint64(1), results[0].InternalID)
}

func TestExecuteVectorCompactionKeepsLatestPerDoc(t *testing.T) {
	storage := NewMemoryStorage()
	handle, err := EncodeSegment(storage, []SegmentDoc{
		{InternalID: 1, Ts: 1, Vector: []float32{1, 0}},
		{InternalID: 1, Ts: 2, Vector: []float32{0, 1}},
	})
	require.NoError(t, err)

	m := NewMemory()
	compacted, err := m.ExecuteVectorCompaction(storage, []SegmentHandle{handle}, 2)
	require.NoError(t, err)

	b, err := storage.Get(compacted)
	require.NoError(t, err)
	require.Contains(t, string(b), `"ts":2`)
}
