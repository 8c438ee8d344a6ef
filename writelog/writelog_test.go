package writelog

import (
	"testing"

	"github.com/kartikbazzad/syncbase/mvcc"
	"github.com/stretchr/testify/require"
)

func TestAppendOrderingAndBound(t *testing.T) {
	l := New(2)
	l.Append(Entry{Ts: 1})
	l.Append(Entry{Ts: 2})
	l.Append(Entry{Ts: 3})

	require.Equal(t, mvcc.Timestamp(3), l.Latest())
	// With maxLen 2, entry at ts=1 has rotated out; low water mark is
	// the predecessor of the oldest retained entry (ts=2).
	require.Equal(t, mvcc.Timestamp(1), l.LowWaterMark())

	require.Panics(t, func() { l.Append(Entry{Ts: 3}) })
	require.Panics(t, func() { l.Append(Entry{Ts: 0}) })
}

func TestRangeAndOverlap(t *testing.T) {
	l := New(10)
	iv := mvcc.Interval{Tablet: 1, Index: 1, Lo: mvcc.IndexKey("a"), Hi: mvcc.IndexKey("z")}
	l.Append(Entry{Ts: 5, Intervals: []mvcc.Interval{iv}})

	got := l.Range(0, 10)
	require.Len(t, got, 1)

	other := mvcc.Interval{Tablet: 1, Index: 1, Lo: mvcc.IndexKey("b"), Hi: mvcc.IndexKey("c")}
	e, ok := l.OverlapsInterval(0, 10, other)
	require.True(t, ok)
	require.Equal(t, mvcc.Timestamp(5), e.Ts)

	disjoint := mvcc.Interval{Tablet: 2, Index: 1, Lo: mvcc.IndexKey("b"), Hi: mvcc.IndexKey("c")}
	_, ok = l.OverlapsInterval(0, 10, disjoint)
	require.False(t, ok)
}
