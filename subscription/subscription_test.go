package subscription

import (
	"testing"

	"github.com/kartikbazzad/syncbase/mvcc"
	"github.com/kartikbazzad/syncbase/writelog"
	"github.com/stretchr/testify/require"
)

func iv(lo, hi string) mvcc.Interval {
	return mvcc.Interval{Tablet: 1, Index: 1, Lo: mvcc.IndexKey(lo), Hi: mvcc.IndexKey(hi)}
}

func TestExtendSurvivesDisjointWrite(t *testing.T) {
	log := writelog.New(10)
	reg := NewRegistry(log)
	sub := reg.Subscribe(Token{ReadSet: &mvcc.ReadSet{Intervals: []mvcc.Interval{iv("a", "m")}}, BeginTs: 1})

	log.Append(writelog.Entry{Ts: 2, Intervals: []mvcc.Interval{iv("n", "z")}})
	reg.Invalidate(writelog.Entry{Ts: 2, Intervals: []mvcc.Interval{iv("n", "z")}})

	require.True(t, sub.Extend(2))
	require.False(t, sub.Invalidated())
}

func TestExtendInvalidatedByOverlappingWrite(t *testing.T) {
	log := writelog.New(10)
	reg := NewRegistry(log)
	sub := reg.Subscribe(Token{ReadSet: &mvcc.ReadSet{Intervals: []mvcc.Interval{iv("a", "m")}}, BeginTs: 1})

	entry := writelog.Entry{Ts: 2, Intervals: []mvcc.Interval{iv("f", "g")}}
	log.Append(entry)
	reg.Invalidate(entry)

	require.True(t, sub.Invalidated())
	require.False(t, sub.Extend(2))
}

func TestExtendInvalidatedByLowWaterMark(t *testing.T) {
	log := writelog.New(1)
	reg := NewRegistry(log)
	sub := reg.Subscribe(Token{ReadSet: &mvcc.ReadSet{}, BeginTs: 1})

	log.Append(writelog.Entry{Ts: 2})
	log.Append(writelog.Entry{Ts: 3}) // rotates ts=2 out, low-water mark becomes 2

	require.False(t, sub.Extend(3))
	require.True(t, sub.Invalidated())
}

func TestUnsubscribeRemovesFromRegistry(t *testing.T) {
	log := writelog.New(10)
	reg := NewRegistry(log)
	sub := reg.Subscribe(Token{ReadSet: &mvcc.ReadSet{}, BeginTs: 1})
	require.Equal(t, 1, reg.Len())
	reg.Unsubscribe(sub)
	require.Equal(t, 0, reg.Len())
}
