package pending

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPushOrderingAndPop(t *testing.T) {
	q := New()
	q.Push(Write{Ts: 5})
	q.Push(Write{Ts: 7})

	require.Panics(t, func() { q.Push(Write{Ts: 7}) })
	require.Panics(t, func() { q.Push(Write{Ts: 4}) })

	min, ok := q.MinTs()
	require.True(t, ok)
	require.Equal(t, uint64(5), uint64(min))

	require.Panics(t, func() { q.Pop(7) }, "popping out of order must panic")
	q.Pop(5)
	q.Pop(7)
	require.Equal(t, 0, q.Len())

	_, ok = q.MinTs()
	require.False(t, ok)
}

func TestRangeWindow(t *testing.T) {
	q := New()
	q.Push(Write{Ts: 1})
	q.Push(Write{Ts: 5})
	q.Push(Write{Ts: 9})

	got := q.Range(1, 8)
	require.Len(t, got, 1)
	require.Equal(t, uint64(5), uint64(got[0].Ts))
}
