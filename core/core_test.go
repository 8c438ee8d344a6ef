package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDocumentIDLessTotalOrder(t *testing.T) {
	a := DocumentID{Tablet: 1, Developer: DeveloperID{TableNumber: 1, InternalID: 1}}
	b := DocumentID{Tablet: 1, Developer: DeveloperID{TableNumber: 1, InternalID: 2}}
	c := DocumentID{Tablet: 2, Developer: DeveloperID{TableNumber: 1, InternalID: 1}}

	require.True(t, a.Less(b))
	require.False(t, b.Less(a))
	require.True(t, b.Less(c))
}

func TestWriteSetStageCoalesces(t *testing.T) {
	ws := NewWriteSet()
	id := DocumentID{Tablet: 1, Developer: DeveloperID{TableNumber: 1, InternalID: 1}}
	orig := &Document{ID: id, Value: []byte(`{"v":0}`)}

	ws.Stage(DocumentUpdate{ID: id, Old: orig, OldTs: 1, New: &Document{ID: id, Value: []byte(`{"v":1}`)}})
	ws.Stage(DocumentUpdate{ID: id, Old: &Document{ID: id, Value: []byte(`{"v":1}`)}, OldTs: 2, New: &Document{ID: id, Value: []byte(`{"v":2}`)}})

	require.Equal(t, 1, ws.Len())
	u, ok := ws.Get(id)
	require.True(t, ok)
	require.Same(t, orig, u.Old)
	require.Equal(t, `{"v":2}`, string(u.New.Value))
}

func TestWriteSetMergePreservesOrder(t *testing.T) {
	parent := NewWriteSet()
	child := NewWriteSet()
	id1 := DocumentID{Tablet: 1, Developer: DeveloperID{TableNumber: 1, InternalID: 1}}
	id2 := DocumentID{Tablet: 1, Developer: DeveloperID{TableNumber: 1, InternalID: 2}}
	child.Stage(DocumentUpdate{ID: id1, New: &Document{ID: id1}})
	child.Stage(DocumentUpdate{ID: id2, New: &Document{ID: id2}})

	parent.Merge(child)
	require.Equal(t, 2, parent.Len())
	ordered := parent.Ordered()
	require.Equal(t, id1, ordered[0].ID)
	require.Equal(t, id2, ordered[1].ID)
}

func TestErrorRetryableAndFatalFlags(t *testing.T) {
	occ := NewOCCConflict("tablet=1", WriteSourceMutation)
	require.True(t, occ.Retryable)
	require.False(t, occ.Fatal)

	ambiguous := NewPersistenceAmbiguousError(nil)
	require.True(t, ambiguous.Fatal)

	schema := NewSchemaError(nil)
	require.False(t, schema.Retryable)
}
