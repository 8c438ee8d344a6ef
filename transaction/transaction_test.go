package transaction

import (
	"testing"

	"github.com/kartikbazzad/syncbase/core"
	"github.com/kartikbazzad/syncbase/mvcc"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	docs   map[core.DocumentID]core.Document
	counts map[core.TabletID]int64
	seq    uint64
}

func newFakeReader() *fakeReader {
	return &fakeReader{docs: make(map[core.DocumentID]core.Document), counts: make(map[core.TabletID]int64)}
}

func (f *fakeReader) Timestamp() mvcc.Timestamp { return 1 }
func (f *fakeReader) GetDocument(id core.DocumentID) (core.Document, bool) {
	d, ok := f.docs[id]
	return d, ok
}
func (f *fakeReader) RangeByID(tablet core.TabletID, lo, hi core.DocumentID) []core.Document { return nil }
func (f *fakeReader) TableCount(tablet core.TabletID) (int64, bool) {
	c, ok := f.counts[tablet]
	return c, ok
}
func (f *fakeReader) ByIDIndex(tablet core.TabletID) mvcc.IndexID { return 1 }
func (f *fakeReader) TableNumber(tablet core.TabletID) (core.TableNumber, bool) { return 1, true }
func (f *fakeReader) Search() mvcc.SearchManagers                              { return mvcc.EmptySearchManagers{} }
func (f *fakeReader) NextInternalID(tableNum core.TableNumber) uint64 {
	f.seq++
	return f.seq
}

func TestInsertGetReplaceDelete(t *testing.T) {
	reader := newFakeReader()
	reader.counts[1] = 0
	enforcer := NewJSONSchemaRegistry()
	tx := New(1, reader, enforcer, nil)

	id, err := tx.Insert(1, 1, "widgets", 1, []byte(`{"name":"a"}`))
	require.NoError(t, err)

	got, err := tx.Get(id)
	require.NoError(t, err)
	require.Equal(t, `{"name":"a"}`, string(got.Value))

	require.NoError(t, tx.Replace(id, "widgets", []byte(`{"name":"b"}`)))
	got, err = tx.Get(id)
	require.NoError(t, err)
	require.Equal(t, `{"name":"b"}`, string(got.Value))

	require.NoError(t, tx.Delete(id, 1))
	got, err = tx.Get(id)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestPatchMergesJSON(t *testing.T) {
	reader := newFakeReader()
	id := core.DocumentID{Tablet: 1, Developer: core.DeveloperID{TableNumber: 1, InternalID: 1}}
	reader.docs[id] = core.Document{ID: id, Value: []byte(`{"a":1,"b":2}`)}

	tx := New(1, reader, nil, nil)
	require.NoError(t, tx.Patch(id, "widgets", []byte(`{"b":3}`)))

	got, err := tx.Get(id)
	require.NoError(t, err)
	require.JSONEq(t, `{"a":1,"b":3}`, string(got.Value))
}

func TestSchemaEnforcementRejectsInvalidDocument(t *testing.T) {
	reader := newFakeReader()
	enforcer := NewJSONSchemaRegistry()
	require.NoError(t, enforcer.SetSchema("widgets", `{"type":"object","required":["name"]}`))

	tx := New(1, reader, enforcer, nil)
	_, err := tx.Insert(1, 1, "widgets", 1, []byte(`{}`))
	require.Error(t, err)
}

func TestSubTransactionCommitMergesWrites(t *testing.T) {
	reader := newFakeReader()
	tx := New(1, reader, nil, nil)

	tx.BeginSubTransaction()
	id, err := tx.Insert(1, 1, "widgets", 1, []byte(`{}`))
	require.NoError(t, err)
	require.NoError(t, tx.CommitSubTransaction())

	got, err := tx.Get(id)
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestSubTransactionRollbackDiscardsWrites(t *testing.T) {
	reader := newFakeReader()
	tx := New(1, reader, nil, nil)

	tx.BeginSubTransaction()
	id, err := tx.Insert(1, 1, "widgets", 1, []byte(`{}`))
	require.NoError(t, err)
	require.NoError(t, tx.RollbackSubTransaction())

	got, err := tx.Get(id)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestFinalizeRejectsOpenSubTransaction(t *testing.T) {
	reader := newFakeReader()
	tx := New(1, reader, nil, nil)
	tx.BeginSubTransaction()

	_, err := tx.Finalize(MemoryLimits{}, nil, core.WriteSourceMutation)
	require.Error(t, err)
}

func TestFinalizeEnforcesMemoryLimit(t *testing.T) {
	reader := newFakeReader()
	tx := New(1, reader, nil, nil)
	_, err := tx.Insert(1, 1, "widgets", 1, []byte(`{}`))
	require.NoError(t, err)

	_, err = tx.Finalize(MemoryLimits{MaxEntriesPerTable: 1}, func(tablet core.TabletID) (int64, int64) {
		return 5, 0
	}, core.WriteSourceMutation)
	require.Error(t, err)
}
