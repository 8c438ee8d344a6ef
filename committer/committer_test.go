package committer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kartikbazzad/syncbase/core"
	"github.com/kartikbazzad/syncbase/mvcc"
	"github.com/kartikbazzad/syncbase/pending"
	"github.com/kartikbazzad/syncbase/persistence"
	"github.com/kartikbazzad/syncbase/writelog"
)

func newTestCommitter(t *testing.T, store persistence.Store) (*Committer, *mvcc.Manager) {
	t.Helper()
	snapshots := mvcc.NewManager(mvcc.NewEmptySnapshot())
	c := New(Options{
		Store:     store,
		Snapshots: snapshots,
		WriteLog:  writelog.New(64),
		Pending:   pending.New(),
	})
	t.Cleanup(c.Close)
	return c, snapshots
}

func docID(tablet core.TabletID, internal uint64) core.DocumentID {
	return core.DocumentID{Tablet: tablet, Developer: core.DeveloperID{TableNumber: 1, InternalID: internal}}
}

func insertTx(beginTs mvcc.Timestamp, id core.DocumentID, value string) *FinalTransaction {
	ws := core.NewWriteSet()
	ws.Stage(core.DocumentUpdate{ID: id, New: &core.Document{ID: id, CreationTime: beginTs, Value: []byte(value)}})
	return &FinalTransaction{
		BeginTs:     beginTs,
		ReadSet:     &mvcc.ReadSet{},
		Writes:      ws,
		TableDeltas: map[core.TabletID]int64{id.Tablet: 1},
		WriteSource: core.WriteSourceMutation,
	}
}

func TestCommitReadOnlyFastPath(t *testing.T) {
	c, _ := newTestCommitter(t, persistence.NewMemory())
	tx := &FinalTransaction{BeginTs: 7, ReadSet: &mvcc.ReadSet{}, Writes: core.NewWriteSet()}

	ts, err := c.Commit(context.Background(), tx)
	require.NoError(t, err)
	require.Equal(t, mvcc.Timestamp(7), ts)
}

func TestCommitPublishesNewSnapshot(t *testing.T) {
	c, snapshots := newTestCommitter(t, persistence.NewMemory())
	id := docID(10, 1)

	ts, err := c.Commit(context.Background(), insertTx(0, id, `{"name":"a"}`))
	require.NoError(t, err)
	require.Greater(t, uint64(ts), uint64(0))

	_, latest := snapshots.Latest()
	require.Equal(t, ts, latest.Timestamp)
	idx := latest.MemoryIndexes[core.ByIDIndexID(id.Tablet)]
	require.NotNil(t, idx)
	_, ok := idx.Get(core.EncodeByID(id))
	require.True(t, ok)
	require.Equal(t, int64(1), latest.Summaries.Get(id.Tablet).Count)
}

func TestCommitDetectsOCCConflict(t *testing.T) {
	c, _ := newTestCommitter(t, persistence.NewMemory())
	id := docID(10, 1)

	_, err := c.Commit(context.Background(), insertTx(0, id, `{"name":"a"}`))
	require.NoError(t, err)

	tx := insertTx(0, docID(10, 2), `{"name":"b"}`)
	tx.ReadSet.RecordRange(mvcc.Interval{
		Tablet: id.Tablet, Index: core.ByIDIndexID(id.Tablet),
		Lo: core.EncodeByID(id), Hi: core.EncodeByID(id),
	})

	_, err = c.Commit(context.Background(), tx)
	require.Error(t, err)
	coreErr, ok := err.(*core.Error)
	require.True(t, ok)
	require.Equal(t, core.ErrOCCConflict, coreErr.Kind)
	require.True(t, coreErr.Retryable)
}

type failingStore struct {
	persistence.Store
	err error
}

func (f *failingStore) Write(ctx context.Context, documents []persistence.DocumentWrite, indexes []persistence.IndexWrite, strategy persistence.ConflictStrategy) error {
	return f.err
}

func TestCommitSurfacesDefinitePersistenceError(t *testing.T) {
	base := persistence.NewMemory()
	c, _ := newTestCommitter(t, &failingStore{Store: base, err: errors.New("disk full")})

	_, err := c.Commit(context.Background(), insertTx(0, docID(10, 1), `{}`))
	require.Error(t, err)
	coreErr, ok := err.(*core.Error)
	require.True(t, ok)
	require.Equal(t, core.ErrPersistenceDefinite, coreErr.Kind)
	require.False(t, coreErr.Fatal)
}

func TestCommitSurfacesAmbiguousPersistenceErrorAsFatal(t *testing.T) {
	base := persistence.NewMemory()
	ambiguous := &persistence.AmbiguousError{Cause: errors.New("timed out mid-fsync")}
	c, _ := newTestCommitter(t, &failingStore{Store: base, err: ambiguous})

	_, err := c.Commit(context.Background(), insertTx(0, docID(10, 1), `{}`))
	require.Error(t, err)
	coreErr, ok := err.(*core.Error)
	require.True(t, ok)
	require.Equal(t, core.ErrPersistenceAmbiguous, coreErr.Kind)
	require.True(t, coreErr.Fatal)
}

func TestBumpMaxRepeatableTsAdvancesWithNoPendingWrites(t *testing.T) {
	c, snapshots := newTestCommitter(t, persistence.NewMemory())
	_, before := snapshots.Latest()

	ts, err := c.BumpMaxRepeatableTs(context.Background())
	require.NoError(t, err)
	require.Greater(t, uint64(ts), uint64(before.Timestamp))

	_, after := snapshots.Latest()
	require.Equal(t, ts, after.Timestamp)
}

func TestLoadIndexesIntoMemoryMaterializesFromPersistence(t *testing.T) {
	store := persistence.NewMemory()
	c, snapshots := newTestCommitter(t, store)
	id := docID(20, 1)

	ts, err := c.Commit(context.Background(), insertTx(0, id, `{"name":"a"}`))
	require.NoError(t, err)

	require.NoError(t, c.LoadIndexesIntoMemory(context.Background(), store, []core.TabletID{20}))

	_, latest := snapshots.Latest()
	idx := latest.MemoryIndexes[core.ByIDIndexID(20)]
	require.NotNil(t, idx)
	entry, ok := idx.Get(core.EncodeByID(id))
	require.True(t, ok)
	require.Equal(t, ts, entry.Ts)
}

func TestBumpMaxRepeatableTsDoesNotBlockOnConcurrentCommit(t *testing.T) {
	c, _ := newTestCommitter(t, persistence.NewMemory())
	_, err := c.Commit(context.Background(), insertTx(0, docID(10, 1), `{}`))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = c.BumpMaxRepeatableTs(ctx)
	require.NoError(t, err)
}
