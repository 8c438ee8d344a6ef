package syncbase

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kartikbazzad/syncbase/core"
	"github.com/kartikbazzad/syncbase/mvcc"
	"github.com/kartikbazzad/syncbase/persistence"
	"github.com/kartikbazzad/syncbase/searcher"
	"github.com/kartikbazzad/syncbase/sync"
	"github.com/kartikbazzad/syncbase/transaction"
)

func newTestDatabase(t *testing.T) *Database {
	t.Helper()
	db, err := Open(context.Background(), Options{
		Store:          persistence.NewMemory(),
		SearchStorage:  searcher.NewMemoryStorage(),
		SearchProvider: searcher.NewMemory(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })
	return db
}

func TestOpenBootstrapsEmptyStore(t *testing.T) {
	db := newTestDatabase(t)
	require.Equal(t, mvcc.Timestamp(0), db.LatestTimestamp())
}

func TestCreateTableAssignsTableNumberEqualToTablet(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	tablet, err := db.CreateTable(ctx, "app", "widgets")
	require.NoError(t, err)
	require.NotZero(t, tablet)

	// TableNumber == TabletID forever: resolving through the reader view
	// of the latest snapshot must agree.
	_, snap := db.snapshots.Latest()
	num, ok := db.reader(snap).TableNumber(tablet)
	require.True(t, ok)
	require.Equal(t, core.TableNumber(tablet), num)
}

func TestRunMutationInsertThenRunQueryGet(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	tablet, err := db.CreateTable(ctx, "app", "widgets")
	require.NoError(t, err)
	tableNum := core.TableNumber(tablet)

	var insertedID core.DocumentID
	db.RegisterMutation("widgets.create", func(tx *transaction.Transaction, args map[string]interface{}) (interface{}, error) {
		name, _ := args["name"].(string)
		value, err := json.Marshal(map[string]string{"name": name})
		if err != nil {
			return nil, err
		}
		id, err := tx.Insert(tablet, tableNum, "widgets", 0, value)
		if err != nil {
			return nil, err
		}
		insertedID = id
		return id, nil
	})
	db.RegisterQuery("widgets.get", func(tx *transaction.Transaction, args map[string]interface{}) (interface{}, error) {
		doc, err := tx.Get(insertedID)
		if err != nil {
			return nil, err
		}
		if doc == nil {
			return nil, nil
		}
		return string(doc.Value), nil
	})

	_, commitTs, err := db.RunMutation(ctx, "widgets.create", map[string]interface{}{"name": "sprocket"})
	require.NoError(t, err)
	require.Greater(t, uint64(commitTs), uint64(0))
	require.Equal(t, commitTs, db.LatestTimestamp())

	result, err := db.RunQuery(ctx, sync.QuerySpec{Path: "widgets.get"}, commitTs)
	require.NoError(t, err)
	require.JSONEq(t, `{"name":"sprocket"}`, result.Value.(string))
}

func TestRunMutationUnregisteredPathErrors(t *testing.T) {
	db := newTestDatabase(t)
	_, _, err := db.RunMutation(context.Background(), "does.not.exist", nil)
	require.Error(t, err)
}

func TestRunQueryAtStaleTimestampStillReadable(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	tablet, err := db.CreateTable(ctx, "app", "widgets")
	require.NoError(t, err)
	tableNum := core.TableNumber(tablet)

	var firstID core.DocumentID
	db.RegisterMutation("widgets.create", func(tx *transaction.Transaction, args map[string]interface{}) (interface{}, error) {
		id, err := tx.Insert(tablet, tableNum, "widgets", 0, json.RawMessage(`{"n":1}`))
		firstID = id
		return id, err
	})
	db.RegisterQuery("widgets.get", func(tx *transaction.Transaction, args map[string]interface{}) (interface{}, error) {
		doc, err := tx.Get(firstID)
		if err != nil || doc == nil {
			return nil, err
		}
		return string(doc.Value), nil
	})

	_, firstTs, err := db.RunMutation(ctx, "widgets.create", nil)
	require.NoError(t, err)

	// A second, unrelated table creation advances LatestTimestamp without
	// touching the first document.
	_, err = db.CreateTable(ctx, "app", "gadgets")
	require.NoError(t, err)
	require.Greater(t, uint64(db.LatestTimestamp()), uint64(firstTs))

	result, err := db.RunQuery(ctx, sync.QuerySpec{Path: "widgets.get"}, firstTs)
	require.NoError(t, err)
	require.JSONEq(t, `{"n":1}`, result.Value.(string))
}

func TestDocCacheServesRepeatedPointReads(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	tablet, err := db.CreateTable(ctx, "app", "widgets")
	require.NoError(t, err)
	tableNum := core.TableNumber(tablet)

	var id core.DocumentID
	db.RegisterMutation("widgets.create", func(tx *transaction.Transaction, args map[string]interface{}) (interface{}, error) {
		var err error
		id, err = tx.Insert(tablet, tableNum, "widgets", 0, json.RawMessage(`{"n":1}`))
		return id, err
	})
	_, ts, err := db.RunMutation(ctx, "widgets.create", nil)
	require.NoError(t, err)

	_, snap := db.snapshots.Latest()
	reader := db.reader(snap)

	doc, ok := reader.GetDocument(id)
	require.True(t, ok)
	require.JSONEq(t, `{"n":1}`, string(doc.Value))

	key := docCacheKey{tablet: id.Tablet, internal: id.Developer.InternalID, ts: ts}
	_, cached := db.docCache.Get(key)
	require.True(t, cached, "a point read at this id/ts should populate docCache")

	again, ok := reader.GetDocument(id)
	require.True(t, ok)
	require.Equal(t, doc.Value, again.Value)
}

func TestAuthenticateNoProviderAllowsAnyToken(t *testing.T) {
	db := newTestDatabase(t)
	require.NoError(t, db.Authenticate("anything"))
}

func TestNextInternalIDNeverCollidesAcrossTransactions(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	tablet, err := db.CreateTable(ctx, "app", "widgets")
	require.NoError(t, err)
	tableNum := core.TableNumber(tablet)

	seen := make(map[uint64]bool)
	db.RegisterMutation("widgets.create", func(tx *transaction.Transaction, args map[string]interface{}) (interface{}, error) {
		id, err := tx.Insert(tablet, tableNum, "widgets", 0, json.RawMessage(`{}`))
		return id, err
	})

	for i := 0; i < 5; i++ {
		v, _, err := db.RunMutation(ctx, "widgets.create", nil)
		require.NoError(t, err)
		id := v.(core.DocumentID)
		require.False(t, seen[id.Developer.InternalID], "internal id reused: %d", id.Developer.InternalID)
		seen[id.Developer.InternalID] = true
	}
}
