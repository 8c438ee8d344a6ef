package sync

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kartikbazzad/syncbase/mvcc"
	"github.com/kartikbazzad/syncbase/subscription"
	"github.com/kartikbazzad/syncbase/writelog"
)

type fakeDB struct {
	latest mvcc.Timestamp
	subs   *subscription.Registry
	value  atomic.Value // interface{}
}

func newFakeDB() *fakeDB {
	db := &fakeDB{subs: subscription.NewRegistry(writelog.New(16))}
	db.value.Store("v0")
	return db
}

func (f *fakeDB) LatestTimestamp() mvcc.Timestamp { return f.latest }

func (f *fakeDB) RunQuery(ctx context.Context, spec QuerySpec, ts mvcc.Timestamp) (QueryResult, error) {
	return QueryResult{Value: f.value.Load(), ReadSet: &mvcc.ReadSet{}}, nil
}

func (f *fakeDB) RunMutation(ctx context.Context, path string, args map[string]interface{}) (interface{}, mvcc.Timestamp, error) {
	return "ok", f.latest, nil
}

func (f *fakeDB) RunAction(ctx context.Context, path string, args map[string]interface{}) (interface{}, error) {
	return "done", nil
}

func (f *fakeDB) Subscriptions() *subscription.Registry { return f.subs }

func (f *fakeDB) Authenticate(token string) error { return nil }

func TestConnectThenModifyQuerySet(t *testing.T) {
	db := newFakeDB()
	inbound := make(chan interface{}, 8)
	outbound := make(chan Outbound, 8)
	w, err := New(Options{DB: db}, inbound, outbound)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	inbound <- ConnectMsg{SessionID: "s1"}
	time.Sleep(10 * time.Millisecond)

	inbound <- ModifyQuerySetMsg{
		Modifications: []Modification{{Add: &QuerySpec{QueryID: "q1", Path: "list"}}},
	}
	time.Sleep(10 * time.Millisecond)
	require.Equal(t, 1, w.ActiveQueryCount())
}

func TestLinearizabilityGuardAborts(t *testing.T) {
	db := newFakeDB()
	db.latest = 5
	inbound := make(chan interface{}, 8)
	outbound := make(chan Outbound, 8)
	w, err := New(Options{DB: db}, inbound, outbound)
	require.NoError(t, err)

	ahead := mvcc.Timestamp(10)
	inbound <- ConnectMsg{SessionID: "s1", MaxObservedTs: &ahead}

	runErr := make(chan error, 1)
	go func() { runErr <- w.Run(context.Background()) }()

	select {
	case msg := <-outbound:
		_, ok := msg.(FatalError)
		require.True(t, ok, "expected FatalError, got %T", msg)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for FatalError")
	}
	require.Error(t, <-runErr)
}

func TestMutationDeduplicatesByRequestID(t *testing.T) {
	db := newFakeDB()
	inbound := make(chan interface{}, 8)
	outbound := make(chan Outbound, 8)
	w, err := New(Options{DB: db}, inbound, outbound)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	inbound <- ConnectMsg{SessionID: "s1"}
	time.Sleep(10 * time.Millisecond)

	inbound <- MutationMsg{RequestID: "r1", Path: "create"}
	inbound <- MutationMsg{RequestID: "r1", Path: "create"}

	got := 0
	timeout := time.After(time.Second)
	for got < 1 {
		select {
		case msg := <-outbound:
			if _, ok := msg.(MutationResponse); ok {
				got++
			}
		case <-timeout:
			t.Fatal("timed out waiting for mutation response")
		}
	}
	// A second response for the duplicate request id should never arrive.
	select {
	case msg := <-outbound:
		if _, ok := msg.(MutationResponse); ok {
			t.Fatal("duplicate mutation was executed twice")
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUpdatePipelineEmitsTransitionOnValueChange(t *testing.T) {
	db := newFakeDB()
	inbound := make(chan interface{}, 8)
	outbound := make(chan Outbound, 8)
	w, err := New(Options{DB: db}, inbound, outbound)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	inbound <- ConnectMsg{SessionID: "s1"}
	time.Sleep(10 * time.Millisecond)
	inbound <- ModifyQuerySetMsg{Modifications: []Modification{{Add: &QuerySpec{QueryID: "q1", Path: "list"}}}}
	time.Sleep(10 * time.Millisecond)

	db.latest = 1
	db.value.Store("v1")

	timeout := time.After(time.Second)
	for {
		select {
		case msg := <-outbound:
			if tr, ok := msg.(Transition); ok {
				require.Len(t, tr.Modifications, 1)
				require.Equal(t, QueryUpdated, tr.Modifications[0].Kind)
				return
			}
		case <-timeout:
			t.Fatal("timed out waiting for transition")
		}
	}
}
