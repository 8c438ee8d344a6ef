// Package committer implements the single-writer commit pipeline: the sole
// mutator of the snapshot manager, pending-write
// queue, and write log. Its mailbox-plus-ordered-completion-queue shape is
// grounded directly on bundoc/internal/wal/group_commit.go's
// GroupCommitter, generalized from "batch fsyncs, release waiters in
// submission order" to "dispatch persistence I/O concurrently, publish in
// strict commit-timestamp order".
package committer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kartikbazzad/syncbase/core"
	"github.com/kartikbazzad/syncbase/mvcc"
	"github.com/kartikbazzad/syncbase/pending"
	"github.com/kartikbazzad/syncbase/persistence"
	"github.com/kartikbazzad/syncbase/retention"
	"github.com/kartikbazzad/syncbase/writelog"
)

// FinalTransaction is the shape the committer needs from a finalized
// transaction.Transaction; declared here rather than imported, so
// committer does not depend on package transaction (which itself depends
// on nothing above core/mvcc/search/searcher) and transaction does not need to
// depend on committer.
type FinalTransaction struct {
	BeginTs     mvcc.Timestamp
	ReadSet     *mvcc.ReadSet
	Writes      *core.WriteSet
	TableDeltas map[core.TabletID]int64
	WriteSource core.WriteSource
}

// Invalidator is notified of every published commit's write-set
// intervals so subscription.Registry can wake overlapping read tokens.
// Declared as an interface for the same reason as FinalTransaction.
type Invalidator interface {
	Invalidate(entry writelog.Entry)
}

type noopInvalidator struct{}

func (noopInvalidator) Invalidate(writelog.Entry) {}

// Options configures a Committer.
type Options struct {
	Store       persistence.Store
	Snapshots   *mvcc.Manager
	WriteLog    *writelog.Log
	Pending     *pending.Queue
	Retention   retention.Validator
	Invalidator Invalidator

	// MailboxSize bounds how many in-flight commit requests may queue
	// before Commit returns an overload error.
	MailboxSize int
	// MailboxRate bounds the sustained commit submission rate; bursts up
	// to MailboxSize are still admitted immediately.
	MailboxRate rate.Limit
}

// Committer is the sole mutator of the snapshot manager, pending queue,
// and write log. All public methods are safe to call from any number of
// goroutines; internally, every state mutation is funneled through one
// run loop.
type Committer struct {
	store       persistence.Store
	snapshots   *mvcc.Manager
	writeLog    *writelog.Log
	pendingQ    *pending.Queue
	retention   retention.Validator
	invalidator Invalidator
	limiter     *rate.Limiter

	commits chan *commitRequest
	bumps   chan *bumpRequest

	lastAssigned mvcc.Timestamp // touched only inside run(): single-writer

	mu       sync.Mutex
	closed   bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

type commitRequest struct {
	tx     *FinalTransaction
	result chan commitResult
}

type commitResult struct {
	ts  mvcc.Timestamp
	err error
}

type bumpRequest struct {
	ctx    context.Context
	result chan commitResult
}

// New constructs a Committer and starts its run loop.
func New(opts Options) *Committer {
	if opts.MailboxSize <= 0 {
		opts.MailboxSize = 1000
	}
	if opts.Invalidator == nil {
		opts.Invalidator = noopInvalidator{}
	}
	limit := opts.MailboxRate
	if limit == 0 {
		limit = rate.Inf
	}
	_, latest := opts.Snapshots.Latest()
	c := &Committer{
		store:        opts.Store,
		snapshots:    opts.Snapshots,
		writeLog:     opts.WriteLog,
		pendingQ:     opts.Pending,
		retention:    opts.Retention,
		invalidator:  opts.Invalidator,
		limiter:      rate.NewLimiter(limit, opts.MailboxSize),
		commits:      make(chan *commitRequest, opts.MailboxSize),
		bumps:        make(chan *bumpRequest, 16),
		lastAssigned: latest.Timestamp,
		stopChan:     make(chan struct{}),
	}
	c.wg.Add(1)
	go c.run()
	return c
}

// Close stops the run loop after draining any in-flight requests.
func (c *Committer) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	close(c.stopChan)
	c.wg.Wait()
}

// Commit submits a finalized transaction for validation and, on success,
// commit-timestamp assignment and publication. The fast path for a
// read-only transaction (no staged writes) is handled here, outside the
// mailbox entirely, per step 1.
func (c *Committer) Commit(ctx context.Context, tx *FinalTransaction) (mvcc.Timestamp, error) {
	if tx.Writes.Len() == 0 {
		return tx.BeginTs, nil
	}
	if !c.limiter.Allow() {
		return 0, core.NewRateLimitedError("commit mailbox is overloaded")
	}

	req := &commitRequest{tx: tx, result: make(chan commitResult, 1)}
	select {
	case c.commits <- req:
	case <-c.stopChan:
		return 0, fmt.Errorf("committer: closed")
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	select {
	case res := <-req.result:
		return res.ts, res.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// BumpMaxRepeatableTs advances the liveness floor so read-only followers
// can establish recent repeatable snapshots without a real write, per
// the next_max_repeatable_ts.
func (c *Committer) BumpMaxRepeatableTs(ctx context.Context) (mvcc.Timestamp, error) {
	req := &bumpRequest{ctx: ctx, result: make(chan commitResult, 1)}
	select {
	case c.bumps <- req:
	case <-c.stopChan:
		return 0, fmt.Errorf("committer: closed")
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	res := <-req.result
	return res.ts, res.err
}

// inFlight is one commit whose persistence write has been dispatched but
// may not yet have completed; completions are consumed strictly in the
// order requests were accepted, regardless of which I/O finishes first.
type inFlight struct {
	req      *commitRequest
	commitTs mvcc.Timestamp
	updates  *appliedUpdates
	done     chan error
}

func (c *Committer) run() {
	defer c.wg.Done()
	queue := make([]*inFlight, 0, 16)

	for {
		// Only the head of the queue is waited on, so publication never
		// outruns commit-timestamp order.
		var headDone chan error
		if len(queue) > 0 {
			headDone = queue[0].done
		}
		select {
		case req := <-c.commits:
			item, err := c.validateAndDispatch(req)
			if err != nil {
				req.result <- commitResult{err: err}
				continue
			}
			queue = append(queue, item)
			queue = c.drainCompleted(queue)

		case err := <-headDone:
			c.finishOne(queue[0], err)
			queue = c.drainCompleted(queue[1:])

		case req := <-c.bumps:
			ts, err := c.bumpLocked(req.ctx)
			req.result <- commitResult{ts: ts, err: err}

		case <-c.stopChan:
			c.drainAll(queue)
			return
		}
	}
}

// drainCompleted publishes every prefix of queue whose persistence I/O has
// already finished, stopping at the first still-in-flight entry so
// publication order never outruns commit-timestamp order.
func (c *Committer) drainCompleted(queue []*inFlight) []*inFlight {
	i := 0
	for i < len(queue) {
		select {
		case err := <-queue[i].done:
			c.finishOne(queue[i], err)
			i++
		default:
			return queue[i:]
		}
	}
	return queue[i:]
}

// drainAll blocks until every remaining in-flight commit completes, used
// when shutting down so no caller is left waiting forever.
func (c *Committer) drainAll(queue []*inFlight) {
	for _, item := range queue {
		err := <-item.done
		c.finishOne(item, err)
	}
}

func (c *Committer) finishOne(item *inFlight, persistErr error) {
	if persistErr != nil {
		if ambiguous, ok := persistErr.(*persistence.AmbiguousError); ok {
			// Fatal: durability outcome unknown. A real deployment would
			// signal process shutdown here; this module does not own the
			// process lifecycle, so it surfaces a Fatal *core.Error and
			// leaves the pending entry in place for the caller to react to.
			item.req.result <- commitResult{err: core.NewPersistenceAmbiguousError(ambiguous)}
			return
		}
		c.pendingQ.Pop(item.commitTs)
		item.req.result <- commitResult{err: core.NewPersistenceDefiniteError(persistErr)}
		return
	}

	entry := c.publish(item.commitTs, item.updates)
	c.invalidator.Invalidate(entry)
	item.req.result <- commitResult{ts: item.commitTs}
}

// assignCommitTs implements step 2. Only ever called from
// run(), so lastAssigned needs no lock.
func (c *Committer) assignCommitTs() mvcc.Timestamp {
	latestTs, _ := c.snapshots.Latest()
	candidate := latestTs.Succ()
	if c.lastAssigned.Succ() > candidate {
		candidate = c.lastAssigned.Succ()
	}
	wall := mvcc.Timestamp(time.Now().UnixNano())
	if wall > candidate {
		candidate = wall
	}
	c.lastAssigned = candidate
	return candidate
}

// validateAndDispatch runs the commit protocol's validate-and-apply steps for one request:
// assign commit_ts, check OCC staleness, order writes, apply them against
// the latest snapshot, push a pending entry, and dispatch the persistence
// write asynchronously.
func (c *Committer) validateAndDispatch(req *commitRequest) (*inFlight, error) {
	tx := req.tx
	commitTs := c.assignCommitTs()

	if err := c.checkStaleness(tx, commitTs); err != nil {
		return nil, err
	}

	ordered := sortWrites(tx.Writes.Ordered())
	_, latest := c.snapshots.Latest()
	applied, err := applyWrites(latest, commitTs, ordered, tx.TableDeltas, string(tx.WriteSource))
	if err != nil {
		return nil, err
	}

	c.pendingQ.Push(pending.Write{Ts: commitTs, Intervals: applied.intervals, WriteSource: applied.writeSource})

	done := make(chan error, 1)
	store := c.store
	go func() {
		done <- store.Write(context.Background(), applied.documentWrites(commitTs), applied.indexWrites(commitTs), persistence.ConflictError)
	}()

	return &inFlight{req: req, commitTs: commitTs, updates: applied, done: done}, nil
}

// checkStaleness implements step 3.
func (c *Committer) checkStaleness(tx *FinalTransaction, commitTs mvcc.Timestamp) error {
	for _, w := range c.pendingQ.Range(tx.BeginTs, commitTs) {
		if conflict, ok := tx.ReadSet.OverlapsAny(w.Intervals); ok {
			return core.NewOCCConflict(fmt.Sprintf("%+v", conflict), core.WriteSource(w.WriteSource))
		}
	}
	for _, e := range c.writeLog.Range(tx.BeginTs, commitTs) {
		if conflict, ok := tx.ReadSet.OverlapsAny(e.Intervals); ok {
			return core.NewOCCConflict(fmt.Sprintf("%+v", conflict), core.WriteSource(e.WriteSource))
		}
	}
	return nil
}

// publish implements step 8: pop the matching pending entry,
// apply the same updates to the latest snapshot, append to the write log,
// and push the new snapshot.
func (c *Committer) publish(commitTs mvcc.Timestamp, applied *appliedUpdates) writelog.Entry {
	c.pendingQ.Pop(commitTs)

	_, latest := c.snapshots.Latest()
	next := applied.apply(latest).WithTimestamp(commitTs)
	c.snapshots.Push(commitTs, next)

	entry := writelog.Entry{Ts: commitTs, Intervals: applied.intervals, WriteSource: applied.writeSource}
	c.writeLog.Append(entry)
	return entry
}

// bumpLocked implements next_max_repeatable_ts; only ever called from
// run(), so it may freely touch lastAssigned and issue persistence I/O
// synchronously (no concurrent commits can be mutating state meanwhile).
func (c *Committer) bumpLocked(ctx context.Context) (mvcc.Timestamp, error) {
	if minPending, ok := c.pendingQ.MinTs(); ok {
		return minPending.Pred(), nil
	}
	ts := c.assignCommitTs()
	if err := c.store.WritePersistenceGlobal(ctx, persistence.GlobalMaxRepeatableTimestamp, []byte(ts.String())); err != nil {
		return 0, core.NewPersistenceDefiniteError(err)
	}
	c.writeLog.Append(writelog.Entry{Ts: ts, WriteSource: string(core.WriteSourceInternal)})
	_, latest := c.snapshots.Latest()
	c.snapshots.Push(ts, latest.WithTimestamp(ts))
	return ts, nil
}
