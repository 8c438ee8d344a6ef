package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/kartikbazzad/syncbase/core"
	"github.com/kartikbazzad/syncbase/mvcc"
	"github.com/kartikbazzad/syncbase/subscription"
)

// QueryResult is what Database.RunQuery returns: the UDF's return value,
// the read set it accumulated (handed to subscription.Registry to mint a
// fresh Subscription), and an opaque journal hint for the next re-run.
type QueryResult struct {
	Value   interface{}
	ReadSet *mvcc.ReadSet
	Journal []byte
}

// Database is the capability surface Worker needs from the rest of the
// system: the latest repeatable timestamp, query execution, and
// mutation/action dispatch. Declared here rather than imported so this
// package never depends on the root package (which assembles Database
// from committer+transaction+mvcc and in turn will depend on sync.Worker
// to serve client sessions).
type Database interface {
	LatestTimestamp() mvcc.Timestamp
	RunQuery(ctx context.Context, spec QuerySpec, ts mvcc.Timestamp) (QueryResult, error)
	RunMutation(ctx context.Context, path string, args map[string]interface{}) (interface{}, mvcc.Timestamp, error)
	RunAction(ctx context.Context, path string, args map[string]interface{}) (interface{}, error)
	Subscriptions() *subscription.Registry
	Authenticate(token string) error
}

// Options configures a Worker.
type Options struct {
	SessionID string
	DB        Database

	// MutationQueueSize bounds how many mutations may be buffered ahead of
	// the one currently executing before the queue rejects new submissions.
	MutationQueueSize int
	// MaxInFlightActions bounds action concurrency (a set
	// of in-flight actions (bounded parallelism)").
	MaxInFlightActions int
	// OutboundBacklogLimit is the backpressure threshold:
	// once this many Transitions are unacknowledged, the worker defers
	// further update pipelines until the client drains.
	OutboundBacklogLimit int
	// HeartbeatInterval controls the Ping cadence.
	HeartbeatInterval time.Duration
	// SearchRetryDelay is how long a query that failed with
	// ErrSearchUnavailable waits before its next re-execution attempt.
	SearchRetryDelay time.Duration
}

func (o *Options) setDefaults() {
	if o.SessionID == "" {
		o.SessionID = uuid.NewString()
	}
	if o.MutationQueueSize <= 0 {
		o.MutationQueueSize = 64
	}
	if o.MaxInFlightActions <= 0 {
		o.MaxInFlightActions = 16
	}
	if o.OutboundBacklogLimit <= 0 {
		o.OutboundBacklogLimit = 32
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 10 * time.Second
	}
	if o.SearchRetryDelay <= 0 {
		o.SearchRetryDelay = 2 * time.Second
	}
}

// activeQuery is one entry of the worker's query set: its spec, last
// delivered value, and the subscription backing validity extension.
type activeQuery struct {
	spec       QuerySpec
	value      interface{}
	journal    []byte
	err        error
	sub        *subscription.Subscription
	retryAfter time.Time // zero unless deferred on ErrSearchUnavailable
}

type mutationJob struct {
	msg  MutationMsg
	done chan MutationResponse
}

// Worker is the per-client live-query session driver. One
// Worker instance is created per connected client; it owns no state shared
// with any other session.
type Worker struct {
	opts Options
	db   Database

	current Version
	queries map[QueryID]*activeQuery

	inbound  <-chan interface{}
	outbound chan<- Outbound

	mutationQueue    chan mutationJob
	mutationDone     chan MutationResponse
	mutationSeen     map[RequestID]bool
	mutationInFlight bool

	actionPool   *ants.Pool
	actionDone   chan ActionResponse
	actionInFlight map[RequestID]bool

	outboundBacklog int

	// pendingChanges holds QueryChanges produced outside runUpdatePipeline's
	// own reexecute loop (currently just QueryRemoved, staged by
	// applyModifications) until the next Transition is built.
	pendingChanges []QueryChange

	connected bool
	closed    bool

	mu sync.Mutex // guards outboundBacklog, read from ack callbacks outside run()
}

// New constructs a Worker bound to inbound/outbound channels the transport
// layer feeds and drains. Run must be called to start the event loop.
func New(opts Options, inbound <-chan interface{}, outbound chan<- Outbound) (*Worker, error) {
	opts.setDefaults()
	pool, err := ants.NewPool(opts.MaxInFlightActions)
	if err != nil {
		return nil, fmt.Errorf("sync: build action pool: %w", err)
	}
	return &Worker{
		opts:           opts,
		db:             opts.DB,
		queries:        make(map[QueryID]*activeQuery),
		inbound:        inbound,
		outbound:       outbound,
		mutationQueue:  make(chan mutationJob, opts.MutationQueueSize),
		mutationDone:   make(chan MutationResponse, 1),
		mutationSeen:   make(map[RequestID]bool),
		actionPool:     pool,
		actionDone:     make(chan ActionResponse, opts.MaxInFlightActions),
		actionInFlight: make(map[RequestID]bool),
	}, nil
}

// Ack records that the client has processed n outstanding Transitions,
// draining the backpressure counter. Called by the transport layer on
// receipt of whatever ack mechanism the wire protocol uses.
func (w *Worker) Ack(n int) {
	w.mu.Lock()
	w.outboundBacklog -= n
	if w.outboundBacklog < 0 {
		w.outboundBacklog = 0
	}
	w.mu.Unlock()
}

func (w *Worker) backlogBelowThreshold() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.outboundBacklog < w.opts.OutboundBacklogLimit
}

func (w *Worker) emit(ctx context.Context, msg Outbound) {
	if _, isTransition := msg.(Transition); isTransition {
		w.mu.Lock()
		w.outboundBacklog++
		w.mu.Unlock()
	}
	select {
	case w.outbound <- msg:
	case <-ctx.Done():
	}
}

// Run drives the session event loop until ctx is cancelled or a fatal
// condition closes the session. The first message received over inbound
// must be a ConnectMsg per the session establishment rule.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.establish(ctx); err != nil {
		return err
	}

	heartbeat := time.NewTicker(w.opts.HeartbeatInterval)
	defer heartbeat.Stop()
	// updateTick drives the "scheduled update work" select arm of the
	// event loop even when no other event fires, so a commit that
	// lands without an explicit invalidation push still gets picked up
	// promptly.
	updateTick := time.NewTicker(50 * time.Millisecond)
	defer updateTick.Stop()

	for {
		select {
		case <-ctx.Done():
			w.closeSession()
			return ctx.Err()

		case msg, ok := <-w.inbound:
			if !ok {
				w.closeSession()
				return nil
			}
			if fatal := w.handleInbound(ctx, msg); fatal != nil {
				w.emit(ctx, *fatal)
				w.closeSession()
				return errors.New(fatal.Reason)
			}

		case resp := <-w.mutationDone:
			w.mutationInFlight = false
			w.emit(ctx, resp)
			w.drainMutationQueue(ctx)

		case resp := <-w.actionDone:
			delete(w.actionInFlight, resp.RequestID)
			w.emit(ctx, resp)

		case <-heartbeat.C:
			w.emit(ctx, Ping{})

		case <-updateTick.C:
			w.runUpdatePipeline(ctx)
		}
	}
}

func (w *Worker) establish(ctx context.Context) error {
	select {
	case msg, ok := <-w.inbound:
		if !ok {
			return fmt.Errorf("sync: session closed before Connect")
		}
		connect, ok := msg.(ConnectMsg)
		if !ok {
			return fmt.Errorf("sync: first message must be Connect, got %T", msg)
		}
		latest := w.db.LatestTimestamp()
		if connect.MaxObservedTs != nil && *connect.MaxObservedTs > latest {
			// Linearizability guard: the client
			// has observed state this server does not have yet. Serving it
			// would let the client see time run backwards on reconnect.
			w.emit(ctx, FatalError{Reason: "max_observed_ts exceeds server's latest timestamp"})
			return fmt.Errorf("sync: linearizability violation: max_observed_ts %s > latest %s", *connect.MaxObservedTs, latest)
		}
		w.current = Version{Ts: latest}
		w.connected = true
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) closeSession() {
	w.closed = true
	w.actionPool.Release()
	for _, q := range w.queries {
		if q.sub != nil {
			w.db.Subscriptions().Unsubscribe(q.sub)
		}
	}
}

// handleInbound dispatches one client message. It returns nil for every
// message: the linearizability guard runs in establish, and an auth
// failure emits AuthError without ending the session.
func (w *Worker) handleInbound(ctx context.Context, msg interface{}) *FatalError {
	switch m := msg.(type) {
	case ModifyQuerySetMsg:
		w.applyModifications(m)
	case MutationMsg:
		w.submitMutation(ctx, m)
	case ActionMsg:
		w.submitAction(ctx, m)
	case AuthenticateMsg:
		if err := w.db.Authenticate(m.Token); err != nil {
			w.emit(ctx, AuthError{Reason: err.Error()})
		}
	case EventMsg:
		// Opaque client telemetry; nothing to do beyond acknowledging
		// receipt, which the transport layer handles outside this type.
	default:
	}
	return nil
}

func (w *Worker) applyModifications(m ModifyQuerySetMsg) {
	for _, mod := range m.Modifications {
		if mod.Add != nil {
			w.queries[mod.Add.QueryID] = &activeQuery{spec: *mod.Add, journal: mod.Add.Journal}
		}
		if mod.Remove != "" {
			if q, ok := w.queries[mod.Remove]; ok {
				if q.sub != nil {
					w.db.Subscriptions().Unsubscribe(q.sub)
				}
				delete(w.queries, mod.Remove)
				w.pendingChanges = append(w.pendingChanges, QueryChange{QueryID: mod.Remove, Kind: QueryRemoved})
			}
		}
	}
	w.current.QuerySetVersion = m.NewVersion.QuerySetVersion
}

// submitMutation enqueues m, deduping on (session, request_id) per
// one Worker per connected client. Mutations are queued FIFO and executed one at a time;
// drainMutationQueue starts the next one once the in-flight slot is free.
func (w *Worker) submitMutation(ctx context.Context, m MutationMsg) {
	if w.mutationSeen[m.RequestID] {
		return
	}
	w.mutationSeen[m.RequestID] = true
	job := mutationJob{msg: m, done: nil}
	select {
	case w.mutationQueue <- job:
	default:
		w.emit(ctx, MutationResponse{RequestID: m.RequestID, Err: core.NewRateLimitedError("mutation queue overflow")})
		return
	}
	w.drainMutationQueue(ctx)
}

// drainMutationQueue starts the next queued mutation if none is currently
// executing. Mutations run one at a time: submitMutation and the
// mutationDone handler in Run both call this, but mutationInFlight (only
// ever touched from the single run() goroutine) guards against starting a
// second one before the first completes.
func (w *Worker) drainMutationQueue(ctx context.Context) {
	if w.mutationInFlight {
		return
	}
	select {
	case job := <-w.mutationQueue:
		w.mutationInFlight = true
		go func() {
			result, ts, err := w.db.RunMutation(ctx, job.msg.Path, job.msg.Args)
			w.mutationDone <- MutationResponse{RequestID: job.msg.RequestID, Result: result, Err: err, Ts: ts}
		}()
	default:
	}
}

// submitAction dispatches m through the bounded action pool, at most one
// concurrent invocation per (session, request_id).
func (w *Worker) submitAction(ctx context.Context, m ActionMsg) {
	if w.actionInFlight[m.RequestID] {
		return
	}
	w.actionInFlight[m.RequestID] = true
	err := w.actionPool.Submit(func() {
		result, err := w.db.RunAction(ctx, m.Path, m.Args)
		w.actionDone <- ActionResponse{RequestID: m.RequestID, Result: result, Err: err}
	})
	if err != nil {
		delete(w.actionInFlight, m.RequestID)
		w.emit(ctx, ActionResponse{RequestID: m.RequestID, Err: core.NewRateLimitedError("action pool overloaded")})
	}
}

// runUpdatePipeline implements the update pipeline: latch a
// target timestamp, try to extend every active query's subscription past
// it, re-execute the ones that can't be proven valid, and emit a single
// Transition covering only the queries whose delivered state actually
// changed. Backpressure: if the outbound backlog is already at the
// configured threshold, this is a no-op for this tick.
func (w *Worker) runUpdatePipeline(ctx context.Context) {
	if w.closed || !w.connected {
		return
	}
	if !w.backlogBelowThreshold() {
		return
	}

	newTs := w.db.LatestTimestamp()
	changes := w.pendingChanges
	w.pendingChanges = nil
	if newTs <= w.current.Ts && len(changes) == 0 {
		return
	}

	now := time.Now()
	for id, q := range w.queries {
		if !q.retryAfter.IsZero() && now.Before(q.retryAfter) {
			continue
		}
		if q.sub != nil && q.sub.Extend(newTs) {
			continue // still provably valid; nothing changed
		}
		change, changed := w.reexecute(ctx, id, q, newTs)
		if changed {
			changes = append(changes, change)
		}
	}

	if len(changes) == 0 {
		w.current.Ts = newTs
		return
	}

	start := w.current
	w.current.Ts = newTs
	w.emit(ctx, Transition{StartVersion: start, EndVersion: w.current, Modifications: changes})
}

// reexecute re-runs one query at newTs and reports whether its delivered
// state changed (value, error, or presence). On ErrSearchUnavailable it
// schedules a delayed retry instead of surfacing a hard failure, per
// step 2's "skip and schedule a delayed retry".
func (w *Worker) reexecute(ctx context.Context, id QueryID, q *activeQuery, newTs mvcc.Timestamp) (QueryChange, bool) {
	res, err := w.db.RunQuery(ctx, q.spec, newTs)
	if err != nil {
		var syncErr *core.Error
		if errors.As(err, &syncErr) && syncErr.Kind == core.ErrSearchUnavailable {
			q.retryAfter = time.Now().Add(w.opts.SearchRetryDelay)
			return QueryChange{}, false
		}
		changed := q.err == nil || q.err.Error() != err.Error()
		q.err = err
		q.value = nil
		if q.sub != nil {
			w.db.Subscriptions().Unsubscribe(q.sub)
			q.sub = nil
		}
		if !changed {
			return QueryChange{}, false
		}
		return QueryChange{QueryID: id, Kind: QueryFailed, Err: err}, true
	}

	if q.sub != nil {
		w.db.Subscriptions().Unsubscribe(q.sub)
	}
	q.sub = w.db.Subscriptions().Subscribe(subscription.Token{ReadSet: res.ReadSet, BeginTs: newTs})
	q.journal = res.Journal
	q.retryAfter = time.Time{}

	changed := q.err != nil || !valuesEqual(q.value, res.Value)
	q.err = nil
	q.value = res.Value
	if !changed {
		return QueryChange{}, false
	}
	return QueryChange{QueryID: id, Kind: QueryUpdated, Value: res.Value, Journal: res.Journal}, true
}

// valuesEqual is a conservative equality check: any difference we cannot
// prove identical counts as changed, matching the spec's requirement that
// a Transition never omit a query whose delivered value actually moved.
func valuesEqual(a, b interface{}) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// RemoveQuery drops a query from the active set without a client-issued
// ModifyQuerySet message, used when the transport layer tears down a
// single query (e.g. client unsubscribe shortcut).
func (w *Worker) RemoveQuery(id QueryID) {
	if q, ok := w.queries[id]; ok {
		if q.sub != nil {
			w.db.Subscriptions().Unsubscribe(q.sub)
		}
		delete(w.queries, id)
	}
}

// ActiveQueryCount reports how many queries are currently tracked, for
// diagnostics/metrics.
func (w *Worker) ActiveQueryCount() int { return len(w.queries) }
