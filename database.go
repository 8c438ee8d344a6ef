package syncbase

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/kartikbazzad/syncbase/auth"
	"github.com/kartikbazzad/syncbase/committer"
	"github.com/kartikbazzad/syncbase/core"
	"github.com/kartikbazzad/syncbase/mvcc"
	"github.com/kartikbazzad/syncbase/pending"
	"github.com/kartikbazzad/syncbase/persistence"
	"github.com/kartikbazzad/syncbase/retention"
	"github.com/kartikbazzad/syncbase/search"
	"github.com/kartikbazzad/syncbase/searcher"
	"github.com/kartikbazzad/syncbase/subscription"
	"github.com/kartikbazzad/syncbase/synclog"
	"github.com/kartikbazzad/syncbase/sync"
	"github.com/kartikbazzad/syncbase/transaction"
	"github.com/kartikbazzad/syncbase/writelog"
)

// QueryFunc, MutationFunc, and ActionFunc are the Go-level stand-in for the
// JS/isolate UDF runtime, which is out of scope for this module (see
// doc.go). A deployment registers one of these per path with
// RegisterQuery/RegisterMutation/RegisterAction; Database dispatches to
// them exactly where the original system would invoke a developer's
// function body.
type (
	QueryFunc    func(tx *transaction.Transaction, args map[string]interface{}) (interface{}, error)
	MutationFunc func(tx *transaction.Transaction, args map[string]interface{}) (interface{}, error)
	ActionFunc   func(ctx context.Context, db *Database, args map[string]interface{}) (interface{}, error)
)

// Options configures a Database.
type Options struct {
	Store          persistence.Store
	SearchStorage  searcher.Storage
	SearchProvider searcher.Provider
	Auth           auth.Provider
	Retention      retention.Validator
	Schema         transaction.SchemaEnforcer

	// MemoryLimits bounds in-memory index growth a single transaction's
	// writes may cause, enforced at Finalize.
	MemoryLimits transaction.MemoryLimits

	// WriteLogLen bounds the write log's ring buffer length.
	WriteLogLen int
	// MailboxSize/MailboxRate tune the committer's commit mailbox.
	MailboxSize int
	MailboxRate rate.Limit

	// DocCacheSize bounds the point-read document cache's entry count.
	DocCacheSize int
}

func (o *Options) setDefaults() {
	if o.WriteLogLen <= 0 {
		o.WriteLogLen = 4096
	}
	if o.Retention == nil {
		o.Retention = retention.NewWindow(0)
	}
	if o.DocCacheSize <= 0 {
		o.DocCacheSize = 8192
	}
}

// Database assembles persistence, the commit pipeline, the snapshot
// sequence, search bootstrap, subscriptions, and the pluggable auth/
// retention contracts into the single coordinator doc.go names as the
// architecture's top-level piece. It implements both sync.Database (the
// capability surface a live-query Worker needs) and
// transaction.SnapshotReader (the read view a Transaction evaluates
// against).
type Database struct {
	store          persistence.Store
	searchStorage  searcher.Storage
	searchProvider searcher.Provider
	authProvider   auth.Provider
	retentionCheck retention.Validator
	enforcer       transaction.SchemaEnforcer
	compiler       *transaction.QueryCompiler

	snapshots *mvcc.Manager
	writeLog  *writelog.Log
	pendingQ  *pending.Queue
	commit    *committer.Committer
	subs      *subscription.Registry
	bootstrap *search.Bootstrapper

	// docCache holds decoded (document id, commit ts) -> Document lookups,
	// avoiding a PreviousRevisions round trip to persistence for documents
	// repeatedly read at an unchanged snapshot — the common case for a
	// live query re-evaluating against the same timestamp.
	docCache *lru.Cache[docCacheKey, core.Document]

	limits transaction.MemoryLimits

	allocMu      sync.Mutex
	nextInternal map[core.TableNumber]uint64

	tabletMu   sync.Mutex
	nextTablet uint32
	nextIndex  uint32

	regMu     sync.Mutex
	queries   map[string]QueryFunc
	mutations map[string]MutationFunc
	actions   map[string]ActionFunc
}

// docCacheKey identifies one cached point read: a document at the exact
// commit timestamp the by_id index reported for it, so a later write to
// the same document invalidates only by no longer being requested at its
// old ts, never by returning a stale hit.
type docCacheKey struct {
	tablet   core.TabletID
	internal uint64
	ts       mvcc.Timestamp
}

// Open constructs a Database against opts, bootstrapping the table/index
// registries and their in-memory indexes from persistence before
// returning. Search/vector bootstrap of text/vector in-memory deltas is
// started in a background goroutine and may still be running when Open
// returns.
func Open(ctx context.Context, opts Options) (*Database, error) {
	opts.setDefaults()
	if opts.Store == nil {
		return nil, fmt.Errorf("syncbase: Options.Store is required")
	}

	compiler, err := transaction.NewQueryCompiler()
	if err != nil {
		return nil, fmt.Errorf("syncbase: %w", err)
	}

	wl := writelog.New(opts.WriteLogLen)
	pendingQ := pending.New()
	subs := subscription.NewRegistry(wl)

	snapshots := mvcc.NewManager(mvcc.NewEmptySnapshot())

	docCache, err := lru.New[docCacheKey, core.Document](opts.DocCacheSize)
	if err != nil {
		return nil, fmt.Errorf("syncbase: %w", err)
	}

	d := &Database{
		store:          opts.Store,
		searchStorage:  opts.SearchStorage,
		searchProvider: opts.SearchProvider,
		authProvider:   opts.Auth,
		retentionCheck: opts.Retention,
		enforcer:       opts.Schema,
		compiler:       compiler,
		snapshots:      snapshots,
		writeLog:       wl,
		pendingQ:       pendingQ,
		subs:           subs,
		bootstrap:      search.NewBootstrapper(opts.Store, opts.SearchStorage),
		docCache:       docCache,
		limits:         opts.MemoryLimits,
		nextInternal:   make(map[core.TableNumber]uint64),
		nextTablet:     uint32(core.TabletIndexes),
		queries:        make(map[string]QueryFunc),
		mutations:      make(map[string]MutationFunc),
		actions:        make(map[string]ActionFunc),
	}
	d.commit = committer.New(committer.Options{
		Store:       opts.Store,
		Snapshots:   snapshots,
		WriteLog:    wl,
		Pending:     pendingQ,
		Retention:   opts.Retention,
		Invalidator: subs,
		MailboxSize: opts.MailboxSize,
		MailboxRate: opts.MailboxRate,
	})

	if err := d.bootstrapRegistries(ctx); err != nil {
		d.commit.Close()
		return nil, err
	}
	synclog.Get().Info("registries bootstrapped", "timestamp", d.LatestTimestamp())

	// Search/vector bootstrap runs in the background, concurrently with
	// whatever commits land after Open returns: finishSearchBootstrap's
	// handshake with the committer re-replays against the committer's own
	// current snapshot on every retry, so a commit racing ahead of replay
	// only costs an extra bootstrap pass, never a dropped update.
	go d.finishSearchBootstrap(ctx)

	return d, nil
}

// finishSearchBootstrap drives the one-shot search/vector bootstrap to
// completion: build (passed to the committer's FinishSearchAndVectorBootstrap)
// is re-invoked with the committer's current latest snapshot every time a
// commit publishes ahead of replay, so the replay range always re-derives
// from the snapshot it is actually racing against rather than one fixed
// before bootstrapping began.
func (d *Database) finishSearchBootstrap(ctx context.Context) {
	err := d.commit.FinishSearchAndVectorBootstrap(func(latest *mvcc.Snapshot) (mvcc.SearchManagers, error) {
		sm, _, err := d.bootstrap.Bootstrap(ctx, latest, latest.Timestamp)
		if err != nil {
			return nil, err
		}
		return sm, nil
	})
	if err != nil {
		synclog.Get().Error("search/vector bootstrap failed", "error", err)
		return
	}
	synclog.Get().Info("search/vector bootstrap complete")
}

// bootstrapRegistries replays TabletTables/TabletIndexes from persistence
// into the latest snapshot's registries and materializes the by_id/
// by_creation_time/Database-kind in-memory indexes for every registered
// tablet, the commit-pipeline equivalent of load_indexes_into_memory that
// must run once before Database can serve reads or writes.
func (d *Database) bootstrapRegistries(ctx context.Context) error {
	latestTs, err := d.latestPersistedTimestamp(ctx)
	if err != nil {
		return err
	}

	tables := mvcc.NewTableRegistry()
	indexes := mvcc.NewIndexRegistry()

	stream, err := d.store.LoadDocuments(ctx, 0, latestTs, persistence.Ascending, []uint32{uint32(core.TabletTables), uint32(core.TabletIndexes)})
	if err != nil {
		return fmt.Errorf("syncbase: load registries: %w", err)
	}
	defer stream.Close()

	for stream.Next() {
		w := stream.Value()
		if w.Doc == nil {
			continue
		}
		switch core.TabletID(w.ID.Tablet) {
		case core.TabletTables:
			row, err := committer.DecodeTableRowForBootstrap(w.Doc)
			if err != nil {
				return err
			}
			tables, err = tables.WithUpsert(row)
			if err != nil {
				return fmt.Errorf("syncbase: table registry: %w", err)
			}
		case core.TabletIndexes:
			idx, err := committer.DecodeIndexRowForBootstrap(w.Doc)
			if err != nil {
				return err
			}
			indexes = indexes.WithUpsert(idx)
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("syncbase: replay registries: %w", err)
	}

	// On an empty store latestTs is the initial snapshot's own timestamp and
	// the replayed registries are empty, so there is nothing to push.
	snapTs, latest := d.snapshots.Latest()
	if latestTs > snapTs {
		next := latest.WithTables(tables).WithIndexes(indexes).WithTimestamp(latestTs)
		d.snapshots.Push(latestTs, next)
	}

	var tablets []core.TabletID
	for _, m := range tables.All() {
		tablets = append(tablets, m.Tablet)
	}
	tablets = append(tablets, core.TabletTables, core.TabletIndexes)
	return d.commit.LoadIndexesIntoMemory(ctx, d.store, tablets)
}

func (d *Database) latestPersistedTimestamp(ctx context.Context) (mvcc.Timestamp, error) {
	raw, ok, err := d.store.ReadPersistenceGlobal(ctx, persistence.GlobalMaxRepeatableTimestamp)
	if err != nil {
		return 0, fmt.Errorf("syncbase: read max repeatable timestamp: %w", err)
	}
	if !ok {
		return 0, nil
	}
	var ts uint64
	if _, err := fmt.Sscanf(string(raw), "ts(%d)", &ts); err != nil {
		return 0, fmt.Errorf("syncbase: parse max repeatable timestamp: %w", err)
	}
	return mvcc.Timestamp(ts), nil
}

// Close releases the committer's run loop and underlying store.
func (d *Database) Close() error {
	d.commit.Close()
	err := d.store.Close()
	synclog.Get().Info("database closed", "error", err)
	return err
}

// RegisterQuery, RegisterMutation, and RegisterAction bind a UDF path to a
// Go handler, the mechanism that stands in for the isolate runtime.
func (d *Database) RegisterQuery(path string, fn QueryFunc) {
	d.regMu.Lock()
	defer d.regMu.Unlock()
	d.queries[path] = fn
}

func (d *Database) RegisterMutation(path string, fn MutationFunc) {
	d.regMu.Lock()
	defer d.regMu.Unlock()
	d.mutations[path] = fn
}

func (d *Database) RegisterAction(path string, fn ActionFunc) {
	d.regMu.Lock()
	defer d.regMu.Unlock()
	d.actions[path] = fn
}

// LatestTimestamp implements sync.Database.
func (d *Database) LatestTimestamp() mvcc.Timestamp {
	ts, _ := d.snapshots.Latest()
	return ts
}

// RunQuery implements sync.Database: it evaluates the registered query at
// a fixed repeatable timestamp and hands back the read set it accumulated
// so the caller can mint a subscription.
func (d *Database) RunQuery(ctx context.Context, spec sync.QuerySpec, ts mvcc.Timestamp) (sync.QueryResult, error) {
	snap, ok := d.snapshots.At(ts)
	if !ok {
		return sync.QueryResult{}, core.NewRetentionError(ts)
	}
	if err := d.retentionCheck.ValidateDocumentSnapshot(ts); err != nil {
		return sync.QueryResult{}, err
	}

	d.regMu.Lock()
	fn, ok := d.queries[spec.Path]
	d.regMu.Unlock()
	if !ok {
		return sync.QueryResult{}, fmt.Errorf("syncbase: no query registered at path %q", spec.Path)
	}

	tx := transaction.New(ts, d.reader(snap), d.enforcer, d.compiler)
	value, err := fn(tx, spec.Args)
	if err != nil {
		return sync.QueryResult{}, err
	}
	return sync.QueryResult{Value: value, ReadSet: tx.ReadSet(), Journal: spec.Journal}, nil
}

// RunMutation implements sync.Database: it executes the registered
// mutation against the latest repeatable snapshot, finalizes the
// transaction, and submits it to the commit pipeline.
func (d *Database) RunMutation(ctx context.Context, path string, args map[string]interface{}) (interface{}, mvcc.Timestamp, error) {
	d.regMu.Lock()
	fn, ok := d.mutations[path]
	d.regMu.Unlock()
	if !ok {
		return nil, 0, fmt.Errorf("syncbase: no mutation registered at path %q", path)
	}

	beginTs, snap := d.snapshots.Latest()
	tx := transaction.New(beginTs, d.reader(snap), d.enforcer, d.compiler)
	value, err := fn(tx, args)
	if err != nil {
		return nil, 0, err
	}
	ts, err := d.commitTransaction(ctx, tx, core.WriteSourceMutation)
	if err != nil {
		return nil, 0, err
	}
	return value, ts, nil
}

// RunAction implements sync.Database: it dispatches to the registered
// action, which owns its own transaction lifecycle (an action may run
// zero, one, or several mutations internally via Database.RunMutation).
func (d *Database) RunAction(ctx context.Context, path string, args map[string]interface{}) (interface{}, error) {
	d.regMu.Lock()
	fn, ok := d.actions[path]
	d.regMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("syncbase: no action registered at path %q", path)
	}
	return fn(ctx, d, args)
}

// Subscriptions implements sync.Database.
func (d *Database) Subscriptions() *subscription.Registry { return d.subs }

// Authenticate implements sync.Database.
func (d *Database) Authenticate(token string) error {
	if d.authProvider == nil {
		return nil
	}
	if _, err := d.authProvider.Verify(context.Background(), token); err != nil {
		return core.NewAuthFailureError(err)
	}
	return nil
}

// commitTransaction finalizes tx and submits it to the committer, sharing
// the path RunMutation, CreateTable, and CreateIndex all need.
func (d *Database) commitTransaction(ctx context.Context, tx *transaction.Transaction, source core.WriteSource) (mvcc.Timestamp, error) {
	final, err := tx.Finalize(d.limits, d.currentEntries, source)
	if err != nil {
		synclog.FromContext(ctx).Warn("transaction finalize rejected", "error", err, "source", source)
		return 0, err
	}
	ts, err := d.commit.Commit(ctx, &committer.FinalTransaction{
		BeginTs:     final.BeginTs,
		ReadSet:     final.ReadSet,
		Writes:      final.Writes,
		TableDeltas: final.TableDeltas,
		WriteSource: final.WriteSource,
	})
	if err != nil {
		synclog.FromContext(ctx).Warn("commit rejected", "error", err, "begin_ts", final.BeginTs, "source", source)
	}
	return ts, err
}

// currentEntries reports a tablet's current in-memory index entry count
// and byte size against the by_id bootstrap index, the measure
// Transaction.Finalize's memory-limit check projects a commit's delta
// onto.
func (d *Database) currentEntries(tablet core.TabletID) (int64, int64) {
	_, latest := d.snapshots.Latest()
	idx := latest.MemoryIndexes[core.ByIDIndexID(tablet)]
	if idx == nil {
		return 0, 0
	}
	return int64(idx.Len()), int64(idx.SizeBytes())
}

// CreateTable registers a new table, allocating a fresh TabletID and
// assigning it as the table's TableNumber too: this module does not
// implement table rename, so TableNumber and TabletID stay permanently
// equal for every table Database creates (see DESIGN.md).
func (d *Database) CreateTable(ctx context.Context, namespace, tableName string) (core.TabletID, error) {
	d.tabletMu.Lock()
	d.nextTablet++
	tablet := core.TabletID(d.nextTablet)
	d.tabletMu.Unlock()

	row, err := committer.EncodeTableRow(mvcc.TableMetadata{
		Tablet: mvcc.TabletID(tablet), Namespace: namespace, TableName: tableName,
		TableNumber: mvcc.TableNumber(tablet), State: mvcc.TableActive,
	})
	if err != nil {
		return 0, err
	}

	beginTs, snap := d.snapshots.Latest()
	tx := transaction.New(beginTs, d.reader(snap), nil, d.compiler)
	if _, err := tx.Insert(core.TabletTables, core.TableNumber(core.TabletTables), "tables", beginTs, row); err != nil {
		return 0, err
	}
	if _, err := d.commitTransaction(ctx, tx, core.WriteSourceInternal); err != nil {
		return 0, err
	}
	return tablet, nil
}

// CreateIndex registers a new index against tablet, allocating a fresh
// IndexID.
func (d *Database) CreateIndex(ctx context.Context, tablet core.TabletID, descriptor mvcc.IndexDescriptor, fields []string, config mvcc.IndexConfigKind) (mvcc.IndexID, error) {
	d.tabletMu.Lock()
	d.nextIndex++
	id := mvcc.IndexID(d.nextIndex)
	d.tabletMu.Unlock()

	row, err := committer.EncodeIndexRow(mvcc.Index{
		ID: id, Tablet: mvcc.TabletID(tablet), Descriptor: descriptor, Fields: fields,
		Config: config, State: mvcc.IndexBackfilling,
	})
	if err != nil {
		return 0, err
	}

	beginTs, snap := d.snapshots.Latest()
	tx := transaction.New(beginTs, d.reader(snap), nil, d.compiler)
	if _, err := tx.Insert(core.TabletIndexes, core.TableNumber(core.TabletIndexes), "indexes", beginTs, row); err != nil {
		return 0, err
	}
	if _, err := d.commitTransaction(ctx, tx, core.WriteSourceInternal); err != nil {
		return 0, err
	}
	return id, nil
}

// reader returns a transaction.SnapshotReader view bound to snap, backed
// by this Database for document lookups and internal-id allocation.
func (d *Database) reader(snap *mvcc.Snapshot) transaction.SnapshotReader {
	return &snapshotReader{db: d, snap: snap}
}

// SearchProvider and SearchStorage expose the query-time search handles a
// registered QueryFunc/MutationFunc needs for tx.Search/tx.VectorSearch;
// neither is reachable through the Transaction it's handed, so a
// registration site closes over these instead.
func (d *Database) SearchProvider() searcher.Provider { return d.searchProvider }
func (d *Database) SearchStorage() searcher.Storage   { return d.searchStorage }

// nextInternalID hands out the next globally unique InternalID for
// tableNum, lazily seeding the counter from the highest InternalID already
// committed to that table's by_id index the first time it's asked for.
// Because this module assigns TableNumber equal to the creating TabletID
// and never renames a table (see CreateTable), tableNum doubles directly
// as the tablet to seed from.
func (d *Database) nextInternalID(tableNum core.TableNumber) uint64 {
	d.allocMu.Lock()
	defer d.allocMu.Unlock()
	if _, seeded := d.nextInternal[tableNum]; !seeded {
		d.nextInternal[tableNum] = d.maxCommittedInternalID(core.TabletID(tableNum))
	}
	d.nextInternal[tableNum]++
	return d.nextInternal[tableNum]
}

func (d *Database) maxCommittedInternalID(tablet core.TabletID) uint64 {
	_, latest := d.snapshots.Latest()
	idx := latest.MemoryIndexes[core.ByIDIndexID(tablet)]
	if idx == nil {
		return 0
	}
	var max uint64
	for _, e := range idx.Range(nil, nil) {
		if e.Doc.Developer.InternalID > max {
			max = e.Doc.Developer.InternalID
		}
	}
	return max
}
