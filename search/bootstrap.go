package search

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/kartikbazzad/syncbase/core"
	"github.com/kartikbazzad/syncbase/mvcc"
	"github.com/kartikbazzad/syncbase/persistence"
	"github.com/kartikbazzad/syncbase/searcher"
)

// Stats reports bootstrap replay volume for observability: number of
// revisions and bytes replayed.
type Stats struct {
	Revisions int64
	Bytes     int64
}

// Bootstrapper implements the Search/Vector Bootstrap: on
// startup, reconstruct each text/vector index's in-memory delta from its
// disk segment (or bootstrap_ts, for an index still Backfilling) up to a
// chosen repeatable upper_bound, then hand the result to the committer's
// finish_search_and_vector_bootstrap for final reconciliation.
//
// Concurrency fans out per tablet — the union of tablet_ids touched by
// any search/vector index each gets its own document-log stream and
// worker-pool slot, grounded on docdb's use of ants/v2 for bounded
// background-work concurrency. Each tablet's results are merged into the
// shared maps under a mutex; no index is shared across two tablets.
type Bootstrapper struct {
	Store   persistence.Store
	Storage searcher.Storage

	// Concurrency bounds how many tablets are replayed at once.
	Concurrency int
	// RetryLimit is how many OCC-like failures Bootstrap forgives before
	// giving up and returning the last error, per the retry
	// policy.
	RetryLimit int
	// InitialBackoff/MaxBackoff parameterize the exponential-backoff-with-
	// jitter retry loop, same shape as docdb's RetryController.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// NewBootstrapper returns a Bootstrapper with this package's default
// implies (forgive a handful of OCC-like errors before logging, i.e.
// returning them to the caller to log).
func NewBootstrapper(store persistence.Store, storage searcher.Storage) *Bootstrapper {
	return &Bootstrapper{
		Store:          store,
		Storage:        storage,
		Concurrency:    8,
		RetryLimit:     5,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     1 * time.Second,
	}
}

// Bootstrap replays persistence against latest's index registry up to
// upperBound and returns the resulting Managers bundle, retrying the
// whole replay with exponential backoff on transient failure.
func (b *Bootstrapper) Bootstrap(ctx context.Context, latest *mvcc.Snapshot, upperBound mvcc.Timestamp) (*Managers, Stats, error) {
	var lastErr error
	var lastStats Stats
	for attempt := 0; attempt <= b.RetryLimit; attempt++ {
		sm, stats, err := b.bootstrapOnce(ctx, latest, upperBound)
		if err == nil {
			return sm, stats, nil
		}
		lastErr, lastStats = err, stats
		if attempt == b.RetryLimit {
			break
		}
		select {
		case <-ctx.Done():
			return nil, lastStats, ctx.Err()
		case <-time.After(b.backoff(attempt)):
		}
	}
	return nil, lastStats, fmt.Errorf("search: bootstrap failed after %d attempts: %w", b.RetryLimit+1, lastErr)
}

func (b *Bootstrapper) backoff(attempt int) time.Duration {
	delay := b.InitialBackoff * time.Duration(1<<uint(attempt))
	if delay > b.MaxBackoff || delay <= 0 {
		delay = b.MaxBackoff
	}
	jitter := time.Duration(float64(delay) * 0.25 * (rand.Float64()*2 - 1))
	delay += jitter
	if delay < 0 {
		delay = b.InitialBackoff
	}
	return delay
}

// indexPlan is the bootstrap-time view of one text/vector index: its
// registry row and the timestamp strictly after which the document log
// must be replayed into its memory delta.
type indexPlan struct {
	idx        mvcc.Index
	effectiveTs mvcc.Timestamp
}

func (b *Bootstrapper) bootstrapOnce(ctx context.Context, latest *mvcc.Snapshot, upperBound mvcc.Timestamp) (*Managers, Stats, error) {
	byTablet := make(map[core.TabletID][]indexPlan)
	for _, idx := range latest.Indexes.All() {
		if idx.Config != mvcc.IndexText && idx.Config != mvcc.IndexVector {
			continue
		}
		plan := indexPlan{idx: idx, effectiveTs: upperBound}
		if idx.Snapshot != nil {
			plan.effectiveTs = idx.Snapshot.DiskTs
			if idx.Snapshot.FastForwardTs > plan.effectiveTs {
				plan.effectiveTs = idx.Snapshot.FastForwardTs
			}
		}
		byTablet[idx.Tablet] = append(byTablet[idx.Tablet], plan)
	}

	if len(byTablet) == 0 {
		return NewManagers(), Stats{}, nil
	}

	pool, err := ants.NewPool(b.Concurrency)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("search: bootstrap worker pool: %w", err)
	}
	defer pool.Release()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		total   Stats
		firstErr error
		revisionsByIndex = make(map[mvcc.IndexID][]*SegmentRevision)
	)

	for tablet, plans := range byTablet {
		tablet, plans := tablet, plans
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			revs, stats, err := b.replayTablet(ctx, tablet, plans, upperBound)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			total.Revisions += stats.Revisions
			total.Bytes += stats.Bytes
			for id, rs := range revs {
				revisionsByIndex[id] = append(revisionsByIndex[id], rs...)
			}
		})
		if submitErr != nil {
			wg.Done()
			mu.Lock()
			if firstErr == nil {
				firstErr = submitErr
			}
			mu.Unlock()
		}
	}
	wg.Wait()

	if firstErr != nil {
		return nil, total, firstErr
	}

	managers := NewManagers()
	for _, plans := range byTablet {
		for _, plan := range plans {
			minTs := plan.effectiveTs.Succ()
			switch plan.idx.Config {
			case mvcc.IndexText:
				field := ""
				if len(plan.idx.Fields) > 0 {
					field = plan.idx.Fields[0]
				}
				tm := NewTextIndexManager(plan.idx.State, minTs, plan.idx.Snapshot, field)
				for _, rev := range revisionsByIndex[plan.idx.ID] {
					tm = tm.WithRevision(rev)
				}
				managers = managers.WithText(plan.idx.ID, tm)
			case mvcc.IndexVector:
				field := ""
				if len(plan.idx.Fields) > 0 {
					field = plan.idx.Fields[0]
				}
				vm := NewVectorIndexManager(plan.idx.State, minTs, plan.idx.Snapshot, field, 0)
				for _, rev := range revisionsByIndex[plan.idx.ID] {
					vm = vm.WithRevision(rev)
				}
				managers = managers.WithVector(plan.idx.ID, vm)
			}
		}
	}

	return managers, total, nil
}

// replayTablet streams one tablet's document log from the oldest of its
// indexes' effective timestamps up to upperBound, producing the ordered
// set of revisions each covered index must fold into its memory delta.
func (b *Bootstrapper) replayTablet(ctx context.Context, tablet core.TabletID, plans []indexPlan, upperBound mvcc.Timestamp) (map[mvcc.IndexID][]*SegmentRevision, Stats, error) {
	oldest := plans[0].effectiveTs
	for _, p := range plans[1:] {
		if p.effectiveTs < oldest {
			oldest = p.effectiveTs
		}
	}

	stream, err := b.Store.LoadDocuments(ctx, oldest, upperBound, persistence.Ascending, []uint32{uint32(tablet)})
	if err != nil {
		return nil, Stats{}, err
	}
	defer stream.Close()

	out := make(map[mvcc.IndexID][]*SegmentRevision)
	var stats Stats

	for stream.Next() {
		w := stream.Value()
		internalID := w.ID.Internal
		stats.Revisions++

		for _, plan := range plans {
			if w.Ts <= plan.effectiveTs {
				continue
			}
			rev := &SegmentRevision{InternalID: internalID, Ts: w.Ts}
			if w.Doc != nil {
				value, createdAt, err := core.DecodeDocumentPayload(w.Doc)
				if err != nil {
					return nil, stats, err
				}
				rev.CreatedAt = createdAt
				stats.Bytes += int64(len(w.Doc))
				switch plan.idx.Config {
				case mvcc.IndexText:
					if len(plan.idx.Fields) > 0 {
						rev.Terms = core.ExtractTextTerms(value, plan.idx.Fields[0])
					}
				case mvcc.IndexVector:
					if len(plan.idx.Fields) > 0 {
						if vec, ok := core.ExtractVector(value, plan.idx.Fields[0]); ok {
							rev.Vector = vec
						}
					}
				}
			}
			out[plan.idx.ID] = append(out[plan.idx.ID], rev)
		}
	}
	if err := stream.Err(); err != nil {
		return nil, stats, err
	}
	return out, stats, nil
}
