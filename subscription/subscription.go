// Package subscription implements invalidation via a read token (read set
// plus begin timestamp) paired with an invalidation future driven by the
// write log. The sync worker holds one subscription per active query and
// asks it, on every new repeatable timestamp, whether the query's result
// is still provably valid without re-executing it.
//
// Grounded on bundoc/mvcc/visibility.go's GarbageCollector: the same
// ticker-driven background-sweep shape, repurposed from "periodically
// collect dead versions below the oldest active snapshot" to "periodically
// (and on-demand) ask whether outstanding read tokens survived the write
// log's low-water mark".
package subscription

import (
	"sync"

	"github.com/kartikbazzad/syncbase/mvcc"
	"github.com/kartikbazzad/syncbase/writelog"
)

// Token is the read token: a read set evaluated as of
// begin_ts.
type Token struct {
	ReadSet *mvcc.ReadSet
	BeginTs mvcc.Timestamp
}

// Subscription ties a Token to the write log. Extend proves (or disproves)
// that the token's read set is still valid across (begin_ts, target].
// A Subscription is single-owner: only the sync worker that created it
// calls Extend/Invalidate on it, so no internal locking is required beyond
// what protects the invalidated flag from the registry's wake path.
type Subscription struct {
	id      uint64
	token   Token
	log     *writelog.Log
	invalid bool
}

// Extend attempts to prove the token's read set remained valid across
// (begin_ts, target], the same window committer.checkStaleness scans at
// commit time. On success it returns true and the subscription may keep
// being extended toward later targets. It returns false once the write
// log's low-water mark has passed begin_ts: if the
// log's low-water mark exceeds begin_ts, the subscription must be
// considered invalid", and the caller must re-execute the query rather
// than keep asking.
func (s *Subscription) Extend(target mvcc.Timestamp) bool {
	if s.invalid {
		return false
	}
	if s.log.LowWaterMark() > s.token.BeginTs {
		s.invalid = true
		return false
	}
	for _, entry := range s.log.Range(s.token.BeginTs, target) {
		if _, ok := s.token.ReadSet.OverlapsAny(entry.Intervals); ok {
			s.invalid = true
			return false
		}
	}
	return true
}

// Invalidated reports whether a prior Extend (or an explicit Invalidate
// from the registry's wake path) has already determined this
// subscription's read set no longer holds.
func (s *Subscription) Invalidated() bool { return s.invalid }

// Invalidate marks the subscription invalid directly, used by Registry's
// wake path when a newly published write-log entry overlaps the token
// without waiting for the next Extend poll.
func (s *Subscription) Invalidate() { s.invalid = true }

// Token returns the subscription's read token.
func (s *Subscription) Token() Token { return s.token }

// Registry maps outstanding subscriptions to their tokens and wakes the
// ones a newly published write overlaps, per step 8(e)
// ("wake subscription invalidations whose read tokens overlap") and
// implements committer.Invalidator so the committer can drive it directly
// off the write log it already appends to.
type Registry struct {
	log *writelog.Log

	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*Subscription
}

// NewRegistry returns an empty registry backed by log, the same write log
// the committer appends to on every publish.
func NewRegistry(log *writelog.Log) *Registry {
	return &Registry{log: log, subs: make(map[uint64]*Subscription)}
}

// Subscribe registers a new subscription for tok and returns it.
func (r *Registry) Subscribe(tok Token) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	sub := &Subscription{id: r.nextID, token: tok, log: r.log}
	r.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes a subscription, e.g. when the sync worker drops the
// query it backed.
func (r *Registry) Unsubscribe(sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, sub.id)
}

// Invalidate implements committer.Invalidator: for every outstanding
// subscription whose token overlaps the published entry's intervals,
// mark it invalid. Subscriptions past the token's own low-water mark are
// left for their owner's next Extend call to discover, since Invalidate
// cannot know which ones have already been drained by their owner.
func (r *Registry) Invalidate(entry writelog.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subs {
		if sub.invalid {
			continue
		}
		if entry.Ts <= sub.token.BeginTs {
			continue
		}
		for _, iv := range entry.Intervals {
			if conflict, ok := sub.token.ReadSet.OverlapsAny([]mvcc.Interval{iv}); ok {
				_ = conflict
				sub.invalid = true
				break
			}
		}
	}
}

// Len reports how many subscriptions are currently registered, exposed
// for the sync worker's backpressure/diagnostics metrics.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}
