// Package retention defines the pluggable snapshot-retention contract:
// whether a snapshot or index timestamp is still retained, since the
// persistence layer may have compacted it away. Database.RunQuery asks the
// configured Validator before reading at a timestamp; the committer holds
// the Validator but does not call it.
package retention

import "github.com/kartikbazzad/syncbase/mvcc"

// Validator answers whether a given timestamp's document or index
// snapshot is still retained by the persistence layer. A negative answer
// propagates as ErrRetention (see the root package's error taxonomy).
type Validator interface {
	ValidateDocumentSnapshot(ts mvcc.Timestamp) error
	ValidateIndexSnapshot(ts mvcc.Timestamp) error
}

// Window is a reference Validator: it retains the last N timestamps seen
// and rejects anything older, the simplest policy that still exercises
// the contract.
type Window struct {
	keep   uint64
	latest mvcc.Timestamp
}

// NewWindow returns a Window retaining the most recent keep timestamps'
// worth of history below whatever Advance has most recently been called
// with. A keep of 0 retains everything.
func NewWindow(keep uint64) *Window {
	return &Window{keep: keep}
}

// Advance records ts as the newest known timestamp, shrinking the
// retained window's floor accordingly.
func (w *Window) Advance(ts mvcc.Timestamp) {
	if ts > w.latest {
		w.latest = ts
	}
}

func (w *Window) floor() mvcc.Timestamp {
	if w.keep == 0 || uint64(w.latest) < w.keep {
		return 0
	}
	return w.latest - mvcc.Timestamp(w.keep)
}

func (w *Window) ValidateDocumentSnapshot(ts mvcc.Timestamp) error {
	if ts < w.floor() {
		return &RetentionError{Timestamp: ts, Floor: w.floor()}
	}
	return nil
}

func (w *Window) ValidateIndexSnapshot(ts mvcc.Timestamp) error {
	return w.ValidateDocumentSnapshot(ts)
}

// RetentionError reports that a requested snapshot timestamp has aged
// out of the retained window.
type RetentionError struct {
	Timestamp mvcc.Timestamp
	Floor     mvcc.Timestamp
}

func (e *RetentionError) Error() string {
	return "retention: timestamp " + e.Timestamp.String() + " is below retained floor " + e.Floor.String()
}
