package mvcc

// TableSummary holds the per-tablet statistics attached to a
// Snapshot: row count and total size in bytes, used by query planning
// heuristics and by the "bootstrapping" overload error (reads that need
// summaries before they are loaded must fail fast rather than scan).
type TableSummary struct {
	Count     int64
	SizeBytes int64
	// Loaded is false until the committer has finished computing this
	// tablet's summary from persistence; reads against it before then
	// raise ErrBootstrapping.
	Loaded bool
}

// TableSummaries is the immutable-per-snapshot map of tablet to summary.
type TableSummaries struct {
	byTablet map[TabletID]TableSummary
}

// NewTableSummaries returns an empty, unloaded summary set.
func NewTableSummaries() *TableSummaries {
	return &TableSummaries{byTablet: make(map[TabletID]TableSummary)}
}

func (s *TableSummaries) clone() *TableSummaries {
	n := NewTableSummaries()
	for k, v := range s.byTablet {
		n.byTablet[k] = v
	}
	return n
}

// Get returns the summary for a tablet.
func (s *TableSummaries) Get(tablet TabletID) TableSummary {
	return s.byTablet[tablet]
}

// WithDelta returns a new summary set with countDelta/sizeDelta applied to
// tablet, used by the committer to keep table_summaries consistent with
// the sum of table_count_delta over all committed transactions.
func (s *TableSummaries) WithDelta(tablet TabletID, countDelta, sizeDelta int64) *TableSummaries {
	n := s.clone()
	cur := n.byTablet[tablet]
	cur.Count += countDelta
	cur.SizeBytes += sizeDelta
	cur.Loaded = true
	n.byTablet[tablet] = cur
	return n
}

// WithLoaded marks a tablet's summary as loaded with an absolute value,
// used when the committer finishes computing it from persistence at
// startup.
func (s *TableSummaries) WithLoaded(tablet TabletID, count, size int64) *TableSummaries {
	n := s.clone()
	n.byTablet[tablet] = TableSummary{Count: count, SizeBytes: size, Loaded: true}
	return n
}
