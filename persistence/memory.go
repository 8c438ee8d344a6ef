package persistence

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kartikbazzad/syncbase/mvcc"
)

// Memory is an in-process reference Store: every write is held in sorted
// slices guarded by a mutex. It never loses durability claims — Write
// either fully succeeds or fully fails, so it never returns an
// AmbiguousError; it exists for tests and for the committer's fatal-path
// tests to exercise the *other* branch deliberately.
//
// Grounded on bundoc/storage/pager.go + internal/wal's append-then-index
// idiom, collapsed to plain Go slices since this implementation's whole
// purpose is legibility over performance.
type Memory struct {
	mu        sync.RWMutex
	documents []DocumentWrite
	indexes   []IndexWrite
	globals   map[GlobalKey][]byte
	seen      map[DocID]map[mvcc.Timestamp]bool
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{globals: make(map[GlobalKey][]byte), seen: make(map[DocID]map[mvcc.Timestamp]bool)}
}

func (m *Memory) Write(ctx context.Context, documents []DocumentWrite, indexes []IndexWrite, strategy ConflictStrategy) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, d := range documents {
		if m.seen[d.ID] != nil && m.seen[d.ID][d.Ts] {
			return fmt.Errorf("persistence: conflicting write at (%s, %s)", d.ID, d.Ts)
		}
	}
	for _, d := range documents {
		if m.seen[d.ID] == nil {
			m.seen[d.ID] = make(map[mvcc.Timestamp]bool)
		}
		m.seen[d.ID][d.Ts] = true
		m.documents = append(m.documents, d)
	}
	m.indexes = append(m.indexes, indexes...)

	sort.SliceStable(m.documents, func(i, j int) bool {
		if m.documents[i].Ts != m.documents[j].Ts {
			return m.documents[i].Ts < m.documents[j].Ts
		}
		return docIDLess(m.documents[i].ID, m.documents[j].ID)
	})
	return nil
}

func docIDLess(a, b DocID) bool {
	if a.Tablet != b.Tablet {
		return a.Tablet < b.Tablet
	}
	if a.TableNum != b.TableNum {
		return a.TableNum < b.TableNum
	}
	return a.Internal < b.Internal
}

type memoryStream struct {
	rows []DocumentWrite
	pos  int
}

func (s *memoryStream) Next() bool {
	if s.pos >= len(s.rows) {
		return false
	}
	s.pos++
	return true
}
func (s *memoryStream) Value() DocumentWrite { return s.rows[s.pos-1] }
func (s *memoryStream) Err() error           { return nil }
func (s *memoryStream) Close() error         { return nil }

func (m *Memory) LoadDocuments(ctx context.Context, from, to mvcc.Timestamp, order Order, tablets []uint32) (DocumentStream, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	allow := map[uint32]bool{}
	for _, t := range tablets {
		allow[t] = true
	}
	rows := make([]DocumentWrite, 0)
	for _, d := range m.documents {
		if d.Ts < from || d.Ts > to {
			continue
		}
		if len(allow) > 0 && !allow[d.ID.Tablet] {
			continue
		}
		rows = append(rows, d)
	}
	if order == Descending {
		for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
			rows[i], rows[j] = rows[j], rows[i]
		}
	}
	return &memoryStream{rows: rows}, nil
}

func (m *Memory) PreviousRevisions(ctx context.Context, keys []struct {
	ID DocID
	Ts mvcc.Timestamp
}) (map[DocID]Revision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[DocID]Revision, len(keys))
	for _, k := range keys {
		var best *DocumentWrite
		for i := range m.documents {
			d := m.documents[i]
			if d.ID != k.ID || d.Ts >= k.Ts {
				continue
			}
			if best == nil || d.Ts > best.Ts {
				dd := d
				best = &dd
			}
		}
		if best == nil {
			out[k.ID] = Revision{}
			continue
		}
		out[k.ID] = Revision{PrevTs: best.Ts, Doc: best.Doc}
	}
	return out, nil
}

func (m *Memory) WritePersistenceGlobal(ctx context.Context, key GlobalKey, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.globals[key] = append([]byte(nil), value...)
	return nil
}

func (m *Memory) ReadPersistenceGlobal(ctx context.Context, key GlobalKey) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.globals[key]
	return v, ok, nil
}

func (m *Memory) Version(ctx context.Context) (string, error) { return "memory-v1", nil }

func (m *Memory) Close() error { return nil }
