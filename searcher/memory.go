package searcher

import (
	"container/heap"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/kartikbazzad/syncbase/mvcc"
)

// segmentPayload is the JSON-encoded content a Memory segment handle
// addresses. Real disk segment formats are explicitly out of scope
//  ; this shape exists only so the reference implementation
// has something concrete to content-address and score against.
type segmentPayload struct {
	Docs []segmentDoc `json:"docs"`
}

type segmentDoc struct {
	InternalID uint64    `json:"internal_id"`
	Ts         uint64    `json:"ts"`
	CreatedAt  uint64    `json:"created_at"`
	Terms      []string  `json:"terms,omitempty"`
	Vector     []float32 `json:"vector,omitempty"`
}

// MemoryStorage is a content-addressed in-process blob store: Put hashes
// the payload into a SegmentHandle, Get looks it up. It stands in for
// whatever content-addressed object store a real deployment would use.
type MemoryStorage struct {
	mu   sync.RWMutex
	blobs map[SegmentHandle][]byte
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{blobs: make(map[SegmentHandle][]byte)}
}

func (s *MemoryStorage) Put(data []byte) (SegmentHandle, error) {
	sum := sha256.Sum256(data)
	handle := SegmentHandle(hex.EncodeToString(sum[:]))
	s.mu.Lock()
	s.blobs[handle] = append([]byte(nil), data...)
	s.mu.Unlock()
	return handle, nil
}

func (s *MemoryStorage) Get(handle SegmentHandle) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[handle]
	if !ok {
		return nil, fmt.Errorf("searcher: segment %s not found", handle)
	}
	return b, nil
}

// EncodeSegment serializes docs into the Memory searcher's segment
// payload format and stores it, returning the resulting handle. Exposed
// so package search (the index managers' Segments and
// ExecuteVectorCompaction) can produce segments without depending on this
// package's internal JSON shape.
func EncodeSegment(storage Storage, docs []SegmentDoc) (SegmentHandle, error) {
	payload := segmentPayload{Docs: make([]segmentDoc, len(docs))}
	for i, d := range docs {
		payload.Docs[i] = segmentDoc{
			InternalID: d.InternalID, Ts: uint64(d.Ts), CreatedAt: uint64(d.CreatedAt),
			Terms: d.Terms, Vector: d.Vector,
		}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return storage.Put(b)
}

// SegmentDoc is the public shape EncodeSegment accepts, mirroring
// segmentDoc without exposing the JSON tags as part of this package's API
// surface.
type SegmentDoc struct {
	InternalID uint64
	Ts         mvcc.Timestamp
	CreatedAt  mvcc.Timestamp
	Terms      []string
	Vector     []float32
}

// Memory is a reference Provider: linear term-frequency scoring for text
// queries and brute-force cosine similarity for vector queries, merged
// across segments via a bounded min-heap. It is not meant to scale to a
// production corpus — it exists to give the core something real to
// exercise the Provider contract against in tests.
type Memory struct{}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) loadDocs(storage Storage, segments []SegmentHandle) ([]segmentDoc, error) {
	var all []segmentDoc
	for _, h := range segments {
		b, err := storage.Get(h)
		if err != nil {
			return nil, err
		}
		var p segmentPayload
		if err := json.Unmarshal(b, &p); err != nil {
			return nil, fmt.Errorf("searcher: decode segment %s: %w", h, err)
		}
		all = append(all, p.Docs...)
	}
	return all, nil
}

func termScore(terms []string, query []string) float64 {
	set := make(map[string]bool, len(terms))
	for _, t := range terms {
		set[strings.ToLower(t)] = true
	}
	score := 0.0
	for _, q := range query {
		if set[strings.ToLower(q)] {
			score++
		}
	}
	return score
}

func (m *Memory) ExecuteQuery(storage Storage, segment SegmentHandle, schema []string, query CompiledQuery, memDiff *MemoryStatsDiff, shortlisted []string, limit int) ([]TextResult, error) {
	docs, err := m.loadDocs(storage, []SegmentHandle{segment})
	if err != nil {
		return nil, err
	}
	terms := query.Terms
	if len(shortlisted) > 0 {
		terms = shortlisted
	}
	results := make([]TextResult, 0, len(docs))
	for _, d := range docs {
		score := termScore(d.Terms, terms)
		if score <= 0 {
			continue
		}
		results = append(results, TextResult{InternalID: d.InternalID, Ts: mvcc.Timestamp(d.Ts), CreatedAt: mvcc.Timestamp(d.CreatedAt), Score: score})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if memDiff != nil {
		memDiff.Bytes = int64(len(results)) * 32
	}
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (m *Memory) QueryTokens(storage Storage, segments []SegmentHandle, schema []string, tokenQueries []string, maxResults int) ([]TokenMatch, error) {
	docs, err := m.loadDocs(storage, segments)
	if err != nil {
		return nil, err
	}
	freq := make(map[string]uint64)
	for _, d := range docs {
		for _, t := range d.Terms {
			freq[strings.ToLower(t)]++
		}
	}
	matches := make([]TokenMatch, 0)
	for _, q := range tokenQueries {
		ql := strings.ToLower(q)
		for term, f := range freq {
			if strings.HasPrefix(term, ql) {
				matches = append(matches, TokenMatch{Term: term, DocFreq: f, EditDist: editDistancePrefix(ql, term)})
			}
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].DocFreq > matches[j].DocFreq })
	if maxResults > 0 && len(matches) > maxResults {
		matches = matches[:maxResults]
	}
	return matches, nil
}

func editDistancePrefix(prefix, term string) int { return len(term) - len(prefix) }

func (m *Memory) QueryBM25Stats(storage Storage, segments []SegmentHandle, terms []string) ([]BM25Stats, error) {
	docs, err := m.loadDocs(storage, segments)
	if err != nil {
		return nil, err
	}
	stats := make([]BM25Stats, 0, len(terms))
	for _, term := range terms {
		var df uint64
		for _, d := range docs {
			for _, t := range d.Terms {
				if strings.EqualFold(t, term) {
					df++
					break
				}
			}
		}
		stats = append(stats, BM25Stats{Term: term, DocFrequency: df, TotalDocs: uint64(len(docs))})
	}
	return stats, nil
}

func (m *Memory) QueryPostingLists(storage Storage, segments []SegmentHandle, query PostingListQuery) ([]TextResult, error) {
	docs, err := m.loadDocs(storage, segments)
	if err != nil {
		return nil, err
	}
	results := make([]TextResult, 0)
	for _, d := range docs {
		for _, t := range d.Terms {
			if strings.EqualFold(t, query.Term) {
				results = append(results, TextResult{InternalID: d.InternalID, Ts: mvcc.Timestamp(d.Ts), CreatedAt: mvcc.Timestamp(d.CreatedAt), Score: 1})
				break
			}
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results, nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// vecHeap is a bounded min-heap on Score, used to merge per-segment vector
// results: top limit + overfetch_delta
// results across segments, merged via bounded min-heap".
type vecHeap []VectorResult

func (h vecHeap) Len() int            { return len(h) }
func (h vecHeap) Less(i, j int) bool  { return h[i].Score < h[j].Score }
func (h vecHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *vecHeap) Push(x interface{}) { *h = append(*h, x.(VectorResult)) }
func (h *vecHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

func (m *Memory) ExecuteMultiSegmentVectorQuery(storage Storage, segments []SegmentHandle, schema []string, query CompiledVectorSearch, overfetchDelta int) ([]VectorResult, error) {
	docs, err := m.loadDocs(storage, segments)
	if err != nil {
		return nil, err
	}
	k := query.Limit + overfetchDelta
	if k <= 0 {
		k = len(docs)
	}
	h := &vecHeap{}
	heap.Init(h)
	for _, d := range docs {
		if len(d.Vector) == 0 {
			continue
		}
		score := cosine(query.Vector, d.Vector)
		r := VectorResult{InternalID: d.InternalID, Ts: mvcc.Timestamp(d.Ts), Score: score}
		if h.Len() < k {
			heap.Push(h, r)
		} else if h.Len() > 0 && score > (*h)[0].Score {
			heap.Pop(h)
			heap.Push(h, r)
		}
	}
	out := make([]VectorResult, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(VectorResult)
	}
	if query.Limit > 0 && len(out) > query.Limit {
		out = out[:query.Limit]
	}
	return out, nil
}

func (m *Memory) ExecuteVectorCompaction(storage Storage, segments []SegmentHandle, dimension int) (SegmentHandle, error) {
	docs, err := m.loadDocs(storage, segments)
	if err != nil {
		return "", err
	}
	seen := make(map[uint64]segmentDoc, len(docs))
	for _, d := range docs {
		if len(d.Vector) != dimension && dimension > 0 {
			continue
		}
		if existing, ok := seen[d.InternalID]; !ok || d.Ts > existing.Ts {
			seen[d.InternalID] = d
		}
	}
	compacted := make([]SegmentDoc, 0, len(seen))
	for _, d := range seen {
		compacted = append(compacted, SegmentDoc{InternalID: d.InternalID, Ts: mvcc.Timestamp(d.Ts), CreatedAt: mvcc.Timestamp(d.CreatedAt), Terms: d.Terms, Vector: d.Vector})
	}
	return EncodeSegment(storage, compacted)
}
