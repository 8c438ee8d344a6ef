package core

import (
	"encoding/binary"
	"encoding/json"

	"github.com/kartikbazzad/syncbase/mvcc"
)

// EncodeByID produces the by_id bootstrap index key: the document's
// internal id as a fixed-width big-endian integer, so byte comparison
// equals numeric comparison.
func EncodeByID(id DocumentID) mvcc.IndexKey {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, id.Developer.InternalID)
	return mvcc.IndexKey(b)
}

// EncodeByCreationTime produces the by_creation_time bootstrap index key:
// creation timestamp followed by internal id, both fixed-width
// big-endian, so the index naturally orders by creation time with ties
// broken by id.
func EncodeByCreationTime(ts mvcc.Timestamp, id DocumentID) mvcc.IndexKey {
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b[0:8], uint64(ts))
	binary.BigEndian.PutUint64(b[8:16], id.Developer.InternalID)
	return mvcc.IndexKey(b)
}

// ByIDIndexID and ByCreationTimeIndexID derive the deterministic IndexIDs
// of a tablet's two bootstrap indexes (two indexes that
// always exist, Enabled, for every table"). Deriving them from the tablet
// number rather than requiring an explicit IndexRegistry entry means a
// freshly registered tablet is indexable from its very first write,
// before any index-metadata document has been committed for it.
func ByIDIndexID(tablet TabletID) mvcc.IndexID { return mvcc.IndexID(tablet)*2 + 1 }

func ByCreationTimeIndexID(tablet TabletID) mvcc.IndexID { return mvcc.IndexID(tablet)*2 + 2 }

// EncodeFieldIndexKey builds a Database-index key out of a document's
// field values in index-field order (first field only, the common
// single-field secondary index case), followed by the document's id so
// entries with an equal field value still sort deterministically.
// Composite multi-field keys are not built: fields after the first are
// ignored.
func EncodeFieldIndexKey(value json.RawMessage, field string, id DocumentID) (mvcc.IndexKey, bool) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(value, &doc); err != nil {
		return nil, false
	}
	fv, ok := doc[field]
	if !ok {
		return nil, false
	}
	key := append(append([]byte{}, fv...), byte(0))
	key = append(key, EncodeByID(id)...)
	return mvcc.IndexKey(key), true
}

// ExtractTextTerms reads field from value and splits it into runs of ASCII
// letters and digits for a text index, per the search package's in-memory
// delta maintenance; every other rune (whitespace, punctuation, non-ASCII
// letters) separates terms and is dropped.
// A field that is absent, not a string, or not present at all yields no
// terms rather than an error: a text index simply does not cover that
// document.
func ExtractTextTerms(value json.RawMessage, field string) []string {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(value, &doc); err != nil {
		return nil
	}
	raw, ok := doc[field]
	if !ok {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	return splitWords(s)
}

func splitWords(s string) []string {
	var words []string
	start := -1
	for i, r := range s {
		if isWordRune(r) {
			if start < 0 {
				start = i
			}
		} else if start >= 0 {
			words = append(words, s[start:i])
			start = -1
		}
	}
	if start >= 0 {
		words = append(words, s[start:])
	}
	return words
}

func isWordRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// ExtractVector reads field from value as a JSON array of numbers for a
// vector index. It returns (nil, false) if the field is absent or not a
// numeric array.
func ExtractVector(value json.RawMessage, field string) ([]float32, bool) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(value, &doc); err != nil {
		return nil, false
	}
	raw, ok := doc[field]
	if !ok {
		return nil, false
	}
	var nums []float64
	if err := json.Unmarshal(raw, &nums); err != nil {
		return nil, false
	}
	out := make([]float32, len(nums))
	for i, n := range nums {
		out[i] = float32(n)
	}
	return out, true
}
