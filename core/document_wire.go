package core

import (
	"encoding/json"
	"fmt"

	"github.com/kartikbazzad/syncbase/mvcc"
)

// documentWire is the on-disk encoding of one document revision: the
// creation timestamp plus the opaque value, written by the committer and
// read back both by committer.materializeIndexes (bootstrap of Database-
// kind memory indexes) and package search (bootstrap of text/vector
// deltas). Centralizing it here, rather than letting each reader define
// its own matching struct, keeps the two in lockstep.
type documentWire struct {
	CreationTime uint64          `json:"creation_time"`
	Value        json.RawMessage `json:"value"`
}

// EncodeDocumentPayload renders a document revision into the bytes
// persistence.DocumentWrite.Doc stores.
func EncodeDocumentPayload(value json.RawMessage, creationTime mvcc.Timestamp) ([]byte, error) {
	b, err := json.Marshal(documentWire{CreationTime: uint64(creationTime), Value: value})
	if err != nil {
		return nil, fmt.Errorf("core: encode document payload: %w", err)
	}
	return b, nil
}

// DecodeDocumentPayload is EncodeDocumentPayload's inverse. A nil/empty
// payload (a persisted tombstone) is not valid input; callers distinguish
// tombstones before calling this by checking persistence.DocumentWrite.Doc
// for nil.
func DecodeDocumentPayload(payload []byte) (json.RawMessage, mvcc.Timestamp, error) {
	var w documentWire
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, 0, fmt.Errorf("core: decode document payload: %w", err)
	}
	return w.Value, mvcc.Timestamp(w.CreationTime), nil
}
