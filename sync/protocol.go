// Package sync implements the per-client live-query session driver:
// one Worker per connected client, holding the active query
// set, a serial mutation queue, bounded-parallel actions, and an event
// loop that emits Transition messages at monotonically increasing
// versions. The wire format itself is intentionally abstract — this
// package models the message semantics, not a specific framing (HTTP,
// WebSocket) or encoding.
//
// Grounded on functions/internal/pool/pool.go's warm/busy worker
// bookkeeping (repurposed here from "pool of JS workers" to "bounded set
// of in-flight action dispatches") and on
// bundoc/internal/wal/group_commit.go's single-goroutine select loop,
// which Worker.run reuses for the same reason committer.Committer does:
// one task serializes everything this session owns.
package sync

import (
	"github.com/kartikbazzad/syncbase/mvcc"
)

// QueryID identifies one active query within a session.
type QueryID string

// RequestID is the caller-supplied idempotency key for a Mutation or
// Action, scoped to the session.
type RequestID string

// Version is the sync protocol's (ts, query_set_version, identity_version)
// triple this package tracks as current_version.
type Version struct {
	Ts              mvcc.Timestamp
	QuerySetVersion uint64
	IdentityVersion uint64
}

// QuerySpec names one query to add to the active set: a UDF path plus
// its arguments, with an optional journal hint carried across
// reconnects so a resumed session can skip re-deriving pagination state.
type QuerySpec struct {
	QueryID QueryID
	Path    string
	Args    map[string]interface{}
	Journal []byte
}

// Modification is one entry of a ModifyQuerySet message: either Add a new
// query or Remove an existing one.
type Modification struct {
	Add    *QuerySpec
	Remove QueryID
}

// ConnectMsg is the mandatory first message of a session.
type ConnectMsg struct {
	SessionID       string
	LastCloseReason string
	// MaxObservedTs, if set, is the highest commit timestamp the client has
	// ever observed from any session. If it exceeds the server's current
	// latest timestamp, the connection must abort per this package's
	// linearizability guard.
	MaxObservedTs    *mvcc.Timestamp
	ConnectionCount  int
}

// ModifyQuerySetMsg adds/removes queries from the active set.
type ModifyQuerySetMsg struct {
	BaseVersion   Version
	NewVersion    Version
	Modifications []Modification
}

// MutationMsg requests a serialized write-UDF invocation.
type MutationMsg struct {
	RequestID      RequestID
	Path           string
	Args           map[string]interface{}
	ComponentPath  string
}

// ActionMsg requests a fire-and-forget side-effecting UDF invocation, not
// tied to any commit timestamp.
type ActionMsg struct {
	RequestID     RequestID
	Path          string
	Args          map[string]interface{}
	ComponentPath string
}

// AuthenticateMsg (re)authenticates the session without tearing down its
// active query set.
type AuthenticateMsg struct {
	Token       string
	BaseVersion Version
}

// EventMsg is an opaque client-originated event (e.g. heartbeat ack or
// client-side telemetry) the worker does not interpret beyond bookkeeping.
type EventMsg struct {
	Name string
	Data map[string]interface{}
}

// QueryChangeKind classifies one query's state transition inside a
// Transition message.
type QueryChangeKind int

const (
	QueryUpdated QueryChangeKind = iota
	QueryRemoved
	QueryFailed
)

// QueryChange is one entry of a Transition's Modifications: a
// "QueryUpdated | QueryRemoved | QueryFailed".
type QueryChange struct {
	QueryID QueryID
	Kind    QueryChangeKind
	Value   interface{}
	Err     error
	Journal []byte
}

// Transition is the server->client message delivering every query whose
// state actually changed between two versions, per step 3.
type Transition struct {
	StartVersion  Version
	EndVersion    Version
	Modifications []QueryChange
}

// MutationResponse reports a completed mutation back to the client.
type MutationResponse struct {
	RequestID RequestID
	Result    interface{}
	Err       error
	Ts        mvcc.Timestamp
}

// ActionResponse reports a completed action back to the client.
type ActionResponse struct {
	RequestID RequestID
	Result    interface{}
	Err       error
}

// AuthError reports an authentication failure on the Authenticate path.
type AuthError struct {
	Reason string
}

// FatalError tears down the session; an observed
// max_observed_ts ahead of the server's latest timestamp is the
// canonical trigger.
type FatalError struct {
	Reason string
}

// Ping is the periodic heartbeat tick emitted between real messages so
// the client can detect a silently dead connection.
type Ping struct{}

// Outbound is anything the worker may emit to the client connection; the
// transport layer (out of scope here) type-switches on this.
type Outbound interface{}
