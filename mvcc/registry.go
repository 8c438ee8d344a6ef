package mvcc

import "fmt"

// TabletID and TableNumber are defined here, at the bottom of the import
// graph, so mvcc never depends back on the root package; the root
// package's TabletID/TableNumber are declared as aliases of these.
type TabletID uint32
type TableNumber uint32

// TableState is the table registry's per-tablet state machine.
type TableState int

const (
	TableActive TableState = iota
	TableHidden
	TableDeleting
)

func (s TableState) String() string {
	switch s {
	case TableActive:
		return "active"
	case TableHidden:
		return "hidden"
	case TableDeleting:
		return "deleting"
	default:
		return "unknown"
	}
}

// TableMetadata is one entry of the table registry: a table's
// Registry: mapping tablet_id -> (namespace, table_name, table_number,
// state)".
type TableMetadata struct {
	Tablet      TabletID
	Namespace   string
	TableName   string
	TableNumber TableNumber
	State       TableState
}

// TableRegistry is the immutable-per-snapshot mapping of tablets to their
// metadata. "Immutable within a snapshot" breaks the cyclic
// registry<->snapshot reference Design Note 9 calls out: a mutation
// produces a new *TableRegistry value referenced by the new Snapshot,
// never mutates one in place.
type TableRegistry struct {
	byTablet map[TabletID]TableMetadata
	// byActiveName indexes (namespace, table_name) -> tablet for the
	// invariant "at most one Active table per name per namespace".
	byActiveName map[string]TabletID
	byActiveNum  map[string]TabletID
}

// NewTableRegistry returns an empty registry.
func NewTableRegistry() *TableRegistry {
	return &TableRegistry{
		byTablet:     make(map[TabletID]TableMetadata),
		byActiveName: make(map[string]TabletID),
		byActiveNum:  make(map[string]TabletID),
	}
}

func activeNameKey(namespace, table string) string { return namespace + "\x00" + table }
func activeNumKey(namespace string, num TableNumber) string { return fmt.Sprintf("%s\x00%d", namespace, num) }

// clone returns a shallow copy whose maps are independent, so With*
// mutators never affect a snapshot already published.
func (r *TableRegistry) clone() *TableRegistry {
	n := NewTableRegistry()
	for k, v := range r.byTablet {
		n.byTablet[k] = v
	}
	for k, v := range r.byActiveName {
		n.byActiveName[k] = v
	}
	for k, v := range r.byActiveNum {
		n.byActiveNum[k] = v
	}
	return n
}

// Get returns the metadata for a tablet, if registered.
func (r *TableRegistry) Get(tablet TabletID) (TableMetadata, bool) {
	m, ok := r.byTablet[tablet]
	return m, ok
}

// ActiveByName resolves an Active table by (namespace, table_name).
func (r *TableRegistry) ActiveByName(namespace, table string) (TableMetadata, bool) {
	tablet, ok := r.byActiveName[activeNameKey(namespace, table)]
	if !ok {
		return TableMetadata{}, false
	}
	m, ok := r.byTablet[tablet]
	return m, ok
}

// WithUpsert returns a new registry with the given table metadata applied,
// enforcing the invariant that at most one Active table exists per
// (namespace, table_name) and per (namespace, table_number).
func (r *TableRegistry) WithUpsert(m TableMetadata) (*TableRegistry, error) {
	n := r.clone()
	if m.State == TableActive {
		nameKey := activeNameKey(m.Namespace, m.TableName)
		numKey := activeNumKey(m.Namespace, m.TableNumber)
		if existing, ok := n.byActiveName[nameKey]; ok && existing != m.Tablet {
			return nil, fmt.Errorf("table %s.%s already has an active tablet %d", m.Namespace, m.TableName, existing)
		}
		if existing, ok := n.byActiveNum[numKey]; ok && existing != m.Tablet {
			return nil, fmt.Errorf("table number %d in namespace %s already has an active tablet %d", m.TableNumber, m.Namespace, existing)
		}
		n.byActiveName[nameKey] = m.Tablet
		n.byActiveNum[numKey] = m.Tablet
	} else {
		if old, ok := n.byTablet[m.Tablet]; ok && old.State == TableActive {
			delete(n.byActiveName, activeNameKey(old.Namespace, old.TableName))
			delete(n.byActiveNum, activeNumKey(old.Namespace, old.TableNumber))
		}
	}
	n.byTablet[m.Tablet] = m
	return n, nil
}

// All returns every registered table's metadata, for bootstrap's tablet
// enumeration.
func (r *TableRegistry) All() []TableMetadata {
	out := make([]TableMetadata, 0, len(r.byTablet))
	for _, m := range r.byTablet {
		out = append(out, m)
	}
	return out
}

// WithDelete returns a new registry with the tablet removed entirely
// (used for the table-metadata-deletion step of the commit sort key).
func (r *TableRegistry) WithDelete(tablet TabletID) *TableRegistry {
	n := r.clone()
	if old, ok := n.byTablet[tablet]; ok {
		if old.State == TableActive {
			delete(n.byActiveName, activeNameKey(old.Namespace, old.TableName))
			delete(n.byActiveNum, activeNumKey(old.Namespace, old.TableNumber))
		}
		delete(n.byTablet, tablet)
	}
	return n
}

// IndexConfigKind distinguishes the three index flavors this module supports.
type IndexConfigKind int

const (
	IndexDatabase IndexConfigKind = iota
	IndexText
	IndexVector
)

// IndexState is the per-index backfill state machine.
type IndexState int

const (
	IndexBackfilling IndexState = iota
	IndexBackfilled
	IndexEnabled
)

func (s IndexState) String() string {
	switch s {
	case IndexBackfilling:
		return "backfilling"
	case IndexBackfilled:
		return "backfilled"
	case IndexEnabled:
		return "enabled"
	default:
		return "unknown"
	}
}

// IndexID uniquely identifies an index registry entry.
type IndexID uint32

// IndexDescriptor names an index the way queries refer to it:
// "<namespace>.<table>.<index_name>".
type IndexDescriptor struct {
	Namespace string
	Table     string
	Name      string
}

func (d IndexDescriptor) String() string {
	return fmt.Sprintf("%s.%s.%s", d.Namespace, d.Table, d.Name)
}

// SearchSnapshot records the on-disk segment handle and fast-forward
// timestamp carried by Text/Vector indexes.
type SearchSnapshot struct {
	// DiskKey is the opaque, content-addressed storage key the searcher
	// treats as a handle; the core never interprets its bytes.
	DiskKey string
	// DiskTs is the commit timestamp the disk segment covers up to,
	// inclusive.
	DiskTs Timestamp
	// FastForwardTs optionally hides committed updates up to this
	// timestamp from the in-memory delta.
	// Zero means no fast-forward is in effect.
	FastForwardTs Timestamp
}

// Index is one entry of the index registry.
type Index struct {
	ID         IndexID
	Tablet     TabletID
	Descriptor IndexDescriptor
	Fields     []string
	Config     IndexConfigKind
	State      IndexState
	// Snapshot is populated for Text/Vector indexes once a disk segment
	// exists (Backfilled/Enabled).
	Snapshot *SearchSnapshot
}

// BootstrapIndexByID and BootstrapIndexByCreationTime are the two indexes
// that always exist, Enabled, for every table.
const (
	BootstrapIndexByID           = "by_id"
	BootstrapIndexByCreationTime = "by_creation_time"
)

// IndexRegistry is the immutable-per-snapshot set of indexes.
type IndexRegistry struct {
	byID     map[IndexID]Index
	byTablet map[TabletID][]IndexID
}

// NewIndexRegistry returns an empty registry.
func NewIndexRegistry() *IndexRegistry {
	return &IndexRegistry{byID: make(map[IndexID]Index), byTablet: make(map[TabletID][]IndexID)}
}

func (r *IndexRegistry) clone() *IndexRegistry {
	n := NewIndexRegistry()
	for k, v := range r.byID {
		n.byID[k] = v
	}
	for k, v := range r.byTablet {
		cp := make([]IndexID, len(v))
		copy(cp, v)
		n.byTablet[k] = cp
	}
	return n
}

// Get returns an index by id.
func (r *IndexRegistry) Get(id IndexID) (Index, bool) {
	idx, ok := r.byID[id]
	return idx, ok
}

// ForTablet returns every index registered against a tablet.
func (r *IndexRegistry) ForTablet(tablet TabletID) []Index {
	ids := r.byTablet[tablet]
	out := make([]Index, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.byID[id])
	}
	return out
}

// WithUpsert returns a new registry with the index applied.
func (r *IndexRegistry) WithUpsert(idx Index) *IndexRegistry {
	n := r.clone()
	if _, existed := n.byID[idx.ID]; !existed {
		n.byTablet[idx.Tablet] = append(n.byTablet[idx.Tablet], idx.ID)
	}
	n.byID[idx.ID] = idx
	return n
}

// WithDelete returns a new registry with the index removed.
func (r *IndexRegistry) WithDelete(id IndexID) *IndexRegistry {
	n := r.clone()
	if idx, ok := n.byID[id]; ok {
		ids := n.byTablet[idx.Tablet]
		for i, v := range ids {
			if v == id {
				n.byTablet[idx.Tablet] = append(ids[:i], ids[i+1:]...)
				break
			}
		}
		delete(n.byID, id)
	}
	return n
}

// All returns every registered index, for bootstrap's index-registry scan.
func (r *IndexRegistry) All() []Index {
	out := make([]Index, 0, len(r.byID))
	for _, idx := range r.byID {
		out = append(out, idx)
	}
	return out
}
