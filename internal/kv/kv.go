// Package kv defines the key-value store contract the repositories are built
// on: conditional writes, secondary-index queries, paged scans and multi-item
// transactional writes. Drivers live in the subpackages memory, redis and
// postgres.
package kv

import "context"

// Item is one stored row. Doc is the opaque serialized entity; Attrs are the
// scalar projections drivers index and evaluate conditions against. Numeric
// attrs (versions, epoch seconds) are encoded as decimal strings.
type Item struct {
	Key   string
	Doc   []byte
	Attrs map[string]string
}

// AttrVersion is the attribute optimistic-lock conditions compare against.
const AttrVersion = "version"

// Condition is the precondition of a conditional write. Zero value means
// unconditional. At most one of Absent/Exists is set; Version and AttrEquals
// imply Exists.
type Condition struct {
	// Absent requires that no item exists under the key.
	Absent bool
	// Exists requires that an item exists under the key.
	Exists bool
	// Version requires attr "version" to equal this value.
	Version *int64
	// AttrAbsent requires the named attr to be missing or empty.
	AttrAbsent string
	// AttrEquals requires every named attr to equal the given value.
	AttrEquals map[string]string
}

// Unconditional reports whether the condition imposes nothing.
func (c Condition) Unconditional() bool {
	return !c.Absent && !c.Exists && c.Version == nil && c.AttrAbsent == "" && len(c.AttrEquals) == 0
}

// IfAbsent is the uniqueness-gate condition used for conditional creates.
func IfAbsent() Condition {
	return Condition{Absent: true}
}

// IfVersion preconditions a write on the currently stored version.
func IfVersion(v int64) Condition {
	return Condition{Exists: true, Version: &v}
}

// OpKind selects the effect of one transactional write item.
type OpKind int

const (
	// OpPut writes the item, subject to Cond.
	OpPut OpKind = iota
	// OpUpdate replaces an existing item, subject to Cond. Fails if absent.
	OpUpdate
	// OpCheck asserts Cond without writing.
	OpCheck
	// OpDelete removes the item, subject to Cond.
	OpDelete
)

// Op is one item of a transactional write.
type Op struct {
	Kind  OpKind
	Table string
	Item  Item
	Cond  Condition
}

// QueryOpts selects items through a secondary index. Eq matches the index
// hash attribute; Before optionally bounds the range attribute from above,
// exclusive.
type QueryOpts struct {
	Eq     string
	Before string
	Limit  int
	Cursor string
}

// ScanOpts pages through a full table.
type ScanOpts struct {
	Limit  int
	Cursor string
}

// Page is one page of query or scan results. Cursor is empty on the last
// page.
type Page struct {
	Items  []Item
	Cursor string
}

// Store is the storage contract. All calls honor ctx cancellation; mutating
// calls are atomic per call.
type Store interface {
	// Get loads one item. Fails with ErrItemNotFound if the key is absent.
	Get(ctx context.Context, table, key string) (Item, error)

	// Put writes an item unconditionally.
	Put(ctx context.Context, table string, item Item) error

	// PutIf writes an item when cond holds, atomically. Fails with
	// ErrPreconditionFailed otherwise.
	PutIf(ctx context.Context, table string, item Item, cond Condition) error

	// UpdateIf replaces an existing item when cond holds, atomically. Fails
	// with ErrItemNotFound when the key is absent and ErrPreconditionFailed
	// when cond does not hold.
	UpdateIf(ctx context.Context, table string, item Item, cond Condition) error

	// Delete removes an item. Deleting an absent key is not an error.
	Delete(ctx context.Context, table, key string) error

	// Query pages through a secondary index.
	Query(ctx context.Context, table, index string, opts QueryOpts) (Page, error)

	// Scan pages through a whole table in undefined order.
	Scan(ctx context.Context, table string, opts ScanOpts) (Page, error)

	// TransactWrite applies all ops atomically, or none. A precondition
	// failure cancels the transaction with *TxCanceledError carrying
	// per-item reasons.
	TransactWrite(ctx context.Context, ops []Op) error
}

// TableSpec declares a table and its secondary indexes. Drivers receive the
// full schema up front so writes can maintain index entries.
type TableSpec struct {
	Name    string
	Indexes []IndexSpec
}

// IndexSpec declares a secondary index. HashAttr buckets items by equality;
// RangeAttr, when set, orders the bucket by its decimal-integer value.
type IndexSpec struct {
	Name      string
	HashAttr  string
	RangeAttr string
}

// Index looks up an index spec by name.
func (t TableSpec) Index(name string) (IndexSpec, bool) {
	for _, idx := range t.Indexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return IndexSpec{}, false
}
