// Package memory provides an in-process kv.Store with the same atomicity
// semantics as the durable drivers. It backs unit tests and local runs
// without external services.
package memory

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/ticketops/boxoffice/internal/kv"
)

// Store keeps every table in a map guarded by one mutex. Single-item writes
// and whole transactions are atomic under that mutex, which makes the driver
// a faithful stand-in for conditional-write stores under concurrency.
type Store struct {
	mu     sync.Mutex
	schema map[string]kv.TableSpec
	tables map[string]map[string]kv.Item
}

// New creates a store serving the given tables.
func New(tables []kv.TableSpec) *Store {
	s := &Store{
		schema: make(map[string]kv.TableSpec, len(tables)),
		tables: make(map[string]map[string]kv.Item, len(tables)),
	}
	for _, t := range tables {
		s.schema[t.Name] = t
		s.tables[t.Name] = make(map[string]kv.Item)
	}
	return s
}

func (s *Store) table(name string) (map[string]kv.Item, error) {
	t, ok := s.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", kv.ErrUnknownTable, name)
	}
	return t, nil
}

func cloneItem(it kv.Item) kv.Item {
	out := kv.Item{Key: it.Key, Doc: make([]byte, len(it.Doc))}
	copy(out.Doc, it.Doc)
	if it.Attrs != nil {
		out.Attrs = make(map[string]string, len(it.Attrs))
		for k, v := range it.Attrs {
			out.Attrs[k] = v
		}
	}
	return out
}

// evaluate checks cond against the current row state. cur is nil when the key
// is absent.
func evaluate(cur *kv.Item, cond kv.Condition) error {
	if cond.Absent {
		if cur != nil {
			return fmt.Errorf("%w: key exists", kv.ErrPreconditionFailed)
		}
		return nil
	}

	needExisting := cond.Exists || cond.Version != nil || cond.AttrAbsent != "" || len(cond.AttrEquals) > 0
	if needExisting && cur == nil {
		return fmt.Errorf("%w: key absent", kv.ErrPreconditionFailed)
	}
	if cur == nil {
		return nil
	}

	if cond.Version != nil {
		want := strconv.FormatInt(*cond.Version, 10)
		if cur.Attrs[kv.AttrVersion] != want {
			return fmt.Errorf("%w: version is %q, want %s", kv.ErrPreconditionFailed, cur.Attrs[kv.AttrVersion], want)
		}
	}
	if cond.AttrAbsent != "" && cur.Attrs[cond.AttrAbsent] != "" {
		return fmt.Errorf("%w: attr %s is set", kv.ErrPreconditionFailed, cond.AttrAbsent)
	}
	for name, want := range cond.AttrEquals {
		if cur.Attrs[name] != want {
			return fmt.Errorf("%w: attr %s is %q, want %q", kv.ErrPreconditionFailed, name, cur.Attrs[name], want)
		}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, table, key string) (kv.Item, error) {
	if err := ctx.Err(); err != nil {
		return kv.Item{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(table)
	if err != nil {
		return kv.Item{}, err
	}
	it, ok := t[key]
	if !ok {
		return kv.Item{}, fmt.Errorf("%w: %s/%s", kv.ErrItemNotFound, table, key)
	}
	return cloneItem(it), nil
}

func (s *Store) Put(ctx context.Context, table string, item kv.Item) error {
	return s.PutIf(ctx, table, item, kv.Condition{})
}

func (s *Store) PutIf(ctx context.Context, table string, item kv.Item, cond kv.Condition) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(table)
	if err != nil {
		return err
	}
	if err := evaluate(rowPtr(t, item.Key), cond); err != nil {
		return err
	}
	t[item.Key] = cloneItem(item)
	return nil
}

func (s *Store) UpdateIf(ctx context.Context, table string, item kv.Item, cond kv.Condition) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(table)
	if err != nil {
		return err
	}
	if _, ok := t[item.Key]; !ok {
		return fmt.Errorf("%w: %s/%s", kv.ErrItemNotFound, table, item.Key)
	}
	if err := evaluate(rowPtr(t, item.Key), cond); err != nil {
		return err
	}
	t[item.Key] = cloneItem(item)
	return nil
}

func (s *Store) Delete(ctx context.Context, table, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(table)
	if err != nil {
		return err
	}
	delete(t, key)
	return nil
}

func rowPtr(t map[string]kv.Item, key string) *kv.Item {
	if it, ok := t[key]; ok {
		return &it
	}
	return nil
}

// indexEntry pairs an item with its position in the index order.
type indexEntry struct {
	score int64
	key   string
	item  kv.Item
}

func (s *Store) Query(ctx context.Context, table, index string, opts kv.QueryOpts) (kv.Page, error) {
	if err := ctx.Err(); err != nil {
		return kv.Page{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(table)
	if err != nil {
		return kv.Page{}, err
	}
	spec, ok := s.schema[table].Index(index)
	if !ok {
		return kv.Page{}, fmt.Errorf("%w: %s on %s", kv.ErrUnknownIndex, index, table)
	}

	var before int64
	hasBefore := false
	if opts.Before != "" {
		before, err = strconv.ParseInt(opts.Before, 10, 64)
		if err != nil {
			return kv.Page{}, fmt.Errorf("invalid range bound %q: %w", opts.Before, err)
		}
		hasBefore = true
	}

	var entries []indexEntry
	for key, it := range t {
		// Items missing the index attrs are not in the index.
		hash, ok := it.Attrs[spec.HashAttr]
		if !ok || hash != opts.Eq {
			continue
		}

		var score int64
		if spec.RangeAttr != "" {
			raw, ok := it.Attrs[spec.RangeAttr]
			if !ok || raw == "" {
				continue
			}
			score, err = strconv.ParseInt(raw, 10, 64)
			if err != nil {
				continue
			}
			if hasBefore && score >= before {
				continue
			}
		}
		entries = append(entries, indexEntry{score: score, key: key, item: it})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].score != entries[j].score {
			return entries[i].score < entries[j].score
		}
		return entries[i].key < entries[j].key
	})

	return pageOf(entries, opts.Cursor, opts.Limit)
}

func (s *Store) Scan(ctx context.Context, table string, opts kv.ScanOpts) (kv.Page, error) {
	if err := ctx.Err(); err != nil {
		return kv.Page{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(table)
	if err != nil {
		return kv.Page{}, err
	}

	entries := make([]indexEntry, 0, len(t))
	for key, it := range t {
		entries = append(entries, indexEntry{key: key, item: it})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })

	return pageOf(entries, opts.Cursor, opts.Limit)
}

// pageOf slices the sorted entries after the cursor position and encodes the
// next cursor. Comparison against the cursor is positional, so entries
// deleted between pages do not break resumption.
func pageOf(entries []indexEntry, cursor string, limit int) (kv.Page, error) {
	start := 0
	if cursor != "" {
		score, key, err := decodeCursor(cursor)
		if err != nil {
			return kv.Page{}, err
		}
		start = sort.Search(len(entries), func(i int) bool {
			if entries[i].score != score {
				return entries[i].score > score
			}
			return entries[i].key > key
		})
	}

	end := len(entries)
	if limit > 0 && start+limit < end {
		end = start + limit
	}

	page := kv.Page{Items: make([]kv.Item, 0, end-start)}
	for _, e := range entries[start:end] {
		page.Items = append(page.Items, cloneItem(e.item))
	}
	if end < len(entries) && end > start {
		last := entries[end-1]
		page.Cursor = encodeCursor(last.score, last.key)
	}
	return page, nil
}

func encodeCursor(score int64, key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.FormatInt(score, 10) + "\x00" + key))
}

func decodeCursor(cursor string) (int64, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, "", fmt.Errorf("invalid cursor: %w", err)
	}
	parts := strings.SplitN(string(raw), "\x00", 2)
	if len(parts) != 2 {
		return 0, "", fmt.Errorf("invalid cursor")
	}
	score, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("invalid cursor: %w", err)
	}
	return score, parts[1], nil
}

func (s *Store) TransactWrite(ctx context.Context, ops []kv.Op) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{}, len(ops))
	for _, op := range ops {
		if _, err := s.table(op.Table); err != nil {
			return err
		}
		ref := op.Table + "\x00" + op.Item.Key
		if _, dup := seen[ref]; dup {
			return fmt.Errorf("duplicate key in transaction: %s/%s", op.Table, op.Item.Key)
		}
		seen[ref] = struct{}{}
	}

	// Evaluate every condition before touching anything.
	reasons := make([]error, len(ops))
	canceled := false
	for i, op := range ops {
		t := s.tables[op.Table]
		cur := rowPtr(t, op.Item.Key)

		if op.Kind == kv.OpUpdate && cur == nil {
			reasons[i] = fmt.Errorf("%w: %s/%s", kv.ErrItemNotFound, op.Table, op.Item.Key)
			canceled = true
			continue
		}
		if err := evaluate(cur, op.Cond); err != nil {
			reasons[i] = err
			canceled = true
		}
	}
	if canceled {
		return &kv.TxCanceledError{Reasons: reasons}
	}

	for _, op := range ops {
		t := s.tables[op.Table]
		switch op.Kind {
		case kv.OpPut, kv.OpUpdate:
			t[op.Item.Key] = cloneItem(op.Item)
		case kv.OpDelete:
			delete(t, op.Item.Key)
		case kv.OpCheck:
			// Nothing to apply.
		}
	}
	return nil
}
