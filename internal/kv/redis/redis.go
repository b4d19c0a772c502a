// Package redis implements kv.Store on a single Redis node. Each item is a
// hash holding the document plus its indexed attributes; secondary indexes
// are sorted sets maintained in the same Lua script that evaluates write
// conditions, so every mutation is atomic under Redis's single-threaded
// execution.
package redis

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/ticketops/boxoffice/internal/kv"
)

const (
	fieldDoc    = "doc"
	attrPrefix  = "a:"
	defaultNS   = "boxoffice"
	scanBatch   = 200
	kindPut     = "put"
	kindUpdate  = "update"
	kindCheck   = "check"
	kindDelete  = "delete"
	reasonGone  = "not_found"
	reasonGuard = "precondition"
)

type Store struct {
	rdb    *redis.Client
	ns     string
	schema map[string]kv.TableSpec
	write  *redis.Script
}

// New creates a store over an existing client. All keys are prefixed with
// the namespace, so several deployments can share one Redis database.
func New(client *redis.Client, namespace string, tables []kv.TableSpec) *Store {
	if namespace == "" {
		namespace = defaultNS
	}
	schema := make(map[string]kv.TableSpec, len(tables))
	for _, t := range tables {
		schema[t.Name] = t
	}
	return &Store{
		rdb:    client,
		ns:     namespace,
		schema: schema,
		write:  redis.NewScript(luaWrite),
	}
}

func (s *Store) itemKey(table, pk string) string {
	return s.ns + ":item:" + table + ":" + pk
}

func (s *Store) itemPrefix(table string) string {
	return s.ns + ":item:" + table + ":"
}

func (s *Store) indexKey(table, index, hashValue string) string {
	return s.ns + ":idx:" + table + ":" + index + ":" + hashValue
}

func (s *Store) table(name string) (kv.TableSpec, error) {
	spec, ok := s.schema[name]
	if !ok {
		return kv.TableSpec{}, fmt.Errorf("%w: %s", kv.ErrUnknownTable, name)
	}
	return spec, nil
}

func wrapNet(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%s: %w: %v", op, kv.ErrStoreUnavailable, err)
}

func (s *Store) Get(ctx context.Context, table, key string) (kv.Item, error) {
	const op = "kv.redis.Get"

	if _, err := s.table(table); err != nil {
		return kv.Item{}, err
	}
	fields, err := s.rdb.HGetAll(ctx, s.itemKey(table, key)).Result()
	if err != nil {
		return kv.Item{}, wrapNet(op, err)
	}
	if len(fields) == 0 {
		return kv.Item{}, fmt.Errorf("%w: %s/%s", kv.ErrItemNotFound, table, key)
	}
	return itemFromHash(key, fields), nil
}

func itemFromHash(key string, fields map[string]string) kv.Item {
	item := kv.Item{Key: key, Doc: []byte(fields[fieldDoc])}
	for name, value := range fields {
		if rest, ok := strings.CutPrefix(name, attrPrefix); ok {
			if item.Attrs == nil {
				item.Attrs = make(map[string]string)
			}
			item.Attrs[rest] = value
		}
	}
	return item
}

func (s *Store) Put(ctx context.Context, table string, item kv.Item) error {
	return s.PutIf(ctx, table, item, kv.Condition{})
}

func (s *Store) PutIf(ctx context.Context, table string, item kv.Item, cond kv.Condition) error {
	return s.writeOne(ctx, kv.Op{Kind: kv.OpPut, Table: table, Item: item, Cond: cond})
}

func (s *Store) UpdateIf(ctx context.Context, table string, item kv.Item, cond kv.Condition) error {
	return s.writeOne(ctx, kv.Op{Kind: kv.OpUpdate, Table: table, Item: item, Cond: cond})
}

func (s *Store) Delete(ctx context.Context, table, key string) error {
	return s.writeOne(ctx, kv.Op{Kind: kv.OpDelete, Table: table, Item: kv.Item{Key: key}})
}

// writeOne runs a single op through the transactional script and unwraps its
// failure to the plain single-op error.
func (s *Store) writeOne(ctx context.Context, op kv.Op) error {
	err := s.TransactWrite(ctx, []kv.Op{op})

	var canceled *kv.TxCanceledError
	if errors.As(err, &canceled) && len(canceled.Reasons) == 1 && canceled.Reasons[0] != nil {
		return canceled.Reasons[0]
	}
	return err
}

func (s *Store) TransactWrite(ctx context.Context, ops []kv.Op) error {
	const op = "kv.redis.TransactWrite"

	payload, err := s.encodeOps(ops)
	if err != nil {
		return err
	}

	raw, err := s.write.Run(ctx, s.rdb, nil, s.ns, payload).Result()
	if err != nil {
		return wrapNet(op, err)
	}
	text, ok := raw.(string)
	if !ok {
		return fmt.Errorf("%s: unexpected script result %T", op, raw)
	}

	var res struct {
		OK      bool     `json:"ok"`
		Reasons []string `json:"reasons"`
	}
	if err := json.Unmarshal([]byte(text), &res); err != nil {
		return fmt.Errorf("%s: decoding script result: %w", op, err)
	}
	if res.OK {
		return nil
	}

	reasons := make([]error, len(ops))
	for i, code := range res.Reasons {
		if i >= len(ops) {
			break
		}
		switch code {
		case reasonGone:
			reasons[i] = fmt.Errorf("%w: %s/%s", kv.ErrItemNotFound, ops[i].Table, ops[i].Item.Key)
		case reasonGuard:
			reasons[i] = fmt.Errorf("%w: %s/%s", kv.ErrPreconditionFailed, ops[i].Table, ops[i].Item.Key)
		}
	}
	return &kv.TxCanceledError{Reasons: reasons}
}

// scriptOp is the wire form of one op inside the Lua payload. Doc is the JSON
// document verbatim; the version condition is carried as the decimal string
// the attribute stores.
type scriptOp struct {
	Kind    string            `json:"kind"`
	Table   string            `json:"table"`
	PK      string            `json:"pk"`
	Doc     string            `json:"doc,omitempty"`
	Attrs   map[string]string `json:"attrs,omitempty"`
	Indexes []scriptIndex     `json:"indexes,omitempty"`
	Cond    scriptCond        `json:"cond"`
}

type scriptIndex struct {
	Name  string `json:"name"`
	Hash  string `json:"hash"`
	Range string `json:"range,omitempty"`
}

type scriptCond struct {
	Absent     bool              `json:"absent,omitempty"`
	Exists     bool              `json:"exists,omitempty"`
	Version    string            `json:"version,omitempty"`
	AttrAbsent string            `json:"attr_absent,omitempty"`
	AttrEquals map[string]string `json:"attr_equals,omitempty"`
}

func (s *Store) encodeOps(ops []kv.Op) (string, error) {
	seen := make(map[string]struct{}, len(ops))
	out := make([]scriptOp, 0, len(ops))

	for _, op := range ops {
		spec, err := s.table(op.Table)
		if err != nil {
			return "", err
		}
		ref := op.Table + "\x00" + op.Item.Key
		if _, dup := seen[ref]; dup {
			return "", fmt.Errorf("duplicate key in transaction: %s/%s", op.Table, op.Item.Key)
		}
		seen[ref] = struct{}{}

		enc := scriptOp{Table: op.Table, PK: op.Item.Key}
		switch op.Kind {
		case kv.OpPut:
			enc.Kind = kindPut
		case kv.OpUpdate:
			enc.Kind = kindUpdate
		case kv.OpCheck:
			enc.Kind = kindCheck
		case kv.OpDelete:
			enc.Kind = kindDelete
		}
		if op.Kind == kv.OpPut || op.Kind == kv.OpUpdate {
			enc.Doc = string(op.Item.Doc)
			enc.Attrs = op.Item.Attrs
		}
		if op.Kind != kv.OpCheck {
			for _, idx := range spec.Indexes {
				enc.Indexes = append(enc.Indexes, scriptIndex{Name: idx.Name, Hash: idx.HashAttr, Range: idx.RangeAttr})
			}
		}

		enc.Cond = scriptCond{
			Absent:     op.Cond.Absent,
			Exists:     op.Cond.Exists,
			AttrAbsent: op.Cond.AttrAbsent,
			AttrEquals: op.Cond.AttrEquals,
		}
		if op.Cond.Version != nil {
			enc.Cond.Version = strconv.FormatInt(*op.Cond.Version, 10)
		}
		out = append(out, enc)
	}

	payload, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

func (s *Store) Query(ctx context.Context, table, index string, opts kv.QueryOpts) (kv.Page, error) {
	const op = "kv.redis.Query"

	spec, err := s.table(table)
	if err != nil {
		return kv.Page{}, err
	}
	if _, ok := spec.Index(index); !ok {
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

	// The whole bucket is fetched; members come back ordered by score, then
	// lexically, which is the page order the cursor encodes positions in.
	zs, err := s.rdb.ZRangeWithScores(ctx, s.indexKey(table, index, opts.Eq), 0, -1).Result()
	if err != nil {
		return kv.Page{}, wrapNet(op, err)
	}

	entries := make([]indexEntry, 0, len(zs))
	for _, z := range zs {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		score := int64(z.Score)
		if hasBefore && score >= before {
			continue
		}
		entries = append(entries, indexEntry{score: score, key: member})
	}

	keys, cursor, err := pageOf(entries, opts.Cursor, opts.Limit)
	if err != nil {
		return kv.Page{}, err
	}
	items, err := s.fetch(ctx, table, keys)
	if err != nil {
		return kv.Page{}, wrapNet(op, err)
	}
	return kv.Page{Items: items, Cursor: cursor}, nil
}

// fetch pipelines the document reads of one page.
func (s *Store) fetch(ctx context.Context, table string, keys []string) ([]kv.Item, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(keys))
	for i, pk := range keys {
		cmds[i] = pipe.HGetAll(ctx, s.itemKey(table, pk))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	items := make([]kv.Item, 0, len(keys))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		items = append(items, itemFromHash(keys[i], fields))
	}
	return items, nil
}

func (s *Store) Scan(ctx context.Context, table string, opts kv.ScanOpts) (kv.Page, error) {
	const op = "kv.redis.Scan"

	if _, err := s.table(table); err != nil {
		return kv.Page{}, err
	}

	var cursor uint64
	if opts.Cursor != "" {
		parsed, err := strconv.ParseUint(opts.Cursor, 10, 64)
		if err != nil {
			return kv.Page{}, fmt.Errorf("invalid cursor: %w", err)
		}
		cursor = parsed
	}

	prefix := s.itemPrefix(table)
	seen := make(map[string]struct{})
	var keys []string
	for {
		batch, next, err := s.rdb.Scan(ctx, cursor, prefix+"*", scanBatch).Result()
		if err != nil {
			return kv.Page{}, wrapNet(op, err)
		}
		for _, k := range batch {
			pk := strings.TrimPrefix(k, prefix)
			if _, dup := seen[pk]; dup {
				continue
			}
			seen[pk] = struct{}{}
			keys = append(keys, pk)
		}
		cursor = next
		if cursor == 0 {
			break
		}
		// The limit is a page-size hint: a batch is never split, or the
		// server cursor would skip its remainder.
		if opts.Limit > 0 && len(keys) >= opts.Limit {
			break
		}
	}

	items, err := s.fetch(ctx, table, keys)
	if err != nil {
		return kv.Page{}, wrapNet(op, err)
	}
	page := kv.Page{Items: items}
	if cursor != 0 {
		page.Cursor = strconv.FormatUint(cursor, 10)
	}
	return page, nil
}

type indexEntry struct {
	score int64
	key   string
}

// pageOf applies the positional cursor and limit to the ordered entries and
// encodes where the next page resumes.
func pageOf(entries []indexEntry, cursor string, limit int) ([]string, string, error) {
	start := 0
	if cursor != "" {
		score, key, err := decodeCursor(cursor)
		if err != nil {
			return nil, "", err
		}
		for start < len(entries) {
			e := entries[start]
			if e.score > score || (e.score == score && e.key > key) {
				break
			}
			start++
		}
	}

	end := len(entries)
	if limit > 0 && start+limit < end {
		end = start + limit
	}

	keys := make([]string, 0, end-start)
	for _, e := range entries[start:end] {
		keys = append(keys, e.key)
	}

	next := ""
	if end < len(entries) && end > start {
		last := entries[end-1]
		next = encodeCursor(last.score, last.key)
	}
	return keys, next, nil
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
