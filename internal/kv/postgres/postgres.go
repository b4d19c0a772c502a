// Package postgres implements kv.Store on PostgreSQL. Each kv table is one
// relation holding the document and its indexed attributes as jsonb;
// secondary indexes become expression indexes over the attribute fields.
// Conditional single-item writes are single statements; TransactWrite locks
// the touched rows, evaluates every condition, and only then applies.
package postgres

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ticketops/boxoffice/internal/kv"
)

type Store struct {
	pool   *pgxpool.Pool
	schema map[string]kv.TableSpec
}

// New creates a store over an existing pool. Call EnsureSchema before first
// use.
func New(pool *pgxpool.Pool, tables []kv.TableSpec) *Store {
	schema := make(map[string]kv.TableSpec, len(tables))
	for _, t := range tables {
		schema[t.Name] = t
	}
	return &Store{pool: pool, schema: schema}
}

// EnsureSchema creates the relations and expression indexes for every
// declared table. All statements are idempotent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	const op = "kv.postgres.EnsureSchema"

	names := make([]string, 0, len(s.schema))
	for name := range s.schema {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		spec := s.schema[name]
		ddl := fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS %s (
				pk    text PRIMARY KEY,
				doc   jsonb NOT NULL,
				attrs jsonb NOT NULL DEFAULT '{}'::jsonb
			)`, rel(name))
		if _, err := s.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("%s: table %s: %w", op, name, err)
		}

		for _, idx := range spec.Indexes {
			cols := hashExpr(idx.HashAttr)
			if idx.RangeAttr != "" {
				cols += ", " + rangeExpr(idx.RangeAttr)
			}
			ddl := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s, pk)",
				indexName(name, idx.Name), rel(name), cols)
			if _, err := s.pool.Exec(ctx, ddl); err != nil {
				return fmt.Errorf("%s: index %s on %s: %w", op, idx.Name, name, err)
			}
		}
	}
	return nil
}

func rel(table string) string {
	return "kv_" + sanitize(table)
}

func indexName(table, index string) string {
	return "kv_" + sanitize(table) + "_" + sanitize(index)
}

func sanitize(name string) string {
	return strings.ReplaceAll(name, "-", "_")
}

// hashExpr projects an attribute for equality matching. Attribute names come
// from the compiled-in schema, never from callers.
func hashExpr(attr string) string {
	return fmt.Sprintf("(attrs->>'%s')", attr)
}

// rangeExpr projects an attribute as its numeric value. Missing and empty
// attributes become NULL, keeping sparse rows out of range comparisons.
func rangeExpr(attr string) string {
	return fmt.Sprintf("(NULLIF(attrs->>'%s', '')::bigint)", attr)
}

func (s *Store) table(name string) (kv.TableSpec, error) {
	spec, ok := s.schema[name]
	if !ok {
		return kv.TableSpec{}, fmt.Errorf("%w: %s", kv.ErrUnknownTable, name)
	}
	return spec, nil
}

// translate maps driver errors onto the kv sentinels. Serialization aborts
// and unique violations surface as retryable conflicts.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%w: %s", kv.ErrTxConflict, pgErr.Code)
		case "23505":
			return fmt.Errorf("%w: unique violation", kv.ErrTxConflict)
		}
		return err
	}
	return fmt.Errorf("%w: %v", kv.ErrStoreUnavailable, err)
}

func (s *Store) Get(ctx context.Context, table, key string) (kv.Item, error) {
	const op = "kv.postgres.Get"

	if _, err := s.table(table); err != nil {
		return kv.Item{}, err
	}

	var doc, attrsJSON []byte
	err := s.pool.QueryRow(ctx,
		"SELECT doc, attrs FROM "+rel(table)+" WHERE pk = $1", key,
	).Scan(&doc, &attrsJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return kv.Item{}, fmt.Errorf("%w: %s/%s", kv.ErrItemNotFound, table, key)
	}
	if err != nil {
		return kv.Item{}, fmt.Errorf("%s: %w", op, translate(err))
	}
	return decodeItem(key, doc, attrsJSON)
}

func decodeItem(key string, doc, attrsJSON []byte) (kv.Item, error) {
	item := kv.Item{Key: key, Doc: doc}
	if len(attrsJSON) > 0 {
		if err := json.Unmarshal(attrsJSON, &item.Attrs); err != nil {
			return kv.Item{}, fmt.Errorf("decoding attrs of %s: %w", key, err)
		}
	}
	if len(item.Attrs) == 0 {
		item.Attrs = nil
	}
	return item, nil
}

func encodeAttrs(attrs map[string]string) (string, error) {
	if len(attrs) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *Store) Put(ctx context.Context, table string, item kv.Item) error {
	return s.PutIf(ctx, table, item, kv.Condition{})
}

func (s *Store) PutIf(ctx context.Context, table string, item kv.Item, cond kv.Condition) error {
	const op = "kv.postgres.PutIf"

	if _, err := s.table(table); err != nil {
		return err
	}
	attrs, err := encodeAttrs(item.Attrs)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	switch {
	case cond.Absent:
		tag, err := s.pool.Exec(ctx,
			"INSERT INTO "+rel(table)+" (pk, doc, attrs) VALUES ($1, $2::jsonb, $3::jsonb) ON CONFLICT (pk) DO NOTHING",
			item.Key, string(item.Doc), attrs)
		if err != nil {
			return fmt.Errorf("%s: %w", op, translate(err))
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: key exists", kv.ErrPreconditionFailed)
		}
		return nil

	case cond.Unconditional():
		_, err := s.pool.Exec(ctx,
			"INSERT INTO "+rel(table)+" (pk, doc, attrs) VALUES ($1, $2::jsonb, $3::jsonb) "+
				"ON CONFLICT (pk) DO UPDATE SET doc = EXCLUDED.doc, attrs = EXCLUDED.attrs",
			item.Key, string(item.Doc), attrs)
		if err != nil {
			return fmt.Errorf("%s: %w", op, translate(err))
		}
		return nil

	default:
		// Every remaining condition form requires the row to exist.
		clause, args := condClause(cond, 4)
		sql := "UPDATE " + rel(table) + " SET doc = $2::jsonb, attrs = $3::jsonb WHERE pk = $1"
		if clause != "" {
			sql += " AND " + clause
		}
		tag, err := s.pool.Exec(ctx, sql, append([]any{item.Key, string(item.Doc), attrs}, args...)...)
		if err != nil {
			return fmt.Errorf("%s: %w", op, translate(err))
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s/%s", kv.ErrPreconditionFailed, table, item.Key)
		}
		return nil
	}
}

func (s *Store) UpdateIf(ctx context.Context, table string, item kv.Item, cond kv.Condition) error {
	const op = "kv.postgres.UpdateIf"

	if _, err := s.table(table); err != nil {
		return err
	}
	attrs, err := encodeAttrs(item.Attrs)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	clause, args := condClause(cond, 4)
	upd := "UPDATE " + rel(table) + " SET doc = $2::jsonb, attrs = $3::jsonb WHERE pk = $1"
	if clause != "" {
		upd += " AND " + clause
	}
	sql := "WITH cur AS (SELECT 1 FROM " + rel(table) + " WHERE pk = $1), " +
		"upd AS (" + upd + " RETURNING 1) " +
		"SELECT (SELECT count(*) FROM cur)::int, (SELECT count(*) FROM upd)::int"

	var found, updated int
	if err := s.pool.QueryRow(ctx, sql, append([]any{item.Key, string(item.Doc), attrs}, args...)...).Scan(&found, &updated); err != nil {
		return fmt.Errorf("%s: %w", op, translate(err))
	}
	if found == 0 {
		return fmt.Errorf("%w: %s/%s", kv.ErrItemNotFound, table, item.Key)
	}
	if updated == 0 {
		return fmt.Errorf("%w: %s/%s", kv.ErrPreconditionFailed, table, item.Key)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, table, key string) error {
	const op = "kv.postgres.Delete"

	if _, err := s.table(table); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, "DELETE FROM "+rel(table)+" WHERE pk = $1", key); err != nil {
		return fmt.Errorf("%s: %w", op, translate(err))
	}
	return nil
}

// condClause renders a condition as a WHERE fragment. Existence itself is
// carried by the statement form, so only attribute comparisons appear here.
// next is the first free placeholder number.
func condClause(cond kv.Condition, next int) (string, []any) {
	var parts []string
	var args []any

	if cond.Version != nil {
		args = append(args, strconv.FormatInt(*cond.Version, 10))
		parts = append(parts, fmt.Sprintf("attrs->>'%s' = $%d", kv.AttrVersion, next))
		next++
	}
	if cond.AttrAbsent != "" {
		args = append(args, cond.AttrAbsent)
		parts = append(parts, fmt.Sprintf("coalesce(attrs->>$%d, '') = ''", next))
		next++
	}

	names := make([]string, 0, len(cond.AttrEquals))
	for name := range cond.AttrEquals {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		args = append(args, name, cond.AttrEquals[name])
		parts = append(parts, fmt.Sprintf("coalesce(attrs->>$%d, '') = $%d", next, next+1))
		next += 2
	}

	return strings.Join(parts, " AND "), args
}

func (s *Store) Query(ctx context.Context, table, index string, opts kv.QueryOpts) (kv.Page, error) {
	const op = "kv.postgres.Query"

	spec, err := s.table(table)
	if err != nil {
		return kv.Page{}, err
	}
	idx, ok := spec.Index(index)
	if !ok {
		return kv.Page{}, fmt.Errorf("%w: %s on %s", kv.ErrUnknownIndex, index, table)
	}

	args := []any{opts.Eq}
	where := []string{hashExpr(idx.HashAttr) + " = $1"}
	scoreExpr := "0::bigint"
	if idx.RangeAttr != "" {
		scoreExpr = rangeExpr(idx.RangeAttr)
		where = append(where, scoreExpr+" IS NOT NULL")
	}

	if opts.Before != "" {
		before, err := strconv.ParseInt(opts.Before, 10, 64)
		if err != nil {
			return kv.Page{}, fmt.Errorf("invalid range bound %q: %w", opts.Before, err)
		}
		if idx.RangeAttr == "" {
			return kv.Page{}, fmt.Errorf("%w: %s has no range attr", kv.ErrUnknownIndex, index)
		}
		args = append(args, before)
		where = append(where, fmt.Sprintf("%s < $%d", scoreExpr, len(args)))
	}

	if opts.Cursor != "" {
		score, key, err := decodeCursor(opts.Cursor)
		if err != nil {
			return kv.Page{}, err
		}
		args = append(args, score, key)
		where = append(where, fmt.Sprintf("(%s, pk) > ($%d, $%d)", scoreExpr, len(args)-1, len(args)))
	}

	sql := "SELECT pk, doc, attrs, " + scoreExpr + " FROM " + rel(table) +
		" WHERE " + strings.Join(where, " AND ") +
		" ORDER BY " + scoreExpr + ", pk"
	if opts.Limit > 0 {
		sql += fmt.Sprintf(" LIMIT %d", opts.Limit+1)
	}

	return s.page(ctx, op, sql, args, opts.Limit)
}

func (s *Store) Scan(ctx context.Context, table string, opts kv.ScanOpts) (kv.Page, error) {
	const op = "kv.postgres.Scan"

	if _, err := s.table(table); err != nil {
		return kv.Page{}, err
	}

	var args []any
	sql := "SELECT pk, doc, attrs, 0::bigint FROM " + rel(table)
	if opts.Cursor != "" {
		_, key, err := decodeCursor(opts.Cursor)
		if err != nil {
			return kv.Page{}, err
		}
		args = append(args, key)
		sql += " WHERE pk > $1"
	}
	sql += " ORDER BY pk"
	if opts.Limit > 0 {
		sql += fmt.Sprintf(" LIMIT %d", opts.Limit+1)
	}

	return s.page(ctx, op, sql, args, opts.Limit)
}

// page runs a query selecting (pk, doc, attrs, score) and folds the rows into
// one result page. The query fetches one row beyond the limit; that row is
// dropped and marks that a next page exists.
func (s *Store) page(ctx context.Context, op, sql string, args []any, limit int) (kv.Page, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return kv.Page{}, fmt.Errorf("%s: %w", op, translate(err))
	}
	defer rows.Close()

	type entry struct {
		item  kv.Item
		score int64
	}
	var entries []entry
	for rows.Next() {
		var (
			pk             string
			doc, attrsJSON []byte
			score          *int64
		)
		if err := rows.Scan(&pk, &doc, &attrsJSON, &score); err != nil {
			return kv.Page{}, fmt.Errorf("%s: %w", op, translate(err))
		}
		item, err := decodeItem(pk, doc, attrsJSON)
		if err != nil {
			return kv.Page{}, fmt.Errorf("%s: %w", op, err)
		}
		e := entry{item: item}
		if score != nil {
			e.score = *score
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return kv.Page{}, fmt.Errorf("%s: %w", op, translate(err))
	}

	more := false
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
		more = true
	}

	page := kv.Page{Items: make([]kv.Item, 0, len(entries))}
	for _, e := range entries {
		page.Items = append(page.Items, e.item)
	}
	if more {
		last := entries[len(entries)-1]
		page.Cursor = encodeCursor(last.score, last.item.Key)
	}
	return page, nil
}

func (s *Store) TransactWrite(ctx context.Context, ops []kv.Op) error {
	const op = "kv.postgres.TransactWrite"

	type ref struct{ table, pk string }
	seen := make(map[ref]struct{}, len(ops))
	byTable := make(map[string][]string)
	for _, o := range ops {
		if _, err := s.table(o.Table); err != nil {
			return err
		}
		r := ref{o.Table, o.Item.Key}
		if _, dup := seen[r]; dup {
			return fmt.Errorf("duplicate key in transaction: %s/%s", o.Table, o.Item.Key)
		}
		seen[r] = struct{}{}
		byTable[o.Table] = append(byTable[o.Table], o.Item.Key)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable, AccessMode: pgx.ReadWrite})
	if err != nil {
		return fmt.Errorf("%s: %w", op, translate(err))
	}
	defer tx.Rollback(ctx)

	// Lock phase: take row locks in table, pk order so concurrent
	// transactions cannot deadlock, and capture the attrs conditions are
	// evaluated against.
	tables := make([]string, 0, len(byTable))
	for t := range byTable {
		tables = append(tables, t)
	}
	sort.Strings(tables)

	current := make(map[ref]*kv.Item, len(ops))
	for _, t := range tables {
		keys := byTable[t]
		sort.Strings(keys)
		rows, err := tx.Query(ctx,
			"SELECT pk, attrs FROM "+rel(t)+" WHERE pk = ANY($1) ORDER BY pk FOR UPDATE", keys)
		if err != nil {
			return fmt.Errorf("%s: %w", op, translate(err))
		}
		for rows.Next() {
			var pk string
			var attrsJSON []byte
			if err := rows.Scan(&pk, &attrsJSON); err != nil {
				rows.Close()
				return fmt.Errorf("%s: %w", op, translate(err))
			}
			item, err := decodeItem(pk, nil, attrsJSON)
			if err != nil {
				rows.Close()
				return fmt.Errorf("%s: %w", op, err)
			}
			current[ref{t, pk}] = &item
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("%s: %w", op, translate(err))
		}
	}

	// Evaluate every condition before touching anything.
	reasons := make([]error, len(ops))
	canceled := false
	for i, o := range ops {
		cur := current[ref{o.Table, o.Item.Key}]
		if o.Kind == kv.OpUpdate && cur == nil {
			reasons[i] = fmt.Errorf("%w: %s/%s", kv.ErrItemNotFound, o.Table, o.Item.Key)
			canceled = true
			continue
		}
		if err := evaluate(cur, o.Cond); err != nil {
			reasons[i] = err
			canceled = true
		}
	}
	if canceled {
		return &kv.TxCanceledError{Reasons: reasons}
	}

	for _, o := range ops {
		switch o.Kind {
		case kv.OpPut, kv.OpUpdate:
			attrs, err := encodeAttrs(o.Item.Attrs)
			if err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
			_, err = tx.Exec(ctx,
				"INSERT INTO "+rel(o.Table)+" (pk, doc, attrs) VALUES ($1, $2::jsonb, $3::jsonb) "+
					"ON CONFLICT (pk) DO UPDATE SET doc = EXCLUDED.doc, attrs = EXCLUDED.attrs",
				o.Item.Key, string(o.Item.Doc), attrs)
			if err != nil {
				return fmt.Errorf("%s: %w", op, translate(err))
			}
		case kv.OpDelete:
			if _, err := tx.Exec(ctx, "DELETE FROM "+rel(o.Table)+" WHERE pk = $1", o.Item.Key); err != nil {
				return fmt.Errorf("%s: %w", op, translate(err))
			}
		case kv.OpCheck:
			// The lock phase asserted it.
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, translate(err))
	}
	return nil
}

// evaluate checks cond against the locked row state. cur is nil when the key
// is absent. Mirrors the condition semantics of the other drivers.
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
