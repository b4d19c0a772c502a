package memory_test

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ticketops/boxoffice/internal/kv"
	"github.com/ticketops/boxoffice/internal/kv/memory"
)

var testSchema = []kv.TableSpec{
	{Name: "things", Indexes: []kv.IndexSpec{
		{Name: "owner-index", HashAttr: "owner"},
		{Name: "due-index", HashAttr: "state", RangeAttr: "due"},
	}},
	{Name: "locks"},
}

func item(key string, attrs map[string]string) kv.Item {
	return kv.Item{Key: key, Doc: []byte(`{"key":"` + key + `"}`), Attrs: attrs}
}

func TestGetPutRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := memory.New(testSchema)

	want := item("a", map[string]string{"owner": "o1", kv.AttrVersion: "1"})
	require.NoError(t, s.Put(ctx, "things", want))

	got, err := s.Get(ctx, "things", "a")
	require.NoError(t, err)
	assert.Equal(t, want.Doc, got.Doc)
	assert.Equal(t, want.Attrs, got.Attrs)

	_, err = s.Get(ctx, "things", "missing")
	require.ErrorIs(t, err, kv.ErrItemNotFound)

	_, err = s.Get(ctx, "nope", "a")
	require.ErrorIs(t, err, kv.ErrUnknownTable)
}

func TestPutIfAbsent(t *testing.T) {
	ctx := context.Background()
	s := memory.New(testSchema)

	require.NoError(t, s.PutIf(ctx, "locks", item("L", nil), kv.IfAbsent()))

	err := s.PutIf(ctx, "locks", item("L", nil), kv.IfAbsent())
	require.ErrorIs(t, err, kv.ErrPreconditionFailed)
}

func TestUpdateIfVersion(t *testing.T) {
	ctx := context.Background()
	s := memory.New(testSchema)

	require.NoError(t, s.Put(ctx, "things", item("a", map[string]string{kv.AttrVersion: "1"})))

	next := item("a", map[string]string{kv.AttrVersion: "2"})
	require.NoError(t, s.UpdateIf(ctx, "things", next, kv.IfVersion(1)))

	// Stale expected version loses.
	err := s.UpdateIf(ctx, "things", item("a", map[string]string{kv.AttrVersion: "3"}), kv.IfVersion(1))
	require.ErrorIs(t, err, kv.ErrPreconditionFailed)

	// Absent key is NotFound, not PreconditionFailed.
	err = s.UpdateIf(ctx, "things", item("b", nil), kv.IfVersion(1))
	require.ErrorIs(t, err, kv.ErrItemNotFound)
}

func TestConditionAttrAbsent(t *testing.T) {
	ctx := context.Background()
	s := memory.New(testSchema)

	require.NoError(t, s.Put(ctx, "things", item("a", map[string]string{"owner": "o1"})))

	cond := kv.Condition{Exists: true, AttrAbsent: "seat"}
	require.NoError(t, s.UpdateIf(ctx, "things", item("a", map[string]string{"owner": "o1", "seat": "A-1"}), cond))

	err := s.UpdateIf(ctx, "things", item("a", map[string]string{"seat": "A-2"}), cond)
	require.ErrorIs(t, err, kv.ErrPreconditionFailed)
}

func TestQueryEqualityIndex(t *testing.T) {
	ctx := context.Background()
	s := memory.New(testSchema)

	for i := 0; i < 5; i++ {
		owner := "o1"
		if i%2 == 1 {
			owner = "o2"
		}
		key := fmt.Sprintf("k%d", i)
		require.NoError(t, s.Put(ctx, "things", item(key, map[string]string{"owner": owner})))
	}

	page, err := s.Query(ctx, "things", "owner-index", kv.QueryOpts{Eq: "o1"})
	require.NoError(t, err)
	require.Len(t, page.Items, 3)
	assert.Empty(t, page.Cursor)

	page, err = s.Query(ctx, "things", "owner-index", kv.QueryOpts{Eq: "nobody"})
	require.NoError(t, err)
	assert.Empty(t, page.Items)

	_, err = s.Query(ctx, "things", "bogus-index", kv.QueryOpts{Eq: "o1"})
	require.ErrorIs(t, err, kv.ErrUnknownIndex)
}

func TestQueryRangeBound(t *testing.T) {
	ctx := context.Background()
	s := memory.New(testSchema)

	for i := 1; i <= 5; i++ {
		key := fmt.Sprintf("k%d", i)
		attrs := map[string]string{"state": "ACTIVE", "due": strconv.Itoa(i * 100)}
		require.NoError(t, s.Put(ctx, "things", item(key, attrs)))
	}

	// Exclusive upper bound: due < 300.
	page, err := s.Query(ctx, "things", "due-index", kv.QueryOpts{Eq: "ACTIVE", Before: "300"})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "k1", page.Items[0].Key)
	assert.Equal(t, "k2", page.Items[1].Key)
}

func TestQueryPagination(t *testing.T) {
	ctx := context.Background()
	s := memory.New(testSchema)

	for i := 0; i < 7; i++ {
		key := fmt.Sprintf("k%d", i)
		attrs := map[string]string{"state": "ACTIVE", "due": strconv.Itoa(1000 + i)}
		require.NoError(t, s.Put(ctx, "things", item(key, attrs)))
	}

	var got []string
	cursor := ""
	pages := 0
	for {
		page, err := s.Query(ctx, "things", "due-index", kv.QueryOpts{Eq: "ACTIVE", Limit: 3, Cursor: cursor})
		require.NoError(t, err)
		for _, it := range page.Items {
			got = append(got, it.Key)
		}
		pages++
		if page.Cursor == "" {
			break
		}
		cursor = page.Cursor
	}

	assert.Equal(t, 3, pages)
	assert.Equal(t, []string{"k0", "k1", "k2", "k3", "k4", "k5", "k6"}, got)
}

func TestScanPagination(t *testing.T) {
	ctx := context.Background()
	s := memory.New(testSchema)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Put(ctx, "things", item(fmt.Sprintf("k%d", i), nil)))
	}

	page, err := s.Scan(ctx, "things", kv.ScanOpts{Limit: 4})
	require.NoError(t, err)
	require.Len(t, page.Items, 4)
	require.NotEmpty(t, page.Cursor)

	rest, err := s.Scan(ctx, "things", kv.ScanOpts{Limit: 4, Cursor: page.Cursor})
	require.NoError(t, err)
	require.Len(t, rest.Items, 1)
	assert.Empty(t, rest.Cursor)
	assert.Equal(t, "k4", rest.Items[0].Key)
}

func TestTransactWriteAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := memory.New(testSchema)

	require.NoError(t, s.Put(ctx, "things", item("t1", map[string]string{kv.AttrVersion: "1"})))

	ops := []kv.Op{
		{Kind: kv.OpPut, Table: "locks", Item: item("L1", nil), Cond: kv.IfAbsent()},
		{Kind: kv.OpUpdate, Table: "things", Item: item("t1", map[string]string{kv.AttrVersion: "2"}), Cond: kv.IfVersion(9)},
	}

	err := s.TransactWrite(ctx, ops)
	require.ErrorIs(t, err, kv.ErrTxCanceled)

	var canceled *kv.TxCanceledError
	require.ErrorAs(t, err, &canceled)
	require.Len(t, canceled.Reasons, 2)
	assert.NoError(t, canceled.Reasons[0])
	assert.ErrorIs(t, canceled.Reasons[1], kv.ErrPreconditionFailed)
	assert.Equal(t, []int{1}, canceled.PreconditionFailures())

	// Nothing was applied, including the op whose condition held.
	_, err = s.Get(ctx, "locks", "L1")
	require.ErrorIs(t, err, kv.ErrItemNotFound)

	got, err := s.Get(ctx, "things", "t1")
	require.NoError(t, err)
	assert.Equal(t, "1", got.Attrs[kv.AttrVersion])
}

func TestTransactWriteCommits(t *testing.T) {
	ctx := context.Background()
	s := memory.New(testSchema)

	require.NoError(t, s.Put(ctx, "things", item("t1", map[string]string{kv.AttrVersion: "1"})))

	ops := []kv.Op{
		{Kind: kv.OpPut, Table: "locks", Item: item("L1", nil), Cond: kv.IfAbsent()},
		{Kind: kv.OpUpdate, Table: "things", Item: item("t1", map[string]string{kv.AttrVersion: "2"}), Cond: kv.IfVersion(1)},
		{Kind: kv.OpCheck, Table: "things", Item: kv.Item{Key: "t1"}, Cond: kv.Condition{Exists: true}},
	}
	require.NoError(t, s.TransactWrite(ctx, ops))

	got, err := s.Get(ctx, "things", "t1")
	require.NoError(t, err)
	assert.Equal(t, "2", got.Attrs[kv.AttrVersion])
}

func TestTransactWriteRejectsDuplicateKeys(t *testing.T) {
	ctx := context.Background()
	s := memory.New(testSchema)

	ops := []kv.Op{
		{Kind: kv.OpPut, Table: "locks", Item: item("L1", nil)},
		{Kind: kv.OpPut, Table: "locks", Item: item("L1", nil)},
	}
	err := s.TransactWrite(ctx, ops)
	require.Error(t, err)
	assert.NotErrorIs(t, err, kv.ErrTxCanceled)
}

func TestConcurrentConditionalCreateOneWinner(t *testing.T) {
	ctx := context.Background()
	s := memory.New(testSchema)

	const racers = 32
	var wg sync.WaitGroup
	wins := make(chan int, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			err := s.TransactWrite(ctx, []kv.Op{{
				Kind:  kv.OpPut,
				Table: "locks",
				Item:  item("seat", map[string]string{"winner": strconv.Itoa(n)}),
				Cond:  kv.IfAbsent(),
			}})
			if err == nil {
				wins <- n
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	var winners []int
	for w := range wins {
		winners = append(winners, w)
	}
	require.Len(t, winners, 1, "exactly one conditional create may win")

	got, err := s.Get(ctx, "locks", "seat")
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(winners[0]), got.Attrs["winner"])
}
