package sweeper_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ticketops/boxoffice/internal/domain"
	kvmem "github.com/ticketops/boxoffice/internal/kv/memory"
	queuemem "github.com/ticketops/boxoffice/internal/queue/memory"
	"github.com/ticketops/boxoffice/internal/repository"
	"github.com/ticketops/boxoffice/internal/service/inventory"
	"github.com/ticketops/boxoffice/internal/service/orders"
	"github.com/ticketops/boxoffice/internal/service/seating"
	"github.com/ticketops/boxoffice/internal/service/sweeper"
)

type fixture struct {
	store   *repository.Store
	engine  *inventory.Engine
	sweeper *sweeper.Sweeper
	event   domain.Event
}

func setup(t *testing.T, total int) *fixture {
	t.Helper()
	ctx := context.Background()

	store := repository.New(kvmem.New(repository.Tables()))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := inventory.New(store, inventory.Config{RetryBaseDelay: time.Millisecond})
	sw := sweeper.New(store, engine, logger, sweeper.Config{BatchSize: 2})

	ev, err := domain.NewEvent("Summer Jam", "Riverside Arena", time.Unix(1_760_000_000, 0).UTC(), 1000)
	require.NoError(t, err)
	require.NoError(t, store.Events.Create(ctx, ev))
	inv, err := domain.NewTicketInventory(ev.ID, "Summer Jam", "VIP", total, domain.MustMoney("150", "USD"))
	require.NoError(t, err)
	require.NoError(t, store.Inventory.Create(ctx, inv))

	return &fixture{store: store, engine: engine, sweeper: sw, event: ev}
}

// hold reserves quantity on both counter rows and persists a reservation that
// lapsed at the given instant.
func (f *fixture) hold(t *testing.T, orderID string, qty int, expiresIn time.Duration) domain.TicketReservation {
	t.Helper()
	ctx := context.Background()

	_, err := f.engine.Mutate(ctx, f.event.ID, "VIP", func(cur domain.TicketInventory) (domain.TicketInventory, error) {
		return cur.Reserve(qty)
	})
	require.NoError(t, err)
	_, err = f.engine.MutateEvent(ctx, f.event.ID, func(cur domain.Event) (domain.Event, error) {
		return cur.Reserve(qty)
	})
	require.NoError(t, err)

	res, err := domain.NewTicketReservation(orderID, f.event.ID, "VIP", qty, time.Minute, time.Now().UTC())
	require.NoError(t, err)
	res.ExpiresAt = time.Now().UTC().Add(expiresIn)

	op, err := f.store.Reservations.CreateOp(res)
	require.NoError(t, err)
	require.NoError(t, f.store.TransactWrite(ctx, op))
	return res
}

func (f *fixture) inventory(t *testing.T) domain.TicketInventory {
	t.Helper()
	inv, err := f.store.Inventory.Get(context.Background(), f.event.ID, "VIP")
	require.NoError(t, err)
	return inv
}

func TestSweepOnce(t *testing.T) {
	ctx := context.Background()
	f := setup(t, 10)

	lapsedA := f.hold(t, "ord-a", 2, -2*time.Second)
	lapsedB := f.hold(t, "ord-b", 3, -1*time.Second)
	active := f.hold(t, "ord-c", 1, time.Hour)

	require.Equal(t, 4, f.inventory(t).Available)

	count, err := f.sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	for _, id := range []string{lapsedA.ID, lapsedB.ID} {
		res, err := f.store.Reservations.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.ReservationStatusExpired, res.Status)
	}
	res, err := f.store.Reservations.Get(ctx, active.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationStatusActive, res.Status, "future holds stay")

	inv := f.inventory(t)
	assert.Equal(t, 9, inv.Available, "only the live hold remains")
	assert.Equal(t, 1, inv.Reserved)
	assert.Equal(t, 0, inv.Sold)

	ev, err := f.store.Events.Get(ctx, f.event.ID)
	require.NoError(t, err)
	assert.Equal(t, 999, ev.Available)
	assert.Equal(t, 1, ev.Reserved)

	// Idempotent: a second pass finds nothing.
	count, err = f.sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestSweepDrainsBeyondOnePage(t *testing.T) {
	ctx := context.Background()
	f := setup(t, 10)

	// Five lapsed holds of one ticket each against a page size of two.
	for i := 0; i < 5; i++ {
		f.hold(t, "ord-"+string(rune('a'+i)), 1, -time.Second)
	}

	count, err := f.sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	inv := f.inventory(t)
	assert.Equal(t, 10, inv.Available)
	assert.Equal(t, 0, inv.Reserved)
}

func TestSweepToleratesSettledCounters(t *testing.T) {
	ctx := context.Background()
	f := setup(t, 10)
	lapsed := f.hold(t, "ord-a", 2, -time.Second)

	// A concurrent sale already consumed the hold on both rows.
	_, err := f.engine.Mutate(ctx, f.event.ID, "VIP", func(cur domain.TicketInventory) (domain.TicketInventory, error) {
		return cur.ConfirmReservation(2)
	})
	require.NoError(t, err)
	_, err = f.engine.MutateEvent(ctx, f.event.ID, func(cur domain.Event) (domain.Event, error) {
		return cur.ConfirmReserved(2)
	})
	require.NoError(t, err)

	count, err := f.sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "the reservation is still expired")

	res, err := f.store.Reservations.Get(ctx, lapsed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationStatusExpired, res.Status)

	inv := f.inventory(t)
	assert.Equal(t, 8, inv.Available, "counter check short-circuited")
	assert.Equal(t, 0, inv.Reserved)
	assert.Equal(t, 2, inv.Sold)
}

// TestSweepReclaimsUnpaidOrder walks the no-payment path end to end: a real
// order whose reservation lapses is reclaimed in full.
func TestSweepReclaimsUnpaidOrder(t *testing.T) {
	ctx := context.Background()
	f := setup(t, 10)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	assigner := seating.New(f.store, seating.Config{})
	svc := orders.New(f.store, f.engine, assigner, queuemem.New(0, 0), logger, orders.Config{
		ReservationTTL: 5 * time.Millisecond,
	})

	out, err := svc.Create(ctx, orders.CreateOrderInput{
		CustomerID: "cust-1",
		EventID:    f.event.ID,
		TicketType: "VIP",
		Quantity:   5,
	})
	require.NoError(t, err)

	inv := f.inventory(t)
	require.Equal(t, 5, inv.Available)
	require.Equal(t, 5, inv.Reserved)

	time.Sleep(50 * time.Millisecond)

	count, err := f.sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	res, err := f.store.Reservations.GetByOrder(ctx, out.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationStatusExpired, res.Status)

	inv = f.inventory(t)
	assert.Equal(t, 10, inv.Available)
	assert.Equal(t, 0, inv.Reserved)
	assert.Equal(t, 0, inv.Sold)
}

func TestRunSweepsUntilCancelled(t *testing.T) {
	f := setup(t, 10)
	lapsed := f.hold(t, "ord-a", 2, -time.Second)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sw := sweeper.New(f.store, f.engine, logger, sweeper.Config{Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, sw.Run(ctx))

	res, err := f.store.Reservations.Get(context.Background(), lapsed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationStatusExpired, res.Status)
	assert.Equal(t, 10, f.inventory(t).Available)
}
