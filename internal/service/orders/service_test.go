package orders_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ticketops/boxoffice/internal/domain"
	kvmem "github.com/ticketops/boxoffice/internal/kv/memory"
	"github.com/ticketops/boxoffice/internal/queue"
	queuemem "github.com/ticketops/boxoffice/internal/queue/memory"
	"github.com/ticketops/boxoffice/internal/repository"
	"github.com/ticketops/boxoffice/internal/service/inventory"
	"github.com/ticketops/boxoffice/internal/service/orders"
	"github.com/ticketops/boxoffice/internal/service/seating"
)

type fixture struct {
	store *repository.Store
	queue *queuemem.Queue
	svc   *orders.Service
	event domain.Event
}

func setup(t *testing.T, capacity, vipTotal int) *fixture {
	t.Helper()
	ctx := context.Background()

	store := repository.New(kvmem.New(repository.Tables()))
	q := queuemem.New(0, 0)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := inventory.New(store, inventory.Config{RetryBaseDelay: time.Millisecond})
	assigner := seating.New(store, seating.Config{})
	svc := orders.New(store, engine, assigner, q, logger, orders.Config{ReservationTTL: time.Minute})

	ev, err := domain.NewEvent("Summer Jam", "Riverside Arena", time.Unix(1_760_000_000, 0).UTC(), capacity)
	require.NoError(t, err)
	require.NoError(t, store.Events.Create(ctx, ev))

	inv, err := domain.NewTicketInventory(ev.ID, "Summer Jam", "VIP", vipTotal, domain.MustMoney("150", "USD"))
	require.NoError(t, err)
	require.NoError(t, store.Inventory.Create(ctx, inv))

	return &fixture{store: store, queue: q, svc: svc, event: ev}
}

func (f *fixture) create(t *testing.T, qty int) *domain.OrderWithTickets {
	t.Helper()
	out, err := f.svc.Create(context.Background(), orders.CreateOrderInput{
		CustomerID: "cust-1",
		EventID:    f.event.ID,
		TicketType: "VIP",
		Quantity:   qty,
	})
	require.NoError(t, err)
	return out
}

func (f *fixture) inventory(t *testing.T) domain.TicketInventory {
	t.Helper()
	inv, err := f.store.Inventory.Get(context.Background(), f.event.ID, "VIP")
	require.NoError(t, err)
	return inv
}

func (f *fixture) eventRow(t *testing.T) domain.Event {
	t.Helper()
	ev, err := f.store.Events.Get(context.Background(), f.event.ID)
	require.NoError(t, err)
	return ev
}

// lapseHold simulates a completed sweep: the reservation is EXPIRED and the
// held quantity returned to both counter rows.
func (f *fixture) lapseHold(t *testing.T, orderID string) {
	t.Helper()
	ctx := context.Background()

	res, err := f.store.Reservations.GetByOrder(ctx, orderID)
	require.NoError(t, err)
	res.Status = domain.ReservationStatusExpired
	require.NoError(t, f.store.Reservations.Expire(ctx, res))

	inv := f.inventory(t)
	inv, err = inv.ReleaseReservation(res.Quantity)
	require.NoError(t, err)
	require.NoError(t, f.store.Inventory.Update(ctx, inv))

	ev := f.eventRow(t)
	ev, err = ev.ReleaseReserved(res.Quantity)
	require.NoError(t, err)
	require.NoError(t, f.store.Events.Update(ctx, ev))
}

func TestCreateOrder(t *testing.T) {
	ctx := context.Background()
	f := setup(t, 1000, 100)

	before := time.Now().UTC()
	out := f.create(t, 1)

	assert.Equal(t, domain.OrderStatusAvailable, out.Order.Status)
	assert.Equal(t, "cust-1", out.Order.CustomerID)
	assert.Equal(t, "Summer Jam", out.Order.EventName, "name taken from inventory when absent")
	assert.Regexp(t, `^ORD-[0-9A-F]{12}$`, out.Order.OrderNumber)
	assert.True(t, out.Order.TotalAmount.Equal(domain.MustMoney("150", "USD")))

	require.Len(t, out.Tickets, 1)
	assert.Equal(t, domain.TicketStatusAvailable, out.Tickets[0].Status)
	assert.Empty(t, out.Tickets[0].SeatNumber)
	assert.True(t, out.Tickets[0].Price.Equal(domain.MustMoney("150", "USD")))

	inv := f.inventory(t)
	assert.Equal(t, 99, inv.Available)
	assert.Equal(t, 1, inv.Reserved)
	assert.Equal(t, 0, inv.Sold)

	ev := f.eventRow(t)
	assert.Equal(t, 999, ev.Available)
	assert.Equal(t, 1, ev.Reserved)

	res, err := f.store.Reservations.GetByOrder(ctx, out.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationStatusActive, res.Status)
	assert.Equal(t, 1, res.Quantity)
	assert.WithinDuration(t, before.Add(time.Minute), res.ExpiresAt, 2*time.Second)

	msgs, err := f.queue.Receive(ctx, 1, 50*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	var task orders.Task
	require.NoError(t, json.Unmarshal(msgs[0].Body, &task))
	assert.Equal(t, out.Order.ID, task.OrderID)

	trail, err := f.store.Journal.List(ctx, out.Order.ID)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, "ORDER_CREATED", trail[0].Type)
	assert.Equal(t, int64(1), trail[0].Version)
}

func TestCreateInsufficientInventory(t *testing.T) {
	f := setup(t, 1000, 2)

	_, err := f.svc.Create(context.Background(), orders.CreateOrderInput{
		CustomerID: "cust-1",
		EventID:    f.event.ID,
		TicketType: "VIP",
		Quantity:   3,
	})
	require.ErrorIs(t, err, domain.ErrInsufficientInventory)

	var detail domain.InsufficientInventoryError
	require.ErrorAs(t, err, &detail)
	assert.Equal(t, 3, detail.Requested)
	assert.Equal(t, 2, detail.Available)

	inv := f.inventory(t)
	assert.Equal(t, 2, inv.Available)
	assert.Equal(t, int64(1), inv.Version, "failed create leaves the row untouched")
	assert.Equal(t, 0, f.queue.Len())
}

func TestCreateUnknownInventory(t *testing.T) {
	f := setup(t, 1000, 100)

	_, err := f.svc.Create(context.Background(), orders.CreateOrderInput{
		CustomerID: "cust-1",
		EventID:    f.event.ID,
		TicketType: "GENERAL",
		Quantity:   1,
	})
	require.ErrorIs(t, err, domain.ErrInventoryNotFound)
}

func TestCreateRejectsNonPositiveQuantity(t *testing.T) {
	f := setup(t, 1000, 100)

	_, err := f.svc.Create(context.Background(), orders.CreateOrderInput{
		CustomerID: "cust-1",
		EventID:    f.event.ID,
		TicketType: "VIP",
		Quantity:   0,
	})
	require.ErrorContains(t, err, "quantity")
}

// deadQueue refuses every send.
type deadQueue struct{}

func (deadQueue) Send(ctx context.Context, body []byte) error { return queue.ErrQueueUnavailable }
func (deadQueue) Receive(ctx context.Context, max int, wait time.Duration) ([]queue.Message, error) {
	return nil, nil
}
func (deadQueue) Delete(ctx context.Context, receipt string) error  { return nil }
func (deadQueue) Release(ctx context.Context, receipt string) error { return nil }

func TestCreateToleratesEnqueueFailure(t *testing.T) {
	ctx := context.Background()
	store := repository.New(kvmem.New(repository.Tables()))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := inventory.New(store, inventory.Config{RetryBaseDelay: time.Millisecond})
	assigner := seating.New(store, seating.Config{})
	svc := orders.New(store, engine, assigner, deadQueue{}, logger, orders.Config{})

	ev, err := domain.NewEvent("Summer Jam", "Riverside Arena", time.Unix(1_760_000_000, 0).UTC(), 100)
	require.NoError(t, err)
	require.NoError(t, store.Events.Create(ctx, ev))
	inv, err := domain.NewTicketInventory(ev.ID, "Summer Jam", "VIP", 10, domain.MustMoney("150", "USD"))
	require.NoError(t, err)
	require.NoError(t, store.Inventory.Create(ctx, inv))

	out, err := svc.Create(ctx, orders.CreateOrderInput{
		CustomerID: "cust-1",
		EventID:    ev.ID,
		TicketType: "VIP",
		Quantity:   1,
	})
	require.NoError(t, err, "the sweeper reclaims the hold, the create stands")

	stored, err := store.Orders.Get(ctx, out.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusAvailable, stored.Status)
}

func TestProcessAsync(t *testing.T) {
	ctx := context.Background()
	f := setup(t, 1000, 100)
	out := f.create(t, 2)

	require.NoError(t, f.svc.ProcessAsync(ctx, out.Order.ID))

	order, err := f.store.Orders.Get(ctx, out.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusReserved, order.Status)
	assert.Equal(t, int64(2), order.Version)

	tickets, err := f.store.Tickets.ListByOrder(ctx, out.Order.ID)
	require.NoError(t, err)
	for _, tk := range tickets {
		assert.Equal(t, domain.TicketStatusReserved, tk.Status)

		history, err := f.store.Audit.ListByTicket(ctx, tk.ID)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, string(domain.TicketStatusAvailable), history[0].FromStatus)
		assert.Equal(t, string(domain.TicketStatusReserved), history[0].ToStatus)
	}

	// Redelivery of the same message is a no-op success.
	require.NoError(t, f.svc.ProcessAsync(ctx, out.Order.ID))
	again, err := f.store.Orders.Get(ctx, out.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), again.Version, "no second transition")
}

func TestProcessAsyncUnknownOrder(t *testing.T) {
	f := setup(t, 1000, 100)
	err := f.svc.ProcessAsync(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestConfirm(t *testing.T) {
	ctx := context.Background()
	f := setup(t, 1000, 100)
	out := f.create(t, 1)
	require.NoError(t, f.svc.ProcessAsync(ctx, out.Order.ID))

	order, err := f.svc.Confirm(ctx, out.Order.ID, orders.CustomerDetails{
		Name:          "Ada Lovelace",
		Email:         "ada@example.com",
		PaymentMethod: "card",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPendingConfirmation, order.Status)

	info, err := f.store.Customers.Get(ctx, out.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", info.Name)
	assert.Equal(t, "card", info.PaymentMethod)
	assert.Equal(t, "cust-1", info.CustomerID)

	tickets, err := f.store.Tickets.ListByOrder(ctx, out.Order.ID)
	require.NoError(t, err)
	for _, tk := range tickets {
		assert.Equal(t, domain.TicketStatusPendingConfirmation, tk.Status)
	}
}

func TestConfirmRequiresReserved(t *testing.T) {
	ctx := context.Background()
	f := setup(t, 1000, 100)
	out := f.create(t, 1)

	_, err := f.svc.Confirm(ctx, out.Order.ID, orders.CustomerDetails{Name: "Ada"})
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition)

	var detail domain.InvalidStateTransitionError
	require.ErrorAs(t, err, &detail)
	assert.Equal(t, string(domain.OrderStatusAvailable), detail.From)
	assert.Equal(t, string(domain.OrderStatusPendingConfirmation), detail.To)

	order, err := f.store.Orders.Get(ctx, out.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusAvailable, order.Status)
	assert.Equal(t, int64(1), order.Version, "rejected transition leaves no trace")
}

func TestMarkAsSold(t *testing.T) {
	ctx := context.Background()
	f := setup(t, 1000, 100)
	out := f.create(t, 1)
	require.NoError(t, f.svc.ProcessAsync(ctx, out.Order.ID))
	_, err := f.svc.Confirm(ctx, out.Order.ID, orders.CustomerDetails{Name: "Ada"})
	require.NoError(t, err)

	sold, err := f.svc.MarkAsSold(ctx, out.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusSold, sold.Order.Status)
	require.Len(t, sold.Tickets, 1)
	assert.Equal(t, domain.TicketStatusSold, sold.Tickets[0].Status)
	assert.Equal(t, "A-1", sold.Tickets[0].SeatNumber)

	inv := f.inventory(t)
	assert.Equal(t, 99, inv.Available)
	assert.Equal(t, 0, inv.Reserved)
	assert.Equal(t, 1, inv.Sold)

	ev := f.eventRow(t)
	assert.Equal(t, 999, ev.Available)
	assert.Equal(t, 0, ev.Reserved)
	assert.Equal(t, 1, ev.Sold)

	res, err := f.store.Reservations.GetByOrder(ctx, out.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationStatusConfirmed, res.Status)

	lock, err := f.store.Seats.Get(ctx, domain.SeatKey(f.event.ID, "VIP", "A-1"))
	require.NoError(t, err)
	assert.Equal(t, sold.Tickets[0].ID, lock.TicketID)
}

func TestMarkAsSoldRequiresPendingConfirmation(t *testing.T) {
	ctx := context.Background()
	f := setup(t, 1000, 100)
	out := f.create(t, 1)
	require.NoError(t, f.svc.ProcessAsync(ctx, out.Order.ID))

	_, err := f.svc.MarkAsSold(ctx, out.Order.ID)
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition)
}

func TestTerminalOrdersRejectEverything(t *testing.T) {
	ctx := context.Background()
	f := setup(t, 1000, 100)
	out := f.create(t, 1)
	require.NoError(t, f.svc.ProcessAsync(ctx, out.Order.ID))
	_, err := f.svc.Confirm(ctx, out.Order.ID, orders.CustomerDetails{Name: "Ada"})
	require.NoError(t, err)
	_, err = f.svc.MarkAsSold(ctx, out.Order.ID)
	require.NoError(t, err)

	_, err = f.svc.MarkAsSold(ctx, out.Order.ID)
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition)
	_, err = f.svc.MarkAsComplimentary(ctx, out.Order.ID, "late comp")
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition)
	_, err = f.svc.Cancel(ctx, out.Order.ID, "late cancel")
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition)

	order, err := f.store.Orders.Get(ctx, out.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusSold, order.Status)
}

func TestMarkAsComplimentaryFromAvailable(t *testing.T) {
	ctx := context.Background()
	f := setup(t, 1000, 10)
	out := f.create(t, 2)

	inv := f.inventory(t)
	require.Equal(t, 8, inv.Available)
	require.Equal(t, 2, inv.Reserved)

	comped, err := f.svc.MarkAsComplimentary(ctx, out.Order.ID, "VIP guest")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusComplimentary, comped.Order.Status)

	seats := make(map[string]struct{})
	for _, tk := range comped.Tickets {
		assert.Equal(t, domain.TicketStatusComplimentary, tk.Status)
		require.NotEmpty(t, tk.SeatNumber)
		seats[tk.SeatNumber] = struct{}{}

		lock, err := f.store.Seats.Get(ctx, domain.SeatKey(f.event.ID, "VIP", tk.SeatNumber))
		require.NoError(t, err)
		assert.Equal(t, tk.ID, lock.TicketID)

		history, err := f.store.Audit.ListByTicket(ctx, tk.ID)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, "VIP guest", history[0].Reason)
	}
	assert.Len(t, seats, 2, "distinct seats")

	inv = f.inventory(t)
	assert.Equal(t, 8, inv.Available, "held tickets consumed, pool untouched")
	assert.Equal(t, 0, inv.Reserved)
	assert.Equal(t, 2, inv.Sold)

	res, err := f.store.Reservations.GetByOrder(ctx, out.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationStatusConfirmed, res.Status)
}

func TestMarkAsComplimentaryAfterHoldLapsed(t *testing.T) {
	ctx := context.Background()
	f := setup(t, 1000, 10)
	out := f.create(t, 2)
	f.lapseHold(t, out.Order.ID)

	require.Equal(t, 10, f.inventory(t).Available, "sweep returned the hold")

	comped, err := f.svc.MarkAsComplimentary(ctx, out.Order.ID, "VIP guest")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusComplimentary, comped.Order.Status)

	inv := f.inventory(t)
	assert.Equal(t, 8, inv.Available, "lapsed hold re-reserved before consuming")
	assert.Equal(t, 0, inv.Reserved)
	assert.Equal(t, 2, inv.Sold)

	res, err := f.store.Reservations.GetByOrder(ctx, out.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationStatusExpired, res.Status, "lapsed hold stays expired")
}

func TestMarkAsComplimentaryInsufficientAfterLapse(t *testing.T) {
	ctx := context.Background()
	f := setup(t, 1000, 2)
	out := f.create(t, 2)
	f.lapseHold(t, out.Order.ID)

	// A rival consumes part of the returned pool.
	inv := f.inventory(t)
	inv, err := inv.Reserve(1)
	require.NoError(t, err)
	require.NoError(t, f.store.Inventory.Update(ctx, inv))

	_, err = f.svc.MarkAsComplimentary(ctx, out.Order.ID, "VIP guest")
	require.ErrorIs(t, err, domain.ErrInsufficientInventory)

	order, err := f.store.Orders.Get(ctx, out.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusAvailable, order.Status, "order untouched")

	locks, err := f.store.Seats.ListScope(ctx, f.event.ID, "VIP")
	require.NoError(t, err)
	assert.Empty(t, locks, "no seats were claimed")
}

func TestCancelReleasesHold(t *testing.T) {
	ctx := context.Background()
	f := setup(t, 1000, 10)
	out := f.create(t, 2)

	order, err := f.svc.Cancel(ctx, out.Order.ID, "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, order.Status)

	tickets, err := f.store.Tickets.ListByOrder(ctx, out.Order.ID)
	require.NoError(t, err)
	for _, tk := range tickets {
		assert.Equal(t, domain.TicketStatusCancelled, tk.Status)

		history, err := f.store.Audit.ListByTicket(ctx, tk.ID)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, "changed my mind", history[0].Reason)
	}

	res, err := f.store.Reservations.GetByOrder(ctx, out.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationStatusReleased, res.Status)

	inv := f.inventory(t)
	assert.Equal(t, 10, inv.Available)
	assert.Equal(t, 0, inv.Reserved)

	ev := f.eventRow(t)
	assert.Equal(t, 1000, ev.Available)
	assert.Equal(t, 0, ev.Reserved)
}

func TestCancelAfterSweepSkipsRelease(t *testing.T) {
	ctx := context.Background()
	f := setup(t, 1000, 10)
	out := f.create(t, 2)
	f.lapseHold(t, out.Order.ID)

	_, err := f.svc.Cancel(ctx, out.Order.ID, "too late anyway")
	require.NoError(t, err)

	inv := f.inventory(t)
	assert.Equal(t, 10, inv.Available, "no double release after the sweep")
	assert.Equal(t, 0, inv.Reserved)
}

func TestGetWithTickets(t *testing.T) {
	ctx := context.Background()
	f := setup(t, 1000, 10)
	out := f.create(t, 3)

	got, err := f.svc.GetWithTickets(ctx, out.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, out.Order, got.Order)
	assert.ElementsMatch(t, out.Tickets, got.Tickets)

	_, err = f.svc.GetWithTickets(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestJournalRecordsLifecycle(t *testing.T) {
	ctx := context.Background()
	f := setup(t, 1000, 100)
	out := f.create(t, 1)
	require.NoError(t, f.svc.ProcessAsync(ctx, out.Order.ID))
	_, err := f.svc.Confirm(ctx, out.Order.ID, orders.CustomerDetails{Name: "Ada"})
	require.NoError(t, err)
	_, err = f.svc.MarkAsSold(ctx, out.Order.ID)
	require.NoError(t, err)

	trail, err := f.store.Journal.List(ctx, out.Order.ID)
	require.NoError(t, err)
	require.Len(t, trail, 4)

	types := make([]string, 0, len(trail))
	for i, e := range trail {
		types = append(types, e.Type)
		assert.Equal(t, int64(i+1), e.Version)
	}
	assert.Equal(t, []string{"ORDER_CREATED", "ORDER_RESERVED", "ORDER_PENDING_CONFIRMATION", "ORDER_SOLD"}, types)
}
