package seating_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ticketops/boxoffice/internal/domain"
	"github.com/ticketops/boxoffice/internal/kv"
	"github.com/ticketops/boxoffice/internal/kv/memory"
	"github.com/ticketops/boxoffice/internal/repository"
	"github.com/ticketops/boxoffice/internal/service/seating"
)

var (
	t0    = time.Unix(1_756_000_000, 0).UTC()
	price = domain.MustMoney("150", "USD")
)

// pendingTickets creates n tickets of one order, walked to
// PENDING_CONFIRMATION and persisted.
func pendingTickets(t *testing.T, store *repository.Store, orderID string, n int) []domain.TicketItem {
	t.Helper()
	ctx := context.Background()

	tickets := make([]domain.TicketItem, 0, n)
	ops := make([]kv.Op, 0, n)
	for i := 0; i < n; i++ {
		tk := domain.NewTicketItem(orderID, "res-"+orderID, "evt-1", "VIP", price, t0, "system")
		tk, err := tk.Transition(domain.TicketStatusReserved, t0, "system")
		require.NoError(t, err)
		tk, err = tk.Transition(domain.TicketStatusPendingConfirmation, t0, "system")
		require.NoError(t, err)

		op, err := store.Tickets.CreateOp(tk)
		require.NoError(t, err)
		tickets = append(tickets, tk)
		ops = append(ops, op)
	}
	require.NoError(t, store.TransactWrite(ctx, ops...))
	return tickets
}

func claimSeat(t *testing.T, store *repository.Store, seat, ticketID, orderID string) {
	t.Helper()
	lock := domain.NewSeatReservation("evt-1", "VIP", seat, ticketID, orderID, t0)
	op, err := store.Seats.CreateOp(lock)
	require.NoError(t, err)
	require.NoError(t, store.TransactWrite(context.Background(), op))
}

func TestAssignFirstFreeSeats(t *testing.T) {
	ctx := context.Background()
	store := repository.New(memory.New(repository.Tables()))
	assigner := seating.New(store, seating.Config{})

	tickets := pendingTickets(t, store, "ord-1", 3)

	seated, err := assigner.Assign(ctx, tickets, domain.TicketStatusSold, "system", "", t0)
	require.NoError(t, err)
	require.Len(t, seated, 3)

	seats := make([]string, 0, 3)
	for i, tk := range seated {
		seats = append(seats, tk.SeatNumber)
		assert.Equal(t, domain.TicketStatusSold, tk.Status)
		assert.Equal(t, tickets[i].ID, tk.ID, "input order preserved")

		stored, err := store.Tickets.Get(ctx, tk.ID)
		require.NoError(t, err)
		assert.Equal(t, tk, stored)

		lock, err := store.Seats.Get(ctx, domain.SeatKey("evt-1", "VIP", tk.SeatNumber))
		require.NoError(t, err)
		assert.Equal(t, tk.ID, lock.TicketID)
		assert.Equal(t, "ord-1", lock.OrderID)

		history, err := store.Audit.ListByTicket(ctx, tk.ID)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.True(t, history[0].Successful)
		assert.Equal(t, string(domain.TicketStatusPendingConfirmation), history[0].FromStatus)
		assert.Equal(t, string(domain.TicketStatusSold), history[0].ToStatus)
	}
	assert.Equal(t, []string{"A-1", "A-2", "A-3"}, seats)
}

func TestAssignSkipsOccupiedSeats(t *testing.T) {
	ctx := context.Background()
	store := repository.New(memory.New(repository.Tables()))
	assigner := seating.New(store, seating.Config{})

	// A-1 is held by a lock row, the authoritative source.
	claimSeat(t, store, "A-1", "tk-foreign", "ord-other")

	// A-2 is visible only through a seated terminal ticket, the convergence
	// view the union has to pick up.
	orphan := pendingTickets(t, store, "ord-orphan", 1)[0]
	orphanSeated, err := orphan.AssignSeat("A-2", domain.TicketStatusSold, t0, "system")
	require.NoError(t, err)
	op, err := store.Tickets.AssignSeatOp(orphanSeated)
	require.NoError(t, err)
	require.NoError(t, store.TransactWrite(ctx, op))

	tickets := pendingTickets(t, store, "ord-1", 2)
	seated, err := assigner.Assign(ctx, tickets, domain.TicketStatusSold, "system", "", t0)
	require.NoError(t, err)
	assert.Equal(t, "A-3", seated[0].SeatNumber)
	assert.Equal(t, "A-4", seated[1].SeatNumber)
}

// racingStore injects a rival's seat claim right before the first transaction
// commits, forcing the assigner through its lost-race retry path.
type racingStore struct {
	kv.Store
	once   sync.Once
	inject func()
	calls  int
}

func (s *racingStore) TransactWrite(ctx context.Context, ops []kv.Op) error {
	s.calls++
	s.once.Do(s.inject)
	return s.Store.TransactWrite(ctx, ops)
}

func TestAssignRetriesAfterLostRace(t *testing.T) {
	ctx := context.Background()
	raw := memory.New(repository.Tables())
	racing := &racingStore{Store: raw}
	store := repository.New(racing)
	assigner := seating.New(store, seating.Config{})

	rival := repository.New(raw)
	racing.inject = func() {
		lock := domain.NewSeatReservation("evt-1", "VIP", "A-1", "tk-rival", "ord-rival", t0)
		op, err := rival.Seats.CreateOp(lock)
		require.NoError(t, err)
		require.NoError(t, raw.TransactWrite(ctx, []kv.Op{op}))
	}

	// Fixtures go through the raw store so the intercepted transactions are
	// all the assigner's own.
	tickets := pendingTickets(t, rival, "ord-1", 1)
	seated, err := assigner.Assign(ctx, tickets, domain.TicketStatusSold, "system", "", t0)
	require.NoError(t, err)
	assert.Equal(t, "A-2", seated[0].SeatNumber, "fresh occupied set steers past the lost seat")
	assert.Equal(t, 2, racing.calls, "the canceled batch plus the winning retry")

	rivalLock, err := store.Seats.Get(ctx, domain.SeatKey("evt-1", "VIP", "A-1"))
	require.NoError(t, err)
	assert.Equal(t, "tk-rival", rivalLock.TicketID)
}

func TestAssignConcurrentScope(t *testing.T) {
	ctx := context.Background()
	store := repository.New(memory.New(repository.Tables()))
	assigner := seating.New(store, seating.Config{MaxAttempts: 10})

	const racers = 8
	results := make(chan domain.TicketItem, racers)
	errs := make(chan error, racers)

	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		orderID := "ord-" + string(rune('a'+i))
		tickets := pendingTickets(t, store, orderID, 1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			seated, err := assigner.Assign(ctx, tickets, domain.TicketStatusSold, "system", "", t0)
			if err != nil {
				errs <- err
				return
			}
			results <- seated[0]
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	seats := make(map[string]struct{}, racers)
	for tk := range results {
		_, dup := seats[tk.SeatNumber]
		assert.False(t, dup, "seat %s assigned twice", tk.SeatNumber)
		seats[tk.SeatNumber] = struct{}{}
	}
	assert.Len(t, seats, racers)

	locks, err := store.Seats.ListScope(ctx, "evt-1", "VIP")
	require.NoError(t, err)
	assert.Len(t, locks, racers)
}

func TestAssignSeatExhaustion(t *testing.T) {
	ctx := context.Background()
	store := repository.New(memory.New(repository.Tables()))
	assigner := seating.New(store, seating.Config{MaxCandidateIterations: 2})

	claimSeat(t, store, "A-1", "tk-a", "ord-other")
	claimSeat(t, store, "A-2", "tk-b", "ord-other")

	tickets := pendingTickets(t, store, "ord-1", 1)
	_, err := assigner.Assign(ctx, tickets, domain.TicketStatusSold, "system", "", t0)
	require.ErrorIs(t, err, domain.ErrSeatExhaustion)

	history, err := store.Audit.ListByTicket(ctx, tickets[0].ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.False(t, history[0].Successful)

	stored, err := store.Tickets.Get(ctx, tickets[0].ID)
	require.NoError(t, err)
	assert.Empty(t, stored.SeatNumber)
	assert.Equal(t, domain.TicketStatusPendingConfirmation, stored.Status)
}

// stallingStore cancels every transaction, as if a rival always got there
// first.
type stallingStore struct {
	kv.Store
	calls int
}

func (s *stallingStore) TransactWrite(ctx context.Context, ops []kv.Op) error {
	s.calls++
	return &kv.TxCanceledError{Reasons: []error{kv.ErrPreconditionFailed}}
}

func TestAssignGivesUpAfterRetries(t *testing.T) {
	ctx := context.Background()
	raw := memory.New(repository.Tables())
	stalling := &stallingStore{Store: raw}
	store := repository.New(stalling)
	assigner := seating.New(store, seating.Config{MaxAttempts: 3})

	fixture := repository.New(raw)
	tickets := pendingTickets(t, fixture, "ord-1", 1)

	_, err := assigner.Assign(ctx, tickets, domain.TicketStatusSold, "system", "", t0)
	require.ErrorIs(t, err, domain.ErrSeatAssignmentFailed)
	assert.Equal(t, 3, stalling.calls)

	history, err := store.Audit.ListByTicket(ctx, tickets[0].ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.False(t, history[0].Successful)
	assert.Equal(t, string(domain.TicketStatusSold), history[0].ToStatus)
}

func TestAssignValidation(t *testing.T) {
	ctx := context.Background()
	store := repository.New(memory.New(repository.Tables()))
	assigner := seating.New(store, seating.Config{})

	tickets := pendingTickets(t, store, "ord-1", 2)

	t.Run("empty batch", func(t *testing.T) {
		_, err := assigner.Assign(ctx, nil, domain.TicketStatusSold, "system", "", t0)
		require.ErrorContains(t, err, "no tickets")
	})

	t.Run("duplicate ticket", func(t *testing.T) {
		_, err := assigner.Assign(ctx, []domain.TicketItem{tickets[0], tickets[0]}, domain.TicketStatusSold, "system", "", t0)
		require.ErrorContains(t, err, "duplicate ticket")
	})

	t.Run("mixed scope", func(t *testing.T) {
		stray := tickets[1]
		stray.TicketType = "GENERAL"
		_, err := assigner.Assign(ctx, []domain.TicketItem{tickets[0], stray}, domain.TicketStatusSold, "system", "", t0)
		require.ErrorContains(t, err, "scope")
	})

	t.Run("already seated", func(t *testing.T) {
		seated := tickets[0]
		seated.SeatNumber = "A-9"
		_, err := assigner.Assign(ctx, []domain.TicketItem{seated}, domain.TicketStatusSold, "system", "", t0)
		require.ErrorContains(t, err, "already seated")
	})

	t.Run("non-terminal target", func(t *testing.T) {
		_, err := assigner.Assign(ctx, tickets, domain.TicketStatusReserved, "system", "", t0)
		require.ErrorContains(t, err, "not terminal")
	})
}
