package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ticketops/boxoffice/internal/domain"
)

func newOrder(t *testing.T) domain.TicketOrder {
	t.Helper()
	o, err := domain.NewTicketOrder("cust-1", "evt-1", "Summer Jam", domain.MustMoney("150", "USD"), time.Now())
	require.NoError(t, err)
	return o
}

func TestNewTicketOrder(t *testing.T) {
	o := newOrder(t)

	assert.NotEmpty(t, o.ID)
	assert.Equal(t, domain.OrderStatusAvailable, o.Status)
	assert.Equal(t, int64(1), o.Version)
	require.Len(t, o.OrderNumber, 16)
	assert.Equal(t, "ORD-", o.OrderNumber[:4])

	_, err := domain.NewTicketOrder("", "evt-1", "Summer Jam", domain.MustMoney("1", "USD"), time.Now())
	require.Error(t, err)
}

func TestOrderLifecyclePath(t *testing.T) {
	o := newOrder(t)
	now := time.Now()

	reserved, err := o.Transition(domain.OrderStatusReserved, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), reserved.Version)

	pending, err := reserved.Transition(domain.OrderStatusPendingConfirmation, now)
	require.NoError(t, err)

	sold, err := pending.Transition(domain.OrderStatusSold, now)
	require.NoError(t, err)
	assert.Equal(t, int64(4), sold.Version)
	assert.True(t, sold.Status.Terminal())
}

func TestOrderInvalidTransitions(t *testing.T) {
	o := newOrder(t)
	now := time.Now()

	// confirm requires RESERVED.
	_, err := o.Transition(domain.OrderStatusPendingConfirmation, now)
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition)

	var detail domain.InvalidStateTransitionError
	require.ErrorAs(t, err, &detail)
	assert.Equal(t, "AVAILABLE", detail.From)
	assert.Equal(t, "PENDING_CONFIRMATION", detail.To)

	// Terminal statuses reject everything.
	sold := o
	sold.Status = domain.OrderStatusSold
	for _, to := range []domain.OrderStatus{
		domain.OrderStatusAvailable,
		domain.OrderStatusReserved,
		domain.OrderStatusPendingConfirmation,
		domain.OrderStatusComplimentary,
		domain.OrderStatusCancelled,
	} {
		_, err := sold.Transition(to, now)
		require.ErrorIs(t, err, domain.ErrInvalidStateTransition, "SOLD -> %s", to)
	}
}

func TestOrderComplimentaryFromEveryNonTerminal(t *testing.T) {
	now := time.Now()
	for _, from := range []domain.OrderStatus{
		domain.OrderStatusAvailable,
		domain.OrderStatusReserved,
		domain.OrderStatusPendingConfirmation,
	} {
		o := newOrder(t)
		o.Status = from

		comp, err := o.Transition(domain.OrderStatusComplimentary, now)
		require.NoError(t, err, "from %s", from)
		assert.Equal(t, domain.OrderStatusComplimentary, comp.Status)

		cancelled, err := o.Transition(domain.OrderStatusCancelled, now)
		require.NoError(t, err, "from %s", from)
		assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status)
	}
}

func TestTicketAssignSeat(t *testing.T) {
	now := time.Now()
	tk := domain.NewTicketItem("ord-1", "res-1", "evt-1", "VIP", domain.MustMoney("150", "USD"), now, "system")
	tk.Status = domain.TicketStatusPendingConfirmation

	seated, err := tk.AssignSeat("A-1", domain.TicketStatusSold, now, "payment")
	require.NoError(t, err)
	assert.Equal(t, "A-1", seated.SeatNumber)
	assert.Equal(t, domain.TicketStatusSold, seated.Status)
	assert.Equal(t, "payment", seated.StatusChangedBy)

	// Seat numbers are write-once.
	_, err = seated.AssignSeat("A-2", domain.TicketStatusSold, now, "payment")
	require.Error(t, err)

	// Seat assignment only lands on terminal statuses.
	_, err = tk.AssignSeat("A-1", domain.TicketStatusReserved, now, "payment")
	require.Error(t, err)
}

func TestTicketTransitionGuards(t *testing.T) {
	now := time.Now()
	tk := domain.NewTicketItem("ord-1", "res-1", "evt-1", "VIP", domain.MustMoney("150", "USD"), now, "system")

	reserved, err := tk.Transition(domain.TicketStatusReserved, now, "worker")
	require.NoError(t, err)
	assert.Equal(t, "worker", reserved.StatusChangedBy)

	_, err = tk.Transition(domain.TicketStatusSold, now, "worker")
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition)
}

func TestNewTicketReservation(t *testing.T) {
	now := time.Now()
	r, err := domain.NewTicketReservation("ord-1", "evt-1", "VIP", 5, 10*time.Minute, now)
	require.NoError(t, err)

	assert.Equal(t, domain.ReservationStatusActive, r.Status)
	assert.True(t, r.ExpiresAt.After(r.CreatedAt))
	assert.False(t, r.ExpiredBy(now))
	assert.True(t, r.ExpiredBy(now.Add(11*time.Minute)))

	_, err = domain.NewTicketReservation("ord-1", "evt-1", "VIP", 0, 10*time.Minute, now)
	require.Error(t, err)

	_, err = domain.NewTicketReservation("ord-1", "evt-1", "VIP", 5, 0, now)
	require.Error(t, err)
}

func TestReservationTransitions(t *testing.T) {
	now := time.Now()
	r, err := domain.NewTicketReservation("ord-1", "evt-1", "VIP", 5, time.Minute, now)
	require.NoError(t, err)

	expired, err := r.Transition(domain.ReservationStatusExpired)
	require.NoError(t, err)
	assert.False(t, expired.ExpiredBy(now.Add(time.Hour)), "expired holds are not re-swept")

	_, err = expired.Transition(domain.ReservationStatusConfirmed)
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition)
}

func TestJournalKey(t *testing.T) {
	assert.Equal(t, "ord-1#3", domain.JournalKey("ord-1", 3))
}
