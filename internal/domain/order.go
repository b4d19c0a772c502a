package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TicketOrder is a customer's intent to buy N tickets of one type for one
// event. Status changes go through Transition, which enforces the lifecycle
// state machine and bumps Version.
type TicketOrder struct {
	ID          string
	OrderNumber string
	CustomerID  string
	EventID     string
	EventName   string
	Status      OrderStatus
	TotalAmount Money
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Version     int64
}

// NewTicketOrder creates an order in AVAILABLE with the total priced at
// creation time.
func NewTicketOrder(customerID, eventID, eventName string, total Money, now time.Time) (TicketOrder, error) {
	if customerID == "" {
		return TicketOrder{}, fmt.Errorf("customer id is required")
	}
	if eventID == "" {
		return TicketOrder{}, fmt.Errorf("event id is required")
	}

	id := uuid.NewString()
	return TicketOrder{
		ID:          id,
		OrderNumber: orderNumber(id),
		CustomerID:  customerID,
		EventID:     eventID,
		EventName:   eventName,
		Status:      OrderStatusAvailable,
		TotalAmount: total,
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
	}, nil
}

// orderNumber derives the human-facing order number from the order id.
func orderNumber(id string) string {
	return "ORD-" + strings.ToUpper(strings.ReplaceAll(id, "-", "")[:12])
}

// Transition moves the order to a new status.
//
// Returns:
//   - TicketOrder: the order with the new status, UpdatedAt and Version set.
//   - error: domain.InvalidStateTransitionError when the state machine does
//     not permit the move.
func (o TicketOrder) Transition(to OrderStatus, now time.Time) (TicketOrder, error) {
	if !CanTransitionOrder(o.Status, to) {
		return TicketOrder{}, InvalidStateTransitionError{
			Entity: "order",
			ID:     o.ID,
			From:   string(o.Status),
			To:     string(to),
		}
	}
	o.Status = to
	o.UpdatedAt = now
	o.Version++
	return o, nil
}

// TicketItem is one purchasable unit. It acquires a seat number exactly once,
// on the transition into a terminal status.
type TicketItem struct {
	ID              string
	OrderID         string
	ReservationID   string
	EventID         string
	TicketType      string
	SeatNumber      string
	Price           Money
	Status          TicketStatus
	StatusChangedAt time.Time
	StatusChangedBy string
}

// NewTicketItem creates an AVAILABLE ticket attached to an order.
func NewTicketItem(orderID, reservationID, eventID, ticketType string, price Money, now time.Time, by string) TicketItem {
	return TicketItem{
		ID:              uuid.NewString(),
		OrderID:         orderID,
		ReservationID:   reservationID,
		EventID:         eventID,
		TicketType:      ticketType,
		Price:           price,
		Status:          TicketStatusAvailable,
		StatusChangedAt: now,
		StatusChangedBy: by,
	}
}

// Transition moves the ticket to a new status without touching the seat.
func (t TicketItem) Transition(to TicketStatus, now time.Time, by string) (TicketItem, error) {
	if !CanTransitionTicket(t.Status, to) {
		return TicketItem{}, InvalidStateTransitionError{
			Entity: "ticket",
			ID:     t.ID,
			From:   string(t.Status),
			To:     string(to),
		}
	}
	t.Status = to
	t.StatusChangedAt = now
	t.StatusChangedBy = by
	return t, nil
}

// AssignSeat sets the seat number together with the terminal status. The seat
// must not have been set before.
func (t TicketItem) AssignSeat(seat string, to TicketStatus, now time.Time, by string) (TicketItem, error) {
	if t.SeatNumber != "" {
		return TicketItem{}, fmt.Errorf("ticket %s already seated at %s", t.ID, t.SeatNumber)
	}
	if !to.Terminal() {
		return TicketItem{}, fmt.Errorf("seat assignment requires a terminal status, got %s", to)
	}

	seated, err := t.Transition(to, now, by)
	if err != nil {
		return TicketItem{}, err
	}
	seated.SeatNumber = seat
	return seated, nil
}

// TicketReservation is a time-bounded hold on N tickets attached to a single
// order.
type TicketReservation struct {
	ID         string
	OrderID    string
	EventID    string
	TicketType string
	Quantity   int
	Status     ReservationStatus
	ExpiresAt  time.Time
	CreatedAt  time.Time
}

// NewTicketReservation creates an ACTIVE hold expiring after ttl.
func NewTicketReservation(orderID, eventID, ticketType string, quantity int, ttl time.Duration, now time.Time) (TicketReservation, error) {
	if quantity <= 0 {
		return TicketReservation{}, fmt.Errorf("reservation quantity must be positive, got %d", quantity)
	}
	if ttl <= 0 {
		return TicketReservation{}, fmt.Errorf("reservation ttl must be positive, got %s", ttl)
	}

	return TicketReservation{
		ID:         uuid.NewString(),
		OrderID:    orderID,
		EventID:    eventID,
		TicketType: ticketType,
		Quantity:   quantity,
		Status:     ReservationStatusActive,
		ExpiresAt:  now.Add(ttl),
		CreatedAt:  now,
	}, nil
}

// Transition moves the reservation to a new status.
func (r TicketReservation) Transition(to ReservationStatus) (TicketReservation, error) {
	if !CanTransitionReservation(r.Status, to) {
		return TicketReservation{}, InvalidStateTransitionError{
			Entity: "reservation",
			ID:     r.ID,
			From:   string(r.Status),
			To:     string(to),
		}
	}
	r.Status = to
	return r, nil
}

// ExpiredBy reports whether the hold has lapsed at the given instant.
func (r TicketReservation) ExpiredBy(now time.Time) bool {
	return r.Status == ReservationStatusActive && r.ExpiresAt.Before(now)
}

// OrderWithTickets bundles an order with its tickets for read paths.
type OrderWithTickets struct {
	Order   TicketOrder
	Tickets []TicketItem
}

// CustomerInfo carries the payment contact attached to an order at
// confirmation. One row per order.
type CustomerInfo struct {
	OrderID       string
	CustomerID    string
	Name          string
	Email         string
	Phone         string
	Address       string
	City          string
	Country       string
	PaymentMethod string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
