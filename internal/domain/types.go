package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is the aggregate row for a show. Counters obey the conservation law
// available + reserved + sold = total_capacity; every mutation returns a new
// value with Version incremented, never modifies the receiver.
type Event struct {
	ID            string
	Name          string
	Venue         string
	EventDate     time.Time
	TotalCapacity int
	Available     int
	Reserved      int
	Sold          int
	Status        EventStatus
	Version       int64
}

// NewEvent creates an on-sale event with the full capacity available.
func NewEvent(name, venue string, eventDate time.Time, totalCapacity int) (Event, error) {
	if name == "" {
		return Event{}, fmt.Errorf("event name is required")
	}
	if totalCapacity <= 0 {
		return Event{}, fmt.Errorf("total capacity must be positive, got %d", totalCapacity)
	}

	return Event{
		ID:            uuid.NewString(),
		Name:          name,
		Venue:         venue,
		EventDate:     eventDate,
		TotalCapacity: totalCapacity,
		Available:     totalCapacity,
		Reserved:      0,
		Sold:          0,
		Status:        EventStatusOnSale,
		Version:       1,
	}, nil
}

// Reserve moves n tickets from available to reserved.
func (e Event) Reserve(n int) (Event, error) {
	if e.Available < n {
		return Event{}, InsufficientInventoryError{EventID: e.ID, Requested: n, Available: e.Available}
	}
	e.Available -= n
	e.Reserved += n
	e.Version++
	return e, nil
}

// ReleaseReserved returns n reserved tickets to the available pool.
func (e Event) ReleaseReserved(n int) (Event, error) {
	if e.Reserved < n {
		return Event{}, fmt.Errorf("%w: event %s reserved=%d, release=%d", ErrCounterUnderflow, e.ID, e.Reserved, n)
	}
	e.Reserved -= n
	e.Available += n
	e.Version++
	return e, nil
}

// ConfirmReserved moves n tickets from reserved to sold. Available is not
// touched.
func (e Event) ConfirmReserved(n int) (Event, error) {
	if e.Reserved < n {
		return Event{}, fmt.Errorf("%w: event %s reserved=%d, confirm=%d", ErrCounterUnderflow, e.ID, e.Reserved, n)
	}
	e.Reserved -= n
	e.Sold += n
	e.Version++
	return e, nil
}

// TicketInventory is the counter row for one (event, ticket type) pair. The
// price is fixed at creation. Mutations return a new value with Version
// incremented.
type TicketInventory struct {
	EventID    string
	TicketType string
	EventName  string
	Total      int
	Available  int
	Reserved   int
	Sold       int
	Price      Money
	Version    int64
}

// NewTicketInventory creates the counter row for a ticket type with the full
// quantity available.
func NewTicketInventory(eventID, eventName, ticketType string, total int, price Money) (TicketInventory, error) {
	if eventID == "" || ticketType == "" {
		return TicketInventory{}, fmt.Errorf("event id and ticket type are required")
	}
	if total <= 0 {
		return TicketInventory{}, fmt.Errorf("total quantity must be positive, got %d", total)
	}
	if price.IsZero() {
		return TicketInventory{}, fmt.Errorf("%w: price is required", ErrInvalidAmount)
	}

	return TicketInventory{
		EventID:    eventID,
		TicketType: ticketType,
		EventName:  eventName,
		Total:      total,
		Available:  total,
		Reserved:   0,
		Sold:       0,
		Price:      price,
		Version:    1,
	}, nil
}

// Reserve moves n tickets from available to reserved.
func (inv TicketInventory) Reserve(n int) (TicketInventory, error) {
	if inv.Available < n {
		return TicketInventory{}, InsufficientInventoryError{
			EventID:    inv.EventID,
			TicketType: inv.TicketType,
			Requested:  n,
			Available:  inv.Available,
		}
	}
	inv.Available -= n
	inv.Reserved += n
	inv.Version++
	return inv, nil
}

// ReleaseReservation returns n reserved tickets to the available pool.
func (inv TicketInventory) ReleaseReservation(n int) (TicketInventory, error) {
	if inv.Reserved < n {
		return TicketInventory{}, fmt.Errorf("%w: inventory %s/%s reserved=%d, release=%d",
			ErrCounterUnderflow, inv.EventID, inv.TicketType, inv.Reserved, n)
	}
	inv.Reserved -= n
	inv.Available += n
	inv.Version++
	return inv, nil
}

// ConfirmReservation moves n tickets from reserved to sold. Available is not
// touched.
func (inv TicketInventory) ConfirmReservation(n int) (TicketInventory, error) {
	if inv.Reserved < n {
		return TicketInventory{}, fmt.Errorf("%w: inventory %s/%s reserved=%d, confirm=%d",
			ErrCounterUnderflow, inv.EventID, inv.TicketType, inv.Reserved, n)
	}
	inv.Reserved -= n
	inv.Sold += n
	inv.Version++
	return inv, nil
}
