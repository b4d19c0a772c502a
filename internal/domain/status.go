package domain

// Lifecycle statuses. Persisted and serialized exactly as declared, in
// UPPER_SNAKE_CASE.
type (
	EventStatus       string
	OrderStatus       string
	TicketStatus      string
	ReservationStatus string
)

const (
	EventStatusOnSale    EventStatus = "ON_SALE"
	EventStatusSoldOut   EventStatus = "SOLD_OUT"
	EventStatusCancelled EventStatus = "CANCELLED"
	EventStatusCompleted EventStatus = "COMPLETED"
)

// Order statuses. Ticket statuses mirror them: every order transition is
// applied to the order's tickets as well.
const (
	OrderStatusAvailable           OrderStatus = "AVAILABLE"
	OrderStatusReserved            OrderStatus = "RESERVED"
	OrderStatusPendingConfirmation OrderStatus = "PENDING_CONFIRMATION"
	OrderStatusSold                OrderStatus = "SOLD"
	OrderStatusComplimentary       OrderStatus = "COMPLIMENTARY"
	OrderStatusCancelled           OrderStatus = "CANCELLED"
)

const (
	TicketStatusAvailable           TicketStatus = "AVAILABLE"
	TicketStatusReserved            TicketStatus = "RESERVED"
	TicketStatusPendingConfirmation TicketStatus = "PENDING_CONFIRMATION"
	TicketStatusSold                TicketStatus = "SOLD"
	TicketStatusComplimentary       TicketStatus = "COMPLIMENTARY"
	TicketStatusCancelled           TicketStatus = "CANCELLED"
)

const (
	ReservationStatusActive    ReservationStatus = "ACTIVE"
	ReservationStatusConfirmed ReservationStatus = "CONFIRMED"
	ReservationStatusReleased  ReservationStatus = "RELEASED"
	ReservationStatusExpired   ReservationStatus = "EXPIRED"
)

var validOrderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusAvailable:           {OrderStatusReserved, OrderStatusComplimentary, OrderStatusCancelled},
	OrderStatusReserved:            {OrderStatusPendingConfirmation, OrderStatusComplimentary, OrderStatusCancelled},
	OrderStatusPendingConfirmation: {OrderStatusSold, OrderStatusComplimentary, OrderStatusCancelled},
	OrderStatusSold:                {},
	OrderStatusComplimentary:       {},
	OrderStatusCancelled:           {},
}

var validTicketTransitions = map[TicketStatus][]TicketStatus{
	TicketStatusAvailable:           {TicketStatusReserved, TicketStatusComplimentary, TicketStatusCancelled},
	TicketStatusReserved:            {TicketStatusPendingConfirmation, TicketStatusComplimentary, TicketStatusCancelled},
	TicketStatusPendingConfirmation: {TicketStatusSold, TicketStatusComplimentary, TicketStatusCancelled},
	TicketStatusSold:                {},
	TicketStatusComplimentary:       {},
	TicketStatusCancelled:           {},
}

var validReservationTransitions = map[ReservationStatus][]ReservationStatus{
	ReservationStatusActive:    {ReservationStatusConfirmed, ReservationStatusReleased, ReservationStatusExpired},
	ReservationStatusConfirmed: {},
	ReservationStatusReleased:  {},
	ReservationStatusExpired:   {},
}

// CanTransitionOrder reports whether an order may move from one status to
// another in a single step.
func CanTransitionOrder(from, to OrderStatus) bool {
	for _, next := range validOrderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func CanTransitionTicket(from, to TicketStatus) bool {
	for _, next := range validTicketTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func CanTransitionReservation(from, to ReservationStatus) bool {
	for _, next := range validReservationTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether an order status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	return len(validOrderTransitions[s]) == 0
}

// Terminal reports whether a ticket status admits no further transitions.
func (s TicketStatus) Terminal() bool {
	return len(validTicketTransitions[s]) == 0
}

// Terminal reports whether a reservation status admits no further
// transitions.
func (s ReservationStatus) Terminal() bool {
	return len(validReservationTransitions[s]) == 0
}

// TicketStatusFor maps an order status to the matching ticket status.
func TicketStatusFor(s OrderStatus) TicketStatus {
	return TicketStatus(s)
}
