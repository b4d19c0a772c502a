package httpgin

import (
	"time"

	"github.com/ticketops/boxoffice/internal/domain"
)

type CreateEventRequest struct {
	Name          string `json:"name" binding:"required"`
	Venue         string `json:"venue" binding:"required"`
	EventDate     string `json:"event_date" binding:"required"`
	TotalCapacity int    `json:"total_capacity" binding:"required,gt=0"`
}

type CreateInventoryRequest struct {
	TicketType string `json:"ticket_type" binding:"required"`
	Total      int    `json:"total" binding:"required,gt=0"`
	Price      string `json:"price" binding:"required"`
	Currency   string `json:"currency" binding:"required,len=3"`
}

type CreateOrderRequest struct {
	CustomerID string `json:"customer_id" binding:"required"`
	EventID    string `json:"event_id" binding:"required"`
	EventName  string `json:"event_name"`
	TicketType string `json:"ticket_type" binding:"required"`
	Quantity   int    `json:"quantity" binding:"required,gt=0"`
}

type ConfirmOrderRequest struct {
	Name          string `json:"name" binding:"required"`
	Email         string `json:"email" binding:"required,email"`
	Phone         string `json:"phone"`
	Address       string `json:"address"`
	City          string `json:"city"`
	Country       string `json:"country"`
	PaymentMethod string `json:"payment_method"`
}

// ReasonRequest is the optional body of complimentary and cancel calls.
type ReasonRequest struct {
	Reason string `json:"reason"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type EventResponse struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Venue         string `json:"venue"`
	EventDate     string `json:"event_date"`
	TotalCapacity int    `json:"total_capacity"`
	Available     int    `json:"available"`
	Reserved      int    `json:"reserved"`
	Sold          int    `json:"sold"`
	Status        string `json:"status"`
}

type InventoryResponse struct {
	EventID    string `json:"event_id"`
	TicketType string `json:"ticket_type"`
	Total      int    `json:"total"`
	Available  int    `json:"available"`
	Reserved   int    `json:"reserved"`
	Sold       int    `json:"sold"`
	Price      string `json:"price"`
	Currency   string `json:"currency"`
}

type AvailabilityResponse struct {
	Event     EventResponse       `json:"event"`
	Inventory []InventoryResponse `json:"inventory"`
}

type SeatResponse struct {
	SeatNumber string `json:"seat_number"`
	TicketType string `json:"ticket_type"`
	TicketID   string `json:"ticket_id"`
	OrderID    string `json:"order_id"`
	ReservedAt string `json:"reserved_at"`
}

type TicketResponse struct {
	ID         string `json:"id"`
	TicketType string `json:"ticket_type"`
	SeatNumber string `json:"seat_number,omitempty"`
	Price      string `json:"price"`
	Currency   string `json:"currency"`
	Status     string `json:"status"`
}

type OrderResponse struct {
	ID          string           `json:"id"`
	OrderNumber string           `json:"order_number"`
	CustomerID  string           `json:"customer_id"`
	EventID     string           `json:"event_id"`
	EventName   string           `json:"event_name"`
	Status      string           `json:"status"`
	TotalAmount string           `json:"total_amount"`
	Currency    string           `json:"currency"`
	CreatedAt   string           `json:"created_at"`
	UpdatedAt   string           `json:"updated_at"`
	Tickets     []TicketResponse `json:"tickets,omitempty"`
}

type EventsPageResponse struct {
	Events []EventResponse `json:"events"`
	Cursor string          `json:"cursor,omitempty"`
}

type OrdersPageResponse struct {
	Orders []OrderResponse `json:"orders"`
	Cursor string          `json:"cursor,omitempty"`
}

func toEventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:            e.ID,
		Name:          e.Name,
		Venue:         e.Venue,
		EventDate:     e.EventDate.UTC().Format(time.RFC3339),
		TotalCapacity: e.TotalCapacity,
		Available:     e.Available,
		Reserved:      e.Reserved,
		Sold:          e.Sold,
		Status:        string(e.Status),
	}
}

func toInventoryResponse(inv domain.TicketInventory) InventoryResponse {
	return InventoryResponse{
		EventID:    inv.EventID,
		TicketType: inv.TicketType,
		Total:      inv.Total,
		Available:  inv.Available,
		Reserved:   inv.Reserved,
		Sold:       inv.Sold,
		Price:      inv.Price.AmountString(),
		Currency:   inv.Price.Currency,
	}
}

func toSeatResponse(s domain.SeatReservation) SeatResponse {
	return SeatResponse{
		SeatNumber: s.SeatNumber,
		TicketType: s.TicketType,
		TicketID:   s.TicketID,
		OrderID:    s.OrderID,
		ReservedAt: s.ReservedAt.UTC().Format(time.RFC3339),
	}
}

func toTicketResponse(t domain.TicketItem) TicketResponse {
	return TicketResponse{
		ID:         t.ID,
		TicketType: t.TicketType,
		SeatNumber: t.SeatNumber,
		Price:      t.Price.AmountString(),
		Currency:   t.Price.Currency,
		Status:     string(t.Status),
	}
}

func toOrderResponse(o domain.TicketOrder, tickets []domain.TicketItem) OrderResponse {
	resp := OrderResponse{
		ID:          o.ID,
		OrderNumber: o.OrderNumber,
		CustomerID:  o.CustomerID,
		EventID:     o.EventID,
		EventName:   o.EventName,
		Status:      string(o.Status),
		TotalAmount: o.TotalAmount.AmountString(),
		Currency:    o.TotalAmount.Currency,
		CreatedAt:   o.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   o.UpdatedAt.UTC().Format(time.RFC3339),
	}
	for _, t := range tickets {
		resp.Tickets = append(resp.Tickets, toTicketResponse(t))
	}
	return resp
}

func parseRFC3339(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
