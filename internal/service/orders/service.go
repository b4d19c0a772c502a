// Package orders drives the order lifecycle: create with an inventory hold,
// async reservation, confirmation with payment contact, and the terminal
// transitions that assign seats and settle the counters.
package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ticketops/boxoffice/internal/domain"
	"github.com/ticketops/boxoffice/internal/kv"
	"github.com/ticketops/boxoffice/internal/queue"
	"github.com/ticketops/boxoffice/internal/repository"
	"github.com/ticketops/boxoffice/internal/service/inventory"
	"github.com/ticketops/boxoffice/internal/service/seating"
)

// systemActor is recorded on transitions not attributable to a user.
const systemActor = "system"

type Config struct {
	// ReservationTTL is the lifetime of the inventory hold created with an
	// order.
	ReservationTTL time.Duration
}

type Service struct {
	store    *repository.Store
	engine   *inventory.Engine
	assigner *seating.Assigner
	queue    queue.Queue
	logger   *slog.Logger
	cfg      Config
}

func New(
	store *repository.Store,
	engine *inventory.Engine,
	assigner *seating.Assigner,
	q queue.Queue,
	logger *slog.Logger,
	cfg Config,
) *Service {
	if cfg.ReservationTTL <= 0 {
		cfg.ReservationTTL = 10 * time.Minute
	}

	return &Service{
		store:    store,
		engine:   engine,
		assigner: assigner,
		queue:    q,
		logger:   logger,
		cfg:      cfg,
	}
}

// Task is the body of one processing-queue message.
type Task struct {
	OrderID string `json:"order_id"`
}

// CreateOrderInput carries the parameters of a new order.
type CreateOrderInput struct {
	CustomerID string
	EventID    string
	EventName  string
	TicketType string
	Quantity   int
}

// CustomerDetails is the payment contact captured at confirmation.
type CustomerDetails struct {
	Name          string
	Email         string
	Phone         string
	Address       string
	City          string
	Country       string
	PaymentMethod string
}

// Create reserves inventory for a new order and persists the order, its
// tickets and the time-bounded reservation in one transaction, then enqueues
// the order for async processing.
//
// Parameters:
//   - ctx: request-scoped context.
//   - in: customer, event, ticket type and quantity.
//
// Returns:
//   - *domain.OrderWithTickets: the created order in AVAILABLE with its
//     tickets.
//   - error: domain.ErrInventoryNotFound if the (event, type) row is missing.
//   - error: domain.ErrInsufficientInventory when available < quantity.
func (s *Service) Create(ctx context.Context, in CreateOrderInput) (*domain.OrderWithTickets, error) {
	const op = "service.orders.Create"

	if in.Quantity <= 0 {
		return nil, fmt.Errorf("%s: quantity must be positive, got %d", op, in.Quantity)
	}

	inv, err := s.engine.Mutate(ctx, in.EventID, in.TicketType, func(cur domain.TicketInventory) (domain.TicketInventory, error) {
		return cur.Reserve(in.Quantity)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if _, err := s.engine.MutateEvent(ctx, in.EventID, func(cur domain.Event) (domain.Event, error) {
		return cur.Reserve(in.Quantity)
	}); err != nil {
		s.releaseCounters(ctx, in.EventID, in.TicketType, in.Quantity, false)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := time.Now().UTC()
	eventName := in.EventName
	if eventName == "" {
		eventName = inv.EventName
	}

	order, tickets, err := s.createRows(ctx, in, eventName, inv.Price, now)
	if err != nil {
		s.releaseCounters(ctx, in.EventID, in.TicketType, in.Quantity, true)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.enqueue(ctx, order.ID); err != nil {
		// The order stays AVAILABLE; the reservation expires and the sweeper
		// reclaims the hold if nothing picks it up.
		s.logger.Warn("order created but enqueue failed",
			"order_id", order.ID, "error", err)
	}

	return &domain.OrderWithTickets{Order: order, Tickets: tickets}, nil
}

// createRows persists the order, its tickets, the reservation and the
// creation journal entry in one transaction.
func (s *Service) createRows(
	ctx context.Context,
	in CreateOrderInput,
	eventName string,
	price domain.Money,
	now time.Time,
) (domain.TicketOrder, []domain.TicketItem, error) {
	order, err := domain.NewTicketOrder(in.CustomerID, in.EventID, eventName, price.MulInt(in.Quantity), now)
	if err != nil {
		return domain.TicketOrder{}, nil, err
	}
	res, err := domain.NewTicketReservation(order.ID, in.EventID, in.TicketType, in.Quantity, s.cfg.ReservationTTL, now)
	if err != nil {
		return domain.TicketOrder{}, nil, err
	}

	tickets := make([]domain.TicketItem, 0, in.Quantity)
	ops := make([]kv.Op, 0, in.Quantity+3)

	orderOp, err := s.store.Orders.CreateOp(order)
	if err != nil {
		return domain.TicketOrder{}, nil, err
	}
	resOp, err := s.store.Reservations.CreateOp(res)
	if err != nil {
		return domain.TicketOrder{}, nil, err
	}
	ops = append(ops, orderOp, resOp)

	for i := 0; i < in.Quantity; i++ {
		t := domain.NewTicketItem(order.ID, res.ID, in.EventID, in.TicketType, price, now, systemActor)
		ticketOp, err := s.store.Tickets.CreateOp(t)
		if err != nil {
			return domain.TicketOrder{}, nil, err
		}
		tickets = append(tickets, t)
		ops = append(ops, ticketOp)
	}

	journalOp, err := s.journalOp(order, "ORDER_CREATED", map[string]any{
		"ticket_type": in.TicketType,
		"quantity":    in.Quantity,
	}, now)
	if err != nil {
		return domain.TicketOrder{}, nil, err
	}
	ops = append(ops, journalOp)

	if err := s.store.TransactWrite(ctx, ops...); err != nil {
		return domain.TicketOrder{}, nil, err
	}
	return order, tickets, nil
}

// ProcessAsync moves an AVAILABLE order and its tickets to RESERVED. It is
// the queue-worker handler: redelivery for an order already past AVAILABLE is
// a no-op success.
//
// Returns:
//   - error: domain.ErrOrderNotFound if the order does not exist.
func (s *Service) ProcessAsync(ctx context.Context, orderID string) error {
	const op = "service.orders.ProcessAsync"

	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if order.Status != domain.OrderStatusAvailable {
		s.logger.Debug("order already processed", "order_id", orderID, "status", order.Status)
		return nil
	}

	now := time.Now().UTC()
	_, err = s.transitionOrder(ctx, order, domain.OrderStatusReserved, "ORDER_RESERVED", systemActor, "", nil, now)
	if err != nil {
		// A concurrent worker may have won the version race on the same
		// delivery; that is the no-op redelivery case.
		if errors.Is(err, kv.ErrTxCanceled) || errors.Is(err, kv.ErrTxConflict) {
			cur, getErr := s.getOrder(ctx, orderID)
			if getErr == nil && cur.Status != domain.OrderStatusAvailable {
				return nil
			}
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Confirm attaches the payment contact to a RESERVED order and moves the
// order and its tickets to PENDING_CONFIRMATION.
//
// Returns:
//   - domain.TicketOrder: the confirmed order.
//   - error: domain.ErrOrderNotFound if the order does not exist.
//   - error: domain.ErrInvalidStateTransition if the order is not RESERVED.
func (s *Service) Confirm(ctx context.Context, orderID string, details CustomerDetails) (domain.TicketOrder, error) {
	const op = "service.orders.Confirm"

	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return domain.TicketOrder{}, fmt.Errorf("%s: %w", op, err)
	}
	if order.Status != domain.OrderStatusReserved {
		return domain.TicketOrder{}, fmt.Errorf("%s: %w", op, domain.InvalidStateTransitionError{
			Entity: "order",
			ID:     order.ID,
			From:   string(order.Status),
			To:     string(domain.OrderStatusPendingConfirmation),
		})
	}

	now := time.Now().UTC()
	info := domain.CustomerInfo{
		OrderID:       order.ID,
		CustomerID:    order.CustomerID,
		Name:          details.Name,
		Email:         details.Email,
		Phone:         details.Phone,
		Address:       details.Address,
		City:          details.City,
		Country:       details.Country,
		PaymentMethod: details.PaymentMethod,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.Customers.Put(ctx, info); err != nil {
		return domain.TicketOrder{}, fmt.Errorf("%s: %w", op, err)
	}

	updated, err := s.transitionOrder(ctx, order, domain.OrderStatusPendingConfirmation, "ORDER_PENDING_CONFIRMATION", systemActor, "", nil, now)
	if err != nil {
		return domain.TicketOrder{}, fmt.Errorf("%s: %w", op, err)
	}
	return updated, nil
}

// MarkAsSold finalizes a PENDING_CONFIRMATION order: assigns seats through
// the seat protocol, moves the order to SOLD, settles the inventory and event
// counters and confirms the reservation.
//
// Returns:
//   - *domain.OrderWithTickets: the sold order with seated tickets.
//   - error: domain.ErrOrderNotFound if the order does not exist.
//   - error: domain.ErrInvalidStateTransition if the order is not
//     PENDING_CONFIRMATION.
//   - error: domain.ErrSeatExhaustion or domain.ErrSeatAssignmentFailed from
//     the seat protocol; the order keeps its prior state.
func (s *Service) MarkAsSold(ctx context.Context, orderID string) (*domain.OrderWithTickets, error) {
	const op = "service.orders.MarkAsSold"

	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if order.Status != domain.OrderStatusPendingConfirmation {
		return nil, fmt.Errorf("%s: %w", op, domain.InvalidStateTransitionError{
			Entity: "order",
			ID:     order.ID,
			From:   string(order.Status),
			To:     string(domain.OrderStatusSold),
		})
	}

	return s.finalize(ctx, op, order, domain.OrderStatusSold, "ORDER_SOLD", "")
}

// MarkAsComplimentary gives the order's tickets away: assigns seats, moves
// order and tickets to COMPLIMENTARY and consumes inventory. Allowed from
// AVAILABLE, RESERVED and PENDING_CONFIRMATION. With the order's reservation
// still ACTIVE the held quantity is consumed directly; once the hold has
// lapsed the quantity is re-reserved first.
//
// Returns:
//   - *domain.OrderWithTickets: the comped order with seated tickets.
//   - error: domain.ErrInvalidStateTransition from terminal states.
//   - error: domain.ErrInsufficientInventory when a lapsed hold cannot be
//     re-acquired.
func (s *Service) MarkAsComplimentary(ctx context.Context, orderID, reason string) (*domain.OrderWithTickets, error) {
	const op = "service.orders.MarkAsComplimentary"

	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !domain.CanTransitionOrder(order.Status, domain.OrderStatusComplimentary) {
		return nil, fmt.Errorf("%s: %w", op, domain.InvalidStateTransitionError{
			Entity: "order",
			ID:     order.ID,
			From:   string(order.Status),
			To:     string(domain.OrderStatusComplimentary),
		})
	}

	return s.finalize(ctx, op, order, domain.OrderStatusComplimentary, "ORDER_COMPLIMENTARY", reason)
}

// finalize runs the shared tail of the terminal transitions: seat the
// tickets, move the order, settle counters, confirm the hold.
func (s *Service) finalize(
	ctx context.Context,
	op string,
	order domain.TicketOrder,
	to domain.OrderStatus,
	journalType, reason string,
) (*domain.OrderWithTickets, error) {
	now := time.Now().UTC()

	res, err := s.store.Reservations.GetByOrder(ctx, order.ID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	held := err == nil && res.Status == domain.ReservationStatusActive

	tickets, err := s.store.Tickets.ListByOrder(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	quantity := len(tickets)
	if quantity == 0 {
		return nil, fmt.Errorf("%s: order %s has no tickets", op, order.ID)
	}
	ticketType := tickets[0].TicketType

	// A lapsed hold means the sweeper already returned the quantity to the
	// pool; take it back before consuming.
	if !held {
		if _, err := s.engine.Mutate(ctx, order.EventID, ticketType, func(cur domain.TicketInventory) (domain.TicketInventory, error) {
			return cur.Reserve(quantity)
		}); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if _, err := s.engine.MutateEvent(ctx, order.EventID, func(cur domain.Event) (domain.Event, error) {
			return cur.Reserve(quantity)
		}); err != nil {
			s.releaseCounters(ctx, order.EventID, ticketType, quantity, false)
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	seated, err := s.seatTickets(ctx, tickets, domain.TicketStatusFor(to), reason, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	updated, err := order.Transition(to, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	updateOp, err := s.store.Orders.UpdateOp(updated)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	journalOp, err := s.journalOp(updated, journalType, map[string]any{"reason": reason}, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := s.store.TransactWrite(ctx, updateOp, journalOp); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.settleCounters(ctx, order.EventID, ticketType, quantity)
	if held {
		s.confirmReservation(ctx, res)
	}

	return &domain.OrderWithTickets{Order: updated, Tickets: seated}, nil
}

// seatTickets runs the seat protocol, skipping it when a previous attempt
// already seated every ticket but failed before the order transition.
func (s *Service) seatTickets(
	ctx context.Context,
	tickets []domain.TicketItem,
	to domain.TicketStatus,
	reason string,
	now time.Time,
) ([]domain.TicketItem, error) {
	allSeated := true
	for _, t := range tickets {
		if t.SeatNumber == "" {
			allSeated = false
			break
		}
	}
	if allSeated {
		return tickets, nil
	}
	return s.assigner.Assign(ctx, tickets, to, systemActor, reason, now)
}

// Cancel aborts a non-terminal order: order and tickets go to CANCELLED, an
// ACTIVE reservation is released and the held quantity returned to the pool.
//
// Returns:
//   - domain.TicketOrder: the cancelled order.
//   - error: domain.ErrOrderNotFound if the order does not exist.
//   - error: domain.ErrInvalidStateTransition from terminal states.
func (s *Service) Cancel(ctx context.Context, orderID, reason string) (domain.TicketOrder, error) {
	const op = "service.orders.Cancel"

	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return domain.TicketOrder{}, fmt.Errorf("%s: %w", op, err)
	}
	if !domain.CanTransitionOrder(order.Status, domain.OrderStatusCancelled) {
		return domain.TicketOrder{}, fmt.Errorf("%s: %w", op, domain.InvalidStateTransitionError{
			Entity: "order",
			ID:     order.ID,
			From:   string(order.Status),
			To:     string(domain.OrderStatusCancelled),
		})
	}

	now := time.Now().UTC()
	updated, err := s.transitionOrder(ctx, order, domain.OrderStatusCancelled, "ORDER_CANCELLED", systemActor, reason, map[string]any{"reason": reason}, now)
	if err != nil {
		return domain.TicketOrder{}, fmt.Errorf("%s: %w", op, err)
	}

	// Whoever wins the ACTIVE -> RELEASED transition returns the quantity;
	// losing it means the sweeper already reclaimed the hold.
	res, err := s.store.Reservations.GetByOrder(ctx, orderID)
	if err == nil && res.Status == domain.ReservationStatusActive {
		released, trErr := res.Transition(domain.ReservationStatusReleased)
		if trErr == nil {
			relOp, opErr := s.store.Reservations.TransitionOp(released, domain.ReservationStatusActive)
			if opErr == nil && s.store.TransactWrite(ctx, relOp) == nil {
				s.releaseCounters(ctx, order.EventID, res.TicketType, res.Quantity, true)
			}
		}
	}

	return updated, nil
}

// GetWithTickets loads an order together with its tickets.
//
// Returns:
//   - *domain.OrderWithTickets: the order and all its tickets.
//   - error: domain.ErrOrderNotFound if the order does not exist.
func (s *Service) GetWithTickets(ctx context.Context, orderID string) (*domain.OrderWithTickets, error) {
	const op = "service.orders.GetWithTickets"

	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	tickets, err := s.store.Tickets.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &domain.OrderWithTickets{Order: order, Tickets: tickets}, nil
}

// ListByCustomer returns a page of a customer's orders, oldest first.
func (s *Service) ListByCustomer(ctx context.Context, customerID string, limit int, cursor string) ([]domain.TicketOrder, string, error) {
	const op = "service.orders.ListByCustomer"

	orders, next, err := s.store.Orders.ListByCustomer(ctx, customerID, limit, cursor)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", op, err)
	}
	return orders, next, nil
}

func (s *Service) getOrder(ctx context.Context, orderID string) (domain.TicketOrder, error) {
	order, err := s.store.Orders.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.TicketOrder{}, domain.ErrOrderNotFound
		}
		return domain.TicketOrder{}, err
	}
	return order, nil
}

// transitionOrder moves the order and every ticket to the mirrored status in
// one guarded transaction, with audit rows and a journal entry.
func (s *Service) transitionOrder(
	ctx context.Context,
	order domain.TicketOrder,
	to domain.OrderStatus,
	journalType, by, reason string,
	payload map[string]any,
	now time.Time,
) (domain.TicketOrder, error) {
	updated, err := order.Transition(to, now)
	if err != nil {
		return domain.TicketOrder{}, err
	}

	tickets, err := s.store.Tickets.ListByOrder(ctx, order.ID)
	if err != nil {
		return domain.TicketOrder{}, err
	}

	ops := make([]kv.Op, 0, 2*len(tickets)+2)
	orderOp, err := s.store.Orders.UpdateOp(updated)
	if err != nil {
		return domain.TicketOrder{}, err
	}
	ops = append(ops, orderOp)

	ticketStatus := domain.TicketStatusFor(to)
	for _, t := range tickets {
		next, err := t.Transition(ticketStatus, now, by)
		if err != nil {
			s.auditFailure(ctx, t, ticketStatus, by, reason, err, now)
			return domain.TicketOrder{}, err
		}
		ticketOp, err := s.store.Tickets.UpdateOp(next)
		if err != nil {
			return domain.TicketOrder{}, err
		}
		auditOp, err := s.store.Audit.AppendOp(domain.NewTransitionAudit(t.ID, t.Status, ticketStatus, by, reason, now))
		if err != nil {
			return domain.TicketOrder{}, err
		}
		ops = append(ops, ticketOp, auditOp)
	}

	journalOp, err := s.journalOp(updated, journalType, payload, now)
	if err != nil {
		return domain.TicketOrder{}, err
	}
	ops = append(ops, journalOp)

	if err := s.store.TransactWrite(ctx, ops...); err != nil {
		return domain.TicketOrder{}, err
	}
	return updated, nil
}

// settleCounters applies confirm_reservation to the inventory and event rows
// after a terminal transition committed. A concurrent sweep may already have
// released the hold; the resulting underflow is logged and the sale stands.
func (s *Service) settleCounters(ctx context.Context, eventID, ticketType string, quantity int) {
	if _, err := s.engine.Mutate(ctx, eventID, ticketType, func(cur domain.TicketInventory) (domain.TicketInventory, error) {
		return cur.ConfirmReservation(quantity)
	}); err != nil {
		s.logger.Warn("inventory confirm skipped",
			"event_id", eventID, "ticket_type", ticketType, "quantity", quantity, "error", err)
	}
	if _, err := s.engine.MutateEvent(ctx, eventID, func(cur domain.Event) (domain.Event, error) {
		return cur.ConfirmReserved(quantity)
	}); err != nil {
		s.logger.Warn("event confirm skipped",
			"event_id", eventID, "quantity", quantity, "error", err)
	}
}

// releaseCounters reverses a reservation on the inventory row and, when
// withEvent is set, the event row. Used for compensation; failures are
// logged, the sweeper converges the rest.
func (s *Service) releaseCounters(ctx context.Context, eventID, ticketType string, quantity int, withEvent bool) {
	if _, err := s.engine.Mutate(ctx, eventID, ticketType, func(cur domain.TicketInventory) (domain.TicketInventory, error) {
		return cur.ReleaseReservation(quantity)
	}); err != nil {
		s.logger.Warn("inventory release failed",
			"event_id", eventID, "ticket_type", ticketType, "quantity", quantity, "error", err)
	}
	if !withEvent {
		return
	}
	if _, err := s.engine.MutateEvent(ctx, eventID, func(cur domain.Event) (domain.Event, error) {
		return cur.ReleaseReserved(quantity)
	}); err != nil {
		s.logger.Warn("event release failed",
			"event_id", eventID, "quantity", quantity, "error", err)
	}
}

// confirmReservation moves the hold ACTIVE -> CONFIRMED, tolerating a lost
// race against the sweeper.
func (s *Service) confirmReservation(ctx context.Context, res domain.TicketReservation) {
	confirmed, err := res.Transition(domain.ReservationStatusConfirmed)
	if err != nil {
		return
	}
	op, err := s.store.Reservations.TransitionOp(confirmed, domain.ReservationStatusActive)
	if err != nil {
		s.logger.Warn("reservation confirm op failed", "reservation_id", res.ID, "error", err)
		return
	}
	if err := s.store.TransactWrite(ctx, op); err != nil {
		s.logger.Warn("reservation already settled", "reservation_id", res.ID, "error", err)
	}
}

func (s *Service) auditFailure(ctx context.Context, t domain.TicketItem, to domain.TicketStatus, by, reason string, cause error, now time.Time) {
	audit := domain.NewFailedTransitionAudit(t.ID, t.Status, to, by, reason, cause, now)
	if err := s.store.Audit.Append(ctx, audit); err != nil {
		s.logger.Warn("audit append failed", "ticket_id", t.ID, "error", err)
	}
}

func (s *Service) journalOp(order domain.TicketOrder, eventType string, payload map[string]any, now time.Time) (kv.Op, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return kv.Op{}, err
	}
	return s.store.Journal.AppendOp(domain.DomainEvent{
		AggregateID: order.ID,
		Version:     order.Version,
		Type:        eventType,
		Payload:     body,
		At:          now,
	})
}

func (s *Service) enqueue(ctx context.Context, orderID string) error {
	body, err := json.Marshal(Task{OrderID: orderID})
	if err != nil {
		return err
	}
	return s.queue.Send(ctx, body)
}
