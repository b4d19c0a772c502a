package repository

import (
	"context"

	"github.com/ticketops/boxoffice/internal/domain"
	"github.com/ticketops/boxoffice/internal/kv"
)

type OrderRepo struct {
	store kv.Store
}

// Get loads an order by id.
//
// Returns:
//   - error: repository.ErrNotFound if the order does not exist.
func (r *OrderRepo) Get(ctx context.Context, id string) (domain.TicketOrder, error) {
	const op = "repository.OrderRepo.Get"

	item, err := r.store.Get(ctx, TableOrders, id)
	if err != nil {
		return domain.TicketOrder{}, wrapKVErr(op, err)
	}
	o, err := decodeOrder(item.Doc)
	if err != nil {
		return domain.TicketOrder{}, wrapKVErr(op, err)
	}
	return o, nil
}

// ListByCustomer returns one page of a customer's orders, oldest first.
func (r *OrderRepo) ListByCustomer(ctx context.Context, customerID string, limit int, cursor string) ([]domain.TicketOrder, string, error) {
	const op = "repository.OrderRepo.ListByCustomer"

	page, err := r.store.Query(ctx, TableOrders, IndexOrdersByCustomer, kv.QueryOpts{
		Eq:     customerID,
		Limit:  limit,
		Cursor: cursor,
	})
	if err != nil {
		return nil, "", wrapKVErr(op, err)
	}

	orders := make([]domain.TicketOrder, 0, len(page.Items))
	for _, item := range page.Items {
		o, err := decodeOrder(item.Doc)
		if err != nil {
			return nil, "", wrapKVErr(op, err)
		}
		orders = append(orders, o)
	}
	return orders, page.Cursor, nil
}

// CreateOp builds the transactional op that inserts a new order.
func (r *OrderRepo) CreateOp(o domain.TicketOrder) (kv.Op, error) {
	item, err := orderItem(o)
	if err != nil {
		return kv.Op{}, err
	}
	return kv.Op{Kind: kv.OpPut, Table: TableOrders, Item: item, Cond: kv.IfAbsent()}, nil
}

// UpdateOp builds the transactional op that replaces the order under
// optimistic lock on o.Version-1. Inside a transaction a failed lock cancels
// the whole batch.
func (r *OrderRepo) UpdateOp(o domain.TicketOrder) (kv.Op, error) {
	item, err := orderItem(o)
	if err != nil {
		return kv.Op{}, err
	}
	return kv.Op{Kind: kv.OpUpdate, Table: TableOrders, Item: item, Cond: kv.IfVersion(o.Version - 1)}, nil
}
