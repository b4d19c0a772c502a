package repository

import (
	"context"

	"github.com/ticketops/boxoffice/internal/domain"
	"github.com/ticketops/boxoffice/internal/kv"
)

type CustomerRepo struct {
	store kv.Store
}

// Put writes the customer info of an order. The write is unconditional so a
// retried confirmation simply overwrites the same row.
func (r *CustomerRepo) Put(ctx context.Context, c domain.CustomerInfo) error {
	const op = "repository.CustomerRepo.Put"

	item, err := customerItem(c)
	if err != nil {
		return wrapKVErr(op, err)
	}
	return wrapKVErr(op, r.store.Put(ctx, TableCustomers, item))
}

// Get loads the customer info of an order.
//
// Returns:
//   - error: repository.ErrNotFound if the order was never confirmed.
func (r *CustomerRepo) Get(ctx context.Context, orderID string) (domain.CustomerInfo, error) {
	const op = "repository.CustomerRepo.Get"

	item, err := r.store.Get(ctx, TableCustomers, orderID)
	if err != nil {
		return domain.CustomerInfo{}, wrapKVErr(op, err)
	}
	c, err := decodeCustomer(item.Doc)
	if err != nil {
		return domain.CustomerInfo{}, wrapKVErr(op, err)
	}
	return c, nil
}
