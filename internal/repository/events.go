package repository

import (
	"context"

	"github.com/ticketops/boxoffice/internal/domain"
	"github.com/ticketops/boxoffice/internal/kv"
)

type EventRepo struct {
	store kv.Store
}

// Create persists a new event.
//
// Returns:
//   - error: repository.ErrConflict if the event id is already taken.
func (r *EventRepo) Create(ctx context.Context, e domain.Event) error {
	const op = "repository.EventRepo.Create"

	item, err := eventItem(e)
	if err != nil {
		return wrapKVErr(op, err)
	}
	return wrapCreateErr(op, r.store.PutIf(ctx, TableEvents, item, kv.IfAbsent()))
}

// Get loads an event by id.
//
// Returns:
//   - error: repository.ErrNotFound if the event does not exist.
func (r *EventRepo) Get(ctx context.Context, id string) (domain.Event, error) {
	const op = "repository.EventRepo.Get"

	item, err := r.store.Get(ctx, TableEvents, id)
	if err != nil {
		return domain.Event{}, wrapKVErr(op, err)
	}
	e, err := decodeEvent(item.Doc)
	if err != nil {
		return domain.Event{}, wrapKVErr(op, err)
	}
	return e, nil
}

// Update persists a counter mutation under optimistic lock: the stored
// version must be exactly e.Version-1.
//
// Returns:
//   - error: repository.ErrVersionConflict on a stale snapshot.
func (r *EventRepo) Update(ctx context.Context, e domain.Event) error {
	const op = "repository.EventRepo.Update"

	item, err := eventItem(e)
	if err != nil {
		return wrapKVErr(op, err)
	}
	return wrapVersionErr(op, r.store.UpdateIf(ctx, TableEvents, item, kv.IfVersion(e.Version-1)))
}

// List pages through all events in key order.
func (r *EventRepo) List(ctx context.Context, limit int, cursor string) ([]domain.Event, string, error) {
	const op = "repository.EventRepo.List"

	page, err := r.store.Scan(ctx, TableEvents, kv.ScanOpts{Limit: limit, Cursor: cursor})
	if err != nil {
		return nil, "", wrapKVErr(op, err)
	}

	events := make([]domain.Event, 0, len(page.Items))
	for _, item := range page.Items {
		e, err := decodeEvent(item.Doc)
		if err != nil {
			return nil, "", wrapKVErr(op, err)
		}
		events = append(events, e)
	}
	return events, page.Cursor, nil
}
