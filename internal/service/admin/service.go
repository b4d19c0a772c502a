// Package admin covers the catalog write side of the box office: creating
// events and opening ticket inventory for them.
package admin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ticketops/boxoffice/internal/domain"
	boxredis "github.com/ticketops/boxoffice/internal/redis"
	"github.com/ticketops/boxoffice/internal/repository"
	redisrepo "github.com/ticketops/boxoffice/internal/repository/redis"
)

type Service struct {
	store  *repository.Store
	cache  *redisrepo.Cache
	pubsub *boxredis.EventsPubSub
}

// New builds the catalog service. cache and pubsub may be nil; invalidation
// and change notifications are then skipped.
func New(store *repository.Store, cache *redisrepo.Cache, pubsub *boxredis.EventsPubSub) *Service {
	return &Service{store: store, cache: cache, pubsub: pubsub}
}

// CreateEventInput carries the parameters of a new event.
type CreateEventInput struct {
	Name          string
	Venue         string
	EventDate     time.Time
	TotalCapacity int
}

// CreateInventoryInput opens a ticket type for sale on an existing event.
type CreateInventoryInput struct {
	EventID    string
	TicketType string
	Total      int
	Price      domain.Money
}

// CreateEvent persists a new event with its full capacity available.
func (s *Service) CreateEvent(ctx context.Context, in CreateEventInput) (domain.Event, error) {
	const op = "service.admin.CreateEvent"

	e, err := domain.NewEvent(in.Name, in.Venue, in.EventDate, in.TotalCapacity)
	if err != nil {
		return domain.Event{}, fmt.Errorf("%s: %w", op, err)
	}
	if err := s.store.Events.Create(ctx, e); err != nil {
		return domain.Event{}, fmt.Errorf("%s: %w", op, err)
	}

	s.eventChanged(ctx, e.ID)
	return e, nil
}

// CreateInventory opens a ticket type for sale on an event.
//
// Parameters:
//   - ctx: request-scoped context.
//   - in: event, ticket type, quantity and unit price.
//
// Returns:
//   - domain.TicketInventory: the created counter row.
//   - error: domain.ErrEventNotFound if the event does not exist.
//   - error: domain.ErrDuplicateInventory if the (event, type) pair already
//     has inventory.
func (s *Service) CreateInventory(ctx context.Context, in CreateInventoryInput) (domain.TicketInventory, error) {
	const op = "service.admin.CreateInventory"

	e, err := s.store.Events.Get(ctx, in.EventID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.TicketInventory{}, fmt.Errorf("%s: %w", op, domain.ErrEventNotFound)
		}
		return domain.TicketInventory{}, fmt.Errorf("%s: %w", op, err)
	}

	inv, err := domain.NewTicketInventory(in.EventID, e.Name, in.TicketType, in.Total, in.Price)
	if err != nil {
		return domain.TicketInventory{}, fmt.Errorf("%s: %w", op, err)
	}
	if err := s.store.Inventory.Create(ctx, inv); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return domain.TicketInventory{}, fmt.Errorf("%s: %w", op, domain.ErrDuplicateInventory)
		}
		return domain.TicketInventory{}, fmt.Errorf("%s: %w", op, err)
	}

	s.eventChanged(ctx, in.EventID)
	return inv, nil
}

// eventChanged drops the local cached views of the event and tells the other
// instances to do the same. Best effort; a missed invalidation is repaired
// by the cache TTL.
func (s *Service) eventChanged(ctx context.Context, eventID string) {
	_ = s.cache.InvalidateEvent(ctx, eventID)
	_ = s.pubsub.PublishEventChanged(ctx, eventID)
}
