// Package query serves the storefront read side: event summaries,
// availability counters and seat maps, with a short-TTL cache in front of
// the hottest lookups.
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ticketops/boxoffice/internal/domain"
	"github.com/ticketops/boxoffice/internal/repository"
	redisrepo "github.com/ticketops/boxoffice/internal/repository/redis"
)

type Config struct {
	EventSummaryTTL time.Duration
	AvailabilityTTL time.Duration
	SeatMapTTL      time.Duration
	// DefaultSeatsPage and MaxSeatsPage bound the in-memory paging of seat
	// maps.
	DefaultSeatsPage int
	MaxSeatsPage     int
}

type Service struct {
	store *repository.Store
	cache *redisrepo.Cache
	cfg   Config

	// flights collapses concurrent identical store reads. The cache dedups
	// only when Redis is configured; storefront polling bursts happen either
	// way.
	flights singleflight.Group
}

// New builds the read service. cache may be nil; every read then goes to the
// store directly.
func New(store *repository.Store, cache *redisrepo.Cache, cfg Config) *Service {
	if cfg.EventSummaryTTL <= 0 {
		cfg.EventSummaryTTL = 60 * time.Second
	}
	if cfg.AvailabilityTTL <= 0 {
		cfg.AvailabilityTTL = 15 * time.Second
	}
	if cfg.SeatMapTTL <= 0 {
		cfg.SeatMapTTL = 15 * time.Second
	}
	if cfg.DefaultSeatsPage <= 0 {
		cfg.DefaultSeatsPage = 100
	}
	if cfg.MaxSeatsPage <= 0 {
		cfg.MaxSeatsPage = 500
	}

	return &Service{store: store, cache: cache, cfg: cfg}
}

// EventAvailability is the storefront read model: the event counters plus
// one inventory row per ticket type.
type EventAvailability struct {
	Event     domain.Event             `json:"event"`
	Inventory []domain.TicketInventory `json:"inventory"`
}

// GetEvent retrieves an event by id.
//
// Returns:
//   - error: domain.ErrEventNotFound if the event does not exist.
func (s *Service) GetEvent(ctx context.Context, id string) (domain.Event, error) {
	const op = "service.query.GetEvent"

	e, err := redisrepo.GetOrSetJSON(
		ctx,
		s.cache,
		redisrepo.KeyEventSummary(id),
		s.cfg.EventSummaryTTL,
		func(ctx context.Context) (domain.Event, error) {
			v, err, _ := s.flights.Do("event:"+id, func() (any, error) {
				return s.store.Events.Get(ctx, id)
			})
			if err != nil {
				return domain.Event{}, err
			}
			return v.(domain.Event), nil
		},
	)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Event{}, fmt.Errorf("%s: %w", op, domain.ErrEventNotFound)
		}
		return domain.Event{}, fmt.Errorf("%s: %w", op, err)
	}
	return e, nil
}

// Availability returns the event counters together with every ticket type on
// sale for it.
//
// Returns:
//   - error: domain.ErrEventNotFound if the event does not exist.
func (s *Service) Availability(ctx context.Context, eventID string) (EventAvailability, error) {
	const op = "service.query.Availability"

	av, err := redisrepo.GetOrSetJSON(
		ctx,
		s.cache,
		redisrepo.KeyEventAvailability(eventID),
		s.cfg.AvailabilityTTL,
		func(ctx context.Context) (EventAvailability, error) {
			v, err, _ := s.flights.Do("availability:"+eventID, func() (any, error) {
				e, err := s.store.Events.Get(ctx, eventID)
				if err != nil {
					return nil, err
				}
				inv, err := s.store.Inventory.ListByEvent(ctx, eventID)
				if err != nil {
					return nil, err
				}
				return EventAvailability{Event: e, Inventory: inv}, nil
			})
			if err != nil {
				return EventAvailability{}, err
			}
			return v.(EventAvailability), nil
		},
	)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return EventAvailability{}, fmt.Errorf("%s: %w", op, domain.ErrEventNotFound)
		}
		return EventAvailability{}, fmt.Errorf("%s: %w", op, err)
	}
	return av, nil
}

// GetInventory retrieves the counter row for one (event, ticket type) pair.
//
// Returns:
//   - error: domain.ErrInventoryNotFound if the pair has no inventory.
func (s *Service) GetInventory(ctx context.Context, eventID, ticketType string) (domain.TicketInventory, error) {
	const op = "service.query.GetInventory"

	inv, err := s.store.Inventory.Get(ctx, eventID, ticketType)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.TicketInventory{}, fmt.Errorf("%s: %w", op, domain.ErrInventoryNotFound)
		}
		return domain.TicketInventory{}, fmt.Errorf("%s: %w", op, err)
	}
	return inv, nil
}

// ListEvents pages through the catalog in key order. An empty cursor starts
// from the beginning; the returned cursor is empty on the last page.
func (s *Service) ListEvents(ctx context.Context, limit int, cursor string) ([]domain.Event, string, error) {
	const op = "service.query.ListEvents"

	events, next, err := s.store.Events.List(ctx, limit, cursor)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", op, err)
	}
	return events, next, nil
}

// ListSeatAssignments returns the claimed seats of one (event, ticket type)
// scope ordered by seat key, paged in memory over the cached scope listing.
//
// Parameters:
//   - ctx: request-scoped context.
//   - eventID, ticketType: the seat scope.
//   - limit: page size; clamped to the configured maximum.
//   - offset: number of seats to skip.
func (s *Service) ListSeatAssignments(ctx context.Context, eventID, ticketType string, limit, offset int) ([]domain.SeatReservation, error) {
	const op = "service.query.ListSeatAssignments"

	if limit <= 0 {
		limit = s.cfg.DefaultSeatsPage
	}
	if limit > s.cfg.MaxSeatsPage {
		limit = s.cfg.MaxSeatsPage
	}
	if offset < 0 {
		offset = 0
	}

	scope := domain.SeatScope(eventID, ticketType)
	seats, err := redisrepo.GetOrSetJSON(
		ctx,
		s.cache,
		redisrepo.KeySeatMap(eventID, ticketType),
		s.cfg.SeatMapTTL,
		func(ctx context.Context) ([]domain.SeatReservation, error) {
			v, err, _ := s.flights.Do("seatmap:"+scope, func() (any, error) {
				return s.store.Seats.ListScope(ctx, eventID, ticketType)
			})
			if err != nil {
				return nil, err
			}
			return v.([]domain.SeatReservation), nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if offset >= len(seats) {
		return []domain.SeatReservation{}, nil
	}
	end := offset + limit
	if end > len(seats) {
		end = len(seats)
	}
	return seats[offset:end], nil
}
