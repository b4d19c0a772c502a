package service

import (
	"log/slog"

	"github.com/ticketops/boxoffice/internal/queue"
	boxredis "github.com/ticketops/boxoffice/internal/redis"
	"github.com/ticketops/boxoffice/internal/repository"
	redisrepo "github.com/ticketops/boxoffice/internal/repository/redis"
	"github.com/ticketops/boxoffice/internal/service/admin"
	"github.com/ticketops/boxoffice/internal/service/inventory"
	"github.com/ticketops/boxoffice/internal/service/orders"
	"github.com/ticketops/boxoffice/internal/service/query"
	"github.com/ticketops/boxoffice/internal/service/seating"
	"github.com/ticketops/boxoffice/internal/service/sweeper"
)

type Services struct {
	Admin   *admin.Service
	Query   *query.Service
	Orders  *orders.Service
	Sweeper *sweeper.Sweeper
}

type Config struct {
	Inventory inventory.Config
	Seating   seating.Config
	Orders    orders.Config
	Query     query.Config
	Sweeper   sweeper.Config
}

// NewServices wires the use cases over one repository store and queue. cache
// and pubsub may be nil when Redis is not configured.
func NewServices(
	store *repository.Store,
	q queue.Queue,
	cache *redisrepo.Cache,
	pubsub *boxredis.EventsPubSub,
	logger *slog.Logger,
	cfg Config,
) *Services {
	engine := inventory.New(store, cfg.Inventory)
	assigner := seating.New(store, cfg.Seating)

	return &Services{
		Admin:   admin.New(store, cache, pubsub),
		Query:   query.New(store, cache, cfg.Query),
		Orders:  orders.New(store, engine, assigner, q, logger, cfg.Orders),
		Sweeper: sweeper.New(store, engine, logger, cfg.Sweeper),
	}
}
