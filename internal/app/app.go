// Package app wires the configured drivers into the services and supervises
// the HTTP server, the async order worker and the reservation sweeper as one
// group with shared shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/ticketops/boxoffice/internal/config"
	"github.com/ticketops/boxoffice/internal/kv"
	kvmemory "github.com/ticketops/boxoffice/internal/kv/memory"
	kvpostgres "github.com/ticketops/boxoffice/internal/kv/postgres"
	kvredis "github.com/ticketops/boxoffice/internal/kv/redis"
	"github.com/ticketops/boxoffice/internal/postgres"
	"github.com/ticketops/boxoffice/internal/queue"
	qmemory "github.com/ticketops/boxoffice/internal/queue/memory"
	qrabbit "github.com/ticketops/boxoffice/internal/queue/rabbit"
	"github.com/ticketops/boxoffice/internal/rabbit"
	boxredis "github.com/ticketops/boxoffice/internal/redis"
	"github.com/ticketops/boxoffice/internal/repository"
	redisrepo "github.com/ticketops/boxoffice/internal/repository/redis"
	"github.com/ticketops/boxoffice/internal/service"
	"github.com/ticketops/boxoffice/internal/service/inventory"
	"github.com/ticketops/boxoffice/internal/service/orders"
	"github.com/ticketops/boxoffice/internal/service/query"
	"github.com/ticketops/boxoffice/internal/service/seating"
	"github.com/ticketops/boxoffice/internal/service/sweeper"
	httpgin "github.com/ticketops/boxoffice/internal/transport/http/gin"
	"github.com/ticketops/boxoffice/internal/worker"
)

// Rate limit on order creation, per client IP.
const (
	orderRateLimit  = 10
	orderRateWindow = time.Minute
)

type closer struct {
	name  string
	close func() error
}

type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	httpServer *http.Server
	worker     *worker.Worker
	sweeper    *sweeper.Sweeper
	cache      *redisrepo.Cache
	pubsub     *boxredis.EventsPubSub
	rdb        *goredis.Client

	// closers release external connections in reverse construction order.
	closers []closer
}

// New connects the configured store and queue drivers and assembles the
// services, the worker and the HTTP server around them.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx := context.Background()
	a := &App{cfg: cfg, logger: logger}

	// Redis carries the kv store when selected as the driver and the
	// read-side helpers (cache, idempotency, rate limit, change feed)
	// whenever an address is configured.
	if cfg.Redis.Addr != "" {
		rdb, err := boxredis.New(ctx, boxredis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, fmt.Errorf("app: redis: %w", err)
		}
		a.rdb = rdb
		a.closers = append(a.closers, closer{"redis", rdb.Close})
	}

	kvStore, err := a.openStore(ctx)
	if err != nil {
		a.closeAll()
		return nil, err
	}

	q, err := a.openQueue()
	if err != nil {
		a.closeAll()
		return nil, err
	}

	var (
		idem    *redisrepo.IdempotencyStore
		limiter *redisrepo.SlidingWindowLimiter
	)
	if a.rdb != nil {
		a.cache = redisrepo.New(a.rdb)
		a.pubsub = boxredis.NewEventsPubSub(a.rdb)
		idem = redisrepo.NewIdempotencyStore(a.rdb, 2*time.Hour)
		limiter = redisrepo.NewSlidingWindowLimiter(a.rdb, redisrepo.RateLimitPrefix(), orderRateLimit, orderRateWindow)
	}

	store := repository.New(kvStore)
	svcs := service.NewServices(store, q, a.cache, a.pubsub, logger, service.Config{
		Inventory: inventory.Config{
			MaxAttempts: cfg.Inventory.OptimisticLockAttempts,
		},
		Seating: seating.Config{
			MaxAttempts:            cfg.Seating.MaxAssignmentAttempts,
			MaxCandidateIterations: cfg.Seating.MaxCandidateIterations,
		},
		Orders: orders.Config{
			ReservationTTL: cfg.Reservation.Timeout,
		},
		Query: query.Config{},
		Sweeper: sweeper.Config{
			Interval: cfg.Reservation.CheckInterval,
		},
	})

	a.worker = worker.New(q, svcs.Orders, logger, worker.Config{
		PollBatchSize: cfg.Worker.PollBatchSize,
		Parallelism:   cfg.Worker.Parallelism,
	})
	a.sweeper = svcs.Sweeper

	router := httpgin.NewRouter(svcs, idem, limiter, logger)
	a.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	return a, nil
}

func (a *App) openStore(ctx context.Context) (kv.Store, error) {
	tables := repository.Tables()

	switch a.cfg.Store.Driver {
	case config.StoreMemory:
		return kvmemory.New(tables), nil

	case config.StoreRedis:
		return kvredis.New(a.rdb, a.cfg.Redis.Namespace, tables), nil

	case config.StorePostgres:
		pool, err := postgres.New(ctx, postgres.Config{
			Host:     a.cfg.Postgres.Host,
			Port:     a.cfg.Postgres.Port,
			User:     a.cfg.Postgres.User,
			Password: a.cfg.Postgres.Password,
			Database: a.cfg.Postgres.Database,
			SSLMode:  a.cfg.Postgres.SSLMode,
			MaxConns: int32(a.cfg.Postgres.MaxConns),
		})
		if err != nil {
			return nil, fmt.Errorf("app: postgres: %w", err)
		}
		a.closers = append(a.closers, closer{"postgres", func() error {
			pool.Close()
			return nil
		}})

		pg := kvpostgres.New(pool, tables)
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("app: postgres schema: %w", err)
		}
		return pg, nil

	default:
		return nil, fmt.Errorf("app: unknown store driver %q", a.cfg.Store.Driver)
	}
}

func (a *App) openQueue() (queue.Queue, error) {
	switch a.cfg.Queue.Driver {
	case config.QueueMemory:
		return qmemory.New(a.cfg.Worker.VisibilityTimeout, a.cfg.Queue.DeliveryLimit), nil

	case config.QueueRabbit:
		conn, err := rabbit.New(rabbit.Config{URL: a.cfg.Rabbit.URL})
		if err != nil {
			return nil, fmt.Errorf("app: rabbitmq: %w", err)
		}
		a.closers = append(a.closers, closer{"rabbitmq", conn.Close})

		q, err := qrabbit.New(conn, qrabbit.Config{
			Queue:         a.cfg.Queue.Name,
			Dead:          a.cfg.Queue.Dead,
			DeliveryLimit: a.cfg.Queue.DeliveryLimit,
			Prefetch:      a.cfg.Worker.PollBatchSize,
		})
		if err != nil {
			return nil, fmt.Errorf("app: rabbitmq queue: %w", err)
		}
		a.closers = append(a.closers, closer{"rabbitmq channels", q.Close})
		return q, nil

	default:
		return nil, fmt.Errorf("app: unknown queue driver %q", a.cfg.Queue.Driver)
	}
}

// Run serves until ctx is done or a component fails, then shuts everything
// down and releases the external connections.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	defer a.closeAll()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("HTTP server listening", "host", a.cfg.Server.Host, "port", a.cfg.Server.Port)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		a.logger.Info("order worker started")
		return a.worker.Run(gCtx)
	})

	g.Go(func() error {
		a.logger.Info("reservation sweeper started", "interval", a.cfg.Reservation.CheckInterval)
		return a.sweeper.Run(gCtx)
	})

	// Cross-instance cache invalidation rides the Redis change feed.
	if a.pubsub != nil {
		g.Go(func() error {
			err := a.pubsub.Subscribe(gCtx, func(ctx context.Context, eventID string) {
				_ = a.cache.InvalidateEvent(ctx, eventID)
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	// Graceful shutdown
	g.Go(func() error {
		<-gCtx.Done()
		a.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].close(); err != nil {
			a.logger.Warn("close failed", "component", a.closers[i].name, "error", err)
		}
	}
	a.closers = nil
}
