// Package config loads the runtime configuration from the environment, with
// an optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Store and queue driver names accepted by STORE_DRIVER and QUEUE_DRIVER.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"

	QueueMemory = "memory"
	QueueRabbit = "rabbit"
)

type Config struct {
	Server      ServerConfig
	Store       StoreConfig
	Queue       QueueConfig
	Redis       RedisConfig
	Postgres    PostgresConfig
	Rabbit      RabbitConfig
	Reservation ReservationConfig
	Inventory   InventoryConfig
	Seating     SeatingConfig
	Worker      WorkerConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type StoreConfig struct {
	Driver string
}

type QueueConfig struct {
	Driver string
	// Name is the order-processing queue; Dead receives poison messages.
	Name string
	Dead string
	// DeliveryLimit is the number of deliveries after which a message is
	// dead-lettered.
	DeliveryLimit int
}

type RedisConfig struct {
	// Addr enables Redis when set. The redis store driver requires it; with
	// any other store driver it switches on the read-side cache, the
	// idempotency store and the rate limiter.
	Addr     string
	Password string
	DB       int
	// Namespace prefixes every key the store driver writes.
	Namespace string
}

type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
}

type RabbitConfig struct {
	URL string
}

type ReservationConfig struct {
	// Timeout is how long a created order holds its inventory.
	Timeout time.Duration
	// CheckInterval is the sweeper cadence.
	CheckInterval time.Duration
}

type InventoryConfig struct {
	// OptimisticLockAttempts bounds the retries of a counter mutation.
	OptimisticLockAttempts int
}

type SeatingConfig struct {
	MaxAssignmentAttempts  int
	MaxCandidateIterations int
}

type WorkerConfig struct {
	PollBatchSize     int
	VisibilityTimeout time.Duration
	Parallelism       int
}

// New reads the environment. Every option has a default except the Redis
// address, the Postgres credentials and the RabbitMQ URL, which are required
// only when the matching driver is selected.
func New() (*Config, error) {
	const op = "config.New"

	_ = godotenv.Load()

	serverPort, err := intEnv("SERVER_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	redisDB, err := intEnv("REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	pgPort, err := intEnv("POSTGRES_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	pgMaxConns, err := intEnv("POSTGRES_MAX_CONNS", 0)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	deliveryLimit, err := intEnv("QUEUE_DELIVERY_LIMIT", 3)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	resTimeoutMin, err := intEnv("RESERVATION_TIMEOUT_MINUTES", 10)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	checkIntervalMS, err := intEnv("RESERVATION_CHECK_INTERVAL_MS", 60000)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	lockAttempts, err := intEnv("INVENTORY_OPTIMISTIC_LOCK_ATTEMPTS", 3)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	seatAttempts, err := intEnv("SEAT_MAX_ASSIGNMENT_ATTEMPTS", 3)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	seatIterations, err := intEnv("SEAT_MAX_CANDIDATE_ITERATIONS", 10000)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	pollBatch, err := intEnv("WORKER_POLL_BATCH_SIZE", 10)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	visibilitySec, err := intEnv("WORKER_VISIBILITY_TIMEOUT_SECONDS", 30)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	parallelism, err := intEnv("WORKER_PARALLELISM", 4)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	queueName := strEnv("QUEUE_NAME", "orders.process")

	cfg := &Config{
		Server: ServerConfig{
			Host: strEnv("SERVER_HOST", "localhost"),
			Port: serverPort,
		},
		Store: StoreConfig{
			Driver: strEnv("STORE_DRIVER", StoreMemory),
		},
		Queue: QueueConfig{
			Driver:        strEnv("QUEUE_DRIVER", QueueMemory),
			Name:          queueName,
			Dead:          strEnv("QUEUE_DEAD_NAME", queueName+".dead"),
			DeliveryLimit: deliveryLimit,
		},
		Redis: RedisConfig{
			Addr:      os.Getenv("REDIS_ADDR"),
			Password:  os.Getenv("REDIS_PASSWORD"),
			DB:        redisDB,
			Namespace: strEnv("REDIS_NAMESPACE", "boxoffice"),
		},
		Postgres: PostgresConfig{
			Host:     strEnv("POSTGRES_HOST", "localhost"),
			Port:     pgPort,
			User:     os.Getenv("POSTGRES_USER"),
			Password: os.Getenv("POSTGRES_PASSWORD"),
			Database: os.Getenv("POSTGRES_DB"),
			SSLMode:  strEnv("POSTGRES_SSLMODE", "disable"),
			MaxConns: pgMaxConns,
		},
		Rabbit: RabbitConfig{
			URL: os.Getenv("RABBITMQ_URL"),
		},
		Reservation: ReservationConfig{
			Timeout:       time.Duration(resTimeoutMin) * time.Minute,
			CheckInterval: time.Duration(checkIntervalMS) * time.Millisecond,
		},
		Inventory: InventoryConfig{
			OptimisticLockAttempts: lockAttempts,
		},
		Seating: SeatingConfig{
			MaxAssignmentAttempts:  seatAttempts,
			MaxCandidateIterations: seatIterations,
		},
		Worker: WorkerConfig{
			PollBatchSize:     pollBatch,
			VisibilityTimeout: time.Duration(visibilitySec) * time.Second,
			Parallelism:       parallelism,
		},
	}

	switch cfg.Store.Driver {
	case StoreMemory:
	case StoreRedis:
		if cfg.Redis.Addr == "" {
			return nil, fmt.Errorf("%s: missing REDIS_ADDR", op)
		}
	case StorePostgres:
		if cfg.Postgres.User == "" {
			return nil, fmt.Errorf("%s: missing POSTGRES_USER", op)
		}
		if cfg.Postgres.Password == "" {
			return nil, fmt.Errorf("%s: missing POSTGRES_PASSWORD", op)
		}
		if cfg.Postgres.Database == "" {
			return nil, fmt.Errorf("%s: missing POSTGRES_DB", op)
		}
	default:
		return nil, fmt.Errorf("%s: unknown STORE_DRIVER %q", op, cfg.Store.Driver)
	}

	switch cfg.Queue.Driver {
	case QueueMemory:
	case QueueRabbit:
		if cfg.Rabbit.URL == "" {
			return nil, fmt.Errorf("%s: missing RABBITMQ_URL", op)
		}
	default:
		return nil, fmt.Errorf("%s: unknown QUEUE_DRIVER %q", op, cfg.Queue.Driver)
	}

	return cfg, nil
}

func strEnv(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func intEnv(name string, def int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return n, nil
}
