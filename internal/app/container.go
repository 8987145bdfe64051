// Package app builds the infrastructure of a saga service from its
// configuration and wires the service's consumers onto it.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/config"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/db"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/deadletter"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/events"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/observability"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/reservation"
)

// Container holds the expensive-to-create resources of one service process.
type Container struct {
	Config *config.Config
	Logger *zap.Logger
	Tracer trace.Tracer
	Bus    events.Bus

	// Pool is nil unless STORE=postgres.
	Pool *pgxpool.Pool
	// Redis is nil unless REDIS_ADDR is set.
	Redis redis.UniversalClient

	telemetry *observability.Telemetry
}

func NewContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	c := &Container{Config: cfg, Logger: observability.NewLogger(cfg.Service)}

	var tp trace.TracerProvider = noop.NewTracerProvider()
	if cfg.TelemetryEnabled() {
		tel, err := observability.Setup(ctx, cfg)
		if err != nil {
			c.Logger.Error("failed to setup OpenTelemetry", zap.Error(err))
		}
		c.telemetry = tel
		if tel.TracerProvider != nil {
			tp = tel.TracerProvider
		}
		c.Logger = observability.NewOTelLogger(cfg.Service)
		c.Logger.Info("logger re-initialized with OpenTelemetry bridge")
	}
	c.Tracer = tp.Tracer(cfg.Service)

	bus, err := NewBus(cfg, tp, c.Logger)
	if err != nil {
		c.Shutdown(ctx)
		return nil, err
	}
	c.Bus = bus

	if cfg.Store == config.StorePostgres && cfg.Service != config.OrderService {
		if cfg.RunMigrations {
			if err := db.RunMigrations(cfg.DatabaseDSN, c.Logger); err != nil {
				c.Shutdown(ctx)
				return nil, fmt.Errorf("db migrate: %w", err)
			}
		}
		pool, err := db.NewPool(ctx, cfg.DatabaseDSN)
		if err != nil {
			c.Shutdown(ctx)
			return nil, fmt.Errorf("db connect: %w", err)
		}
		c.Pool = pool
	}

	if cfg.RedisAddr != "" {
		c.Redis = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{cfg.RedisAddr}})
		if err := c.Redis.Ping(ctx).Err(); err != nil {
			c.Shutdown(ctx)
			return nil, fmt.Errorf("redis ping: %w", err)
		}
	}

	return c, nil
}

// NewBus selects the transport named by TRANSPORT.
func NewBus(cfg *config.Config, tp trace.TracerProvider, logger *zap.Logger) (events.Bus, error) {
	switch cfg.Transport {
	case config.TransportKafka:
		return events.NewKafkaBus(events.KafkaConfig{
			Brokers:         cfg.KafkaBrokers,
			Producer:        cfg.Service,
			PartitionBuffer: cfg.PartitionWorkers,
		}, tp, logger)
	case config.TransportRabbitMQ:
		return events.NewRabbitBus(events.RabbitConfig{
			URL:      cfg.RabbitMQURL,
			Producer: cfg.Service,
		}, logger)
	case config.TransportMemory:
		return events.NewMemoryBus(events.MemoryConfig{
			Partitions: cfg.PartitionWorkers,
			Producer:   cfg.Service,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

// Deps returns the consumer dependencies derived from the configuration.
func (c *Container) Deps() Deps {
	return Deps{
		Bus:    c.Bus,
		Logger: c.Logger,
		Tracer: c.Tracer,
		Retry:  RetryPolicy(c.Config),
	}
}

func RetryPolicy(cfg *config.Config) deadletter.Policy {
	return deadletter.Policy{
		InitialInterval: cfg.Retry.InitialInterval,
		Multiplier:      cfg.Retry.Multiplier,
		MaxInterval:     cfg.Retry.MaxInterval,
		MaxAttempts:     cfg.Retry.MaxAttempts,
	}
}

func ConflictPolicy(cfg *config.Config) reservation.ConflictPolicy {
	p := reservation.DefaultConflictPolicy()
	p.MaxRetries = cfg.ConflictMaxRetries
	return p
}

// Shutdown releases everything NewContainer acquired, in reverse order.
func (c *Container) Shutdown(ctx context.Context) {
	c.Logger.Info("shutting down infrastructure")

	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			c.Logger.Error("failed to close redis client", zap.Error(err))
		}
	}
	if c.Pool != nil {
		c.Pool.Close()
	}
	if c.Bus != nil {
		if err := c.Bus.Close(); err != nil {
			c.Logger.Error("failed to close bus", zap.Error(err))
		}
	}
	if c.telemetry != nil {
		if err := c.telemetry.Shutdown(ctx); err != nil {
			c.Logger.Error("failed to shutdown OpenTelemetry", zap.Error(err))
		}
	}

	_ = c.Logger.Sync()
}
