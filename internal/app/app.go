// Package app builds the resolver and its collaborators from configuration.
package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"identityrecon/internal/config"
	"identityrecon/internal/database"
	"identityrecon/internal/events"
	"identityrecon/internal/lock"
	"identityrecon/internal/metrics"
	"identityrecon/internal/service"
	"identityrecon/internal/storage"
)

// App holds the wired resolver and everything that must be closed with it.
type App struct {
	Store     storage.Store
	Service   *service.ReconciliationService
	Registry  *prometheus.Registry
	publisher events.Publisher
	closers   []func() error
}

// OpenStore opens the contact store selected by cfg.
func OpenStore(cfg config.StoreConfig, log logrus.FieldLogger) (storage.Store, error) {
	switch cfg.Driver {
	case "sqlite3":
		db, err := database.New(database.DialectSQLite, cfg.DSN, log)
		if err != nil {
			return nil, err
		}
		return database.NewContactStore(db), nil
	case "postgres":
		db, err := database.New(database.DialectPostgres, cfg.DSN, log)
		if err != nil {
			return nil, err
		}
		return database.NewContactStore(db), nil
	case "file":
		fs, err := storage.NewFileStore(cfg.DSN)
		if err != nil {
			return nil, err
		}
		return fs, nil
	case "memory":
		return storage.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// New wires store, locker, publisher and metrics into a ReconciliationService.
func New(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*App, error) {
	store, err := OpenStore(cfg.Store, log)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a := &App{Store: store, Registry: prometheus.NewRegistry()}
	a.closers = append(a.closers, store.Close)

	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.Lock.Backend == "redis" {
		rl, err := lock.Dial(ctx, cfg.Lock.RedisURL, cfg.Lock.TTL, cfg.Lock.PollInterval, log)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect redis lock: %w", err)
		}
		locker = rl
		a.closers = append(a.closers, rl.Close)
	}

	if len(cfg.Events.KafkaBrokers) > 0 {
		a.publisher = events.NewKafkaPublisher(cfg.Events.KafkaBrokers, cfg.Events.Topic, log)
	} else {
		a.publisher = events.NewLogPublisher(log)
	}
	a.closers = append(a.closers, a.publisher.Close)

	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(a.Registry)

	svc, err := service.NewReconciliationService(store,
		service.WithLocker(locker),
		service.WithPublisher(a.publisher),
		service.WithMetrics(m),
		service.WithLogger(log),
		service.WithMaxAttempts(cfg.Resolver.MaxAttempts),
		service.WithTimeout(cfg.Resolver.Timeout),
		service.WithPublishTimeout(cfg.Events.PublishTimeout),
	)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Service = svc

	log.WithFields(logrus.Fields{
		"store":  cfg.Store.Driver,
		"lock":   cfg.Lock.Backend,
		"events": len(cfg.Events.KafkaBrokers) > 0,
	}).Info("Resolver wired")
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
