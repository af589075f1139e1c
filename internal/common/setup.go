package common

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"lookup-billing-go/internal/audit"
	"lookup-billing-go/internal/billing"
	"lookup-billing-go/internal/database"
	"lookup-billing-go/internal/events"
	"lookup-billing-go/internal/gateway"
	"lookup-billing-go/internal/ledger"
	"lookup-billing-go/internal/lookup"
	"lookup-billing-go/internal/models"
	"lookup-billing-go/internal/provider"
	"lookup-billing-go/internal/store"
	"lookup-billing-go/internal/store/memory"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// init loads environment variables from .env file if it exists
func init() {
	// Try to load .env file - if it doesn't exist, that's okay
	// Environment variables can be set via other means (shell export, docker, etc.)
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
		log.Println("Make sure to set environment variables via export or other means")
	} else {
		log.Println("✓ Loaded environment variables from .env file")
	}
}

type Services struct {
	Store      store.DocumentStore
	Bus        *events.Bus
	Recorder   audit.Recorder
	Ledger     *ledger.Service
	Subscriber *billing.Subscriber
	Providers  *provider.Registry
	Lookups    *lookup.Service
}

// InitializeLogger installs a production zap logger as the global logger.
// LOG_LEVEL overrides the default info level.
func InitializeLogger() (*zap.Logger, func()) {
	zapCfg := zap.NewProductionConfig()
	if raw := os.Getenv("LOG_LEVEL"); raw != "" {
		level, err := zap.ParseAtomicLevel(raw)
		if err != nil {
			log.Printf("Ignoring invalid LOG_LEVEL %q: %v\n", raw, err)
		} else {
			zapCfg.Level = level
		}
	}

	logger, err := zapCfg.Build()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

// InitializeStore opens the configured document store backend.
func InitializeStore(ctx context.Context, cfg *models.Config) (store.DocumentStore, error) {
	switch cfg.Store.Backend {
	case "memory":
		zap.L().Warn("Using in-memory store, nothing will be persisted")
		return memory.New(), nil
	case "sqlite", "":
		return database.NewService(ctx, cfg.Database)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// InitializeLedgerOnly wires the ledger without the event channel or providers.
// Useful for operator tools that read or adjust balances directly.
func InitializeLedgerOnly(ctx context.Context, cfg *models.Config) (*ledger.Service, store.DocumentStore, error) {
	st, err := InitializeStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	recorder := audit.Multi{audit.LogRecorder{}, audit.NewStoreRecorder(st)}
	return ledger.NewService(st, recorder, cfg.Ledger), st, nil
}

func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	st, err := InitializeStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	recorder := audit.Multi{audit.LogRecorder{}, audit.NewStoreRecorder(st)}
	ledgerService := ledger.NewService(st, recorder, cfg.Ledger)

	bus := events.NewBus(cfg.Events.QueueSize)
	subscriber := billing.NewSubscriber(ledgerService)
	if err := subscriber.Register(bus); err != nil {
		bus.Close()
		st.Close()
		return nil, fmt.Errorf("unable to register billing subscriber: %w", err)
	}

	registry, err := InitializeProviders(ctx, cfg.Providers)
	if err != nil {
		bus.Close()
		st.Close()
		return nil, err
	}

	zap.L().Info("Services initialized",
		zap.String("store", cfg.Store.Backend),
		zap.Strings("providers", registry.Names()),
		zap.Int("event_queue_size", cfg.Events.QueueSize))

	return &Services{
		Store:      st,
		Bus:        bus,
		Recorder:   recorder,
		Ledger:     ledgerService,
		Subscriber: subscriber,
		Providers:  registry,
		Lookups:    lookup.NewService(ledgerService, registry, bus),
	}, nil
}

// InitializeProviders builds one gateway adapter per configured provider and
// installs them. A provider that fails to install stays registered but disabled.
func InitializeProviders(ctx context.Context, cfg models.ProvidersConfig) (*provider.Registry, error) {
	registry := provider.NewRegistry()
	prices := gateway.PriceTable(cfg.Prices)

	for _, p := range cfg.Providers {
		fallbacks, err := provider.NewFallbacks(p.Fallbacks, cfg.Fallbacks)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", p.Name, err)
		}

		g, err := gateway.New(p, prices, gateway.WithFallbacks(fallbacks...))
		if err != nil {
			return nil, err
		}
		if err := registry.Register(provider.NewGatewayAdapter(g)); err != nil {
			return nil, err
		}
	}

	if err := registry.InstallAll(ctx); err != nil {
		zap.L().Warn("Some providers failed to install and stay disabled", zap.Error(err))
	}
	return registry, nil
}

// Close drains pending billing events before closing the store they write to.
func (cs *Services) Close() {
	if cs.Bus != nil {
		cs.Bus.Close()
	}
	if cs.Store != nil {
		cs.Store.Close()
	}
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
