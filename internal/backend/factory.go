package backend

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ricorrenti/internal/accounts"
	"ricorrenti/internal/ports"
	"ricorrenti/internal/storage"
	"ricorrenti/internal/storage/memory"
	"ricorrenti/internal/storage/mongostore"
)

const mongoConnectTimeout = 10 * time.Second

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{
		logger: logger,
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case SQLiteBackend:
		return f.createSQLiteBackend(ctx, config)
	case MongoBackend:
		return f.createMongoBackend(ctx, config)
	case MemoryBackend:
		return f.createMemoryBackend(config)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createSQLiteBackend(ctx context.Context, config Config) (*BackendResult, error) {
	repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}

	if config.AccountsSeedFile != "" {
		seeded, err := seedAccounts(ctx, repo, config.AccountsSeedFile)
		if err != nil {
			repo.Close()
			return nil, err
		}
		f.logger.Info("Seeded local accounts", "count", seeded, "file", config.AccountsSeedFile)
	}

	f.logger.Info("Initialized SQLite backend",
		"db_path", config.SQLiteDBPath,
		"remote_accounts", config.AccountServiceURL != "")

	return &BackendResult{
		Backend: &Backend{
			Schedules:    repo,
			Transactions: repo,
			Balances:     f.balances(config, repo),
			Exports:      repo,
			Ready:        repo.Ping,
		},
		Cleanup: repo.Close,
	}, nil
}

func (f *DefaultFactory) createMongoBackend(ctx context.Context, config Config) (*BackendResult, error) {
	connectCtx, cancel := context.WithTimeout(ctx, mongoConnectTimeout)
	defer cancel()

	client, err := mongostore.Connect(connectCtx, config.MongoURI)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MongoDB backend: %w", err)
	}
	db := client.Database(config.MongoDatabase)
	if err := mongostore.EnsureIndexes(connectCtx, db); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	store := mongostore.NewFromDatabase(db)

	f.logger.Info("Initialized MongoDB backend", "database", config.MongoDatabase)

	return &BackendResult{
		Backend: &Backend{
			Schedules:    store,
			Transactions: store,
			Balances:     f.balances(config, nil),
			Exports:      store,
			Ready: func(ctx context.Context) error {
				return client.Ping(ctx, nil)
			},
		},
		Cleanup: func() error {
			ctx, cancel := context.WithTimeout(context.Background(), mongoConnectTimeout)
			defer cancel()
			return client.Disconnect(ctx)
		},
	}, nil
}

func (f *DefaultFactory) createMemoryBackend(config Config) (*BackendResult, error) {
	store, err := memory.NewFromFile(config.AccountsSeedFile)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize memory backend: %w", err)
	}

	f.logger.Info("Initialized memory backend", "accounts_seed", config.AccountsSeedFile)

	return &BackendResult{
		Backend: &Backend{
			Schedules:    store,
			Transactions: store,
			Balances:     f.balances(config, store),
			Exports:      store,
			Ready:        func(context.Context) error { return nil },
		},
		Cleanup: nil, // No cleanup needed for memory backend
	}, nil
}

// balances prefers the remote account service over the local store.
func (f *DefaultFactory) balances(config Config, local ports.BalanceGateway) ports.BalanceGateway {
	if config.AccountServiceURL != "" {
		f.logger.Info("Using remote account service", "url", config.AccountServiceURL)
		return accounts.NewClient(config.AccountServiceURL, nil)
	}
	return local
}

func seedAccounts(ctx context.Context, repo *storage.SQLiteRepository, path string) (int, error) {
	accts, err := memory.ReadAccountSeed(path)
	if err != nil {
		return 0, fmt.Errorf("read accounts seed: %w", err)
	}
	for _, a := range accts {
		if err := repo.SaveAccount(ctx, a); err != nil {
			return 0, fmt.Errorf("seed account %s: %w", a.ID, err)
		}
	}
	return len(accts), nil
}
