// Package backend assembles the stores a deployment runs on from its
// DATA_BACKEND setting.
package backend

import (
	"context"

	"ricorrenti/internal/ports"
)

// Backend bundles the stores one deployment runs on.
type Backend struct {
	Schedules    ports.ScheduleStore
	Transactions ports.TransactionStore
	Balances     ports.BalanceGateway
	// Exports is nil when the backend cannot track ledger exports.
	Exports ports.ExportQueue
	// Ready reports whether the underlying database is reachable.
	Ready func(ctx context.Context) error
}

type CleanupFunc func() error

// BackendResult pairs a backend with the function releasing its
// connections.
type BackendResult struct {
	Backend *Backend
	Cleanup CleanupFunc
}

// Close runs the cleanup function if there is one.
func (r *BackendResult) Close() error {
	if r == nil || r.Cleanup == nil {
		return nil
	}
	return r.Cleanup()
}

type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

type Config struct {
	Type BackendType

	SQLiteDBPath string

	MongoURI      string
	MongoDatabase string

	// AccountServiceURL selects the remote balance gateway. When empty,
	// balances live in the backend itself.
	AccountServiceURL string
	// AccountsSeedFile is loaded into a local balance store at startup.
	AccountsSeedFile string
}

type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MongoBackend  BackendType = "mongo"
	MemoryBackend BackendType = "memory"
)

func (bt BackendType) String() string {
	return string(bt)
}

func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MongoBackend, MemoryBackend:
		return true
	}
	return false
}
