package backend

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ricorrenti/internal/accounts"
	"ricorrenti/internal/config"
	"ricorrenti/internal/core"
)

func writeSeed(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "accounts.csv")
	if err := os.WriteFile(path, []byte("# id,balance,minimum\nacc-1,250.00\nacc-2,10.00,-50.00\n"), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCreateBackend_Memory(t *testing.T) {
	ctx := context.Background()
	res, err := NewFactory(nil).CreateBackend(ctx, Config{Type: MemoryBackend, AccountsSeedFile: writeSeed(t)})
	if err != nil {
		t.Fatalf("CreateBackend() error = %v", err)
	}
	defer res.Close()

	b := res.Backend
	if b.Schedules == nil || b.Transactions == nil || b.Balances == nil || b.Exports == nil {
		t.Fatalf("backend has nil stores: %+v", b)
	}
	if err := b.Ready(ctx); err != nil {
		t.Errorf("Ready() error = %v", err)
	}
	bal, err := b.Balances.Balance(ctx, "acc-1")
	if err != nil {
		t.Fatal(err)
	}
	if bal.Cents() != 25000 {
		t.Errorf("seeded balance = %s, want 250.00", bal)
	}
}

func TestCreateBackend_SQLite(t *testing.T) {
	ctx := context.Background()
	cfg := Config{
		Type:             SQLiteBackend,
		SQLiteDBPath:     filepath.Join(t.TempDir(), "db", "ricorrenti.db"),
		AccountsSeedFile: writeSeed(t),
	}
	res, err := NewFactory(nil).CreateBackend(ctx, cfg)
	if err != nil {
		t.Fatalf("CreateBackend() error = %v", err)
	}
	defer res.Close()

	if err := res.Backend.Ready(ctx); err != nil {
		t.Errorf("Ready() error = %v", err)
	}
	bal, err := res.Backend.Balances.Balance(ctx, "acc-2")
	if err != nil {
		t.Fatal(err)
	}
	if bal.Cents() != 1000 {
		t.Errorf("seeded balance = %s, want 10.00", bal)
	}
	if _, err := res.Backend.Schedules.Get(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestCreateBackend_RemoteAccounts(t *testing.T) {
	res, err := NewFactory(nil).CreateBackend(context.Background(), Config{
		Type:              MemoryBackend,
		AccountServiceURL: "http://accounts.internal",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := res.Backend.Balances.(*accounts.Client); !ok {
		t.Errorf("Balances = %T, want *accounts.Client", res.Backend.Balances)
	}
}

func TestCreateBackend_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"unknown type", Config{Type: "sheets"}},
		{"sqlite without path", Config{Type: SQLiteBackend}},
		{"mongo without account service", Config{Type: MongoBackend, MongoURI: "mongodb://localhost", MongoDatabase: "r"}},
		{"missing seed file", Config{Type: MemoryBackend, AccountsSeedFile: "/non/existent.csv"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewFactory(nil).CreateBackend(context.Background(), tt.cfg); err == nil {
				t.Error("CreateBackend() error = nil")
			}
		})
	}
}

func TestFromAppConfig(t *testing.T) {
	if _, err := FromAppConfig(nil); err == nil {
		t.Error("FromAppConfig(nil) should fail")
	}

	app := &config.Config{
		DataBackend:       "mongo",
		MongoURI:          "mongodb://db:27017",
		MongoDatabase:     "ricorrenti",
		AccountServiceURL: "http://accounts",
	}
	cfg, err := FromAppConfig(app)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Type != MongoBackend || cfg.MongoURI != app.MongoURI || cfg.AccountServiceURL != app.AccountServiceURL {
		t.Errorf("FromAppConfig() = %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}

	app.DataBackend = "sheets"
	if _, err := FromAppConfig(app); err == nil {
		t.Error("FromAppConfig() should reject unknown backends")
	}
}

func TestValidateListsMissingSettings(t *testing.T) {
	err := Config{Type: MongoBackend}.Validate()
	if !errors.Is(err, ErrInvalidBackend) {
		t.Fatalf("Validate() error = %v, want ErrInvalidBackend", err)
	}
	for _, name := range []string{"MONGO_URI", "MONGO_DATABASE", "ACCOUNT_SERVICE_URL"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("Validate() error %q does not mention %s", err, name)
		}
	}

	err = Config{Type: "sheets"}.Validate()
	if err == nil || !strings.Contains(err.Error(), "sqlite, mongo, memory") {
		t.Errorf("Validate() error = %v, want the supported backends listed", err)
	}
	if got := BackendTypes(); len(got) != 3 || got[0] != SQLiteBackend {
		t.Errorf("BackendTypes() = %v", got)
	}
}
