package backend

import (
	"errors"
	"fmt"
	"strings"

	"ricorrenti/internal/config"
)

// ErrInvalidBackend is returned for an unknown or incomplete backend config.
var ErrInvalidBackend = errors.New("invalid backend config")

var backendTypes = []BackendType{SQLiteBackend, MongoBackend, MemoryBackend}

// BackendTypes lists the supported backends in preference order.
func BackendTypes() []BackendType {
	return append([]BackendType(nil), backendTypes...)
}

func unknownBackend(name string) error {
	names := make([]string, len(backendTypes))
	for i, t := range backendTypes {
		names[i] = t.String()
	}
	return fmt.Errorf("%w: unknown backend %q (want one of %s)", ErrInvalidBackend, name, strings.Join(names, ", "))
}

// FromAppConfig picks the backend settings out of the application config.
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("%w: app config is nil", ErrInvalidBackend)
	}
	bt := BackendType(appConfig.DataBackend)
	if !bt.IsValid() {
		return Config{}, unknownBackend(appConfig.DataBackend)
	}
	return Config{
		Type:              bt,
		SQLiteDBPath:      appConfig.SQLiteDBPath,
		MongoURI:          appConfig.MongoURI,
		MongoDatabase:     appConfig.MongoDatabase,
		AccountServiceURL: appConfig.AccountServiceURL,
		AccountsSeedFile:  appConfig.AccountsSeedFile,
	}, nil
}

// Validate reports every setting the chosen backend is missing.
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return unknownBackend(c.Type.String())
	}

	var missing []string
	switch c.Type {
	case SQLiteBackend:
		if c.SQLiteDBPath == "" {
			missing = append(missing, "SQLITE_DB_PATH")
		}
	case MongoBackend:
		if c.MongoURI == "" {
			missing = append(missing, "MONGO_URI")
		}
		if c.MongoDatabase == "" {
			missing = append(missing, "MONGO_DATABASE")
		}
		// Mongo keeps no balances of its own.
		if c.AccountServiceURL == "" {
			missing = append(missing, "ACCOUNT_SERVICE_URL")
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s backend requires %s", ErrInvalidBackend, c.Type, strings.Join(missing, ", "))
	}
	return nil
}
