// Package database builds the transaction connection provider selected by
// configuration.
package database

import (
	"fmt"
	"slices"

	"github.com/gaborage/txnest/config"
	"github.com/gaborage/txnest/database/mongodb"
	"github.com/gaborage/txnest/database/mysql"
	"github.com/gaborage/txnest/database/oracle"
	"github.com/gaborage/txnest/database/postgresql"
	"github.com/gaborage/txnest/database/sqlite"
	"github.com/gaborage/txnest/logger"
	"github.com/gaborage/txnest/transaction"
)

// Provider is a connection provider that owns a pool or client.
type Provider interface {
	transaction.ConnectionProvider
	Vendor() string
	Close() error
}

// NewProvider opens the database described by cfg.Database and returns a
// provider applying cfg.Transaction to every physical transaction. The
// driver is selected by cfg.Database.Type. An empty database section yields
// an error for which config.IsNotConfigured reports true.
func NewProvider(cfg *config.Config, log logger.Logger) (Provider, error) {
	if log == nil {
		log = logger.Nop()
	}
	dbCfg, txCfg := &cfg.Database, &cfg.Transaction

	if !config.IsDatabaseConfigured(dbCfg) {
		return nil, config.NewNotConfiguredError("database", "database.type")
	}
	if err := ValidateDatabaseType(dbCfg.Type); err != nil {
		return nil, err
	}

	var (
		p   Provider
		err error
	)
	switch dbCfg.Type {
	case config.PostgreSQL:
		p, err = postgresql.NewProvider(dbCfg, txCfg, log)
	case config.Oracle:
		p, err = oracle.NewProvider(dbCfg, txCfg, log)
	case config.MySQL:
		p, err = mysql.NewProvider(dbCfg, txCfg, log)
	case config.SQLite:
		p, err = sqlite.NewProvider(dbCfg, txCfg, log)
	case config.MongoDB:
		p, err = mongodb.NewProvider(dbCfg, txCfg, log)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ValidateDatabaseType returns nil if dbType is one of the supported database types.
// If dbType is not supported, it returns an error describing the invalid value and listing the supported types.
func ValidateDatabaseType(dbType string) error {
	if !slices.Contains(config.SupportedDatabaseTypes, dbType) {
		return fmt.Errorf("unsupported database type: %s (supported: %v)", dbType, config.SupportedDatabaseTypes)
	}
	return nil
}

// SupportedDatabaseTypes returns a list of supported database types
func SupportedDatabaseTypes() []string {
	return slices.Clone(config.SupportedDatabaseTypes)
}
