// Package sqlite opens SQLite databases through the pure-Go modernc.org/sqlite
// driver and exposes them as transaction connection providers.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/gaborage/txnest/config"
	"github.com/gaborage/txnest/database/sqlconn"
	"github.com/gaborage/txnest/logger"
)

const (
	driverName = "sqlite"
	memoryDSN  = ":memory:"
	busyMillis = 5000
)

var openSQLiteDB = func(dsn string) (*sql.DB, error) {
	return sql.Open(driverName, dsn)
}

// BuildDSN returns a file: URI for path with a busy timeout and WAL journaling,
// and immediate write locks on BEGIN. An empty path selects a private
// in-memory database.
func BuildDSN(path string) string {
	if path == "" {
		return memoryDSN
	}
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyMillis))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Set("_txlock", "immediate")
	return "file:" + path + "?" + q.Encode()
}

// NewProvider opens the SQLite database named by dbCfg.SQLite.Path, or
// dbCfg.ConnectionString when set.
//
// An in-memory database lives only as long as its connection, so the pool is
// pinned to a single connection that is never recycled. Statements issued
// outside a transaction wait for that connection.
func NewProvider(dbCfg *config.DatabaseConfig, txCfg *config.TransactionConfig, log logger.Logger) (*sqlconn.Provider, error) {
	dsn := dbCfg.ConnectionString
	if dsn == "" {
		dsn = BuildDSN(dbCfg.SQLite.Path)
	}

	db, err := openSQLiteDB(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	provider, err := sqlconn.FromConfig(db, config.SQLite, &dbCfg.Pool, txCfg, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	inMemory := dsn == memoryDSN
	if inMemory {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxIdleTime(0)
		db.SetConnMaxLifetime(0)
	}

	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	log.Info().
		Str("path", dbCfg.SQLite.Path).
		Bool("in_memory", inMemory).
		Msg("Opened SQLite database")
	return provider, nil
}
