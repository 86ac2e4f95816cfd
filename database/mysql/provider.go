// Package mysql opens MySQL databases through go-sql-driver/mysql and exposes
// them as transaction connection providers.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"time"

	driver "github.com/go-sql-driver/mysql"

	"github.com/gaborage/txnest/config"
	"github.com/gaborage/txnest/database/sqlconn"
	"github.com/gaborage/txnest/logger"
)

const pingTimeout = 10 * time.Second

var (
	openMySQLDB = func(dsn string) (*sql.DB, error) {
		return sql.Open("mysql", dsn)
	}
	pingMySQLDB = func(ctx context.Context, db *sql.DB) error {
		return db.PingContext(ctx)
	}
)

// BuildDSN returns cfg.ConnectionString when set, otherwise a driver DSN with
// parseTime enabled so DATETIME columns scan into time.Time.
func BuildDSN(cfg *config.DatabaseConfig) string {
	if cfg.ConnectionString != "" {
		return cfg.ConnectionString
	}

	dc := driver.NewConfig()
	dc.User = cfg.Username
	dc.Passwd = cfg.Password
	dc.Net = "tcp"
	dc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	dc.DBName = cfg.Database
	dc.ParseTime = true
	return dc.FormatDSN()
}

// NewProvider opens and pings a MySQL database and wraps it in a sqlconn.Provider.
func NewProvider(dbCfg *config.DatabaseConfig, txCfg *config.TransactionConfig, log logger.Logger) (*sqlconn.Provider, error) {
	dsn := BuildDSN(dbCfg)
	parsed, err := driver.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse MySQL DSN: %w", err)
	}

	db, err := openMySQLDB(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	provider, err := sqlconn.FromConfig(db, config.MySQL, &dbCfg.Pool, txCfg, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := pingMySQLDB(ctx, db); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			log.Error().Err(closeErr).Msg("Failed to close MySQL database connection after ping failure")
		}
		return nil, fmt.Errorf("failed to ping MySQL database: %w", err)
	}

	log.Info().
		Str("addr", parsed.Addr).
		Str("database", parsed.DBName).
		Msg("Connected to MySQL database")
	return provider, nil
}
