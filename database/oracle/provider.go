// Package oracle opens Oracle databases through the pure-Go go-ora driver and
// exposes them as transaction connection providers.
package oracle

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	go_ora "github.com/sijms/go-ora/v2"

	"github.com/gaborage/txnest/config"
	"github.com/gaborage/txnest/database/sqlconn"
	"github.com/gaborage/txnest/logger"
)

const pingTimeout = 10 * time.Second

var (
	openOracleDB = func(dsn string) (*sql.DB, error) {
		return sql.Open("oracle", dsn)
	}
	pingOracleDB = func(ctx context.Context, db *sql.DB) error {
		return db.PingContext(ctx)
	}
)

// BuildDSN returns cfg.ConnectionString when set. Otherwise it builds an
// oracle:// URL addressing the service name, the SID, or the database name,
// in that order of preference.
func BuildDSN(cfg *config.DatabaseConfig) string {
	if cfg.ConnectionString != "" {
		return cfg.ConnectionString
	}

	svc := cfg.Oracle.Service
	switch {
	case svc.Name != "":
		return go_ora.BuildUrl(cfg.Host, cfg.Port, svc.Name, cfg.Username, cfg.Password, nil)
	case svc.SID != "":
		return go_ora.BuildUrl(cfg.Host, cfg.Port, "", cfg.Username, cfg.Password, map[string]string{"SID": svc.SID})
	default:
		return go_ora.BuildUrl(cfg.Host, cfg.Port, cfg.Database, cfg.Username, cfg.Password, nil)
	}
}

// NewProvider opens and pings an Oracle database and wraps it in a sqlconn.Provider.
func NewProvider(dbCfg *config.DatabaseConfig, txCfg *config.TransactionConfig, log logger.Logger) (*sqlconn.Provider, error) {
	db, err := openOracleDB(BuildDSN(dbCfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open Oracle connection: %w", err)
	}

	provider, err := sqlconn.FromConfig(db, config.Oracle, &dbCfg.Pool, txCfg, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := pingOracleDB(ctx, db); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			log.Error().Err(closeErr).Msg("Failed to close Oracle database connection after ping failure")
		}
		return nil, fmt.Errorf("failed to ping Oracle database: %w", err)
	}

	ev := log.Info().
		Str("host", dbCfg.Host).
		Int("port", dbCfg.Port)
	switch {
	case dbCfg.Oracle.Service.Name != "":
		ev = ev.Str("service_name", dbCfg.Oracle.Service.Name)
	case dbCfg.Oracle.Service.SID != "":
		ev = ev.Str("sid", dbCfg.Oracle.Service.SID)
	default:
		ev = ev.Str("database", dbCfg.Database)
	}
	ev.Msg("Connected to Oracle database")

	return provider, nil
}
