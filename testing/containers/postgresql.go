//go:build integration

package containers

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/gaborage/txnest/config"
)

// PostgreSQLContainerConfig holds configuration for the PostgreSQL test container.
type PostgreSQLContainerConfig struct {
	ImageTag       string
	Username       string
	Password       string
	Database       string
	StartupTimeout time.Duration
}

// DefaultPostgreSQLConfig returns a 17-alpine image with testuser/testpass on testdb.
func DefaultPostgreSQLConfig() *PostgreSQLContainerConfig {
	return &PostgreSQLContainerConfig{
		ImageTag:       "17-alpine",
		Username:       "testuser",
		Password:       "testpass",
		Database:       "testdb",
		StartupTimeout: 60 * time.Second,
	}
}

// PostgreSQLContainer is a running PostgreSQL server.
type PostgreSQLContainer struct {
	container *postgres.PostgresContainer
	connStr   string
	cfg       *PostgreSQLContainerConfig
}

// MustStartPostgreSQLContainer starts PostgreSQL, fails the test on error and
// terminates the container when the test finishes. A nil cfg selects
// DefaultPostgreSQLConfig.
func MustStartPostgreSQLContainer(ctx context.Context, t *testing.T, cfg *PostgreSQLContainerConfig) *PostgreSQLContainer {
	t.Helper()
	skipWithoutDocker(ctx, t)

	if cfg == nil {
		cfg = DefaultPostgreSQLConfig()
	}

	pg, err := postgres.Run(ctx,
		fmt.Sprintf("postgres:%s", cfg.ImageTag),
		postgres.WithDatabase(cfg.Database),
		postgres.WithUsername(cfg.Username),
		postgres.WithPassword(cfg.Password),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2). // Postgres restarts after initial setup
				WithStartupTimeout(cfg.StartupTimeout),
		),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	terminateOnCleanup(t, "PostgreSQL", pg)

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get PostgreSQL connection string: %v", err)
	}
	t.Logf("PostgreSQL container started at %s", redactConnectionString(connStr))

	return &PostgreSQLContainer{container: pg, connStr: connStr, cfg: cfg}
}

func (p *PostgreSQLContainer) ConnectionString() string {
	return p.connStr
}

// DatabaseConfig returns a database section pointing at the container.
func (p *PostgreSQLContainer) DatabaseConfig() *config.DatabaseConfig {
	return &config.DatabaseConfig{
		Type:             config.PostgreSQL,
		Database:         p.cfg.Database,
		Username:         p.cfg.Username,
		ConnectionString: p.connStr,
		Pool: config.PoolConfig{
			Max:  config.PoolMaxConfig{Connections: 5},
			Idle: config.PoolIdleConfig{Connections: 1},
		},
	}
}
