//go:build integration

package containers

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/gaborage/txnest/config"
)

// MySQLContainerConfig configures the MySQL test container.
type MySQLContainerConfig struct {
	ImageTag       string
	Username       string
	Password       string
	Database       string
	StartupTimeout time.Duration
}

// DefaultMySQLConfig returns an 8.4 image with testuser/testpass on testdb.
func DefaultMySQLConfig() *MySQLContainerConfig {
	return &MySQLContainerConfig{
		ImageTag:       "8.4",
		Username:       "testuser",
		Password:       "testpass",
		Database:       "testdb",
		StartupTimeout: 90 * time.Second,
	}
}

// MySQLContainer is a running MySQL server.
type MySQLContainer struct {
	host string
	port int
	cfg  *MySQLContainerConfig
}

// MustStartMySQLContainer starts MySQL or fails the test. A nil cfg selects
// DefaultMySQLConfig.
func MustStartMySQLContainer(ctx context.Context, t *testing.T, cfg *MySQLContainerConfig) *MySQLContainer {
	t.Helper()
	if cfg == nil {
		cfg = DefaultMySQLConfig()
	}

	c, host := startGeneric(ctx, t, "MySQL", testcontainers.ContainerRequest{
		Image:        fmt.Sprintf("mysql:%s", cfg.ImageTag),
		ExposedPorts: []string{"3306/tcp"},
		Env: map[string]string{
			"MYSQL_ROOT_PASSWORD": cfg.Password,
			"MYSQL_DATABASE":      cfg.Database,
			"MYSQL_USER":          cfg.Username,
			"MYSQL_PASSWORD":      cfg.Password,
		},
		// the entrypoint starts a temporary server first, so the final
		// "ready" line is the second one
		WaitingFor: wait.ForAll(
			wait.ForLog("ready for connections").WithOccurrence(2),
			wait.ForListeningPort("3306/tcp"),
		).WithStartupTimeout(cfg.StartupTimeout),
	})

	port, err := c.MappedPort(ctx, "3306")
	if err != nil {
		t.Fatalf("Failed to get MySQL container port: %v", err)
	}
	t.Logf("MySQL container started at %s:%d (database: %s)", host, port.Int(), cfg.Database)

	return &MySQLContainer{host: host, port: port.Int(), cfg: cfg}
}

// DatabaseConfig returns a database section pointing at the container.
func (m *MySQLContainer) DatabaseConfig() *config.DatabaseConfig {
	return &config.DatabaseConfig{
		Type:     config.MySQL,
		Host:     m.host,
		Port:     m.port,
		Database: m.cfg.Database,
		Username: m.cfg.Username,
		Password: m.cfg.Password,
		Pool: config.PoolConfig{
			Max:  config.PoolMaxConfig{Connections: 5},
			Idle: config.PoolIdleConfig{Connections: 1},
		},
	}
}
