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

// OracleContainerConfig configures the Oracle Free test container. AppUser
// is created by the image with Password.
type OracleContainerConfig struct {
	ImageTag       string
	Password       string
	Service        string
	AppUser        string
	StartupTimeout time.Duration
}

// DefaultOracleConfig returns gvenzl/oracle-free 23-slim serving FREEPDB1.
// Oracle is slow to initialize, hence the long timeout.
func DefaultOracleConfig() *OracleContainerConfig {
	return &OracleContainerConfig{
		ImageTag:       "23-slim",
		Password:       "testpass",
		Service:        "FREEPDB1",
		AppUser:        "testuser",
		StartupTimeout: 3 * time.Minute,
	}
}

// OracleContainer is a running Oracle database.
type OracleContainer struct {
	host string
	port int
	cfg  *OracleContainerConfig
}

// MustStartOracleContainer starts Oracle or fails the test. A nil cfg
// selects DefaultOracleConfig.
func MustStartOracleContainer(ctx context.Context, t *testing.T, cfg *OracleContainerConfig) *OracleContainer {
	t.Helper()
	if cfg == nil {
		cfg = DefaultOracleConfig()
	}

	c, host := startGeneric(ctx, t, "Oracle", testcontainers.ContainerRequest{
		Image:        fmt.Sprintf("gvenzl/oracle-free:%s", cfg.ImageTag),
		ExposedPorts: []string{"1521/tcp"},
		Env: map[string]string{
			"ORACLE_PASSWORD":   cfg.Password,
			"APP_USER":          cfg.AppUser,
			"APP_USER_PASSWORD": cfg.Password,
		},
		WaitingFor: wait.ForAll(
			wait.ForLog("DATABASE IS READY TO USE!"),
			wait.ForListeningPort("1521/tcp"),
		).WithStartupTimeout(cfg.StartupTimeout),
	})

	port, err := c.MappedPort(ctx, "1521")
	if err != nil {
		t.Fatalf("Failed to get Oracle container port: %v", err)
	}
	t.Logf("Oracle container started at %s:%d (service: %s)", host, port.Int(), cfg.Service)

	return &OracleContainer{host: host, port: port.Int(), cfg: cfg}
}

// DatabaseConfig returns a database section pointing at the container.
func (o *OracleContainer) DatabaseConfig() *config.DatabaseConfig {
	return &config.DatabaseConfig{
		Type:     config.Oracle,
		Host:     o.host,
		Port:     o.port,
		Username: o.cfg.AppUser,
		Password: o.cfg.Password,
		Oracle:   config.OracleConfig{Service: config.ServiceConfig{Name: o.cfg.Service}},
		Pool: config.PoolConfig{
			Max:  config.PoolMaxConfig{Connections: 5},
			Idle: config.PoolIdleConfig{Connections: 1},
		},
	}
}
