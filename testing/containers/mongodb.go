//go:build integration

package containers

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/gaborage/txnest/config"
)

// MongoDBContainerConfig holds configuration for the MongoDB test container.
// The server always runs as a single-node replica set because transactions
// are unavailable on standalone servers.
type MongoDBContainerConfig struct {
	ImageTag       string
	ReplicaSet     string
	Database       string
	StartupTimeout time.Duration
}

// DefaultMongoDBConfig returns an 8.0 image with replica set rs0 and database testdb.
func DefaultMongoDBConfig() *MongoDBContainerConfig {
	return &MongoDBContainerConfig{
		ImageTag:       "8.0",
		ReplicaSet:     "rs0",
		Database:       "testdb",
		StartupTimeout: 90 * time.Second,
	}
}

// MongoDBContainer is a running MongoDB replica set member.
type MongoDBContainer struct {
	container *mongodb.MongoDBContainer
	connStr   string
	cfg       *MongoDBContainerConfig
}

// MustStartMongoDBContainer starts MongoDB, fails the test on error and
// terminates the container when the test finishes. A nil cfg selects
// DefaultMongoDBConfig.
func MustStartMongoDBContainer(ctx context.Context, t *testing.T, cfg *MongoDBContainerConfig) *MongoDBContainer {
	t.Helper()
	skipWithoutDocker(ctx, t)

	if cfg == nil {
		cfg = DefaultMongoDBConfig()
	}

	mc, err := mongodb.Run(ctx,
		fmt.Sprintf("mongo:%s", cfg.ImageTag),
		mongodb.WithReplicaSet(cfg.ReplicaSet),
		testcontainers.WithWaitStrategy(
			wait.ForLog("Waiting for connections").
				WithStartupTimeout(cfg.StartupTimeout),
		),
	)
	if err != nil {
		t.Fatalf("Failed to start MongoDB container: %v", err)
	}
	terminateOnCleanup(t, "MongoDB", mc)

	connStr, err := mc.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("Failed to get MongoDB connection string: %v", err)
	}
	t.Logf("MongoDB container started at %s", redactConnectionString(connStr))

	return &MongoDBContainer{container: mc, connStr: connStr, cfg: cfg}
}

func (m *MongoDBContainer) ConnectionString() string {
	return m.connStr
}

// DatabaseConfig returns a database section pointing at the container.
func (m *MongoDBContainer) DatabaseConfig() *config.DatabaseConfig {
	return &config.DatabaseConfig{
		Type:     config.MongoDB,
		Database: m.cfg.Database,
		Mongo:    config.MongoConfig{URI: m.connStr},
	}
}
