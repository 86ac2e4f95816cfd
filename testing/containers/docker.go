//go:build integration

// Package containers starts throwaway database servers for integration tests.
// Tests are skipped when no Docker daemon is reachable.
package containers

import (
	"context"
	"testing"

	"github.com/testcontainers/testcontainers-go"

	"github.com/gaborage/txnest/logger"
)

// isDockerAvailable checks if the Docker daemon is reachable by attempting to
// connect via the testcontainers Docker provider.
func isDockerAvailable(ctx context.Context) bool {
	provider, err := testcontainers.NewDockerProvider()
	if err != nil {
		return false
	}
	defer provider.Close()

	_, err = provider.DaemonHost(ctx)
	return err == nil
}

func skipWithoutDocker(ctx context.Context, t *testing.T) {
	t.Helper()
	if !isDockerAvailable(ctx) {
		t.Skip("Docker is not available - skipping integration test. Install Docker Desktop or ensure Docker daemon is running.")
	}
}

var redactor = logger.NewSensitiveDataFilter(nil)

// redactConnectionString masks the password of a URL-style connection
// string the same way log output does.
func redactConnectionString(connStr string) string {
	return redactor.FilterString("uri", connStr)
}

// terminateOnCleanup registers c for termination when the test finishes.
func terminateOnCleanup(t *testing.T, name string, c testcontainers.Container) {
	t.Helper()
	t.Cleanup(func() {
		if err := c.Terminate(context.Background()); err != nil {
			t.Logf("Warning: failed to terminate %s container: %v", name, err)
		}
	})
}
