//go:build integration

package containers

import (
	"context"
	"testing"

	"github.com/testcontainers/testcontainers-go"
)

// startGeneric runs req for images without a dedicated testcontainers
// module and terminates the container when the test finishes.
func startGeneric(ctx context.Context, t *testing.T, name string, req testcontainers.ContainerRequest) (testcontainers.Container, string) {
	t.Helper()
	skipWithoutDocker(ctx, t)

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start %s container: %v", name, err)
	}
	terminateOnCleanup(t, name, c)

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get %s container host: %v", name, err)
	}
	return c, host
}
