//go:build integration

package oracle

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaborage/txnest/config"
	"github.com/gaborage/txnest/logger"
	"github.com/gaborage/txnest/testing/containers"
	"github.com/gaborage/txnest/transaction"
)

func TestProviderAgainstOracle(t *testing.T) {
	ctx := context.Background()
	ora := containers.MustStartOracleContainer(ctx, t, nil)

	p, err := NewProvider(ora.DatabaseConfig(), &config.TransactionConfig{}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	_, err = p.DB().ExecContext(ctx, `CREATE TABLE shipments (id NUMBER GENERATED ALWAYS AS IDENTITY PRIMARY KEY, weight NUMBER NOT NULL)`)
	require.NoError(t, err)

	c := transaction.New(p)
	insert := func(ctx context.Context, weight int) error {
		exec, err := p.Executor(ctx)
		if err != nil {
			return err
		}
		_, err = exec.ExecContext(ctx, "INSERT INTO shipments(weight) VALUES(:1)", weight)
		return err
	}

	require.NoError(t, c.Run(ctx, func(ctx context.Context) error {
		return c.Run(ctx, func(ctx context.Context) error { return insert(ctx, 3) })
	}))

	errLost := errors.New("lost in transit")
	err = c.Run(ctx, func(ctx context.Context) error {
		if err := insert(ctx, 9); err != nil {
			return err
		}
		return c.Run(ctx, func(context.Context) error { return errLost })
	})
	assert.ErrorIs(t, err, errLost)

	var n int
	require.NoError(t, p.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM shipments").Scan(&n))
	assert.Equal(t, 1, n)
}
