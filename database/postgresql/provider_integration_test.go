//go:build integration

package postgresql

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaborage/txnest/config"
	"github.com/gaborage/txnest/transaction"
	"github.com/gaborage/txnest/testing/containers"
)

func TestProviderAgainstPostgreSQL(t *testing.T) {
	ctx := context.Background()
	pg := containers.MustStartPostgreSQLContainer(ctx, t, nil)

	p, err := NewProvider(pg.DatabaseConfig(), &config.TransactionConfig{Isolation: config.IsolationSerializable}, newDisabledTestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	_, err = p.DB().ExecContext(ctx, `CREATE TABLE transfers (id SERIAL PRIMARY KEY, amount INT NOT NULL)`)
	require.NoError(t, err)

	c := transaction.New(p)
	insert := func(ctx context.Context, amount int) error {
		exec, err := p.Executor(ctx)
		if err != nil {
			return err
		}
		_, err = exec.ExecContext(ctx, "INSERT INTO transfers(amount) VALUES($1)", amount)
		return err
	}

	require.NoError(t, c.Run(ctx, func(ctx context.Context) error {
		if err := insert(ctx, 10); err != nil {
			return err
		}
		return c.Run(ctx, func(ctx context.Context) error { return insert(ctx, 20) })
	}))

	errAbort := errors.New("abort")
	err = c.Run(ctx, func(ctx context.Context) error {
		if err := insert(ctx, 30); err != nil {
			return err
		}
		return c.Run(ctx, func(context.Context) error { return errAbort })
	})
	assert.ErrorIs(t, err, errAbort)

	var sum int
	require.NoError(t, p.DB().QueryRowContext(ctx, "SELECT COALESCE(SUM(amount), 0) FROM transfers").Scan(&sum))
	assert.Equal(t, 30, sum)
	assert.Zero(t, p.DB().Stats().InUse)
}

func TestPoolProviderAgainstPostgreSQL(t *testing.T) {
	ctx := context.Background()
	pg := containers.MustStartPostgreSQLContainer(ctx, t, nil)

	p, err := NewPool(ctx, pg.DatabaseConfig(), &config.TransactionConfig{Isolation: config.IsolationRepeatableRead}, newDisabledTestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	q, err := p.Querier(ctx)
	require.NoError(t, err)
	_, err = q.Exec(ctx, `CREATE TABLE events (name TEXT PRIMARY KEY)`)
	require.NoError(t, err)

	c := transaction.New(p)
	err = c.Run(ctx, func(ctx context.Context) error {
		q, err := p.Querier(ctx)
		if err != nil {
			return err
		}
		if _, err := q.Exec(ctx, "INSERT INTO events VALUES('created')"); err != nil {
			return err
		}
		return c.Run(ctx, func(ctx context.Context) error {
			q, err := p.Querier(ctx)
			if err != nil {
				return err
			}
			// primary key violation aborts the whole unit of work
			_, err = q.Exec(ctx, "INSERT INTO events VALUES('created')")
			return err
		})
	})
	require.Error(t, err)

	var n int
	require.NoError(t, q.QueryRow(ctx, "SELECT COUNT(*) FROM events").Scan(&n))
	assert.Zero(t, n)
}
