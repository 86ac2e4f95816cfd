package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/gaborage/txnest/config"
	"github.com/gaborage/txnest/database/sqlconn"
	"github.com/gaborage/txnest/logger"
	"github.com/gaborage/txnest/transaction"
)

const createAccounts = `CREATE TABLE accounts (name TEXT PRIMARY KEY, balance INTEGER NOT NULL)`

func newFileProvider(t *testing.T) *sqlconn.Provider {
	t.Helper()
	cfg := &config.DatabaseConfig{
		Type:   config.SQLite,
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "txnest.db")},
		Pool: config.PoolConfig{
			Max:  config.PoolMaxConfig{Connections: 4},
			Idle: config.PoolIdleConfig{Connections: 2},
		},
	}
	return newProvider(t, cfg)
}

func newProvider(t *testing.T, cfg *config.DatabaseConfig) *sqlconn.Provider {
	t.Helper()
	p, err := NewProvider(cfg, nil, logger.New("disabled", false))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	_, err = p.DB().ExecContext(context.Background(), createAccounts)
	require.NoError(t, err)
	return p
}

func insert(ctx context.Context, p *sqlconn.Provider, name string, balance int) error {
	exec, err := p.Executor(ctx)
	if err != nil {
		return err
	}
	_, err = exec.ExecContext(ctx, "INSERT INTO accounts(name, balance) VALUES(?, ?)", name, balance)
	return err
}

func names(t *testing.T, p *sqlconn.Provider) []string {
	t.Helper()
	rows, err := p.DB().QueryContext(context.Background(), "SELECT name FROM accounts ORDER BY name")
	require.NoError(t, err)
	defer rows.Close()

	var out []string
	for rows.Next() {
		var n string
		require.NoError(t, rows.Scan(&n))
		out = append(out, n)
	}
	require.NoError(t, rows.Err())
	return out
}

func TestBuildDSN(t *testing.T) {
	assert.Equal(t, ":memory:", BuildDSN(""))

	dsn := BuildDSN("/var/lib/app/data.db")
	assert.True(t, strings.HasPrefix(dsn, "file:/var/lib/app/data.db?"))
	assert.Contains(t, dsn, "busy_timeout%285000%29")
	assert.Contains(t, dsn, "journal_mode%28WAL%29")
	assert.Contains(t, dsn, "_txlock=immediate")
}

func TestNestedRunCommitsAllWork(t *testing.T) {
	p := newFileProvider(t)
	c := transaction.New(p)

	err := c.Run(context.Background(), func(ctx context.Context) error {
		if err := insert(ctx, p, "alice", 100); err != nil {
			return err
		}
		return c.Run(ctx, func(ctx context.Context) error {
			return insert(ctx, p, "bob", 50)
		})
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, names(t, p))
}

func TestInnerFailureRollsBackOuterWork(t *testing.T) {
	p := newFileProvider(t)
	c := transaction.New(p)

	err := c.Run(context.Background(), func(ctx context.Context) error {
		if err := insert(ctx, p, "alice", 100); err != nil {
			return err
		}
		return c.Run(ctx, func(ctx context.Context) error {
			// duplicate primary key
			return insert(ctx, p, "alice", 5)
		})
	})

	require.Error(t, err)
	assert.Empty(t, names(t, p))
}

func TestUncommittedWorkIsInvisibleOutsideTransaction(t *testing.T) {
	p := newFileProvider(t)
	c := transaction.New(p)

	err := c.Run(context.Background(), func(ctx context.Context) error {
		if err := insert(ctx, p, "carol", 10); err != nil {
			return err
		}
		var n int
		if err := p.DB().QueryRowContext(context.Background(), "SELECT COUNT(*) FROM accounts").Scan(&n); err != nil {
			return err
		}
		assert.Zero(t, n)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"carol"}, names(t, p))
}

func TestStateIsReusableAfterRollback(t *testing.T) {
	p := newFileProvider(t)
	c := transaction.New(p)
	ctx := transaction.WithState(context.Background())

	require.NoError(t, c.Begin(ctx))
	require.NoError(t, c.Begin(ctx))
	require.NoError(t, insert(ctx, p, "dave", 1))
	require.NoError(t, c.Rollback(ctx))

	state, ok := transaction.StateFromContext(ctx)
	require.True(t, ok)
	assert.False(t, state.Active())
	assert.Zero(t, state.Depth())

	require.NoError(t, c.Begin(ctx))
	require.NoError(t, insert(ctx, p, "erin", 2))
	require.NoError(t, c.Commit(ctx))

	assert.Equal(t, []string{"erin"}, names(t, p))
	assert.Zero(t, p.DB().Stats().InUse)
}

func TestPanicRollsBackAndPropagates(t *testing.T) {
	p := newFileProvider(t)
	c := transaction.New(p)

	assert.PanicsWithValue(t, "kaboom", func() {
		_ = c.Run(context.Background(), func(ctx context.Context) error {
			if err := insert(ctx, p, "frank", 3); err != nil {
				return err
			}
			panic("kaboom")
		})
	})
	assert.Empty(t, names(t, p))
}

func TestIndependentTransactionsRunConcurrently(t *testing.T) {
	p := newFileProvider(t)
	c := transaction.New(p)

	var g errgroup.Group
	for i := range 8 {
		g.Go(func() error {
			return c.Run(context.Background(), func(ctx context.Context) error {
				return c.Run(ctx, func(ctx context.Context) error {
					return insert(ctx, p, fmt.Sprintf("user-%d", i), i)
				})
			})
		})
	}
	require.NoError(t, g.Wait())
	assert.Len(t, names(t, p), 8)
}

func TestInMemoryDatabase(t *testing.T) {
	p := newProvider(t, &config.DatabaseConfig{Type: config.SQLite})
	c := transaction.New(p)
	errAbort := errors.New("abort")

	require.NoError(t, c.Run(context.Background(), func(ctx context.Context) error {
		return insert(ctx, p, "grace", 7)
	}))
	err := c.Run(context.Background(), func(ctx context.Context) error {
		if err := insert(ctx, p, "heidi", 8); err != nil {
			return err
		}
		return errAbort
	})
	assert.ErrorIs(t, err, errAbort)

	assert.Equal(t, []string{"grace"}, names(t, p))
	assert.Equal(t, 1, p.DB().Stats().MaxOpenConnections)
}

func TestNewProviderOpenFailure(t *testing.T) {
	orig := openSQLiteDB
	openSQLiteDB = func(string) (*sql.DB, error) { return nil, errors.New("driver missing") }
	t.Cleanup(func() { openSQLiteDB = orig })

	p, err := NewProvider(&config.DatabaseConfig{Type: config.SQLite}, nil, logger.New("disabled", false))
	assert.Nil(t, p)
	assert.ErrorContains(t, err, "driver missing")
}
