package sqlconn

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaborage/txnest/config"
	"github.com/gaborage/txnest/logger"
	"github.com/gaborage/txnest/transaction"
	txtest "github.com/gaborage/txnest/transaction/testing"
)

func newMockProvider(t *testing.T, opts ...Option) (*Provider, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	opts = append([]Option{WithVendor("postgresql"), WithLogger(logger.New("disabled", false))}, opts...)
	return New(db, opts...), mock
}

func acquire(t *testing.T, p *Provider) *Connection {
	t.Helper()
	conn, err := p.Acquire(context.Background())
	require.NoError(t, err)
	c, ok := conn.(*Connection)
	require.True(t, ok)
	return c
}

func TestNestedRunCommitsOnce(t *testing.T) {
	p, mock := newMockProvider(t)
	c := transaction.New(p)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO accounts").WithArgs("alice").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE accounts").WithArgs(1).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := c.Run(context.Background(), func(ctx context.Context) error {
		exec, err := p.Executor(ctx)
		if err != nil {
			return err
		}
		if _, err := exec.ExecContext(ctx, "INSERT INTO accounts(name) VALUES($1)", "alice"); err != nil {
			return err
		}
		return c.Run(ctx, func(ctx context.Context) error {
			exec, ok, err := ExecutorFromContext(ctx)
			if err != nil || !ok {
				return errors.Join(errors.New("no executor"), err)
			}
			_, err = exec.ExecContext(ctx, "UPDATE accounts SET active = true WHERE id = $1", 1)
			return err
		})
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInnerFailureRollsBackWholeTransaction(t *testing.T) {
	p, mock := newMockProvider(t)
	c := transaction.New(p)
	errInsufficientFunds := errors.New("insufficient funds")

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO transfers").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectRollback()

	err := c.Run(context.Background(), func(ctx context.Context) error {
		exec, err := p.Executor(ctx)
		require.NoError(t, err)
		_, err = exec.ExecContext(ctx, "INSERT INTO transfers(amount) VALUES(10)")
		require.NoError(t, err)

		return c.Run(ctx, func(context.Context) error { return errInsufficientFunds })
	})

	assert.ErrorIs(t, err, errInsufficientFunds)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBeginFailureIsDataAccessError(t *testing.T) {
	p, mock := newMockProvider(t)
	c := transaction.New(p)
	mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

	called := false
	err := c.Run(context.Background(), func(context.Context) error {
		called = true
		return nil
	})

	require.Error(t, err)
	assert.True(t, transaction.IsDataAccessFailure(err))
	assert.False(t, called)
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, 0, p.DB().Stats().InUse)
}

func TestCommitFailureStillReturnsConnection(t *testing.T) {
	p, mock := newMockProvider(t)
	c := transaction.New(p)
	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))

	err := c.Run(context.Background(), func(context.Context) error { return nil })

	assert.True(t, transaction.IsDataAccessFailure(err))
	assert.ErrorContains(t, err, "serialization failure")
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, 0, p.DB().Stats().InUse)
}

func TestConnectionAutoCommitFlag(t *testing.T) {
	p, mock := newMockProvider(t)
	conn := acquire(t, p)
	ctx := context.Background()

	assert.True(t, conn.AutoCommit())
	assert.Equal(t, "postgresql", conn.Vendor())
	assert.ErrorIs(t, conn.Commit(ctx), ErrAutoCommitMode)
	assert.ErrorIs(t, conn.Rollback(ctx), ErrAutoCommitMode)

	mock.ExpectBegin()
	require.NoError(t, conn.SetAutoCommit(ctx, false))
	require.NoError(t, conn.SetAutoCommit(ctx, false))
	assert.False(t, conn.AutoCommit())

	mock.ExpectCommit()
	require.NoError(t, conn.Commit(ctx))
	assert.False(t, conn.AutoCommit(), "commit keeps autocommit disabled")

	// the next transaction begins lazily
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM sessions").WillReturnResult(sqlmock.NewResult(0, 3))
	exec, err := conn.Executor(ctx)
	require.NoError(t, err)
	_, err = exec.ExecContext(ctx, "DELETE FROM sessions")
	require.NoError(t, err)

	// enabling autocommit commits the open transaction
	mock.ExpectCommit()
	require.NoError(t, conn.SetAutoCommit(ctx, true))
	assert.True(t, conn.AutoCommit())

	require.NoError(t, p.Release(ctx, conn))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConnectionCommitWithoutPendingWorkIsNoop(t *testing.T) {
	p, mock := newMockProvider(t)
	conn := acquire(t, p)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectRollback()
	require.NoError(t, conn.SetAutoCommit(ctx, false))
	require.NoError(t, conn.Rollback(ctx))
	require.NoError(t, conn.Commit(ctx))
	require.NoError(t, conn.SetAutoCommit(ctx, true))

	require.NoError(t, p.Release(ctx, conn))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutorOutsideTransactionUsesPool(t *testing.T) {
	p, _ := newMockProvider(t)

	exec, err := p.Executor(context.Background())
	require.NoError(t, err)
	assert.Same(t, p.DB(), exec)

	_, ok, err := ExecutorFromContext(transaction.WithState(context.Background()))
	assert.False(t, ok)
	assert.NoError(t, err)
}

func TestExecutorIgnoresOtherProvidersConnection(t *testing.T) {
	p, mock := newMockProvider(t)
	other, otherMock := newMockProvider(t)
	c := transaction.New(other)

	otherMock.ExpectBegin()
	otherMock.ExpectCommit()
	err := c.Run(context.Background(), func(ctx context.Context) error {
		exec, err := p.Executor(ctx)
		require.NoError(t, err)
		assert.Same(t, p.DB(), exec)
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.NoError(t, otherMock.ExpectationsWereMet())
}

func TestReleaseRollsBackAbandonedTransaction(t *testing.T) {
	p, mock := newMockProvider(t)
	conn := acquire(t, p)

	mock.ExpectBegin()
	mock.ExpectRollback()
	require.NoError(t, conn.SetAutoCommit(context.Background(), false))
	require.NoError(t, p.Release(context.Background(), conn))

	assert.True(t, conn.AutoCommit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseRejectsForeignConnection(t *testing.T) {
	p, _ := newMockProvider(t)
	other, _ := newMockProvider(t)

	assert.ErrorIs(t, p.Release(context.Background(), acquire(t, other)), ErrForeignConnection)

	fake, err := txtest.NewFakeProvider().Acquire(context.Background())
	require.NoError(t, err)
	assert.ErrorIs(t, p.Release(context.Background(), fake), ErrForeignConnection)
}

func TestAcquireTimeout(t *testing.T) {
	p, _ := newMockProvider(t, WithAcquireTimeout(20*time.Millisecond))
	p.DB().SetMaxOpenConns(1)

	held := acquire(t, p)
	defer func() { _ = p.Release(context.Background(), held) }()

	_, err := p.Acquire(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSetAutoCommitHonoursCancelledContext(t *testing.T) {
	p, mock := newMockProvider(t)
	conn := acquire(t, p)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, conn.SetAutoCommit(ctx, false), context.Canceled)
	assert.True(t, conn.AutoCommit())
	require.NoError(t, p.Release(context.Background(), conn))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionSurvivesBeginContextCancellation(t *testing.T) {
	p, mock := newMockProvider(t)
	c := transaction.New(p)

	mock.ExpectBegin()
	mock.ExpectCommit()

	beginCtx, cancel := context.WithCancel(transaction.WithState(context.Background()))
	require.NoError(t, c.Begin(beginCtx))
	cancel()

	// the commit runs under a fresh context sharing the same state
	st, _ := transaction.StateFromContext(beginCtx)
	require.True(t, st.Active())
	commitCtx := context.WithoutCancel(beginCtx)
	require.NoError(t, c.Commit(commitCtx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfigurePoolKeepsDefaultsForZeroValues(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ConfigurePool(db, &config.PoolConfig{Max: config.PoolMaxConfig{Connections: 3}})

	conn, err := db.Conn(context.Background())
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	stats := db.Stats()
	assert.Equal(t, 3, stats.MaxOpenConnections)
	assert.Equal(t, 1, stats.Idle, "released connection must stay pooled")
	assert.Zero(t, stats.MaxIdleClosed)

	// the pooled connection is reused, sqlmock has no second one to give
	mock.ExpectBegin()
	mock.ExpectCommit()
	p := New(db, WithLogger(logger.Nop()))
	c := transaction.New(p)
	require.NoError(t, c.Run(context.Background(), func(context.Context) error { return nil }))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestParseIsolation(t *testing.T) {
	tests := []struct {
		name    string
		want    sql.IsolationLevel
		wantErr bool
	}{
		{name: "", want: sql.LevelDefault},
		{name: config.IsolationDefault, want: sql.LevelDefault},
		{name: config.IsolationReadUncommitted, want: sql.LevelReadUncommitted},
		{name: config.IsolationReadCommitted, want: sql.LevelReadCommitted},
		{name: config.IsolationRepeatableRead, want: sql.LevelRepeatableRead},
		{name: config.IsolationSerializable, want: sql.LevelSerializable},
		{name: "snapshot", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseIsolation(tt.name)
			if tt.wantErr {
				var cfgErr *config.ConfigError
				require.ErrorAs(t, err, &cfgErr)
				assert.Equal(t, "transaction.isolation", cfgErr.Field)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTxOptionsFromConfig(t *testing.T) {
	opts, err := TxOptionsFromConfig(nil)
	require.NoError(t, err)
	assert.Nil(t, opts)

	opts, err = TxOptionsFromConfig(&config.TransactionConfig{Isolation: config.IsolationDefault})
	require.NoError(t, err)
	assert.Nil(t, opts)

	opts, err = TxOptionsFromConfig(&config.TransactionConfig{ReadOnly: true, Isolation: config.IsolationSerializable})
	require.NoError(t, err)
	assert.Equal(t, &sql.TxOptions{Isolation: sql.LevelSerializable, ReadOnly: true}, opts)

	_, err = TxOptionsFromConfig(&config.TransactionConfig{Isolation: "chaos"})
	assert.Error(t, err)
}

func TestFromConfigAppliesPoolAndTransactionSettings(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	pool := &config.PoolConfig{
		Max:      config.PoolMaxConfig{Connections: 7},
		Idle:     config.PoolIdleConfig{Connections: 1, Time: time.Minute},
		Lifetime: config.LifetimeConfig{Max: time.Hour},
	}
	txCfg := &config.TransactionConfig{
		ReadOnly:  true,
		Isolation: config.IsolationReadCommitted,
		Acquire:   config.AcquireConfig{Timeout: time.Second},
	}

	p, err := FromConfig(db, "mysql", pool, txCfg, logger.Nop())
	require.NoError(t, err)

	assert.Equal(t, 7, db.Stats().MaxOpenConnections)
	assert.Equal(t, "mysql", p.Vendor())
	assert.Equal(t, time.Second, p.acquireTimeout)
	assert.Equal(t, &sql.TxOptions{Isolation: sql.LevelReadCommitted, ReadOnly: true}, p.txOpts)

	_, err = FromConfig(db, "mysql", pool, &config.TransactionConfig{Isolation: "bogus"}, logger.Nop())
	assert.Error(t, err)

	mock.ExpectClose()
	require.NoError(t, p.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}
