package sqlconn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

// ErrAutoCommitMode is returned by Commit and Rollback on a connection whose
// autocommit flag is still enabled.
var ErrAutoCommitMode = errors.New("sqlconn: connection is in autocommit mode")

// Executor is the statement surface shared by *sql.DB, *sql.Conn and *sql.Tx.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// Connection is a pooled *sql.Conn with a JDBC-style autocommit flag.
//
// Disabling autocommit begins a *sql.Tx. Commit and Rollback end it and the
// next transaction begins lazily on the following Executor call, while the
// flag stays disabled. Re-enabling autocommit commits any open transaction.
type Connection struct {
	mu         sync.Mutex
	conn       *sql.Conn
	tx         *sql.Tx
	autoCommit bool
	opts       *sql.TxOptions
	vendor     string
	owner      *Provider
}

func newConnection(conn *sql.Conn, owner *Provider) *Connection {
	return &Connection{
		conn:       conn,
		autoCommit: true,
		opts:       owner.txOpts,
		vendor:     owner.vendor,
		owner:      owner,
	}
}

// Vendor reports the database system, such as "postgresql".
func (c *Connection) Vendor() string {
	return c.vendor
}

func (c *Connection) AutoCommit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.autoCommit
}

// SetAutoCommit toggles the autocommit flag. Disabling it begins the physical
// transaction immediately so that begin failures surface to the caller.
func (c *Connection) SetAutoCommit(ctx context.Context, enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if enabled == c.autoCommit {
		return nil
	}
	if !enabled {
		if err := c.beginLocked(ctx); err != nil {
			return err
		}
		c.autoCommit = false
		return nil
	}

	c.autoCommit = true
	if c.tx == nil {
		return nil
	}
	tx := c.tx
	c.tx = nil
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit on autocommit switch: %w", err)
	}
	return nil
}

// beginLocked starts a transaction that outlives ctx: database/sql rolls a
// transaction back when its begin context is cancelled, but the transaction
// must stay open until Commit or Rollback.
func (c *Connection) beginLocked(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx, err := c.conn.BeginTx(context.WithoutCancel(ctx), c.opts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	c.tx = tx
	return nil
}

func (c *Connection) Commit(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.autoCommit {
		return ErrAutoCommitMode
	}
	if c.tx == nil {
		return nil
	}
	tx := c.tx
	c.tx = nil
	return tx.Commit()
}

func (c *Connection) Rollback(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.autoCommit {
		return ErrAutoCommitMode
	}
	if c.tx == nil {
		return nil
	}
	tx := c.tx
	c.tx = nil
	return tx.Rollback()
}

// Executor returns the handle statements should run on: the open *sql.Tx when
// autocommit is disabled, otherwise the raw *sql.Conn.
func (c *Connection) Executor(ctx context.Context) (Executor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.autoCommit {
		return c.conn, nil
	}
	if c.tx == nil {
		if err := c.beginLocked(ctx); err != nil {
			return nil, err
		}
	}
	return c.tx, nil
}

// close rolls back a transaction left open and returns the connection to the pool.
func (c *Connection) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	if c.tx != nil {
		if err := c.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			errs = append(errs, fmt.Errorf("failed to roll back abandoned transaction: %w", err))
		}
		c.tx = nil
	}
	c.autoCommit = true
	if err := c.conn.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to return connection to pool: %w", err))
	}
	return errors.Join(errs...)
}
