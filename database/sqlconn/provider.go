// Package sqlconn adapts a database/sql pool to transaction.ConnectionProvider.
// Vendor packages open the *sql.DB with their driver and wrap it with New.
package sqlconn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gaborage/txnest/config"
	"github.com/gaborage/txnest/logger"
	"github.com/gaborage/txnest/transaction"
)

// ErrForeignConnection is returned when Release receives a connection that
// this provider did not hand out.
var ErrForeignConnection = errors.New("sqlconn: connection was not acquired from this provider")

// Provider hands out dedicated pool connections from a *sql.DB.
type Provider struct {
	db             *sql.DB
	txOpts         *sql.TxOptions
	acquireTimeout time.Duration
	vendor         string
	log            logger.Logger
}

// Option customizes a Provider.
type Option func(*Provider)

// WithTxOptions sets the options used when a transaction begins.
// nil selects the driver defaults.
func WithTxOptions(opts *sql.TxOptions) Option {
	return func(p *Provider) {
		p.txOpts = opts
	}
}

// WithAcquireTimeout bounds how long Acquire waits for a free connection.
// Zero waits until the caller's context ends.
func WithAcquireTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.acquireTimeout = d
	}
}

func WithVendor(vendor string) Option {
	return func(p *Provider) {
		p.vendor = vendor
	}
}

func WithLogger(log logger.Logger) Option {
	return func(p *Provider) {
		if log != nil {
			p.log = log
		}
	}
}

// New wraps db. The Provider owns db from then on; Close closes it.
func New(db *sql.DB, opts ...Option) *Provider {
	p := &Provider{db: db, log: logger.Nop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Acquire checks a dedicated connection out of the pool.
func (p *Provider) Acquire(ctx context.Context) (transaction.Connection, error) {
	if p.acquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.acquireTimeout)
		defer cancel()
	}

	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire %s connection: %w", p.vendorName(), err)
	}
	return newConnection(conn, p), nil
}

// Release returns conn to the pool, rolling back any transaction it still holds.
func (p *Provider) Release(_ context.Context, conn transaction.Connection) error {
	c, ok := conn.(*Connection)
	if !ok || c.owner != p {
		return ErrForeignConnection
	}
	if err := c.close(); err != nil {
		p.log.Warn().Err(err).Str("vendor", p.vendorName()).Msg("connection released with errors")
		return err
	}
	return nil
}

// Executor returns the statement handle for ctx: the transaction bound to
// ctx when it runs inside one of this provider's transactions, the pool otherwise.
func (p *Provider) Executor(ctx context.Context) (Executor, error) {
	if conn, ok := ConnectionFromContext(ctx); ok && conn.owner == p {
		return conn.Executor(ctx)
	}
	return p.db, nil
}

// ConnectionFromContext returns the *Connection held by the transaction in ctx.
func ConnectionFromContext(ctx context.Context) (*Connection, bool) {
	conn, ok := transaction.ConnectionFromContext(ctx)
	if !ok {
		return nil, false
	}
	c, ok := conn.(*Connection)
	return c, ok
}

// ExecutorFromContext returns the statement handle of the transaction in ctx.
// It reports false outside a transaction or for non-sqlconn connections.
func ExecutorFromContext(ctx context.Context) (Executor, bool, error) {
	c, ok := ConnectionFromContext(ctx)
	if !ok {
		return nil, false, nil
	}
	exec, err := c.Executor(ctx)
	return exec, true, err
}

// DB exposes the underlying pool.
func (p *Provider) DB() *sql.DB {
	return p.db
}

func (p *Provider) Vendor() string {
	return p.vendor
}

// Close closes the underlying pool.
func (p *Provider) Close() error {
	return p.db.Close()
}

func (p *Provider) vendorName() string {
	if p.vendor == "" {
		return "sql"
	}
	return p.vendor
}

// ConfigurePool applies the pool section of cfg to db. Zero values keep the
// database/sql defaults; an explicit zero idle count would disable idle
// pooling and make every Acquire dial a new connection.
func ConfigurePool(db *sql.DB, cfg *config.PoolConfig) {
	if cfg == nil {
		return
	}
	if n := cfg.Max.Connections; n > 0 {
		db.SetMaxOpenConns(int(n))
	}
	if n := cfg.Idle.Connections; n > 0 {
		db.SetMaxIdleConns(int(n))
	}
	if d := cfg.Idle.Time; d > 0 {
		db.SetConnMaxIdleTime(d)
	}
	if d := cfg.Lifetime.Max; d > 0 {
		db.SetConnMaxLifetime(d)
	}
}

// ParseIsolation maps a configured isolation name to its sql.IsolationLevel.
// The empty string selects the driver default.
func ParseIsolation(name string) (sql.IsolationLevel, error) {
	switch name {
	case "", config.IsolationDefault:
		return sql.LevelDefault, nil
	case config.IsolationReadUncommitted:
		return sql.LevelReadUncommitted, nil
	case config.IsolationReadCommitted:
		return sql.LevelReadCommitted, nil
	case config.IsolationRepeatableRead:
		return sql.LevelRepeatableRead, nil
	case config.IsolationSerializable:
		return sql.LevelSerializable, nil
	default:
		return sql.LevelDefault, config.NewInvalidFieldError("transaction.isolation",
			fmt.Sprintf("unknown isolation level %q", name),
			[]string{config.IsolationDefault, config.IsolationReadUncommitted, config.IsolationReadCommitted,
				config.IsolationRepeatableRead, config.IsolationSerializable})
	}
}

// TxOptionsFromConfig builds transaction options from the transaction section.
// It returns nil when cfg asks for the driver defaults.
func TxOptionsFromConfig(cfg *config.TransactionConfig) (*sql.TxOptions, error) {
	if cfg == nil {
		return nil, nil
	}
	level, err := ParseIsolation(cfg.Isolation)
	if err != nil {
		return nil, err
	}
	if level == sql.LevelDefault && !cfg.ReadOnly {
		return nil, nil
	}
	return &sql.TxOptions{Isolation: level, ReadOnly: cfg.ReadOnly}, nil
}

// FromConfig wraps db with the pool, transaction and acquire settings of cfg.
func FromConfig(db *sql.DB, vendor string, pool *config.PoolConfig, txCfg *config.TransactionConfig, log logger.Logger) (*Provider, error) {
	txOpts, err := TxOptionsFromConfig(txCfg)
	if err != nil {
		return nil, err
	}
	ConfigurePool(db, pool)

	var timeout time.Duration
	if txCfg != nil {
		timeout = txCfg.Acquire.Timeout
	}
	return New(db,
		WithVendor(vendor),
		WithTxOptions(txOpts),
		WithAcquireTimeout(timeout),
		WithLogger(log),
	), nil
}
