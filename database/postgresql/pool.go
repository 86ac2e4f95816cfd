package postgresql

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gaborage/txnest/config"
	"github.com/gaborage/txnest/logger"
	"github.com/gaborage/txnest/transaction"
)

// ErrAutoCommitMode is returned by Commit and Rollback while autocommit is enabled.
var ErrAutoCommitMode = errors.New("postgresql: connection is in autocommit mode")

// ErrForeignConnection is returned when Release receives a connection the
// PoolProvider did not hand out.
var ErrForeignConnection = errors.New("postgresql: connection was not acquired from this pool")

// Querier is the statement surface shared by *pgxpool.Pool, *pgxpool.Conn and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// txBeginner is the part of *pgxpool.Conn a PoolConnection drives.
type txBeginner interface {
	Querier
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
	Release()
}

// PoolProvider hands out connections from a pgxpool.Pool. Transactions run on
// the native pgx protocol rather than through database/sql.
type PoolProvider struct {
	pool           *pgxpool.Pool
	fallback       Querier
	acquire        func(ctx context.Context) (txBeginner, error)
	txOpts         pgx.TxOptions
	acquireTimeout time.Duration
	log            logger.Logger
}

// PoolOption customizes a PoolProvider.
type PoolOption func(*PoolProvider)

func WithPoolTxOptions(opts pgx.TxOptions) PoolOption {
	return func(p *PoolProvider) {
		p.txOpts = opts
	}
}

func WithPoolAcquireTimeout(d time.Duration) PoolOption {
	return func(p *PoolProvider) {
		p.acquireTimeout = d
	}
}

func WithPoolLogger(log logger.Logger) PoolOption {
	return func(p *PoolProvider) {
		if log != nil {
			p.log = log
		}
	}
}

// NewPoolProvider wraps pool. The PoolProvider owns pool; Close closes it.
func NewPoolProvider(pool *pgxpool.Pool, opts ...PoolOption) *PoolProvider {
	p := &PoolProvider{
		pool:     pool,
		fallback: pool,
		acquire: func(ctx context.Context) (txBeginner, error) {
			conn, err := pool.Acquire(ctx)
			if err != nil {
				return nil, err
			}
			return conn, nil
		},
		log: logger.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewPool creates a pgxpool from dbCfg, pings it and wraps it in a PoolProvider.
func NewPool(ctx context.Context, dbCfg *config.DatabaseConfig, txCfg *config.TransactionConfig, log logger.Logger) (*PoolProvider, error) {
	poolCfg, err := pgxpool.ParseConfig(BuildDSN(dbCfg))
	if err != nil {
		return nil, fmt.Errorf("failed to parse PostgreSQL pool config: %w", err)
	}
	if n := dbCfg.Pool.Max.Connections; n > 0 {
		poolCfg.MaxConns = n
	}
	poolCfg.MinConns = min(dbCfg.Pool.Idle.Connections, poolCfg.MaxConns)
	if dbCfg.Pool.Idle.Time > 0 {
		poolCfg.MaxConnIdleTime = dbCfg.Pool.Idle.Time
	}
	if dbCfg.Pool.Lifetime.Max > 0 {
		poolCfg.MaxConnLifetime = dbCfg.Pool.Lifetime.Max
	}

	txOpts, err := TxOptionsFromConfig(txCfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create PostgreSQL pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL pool: %w", err)
	}

	opts := []PoolOption{WithPoolTxOptions(txOpts), WithPoolLogger(log)}
	if txCfg != nil {
		opts = append(opts, WithPoolAcquireTimeout(txCfg.Acquire.Timeout))
	}

	log.Info().
		Str("host", poolCfg.ConnConfig.Host).
		Str("database", poolCfg.ConnConfig.Database).
		Int("max_conns", int(poolCfg.MaxConns)).
		Msg("Connected to PostgreSQL pool")
	return NewPoolProvider(pool, opts...), nil
}

// TxOptionsFromConfig maps the transaction section to pgx options.
func TxOptionsFromConfig(cfg *config.TransactionConfig) (pgx.TxOptions, error) {
	var opts pgx.TxOptions
	if cfg == nil {
		return opts, nil
	}

	switch cfg.Isolation {
	case "", config.IsolationDefault:
	case config.IsolationReadUncommitted:
		opts.IsoLevel = pgx.ReadUncommitted
	case config.IsolationReadCommitted:
		opts.IsoLevel = pgx.ReadCommitted
	case config.IsolationRepeatableRead:
		opts.IsoLevel = pgx.RepeatableRead
	case config.IsolationSerializable:
		opts.IsoLevel = pgx.Serializable
	default:
		return opts, config.NewInvalidFieldError("transaction.isolation",
			fmt.Sprintf("unknown isolation level %q", cfg.Isolation), nil)
	}
	if cfg.ReadOnly {
		opts.AccessMode = pgx.ReadOnly
	}
	return opts, nil
}

func (p *PoolProvider) Acquire(ctx context.Context) (transaction.Connection, error) {
	if p.acquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.acquireTimeout)
		defer cancel()
	}
	conn, err := p.acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire postgresql connection: %w", err)
	}
	return &PoolConnection{conn: conn, autoCommit: true, opts: p.txOpts, owner: p}, nil
}

// Release rolls back any transaction left open and returns the connection to the pool.
func (p *PoolProvider) Release(ctx context.Context, conn transaction.Connection) error {
	c, ok := conn.(*PoolConnection)
	if !ok || c.owner != p {
		return ErrForeignConnection
	}
	return c.release(ctx)
}

// Querier returns the transaction bound to ctx when it belongs to this
// provider, the pool otherwise.
func (p *PoolProvider) Querier(ctx context.Context) (Querier, error) {
	if conn, ok := transaction.ConnectionFromContext(ctx); ok {
		if c, ok := conn.(*PoolConnection); ok && c.owner == p {
			return c.Querier(ctx)
		}
	}
	if p.fallback == nil {
		return nil, errors.New("postgresql: no pool configured")
	}
	return p.fallback, nil
}

func (p *PoolProvider) Vendor() string {
	return config.PostgreSQL
}

func (p *PoolProvider) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}

// PoolConnection is a pooled pgx connection with a JDBC-style autocommit flag.
// Its semantics match sqlconn.Connection.
type PoolConnection struct {
	mu         sync.Mutex
	conn       txBeginner
	tx         pgx.Tx
	autoCommit bool
	opts       pgx.TxOptions
	owner      *PoolProvider
}

func (c *PoolConnection) Vendor() string {
	return config.PostgreSQL
}

func (c *PoolConnection) AutoCommit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.autoCommit
}

func (c *PoolConnection) SetAutoCommit(ctx context.Context, enabled bool) error {
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
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit on autocommit switch: %w", err)
	}
	return nil
}

func (c *PoolConnection) beginLocked(ctx context.Context) error {
	tx, err := c.conn.BeginTx(ctx, c.opts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	c.tx = tx
	return nil
}

func (c *PoolConnection) Commit(ctx context.Context) error {
	return c.finish(ctx, pgx.Tx.Commit)
}

func (c *PoolConnection) Rollback(ctx context.Context) error {
	return c.finish(ctx, pgx.Tx.Rollback)
}

func (c *PoolConnection) finish(ctx context.Context, end func(pgx.Tx, context.Context) error) error {
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
	return end(tx, ctx)
}

// Querier returns the open transaction when autocommit is disabled, beginning
// one if the previous was committed, or the raw connection otherwise.
func (c *PoolConnection) Querier(ctx context.Context) (Querier, error) {
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

func (c *PoolConnection) release(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	if c.tx != nil {
		if rbErr := c.tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			err = fmt.Errorf("failed to roll back abandoned transaction: %w", rbErr)
		}
		c.tx = nil
	}
	c.autoCommit = true
	c.conn.Release()
	return err
}
