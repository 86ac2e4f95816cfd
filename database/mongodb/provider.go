// Package mongodb exposes MongoDB client sessions as transaction connections,
// so nested logical transactions map onto one multi-document transaction.
// Transactions require a replica set or sharded cluster.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readconcern"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.mongodb.org/mongo-driver/v2/mongo/writeconcern"

	"github.com/gaborage/txnest/config"
	"github.com/gaborage/txnest/logger"
	"github.com/gaborage/txnest/transaction"
)

// ErrForeignConnection is returned when Release receives a connection the
// Provider did not hand out.
var ErrForeignConnection = errors.New("mongodb: connection was not acquired from this provider")

const (
	connectTimeout    = 10 * time.Second
	disconnectTimeout = 10 * time.Second
)

var (
	connectMongoDB = func(opts *options.ClientOptions) (*mongo.Client, error) {
		return mongo.Connect(opts)
	}
	pingMongoDB = func(ctx context.Context, client *mongo.Client) error {
		return client.Ping(ctx, readpref.Primary())
	}
)

// Provider hands out client sessions as transaction connections.
type Provider struct {
	client       *mongo.Client
	database     string
	startSession func() (session, *mongo.Session, error)
	txOpts       *options.TransactionOptionsBuilder
	log          logger.Logger
}

// Option customizes a Provider.
type Option func(*Provider)

// WithTransactionOptions sets the options every transaction starts with.
func WithTransactionOptions(opts *options.TransactionOptionsBuilder) Option {
	return func(p *Provider) {
		p.txOpts = opts
	}
}

func WithDatabase(name string) Option {
	return func(p *Provider) {
		p.database = name
	}
}

func WithLogger(log logger.Logger) Option {
	return func(p *Provider) {
		if log != nil {
			p.log = log
		}
	}
}

// New wraps a connected client. The Provider owns client; Close disconnects it.
func New(client *mongo.Client, opts ...Option) *Provider {
	p := &Provider{
		client: client,
		startSession: func() (session, *mongo.Session, error) {
			sess, err := client.StartSession()
			if err != nil {
				return nil, nil, err
			}
			return sess, sess, nil
		},
		log: logger.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// BuildURI returns the configured URI (mongo.uri, then connectionstring) or
// assembles a mongodb:// URI from the discrete fields.
func BuildURI(cfg *config.DatabaseConfig) string {
	if cfg.Mongo.URI != "" {
		return cfg.Mongo.URI
	}
	if cfg.ConnectionString != "" {
		return cfg.ConnectionString
	}

	u := url.URL{Scheme: "mongodb", Host: cfg.Host}
	if cfg.Port > 0 {
		u.Host = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	}
	if cfg.Username != "" {
		if cfg.Password != "" {
			u.User = url.UserPassword(cfg.Username, cfg.Password)
		} else {
			u.User = url.User(cfg.Username)
		}
	}
	if cfg.Database != "" {
		u.Path = "/" + cfg.Database
	}
	return u.String()
}

// TransactionOptionsFromConfig maps the transaction section onto MongoDB read
// and write concerns. Snapshot isolation backs repeatable_read and
// serializable; read_committed maps to majority reads. Write concern is
// always majority so a committed transaction survives failover. MongoDB
// transactions are always read-write, so readonly has no effect.
func TransactionOptionsFromConfig(cfg *config.TransactionConfig) (*options.TransactionOptionsBuilder, error) {
	opts := options.Transaction().SetWriteConcern(writeconcern.Majority())
	if cfg == nil {
		return opts, nil
	}

	switch cfg.Isolation {
	case "", config.IsolationDefault:
	case config.IsolationReadUncommitted:
		opts.SetReadConcern(readconcern.Local())
	case config.IsolationReadCommitted:
		opts.SetReadConcern(readconcern.Majority())
	case config.IsolationRepeatableRead, config.IsolationSerializable:
		opts.SetReadConcern(readconcern.Snapshot())
	default:
		return nil, config.NewInvalidFieldError("transaction.isolation",
			fmt.Sprintf("unknown isolation level %q", cfg.Isolation), nil)
	}
	return opts, nil
}

// NewProvider connects to MongoDB, verifies the primary is reachable and
// returns a session-backed Provider.
func NewProvider(dbCfg *config.DatabaseConfig, txCfg *config.TransactionConfig, log logger.Logger) (*Provider, error) {
	txOpts, err := TransactionOptionsFromConfig(txCfg)
	if err != nil {
		return nil, err
	}

	opts := options.Client().ApplyURI(BuildURI(dbCfg))
	if n := dbCfg.Pool.Max.Connections; n > 0 {
		opts.SetMaxPoolSize(uint64(n))
	}
	if n := dbCfg.Pool.Idle.Connections; n > 0 {
		opts.SetMinPoolSize(uint64(n))
	}
	if dbCfg.Pool.Idle.Time > 0 {
		opts.SetMaxConnIdleTime(dbCfg.Pool.Idle.Time)
	}

	client, err := connectMongoDB(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := pingMongoDB(ctx, client); err != nil {
		if discErr := client.Disconnect(ctx); discErr != nil {
			log.Error().Err(discErr).Msg("Failed to disconnect MongoDB client after ping failure")
		}
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	log.Info().
		Str("database", dbCfg.Database).
		Msg("Connected to MongoDB")
	return New(client, WithTransactionOptions(txOpts), WithDatabase(dbCfg.Database), WithLogger(log)), nil
}

func (p *Provider) Acquire(_ context.Context) (transaction.Connection, error) {
	sess, raw, err := p.startSession()
	if err != nil {
		return nil, fmt.Errorf("failed to start MongoDB session: %w", err)
	}
	return newConnection(sess, raw, p), nil
}

// Release aborts any transaction left open and ends the session.
func (p *Provider) Release(ctx context.Context, conn transaction.Connection) error {
	c, ok := conn.(*Connection)
	if !ok || c.owner != p {
		return ErrForeignConnection
	}
	if err := c.end(ctx); err != nil {
		p.log.Warn().Err(err).Msg("MongoDB session ended with an open transaction")
		return err
	}
	return nil
}

// SessionContext returns ctx bound to the session of the transaction in ctx
// when it belongs to this provider, ctx unchanged otherwise.
func (p *Provider) SessionContext(ctx context.Context) (context.Context, error) {
	if conn, ok := transaction.ConnectionFromContext(ctx); ok {
		if c, ok := conn.(*Connection); ok && c.owner == p {
			return c.SessionContext(ctx)
		}
	}
	return ctx, nil
}

func (p *Provider) Client() *mongo.Client {
	return p.client
}

// Database returns the configured database, or nil when none was configured.
func (p *Provider) Database() *mongo.Database {
	if p.client == nil || p.database == "" {
		return nil
	}
	return p.client.Database(p.database)
}

func (p *Provider) Vendor() string {
	return config.MongoDB
}

// Close disconnects the client.
func (p *Provider) Close() error {
	if p.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	return p.client.Disconnect(ctx)
}
