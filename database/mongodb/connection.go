package mongodb

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/gaborage/txnest/config"
)

// ErrAutoCommitMode is returned by Commit and Rollback while autocommit is enabled.
var ErrAutoCommitMode = errors.New("mongodb: session is in autocommit mode")

// session is the part of *mongo.Session a Connection drives.
type session interface {
	StartTransaction(opts ...options.Lister[options.TransactionOptions]) error
	CommitTransaction(ctx context.Context) error
	AbortTransaction(ctx context.Context) error
	EndSession(ctx context.Context)
}

// Connection is a client session with a JDBC-style autocommit flag. With
// autocommit enabled, operations issued through SessionContext run as
// independent writes; disabling it starts a multi-document transaction.
type Connection struct {
	mu         sync.Mutex
	sess       session
	raw        *mongo.Session
	inTxn      bool
	autoCommit bool
	txOpts     *options.TransactionOptionsBuilder
	owner      *Provider
}

func newConnection(sess session, raw *mongo.Session, owner *Provider) *Connection {
	return &Connection{
		sess:       sess,
		raw:        raw,
		autoCommit: true,
		txOpts:     owner.txOpts,
		owner:      owner,
	}
}

func (c *Connection) Vendor() string {
	return config.MongoDB
}

func (c *Connection) AutoCommit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.autoCommit
}

// SetAutoCommit starts a transaction when disabling autocommit and commits
// the open one when enabling it.
func (c *Connection) SetAutoCommit(ctx context.Context, enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if enabled == c.autoCommit {
		return nil
	}
	if !enabled {
		if err := c.startLocked(); err != nil {
			return err
		}
		c.autoCommit = false
		return nil
	}

	c.autoCommit = true
	if !c.inTxn {
		return nil
	}
	c.inTxn = false
	if err := c.sess.CommitTransaction(ctx); err != nil {
		return fmt.Errorf("failed to commit on autocommit switch: %w", err)
	}
	return nil
}

func (c *Connection) startLocked() error {
	var err error
	if c.txOpts != nil {
		err = c.sess.StartTransaction(c.txOpts)
	} else {
		err = c.sess.StartTransaction()
	}
	if err != nil {
		return fmt.Errorf("failed to start MongoDB transaction: %w", err)
	}
	c.inTxn = true
	return nil
}

func (c *Connection) Commit(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.autoCommit {
		return ErrAutoCommitMode
	}
	if !c.inTxn {
		return nil
	}
	c.inTxn = false
	if err := c.sess.CommitTransaction(ctx); err != nil {
		return fmt.Errorf("failed to commit MongoDB transaction: %w", err)
	}
	return nil
}

func (c *Connection) Rollback(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.autoCommit {
		return ErrAutoCommitMode
	}
	if !c.inTxn {
		return nil
	}
	c.inTxn = false
	if err := c.sess.AbortTransaction(ctx); err != nil {
		return fmt.Errorf("failed to abort MongoDB transaction: %w", err)
	}
	return nil
}

// SessionContext binds ctx to the session so collection operations run inside
// its transaction. A new transaction is started when autocommit is disabled
// and the previous one already finished.
func (c *Connection) SessionContext(ctx context.Context) (context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.autoCommit && !c.inTxn {
		if err := c.startLocked(); err != nil {
			return nil, err
		}
	}
	if c.raw == nil {
		return ctx, nil
	}
	return mongo.NewSessionContext(ctx, c.raw), nil
}

// end aborts a transaction left open and ends the session.
func (c *Connection) end(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	if c.inTxn {
		if abortErr := c.sess.AbortTransaction(ctx); abortErr != nil {
			err = fmt.Errorf("failed to abort abandoned transaction: %w", abortErr)
		}
		c.inTxn = false
	}
	c.autoCommit = true
	c.sess.EndSession(ctx)
	return err
}
