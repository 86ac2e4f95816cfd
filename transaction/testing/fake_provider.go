// Package testing provides in-memory fakes of the transaction collaborators.
//
// FakeProvider records every provider and connection call in one ordered log,
// so tests can assert the exact physical sequence a Coordinator produced:
//
//	p := NewFakeProvider()
//	c := transaction.New(p)
//	ctx := transaction.WithState(context.Background())
//	_ = c.Begin(ctx)
//	_ = c.Begin(ctx)
//	_ = c.Commit(ctx)
//	_ = c.Commit(ctx)
//	AssertCalls(t, p, CallAcquire, CallAutoCommitOff, CallCommit, CallAutoCommitOn, CallRelease)
//	AssertBalanced(t, p)
package testing

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gaborage/txnest/transaction"
)

// Call identifies one collaborator call in the log.
type Call string

// Calls recorded by FakeProvider and FakeConnection.
const (
	CallAcquire       Call = "acquire"
	CallRelease       Call = "release"
	CallAutoCommitOff Call = "autocommit(false)"
	CallAutoCommitOn  Call = "autocommit(true)"
	CallCommit        Call = "commit"
	CallRollback      Call = "rollback"
)

// ErrForeignConnection is returned by Release for connections this provider did not hand out.
var ErrForeignConnection = errors.New("connection was not acquired from this provider")

// FakeProvider is an in-memory transaction.ConnectionProvider.
// Failures configured with the Fail* methods persist until cleared with a nil error
// and apply to connections acquired after the call.
type FakeProvider struct {
	mu sync.Mutex

	calls []Call
	conns []*FakeConnection

	vendor            string
	autoCommitOff     bool
	acquireErr        error
	releaseErr        error
	commitErr         error
	rollbackErr       error
	autoCommitOffErr  error
	autoCommitOnErr   error
	acquireBlockUntil <-chan struct{}
}

var _ transaction.ConnectionProvider = (*FakeProvider)(nil)

// NewFakeProvider creates a provider whose connections start in autocommit mode.
func NewFakeProvider() *FakeProvider {
	return &FakeProvider{}
}

// WithVendor makes every connection report vendor as its database system.
func (p *FakeProvider) WithVendor(vendor string) *FakeProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.vendor = vendor
	return p
}

// WithAutoCommitDisabled hands out connections whose autocommit flag is already false,
// which is how a leaked connection looks to the coordinator.
func (p *FakeProvider) WithAutoCommitDisabled() *FakeProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.autoCommitOff = true
	return p
}

// BlockAcquire makes Acquire wait until ch is closed or the context is done.
func (p *FakeProvider) BlockAcquire(ch <-chan struct{}) *FakeProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.acquireBlockUntil = ch
	return p
}

// FailAcquire makes Acquire return err.
func (p *FakeProvider) FailAcquire(err error) *FakeProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.acquireErr = err
	return p
}

// FailRelease makes Release return err. The release is still recorded.
func (p *FakeProvider) FailRelease(err error) *FakeProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.releaseErr = err
	return p
}

// FailCommit makes Commit return err on subsequently acquired connections.
func (p *FakeProvider) FailCommit(err error) *FakeProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.commitErr = err
	return p
}

// FailRollback makes Rollback return err on subsequently acquired connections.
func (p *FakeProvider) FailRollback(err error) *FakeProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rollbackErr = err
	return p
}

// FailSetAutoCommit makes SetAutoCommit(enabled) return err on subsequently
// acquired connections. The flag is left unchanged when the call fails.
func (p *FakeProvider) FailSetAutoCommit(enabled bool, err error) *FakeProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	if enabled {
		p.autoCommitOnErr = err
	} else {
		p.autoCommitOffErr = err
	}
	return p
}

// Acquire implements transaction.ConnectionProvider.
func (p *FakeProvider) Acquire(ctx context.Context) (transaction.Connection, error) {
	p.mu.Lock()
	block := p.acquireBlockUntil
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls = append(p.calls, CallAcquire)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.acquireErr != nil {
		return nil, p.acquireErr
	}

	conn := &FakeConnection{
		provider:         p,
		id:               len(p.conns) + 1,
		autoCommit:       !p.autoCommitOff,
		vendor:           p.vendor,
		commitErr:        p.commitErr,
		rollbackErr:      p.rollbackErr,
		autoCommitOffErr: p.autoCommitOffErr,
		autoCommitOnErr:  p.autoCommitOnErr,
	}
	p.conns = append(p.conns, conn)
	return conn, nil
}

// Release implements transaction.ConnectionProvider. A cancelled context
// makes the release fail without returning the connection, like a pool
// that gives up waiting.
func (p *FakeProvider) Release(ctx context.Context, conn transaction.Connection) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls = append(p.calls, CallRelease)
	fc, ok := conn.(*FakeConnection)
	if !ok || fc.provider != p {
		return fmt.Errorf("release %T: %w", conn, ErrForeignConnection)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	fc.releases++
	return p.releaseErr
}

// Calls returns a copy of the ordered call log.
func (p *FakeProvider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Call, len(p.calls))
	copy(out, p.calls)
	return out
}

// Count returns how many times call was recorded.
func (p *FakeProvider) Count(call Call) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		if c == call {
			n++
		}
	}
	return n
}

// Connections returns every connection handed out, in acquisition order.
func (p *FakeProvider) Connections() []*FakeConnection {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*FakeConnection, len(p.conns))
	copy(out, p.conns)
	return out
}

// Outstanding returns the number of acquired connections never released.
func (p *FakeProvider) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.conns {
		if c.releases == 0 {
			n++
		}
	}
	return n
}

// Reset clears the call log and forgets handed-out connections. Configured failures are kept.
func (p *FakeProvider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = nil
	p.conns = nil
}

func (p *FakeProvider) record(call Call) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
}

// FakeConnection is the transaction.Connection handed out by FakeProvider.
type FakeConnection struct {
	provider *FakeProvider
	id       int
	vendor   string

	// guarded by provider.mu
	autoCommit       bool
	releases         int
	commits          int
	rollbacks        int
	commitErr        error
	rollbackErr      error
	autoCommitOffErr error
	autoCommitOnErr  error
}

var _ transaction.Connection = (*FakeConnection)(nil)

// ID returns the 1-based acquisition index of the connection.
func (c *FakeConnection) ID() int { return c.id }

// Vendor reports the configured database system, if any.
func (c *FakeConnection) Vendor() string { return c.vendor }

// AutoCommit implements transaction.Connection.
func (c *FakeConnection) AutoCommit() bool {
	c.provider.mu.Lock()
	defer c.provider.mu.Unlock()
	return c.autoCommit
}

// SetAutoCommit implements transaction.Connection.
func (c *FakeConnection) SetAutoCommit(_ context.Context, enabled bool) error {
	call, errp := CallAutoCommitOff, &c.autoCommitOffErr
	if enabled {
		call, errp = CallAutoCommitOn, &c.autoCommitOnErr
	}
	c.provider.record(call)

	c.provider.mu.Lock()
	defer c.provider.mu.Unlock()
	if *errp != nil {
		return *errp
	}
	c.autoCommit = enabled
	return nil
}

// Commit implements transaction.Connection.
func (c *FakeConnection) Commit(_ context.Context) error {
	c.provider.record(CallCommit)

	c.provider.mu.Lock()
	defer c.provider.mu.Unlock()
	if c.commitErr != nil {
		return c.commitErr
	}
	c.commits++
	return nil
}

// Rollback implements transaction.Connection.
func (c *FakeConnection) Rollback(_ context.Context) error {
	c.provider.record(CallRollback)

	c.provider.mu.Lock()
	defer c.provider.mu.Unlock()
	if c.rollbackErr != nil {
		return c.rollbackErr
	}
	c.rollbacks++
	return nil
}

// Releases returns how many times the connection was handed back.
func (c *FakeConnection) Releases() int {
	c.provider.mu.Lock()
	defer c.provider.mu.Unlock()
	return c.releases
}

// Commits returns the number of successful commits.
func (c *FakeConnection) Commits() int {
	c.provider.mu.Lock()
	defer c.provider.mu.Unlock()
	return c.commits
}

// Rollbacks returns the number of successful rollbacks.
func (c *FakeConnection) Rollbacks() int {
	c.provider.mu.Lock()
	defer c.provider.mu.Unlock()
	return c.rollbacks
}
