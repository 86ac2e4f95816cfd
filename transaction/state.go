package transaction

import (
	"context"
	"sync"
	"time"
)

// State is the transaction-scoped storage shared by a top-level transaction
// and every transaction nested inside it. It is Idle when depth is zero and
// no connection is held, and Active(depth) otherwise.
//
// All fields are guarded by mu, which Begin, Commit and Rollback hold for the
// whole operation. The read accessors take the same lock, so they must not be
// called from Connection or ConnectionProvider implementations.
type State struct {
	mu      sync.Mutex
	depth   int
	conn    Connection
	id      string
	started time.Time
}

type stateKey struct{}

// WithState returns a context carrying a fresh Idle State, or ctx unchanged
// when it already carries one. Nested callers that pass the returned context
// along share the same State.
func WithState(ctx context.Context) context.Context {
	if _, ok := StateFromContext(ctx); ok {
		return ctx
	}
	return context.WithValue(ctx, stateKey{}, &State{})
}

// StateFromContext returns the State attached by WithState.
func StateFromContext(ctx context.Context) (*State, bool) {
	if ctx == nil {
		return nil, false
	}
	st, ok := ctx.Value(stateKey{}).(*State)
	return st, ok && st != nil
}

// ConnectionFromContext returns the connection held by the active transaction
// in ctx. It reports false outside a transaction.
func ConnectionFromContext(ctx context.Context) (Connection, bool) {
	st, ok := StateFromContext(ctx)
	if !ok {
		return nil, false
	}
	conn := st.Connection()
	return conn, conn != nil
}

// Depth returns the current nesting depth.
func (s *State) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.depth
}

// Connection returns the held connection, or nil when Idle.
func (s *State) Connection() Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// ID returns the identifier of the current top-level transaction. The value
// survives the end of the transaction until the next physical begin.
func (s *State) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Active reports whether a physical transaction is in progress.
func (s *State) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.depth > 0 && s.conn != nil
}
