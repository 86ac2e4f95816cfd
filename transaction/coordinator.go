// Package transaction coordinates reference-counted nested transactions.
//
// Every caller in a call chain may Begin and Commit as if it owned the
// transaction. Only the outermost Begin acquires a connection and disables
// autocommit, and only the matching outermost Commit commits and releases it.
// Rollback is depth-independent: any participant aborts the whole unit of
// work and the state returns to Idle.
//
// The shared state travels in a context.Context (see WithState). All three
// operations on one State are serialized by the State's mutex; a Rollback
// racing a Commit is resolved by whichever locks first, and the loser
// observes an Idle state.
package transaction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/gaborage/txnest/logger"
)

// Coordinator maps nested logical transactions onto one physical transaction.
// A Coordinator holds no per-transaction state and is safe for concurrent use
// by independent transactions.
type Coordinator struct {
	provider ConnectionProvider
	log      logger.Logger
	tp       trace.TracerProvider
	mp       metric.MeterProvider
	instr    *instruments
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log logger.Logger) Option {
	return func(c *Coordinator) {
		if log != nil {
			c.log = log
		}
	}
}

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Coordinator) {
		if tp != nil {
			c.tp = tp
		}
	}
}

// WithMeterProvider overrides the global meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *Coordinator) {
		if mp != nil {
			c.mp = mp
		}
	}
}

// New creates a Coordinator drawing connections from provider, which must not be nil.
func New(provider ConnectionProvider, opts ...Option) *Coordinator {
	c := &Coordinator{
		provider: provider,
		log:      logger.Nop(),
		tp:       otel.GetTracerProvider(),
		mp:       otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.instr = newInstruments(c.tp, c.mp, c.log)
	return c
}

// Begin opens a logical transaction on the State carried by ctx.
//
// The outermost Begin acquires a connection, requires the slot to be empty
// and the connection to be in autocommit mode, then disables autocommit.
// Nested calls only increase the depth. On failure the acquired connection is
// released and the State is left exactly as it was found.
func (c *Coordinator) Begin(ctx context.Context) error {
	st, ok := StateFromContext(ctx)
	if !ok {
		return c.violation(ctx, OpBegin, ReasonNoState)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	prev := st.depth
	st.depth++
	if st.depth > 1 {
		c.instr.recordOperation(ctx, OpBegin, false, nil)
		return nil
	}

	txID := uuid.NewString()
	spanCtx, span := c.instr.startSpan(ctx, spanBegin, txID, st.depth, "")

	conn, err := c.beginPhysical(spanCtx, st)
	if err != nil {
		st.depth = prev
		endSpan(span, err)
		c.instr.recordOperation(ctx, OpBegin, true, err)
		c.logFailure(OpBegin, err)
		return err
	}

	st.conn = conn
	st.id = txID
	st.started = time.Now()
	if vendor := vendorOf(conn); vendor != "" {
		span.SetAttributes(attribute.String(attrDBSystem, vendor))
	}
	endSpan(span, nil)

	c.instr.recordOperation(ctx, OpBegin, true, nil)
	c.instr.transactionStarted(ctx)
	c.log.Debug().Str("tx_id", txID).Int("depth", st.depth).Msg("transaction started")
	return nil
}

func (c *Coordinator) beginPhysical(ctx context.Context, st *State) (Connection, error) {
	conn, err := c.provider.Acquire(ctx)
	if err != nil {
		return nil, newDataAccessError(OpBegin, fmt.Errorf("acquire connection: %w", err))
	}
	if conn == nil {
		return nil, newDataAccessError(OpBegin, errors.New("acquire connection: provider returned nil"))
	}

	if st.conn != nil {
		return nil, c.abandon(ctx, OpBegin, conn, newProtocolViolation(OpBegin, ReasonConnectionNotNil))
	}
	if !conn.AutoCommit() {
		return nil, c.abandon(ctx, OpBegin, conn, newProtocolViolation(OpBegin, ReasonAutoCommitDisabled))
	}
	if err := conn.SetAutoCommit(ctx, false); err != nil {
		return nil, c.abandon(ctx, OpBegin, conn, newDataAccessError(OpBegin, fmt.Errorf("disable autocommit: %w", err)))
	}
	return conn, nil
}

// Commit closes a logical transaction. Nested calls only decrease the depth;
// the outermost call commits, re-enables autocommit and releases the
// connection. Release is attempted even when the earlier steps fail.
func (c *Coordinator) Commit(ctx context.Context) error {
	st, ok := StateFromContext(ctx)
	if !ok {
		return c.violation(ctx, OpCommit, ReasonNoState)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.depth <= 0 {
		st.depth = 0
		return c.violation(ctx, OpCommit, ReasonNoActiveTransaction)
	}

	st.depth--
	if st.depth > 0 {
		c.instr.recordOperation(ctx, OpCommit, false, nil)
		return nil
	}

	conn := st.conn
	st.conn = nil
	if conn == nil {
		return c.violation(ctx, OpCommit, ReasonNoActiveTransaction)
	}

	spanCtx, span := c.instr.startSpan(ctx, spanCommit, st.id, 1, vendorOf(conn))
	err := c.finishPhysical(spanCtx, OpCommit, conn, conn.Commit)
	endSpan(span, err)

	c.instr.recordOperation(ctx, OpCommit, true, err)
	c.instr.transactionEnded(ctx, OpCommit, st.started, err)
	if err != nil {
		c.logFailure(OpCommit, err)
		return err
	}

	c.log.Debug().Str("tx_id", st.id).Int("depth", 0).Msg("transaction committed")
	return nil
}

// Rollback aborts the whole top-level transaction from any depth. The
// connection is rolled back, autocommit is re-enabled, the depth is reset
// to zero and the connection is released, even when earlier steps fail.
// The State can begin a new transaction afterwards.
func (c *Coordinator) Rollback(ctx context.Context) error {
	st, ok := StateFromContext(ctx)
	if !ok {
		return c.violation(ctx, OpRollback, ReasonNoState)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	depth := st.depth
	conn := st.conn
	st.conn = nil
	st.depth = 0
	if conn == nil {
		return c.violation(ctx, OpRollback, ReasonNoActiveTransaction)
	}

	spanCtx, span := c.instr.startSpan(ctx, spanRollback, st.id, depth, vendorOf(conn))
	err := c.finishPhysical(spanCtx, OpRollback, conn, conn.Rollback)
	endSpan(span, err)

	c.instr.recordOperation(ctx, OpRollback, true, err)
	c.instr.transactionEnded(ctx, OpRollback, st.started, err)
	if err != nil {
		c.logFailure(OpRollback, err)
		return err
	}

	c.log.Debug().Str("tx_id", st.id).Int("depth", depth).Msg("transaction rolled back")
	return nil
}

// finishPhysical runs the terminal step (commit or rollback), re-enables
// autocommit and releases the connection. Every step runs regardless of
// earlier failures and all failures are joined into one DataAccessError.
func (c *Coordinator) finishPhysical(ctx context.Context, op string, conn Connection, terminal func(context.Context) error) error {
	var errs []error
	if err := terminal(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := conn.SetAutoCommit(ctx, true); err != nil {
		errs = append(errs, fmt.Errorf("enable autocommit: %w", err))
	}
	if err := c.release(ctx, op, conn); err != nil {
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil
	}
	return newDataAccessError(op, errors.Join(errs...))
}

// abandon releases a connection that never made it into the State and
// returns cause, joined with the release failure if there was one.
func (c *Coordinator) abandon(ctx context.Context, op string, conn Connection, cause error) error {
	if err := c.release(ctx, op, conn); err != nil {
		return errors.Join(cause, newDataAccessError(op, err))
	}
	return cause
}

// release hands conn back to the provider. Cancellation of ctx must not leak
// the connection, so the provider sees a context that is never cancelled.
func (c *Coordinator) release(ctx context.Context, op string, conn Connection) error {
	if err := c.provider.Release(context.WithoutCancel(ctx), conn); err != nil {
		c.log.Error().Err(err).Str("operation", op).Msg("failed to release connection")
		return fmt.Errorf("release connection: %w", err)
	}
	return nil
}

func (c *Coordinator) violation(ctx context.Context, op, reason string) error {
	err := newProtocolViolation(op, reason)
	c.instr.recordOperation(ctx, op, false, err)
	c.log.Warn().Str("operation", op).Str("reason", reason).Msg("transaction protocol violation")
	return err
}

func (c *Coordinator) logFailure(op string, err error) {
	if IsProtocolViolation(err) {
		c.log.Warn().Err(err).Str("operation", op).Msg("transaction protocol violation")
		return
	}
	c.log.Error().Err(err).Str("operation", op).Msg("transaction operation failed")
}
