package transaction

import (
	"context"
	"errors"
)

// Run executes fn inside a logical transaction. It attaches a State to ctx
// when none is present, so nested Run calls share the outer transaction.
//
// A nil result from fn commits; an error or a panic rolls back the whole
// top-level transaction and the panic is re-raised afterwards. When an inner
// Run already rolled back, the outer Run does not roll back again, and an
// outer fn that swallows the inner error gets a protocol violation from the
// final Commit instead of a silent success.
//
// The rollback resets the depth to zero, so the outer unit is not atomic
// after a swallowed failure: a Run issued later by the same outer fn starts
// and commits its own physical transaction before the outer Run reports the
// violation. Callers must propagate inner errors to keep all-or-nothing.
func (c *Coordinator) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx = WithState(ctx)
	st, _ := StateFromContext(ctx)

	if err := c.Begin(ctx); err != nil {
		return err
	}

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if st.Active() {
			if rbErr := c.Rollback(ctx); rbErr != nil {
				c.log.Error().Err(rbErr).Msg("rollback after panic failed")
			}
		}
		panic(r)
	}()

	if err := fn(ctx); err != nil {
		if !st.Active() {
			return err
		}
		if rbErr := c.Rollback(ctx); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}

	return c.Commit(ctx)
}
