package conn

import (
	"context"
	"database/sql"
	"time"

	"github.com/nikmy/remotetx/internal/txstate"
	"github.com/nikmy/remotetx/pkg/errors"
	"github.com/nikmy/remotetx/pkg/logger"
	"github.com/nikmy/remotetx/pkg/txn"
)

// QueryFunc sends one query over session with the given control and
// reports the transaction the engine left open ("" when none).
type QueryFunc func(ctx context.Context, session txn.Session, control txn.Control) (txID string, err error)

// Conn is a logical connection with autocommit, commit/rollback and
// isolation semantics on top of an engine that only knows sessions and
// transaction ids.
//
// Conn is NOT safe for concurrent use. It holds no locks on purpose: a
// logical connection must be driven by one goroutine at a time, callers
// that need concurrency open one Conn per goroutine.
type Conn struct {
	state    txstate.State
	provider txn.SessionProvider
	cfg      Config
	log      logger.Logger
}

func New(log logger.Logger, cfg Config, provider txn.SessionProvider) (*Conn, error) {
	state, err := txstate.NewIdle(cfg.Isolation, cfg.AutoCommit)
	if err != nil {
		return nil, errors.WrapFail(err, "init transaction state")
	}

	return &Conn{
		state:    state,
		provider: provider,
		cfg:      cfg,
		log:      log.With("conn"),
	}, nil
}

func (c *Conn) current() (txstate.State, error) {
	if c.state == nil {
		return nil, txn.ErrConnectionClosed
	}
	return c.state, nil
}

func (c *Conn) update(next txstate.State) {
	_, wasActive := c.state.(*txstate.Active)
	_, isActive := next.(*txstate.Active)

	switch {
	case isActive && !wasActive:
		activeTxGauge.Inc()
	case wasActive && !isActive:
		activeTxGauge.Dec()
	}

	c.state = next
}

func (c *Conn) transition(do func(txstate.State) (txstate.State, error)) error {
	s, err := c.current()
	if err != nil {
		return err
	}

	next, err := do(s)
	if err != nil {
		return err
	}

	c.update(next)
	return nil
}

func (c *Conn) SetAutoCommit(autoCommit bool) error {
	return c.transition(func(s txstate.State) (txstate.State, error) {
		return txstate.WithAutoCommit(s, autoCommit)
	})
}

func (c *Conn) AutoCommit() (bool, error) {
	s, err := c.current()
	if err != nil {
		return false, err
	}
	return txstate.AutoCommit(s), nil
}

func (c *Conn) SetTransactionIsolation(level txn.IsolationLevel) error {
	return c.transition(func(s txstate.State) (txstate.State, error) {
		return txstate.WithLevel(s, level)
	})
}

// SetSQLIsolation accepts database/sql levels, sql.LevelDefault
// resolves to the configured isolation.
func (c *Conn) SetSQLIsolation(level sql.IsolationLevel) error {
	lvl, err := txn.FromSQL(level, c.cfg.Isolation)
	if err != nil {
		return err
	}
	return c.SetTransactionIsolation(lvl)
}

func (c *Conn) TransactionIsolation() (txn.IsolationLevel, error) {
	s, err := c.current()
	if err != nil {
		return 0, err
	}
	return txstate.Level(s), nil
}

func (c *Conn) SetReadOnly(readOnly bool) error {
	return c.transition(func(s txstate.State) (txstate.State, error) {
		return txstate.WithReadOnly(s, readOnly)
	})
}

func (c *Conn) IsReadOnly() (bool, error) {
	s, err := c.current()
	if err != nil {
		return false, err
	}
	return txstate.ReadOnly(s), nil
}

// TransactionID returns the open transaction id, if any.
func (c *Conn) TransactionID() (string, bool) {
	if c.state == nil {
		return "", false
	}
	return txstate.ID(c.state)
}

// Commit commits the open transaction, a no-op when there is none.
//
// When the engine no longer knows the transaction the connection still
// leaves it, and the returned error matches txn.ErrNotFound. Any other
// failure keeps the transaction open so the caller may retry or roll back.
func (c *Conn) Commit(ctx context.Context) error {
	return c.finish(ctx, outcomeCommit, txn.Session.Commit, txstate.WithCommit)
}

// Rollback mirrors Commit.
func (c *Conn) Rollback(ctx context.Context) error {
	return c.finish(ctx, outcomeRollback, txn.Session.Rollback, txstate.WithRollback)
}

func (c *Conn) finish(
	ctx context.Context,
	op string,
	call func(txn.Session, context.Context, string) error,
	fold func(context.Context, txstate.State) txstate.State,
) error {
	s, err := c.current()
	if err != nil {
		return err
	}

	id, open := txstate.ID(s)
	if !open {
		return nil
	}

	err = call(txstate.Owned(s), ctx, id)
	switch {
	case err == nil:
		txOutcomeCounter.WithLabelValues(op).Inc()
		c.log.Debugf("%s %s", op, id)
	case txn.IsNotFound(err):
		txOutcomeCounter.WithLabelValues(outcomeExpired).Inc()
		c.log.Warnf("%s %s: transaction is already gone: %s", op, id, err)
	default:
		txOutcomeCounter.WithLabelValues(outcomeFailed).Inc()
		return errors.WrapFailf(err, "%s transaction %s", op, id)
	}

	c.update(fold(ctx, s))
	return errors.WrapFailf(err, "%s transaction %s", op, id)
}

// Query runs fn with the session and control derived from the current
// state and folds its outcome back.
func (c *Conn) Query(ctx context.Context, fn QueryFunc) error {
	s, err := c.current()
	if err != nil {
		return err
	}

	session, err := txstate.Session(ctx, s, c.provider)
	if err != nil {
		return err
	}

	control := txstate.Control(s)

	txID, err := fn(ctx, session, control)
	if err != nil {
		if id, open := txstate.ID(s); open {
			txOutcomeCounter.WithLabelValues(outcomeQueryError).Inc()
			c.log.Warnf("transaction %s is aborted by failed query", id)
		}
		c.update(txstate.WithQueryError(ctx, s, session))
		return errors.WrapFailf(err, "execute query with %s", control)
	}

	next, err := txstate.WithDataQuery(ctx, s, session, txID)
	if err != nil {
		c.log.Error(errors.Wrapf(err, "closing connection after query with %s", control))
		c.Close(ctx)
		return err
	}

	if _, open := txstate.ID(s); !open && txID != "" {
		c.log.Debugf("begin %s", txID)
	}

	c.update(next)
	return nil
}

// IsValid pings the engine through the owned or a fresh session.
// timeout <= 0 falls back to the configured one, and with no configured
// one the call is bounded by ctx only.
func (c *Conn) IsValid(ctx context.Context, timeout time.Duration) bool {
	s, err := c.current()
	if err != nil {
		return false
	}

	if timeout <= 0 {
		timeout = c.cfg.KeepAliveTimeout
	}

	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	session, err := txstate.Session(callCtx, s, c.provider)
	if err != nil {
		keepAliveCounter.WithLabelValues("failed").Inc()
		c.log.Warn(errors.WrapFail(err, "keep alive"))
		return false
	}

	err = session.KeepAlive(callCtx)
	next := txstate.WithKeepAlive(ctx, s, session)

	if err != nil {
		keepAliveCounter.WithLabelValues("failed").Inc()
		c.log.Warn(errors.WrapFail(err, "keep alive"))

		if txn.IsNotFound(err) {
			// the engine has dropped the session together with its transaction
			next = txstate.WithRollback(ctx, next)
		}
		c.update(next)
		return false
	}

	keepAliveCounter.WithLabelValues("ok").Inc()
	c.update(next)
	return true
}

// Close releases the owned session, if any. Repeated calls are no-ops.
func (c *Conn) Close(ctx context.Context) {
	if c.state == nil {
		return
	}

	if _, open := txstate.ID(c.state); open {
		c.log.Infof("closing connection in %s", c.state)
	} else {
		c.log.Debugf("closing connection in %s", c.state)
	}

	txstate.Release(ctx, c.state)
	c.update(nil)
}

func (c *Conn) IsClosed() bool {
	return c.state == nil
}
