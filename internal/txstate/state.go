// Package txstate holds the per-connection transaction state machine.
//
// A State is either *Idle (no open transaction) or *Active (a transaction
// open on the engine, backed by a session the state exclusively owns).
// States are never mutated: every transition returns the next state, and an
// unchanged transition returns the very same pointer. Transitions that end an
// Active state close its session exactly once.
package txstate

import (
	"context"
	"fmt"

	"github.com/nikmy/remotetx/pkg/errors"
	"github.com/nikmy/remotetx/pkg/txn"
)

type State interface {
	sealed()
}

type Idle struct {
	level      txn.IsolationLevel
	autoCommit bool
	control    txn.Control
}

type Active struct {
	id         string
	session    txn.Session
	autoCommit bool
}

func (*Idle) sealed()   {}
func (*Active) sealed() {}

func NewIdle(level txn.IsolationLevel, autoCommit bool) (*Idle, error) {
	if !level.Valid() {
		return nil, errors.Wrapf(txn.ErrUnsupportedIsolationLevel, "%s", level)
	}
	return newIdle(level, autoCommit), nil
}

func newIdle(level txn.IsolationLevel, autoCommit bool) *Idle {
	control := txn.Snapshot(level)
	if !level.ReadOnly() {
		control = txn.BeginTx(autoCommit)
	}

	return &Idle{
		level:      level,
		autoCommit: autoCommit,
		control:    control,
	}
}

func newActive(id string, session txn.Session, autoCommit bool) *Active {
	return &Active{
		id:         id,
		session:    session,
		autoCommit: autoCommit,
	}
}

// DeferredBegin reports whether the next query opens a transaction
// that stays open after the query.
func (i *Idle) DeferredBegin() bool {
	return i.level == txn.SerializableReadWrite && !i.autoCommit
}

func (i *Idle) String() string {
	return fmt.Sprintf("idle(%s, autocommit=%t)", i.level, i.autoCommit)
}

func (a *Active) String() string {
	return fmt.Sprintf("active(%s, autocommit=%t)", a.id, a.autoCommit)
}

func unknown(s State) string {
	return fmt.Sprintf("txstate: unknown state %T", s)
}

func AutoCommit(s State) bool {
	switch st := s.(type) {
	case *Idle:
		return st.autoCommit
	case *Active:
		return st.autoCommit
	default:
		panic(unknown(s))
	}
}

func Level(s State) txn.IsolationLevel {
	switch st := s.(type) {
	case *Idle:
		return st.level
	case *Active:
		return txn.SerializableReadWrite
	default:
		panic(unknown(s))
	}
}

func ReadOnly(s State) bool {
	return Level(s).ReadOnly()
}

func ID(s State) (string, bool) {
	switch st := s.(type) {
	case *Idle:
		return "", false
	case *Active:
		return st.id, true
	default:
		panic(unknown(s))
	}
}

// Owned returns the session held by s, nil unless s is Active.
func Owned(s State) txn.Session {
	switch st := s.(type) {
	case *Idle:
		return nil
	case *Active:
		return st.session
	default:
		panic(unknown(s))
	}
}

// Control derives the directive the next query must be sent with.
func Control(s State) txn.Control {
	switch st := s.(type) {
	case *Idle:
		return st.control
	case *Active:
		return txn.ContinueTx(st.id, st.autoCommit)
	default:
		panic(unknown(s))
	}
}

func WithAutoCommit(s State, autoCommit bool) (State, error) {
	if AutoCommit(s) == autoCommit {
		return s, nil
	}

	switch st := s.(type) {
	case *Idle:
		return newIdle(st.level, autoCommit), nil
	case *Active:
		return s, errors.Wrapf(txn.ErrChangeInsideTransaction, "set autocommit=%t in %s", autoCommit, st.id)
	default:
		panic(unknown(s))
	}
}

func WithLevel(s State, level txn.IsolationLevel) (State, error) {
	if !level.Valid() {
		return s, errors.Wrapf(txn.ErrUnsupportedIsolationLevel, "%s", level)
	}

	if Level(s) == level {
		return s, nil
	}

	switch st := s.(type) {
	case *Idle:
		return newIdle(level, st.autoCommit), nil
	case *Active:
		return s, errors.Wrapf(txn.ErrChangeInsideTransaction, "set isolation %s in %s", level, st.id)
	default:
		panic(unknown(s))
	}
}

// WithReadOnly switches to OnlineConsistentReadOnly or SerializableReadWrite.
// A state already at some read-only level keeps it.
func WithReadOnly(s State, readOnly bool) (State, error) {
	level := Level(s)
	switch {
	case !readOnly:
		level = txn.SerializableReadWrite
	case !level.ReadOnly():
		level = txn.OnlineConsistentReadOnly
	}
	return WithLevel(s, level)
}

func WithCommit(ctx context.Context, s State) State {
	return finish(ctx, s)
}

func WithRollback(ctx context.Context, s State) State {
	return finish(ctx, s)
}

func finish(ctx context.Context, s State) State {
	switch st := s.(type) {
	case *Idle:
		return s
	case *Active:
		st.session.Close(ctx)
		return newIdle(txn.SerializableReadWrite, st.autoCommit)
	default:
		panic(unknown(s))
	}
}

// WithKeepAlive folds a keep-alive sent over session. A transient session
// is released, an owned one stays with s.
func WithKeepAlive(ctx context.Context, s State, session txn.Session) State {
	switch s.(type) {
	case *Idle, *Active:
		releaseTransient(ctx, s, session)
		return s
	default:
		panic(unknown(s))
	}
}

// WithDataQuery folds the outcome of a successful query sent over session:
// txID is the transaction the engine left open, empty when there is none.
func WithDataQuery(ctx context.Context, s State, session txn.Session, txID string) (State, error) {
	switch st := s.(type) {
	case *Idle:
		if txID == "" {
			releaseTransient(ctx, s, session)
			return s, nil
		}

		if st.level.ReadOnly() || session == nil {
			releaseTransient(ctx, s, session)
			return s, errors.Wrapf(txn.ErrInconsistentState, "%s query opened transaction %s", st.level, txID)
		}

		return newActive(txID, session, st.autoCommit), nil

	case *Active:
		if txID == "" {
			releaseTransient(ctx, s, session)
			return finish(ctx, s), nil
		}

		if txID == st.id && session == st.session {
			return s, nil
		}

		releaseTransient(ctx, s, session)
		return s, errors.Wrapf(
			txn.ErrInconsistentState,
			"query reported transaction %s while %s is open", txID, st.id,
		)

	default:
		panic(unknown(s))
	}
}

// WithQueryError folds a failed query: the engine drops the transaction
// the query ran in, so an Active state ends.
func WithQueryError(ctx context.Context, s State, session txn.Session) State {
	switch s.(type) {
	case *Idle, *Active:
		releaseTransient(ctx, s, session)
		return finish(ctx, s)
	default:
		panic(unknown(s))
	}
}

// Session returns the session the next call must use: the owned one when a
// transaction is open, a fresh transient one otherwise.
func Session(ctx context.Context, s State, provider txn.SessionProvider) (txn.Session, error) {
	switch st := s.(type) {
	case *Idle:
		session, err := provider.CreateSession(ctx)
		if err != nil {
			return nil, errors.WrapFail(err, "create session")
		}
		return session, nil
	case *Active:
		return st.session, nil
	default:
		panic(unknown(s))
	}
}

// Release closes the session owned by s, if any.
func Release(ctx context.Context, s State) {
	finish(ctx, s)
}

func releaseTransient(ctx context.Context, s State, session txn.Session) {
	if session != nil && session != Owned(s) {
		session.Close(ctx)
	}
}
