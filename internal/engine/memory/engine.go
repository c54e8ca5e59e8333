// Package memory is a process-local engine speaking the session and
// transaction-id protocol: sessions are leased, a query may open a
// transaction and report its id, later queries continue it by id.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nikmy/remotetx/pkg/errors"
	"github.com/nikmy/remotetx/pkg/logger"
	"github.com/nikmy/remotetx/pkg/txn"
)

type Config struct {
	// TxTTL drops transactions idle for longer, 0 keeps them forever.
	TxTTL time.Duration `yaml:"txTTL"`
	// SessionTTL drops sessions without activity for longer, 0 keeps them forever.
	SessionTTL time.Duration `yaml:"sessionTTL"`
}

type Engine struct {
	mu       sync.Mutex
	data     map[string]string
	sessions map[string]*sessionState

	cfg Config
	now func() time.Time
	log logger.Logger
}

type sessionState struct {
	lastSeen time.Time
	tx       *transaction
}

type transaction struct {
	id       string
	writes   map[string]*string
	lastUsed time.Time
}

func New(log logger.Logger, cfg Config) *Engine {
	return &Engine{
		data:     make(map[string]string),
		sessions: make(map[string]*sessionState),
		cfg:      cfg,
		now:      time.Now,
		log:      log.With("memory_engine"),
	}
}

func (e *Engine) CreateSession(ctx context.Context) (txn.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, txn.NewRemoteError("create session", true, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	id := uuid.NewString()
	e.sessions[id] = &sessionState{lastSeen: e.now()}

	return &Session{engine: e, id: id}, nil
}

// Sessions returns the number of live sessions.
func (e *Engine) Sessions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

func notFound(op string, format string, args ...any) error {
	return txn.NewRemoteError(op, false, errors.Mark(errors.Errorf(format, args...), txn.ErrNotFound))
}

// session must be called with e.mu held.
func (e *Engine) session(op string, id string) (*sessionState, error) {
	st, ok := e.sessions[id]
	if !ok {
		return nil, notFound(op, "session %s", id)
	}

	now := e.now()
	if e.cfg.SessionTTL > 0 && now.Sub(st.lastSeen) > e.cfg.SessionTTL {
		delete(e.sessions, id)
		e.log.Debugf("session %s expired", id)
		return nil, notFound(op, "session %s", id)
	}

	st.lastSeen = now
	return st, nil
}

// tx must be called with e.mu held.
func (e *Engine) tx(op string, st *sessionState, id string) (*transaction, error) {
	tx := st.tx
	if tx == nil || tx.id != id {
		return nil, notFound(op, "transaction %s", id)
	}

	now := e.now()
	if e.cfg.TxTTL > 0 && now.Sub(tx.lastUsed) > e.cfg.TxTTL {
		st.tx = nil
		e.log.Debugf("transaction %s expired", id)
		return nil, notFound(op, "transaction %s", id)
	}

	tx.lastUsed = now
	return tx, nil
}

func (e *Engine) begin() *transaction {
	return &transaction{
		id:       uuid.NewString(),
		writes:   make(map[string]*string),
		lastUsed: e.now(),
	}
}

func (e *Engine) apply(tx *transaction, op Op) Result {
	switch op.Kind {
	case OpPut:
		value := op.Value
		tx.writes[op.Key] = &value
		return Result{}
	case OpDelete:
		tx.writes[op.Key] = nil
		return Result{}
	default:
		if tx != nil {
			if value, ok := tx.writes[op.Key]; ok {
				if value == nil {
					return Result{}
				}
				return Result{Value: *value, Found: true}
			}
		}
		value, found := e.data[op.Key]
		return Result{Value: value, Found: found}
	}
}

func (e *Engine) commit(tx *transaction) {
	for key, value := range tx.writes {
		if value == nil {
			delete(e.data, key)
			continue
		}
		e.data[key] = *value
	}
}

func (e *Engine) execute(ctx context.Context, sessionID string, control txn.Control, op Op) (Result, error) {
	const opName = "execute"

	if err := ctx.Err(); err != nil {
		return Result{}, txn.NewRemoteError(opName, true, err)
	}

	if !op.Kind.valid() {
		return Result{}, txn.NewRemoteError(opName, false, errors.Errorf("unknown op %s", op.Kind))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	st, err := e.session(opName, sessionID)
	if err != nil {
		return Result{}, err
	}

	if control.ReadOnly() {
		if op.writes() {
			return Result{}, txn.NewRemoteError(opName, false, errors.Errorf("%s under %s", op, control))
		}
		return e.apply(nil, op), nil
	}

	var tx *transaction
	if control.Begins() {
		if st.tx != nil {
			return Result{}, txn.NewRemoteError(opName, false, errors.Errorf("session %s is busy with %s", sessionID, st.tx.id))
		}
		tx = e.begin()
	} else {
		tx, err = e.tx(opName, st, control.TxID())
		if err != nil {
			return Result{}, err
		}
	}

	res := e.apply(tx, op)

	if control.Commits() {
		e.commit(tx)
		st.tx = nil
		return res, nil
	}

	st.tx = tx
	res.TxID = tx.id
	return res, nil
}

func (e *Engine) finish(ctx context.Context, op string, sessionID string, txID string, apply bool) error {
	if err := ctx.Err(); err != nil {
		return txn.NewRemoteError(op, true, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	st, err := e.session(op, sessionID)
	if err != nil {
		return err
	}

	tx, err := e.tx(op, st, txID)
	if err != nil {
		return err
	}

	if apply {
		e.commit(tx)
	}
	st.tx = nil
	return nil
}

func (e *Engine) keepAlive(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return txn.NewRemoteError("keep alive", true, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	_, err := e.session("keep alive", sessionID)
	return err
}

func (e *Engine) closeSession(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.sessions[sessionID]
	if !ok {
		e.log.Debugf("close unknown session %s", sessionID)
		return
	}

	if st.tx != nil {
		e.log.Debugf("transaction %s dropped with session %s", st.tx.id, sessionID)
	}
	delete(e.sessions, sessionID)
}
