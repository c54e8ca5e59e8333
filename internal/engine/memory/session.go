package memory

import (
	"context"

	"github.com/nikmy/remotetx/pkg/errors"
	"github.com/nikmy/remotetx/pkg/txn"
)

type Session struct {
	engine *Engine
	id     string
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Commit(ctx context.Context, txID string) error {
	return s.engine.finish(ctx, "commit", s.id, txID, true)
}

func (s *Session) Rollback(ctx context.Context, txID string) error {
	return s.engine.finish(ctx, "rollback", s.id, txID, false)
}

func (s *Session) KeepAlive(ctx context.Context) error {
	return s.engine.keepAlive(ctx, s.id)
}

func (s *Session) Close(context.Context) {
	s.engine.closeSession(s.id)
}

// Execute runs op under control and reports the transaction left open in
// Result.TxID.
func (s *Session) Execute(ctx context.Context, control txn.Control, op Op) (Result, error) {
	return s.engine.execute(ctx, s.id, control, op)
}

// Run adapts op to a query callback for a connection, the result lands in out.
func Run(op Op, out *Result) func(context.Context, txn.Session, txn.Control) (string, error) {
	return func(ctx context.Context, session txn.Session, control txn.Control) (string, error) {
		s, ok := session.(*Session)
		if !ok {
			return "", errors.Errorf("session %T does not belong to memory engine", session)
		}

		res, err := s.Execute(ctx, control, op)
		if err != nil {
			return "", err
		}

		if out != nil {
			*out = res
		}
		return res.TxID, nil
	}
}
