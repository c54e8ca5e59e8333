package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"github.com/nikmy/remotetx/pkg/errors"
	"github.com/nikmy/remotetx/pkg/logger"
	"github.com/nikmy/remotetx/pkg/mongotools"
	"github.com/nikmy/remotetx/pkg/txn"
)

// Session wraps a logical session. Transaction ids are "<lsid>:<n>" where n
// counts the transactions started on the session.
type Session struct {
	engine *Engine
	s      mongo.Session
	id     string
	log    logger.Logger

	started int
	txID    string
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) checkTx(op string, txID string) error {
	if txID == "" || txID != s.txID {
		return txn.NewRemoteError(op, false, errors.Mark(errors.Errorf("transaction %s", txID), txn.ErrNotFound))
	}
	return nil
}

func (s *Session) Commit(ctx context.Context, txID string) error {
	if err := s.checkTx("commit", txID); err != nil {
		return err
	}

	err := classify("commit", s.s.CommitTransaction(mongo.NewSessionContext(ctx, s.s)))
	if err == nil || txn.IsNotFound(err) {
		s.txID = ""
	}
	return err
}

func (s *Session) Rollback(ctx context.Context, txID string) error {
	if err := s.checkTx("rollback", txID); err != nil {
		return err
	}

	err := classify("rollback", s.s.AbortTransaction(mongo.NewSessionContext(ctx, s.s)))
	if err == nil || txn.IsNotFound(err) {
		s.txID = ""
	}
	return err
}

func (s *Session) KeepAlive(ctx context.Context) error {
	return s.engine.refresh(ctx, s.s.ID())
}

// Close ends the session, the server aborts a transaction left open.
func (s *Session) Close(ctx context.Context) {
	if s.txID != "" {
		s.log.Debugf("ending session %s with open transaction %s", s.id, s.txID)
	}
	s.txID = ""
	s.s.EndSession(ctx)
}

// Execute runs cmd on the engine database under control and returns the
// reply with the transaction left open ("" when none).
func (s *Session) Execute(ctx context.Context, control txn.Control, cmd bson.D) (bson.Raw, string, error) {
	sctx := mongo.NewSessionContext(ctx, s.s)

	if control.ReadOnly() {
		rp, concern := readPolicy(control.Level(), s.engine.cfg.MaxStaleness)
		cmd = mongotools.SetDefault(cmd, "readConcern", bson.D{{Key: "level", Value: concern}})

		raw, err := s.engine.db.RunCommand(sctx, cmd, options.RunCmd().SetReadPreference(rp)).Raw()
		return raw, "", classify("execute", err)
	}

	if control.Begins() {
		if s.txID != "" {
			return nil, "", txn.NewRemoteError("execute", false, errors.Errorf("session %s is busy with %s", s.id, s.txID))
		}

		err := s.s.StartTransaction(
			options.Transaction().
				SetReadConcern(readconcern.Snapshot()).
				SetWriteConcern(writeconcern.Majority()),
		)
		if err != nil {
			return nil, "", classify("begin", err)
		}

		s.started++
		s.txID = fmt.Sprintf("%s:%d", s.id, s.started)
	} else if err := s.checkTx("execute", control.TxID()); err != nil {
		return nil, "", err
	}

	raw, err := s.engine.db.RunCommand(sctx, cmd).Raw()
	if err != nil {
		abortErr := s.s.AbortTransaction(sctx)
		if abortErr != nil {
			s.log.Debug(errors.WrapFailf(abortErr, "abort %s after failed command", s.txID))
		}
		s.txID = ""
		return nil, "", classify("execute", err)
	}

	if control.Commits() {
		err = s.s.CommitTransaction(sctx)
		s.txID = ""
		return raw, "", classify("commit", err)
	}

	return raw, s.txID, nil
}

// Run adapts cmd to a query callback for a connection, the reply lands in out.
func Run(cmd bson.D, out *bson.Raw) func(context.Context, txn.Session, txn.Control) (string, error) {
	return func(ctx context.Context, session txn.Session, control txn.Control) (string, error) {
		s, ok := session.(*Session)
		if !ok {
			return "", errors.Errorf("session %T does not belong to mongo engine", session)
		}

		raw, txID, err := s.Execute(ctx, control, cmd)
		if err != nil {
			return "", err
		}

		if out != nil {
			*out = raw
		}
		return txID, nil
	}
}
