// Package mongo runs the session and transaction-id protocol on top of
// MongoDB logical sessions and multi-document transactions.
package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/nikmy/remotetx/pkg/errors"
	"github.com/nikmy/remotetx/pkg/logger"
	"github.com/nikmy/remotetx/pkg/mongotools"
	"github.com/nikmy/remotetx/pkg/txn"
)

const (
	codeNoSuchSession     = 206
	codeNoSuchTransaction = 251

	labelTransientTxn       = "TransientTransactionError"
	labelUnknownCommitState = "UnknownTransactionCommitResult"

	minMaxStaleness = 90 * time.Second
)

func Connect(ctx context.Context, log logger.Logger, cfg Config) (*Engine, error) {
	opts := options.Client().
		ApplyURI(cfg.URL).
		SetTimeout(cfg.Timeout).
		SetMinPoolSize(cfg.Pool.MinSize)

	if cfg.Pool.MaxSize > 0 {
		opts.SetMaxPoolSize(cfg.Pool.MaxSize)
	}

	if cfg.Auth.Username != "" {
		opts.SetAuth(options.Credential{
			Username: cfg.Auth.Username,
			Password: cfg.Auth.Password,
		})
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, errors.WrapFail(err, "connect to mongo db")
	}

	return &Engine{
		client: client,
		db:     client.Database(cfg.Database),
		cfg:    cfg,
		log:    log.With("mongo_engine"),
	}, nil
}

type Engine struct {
	client *mongo.Client
	db     *mongo.Database
	cfg    Config
	log    logger.Logger
}

func (e *Engine) CreateSession(ctx context.Context) (txn.Session, error) {
	s, err := e.client.StartSession(options.Session())
	if err != nil {
		return nil, classify("start session", err)
	}

	id, err := mongotools.SessionUUID(s.ID())
	if err != nil {
		s.EndSession(ctx)
		return nil, errors.WrapFail(err, "identify session")
	}

	return &Session{
		engine: e,
		s:      s,
		id:     id.String(),
		log:    e.log,
	}, nil
}

func (e *Engine) Close(ctx context.Context) error {
	err := e.client.Disconnect(ctx)
	return errors.WrapFail(err, "close mongo db connection")
}

func (e *Engine) refresh(ctx context.Context, lsid bson.Raw) error {
	cmd := mongotools.Command("refreshSessions", bson.A{lsid})
	err := e.client.Database("admin").RunCommand(ctx, cmd).Err()
	return classify("keep alive", err)
}

// readPolicy maps a read-only level onto a read preference and read concern.
func readPolicy(level txn.IsolationLevel, maxStaleness time.Duration) (*readpref.ReadPref, string) {
	switch level {
	case txn.OnlineInconsistentReadOnly:
		return readpref.Primary(), "local"
	case txn.StaleConsistentReadOnly:
		if maxStaleness < minMaxStaleness {
			maxStaleness = minMaxStaleness
		}
		return readpref.SecondaryPreferred(readpref.WithMaxStaleness(maxStaleness)), "local"
	default:
		return readpref.Primary(), "majority"
	}
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var srvErr mongo.ServerError
	if errors.As(err, &srvErr) {
		if srvErr.HasErrorCode(codeNoSuchTransaction) || srvErr.HasErrorCode(codeNoSuchSession) {
			return txn.NewRemoteError(op, false, errors.Mark(err, txn.ErrNotFound))
		}

		if srvErr.HasErrorLabel(labelTransientTxn) || srvErr.HasErrorLabel(labelUnknownCommitState) {
			return txn.NewRemoteError(op, true, err)
		}
	}

	retryable := mongo.IsNetworkError(err) || mongo.IsTimeout(err)
	return txn.NewRemoteError(op, retryable, err)
}
