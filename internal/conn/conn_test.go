package conn

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/nikmy/remotetx/pkg/errors"
	"github.com/nikmy/remotetx/pkg/logger"
	"github.com/nikmy/remotetx/pkg/txn"
	"github.com/nikmy/remotetx/pkg/txn/txnmock"
)

func newConn(t *testing.T, provider txn.SessionProvider, autoCommit bool) *Conn {
	t.Helper()

	cfg := DefaultConfig()
	cfg.AutoCommit = autoCommit

	c, err := New(logger.NewStub(), cfg, provider)
	require.NoError(t, err)
	return c
}

// returning reports txID as the transaction the engine left open.
func returning(txID string, seen *txn.Control) QueryFunc {
	return func(_ context.Context, _ txn.Session, control txn.Control) (string, error) {
		if seen != nil {
			*seen = control
		}
		return txID, nil
	}
}

func openTx(t *testing.T, c *Conn, provider *txnmock.MockSessionProvider, session *txnmock.MockSession, txID string) {
	t.Helper()
	ctx := context.Background()

	provider.EXPECT().CreateSession(gomock.Any()).Return(session, nil)
	require.NoError(t, c.Query(ctx, returning(txID, nil)))

	id, ok := c.TransactionID()
	require.True(t, ok)
	require.Equal(t, txID, id)
}

func TestNew_unsupportedIsolation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Isolation = txn.IsolationLevel(9)

	_, err := New(logger.NewStub(), cfg, nil)
	require.ErrorIs(t, err, txn.ErrUnsupportedIsolationLevel)
}

func TestConn_endToEnd(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	provider := txnmock.NewMockSessionProvider(ctrl)
	session := txnmock.NewMockSession(ctrl)

	c := newConn(t, provider, true)

	autoCommit, err := c.AutoCommit()
	require.NoError(t, err)
	require.True(t, autoCommit)

	require.NoError(t, c.SetAutoCommit(false))

	var seen txn.Control
	provider.EXPECT().CreateSession(gomock.Any()).Return(session, nil)
	require.NoError(t, c.Query(ctx, returning("tx-1", &seen)))
	require.Equal(t, txn.BeginTx(false), seen)

	id, ok := c.TransactionID()
	require.True(t, ok)
	require.Equal(t, "tx-1", id)

	err = c.SetTransactionIsolation(txn.OnlineConsistentReadOnly)
	require.ErrorIs(t, err, txn.ErrChangeInsideTransaction)

	require.NoError(t, c.Query(ctx, returning("tx-1", &seen)))
	require.Equal(t, txn.ContinueTx("tx-1", false), seen)

	gomock.InOrder(
		session.EXPECT().Commit(gomock.Any(), "tx-1").Return(nil),
		session.EXPECT().Close(gomock.Any()).Times(1),
	)
	require.NoError(t, c.Commit(ctx))

	_, ok = c.TransactionID()
	require.False(t, ok)

	level, err := c.TransactionIsolation()
	require.NoError(t, err)
	require.Equal(t, txn.SerializableReadWrite, level)

	autoCommit, err = c.AutoCommit()
	require.NoError(t, err)
	require.False(t, autoCommit)
}

func TestConn_finish(t *testing.T) {
	type want struct {
		err      error
		stayOpen bool
	}

	type testcase struct {
		name      string
		rollback  bool
		remoteErr error
		want      want
	}

	unavailable := txn.NewRemoteError("commit", true, errors.Error("unavailable"))
	expired := txn.NewRemoteError("commit", false, errors.Mark(errors.Error("no such tx"), txn.ErrNotFound))

	tests := [...]testcase{
		{name: "commit"},
		{name: "rollback", rollback: true},
		{
			name:      "commit not found",
			remoteErr: expired,
			want:      want{err: txn.ErrNotFound},
		},
		{
			name:      "rollback not found",
			rollback:  true,
			remoteErr: expired,
			want:      want{err: txn.ErrNotFound},
		},
		{
			name:      "commit unavailable",
			remoteErr: unavailable,
			want:      want{err: unavailable, stayOpen: true},
		},
		{
			name:      "rollback unavailable",
			rollback:  true,
			remoteErr: unavailable,
			want:      want{err: unavailable, stayOpen: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			ctrl := gomock.NewController(t)
			provider := txnmock.NewMockSessionProvider(ctrl)
			session := txnmock.NewMockSession(ctrl)

			c := newConn(t, provider, false)
			openTx(t, c, provider, session, "tx-5")

			finish := c.Commit
			if tt.rollback {
				finish = c.Rollback
				session.EXPECT().Rollback(gomock.Any(), "tx-5").Return(tt.remoteErr)
			} else {
				session.EXPECT().Commit(gomock.Any(), "tx-5").Return(tt.remoteErr)
			}

			if !tt.want.stayOpen {
				session.EXPECT().Close(gomock.Any()).Times(1)
			}

			err := finish(ctx)
			if tt.want.err == nil {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, tt.want.err)
			}

			_, open := c.TransactionID()
			require.Equal(t, tt.want.stayOpen, open)
		})
	}
}

func TestConn_commitWithoutTransaction(t *testing.T) {
	ctrl := gomock.NewController(t)
	provider := txnmock.NewMockSessionProvider(ctrl)

	c := newConn(t, provider, false)
	require.NoError(t, c.Commit(context.Background()))
	require.NoError(t, c.Rollback(context.Background()))
}

func TestConn_queryError_endsTransaction(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	provider := txnmock.NewMockSessionProvider(ctrl)
	session := txnmock.NewMockSession(ctrl)

	c := newConn(t, provider, false)
	openTx(t, c, provider, session, "tx-9")

	session.EXPECT().Close(gomock.Any()).Times(1)

	aborted := errors.Error("aborted")
	err := c.Query(ctx, func(context.Context, txn.Session, txn.Control) (string, error) {
		return "", aborted
	})
	require.ErrorIs(t, err, aborted)

	_, open := c.TransactionID()
	require.False(t, open)
	require.False(t, c.IsClosed())
}

func TestConn_queryUsesTransientSessions(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	provider := txnmock.NewMockSessionProvider(ctrl)

	c := newConn(t, provider, true)

	for i := 0; i < 2; i++ {
		session := txnmock.NewMockSession(ctrl)
		provider.EXPECT().CreateSession(gomock.Any()).Return(session, nil)
		session.EXPECT().Close(gomock.Any()).Times(1)

		var seen txn.Control
		require.NoError(t, c.Query(ctx, returning("", &seen)))
		require.Equal(t, txn.BeginTx(true), seen)
	}

	unavailable := errors.Error("unavailable")
	provider.EXPECT().CreateSession(gomock.Any()).Return(nil, unavailable)
	require.ErrorIs(t, c.Query(ctx, returning("", nil)), unavailable)
}

func TestConn_inconsistentQueryClosesConnection(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	provider := txnmock.NewMockSessionProvider(ctrl)
	session := txnmock.NewMockSession(ctrl)

	c := newConn(t, provider, false)
	openTx(t, c, provider, session, "tx-1")

	session.EXPECT().Close(gomock.Any()).Times(1)

	err := c.Query(ctx, returning("tx-2", nil))
	require.ErrorIs(t, err, txn.ErrInconsistentState)
	require.True(t, c.IsClosed())
}

func TestConn_readOnly(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	provider := txnmock.NewMockSessionProvider(ctrl)
	session := txnmock.NewMockSession(ctrl)

	c := newConn(t, provider, false)
	require.NoError(t, c.SetReadOnly(true))

	readOnly, err := c.IsReadOnly()
	require.NoError(t, err)
	require.True(t, readOnly)

	provider.EXPECT().CreateSession(gomock.Any()).Return(session, nil)
	session.EXPECT().Close(gomock.Any()).Times(1)

	var seen txn.Control
	require.NoError(t, c.Query(ctx, returning("", &seen)))
	require.Equal(t, txn.Snapshot(txn.OnlineConsistentReadOnly), seen)

	_, open := c.TransactionID()
	require.False(t, open)

	require.NoError(t, c.SetSQLIsolation(sql.LevelReadCommitted))
	level, err := c.TransactionIsolation()
	require.NoError(t, err)
	require.Equal(t, txn.StaleConsistentReadOnly, level)

	require.ErrorIs(t, c.SetSQLIsolation(sql.LevelWriteCommitted), txn.ErrUnsupportedIsolationLevel)

	require.NoError(t, c.SetSQLIsolation(sql.LevelDefault))
	readOnly, err = c.IsReadOnly()
	require.NoError(t, err)
	require.False(t, readOnly)
}

func TestConn_isValid(t *testing.T) {
	ctx := context.Background()

	t.Run("transient session", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		provider := txnmock.NewMockSessionProvider(ctrl)
		session := txnmock.NewMockSession(ctrl)
		c := newConn(t, provider, true)

		provider.EXPECT().CreateSession(gomock.Any()).Return(session, nil)
		session.EXPECT().KeepAlive(gomock.Any()).Return(nil)
		session.EXPECT().Close(gomock.Any()).Times(1)

		require.True(t, c.IsValid(ctx, time.Second))
	})

	t.Run("provider down", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		provider := txnmock.NewMockSessionProvider(ctrl)
		c := newConn(t, provider, true)

		provider.EXPECT().CreateSession(gomock.Any()).Return(nil, errors.Error("unavailable"))
		require.False(t, c.IsValid(ctx, 0))
	})

	t.Run("owned session", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		provider := txnmock.NewMockSessionProvider(ctrl)
		session := txnmock.NewMockSession(ctrl)
		c := newConn(t, provider, false)
		openTx(t, c, provider, session, "tx-3")

		session.EXPECT().KeepAlive(gomock.Any()).Return(nil)
		require.True(t, c.IsValid(ctx, time.Second))

		session.EXPECT().KeepAlive(gomock.Any()).Return(errors.Error("timeout"))
		require.False(t, c.IsValid(ctx, time.Second))

		_, open := c.TransactionID()
		require.True(t, open)
	})

	t.Run("owned session expired", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		provider := txnmock.NewMockSessionProvider(ctrl)
		session := txnmock.NewMockSession(ctrl)
		c := newConn(t, provider, false)
		openTx(t, c, provider, session, "tx-3")

		session.EXPECT().KeepAlive(gomock.Any()).Return(errors.Mark(errors.Error("session gone"), txn.ErrNotFound))
		session.EXPECT().Close(gomock.Any()).Times(1)
		require.False(t, c.IsValid(ctx, time.Second))

		_, open := c.TransactionID()
		require.False(t, open)
	})

	t.Run("no configured timeout", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		provider := txnmock.NewMockSessionProvider(ctrl)
		session := txnmock.NewMockSession(ctrl)

		c, err := New(logger.NewStub(), Config{Isolation: txn.SerializableReadWrite, AutoCommit: true}, provider)
		require.NoError(t, err)

		provider.EXPECT().CreateSession(gomock.Any()).Return(session, nil)
		session.EXPECT().KeepAlive(gomock.Any()).DoAndReturn(func(ctx context.Context) error {
			return ctx.Err()
		})
		session.EXPECT().Close(gomock.Any()).Times(1)

		require.True(t, c.IsValid(ctx, 0))
	})
}

func TestConn_close(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	provider := txnmock.NewMockSessionProvider(ctrl)
	session := txnmock.NewMockSession(ctrl)

	c := newConn(t, provider, false)
	openTx(t, c, provider, session, "tx-1")

	session.EXPECT().Close(gomock.Any()).Times(1)
	c.Close(ctx)
	c.Close(ctx)
	require.True(t, c.IsClosed())

	require.ErrorIs(t, c.SetAutoCommit(true), txn.ErrConnectionClosed)
	require.ErrorIs(t, c.SetTransactionIsolation(txn.StaleConsistentReadOnly), txn.ErrConnectionClosed)
	require.ErrorIs(t, c.SetReadOnly(true), txn.ErrConnectionClosed)
	require.ErrorIs(t, c.Commit(ctx), txn.ErrConnectionClosed)
	require.ErrorIs(t, c.Rollback(ctx), txn.ErrConnectionClosed)
	require.ErrorIs(t, c.Query(ctx, returning("", nil)), txn.ErrConnectionClosed)

	_, err := c.AutoCommit()
	require.ErrorIs(t, err, txn.ErrConnectionClosed)
	_, err = c.TransactionIsolation()
	require.ErrorIs(t, err, txn.ErrConnectionClosed)
	_, err = c.IsReadOnly()
	require.ErrorIs(t, err, txn.ErrConnectionClosed)

	_, open := c.TransactionID()
	require.False(t, open)
	require.False(t, c.IsValid(ctx, time.Second))
}
