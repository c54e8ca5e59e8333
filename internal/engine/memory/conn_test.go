package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nikmy/remotetx/internal/conn"
	"github.com/nikmy/remotetx/pkg/logger"
	"github.com/nikmy/remotetx/pkg/txn"
)

func TestConnOverMemoryEngine(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(Config{})

	c, err := conn.New(logger.NewStub(), conn.DefaultConfig(), e)
	require.NoError(t, err)

	require.NoError(t, c.Query(ctx, Run(Op{Kind: OpPut, Key: "a", Value: "1"}, nil)))
	require.Zero(t, e.Sessions(), "autocommit queries use transient sessions")

	require.NoError(t, c.SetAutoCommit(false))

	var res Result
	require.NoError(t, c.Query(ctx, Run(Op{Kind: OpPut, Key: "b", Value: "2"}, &res)))

	id, open := c.TransactionID()
	require.True(t, open)
	require.Equal(t, res.TxID, id)
	require.Equal(t, 1, e.Sessions())

	require.ErrorIs(t, c.SetTransactionIsolation(txn.OnlineConsistentReadOnly), txn.ErrChangeInsideTransaction)

	require.NoError(t, c.Query(ctx, Run(Op{Kind: OpGet, Key: "b"}, &res)))
	require.Equal(t, "2", res.Value)

	require.NoError(t, c.Commit(ctx))
	require.Zero(t, e.Sessions())

	_, open = c.TransactionID()
	require.False(t, open)

	require.NoError(t, c.SetTransactionIsolation(txn.OnlineConsistentReadOnly))
	require.NoError(t, c.Query(ctx, Run(Op{Kind: OpGet, Key: "b"}, &res)))
	require.True(t, res.Found)

	require.True(t, c.IsValid(ctx, 0))
	c.Close(ctx)
	require.Zero(t, e.Sessions())
}

func TestConnOverMemoryEngine_expiredCommit(t *testing.T) {
	ctx := context.Background()
	e, clk := newEngine(Config{TxTTL: 1})

	cfg := conn.DefaultConfig()
	cfg.AutoCommit = false

	c, err := conn.New(logger.NewStub(), cfg, e)
	require.NoError(t, err)

	require.NoError(t, c.Query(ctx, Run(Op{Kind: OpPut, Key: "a", Value: "1"}, nil)))

	clk.now = clk.now.Add(2)
	err = c.Commit(ctx)
	require.ErrorIs(t, err, txn.ErrNotFound)

	_, open := c.TransactionID()
	require.False(t, open)
	require.Zero(t, e.Sessions())
}
