package mongo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/nikmy/remotetx/pkg/errors"
	"github.com/nikmy/remotetx/pkg/logger"
	"github.com/nikmy/remotetx/pkg/txn"
)

func TestClassify(t *testing.T) {
	type want struct {
		notFound  bool
		retryable bool
	}

	type testcase struct {
		name string
		err  error
		want want
	}

	tests := [...]testcase{
		{
			name: "no such transaction",
			err:  mongo.CommandError{Code: codeNoSuchTransaction, Name: "NoSuchTransaction"},
			want: want{notFound: true},
		},
		{
			name: "no such session",
			err:  mongo.CommandError{Code: codeNoSuchSession, Name: "NoSuchSession"},
			want: want{notFound: true},
		},
		{
			name: "transient",
			err:  mongo.CommandError{Code: 112, Labels: []string{labelTransientTxn}},
			want: want{retryable: true},
		},
		{
			name: "unknown commit result",
			err:  mongo.CommandError{Code: 50, Labels: []string{labelUnknownCommitState}},
			want: want{retryable: true},
		},
		{
			name: "deadline",
			err:  errors.Wrap(context.DeadlineExceeded, "refresh"),
			want: want{retryable: true},
		},
		{
			name: "unauthorized",
			err:  mongo.CommandError{Code: 13, Name: "Unauthorized"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("commit", tt.err)
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.err.Error())
			require.Equal(t, tt.want.notFound, txn.IsNotFound(err))
			require.Equal(t, tt.want.retryable, txn.IsRetryable(err))
		})
	}

	require.NoError(t, classify("commit", nil))
}

func TestReadPolicy(t *testing.T) {
	rp, concern := readPolicy(txn.OnlineConsistentReadOnly, 0)
	require.Equal(t, readpref.PrimaryMode, rp.Mode())
	require.Equal(t, "majority", concern)

	rp, concern = readPolicy(txn.OnlineInconsistentReadOnly, 0)
	require.Equal(t, readpref.PrimaryMode, rp.Mode())
	require.Equal(t, "local", concern)

	rp, concern = readPolicy(txn.StaleConsistentReadOnly, time.Second)
	require.Equal(t, readpref.SecondaryPreferredMode, rp.Mode())
	require.Equal(t, "local", concern, "available may return orphaned documents on sharded clusters")

	staleness, ok := rp.MaxStaleness()
	require.True(t, ok)
	require.Equal(t, minMaxStaleness, staleness)
}

func TestSession_unknownTransaction(t *testing.T) {
	ctx := context.Background()
	s := &Session{id: "lsid", txID: "lsid:1", log: logger.NewStub()}

	require.True(t, txn.IsNotFound(s.Commit(ctx, "lsid:0")))
	require.True(t, txn.IsNotFound(s.Rollback(ctx, "")))

	_, _, err := s.Execute(ctx, txn.ContinueTx("lsid:2", false), bson.D{{Key: "ping", Value: 1}})
	require.True(t, txn.IsNotFound(err))

	_, _, err = s.Execute(ctx, txn.BeginTx(false), bson.D{{Key: "ping", Value: 1}})
	require.Error(t, err)
	require.False(t, txn.IsRetryable(err))
	require.Equal(t, "lsid:1", s.txID)
}
