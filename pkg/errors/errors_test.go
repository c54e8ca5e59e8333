package errors

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWrapFail(t *testing.T) {
	require.NoError(t, WrapFail(nil, "do nothing"))

	base := Error("boom")
	err := WrapFail(base, "commit transaction")
	require.EqualError(t, err, "can't commit transaction: boom")
	require.True(t, Is(err, base))
}

func TestMark(t *testing.T) {
	kind := Error("not found")
	base := Error("session expired")

	require.NoError(t, Mark(nil, kind))

	err := Wrap(Mark(base, kind), "rollback")
	require.EqualError(t, err, "rollback: session expired")
	require.True(t, Is(err, kind))
	require.True(t, Is(err, base))
}
