package await

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestChan(t *testing.T) {
	ctx := context.Background()
	ch := make(chan int, 1)

	require.True(t, ToChan(ch, 7).Await(ctx))

	recv := FromChan(ch)
	require.True(t, recv.Await(ctx))
	v, ok := recv.Value()
	require.True(t, ok)
	require.Equal(t, 7, v)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	require.False(t, FromChan(ch).Await(cancelled))
}

func TestFirstOf(t *testing.T) {
	ctx := context.Background()
	ch := make(chan string, 1)
	tick := Tick(time.Hour)
	defer StopTicker(tick)

	a := FirstOf(tick, FromChan(ch))

	ch <- "query"
	require.True(t, a.Await(ctx))

	v, ok := a.Value()
	require.True(t, ok)
	require.Equal(t, Fired{Index: 1, Value: "query"}, v)

	close(ch)
	require.True(t, a.Await(ctx))
	_, ok = a.Value()
	require.False(t, ok)

	timeout, cancel := context.WithTimeout(ctx, time.Millisecond)
	defer cancel()
	require.False(t, FirstOf(Tick(time.Hour), FromChan(make(chan int))).Await(timeout))
}
