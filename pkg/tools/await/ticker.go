package await

import (
	"context"
	"reflect"
	"time"
)

type tickerAwaiter struct {
	*time.Ticker
}

// Tick fires every interval until ctx passed to Await is done.
// Stop the returned awaiter with StopTicker when it is no longer needed.
func Tick(interval time.Duration) Awaiter {
	return &tickerAwaiter{time.NewTicker(interval)}
}

func StopTicker(a Awaiter) {
	if t, ok := a.(*tickerAwaiter); ok {
		t.Stop()
	}
}

func (t *tickerAwaiter) Await(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-t.Ticker.C:
		return true
	}
}

func (t *tickerAwaiter) Value() (any, bool) {
	return struct{}{}, false
}

func (t *tickerAwaiter) bind() reflect.SelectCase {
	return reflect.SelectCase{
		Dir:  reflect.SelectRecv,
		Chan: reflect.ValueOf(t.Ticker.C),
	}
}
