package await

import (
	"context"
	"reflect"
)

// FirstOf waits for whichever awaiter fires first. Value reports
// the index of that awaiter together with what it received.
func FirstOf(waiters ...Awaiter) Awaiter {
	cases := make([]reflect.SelectCase, 0, len(waiters))
	for _, a := range waiters {
		cases = append(cases, a.bind())
	}

	return &firstOfAwaiter{cases: cases}
}

type Fired struct {
	Index int
	Value any
}

type firstOfAwaiter struct {
	cases []reflect.SelectCase
	fired Fired
	ok    bool
}

func (a *firstOfAwaiter) Await(ctx context.Context) (waited bool) {
	a.cases = append(a.cases, reflect.SelectCase{
		Dir:  reflect.SelectRecv,
		Chan: reflect.ValueOf(ctx.Done()),
	})
	defer func() { a.cases = a.cases[:len(a.cases)-1] }()

	choice, val, recvOK := reflect.Select(a.cases)
	if choice == len(a.cases)-1 {
		a.ok = false
		return false
	}

	a.fired = Fired{Index: choice}
	if val.IsValid() {
		a.fired.Value = val.Interface()
	}
	a.ok = recvOK || a.cases[choice].Dir == reflect.SelectSend
	return true
}

// Value returns Fired, ok is false when a receive saw a closed channel.
func (a *firstOfAwaiter) Value() (any, bool) {
	return a.fired, a.ok
}

func (a *firstOfAwaiter) bind() reflect.SelectCase {
	panic("await: avoid combine combinators")
}
