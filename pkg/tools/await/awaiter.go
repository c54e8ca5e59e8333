package await

import (
	"context"
	"reflect"
)

type Awaiter interface {
	Value() (any, bool)
	Await(ctx context.Context) (waited bool)
	bind() reflect.SelectCase
}
