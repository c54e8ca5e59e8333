// Package builder assembles a value from a chain of setters, stopping at
// the first setter that fails.
package builder

func New[T any]() *Builder[T] {
	return &Builder[T]{
		Obj: new(T),
	}
}

type Builder[T any] struct {
	Obj *T
	Err error
}

func (b *Builder[T]) Use(setter func(obj *T)) *Builder[T] {
	if b.Err == nil {
		setter(b.Obj)
	}
	return b
}

func (b *Builder[T]) MaybeUse(setter func(obj *T) error) *Builder[T] {
	if b.Err == nil {
		b.Err = setter(b.Obj)
	}
	return b
}

func (b *Builder[T]) Get() (*T, error) {
	if b.Err != nil {
		return nil, b.Err
	}
	return b.Obj, nil
}
