package async

import (
	"fmt"
	"reflect"
)

// Callback is the completion convention adapted by Promisify: err is nil on
// success and results carries zero or more success values.
type Callback = func(err error, results ...any)

// Results holds the success values of a completion that reported more than
// one of them, in the order they were reported.
type Results []any

// ResultTypeError reports a success value that did not have the type the
// caller expected.
type ResultTypeError struct {
	Want string
	Got  any
}

func (e *ResultTypeError) Error() string {
	return fmt.Sprintf("async: expected result of type %s, got %T", e.Want, e.Got)
}

// Promisify runs op and settles the returned promise from the first call of
// the callback handed to op:
//
//   - err != nil resolves nothing and rejects with err, ignoring any results;
//   - zero results resolve with nil;
//   - one result resolves with that result;
//   - more results resolve with Results holding all of them.
//
// Later calls of the callback are ignored.
func Promisify(op func(done Callback)) *Promise[any] {
	return PromisifyAs(op, identity)
}

// PromisifyAs is Promisify followed by decode on the collapsed success value.
// A decode error rejects the promise.
func PromisifyAs[T any](op func(done Callback), decode func(v any) (T, error)) *Promise[T] {
	p := newPromise[T]()
	op(func(err error, results ...any) {
		if p.Settled() {
			return
		}
		var zero T
		if err != nil {
			p.settle(zero, err)
			return
		}
		v, derr := decode(collapse(results))
		if derr != nil {
			p.settle(zero, derr)
			return
		}
		p.settle(v, nil)
	})
	return p
}

func collapse(results []any) any {
	switch len(results) {
	case 0:
		return nil
	case 1:
		return results[0]
	default:
		out := make(Results, len(results))
		copy(out, results)
		return out
	}
}

func identity(v any) (any, error) { return v, nil }

// Expect is the default decoder: nil decodes to the zero T and a T decodes to
// itself. Anything else is a *ResultTypeError.
func Expect[T any](v any) (T, error) {
	var zero T
	if v == nil {
		return zero, nil
	}
	if t, ok := v.(T); ok {
		return t, nil
	}
	return zero, &ResultTypeError{Want: reflect.TypeOf((*T)(nil)).Elem().String(), Got: v}
}

// Ignore discards the success value.
func Ignore(any) (Void, error) { return Void{}, nil }
