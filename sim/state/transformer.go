package state

import "fmt"

// Transformer is a queued change to one shared-state value. It is either a
// plain replacement (SetValue) or a function of the pre-commit value (Apply).
//
// Two concurrent SetValue changes to the same key in the same step race:
// the last one enqueued wins. Use Apply for accumulation.
type Transformer struct {
	value any
	fn    func(old any) any
	set   bool
}

// SetValue replaces the committed value with v.
func SetValue(v any) Transformer {
	return Transformer{value: v, set: true}
}

// Apply computes the new value from the pre-commit value. fn must not retain
// or mutate old in place when old is a reference type visible to readers.
// Panics if fn is nil.
func Apply(fn func(old any) any) Transformer {
	if fn == nil {
		panic("state.Apply: fn must not be nil")
	}
	return Transformer{fn: fn}
}

// Increment returns an Apply transformer adding delta to an int64 value.
// A missing value counts as zero.
func Increment(delta int64) Transformer {
	return Apply(func(old any) any {
		n, _ := old.(int64)
		return n + delta
	})
}

func (t Transformer) valid() bool {
	return t.set || t.fn != nil
}

func (t Transformer) transform(old any) (next any, err error) {
	if t.set {
		return t.value, nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrTransformerPanic, r)
		}
	}()
	return t.fn(old), nil
}
