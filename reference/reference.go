// Package reference holds the process-local slot for a shared test resource.
//
// Every worker process builds its own Reference; values never cross process
// boundaries. The zero value is ready to use with auto-close enabled.
package reference

import (
	"context"
	"sync/atomic"

	"github.com/vinayprograms/dunitkit/closer"
)

// Reference is an atomically guarded holder for at most one value.
type Reference[V any] struct {
	value atomic.Pointer[V]

	// manual is set when auto-close is disabled so the zero value closes.
	manual atomic.Bool
}

// New creates an empty reference with auto-close enabled.
func New[V any]() *Reference[V] {
	return &Reference[V]{}
}

// Get returns the current value and whether one is held.
func (r *Reference[V]) Get() (V, bool) {
	p := r.value.Load()
	if p == nil {
		var zero V
		return zero, false
	}
	return *p, true
}

// Set replaces the held value. The previous value, if any, is not released.
// A nil pointer, map, slice, channel, function or interface empties the
// slot, so Get and Teardown agree on what is held.
func (r *Reference[V]) Set(v V) *Reference[V] {
	if closer.IsNil(any(v)) {
		r.value.Store(nil)
		return r
	}
	r.value.Store(&v)
	return r
}

// AutoClose toggles whether Teardown releases the value. Default true.
func (r *Reference[V]) AutoClose(enabled bool) *Reference[V] {
	r.manual.Store(!enabled)
	return r
}

// AutoCloseEnabled reports the current auto-close policy.
func (r *Reference[V]) AutoCloseEnabled() bool {
	return !r.manual.Load()
}

// Teardown empties the slot and, when auto-close is on, releases what it held.
//
// The slot is cleared before the release runs, so it is empty afterwards
// even if the release fails. Calling Teardown on an empty slot does nothing.
func (r *Reference[V]) Teardown(_ context.Context) error {
	_, _, err := r.Take()
	return err
}

// Take is Teardown that also reports the value it removed and the
// capability used. The capability is zero when nothing was held or
// auto-close is off.
func (r *Reference[V]) Take() (V, closer.Capability, error) {
	return r.TakeWith(r.AutoCloseEnabled())
}

// TakeWith empties the slot like Take but releases according to autoClose
// instead of this slot's own policy. A broadcast uses it to apply the
// controller's policy in every worker.
func (r *Reference[V]) TakeWith(autoClose bool) (V, closer.Capability, error) {
	p := r.value.Swap(nil)
	if p == nil {
		var zero V
		return zero, closer.Capability{}, nil
	}
	v := *p
	if closer.IsNil(any(v)) || !autoClose {
		return v, closer.Capability{}, nil
	}
	c := closer.Classify(any(v))
	return v, c, closer.Release(any(v))
}
