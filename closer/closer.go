// Package closer decides how to release a value whose concrete type is not
// known ahead of time, and invokes that release operation.
//
// A value is classified once, at release time, in a fixed priority order:
//
//  1. it implements io.Closer
//  2. it has an exported, parameterless method named Close
//  3. ... named Disconnect
//  4. ... named Stop
//
// The first match is the only operation ever invoked. A value with none of
// these is left alone.
//
// Method lookup follows Go method sets: a method declared on *T is not
// visible when a T is stored by value.
package closer

import (
	"fmt"
	"io"
	"reflect"

	"github.com/vinayprograms/dunitkit/errors"
)

// Kind classifies the release operation a value exposes.
type Kind int

const (
	// KindNone means no release operation was found.
	KindNone Kind = iota

	// KindNative means the value implements io.Closer.
	KindNative

	// KindNamed means a release operation was found by name.
	KindNamed
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindNative:
		return "native"
	case KindNamed:
		return "named"
	default:
		return "none"
	}
}

// ProbeOrder lists the method names tried, highest priority first.
var ProbeOrder = []string{"Close", "Disconnect", "Stop"}

// Capability is the release operation chosen for a value.
type Capability struct {
	Kind Kind

	// Method is the name of the operation that will be invoked.
	// Empty for KindNone.
	Method string
}

// Found reports whether a release operation exists.
func (c Capability) Found() bool {
	return c.Kind != KindNone
}

// String returns e.g. "named:Stop".
func (c Capability) String() string {
	if c.Kind == KindNone {
		return c.Kind.String()
	}
	return c.Kind.String() + ":" + c.Method
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// Classify determines the release operation for v without invoking anything.
func Classify(v any) Capability {
	if IsNil(v) {
		return Capability{}
	}
	if _, ok := v.(io.Closer); ok {
		return Capability{Kind: KindNative, Method: "Close"}
	}
	rv := reflect.ValueOf(v)
	for _, name := range ProbeOrder {
		if _, ok := probe(rv, name); ok {
			return Capability{Kind: KindNamed, Method: name}
		}
	}
	return Capability{}
}

// probe looks up an exported method that takes no arguments.
func probe(rv reflect.Value, name string) (reflect.Value, bool) {
	m := rv.MethodByName(name)
	if !m.IsValid() {
		return reflect.Value{}, false
	}
	if m.Type().NumIn() != 0 {
		return reflect.Value{}, false
	}
	return m, true
}

// Release invokes the release operation chosen by Classify.
//
// A value without a release operation yields nil. A failing operation yields
// RELEASE_FAILED; an operation that panics, native or named, yields
// INVOCATION_FAILED.
func Release(v any) (err error) {
	c := Classify(v)
	if !c.Found() {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = errors.InvocationFailed(v, c.Method, errors.RecoverPanic(r))
		}
	}()

	if c.Kind == KindNative {
		if err := v.(io.Closer).Close(); err != nil {
			return errors.ReleaseFailed(v, c.Method, err)
		}
		return nil
	}
	return invoke(v, c.Method)
}

// invoke calls a named method. When the method's last result is an error
// and it is non-nil, the release fails; other results are discarded.
func invoke(v any, name string) error {
	m, ok := probe(reflect.ValueOf(v), name)
	if !ok {
		return errors.InvocationFailed(v, name, fmt.Errorf("method %s disappeared", name))
	}

	out := m.Call(nil)
	if n := len(out); n > 0 && m.Type().Out(n-1) == errorType {
		if callErr, _ := out[n-1].Interface().(error); callErr != nil {
			return errors.ReleaseFailed(v, name, callErr)
		}
	}
	return nil
}

// IsNil reports whether v is nil or a nil pointer, map, slice, channel,
// function or interface.
func IsNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}
