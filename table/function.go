package table

import (
	"fmt"

	"github.com/chazu/tablespace/gc"
)

// GoFunc is the signature of host functions callable from tables.
type GoFunc func(args ...any) ([]any, error)

// Call invokes f.
func (f GoFunc) Call(args ...any) ([]any, error) {
	return f(args...)
}

// Callable is anything that can be invoked as a handler or iterator.
type Callable interface {
	Call(args ...any) ([]any, error)
}

// Function is a host function registered with the collector so that
// tables can store it (as a metamethod, for instance).
type Function struct {
	handle gc.Handle
	name   string
	fn     GoFunc
}

// Handle returns the function's collector handle.
func (f *Function) Handle() gc.Handle {
	return f.handle
}

// Name returns the name given at registration, which may be empty.
func (f *Function) Name() string {
	return f.name
}

// Call invokes the function.
func (f *Function) Call(args ...any) ([]any, error) {
	return f.fn(args...)
}

func (f *Function) String() string {
	if f.name != "" {
		return fmt.Sprintf("function: %s", f.name)
	}
	return fmt.Sprintf("function: 0x%08x", uint64(f.handle))
}

// asCallable returns v as a Callable if it is one.
func asCallable(v any) (Callable, bool) {
	switch f := v.(type) {
	case *Function:
		return f, f != nil
	case GoFunc:
		return f, f != nil
	case func(...any) ([]any, error):
		return GoFunc(f), f != nil
	}
	return nil, false
}

// first returns the first result of a call, or nil.
func first(results []any) any {
	if len(results) == 0 {
		return nil
	}
	return results[0]
}
