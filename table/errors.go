package table

import (
	"errors"
	"fmt"
)

// ErrorKind classifies table failures.
type ErrorKind int

const (
	InvalidKey ErrorKind = iota + 1
	WrongArgumentType
	NoMetamethod
	NotCallable
	StaleHandle
)

func (k ErrorKind) String() string {
	switch k {
	case InvalidKey:
		return "invalid key"
	case WrongArgumentType:
		return "wrong argument type"
	case NoMetamethod:
		return "no metamethod"
	case NotCallable:
		return "not callable"
	case StaleHandle:
		return "stale handle"
	default:
		return "unknown error"
	}
}

// Error is a table failure of a known kind.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind when target is one of the kind
// sentinels below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Msg != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

// Kind sentinels for errors.Is.
var (
	ErrInvalidKey        = &Error{Kind: InvalidKey}
	ErrWrongArgumentType = &Error{Kind: WrongArgumentType}
	ErrNoMetamethod      = &Error{Kind: NoMetamethod}
	ErrNotCallable       = &Error{Kind: NotCallable}
	ErrStaleHandle       = &Error{Kind: StaleHandle}
)

// ErrChainTooLong is returned when an __index chain does not terminate.
// It is of kind NoMetamethod: no handler along the chain produced a value.
var ErrChainTooLong = &Error{Kind: NoMetamethod, Msg: "'__index' chain too long; possibly a loop"}

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func staleError(err error) *Error {
	return &Error{Kind: StaleHandle, Msg: "dangling table reference", Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// WithPrefix annotates err with the name of the operation it came from.
// The error kind is preserved.
func WithPrefix(prefix string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", prefix, err)
}
