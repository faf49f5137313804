// Package errs implements the error taxonomy from the design: every
// recoverable fault the engine can produce maps to exactly one Kind, which in
// turn drives both the RESP error prefix written to the wire and the
// negative C-ABI return code. RESP session code and the cabi package both
// derive their surface from this one table instead of keeping their own.
package errs

import (
	"errors"
	"fmt"
)

// Kind is one of the recoverable error kinds from spec.md §7.
type Kind int

const (
	// KindInternal covers unexpected engine faults; detail is never exposed
	// to the caller, only logged.
	KindInternal Kind = iota
	KindWrongType
	KindNotInteger
	KindNotFloat
	KindSyntax
	KindOutOfRange
	KindNotFound
	KindBusy
	KindIO
	KindAuth
	KindOverflow
)

// respPrefix is the simple-error prefix Redis clients expect, e.g. "-WRONGTYPE ...".
var respPrefix = map[Kind]string{
	KindInternal:   "ERR",
	KindWrongType:  "WRONGTYPE",
	KindNotInteger: "ERR",
	KindNotFloat:   "ERR",
	KindSyntax:     "ERR",
	KindOutOfRange: "ERR",
	KindNotFound:   "ERR",
	KindBusy:       "BUSY",
	KindIO:         "ERR",
	KindAuth:       "NOAUTH",
	KindOverflow:   "ERR",
}

// cabiCode is the negative return code an exported C-ABI function produces
// for each Kind. -1 is reserved for "internal, detail suppressed".
var cabiCode = map[Kind]int{
	KindInternal:   -1,
	KindWrongType:  -2,
	KindNotInteger: -3,
	KindNotFloat:   -4,
	KindSyntax:     -5,
	KindOutOfRange: -6,
	KindNotFound:   -7,
	KindBusy:       -8,
	KindIO:         -9,
	KindAuth:       -10,
	KindOverflow:   -11,
}

// Error is the exported error type every component in Redlite returns for a
// recoverable fault. It carries enough to render either a RESP reply or a
// C-ABI (code, message) pair without re-deriving the Kind from string
// matching.
type Error struct {
	Kind Kind
	Msg  string
	// cause is kept for %w unwrapping and logging, never surfaced verbatim
	// to the wire for KindInternal.
	cause error
}

func (e *Error) Error() string { return e.Msg }

func (e *Error) Unwrap() error { return e.cause }

// RESPPrefix returns the simple-error prefix ("WRONGTYPE", "ERR", ...) Redis
// clients expect before the message.
func (e *Error) RESPPrefix() string { return respPrefix[e.Kind] }

// CABICode returns the negative code an exported C function should return
// for this error.
func (e *Error) CABICode() int { return cabiCode[e.Kind] }

// New builds an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind/cause to an underlying error, used at the SQL boundary
// where the driver error needs reclassifying into the taxonomy.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), cause: cause}
}

// As reports whether err (or something it wraps) is a *Error of the given
// kind, returning it for inspection.
func As(err error, kind Kind) (*Error, bool) {
	var e *Error
	if !errors.As(err, &e) {
		return nil, false
	}
	if e.Kind != kind {
		return nil, false
	}
	return e, true
}

var (
	// ErrWrongType is a convenience sentinel; specific messages should
	// prefer New(KindWrongType, ...) so the offending key/verb is named.
	ErrWrongType = New(KindWrongType, "Operation against a key holding the wrong kind of value")
	ErrNotInteger = New(KindNotInteger, "value is not an integer or out of range")
	ErrNotFloat   = New(KindNotFloat, "value is not a valid float")
	ErrSyntax     = New(KindSyntax, "syntax error")
)
