// Package lerrors are a unified errors package for chunk loading and runtime so
// that they can be formatted in a unified way and handled in a unified way.
package lerrors

import (
	"errors"
	"fmt"
	"strings"
)

type (
	// ErrorKind is an enum to describe where the error originates from.
	ErrorKind int
	// Error captures all errors in the lvm runtime. It distinguishes between loader,
	// runtime, and host errors and will format them accordingly. Runtime errors carry
	// the instruction that faulted and the trailing instruction log.
	Error struct {
		Kind        ErrorKind
		Err         error
		Chunk       string
		PC          int64
		Line        int64
		Instruction string
		Depth       int
		Backlog     []string
	}
)

const (
	// RuntimeErr is an error that originates from the runtime.
	RuntimeErr ErrorKind = iota
	// LoaderErr is an error that originates from reading a chunk.
	LoaderErr
	// HostErr is an error raised by a native function.
	HostErr
)

// Sentinel fault classes, faults wrap one of these so callers can use errors.Is.
var (
	ErrMalformedPrototype  = errors.New("malformed prototype")
	ErrRegisterOutOfRange  = fmt.Errorf("%w: register out of range", ErrMalformedPrototype)
	ErrConstantOutOfRange  = fmt.Errorf("%w: constant out of range", ErrMalformedPrototype)
	ErrBadOpcode           = fmt.Errorf("%w: bad opcode", ErrMalformedPrototype)
	ErrTypeMismatch        = errors.New("type mismatch")
	ErrMissingMetamethod   = errors.New("missing metamethod")
	ErrUnsupportedCoercion = errors.New("unsupported coercion")
	ErrNotAFunction        = errors.New("attempt to call a non-function value")
	ErrArityMismatch       = errors.New("arity mismatch")
	ErrInvalidKey          = errors.New("invalid table key")
	ErrKeyNotFound         = errors.New("key not found")
	ErrResourceExceeded    = errors.New("resource exceeded")
	ErrUnsupported         = errors.New("unsupported")
	ErrUnknownEvent        = errors.New("unknown metatable event")
	ErrEventAlreadySet     = errors.New("metatable event already set")
	ErrBadChunk            = errors.New("bad chunk")
)

func (err *Error) Error() string {
	switch err.Kind {
	case RuntimeErr:
		return fmt.Sprintf(
			"lvm:%v:%v: %v\n  at pc %v [%v] depth %v",
			err.Chunk,
			err.Line,
			err.Err,
			err.PC,
			strings.TrimSpace(err.Instruction),
			err.Depth,
		)
	case LoaderErr:
		return fmt.Sprintf("Load Error: %s: %v", err.Chunk, err.Err)
	default:
		return err.Err.Error()
	}
}

func (err *Error) Unwrap() error { return err.Err }

// Trace formats the trailing instruction log, oldest first.
func (err *Error) Trace() string {
	return "backlog:\n\t" + strings.Join(err.Backlog, "\n\t")
}
