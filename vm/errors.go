package vm

import (
	"errors"
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Host-level errors
// ---------------------------------------------------------------------------

// Language-level conditions (index errors, type errors, dead returns) are
// signaled as Smalltalk exceptions and never reach Go as errors. The errors
// below are the ones that do: bad slot access from Go code, graph problems
// detected at load time, and fatal halts of the interpreter.
var (
	ErrIndexOutOfBounds         = errors.New("vm: index out of bounds")
	ErrNotIndexable             = errors.New("vm: object is not indexable")
	ErrWrongKind                = errors.New("vm: value has the wrong kind for this slot")
	ErrNotAnObject              = errors.New("vm: value is not a heap object")
	ErrFreedObject              = errors.New("vm: reference to a freed object")
	ErrDoesNotUnderstandMissing = errors.New("vm: doesNotUnderstand: is not understood")
	ErrMalformedImage           = errors.New("vm: malformed image")
	ErrDeadlock                 = errors.New("vm: no runnable process")
	ErrStackOverflow            = errors.New("vm: operand stack overflow")
	ErrHalted                   = errors.New("vm: interpreter halted")
	ErrVerify                   = errors.New("vm: bytecode verification failed")
	ErrNoCompiler               = errors.New("vm: no method compiler installed")
	ErrImmutable                = errors.New("vm: object is immutable")
	ErrReentrant                = errors.New("vm: interpreter is already running")
)

// FatalError halts the interpreter. It records the selector and receiver
// class at the point of failure.
type FatalError struct {
	Err      error
	Selector string
	Class    string
}

func (e *FatalError) Error() string {
	if e.Selector == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s (%s>>%s)", e.Err, e.Class, e.Selector)
}

func (e *FatalError) Unwrap() error { return e.Err }

// UnhandledError is returned by an entry send when a Smalltalk Error was
// signaled and no handler took it.
type UnhandledError struct {
	Exception   Value
	ClassName   string
	MessageText string
	Trace       []string
}

func (e *UnhandledError) Error() string {
	var sb strings.Builder
	sb.WriteString("unhandled ")
	sb.WriteString(e.ClassName)
	if e.MessageText != "" {
		sb.WriteString(": ")
		sb.WriteString(e.MessageText)
	}
	return sb.String()
}

// CompileError is returned by a MethodCompiler.
type CompileError struct {
	Class    string
	Messages []string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile error in %s: %s", e.Class, strings.Join(e.Messages, "; "))
}
