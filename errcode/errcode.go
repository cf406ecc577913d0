// Package errcode defines the error codes surfaced by this module.
//
// Code values match the MongoDB server's error code numbering so that a
// failure reported by a remote server passes through to callers with its
// code unmodified.
package errcode

import (
	"fmt"
)

// Code identifies a class of failure.
type Code int32

// Error codes surfaced by this module. The numeric values are the server's.
const (
	OK                 Code = 0
	InternalError      Code = 1
	BadValue           Code = 2
	HostUnreachable    Code = 6
	UnknownError       Code = 8
	FailedToParse      Code = 9
	IllegalOperation   Code = 20
	CallbackCanceled   Code = 90
	ShutdownInProgress Code = 91
)

func (c Code) String() string {
	switch c {
	case OK:
		return "OK"
	case InternalError:
		return "InternalError"
	case BadValue:
		return "BadValue"
	case HostUnreachable:
		return "HostUnreachable"
	case UnknownError:
		return "UnknownError"
	case FailedToParse:
		return "FailedToParse"
	case IllegalOperation:
		return "IllegalOperation"
	case CallbackCanceled:
		return "CallbackCanceled"
	case ShutdownInProgress:
		return "ShutdownInProgress"
	}
	return fmt.Sprintf("Code(%d)", int32(c))
}

// Error is an error carrying one of the codes above plus a human-readable
// message. The message of a remote command failure is carried verbatim.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New returns an error with the given code and message.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf returns an error with the given code and a formatted message.
func Newf(code Code, format string, args ...interface{}) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// causer is the interface used by github.com/pkg/errors for wrapped errors.
type causer interface {
	Cause() error
}

// CodeOf unwraps err looking for an *Error and returns its code. It returns
// OK for a nil error and UnknownError for errors that do not carry a code.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	for e := err; e != nil; {
		if ce, ok := e.(*Error); ok {
			return ce.Code
		}
		c, ok := e.(causer)
		if !ok {
			break
		}
		e = c.Cause()
	}
	return UnknownError
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// Message returns the message of an *Error, or err.Error() for other errors.
func Message(err error) string {
	if err == nil {
		return ""
	}
	for e := err; e != nil; {
		if ce, ok := e.(*Error); ok {
			return ce.Message
		}
		c, ok := e.(causer)
		if !ok {
			break
		}
		e = c.Cause()
	}
	return err.Error()
}
