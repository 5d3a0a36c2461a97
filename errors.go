package scp

import (
	"errors"
	"fmt"
)

// Code identifies the library-level failure reasons a request callback can
// report, distinct from transport errors bubbled up from the socket itself.
type Code int

const (
	// CodeBadRC means the peer replied with a cmd_rc other than OK.
	CodeBadRC Code = 1
	// CodeTimeout means no reply arrived after the configured number of
	// attempts.
	CodeTimeout Code = 2
	// CodeFree means the request was cancelled because the owning
	// Connection was freed before a reply arrived.
	CodeFree Code = 3
)

// Error is returned to a request's callback whenever the request failed for
// a reason internal to this library, as opposed to a raw transport failure
// (a socket error, which is reported as a plain annotated error, never as an
// *Error).
type Error struct {
	Code Code

	// CmdRC holds the response code the peer actually sent, and is only
	// meaningful when Code == CodeBadRC.
	CmdRC uint16

	cause error
}

func (e *Error) Error() string {
	return ErrMessage(e)
}

// Unwrap exposes the wrapped transport cause, if any, so errors.Is/As work
// across the boundary between this library's errors and lower-level ones.
func (e *Error) Unwrap() error {
	return e.cause
}

// ErrName returns a short, stable, machine-friendly name for err, mirroring
// the constant names used in request callbacks. It returns "OK" for a nil
// error and "TRANSPORT_ERROR" for any error this library did not originate.
func ErrName(err error) string {
	if err == nil {
		return "OK"
	}
	var se *Error
	if errors.As(err, &se) {
		switch se.Code {
		case CodeBadRC:
			return "BAD_RC"
		case CodeTimeout:
			return "TIMEOUT"
		case CodeFree:
			return "FREE"
		}
	}
	return "TRANSPORT_ERROR"
}

// ErrMessage returns a human-readable description of err.
func ErrMessage(err error) string {
	if err == nil {
		return "success"
	}
	var se *Error
	if errors.As(err, &se) {
		switch se.Code {
		case CodeBadRC:
			return fmt.Sprintf("peer returned a non-OK response code: %d", se.CmdRC)
		case CodeTimeout:
			return "timed out waiting for a reply"
		case CodeFree:
			return "request cancelled by connection free"
		}
	}
	return err.Error()
}
