/*-------------------------------------------------------------------------
 *
 * QPG - Typed Errors
 *
 * Portions copyright (c) 2025, pgEdge, Inc.
 * This software is released under The PostgreSQL License
 *
 *-------------------------------------------------------------------------
 */

package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies an error for exit-code mapping and the tool-surface
// error envelope.
type Kind string

const (
	KindGuardViolation   Kind = "guard_violation"
	KindPrivilegeFailure Kind = "privilege_failure"
	KindConnectionError  Kind = "connection_error"
	KindSchemaConflict   Kind = "schema_conflict"
	KindIndexBuildError  Kind = "index_build_error"
	KindNotFound         Kind = "not_found"
	KindHookError        Kind = "hook_error"
	KindConfigError      Kind = "config_error"
	KindCancelled        Kind = "cancelled"
	KindInternal         Kind = "internal"
)

// Error is the error type returned across package boundaries.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an error with the given kind and message
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error with a formatted message
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with a kind and message
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Wrapf wraps an existing error with a kind and formatted message
func Wrapf(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf returns the kind of an error, or KindInternal for untyped errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var typed *Error
	if stderrors.As(err, &typed) {
		return typed.Kind
	}
	return KindInternal
}

// IsKind reports whether err (or any error it wraps) has the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// ExitCode maps an error to the process exit code:
// 0 success, 1 user error, 2 privilege failure, 3 connection/guard
// violation, 4 internal failure.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch KindOf(err) {
	case KindNotFound, KindConfigError, KindHookError, KindCancelled:
		return 1
	case KindPrivilegeFailure:
		return 2
	case KindConnectionError, KindGuardViolation:
		return 3
	default:
		return 4
	}
}
