package pmtiles

import (
	"errors"
	"fmt"
)

// Code classifies an Error into the taxonomy that every layer of the range
// reader stack, cache, and resolver agree on. Callers should prefer
// errors.Is/errors.As over comparing Code directly, since a single Error may
// wrap a vendor-specific cause.
type Code int

const (
	// CodeUnknown is never returned by this package; it is the zero value.
	CodeUnknown Code = iota
	// CodeInvalidArgument is a caller-side contract violation.
	CodeInvalidArgument
	// CodeOutOfRange means the offset is past the end of the source.
	CodeOutOfRange
	// CodeSizeUnknown means the backend cannot report a total size when one was required.
	CodeSizeUnknown
	// CodeIO wraps a transport failure.
	CodeIO
	// CodeTimeout means a connect or read deadline elapsed.
	CodeTimeout
	// CodeInvalidHeader means the 127-byte archive header failed to parse.
	CodeInvalidHeader
	// CodeInvalidDirectory means a directory failed to decode or violated its invariants.
	CodeInvalidDirectory
	// CodeMalformedArchive means the archive's internal pointers are inconsistent.
	CodeMalformedArchive
	// CodeUnsupportedCompression means a compression code outside {None,Gzip,Brotli,Zstd} was requested.
	CodeUnsupportedCompression
	// CodeUnsupported means a backend or configuration asked for a feature the core does not implement.
	CodeUnsupported
)

func (c Code) String() string {
	switch c {
	case CodeInvalidArgument:
		return "InvalidArgument"
	case CodeOutOfRange:
		return "OutOfRange"
	case CodeSizeUnknown:
		return "SizeUnknown"
	case CodeIO:
		return "Io"
	case CodeTimeout:
		return "Timeout"
	case CodeInvalidHeader:
		return "InvalidHeader"
	case CodeInvalidDirectory:
		return "InvalidDirectory"
	case CodeMalformedArchive:
		return "MalformedArchive"
	case CodeUnsupportedCompression:
		return "UnsupportedCompression"
	case CodeUnsupported:
		return "Unsupported"
	default:
		return "Unknown"
	}
}

// Error is the error type returned by every exported operation in this
// package that can fail. It always carries a Code; Retryable is meaningful
// only for CodeIO, identifying transient backend failures a caller (or the
// HTTP backend's own retry loop) may retry.
type Error struct {
	Code      Code
	Message   string
	Retryable bool
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("pmtiles: %s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("pmtiles: %s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, pmtiles.ErrOutOfRange) etc. work against sentinels
// built with newError below, comparing only on Code.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

func newError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func wrapError(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func wrapIOError(message string, cause error, retryable bool) *Error {
	return &Error{Code: CodeIO, Message: message, Cause: cause, Retryable: retryable}
}

// Sentinels for errors.Is comparisons against a bare Code, e.g.
// errors.Is(err, pmtiles.ErrOutOfRange).
var (
	ErrInvalidArgument       = newError(CodeInvalidArgument, "")
	ErrOutOfRange            = newError(CodeOutOfRange, "")
	ErrSizeUnknown           = newError(CodeSizeUnknown, "")
	ErrIO                    = newError(CodeIO, "")
	ErrTimeout               = newError(CodeTimeout, "")
	ErrInvalidHeader         = newError(CodeInvalidHeader, "")
	ErrInvalidDirectory      = newError(CodeInvalidDirectory, "")
	ErrMalformedArchive      = newError(CodeMalformedArchive, "")
	ErrUnsupportedCompression = newError(CodeUnsupportedCompression, "")
	ErrUnsupported           = newError(CodeUnsupported, "")
)
