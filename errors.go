package docstore

import (
	"errors"
	"fmt"
	"strings"
	"syscall"
)

// ErrorDomain identifies who assigned an error code.
type ErrorDomain int

const (
	DocStoreDomain ErrorDomain = 1 + iota // errors raised by this package
	POSIXDomain                           // syscall.Errno values
	BoltDomain                            // go.etcd.io/bbolt errors
	BadgerDomain                          // badger errors
)

func (d ErrorDomain) String() string {
	switch d {
	case DocStoreDomain:
		return "docstore"
	case POSIXDomain:
		return "posix"
	case BoltDomain:
		return "bolt"
	case BadgerDomain:
		return "badger"
	default:
		return fmt.Sprintf("domain%d", int(d))
	}
}

type ErrorCode int

// DocStoreDomain codes.
const (
	CodeAssertionFailed      ErrorCode = 1
	CodeUnimplemented        ErrorCode = 2
	CodeNoTransaction        ErrorCode = 5
	CodeBadRevisionID        ErrorCode = 6
	CodeCorruptRevisionData  ErrorCode = 8
	CodeNotOpen              ErrorCode = 11
	CodeNotFound             ErrorCode = 12
	CodeDeleted              ErrorCode = 13
	CodeConflict             ErrorCode = 14
	CodeInvalidParameter     ErrorCode = 15
	CodeDatabaseError        ErrorCode = 16
	CodeUnexpectedError      ErrorCode = 17
	CodeIOError              ErrorCode = 19
	CodeCommitFailed         ErrorCode = 20
	CodeNotWriteable         ErrorCode = 22
	CodeCorruptData          ErrorCode = 23
	CodeBusy                 ErrorCode = 24
	CodeNotInTransaction     ErrorCode = 25
	CodeTransactionNotClosed ErrorCode = 26
	CodeIndexBusy            ErrorCode = 27
	CodeUnsupported          ErrorCode = 28
)

var docStoreMessages = map[ErrorCode]string{
	CodeAssertionFailed:      "assertion failed",
	CodeUnimplemented:        "unimplemented function called",
	CodeNoTransaction:        "call must be made in a transaction",
	CodeBadRevisionID:        "bad revision ID",
	CodeCorruptRevisionData:  "corrupt revision data",
	CodeNotOpen:              "database not open",
	CodeNotFound:             "not found",
	CodeDeleted:              "deleted",
	CodeConflict:             "conflict",
	CodeInvalidParameter:     "invalid parameter",
	CodeDatabaseError:        "database error",
	CodeUnexpectedError:      "unexpected error",
	CodeIOError:              "I/O error",
	CodeCommitFailed:         "commit failed",
	CodeNotWriteable:         "not writeable",
	CodeCorruptData:          "data is corrupted",
	CodeBusy:                 "database busy/locked",
	CodeNotInTransaction:     "must be called during a transaction",
	CodeTransactionNotClosed: "transaction not closed",
	CodeIndexBusy:            "index busy; can't close view",
	CodeUnsupported:          "unsupported operation",
}

const (
	unknownErrorMsg       = "unknown error"
	unknownErrorDomainMsg = "unknown error domain"
)

// ErrorMessage returns the text for a (domain, code) pair. It never fails:
// unknown codes yield "unknown error", unknown domains "unknown error
// domain", and code 0 an empty string.
func ErrorMessage(domain ErrorDomain, code ErrorCode) string {
	if code == 0 {
		return ""
	}
	switch domain {
	case DocStoreDomain:
		if msg, ok := docStoreMessages[code]; ok {
			return msg
		}
	case POSIXDomain:
		if code > 0 {
			msg := syscall.Errno(code).Error()
			if !strings.HasPrefix(msg, "errno ") {
				return msg
			}
		}
	case BoltDomain:
		if code > 0 && int(code) < len(boltErrors) && boltErrors[code] != nil {
			return boltErrors[code].Error()
		}
	case BadgerDomain:
		if code > 0 && int(code) < len(badgerErrors) && badgerErrors[code] != nil {
			return badgerErrors[code].Error()
		}
	default:
		return unknownErrorDomainMsg
	}
	return unknownErrorMsg
}

// Error is the structured error returned by every fallible operation.
// Compare with errors.Is against the Err* sentinels, which match on
// domain and code only.
type Error struct {
	Domain ErrorDomain
	Code   ErrorCode
	Msg    string // context, e.g. the document ID
	Err    error
}

var (
	ErrNotFound             = &Error{Domain: DocStoreDomain, Code: CodeNotFound}
	ErrConflict             = &Error{Domain: DocStoreDomain, Code: CodeConflict}
	ErrInvalidParameter     = &Error{Domain: DocStoreDomain, Code: CodeInvalidParameter}
	ErrBadRevisionID        = &Error{Domain: DocStoreDomain, Code: CodeBadRevisionID}
	ErrCorruptData          = &Error{Domain: DocStoreDomain, Code: CodeCorruptData}
	ErrCorruptRevisionData  = &Error{Domain: DocStoreDomain, Code: CodeCorruptRevisionData}
	ErrNotInTransaction     = &Error{Domain: DocStoreDomain, Code: CodeNotInTransaction}
	ErrTransactionNotClosed = &Error{Domain: DocStoreDomain, Code: CodeTransactionNotClosed}
	ErrNotOpen              = &Error{Domain: DocStoreDomain, Code: CodeNotOpen}
	ErrBusy                 = &Error{Domain: DocStoreDomain, Code: CodeBusy}
	ErrNotWriteable         = &Error{Domain: DocStoreDomain, Code: CodeNotWriteable}
	ErrUnsupported          = &Error{Domain: DocStoreDomain, Code: CodeUnsupported}
)

func (e *Error) Error() string {
	msg := ErrorMessage(e.Domain, e.Code)
	if e.Domain != DocStoreDomain && e.Err != nil {
		msg = e.Err.Error()
	}
	var buf strings.Builder
	if e.Msg != "" {
		buf.WriteString(e.Msg)
		buf.WriteString(": ")
	}
	buf.WriteString(msg)
	if e.Domain == DocStoreDomain && e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Domain == e.Domain && t.Code == e.Code
}

func errf(code ErrorCode, format string, args ...any) error {
	return &Error{Domain: DocStoreDomain, Code: code, Msg: fmt.Sprintf(format, args...)}
}

func wrapErrf(code ErrorCode, err error, format string, args ...any) error {
	return &Error{Domain: DocStoreDomain, Code: code, Msg: fmt.Sprintf(format, args...), Err: err}
}

// wrapStorageErr converts a backend error into an *Error, keeping the
// backend's own domain and code when it has one.
func wrapStorageErr(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf(format, args...)
	var e *Error
	if errors.As(err, &e) {
		if msg == "" {
			return err
		}
		return &Error{Domain: e.Domain, Code: e.Code, Msg: msg, Err: err}
	}
	var de *DataError
	if errors.As(err, &de) {
		return &Error{Domain: DocStoreDomain, Code: CodeCorruptData, Msg: msg, Err: err}
	}
	if code, ok := boltErrorCode(err); ok {
		return &Error{Domain: BoltDomain, Code: code, Msg: msg, Err: err}
	}
	if code, ok := badgerErrorCode(err); ok {
		return &Error{Domain: BadgerDomain, Code: code, Msg: msg, Err: err}
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return &Error{Domain: POSIXDomain, Code: ErrorCode(errno), Msg: msg, Err: err}
	}
	return &Error{Domain: DocStoreDomain, Code: CodeDatabaseError, Msg: msg, Err: err}
}

// ErrorCodeOf returns the domain and code carried by err, or (0, 0) for nil.
// Errors that aren't *Error report CodeUnexpectedError.
func ErrorCodeOf(err error) (ErrorDomain, ErrorCode) {
	if err == nil {
		return 0, 0
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Domain, e.Code
	}
	return DocStoreDomain, CodeUnexpectedError
}

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// DataError describes malformed stored bytes.
type DataError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func dataErrf(data []byte, off int, err error, format string, args ...any) error {
	return &DataError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	if n <= prefixLen+suffixLen {
		if e.Err != nil {
			return fmt.Sprintf("%s at %d: %v: (%d) %x", e.Msg, e.Off, e.Err, n, e.Data)
		} else {
			return fmt.Sprintf("%s at %d: (%d) %x", e.Msg, e.Off, n, e.Data)
		}
	} else {
		p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
		if e.Err != nil {
			return fmt.Sprintf("%s at %d: %v: (%d) %x...%x", e.Msg, e.Off, e.Err, n, p, s)
		} else {
			return fmt.Sprintf("%s at %d: (%d) %x...%x", e.Msg, e.Off, n, p, s)
		}
	}
}
