package szd

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/szd-go/zns/internal/interfaces"
)

// Error is a structured szd error carrying the operation, device and
// channel context, and a compressed status category.
type Error struct {
	Op      string // operation that failed (e.g. "Open", "DirectAppend")
	DevID   string // transport address (empty if not applicable)
	Channel int    // channel index (-1 if not applicable)
	Code    Code   // compressed status category
	Errno   syscall.Errno
	Msg     string
	Inner   error
}

func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.DevID != "" {
		parts = append(parts, fmt.Sprintf("dev=%s", e.DevID))
	}
	if e.Channel >= 0 {
		parts = append(parts, fmt.Sprintf("channel=%d", e.Channel))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = e.Code.String()
	}

	if len(parts) > 0 {
		return fmt.Sprintf("szd: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("szd: %s", msg)
}

// Unwrap supports errors.Is/As against the wrapped error.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is supports errors.Is comparison against another *Error by Code.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// Code is the public, compressed status taxonomy: every
// internal interfaces.Code from a backend maps onto one of these.
type Code int

const (
	CodeSuccess Code = iota
	CodeNotAllocated
	CodeDeviceError
	CodeIOError
	CodeMemoryError
	CodeInvalidArguments
	CodeUnknown
)

func (c Code) String() string {
	switch c {
	case CodeSuccess:
		return "success"
	case CodeNotAllocated:
		return "not allocated"
	case CodeDeviceError:
		return "device error"
	case CodeIOError:
		return "I/O error"
	case CodeMemoryError:
		return "memory error"
	case CodeInvalidArguments:
		return "invalid arguments"
	default:
		return "unknown error"
	}
}

// NewError creates a structured error with no device/channel context.
func NewError(op string, code Code, msg string) *Error {
	return &Error{Op: op, Channel: -1, Code: code, Msg: msg}
}

// NewErrorWithErrno creates a structured error carrying a kernel errno.
func NewErrorWithErrno(op string, code Code, errno syscall.Errno) *Error {
	return &Error{Op: op, Channel: -1, Code: code, Errno: errno, Msg: errno.Error()}
}

// NewDeviceError creates a device-scoped structured error.
func NewDeviceError(op, devID string, code Code, msg string) *Error {
	return &Error{Op: op, DevID: devID, Channel: -1, Code: code, Msg: msg}
}

// NewChannelError creates a channel-scoped structured error.
func NewChannelError(op, devID string, channel int, code Code, msg string) *Error {
	return &Error{Op: op, DevID: devID, Channel: channel, Code: code, Msg: msg}
}

// WrapError wraps an existing error with szd operation context,
// preserving or inferring its Code.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	if se, ok := inner.(*Error); ok {
		return &Error{
			Op:      op,
			DevID:   se.DevID,
			Channel: se.Channel,
			Code:    se.Code,
			Errno:   se.Errno,
			Msg:     se.Msg,
			Inner:   se.Inner,
		}
	}

	if errno, ok := inner.(syscall.Errno); ok {
		code := mapErrnoToCode(errno)
		return &Error{Op: op, Channel: -1, Code: code, Errno: errno, Msg: errno.Error(), Inner: inner}
	}

	return &Error{Op: op, Channel: -1, Code: CodeUnknown, Msg: inner.Error(), Inner: inner}
}

// mapErrnoToCode maps a kernel errno onto the compressed Code taxonomy.
func mapErrnoToCode(errno syscall.Errno) Code {
	switch errno {
	case syscall.ENODEV, syscall.ENXIO, syscall.ENOENT:
		return CodeDeviceError
	case syscall.EINVAL, syscall.E2BIG:
		return CodeInvalidArguments
	case syscall.ENOMEM:
		return CodeMemoryError
	case syscall.EIO:
		return CodeIOError
	default:
		return CodeUnknown
	}
}

// IsCode reports whether err is (or wraps) an *Error with the given Code.
func IsCode(err error, code Code) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// IsErrno reports whether err is (or wraps) an *Error with the given errno.
func IsErrno(err error, errno syscall.Errno) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Errno == errno
	}
	return false
}

// wrapBackendError adapts an error returned by an interfaces.Backend call
// into a structured *Error, compressing an *interfaces.BackendError's Code
// and falling back to CodeUnknown for anything else the backend returned.
func wrapBackendError(op string, err error) *Error {
	if err == nil {
		return nil
	}
	if be, ok := err.(*interfaces.BackendError); ok {
		return &Error{Op: op, Channel: -1, Code: fromBackendCode(be.Code), Msg: be.Error(), Inner: err}
	}
	return &Error{Op: op, Channel: -1, Code: CodeUnknown, Msg: err.Error(), Inner: err}
}

// fromBackendCode compresses an internal/interfaces.Code (the 14-value
// backend taxonomy reported by a Backend) into the public 7-value Code.
func fromBackendCode(c interfaces.Code) Code {
	switch c {
	case interfaces.CodeSuccess:
		return CodeSuccess
	case interfaces.CodeNotAllocated:
		return CodeNotAllocated
	case interfaces.CodeInitFailed, interfaces.CodeOpenFailed, interfaces.CodeCloseFailed,
		interfaces.CodeProbeFailed, interfaces.CodeQpairFailed:
		return CodeDeviceError
	case interfaces.CodeAppendFailed, interfaces.CodeReadFailed, interfaces.CodeReportFailed,
		interfaces.CodeFinishFailed, interfaces.CodePollFailed:
		return CodeIOError
	case interfaces.CodeResetFailed:
		return CodeInvalidArguments
	case interfaces.CodeDmaAllocFailed:
		return CodeMemoryError
	default:
		return CodeUnknown
	}
}
