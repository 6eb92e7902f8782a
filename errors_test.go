package szd

import (
	"errors"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/szd-go/zns/internal/interfaces"
)

func TestStructuredError(t *testing.T) {
	err := NewError("DirectAppend", CodeInvalidArguments, "invalid queue depth")
	require.Equal(t, "DirectAppend", err.Op)
	require.Equal(t, CodeInvalidArguments, err.Code)
	require.Equal(t, "szd: invalid queue depth (op=DirectAppend)", err.Error())
}

func TestErrorWithErrno(t *testing.T) {
	err := NewErrorWithErrno("Open", CodeDeviceError, syscall.EPERM)
	require.Equal(t, syscall.EPERM, err.Errno)
	require.Equal(t, CodeDeviceError, err.Code)
}

func TestDeviceError(t *testing.T) {
	err := NewDeviceError("Open", "/dev/ng0n1", CodeDeviceError, "device in use")
	require.Equal(t, "/dev/ng0n1", err.DevID)
	require.Equal(t, "szd: device in use (op=Open)", err.Error())
}

func TestChannelError(t *testing.T) {
	err := NewChannelError("DirectRead", "/dev/ng0n1", 2, CodeIOError, "read stalled")
	require.Equal(t, "/dev/ng0n1", err.DevID)
	require.Equal(t, 2, err.Channel)
}

func TestWrapErrorPreservesStructuredError(t *testing.T) {
	inner := NewError("ResetZone", CodeInvalidArguments, "not at zone start")
	wrapped := WrapError("ResetAll", inner)
	require.Equal(t, "ResetAll", wrapped.Op)
	require.Equal(t, CodeInvalidArguments, wrapped.Code)
}

func TestWrapErrorMapsErrno(t *testing.T) {
	err := WrapError("Open", syscall.ENOENT)
	require.Equal(t, CodeDeviceError, err.Code)
	require.Equal(t, syscall.ENOENT, err.Errno)
	require.True(t, errors.Is(err, syscall.ENOENT))
}

func TestWrapErrorNilIsNil(t *testing.T) {
	require.Nil(t, WrapError("Open", nil))
}

func TestErrorIsComparesByCode(t *testing.T) {
	a := NewError("Op1", CodeIOError, "first")
	b := NewError("Op2", CodeIOError, "second")
	c := NewError("Op3", CodeInvalidArguments, "third")

	require.True(t, errors.Is(a, b))
	require.False(t, errors.Is(a, c))
}

func TestIsCode(t *testing.T) {
	err := NewError("Append", CodeIOError, "operation timed out")
	require.True(t, IsCode(err, CodeIOError))
	require.False(t, IsCode(err, CodeInvalidArguments))
	require.False(t, IsCode(nil, CodeIOError))
}

func TestIsErrno(t *testing.T) {
	err := NewErrorWithErrno("Append", CodeIOError, syscall.EIO)
	require.True(t, IsErrno(err, syscall.EIO))
	require.False(t, IsErrno(err, syscall.EPERM))
	require.False(t, IsErrno(nil, syscall.EIO))
}

func TestErrnoMapping(t *testing.T) {
	cases := []struct {
		errno    syscall.Errno
		expected Code
	}{
		{syscall.ENODEV, CodeDeviceError},
		{syscall.ENXIO, CodeDeviceError},
		{syscall.ENOENT, CodeDeviceError},
		{syscall.EINVAL, CodeInvalidArguments},
		{syscall.E2BIG, CodeInvalidArguments},
		{syscall.ENOMEM, CodeMemoryError},
		{syscall.EIO, CodeIOError},
		{syscall.EPERM, CodeUnknown},
	}
	for _, tc := range cases {
		require.Equal(t, tc.expected, mapErrnoToCode(tc.errno), "errno=%v", tc.errno)
	}
}

func TestFromBackendCodeCompressesTaxonomy(t *testing.T) {
	cases := []struct {
		in       interfaces.Code
		expected Code
	}{
		{interfaces.CodeSuccess, CodeSuccess},
		{interfaces.CodeNotAllocated, CodeNotAllocated},
		{interfaces.CodeInitFailed, CodeDeviceError},
		{interfaces.CodeOpenFailed, CodeDeviceError},
		{interfaces.CodeAppendFailed, CodeIOError},
		{interfaces.CodeReportFailed, CodeIOError},
		{interfaces.CodeResetFailed, CodeInvalidArguments},
		{interfaces.CodeDmaAllocFailed, CodeMemoryError},
	}
	for _, tc := range cases {
		require.Equal(t, tc.expected, fromBackendCode(tc.in), "code=%v", tc.in)
	}
}

func TestWrapBackendError(t *testing.T) {
	be := &interfaces.BackendError{Op: "Append", Code: interfaces.CodeAppendFailed, Err: errors.New("not at write pointer")}
	wrapped := wrapBackendError("DirectAppend", be)
	require.Equal(t, CodeIOError, wrapped.Code)
	require.ErrorIs(t, wrapped, wrapped)

	require.Nil(t, wrapBackendError("DirectAppend", nil))
}

func TestCodeString(t *testing.T) {
	require.Equal(t, "success", CodeSuccess.String())
	require.Equal(t, "I/O error", CodeIOError.String())
	require.Equal(t, "unknown error", Code(99).String())
}
