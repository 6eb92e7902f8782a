// Package ring provides the async submission/completion ring
// backend/kernel uses to issue NVMe passthrough commands via
// IORING_OP_URING_CMD, so AppendAsync/PollAsync don't block on every
// zone-append.
package ring

import (
	"errors"

	"github.com/szd-go/zns/internal/logging"
	"github.com/szd-go/zns/internal/uapi"
)

// ErrRingFull is returned when the submission queue has no free entry
// for another command, e.g. when more async appends are in flight on one
// queue pair than the ring has entries.
var ErrRingFull = errors.New("submission queue full")

// Ring is the async command ring a kernel-passthrough backend submits
// NVMe commands through.
type Ring interface {
	// Close closes the ring and releases resources.
	Close() error

	// Submit submits a passthrough command and blocks until it completes.
	Submit(cmd *uapi.PassthruCmd, userData uint64) (Result, error)

	// SubmitAsync submits a passthrough command without waiting for
	// completion, returning a handle the caller polls later.
	SubmitAsync(cmd *uapi.PassthruCmd, userData uint64) (*AsyncHandle, error)

	// PollOnce makes one non-blocking attempt to reap any ready
	// completion, returning ok=false if none are ready yet.
	PollOnce() (Result, bool, error)
}

// Result represents the outcome of one completed command.
type Result interface {
	UserData() uint64
	Value() int32
	Error() error
}

// AsyncHandle is returned by SubmitAsync; Wait blocks until the kernel
// posts the matching completion queue entry.
type AsyncHandle struct {
	ring     Ring
	userData uint64
	done     chan Result
}

// Wait blocks until this submission's completion arrives.
func (h *AsyncHandle) Wait() (Result, error) {
	r := <-h.done
	if r.Error() != nil {
		return r, r.Error()
	}
	return r, nil
}

// TryWait makes one non-blocking attempt to reap this submission's
// completion, returning ok=false if the kernel hasn't posted it yet.
func (h *AsyncHandle) TryWait() (Result, bool) {
	select {
	case r := <-h.done:
		return r, true
	default:
		return nil, false
	}
}

// Config configures a new Ring.
type Config struct {
	Entries uint32 // submission/completion queue depth
	FD      int32  // nvme char device (or namespace) file descriptor
}

// NewRing creates a Ring: the pure-Go fallback (see ring_minimal.go) by
// default, or the iceber/iouring-go-backed Ring (see ring_iouring.go)
// when built with -tags giouring. newRingImpl is the build-tag-gated
// selector defined in ring_select_default.go / ring_iouring.go.
func NewRing(config Config) (Ring, error) {
	logger := logging.Default()
	logger.Debug("creating io_uring", "entries", config.Entries, "fd", config.FD)

	r, err := newRingImpl(config)
	if err != nil {
		logger.Error("failed to create io_uring", "error", err)
		return nil, err
	}

	logger.Info("created io_uring", "entries", config.Entries)
	return r, nil
}
