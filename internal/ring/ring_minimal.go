// Package ring: pure-Go io_uring fallback requiring no cgo and no
// iceber/iouring-go build tag, for environments where linking that
// client isn't available. Supports exactly what backend/kernel needs:
// submitting IORING_OP_URING_CMD SQEs carrying an NVMe passthrough
// command, and reaping their CQEs. Carries no build tag so it's
// available (as NewMinimalRing) under both the default build and the
// giouring-tagged one, matching the teacher's own minimal.go.
package ring

import (
	"fmt"
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/szd-go/zns/internal/logging"
	"github.com/szd-go/zns/internal/uapi"
)

const (
	ioUringOpUringCmd = 50

	ioUringSetupSQE128 = 1 << 10
	ioUringSetupCQE32  = 1 << 11

	ioUringEnterGetEvents = 1 << 0
)

// sqe128 is the 128-byte submission queue entry layout URING_CMD needs
// to carry a 72-byte passthrough command inline.
type sqe128 struct {
	opcode      uint8
	flags       uint8
	ioprio      uint16
	fd          int32
	off         uint64
	addr        uint64
	len         uint32
	opcodeFlags uint32
	userData    uint64
	bufIndex    uint16
	personality uint16
	spliceOff   int32
	cmd         [80]byte
}

// cqe32 is the 32-byte completion queue entry layout CQE32 produces.
type cqe32 struct {
	userData uint64
	res      int32
	flags    uint32
	bigCQE   [16]uint8
}

type ringParams struct {
	sqEntries    uint32
	cqEntries    uint32
	flags        uint32
	sqThreadCpu  uint32
	sqThreadIdle uint32
	features     uint32
	wqFd         uint32
	resv         [3]uint32
	sqOff        struct {
		head, tail, ringMask, ringEntries, flags, dropped, array, resv1 uint32
		userAddr                                                       uint64
	}
	cqOff struct {
		head, tail, ringMask, ringEntries, overflow, cqes, flags, resv1 uint32
		userAddr                                                        uint64
	}
}

// minimalResult implements Result.
type minimalResult struct {
	userData uint64
	value    int32
	err      error
}

func (r *minimalResult) UserData() uint64 { return r.userData }
func (r *minimalResult) Value() int32     { return r.value }
func (r *minimalResult) Error() error     { return r.err }

// minimalRing is a single-SQ/single-CQ io_uring instance dedicated to
// one namespace's passthrough commands.
type minimalRing struct {
	mu     sync.Mutex
	fd     int
	devFD  int32
	params ringParams
	sqAddr unsafe.Pointer
	cqAddr unsafe.Pointer
}

// NewMinimalRing creates a pure-Go io_uring instance for URING_CMD
// submissions against config.FD.
func NewMinimalRing(config Config) (Ring, error) {
	logger := logging.Default()
	logger.Debug("creating minimal io_uring", "entries", config.Entries, "fd", config.FD)

	params := ringParams{
		sqEntries: config.Entries,
		cqEntries: config.Entries * 2,
		flags:     ioUringSetupSQE128 | ioUringSetupCQE32,
	}

	ringFd, _, errno := syscall.Syscall(unix.SYS_IO_URING_SETUP,
		uintptr(config.Entries), uintptr(unsafe.Pointer(&params)), 0)
	if errno != 0 {
		return nil, fmt.Errorf("io_uring_setup: %w", errno)
	}

	sqSize := params.sqOff.array + params.sqEntries*4
	cqSize := params.cqOff.cqes + params.cqEntries*uint32(unsafe.Sizeof(cqe32{}))

	sqAddr, err := unix.Mmap(int(ringFd), 0, int(sqSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		syscall.Close(int(ringFd))
		return nil, fmt.Errorf("mmap SQ: %w", err)
	}

	cqAddr, err := unix.Mmap(int(ringFd), 0x8000000, int(cqSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Munmap(sqAddr)
		syscall.Close(int(ringFd))
		return nil, fmt.Errorf("mmap CQ: %w", err)
	}

	return &minimalRing{
		fd:     int(ringFd),
		devFD:  config.FD,
		params: params,
		sqAddr: unsafe.Pointer(&sqAddr[0]),
		cqAddr: unsafe.Pointer(&cqAddr[0]),
	}, nil
}

func (r *minimalRing) Close() error {
	return syscall.Close(r.fd)
}

func (r *minimalRing) prepSQE(cmd *uapi.PassthruCmd, userData uint64) error {
	sqHead := (*uint32)(unsafe.Add(r.sqAddr, r.params.sqOff.head))
	sqTail := (*uint32)(unsafe.Add(r.sqAddr, r.params.sqOff.tail))
	sqMask := r.params.sqEntries - 1

	if (*sqTail - *sqHead) >= r.params.sqEntries {
		return ErrRingFull
	}

	sqArray := unsafe.Add(r.sqAddr, r.params.sqOff.array)
	sqIndex := *sqTail & sqMask
	sqeSlot := unsafe.Add(r.sqAddr, uintptr(128*sqIndex))

	sqe := (*sqe128)(sqeSlot)
	*sqe = sqe128{
		opcode:   ioUringOpUringCmd,
		fd:       r.devFD, // config.FD, stored at ring creation
		userData: userData,
	}
	cmdBytes := uapi.Marshal(cmd)
	copy(sqe.cmd[:], cmdBytes)

	*(*uint32)(unsafe.Add(sqArray, uintptr(4*sqIndex))) = sqIndex
	*sqTail = *sqTail + 1
	return nil
}

func (r *minimalRing) enter(toSubmit, minComplete uint32) error {
	_, _, errno := syscall.Syscall6(unix.SYS_IO_URING_ENTER,
		uintptr(r.fd), uintptr(toSubmit), uintptr(minComplete),
		uintptr(ioUringEnterGetEvents), 0, 0)
	if errno != 0 {
		return fmt.Errorf("io_uring_enter: %w", errno)
	}
	return nil
}

func (r *minimalRing) reapOne() (Result, bool) {
	cqHead := (*uint32)(unsafe.Add(r.cqAddr, r.params.cqOff.head))
	cqTail := (*uint32)(unsafe.Add(r.cqAddr, r.params.cqOff.tail))
	if *cqHead == *cqTail {
		return nil, false
	}

	cqMask := r.params.cqEntries - 1
	cqIndex := *cqHead & cqMask
	cqeSlot := unsafe.Add(r.cqAddr, uintptr(32*cqIndex))
	cqe := (*cqe32)(cqeSlot)

	res := &minimalResult{userData: cqe.userData, value: cqe.res}
	if cqe.res < 0 {
		res.err = fmt.Errorf("command failed: result %d", cqe.res)
	}
	*cqHead = *cqHead + 1
	return res, true
}

func (r *minimalRing) Submit(cmd *uapi.PassthruCmd, userData uint64) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.prepSQE(cmd, userData); err != nil {
		return nil, err
	}
	if err := r.enter(1, 1); err != nil {
		return nil, err
	}
	res, ok := r.reapOne()
	if !ok {
		return nil, fmt.Errorf("no completion available after io_uring_enter")
	}
	return res, nil
}

func (r *minimalRing) SubmitAsync(cmd *uapi.PassthruCmd, userData uint64) (*AsyncHandle, error) {
	r.mu.Lock()
	if err := r.prepSQE(cmd, userData); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	if err := r.enter(1, 0); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	r.mu.Unlock()

	done := make(chan Result, 1)
	go func() {
		for {
			res, ok, err := r.PollOnce()
			if err != nil {
				done <- &minimalResult{userData: userData, err: err}
				return
			}
			if ok && res.UserData() == userData {
				done <- res
				return
			}
		}
	}()
	return &AsyncHandle{ring: r, userData: userData, done: done}, nil
}

func (r *minimalRing) PollOnce() (Result, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.reapOne()
	return res, ok, nil
}
