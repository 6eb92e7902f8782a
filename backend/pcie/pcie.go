// Package pcie implements interfaces.Backend by driving an NVMe
// controller's BAR0 registers directly from user space — admin/I/O
// submission and completion queues, doorbells, and command entries all
// built and polled by hand rather than routed through the kernel's nvme
// driver. Registers are named constants at fixed offsets, set and
// polled until the controller acknowledges, with the PCIe resource
// mapped through a UIO/VFIO resource file rather than a bare-metal
// register window.
package pcie

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/szd-go/zns/internal/interfaces"
	"github.com/szd-go/zns/internal/logging"
	"github.com/szd-go/zns/internal/profile"
	"github.com/szd-go/zns/internal/uapi"
)

// NVMe controller register offsets within BAR0 (NVMe Base spec 3.1).
const (
	regCAP  = 0x0000 // Controller Capabilities, 8 bytes
	regVS   = 0x0008 // Version
	regCC   = 0x0014 // Controller Configuration
	regCSTS = 0x001c // Controller Status
	regAQA  = 0x0024 // Admin Queue Attributes
	regASQ  = 0x0028 // Admin Submission Queue Base Address
	regACQ  = 0x0030 // Admin Completion Queue Base Address

	regDoorbellBase = 0x1000
)

// Controller Configuration (CC) bit layout.
const (
	ccEN     = 1 << 0
	ccCSSNvm = 0 << 4
	ccMPS0   = 0 << 7 // 4KiB memory page size
)

const ccShift16 = 16 // IOSQES/IOCQES occupy CC bits 16:19 and 20:23

// Controller Status (CSTS) bit layout.
const cstsRDY = 1 << 0

const (
	adminQueueDepth = 32
	ioQueueDepth    = 64
	sqeSize         = 64
	cqeSize         = 16
	barMapSize      = 0x3000 // registers + two queues' worth of doorbells
	identifyBufSize = 4096
)

// NVMe opcodes this driver issues directly (admin plane commands not
// already covered by internal/uapi's I/O opcodes).
const (
	opAdminCreateIOCQ = 0x05
	opAdminCreateIOSQ = 0x01
	opAdminIdentify   = 0x06
)

// sqe is one 64-byte NVMe Submission Queue Entry (NVMe Base spec 4.2).
type sqe struct {
	Opcode uint8
	Flags  uint8
	CID    uint16
	NSID   uint32
	Rsvd2  uint64
	MPTR   uint64
	PRP1   uint64
	PRP2   uint64
	CDW10  uint32
	CDW11  uint32
	CDW12  uint32
	CDW13  uint32
	CDW14  uint32
	CDW15  uint32
}

// cqe is one 16-byte NVMe Completion Queue Entry.
type cqe struct {
	DW0         uint32
	DW1         uint32
	SQHeadPtr   uint16
	SQID        uint16
	CID         uint16
	StatusPhase uint16 // bit0: phase tag; bits 1-15: status field
}

func (c cqe) phase() uint16  { return c.StatusPhase & 0x1 }
func (c cqe) status() uint16 { return c.StatusPhase >> 1 }

type errString string

func (e errString) Error() string { return string(e) }

func backendErr(op string, code interfaces.Code, msg string) *interfaces.BackendError {
	return &interfaces.BackendError{Op: op, Code: code, Err: errString(msg)}
}

func wrapErr(op string, code interfaces.Code, err error) *interfaces.BackendError {
	return &interfaces.BackendError{Op: op, Code: code, Err: err}
}

// queue is one submission/completion ring pair plus the bookkeeping to
// drive its doorbells.
type queue struct {
	id int

	sqMem []byte
	cqMem []byte

	sqHead, sqTail uint16
	cqHead         uint16
	cqPhase        uint16

	depth uint16
}

// PCIe is a register-level interfaces.Backend: one admin queue pair and
// one shared I/O queue pair, both built and polled directly against an
// mmap'd controller BAR with no kernel nvme driver in the path.
type PCIe struct {
	mu sync.Mutex

	barFile *os.File
	bar     []byte
	dstrd   uint32 // doorbell stride, in (4<<DSTRD) bytes

	admin *queue
	io    *queue

	nsid   uint32
	info   interfaces.DeviceInfo
	opened bool

	nextCID   uint16
	nextQPair uint64
	qpairs    map[interfaces.QPairHandle]struct{}

	pending map[*interfaces.Completion]uint16 // Completion -> CID, awaiting I/O CQ

	logger   *logging.Logger
	profiles *profile.DB
}

// New constructs an unopened register-level PCIe backend, falling back
// to profile.Default() when Identify reports geometry this backend
// doesn't trust (see Open's Mdts==0 handling).
func New() *PCIe {
	return &PCIe{
		qpairs:   make(map[interfaces.QPairHandle]struct{}),
		pending:  make(map[*interfaces.Completion]uint16),
		logger:   logging.Default(),
		profiles: profile.Default(),
	}
}

// SetProfiles overrides the device-geometry fallback DB consulted when
// Identify's Mdts report can't be trusted, in place of profile.Default().
func (p *PCIe) SetProfiles(db *profile.DB) {
	p.profiles = db
}

func (p *PCIe) regRead32(off uintptr) uint32 {
	return binary.LittleEndian.Uint32(p.bar[off : off+4])
}

func (p *PCIe) regWrite32(off uintptr, v uint32) {
	binary.LittleEndian.PutUint32(p.bar[off:off+4], v)
}

func (p *PCIe) regRead64(off uintptr) uint64 {
	return binary.LittleEndian.Uint64(p.bar[off : off+8])
}

func (p *PCIe) regWrite64(off uintptr, v uint64) {
	binary.LittleEndian.PutUint64(p.bar[off:off+8], v)
}

// doorbellOffset returns the byte offset of queue y's submission or
// completion doorbell (NVMe Base spec 3.1.2).
func (p *PCIe) doorbellOffset(y int, completion bool) uintptr {
	stride := uintptr(4 << p.dstrd)
	idx := uintptr(2 * y)
	if completion {
		idx++
	}
	return regDoorbellBase + idx*stride
}

func (p *PCIe) ringSQDoorbell(y int, tail uint16) {
	p.regWrite32(p.doorbellOffset(y, false), uint32(tail))
}

func (p *PCIe) ringCQDoorbell(y int, head uint16) {
	p.regWrite32(p.doorbellOffset(y, true), uint32(head))
}

// Init is a no-op: every resource this backend needs is acquired in Open
// against the specific controller it's pointed at.
func (p *PCIe) Init(opts interfaces.InitOptions) error {
	p.logger.Info("pcie backend init", "app", opts.ApplicationName)
	return nil
}

func (p *PCIe) Destroy() error { return p.Close() }

func (p *PCIe) Reinit() error { return nil }

// Probe cannot walk PCI sysfs for ZNS-capable controllers without a
// privileged rescan of bound VFIO/UIO devices; callers are expected to
// name a specific resource path to Open.
func (p *PCIe) Probe() ([]interfaces.ProbeResult, error) {
	return nil, nil
}

func newQueueMem(entries int, entrySize int) ([]byte, error) {
	mem, err := unix.Mmap(-1, 0, entries*entrySize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("mmap queue memory: %w", err)
	}
	return mem, nil
}

func memAddr(b []byte) uint64 {
	return uint64(uintptr(unsafe.Pointer(&b[0])))
}

// Open maps transportAddress (a UIO/VFIO resource file exposing the
// controller's BAR0, e.g. "/sys/class/uio/uio0/device/resource0"),
// resets and re-enables the controller, stands up the admin queue pair,
// identifies the controller and namespace, and creates one shared I/O
// queue pair.
func (p *PCIe) Open(transportAddress string, opts interfaces.OpenOptions) (*interfaces.DeviceInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	f, err := os.OpenFile(transportAddress, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, wrapErr("PCIe.Open", interfaces.CodeOpenFailed, err)
	}
	bar, err := unix.Mmap(int(f.Fd()), 0, barMapSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, wrapErr("PCIe.Open", interfaces.CodeOpenFailed, err)
	}

	p.barFile = f
	p.bar = bar
	p.nsid = 1

	capReg := p.regRead64(regCAP)
	p.dstrd = uint32((capReg >> 32) & 0xf)

	if err := p.resetController(); err != nil {
		p.unmapLocked()
		return nil, wrapErr("PCIe.Open", interfaces.CodeOpenFailed, err)
	}

	admin, err := p.setupQueue(0, adminQueueDepth)
	if err != nil {
		p.unmapLocked()
		return nil, wrapErr("PCIe.Open", interfaces.CodeOpenFailed, err)
	}
	p.admin = admin

	p.regWrite32(regAQA, uint32(adminQueueDepth-1)<<16|uint32(adminQueueDepth-1))
	p.regWrite64(regASQ, memAddr(admin.sqMem))
	p.regWrite64(regACQ, memAddr(admin.cqMem))

	cc := uint32(ccEN | ccCSSNvm | ccMPS0)
	cc |= uint32(6) << ccShift16       // IOSQES = 2^6 = 64 bytes
	cc |= uint32(4) << (ccShift16 + 4) // IOCQES = 2^4 = 16 bytes
	p.regWrite32(regCC, cc)

	if err := p.pollCSTSReady(true); err != nil {
		p.unmapLocked()
		return nil, wrapErr("PCIe.Open", interfaces.CodeOpenFailed, err)
	}

	ctrl, err := p.identify(opAdminIdentify, 0, 1)
	if err != nil {
		p.unmapLocked()
		return nil, wrapErr("PCIe.Open", interfaces.CodeOpenFailed, err)
	}
	ident, err := uapi.DecodeIdentController(ctrl)
	if err != nil {
		p.unmapLocked()
		return nil, wrapErr("PCIe.Open", interfaces.CodeOpenFailed, err)
	}

	nsData, err := p.identify(opAdminIdentify, p.nsid, 0)
	if err != nil {
		p.unmapLocked()
		return nil, wrapErr("PCIe.Open", interfaces.CodeOpenFailed, err)
	}
	ns, err := uapi.DecodeIdentNamespace(nsData)
	if err != nil {
		p.unmapLocked()
		return nil, wrapErr("PCIe.Open", interfaces.CodeOpenFailed, err)
	}

	znsData, err := p.identify(opAdminIdentify, p.nsid, uapi.NvmeCnsNamespaceZNS)
	if err != nil {
		p.unmapLocked()
		return nil, wrapErr("PCIe.Open", interfaces.CodeOpenFailed, err)
	}
	znsIdent, err := uapi.DecodeIdentNamespaceZNS(znsData)
	if err != nil {
		p.unmapLocked()
		return nil, wrapErr("PCIe.Open", interfaces.CodeOpenFailed, err)
	}

	blockSize := ns.BlockSize()
	lbafIdx := ns.Flbas & 0x0f
	zoneSize := znsIdent.Lbafe[lbafIdx].Zsze
	mdts := (uint64(1) << ident.Mdts) * 4096
	zasl := mdts
	if ident.Mdts == 0 {
		mdts = ns.Nsze * uint64(blockSize)
		zasl = mdts
		if p.profiles != nil {
			if entry, ok := p.profiles.Lookup(transportAddress); ok {
				mdts = entry.Geometry.MDTS
				zasl = entry.Geometry.ZASL
				if entry.WarningMsg != "" {
					p.logger.Warn("using profiled geometry in place of untrustworthy Identify", "profile", entry.Name, "warning", entry.WarningMsg)
				}
			}
		}
	}

	minZone := opts.MinZone * zoneSize
	maxZone := opts.MaxZone * zoneSize
	if maxZone == 0 {
		maxZone = ns.Nsze
	}

	p.info = interfaces.DeviceInfo{
		BlockSize:   blockSize,
		ZoneSize:    zoneSize,
		ZoneCap:     zoneSize,
		MDTS:        mdts,
		ZASL:        zasl,
		TotalBlocks: ns.Nsze,
		MinLBA:      minZone,
		MaxLBA:      maxZone,
	}

	if err := p.createIOQueuePair(1, ioQueueDepth); err != nil {
		p.unmapLocked()
		return nil, wrapErr("PCIe.Open", interfaces.CodeOpenFailed, err)
	}

	p.opened = true
	out := p.info
	return &out, nil
}

func (p *PCIe) unmapLocked() {
	if p.bar != nil {
		unix.Munmap(p.bar)
		p.bar = nil
	}
	if p.barFile != nil {
		p.barFile.Close()
		p.barFile = nil
	}
}

func (p *PCIe) resetController() error {
	p.regWrite32(regCC, p.regRead32(regCC)&^uint32(ccEN))
	return p.pollCSTSReady(false)
}

func (p *PCIe) pollCSTSReady(want bool) error {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ready := p.regRead32(regCSTS)&cstsRDY != 0
		if ready == want {
			return nil
		}
		time.Sleep(100 * time.Microsecond)
	}
	return fmt.Errorf("controller did not reach CSTS.RDY=%v", want)
}

func (p *PCIe) setupQueue(id int, depth int) (*queue, error) {
	sqMem, err := newQueueMem(depth, sqeSize)
	if err != nil {
		return nil, err
	}
	cqMem, err := newQueueMem(depth, cqeSize)
	if err != nil {
		unix.Munmap(sqMem)
		return nil, err
	}
	return &queue{id: id, sqMem: sqMem, cqMem: cqMem, cqPhase: 1, depth: uint16(depth)}, nil
}

// submit writes one SQE into q's ring, rings its submission doorbell,
// busy-polls the matching CQE (phase-tagged), advances the completion
// doorbell, and returns the raw completion.
func (p *PCIe) submit(q *queue, entry sqe) (cqe, error) {
	entry.CID = p.nextCID
	p.nextCID++

	slot := unsafe.Pointer(&q.sqMem[uintptr(q.sqTail)*sqeSize])
	*(*sqe)(slot) = entry
	q.sqTail = (q.sqTail + 1) % q.depth
	p.ringSQDoorbell(q.id, q.sqTail)

	deadline := time.Now().Add(2 * time.Second)
	for {
		cslot := unsafe.Pointer(&q.cqMem[uintptr(q.cqHead)*cqeSize])
		c := *(*cqe)(cslot)
		if c.phase() == q.cqPhase {
			q.cqHead++
			if q.cqHead == q.depth {
				q.cqHead = 0
				q.cqPhase ^= 1
			}
			p.ringCQDoorbell(q.id, q.cqHead)
			if c.status() != 0 {
				return c, fmt.Errorf("command failed: status 0x%04x", c.status())
			}
			return c, nil
		}
		if time.Now().After(deadline) {
			return cqe{}, fmt.Errorf("timed out waiting for completion")
		}
		time.Sleep(10 * time.Microsecond)
	}
}

func (p *PCIe) identify(opcode uint8, nsid uint32, cns uint32) ([]byte, error) {
	data := make([]byte, identifyBufSize)
	_, err := p.submit(p.admin, sqe{
		Opcode: opcode,
		NSID:   nsid,
		PRP1:   memAddr(data),
		CDW10:  cns,
	})
	return data, err
}

func (p *PCIe) createIOQueuePair(id int, depth int) error {
	q, err := p.setupQueue(id, depth)
	if err != nil {
		return err
	}
	// Create I/O Completion Queue before the Submission Queue that
	// references it (NVMe Base spec 5.4/5.1).
	if _, err := p.submit(p.admin, sqe{
		Opcode: opAdminCreateIOCQ,
		PRP1:   memAddr(q.cqMem),
		CDW10:  uint32(depth-1)<<16 | uint32(id),
		CDW11:  1, // physically contiguous
	}); err != nil {
		return err
	}
	if _, err := p.submit(p.admin, sqe{
		Opcode: opAdminCreateIOSQ,
		PRP1:   memAddr(q.sqMem),
		CDW10:  uint32(depth-1)<<16 | uint32(id),
		CDW11:  uint32(id)<<16 | 1, // CQID | physically contiguous
	}); err != nil {
		return err
	}
	p.io = q
	return nil
}

func (p *PCIe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.opened {
		return nil
	}
	if p.io != nil {
		unix.Munmap(p.io.sqMem)
		unix.Munmap(p.io.cqMem)
		p.io = nil
	}
	if p.admin != nil {
		unix.Munmap(p.admin.sqMem)
		unix.Munmap(p.admin.cqMem)
		p.admin = nil
	}
	p.unmapLocked()
	p.opened = false
	return nil
}

func (p *PCIe) GetDeviceInfo() (*interfaces.DeviceInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.opened {
		return nil, backendErr("PCIe.GetDeviceInfo", interfaces.CodeNotAllocated, "device not open")
	}
	info := p.info
	return &info, nil
}

// CreateQPair mints a bookkeeping handle; every queue pair shares the
// single real I/O queue pair Open already created (a register-level
// driver managing one queue pair per Channel would need per-queue BAR
// doorbell ranges this module doesn't allocate).
func (p *PCIe) CreateQPair() (interfaces.QPairHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextQPair++
	q := interfaces.QPairHandle(p.nextQPair)
	p.qpairs[q] = struct{}{}
	return q, nil
}

func (p *PCIe) DestroyQPair(q interfaces.QPairHandle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.qpairs[q]; !ok {
		return backendErr("PCIe.DestroyQPair", interfaces.CodeQpairFailed, "unknown queue-pair")
	}
	delete(p.qpairs, q)
	return nil
}

// BufAlloc returns an anonymous-mmap'd buffer so its address is stable
// and page-backed for use as a PRP1 target; a production driver would
// further pin it via the IOMMU group's DMA-map ioctl.
func (p *PCIe) BufAlloc(size int) (interfaces.Buf, error) {
	if size <= 0 {
		return interfaces.Buf{}, backendErr("PCIe.BufAlloc", interfaces.CodeDmaAllocFailed, "non-positive size")
	}
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANONYMOUS)
	if err != nil {
		return interfaces.Buf{}, wrapErr("PCIe.BufAlloc", interfaces.CodeDmaAllocFailed, err)
	}
	return interfaces.Buf{Data: mem}, nil
}

func (p *PCIe) BufFree(b interfaces.Buf) error {
	if b.Data == nil {
		return nil
	}
	return unix.Munmap(b.Data)
}

func (p *PCIe) rwEntry(opcode uint8, physSLBA uint64, buf []byte, blocks uint32) (sqe, error) {
	need := uint64(blocks) * uint64(p.info.BlockSize)
	if uint64(len(buf)) < need {
		return sqe{}, fmt.Errorf("buffer too small: need %d bytes, have %d", need, len(buf))
	}
	return sqe{
		Opcode: opcode,
		NSID:   p.nsid,
		PRP1:   memAddr(buf),
		CDW10:  uint32(physSLBA),
		CDW11:  uint32(physSLBA >> 32),
		CDW12:  blocks - 1,
	}, nil
}

func (p *PCIe) Read(q interfaces.QPairHandle, physSLBA uint64, buf []byte, blocks uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, err := p.rwEntry(uapi.NvmeCmdRead, physSLBA, buf, blocks)
	if err != nil {
		return wrapErr("PCIe.Read", interfaces.CodeReadFailed, err)
	}
	if _, err := p.submit(p.io, entry); err != nil {
		return wrapErr("PCIe.Read", interfaces.CodeReadFailed, err)
	}
	return nil
}

func (p *PCIe) Write(q interfaces.QPairHandle, physSLBA uint64, buf []byte, blocks uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, err := p.rwEntry(uapi.NvmeCmdWrite, physSLBA, buf, blocks)
	if err != nil {
		return wrapErr("PCIe.Write", interfaces.CodeAppendFailed, err)
	}
	if _, err := p.submit(p.io, entry); err != nil {
		return wrapErr("PCIe.Write", interfaces.CodeAppendFailed, err)
	}
	return nil
}

func (p *PCIe) Append(q interfaces.QPairHandle, physSLBA uint64, buf []byte, blocks uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, err := p.rwEntry(uapi.NvmeCmdZoneAppend, physSLBA, buf, blocks)
	if err != nil {
		return wrapErr("PCIe.Append", interfaces.CodeAppendFailed, err)
	}
	if _, err := p.submit(p.io, entry); err != nil {
		return wrapErr("PCIe.Append", interfaces.CodeAppendFailed, err)
	}
	return nil
}

// AppendAsync rings the submission doorbell and returns immediately
// without polling the completion ring; PollAsync/PollOnce reap it later
// by busy-polling the same shared I/O completion queue, mirroring how a
// real poll-mode (no-IRQ) driver multiplexes one CQ across outstanding
// commands by CID.
func (p *PCIe) AppendAsync(q interfaces.QPairHandle, physSLBA uint64, buf []byte, blocks uint32) (*interfaces.Completion, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, err := p.rwEntry(uapi.NvmeCmdZoneAppend, physSLBA, buf, blocks)
	if err != nil {
		return nil, wrapErr("PCIe.AppendAsync", interfaces.CodeAppendFailed, err)
	}
	entry.CID = p.nextCID
	p.nextCID++

	slot := unsafe.Pointer(&p.io.sqMem[uintptr(p.io.sqTail)*sqeSize])
	*(*sqe)(slot) = entry
	p.io.sqTail = (p.io.sqTail + 1) % p.io.depth
	p.ringSQDoorbell(p.io.id, p.io.sqTail)

	comp := &interfaces.Completion{SubmitAt: time.Now(), Blocks: blocks}
	p.pending[comp] = entry.CID
	return comp, nil
}

// reapIOOnce makes one non-blocking check of the I/O completion ring,
// resolving whichever pending Completion (if any) matches the reaped
// CID.
func (p *PCIe) reapIOOnce() bool {
	cslot := unsafe.Pointer(&p.io.cqMem[uintptr(p.io.cqHead)*cqeSize])
	c := *(*cqe)(cslot)
	if c.phase() != p.io.cqPhase {
		return false
	}
	p.io.cqHead++
	if p.io.cqHead == p.io.depth {
		p.io.cqHead = 0
		p.io.cqPhase ^= 1
	}
	p.ringCQDoorbell(p.io.id, p.io.cqHead)

	for comp, cid := range p.pending {
		if cid == c.CID {
			comp.Done = true
			if c.status() != 0 {
				comp.Err = wrapErr("PCIe.PollAsync", interfaces.CodePollFailed, fmt.Errorf("command failed: status 0x%04x", c.status()))
			}
			delete(p.pending, comp)
			break
		}
	}
	return true
}

func (p *PCIe) PollAsync(q interfaces.QPairHandle, c *interfaces.Completion) error {
	deadline := time.Now().Add(2 * time.Second)
	for !c.Done {
		p.mu.Lock()
		p.reapIOOnce()
		p.mu.Unlock()
		if c.Done {
			break
		}
		if time.Now().After(deadline) {
			return wrapErr("PCIe.PollAsync", interfaces.CodePollFailed, fmt.Errorf("timed out waiting for completion"))
		}
		time.Sleep(10 * time.Microsecond)
	}
	return c.Err
}

func (p *PCIe) PollOnce(q interfaces.QPairHandle, c *interfaces.Completion) (bool, error) {
	if c.Done {
		return true, c.Err
	}
	p.mu.Lock()
	p.reapIOOnce()
	p.mu.Unlock()
	return c.Done, c.Err
}

func (p *PCIe) zoneMgmtSend(physSLBA uint64, action uint32, selectAll bool) error {
	cdw13 := action
	if selectAll {
		cdw13 |= uapi.ZoneSendSelectAll
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.submit(p.io, sqe{
		Opcode: uapi.NvmeCmdZoneMgmtSend,
		NSID:   p.nsid,
		CDW10:  uint32(physSLBA),
		CDW11:  uint32(physSLBA >> 32),
		CDW13:  cdw13,
	})
	return err
}

func (p *PCIe) ResetZone(q interfaces.QPairHandle, physSLBA uint64) error {
	if err := p.zoneMgmtSend(physSLBA, uapi.ZoneSendReset, false); err != nil {
		return wrapErr("PCIe.ResetZone", interfaces.CodeResetFailed, err)
	}
	return nil
}

func (p *PCIe) ResetAll(q interfaces.QPairHandle) error {
	if err := p.zoneMgmtSend(0, uapi.ZoneSendReset, true); err != nil {
		return wrapErr("PCIe.ResetAll", interfaces.CodeResetFailed, err)
	}
	return nil
}

func (p *PCIe) FinishZone(q interfaces.QPairHandle, physSLBA uint64) error {
	if err := p.zoneMgmtSend(physSLBA, uapi.ZoneSendFinish, false); err != nil {
		return wrapErr("PCIe.FinishZone", interfaces.CodeFinishFailed, err)
	}
	return nil
}

func zoneState(desc uapi.ZoneDescriptor) uint8 {
	return desc.ZoneState >> 4
}

func (p *PCIe) zoneMgmtReceive(physSLBA uint64, maxZones int) (*uapi.ZoneReportHeader, []uapi.ZoneDescriptor, error) {
	bufLen := 64 + maxZones*64
	data := make([]byte, bufLen)

	p.mu.Lock()
	_, err := p.submit(p.io, sqe{
		Opcode: uapi.NvmeCmdZoneMgmtRecv,
		NSID:   p.nsid,
		PRP1:   memAddr(data),
		CDW10:  uint32(physSLBA),
		CDW11:  uint32(physSLBA >> 32),
		CDW12:  uint32(bufLen/4 - 1),
		CDW13:  uapi.ZoneReceiveExtendedReport | (uapi.ZoneReportAll << 8),
	})
	p.mu.Unlock()
	if err != nil {
		return nil, nil, err
	}
	return uapi.DecodeZoneReport(data)
}

func (p *PCIe) GetZoneHead(q interfaces.QPairHandle, physSLBA uint64) (uint64, error) {
	p.mu.Lock()
	zoneSize := p.info.ZoneSize
	p.mu.Unlock()

	_, descs, err := p.zoneMgmtReceive(physSLBA, 1)
	if err != nil {
		return 0, wrapErr("PCIe.GetZoneHead", interfaces.CodeReportFailed, err)
	}
	if len(descs) == 0 {
		return 0, backendErr("PCIe.GetZoneHead", interfaces.CodeReportFailed, "empty zone report")
	}
	if zoneState(descs[0]) == uapi.ZoneStateFull {
		return physSLBA + zoneSize, nil
	}
	return descs[0].WritePointer, nil
}

func (p *PCIe) GetZoneHeads(q interfaces.QPairHandle, physSLBA, physESLBA uint64) ([]uint64, error) {
	p.mu.Lock()
	zoneSize := p.info.ZoneSize
	p.mu.Unlock()
	if zoneSize == 0 || physESLBA <= physSLBA {
		return nil, nil
	}
	numZones := int((physESLBA - physSLBA) / zoneSize)

	_, descs, err := p.zoneMgmtReceive(physSLBA, numZones)
	if err != nil {
		return nil, wrapErr("PCIe.GetZoneHeads", interfaces.CodeReportFailed, err)
	}

	out := make([]uint64, 0, numZones)
	for i, desc := range descs {
		slba := physSLBA + uint64(i)*zoneSize
		if zoneState(desc) == uapi.ZoneStateFull {
			out = append(out, slba+zoneSize)
			continue
		}
		out = append(out, desc.WritePointer)
	}
	return out, nil
}

func (p *PCIe) GetZoneCap(q interfaces.QPairHandle, physSLBA uint64) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.info.ZoneCap, nil
}

var _ interfaces.Backend = (*PCIe)(nil)
