// Package kernel implements interfaces.Backend against a real ZNS
// namespace through the Linux nvme char-device passthrough ioctls
// (admin/zone-management plane) and an IORING_OP_URING_CMD ring for data
// I/O, so AppendAsync/PollAsync ride a real async submission/completion
// primitive instead of a synchronous ioctl wrapped in a goroutine.
package kernel

import (
	"fmt"
	"sync"
	"time"
	"unsafe"

	"github.com/szd-go/zns/internal/admin"
	"github.com/szd-go/zns/internal/interfaces"
	"github.com/szd-go/zns/internal/logging"
	"github.com/szd-go/zns/internal/profile"
	"github.com/szd-go/zns/internal/ring"
	"github.com/szd-go/zns/internal/uapi"
)

const ringEntries = 64

type errString string

func (e errString) Error() string { return string(e) }

func backendErr(op string, code interfaces.Code, msg string) *interfaces.BackendError {
	return &interfaces.BackendError{Op: op, Code: code, Err: errString(msg)}
}

func wrapErr(op string, code interfaces.Code, err error) *interfaces.BackendError {
	return &interfaces.BackendError{Op: op, Code: code, Err: err}
}

// Kernel is a real-device interfaces.Backend: Open issues Identify
// admin commands to learn the namespace's geometry, zone management
// (reset/finish/report) rides NVME_IOCTL_IO_CMD, and Read/Append ride an
// IORING_OP_URING_CMD submission ring opened against the same file
// descriptor.
type Kernel struct {
	mu sync.Mutex

	devPath string
	nsid    uint32

	admin *admin.Manager
	ring  ring.Ring

	info   interfaces.DeviceInfo
	opened bool

	nextQPair    uint64
	qpairs       map[interfaces.QPairHandle]struct{}
	nextUserData uint64

	pending map[*interfaces.Completion]*ring.AsyncHandle

	logger   *logging.Logger
	profiles *profile.DB
}

// New constructs an unopened Kernel backend, falling back to
// profile.Default() when Identify reports geometry this backend
// doesn't trust (see Open's Mdts==0 handling).
func New() *Kernel {
	return &Kernel{
		qpairs:   make(map[interfaces.QPairHandle]struct{}),
		pending:  make(map[*interfaces.Completion]*ring.AsyncHandle),
		logger:   logging.Default(),
		profiles: profile.Default(),
	}
}

// SetProfiles overrides the device-geometry fallback DB consulted when
// Identify's Mdts report can't be trusted, in place of profile.Default().
func (k *Kernel) SetProfiles(db *profile.DB) {
	k.profiles = db
}

// Init is a no-op: the kernel char device needs no process-wide setup
// beyond what Open performs against the specific namespace.
func (k *Kernel) Init(opts interfaces.InitOptions) error {
	k.logger.Info("kernel backend init", "app", opts.ApplicationName)
	return nil
}

// Destroy closes the device if still open.
func (k *Kernel) Destroy() error {
	return k.Close()
}

// Reinit is a no-op for this backend.
func (k *Kernel) Reinit() error { return nil }

// Probe reports devices previously opened in this process; a full sysfs
// walk to discover un-opened namespaces beyond what a caller already
// names is out of scope.
func (k *Kernel) Probe() ([]interfaces.ProbeResult, error) {
	var out []interfaces.ProbeResult
	for _, d := range admin.ListFoundDevices() {
		out = append(out, interfaces.ProbeResult{TransportAddress: d.TransportAddress, IsZoned: d.IsZoned})
	}
	return out, nil
}

// Open opens the nvme char device at transportAddress (e.g. "/dev/ng0n1"
// or "/dev/nvme0n1"), identifies the controller and namespace to learn
// block size and zone geometry, and stands up an io_uring instance
// against the same file descriptor for data I/O.
func (k *Kernel) Open(transportAddress string, opts interfaces.OpenOptions) (*interfaces.DeviceInfo, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	mgr, err := admin.Open(transportAddress)
	if err != nil {
		return nil, wrapErr("Kernel.Open", interfaces.CodeOpenFailed, err)
	}

	nsid := uint32(1)

	ctrl, err := mgr.IdentifyController()
	if err != nil {
		mgr.Close()
		return nil, wrapErr("Kernel.Open", interfaces.CodeOpenFailed, err)
	}
	ns, err := mgr.IdentifyNamespace(nsid)
	if err != nil {
		mgr.Close()
		return nil, wrapErr("Kernel.Open", interfaces.CodeOpenFailed, err)
	}
	zns, err := mgr.IdentifyNamespaceZNS(nsid)
	if err != nil {
		mgr.Close()
		return nil, wrapErr("Kernel.Open", interfaces.CodeOpenFailed, err)
	}

	blockSize := ns.BlockSize()
	lbafIdx := ns.Flbas & 0x0f
	zoneSize := zns.Lbafe[lbafIdx].Zsze

	// Mdts is log2(MPSMIN multiple); MPSMIN is fixed at 4096 bytes absent
	// a decoded CAP register, matching the common case. Mdts==0 means
	// "unbounded" per spec, but some emulated ZNS targets report it that
	// way when they simply don't enforce a transfer-size cap in practice;
	// prefer a profile's pinned MDTS/ZASL for those over a namespace-size
	// guess.
	mdts := (uint64(1) << ctrl.Mdts) * 4096
	zasl := mdts
	if ctrl.Mdts == 0 {
		mdts = ns.Nsze * uint64(blockSize)
		zasl = mdts
		if k.profiles != nil {
			if entry, ok := k.profiles.Lookup(transportAddress); ok {
				mdts = entry.Geometry.MDTS
				zasl = entry.Geometry.ZASL
				if entry.WarningMsg != "" {
					k.logger.Warn("using profiled geometry in place of untrustworthy Identify", "profile", entry.Name, "warning", entry.WarningMsg)
				}
			}
		}
	}

	minZone := opts.MinZone * zoneSize
	maxZone := opts.MaxZone * zoneSize
	if maxZone == 0 {
		maxZone = ns.Nsze
	}

	info := interfaces.DeviceInfo{
		BlockSize:   blockSize,
		ZoneSize:    zoneSize,
		ZoneCap:     zoneSize,
		MDTS:        mdts,
		ZASL:        zasl,
		TotalBlocks: ns.Nsze,
		MinLBA:      minZone,
		MaxLBA:      maxZone,
	}

	// A namespace's first zone reports its real capacity, which can run
	// short of ZoneSize (NVMe ZNS 2.1's "some zones may have a smaller
	// zone capacity").
	if _, descs, zerr := mgr.ZoneManagementReceive(nsid, 0, 1); zerr == nil && len(descs) > 0 {
		info.ZoneCap = descs[0].ZoneCapacity
	}

	ringImpl, err := ring.NewRing(ring.Config{Entries: ringEntries, FD: int32(mgr.FD())})
	if err != nil {
		mgr.Close()
		return nil, wrapErr("Kernel.Open", interfaces.CodeOpenFailed, err)
	}

	k.admin = mgr
	k.ring = ringImpl
	k.devPath = transportAddress
	k.nsid = nsid
	k.info = info
	k.opened = true

	admin.RegisterFoundDevice(admin.FoundDevice{
		TransportAddress: transportAddress,
		IsZoned:          true,
		BlockSize:        blockSize,
		ZoneSize:         zoneSize,
		ZoneCap:          info.ZoneCap,
	})

	out := info
	return &out, nil
}

// Close tears down the ring and closes the underlying char device.
func (k *Kernel) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.opened {
		return nil
	}
	var err error
	if k.ring != nil {
		err = k.ring.Close()
		k.ring = nil
	}
	if k.admin != nil {
		if cerr := k.admin.Close(); cerr != nil && err == nil {
			err = cerr
		}
		k.admin = nil
	}
	k.opened = false
	if err != nil {
		return wrapErr("Kernel.Close", interfaces.CodeCloseFailed, err)
	}
	return nil
}

// GetDeviceInfo returns the geometry learned at Open.
func (k *Kernel) GetDeviceInfo() (*interfaces.DeviceInfo, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.opened {
		return nil, backendErr("Kernel.GetDeviceInfo", interfaces.CodeNotAllocated, "device not open")
	}
	info := k.info
	return &info, nil
}

// CreateQPair mints a queue-pair handle. The kernel passthrough ioctl
// and the uring instance both serialize on the namespace's single file
// descriptor, so a handle here is bookkeeping rather than a distinct
// hardware resource; Channel still uses it to scope ordering.
func (k *Kernel) CreateQPair() (interfaces.QPairHandle, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.nextQPair++
	q := interfaces.QPairHandle(k.nextQPair)
	k.qpairs[q] = struct{}{}
	return q, nil
}

// DestroyQPair retires a queue-pair handle minted by CreateQPair.
func (k *Kernel) DestroyQPair(q interfaces.QPairHandle) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.qpairs[q]; !ok {
		return backendErr("Kernel.DestroyQPair", interfaces.CodeQpairFailed, "unknown queue-pair")
	}
	delete(k.qpairs, q)
	return nil
}

// BufAlloc returns a plain heap buffer. The ioctl/uring passthrough path
// copies through the kernel's copy_from_user/copy_to_user rather than
// requiring the caller to pin huge pages, so no special allocator is
// needed here: BufAlloc is purely a capability hook on this backend, not
// a guarantee of pinned memory.
func (k *Kernel) BufAlloc(size int) (interfaces.Buf, error) {
	if size < 0 {
		return interfaces.Buf{}, backendErr("Kernel.BufAlloc", interfaces.CodeDmaAllocFailed, "negative size")
	}
	return interfaces.Buf{Data: make([]byte, size)}, nil
}

// BufFree is a no-op: Go's GC reclaims the backing array.
func (k *Kernel) BufFree(interfaces.Buf) error { return nil }

// rwCommand builds the passthru command common to Read/Write/Append: the
// SLBA split across Cdw10/Cdw11 and NLB (zero-based) in Cdw12.
func (k *Kernel) rwCommand(opcode uint8, physSLBA uint64, buf []byte, blocks uint32) (*uapi.PassthruCmd, error) {
	need := uint64(blocks) * uint64(k.info.BlockSize)
	if uint64(len(buf)) < need {
		return nil, fmt.Errorf("buffer too small: need %d bytes, have %d", need, len(buf))
	}
	return &uapi.PassthruCmd{
		Opcode:  opcode,
		Nsid:    k.nsid,
		Addr:    uint64(uintptr(unsafe.Pointer(&buf[0]))),
		DataLen: uint32(need),
		Cdw10:   uint32(physSLBA),
		Cdw11:   uint32(physSLBA >> 32),
		Cdw12:   blocks - 1,
	}, nil
}

// Read issues a synchronous Read command over the uring.
func (k *Kernel) Read(q interfaces.QPairHandle, physSLBA uint64, buf []byte, blocks uint32) error {
	k.mu.Lock()
	r := k.ring
	cmd, err := k.rwCommand(uapi.NvmeCmdRead, physSLBA, buf, blocks)
	k.mu.Unlock()
	if err != nil {
		return wrapErr("Kernel.Read", interfaces.CodeReadFailed, err)
	}

	res, err := r.Submit(cmd, physSLBA)
	if err != nil {
		return wrapErr("Kernel.Read", interfaces.CodeReadFailed, err)
	}
	if res.Error() != nil {
		return wrapErr("Kernel.Read", interfaces.CodeReadFailed, res.Error())
	}
	return nil
}

// Write issues a synchronous non-sequential Write command, used only to
// seed/mutate namespace state outside of production append flows.
func (k *Kernel) Write(q interfaces.QPairHandle, physSLBA uint64, buf []byte, blocks uint32) error {
	k.mu.Lock()
	r := k.ring
	cmd, err := k.rwCommand(uapi.NvmeCmdWrite, physSLBA, buf, blocks)
	k.mu.Unlock()
	if err != nil {
		return wrapErr("Kernel.Write", interfaces.CodeAppendFailed, err)
	}

	res, err := r.Submit(cmd, physSLBA)
	if err != nil {
		return wrapErr("Kernel.Write", interfaces.CodeAppendFailed, err)
	}
	if res.Error() != nil {
		return wrapErr("Kernel.Write", interfaces.CodeAppendFailed, res.Error())
	}
	return nil
}

// Append issues a synchronous Zone Append.
func (k *Kernel) Append(q interfaces.QPairHandle, physSLBA uint64, buf []byte, blocks uint32) error {
	k.mu.Lock()
	r := k.ring
	cmd, err := k.rwCommand(uapi.NvmeCmdZoneAppend, physSLBA, buf, blocks)
	k.mu.Unlock()
	if err != nil {
		return wrapErr("Kernel.Append", interfaces.CodeAppendFailed, err)
	}

	res, err := r.Submit(cmd, physSLBA)
	if err != nil {
		return wrapErr("Kernel.Append", interfaces.CodeAppendFailed, err)
	}
	if res.Error() != nil {
		return wrapErr("Kernel.Append", interfaces.CodeAppendFailed, res.Error())
	}
	return nil
}

// AppendAsync submits a Zone Append over the ring without waiting,
// tracking the returned AsyncHandle against the Completion PollAsync/
// PollOnce later drain.
func (k *Kernel) AppendAsync(q interfaces.QPairHandle, physSLBA uint64, buf []byte, blocks uint32) (*interfaces.Completion, error) {
	k.mu.Lock()
	k.nextUserData++
	userData := k.nextUserData<<32 | uint64(uint32(physSLBA))
	r := k.ring
	cmd, err := k.rwCommand(uapi.NvmeCmdZoneAppend, physSLBA, buf, blocks)
	k.mu.Unlock()
	if err != nil {
		return nil, wrapErr("Kernel.AppendAsync", interfaces.CodeAppendFailed, err)
	}

	handle, err := r.SubmitAsync(cmd, userData)
	if err != nil {
		return nil, wrapErr("Kernel.AppendAsync", interfaces.CodeAppendFailed, err)
	}

	comp := &interfaces.Completion{SubmitAt: time.Now(), Blocks: blocks}
	k.mu.Lock()
	k.pending[comp] = handle
	k.mu.Unlock()
	return comp, nil
}

// PollAsync blocks until the ring posts c's completion.
func (k *Kernel) PollAsync(q interfaces.QPairHandle, c *interfaces.Completion) error {
	k.mu.Lock()
	handle, ok := k.pending[c]
	k.mu.Unlock()
	if !ok {
		return c.Err
	}

	res, err := handle.Wait()
	k.mu.Lock()
	delete(k.pending, c)
	k.mu.Unlock()

	c.Done = true
	if err != nil {
		c.Err = wrapErr("Kernel.PollAsync", interfaces.CodePollFailed, err)
		return c.Err
	}
	if res.Error() != nil {
		c.Err = wrapErr("Kernel.PollAsync", interfaces.CodePollFailed, res.Error())
	}
	return c.Err
}

// PollOnce makes one non-blocking attempt to reap c's completion.
func (k *Kernel) PollOnce(q interfaces.QPairHandle, c *interfaces.Completion) (bool, error) {
	k.mu.Lock()
	handle, ok := k.pending[c]
	k.mu.Unlock()
	if !ok {
		return c.Done, c.Err
	}

	res, done := handle.TryWait()
	if !done {
		return false, nil
	}

	k.mu.Lock()
	delete(k.pending, c)
	k.mu.Unlock()

	c.Done = true
	if res.Error() != nil {
		c.Err = wrapErr("Kernel.PollOnce", interfaces.CodePollFailed, res.Error())
	}
	return true, c.Err
}

// ResetZone issues a Zone Management Send / Reset against one zone.
// Zone management rides the admin-plane ioctl even though data I/O rides
// the ring: resets are rare relative to appends and gain nothing from
// async submission.
func (k *Kernel) ResetZone(q interfaces.QPairHandle, physSLBA uint64) error {
	k.mu.Lock()
	mgr := k.admin
	nsid := k.nsid
	k.mu.Unlock()
	if err := mgr.ZoneManagementSend(nsid, physSLBA, uapi.ZoneSendReset, false); err != nil {
		return wrapErr("Kernel.ResetZone", interfaces.CodeResetFailed, err)
	}
	return nil
}

// ResetAll issues a Zone Management Send / Reset with the select-all bit
// set, resetting every zone in one command.
func (k *Kernel) ResetAll(q interfaces.QPairHandle) error {
	k.mu.Lock()
	mgr := k.admin
	nsid := k.nsid
	k.mu.Unlock()
	if err := mgr.ZoneManagementSend(nsid, 0, uapi.ZoneSendReset, true); err != nil {
		return wrapErr("Kernel.ResetAll", interfaces.CodeResetFailed, err)
	}
	return nil
}

// FinishZone issues a Zone Management Send / Finish against one zone.
func (k *Kernel) FinishZone(q interfaces.QPairHandle, physSLBA uint64) error {
	k.mu.Lock()
	mgr := k.admin
	nsid := k.nsid
	k.mu.Unlock()
	if err := mgr.ZoneManagementSend(nsid, physSLBA, uapi.ZoneSendFinish, false); err != nil {
		return wrapErr("Kernel.FinishZone", interfaces.CodeFinishFailed, err)
	}
	return nil
}

// zoneState extracts the 4-bit zone state from a ZoneDescriptor's packed
// ZoneState byte (NVMe ZNS 4.2.1: state occupies the high nibble).
func zoneState(desc uapi.ZoneDescriptor) uint8 {
	return desc.ZoneState >> 4
}

// GetZoneHead issues a Zone Management Receive (Report Zones) for the
// single zone starting at physSLBA, clamping a Full zone's write pointer
// to slba+ZoneSize to match every other backend's contract.
func (k *Kernel) GetZoneHead(q interfaces.QPairHandle, physSLBA uint64) (uint64, error) {
	k.mu.Lock()
	mgr := k.admin
	nsid := k.nsid
	zoneSize := k.info.ZoneSize
	k.mu.Unlock()

	_, descs, err := mgr.ZoneManagementReceive(nsid, physSLBA, 1)
	if err != nil {
		return 0, wrapErr("Kernel.GetZoneHead", interfaces.CodeReportFailed, err)
	}
	if len(descs) == 0 {
		return 0, backendErr("Kernel.GetZoneHead", interfaces.CodeReportFailed, "empty zone report")
	}
	desc := descs[0]
	if zoneState(desc) == uapi.ZoneStateFull {
		return physSLBA + zoneSize, nil
	}
	return desc.WritePointer, nil
}

// GetZoneHeads reports over [physSLBA, physESLBA) in one Zone Management
// Receive call covering every zone of the range; it does not split the
// range into several calls.
func (k *Kernel) GetZoneHeads(q interfaces.QPairHandle, physSLBA, physESLBA uint64) ([]uint64, error) {
	k.mu.Lock()
	mgr := k.admin
	nsid := k.nsid
	zoneSize := k.info.ZoneSize
	k.mu.Unlock()

	if zoneSize == 0 || physESLBA <= physSLBA {
		return nil, nil
	}
	numZones := int((physESLBA - physSLBA) / zoneSize)

	_, descs, err := mgr.ZoneManagementReceive(nsid, physSLBA, numZones)
	if err != nil {
		return nil, wrapErr("Kernel.GetZoneHeads", interfaces.CodeReportFailed, err)
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

// GetZoneCap reports the zone capacity learned at Open; every zone
// shares one capacity on the namespaces this module targets (a per-zone
// capacity descriptor extension is out of scope).
func (k *Kernel) GetZoneCap(q interfaces.QPairHandle, physSLBA uint64) (uint64, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.info.ZoneCap, nil
}

var _ interfaces.Backend = (*Kernel)(nil)
