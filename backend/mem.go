// Package backend provides zns Backend implementations: a RAM-backed
// test/dev engine here, and the production engines in backend/kernel and
// backend/pcie.
package backend

import (
	"fmt"
	"sync"

	"github.com/szd-go/zns/internal/constants"
	"github.com/szd-go/zns/internal/interfaces"
	"github.com/szd-go/zns/internal/profile"
)

// memZone is one zone's mutable state in the RAM-backed backend: its
// write pointer and whether it's been explicitly finished.
type memZone struct {
	wp       uint64
	finished bool
}

// Memory is a RAM-backed interfaces.Backend, used by every test in this
// repository and for local development without a ZNS drive. Unlike a
// flat random-access RAM disk, it tracks a write pointer per zone and
// enforces sequential-append / reset-to-rewind semantics, so code
// written against it behaves the same as code written against a real
// ZNS namespace.
//
// Zones are the natural sharding unit here, since every operation this
// backend sees already carries a zone-aligned SLBA — kept as one
// RWMutex for simplicity since tests exercise at most a handful of
// channels concurrently.
type Memory struct {
	mu sync.RWMutex

	info  interfaces.DeviceInfo
	data  []byte
	zones map[uint64]*memZone // keyed by physical slba

	opened    bool
	nextQPair uint64
	qpairs    map[interfaces.QPairHandle]struct{}
}

// NewMemory constructs a Memory backend reporting the given device
// geometry once opened. The backend allocates TotalBlocks*BlockSize
// bytes of backing RAM immediately.
func NewMemory(info interfaces.DeviceInfo) *Memory {
	return &Memory{
		info:   info,
		data:   make([]byte, info.TotalBlocks*uint64(info.BlockSize)),
		zones:  make(map[uint64]*memZone),
		qpairs: make(map[interfaces.QPairHandle]struct{}),
	}
}

// NewDefaultMemory constructs a Memory backend using
// internal/constants' default geometry, sized to hold holdZones zones.
func NewDefaultMemory(holdZones uint64) *Memory {
	info := interfaces.DeviceInfo{
		BlockSize:   constants.DefaultBlockSize,
		ZoneSize:    constants.DefaultZoneSize,
		ZoneCap:     constants.DefaultZoneSize,
		MDTS:        constants.DefaultMDTS,
		ZASL:        constants.DefaultZASL,
		TotalBlocks: holdZones * constants.DefaultZoneSize,
		MinLBA:      0,
		MaxLBA:      holdZones * constants.DefaultZoneSize,
	}
	return NewMemory(info)
}

// NewMemoryFromProfile builds a Memory backend sized according to the
// named profile in db (internal/profile), as looked up by
// transportAddress rather than constructed in code. Returns an error if
// transportAddress matches no entry.
func NewMemoryFromProfile(db *profile.DB, transportAddress string, minZone, maxZone uint64) (*Memory, error) {
	entry, ok := db.Lookup(transportAddress)
	if !ok {
		return nil, fmt.Errorf("no device profile matches %q", transportAddress)
	}
	info := entry.Geometry.DeviceInfo(minZone, maxZone)
	return NewMemory(info), nil
}

type errString string

func (e errString) Error() string { return string(e) }

func backendErr(op string, code interfaces.Code, msg string) *interfaces.BackendError {
	return &interfaces.BackendError{Op: op, Code: code, Err: errString(msg)}
}

func (m *Memory) zoneAt(slba uint64) *memZone {
	zs, ok := m.zones[slba]
	if !ok {
		zs = &memZone{wp: slba}
		m.zones[slba] = zs
	}
	return zs
}

// Init is a no-op: Memory needs no process-wide setup.
func (m *Memory) Init(interfaces.InitOptions) error { return nil }

// Destroy releases the backing RAM.
func (m *Memory) Destroy() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = nil
	m.zones = nil
	m.opened = false
	return nil
}

// Reinit is a no-op for this backend.
func (m *Memory) Reinit() error { return nil }

// Probe reports this single in-process backend as one discoverable
// device at a synthetic transport address.
func (m *Memory) Probe() ([]interfaces.ProbeResult, error) {
	return []interfaces.ProbeResult{{TransportAddress: "mem0", IsZoned: true}}, nil
}

// Open "opens" the in-memory namespace, reporting the geometry it was
// constructed with. transportAddress and opts are accepted but not
// otherwise validated here: Channel enforces the [MinZone,MaxZone) window.
func (m *Memory) Open(transportAddress string, opts interfaces.OpenOptions) (*interfaces.DeviceInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened = true
	info := m.info
	return &info, nil
}

// Close marks the backend as closed; the backing RAM is only released
// by Destroy.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened = false
	return nil
}

// GetDeviceInfo returns the device descriptor this backend was
// constructed with.
func (m *Memory) GetDeviceInfo() (*interfaces.DeviceInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info := m.info
	return &info, nil
}

// CreateQPair mints a new opaque queue-pair handle; Memory doesn't need
// per-qpair state beyond tracking that the handle is live.
func (m *Memory) CreateQPair() (interfaces.QPairHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextQPair++
	q := interfaces.QPairHandle(m.nextQPair)
	m.qpairs[q] = struct{}{}
	return q, nil
}

// DestroyQPair retires a queue-pair handle minted by CreateQPair.
func (m *Memory) DestroyQPair(q interfaces.QPairHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.qpairs[q]; !ok {
		return backendErr("Memory.DestroyQPair", interfaces.CodeQpairFailed, "unknown queue-pair")
	}
	delete(m.qpairs, q)
	return nil
}

// BufAlloc returns a plain heap-allocated buffer; Memory has no real DMA
// engine to register it with.
func (m *Memory) BufAlloc(size int) (interfaces.Buf, error) {
	if size < 0 {
		return interfaces.Buf{}, backendErr("Memory.BufAlloc", interfaces.CodeDmaAllocFailed, "negative size")
	}
	return interfaces.Buf{Data: make([]byte, size)}, nil
}

// BufFree is a no-op: Go's GC reclaims the backing array.
func (m *Memory) BufFree(interfaces.Buf) error { return nil }

func (m *Memory) checkBounds(physSLBA uint64, blocks uint32) error {
	end := physSLBA + uint64(blocks)
	if end*uint64(m.info.BlockSize) > uint64(len(m.data)) {
		return backendErr("Memory", interfaces.CodeReadFailed, "access past end of device")
	}
	return nil
}

// Read copies blocks*BlockSize bytes starting at physSLBA into buf. No
// chunking: it may cross zone boundaries, since Channel is responsible
// for splitting at ZASL/MDTS and zone edges before calling down.
func (m *Memory) Read(q interfaces.QPairHandle, physSLBA uint64, buf []byte, blocks uint32) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkBounds(physSLBA, blocks); err != nil {
		return err
	}
	off := physSLBA * uint64(m.info.BlockSize)
	n := uint64(blocks) * uint64(m.info.BlockSize)
	copy(buf[:n], m.data[off:off+n])
	return nil
}

// Write is a non-sequential write used only to seed backend state in
// tests; it bypasses the zone write pointer entirely.
func (m *Memory) Write(q interfaces.QPairHandle, physSLBA uint64, buf []byte, blocks uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkBounds(physSLBA, blocks); err != nil {
		return backendErr("Memory.Write", interfaces.CodeAppendFailed, "access past end of device")
	}
	off := physSLBA * uint64(m.info.BlockSize)
	n := uint64(blocks) * uint64(m.info.BlockSize)
	copy(m.data[off:off+n], buf[:n])
	return nil
}

// doAppend performs the actual sequential write, enforcing that
// physSLBA is exactly the addressed zone's current write pointer and
// advancing it.
func (m *Memory) doAppend(physSLBA uint64, buf []byte, blocks uint32) error {
	if err := m.checkBounds(physSLBA, blocks); err != nil {
		return backendErr("Memory.Append", interfaces.CodeAppendFailed, "access past end of device")
	}
	zi := physSLBA / m.info.ZoneSize
	slba := zi * m.info.ZoneSize
	zs := m.zoneAt(slba)
	if physSLBA != zs.wp {
		return backendErr("Memory.Append", interfaces.CodeAppendFailed, "append not at current write pointer")
	}
	if zs.wp+uint64(blocks) > slba+m.info.ZoneCap {
		return backendErr("Memory.Append", interfaces.CodeAppendFailed, "append exceeds zone capacity")
	}

	off := physSLBA * uint64(m.info.BlockSize)
	n := uint64(blocks) * uint64(m.info.BlockSize)
	copy(m.data[off:off+n], buf[:n])
	zs.wp += uint64(blocks)
	return nil
}

// Append is a synchronous sequential zone-append.
func (m *Memory) Append(q interfaces.QPairHandle, physSLBA uint64, buf []byte, blocks uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.doAppend(physSLBA, buf, blocks)
}

// AppendAsync performs the append immediately (there's no real async
// hardware to wait on) but returns an already-done Completion, so
// PollOnce/PollAsync still behave correctly for callers exercising the
// async append path against this test backend.
func (m *Memory) AppendAsync(q interfaces.QPairHandle, physSLBA uint64, buf []byte, blocks uint32) (*interfaces.Completion, error) {
	m.mu.Lock()
	err := m.doAppend(physSLBA, buf, blocks)
	m.mu.Unlock()
	return &interfaces.Completion{Done: true, Err: err, Blocks: blocks}, nil
}

// PollAsync is a no-op: AppendAsync already completed the operation.
func (m *Memory) PollAsync(q interfaces.QPairHandle, c *interfaces.Completion) error {
	return c.Err
}

// PollOnce is a no-op for the same reason; the completion is always
// already done by the time the caller polls it.
func (m *Memory) PollOnce(q interfaces.QPairHandle, c *interfaces.Completion) (bool, error) {
	return c.Done, c.Err
}

// ResetZone resets the zone starting at physSLBA, rewinding its write
// pointer to slba.
func (m *Memory) ResetZone(q interfaces.QPairHandle, physSLBA uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	zi := physSLBA / m.info.ZoneSize
	slba := zi * m.info.ZoneSize
	if physSLBA != slba {
		return backendErr("Memory.ResetZone", interfaces.CodeResetFailed, "not a zone start")
	}
	zs := m.zoneAt(slba)
	zs.wp = slba
	zs.finished = false
	return nil
}

// ResetAll resets every zone in the device.
func (m *Memory) ResetAll(q interfaces.QPairHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for slba, zs := range m.zones {
		zs.wp = slba
		zs.finished = false
	}
	return nil
}

// FinishZone transitions the addressed zone to Full regardless of
// remaining capacity; its write pointer is clamped to slba+ZoneSize,
// matching GetZoneHead's clamping contract for finished zones.
func (m *Memory) FinishZone(q interfaces.QPairHandle, physSLBA uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	zi := physSLBA / m.info.ZoneSize
	slba := zi * m.info.ZoneSize
	if physSLBA != slba {
		return backendErr("Memory.FinishZone", interfaces.CodeFinishFailed, "not a zone start")
	}
	zs := m.zoneAt(slba)
	zs.wp = slba + m.info.ZoneSize
	zs.finished = true
	return nil
}

// GetZoneHead returns the zone's current write pointer, clamped to
// slba+ZoneSize if the zone has been finished.
func (m *Memory) GetZoneHead(q interfaces.QPairHandle, physSLBA uint64) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	zi := physSLBA / m.info.ZoneSize
	slba := zi * m.info.ZoneSize
	if physSLBA != slba {
		return 0, backendErr("Memory.GetZoneHead", interfaces.CodeReportFailed, "not a zone start")
	}
	zs, ok := m.zones[slba]
	if !ok {
		return slba, nil
	}
	if zs.finished {
		return slba + m.info.ZoneSize, nil
	}
	return zs.wp, nil
}

// GetZoneHeads batches GetZoneHead over [physSLBA, physESLBA).
func (m *Memory) GetZoneHeads(q interfaces.QPairHandle, physSLBA, physESLBA uint64) ([]uint64, error) {
	var out []uint64
	for slba := physSLBA; slba < physESLBA; slba += m.info.ZoneSize {
		wp, err := m.GetZoneHead(q, slba)
		if err != nil {
			return nil, err
		}
		out = append(out, wp)
	}
	return out, nil
}

// GetZoneCap returns the device's fixed zone capacity, identical for
// every zone on this backend.
func (m *Memory) GetZoneCap(q interfaces.QPairHandle, physSLBA uint64) (uint64, error) {
	return m.info.ZoneCap, nil
}

var _ interfaces.Backend = (*Memory)(nil)
