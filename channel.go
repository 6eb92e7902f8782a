package szd

import (
	"time"

	"github.com/szd-go/zns/internal/bufpool"
	"github.com/szd-go/zns/internal/interfaces"
)

// zoneState is one owned zone's cached write pointer,
// addressed physically. Mutated only by successful appends (advance wp)
// and resets (wp = slba).
type zoneState struct {
	slba    uint64
	wp      uint64
	zoneCap uint64
}

// Channel is one queue-pair worth of I/O plus the zone-state cache over a
// bounded, logically-addressed window. A Channel is not
// safe for concurrent use; callers that want parallelism mint more
// channels from a ChannelFactory.
type Channel struct {
	backend interfaces.Backend
	qpair   interfaces.QPairHandle
	info    interfaces.DeviceInfo

	minZone    uint64 // physical zone index, inclusive
	maxZone    uint64 // physical zone index, exclusive
	fullDevice bool   // true if [minZone,maxZone) covers the whole opened device

	zones map[uint64]*zoneState // keyed by physical zone index

	spill []byte // one block, reused scratch for sub-block tails

	stats    *ChannelStats
	observer interfaces.Observer
	logger   interfaces.Logger

	devID string
	index int // index assigned by a ChannelFactory; -1 if unowned

	preserveAsyncBuffer bool
	writeDepth          int
}

// NewChannel constructs a Channel over the zone-index window
// [minZone, maxZone) of an already-open device, pre-populating the zone
// cache from the backend.
func NewChannel(backend interfaces.Backend, qpair interfaces.QPairHandle, info interfaces.DeviceInfo, minZone, maxZone uint64, devID string) (*Channel, error) {
	if info.BlockSize == 0 || info.ZoneSize == 0 || info.ZoneCap == 0 {
		return nil, NewError("NewChannel", CodeInvalidArguments, "device descriptor is incomplete")
	}
	if maxZone <= minZone {
		return nil, NewError("NewChannel", CodeInvalidArguments, "empty or inverted zone window")
	}

	devMinZone := info.MinLBA / info.ZoneSize
	devMaxZone := info.MaxLBA / info.ZoneSize
	if minZone < devMinZone || maxZone > devMaxZone {
		return nil, NewError("NewChannel", CodeInvalidArguments, "zone window outside device's opened range")
	}

	c := &Channel{
		backend:    backend,
		qpair:      qpair,
		info:       info,
		minZone:    minZone,
		maxZone:    maxZone,
		fullDevice: minZone == devMinZone && maxZone == devMaxZone,
		zones:      make(map[uint64]*zoneState, maxZone-minZone),
		spill:      bufpool.Get(info.BlockSize),
		stats:      NewChannelStats(),
		observer:   interfaces.NoOpObserver{},
		devID:      devID,
		index:      -1,
	}

	for zi := minZone; zi < maxZone; zi++ {
		slba := zi * info.ZoneSize
		zoneCap, err := backend.GetZoneCap(qpair, slba)
		if err != nil {
			return nil, wrapBackendError("NewChannel.GetZoneCap", err)
		}
		wp, err := backend.GetZoneHead(qpair, slba)
		if err != nil {
			return nil, wrapBackendError("NewChannel.GetZoneHead", err)
		}
		c.zones[zi] = &zoneState{slba: slba, wp: wp, zoneCap: zoneCap}
	}

	return c, nil
}

// SetObserver attaches an external metrics sink; nil resets to a no-op.
func (c *Channel) SetObserver(o interfaces.Observer) {
	if o == nil {
		o = interfaces.NoOpObserver{}
	}
	c.observer = o
}

// SetLogger attaches a logger used for diagnostic messages.
func (c *Channel) SetLogger(l interfaces.Logger) {
	c.logger = l
}

// Stats returns the channel's running counters.
func (c *Channel) Stats() *ChannelStats {
	return c.stats
}

// Close releases the channel's scratch buffer. It does not destroy the
// underlying queue-pair; that's the ChannelFactory's job.
func (c *Channel) Close() {
	if c.spill != nil {
		bufpool.Put(c.spill)
		c.spill = nil
	}
	c.stats.Stop()
}

// BlockSize returns the channel's device block size B.
func (c *Channel) BlockSize() uint32 {
	return c.info.BlockSize
}

// ZASL returns the device's maximum zone-append transfer size in bytes.
func (c *Channel) ZASL() uint64 {
	return c.info.ZASL
}

// MDTS returns the device's maximum data transfer size in bytes.
func (c *Channel) MDTS() uint64 {
	return c.info.MDTS
}

// ZoneCapBlocks returns the device's usable zone capacity in blocks.
func (c *Channel) ZoneCapBlocks() uint64 {
	return c.info.ZoneCap
}

// ZoneCount returns how many zones this channel owns.
func (c *Channel) ZoneCount() uint64 {
	return c.maxZone - c.minZone
}

// LogicalCapacity returns the channel's total addressable logical space
// in blocks: one ZoneCap-sized dense zone per owned physical zone.
func (c *Channel) LogicalCapacity() uint64 {
	return c.ZoneCount() * c.info.ZoneCap
}

// AlignSize returns the smallest multiple of the channel's block size at
// least n.
func (c *Channel) AlignSize(n int) int {
	return roundUpBlock(n, c.info.BlockSize)
}

// logicalToPhysical translates a dense logical LBA (relative to this
// channel's own window) to the device's sparse physical LBA:
// phys = (L / Zcap) * Zsize + (L mod Zcap), offset by the channel's zone
// window origin.
func (c *Channel) logicalToPhysical(l uint64) (uint64, error) {
	zoneRel := l / c.info.ZoneCap
	offset := l % c.info.ZoneCap
	zi := c.minZone + zoneRel
	if zi >= c.maxZone {
		return 0, NewChannelError("Channel.translate", c.devID, c.index, CodeInvalidArguments, "logical LBA outside channel window")
	}
	return zi*c.info.ZoneSize + offset, nil
}

// physicalToLogical is the inverse of logicalToPhysical: log = (P / Zsize)
// * Zcap + (P mod Zsize), offset back out of the channel's zone window.
func (c *Channel) physicalToLogical(p uint64) uint64 {
	zi := p / c.info.ZoneSize
	offset := p % c.info.ZoneSize
	zoneRel := zi - c.minZone
	return zoneRel*c.info.ZoneCap + offset
}

// appendChunks issues backend.Append in zone-respecting, ZASL-bounded
// chunks starting at phys, advancing the cache's write pointer after
// every successful chunk. When a chunk ends exactly at a zone's capacity
// and more data remains, it transparently walks to the next zone's slba,
// failing with InvalidArguments if that zone isn't in the window or
// isn't empty.
func (c *Channel) appendChunks(phys uint64, data []byte, blocks uint64) (uint64, error) {
	blockSize := uint64(c.info.BlockSize)
	zaslBlocks := c.info.ZASL / blockSize
	curPhys := phys
	remaining := blocks
	var off uint64

	for remaining > 0 {
		zi := curPhys / c.info.ZoneSize
		zs, ok := c.zones[zi]
		if !ok {
			return curPhys, NewChannelError("Channel.Append", c.devID, c.index, CodeInvalidArguments, "zone outside channel window")
		}

		chunkBlocks := remaining
		if chunkBlocks > zaslBlocks {
			chunkBlocks = zaslBlocks
		}
		if zoneEndBlocks := zs.slba + zs.zoneCap - curPhys; zoneEndBlocks < chunkBlocks {
			chunkBlocks = zoneEndBlocks
		}
		if chunkBlocks == 0 {
			return curPhys, NewChannelError("Channel.Append", c.devID, c.index, CodeInvalidArguments, "zone has no remaining capacity")
		}

		chunkBytes := chunkBlocks * blockSize
		if err := c.backend.Append(c.qpair, curPhys, data[off:off+chunkBytes], uint32(chunkBlocks)); err != nil {
			return curPhys, wrapBackendError("Channel.Append", err)
		}

		zs.wp += chunkBlocks
		curPhys += chunkBlocks
		off += chunkBytes
		remaining -= chunkBlocks

		if remaining > 0 && curPhys == zs.slba+zs.zoneCap {
			next, ok := c.zones[zi+1]
			if !ok {
				return curPhys, NewChannelError("Channel.Append", c.devID, c.index, CodeInvalidArguments, "append would cross the channel's window boundary")
			}
			if next.wp != next.slba {
				return curPhys, NewChannelError("Channel.Append", c.devID, c.index, CodeInvalidArguments, "next zone is not empty")
			}
			curPhys = next.slba
		}
	}
	return curPhys, nil
}

// readChunks is appendChunks' read analogue: same zone-boundary and
// transfer-size chunking, MDTS-bounded instead of ZASL-bounded, with no
// empty-zone requirement on the walk (reads never advance a write
// pointer).
func (c *Channel) readChunks(phys uint64, dst []byte, blocks uint64) (uint64, error) {
	blockSize := uint64(c.info.BlockSize)
	mdtsBlocks := c.info.MDTS / blockSize
	curPhys := phys
	remaining := blocks
	var off uint64

	for remaining > 0 {
		zi := curPhys / c.info.ZoneSize
		zs, ok := c.zones[zi]
		if !ok {
			return curPhys, NewChannelError("Channel.Read", c.devID, c.index, CodeInvalidArguments, "zone outside channel window")
		}

		zoneEndBlocks := zs.slba + zs.zoneCap - curPhys
		if zoneEndBlocks == 0 {
			next, ok := c.zones[zi+1]
			if !ok {
				return curPhys, NewChannelError("Channel.Read", c.devID, c.index, CodeInvalidArguments, "read would cross the channel's window boundary")
			}
			curPhys = next.slba
			continue
		}

		chunkBlocks := remaining
		if chunkBlocks > mdtsBlocks {
			chunkBlocks = mdtsBlocks
		}
		if zoneEndBlocks < chunkBlocks {
			chunkBlocks = zoneEndBlocks
		}

		chunkBytes := chunkBlocks * blockSize
		if err := c.backend.Read(c.qpair, curPhys, dst[off:off+chunkBytes], uint32(chunkBlocks)); err != nil {
			return curPhys, wrapBackendError("Channel.Read", err)
		}

		curPhys += chunkBlocks
		off += chunkBytes
		remaining -= chunkBlocks
	}
	return curPhys, nil
}

// appendWholeAndTail appends wholeData (a multiple of the block size)
// directly, then, if tail is non-empty, zero-pads it into the channel's
// spill buffer and appends that as one more block. It returns the final physical LBA and the block count written.
func (c *Channel) appendWholeAndTail(phys uint64, wholeData, tail []byte) (uint64, uint32, error) {
	curPhys := phys
	var blocks uint32

	if len(wholeData) > 0 {
		n := uint64(len(wholeData)) / uint64(c.info.BlockSize)
		next, err := c.appendChunks(curPhys, wholeData, n)
		if err != nil {
			return curPhys, blocks, err
		}
		curPhys = next
		blocks += uint32(n)
	}

	if len(tail) > 0 {
		spill := c.spill[:c.info.BlockSize]
		for i := range spill {
			spill[i] = 0
		}
		copy(spill, tail)
		next, err := c.appendChunks(curPhys, spill, 1)
		if err != nil {
			return curPhys, blocks, err
		}
		curPhys = next
		blocks++
	}

	return curPhys, blocks, nil
}

// DirectAppend translates *lba to physical, copies src into a freshly
// allocated DMA buffer, and appends it in zone- and ZASL-respecting
// chunks. On success *lba is advanced to the logical LBA just past the
// last byte written. When aligned is false and size isn't a multiple of
// the block size, the whole-block prefix goes through the chunked path
// and the trailing bytes go through the one-block spill buffer,
// zero-padded.
func (c *Channel) DirectAppend(lba *uint64, src []byte, size uint32, aligned bool) (uint32, error) {
	start := time.Now()
	blocks, err := c.directAppend(lba, src, size, aligned)
	latency := uint64(time.Since(start))
	c.stats.RecordAppend(uint64(size), latency, err == nil)
	c.observer.ObserveAppend(uint64(size), latency, err == nil)
	return blocks, err
}

func (c *Channel) directAppend(lba *uint64, src []byte, size uint32, aligned bool) (uint32, error) {
	blockSize := c.info.BlockSize
	if aligned && size%blockSize != 0 {
		return 0, NewChannelError("Channel.DirectAppend", c.devID, c.index, CodeInvalidArguments, "unaligned size with aligned=true")
	}
	if uint32(len(src)) < size {
		return 0, NewChannelError("Channel.DirectAppend", c.devID, c.index, CodeInvalidArguments, "src shorter than size")
	}

	wholeSize := (size / blockSize) * blockSize
	tailSize := size - wholeSize

	phys, err := c.logicalToPhysical(*lba)
	if err != nil {
		return 0, err
	}

	var scratch *Buffer
	var wholeData []byte
	if wholeSize > 0 {
		scratch, err = NewBuffer(blockSize, int(wholeSize))
		if err != nil {
			return 0, err
		}
		defer scratch.Free()
		if err := scratch.WriteAt(src[:wholeSize], 0, wholeSize); err != nil {
			return 0, err
		}
		wholeData = scratch.Raw()
	}

	endPhys, blocks, err := c.appendWholeAndTail(phys, wholeData, src[wholeSize:wholeSize+tailSize])
	if err != nil {
		return blocks, err
	}

	*lba = c.physicalToLogical(endPhys)
	return blocks, nil
}

// DirectRead is DirectAppend's read analogue: it reads into a freshly
// allocated DMA buffer then copies the result into dst.
func (c *Channel) DirectRead(lba uint64, dst []byte, size uint32, aligned bool) (uint32, error) {
	start := time.Now()
	blocks, err := c.directRead(lba, dst, size, aligned)
	latency := uint64(time.Since(start))
	c.stats.RecordRead(uint64(size), latency, err == nil)
	c.observer.ObserveRead(uint64(size), latency, err == nil)
	return blocks, err
}

func (c *Channel) directRead(lba uint64, dst []byte, size uint32, aligned bool) (uint32, error) {
	blockSize := c.info.BlockSize
	if aligned && size%blockSize != 0 {
		return 0, NewChannelError("Channel.DirectRead", c.devID, c.index, CodeInvalidArguments, "unaligned size with aligned=true")
	}
	if uint32(len(dst)) < size {
		return 0, NewChannelError("Channel.DirectRead", c.devID, c.index, CodeInvalidArguments, "dst shorter than size")
	}

	wholeSize := (size / blockSize) * blockSize
	tailSize := size - wholeSize

	phys, err := c.logicalToPhysical(lba)
	if err != nil {
		return 0, err
	}

	var blocks uint32
	curPhys := phys

	if wholeSize > 0 {
		scratch, err := NewBuffer(blockSize, int(wholeSize))
		if err != nil {
			return 0, err
		}
		defer scratch.Free()
		next, err := c.readChunks(curPhys, scratch.Raw(), uint64(wholeSize/blockSize))
		if err != nil {
			return blocks, err
		}
		if err := scratch.ReadFrom(dst[:wholeSize], 0, wholeSize); err != nil {
			return blocks, err
		}
		curPhys = next
		blocks += wholeSize / blockSize
	}

	if tailSize > 0 {
		spill := c.spill[:blockSize]
		next, err := c.readChunks(curPhys, spill, 1)
		if err != nil {
			return blocks, err
		}
		copy(dst[wholeSize:wholeSize+tailSize], spill[:tailSize])
		curPhys = next
		blocks++
	}
	_ = curPhys

	return blocks, nil
}

// FlushBuffer appends the full contents of buf at *lba, without copying
// buf's bytes into a fresh scratch buffer first.
func (c *Channel) FlushBuffer(lba *uint64, buf *Buffer, aligned bool) (uint32, error) {
	return c.FlushBufferSection(lba, buf, 0, uint32(buf.Len()), aligned)
}

// FlushBufferSection appends a [offset, offset+size) slice of buf at
// *lba.
func (c *Channel) FlushBufferSection(lba *uint64, buf *Buffer, offset, size uint32, aligned bool) (uint32, error) {
	start := time.Now()
	blocks, err := c.flushBufferSection(lba, buf, offset, size, aligned)
	latency := uint64(time.Since(start))
	c.stats.RecordAppend(uint64(size), latency, err == nil)
	c.observer.ObserveAppend(uint64(size), latency, err == nil)
	return blocks, err
}

func (c *Channel) flushBufferSection(lba *uint64, buf *Buffer, offset, size uint32, aligned bool) (uint32, error) {
	blockSize := c.info.BlockSize
	if aligned && size%blockSize != 0 {
		return 0, NewChannelError("Channel.FlushBuffer", c.devID, c.index, CodeInvalidArguments, "unaligned size with aligned=true")
	}
	if uint64(offset)+uint64(size) > uint64(buf.Len()) {
		return 0, NewChannelError("Channel.FlushBuffer", c.devID, c.index, CodeInvalidArguments, "section outside buffer bounds")
	}

	wholeSize := (size / blockSize) * blockSize
	tailSize := size - wholeSize

	phys, err := c.logicalToPhysical(*lba)
	if err != nil {
		return 0, err
	}

	section := buf.Raw()[offset : offset+size]
	endPhys, blocks, err := c.appendWholeAndTail(phys, section[:wholeSize], section[wholeSize:wholeSize+tailSize])
	if err != nil {
		return blocks, err
	}

	*lba = c.physicalToLogical(endPhys)
	return blocks, nil
}

// ReadIntoBuffer reads size bytes starting at lba directly into buf,
// without an intermediate copy.
func (c *Channel) ReadIntoBuffer(lba uint64, buf *Buffer, size uint32, aligned bool) (uint32, error) {
	start := time.Now()
	blocks, err := c.readIntoBuffer(lba, buf, size, aligned)
	latency := uint64(time.Since(start))
	c.stats.RecordRead(uint64(size), latency, err == nil)
	c.observer.ObserveRead(uint64(size), latency, err == nil)
	return blocks, err
}

func (c *Channel) readIntoBuffer(lba uint64, buf *Buffer, size uint32, aligned bool) (uint32, error) {
	blockSize := c.info.BlockSize
	if aligned && size%blockSize != 0 {
		return 0, NewChannelError("Channel.ReadIntoBuffer", c.devID, c.index, CodeInvalidArguments, "unaligned size with aligned=true")
	}
	if uint32(buf.Len()) < size {
		if err := buf.Realloc(int(size)); err != nil {
			return 0, err
		}
	}

	wholeSize := (size / blockSize) * blockSize
	tailSize := size - wholeSize

	phys, err := c.logicalToPhysical(lba)
	if err != nil {
		return 0, err
	}

	var blocks uint32
	curPhys := phys
	if wholeSize > 0 {
		next, err := c.readChunks(curPhys, buf.Raw()[:wholeSize], uint64(wholeSize/blockSize))
		if err != nil {
			return blocks, err
		}
		curPhys = next
		blocks += wholeSize / blockSize
	}
	if tailSize > 0 {
		spill := c.spill[:blockSize]
		next, err := c.readChunks(curPhys, spill, 1)
		if err != nil {
			return blocks, err
		}
		copy(buf.Raw()[wholeSize:wholeSize+tailSize], spill[:tailSize])
		curPhys = next
		blocks++
	}
	_ = curPhys

	return blocks, nil
}

// ResetZone resets the zone starting at the logical LBA logicalSLBA and
// rewinds its cached write pointer to its start.
func (c *Channel) ResetZone(logicalSLBA uint64) error {
	start := time.Now()
	err := c.resetZone(logicalSLBA)
	latency := uint64(time.Since(start))
	c.stats.RecordReset(latency, err == nil)
	c.observer.ObserveReset(latency, err == nil)
	return err
}

func (c *Channel) resetZone(logicalSLBA uint64) error {
	phys, err := c.logicalToPhysical(logicalSLBA)
	if err != nil {
		return err
	}
	zi := phys / c.info.ZoneSize
	zs, ok := c.zones[zi]
	if !ok || phys != zs.slba {
		return NewChannelError("Channel.ResetZone", c.devID, c.index, CodeInvalidArguments, "not a zone start in this channel's window")
	}
	if err := c.backend.ResetZone(c.qpair, phys); err != nil {
		return wrapBackendError("Channel.ResetZone", err)
	}
	zs.wp = zs.slba
	return nil
}

// ResetAllZones resets every zone this channel owns, using the backend's
// reset_all fast path when the channel's window is the whole opened
// device.
func (c *Channel) ResetAllZones() error {
	start := time.Now()
	err := c.resetAllZones()
	latency := uint64(time.Since(start))
	c.stats.RecordReset(latency, err == nil)
	c.observer.ObserveReset(latency, err == nil)
	return err
}

func (c *Channel) resetAllZones() error {
	if c.fullDevice {
		if err := c.backend.ResetAll(c.qpair); err != nil {
			return wrapBackendError("Channel.ResetAllZones", err)
		}
		for _, zs := range c.zones {
			zs.wp = zs.slba
		}
		return nil
	}

	for zi := c.minZone; zi < c.maxZone; zi++ {
		zs := c.zones[zi]
		if err := c.backend.ResetZone(c.qpair, zs.slba); err != nil {
			return wrapBackendError("Channel.ResetAllZones", err)
		}
		zs.wp = zs.slba
	}
	return nil
}

// FinishZone transitions the zone starting at the logical LBA to Full
// regardless of remaining capacity. The cache is left untouched: the
// next append against that zone will fail on its own, since wp no longer
// equals slba.
func (c *Channel) FinishZone(logicalSLBA uint64) error {
	start := time.Now()
	err := c.finishZone(logicalSLBA)
	latency := uint64(time.Since(start))
	c.stats.RecordFinish(latency, err == nil)
	c.observer.ObserveFinish(latency, err == nil)
	return err
}

func (c *Channel) finishZone(logicalSLBA uint64) error {
	phys, err := c.logicalToPhysical(logicalSLBA)
	if err != nil {
		return err
	}
	zi := phys / c.info.ZoneSize
	zs, ok := c.zones[zi]
	if !ok || phys != zs.slba {
		return NewChannelError("Channel.FinishZone", c.devID, c.index, CodeInvalidArguments, "not a zone start in this channel's window")
	}
	if err := c.backend.FinishZone(c.qpair, phys); err != nil {
		return wrapBackendError("Channel.FinishZone", err)
	}
	return nil
}

// ZoneHead returns the logical write pointer of the zone starting at the
// logical LBA logicalSLBA, refreshing the cache from a live backend
// query.
func (c *Channel) ZoneHead(logicalSLBA uint64) (uint64, error) {
	phys, err := c.logicalToPhysical(logicalSLBA)
	if err != nil {
		return 0, err
	}
	zi := phys / c.info.ZoneSize
	zs, ok := c.zones[zi]
	if !ok || phys != zs.slba {
		return 0, NewChannelError("Channel.ZoneHead", c.devID, c.index, CodeInvalidArguments, "not a zone start in this channel's window")
	}
	wp, err := c.backend.GetZoneHead(c.qpair, phys)
	if err != nil {
		return 0, wrapBackendError("Channel.ZoneHead", err)
	}
	zs.wp = wp
	return c.physicalToLogical(wp), nil
}

// AsyncAppend is one outstanding single-chunk append submitted through
// Channel.AppendAsync; it's the unit zlog.OnceLog's write-depth tracking
// polls against.
type AsyncAppend struct {
	channel    *Channel
	completion *interfaces.Completion
	zoneIndex  uint64
	blocks     uint64
}

// AppendAsync submits one chunk-sized append (the caller guarantees it
// doesn't cross a zone boundary and fits within ZASL; Channel doesn't
// re-chunk async submissions) and returns immediately. The caller polls
// the returned AsyncAppend to reap it.
func (c *Channel) AppendAsync(logicalLBA uint64, src []byte, blocks uint32) (*AsyncAppend, error) {
	phys, err := c.logicalToPhysical(logicalLBA)
	if err != nil {
		return nil, err
	}
	zi := phys / c.info.ZoneSize
	if _, ok := c.zones[zi]; !ok {
		return nil, NewChannelError("Channel.AppendAsync", c.devID, c.index, CodeInvalidArguments, "zone outside channel window")
	}

	comp, err := c.backend.AppendAsync(c.qpair, phys, src, blocks)
	if err != nil {
		return nil, wrapBackendError("Channel.AppendAsync", err)
	}
	return &AsyncAppend{channel: c, completion: comp, zoneIndex: zi, blocks: uint64(blocks)}, nil
}

// PollOnce makes one non-blocking attempt to reap the append, advancing
// the zone cache's write pointer once it completes successfully.
func (a *AsyncAppend) PollOnce() (bool, error) {
	done, err := a.channel.backend.PollOnce(a.channel.qpair, a.completion)
	if err != nil {
		return false, wrapBackendError("AsyncAppend.PollOnce", err)
	}
	if done {
		a.advanceCache()
	}
	return done, nil
}

// Wait blocks until the append completes, advancing the zone cache's
// write pointer on success.
func (a *AsyncAppend) Wait() error {
	if err := a.channel.backend.PollAsync(a.channel.qpair, a.completion); err != nil {
		return wrapBackendError("AsyncAppend.Wait", err)
	}
	a.advanceCache()
	return nil
}

// Done reports whether the completion has already been reaped.
func (a *AsyncAppend) Done() bool {
	return a.completion.Done
}

func (a *AsyncAppend) advanceCache() {
	if zs, ok := a.channel.zones[a.zoneIndex]; ok {
		zs.wp += a.blocks
	}
}
