package zlog

import (
	zns "github.com/szd-go/zns"
)

// FragmentedLog is a whole-zone arena with a free-list allocator:
// Append claims whole zones for a write via the
// FreeList, Reset frees them back.
type FragmentedLog struct {
	factory *zns.ChannelFactory
	writeCh *zns.Channel
	readCh  *zns.Channel
	resetCh *zns.Channel
	owned   bool

	freeList *FreeList
	minZone  uint64
	maxZone  uint64
}

// NewFragmentedLog constructs a FragmentedLog over the zone-index window
// [minZone, maxZone), with a fresh, entirely-free FreeList.
func NewFragmentedLog(factory *zns.ChannelFactory, writeCh, readCh, resetCh *zns.Channel, minZone, maxZone uint64, owned bool) (*FragmentedLog, error) {
	if writeCh == nil || readCh == nil || resetCh == nil {
		return nil, zns.NewError("NewFragmentedLog", zns.CodeInvalidArguments, "nil channel")
	}
	fl, err := NewFreeList(minZone, maxZone)
	if err != nil {
		return nil, err
	}
	return &FragmentedLog{
		factory:  factory,
		writeCh:  writeCh,
		readCh:   readCh,
		resetCh:  resetCh,
		owned:    owned,
		freeList: fl,
		minZone:  minZone,
		maxZone:  maxZone,
	}, nil
}

// ZonesLeft returns the number of unallocated zones in the arena.
func (l *FragmentedLog) ZonesLeft() uint64 { return l.freeList.ZonesLeft() }

// SpaceLeft returns the unallocated capacity in bytes.
func (l *FragmentedLog) SpaceLeft() uint64 {
	return l.freeList.ZonesLeft() * l.writeCh.ZoneCapBlocks() * uint64(l.writeCh.BlockSize())
}

// zoneLBA returns the logical LBA at the start of the zone-relative
// index zi (relative to the channel's own window origin, always 0 since
// the channel already owns exactly [minZone, maxZone)).
func (l *FragmentedLog) zoneLBA(zi uint64) uint64 {
	return (zi - l.minZone) * l.writeCh.ZoneCapBlocks()
}

// Append writes data across as many whole zones as it needs
// (ceil(alignedSize / (Zcap*B))), claiming them from the free-list. Every
// region but the last is written at full zone capacity; the last region
// may carry the caller's original (possibly unaligned) size. Returns the
// regions the data landed in.
func (l *FragmentedLog) Append(data []byte, aligned bool) ([]Region, error) {
	blockSize := uint64(l.writeCh.BlockSize())
	zcap := l.writeCh.ZoneCapBlocks()
	zoneBytes := zcap * blockSize

	size := uint64(len(data))
	zonesNeeded := (size + zoneBytes - 1) / zoneBytes
	if zonesNeeded == 0 {
		zonesNeeded = 1
	}
	if zonesNeeded > l.freeList.ZonesLeft() {
		return nil, zns.NewError("FragmentedLog.Append", zns.CodeInvalidArguments, "not enough free zones")
	}

	regions, err := l.freeList.AllocZones(zonesNeeded)
	if err != nil {
		return nil, err
	}

	var off uint64
	for i, region := range regions {
		lba := l.zoneLBA(region.BeginZone)
		chunkBytes := region.ZoneCount * zoneBytes
		remaining := size - off
		writeBytes := chunkBytes
		if remaining < chunkBytes || i == len(regions)-1 {
			writeBytes = remaining
		}

		if _, err := l.writeCh.DirectAppend(&lba, data[off:off+writeBytes], uint32(writeBytes), aligned); err != nil {
			return nil, err
		}
		off += writeBytes
	}

	return regions, nil
}

// AppendBuffer is Append against a caller-owned szd.Buffer.
func (l *FragmentedLog) AppendBuffer(buf *zns.Buffer, aligned bool) ([]Region, error) {
	blockSize := uint64(l.writeCh.BlockSize())
	zcap := l.writeCh.ZoneCapBlocks()
	zoneBytes := zcap * blockSize

	size := uint64(buf.Len())
	zonesNeeded := (size + zoneBytes - 1) / zoneBytes
	if zonesNeeded == 0 {
		zonesNeeded = 1
	}
	if zonesNeeded > l.freeList.ZonesLeft() {
		return nil, zns.NewError("FragmentedLog.AppendBuffer", zns.CodeInvalidArguments, "not enough free zones")
	}

	regions, err := l.freeList.AllocZones(zonesNeeded)
	if err != nil {
		return nil, err
	}

	var off uint64
	for i, region := range regions {
		lba := l.zoneLBA(region.BeginZone)
		chunkBytes := region.ZoneCount * zoneBytes
		remaining := size - off
		writeBytes := chunkBytes
		if remaining < chunkBytes || i == len(regions)-1 {
			writeBytes = remaining
		}

		if _, err := l.writeCh.FlushBufferSection(&lba, buf, uint32(off), uint32(writeBytes), aligned); err != nil {
			return nil, err
		}
		off += writeBytes
	}

	return regions, nil
}

// Read reads up to size bytes across regions into dst, reading
// zoneCount*Zcap*B bytes from every region except the last, which reads
// the caller's remaining count with its alignment.
func (l *FragmentedLog) Read(regions []Region, dst []byte, size uint32, aligned bool) error {
	blockSize := uint64(l.readCh.BlockSize())
	zcap := l.readCh.ZoneCapBlocks()
	zoneBytes := zcap * blockSize

	var off uint64
	for i, region := range regions {
		lba := l.zoneLBA(region.BeginZone)
		chunkBytes := region.ZoneCount * zoneBytes
		remaining := uint64(size) - off
		readBytes := chunkBytes
		chunkAligned := true
		if remaining < chunkBytes || i == len(regions)-1 {
			readBytes = remaining
			chunkAligned = aligned
		}
		if readBytes == 0 {
			continue
		}

		if _, err := l.readCh.DirectRead(lba, dst[off:off+readBytes], uint32(readBytes), chunkAligned); err != nil {
			return err
		}
		off += readBytes
	}
	return nil
}

// Reset resets every zone in every region and frees the corresponding
// free-list nodes.
func (l *FragmentedLog) Reset(regions []Region) error {
	for _, region := range regions {
		for zi := region.BeginZone; zi < region.BeginZone+region.ZoneCount; zi++ {
			if err := l.resetCh.ResetZone(l.zoneLBA(zi)); err != nil {
				return err
			}
		}
		node := l.freeList.FindRegion(region.BeginZone)
		if node == nil {
			return zns.NewError("FragmentedLog.Reset", zns.CodeInvalidArguments, "no allocation at that region")
		}
		if err := l.freeList.FreeZones(node); err != nil {
			return err
		}
	}
	return nil
}

// ResetAll resets every zone in the window and reinitializes the
// free-list to entirely free.
func (l *FragmentedLog) ResetAll() error {
	if err := l.resetCh.ResetAllZones(); err != nil {
		return err
	}
	fl, err := NewFreeList(l.minZone, l.maxZone)
	if err != nil {
		return err
	}
	l.freeList = fl
	return nil
}

// RecoverPointers is not meaningful for a fragmented arena on its own:
// the caller's allocation table (the list of regions each logical
// write landed in) is the thing that needs recovering, and that table
// lives above this layer (the free list is reconstructed from its own
// Encode/Decode, not by scanning zone heads). This scans zone
// heads only to rebuild the free-list's used/free split, treating any
// non-empty zone as used.
func (l *FragmentedLog) RecoverPointers() error {
	fl, err := NewFreeList(l.minZone, l.maxZone)
	if err != nil {
		return err
	}

	zi := l.minZone
	for zi < l.maxZone {
		lba := l.zoneLBA(zi)
		wp, err := l.readCh.ZoneHead(lba)
		if err != nil {
			return err
		}
		empty := wp == lba
		if !empty {
			node := fl.FindRegion(zi)
			if _, err := fl.AllocZonesFromRegion(node, 1); err != nil {
				return err
			}
		}
		zi++
	}

	l.freeList = fl
	return nil
}

// EncodeFreeList serializes the log's current free-list for the caller
// to persist elsewhere.
func (l *FragmentedLog) EncodeFreeList() []byte {
	return l.freeList.Encode()
}

// LoadFreeList replaces the log's free-list with one decoded from bytes
// produced by EncodeFreeList.
func (l *FragmentedLog) LoadFreeList(data []byte) error {
	fl, err := DecodeFreeList(data)
	if err != nil {
		return err
	}
	l.freeList = fl
	return nil
}

// Close retires this log's channels through its factory if it owns
// them.
func (l *FragmentedLog) Close() error {
	if !l.owned || l.factory == nil {
		return nil
	}
	seen := map[*zns.Channel]bool{}
	var err error
	unreg := func(c *zns.Channel) {
		if c == nil || seen[c] {
			return
		}
		seen[c] = true
		if uerr := l.factory.UnregisterChannel(c); uerr != nil {
			err = uerr
		}
	}
	unreg(l.writeCh)
	unreg(l.readCh)
	unreg(l.resetCh)
	return err
}

var _ Log = (*FragmentedLog)(nil)
