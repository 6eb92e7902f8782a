package zlog

import (
	"encoding/binary"

	zns "github.com/szd-go/zns"
)

// freeNode is one doubly-linked extent in the free-list: a contiguous
// run of zones, either free or claimed by an allocation.
type freeNode struct {
	beginZone uint64
	zoneCount uint64
	used      bool
	prev      *freeNode
	next      *freeNode
}

// Region is one contiguous extent of zones handed back by Alloc, or
// passed into Free/Reset.
type Region struct {
	BeginZone uint64
	ZoneCount uint64
}

// FreeList is a doubly-linked list of extents spanning
// [minZone, maxZone) with no gaps; adjacent free nodes are always merged
//.
type FreeList struct {
	minZone uint64
	maxZone uint64

	head       *freeNode
	nodeByZone map[uint64]*freeNode // keyed by beginZone, for FindRegion

	seeker    *freeNode
	zonesLeft uint64
}

// NewFreeList constructs a FreeList spanning [minZone, maxZone), entirely
// free.
func NewFreeList(minZone, maxZone uint64) (*FreeList, error) {
	if maxZone <= minZone {
		return nil, zns.NewError("NewFreeList", zns.CodeInvalidArguments, "empty or inverted zone window")
	}
	n := &freeNode{beginZone: minZone, zoneCount: maxZone - minZone}
	fl := &FreeList{
		minZone:    minZone,
		maxZone:    maxZone,
		head:       n,
		nodeByZone: map[uint64]*freeNode{minZone: n},
		seeker:     n,
		zonesLeft:  maxZone - minZone,
	}
	return fl, nil
}

// ZonesLeft returns the total free zone count across the window.
func (fl *FreeList) ZonesLeft() uint64 { return fl.zonesLeft }

// FindRegion locates the node containing zoneIndex.
func (fl *FreeList) FindRegion(zoneIndex uint64) *freeNode {
	for n := fl.head; n != nil; n = n.next {
		if zoneIndex >= n.beginZone && zoneIndex < n.beginZone+n.zoneCount {
			return n
		}
	}
	return nil
}

func (fl *FreeList) removeNode(n *freeNode) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		fl.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	delete(fl.nodeByZone, n.beginZone)
	if fl.seeker == n {
		fl.seeker = n.next
		if fl.seeker == nil {
			fl.seeker = fl.head
		}
	}
}

// AllocZonesFromRegion splits node: the first count zones become a new
// used node, the remainder stays free. If count exactly consumes the
// node, it flips to used in place with no split: exact-size allocation
// never leaves a zero-sized placeholder node behind.
func (fl *FreeList) AllocZonesFromRegion(node *freeNode, count uint64) (Region, error) {
	if node == nil || node.used || count == 0 || count > node.zoneCount {
		return Region{}, zns.NewError("FreeList.AllocZonesFromRegion", zns.CodeInvalidArguments, "region cannot satisfy request")
	}

	region := Region{BeginZone: node.beginZone, ZoneCount: count}

	if count == node.zoneCount {
		node.used = true
		fl.zonesLeft -= count
		return region, nil
	}

	used := &freeNode{beginZone: node.beginZone, zoneCount: count, used: true}
	node.beginZone += count
	node.zoneCount -= count
	delete(fl.nodeByZone, node.beginZone-count)
	fl.nodeByZone[node.beginZone] = node

	if node.prev != nil {
		node.prev.next = used
	} else {
		fl.head = used
	}
	used.prev = node.prev
	used.next = node
	node.prev = used
	fl.nodeByZone[used.beginZone] = used

	fl.zonesLeft -= count
	return region, nil
}

// AllocZones scans forward from the seeker, then from the start, taking
// whole-or-partial free extents until requested zones are claimed.
// Nothing is committed if the window doesn't have enough free zones in
// total.
func (fl *FreeList) AllocZones(requested uint64) ([]Region, error) {
	if requested == 0 {
		return nil, zns.NewError("FreeList.AllocZones", zns.CodeInvalidArguments, "requested zero zones")
	}
	if requested > fl.zonesLeft {
		return nil, zns.NewError("FreeList.AllocZones", zns.CodeInvalidArguments, "insufficient free zones")
	}

	var regions []Region
	remaining := requested

	start := fl.seeker
	if start == nil {
		start = fl.head
	}

	visit := func(n *freeNode) bool {
		if remaining == 0 {
			return true
		}
		if n.used || n.zoneCount == 0 {
			return false
		}
		take := n.zoneCount
		if take > remaining {
			take = remaining
		}
		region, err := fl.AllocZonesFromRegion(n, take)
		if err != nil {
			return false
		}
		regions = append(regions, region)
		remaining -= take
		return remaining == 0
	}

	for n := start; n != nil && remaining > 0; {
		next := n.next
		if visit(n) {
			break
		}
		n = next
	}
	for n := fl.head; n != nil && n != start && remaining > 0; {
		next := n.next
		if visit(n) {
			break
		}
		n = next
	}

	if remaining > 0 {
		return nil, zns.NewError("FreeList.AllocZones", zns.CodeInvalidArguments, "could not satisfy request despite free count")
	}

	if len(regions) > 0 {
		last := regions[len(regions)-1]
		if n, ok := fl.nodeByZone[last.BeginZone+last.ZoneCount]; ok {
			fl.seeker = n
		} else if n, ok := fl.nodeByZone[last.BeginZone]; ok {
			fl.seeker = n.next
		}
		if fl.seeker == nil {
			fl.seeker = fl.head
		}
	}

	return regions, nil
}

// FreeZones flips node to free and merges it with a free left/right
// neighbor.
func (fl *FreeList) FreeZones(node *freeNode) error {
	if node == nil || !node.used {
		return zns.NewError("FreeList.FreeZones", zns.CodeInvalidArguments, "node not allocated")
	}
	node.used = false
	fl.zonesLeft += node.zoneCount

	if next := node.next; next != nil && !next.used {
		node.zoneCount += next.zoneCount
		fl.removeNode(next)
	}
	if prev := node.prev; prev != nil && !prev.used {
		prev.zoneCount += node.zoneCount
		fl.removeNode(node)
	}
	return nil
}

// Free releases the region previously returned by Alloc, locating its
// node by begin zone.
func (fl *FreeList) Free(region Region) error {
	node, ok := fl.nodeByZone[region.BeginZone]
	if !ok {
		return zns.NewError("FreeList.Free", zns.CodeInvalidArguments, "no allocation at that begin zone")
	}
	return fl.FreeZones(node)
}

// Encode serializes the free-list as a sequence of fixed-width,
// little-endian records: one per node, {beginZone, zoneCount, used}.
// Decode(Encode(fl)) reproduces fl exactly, including ZonesLeft. Grounded on internal/uapi's fixed-width
// binary-encoding style.
func (fl *FreeList) Encode() []byte {
	var nodeCount int
	for n := fl.head; n != nil; n = n.next {
		nodeCount++
	}

	buf := make([]byte, 8+8+nodeCount*17)
	binary.LittleEndian.PutUint64(buf[0:8], fl.minZone)
	binary.LittleEndian.PutUint64(buf[8:16], fl.maxZone)

	off := 16
	for n := fl.head; n != nil; n = n.next {
		binary.LittleEndian.PutUint64(buf[off:off+8], n.beginZone)
		binary.LittleEndian.PutUint64(buf[off+8:off+16], n.zoneCount)
		if n.used {
			buf[off+16] = 1
		}
		off += 17
	}
	return buf
}

// DecodeFreeList reconstructs a FreeList from bytes produced by Encode.
func DecodeFreeList(data []byte) (*FreeList, error) {
	if len(data) < 16 {
		return nil, zns.NewError("DecodeFreeList", zns.CodeInvalidArguments, "truncated free-list encoding")
	}
	minZone := binary.LittleEndian.Uint64(data[0:8])
	maxZone := binary.LittleEndian.Uint64(data[8:16])

	fl := &FreeList{
		minZone:    minZone,
		maxZone:    maxZone,
		nodeByZone: make(map[uint64]*freeNode),
	}

	off := 16
	var prev *freeNode
	for off+17 <= len(data) {
		beginZone := binary.LittleEndian.Uint64(data[off : off+8])
		zoneCount := binary.LittleEndian.Uint64(data[off+8 : off+16])
		used := data[off+16] == 1
		off += 17

		n := &freeNode{beginZone: beginZone, zoneCount: zoneCount, used: used}
		fl.nodeByZone[beginZone] = n
		if !used {
			fl.zonesLeft += zoneCount
		}
		if prev == nil {
			fl.head = n
		} else {
			prev.next = n
			n.prev = prev
		}
		prev = n
	}

	fl.seeker = fl.head
	return fl, nil
}
