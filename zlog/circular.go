package zlog

import (
	"github.com/szd-go/zns"
)

// CircularLog is a FIFO log with in-place wraparound:
// callers Append at write_head and ConsumeTail to advance write_tail,
// resetting zones as the tail passes them. Multiple independent readers
// are supported by holding one read channel per reader index.
type CircularLog struct {
	factory  *szd.ChannelFactory
	writeCh  *szd.Channel
	resetCh  *szd.Channel
	readChs  []*szd.Channel
	owned    bool

	minZoneHead uint64
	maxZoneHead uint64
	writeHead   uint64
	writeTail   uint64
	zoneTail    uint64
	spaceLeft   uint64
}

// NewCircularLog constructs a CircularLog over writeCh/resetCh/readChs,
// which may all be the same *szd.Channel. At least one read channel is
// required; readChs[i] is selected by Read's reader argument i.
func NewCircularLog(factory *szd.ChannelFactory, writeCh, resetCh *szd.Channel, readChs []*szd.Channel, owned bool) (*CircularLog, error) {
	if writeCh == nil || resetCh == nil || len(readChs) == 0 {
		return nil, szd.NewError("NewCircularLog", szd.CodeInvalidArguments, "nil channel or no readers")
	}

	l := &CircularLog{
		factory:     factory,
		writeCh:     writeCh,
		resetCh:     resetCh,
		readChs:     readChs,
		owned:       owned,
		minZoneHead: 0,
		maxZoneHead: writeCh.LogicalCapacity(),
	}
	l.writeHead = l.minZoneHead
	l.writeTail = l.minZoneHead
	l.zoneTail = l.minZoneHead
	l.spaceLeft = l.windowBytes()
	return l, nil
}

func (l *CircularLog) windowBytes() uint64 {
	return (l.maxZoneHead - l.minZoneHead) * uint64(l.writeCh.BlockSize())
}

// WriteHead returns the current logical write pointer.
func (l *CircularLog) WriteHead() uint64 { return l.writeHead }

// WriteTail returns the current logical read/consume tail.
func (l *CircularLog) WriteTail() uint64 { return l.writeTail }

// SpaceLeft returns the remaining unwritten bytes in the log's window.
func (l *CircularLog) SpaceLeft() uint64 { return l.spaceLeft }

// wrapped reports whether the window is currently in the wrapped regime
// (write_head < write_tail).
func (l *CircularLog) wrapped() bool {
	return l.writeHead < l.writeTail
}

// isValidReadAddress reports whether [lba, lba+blocks) lies entirely
// within the readable region: in the non-wrapped case that's
// [write_tail, write_head); in the wrapped case it's everything except
// the hole (write_head, write_tail). lba+blocks may legitimately exceed
// max_zone_head when the requested range itself crosses the window seam
// (Read then splits it there); validity is judged in the circular
// offset space, not by rejecting every out-of-window end up front.
func (l *CircularLog) isValidReadAddress(lba, blocks uint64) bool {
	windowSize := l.maxZoneHead - l.minZoneHead
	if lba < l.minZoneHead || lba >= l.maxZoneHead || blocks > windowSize {
		return false
	}

	tailOff := l.writeTail - l.minZoneHead
	headOff := l.writeHead - l.minZoneHead
	validLen := headOff - tailOff
	if l.wrapped() {
		validLen = windowSize - tailOff + headOff
	}

	lbaOff := lba - l.minZoneHead
	relStart := (lbaOff - tailOff + windowSize) % windowSize
	return relStart+blocks <= validLen
}

// Append writes data at write_head, splitting into a prefix/suffix pair
// across the window boundary when the write would run past
// max_zone_head and there is room at the start. write_head
// is only published once every phase has succeeded.
func (l *CircularLog) Append(data []byte, aligned bool) (uint64, error) {
	alignedSize := uint64(l.writeCh.AlignSize(len(data)))
	if l.spaceLeft < alignedSize {
		return 0, szd.NewError("CircularLog.Append", szd.CodeIOError, "space_left exhausted")
	}

	blockSize := uint64(l.writeCh.BlockSize())
	blocksRequested := alignedSize / blockSize

	if l.writeHead+blocksRequested > l.maxZoneHead && l.writeTail > l.minZoneHead {
		firstPhaseBlocks := l.maxZoneHead - l.writeHead
		firstPhaseSize := firstPhaseBlocks * blockSize
		if firstPhaseSize > uint64(len(data)) {
			firstPhaseSize = uint64(len(data))
		}

		head := l.writeHead
		if _, err := l.writeCh.DirectAppend(&head, data[:firstPhaseSize], uint32(firstPhaseSize), aligned); err != nil {
			return 0, err
		}

		newHead := l.minZoneHead
		suffix := data[firstPhaseSize:]
		if len(suffix) > 0 {
			if _, err := l.writeCh.DirectAppend(&newHead, suffix, uint32(len(suffix)), aligned); err != nil {
				return 0, err
			}
		}

		written := (l.maxZoneHead-l.writeHead)*blockSize + (newHead-l.minZoneHead)*blockSize
		l.writeHead = newHead
		l.spaceLeft -= written
		return written / blockSize, nil
	}

	head := l.writeHead
	blocks, err := l.writeCh.DirectAppend(&head, data, uint32(len(data)), aligned)
	if err != nil {
		return 0, err
	}
	written := (head - l.writeHead) * blockSize
	l.writeHead = head
	l.spaceLeft -= written
	return uint64(blocks), nil
}

// AppendBuffer is Append against a caller-owned szd.Buffer.
func (l *CircularLog) AppendBuffer(buf *szd.Buffer, aligned bool) (uint64, error) {
	alignedSize := uint64(l.writeCh.AlignSize(buf.Len()))
	if l.spaceLeft < alignedSize {
		return 0, szd.NewError("CircularLog.AppendBuffer", szd.CodeIOError, "space_left exhausted")
	}

	blockSize := uint64(l.writeCh.BlockSize())
	size := uint64(buf.Len())
	blocksRequested := alignedSize / blockSize

	if l.writeHead+blocksRequested > l.maxZoneHead && l.writeTail > l.minZoneHead {
		firstPhaseBlocks := l.maxZoneHead - l.writeHead
		firstPhaseSize := firstPhaseBlocks * blockSize
		if firstPhaseSize > size {
			firstPhaseSize = size
		}

		head := l.writeHead
		if _, err := l.writeCh.FlushBufferSection(&head, buf, 0, uint32(firstPhaseSize), aligned); err != nil {
			return 0, err
		}

		newHead := l.minZoneHead
		suffixSize := size - firstPhaseSize
		if suffixSize > 0 {
			if _, err := l.writeCh.FlushBufferSection(&newHead, buf, uint32(firstPhaseSize), uint32(suffixSize), aligned); err != nil {
				return 0, err
			}
		}

		written := (l.maxZoneHead-l.writeHead)*blockSize + (newHead-l.minZoneHead)*blockSize
		l.writeHead = newHead
		l.spaceLeft -= written
		return written / blockSize, nil
	}

	head := l.writeHead
	blocks, err := l.writeCh.FlushBuffer(&head, buf, aligned)
	if err != nil {
		return 0, err
	}
	written := (head - l.writeHead) * blockSize
	l.writeHead = head
	l.spaceLeft -= written
	return uint64(blocks), nil
}

// Read reads [lba, lba+blocks) into dst using the read channel selected
// by reader, splitting at the window boundary if the range wraps.
func (l *CircularLog) Read(lba uint64, dst []byte, size uint32, reader int, aligned bool) error {
	if reader < 0 || reader >= len(l.readChs) {
		return szd.NewError("CircularLog.Read", szd.CodeInvalidArguments, "unknown reader index")
	}
	ch := l.readChs[reader]
	blockSize := uint64(ch.BlockSize())
	blocks := uint64(ch.AlignSize(int(size))) / blockSize

	if !l.isValidReadAddress(lba, blocks) {
		return szd.NewError("CircularLog.Read", szd.CodeInvalidArguments, "read range outside readable region")
	}

	if lba+blocks <= l.maxZoneHead {
		_, err := ch.DirectRead(lba, dst, size, aligned)
		return err
	}

	firstPhaseBlocks := l.maxZoneHead - lba
	firstPhaseSize := uint32(firstPhaseBlocks * blockSize)
	if _, err := ch.DirectRead(lba, dst[:firstPhaseSize], firstPhaseSize, aligned); err != nil {
		return err
	}
	remaining := size - firstPhaseSize
	_, err := ch.DirectRead(l.minZoneHead, dst[firstPhaseSize:firstPhaseSize+remaining], remaining, aligned)
	return err
}

// ConsumeTail advances write_tail from beginLBA to endLBA, resetting
// every zone whose start falls in [zone_tail, that boundary). endLBA <
// beginLBA is interpreted as a wrap and handled as two calls,
// (begin, max) then (min, end).
func (l *CircularLog) ConsumeTail(beginLBA, endLBA uint64) error {
	if beginLBA != l.writeTail {
		return szd.NewError("CircularLog.ConsumeTail", szd.CodeInvalidArguments, "consume-tail must start at the current write_tail")
	}

	if endLBA < beginLBA {
		if err := l.consumeTailLinear(beginLBA, l.maxZoneHead); err != nil {
			return err
		}
		return l.consumeTailLinear(l.minZoneHead, endLBA)
	}
	return l.consumeTailLinear(beginLBA, endLBA)
}

func (l *CircularLog) consumeTailLinear(beginLBA, endLBA uint64) error {
	if endLBA < beginLBA {
		return szd.NewError("CircularLog.ConsumeTail", szd.CodeInvalidArguments, "end before begin")
	}

	zcap := l.writeCh.ZoneCapBlocks()
	boundary := (endLBA / zcap) * zcap

	for zoneStart := l.zoneTail; zoneStart < boundary; zoneStart += zcap {
		if err := l.resetCh.ResetZone(zoneStart); err != nil {
			return err
		}
	}

	consumedBytes := (endLBA - beginLBA) * uint64(l.writeCh.BlockSize())
	resetBlocks := boundary - l.zoneTail
	resetBytes := resetBlocks * uint64(l.writeCh.BlockSize())

	l.zoneTail = boundary
	l.writeTail = endLBA
	l.spaceLeft += resetBytes
	_ = consumedBytes

	if l.writeTail >= l.maxZoneHead {
		l.writeTail = l.minZoneHead
	}
	if l.zoneTail >= l.maxZoneHead {
		l.zoneTail = l.minZoneHead
	}

	return nil
}

// ResetAll resets every zone in the window and rewinds every pointer to
// the window's start.
func (l *CircularLog) ResetAll() error {
	if err := l.resetCh.ResetAllZones(); err != nil {
		return err
	}
	l.writeHead = l.minZoneHead
	l.writeTail = l.minZoneHead
	l.zoneTail = l.minZoneHead
	l.spaceLeft = l.windowBytes()
	return nil
}

// RecoverPointers scans zone heads across the window to reconstruct
// write_tail/write_head after a restart: the first non-empty zone is
// write_tail, and the first zone after it whose head isn't at the zone's
// end is write_head.
func (l *CircularLog) RecoverPointers() error {
	zcap := l.writeCh.ZoneCapBlocks()

	var tail, head uint64
	tailFound := false

	for zoneStart := l.minZoneHead; zoneStart < l.maxZoneHead; zoneStart += zcap {
		wp, err := l.readChs[0].ZoneHead(zoneStart)
		if err != nil {
			return err
		}
		if wp == zoneStart {
			continue
		}
		if !tailFound {
			tail = zoneStart
			tailFound = true
		}
		head = wp
		if wp < zoneStart+zcap {
			break
		}
	}

	if !tailFound {
		l.writeTail = l.minZoneHead
		l.writeHead = l.minZoneHead
		l.zoneTail = l.minZoneHead
	} else {
		l.writeTail = tail
		l.writeHead = head
		l.zoneTail = tail
	}

	written := (l.writeHead - l.writeTail) * uint64(l.writeCh.BlockSize())
	l.spaceLeft = l.windowBytes() - written
	return nil
}

// Close retires this log's channels through its factory if it owns
// them.
func (l *CircularLog) Close() error {
	if !l.owned || l.factory == nil {
		return nil
	}
	seen := map[*szd.Channel]bool{}
	var err error
	unreg := func(c *szd.Channel) {
		if c == nil || seen[c] {
			return
		}
		seen[c] = true
		if uerr := l.factory.UnregisterChannel(c); uerr != nil {
			err = uerr
		}
	}
	unreg(l.writeCh)
	unreg(l.resetCh)
	for _, c := range l.readChs {
		unreg(c)
	}
	return err
}

var _ Log = (*CircularLog)(nil)
