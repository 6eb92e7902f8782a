package zlog

import (
	"runtime"

	"github.com/szd-go/zns"
	"github.com/szd-go/zns/internal/constants"
)

// onceWriter tracks one of OnceLog's in-flight async append slots.
type onceWriter struct {
	inFlight *szd.AsyncAppend
	blocks   uint64
}

// OnceLog is a write-once, read-many, reset-all log: a
// sequential append-only region with an optional pipelined-async write
// path. write_head only ever advances until ResetAll/ResetAllForce
// rewinds it.
type OnceLog struct {
	factory *szd.ChannelFactory
	writeCh *szd.Channel
	resetCh *szd.Channel // same as writeCh unless constructed distinctly
	readCh  *szd.Channel
	owned   bool

	minZoneHead uint64 // logical, always 0: the channel's own origin
	maxZoneHead uint64 // logical, the channel's full capacity
	writeHead   uint64
	spaceLeft   uint64
	zasl        uint64

	writers []onceWriter
}

// NewOnceLog constructs a OnceLog over writeCh/readCh, which may be the
// same *szd.Channel. maxWriteDepth <= 0 falls back to
// constants.DefaultOnceLogWriteDepth. When owned is true, Close retires
// the channels through factory.
func NewOnceLog(factory *szd.ChannelFactory, writeCh, readCh *szd.Channel, maxWriteDepth int, owned bool) (*OnceLog, error) {
	if writeCh == nil || readCh == nil {
		return nil, szd.NewError("NewOnceLog", szd.CodeInvalidArguments, "nil channel")
	}
	if maxWriteDepth <= 0 {
		maxWriteDepth = constants.DefaultOnceLogWriteDepth
	}

	l := &OnceLog{
		factory:     factory,
		writeCh:     writeCh,
		resetCh:     writeCh,
		readCh:      readCh,
		owned:       owned,
		minZoneHead: 0,
		maxZoneHead: writeCh.LogicalCapacity(),
		zasl:        writeCh.ZASL(),
		writers:     make([]onceWriter, maxWriteDepth),
	}
	l.spaceLeft = l.fullCapacityBytes()
	return l, nil
}

func (l *OnceLog) fullCapacityBytes() uint64 {
	return (l.maxZoneHead - l.minZoneHead) * uint64(l.writeCh.BlockSize())
}

// WriteHead returns the current logical write pointer.
func (l *OnceLog) WriteHead() uint64 {
	return l.writeHead
}

// SpaceLeft returns the remaining unwritten bytes in the log's window.
func (l *OnceLog) SpaceLeft() uint64 {
	return l.spaceLeft
}

// Append synchronously appends data at write_head, advancing it.
func (l *OnceLog) Append(data []byte, aligned bool) (uint64, error) {
	alignedSize := uint64(l.writeCh.AlignSize(len(data)))
	if l.spaceLeft < alignedSize {
		return 0, szd.NewError("OnceLog.Append", szd.CodeIOError, "space_left exhausted")
	}

	oldHead := l.writeHead
	blocks, err := l.writeCh.DirectAppend(&l.writeHead, data, uint32(len(data)), aligned)
	if err != nil {
		return 0, err
	}
	written := (l.writeHead - oldHead) * uint64(l.writeCh.BlockSize())
	l.spaceLeft -= written
	return uint64(blocks), nil
}

// AppendBuffer is Append against a caller-owned szd.Buffer, skipping the
// internal copy DirectAppend does.
func (l *OnceLog) AppendBuffer(buf *szd.Buffer, aligned bool) (uint64, error) {
	alignedSize := uint64(l.writeCh.AlignSize(buf.Len()))
	if l.spaceLeft < alignedSize {
		return 0, szd.NewError("OnceLog.AppendBuffer", szd.CodeIOError, "space_left exhausted")
	}

	oldHead := l.writeHead
	blocks, err := l.writeCh.FlushBuffer(&l.writeHead, buf, aligned)
	if err != nil {
		return 0, err
	}
	written := (l.writeHead - oldHead) * uint64(l.writeCh.BlockSize())
	l.spaceLeft -= written
	return uint64(blocks), nil
}

// crossesZoneBoundary reports whether an aligned append of size bytes
// starting at write_head would run past the current zone's capacity.
func (l *OnceLog) crossesZoneBoundary(size uint64) bool {
	zcap := l.writeCh.ZoneCapBlocks()
	offset := (l.writeHead - l.minZoneHead) % zcap
	blocks := size / uint64(l.writeCh.BlockSize())
	return offset+blocks > zcap
}

// findFreeWriter spins until a writer slot is idle or its in-flight
// append has completed.
func (l *OnceLog) findFreeWriter() int {
	for {
		for i := range l.writers {
			w := &l.writers[i]
			if w.inFlight == nil {
				return i
			}
			if done, _ := w.inFlight.PollOnce(); done {
				w.inFlight = nil
				return i
			}
		}
		runtime.Gosched()
	}
}

// AsyncAppend enqueues data for append without waiting for completion.
// Oversized or zone-crossing appends first drain the writer then fall
// back to a synchronous Append, since the async path only submits a
// single chunk. The caller must eventually call Sync to guarantee
// durability.
func (l *OnceLog) AsyncAppend(data []byte) error {
	size := uint64(len(data))
	blockSize := uint64(l.writeCh.BlockSize())
	if size%blockSize != 0 {
		return szd.NewError("OnceLog.AsyncAppend", szd.CodeInvalidArguments, "async append requires block-aligned size")
	}

	if size > l.zasl || l.crossesZoneBoundary(size) {
		if err := l.Sync(); err != nil {
			return err
		}
		_, err := l.Append(data, true)
		return err
	}

	if l.spaceLeft < size {
		return szd.NewError("OnceLog.AsyncAppend", szd.CodeIOError, "space_left exhausted")
	}

	idx := l.findFreeWriter()
	blocks := uint32(size / blockSize)
	aa, err := l.writeCh.AppendAsync(l.writeHead, data, blocks)
	if err != nil {
		return err
	}
	l.writers[idx] = onceWriter{inFlight: aa, blocks: uint64(blocks)}
	l.writeHead += uint64(blocks)
	l.spaceLeft -= size
	return nil
}

// Sync drains every in-flight async writer, guaranteeing durability of
// appends issued through AsyncAppend.
func (l *OnceLog) Sync() error {
	for i := range l.writers {
		w := &l.writers[i]
		if w.inFlight == nil {
			continue
		}
		if err := w.inFlight.Wait(); err != nil {
			return err
		}
		w.inFlight = nil
	}
	return nil
}

// Read reads [lba, lba+blocks) into dst; the range must lie within
// [min_zone_head, write_head).
func (l *OnceLog) Read(lba uint64, dst []byte, size uint32, aligned bool) error {
	blocks := uint64(l.readCh.AlignSize(int(size))) / uint64(l.readCh.BlockSize())
	if lba < l.minZoneHead || lba+blocks > l.writeHead {
		return szd.NewError("OnceLog.Read", szd.CodeInvalidArguments, "read range outside [min_zone_head, write_head)")
	}
	_, err := l.readCh.DirectRead(lba, dst, size, aligned)
	return err
}

// ReadIntoBuffer is Read against a caller-owned szd.Buffer.
func (l *OnceLog) ReadIntoBuffer(lba uint64, buf *szd.Buffer, size uint32, aligned bool) error {
	blocks := uint64(l.readCh.AlignSize(int(size))) / uint64(l.readCh.BlockSize())
	if lba < l.minZoneHead || lba+blocks > l.writeHead {
		return szd.NewError("OnceLog.ReadIntoBuffer", szd.CodeInvalidArguments, "read range outside [min_zone_head, write_head)")
	}
	_, err := l.readCh.ReadIntoBuffer(lba, buf, size, aligned)
	return err
}

// ReadAll returns a fresh copy of every byte written so far.
func (l *OnceLog) ReadAll() ([]byte, error) {
	nblocks := l.writeHead - l.minZoneHead
	size := nblocks * uint64(l.readCh.BlockSize())
	out := make([]byte, size)
	if size == 0 {
		return out, nil
	}
	if _, err := l.readCh.DirectRead(l.minZoneHead, out, uint32(size), true); err != nil {
		return nil, err
	}
	return out, nil
}

// ResetAll resets every zone touched so far (up to write_head) and
// rewinds write_head/space_left to empty.
func (l *OnceLog) ResetAll() error {
	zcap := l.writeCh.ZoneCapBlocks()
	for zoneStart := l.minZoneHead; zoneStart < l.writeHead; zoneStart += zcap {
		if err := l.resetCh.ResetZone(zoneStart); err != nil {
			return err
		}
	}
	l.writeHead = l.minZoneHead
	l.spaceLeft = l.fullCapacityBytes()
	return nil
}

// ResetAllForce resets every zone in the log's window regardless of
// write_head.
func (l *OnceLog) ResetAllForce() error {
	if err := l.resetCh.ResetAllZones(); err != nil {
		return err
	}
	l.writeHead = l.minZoneHead
	l.spaceLeft = l.fullCapacityBytes()
	return nil
}

// MarkInactive finishes the current zone if write_head isn't already at
// a zone boundary, advancing write_head to the next zone's start and
// charging the wasted tail against space_left.
func (l *OnceLog) MarkInactive() error {
	zcap := l.writeCh.ZoneCapBlocks()
	offset := (l.writeHead - l.minZoneHead) % zcap
	if offset == 0 {
		return nil
	}
	zoneStart := l.writeHead - offset
	if err := l.writeCh.FinishZone(zoneStart); err != nil {
		return err
	}
	wasted := zcap - offset
	l.writeHead = zoneStart + zcap
	l.spaceLeft -= wasted * uint64(l.writeCh.BlockSize())
	return nil
}

// RecoverPointers scans zone heads across the log's window to
// reconstruct write_head after a restart: the last zone with a
// non-empty head defines write_head; the scan stops the first time it
// finds an empty zone following a non-empty one.
func (l *OnceLog) RecoverPointers() error {
	zcap := l.writeCh.ZoneCapBlocks()
	writeHead := l.minZoneHead

	for zoneStart := l.minZoneHead; zoneStart < l.maxZoneHead; zoneStart += zcap {
		wp, err := l.readCh.ZoneHead(zoneStart)
		if err != nil {
			return err
		}
		if wp == zoneStart {
			break
		}
		writeHead = wp
		if wp < zoneStart+zcap {
			break
		}
	}

	l.writeHead = writeHead
	written := (l.writeHead - l.minZoneHead) * uint64(l.writeCh.BlockSize())
	l.spaceLeft = l.fullCapacityBytes() - written
	return nil
}

// Close drains outstanding writers and, if the log owns its channels,
// retires them through its factory.
func (l *OnceLog) Close() error {
	if err := l.Sync(); err != nil {
		return err
	}
	if !l.owned || l.factory == nil {
		return nil
	}
	if err := l.factory.UnregisterChannel(l.writeCh); err != nil {
		return err
	}
	if l.readCh != l.writeCh {
		if err := l.factory.UnregisterChannel(l.readCh); err != nil {
			return err
		}
	}
	return nil
}

var _ Log = (*OnceLog)(nil)
