package szd

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/szd-go/zns/backend"
	"github.com/szd-go/zns/internal/interfaces"
)

func channelTestInfo() interfaces.DeviceInfo {
	return interfaces.DeviceInfo{
		BlockSize:   512,
		ZoneSize:    4,
		ZoneCap:     4,
		MDTS:        1 << 20,
		ZASL:        256 << 10,
		TotalBlocks: 4 * 4,
		MinLBA:      0,
		MaxLBA:      4 * 4,
	}
}

func newTestChannel(t *testing.T) (*backend.Memory, *Channel) {
	t.Helper()
	info := channelTestInfo()
	m := backend.NewMemory(info)
	require.NoError(t, m.Init(interfaces.InitOptions{}))
	_, err := m.Open("mem0", interfaces.OpenOptions{})
	require.NoError(t, err)
	q, err := m.CreateQPair()
	require.NoError(t, err)
	ch, err := NewChannel(m, q, info, 0, 4, "mem0")
	require.NoError(t, err)
	return m, ch
}

func TestNewChannelRejectsIncompleteDeviceInfo(t *testing.T) {
	m := backend.NewMemory(interfaces.DeviceInfo{})
	q, _ := m.CreateQPair()
	_, err := NewChannel(m, q, interfaces.DeviceInfo{}, 0, 1, "mem0")
	require.Error(t, err)
}

func TestNewChannelRejectsInvertedWindow(t *testing.T) {
	info := channelTestInfo()
	m := backend.NewMemory(info)
	q, _ := m.CreateQPair()
	_, err := NewChannel(m, q, info, 2, 1, "mem0")
	require.Error(t, err)
}

func TestNewChannelRejectsWindowOutsideDevice(t *testing.T) {
	info := channelTestInfo()
	m := backend.NewMemory(info)
	q, _ := m.CreateQPair()
	_, err := NewChannel(m, q, info, 0, 100, "mem0")
	require.Error(t, err)
}

func TestChannelGeometryAccessors(t *testing.T) {
	_, ch := newTestChannel(t)
	require.Equal(t, uint32(512), ch.BlockSize())
	require.Equal(t, uint64(4), ch.ZoneCount())
	require.Equal(t, uint64(16), ch.LogicalCapacity())
	require.Equal(t, 1024, ch.AlignSize(1000))
}

func TestChannelDirectAppendAndReadRoundTrip(t *testing.T) {
	_, ch := newTestChannel(t)
	payload := make([]byte, 512)
	copy(payload, []byte("direct append"))

	var lba uint64
	blocks, err := ch.DirectAppend(&lba, payload, uint32(len(payload)), true)
	require.NoError(t, err)
	require.Equal(t, uint32(1), blocks)
	require.Equal(t, uint64(1), lba)

	out := make([]byte, 512)
	_, err = ch.DirectRead(0, out, 512, true)
	require.NoError(t, err)
	require.Equal(t, payload, out)
}

func TestChannelDirectAppendUnalignedTail(t *testing.T) {
	_, ch := newTestChannel(t)
	payload := make([]byte, 600) // one whole block plus an 88-byte tail
	for i := range payload {
		payload[i] = byte(i)
	}

	var lba uint64
	blocks, err := ch.DirectAppend(&lba, payload, uint32(len(payload)), false)
	require.NoError(t, err)
	require.Equal(t, uint32(2), blocks) // whole block + zero-padded tail block

	out := make([]byte, 600)
	_, err = ch.DirectRead(0, out, 600, false)
	require.NoError(t, err)
	require.Equal(t, payload, out)
}

func TestChannelDirectAppendAcrossZoneBoundary(t *testing.T) {
	_, ch := newTestChannel(t)
	payload := make([]byte, 5*512) // crosses the first zone's 4-block capacity
	for i := range payload {
		payload[i] = byte(i)
	}

	var lba uint64
	blocks, err := ch.DirectAppend(&lba, payload, uint32(len(payload)), true)
	require.NoError(t, err)
	require.Equal(t, uint32(5), blocks)
	require.Equal(t, uint64(5), lba) // dense logical space spans zones seamlessly
}

func TestChannelDirectAppendRejectsUnalignedWhenAlignedRequested(t *testing.T) {
	_, ch := newTestChannel(t)
	var lba uint64
	_, err := ch.DirectAppend(&lba, make([]byte, 600), 600, true)
	require.Error(t, err)
}

func TestChannelResetZoneRequiresZoneStart(t *testing.T) {
	_, ch := newTestChannel(t)
	err := ch.ResetZone(1)
	require.Error(t, err)
}

func TestChannelResetZoneRewindsWritePointer(t *testing.T) {
	_, ch := newTestChannel(t)
	var lba uint64
	_, err := ch.DirectAppend(&lba, make([]byte, 512), 512, true)
	require.NoError(t, err)

	require.NoError(t, ch.ResetZone(0))
	head, err := ch.ZoneHead(0)
	require.NoError(t, err)
	require.Equal(t, uint64(0), head)
}

func TestChannelResetAllZonesUsesFastPathOnFullDevice(t *testing.T) {
	_, ch := newTestChannel(t)
	var lba uint64
	_, err := ch.DirectAppend(&lba, make([]byte, 512), 512, true)
	require.NoError(t, err)

	require.NoError(t, ch.ResetAllZones())
	head, err := ch.ZoneHead(0)
	require.NoError(t, err)
	require.Equal(t, uint64(0), head)
}

func TestChannelFinishZoneLeavesCacheForNextAppendToReject(t *testing.T) {
	_, ch := newTestChannel(t)
	require.NoError(t, ch.FinishZone(0))

	var lba uint64
	_, err := ch.DirectAppend(&lba, make([]byte, 512), 512, true)
	require.Error(t, err)
}

func TestChannelFlushBufferAppendsFromOwnedBuffer(t *testing.T) {
	_, ch := newTestChannel(t)
	buf, err := NewBuffer(512, 512)
	require.NoError(t, err)
	require.NoError(t, buf.WriteAt([]byte("flush me"), 0, 8))

	var lba uint64
	blocks, err := ch.FlushBuffer(&lba, buf, true)
	require.NoError(t, err)
	require.Equal(t, uint32(1), blocks)

	out := make([]byte, 512)
	_, err = ch.DirectRead(0, out, 512, true)
	require.NoError(t, err)
	require.Equal(t, buf.Raw(), out)
}

func TestChannelReadIntoBufferGrowsUndersizedBuffer(t *testing.T) {
	_, ch := newTestChannel(t)
	var lba uint64
	_, err := ch.DirectAppend(&lba, make([]byte, 512), 512, true)
	require.NoError(t, err)

	buf, err := NewBuffer(512, 0)
	require.NoError(t, err)
	_, err = ch.ReadIntoBuffer(0, buf, 512, true)
	require.NoError(t, err)
	require.Equal(t, 512, buf.Len())
}

func TestChannelAppendAsyncAdvancesCacheOnWait(t *testing.T) {
	_, ch := newTestChannel(t)
	buf := make([]byte, 512)

	aa, err := ch.AppendAsync(0, buf, 1)
	require.NoError(t, err)
	require.NoError(t, aa.Wait())
	require.True(t, aa.Done())

	head, err := ch.ZoneHead(0)
	require.NoError(t, err)
	require.Equal(t, uint64(1), head)
}

func TestChannelAppendAsyncRejectsZoneOutsideWindow(t *testing.T) {
	_, ch := newTestChannel(t)
	_, err := ch.AppendAsync(100, make([]byte, 512), 1)
	require.Error(t, err)
}

func TestChannelStatsRecordedOnAppend(t *testing.T) {
	_, ch := newTestChannel(t)
	var lba uint64
	_, err := ch.DirectAppend(&lba, make([]byte, 512), 512, true)
	require.NoError(t, err)

	snap := ch.Stats().Snapshot()
	require.Equal(t, uint64(1), snap.AppendOps)
}
