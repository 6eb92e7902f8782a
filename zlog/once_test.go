package zlog

import (
	"testing"

	"github.com/stretchr/testify/require"

	zns "github.com/szd-go/zns"
	"github.com/szd-go/zns/backend"
	"github.com/szd-go/zns/internal/interfaces"
)

// onceTestInfo builds a 4-zone device, 4 blocks/zone, small enough to
// exercise zone-boundary crossing and multi-zone ResetAll cheaply.
func onceTestInfo() interfaces.DeviceInfo {
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

func newTestOnceLog(t *testing.T) (*zns.ChannelFactory, *OnceLog) {
	t.Helper()
	info := onceTestInfo()
	m := backend.NewMemory(info)
	require.NoError(t, m.Init(interfaces.InitOptions{}))
	_, err := m.Open("mem0", interfaces.OpenOptions{})
	require.NoError(t, err)

	factory := zns.NewChannelFactory(m, "mem0", info, 0)
	writeCh, err := factory.RegisterChannel(0, 0, false, 0)
	require.NoError(t, err)
	readCh, err := factory.RegisterChannel(0, 0, false, 0)
	require.NoError(t, err)

	l, err := NewOnceLog(factory, writeCh, readCh, 0, true)
	require.NoError(t, err)
	return factory, l
}

func TestOnceLogAppendReadRoundTrip(t *testing.T) {
	_, l := newTestOnceLog(t)

	payload := make([]byte, 512)
	copy(payload, []byte("once payload"))

	blocks, err := l.Append(payload, true)
	require.NoError(t, err)
	require.Equal(t, uint64(1), blocks)
	require.Equal(t, uint64(1), l.WriteHead())

	out := make([]byte, 512)
	require.NoError(t, l.Read(0, out, 512, true))
	require.Equal(t, payload, out)
}

func TestOnceLogSpaceLeftShrinksOnAppend(t *testing.T) {
	_, l := newTestOnceLog(t)
	full := l.SpaceLeft()

	payload := make([]byte, 1024)
	_, err := l.Append(payload, true)
	require.NoError(t, err)
	require.Equal(t, full-1024, l.SpaceLeft())
}

func TestOnceLogAppendRejectsWhenSpaceExhausted(t *testing.T) {
	_, l := newTestOnceLog(t)
	payload := make([]byte, l.SpaceLeft())
	_, err := l.Append(payload, true)
	require.NoError(t, err)

	_, err = l.Append(make([]byte, 512), true)
	require.Error(t, err)
}

func TestOnceLogReadRejectsRangeAtOrAfterWriteHead(t *testing.T) {
	_, l := newTestOnceLog(t)
	payload := make([]byte, 512)
	_, err := l.Append(payload, true)
	require.NoError(t, err)

	out := make([]byte, 512)
	err = l.Read(1, out, 512, true)
	require.Error(t, err)
}

func TestOnceLogReadAllReturnsEverythingWritten(t *testing.T) {
	_, l := newTestOnceLog(t)
	payload := make([]byte, 2*512)
	for i := range payload {
		payload[i] = byte(i)
	}
	_, err := l.Append(payload, true)
	require.NoError(t, err)

	all, err := l.ReadAll()
	require.NoError(t, err)
	require.Equal(t, payload, all)
}

func TestOnceLogResetAllRewindsWriteHead(t *testing.T) {
	_, l := newTestOnceLog(t)
	payload := make([]byte, 2*512)
	_, err := l.Append(payload, true)
	require.NoError(t, err)

	require.NoError(t, l.ResetAll())
	require.Equal(t, uint64(0), l.WriteHead())
	require.Equal(t, l.fullCapacityBytes(), l.SpaceLeft())

	// After reset, appending from the start succeeds again.
	_, err = l.Append(payload, true)
	require.NoError(t, err)
}

func TestOnceLogResetAllForceResetsUntouchedZonesToo(t *testing.T) {
	_, l := newTestOnceLog(t)
	payload := make([]byte, 512)
	_, err := l.Append(payload, true)
	require.NoError(t, err)

	require.NoError(t, l.ResetAllForce())
	require.Equal(t, uint64(0), l.WriteHead())
	require.Equal(t, l.fullCapacityBytes(), l.SpaceLeft())
}

func TestOnceLogMarkInactiveSkipsToNextZone(t *testing.T) {
	_, l := newTestOnceLog(t)
	payload := make([]byte, 512)
	_, err := l.Append(payload, true)
	require.NoError(t, err)

	require.NoError(t, l.MarkInactive())
	// Zone capacity is 4 blocks; one block was written, three wasted.
	require.Equal(t, uint64(4), l.WriteHead())
	require.Equal(t, l.fullCapacityBytes()-4*512, l.SpaceLeft())
}

func TestOnceLogMarkInactiveNoopAtZoneBoundary(t *testing.T) {
	_, l := newTestOnceLog(t)
	require.NoError(t, l.MarkInactive())
	require.Equal(t, uint64(0), l.WriteHead())
	require.Equal(t, l.fullCapacityBytes(), l.SpaceLeft())
}

func TestOnceLogRecoverPointersFromEmptyLog(t *testing.T) {
	_, l := newTestOnceLog(t)
	require.NoError(t, l.RecoverPointers())
	require.Equal(t, uint64(0), l.WriteHead())
	require.Equal(t, l.fullCapacityBytes(), l.SpaceLeft())
}

func TestOnceLogRecoverPointersAfterWrites(t *testing.T) {
	factory, l := newTestOnceLog(t)
	payload := make([]byte, 3*512)
	_, err := l.Append(payload, true)
	require.NoError(t, err)

	recovered, err := NewOnceLog(factory, l.writeCh, l.readCh, 0, false)
	require.NoError(t, err)
	require.NoError(t, recovered.RecoverPointers())
	require.Equal(t, l.WriteHead(), recovered.WriteHead())
	require.Equal(t, l.SpaceLeft(), recovered.SpaceLeft())
}

func TestOnceLogRecoverPointersAfterFullZone(t *testing.T) {
	factory, l := newTestOnceLog(t)
	// Exactly fill the first zone (4 blocks) so its head lands at the
	// zone's capacity; recovery must keep scanning into the next zone.
	payload := make([]byte, 4*512)
	_, err := l.Append(payload, true)
	require.NoError(t, err)

	recovered, err := NewOnceLog(factory, l.writeCh, l.readCh, 0, false)
	require.NoError(t, err)
	require.NoError(t, recovered.RecoverPointers())
	require.Equal(t, uint64(4), recovered.WriteHead())
}

func TestOnceLogAsyncAppendThenSync(t *testing.T) {
	_, l := newTestOnceLog(t)
	payload := make([]byte, 512)
	copy(payload, []byte("async once payload"))

	require.NoError(t, l.AsyncAppend(payload))
	require.Equal(t, uint64(1), l.WriteHead())
	require.NoError(t, l.Sync())

	out := make([]byte, 512)
	require.NoError(t, l.Read(0, out, 512, true))
	require.Equal(t, payload, out)
}

func TestOnceLogAsyncAppendRejectsUnalignedSize(t *testing.T) {
	_, l := newTestOnceLog(t)
	err := l.AsyncAppend(make([]byte, 100))
	require.Error(t, err)
}

func TestOnceLogCloseUnregistersOwnedChannels(t *testing.T) {
	_, l := newTestOnceLog(t)
	require.NoError(t, l.Close())
}
