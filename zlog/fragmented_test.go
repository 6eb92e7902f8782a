package zlog

import (
	"testing"

	"github.com/stretchr/testify/require"

	zns "github.com/szd-go/zns"
	"github.com/szd-go/zns/backend"
	"github.com/szd-go/zns/internal/interfaces"
)

// fragmentedTestInfo builds an 8-zone device, 4 blocks/zone, to exercise
// FragmentedLog's multi-zone allocation and free-list interplay.
func fragmentedTestInfo() interfaces.DeviceInfo {
	return interfaces.DeviceInfo{
		BlockSize:   512,
		ZoneSize:    4,
		ZoneCap:     4,
		MDTS:        1 << 20,
		ZASL:        256 << 10,
		TotalBlocks: 8 * 4,
		MinLBA:      0,
		MaxLBA:      8 * 4,
	}
}

func newTestFragmentedLog(t *testing.T) (*zns.ChannelFactory, *FragmentedLog) {
	t.Helper()
	info := fragmentedTestInfo()
	m := backend.NewMemory(info)
	require.NoError(t, m.Init(interfaces.InitOptions{}))
	_, err := m.Open("mem0", interfaces.OpenOptions{})
	require.NoError(t, err)

	factory := zns.NewChannelFactory(m, "mem0", info, 0)
	writeCh, err := factory.RegisterChannel(0, 0, false, 0)
	require.NoError(t, err)
	readCh, err := factory.RegisterChannel(0, 0, false, 0)
	require.NoError(t, err)
	resetCh, err := factory.RegisterChannel(0, 0, false, 0)
	require.NoError(t, err)

	l, err := NewFragmentedLog(factory, writeCh, readCh, resetCh, 0, 8, true)
	require.NoError(t, err)
	return factory, l
}

func TestFragmentedLogStartsWithAllZonesFree(t *testing.T) {
	_, l := newTestFragmentedLog(t)
	require.Equal(t, uint64(8), l.ZonesLeft())
	require.Equal(t, uint64(8*4*512), l.SpaceLeft())
}

func TestFragmentedLogAppendClaimsWholeZones(t *testing.T) {
	_, l := newTestFragmentedLog(t)

	// 2 zones' worth of data (2 * 4 * 512 = 4096 bytes) claims exactly 2
	// zones.
	data := make([]byte, 2*4*512)
	for i := range data {
		data[i] = byte(i)
	}
	regions, err := l.Append(data, true)
	require.NoError(t, err)
	require.Len(t, regions, 1)
	require.Equal(t, uint64(2), regions[0].ZoneCount)
	require.Equal(t, uint64(6), l.ZonesLeft())

	out := make([]byte, len(data))
	require.NoError(t, l.Read(regions, out, uint32(len(data)), true))
	require.Equal(t, data, out)
}

func TestFragmentedLogAppendRoundsPartialZoneUp(t *testing.T) {
	_, l := newTestFragmentedLog(t)

	// A write smaller than one zone still claims one whole zone.
	data := make([]byte, 512)
	copy(data, []byte("small write"))
	regions, err := l.Append(data, true)
	require.NoError(t, err)
	require.Len(t, regions, 1)
	require.Equal(t, uint64(1), regions[0].ZoneCount)
	require.Equal(t, uint64(7), l.ZonesLeft())

	out := make([]byte, 512)
	require.NoError(t, l.Read(regions, out, 512, true))
	require.Equal(t, data, out)
}

func TestFragmentedLogAppendFailsWhenInsufficientZones(t *testing.T) {
	_, l := newTestFragmentedLog(t)

	data := make([]byte, 9*4*512) // 9 zones, only 8 available
	_, err := l.Append(data, true)
	require.Error(t, err)
	require.Equal(t, uint64(8), l.ZonesLeft())
}

func TestFragmentedLogResetFreesRegionsBackToFreeList(t *testing.T) {
	_, l := newTestFragmentedLog(t)

	data := make([]byte, 3*4*512)
	regions, err := l.Append(data, true)
	require.NoError(t, err)
	require.Equal(t, uint64(5), l.ZonesLeft())

	require.NoError(t, l.Reset(regions))
	require.Equal(t, uint64(8), l.ZonesLeft())

	// The freed zones can be reallocated.
	more, err := l.Append(data, true)
	require.NoError(t, err)
	require.Equal(t, uint64(3), more[0].ZoneCount)
}

func TestFragmentedLogResetAllReinitializesFreeList(t *testing.T) {
	_, l := newTestFragmentedLog(t)

	data := make([]byte, 5*4*512)
	_, err := l.Append(data, true)
	require.NoError(t, err)
	require.Equal(t, uint64(3), l.ZonesLeft())

	require.NoError(t, l.ResetAll())
	require.Equal(t, uint64(8), l.ZonesLeft())
}

func TestFragmentedLogAppendSpansDisjointFreeExtents(t *testing.T) {
	_, l := newTestFragmentedLog(t)

	first, err := l.Append(make([]byte, 2*4*512), true) // zones [0,2)
	require.NoError(t, err)
	_, err = l.Append(make([]byte, 2*4*512), true) // zones [2,4)
	require.NoError(t, err)

	require.NoError(t, l.Reset(first)) // frees [0,2), leaves [2,4) used, [4,8) free

	// Request 6 zones: must be satisfied from the disjoint free extents
	// [0,2) and [4,8).
	data := make([]byte, 6*4*512)
	for i := range data {
		data[i] = byte(i % 251)
	}
	regions, err := l.Append(data, true)
	require.NoError(t, err)
	require.Len(t, regions, 2)
	require.Equal(t, uint64(0), l.ZonesLeft())

	out := make([]byte, len(data))
	require.NoError(t, l.Read(regions, out, uint32(len(data)), true))
	require.Equal(t, data, out)
}

func TestFragmentedLogEncodeDecodeFreeListRoundTrip(t *testing.T) {
	_, l := newTestFragmentedLog(t)

	_, err := l.Append(make([]byte, 3*4*512), true)
	require.NoError(t, err)

	encoded := l.EncodeFreeList()

	_, l2 := newTestFragmentedLog(t)
	require.NoError(t, l2.LoadFreeList(encoded))
	require.Equal(t, l.ZonesLeft(), l2.ZonesLeft())
}

func TestFragmentedLogAppendBufferRoundTrip(t *testing.T) {
	_, l := newTestFragmentedLog(t)

	payload := make([]byte, 2*4*512)
	copy(payload, []byte("buffered fragmented write"))
	buf, err := zns.NewBuffer(512, len(payload))
	require.NoError(t, err)
	defer buf.Free()
	require.NoError(t, buf.WriteAt(payload, 0, uint32(len(payload))))

	regions, err := l.AppendBuffer(buf, true)
	require.NoError(t, err)
	require.Equal(t, uint64(2), regions[0].ZoneCount)

	out := make([]byte, len(payload))
	require.NoError(t, l.Read(regions, out, uint32(len(payload)), true))
	require.Equal(t, payload, out)
}
