package backend

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/szd-go/zns/internal/interfaces"
	"github.com/szd-go/zns/internal/profile"
)

func testInfo() interfaces.DeviceInfo {
	return interfaces.DeviceInfo{
		BlockSize:   4096,
		ZoneSize:    64,
		ZoneCap:     64,
		MDTS:        1 << 20,
		ZASL:        256 << 10,
		TotalBlocks: 64 * 8,
		MinLBA:      0,
		MaxLBA:      64 * 8,
	}
}

func TestMemoryOpenReportsGeometry(t *testing.T) {
	info := testInfo()
	m := NewMemory(info)
	require.NoError(t, m.Init(interfaces.InitOptions{}))

	got, err := m.Open("mem0", interfaces.OpenOptions{})
	require.NoError(t, err)
	require.Equal(t, info, *got)
}

func TestMemoryAppendRequiresWritePointer(t *testing.T) {
	m := NewMemory(testInfo())
	q, err := m.CreateQPair()
	require.NoError(t, err)

	data := make([]byte, 4096)
	copy(data, []byte("hello"))

	require.NoError(t, m.Append(q, 0, data, 1))

	// Appending again at slba 0 is no longer at the write pointer.
	err = m.Append(q, 0, data, 1)
	require.Error(t, err)
	var be *interfaces.BackendError
	require.ErrorAs(t, err, &be)
	require.Equal(t, interfaces.CodeAppendFailed, be.Code)

	// Appending at the zone's current wp (1) succeeds.
	require.NoError(t, m.Append(q, 1, data, 1))

	wp, err := m.GetZoneHead(q, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(2), wp)
}

func TestMemoryAppendExceedingCapacityFails(t *testing.T) {
	m := NewMemory(testInfo())
	q, _ := m.CreateQPair()

	data := make([]byte, 4096*65)
	err := m.Append(q, 0, data, 65)
	require.Error(t, err)
}

func TestMemoryResetZoneRewindsWritePointer(t *testing.T) {
	m := NewMemory(testInfo())
	q, _ := m.CreateQPair()

	data := make([]byte, 4096)
	require.NoError(t, m.Append(q, 0, data, 1))

	require.NoError(t, m.ResetZone(q, 0))
	wp, err := m.GetZoneHead(q, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(0), wp)

	// After reset, appending at slba 0 succeeds again.
	require.NoError(t, m.Append(q, 0, data, 1))
}

func TestMemoryFinishZoneClampsWritePointer(t *testing.T) {
	m := NewMemory(testInfo())
	q, _ := m.CreateQPair()

	require.NoError(t, m.FinishZone(q, 0))
	wp, err := m.GetZoneHead(q, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(64), wp) // slba + ZoneSize
}

func TestMemoryResetAll(t *testing.T) {
	m := NewMemory(testInfo())
	q, _ := m.CreateQPair()

	data := make([]byte, 4096)
	require.NoError(t, m.Append(q, 0, data, 1))
	require.NoError(t, m.Append(q, 64, data, 1))

	require.NoError(t, m.ResetAll(q))

	wp0, _ := m.GetZoneHead(q, 0)
	wp1, _ := m.GetZoneHead(q, 64)
	require.Equal(t, uint64(0), wp0)
	require.Equal(t, uint64(64), wp1)
}

func TestMemoryReadWriteRoundTrip(t *testing.T) {
	m := NewMemory(testInfo())
	q, _ := m.CreateQPair()

	payload := []byte("round trip payload padded to one block..........")
	buf := make([]byte, 4096)
	copy(buf, payload)

	require.NoError(t, m.Append(q, 0, buf, 1))

	out := make([]byte, 4096)
	require.NoError(t, m.Read(q, 0, out, 1))
	require.Equal(t, buf, out)
}

func TestMemoryAppendAsyncCompletesImmediately(t *testing.T) {
	m := NewMemory(testInfo())
	q, _ := m.CreateQPair()

	buf := make([]byte, 4096)
	comp, err := m.AppendAsync(q, 0, buf, 1)
	require.NoError(t, err)
	require.True(t, comp.Done)

	done, err := m.PollOnce(q, comp)
	require.NoError(t, err)
	require.True(t, done)

	require.NoError(t, m.PollAsync(q, comp))
}

func TestMemoryGetZoneHeads(t *testing.T) {
	m := NewMemory(testInfo())
	q, _ := m.CreateQPair()

	buf := make([]byte, 4096)
	require.NoError(t, m.Append(q, 0, buf, 1))
	require.NoError(t, m.Append(q, 64, buf, 1))

	heads, err := m.GetZoneHeads(q, 0, 128)
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 65}, heads)
}

func TestNewMemoryFromProfileMatchesTransportAddress(t *testing.T) {
	m, err := NewMemoryFromProfile(profile.Default(), "mem0", 0, 0)
	require.NoError(t, err)
	require.NoError(t, m.Init(interfaces.InitOptions{}))

	got, err := m.Open("mem0", interfaces.OpenOptions{})
	require.NoError(t, err)
	require.Equal(t, uint32(512), got.BlockSize)
	require.Equal(t, uint64(4096), got.ZoneSize)
}

func TestNewMemoryFromProfileRejectsUnknownTransport(t *testing.T) {
	_, err := NewMemoryFromProfile(profile.Default(), "/dev/nope", 0, 0)
	require.Error(t, err)
}

var _ interfaces.Backend = (*Memory)(nil)
