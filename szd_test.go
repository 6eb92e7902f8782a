package szd

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/szd-go/zns/backend"
	"github.com/szd-go/zns/internal/admin"
	"github.com/szd-go/zns/internal/interfaces"
)

func deviceTestInfo() interfaces.DeviceInfo {
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

func TestOpenRejectsOverlongTransportAddress(t *testing.T) {
	m := backend.NewMemory(deviceTestInfo())
	addr := make([]byte, 300)
	_, err := Open(m, string(addr), OpenOptions{})
	require.Error(t, err)
}

func TestOpenReturnsDeviceWithFactory(t *testing.T) {
	m := backend.NewMemory(deviceTestInfo())
	d, err := Open(m, "mem0", OpenOptions{})
	require.NoError(t, err)
	require.NotNil(t, d.Factory())
	require.Equal(t, "mem0", d.TransportAddress())
	require.Equal(t, deviceTestInfo(), d.GetDeviceInfo())
}

func TestDeviceCloseTearsDownBackend(t *testing.T) {
	m := backend.NewMemory(deviceTestInfo())
	d, err := Open(m, "mem0", OpenOptions{})
	require.NoError(t, err)
	require.NoError(t, d.Close())
}

func TestDeviceFactoryMintsWorkingChannel(t *testing.T) {
	m := backend.NewMemory(deviceTestInfo())
	d, err := Open(m, "mem0", OpenOptions{})
	require.NoError(t, err)
	defer d.Close()

	ch, err := d.Factory().RegisterChannel(0, 0, false, 0)
	require.NoError(t, err)

	payload := make([]byte, 512)
	copy(payload, []byte("device round trip"))
	var head uint64
	_, err = ch.DirectAppend(&head, payload, uint32(len(payload)), true)
	require.NoError(t, err)
	require.Equal(t, uint64(1), head)
}

func TestProbeRegistersDiscoveredDevices(t *testing.T) {
	m := backend.NewMemory(deviceTestInfo())
	results, err := Probe(m)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	_, ok := admin.LookupFoundDevice(results[0].TransportAddress)
	require.True(t, ok)
}
