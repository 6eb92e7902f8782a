package uapi

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshalPassthruCmdRoundTrip(t *testing.T) {
	cmd := &PassthruCmd{
		Opcode:      NvmeCmdZoneAppend,
		Nsid:        1,
		Addr:        0xdeadbeef,
		DataLen:     4096,
		Cdw10:       0x1234,
		Cdw13:       ZoneSendReset,
		TimeoutMs:   5000,
	}

	buf := Marshal(cmd)
	require.Len(t, buf, 72)

	var got PassthruCmd
	require.NoError(t, Unmarshal(buf, &got))
	require.Equal(t, cmd.Opcode, got.Opcode)
	require.Equal(t, cmd.Nsid, got.Nsid)
	require.Equal(t, cmd.Addr, got.Addr)
	require.Equal(t, cmd.DataLen, got.DataLen)
	require.Equal(t, cmd.Cdw10, got.Cdw10)
	require.Equal(t, cmd.Cdw13, got.Cdw13)
	require.Equal(t, cmd.TimeoutMs, got.TimeoutMs)
}

func TestUnmarshalRecoversResultField(t *testing.T) {
	cmd := &PassthruCmd{Opcode: NvmeCmdRead}
	buf := Marshal(cmd)
	buf[68] = 0x2a // Result low byte

	var got PassthruCmd
	require.NoError(t, Unmarshal(buf, &got))
	require.Equal(t, uint32(0x2a), got.Result)
}

func TestUnmarshalRejectsShortBuffer(t *testing.T) {
	var got PassthruCmd
	err := Unmarshal(make([]byte, 10), &got)
	require.ErrorIs(t, err, ErrInsufficientData)
}

func TestDecodeZoneReportParsesHeaderAndDescriptors(t *testing.T) {
	data := make([]byte, 64+2*64)
	data[0] = 2 // NumZones = 2

	zoneOff := 64
	data[zoneOff] = 2      // ZoneType: sequential write required
	data[zoneOff+1] = 0x10 // ZoneState: empty, high nibble
	putU64(data, zoneOff+8, 0x8000)
	putU64(data, zoneOff+16, 0x100)
	putU64(data, zoneOff+24, 0x7000)

	hdr, zones, err := DecodeZoneReport(data)
	require.NoError(t, err)
	require.Equal(t, uint64(2), hdr.NumZones)
	require.Len(t, zones, 2)
	require.Equal(t, uint8(2), zones[0].ZoneType)
	require.Equal(t, uint64(0x8000), zones[0].ZoneStartLBA)
	require.Equal(t, uint64(0x100), zones[0].WritePointer)
	require.Equal(t, uint64(0x7000), zones[0].ZoneCapacity)
}

func TestDecodeZoneReportClampsToAvailableData(t *testing.T) {
	data := make([]byte, 64+1*64)
	data[0] = 5 // NumZones claims 5 but only 1 descriptor fits

	_, zones, err := DecodeZoneReport(data)
	require.NoError(t, err)
	require.Len(t, zones, 1)
}

func TestDecodeZoneReportRejectsShortBuffer(t *testing.T) {
	_, _, err := DecodeZoneReport(make([]byte, 10))
	require.ErrorIs(t, err, ErrInsufficientData)
}

func TestDecodeIdentNamespaceParsesSizeFields(t *testing.T) {
	data := make([]byte, 128)
	putU64(data, 0, 0x1000)
	putU64(data, 8, 0x1000)
	putU64(data, 16, 0x500)

	ns, err := DecodeIdentNamespace(data)
	require.NoError(t, err)
	require.Equal(t, uint64(0x1000), ns.Nsze)
	require.Equal(t, uint64(0x1000), ns.Ncap)
	require.Equal(t, uint64(0x500), ns.Nuse)
}

func TestDecodeIdentNamespaceRejectsShortBuffer(t *testing.T) {
	_, err := DecodeIdentNamespace(make([]byte, 50))
	require.ErrorIs(t, err, ErrInsufficientData)
}

func TestIdentNamespaceBlockSizeComputesFromLBAF(t *testing.T) {
	ns := &IdentNamespace{Flbas: 0}
	ns.Lbaf[0] = LBAFormat{Lbads: 12} // 4096-byte blocks
	require.Equal(t, uint32(4096), ns.BlockSize())
}

func TestIdentNamespaceBlockSizeOutOfRangeReturnsZero(t *testing.T) {
	ns := &IdentNamespace{Flbas: 0x0f}
	require.Equal(t, uint32(0), ns.BlockSize())
}

func TestDecodeIdentControllerParsesMdtsAndStrings(t *testing.T) {
	data := make([]byte, 80)
	copy(data[4:24], []byte("SERIAL0001          "))
	copy(data[24:64], []byte("ZNS-TEST-MODEL                         "))
	data[77] = 6 // Mdts

	ic, err := DecodeIdentController(data)
	require.NoError(t, err)
	require.Equal(t, uint8(6), ic.Mdts)
	require.Contains(t, string(ic.SerialNumber[:]), "SERIAL0001")
}

func TestDecodeIdentControllerRejectsShortBuffer(t *testing.T) {
	_, err := DecodeIdentController(make([]byte, 20))
	require.ErrorIs(t, err, ErrInsufficientData)
}

func TestDecodeIdentNamespaceZNSParsesResourceLimits(t *testing.T) {
	data := make([]byte, 2816+16*16)
	putU32(data, 4, 10) // Mar
	putU32(data, 8, 8)  // Mor

	base := 2816
	putU64(data, base, 0x8000) // Zsze for LBAFE[0]

	zns, err := DecodeIdentNamespaceZNS(data)
	require.NoError(t, err)
	require.Equal(t, uint32(10), zns.Mar)
	require.Equal(t, uint32(8), zns.Mor)
	require.Equal(t, uint64(0x8000), zns.Lbafe[0].Zsze)
}

func TestDecodeIdentNamespaceZNSRejectsShortBuffer(t *testing.T) {
	_, err := DecodeIdentNamespaceZNS(make([]byte, 8))
	require.ErrorIs(t, err, ErrInsufficientData)
}

func TestIoctlEncodeMatchesKnownRequestNumbers(t *testing.T) {
	require.NotEqual(t, uint32(0), NvmeIoctlAdminCmd)
	require.NotEqual(t, NvmeIoctlAdminCmd, NvmeIoctlIOCmd)
	// linux/nvme_ioctl.h: _IOWR('N', 0x41/0x43, struct nvme_passthru_cmd).
	require.Equal(t, uint32(0xC0484E41), NvmeIoctlAdminCmd)
	require.Equal(t, uint32(0xC0484E43), NvmeIoctlIOCmd)
}

func putU64(buf []byte, off int, v uint64) {
	for i := 0; i < 8; i++ {
		buf[off+i] = byte(v >> (8 * i))
	}
}

func putU32(buf []byte, off int, v uint32) {
	for i := 0; i < 4; i++ {
		buf[off+i] = byte(v >> (8 * i))
	}
}
