// Package uapi provides Linux NVMe passthrough-ioctl wire structures:
// the exact byte layouts the kernel's nvme char-device ioctls and the
// NVMe ZNS command set expect.
package uapi

import "unsafe"

// PassthruCmd mirrors struct nvme_passthru_cmd (or its _admin_cmd twin;
// the kernel reuses one 72-byte layout for both). Every NVMe command
// issued by internal/admin and backend/kernel is built as one of these
// and handed to NVME_IOCTL_ADMIN_CMD / NVME_IOCTL_IO_CMD.
type PassthruCmd struct {
	Opcode      uint8
	Flags       uint8
	Rsvd1       uint16
	Nsid        uint32
	Cdw2        uint32
	Cdw3        uint32
	Metadata    uint64
	Addr        uint64
	MetadataLen uint32
	DataLen     uint32
	Cdw10       uint32
	Cdw11       uint32
	Cdw12       uint32
	Cdw13       uint32
	Cdw14       uint32
	Cdw15       uint32
	TimeoutMs   uint32
	Result      uint32
}

// Compile-time size check: the kernel's nvme_passthru_cmd is 72 bytes.
var _ [72]byte = [unsafe.Sizeof(PassthruCmd{})]byte{}

// IdentController is the 4096-byte Identify Controller data structure,
// trimmed to the fields this module reads (MDTS in particular gates
// Channel's chunk size).
type IdentController struct {
	VendorID       uint16
	SSVendorID     uint16
	SerialNumber   [20]byte
	ModelNumber    [40]byte
	FirmwareRev    [8]byte
	Rab            uint8
	IEEE           [3]byte
	Cmic           uint8
	Mdts           uint8 // max data transfer size, as a power-of-2 multiple of MPSMIN pages
	Rsvd255        [255 - 78]byte
}

// Compile-time size check: Identify Controller data is 4096 bytes, but
// this trimmed struct only covers the leading fields this module reads;
// callers allocate a full 4096-byte buffer and only this prefix is typed.

// IdentNamespace is the Identify Namespace data structure, trimmed to
// the fields needed to compute the logical block size.
type IdentNamespace struct {
	Nsze    uint64 // namespace size, in logical blocks
	Ncap    uint64 // namespace capacity
	Nuse    uint64 // namespace utilization
	Nsfeat  uint8
	Nlbaf   uint8
	Flbas   uint8 // formatted LBA size (low nibble indexes LBAF)
	Mc      uint8
	Dpc     uint8
	Dps     uint8
	Rsvd    [2]byte
	Lbaf    [16]LBAFormat
}

// LBAFormat describes one LBA Format entry (ms = metadata size, lbads =
// LBA data size as log2(bytes)).
type LBAFormat struct {
	Ms    uint16
	Lbads uint8
	Rp    uint8
}

// BlockSize returns the logical block size in bytes for the LBA format
// selected by Flbas.
func (n *IdentNamespace) BlockSize() uint32 {
	idx := n.Flbas & 0x0f
	if int(idx) >= len(n.Lbaf) {
		return 0
	}
	return 1 << n.Lbaf[idx].Lbads
}

// IdentNamespaceZNS is the Zoned Namespace Command Set-specific Identify
// Namespace data structure (reached via CNS=0x05), carrying Zcap/Zsize.
type IdentNamespaceZNS struct {
	Zoc      uint16 // zone operation characteristics
	Ozcs     uint16 // optional zoned command support
	Mar      uint32 // max active resources
	Mor      uint32 // max open resources
	Rrl      uint32 // reset recommended limit
	Frl      uint32 // finish recommended limit
	Rsvd     [2796]byte
	Lbafe    [16]LBAFormatExtension
}

// LBAFormatExtension carries the zone size (in logical blocks) for the
// corresponding IdentNamespace.Lbaf entry.
type LBAFormatExtension struct {
	Zsze uint64 // zone size, in logical blocks
	Zdes uint8  // zone descriptor extension size
	Rsvd [7]byte
}

// ZoneDescriptor is one entry of a Report Zones data structure (NVMe
// ZNS 4.2.1): one physical zone's type/state/capacity/write-pointer.
type ZoneDescriptor struct {
	ZoneType    uint8  // zone type (sequential write required = 2)
	ZoneState   uint8  // high nibble: zone state (empty/full/open/closed/...)
	ZoneAttrs   uint8
	Rsvd3       uint8
	ZoneCapDeprecated uint32
	ZoneStartLBA uint64
	WritePointer uint64
	ZoneCapacity uint64
	Rsvd [32]byte
}

// Compile-time size check: one Report Zones descriptor is 64 bytes.
var _ [64]byte = [unsafe.Sizeof(ZoneDescriptor{})]byte{}

// ZoneReportHeader prefixes a Report Zones data buffer: NrZones
// descriptors follow immediately after these 64 bytes.
type ZoneReportHeader struct {
	NumZones uint64
	Rsvd     [56]byte
}

// Compile-time size check.
var _ [64]byte = [unsafe.Sizeof(ZoneReportHeader{})]byte{}

// Zone state values, from ZoneDescriptor.ZoneState's high nibble
// (NVMe ZNS 4.2.1 table).
const (
	ZoneStateEmpty        = 0x1
	ZoneStateImplicitOpen = 0x2
	ZoneStateExplicitOpen = 0x3
	ZoneStateClosed       = 0x4
	ZoneStateReadOnly     = 0xD
	ZoneStateFull         = 0xE
	ZoneStateOffline      = 0xF
)
