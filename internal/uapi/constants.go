package uapi

// NVMe Admin Command opcodes (NVMe Base spec 5.1).
const (
	NvmeAdminIdentify       = 0x06
	NvmeAdminGetLogPage     = 0x02
	NvmeAdminGetFeatures    = 0x0A
	NvmeAdminSetFeatures    = 0x09
)

// NVMe I/O Command opcodes, including the ZNS command set extensions
// (NVMe ZNS spec 4).
const (
	NvmeCmdWrite          = 0x01
	NvmeCmdRead           = 0x02
	NvmeCmdWriteZeroes    = 0x08
	NvmeCmdZoneMgmtSend   = 0x79
	NvmeCmdZoneMgmtRecv   = 0x7A
	NvmeCmdZoneAppend     = 0x7D
)

// Identify CNS (Controller or Namespace Structure) values.
const (
	NvmeCnsNamespace       = 0x00
	NvmeCnsController      = 0x01
	NvmeCnsNamespaceZNS    = 0x05 // I/O Command Set specific Identify Namespace
)

// Zone Management Send actions (NVMe ZNS 3.5.1), placed in Cdw13 bits 7:0.
const (
	ZoneSendClose    = 0x1
	ZoneSendFinish   = 0x2
	ZoneSendOpen     = 0x3
	ZoneSendReset    = 0x4
	ZoneSendOffline  = 0x5
)

// ZoneSendSelectAll, set in Cdw13 bit 8, applies a Zone Management Send
// action to every zone instead of the one named by the command's SLBA.
const ZoneSendSelectAll = 1 << 8

// Zone Management Receive Zone Receive Action (Cdw13 bits 7:0).
const (
	ZoneReceiveReportZones     = 0x0
	ZoneReceiveExtendedReport  = 0x1
)

// Zone Receive Reporting Options (Cdw13 bits 15:8), ZRO=0 reports every
// zone regardless of state.
const ZoneReportAll = 0x0

// ioctl direction/size encoding, the same bit layout Linux's _IOC macros
// use (kept general since both the nvme admin-cmd ioctl and any future
// device ioctl need it).
const (
	iocWrite     = 1
	iocRead      = 2
	iocSizeBits  = 14
	iocDirBits   = 2
	iocTypeBits  = 8
	iocNrBits    = 8
	iocNrShift   = 0
	iocTypeShift = iocNrShift + iocNrBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits
)

// IoctlEncode builds a Linux ioctl request number from direction, type,
// sequence number and argument size.
func IoctlEncode(dir, typ, nr, size uint32) uint32 {
	return (dir << iocDirShift) |
		(size << iocSizeShift) |
		(typ << iocTypeShift) |
		(nr << iocNrShift)
}

// NVMe char-device ioctl request numbers (linux/nvme_ioctl.h): 'N'-typed,
// read-write, sized for the 72-byte passthru command struct.
var (
	NvmeIoctlAdminCmd = IoctlEncode(iocRead|iocWrite, 'N', 0x41, 72)
	NvmeIoctlIOCmd    = IoctlEncode(iocRead|iocWrite, 'N', 0x43, 72)
	NvmeIoctlID       = IoctlEncode(0, 'N', 0x40, 0)
	NvmeIoctlReset    = IoctlEncode(0, 'N', 0x44, 0)
)
