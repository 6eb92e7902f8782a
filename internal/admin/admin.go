// Package admin implements the NVMe admin-command plane: identify
// requests issued over the nvme char device's passthrough ioctl, plus
// the process-wide cache of devices this module has already opened.
package admin

import (
	"fmt"
	"sync"
	"syscall"
	"unsafe"

	"github.com/szd-go/zns/internal/logging"
	"github.com/szd-go/zns/internal/uapi"
)

// Manager owns one nvme admin char-device file descriptor
// (e.g. /dev/nvme0) and issues Identify/passthrough commands against it.
type Manager struct {
	fd     int
	path   string
	logger *logging.Logger
}

// Open opens the nvme admin char device at path (e.g. "/dev/nvme0").
func Open(path string) (*Manager, error) {
	fd, err := syscall.Open(path, syscall.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &Manager{fd: fd, path: path, logger: logging.Default()}, nil
}

// Close closes the admin char device.
func (m *Manager) Close() error {
	if m.fd < 0 {
		return nil
	}
	err := syscall.Close(m.fd)
	m.fd = -1
	return err
}

// FD returns the underlying file descriptor, for callers (backend/kernel)
// that hand it to another kernel facility — an io_uring instance in
// particular — alongside this manager's ioctl-based admin plane.
func (m *Manager) FD() int { return m.fd }

// SetLogger overrides the manager's logger.
func (m *Manager) SetLogger(l *logging.Logger) {
	if l != nil {
		m.logger = l
	}
}

// identify issues an Identify admin command with the given CNS and nsid,
// returning the 4096-byte data buffer the controller wrote back.
func (m *Manager) identify(cns uint32, nsid uint32) ([]byte, error) {
	data := make([]byte, 4096)
	cmd := &uapi.PassthruCmd{
		Opcode:  uapi.NvmeAdminIdentify,
		Nsid:    nsid,
		Addr:    uint64(uintptr(unsafe.Pointer(&data[0]))),
		DataLen: uint32(len(data)),
		Cdw10:   cns,
	}

	m.logger.Debug("submitting IDENTIFY", "cns", cns, "nsid", nsid)

	if err := m.submitAdmin(cmd); err != nil {
		return nil, err
	}
	return data, nil
}

// submit issues one passthrough command through the given ioctl request
// number, shared by the admin-plane and I/O-plane passthrough ioctls.
func (m *Manager) submit(ioctlReq uint32, cmd *uapi.PassthruCmd) error {
	buf := uapi.Marshal(cmd)
	_, _, errno := syscall.Syscall(
		syscall.SYS_IOCTL,
		uintptr(m.fd),
		uintptr(ioctlReq),
		uintptr(unsafe.Pointer(&buf[0])),
	)
	if errno != 0 {
		return fmt.Errorf("ioctl(opcode=0x%x): %w", cmd.Opcode, errno)
	}
	return uapi.Unmarshal(buf, cmd)
}

// submitAdmin issues one admin passthrough command via NVME_IOCTL_ADMIN_CMD.
func (m *Manager) submitAdmin(cmd *uapi.PassthruCmd) error {
	return m.submit(uapi.NvmeIoctlAdminCmd, cmd)
}

// submitIO issues one I/O-class passthrough command via NVME_IOCTL_IO_CMD.
// Zone management (send/receive) rides this path even on the kernel
// backend, whose data read/append commands go over the uring instead.
func (m *Manager) submitIO(cmd *uapi.PassthruCmd) error {
	return m.submit(uapi.NvmeIoctlIOCmd, cmd)
}

// ZoneManagementSend issues a Zone Management Send command (reset, finish,
// open, close, or offline a zone, or every zone when selectAll is set).
func (m *Manager) ZoneManagementSend(nsid uint32, slba uint64, action uint32, selectAll bool) error {
	cdw13 := action
	if selectAll {
		cdw13 |= uapi.ZoneSendSelectAll
	}
	cmd := &uapi.PassthruCmd{
		Opcode: uapi.NvmeCmdZoneMgmtSend,
		Nsid:   nsid,
		Cdw10:  uint32(slba),
		Cdw11:  uint32(slba >> 32),
		Cdw13:  cdw13,
	}
	m.logger.Debug("submitting ZONE MGMT SEND", "action", action, "slba", slba, "select_all", selectAll)
	return m.submitIO(cmd)
}

// ZoneManagementReceive issues a Zone Management Receive (Report Zones)
// command starting at slba, decoding up to maxZones descriptors from the
// controller's response.
func (m *Manager) ZoneManagementReceive(nsid uint32, slba uint64, maxZones int) (*uapi.ZoneReportHeader, []uapi.ZoneDescriptor, error) {
	bufLen := 64 + maxZones*64
	data := make([]byte, bufLen)
	cmd := &uapi.PassthruCmd{
		Opcode:  uapi.NvmeCmdZoneMgmtRecv,
		Nsid:    nsid,
		Addr:    uint64(uintptr(unsafe.Pointer(&data[0]))),
		DataLen: uint32(bufLen),
		Cdw10:   uint32(slba),
		Cdw11:   uint32(slba >> 32),
		Cdw12:   uint32(bufLen/4 - 1),
		Cdw13:   uapi.ZoneReceiveExtendedReport | (uapi.ZoneReportAll << 8),
	}
	m.logger.Debug("submitting ZONE MGMT RECEIVE", "slba", slba, "max_zones", maxZones)
	if err := m.submitIO(cmd); err != nil {
		return nil, nil, err
	}
	return uapi.DecodeZoneReport(data)
}

// IdentifyController returns the controller's Identify Controller data.
func (m *Manager) IdentifyController() (*uapi.IdentController, error) {
	data, err := m.identify(uapi.NvmeCnsController, 0)
	if err != nil {
		return nil, err
	}
	return uapi.DecodeIdentController(data)
}

// IdentifyNamespace returns the Identify Namespace data for nsid.
func (m *Manager) IdentifyNamespace(nsid uint32) (*uapi.IdentNamespace, error) {
	data, err := m.identify(uapi.NvmeCnsNamespace, nsid)
	if err != nil {
		return nil, err
	}
	return uapi.DecodeIdentNamespace(data)
}

// IdentifyNamespaceZNS returns the ZNS command set-specific Identify
// Namespace data for nsid, carrying per-LBA-format zone size.
func (m *Manager) IdentifyNamespaceZNS(nsid uint32) (*uapi.IdentNamespaceZNS, error) {
	data, err := m.identify(uapi.NvmeCnsNamespaceZNS, nsid)
	if err != nil {
		return nil, err
	}
	return uapi.DecodeIdentNamespaceZNS(data)
}

// FoundDevice records one successfully-opened device, keyed by transport
// address, so a later Probe/Open in the same process doesn't need to
// re-walk sysfs or re-identify the controller.
type FoundDevice struct {
	TransportAddress string
	IsZoned          bool
	BlockSize        uint32
	ZoneSize         uint64
	ZoneCap          uint64
}

var (
	foundDevicesOnce sync.Once
	foundDevicesMu   sync.Mutex
	foundDevices     map[string]FoundDevice
)

func initFoundDevices() {
	foundDevices = make(map[string]FoundDevice)
}

// RegisterFoundDevice appends (or replaces) one entry in the process-wide
// found-devices cache. Safe for concurrent use.
func RegisterFoundDevice(d FoundDevice) {
	foundDevicesOnce.Do(initFoundDevices)
	foundDevicesMu.Lock()
	defer foundDevicesMu.Unlock()
	foundDevices[d.TransportAddress] = d
}

// LookupFoundDevice returns a previously-registered device by transport
// address, and whether it was present.
func LookupFoundDevice(traddr string) (FoundDevice, bool) {
	foundDevicesOnce.Do(initFoundDevices)
	foundDevicesMu.Lock()
	defer foundDevicesMu.Unlock()
	d, ok := foundDevices[traddr]
	return d, ok
}

// ListFoundDevices returns a snapshot of every device registered so far
// in this process.
func ListFoundDevices() []FoundDevice {
	foundDevicesOnce.Do(initFoundDevices)
	foundDevicesMu.Lock()
	defer foundDevicesMu.Unlock()
	out := make([]FoundDevice, 0, len(foundDevices))
	for _, d := range foundDevices {
		out = append(out, d)
	}
	return out
}
