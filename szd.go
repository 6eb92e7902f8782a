// Package szd is a user-space access library for NVMe Zoned Namespace
// SSDs: it wraps the backend's block/zone primitives in Channels and
// layers Once/Circular/Fragmented logs (see the zlog subpackage) on top
// of them, so higher layers (LSM engines, WALs, object stores) never
// touch a raw write pointer directly.
package szd

import (
	"time"

	"github.com/szd-go/zns/internal/admin"
	"github.com/szd-go/zns/internal/constants"
	"github.com/szd-go/zns/internal/interfaces"
	"github.com/szd-go/zns/internal/logging"
)

// DeviceInfo is the read-only device descriptor reported at Open:
// block size, zone geometry, transfer limits, and the
// [MinLBA, MaxLBA) window this library is allowed to touch.
type DeviceInfo = interfaces.DeviceInfo

// OpenOptions selects the zone-index window to open; a zero
// MaxZone means "device maximum".
type OpenOptions = interfaces.OpenOptions

// ProbeResult describes one device discovered by Probe.
type ProbeResult = interfaces.ProbeResult

// Device is one opened ZNS namespace: a backend, its reported geometry,
// and the ChannelFactory that mints Channels against it. The backend
// implementation (backend/mem, backend/kernel, backend/pcie) is chosen
// by the caller and frozen for the Device's lifetime.
type Device struct {
	backend          interfaces.Backend
	info             DeviceInfo
	transportAddress string
	factory          *ChannelFactory
	logger           *logging.Logger
}

// Open initializes backend and opens transportAddress over the zone
// window described by opts, consulting and updating the process-wide
// found_devices cache.
func Open(backend interfaces.Backend, transportAddress string, opts OpenOptions) (*Device, error) {
	if len(transportAddress) > constants.MaxTransportAddressLen {
		return nil, NewError("Open", CodeInvalidArguments, "transport address exceeds 256 bytes")
	}

	logger := logging.Default()

	if err := backend.Init(interfaces.InitOptions{ApplicationName: "zns", SetupDMAEngine: true}); err != nil {
		return nil, wrapBackendError("Open", err)
	}

	if fd, ok := admin.LookupFoundDevice(transportAddress); ok {
		logger.Debug("reopening previously probed device", "traddr", transportAddress, "zoned", fd.IsZoned)
	}

	info, err := backend.Open(transportAddress, opts)
	if err != nil {
		backend.Destroy()
		return nil, wrapBackendError("Open", err)
	}

	admin.RegisterFoundDevice(admin.FoundDevice{
		TransportAddress: transportAddress,
		IsZoned:          true,
		BlockSize:        info.BlockSize,
		ZoneSize:         info.ZoneSize,
		ZoneCap:          info.ZoneCap,
	})

	d := &Device{
		backend:          backend,
		info:             *info,
		transportAddress: transportAddress,
		logger:           logger,
	}
	d.factory = NewChannelFactory(backend, transportAddress, *info, constants.DefaultMaxChannels)

	return d, nil
}

// Probe enumerates devices backend can see without opening any of them,
// registering each into the found_devices cache.
func Probe(backend interfaces.Backend) ([]ProbeResult, error) {
	if err := backend.Init(interfaces.InitOptions{ApplicationName: "zns"}); err != nil {
		return nil, wrapBackendError("Probe", err)
	}
	defer backend.Destroy()

	results, err := backend.Probe()
	if err != nil {
		return nil, wrapBackendError("Probe", err)
	}

	for _, r := range results {
		admin.RegisterFoundDevice(admin.FoundDevice{
			TransportAddress: r.TransportAddress,
			IsZoned:          r.IsZoned,
		})
	}

	// Some controllers can leave a half-attached state behind after a
	// probe pass; give it a moment to settle before the caller tries
	// to Open (constants.ReattachSettleDelay).
	time.Sleep(constants.ReattachSettleDelay)

	return results, nil
}

// GetDeviceInfo returns the device descriptor captured at Open.
func (d *Device) GetDeviceInfo() DeviceInfo {
	return d.info
}

// Factory returns the channel factory minting Channels against this
// device.
func (d *Device) Factory() *ChannelFactory {
	return d.factory
}

// TransportAddress returns the address this device was opened with.
func (d *Device) TransportAddress() string {
	return d.transportAddress
}

// Close closes the device and releases the factory's reference to the
// backend, tearing the backend down once every channel and factory
// reference has gone.
func (d *Device) Close() error {
	closeErr := d.backend.Close()

	var unrefErr error
	if d.factory != nil {
		unrefErr = d.factory.Unref()
	}

	if closeErr != nil {
		return wrapIfRaw("Device.Close", closeErr)
	}
	if unrefErr != nil {
		return wrapIfRaw("Device.Close", unrefErr)
	}
	return nil
}

// wrapIfRaw wraps err in a structured *Error unless it already is one.
func wrapIfRaw(op string, err error) error {
	if err == nil {
		return nil
	}
	if se, ok := err.(*Error); ok {
		return se
	}
	return wrapBackendError(op, err)
}
