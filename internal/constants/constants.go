// Package constants holds default device parameters and timing constants
// shared across the backend, channel and log layers.
package constants

import "time"

// Default device geometry, used when a backend cannot report its own and
// by backend/mem when no profile is supplied.
const (
	// DefaultBlockSize is the default logical block size in bytes.
	DefaultBlockSize = 4096

	// DefaultZoneSize is the default zone size in blocks.
	DefaultZoneSize = 0x8000 // 32768 blocks

	// DefaultMDTS is the default maximum data transfer size in bytes (1MiB).
	DefaultMDTS = 1 << 20

	// DefaultZASL is the default maximum zone-append transfer size in bytes (256KiB).
	DefaultZASL = 256 << 10

	// MaxTransportAddressLen is the maximum length of a transport address
	// string accepted by Open/Probe.
	MaxTransportAddressLen = 256

	// AutoMaxZone requests "device maximum" when passed as OpenOptions.MaxZone.
	AutoMaxZone = 0

	// DefaultMaxChannels bounds how many channels one ChannelFactory will mint.
	DefaultMaxChannels = 64

	// DefaultOnceLogWriteDepth is the default once-log async write queue depth.
	DefaultOnceLogWriteDepth = 8

	// DefaultCircularLogReaders is the default reader count for a new circular log.
	DefaultCircularLogReaders = 1
)

// Timing constants for polling and probing. PollBackoffSpins,
// PollYieldInterval and RingWaitTimeout are not read by any backend:
// backend/pcie's PollAsync sleeps a fixed 10µs between polls up to a 2s
// deadline, and backend/kernel's ring sets no wait timeout.
const (
	// PollBackoffSpins is a count of consecutive non-ready polls after which
	// a busy-wait loop would yield instead of spinning.
	PollBackoffSpins = 64

	// PollYieldInterval is a sleep between polls for a loop that has backed
	// off from spinning.
	PollYieldInterval = 50 * time.Microsecond

	// RingWaitTimeout is a bound on a blocking wait for a ring completion.
	RingWaitTimeout = 30 * time.Second

	// ReattachSettleDelay is how long szd.Probe sleeps after a probe pass
	// before returning its results.
	ReattachSettleDelay = 20 * time.Millisecond
)
