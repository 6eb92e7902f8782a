// Package profile loads YAML-described device profiles — named,
// regex-matched presets of the DeviceInfo fields a backend would
// otherwise have to Identify from real hardware — used to parametrize
// backend/mem for tests and local development without a ZNS drive, and
// as a fallback when a kernel/pcie backend's Identify reports are
// missing or untrustworthy (e.g. an emulated QEMU ZNS device that
// misreports MDTS). Profiles are struct-tagged and regex-matched
// against a transport address, decoded from YAML via gopkg.in/yaml.v2,
// with zone geometry as the payload.
package profile

import (
	"fmt"
	"regexp"

	"gopkg.in/yaml.v2"

	"github.com/szd-go/zns/internal/interfaces"
)

// Geometry is the YAML-serializable subset of interfaces.DeviceInfo a
// profile pins; MinLBA/MaxLBA are left for OpenOptions to set per-window
// rather than baked into the profile.
type Geometry struct {
	BlockSize   uint32 `yaml:"block_size"`
	ZoneSize    uint64 `yaml:"zone_size"`
	ZoneCap     uint64 `yaml:"zone_cap"`
	MDTS        uint64 `yaml:"mdts"`
	ZASL        uint64 `yaml:"zasl"`
	TotalBlocks uint64 `yaml:"total_blocks"`
}

// DeviceInfo expands g against minZone/maxZone to a full
// interfaces.DeviceInfo.
func (g Geometry) DeviceInfo(minZone, maxZone uint64) interfaces.DeviceInfo {
	minLBA := minZone * g.ZoneSize
	maxLBA := maxZone * g.ZoneSize
	if maxZone == 0 {
		maxLBA = g.TotalBlocks
	}
	return interfaces.DeviceInfo{
		BlockSize:   g.BlockSize,
		ZoneSize:    g.ZoneSize,
		ZoneCap:     g.ZoneCap,
		MDTS:        g.MDTS,
		ZASL:        g.ZASL,
		TotalBlocks: g.TotalBlocks,
		MinLBA:      minLBA,
		MaxLBA:      maxLBA,
	}
}

// Entry is one named profile: a regex over the transport address a
// caller passes to Backend.Open, plus the geometry to report for any
// match, and a human warning carried through for devices with known
// quirks (mirrors drivedb.h's WarningMsg field).
type Entry struct {
	Name              string   `yaml:"name"`
	TransportRegex    string   `yaml:"transport_regex"`
	Geometry          Geometry `yaml:"geometry"`
	WarningMsg        string   `yaml:"warning_msg,omitempty"`
	compiledTransport *regexp.Regexp
}

// DB is a loaded set of profiles, matched in order against a transport
// address; the first regex match wins, mirroring smartmontools'
// first-match drivedb lookup semantics.
type DB struct {
	Entries []*Entry `yaml:"profiles"`
}

// Load parses a YAML document (one "profiles:" list of Entry) and
// precompiles every entry's transport regex.
func Load(data []byte) (*DB, error) {
	var db DB
	if err := yaml.Unmarshal(data, &db); err != nil {
		return nil, fmt.Errorf("parse device profiles: %w", err)
	}
	for _, e := range db.Entries {
		re, err := regexp.Compile(e.TransportRegex)
		if err != nil {
			return nil, fmt.Errorf("profile %q: compile transport_regex %q: %w", e.Name, e.TransportRegex, err)
		}
		e.compiledTransport = re
	}
	return &db, nil
}

// Encode serializes db back to YAML, for callers that build a DB in
// code (tests, a seed profile) and want to persist it.
func Encode(db *DB) ([]byte, error) {
	return yaml.Marshal(db)
}

// Lookup returns the first entry whose transport_regex matches
// transportAddress, and whether one was found.
func (db *DB) Lookup(transportAddress string) (*Entry, bool) {
	for _, e := range db.Entries {
		if e.compiledTransport != nil && e.compiledTransport.MatchString(transportAddress) {
			return e, true
		}
	}
	return nil, false
}

// Default returns a small built-in set of profiles covering the
// synthetic transport addresses this module's own in-memory backend and
// tests use, plus one representative real-drive-class entry, in the
// style of smartmontools' built-in knowndrives table.
func Default() *DB {
	db := &DB{Entries: []*Entry{
		{
			Name:           "in-memory test device",
			TransportRegex: `^mem\d*$`,
			Geometry: Geometry{
				BlockSize:   512,
				ZoneSize:    4096,
				ZoneCap:     4096,
				MDTS:        1 << 20,
				ZASL:        1 << 18,
				TotalBlocks: 4096 * 1024,
			},
		},
		{
			Name:           "generic enterprise ZNS NVMe (4K LBA, 1 GiB zones)",
			TransportRegex: `^/dev/ng\d+n\d+$`,
			Geometry: Geometry{
				BlockSize:   4096,
				ZoneSize:    262144,
				ZoneCap:     262144,
				MDTS:        1 << 20,
				ZASL:        1 << 20,
				TotalBlocks: 262144 * 4096,
			},
			WarningMsg: "zone capacity assumed equal to zone size; verify against Report Zones on first use",
		},
	}}
	for _, e := range db.Entries {
		e.compiledTransport = regexp.MustCompile(e.TransportRegex)
	}
	return db
}
