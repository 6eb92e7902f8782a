package szd

import (
	"sync/atomic"
	"time"

	"github.com/szd-go/zns/internal/interfaces"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds,
// covering 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,
	10_000,
	100_000,
	1_000_000,
	10_000_000,
	100_000_000,
	1_000_000_000,
	10_000_000_000,
}

const numLatencyBuckets = 8

// ChannelStats tracks per-Channel performance and operational counters:
// append/read throughput, reset/finish counts, and a latency histogram
// over the append/read/reset/finish operation set.
type ChannelStats struct {
	AppendOps atomic.Uint64
	ReadOps   atomic.Uint64
	ResetOps  atomic.Uint64
	FinishOps atomic.Uint64

	AppendBytes atomic.Uint64
	ReadBytes   atomic.Uint64

	AppendErrors atomic.Uint64
	ReadErrors   atomic.Uint64
	ResetErrors  atomic.Uint64
	FinishErrors atomic.Uint64

	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64

	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewChannelStats creates a new, running ChannelStats instance.
func NewChannelStats() *ChannelStats {
	m := &ChannelStats{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordAppend records one append operation.
func (m *ChannelStats) RecordAppend(bytes uint64, latencyNs uint64, success bool) {
	m.AppendOps.Add(1)
	if success {
		m.AppendBytes.Add(bytes)
	} else {
		m.AppendErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordRead records one read operation.
func (m *ChannelStats) RecordRead(bytes uint64, latencyNs uint64, success bool) {
	m.ReadOps.Add(1)
	if success {
		m.ReadBytes.Add(bytes)
	} else {
		m.ReadErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordReset records one zone reset operation.
func (m *ChannelStats) RecordReset(latencyNs uint64, success bool) {
	m.ResetOps.Add(1)
	if !success {
		m.ResetErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordFinish records one zone finish operation.
func (m *ChannelStats) RecordFinish(latencyNs uint64, success bool) {
	m.FinishOps.Add(1)
	if !success {
		m.FinishErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

func (m *ChannelStats) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the channel as closed, freezing uptime calculations.
func (m *ChannelStats) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// ChannelStatsSnapshot is a point-in-time copy of ChannelStats, with
// derived rates and percentiles computed.
type ChannelStatsSnapshot struct {
	AppendOps uint64
	ReadOps   uint64
	ResetOps  uint64
	FinishOps uint64

	AppendBytes uint64
	ReadBytes   uint64

	AppendErrors uint64
	ReadErrors   uint64
	ResetErrors  uint64
	FinishErrors uint64

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	AppendIOPS      float64
	ReadIOPS        float64
	AppendBandwidth float64
	ReadBandwidth   float64
	TotalOps        uint64
	TotalBytes      uint64
	ErrorRate       float64
}

// Snapshot creates a point-in-time snapshot with derived rates.
func (m *ChannelStats) Snapshot() ChannelStatsSnapshot {
	snap := ChannelStatsSnapshot{
		AppendOps:    m.AppendOps.Load(),
		ReadOps:      m.ReadOps.Load(),
		ResetOps:     m.ResetOps.Load(),
		FinishOps:    m.FinishOps.Load(),
		AppendBytes:  m.AppendBytes.Load(),
		ReadBytes:    m.ReadBytes.Load(),
		AppendErrors: m.AppendErrors.Load(),
		ReadErrors:   m.ReadErrors.Load(),
		ResetErrors:  m.ResetErrors.Load(),
		FinishErrors: m.FinishErrors.Load(),
	}

	snap.TotalOps = snap.AppendOps + snap.ReadOps + snap.ResetOps + snap.FinishOps
	snap.TotalBytes = snap.AppendBytes + snap.ReadBytes

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		snap.AppendIOPS = float64(snap.AppendOps) / uptimeSeconds
		snap.ReadIOPS = float64(snap.ReadOps) / uptimeSeconds
		snap.AppendBandwidth = float64(snap.AppendBytes) / uptimeSeconds
		snap.ReadBandwidth = float64(snap.ReadBytes) / uptimeSeconds
	}

	totalErrors := snap.AppendErrors + snap.ReadErrors + snap.ResetErrors + snap.FinishErrors
	if snap.TotalOps > 0 {
		snap.ErrorRate = float64(totalErrors) / float64(snap.TotalOps) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile
// (0.0-1.0) using linear interpolation between histogram buckets.
func (m *ChannelStats) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset zeroes every counter (used by tests that reuse a Channel).
func (m *ChannelStats) Reset() {
	m.AppendOps.Store(0)
	m.ReadOps.Store(0)
	m.ResetOps.Store(0)
	m.FinishOps.Store(0)
	m.AppendBytes.Store(0)
	m.ReadBytes.Store(0)
	m.AppendErrors.Store(0)
	m.ReadErrors.Store(0)
	m.ResetErrors.Store(0)
	m.FinishErrors.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// ChannelStatsObserver implements interfaces.Observer by recording into
// a ChannelStats instance.
type ChannelStatsObserver struct {
	stats *ChannelStats
}

// NewChannelStatsObserver creates an Observer that records to stats.
func NewChannelStatsObserver(stats *ChannelStats) *ChannelStatsObserver {
	return &ChannelStatsObserver{stats: stats}
}

func (o *ChannelStatsObserver) ObserveAppend(bytes uint64, latencyNs uint64, success bool) {
	o.stats.RecordAppend(bytes, latencyNs, success)
}

func (o *ChannelStatsObserver) ObserveRead(bytes uint64, latencyNs uint64, success bool) {
	o.stats.RecordRead(bytes, latencyNs, success)
}

func (o *ChannelStatsObserver) ObserveReset(latencyNs uint64, success bool) {
	o.stats.RecordReset(latencyNs, success)
}

func (o *ChannelStatsObserver) ObserveFinish(latencyNs uint64, success bool) {
	o.stats.RecordFinish(latencyNs, success)
}

var _ interfaces.Observer = (*ChannelStatsObserver)(nil)
var _ interfaces.Observer = interfaces.NoOpObserver{}
