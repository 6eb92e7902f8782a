package szd

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChannelStatsRecordAppendTracksBytesAndErrors(t *testing.T) {
	m := NewChannelStats()
	m.RecordAppend(4096, 5_000, true)
	m.RecordAppend(4096, 5_000, false)

	snap := m.Snapshot()
	require.Equal(t, uint64(2), snap.AppendOps)
	require.Equal(t, uint64(4096), snap.AppendBytes)
	require.Equal(t, uint64(1), snap.AppendErrors)
}

func TestChannelStatsRecordReadTracksBytesAndErrors(t *testing.T) {
	m := NewChannelStats()
	m.RecordRead(512, 1_000, true)

	snap := m.Snapshot()
	require.Equal(t, uint64(1), snap.ReadOps)
	require.Equal(t, uint64(512), snap.ReadBytes)
	require.Equal(t, uint64(0), snap.ReadErrors)
}

func TestChannelStatsRecordResetAndFinish(t *testing.T) {
	m := NewChannelStats()
	m.RecordReset(1_000, true)
	m.RecordFinish(1_000, false)

	snap := m.Snapshot()
	require.Equal(t, uint64(1), snap.ResetOps)
	require.Equal(t, uint64(1), snap.FinishOps)
	require.Equal(t, uint64(1), snap.FinishErrors)
}

func TestChannelStatsSnapshotComputesTotalsAndErrorRate(t *testing.T) {
	m := NewChannelStats()
	m.RecordAppend(4096, 1_000, true)
	m.RecordAppend(4096, 1_000, false)
	m.RecordRead(4096, 1_000, true)

	snap := m.Snapshot()
	require.Equal(t, uint64(3), snap.TotalOps)
	require.Equal(t, uint64(8192), snap.TotalBytes)
	require.InDelta(t, 33.33, snap.ErrorRate, 0.1)
}

func TestChannelStatsLatencyHistogramBucketsAccumulate(t *testing.T) {
	m := NewChannelStats()
	m.RecordAppend(512, 500, true)     // <= every bucket, including the 1us one
	m.RecordAppend(512, 50_000, true)  // > 1us bucket, <= 100us bucket

	snap := m.Snapshot()
	require.Equal(t, uint64(1), snap.LatencyHistogram[0]) // 1us bucket
	require.Equal(t, uint64(2), snap.LatencyHistogram[2]) // 100us bucket
}

func TestChannelStatsPercentilesAreMonotonic(t *testing.T) {
	m := NewChannelStats()
	for i := 0; i < 100; i++ {
		m.RecordAppend(512, uint64(i+1)*1000, true)
	}

	snap := m.Snapshot()
	require.LessOrEqual(t, snap.LatencyP50Ns, snap.LatencyP99Ns)
	require.LessOrEqual(t, snap.LatencyP99Ns, snap.LatencyP999Ns)
}

func TestChannelStatsResetZeroesCounters(t *testing.T) {
	m := NewChannelStats()
	m.RecordAppend(4096, 1_000, true)
	m.Reset()

	snap := m.Snapshot()
	require.Equal(t, uint64(0), snap.AppendOps)
	require.Equal(t, uint64(0), snap.AppendBytes)
}

func TestChannelStatsObserverRecordsIntoStats(t *testing.T) {
	stats := NewChannelStats()
	obs := NewChannelStatsObserver(stats)

	obs.ObserveAppend(4096, 1_000, true)
	obs.ObserveRead(512, 1_000, true)
	obs.ObserveReset(1_000, true)
	obs.ObserveFinish(1_000, true)

	snap := stats.Snapshot()
	require.Equal(t, uint64(1), snap.AppendOps)
	require.Equal(t, uint64(1), snap.ReadOps)
	require.Equal(t, uint64(1), snap.ResetOps)
	require.Equal(t, uint64(1), snap.FinishOps)
}
