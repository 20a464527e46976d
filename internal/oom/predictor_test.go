package oom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bannin-agent/bannin/internal/model"
)

type fakeHistory struct {
	snapshots []model.Snapshot
}

func (f fakeHistory) GetFullHistory(minutes float64) []model.Snapshot {
	return f.snapshots
}

func ramSeries(n int, start, slopePerSec float64) []model.Snapshot {
	out := make([]model.Snapshot, n)
	for i := 0; i < n; i++ {
		out[i] = model.Snapshot{Epoch: float64(i), RAMPercent: start + slopePerSec*float64(i)}
	}
	return out
}

func TestPredict_InsufficientDataBelowMinPoints(t *testing.T) {
	p := New(fakeHistory{snapshots: ramSeries(5, 50, 0.1)}, 12)
	result := p.Predict()

	assert.Equal(t, TrendInsufficient, result.RAM.Trend)
	assert.Equal(t, SeverityOK, result.RAM.Severity)
	assert.Equal(t, 5, result.RAM.DataPoints)
	assert.Equal(t, 12, result.MinDataPointsRequired)
}

func TestPredict_StableTrendBelowSlopeFloor(t *testing.T) {
	p := New(fakeHistory{snapshots: ramSeries(60, 50, 0.001)}, 12)
	result := p.Predict()

	assert.Equal(t, TrendStable, result.RAM.Trend)
	assert.Equal(t, SeverityOK, result.RAM.Severity)
	assert.Nil(t, result.RAM.MinutesUntilFull)
}

func TestPredict_DecreasingTrendIsAlwaysOK(t *testing.T) {
	p := New(fakeHistory{snapshots: ramSeries(60, 80, -0.2)}, 12)
	result := p.Predict()

	assert.Equal(t, TrendDecreasing, result.RAM.Trend)
	assert.Equal(t, SeverityOK, result.RAM.Severity)
	assert.Nil(t, result.RAM.MinutesUntilFull)
}

func TestPredict_IncreasingCriticalWhenImminent(t *testing.T) {
	// 60 points, 1/sec, perfect line: high confidence, few minutes left.
	p := New(fakeHistory{snapshots: ramSeries(60, 50, 0.2)}, 12)
	result := p.Predict()

	require.Equal(t, TrendIncreasing, result.RAM.Trend)
	require.NotNil(t, result.RAM.MinutesUntilFull)
	assert.LessOrEqual(t, *result.RAM.MinutesUntilFull, 5.0)
	assert.Equal(t, SeverityCritical, result.RAM.Severity)
	assert.InDelta(t, 100.0, result.RAM.Confidence, 1.0)
}

func TestPredict_IncreasingWarningWindow(t *testing.T) {
	p := New(fakeHistory{snapshots: ramSeries(60, 50, 0.08)}, 12)
	result := p.Predict()

	require.Equal(t, TrendIncreasing, result.RAM.Trend)
	require.NotNil(t, result.RAM.MinutesUntilFull)
	assert.Greater(t, *result.RAM.MinutesUntilFull, 5.0)
	assert.LessOrEqual(t, *result.RAM.MinutesUntilFull, 15.0)
	assert.Equal(t, SeverityWarning, result.RAM.Severity)
}

func TestPredict_IncreasingInfoWhenFarOut(t *testing.T) {
	p := New(fakeHistory{snapshots: ramSeries(60, 50, 0.03)}, 12)
	result := p.Predict()

	require.Equal(t, TrendIncreasing, result.RAM.Trend)
	require.NotNil(t, result.RAM.MinutesUntilFull)
	assert.Greater(t, *result.RAM.MinutesUntilFull, 15.0)
	assert.Equal(t, SeverityInfo, result.RAM.Severity)
}

func TestPredict_LowConfidenceWhenFewDataPoints(t *testing.T) {
	// Exactly minPoints, perfect fit but nf/60 heavily discounts confidence.
	p := New(fakeHistory{snapshots: ramSeries(12, 50, 0.5)}, 12)
	result := p.Predict()

	require.Equal(t, TrendIncreasing, result.RAM.Trend)
	assert.Less(t, result.RAM.Confidence, confidenceFloor)
	assert.Equal(t, SeverityLowConfidence, result.RAM.Severity)
}

func TestPredict_PerGPUSeries(t *testing.T) {
	snapshots := []model.Snapshot{
		{Epoch: 0, GPUs: []model.GPUSnapshot{{Index: 0, MemoryPercent: 10}}},
		{Epoch: 1, GPUs: []model.GPUSnapshot{{Index: 0, MemoryPercent: 20}}},
	}
	p := New(fakeHistory{snapshots: snapshots}, 12)
	result := p.Predict()

	require.Contains(t, result.GPU, 0)
	assert.Equal(t, TrendInsufficient, result.GPU[0].Trend)
	assert.Equal(t, 20.0, result.GPU[0].CurrentPercent)
}
