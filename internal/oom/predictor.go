// Package oom predicts out-of-memory events by fitting an ordinary
// least-squares trend line to recent RAM and GPU memory history.
package oom

import (
	"math"

	"github.com/bannin-agent/bannin/internal/model"
)

const (
	windowMinutes     = 30.0
	defaultMinPoints  = 12
	confidenceFloor   = 70.0
	stableSlopePerSec = 0.01 // %/s; below this magnitude the trend is "stable"
)

// History is the subset of internal/history.History the predictor needs.
type History interface {
	GetFullHistory(minutes float64) []model.Snapshot
}

// Predictor fits trend lines over the configured history window.
type Predictor struct {
	history   History
	minPoints int
}

// New constructs a Predictor reading from history, requiring at least
// minPoints data points before producing a classified prediction
// (0 defaults to 12, the spec's stated default).
func New(history History, minPoints int) *Predictor {
	if minPoints <= 0 {
		minPoints = defaultMinPoints
	}
	return &Predictor{history: history, minPoints: minPoints}
}

// Trend classifies slope direction.
type Trend string

const (
	TrendIncreasing     Trend = "increasing"
	TrendDecreasing     Trend = "decreasing"
	TrendStable         Trend = "stable"
	TrendInsufficient   Trend = "insufficient_data"
)

// Severity ranks how urgently a prediction should be surfaced.
type Severity string

const (
	SeverityCritical     Severity = "critical"
	SeverityWarning      Severity = "warning"
	SeverityInfo         Severity = "info"
	SeverityLowConfidence Severity = "low_confidence"
	SeverityOK           Severity = "ok"
)

// Prediction is one series' (RAM or a single GPU) fitted trend.
type Prediction struct {
	Trend              Trend    `json:"trend"`
	GrowthRatePerMin    float64  `json:"growth_rate_per_min"`
	Confidence         float64  `json:"confidence"`
	RSquared           float64  `json:"r_squared"`
	CurrentPercent     float64  `json:"current_percent"`
	MinutesUntilFull   *float64 `json:"minutes_until_full,omitempty"`
	Severity           Severity `json:"severity"`
	DataPoints         int      `json:"data_points"`
}

// Result is the full §4.3 contract payload.
type Result struct {
	RAM                  Prediction            `json:"ram"`
	GPU                  map[int]Prediction    `json:"gpu"`
	DataPoints           int                   `json:"data_points"`
	MinDataPointsRequired int                  `json:"min_data_points_required"`
}

// Predict fits RAM and per-GPU trend lines over the last 30 minutes of
// history.
func (p *Predictor) Predict() Result {
	points := p.history.GetFullHistory(windowMinutes)

	result := Result{
		GPU:                   make(map[int]Prediction),
		DataPoints:            len(points),
		MinDataPointsRequired: p.minPoints,
	}

	ramSeries := make([]point, 0, len(points))
	for _, s := range points {
		ramSeries = append(ramSeries, point{x: s.Epoch, y: s.RAMPercent})
	}
	result.RAM = p.fit(ramSeries)

	if len(points) > 0 {
		latest := points[len(points)-1]
		for _, g := range latest.GPUs {
			series := make([]point, 0, len(points))
			for _, s := range points {
				for _, sg := range s.GPUs {
					if sg.Index == g.Index {
						series = append(series, point{x: s.Epoch, y: sg.MemoryPercent})
						break
					}
				}
			}
			result.GPU[g.Index] = p.fit(series)
		}
	}

	return result
}

type point struct{ x, y float64 }

// fit runs the full §4.3 algorithm over series (already sorted oldest
// first, as history.GetFullHistory guarantees).
func (p *Predictor) fit(series []point) Prediction {
	n := len(series)
	if n < p.minPoints {
		current := 0.0
		if n > 0 {
			current = series[n-1].y
		}
		return Prediction{
			Trend:          TrendInsufficient,
			CurrentPercent: current,
			DataPoints:     n,
			Severity:       SeverityOK,
		}
	}

	t0 := series[0].x
	var sumX, sumY, sumXY, sumXX float64
	for _, pt := range series {
		x := pt.x - t0
		sumX += x
		sumY += pt.y
		sumXY += x * pt.y
		sumXX += x * x
	}
	nf := float64(n)
	denom := nf*sumXX - sumX*sumX
	var slope, intercept float64
	if denom != 0 {
		slope = (nf*sumXY - sumX*sumY) / denom
		intercept = (sumY - slope*sumX) / nf
	} else {
		intercept = sumY / nf
	}

	// R^2 = 1 - SSres/SStot, clamped to [0,1]; zero when there is no
	// explanatory variance in x (denom == 0, or y is already constant).
	var ssTot, ssRes float64
	meanY := sumY / nf
	for _, pt := range series {
		x := pt.x - t0
		pred := slope*x + intercept
		ssRes += (pt.y - pred) * (pt.y - pred)
		ssTot += (pt.y - meanY) * (pt.y - meanY)
	}
	var rSquared float64
	if ssTot > 0 {
		rSquared = 1 - ssRes/ssTot
		if rSquared < 0 {
			rSquared = 0
		}
		if rSquared > 1 {
			rSquared = 1
		}
	}

	trend := TrendStable
	if slope > stableSlopePerSec {
		trend = TrendIncreasing
	} else if slope < -stableSlopePerSec {
		trend = TrendDecreasing
	}

	growthPerMin := slope * 60
	confidence := rSquared * 100 * math.Min(1, nf/60)
	current := series[n-1].y

	pred := Prediction{
		Trend:            trend,
		GrowthRatePerMin: growthPerMin,
		Confidence:       confidence,
		RSquared:         rSquared,
		CurrentPercent:   current,
		DataPoints:       n,
	}

	if trend != TrendIncreasing {
		pred.Severity = SeverityOK
		return pred
	}

	minutesUntilFull := (100 - current) / slope / 60
	pred.MinutesUntilFull = &minutesUntilFull

	switch {
	case confidence < confidenceFloor:
		pred.Severity = SeverityLowConfidence
	case minutesUntilFull <= 5:
		pred.Severity = SeverityCritical
	case minutesUntilFull <= 15:
		pred.Severity = SeverityWarning
	default:
		pred.Severity = SeverityInfo
	}

	return pred
}
