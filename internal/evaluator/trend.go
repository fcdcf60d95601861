package evaluator

import (
	"math"
	"sort"
	"time"

	"sahtee-exposure/internal/config"
	"sahtee-exposure/internal/domain"
)

// SeriesTrend 序列趋势（TrendResult 的确定性部分）
type SeriesTrend struct {
	Direction     domain.TrendDirection
	ChangePercent float64
	Severity      domain.Level
	Confidence    float64
	SampleCount   int
}

// TrendAnalyzer 纯函数：有序序列 -> 方向 / 变化率 / 置信度
type TrendAnalyzer struct {
	cfg config.TrendConfig
}

// NewTrendAnalyzer 创建趋势分析器
func NewTrendAnalyzer(cfg config.TrendConfig) *TrendAnalyzer {
	if cfg.TargetSampleCount <= 0 {
		cfg.TargetSampleCount = 6
	}
	return &TrendAnalyzer{cfg: cfg}
}

// AnalyzeSeries compares the two most recent values of a chronological series.
func (a *TrendAnalyzer) AnalyzeSeries(values []float64) SeriesTrend {
	n := len(values)
	if n < 2 {
		return SeriesTrend{
			Direction:   domain.DirectionStable,
			Severity:    domain.LevelLow,
			SampleCount: n,
		}
	}

	prev, last := values[n-2], values[n-1]
	var change float64
	switch {
	case prev != 0:
		change = math.Abs(last-prev) / prev * 100
	case last != 0:
		// from zero: treated as a full (100%) change
		change = 100
	}

	direction := domain.DirectionStable
	if last > prev {
		direction = domain.DirectionIncreasing
	} else if last < prev {
		direction = domain.DirectionDecreasing
	}

	return SeriesTrend{
		Direction:     direction,
		ChangePercent: change,
		Severity:      a.SeverityFor(change),
		Confidence:    a.Confidence(n),
		SampleCount:   n,
	}
}

// AnalyzeMeasurements runs AnalyzeSeries over a measurement history.
func (a *TrendAnalyzer) AnalyzeMeasurements(history []domain.Measurement) SeriesTrend {
	values := make([]float64, len(history))
	for i, m := range history {
		values[i] = m.Value
	}
	return a.AnalyzeSeries(values)
}

// AnalyzeMonthlyCounts applies the same classification to month-bucketed counts.
// Confidence counts non-empty buckets only.
func (a *TrendAnalyzer) AnalyzeMonthlyCounts(buckets []int) SeriesTrend {
	values := make([]float64, len(buckets))
	nonEmpty := 0
	for i, c := range buckets {
		values[i] = float64(c)
		if c > 0 {
			nonEmpty++
		}
	}
	t := a.AnalyzeSeries(values)
	if len(buckets) >= 2 {
		t.Confidence = a.Confidence(nonEmpty)
	}
	return t
}

// SeverityFor <medium low, medium..high medium, >high high
func (a *TrendAnalyzer) SeverityFor(changePercent float64) domain.Level {
	switch {
	case changePercent > a.cfg.HighChangePercent:
		return domain.LevelHigh
	case changePercent >= a.cfg.MediumChangePercent:
		return domain.LevelMedium
	default:
		return domain.LevelLow
	}
}

// Confidence min(1, n/target); fewer than 2 samples carry no trend information.
func (a *TrendAnalyzer) Confidence(sampleCount int) float64 {
	if sampleCount < 2 {
		return 0
	}
	return math.Min(1, float64(sampleCount)/float64(a.cfg.TargetSampleCount))
}

// WithinPeriod returns the measurements dated within the last periodMonths before now,
// keeping chronological order.
func WithinPeriod(history []domain.Measurement, periodMonths int, now time.Time) []domain.Measurement {
	cutoff := now.AddDate(0, -periodMonths, 0)
	var out []domain.Measurement
	for _, m := range history {
		if !m.Date.Before(cutoff) && !m.Date.After(now) {
			out = append(out, m)
		}
	}
	return out
}

// MonthBuckets counts timestamps per calendar month over the last periodMonths
// (oldest first, current month last).
func MonthBuckets(times []time.Time, periodMonths int, now time.Time) []int {
	if periodMonths <= 0 {
		return nil
	}
	now = now.UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -(periodMonths - 1), 0)
	buckets := make([]int, periodMonths)
	sorted := append([]time.Time(nil), times...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })
	for _, ts := range sorted {
		ts = ts.UTC()
		if ts.Before(start) || ts.After(now) {
			continue
		}
		idx := (ts.Year()-start.Year())*12 + int(ts.Month()) - int(start.Month())
		if idx >= 0 && idx < periodMonths {
			buckets[idx]++
		}
	}
	return buckets
}
