// Package telemetry aggregates per-step simulation metrics into windowed
// statistics, exports them as CSV, and times solver phases. Adapted from
// the teacher's ecosystem telemetry package: same windowing and CSV-export
// shape, applied to evacuation metrics instead of predator/prey counts.
package telemetry

import (
	"log/slog"

	"gonum.org/v1/gonum/stat"
)

// WindowStats holds aggregated evacuation statistics for a time window.
type WindowStats struct {
	WindowStartStep int     `csv:"-"`
	WindowEndStep   int     `csv:"window_end"`
	SimTimeSec      float64 `csv:"sim_time"`

	AgentsRemaining int `csv:"agents_remaining"`
	AgentsEvacuated int `csv:"agents_evacuated"`
	Casualties      int `csv:"casualties"`

	EvacuationsInWindow int `csv:"evacuations_in_window"`
	CasualtiesInWindow  int `csv:"casualties_in_window"`

	MeanSpeed     float64 `csv:"mean_speed"`
	MeanDensity   float64 `csv:"mean_density"`
	MaxHazard     float64 `csv:"max_hazard"`
	MeanHazard    float64 `csv:"mean_hazard"`

	ExitTimeMean float64 `csv:"exit_time_mean"`
	ExitTimeP10  float64 `csv:"exit_time_p10"`
	ExitTimeP50  float64 `csv:"exit_time_p50"`
	ExitTimeP90  float64 `csv:"exit_time_p90"`

	FairnessGini float64 `csv:"fairness_gini"`
}

// Percentile returns the p-th quantile (p in [0,1]) of an already-sorted
// slice, using gonum/stat's empirical CDF inverse.
func Percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	return stat.Quantile(p, stat.Empirical, sorted, nil)
}

// ComputeExitTimeStats returns the mean and 10/50/90th percentiles of a set
// of per-agent exit times. values need not be sorted; a private copy is
// sorted in place.
func ComputeExitTimeStats(values []float64) (mean, p10, p50, p90 float64) {
	if len(values) == 0 {
		return 0, 0, 0, 0
	}
	sorted := append([]float64(nil), values...)
	stat.SortWeighted(sorted, nil)
	mean = stat.Mean(sorted, nil)
	p10 = Percentile(sorted, 0.10)
	p50 = Percentile(sorted, 0.50)
	p90 = Percentile(sorted, 0.90)
	return mean, p10, p50, p90
}

// Gini computes the Gini coefficient of a non-negative value set: the RL
// fairness reward term passes exit-usage shares, and Collector.Flush passes
// per-agent exit times. 0 means
// perfectly equal outcomes, 1 means maximally unequal.
func Gini(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	stat.SortWeighted(sorted, nil)

	var sumDiffs, sum float64
	for i, vi := range sorted {
		sum += vi
		for _, vj := range sorted[:i] {
			sumDiffs += vi - vj
		}
	}
	if sum == 0 {
		return 0
	}
	return sumDiffs / (float64(n) * sum)
}

// LogValue implements slog.LogValuer for structured logging.
func (s WindowStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("window_end", s.WindowEndStep),
		slog.Float64("sim_time", s.SimTimeSec),
		slog.Int("agents_remaining", s.AgentsRemaining),
		slog.Int("agents_evacuated", s.AgentsEvacuated),
		slog.Int("casualties", s.Casualties),
		slog.Int("evacuations_in_window", s.EvacuationsInWindow),
		slog.Int("casualties_in_window", s.CasualtiesInWindow),
		slog.Float64("mean_speed", s.MeanSpeed),
		slog.Float64("mean_density", s.MeanDensity),
		slog.Float64("max_hazard", s.MaxHazard),
		slog.Float64("mean_hazard", s.MeanHazard),
		slog.Float64("exit_time_mean", s.ExitTimeMean),
		slog.Float64("exit_time_p10", s.ExitTimeP10),
		slog.Float64("exit_time_p50", s.ExitTimeP50),
		slog.Float64("exit_time_p90", s.ExitTimeP90),
		slog.Float64("fairness_gini", s.FairnessGini),
	)
}

// LogStats logs the window stats using slog.
func (s WindowStats) LogStats() {
	slog.Info("stats", "window", s)
}
