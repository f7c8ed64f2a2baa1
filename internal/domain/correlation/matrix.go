package correlation

import (
	"slices"

	"github.com/alem-hub/physics-telemetry/internal/domain/shared"
	"github.com/alem-hub/physics-telemetry/pkg/logger"
)

// UpdateCorrelations rebuilds the matrix from per-entity metric means.
// With fewer than MinSampleSize entities holding aggregates it does nothing
// and returns false.
func (e *Engine) UpdateCorrelations() bool {
	ids := make([]string, 0, len(e.entities))
	for id, h := range e.entities {
		if len(h.aggregates) > 0 {
			ids = append(ids, id)
		}
	}
	if len(ids) < MinSampleSize {
		return false
	}
	slices.Sort(ids)

	metrics := e.metricsPresent(ids)
	matrix := make(Matrix, len(metrics))
	for _, m := range metrics {
		matrix[m] = map[string]float64{m: 1}
	}

	for i, a := range metrics {
		for _, b := range metrics[i+1:] {
			xs, ys := e.pairedMeans(ids, a, b)
			if len(xs) < MinSampleSize {
				continue
			}
			r, ok := shared.Pearson(xs, ys)
			if !ok {
				continue
			}
			matrix[a][b] = r
			matrix[b][a] = r
		}
	}

	e.matrix = matrix
	stats := RebuildStats{
		Entities:       len(ids),
		Metrics:        len(metrics),
		SuccessFactors: len(e.SuccessFactors()),
	}
	e.log.Info("correlation matrix rebuilt",
		logger.Int("entities", stats.Entities),
		logger.Int("metrics", stats.Metrics),
		logger.Int("success_factors", stats.SuccessFactors),
	)
	if e.onRebuild != nil {
		e.onRebuild(stats)
	}
	return true
}

// metricsPresent returns, sorted, the metrics held by at least
// MinSampleSize of the given entities.
func (e *Engine) metricsPresent(ids []string) []string {
	counts := make(map[string]int)
	for _, id := range ids {
		for k := range e.entities[id].aggregates {
			counts[k]++
		}
	}
	out := make([]string, 0, len(counts))
	for k, n := range counts {
		if n >= MinSampleSize {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out
}

// pairedMeans returns the means of a and b over entities holding both.
func (e *Engine) pairedMeans(ids []string, a, b string) (xs, ys []float64) {
	for _, id := range ids {
		aggs := e.entities[id].aggregates
		x, okA := aggs[a]
		y, okB := aggs[b]
		if okA && okB {
			xs = append(xs, x.Mean)
			ys = append(ys, y.Mean)
		}
	}
	return xs, ys
}
