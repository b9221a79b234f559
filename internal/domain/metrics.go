package domain

import (
	"sort"
	"sync"
)

// MetricsAccumulator maintains running means over the numeric fields of
// verified rollouts. Booleans fold in as 0/1; non-numeric fields are
// ignored. The accumulator is reinitialized per collection run and is
// safe for concurrent use by completing tasks.
type MetricsAccumulator struct {
	mu     sync.Mutex
	sums   map[string]float64
	counts map[string]int
	folded int
}

// NewMetricsAccumulator returns an empty accumulator.
func NewMetricsAccumulator() *MetricsAccumulator {
	return &MetricsAccumulator{
		sums:   make(map[string]float64),
		counts: make(map[string]int),
	}
}

// Fold adds one rollout's metric fields to the running totals.
func (a *MetricsAccumulator) Fold(fields map[string]any) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.folded++
	for name, v := range fields {
		f, ok := numericValue(v)
		if !ok {
			continue
		}
		a.sums[name] += f
		a.counts[name]++
	}
}

// Count reports how many rollouts have been folded in.
func (a *MetricsAccumulator) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.folded
}

// Means finalizes the aggregates: the mean of every numeric field seen,
// each divided by the number of rollouts that carried that field.
func (a *MetricsAccumulator) Means() map[string]float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[string]float64, len(a.sums))
	for name, sum := range a.sums {
		out[name] = sum / float64(a.counts[name])
	}
	return out
}

// MetricNames returns the sorted names of every aggregated field,
// for stable summary output.
func (a *MetricsAccumulator) MetricNames() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	names := make([]string, 0, len(a.sums))
	for name := range a.sums {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// numericValue coerces JSON-decoded values into float64.
// Booleans count as 0/1 so success flags aggregate into rates.
func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
