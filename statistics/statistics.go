// Package statistics summarizes per-frame score series.
package statistics

import (
	"math"
	"slices"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Percentiles reported for every series, as fractions.
var Percentiles = []float64{0.50, 0.90, 0.95, 0.99}

// Summary holds the aggregate statistics of one score series.
type Summary struct {
	Count       int                `json:"count"`
	Min         float64            `json:"min"`
	Max         float64            `json:"max"`
	Average     float64            `json:"average"`
	Median      float64            `json:"median"`
	StdDev      float64            `json:"stddev"`
	Percentiles map[string]float64 `json:"percentiles"`
}

// Summarize computes the Summary of values. The zero Summary is returned for
// an empty series.
func Summarize(values []float64) Summary {
	if len(values) == 0 {
		return Summary{}
	}

	sorted := slices.Clone(values)
	sort.Float64s(sorted)

	s := Summary{
		Count:       len(values),
		Min:         floats.Min(values),
		Max:         floats.Max(values),
		Average:     Mean(values),
		Median:      median(sorted),
		StdDev:      StdDev(values),
		Percentiles: make(map[string]float64, len(Percentiles)),
	}
	for _, p := range Percentiles {
		s.Percentiles[PercentileName(p)] = percentileSorted(sorted, p)
	}
	return s
}

// Mean returns the arithmetic mean of values. Any +Inf sample makes the mean
// +Inf.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return stat.Mean(values, nil)
}

// StdDev returns the sample standard deviation (n-1 denominator). A single
// sample has a deviation of 0. An infinite sample among several makes the
// deviation +Inf.
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	for _, v := range values {
		if math.IsInf(v, 0) {
			return math.Inf(1)
		}
	}
	_, std := stat.MeanStdDev(values, nil)
	return std
}

// Percentile returns the p-th percentile (0 < p <= 1) of values.
//
// With rank r = n*p, an integral r yields the mean of the r-th and (r+1)-th
// smallest values (the latter clamped to the largest), otherwise the
// ceil(r)-th smallest value is returned.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := slices.Clone(values)
	sort.Float64s(sorted)
	return percentileSorted(sorted, p)
}

func percentileSorted(sorted []float64, p float64) float64 {
	n := len(sorted)
	rank := float64(n) * p

	if math.Abs(rank-math.Round(rank)) < 1e-9 {
		r := int(math.Round(rank))
		lo := min(max(r, 1), n) - 1
		hi := min(r+1, n) - 1
		return (sorted[lo] + sorted[hi]) / 2
	}

	r := int(math.Ceil(rank))
	return sorted[min(max(r, 1), n)-1]
}

// PercentileName renders p as the ordinal label used in reports, for example
// "50th percentile".
func PercentileName(p float64) string {
	return ordinal(int(math.Round(p*100))) + " percentile"
}

func ordinal(n int) string {
	suffix := "th"
	switch {
	case n%100 >= 11 && n%100 <= 13:
	case n%10 == 1:
		suffix = "st"
	case n%10 == 2:
		suffix = "nd"
	case n%10 == 3:
		suffix = "rd"
	}
	return strconv.Itoa(n) + suffix
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
