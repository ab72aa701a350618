package statistics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// CorrelationMethod names a correlation coefficient between two equally long
// series.
type CorrelationMethod struct {
	Name string
	Fn   func(x, y []float64) float64
}

// DefaultCorrelationMethods returns the coefficients printed in summaries.
func DefaultCorrelationMethods() []CorrelationMethod {
	return []CorrelationMethod{
		{"Pearson", Pearson},
		{"Spearman", Spearman},
		{"Kendall", KendallTau},
	}
}

// finitePairs drops the positions where either series is not finite, such as
// the +Inf PSNR of identical frames.
func finitePairs(x, y []float64) ([]float64, []float64) {
	fx := make([]float64, 0, len(x))
	fy := make([]float64, 0, len(y))
	for i := range x {
		if math.IsInf(x[i], 0) || math.IsNaN(x[i]) ||
			math.IsInf(y[i], 0) || math.IsNaN(y[i]) {
			continue
		}
		fx = append(fx, x[i])
		fy = append(fy, y[i])
	}
	return fx, fy
}

// Pearson returns the linear correlation of x and y, or 0 when the series
// differ in length, are empty, or either is constant.
func Pearson(x, y []float64) float64 {
	if len(x) == 0 || len(x) != len(y) {
		return 0
	}
	x, y = finitePairs(x, y)
	if len(x) < 2 {
		return 0
	}

	r := stat.Correlation(x, y, nil)
	if math.IsNaN(r) {
		return 0
	}
	return r
}

// Spearman returns the rank correlation of x and y.
func Spearman(x, y []float64) float64 {
	if len(x) == 0 || len(x) != len(y) {
		return 0
	}
	x, y = finitePairs(x, y)
	return Pearson(ranks(x), ranks(y))
}

// KendallTau returns Kendall's tau-a of x and y.
func KendallTau(x, y []float64) float64 {
	if len(x) == 0 || len(x) != len(y) {
		return 0
	}
	x, y = finitePairs(x, y)

	n := len(x)
	var concordant, discordant float64
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := (x[i] - x[j]) * (y[i] - y[j])
			if d > 0 {
				concordant++
			} else if d < 0 {
				discordant++
			}
		}
	}

	denom := float64(n*(n-1)) / 2
	if denom == 0 {
		return 0
	}
	return (concordant - discordant) / denom
}

// ranks assigns 1-based ranks, averaging the ranks of tied values.
func ranks(values []float64) []float64 {
	n := len(values)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return values[order[i]] < values[order[j]]
	})

	out := make([]float64, n)
	for i := 0; i < n; {
		j := i + 1
		for j < n && values[order[j]] == values[order[i]] {
			j++
		}
		rank := float64(i+j+1) / 2
		for k := i; k < j; k++ {
			out[order[k]] = rank
		}
		i = j
	}
	return out
}
