package main

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/GreatValueCreamSoda/govqmt/report"
	"github.com/GreatValueCreamSoda/govqmt/statistics"
)

// printSummary writes the per metric statistics and the correlations between
// metrics. names fixes the print order.
func printSummary(w io.Writer, names []string, scores map[string][]float64) {
	if len(scores) == 0 {
		fmt.Fprintln(w, "No scores to report")
		return
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Metric summary")
	fmt.Fprintln(w, "==============")

	printed := make([]string, 0, len(names))
	for _, name := range names {
		values := scores[name]
		if len(values) == 0 {
			continue
		}
		printMetricSummary(w, name, values)
		printed = append(printed, name)
	}

	if len(printed) > 1 {
		printCorrelations(w, scores, printed,
			statistics.DefaultCorrelationMethods())
	}
}

func printMetricSummary(w io.Writer, name string, values []float64) {
	s := statistics.Summarize(values)

	fmt.Fprintln(w)
	fmt.Fprintln(w, name)
	fmt.Fprintln(w, strings.Repeat("-", len(name)))

	fmt.Fprintf(w, "  %-16s: %d\n", "frames", s.Count)
	fmt.Fprintf(w, "  %-16s: %s\n", "min", report.FormatScore(s.Min))
	fmt.Fprintf(w, "  %-16s: %s\n", "max", report.FormatScore(s.Max))
	fmt.Fprintf(w, "  %-16s: %s\n", "average", report.FormatScore(s.Average))
	fmt.Fprintf(w, "  %-16s: %s\n", "median", report.FormatScore(s.Median))
	fmt.Fprintf(w, "  %-16s: %s\n", "stddev", report.FormatScore(s.StdDev))
	for _, p := range statistics.Percentiles {
		label := statistics.PercentileName(p)
		fmt.Fprintf(w, "  %-16s: %s\n", label,
			report.FormatScore(s.Percentiles[label]))
	}
}

func printCorrelations(w io.Writer, scores map[string][]float64,
	names []string, methods []statistics.CorrelationMethod) {
	maxLen := 0
	for _, name := range names {
		maxLen = max(maxLen, len(name))
	}

	formatStr := fmt.Sprintf("  %%-%ds ↔ %%-%ds : %% .6f\n", maxLen, maxLen)

	for _, method := range methods {
		fmt.Fprintln(w)
		fmt.Fprintln(w, method.Name, "correlations")
		fmt.Fprintln(w, strings.Repeat("=", len(method.Name)+13))

		for i := 0; i < len(names); i++ {
			for j := i + 1; j < len(names); j++ {
				a, b := names[i], names[j]
				x, y := scores[a], scores[b]

				if len(x) != len(y) {
					continue
				}

				r := method.Fn(x, y)
				fmt.Fprintf(w, formatStr, a, b, math.Abs(r))
			}
		}
	}
}
