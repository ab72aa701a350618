package report

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/GreatValueCreamSoda/govqmt/statistics"
	"github.com/GreatValueCreamSoda/govqmt/video"
	"github.com/klauspost/compress/zstd"
)

// Score is a float64 that survives JSON encoding when infinite. Infinities and
// NaN are encoded as the strings "inf", "-inf" and "nan".
type Score float64

func (s Score) MarshalJSON() ([]byte, error) {
	v := float64(s)
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return json.Marshal(FormatScore(v))
	}
	return json.Marshal(v)
}

func (s *Score) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		switch str {
		case "inf":
			*s = Score(math.Inf(1))
		case "-inf":
			*s = Score(math.Inf(-1))
		case "nan":
			*s = Score(math.NaN())
		default:
			return fmt.Errorf("invalid score %q", str)
		}
		return nil
	}

	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = Score(v)
	return nil
}

// MetricSummary mirrors statistics.Summary with JSON safe values.
type MetricSummary struct {
	Count       int              `json:"count"`
	Min         Score            `json:"min"`
	Max         Score            `json:"max"`
	Average     Score            `json:"average"`
	Median      Score            `json:"median"`
	StdDev      Score            `json:"stddev"`
	Percentiles map[string]Score `json:"percentiles"`
}

func newMetricSummary(s statistics.Summary) MetricSummary {
	m := MetricSummary{
		Count:       s.Count,
		Min:         Score(s.Min),
		Max:         Score(s.Max),
		Average:     Score(s.Average),
		Median:      Score(s.Median),
		StdDev:      Score(s.StdDev),
		Percentiles: make(map[string]Score, len(s.Percentiles)),
	}
	for k, v := range s.Percentiles {
		m.Percentiles[k] = Score(v)
	}
	return m
}

// MetricReport holds the per-frame scores of one metric.
type MetricReport struct {
	Summary MetricSummary `json:"summary"`
	Frames  []Score       `json:"frames"`
}

// Run is the JSON document describing a whole comparison.
type Run struct {
	RunID       string                  `json:"run_id"`
	CreatedAt   time.Time               `json:"created_at"`
	Reference   string                  `json:"reference"`
	Distorted   string                  `json:"distorted"`
	Geometry    video.Geometry          `json:"geometry"`
	Frames      int                     `json:"frames"`
	Compared    int                     `json:"compared"`
	Error       string                  `json:"error,omitempty"`
	Metrics     map[string]MetricReport `json:"metrics"`
	Correlation map[string]float64      `json:"correlation,omitempty"`
}

// AddScores fills r.Metrics and r.Compared from per-metric score series and
// records the Pearson correlation of every metric pair.
func (r *Run) AddScores(names []string, scores map[string][]float64) {
	if r.Metrics == nil {
		r.Metrics = make(map[string]MetricReport, len(names))
	}

	for _, name := range names {
		values := scores[name]
		frames := make([]Score, len(values))
		for i, v := range values {
			frames[i] = Score(v)
		}
		r.Metrics[name] = MetricReport{
			Summary: newMetricSummary(statistics.Summarize(values)),
			Frames:  frames,
		}
		r.Compared = max(r.Compared, len(values))
	}

	for i := range names {
		for j := i + 1; j < len(names); j++ {
			if r.Correlation == nil {
				r.Correlation = make(map[string]float64)
			}
			r.Correlation[names[i]+"/"+names[j]] = statistics.Pearson(
				scores[names[i]], scores[names[j]])
		}
	}
}

// Encode writes r as indented JSON.
func (r *Run) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteFile writes r to path. Paths ending in ".zst" are zstd compressed.
func (r *Run) WriteFile(path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating json report: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	if !strings.HasSuffix(path, ".zst") {
		return r.Encode(f)
	}

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return fmt.Errorf("creating zstd writer: %w", err)
	}
	if err := r.Encode(zw); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}
