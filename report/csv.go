// Package report writes per-frame metric scores to disk.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/GreatValueCreamSoda/govqmt/statistics"
)

// CSVPath returns the file a metric's scores are written to.
func CSVPath(prefix, metric string) string {
	return prefix + "_" + metric + ".csv"
}

// FormatScore renders a score with six decimals. Infinite scores, such as the
// PSNR of identical frames, are written as "inf" and "-inf".
func FormatScore(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	case math.IsNaN(v):
		return "nan"
	}
	return strconv.FormatFloat(v, 'f', 6, 64)
}

// CSVSink streams "frame,value" rows for a single metric and appends the
// summary trailer on Close.
type CSVSink struct {
	w      *csv.Writer
	closer io.Closer
	values []float64
	closed bool
}

// NewCSVSink writes rows to w. If w is an io.Closer it is closed by Close.
func NewCSVSink(w io.Writer) (*CSVSink, error) {
	s := &CSVSink{w: csv.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	if err := s.w.Write([]string{"frame", "value"}); err != nil {
		return nil, fmt.Errorf("writing csv header: %w", err)
	}
	return s, nil
}

// CreateCSV creates (or truncates) CSVPath(prefix, metric).
func CreateCSV(prefix, metric string) (*CSVSink, error) {
	f, err := os.Create(CSVPath(prefix, metric))
	if err != nil {
		return nil, fmt.Errorf("creating %s result file: %w", metric, err)
	}
	s, err := NewCSVSink(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

// Write appends the score of frame.
func (s *CSVSink) Write(frame int, value float64) error {
	if s.closed {
		return fmt.Errorf("write to closed csv sink")
	}
	s.values = append(s.values, value)
	return s.w.Write([]string{strconv.Itoa(frame), FormatScore(value)})
}

// Values returns the scores written so far.
func (s *CSVSink) Values() []float64 { return s.values }

// Close writes the summary trailer, flushes and closes the underlying writer.
// The trailer is omitted when no rows were written. Close is idempotent.
func (s *CSVSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	err := s.writeTrailer()
	s.w.Flush()
	if ferr := s.w.Error(); err == nil {
		err = ferr
	}
	if s.closer != nil {
		if cerr := s.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (s *CSVSink) writeTrailer() error {
	if len(s.values) == 0 {
		return nil
	}

	summary := statistics.Summarize(s.values)
	rows := [][]string{
		{"average", FormatScore(summary.Average)},
		{"standard deviation", FormatScore(summary.StdDev)},
	}
	for _, p := range statistics.Percentiles {
		name := statistics.PercentileName(p)
		rows = append(rows, []string{name, FormatScore(summary.Percentiles[name])})
	}
	return s.w.WriteAll(rows)
}

// WriteCSVFiles writes one CSV file per metric in scores, in the order given
// by names. It returns the paths written.
func WriteCSVFiles(prefix string, names []string,
	scores map[string][]float64) ([]string, error) {
	paths := make([]string, 0, len(names))
	for _, name := range names {
		sink, err := CreateCSV(prefix, name)
		if err != nil {
			return paths, err
		}
		for frame, v := range scores[name] {
			if err := sink.Write(frame, v); err != nil {
				sink.Close()
				return paths, err
			}
		}
		if err := sink.Close(); err != nil {
			return paths, fmt.Errorf("finalizing %s: %w",
				CSVPath(prefix, name), err)
		}
		paths = append(paths, CSVPath(prefix, name))
	}
	return paths, nil
}
