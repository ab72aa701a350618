package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/GreatValueCreamSoda/govqmt/report"
	"github.com/GreatValueCreamSoda/govqmt/video"
	"github.com/GreatValueCreamSoda/govqmt/video/comparator"
	"github.com/GreatValueCreamSoda/govqmt/video/metrics"
	"github.com/GreatValueCreamSoda/govqmt/video/sources"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/pflag"
)

func main() {
	settings, err := parseArgs(filepath.Base(os.Args[0]), os.Args[1:],
		os.Stderr)
	if errors.Is(err, pflag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		slog.Error("vqmt: invalid configuration", "err", err)
		os.Exit(1)
	}

	runID := uuid.NewString()
	slog.SetDefault(newLogger(os.Stderr, settings.LogLevel).With("run", runID))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, settings, runID, os.Stderr); err != nil {
		slog.Error("vqmt: run failed", "err", err)
		stop()
		os.Exit(1)
	}
}

func newLogger(w io.Writer, levelName string) *slog.Logger {
	level, err := parseLevel(levelName)
	if err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}

// run compares the two videos and writes every report. Rows for the frames
// scored before a failure are still written and the failure is returned.
func run(ctx context.Context, s *cliSettings, runID string,
	stderr io.Writer) (err error) {
	start := time.Now()

	reference, err := sources.NewYUVReader(s.Reference, s.Height, s.Width,
		s.Frames, s.Chroma)
	if err != nil {
		return fmt.Errorf("opening original video: %w", err)
	}
	defer reference.Close()

	distorted, err := sources.NewYUVReader(s.Distorted, s.Height, s.Width,
		s.Frames, s.Chroma)
	if err != nil {
		return fmt.Errorf("opening processed video: %w", err)
	}
	defer distorted.Close()

	numFrames := min(reference.GetNumFrames(), distorted.GetNumFrames())
	if reference.GetNumFrames() != distorted.GetNumFrames() {
		slog.Warn("vqmt: videos differ in length, comparing the shorter",
			"original", reference.GetNumFrames(),
			"processed", distorted.GetNumFrames())
	}

	metricHandlers, err := createMetrics(s)
	if err != nil {
		return err
	}
	defer func() {
		for _, m := range metricHandlers {
			m.Close()
		}
	}()

	heatmapWriter, err := createHeatmapWriterIfRequested(s, metricHandlers)
	if err != nil {
		return err
	}

	comp, err := comparator.NewComparator(reference, distorted,
		metricHandlers, s.FrameThreads, numFrames)
	if err != nil {
		return err
	}

	if !s.Quiet {
		bar := progressbar.NewOptions(
			numFrames,
			progressbar.OptionSetWriter(stderr),
			progressbar.OptionSetDescription("Computing metrics"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
		)
		comp.SetProgressCallback(func(done, total int) {
			_ = bar.Add(1)
		})
		defer fmt.Fprintln(stderr)
	}

	slog.Info("vqmt: comparing", "original", s.Reference,
		"processed", s.Distorted, "geometry", fmt.Sprintf("%dx%d yuv%s",
			s.Width, s.Height, s.Chroma), "frames", numFrames,
		"metrics", s.kinds, "frame_threads", s.FrameThreads)

	scores, runErr := comp.Run(ctx)

	for _, r := range []*sources.YUVReader{reference, distorted} {
		slog.Debug("vqmt: input consumed", "path", r.Path(),
			"frames_read", r.FramesRead())
	}

	if heatmapWriter != nil {
		if err := heatmapWriter.Close(); err != nil {
			runErr = errors.Join(runErr,
				fmt.Errorf("failed to finalize heat map: %w", err))
		}
		slog.Info("vqmt: wrote heat map", "path", s.SSIMVideoPath,
			"frames", heatmapWriter.Frames())
	}

	names := make([]string, len(metricHandlers))
	for i, m := range metricHandlers {
		names[i] = m.Name()
	}

	paths, err := report.WriteCSVFiles(s.Output, names, scores)
	if err != nil {
		return errors.Join(runErr, err)
	}
	slog.Debug("vqmt: wrote results", "files", paths)

	if s.JSONPath != "" {
		doc := report.Run{
			RunID:     runID,
			CreatedAt: start.UTC(),
			Reference: s.Reference,
			Distorted: s.Distorted,
			Geometry:  s.geometry(),
			Frames:    numFrames,
		}
		if runErr != nil {
			doc.Error = runErr.Error()
		}
		doc.AddScores(names, scores)
		if err := doc.WriteFile(s.JSONPath); err != nil {
			return errors.Join(runErr, err)
		}
	}

	printSummary(stderr, names, scores)
	slog.Info("vqmt: done", "elapsed", time.Since(start).Round(time.Millisecond))
	return runErr
}

func createMetrics(s *cliSettings) ([]video.Metric, error) {
	handlers := make([]video.Metric, 0, len(s.kinds))
	for _, k := range s.kinds {
		h, err := metrics.New(k, metrics.Options{
			Geometry: s.geometry(),
			Workers:  s.FrameThreads,
		})
		if err != nil {
			for _, created := range handlers {
				created.Close()
			}
			return nil, fmt.Errorf("%s creation failed: %w", k, err)
		}
		handlers = append(handlers, h)
	}
	return handlers, nil
}

// createHeatmapWriterIfRequested attaches the heat map video to the first
// metric able to produce distortion maps.
func createHeatmapWriterIfRequested(s *cliSettings,
	handlers []video.Metric) (*metrics.HeatmapWriter, error) {
	if s.SSIMVideoPath == "" {
		return nil, nil
	}

	for _, h := range handlers {
		mapper, ok := h.(metrics.MetricWithDistortionMap)
		if !ok {
			continue
		}
		writer, err := metrics.WriteDistMapToVideo(mapper, s.FrameRate, nil,
			s.SSIMVideoPath, s.SSIMClipping)
		if err != nil {
			return nil, fmt.Errorf(
				"failed to create heatmap writer for %s: %w",
				s.SSIMVideoPath, err)
		}
		return writer, nil
	}

	return nil, fmt.Errorf("%s: %w", s.SSIMVideoPath,
		metrics.ErrDistortionMapUnsupported)
}
