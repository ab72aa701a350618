package metrics

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os/exec"
	"strconv"
	"sync"

	"github.com/GreatValueCreamSoda/govqmt/video"
)

// ErrDistortionMapUnsupported is returned by metrics that cannot produce a
// per-pixel distortion map.
var ErrDistortionMapUnsupported = errors.New("distortion maps are " +
	"unsupported for this metric")

// MetricWithDistortionMap is a metric that can hand a per-pixel distortion
// map to a callback after every Compute.
type MetricWithDistortionMap interface {
	SetDistMapCallback(DistortionMapCallback) error
	GetDistMapResolution() (int, int, error)
	video.Metric
}

// DistortionMapCallback receives one distortion map per frame. The slice is
// reused by the metric and only valid during the call.
type DistortionMapCallback func([]float32) error

// HeatmapWriter streams distortion maps as grayf32le frames, normalized to
// [0, 1] by a clipping value. WriteDistMapToVideo pipes them through ffmpeg
// into a pseudocolored video.
type HeatmapWriter struct {
	cmd *exec.Cmd
	out io.WriteCloser

	maxValue float32

	byteBuf []byte
	frames  int

	closeOnce sync.Once
	closeErr  error
}

// NewHeatmapWriter writes raw normalized maps to out. Close closes out.
func NewHeatmapWriter(out io.WriteCloser, maxValue float32) (*HeatmapWriter,
	error) {
	if !(maxValue > 0) {
		return nil, fmt.Errorf("maxValue must be > 0, got %g", maxValue)
	}
	return &HeatmapWriter{out: out, maxValue: maxValue}, nil
}

// WriteDistMapToVideo starts ffmpeg encoding path and registers the writer as
// the metric's distortion map callback.
func WriteDistMapToVideo(metric MetricWithDistortionMap, frameRate float32,
	settings []string, path string, maxValue float32) (*HeatmapWriter,
	error) {

	width, height, err := metric.GetDistMapResolution()
	if err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid resolution: %dx%d", width, height)
	}

	cmd, pipe, err := startFFmpeg(width, height, frameRate, settings, path)
	if err != nil {
		return nil, err
	}

	writer, err := NewHeatmapWriter(pipe, maxValue)
	if err != nil {
		pipe.Close()
		return nil, err
	}
	writer.cmd = cmd

	if err := cmd.Start(); err != nil {
		pipe.Close()
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	if err := metric.SetDistMapCallback(writer.WriteDistortion); err != nil {
		_ = writer.Close()
		return nil, err
	}

	return writer, nil
}

func startFFmpeg(width int, height int, frameRate float32, settings []string,
	outputPath string) (*exec.Cmd, io.WriteCloser, error) {

	if !(frameRate > 0) {
		return nil, nil, fmt.Errorf("frame rate must be > 0, got %g",
			frameRate)
	}

	frameRateStr := strconv.FormatFloat(float64(frameRate), 'f', -1, 64)
	resolution := fmt.Sprintf("%dx%d", width, height)

	if settings == nil {
		settings = []string{"-c:v", "libx264", "-preset", "fast", "-crf", "18"}
	}

	args := append([]string{
		"-y",
		"-f", "rawvideo",
		"-pixel_format", "grayf32le",
		"-s", resolution,
		"-r", frameRateStr,
		"-i", "-",
		"-vf", "format=rgb24,pseudocolor=p=heat",
		"-pix_fmt", "yuv420p",
	}, append(settings, outputPath)...)

	cmd := exec.Command("ffmpeg", args...)

	pipe, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get ffmpeg stdin pipe: %w", err)
	}
	return cmd, pipe, nil
}

// WriteDistortion clips, normalizes and writes one map.
func (h *HeatmapWriter) WriteDistortion(input []float32) error {
	if len(input) == 0 {
		return nil
	}

	if cap(h.byteBuf) < len(input)*4 {
		h.byteBuf = make([]byte, len(input)*4)
	}
	h.byteBuf = h.byteBuf[:len(input)*4]

	scale := 1 / h.maxValue
	for i, v := range input {
		v = min(max(v, 0), h.maxValue) * scale
		binary.LittleEndian.PutUint32(h.byteBuf[i*4:], math.Float32bits(v))
	}

	if _, err := h.out.Write(h.byteBuf); err != nil {
		return fmt.Errorf("heatmap frame %d: %w", h.frames, err)
	}
	h.frames++
	return nil
}

// Frames returns the number of maps written so far.
func (h *HeatmapWriter) Frames() int { return h.frames }

// Close flushes the stream and, for ffmpeg backed writers, waits for the
// encoder to exit.
func (h *HeatmapWriter) Close() error {
	h.closeOnce.Do(func() {
		err := h.out.Close()
		if h.cmd != nil {
			if waitErr := h.cmd.Wait(); waitErr != nil {
				err = fmt.Errorf("ffmpeg failed: %w", waitErr)
			}
		}
		h.closeErr = err
	})
	return h.closeErr
}
