package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/GreatValueCreamSoda/govqmt/report"
	"github.com/GreatValueCreamSoda/govqmt/video"
	"github.com/GreatValueCreamSoda/govqmt/video/metrics"
	"github.com/GreatValueCreamSoda/govqmt/video/sources"
	"github.com/klauspost/compress/zstd"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testHeight = 32
	testWidth  = 32
	frameSize  = testHeight * testWidth * 3 / 2
)

// writeVideos writes an original of n frames and a processed copy of m
// frames in which every frame but the first is perturbed.
func writeVideos(t *testing.T, n, m int) (string, string) {
	t.Helper()
	dir := t.TempDir()

	rng := rand.New(rand.NewSource(7))
	original := make([]byte, n*frameSize)
	for i := range original {
		original[i] = byte(rng.Intn(256))
	}

	processed := make([]byte, m*frameSize)
	copy(processed, original)
	for i := frameSize; i < len(processed); i++ {
		processed[i] = byte(min(int(processed[i])+rng.Intn(9), 255))
	}

	ref := filepath.Join(dir, "original.yuv")
	dist := filepath.Join(dir, "processed.yuv")
	require.NoError(t, os.WriteFile(ref, original, 0o644))
	require.NoError(t, os.WriteFile(dist, processed, 0o644))
	return ref, dist
}

func readReport(t *testing.T, path string) *report.Run {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var src io.Reader = f
	if strings.HasSuffix(path, ".zst") {
		zr, err := zstd.NewReader(f)
		require.NoError(t, err)
		defer zr.Close()
		src = zr
	}

	var doc report.Run
	require.NoError(t, json.NewDecoder(src).Decode(&doc))
	return &doc
}

func parse(t *testing.T, args ...string) (*cliSettings, error) {
	t.Helper()
	var stderr bytes.Buffer
	return parseArgs("vqmt", args, &stderr)
}

func Test_parseArgs_Flags(t *testing.T) {
	s, err := parse(t, "-r", "a.yuv", "-d", "b.yuv", "--height", "64",
		"--width", "48", "--chroma", "444", "-o", "out/clip",
		"--metrics", "YPSNR,fastssim", "--frame-threads", "4")
	require.NoError(t, err)

	assert.Equal(t, "a.yuv", s.Reference)
	assert.Equal(t, "b.yuv", s.Distorted)
	assert.Equal(t, video.Geometry{Height: 64, Width: 48,
		Chroma: video.Chroma444}, s.geometry())
	assert.Equal(t, 0, s.Frames)
	assert.Equal(t, 4, s.FrameThreads)
	assert.Equal(t, []metrics.Kind{metrics.PSNR, metrics.FASTSSIM}, s.kinds)
}

func Test_parseArgs_Positional(t *testing.T) {
	s, err := parse(t, "orig.yuv", "proc.yuv", "32", "48", "10", "1", "res",
		"PSNR", "SSIM", "YUVSSIM")
	require.NoError(t, err)

	assert.Equal(t, "orig.yuv", s.Reference)
	assert.Equal(t, "proc.yuv", s.Distorted)
	assert.Equal(t, 32, s.Height)
	assert.Equal(t, 48, s.Width)
	assert.Equal(t, 10, s.Frames)
	assert.Equal(t, video.Chroma420, s.Chroma)
	assert.Equal(t, "res", s.Output)
	assert.Equal(t, []metrics.Kind{metrics.PSNR, metrics.SSIM,
		metrics.YUVSSIM}, s.kinds)
	assert.Equal(t, 1, s.FrameThreads)
}

func Test_parseArgs_Config(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
reference: a.yuv
distorted: b.yuv
height: 32
width: 32
chroma: "4:2:2"
output: from-config
metrics: [yuvpsnr]
frame_threads: 2
`), 0o644))

	s, err := parse(t, "--config", path, "--output", "from-flag")
	require.NoError(t, err)
	assert.Equal(t, "from-flag", s.Output)
	assert.Equal(t, video.Chroma422, s.Chroma)
	assert.Equal(t, 2, s.FrameThreads)
	assert.Equal(t, []metrics.Kind{metrics.YUVPSNR}, s.kinds)

	s, err = parse(t, "--metrics", "ssim", "--config="+path)
	require.NoError(t, err)
	assert.Equal(t, []metrics.Kind{metrics.SSIM}, s.kinds)
	assert.Equal(t, "from-config", s.Output)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("colour: red\n"), 0o644))
	_, err = parse(t, "--config", bad)
	assert.Error(t, err)

	_, err = parse(t, "--config", filepath.Join(t.TempDir(), "none.yaml"))
	assert.Error(t, err)
}

func Test_parseArgs_Errors(t *testing.T) {
	base := []string{"-r", "a.yuv", "-d", "b.yuv", "--height", "32",
		"--width", "32", "-o", "out"}

	tests := map[string][]string{
		"missing output":    {"-r", "a", "-d", "b", "--height", "32", "--width", "32"},
		"missing videos":    {"--height", "32", "--width", "32", "-o", "out"},
		"two stdin":         {"-r", "-", "-d", "-", "--height", "32", "--width", "32", "-o", "out"},
		"odd 420":           append(base, "--height", "31"),
		"unknown metric":    append(base, "--metrics", "vifp"),
		"zero threads":      append(base, "--frame-threads", "0"),
		"negative frames":   append(base, "--frames", "-1"),
		"bad level":         append(base, "--log-level", "loud"),
		"fastssim multiple": append(base, "--metrics", "fastssim", "--height", "36"),
		"heatmap threads":   append(base, "--ssim-video-path", "h.mkv", "--frame-threads", "2"),
		"bad chroma":        append(base, "--chroma", "411"),
		"unknown flag":      append(base, "--vifp"),
		"short positional":  {"a", "b", "32", "32", "1", "1", "out"},
		"positional height": {"a", "b", "x", "32", "1", "1", "out", "PSNR"},
		"positional chroma": {"a", "b", "32", "32", "1", "9", "out", "PSNR"},
	}
	for name, args := range tests {
		_, err := parse(t, args...)
		assert.Error(t, err, name)
	}
}

func Test_parseArgs_Help(t *testing.T) {
	var stderr bytes.Buffer
	_, err := parseArgs("vqmt", []string{"--help"}, &stderr)
	assert.ErrorIs(t, err, pflag.ErrHelp)
	assert.Contains(t, stderr.String(), "Video Options")
	assert.Contains(t, stderr.String(), "--ssim-video-path")
	assert.Contains(t, stderr.String(), legacyUsage)
}

func Test_run_WritesReports(t *testing.T) {
	ref, dist := writeVideos(t, 4, 4)
	out := filepath.Join(t.TempDir(), "clip")
	jsonPath := out + ".json.zst"

	for _, threads := range []string{"1", "3"} {
		s, err := parse(t, "-r", ref, "-d", dist, "--height", "32",
			"--width", "32", "-o", out, "--metrics", "psnr,yuvpsnr,ssim",
			"--json", jsonPath, "--quiet", "--frame-threads", threads)
		require.NoError(t, err)

		var stderr bytes.Buffer
		require.NoError(t, run(context.Background(), s, "run-1", &stderr))
		assert.Contains(t, stderr.String(), "Metric summary")
		assert.Contains(t, stderr.String(), "Kendall correlations")

		psnr, err := os.ReadFile(out + "_psnr.csv")
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(string(psnr)), "\n")
		require.Len(t, lines, 1+4+6)
		assert.Equal(t, "frame,value", lines[0])
		assert.Equal(t, "0,inf", lines[1])
		assert.True(t, strings.HasPrefix(lines[2], "1,"))
		assert.True(t, strings.HasPrefix(lines[5], "average,"))
		assert.True(t, strings.HasPrefix(lines[10], "99th percentile,"))

		ssim, err := os.ReadFile(out + "_ssim.csv")
		require.NoError(t, err)
		assert.Contains(t, string(ssim), "\n0,1.000000\n")
		assert.FileExists(t, out+"_yuvpsnr.csv")

		doc := readReport(t, jsonPath)
		assert.Equal(t, "run-1", doc.RunID)
		assert.Equal(t, 4, doc.Compared)
		assert.Empty(t, doc.Error)
		assert.Len(t, doc.Metrics["ssim"].Frames, 4)
	}
}

func Test_run_MonochromeNoise(t *testing.T) {
	const (
		size   = 256
		frames = 3
		sigma  = 4.0
	)
	dir := t.TempDir()
	rng := rand.New(rand.NewSource(11))

	original := make([]byte, frames*size*size)
	processed := make([]byte, len(original))
	for i := range original {
		// Content stays far enough from 0 and 255 that the noise never clips.
		original[i] = byte(64 + (i%size+i/size)%128)
		noisy := float64(original[i]) + math.Round(rng.NormFloat64()*sigma)
		processed[i] = byte(min(max(noisy, 0), 255))
	}

	ref := filepath.Join(dir, "gray.yuv")
	dist := filepath.Join(dir, "gray_noisy.yuv")
	require.NoError(t, os.WriteFile(ref, original, 0o644))
	require.NoError(t, os.WriteFile(dist, processed, 0o644))
	out := filepath.Join(dir, "gray")

	s, err := parse(t, ref, dist, "256", "256", "0", "0", out, "PSNR", "-q")
	require.NoError(t, err)
	require.Equal(t, video.Chroma400, s.Chroma)

	var stderr bytes.Buffer
	require.NoError(t, run(context.Background(), s, "run-6", &stderr))

	data, err := os.ReadFile(out + "_psnr.csv")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1+frames+6)

	// Rounding the noise to integers adds a uniform error of variance 1/12.
	want := 10 * math.Log10(255*255/(sigma*sigma+1.0/12))
	for i := range frames {
		var frame int
		var got float64
		_, err := fmt.Sscanf(lines[1+i], "%d,%f", &frame, &got)
		require.NoError(t, err, lines[1+i])
		assert.Equal(t, i, frame)
		assert.InDelta(t, want, got, 0.1, "frame %d", i)
		assert.InDelta(t, 10*math.Log10(255*255/(sigma*sigma)), got, 0.15)
	}
}

func Test_run_FrameCountFromFileSize(t *testing.T) {
	ref, dist := writeVideos(t, 5, 3)
	out := filepath.Join(t.TempDir(), "auto")

	s, err := parse(t, ref, dist, "32", "32", "0", "1", out, "PSNR")
	require.NoError(t, err)
	s.Quiet = true

	var stderr bytes.Buffer
	require.NoError(t, run(context.Background(), s, "run-2", &stderr))

	data, err := os.ReadFile(out + "_psnr.csv")
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(data)), "\n"), 1+3+6)
}

func Test_run_ShortVideoKeepsScoredRows(t *testing.T) {
	ref, dist := writeVideos(t, 5, 3)
	out := filepath.Join(t.TempDir(), "short")

	s, err := parse(t, ref, dist, "32", "32", "5", "1", out, "PSNR", "SSIM",
		"-q")
	require.NoError(t, err)

	var stderr bytes.Buffer
	err = run(context.Background(), s, "run-3", &stderr)
	require.Error(t, err)
	assert.ErrorIs(t, err, sources.ErrOutOfFrames)

	data, err := os.ReadFile(out + "_ssim.csv")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1+3+6)
	assert.True(t, strings.HasPrefix(lines[3], "2,"))
	assert.True(t, strings.HasPrefix(lines[4], "average,"))
}

func Test_run_HeatmapNeedsSSIM(t *testing.T) {
	ref, dist := writeVideos(t, 2, 2)
	out := filepath.Join(t.TempDir(), "heat")

	s, err := parse(t, "-r", ref, "-d", dist, "--height", "32", "--width",
		"32", "-o", out, "--metrics", "psnr", "--ssim-video-path",
		filepath.Join(t.TempDir(), "heat.mkv"), "-q")
	require.NoError(t, err)

	var stderr bytes.Buffer
	err = run(context.Background(), s, "run-4", &stderr)
	assert.ErrorIs(t, err, metrics.ErrDistortionMapUnsupported)
	assert.NoFileExists(t, out+"_psnr.csv")
}

func Test_run_MissingInput(t *testing.T) {
	s, err := parse(t, "-r", filepath.Join(t.TempDir(), "nope.yuv"), "-d",
		"x.yuv", "--height", "32", "--width", "32", "--frames", "2", "-o",
		filepath.Join(t.TempDir(), "x"), "-q")
	require.NoError(t, err)

	err = run(context.Background(), s, "run-5", &bytes.Buffer{})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func Test_printSummary(t *testing.T) {
	var out bytes.Buffer
	printSummary(&out, []string{"psnr", "ssim"}, map[string][]float64{
		"psnr": {40, 35, 30},
		"ssim": {0.99, 0.94, 0.89},
	})
	text := out.String()
	assert.Contains(t, text, "psnr\n----\n")
	assert.Contains(t, text, "50th percentile")
	assert.Contains(t, text, "Pearson correlations")
	assert.Contains(t, text, "psnr ↔ ssim :  1.000000")

	out.Reset()
	printSummary(&out, nil, nil)
	assert.Equal(t, "No scores to report\n", out.String())
}
