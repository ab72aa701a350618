package metrics_test

import (
	"bytes"
	"encoding/binary"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/GreatValueCreamSoda/govqmt/video"
	"github.com/GreatValueCreamSoda/govqmt/video/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var geom = video.Geometry{Height: 32, Width: 48, Chroma: video.Chroma420}

// frame builds a frame holding every view, filled from a seeded generator.
// noise perturbs a copy of the same content.
func frame(t *testing.T, seed int64, noise float64) *video.Frame {
	t.Helper()
	f, err := video.NewFrame(geom, video.InputLuma|video.InputInterleaved|
		video.InputPlanes)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(seed))
	nrng := rand.New(rand.NewSource(seed + 1000))
	sample := func() float32 {
		v := float32(rng.Intn(200) + 20)
		if noise > 0 {
			v += float32(nrng.NormFloat64() * noise)
		}
		return v
	}
	for i := range f.Luma.Data() {
		f.Luma.Data()[i] = sample()
	}
	for i := range f.Interleaved.Data() {
		f.Interleaved.Data()[i] = sample()
	}
	return f
}

type nopCloser struct{ *bytes.Buffer }

func (nopCloser) Close() error { return nil }

func Test_ParseKind(t *testing.T) {
	tests := map[string]metrics.Kind{
		"PSNR":     metrics.PSNR,
		"YPSNR":    metrics.PSNR,
		"yuvpsnr":  metrics.YUVPSNR,
		"SSIM":     metrics.SSIM,
		"YUVSSIM":  metrics.YUVSSIM,
		"FastSSIM": metrics.FASTSSIM,
		" ssimu2 ": metrics.SSIMU2,
	}
	for in, want := range tests {
		got, err := metrics.ParseKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := metrics.ParseKind("VIFP")
	assert.Error(t, err)
}

func Test_ParseKinds_Dedup(t *testing.T) {
	kinds, err := metrics.ParseKinds([]string{"SSIM", "PSNR", "", "YPSNR",
		"ssim"})
	require.NoError(t, err)
	assert.Equal(t, []metrics.Kind{metrics.SSIM, metrics.PSNR}, kinds)
}

func Test_Kind_Names(t *testing.T) {
	names := make([]string, 0)
	for _, k := range metrics.Kinds() {
		names = append(names, k.String())
	}
	assert.Equal(t, []string{"psnr", "yuvpsnr", "ssim", "yuvssim",
		"fastssim", "ssimu2"}, names)
}

func Test_Kind_Inputs(t *testing.T) {
	assert.Equal(t, video.InputLuma, metrics.PSNR.Inputs())
	assert.Equal(t, video.InputInterleaved, metrics.YUVSSIM.Inputs())
	assert.Equal(t, video.InputPlanes, metrics.SSIMU2.Inputs())
}

func Test_Kind_CheckGeometry(t *testing.T) {
	ok := video.Geometry{Height: 64, Width: 64, Chroma: video.Chroma420}
	for _, k := range metrics.Kinds() {
		assert.NoError(t, k.CheckGeometry(ok), k.String())
	}

	notEight := video.Geometry{Height: 36, Width: 64, Chroma: video.Chroma420}
	assert.ErrorIs(t, metrics.FASTSSIM.CheckGeometry(notEight),
		video.ErrGeometry)
	assert.NoError(t, metrics.SSIM.CheckGeometry(notEight))

	tiny := video.Geometry{Height: 10, Width: 64, Chroma: video.Chroma444}
	assert.ErrorIs(t, metrics.SSIM.CheckGeometry(tiny), video.ErrGeometry)
	assert.NoError(t, metrics.PSNR.CheckGeometry(tiny))

	mono := video.Geometry{Height: 64, Width: 64, Chroma: video.Chroma400}
	assert.ErrorIs(t, metrics.SSIMU2.CheckGeometry(mono), video.ErrGeometry)
}

func Test_New_Validates(t *testing.T) {
	_, err := metrics.New(metrics.SSIM, metrics.Options{Geometry: geom})
	assert.Error(t, err, "zero workers")

	_, err = metrics.New(metrics.FASTSSIM, metrics.Options{
		Geometry: video.Geometry{Height: 36, Width: 36,
			Chroma: video.Chroma444},
		Workers: 1,
	})
	assert.ErrorIs(t, err, video.ErrGeometry)

	for _, k := range []metrics.Kind{metrics.PSNR, metrics.YUVPSNR,
		metrics.SSIM, metrics.YUVSSIM, metrics.FASTSSIM} {
		assert.True(t, metrics.Available(k))
		m, err := metrics.New(k, metrics.Options{Geometry: geom, Workers: 2})
		require.NoError(t, err, k.String())
		assert.Equal(t, k.String(), m.Name())
		assert.Equal(t, k.Inputs(), m.Inputs())
		m.Close()
	}
}

func Test_PSNRHandler(t *testing.T) {
	h := metrics.NewPSNRHandler(metrics.PSNR)
	a := frame(t, 1, 0)

	scores, err := h.Compute(a, a)
	require.NoError(t, err)
	assert.True(t, math.IsInf(scores["psnr"], 1))

	b := frame(t, 1, 0)
	for i := range b.Luma.Data() {
		b.Luma.Data()[i] += 5
	}
	scores, err = h.Compute(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 10*math.Log10(255*255/25.0), scores["psnr"], 1e-9)

	yuv := metrics.NewPSNRHandler(metrics.YUVPSNR)
	scores, err = yuv.Compute(a, frame(t, 1, 3))
	require.NoError(t, err)
	assert.Contains(t, scores, "yuvpsnr")
}

func Test_Handler_MissingView(t *testing.T) {
	lumaOnly, err := video.NewFrame(geom, video.InputLuma)
	require.NoError(t, err)

	_, err = metrics.NewPSNRHandler(metrics.YUVPSNR).Compute(lumaOnly,
		lumaOnly)
	assert.Error(t, err)
}

func Test_SSIMHandler_Scores(t *testing.T) {
	for _, k := range []metrics.Kind{metrics.SSIM, metrics.YUVSSIM,
		metrics.FASTSSIM} {
		h, err := metrics.NewSSIMHandler(k, 1, geom)
		require.NoError(t, err)

		a := frame(t, 2, 0)
		scores, err := h.Compute(a, a)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, scores[k.String()], 1e-6)

		scores, err = h.Compute(a, frame(t, 2, 15))
		require.NoError(t, err)
		assert.Less(t, scores[k.String()], 1.0)
		h.Close()
	}
}

func Test_SSIMHandler_ConcurrentWorkers(t *testing.T) {
	h, err := metrics.NewSSIMHandler(metrics.SSIM, 3, geom)
	require.NoError(t, err)
	defer h.Close()

	a, b := frame(t, 3, 0), frame(t, 3, 10)
	want, err := h.Compute(a, b)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 12 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := h.Compute(a, b)
			assert.NoError(t, err)
			assert.Equal(t, want, got)
		}()
	}
	wg.Wait()
}

func Test_SSIMHandler_DistortionMap(t *testing.T) {
	multi, err := metrics.NewSSIMHandler(metrics.SSIM, 2, geom)
	require.NoError(t, err)
	assert.Error(t, multi.SetDistMapCallback(func([]float32) error {
		return nil
	}))

	h, err := metrics.NewSSIMHandler(metrics.SSIM, 1, geom)
	require.NoError(t, err)

	width, height, err := h.GetDistMapResolution()
	require.NoError(t, err)
	assert.Equal(t, 38, width)
	assert.Equal(t, 22, height)

	var maps [][]float32
	require.NoError(t, h.SetDistMapCallback(func(m []float32) error {
		maps = append(maps, append([]float32(nil), m...))
		return nil
	}))

	a := frame(t, 4, 0)
	_, err = h.Compute(a, a)
	require.NoError(t, err)
	_, err = h.Compute(a, frame(t, 4, 20))
	require.NoError(t, err)

	require.Len(t, maps, 2)
	require.Len(t, maps[0], width*height)
	for _, v := range maps[0] {
		require.InDelta(t, 0, v, 1e-5)
	}
	var sum float32
	for _, v := range maps[1] {
		sum += v
	}
	assert.Greater(t, sum, float32(0))
}

func Test_HeatmapWriter_Normalizes(t *testing.T) {
	var out bytes.Buffer
	w, err := metrics.NewHeatmapWriter(nopCloser{&out}, 0.5)
	require.NoError(t, err)

	require.NoError(t, w.WriteDistortion([]float32{0, 0.25, 0.5, 2, -1}))
	require.NoError(t, w.WriteDistortion(nil))
	assert.Equal(t, 1, w.Frames())
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	raw := out.Bytes()
	require.Len(t, raw, 20)
	got := make([]float32, 5)
	for i := range got {
		got[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	assert.Equal(t, []float32{0, 0.5, 1, 1, 0}, got)

	_, err = metrics.NewHeatmapWriter(nopCloser{&out}, 0)
	assert.Error(t, err)
}
