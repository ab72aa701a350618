package filter_test

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/GreatValueCreamSoda/govqmt/buffer"
	"github.com/GreatValueCreamSoda/govqmt/filter"
	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomBuffer(rows, cols, channels int, seed int64) *buffer.Buffer {
	b := buffer.New(rows, cols, channels)
	rng := rand.New(rand.NewSource(seed))
	for i := range b.Data() {
		b.Data()[i] = float32(rng.Intn(256))
	}
	return b
}

// bruteForce evaluates the 2D window at every valid position directly.
func bruteForce(src *buffer.Buffer, k filter.Kernel) *buffer.Buffer {
	w := k.Weights()
	rows, cols := k.ValidExtent(src.Rows(), src.Cols())
	dst := buffer.New(rows, cols, src.Channels())

	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			for c := 0; c < src.Channels(); c++ {
				var sum float64
				for i := 0; i < k.Size; i++ {
					for j := 0; j < k.Size; j++ {
						sum += float64(w[i]) * float64(w[j]) *
							float64(src.At(y+i, x+j, c))
					}
				}
				dst.Set(y, x, c, float32(sum))
			}
		}
	}
	return dst
}

func Test_Kernel_Validate(t *testing.T) {
	tests := []struct {
		name   string
		kernel filter.Kernel
		valid  bool
	}{
		{"ssim gaussian", filter.SSIMGaussian, true},
		{"ssim box", filter.SSIMBox, true},
		{"even gaussian", filter.Kernel{Kind: filter.Gaussian, Size: 8, Sigma: 1.5}, false},
		{"zero sigma", filter.Kernel{Kind: filter.Gaussian, Size: 11}, false},
		{"zero box", filter.Kernel{Kind: filter.Box}, false},
		{"unknown kind", filter.Kernel{Kind: filter.Kind(9), Size: 3}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.kernel.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, filter.ErrInvalidKernel)
			}
		})
	}
}

func Test_Kernel_Weights(t *testing.T) {
	w := filter.SSIMGaussian.Weights()
	require.Len(t, w, 11)

	var sum float32
	for i := range w {
		sum += w[i]
		assert.InDelta(t, w[i], w[len(w)-1-i], 1e-7, "taps must be symmetric")
	}
	assert.InDelta(t, 1, sum, 1e-6)
	assert.Greater(t, w[5], w[4])

	// Center tap of a normalized 11 tap, σ=1.5 Gaussian.
	var norm float32
	for i := -5; i <= 5; i++ {
		norm += math32.Exp(-float32(i*i) / (2 * 1.5 * 1.5))
	}
	assert.InDelta(t, 1/norm, w[5], 1e-6)

	for _, v := range filter.SSIMBox.Weights() {
		assert.Equal(t, float32(0.125), v)
	}
}

func Test_Kernel_ValidExtent(t *testing.T) {
	rows, cols := filter.SSIMGaussian.ValidExtent(1080, 1920)
	assert.Equal(t, 1070, rows)
	assert.Equal(t, 1910, cols)

	rows, cols = filter.SSIMBox.ValidExtent(16, 24)
	assert.Equal(t, 9, rows)
	assert.Equal(t, 17, cols)
}

func Test_NewSmoother_Errors(t *testing.T) {
	_, err := filter.NewSmoother(11, 32, 1, filter.SSIMGaussian)
	assert.Error(t, err, "height equal to the kernel size must be rejected")

	_, err = filter.NewSmoother(32, 8, 1, filter.SSIMBox)
	assert.Error(t, err)

	_, err = filter.NewSmoother(32, 32, 0, filter.SSIMBox)
	assert.Error(t, err)

	_, err = filter.NewSmoother(32, 32, 1, filter.Kernel{Kind: filter.Box})
	assert.ErrorIs(t, err, filter.ErrInvalidKernel)
}

func Test_Smooth_OutputExtent(t *testing.T) {
	for _, k := range []filter.Kernel{filter.SSIMGaussian, filter.SSIMBox} {
		for _, size := range [][2]int{{12, 12}, {16, 40}, {33, 17}} {
			s, err := filter.NewSmoother(size[0], size[1], 1, k)
			require.NoError(t, err)

			rows, cols := s.OutputExtent()
			assert.Equal(t, size[0]-(k.Size-1), rows)
			assert.Equal(t, size[1]-(k.Size-1), cols)

			out := s.NewOutput()
			assert.Equal(t, rows, out.Rows())
			assert.Equal(t, cols, out.Cols())
		}
	}
}

func Test_Smooth_MatchesBruteForce(t *testing.T) {
	for _, k := range []filter.Kernel{filter.SSIMGaussian, filter.SSIMBox,
		{Kind: filter.Gaussian, Size: 3, Sigma: 0.8}} {
		for _, channels := range []int{1, 3} {
			t.Run(k.Kind.String(), func(t *testing.T) {
				src := randomBuffer(24, 31, channels, 7)
				s, err := filter.NewSmoother(24, 31, channels, k)
				require.NoError(t, err)

				dst := s.NewOutput()
				require.NoError(t, s.Smooth(src, dst))

				want := bruteForce(src, k)
				for i, v := range want.Data() {
					require.InDelta(t, v, dst.Data()[i], 1e-3, "sample %d", i)
				}
			})
		}
	}
}

func Test_Smooth_BoxIsWindowMean(t *testing.T) {
	src := randomBuffer(16, 16, 1, 3)
	s, err := filter.NewSmoother(16, 16, 1, filter.SSIMBox)
	require.NoError(t, err)

	dst := s.NewOutput()
	require.NoError(t, s.Smooth(src, dst))

	// The box window is anchored top left: output (y, x) averages the
	// inputs in [y, y+8) x [x, x+8).
	y, x := 4, 6
	var sum float64
	for i := 0; i < 8; i++ {
		for j := 0; j < 8; j++ {
			sum += float64(src.At(y+i, x+j, 0))
		}
	}
	assert.InDelta(t, sum/64, dst.At(y, x, 0), 1e-4)
}

func Test_Smooth_ConstantInput(t *testing.T) {
	src := buffer.New(20, 20, 3)
	require.NoError(t, buffer.FromBytes(src, bytes.Repeat([]byte{117},
		src.Len())))

	for _, k := range []filter.Kernel{filter.SSIMGaussian, filter.SSIMBox} {
		s, err := filter.NewSmoother(20, 20, 3, k)
		require.NoError(t, err)

		dst := s.NewOutput()
		require.NoError(t, s.Smooth(src, dst))
		for _, v := range dst.Data() {
			require.InDelta(t, 117, v, 1e-3)
		}
	}
}

func Test_Smooth_Deterministic(t *testing.T) {
	src := randomBuffer(40, 48, 3, 11)

	for _, k := range []filter.Kernel{filter.SSIMGaussian, filter.SSIMBox} {
		s, err := filter.NewSmoother(40, 48, 3, k)
		require.NoError(t, err)

		first, second := s.NewOutput(), s.NewOutput()
		require.NoError(t, s.Smooth(src, first))

		// Run something else through the same scratch in between.
		require.NoError(t, s.Smooth(randomBuffer(40, 48, 3, 12), second))
		require.NoError(t, s.Smooth(src, second))

		assert.Equal(t, first.Data(), second.Data())
	}
}

func Test_Smooth_ShapeErrors(t *testing.T) {
	s, err := filter.NewSmoother(16, 16, 1, filter.SSIMBox)
	require.NoError(t, err)

	assert.Error(t, s.Smooth(buffer.New(16, 15, 1), s.NewOutput()))
	assert.Error(t, s.Smooth(buffer.New(16, 16, 3), s.NewOutput()))
	assert.Error(t, s.Smooth(buffer.New(16, 16, 1), buffer.New(16, 16, 1)))
}

func Test_Smooth_DoesNotAllocate(t *testing.T) {
	src := randomBuffer(64, 64, 1, 5)
	for _, k := range []filter.Kernel{filter.SSIMGaussian, filter.SSIMBox} {
		s, err := filter.NewSmoother(64, 64, 1, k)
		require.NoError(t, err)
		dst := s.NewOutput()

		allocs := testing.AllocsPerRun(10, func() {
			_ = s.Smooth(src, dst)
		})
		assert.Zero(t, allocs)
	}
}

func BenchmarkSmooth_Gaussian_1080p(b *testing.B) {
	src := randomBuffer(1080, 1920, 1, 1)
	s, _ := filter.NewSmoother(1080, 1920, 1, filter.SSIMGaussian)
	dst := s.NewOutput()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = s.Smooth(src, dst)
	}
}

func BenchmarkSmooth_Box_1080p(b *testing.B) {
	src := randomBuffer(1080, 1920, 1, 1)
	s, _ := filter.NewSmoother(1080, 1920, 1, filter.SSIMBox)
	dst := s.NewOutput()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = s.Smooth(src, dst)
	}
}
