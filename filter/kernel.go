package filter

import (
	"errors"
	"fmt"

	"github.com/chewxy/math32"
)

// Kind identifies a windowing kernel family.
type Kind int

const (
	// Gaussian weights each tap by exp(-d²/2σ²), normalized to sum to one.
	// The valid rectangle is centered: (Size-1)/2 samples are cropped from
	// every edge.
	Gaussian Kind = iota
	// Box weights every tap equally. The window is anchored at its top left
	// sample, so the valid rectangle is the full-size output with Size-1
	// samples cropped from the bottom and right edges only.
	Box
)

func (k Kind) String() string {
	switch k {
	case Gaussian:
		return "gaussian"
	case Box:
		return "box"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Kernel describes a square, separable window.
type Kernel struct {
	Kind  Kind
	Size  int
	Sigma float64 // Standard deviation, Gaussian only.
}

// SSIMGaussian is the 11x11, σ=1.5 window of the reference SSIM
// implementation.
var SSIMGaussian = Kernel{Kind: Gaussian, Size: 11, Sigma: 1.5}

// SSIMBox is the 8x8 mean window used by the fast SSIM path.
var SSIMBox = Kernel{Kind: Box, Size: 8}

var ErrInvalidKernel = errors.New("invalid kernel")

// Validate checks the kernel parameters.
func (k Kernel) Validate() error {
	switch k.Kind {
	case Gaussian:
		if k.Size < 1 || k.Size%2 == 0 {
			return fmt.Errorf("%w: gaussian size must be odd and positive, "+
				"got %d", ErrInvalidKernel, k.Size)
		}
		if !(k.Sigma > 0) {
			return fmt.Errorf("%w: gaussian sigma must be positive, got %g",
				ErrInvalidKernel, k.Sigma)
		}
	case Box:
		if k.Size < 1 {
			return fmt.Errorf("%w: box size must be positive, got %d",
				ErrInvalidKernel, k.Size)
		}
	default:
		return fmt.Errorf("%w: unknown kind %v", ErrInvalidKernel, k.Kind)
	}
	return nil
}

// ValidExtent returns the output extent of a valid (unpadded) filtering of a
// rows x cols input: only window positions fully inside the input produce a
// sample. Negative results are clamped to zero.
func (k Kernel) ValidExtent(rows, cols int) (int, int) {
	return max(rows-(k.Size-1), 0), max(cols-(k.Size-1), 0)
}

// Weights returns the normalized one-dimensional taps of the kernel. The
// two-dimensional window is their outer product.
func (k Kernel) Weights() []float32 {
	taps := make([]float32, k.Size)

	if k.Kind == Box {
		for i := range taps {
			taps[i] = 1 / float32(k.Size)
		}
		return taps
	}

	center := float32(k.Size-1) / 2
	scale := -0.5 / float32(k.Sigma*k.Sigma)

	var sum float32
	for i := range taps {
		d := float32(i) - center
		taps[i] = math32.Exp(scale * d * d)
		sum += taps[i]
	}
	for i := range taps {
		taps[i] /= sum
	}
	return taps
}
