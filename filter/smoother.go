package filter

import (
	"fmt"

	"github.com/GreatValueCreamSoda/govqmt/buffer"
)

// Smoother applies one Kernel to buffers of one fixed extent and writes the
// valid rectangle of the result into a caller owned destination.
//
// All working memory is allocated by NewSmoother. Smooth never allocates, so
// a Smoother can sit in a per-frame loop. A Smoother is not safe for
// concurrent use.
type Smoother struct {
	kernel  Kernel
	weights []float64

	rows, cols, channels int
	outRows, outCols     int

	// scratch holds the horizontal pass: rows x outCols x channels.
	scratch []float64
	// acc is one output row of the vertical pass.
	acc []float64
}

// NewSmoother prepares a Smoother for rows x cols inputs with the given number
// of interleaved channels. The input must be strictly larger than the kernel
// in both dimensions.
func NewSmoother(rows, cols, channels int, kernel Kernel) (*Smoother, error) {
	if err := kernel.Validate(); err != nil {
		return nil, err
	}
	if channels < 1 {
		return nil, fmt.Errorf("filter: channel count must be positive, got %d",
			channels)
	}
	if rows <= kernel.Size || cols <= kernel.Size {
		return nil, fmt.Errorf("filter: %dx%d input is too small for a %d "+
			"sample %v window", rows, cols, kernel.Size, kernel.Kind)
	}

	s := &Smoother{
		kernel:   kernel,
		rows:     rows,
		cols:     cols,
		channels: channels,
	}
	s.outRows, s.outCols = kernel.ValidExtent(rows, cols)

	taps := kernel.Weights()
	s.weights = make([]float64, len(taps))
	for i, w := range taps {
		s.weights[i] = float64(w)
	}

	s.scratch = make([]float64, rows*s.outCols*channels)
	s.acc = make([]float64, s.outCols*channels)

	return s, nil
}

func (s *Smoother) Kernel() Kernel { return s.kernel }

// OutputExtent returns the extent every destination passed to Smooth must
// have.
func (s *Smoother) OutputExtent() (rows, cols int) { return s.outRows, s.outCols }

// NewOutput allocates a destination buffer of the valid extent.
func (s *Smoother) NewOutput() *buffer.Buffer {
	return buffer.New(s.outRows, s.outCols, s.channels)
}

// Smooth filters src with the kernel and stores the valid rectangle in dst.
// Every channel is filtered independently. Identical inputs always produce
// bit-identical outputs.
func (s *Smoother) Smooth(src, dst *buffer.Buffer) error {
	if src.Rows() != s.rows || src.Cols() != s.cols ||
		src.Channels() != s.channels {
		return fmt.Errorf("filter: source is %s, smoother expects %dx%dx%d",
			src, s.rows, s.cols, s.channels)
	}
	if dst.Rows() != s.outRows || dst.Cols() != s.outCols ||
		dst.Channels() != s.channels {
		return fmt.Errorf("filter: destination is %s, valid extent is "+
			"%dx%dx%d", dst, s.outRows, s.outCols, s.channels)
	}

	if s.kernel.Kind == Box {
		s.boxRows(src.Data())
		s.boxCols(dst.Data())
		return nil
	}

	s.weightedRows(src.Data())
	s.weightedCols(dst.Data())
	return nil
}

// weightedRows convolves every input row with the taps, keeping only fully
// supported positions.
func (s *Smoother) weightedRows(src []float32) {
	ch, k := s.channels, len(s.weights)
	inStride, outStride := s.cols*ch, s.outCols*ch

	for y := 0; y < s.rows; y++ {
		in := src[y*inStride : (y+1)*inStride]
		out := s.scratch[y*outStride : (y+1)*outStride]

		for x := 0; x < s.outCols; x++ {
			for c := 0; c < ch; c++ {
				var sum float64
				base := x*ch + c
				for j := 0; j < k; j++ {
					sum += s.weights[j] * float64(in[base+j*ch])
				}
				out[x*ch+c] = sum
			}
		}
	}
}

func (s *Smoother) weightedCols(dst []float32) {
	stride := s.outCols * s.channels

	for y := 0; y < s.outRows; y++ {
		clear(s.acc)
		for i, w := range s.weights {
			row := s.scratch[(y+i)*stride : (y+i+1)*stride]
			for idx, v := range row {
				s.acc[idx] += w * v
			}
		}

		out := dst[y*stride : (y+1)*stride]
		for idx, v := range s.acc {
			out[idx] = float32(v)
		}
	}
}

// boxRows computes horizontal window sums with a sliding window: the sample
// leaving on the left is subtracted and the one entering on the right added.
func (s *Smoother) boxRows(src []float32) {
	ch, k := s.channels, s.kernel.Size
	inStride, outStride := s.cols*ch, s.outCols*ch

	for y := 0; y < s.rows; y++ {
		in := src[y*inStride : (y+1)*inStride]
		out := s.scratch[y*outStride : (y+1)*outStride]

		for c := 0; c < ch; c++ {
			var sum float64
			for j := 0; j < k; j++ {
				sum += float64(in[j*ch+c])
			}
			out[c] = sum

			for x := 1; x < s.outCols; x++ {
				sum += float64(in[(x+k-1)*ch+c]) - float64(in[(x-1)*ch+c])
				out[x*ch+c] = sum
			}
		}
	}
}

// boxCols slides a k-row window down the horizontal sums and divides the
// running total by the window area.
func (s *Smoother) boxCols(dst []float32) {
	k := s.kernel.Size
	stride := s.outCols * s.channels
	area := float64(k * k)

	clear(s.acc)
	for i := 0; i < k; i++ {
		row := s.scratch[i*stride : (i+1)*stride]
		for idx, v := range row {
			s.acc[idx] += v
		}
	}

	for y := 0; y < s.outRows; y++ {
		if y > 0 {
			leaving := s.scratch[(y-1)*stride : y*stride]
			entering := s.scratch[(y+k-1)*stride : (y+k)*stride]
			for idx := range s.acc {
				s.acc[idx] += entering[idx] - leaving[idx]
			}
		}

		out := dst[y*stride : (y+1)*stride]
		for idx, v := range s.acc {
			out[idx] = float32(v / area)
		}
	}
}
