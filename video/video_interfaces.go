package video

import (
	"errors"
	"fmt"

	"github.com/GreatValueCreamSoda/govqmt/buffer"
)

// FrameInputs is a set of frame views a Metric reads. The comparator
// allocates only the views requested by at least one metric, and sources fill
// only the views a Frame was allocated with.
type FrameInputs uint8

const (
	// InputLuma is the luma plane as a single channel float buffer.
	InputLuma FrameInputs = 1 << iota
	// InputInterleaved is the three channel [Y, U, V] float buffer with
	// chroma upsampled to full resolution.
	InputInterleaved
	// InputPlanes is the raw 8-bit planar storage.
	InputPlanes
)

func (in FrameInputs) Has(flag FrameInputs) bool { return in&flag != 0 }

// Frame represents a single video Frame's data in every view a metric may
// request. Views that were not requested at allocation are nil.
type Frame struct {
	// Planes holds the raw samples of the three planes (Y, U, V). Absent
	// chroma planes are empty.
	Planes [3][]byte
	// LineSize is the stride of each plane in bytes.
	LineSize [3]int64

	Luma        *buffer.Buffer
	Interleaved *buffer.Buffer
}

// NewFrame allocates a Frame for the geometry holding the requested views.
func NewFrame(g Geometry, inputs FrameInputs) (*Frame, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if inputs == 0 {
		return nil, errors.New("frame must hold at least one view")
	}

	f := new(Frame)

	if inputs.Has(InputPlanes) {
		for p := range f.Planes {
			rows, cols := g.PlaneExtent(p)
			f.Planes[p] = make([]byte, rows*cols)
			f.LineSize[p] = int64(cols)
		}
	}
	if inputs.Has(InputLuma) {
		f.Luma = buffer.New(g.Height, g.Width, 1)
	}
	if inputs.Has(InputInterleaved) {
		f.Interleaved = buffer.New(g.Height, g.Width, 3)
	}

	return f, nil
}

// Inputs reports which views the frame holds.
func (f *Frame) Inputs() FrameInputs {
	var in FrameInputs
	if f.Planes[0] != nil {
		in |= InputPlanes
	}
	if f.Luma != nil {
		in |= InputLuma
	}
	if f.Interleaved != nil {
		in |= InputInterleaved
	}
	return in
}

// Write copies raw plane data into the frame, preserving the frame's
// allocations.
func (f *Frame) Write(data [3][]byte, lineSize [3]int64) error {
	for i := range f.Planes {
		if len(f.Planes[i]) != len(data[i]) {
			return fmt.Errorf("plane %d size mismatch: frame holds %d bytes, "+
				"got %d", i, len(f.Planes[i]), len(data[i]))
		}
	}

	for p := range f.Planes {
		copy(f.Planes[p], data[p])
		f.LineSize[p] = lineSize[p]
	}
	return nil
}

// Source is a sequential supplier of frames.
type Source interface {
	// GetFrame reads the next frame into every view f holds.
	GetFrame(f *Frame) error
	GetNumFrames() int
	GetGeometry() Geometry
	// GetPlaneSizes returns the byte size and stride of each plane.
	GetPlaneSizes() ([3]int, [3]int)
	Close() error
}

// Metric is the interface that every metric must implement.
//
// Compute may be called concurrently from several frame workers.
type Metric interface {
	Name() string
	Inputs() FrameInputs
	Compute(a, b *Frame) (map[string]float64, error)
	Close()
}
