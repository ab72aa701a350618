package buffer

import "fmt"

// Buffer is a 2D grid of float32 samples with one or more interleaved
// channels. Samples are stored row major, channels adjacent:
//
//	data[(y*cols+x)*channels+c]
//
// The extent of a Buffer is fixed when it is created and never changes. Every
// operation in this package writes in place into an existing Buffer so that
// per-frame code paths never allocate.
type Buffer struct {
	rows, cols, channels int
	data                 []float32
}

// New allocates a zeroed Buffer with the given extent. A zero extent is
// allowed (an absent chroma plane of a monochrome stream has no samples).
//
// New panics on negative dimensions or a channel count below one.
func New(rows, cols, channels int) *Buffer {
	if rows < 0 || cols < 0 || channels < 1 {
		panic(fmt.Sprintf("buffer: invalid extent %dx%dx%d", rows, cols,
			channels))
	}
	return &Buffer{rows, cols, channels, make([]float32, rows*cols*channels)}
}

func (b *Buffer) Rows() int     { return b.rows }
func (b *Buffer) Cols() int     { return b.cols }
func (b *Buffer) Channels() int { return b.channels }

// Len returns the total number of samples, rows*cols*channels.
func (b *Buffer) Len() int { return len(b.data) }

// Data exposes the backing slice. Callers may read and write samples through
// it but must not re-slice or append to it.
func (b *Buffer) Data() []float32 { return b.data }

func (b *Buffer) At(y, x, c int) float32 {
	return b.data[(y*b.cols+x)*b.channels+c]
}

func (b *Buffer) Set(y, x, c int, v float32) {
	b.data[(y*b.cols+x)*b.channels+c] = v
}

// SameShape reports whether o has exactly the extent of b.
func (b *Buffer) SameShape(o *Buffer) bool {
	return b.rows == o.rows && b.cols == o.cols && b.channels == o.channels
}

func (b *Buffer) String() string {
	return fmt.Sprintf("%dx%dx%d", b.rows, b.cols, b.channels)
}

// CopyFrom copies the samples of src into b. Both must share a shape.
func (b *Buffer) CopyFrom(src *Buffer) error {
	if err := checkShape(b, src); err != nil {
		return err
	}
	copy(b.data, src.data)
	return nil
}

// ChannelMean returns the arithmetic mean of channel c over the whole grid.
// The sum is accumulated in float64. An empty buffer has a mean of zero.
func (b *Buffer) ChannelMean(c int) float64 {
	n := b.rows * b.cols
	if n == 0 {
		return 0
	}
	var sum float64
	for i := c; i < len(b.data); i += b.channels {
		sum += float64(b.data[i])
	}
	return sum / float64(n)
}

func checkShape(bufs ...*Buffer) error {
	for _, o := range bufs[1:] {
		if !bufs[0].SameShape(o) {
			return fmt.Errorf("buffer: shape mismatch %s vs %s", bufs[0], o)
		}
	}
	return nil
}
