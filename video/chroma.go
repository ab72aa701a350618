package video

import (
	"errors"
	"fmt"
	"strings"
)

// ErrGeometry is returned when frame dimensions are incompatible with the
// chroma subsampling of a stream.
var ErrGeometry = errors.New("invalid frame geometry")

// ChromaFormat is the chroma subsampling layout of a planar 8-bit stream. The
// numeric values match the legacy command line encoding.
type ChromaFormat int

const (
	Chroma400 ChromaFormat = iota // Monochrome, luma plane only.
	Chroma420                     // Chroma halved in both dimensions.
	Chroma422                     // Chroma halved horizontally.
	Chroma444                     // Full resolution chroma.
)

func (c ChromaFormat) String() string {
	switch c {
	case Chroma400:
		return "400"
	case Chroma420:
		return "420"
	case Chroma422:
		return "422"
	case Chroma444:
		return "444"
	default:
		return fmt.Sprintf("ChromaFormat(%d)", int(c))
	}
}

// ParseChromaFormat accepts the legacy index ("0" to "3"), the short form
// ("420"), the ratio form ("4:2:0") and the yuvNNNp pixel format name.
func ParseChromaFormat(s string) (ChromaFormat, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.TrimPrefix(v, "yuv")
	v = strings.TrimSuffix(v, "p")
	v = strings.ReplaceAll(v, ":", "")

	switch v {
	case "0", "400", "gray":
		return Chroma400, nil
	case "1", "420":
		return Chroma420, nil
	case "2", "422":
		return Chroma422, nil
	case "3", "444":
		return Chroma444, nil
	}
	return 0, fmt.Errorf("unknown chroma format %q", s)
}

// Set implements pflag.Value.
func (c *ChromaFormat) Set(s string) error {
	v, err := ParseChromaFormat(s)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Type implements pflag.Value.
func (c *ChromaFormat) Type() string { return "chroma" }

func (c ChromaFormat) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *ChromaFormat) UnmarshalText(text []byte) error {
	return c.Set(string(text))
}

// HasChroma reports whether the format stores chroma planes at all.
func (c ChromaFormat) HasChroma() bool { return c != Chroma400 }

// Subsampling returns the log2 horizontal and vertical chroma decimation.
// Monochrome reports zero for both.
func (c ChromaFormat) Subsampling() (x, y int) {
	switch c {
	case Chroma420:
		return 1, 1
	case Chroma422:
		return 1, 0
	default:
		return 0, 0
	}
}

// Geometry describes one frame of a planar stream.
type Geometry struct {
	Height int          `json:"height" yaml:"height"`
	Width  int          `json:"width" yaml:"width"`
	Chroma ChromaFormat `json:"chroma" yaml:"chroma"`
}

// Validate checks the dimensions against the chroma layout: 4:2:0 needs an
// even height and width, 4:2:2 an even width.
func (g Geometry) Validate() error {
	if g.Height <= 0 || g.Width <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrGeometry, g.Width, g.Height)
	}

	switch g.Chroma {
	case Chroma400, Chroma444:
	case Chroma420:
		if g.Height%2 != 0 || g.Width%2 != 0 {
			return fmt.Errorf("%w: yuv420 height and width must be even, "+
				"got %dx%d", ErrGeometry, g.Width, g.Height)
		}
	case Chroma422:
		if g.Width%2 != 0 {
			return fmt.Errorf("%w: yuv422 width must be even, got %d",
				ErrGeometry, g.Width)
		}
	default:
		return fmt.Errorf("%w: unknown chroma format %v", ErrGeometry,
			g.Chroma)
	}
	return nil
}

// PlaneExtent returns the rows and columns of plane 0 (luma), 1 or 2
// (chroma). Absent chroma planes have a zero extent.
func (g Geometry) PlaneExtent(plane int) (rows, cols int) {
	if plane == 0 {
		return g.Height, g.Width
	}
	if !g.Chroma.HasChroma() {
		return 0, 0
	}
	sx, sy := g.Chroma.Subsampling()
	return g.Height >> sy, g.Width >> sx
}

// PlaneSizes returns the sample count of each plane.
func (g Geometry) PlaneSizes() [3]int {
	var sizes [3]int
	for p := range sizes {
		rows, cols := g.PlaneExtent(p)
		sizes[p] = rows * cols
	}
	return sizes
}

// FrameSize is the number of bytes one frame occupies on disk.
func (g Geometry) FrameSize() int {
	sizes := g.PlaneSizes()
	return sizes[0] + sizes[1] + sizes[2]
}
