package sources

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/GreatValueCreamSoda/govqmt/buffer"
	"github.com/GreatValueCreamSoda/govqmt/video"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

var (
	// ErrOutOfFrames is returned by ReadOneFrame when the stream ends before
	// a whole frame could be read.
	ErrOutOfFrames = errors.New("ran out of frames to load")
	// ErrNoFrame is returned by the view accessors when no complete frame is
	// loaded, either before the first read or after a failed one.
	ErrNoFrame = errors.New("no frame loaded")
)

// StdinPath selects standard input as the stream.
const StdinPath = "-"

// YUVReader reads raw planar 8-bit frames (Y plane, then the two chroma
// planes) from a file, standard input or a zstd compressed file.
//
// One raw block sized to a whole frame is allocated at construction and
// overwritten by every read. The interleaved view is rebuilt from it at most
// once per frame, the first time it is requested. A YUVReader is not safe for
// concurrent use.
type YUVReader struct {
	path      string
	geom      video.Geometry
	numFrames int

	stream  io.Reader
	closers []io.Closer

	// raw holds one frame; planes are sub-slices of it.
	raw    []byte
	planes [3][]byte

	frameValid bool
	framesRead int

	interleaved      *buffer.Buffer
	interleavedReady bool
	// rebuilds counts interleaved reconstructions.
	rebuilds int
}

// NewYUVReader opens path as a raw planar stream of the given geometry.
//
// frames is the number of frames the stream is expected to contain. Zero asks
// the reader to derive the count from the file size, which is only possible
// for regular uncompressed files. Paths ending in ".zst" are decompressed on
// the fly and "-" reads standard input.
func NewYUVReader(path string, height, width, frames int,
	chroma video.ChromaFormat) (*YUVReader, error) {
	geom := video.Geometry{Height: height, Width: width, Chroma: chroma}
	if err := geom.Validate(); err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	if frames < 0 {
		return nil, errors.Errorf("%s: negative frame count %d", path, frames)
	}

	r := &YUVReader{
		path:        path,
		geom:        geom,
		numFrames:   frames,
		raw:         make([]byte, geom.FrameSize()),
		interleaved: buffer.New(height, width, 3),
	}

	sizes := geom.PlaneSizes()
	r.planes[0] = r.raw[:sizes[0]]
	r.planes[1] = r.raw[sizes[0] : sizes[0]+sizes[1]]
	r.planes[2] = r.raw[sizes[0]+sizes[1]:]

	if err := r.open(); err != nil {
		return nil, err
	}

	if r.numFrames == 0 {
		if err := r.countFrames(); err != nil {
			r.Close()
			return nil, err
		}
	}

	slog.Debug("sources: opened yuv stream", "path", path,
		"width", width, "height", height, "chroma", chroma.String(),
		"frames", r.numFrames)

	return r, nil
}

func (r *YUVReader) open() error {
	if r.path == StdinPath {
		r.stream = os.Stdin
		return nil
	}

	file, err := os.Open(r.path)
	if err != nil {
		return errors.Wrap(err, "cannot open input file")
	}
	r.stream = file
	r.closers = append(r.closers, file)

	if !r.compressed() {
		return nil
	}

	dec, err := zstd.NewReader(file)
	if err != nil {
		file.Close()
		return errors.Wrapf(err, "%s: cannot start zstd decoder", r.path)
	}
	rc := dec.IOReadCloser()
	r.stream = rc
	// Decoder first, then the file underneath it.
	r.closers = append([]io.Closer{rc}, r.closers...)
	return nil
}

func (r *YUVReader) compressed() bool {
	return strings.HasSuffix(strings.ToLower(r.path), ".zst")
}

// countFrames derives the frame count from the size of a regular file.
func (r *YUVReader) countFrames() error {
	if r.path == StdinPath || r.compressed() {
		return errors.Errorf("%s: frame count must be given for streams "+
			"without a known size", r.path)
	}

	info, err := os.Stat(r.path)
	if err != nil {
		return errors.Wrap(err, "cannot stat input file")
	}

	frameSize := int64(r.geom.FrameSize())
	r.numFrames = int(info.Size() / frameSize)
	if rest := info.Size() % frameSize; rest != 0 {
		slog.Warn("sources: file size is not a multiple of the frame size",
			"path", r.path, "trailing_bytes", rest)
	}
	if r.numFrames == 0 {
		return errors.Errorf("%s: file holds less than one %dx%d frame",
			r.path, r.geom.Width, r.geom.Height)
	}
	return nil
}

// ReadOneFrame reads the next frame into the raw block. A short read returns
// an error wrapping ErrOutOfFrames. Every call invalidates the interleaved
// view, and a failed call also invalidates the frame itself so that no view
// is served from partially overwritten data.
func (r *YUVReader) ReadOneFrame() error {
	r.interleavedReady = false
	r.frameValid = false

	n, err := io.ReadFull(r.stream, r.raw)
	switch {
	case err == io.EOF || err == io.ErrUnexpectedEOF:
		return errors.Wrapf(ErrOutOfFrames, "%s: frame %d: read %d of %d "+
			"bytes", r.path, r.framesRead, n, len(r.raw))
	case err != nil:
		return errors.Wrapf(err, "%s: frame %d", r.path, r.framesRead)
	}

	r.frameValid = true
	r.framesRead++
	return nil
}

// GetLuma converts the luma plane of the current frame into dst, a single
// channel buffer of the frame extent.
func (r *YUVReader) GetLuma(dst *buffer.Buffer) error {
	return r.GetComponent(0, dst)
}

// GetComponent converts plane index (0 luma, 1 and 2 chroma) of the current
// frame into dst, a single channel buffer of that plane's extent.
func (r *YUVReader) GetComponent(index int, dst *buffer.Buffer) error {
	if index < 0 || index > 2 {
		return errors.Errorf("plane index %d out of range", index)
	}
	if !r.frameValid {
		return ErrNoFrame
	}

	rows, cols := r.geom.PlaneExtent(index)
	if dst.Rows() != rows || dst.Cols() != cols || dst.Channels() != 1 {
		return errors.Errorf("plane %d is %dx%dx1, destination is %s", index,
			rows, cols, dst)
	}
	return buffer.FromBytes(dst, r.planes[index])
}

// GetInterleaved copies the three channel view of the current frame into dst.
// The view is reconstructed on the first request after a read and served
// from cache afterwards.
func (r *YUVReader) GetInterleaved(dst *buffer.Buffer) error {
	if !r.frameValid {
		return ErrNoFrame
	}
	if !r.interleavedReady {
		r.buildInterleaved()
		r.interleavedReady = true
	}
	return dst.CopyFrom(r.interleaved)
}

// buildInterleaved writes [Y, U, V] per pixel, replicating each chroma sample
// over the luma block it covers. Monochrome streams get zero chroma.
func (r *YUVReader) buildInterleaved() {
	r.rebuilds++

	dst := r.interleaved.Data()
	h, w := r.geom.Height, r.geom.Width
	luma, u, v := r.planes[0], r.planes[1], r.planes[2]

	if !r.geom.Chroma.HasChroma() {
		for i, y := range luma {
			dst[i*3] = float32(y)
			dst[i*3+1] = 0
			dst[i*3+2] = 0
		}
		return
	}

	sx, sy := r.geom.Chroma.Subsampling()
	_, cw := r.geom.PlaneExtent(1)

	for y := 0; y < h; y++ {
		row := (y >> sy) * cw
		for x := 0; x < w; x++ {
			i := y*w + x
			c := row + x>>sx
			dst[i*3] = float32(luma[i])
			dst[i*3+1] = float32(u[c])
			dst[i*3+2] = float32(v[c])
		}
	}
}

// GetFrame reads the next frame and fills every view f holds.
func (r *YUVReader) GetFrame(f *video.Frame) error {
	if err := r.ReadOneFrame(); err != nil {
		return err
	}

	if f.Planes[0] != nil {
		_, strides := r.GetPlaneSizes()
		lineSize := [3]int64{int64(strides[0]), int64(strides[1]),
			int64(strides[2])}
		if err := f.Write(r.planes, lineSize); err != nil {
			return err
		}
	}
	if f.Luma != nil {
		if err := r.GetLuma(f.Luma); err != nil {
			return err
		}
	}
	if f.Interleaved != nil {
		if err := r.GetInterleaved(f.Interleaved); err != nil {
			return err
		}
	}
	return nil
}

func (r *YUVReader) GetNumFrames() int           { return r.numFrames }
func (r *YUVReader) GetGeometry() video.Geometry { return r.geom }
func (r *YUVReader) FramesRead() int             { return r.framesRead }
func (r *YUVReader) Path() string                { return r.path }

func (r *YUVReader) GetPlaneSizes() ([3]int, [3]int) {
	var strides [3]int
	for p := range strides {
		_, strides[p] = r.geom.PlaneExtent(p)
	}
	return r.geom.PlaneSizes(), strides
}

// Close releases the stream. Standard input is left open.
func (r *YUVReader) Close() error {
	var first error
	for _, c := range r.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	r.closers = nil
	r.frameValid = false
	return first
}
