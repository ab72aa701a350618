//go:build vship

package metrics

import (
	"fmt"

	"github.com/GreatValueCreamSoda/govqmt/blockingpool"
	"github.com/GreatValueCreamSoda/govqmt/video"
	vship "github.com/GreatValueCreamSoda/govship"
)

func init() {
	register(SSIMU2, func(o Options) (video.Metric, error) {
		return NewSSIMU2Handler(o.Workers, o.Geometry)
	})
}

// Ssimu2Handler manages one or more GPU SSIMULACRA2 workers and coordinates
// score computation across them.
//
// Internally it owns a blocking pool of vship.SSIMU2Handler instances. Each
// worker is stateful and relatively expensive to create, so handlers are
// reused rather than constructed per-frame. Frames are handed over in their
// raw planar form.
type Ssimu2Handler struct {
	pool        blockingpool.BlockingPool[*vship.SSIMU2Handler]
	handlerList []*vship.SSIMU2Handler
}

// Name returns the metric identifier used as the score key.
func (h *Ssimu2Handler) Name() string { return SSIMU2.String() }

func (h *Ssimu2Handler) Inputs() video.FrameInputs { return SSIMU2.Inputs() }

// colorspace describes an 8-bit limited range BT.709 YUV stream of geometry
// g to vship.
func colorspace(g video.Geometry) (vship.Colorspace, error) {
	var cs vship.Colorspace
	if !g.Chroma.HasChroma() {
		return cs, fmt.Errorf("%w: %s needs chroma planes",
			video.ErrGeometry, SSIMU2)
	}

	cs.SetDefaults(int64(g.Width), int64(g.Height), vship.SamplingFormatUInt8)
	cs.ChromaSubsamplingWidth, cs.ChromaSubsamplingHeight =
		g.Chroma.Subsampling()
	cs.ColorFamily = vship.ColorFamilyYUV
	return cs, nil
}

// NewSSIMU2Handler constructs a Ssimu2Handler with the requested number of
// worker instances for frames of geometry g.
func NewSSIMU2Handler(numWorkers int, g video.Geometry) (*Ssimu2Handler,
	error) {
	cs, err := colorspace(g)
	if err != nil {
		return nil, err
	}

	var h Ssimu2Handler
	h.pool = blockingpool.NewBlockingPool[*vship.SSIMU2Handler](numWorkers)

	for range numWorkers {
		if err := h.createWorker(&cs); err != nil {
			h.Close()
			return nil, err
		}
	}

	return &h, nil
}

// createWorker instantiates a single SSIMULACRA2 handler and registers it with
// both the worker pool and the internal handler list.
func (h *Ssimu2Handler) createWorker(cs *vship.Colorspace) error {
	vsHandler, exception := vship.NewSSIMU2Handler(cs, cs)
	if !exception.IsNone() {
		return fmt.Errorf("%s initialization failed: %w", SSIMU2,
			exception.GetError())
	}
	h.pool.Put(vsHandler)
	h.handlerList = append(h.handlerList, vsHandler)
	return nil
}

// Close releases all underlying SSIMULACRA2 handlers. It is idempotent.
func (h *Ssimu2Handler) Close() {
	for _, handler := range h.handlerList {
		if handler != nil {
			handler.Close()
		}
	}
	h.handlerList = nil
}

// Compute calculates the SSIMULACRA2 score between two frames.
//
// The method borrows a worker from the pool, computes the scalar score, and
// then returns the worker to the pool.
func (h *Ssimu2Handler) Compute(a, b *video.Frame) (map[string]float64,
	error) {
	if a.Planes[0] == nil || b.Planes[0] == nil {
		return nil, fmt.Errorf("%s: frame is missing the planar view", SSIMU2)
	}

	handler := h.pool.Get()
	defer h.pool.Put(handler)

	score, code := handler.ComputeScore(a.Planes, b.Planes, a.LineSize,
		b.LineSize)
	if !code.IsNone() {
		return nil, fmt.Errorf("%s computation failed: %w", SSIMU2,
			code.GetError())
	}
	return map[string]float64{h.Name(): score}, nil
}
