package metrics

import (
	"errors"
	"fmt"

	"github.com/GreatValueCreamSoda/govqmt/blockingpool"
	"github.com/GreatValueCreamSoda/govqmt/filter"
	"github.com/GreatValueCreamSoda/govqmt/quality"
	"github.com/GreatValueCreamSoda/govqmt/video"
)

// SSIMHandler manages one or more SSIM scorers and coordinates score
// computation across them.
//
// Internally it owns a blocking pool of quality.SSIM instances. Each scorer
// carries a full set of scratch buffers sized to the frame, so scorers are
// created once and reused rather than constructed per-frame. A frame worker
// borrows a scorer for the duration of one Compute call.
//
// When a distortion map callback is set, only a single worker is allowed.
type SSIMHandler struct {
	kind Kind

	pool    blockingpool.BlockingPool[*quality.SSIM]
	scorers []*quality.SSIM

	// mapRows and mapCols are the valid extent of the similarity map.
	mapRows, mapCols int
	// distortionBuffer holds 1-SSIM per pixel, averaged over channels. It is
	// reused across calls.
	distortionBuffer []float32
	callback         DistortionMapCallback

	numWorkers int
}

// NewSSIMHandler constructs the handler for SSIM, YUVSSIM or FASTSSIM with
// numWorkers scorers for frames of geometry g.
func NewSSIMHandler(kind Kind, numWorkers int, g video.Geometry) (
	*SSIMHandler, error) {
	kernel, channels, err := ssimConfig(kind)
	if err != nil {
		return nil, err
	}
	if numWorkers < 1 {
		return nil, errors.New("at least one ssim worker is required")
	}

	h := &SSIMHandler{
		kind:       kind,
		pool:       blockingpool.NewBlockingPool[*quality.SSIM](numWorkers),
		numWorkers: numWorkers,
	}

	for range numWorkers {
		scorer, err := quality.NewSSIM(g.Height, g.Width, channels, kernel)
		if err != nil {
			h.Close()
			return nil, fmt.Errorf("%s initialization failed: %w", kind, err)
		}
		h.pool.Put(scorer)
		h.scorers = append(h.scorers, scorer)
	}
	h.mapRows, h.mapCols = h.scorers[0].MapExtent()

	return h, nil
}

func ssimConfig(kind Kind) (filter.Kernel, int, error) {
	switch kind {
	case SSIM:
		return filter.SSIMGaussian, 1, nil
	case YUVSSIM:
		return filter.SSIMGaussian, 3, nil
	case FASTSSIM:
		return filter.SSIMBox, 1, nil
	}
	return filter.Kernel{}, 0, fmt.Errorf("%s is not an ssim metric", kind)
}

// Name returns the metric identifier used as the score key.
func (h *SSIMHandler) Name() string { return h.kind.String() }

func (h *SSIMHandler) Inputs() video.FrameInputs { return h.kind.Inputs() }

// Compute calculates the SSIM index of b against a.
//
// The method borrows a scorer from the pool, computes the index, hands the
// distortion map to the callback if one is set, and then returns the scorer
// to the pool.
func (h *SSIMHandler) Compute(a, b *video.Frame) (map[string]float64, error) {
	bufA, bufB, err := frameBuffers(h.kind, a, b)
	if err != nil {
		return nil, err
	}

	scorer := h.pool.Get()
	defer h.pool.Put(scorer)

	res, err := scorer.Compute(bufA, bufB)
	if err != nil {
		return nil, fmt.Errorf("%s computation failed: %w", h.Name(), err)
	}

	if h.callback != nil {
		h.fillDistortion(scorer)
		if err := h.callback(h.distortionBuffer); err != nil {
			return nil, err
		}
	}

	return map[string]float64{h.Name(): res.SSIM}, nil
}

// fillDistortion converts the similarity map of scorer into 1-SSIM, averaging
// interleaved channels into one value per pixel.
func (h *SSIMHandler) fillDistortion(scorer *quality.SSIM) {
	m := scorer.Map()
	ch := m.Channels()
	data := m.Data()

	for i := range h.distortionBuffer {
		var sum float32
		for c := 0; c < ch; c++ {
			sum += data[i*ch+c]
		}
		h.distortionBuffer[i] = 1 - sum/float32(ch)
	}
}

func (h *SSIMHandler) SetDistMapCallback(callback DistortionMapCallback) error {
	if h.numWorkers > 1 {
		return errors.New("cannot request more than 1 worker when " +
			"returning a distortion map")
	}
	h.callback = callback
	if callback != nil && h.distortionBuffer == nil {
		h.distortionBuffer = make([]float32, h.mapRows*h.mapCols)
	}
	return nil
}

// GetDistMapResolution returns the width and height of the distortion map,
// the valid extent of the SSIM window.
func (h *SSIMHandler) GetDistMapResolution() (int, int, error) {
	return h.mapCols, h.mapRows, nil
}

// Close drops the scorers. The handler must not be used afterwards.
func (h *SSIMHandler) Close() {
	h.pool.Drain()
	h.scorers = nil
}
