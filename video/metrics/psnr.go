package metrics

import (
	"fmt"

	"github.com/GreatValueCreamSoda/govqmt/buffer"
	"github.com/GreatValueCreamSoda/govqmt/quality"
	"github.com/GreatValueCreamSoda/govqmt/video"
)

// PSNRHandler scores frames with PSNR on the luma plane (PSNR) or the
// interleaved channels (YUVPSNR). It holds no per-frame state and is safe to
// call from any number of frame workers.
type PSNRHandler struct {
	kind Kind
}

// NewPSNRHandler returns the handler for PSNR or YUVPSNR.
func NewPSNRHandler(kind Kind) *PSNRHandler { return &PSNRHandler{kind: kind} }

// Name returns the metric identifier used as the score key.
func (h *PSNRHandler) Name() string { return h.kind.String() }

func (h *PSNRHandler) Inputs() video.FrameInputs { return h.kind.Inputs() }

func (h *PSNRHandler) Close() {}

// Compute returns the PSNR of b against a. Identical frames score +Inf.
func (h *PSNRHandler) Compute(a, b *video.Frame) (map[string]float64, error) {
	bufA, bufB, err := frameBuffers(h.kind, a, b)
	if err != nil {
		return nil, err
	}

	score, err := quality.PSNR(bufA, bufB)
	if err != nil {
		return nil, fmt.Errorf("%s computation failed: %w", h.Name(), err)
	}
	return map[string]float64{h.Name(): score}, nil
}

// frameBuffers selects the view of each frame the metric kind reads.
func frameBuffers(kind Kind, a, b *video.Frame) (*buffer.Buffer,
	*buffer.Buffer, error) {
	var bufA, bufB *buffer.Buffer
	if kind.Inputs().Has(video.InputInterleaved) {
		bufA, bufB = a.Interleaved, b.Interleaved
	} else {
		bufA, bufB = a.Luma, b.Luma
	}

	if bufA == nil || bufB == nil {
		return nil, nil, fmt.Errorf("%s: frame is missing the %s view", kind,
			viewName(kind.Inputs()))
	}
	return bufA, bufB, nil
}

func viewName(in video.FrameInputs) string {
	switch {
	case in.Has(video.InputInterleaved):
		return "interleaved"
	case in.Has(video.InputPlanes):
		return "planar"
	default:
		return "luma"
	}
}
