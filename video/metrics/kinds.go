package metrics

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/GreatValueCreamSoda/govqmt/video"
)

// ErrUnavailable is returned for metrics that are not compiled into this
// binary.
var ErrUnavailable = errors.New("metric not available in this build")

// Kind enumerates the metrics the tool can compute.
type Kind int

const (
	PSNR     Kind = iota // Luma PSNR.
	YUVPSNR              // PSNR over the interleaved Y, U and V channels.
	SSIM                 // Luma SSIM, 11x11 Gaussian window.
	YUVSSIM              // SSIM over the interleaved channels.
	FASTSSIM             // Luma SSIM, 8x8 box window.
	SSIMU2               // SSIMULACRA2, GPU backed.
	numKinds
)

var kindNames = [numKinds]string{
	PSNR:     "psnr",
	YUVPSNR:  "yuvpsnr",
	SSIM:     "ssim",
	YUVSSIM:  "yuvssim",
	FASTSSIM: "fastssim",
	SSIMU2:   "ssimu2",
}

// String returns the lower case metric name. It is the score key reported by
// the metric and the suffix of its CSV file.
func (k Kind) String() string {
	if k < 0 || k >= numKinds {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// ParseKind maps a metric name to its Kind, ignoring case. "YPSNR" is
// accepted as an alias of PSNR.
func ParseKind(name string) (Kind, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "ypsnr" {
		return PSNR, nil
	}
	for k, s := range kindNames {
		if s == n {
			return Kind(k), nil
		}
	}
	return 0, fmt.Errorf("unknown metric %q (known: %s)", name,
		strings.Join(kindNames[:], ", "))
}

// ParseKinds parses a list of names, dropping duplicates while keeping the
// first occurrence order.
func ParseKinds(names []string) ([]Kind, error) {
	seen := make(map[Kind]bool, len(names))
	var kinds []Kind
	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			continue
		}
		k, err := ParseKind(name)
		if err != nil {
			return nil, err
		}
		if seen[k] {
			continue
		}
		seen[k] = true
		kinds = append(kinds, k)
	}
	return kinds, nil
}

// Kinds returns every metric kind in enumeration order.
func Kinds() []Kind {
	kinds := make([]Kind, numKinds)
	for i := range kinds {
		kinds[i] = Kind(i)
	}
	return kinds
}

// Inputs returns the frame views the metric reads.
func (k Kind) Inputs() video.FrameInputs {
	switch k {
	case YUVPSNR, YUVSSIM:
		return video.InputInterleaved
	case SSIMU2:
		return video.InputPlanes
	default:
		return video.InputLuma
	}
}

// RequiredMultiple is the granularity both frame dimensions must be a
// multiple of, or 1 when the metric has no such constraint.
func (k Kind) RequiredMultiple() int {
	if k == FASTSSIM {
		return 8
	}
	return 1
}

// CheckGeometry validates g against the constraints of the metric. It is
// meant to be called once before any frame is read.
func (k Kind) CheckGeometry(g video.Geometry) error {
	if err := g.Validate(); err != nil {
		return err
	}

	if m := k.RequiredMultiple(); g.Height%m != 0 || g.Width%m != 0 {
		return fmt.Errorf("%w: %s needs height and width to be multiples of "+
			"%d, got %dx%d", video.ErrGeometry, k, m, g.Width, g.Height)
	}

	switch k {
	case SSIM, YUVSSIM, FASTSSIM:
		window := 11
		if k == FASTSSIM {
			window = 8
		}
		if g.Height <= window || g.Width <= window {
			return fmt.Errorf("%w: %s needs frames larger than its %dx%d "+
				"window, got %dx%d", video.ErrGeometry, k, window, window,
				g.Width, g.Height)
		}
	case SSIMU2:
		if !g.Chroma.HasChroma() {
			return fmt.Errorf("%w: %s needs chroma planes", video.ErrGeometry,
				k)
		}
	}
	return nil
}

// Options configures metric construction.
type Options struct {
	Geometry video.Geometry
	// Workers is the number of frames the metric may score concurrently.
	Workers int
}

type constructor func(Options) (video.Metric, error)

var registry = map[Kind]constructor{}

// register adds a constructor. Metrics behind build tags call it from init.
func register(k Kind, fn constructor) { registry[k] = fn }

// Available reports whether k can be constructed in this build.
func Available(k Kind) bool {
	_, ok := registry[k]
	return ok
}

// AvailableKinds lists the metrics compiled into this build, sorted.
func AvailableKinds() []Kind {
	kinds := make([]Kind, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// New constructs the metric handler for k.
func New(k Kind, opts Options) (video.Metric, error) {
	fn, ok := registry[k]
	if !ok {
		return nil, fmt.Errorf("%s: %w", k, ErrUnavailable)
	}
	if opts.Workers < 1 {
		return nil, fmt.Errorf("%s: at least one worker is required", k)
	}
	if err := k.CheckGeometry(opts.Geometry); err != nil {
		return nil, err
	}
	return fn(opts)
}

func init() {
	register(PSNR, func(o Options) (video.Metric, error) {
		return NewPSNRHandler(PSNR), nil
	})
	register(YUVPSNR, func(o Options) (video.Metric, error) {
		return NewPSNRHandler(YUVPSNR), nil
	})
	register(SSIM, func(o Options) (video.Metric, error) {
		return NewSSIMHandler(SSIM, o.Workers, o.Geometry)
	})
	register(YUVSSIM, func(o Options) (video.Metric, error) {
		return NewSSIMHandler(YUVSSIM, o.Workers, o.Geometry)
	})
	register(FASTSSIM, func(o Options) (video.Metric, error) {
		return NewSSIMHandler(FASTSSIM, o.Workers, o.Geometry)
	})
}
