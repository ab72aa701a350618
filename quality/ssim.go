package quality

import (
	"fmt"

	"github.com/GreatValueCreamSoda/govqmt/buffer"
	"github.com/GreatValueCreamSoda/govqmt/filter"
)

// Stabilization constants of the SSIM index for 8-bit samples, (0.01*255)²
// and (0.03*255)².
const (
	C1 = 6.5025
	C2 = 58.5225
)

// Result is the outcome of one SSIM comparison. Both values are spatial means
// over the valid extent, averaged with equal weight across channels, and are
// 1 for identical inputs.
type Result struct {
	// SSIM is the mean of the similarity map.
	SSIM float64
	// CS is the mean of the contrast-structure map.
	CS float64
}

// SSIM computes the structural similarity index between two buffers of a
// fixed extent.
//
// Every intermediate buffer is allocated by NewSSIM and overwritten in place
// on each call to Compute, so a scorer can be reused for thousands of frames
// without allocating. A scorer must not be used by more than one goroutine at
// a time; callers that score frames in parallel keep one scorer per worker.
type SSIM struct {
	smoother *filter.Smoother

	rows, cols, channels int

	// product holds a*a, b*b and a*b at full extent before smoothing.
	product *buffer.Buffer

	// Valid extent. sigma1, sigma2 and sigma12 hold the smoothed squares and
	// cross product until the variance and covariance are derived from them.
	mu1, mu2                *buffer.Buffer
	sigma1, sigma2, sigma12 *buffer.Buffer

	ssimMap, csMap *buffer.Buffer

	perChannel []Result
}

// NewSSIM prepares a scorer for rows x cols buffers with 1 or 3 interleaved
// channels, windowed by kernel. Pass filter.SSIMGaussian for the reference
// index or filter.SSIMBox for the fast path.
func NewSSIM(rows, cols, channels int, kernel filter.Kernel) (*SSIM, error) {
	if channels != 1 && channels != 3 {
		return nil, fmt.Errorf("ssim: unsupported channel count %d", channels)
	}

	smoother, err := filter.NewSmoother(rows, cols, channels, kernel)
	if err != nil {
		return nil, fmt.Errorf("ssim: %w", err)
	}

	s := &SSIM{
		smoother:   smoother,
		rows:       rows,
		cols:       cols,
		channels:   channels,
		product:    buffer.New(rows, cols, channels),
		perChannel: make([]Result, channels),
	}
	for _, b := range []**buffer.Buffer{&s.mu1, &s.mu2, &s.sigma1, &s.sigma2,
		&s.sigma12, &s.ssimMap, &s.csMap} {
		*b = smoother.NewOutput()
	}

	return s, nil
}

// Kernel returns the window the scorer was built with.
func (s *SSIM) Kernel() filter.Kernel { return s.smoother.Kernel() }

// MapExtent returns the extent of the maps exposed by Map and CSMap.
func (s *SSIM) MapExtent() (rows, cols int) { return s.smoother.OutputExtent() }

// Compute scores b against a. Both must have the extent the scorer was built
// for.
func (s *SSIM) Compute(a, b *buffer.Buffer) (Result, error) {
	for _, in := range []*buffer.Buffer{a, b} {
		if in.Rows() != s.rows || in.Cols() != s.cols ||
			in.Channels() != s.channels {
			return Result{}, fmt.Errorf("ssim: input is %s, scorer expects "+
				"%dx%dx%d", in, s.rows, s.cols, s.channels)
		}
	}

	if err := s.localStatistics(a, b); err != nil {
		return Result{}, err
	}
	s.buildMaps()

	var res Result
	for c := range s.perChannel {
		s.perChannel[c] = Result{
			SSIM: s.ssimMap.ChannelMean(c),
			CS:   s.csMap.ChannelMean(c),
		}
		res.SSIM += s.perChannel[c].SSIM
		res.CS += s.perChannel[c].CS
	}
	res.SSIM /= float64(s.channels)
	res.CS /= float64(s.channels)

	return res, nil
}

// ChannelResults returns the per-channel scores of the last Compute call. The
// slice is owned by the scorer and overwritten by the next call.
func (s *SSIM) ChannelResults() []Result { return s.perChannel }

// Map returns the similarity map of the last Compute call, valid extent. It
// is owned by the scorer and overwritten by the next call.
func (s *SSIM) Map() *buffer.Buffer { return s.ssimMap }

// CSMap returns the contrast-structure map of the last Compute call.
func (s *SSIM) CSMap() *buffer.Buffer { return s.csMap }

// localStatistics fills mu1, mu2 with the local means and sigma1, sigma2,
// sigma12 with the local means of a², b² and a*b.
func (s *SSIM) localStatistics(a, b *buffer.Buffer) error {
	steps := []struct {
		x, y *buffer.Buffer
		dst  *buffer.Buffer
	}{
		{a, a, s.sigma1},
		{b, b, s.sigma2},
		{a, b, s.sigma12},
	}

	if err := s.smoother.Smooth(a, s.mu1); err != nil {
		return err
	}
	if err := s.smoother.Smooth(b, s.mu2); err != nil {
		return err
	}

	for _, step := range steps {
		if err := buffer.Mul(s.product, step.x, step.y); err != nil {
			return err
		}
		if err := s.smoother.Smooth(s.product, step.dst); err != nil {
			return err
		}
	}
	return nil
}

func (s *SSIM) buildMaps() {
	mu1, mu2 := s.mu1.Data(), s.mu2.Data()
	sq1, sq2, cross := s.sigma1.Data(), s.sigma2.Data(), s.sigma12.Data()
	ssimMap, csMap := s.ssimMap.Data(), s.csMap.Data()

	for i := range mu1 {
		m1, m2 := mu1[i], mu2[i]
		m1m2 := m1 * m2
		m1Sq, m2Sq := m1*m1, m2*m2

		sigma1Sq := sq1[i] - m1Sq
		sigma2Sq := sq2[i] - m2Sq
		sigma12 := cross[i] - m1m2

		cs := (2*sigma12 + C2) / (sigma1Sq + sigma2Sq + C2)
		csMap[i] = cs
		ssimMap[i] = (2*m1m2 + C1) * cs / (m1Sq + m2Sq + C1)
	}
}
