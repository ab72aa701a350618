package quality

import (
	"fmt"
	"math"

	"github.com/GreatValueCreamSoda/govqmt/buffer"
)

// MaxSample is the peak value of an 8-bit sample.
const MaxSample = 255.0

// MSE returns the mean squared error between a and b. Each channel is
// averaged over the grid first, then channels are averaged with equal weight.
func MSE(a, b *buffer.Buffer) (float64, error) {
	if !a.SameShape(b) {
		return 0, fmt.Errorf("mse: shape mismatch %s vs %s", a, b)
	}

	channels := a.Channels()
	pixels := a.Rows() * a.Cols()
	if pixels == 0 {
		return 0, fmt.Errorf("mse: empty %s buffer", a)
	}

	da, db := a.Data(), b.Data()
	var total float64
	for c := 0; c < channels; c++ {
		var sum float64
		for i := c; i < len(da); i += channels {
			d := float64(da[i]) - float64(db[i])
			sum += d * d
		}
		total += sum / float64(pixels)
	}

	return total / float64(channels), nil
}

// PSNRFromMSE converts a mean squared error into decibels. A zero error, which
// only identical inputs produce, maps to +Inf.
func PSNRFromMSE(mse float64) float64 {
	if mse == 0 {
		return math.Inf(1)
	}
	return 10 * math.Log10(MaxSample*MaxSample/mse)
}

// PSNR returns the peak signal-to-noise ratio of b against a in decibels.
// Identical inputs yield +Inf.
func PSNR(a, b *buffer.Buffer) (float64, error) {
	mse, err := MSE(a, b)
	if err != nil {
		return 0, err
	}
	return PSNRFromMSE(mse), nil
}
