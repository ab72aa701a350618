package buffer

import "fmt"

// Mul writes the elementwise product a*b into dst. dst may alias a or b.
func Mul(dst, a, b *Buffer) error {
	if err := checkShape(dst, a, b); err != nil {
		return err
	}
	for i := range dst.data {
		dst.data[i] = a.data[i] * b.data[i]
	}
	return nil
}

// FromBytes converts 8-bit samples into dst. len(src) must equal dst.Len().
func FromBytes(dst *Buffer, src []byte) error {
	if len(src) != len(dst.data) {
		return &LengthError{Want: len(dst.data), Got: len(src)}
	}
	for i, v := range src {
		dst.data[i] = float32(v)
	}
	return nil
}

// LengthError is returned when a raw sample slice does not match the extent
// of the Buffer it is copied into.
type LengthError struct {
	Want, Got int
}

func (e *LengthError) Error() string {
	return fmt.Sprintf("buffer: sample count mismatch: want %d, got %d",
		e.Want, e.Got)
}
