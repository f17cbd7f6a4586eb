// Package decode turns raw characteristic payloads into numeric readings.
//
// Every decoder has the shape func([]byte) ([]float64, error) and fails with
// *FrameError when the payload does not have the expected width.
package decode

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Func decodes one notification payload
type Func func(data []byte) ([]float64, error)

// FrameError reports a payload of the wrong size
type FrameError struct {
	Layout string
	Want   int
	Got    int
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("%s: expected %d bytes, got %d", e.Layout, e.Want, e.Got)
}

func checkLen(layout string, data []byte, want int) error {
	if len(data) != want {
		return &FrameError{Layout: layout, Want: want, Got: len(data)}
	}
	return nil
}

// Uint16LE decodes n sequential little-endian uint16 values.
// The glove flex characteristic is Uint16LE(5).
func Uint16LE(n int) Func {
	layout := fmt.Sprintf("%d x uint16le", n)
	return func(data []byte) ([]float64, error) {
		if err := checkLen(layout, data, n*2); err != nil {
			return nil, err
		}
		out := make([]float64, n)
		for i := range out {
			out[i] = float64(binary.LittleEndian.Uint16(data[i*2:]))
		}
		return out, nil
	}
}

// Int16LEScaled decodes n little-endian int16 values divided by divisor.
// The accelerometer characteristic is Int16LEScaled(3, 16384), yielding g.
func Int16LEScaled(n int, divisor float64) Func {
	layout := fmt.Sprintf("%d x int16le", n)
	if divisor == 0 {
		divisor = 1
	}
	return func(data []byte) ([]float64, error) {
		if err := checkLen(layout, data, n*2); err != nil {
			return nil, err
		}
		out := make([]float64, n)
		for i := range out {
			out[i] = float64(int16(binary.LittleEndian.Uint16(data[i*2:]))) / divisor
		}
		return out, nil
	}
}

// Battery decodes a uint8 charge percentage followed by float32 LE volts.
// The result is [percent, volts].
func Battery() Func {
	return func(data []byte) ([]float64, error) {
		if err := checkLen("battery", data, 5); err != nil {
			return nil, err
		}
		volts := math.Float32frombits(binary.LittleEndian.Uint32(data[1:]))
		return []float64{float64(data[0]), float64(volts)}, nil
	}
}

// Letter decodes the single ASCII byte of the on-device letter prediction
func Letter() Func {
	return func(data []byte) ([]float64, error) {
		if err := checkLen("letter", data, 1); err != nil {
			return nil, err
		}
		if data[0] > 0x7f {
			return nil, fmt.Errorf("letter: non-ASCII byte 0x%02x", data[0])
		}
		return []float64{float64(data[0])}, nil
	}
}
