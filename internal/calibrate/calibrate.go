// Package calibrate turns raw flex sensor values into bend angles.
package calibrate

import (
	"fmt"
	"math"

	"github.com/montanaflynn/stats"
)

// MaxAngle is the bend angle of a fully bent finger
const MaxAngle = 90

// Calibration holds the straight (Min) and bent (Max) raw value per finger
type Calibration struct {
	Min []int `yaml:"min" json:"min"`
	Max []int `yaml:"max" json:"max"`
}

// Default returns the ranges the glove firmware ships with
func Default() Calibration {
	return Calibration{
		Min: []int{847, 2510, 1206, 2625, 949},
		Max: []int{3056, 4095, 2412, 3611, 2304},
	}
}

func (c Calibration) Validate() error {
	if len(c.Min) == 0 {
		return fmt.Errorf("calibration has no fingers")
	}
	if len(c.Min) != len(c.Max) {
		return fmt.Errorf("calibration has %d minimums but %d maximums", len(c.Min), len(c.Max))
	}
	for i := range c.Min {
		if c.Min[i] >= c.Max[i] {
			return fmt.Errorf("finger %d: min %d is not below max %d", i, c.Min[i], c.Max[i])
		}
	}
	return nil
}

// Angle maps raw onto 0..MaxAngle for one finger with Arduino constrain+map
// semantics, truncating like integer division does. Unknown fingers map to 0.
func (c Calibration) Angle(finger, raw int) int {
	if finger < 0 || finger >= len(c.Min) || finger >= len(c.Max) {
		return 0
	}
	lo, hi := c.Min[finger], c.Max[finger]
	if hi <= lo {
		return 0
	}
	raw = max(lo, min(hi, raw))
	return int(int64(raw-lo) * MaxAngle / int64(hi-lo))
}

// Angles maps a flex reading; extra values beyond the calibrated fingers are dropped
func (c Calibration) Angles(raw []float64) []float64 {
	n := min(len(raw), len(c.Min))
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = float64(c.Angle(i, int(math.Round(raw[i]))))
	}
	return out
}

// FromSamples derives a calibration from readings captured with the hand held
// straight and then fully bent. Each finger's bound is the mean of its samples.
func FromSamples(straight, bent [][]float64) (Calibration, error) {
	lo, err := fingerMeans(straight)
	if err != nil {
		return Calibration{}, fmt.Errorf("straight samples: %w", err)
	}
	hi, err := fingerMeans(bent)
	if err != nil {
		return Calibration{}, fmt.Errorf("bent samples: %w", err)
	}
	if len(lo) != len(hi) {
		return Calibration{}, fmt.Errorf("straight samples have %d fingers, bent have %d", len(lo), len(hi))
	}

	c := Calibration{Min: lo, Max: hi}
	if err := c.Validate(); err != nil {
		return Calibration{}, err
	}
	return c, nil
}

func fingerMeans(samples [][]float64) ([]int, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("no samples")
	}
	fingers := len(samples[0])
	means := make([]int, fingers)
	column := make([]float64, len(samples))
	for f := 0; f < fingers; f++ {
		for i, s := range samples {
			if len(s) != fingers {
				return nil, fmt.Errorf("sample %d has %d values, want %d", i, len(s), fingers)
			}
			column[i] = s[f]
		}
		mean, err := stats.Mean(column)
		if err != nil {
			return nil, err
		}
		means[f] = int(math.Round(mean))
	}
	return means, nil
}
