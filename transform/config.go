package transform

import (
	"errors"
	"fmt"
	"strings"
)

// Phase selects random or deterministic augmentation.
type Phase string

const (
	// PhaseTrain enables random crops.
	PhaseTrain Phase = "TRAIN"
	// PhaseTest uses center crops.
	PhaseTest Phase = "TEST"
)

// ParsePhase accepts TRAIN or TEST in any case.
func ParsePhase(s string) (Phase, error) {
	switch p := Phase(strings.ToUpper(strings.TrimSpace(s))); p {
	case PhaseTrain, PhaseTest:
		return p, nil
	default:
		return "", fmt.Errorf("unknown phase %q (want TRAIN or TEST)", s)
	}
}

// Config is the read-only augmentation configuration shared by every
// transformer worker. It must not be modified once workers have started.
type Config struct {
	MeanValues        []float32
	Scale             float32
	Padding           int
	FillValue         int
	CropSize          int
	Mirror            bool
	ColorAugmentation bool
	MinRandomScale    float32
	MaxRandomScale    float32
	ForceColor        bool
	Phase             Phase
}

// RandomScaleEnabled reports whether the random scale range is non-degenerate.
func (c Config) RandomScaleEnabled() bool {
	return c.MaxRandomScale != c.MinRandomScale
}

// Validate checks every field and reports all violations at once.
func (c Config) Validate() error {
	var errs []error

	if c.Padding < 0 {
		errs = append(errs, fmt.Errorf("padding cannot be negative, got %d", c.Padding))
	}
	if c.FillValue < 0 || c.FillValue > 255 {
		errs = append(errs, fmt.Errorf("fill_value must be in [0, 255], got %d", c.FillValue))
	}
	if c.CropSize < 0 {
		errs = append(errs, fmt.Errorf("crop_size cannot be negative, got %d", c.CropSize))
	}
	if c.MinRandomScale <= 0 || c.MaxRandomScale <= 0 {
		errs = append(errs, fmt.Errorf("random scale range must be positive, got [%g, %g]", c.MinRandomScale, c.MaxRandomScale))
	} else if c.MinRandomScale > c.MaxRandomScale {
		errs = append(errs, fmt.Errorf("min_random_scale (%g) cannot be greater than max_random_scale (%g)", c.MinRandomScale, c.MaxRandomScale))
	}
	if n := len(c.MeanValues); n != 0 && n != 1 && n != 3 {
		errs = append(errs, fmt.Errorf("mean_values must have 0, 1 or 3 entries, got %d", n))
	}
	if c.Phase != PhaseTrain && c.Phase != PhaseTest {
		errs = append(errs, fmt.Errorf("unknown phase %q", c.Phase))
	}

	return errors.Join(errs...)
}
