package transform

import (
	"fmt"
	"image"
	"math"
	"math/rand"

	"golang.org/x/image/draw"

	"github.com/k9sret/dragonio/datum"
)

// Op is one augmentation step. The set of ops is closed; BuildOps selects
// and orders them from a Config.
type Op interface {
	// Name identifies the op in errors and logs.
	Name() string

	// Apply returns the transformed image. It may modify im in place and
	// return it, or return a new image.
	Apply(im *datum.Image, rng *rand.Rand) (*datum.Image, error)
}

// BuildOps returns the enabled ops of cfg in their fixed application order:
// force color, random scale, pad, crop, mirror, color jitter, normalize.
func BuildOps(cfg Config) []Op {
	var ops []Op

	if cfg.ForceColor {
		ops = append(ops, ForceColor{})
	}
	if cfg.RandomScaleEnabled() {
		ops = append(ops, RandomScale{Min: cfg.MinRandomScale, Max: cfg.MaxRandomScale})
	}
	if cfg.Padding > 0 {
		ops = append(ops, Pad{Size: cfg.Padding, Fill: float32(cfg.FillValue)})
	}
	if cfg.CropSize > 0 {
		ops = append(ops, Crop{Size: cfg.CropSize, Random: cfg.Phase == PhaseTrain})
	}
	if cfg.Mirror {
		ops = append(ops, Mirror{})
	}
	if cfg.ColorAugmentation {
		ops = append(ops, ColorJitter{Delta: DefaultJitterDelta})
	}
	if len(cfg.MeanValues) > 0 || cfg.Scale != 1 {
		ops = append(ops, Normalize{Mean: cfg.MeanValues, Scale: cfg.Scale})
	}

	return ops
}

// ForceColor turns a single-channel image into three identical channels.
type ForceColor struct{}

// Name implements the Op interface.
func (ForceColor) Name() string { return "force_color" }

// Apply implements the Op interface.
func (ForceColor) Apply(im *datum.Image, _ *rand.Rand) (*datum.Image, error) {
	if im.C != 1 {
		return im, nil
	}
	out := datum.NewImage(im.H, im.W, 3)
	for i, v := range im.Pix {
		out.Pix[3*i] = v
		out.Pix[3*i+1] = v
		out.Pix[3*i+2] = v
	}
	return out, nil
}

// RandomScale resizes by a factor drawn uniformly from [Min, Max] using
// bilinear interpolation. The new size is the ceiling of the scaled size.
type RandomScale struct {
	Min, Max float32
}

// Name implements the Op interface.
func (RandomScale) Name() string { return "random_scale" }

// Apply implements the Op interface.
func (s RandomScale) Apply(im *datum.Image, rng *rand.Rand) (*datum.Image, error) {
	factor := rng.Float64()*float64(s.Max-s.Min) + float64(s.Min)
	if factor == 1 {
		return im, nil
	}
	h := int(math.Ceil(float64(im.H) * factor))
	w := int(math.Ceil(float64(im.W) * factor))
	if h <= 0 || w <= 0 {
		return nil, fmt.Errorf("scale %g shrinks %dx%d image to nothing", factor, im.H, im.W)
	}
	return Resize(im, h, w), nil
}

// Resize returns im resized to h x w with bilinear interpolation. Each
// channel is resampled as an 8-bit plane, so samples must still be in
// [0,255]; they are rounded and clamped on the way in.
func Resize(im *datum.Image, h, w int) *datum.Image {
	out := datum.NewImage(h, w, im.C)
	src := image.NewGray(image.Rect(0, 0, im.W, im.H))
	dst := image.NewGray(image.Rect(0, 0, w, h))

	for c := 0; c < im.C; c++ {
		for i := 0; i < im.H*im.W; i++ {
			src.Pix[i] = clampByte(im.Pix[i*im.C+c])
		}
		draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
		for i := 0; i < h*w; i++ {
			out.Pix[i*im.C+c] = float32(dst.Pix[i])
		}
	}
	return out
}

func clampByte(v float32) uint8 {
	r := math.Round(float64(v))
	switch {
	case r <= 0:
		return 0
	case r >= 255:
		return 255
	default:
		return uint8(r)
	}
}

// Pad surrounds the image with Size pixels of Fill on every side.
type Pad struct {
	Size int
	Fill float32
}

// Name implements the Op interface.
func (Pad) Name() string { return "pad" }

// Apply implements the Op interface.
func (p Pad) Apply(im *datum.Image, _ *rand.Rand) (*datum.Image, error) {
	out := datum.NewImage(im.H+2*p.Size, im.W+2*p.Size, im.C)
	for i := range out.Pix {
		out.Pix[i] = p.Fill
	}
	rowLen := im.W * im.C
	for y := 0; y < im.H; y++ {
		dst := out.Offset(y+p.Size, p.Size, 0)
		copy(out.Pix[dst:dst+rowLen], im.Pix[y*rowLen:(y+1)*rowLen])
	}
	return out, nil
}

// Crop cuts a Size x Size window. Random picks the offset uniformly over all
// legal positions; otherwise the window is centered.
type Crop struct {
	Size   int
	Random bool
}

// Name implements the Op interface.
func (Crop) Name() string { return "crop" }

// Offsets returns the top-left corner of the crop window for an h x w image.
func (c Crop) Offsets(h, w int, rng *rand.Rand) (int, int, error) {
	if h < c.Size || w < c.Size {
		return 0, 0, fmt.Errorf("cannot crop %dx%d from %dx%d image", c.Size, c.Size, h, w)
	}
	if c.Random {
		return rng.Intn(h - c.Size + 1), rng.Intn(w - c.Size + 1), nil
	}
	return (h - c.Size) / 2, (w - c.Size) / 2, nil
}

// Apply implements the Op interface.
func (c Crop) Apply(im *datum.Image, rng *rand.Rand) (*datum.Image, error) {
	hOff, wOff, err := c.Offsets(im.H, im.W, rng)
	if err != nil {
		return nil, err
	}
	out := datum.NewImage(c.Size, c.Size, im.C)
	rowLen := c.Size * im.C
	for y := 0; y < c.Size; y++ {
		src := im.Offset(y+hOff, wOff, 0)
		copy(out.Pix[y*rowLen:(y+1)*rowLen], im.Pix[src:src+rowLen])
	}
	return out, nil
}

// Mirror flips the image horizontally with probability 0.5.
type Mirror struct{}

// Name implements the Op interface.
func (Mirror) Name() string { return "mirror" }

// Apply implements the Op interface.
func (Mirror) Apply(im *datum.Image, rng *rand.Rand) (*datum.Image, error) {
	if rng.Intn(2) == 0 {
		return im, nil
	}
	return Flip(im), nil
}

// Flip mirrors im horizontally in place and returns it.
func Flip(im *datum.Image) *datum.Image {
	for y := 0; y < im.H; y++ {
		for l, r := 0, im.W-1; l < r; l, r = l+1, r-1 {
			for c := 0; c < im.C; c++ {
				li, ri := im.Offset(y, l, c), im.Offset(y, r, c)
				im.Pix[li], im.Pix[ri] = im.Pix[ri], im.Pix[li]
			}
		}
	}
	return im
}

// DefaultJitterDelta bounds the color jitter factors to [1-d, 1+d].
const DefaultJitterDelta = 0.4

// ColorJitter distorts brightness, contrast and saturation, in that order,
// each by a factor drawn uniformly from [1-Delta, 1+Delta]. Samples are
// clipped to [0, 255] after every step.
type ColorJitter struct {
	Delta float64
}

// Name implements the Op interface.
func (ColorJitter) Name() string { return "color_jitter" }

// Apply implements the Op interface.
func (j ColorJitter) Apply(im *datum.Image, rng *rand.Rand) (*datum.Image, error) {
	brightness := float32(1 + (rng.Float64()*2-1)*j.Delta)
	contrast := float32(1 + (rng.Float64()*2-1)*j.Delta)
	saturation := float32(1 + (rng.Float64()*2-1)*j.Delta)

	AdjustBrightness(im, brightness)
	AdjustContrast(im, contrast)
	if im.C == 3 {
		AdjustSaturation(im, saturation)
	}
	return im, nil
}

func clip(v float32) float32 {
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	default:
		return v
	}
}

func luma(r, g, b float32) float32 {
	return 0.299*r + 0.587*g + 0.114*b
}

// AdjustBrightness blends im toward black by factor f.
func AdjustBrightness(im *datum.Image, f float32) {
	for i, v := range im.Pix {
		im.Pix[i] = clip(v * f)
	}
}

// AdjustContrast blends im toward a flat image of its mean luminance.
func AdjustContrast(im *datum.Image, f float32) {
	n := im.H * im.W
	if n == 0 {
		return
	}

	var sum float64
	if im.C == 3 {
		for i := 0; i < n; i++ {
			sum += float64(luma(im.Pix[3*i], im.Pix[3*i+1], im.Pix[3*i+2]))
		}
	} else {
		for i := 0; i < n; i++ {
			sum += float64(im.Pix[i*im.C])
		}
	}
	mean := float32(math.Floor(sum/float64(n) + 0.5))

	for i, v := range im.Pix {
		im.Pix[i] = clip(mean + f*(v-mean))
	}
}

// AdjustSaturation blends a three-channel im toward its per-pixel luminance.
func AdjustSaturation(im *datum.Image, f float32) {
	for i := 0; i < im.H*im.W; i++ {
		r, g, b := im.Pix[3*i], im.Pix[3*i+1], im.Pix[3*i+2]
		gray := luma(r, g, b)
		im.Pix[3*i] = clip(gray + f*(r-gray))
		im.Pix[3*i+1] = clip(gray + f*(g-gray))
		im.Pix[3*i+2] = clip(gray + f*(b-gray))
	}
}

// Normalize subtracts a per-channel mean and multiplies by Scale. A single
// mean value applies to every channel.
type Normalize struct {
	Mean  []float32
	Scale float32
}

// Name implements the Op interface.
func (Normalize) Name() string { return "normalize" }

// Apply implements the Op interface.
func (n Normalize) Apply(im *datum.Image, _ *rand.Rand) (*datum.Image, error) {
	var mean []float32
	switch len(n.Mean) {
	case 0:
		mean = make([]float32, im.C)
	case 1:
		mean = make([]float32, im.C)
		for c := range mean {
			mean[c] = n.Mean[0]
		}
	case im.C:
		mean = n.Mean
	default:
		return nil, fmt.Errorf("%d mean values for a %d-channel image", len(n.Mean), im.C)
	}

	for i, v := range im.Pix {
		im.Pix[i] = (v - mean[i%im.C]) * n.Scale
	}
	return im, nil
}
