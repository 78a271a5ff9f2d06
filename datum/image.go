package datum

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"

	// Registered decoders for encoded records.
	_ "image/jpeg"
)

// Image is a dense HWC image with float32 samples. Samples start in [0,255]
// and stay there until normalization.
type Image struct {
	H, W, C int
	Pix     []float32
}

// NewImage allocates a zeroed image.
func NewImage(h, w, c int) *Image {
	return &Image{H: h, W: w, C: c, Pix: make([]float32, h*w*c)}
}

// Offset returns the index of sample (y, x, ch) in Pix.
func (im *Image) Offset(y, x, ch int) int {
	return (y*im.W+x)*im.C + ch
}

// At returns sample (y, x, ch).
func (im *Image) At(y, x, ch int) float32 {
	return im.Pix[im.Offset(y, x, ch)]
}

// Set stores sample (y, x, ch).
func (im *Image) Set(y, x, ch int, v float32) {
	im.Pix[im.Offset(y, x, ch)] = v
}

// Clone returns a deep copy.
func (im *Image) Clone() *Image {
	out := &Image{H: im.H, W: im.W, C: im.C, Pix: make([]float32, len(im.Pix))}
	copy(out.Pix, im.Pix)
	return out
}

// Image decodes the datum's pixels.
func (d *Datum) Image() (*Image, error) {
	if d.Encoded {
		return decodeEncoded(d.Data)
	}

	want := d.Height * d.Width * d.Channels
	if want == 0 {
		return nil, fmt.Errorf("%w: empty geometry %dx%dx%d", ErrMalformed, d.Height, d.Width, d.Channels)
	}
	if len(d.Data) != want {
		return nil, fmt.Errorf("%w: have %d bytes, geometry %dx%dx%d needs %d",
			ErrMalformed, len(d.Data), d.Height, d.Width, d.Channels, want)
	}

	im := NewImage(d.Height, d.Width, d.Channels)
	for i, v := range d.Data {
		im.Pix[i] = float32(v)
	}
	return im, nil
}

func decodeEncoded(data []byte) (*Image, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	b := src.Bounds()
	h, w := b.Dy(), b.Dx()

	switch src.(type) {
	case *image.Gray, *image.Gray16:
		im := NewImage(h, w, 1)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				g := color.GrayModel.Convert(src.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
				im.Pix[y*w+x] = float32(g.Y)
			}
		}
		return im, nil
	}

	im := NewImage(h, w, 3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := src.At(b.Min.X+x, b.Min.Y+y).RGBA()
			off := (y*w + x) * 3
			im.Pix[off] = float32(r >> 8)
			im.Pix[off+1] = float32(g >> 8)
			im.Pix[off+2] = float32(bl >> 8)
		}
	}
	return im, nil
}

// FromImage builds a datum from a decoded image. With encoded set the image
// is stored as PNG; otherwise it is stored as raw HWC bytes, one channel for
// grayscale sources and three otherwise.
func FromImage(src image.Image, label int32, encoded bool) (*Datum, error) {
	b := src.Bounds()
	d := &Datum{Height: b.Dy(), Width: b.Dx(), Label: label, Encoded: encoded}

	_, gray := src.(*image.Gray)
	if gray {
		d.Channels = 1
	} else {
		d.Channels = 3
	}

	if encoded {
		var buf bytes.Buffer
		if err := png.Encode(&buf, src); err != nil {
			return nil, fmt.Errorf("failed to encode png: %w", err)
		}
		d.Data = buf.Bytes()
		return d, nil
	}

	d.Data = make([]byte, 0, d.Height*d.Width*d.Channels)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if gray {
				d.Data = append(d.Data, color.GrayModel.Convert(src.At(x, y)).(color.Gray).Y)
				continue
			}
			r, g, bl, _ := src.At(x, y).RGBA()
			d.Data = append(d.Data, uint8(r>>8), uint8(g>>8), uint8(bl>>8))
		}
	}
	return d, nil
}

// FromPixels builds a raw datum from HWC bytes.
func FromPixels(h, w, c int, pix []byte, label int32) *Datum {
	return &Datum{Channels: c, Height: h, Width: w, Data: pix, Label: label}
}
