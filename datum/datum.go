// Package datum defines the on-disk record format and the in-memory image
// produced by decoding it.
//
// Records are Caffe-style Datum protobuf messages. Only the fields used by
// the pipeline are understood; everything else is skipped on decode.
package datum

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Datum field numbers.
const (
	fieldChannels protowire.Number = 1
	fieldHeight   protowire.Number = 2
	fieldWidth    protowire.Number = 3
	fieldData     protowire.Number = 4
	fieldLabel    protowire.Number = 5
	fieldEncoded  protowire.Number = 7
	fieldLabels   protowire.Number = 8
)

// ErrMalformed is wrapped by every decoding failure.
var ErrMalformed = errors.New("datum: malformed record")

// Datum is a single decoded record.
//
// When Encoded is false, Data holds Height*Width*Channels bytes in HWC order.
// When Encoded is true, Data holds a PNG or JPEG file and the geometry fields
// are informational.
type Datum struct {
	Channels int
	Height   int
	Width    int
	Data     []byte
	Label    int32
	Labels   []int32
	Encoded  bool
}

// LabelSet returns Labels when present, otherwise the single Label.
func (d *Datum) LabelSet() []int32 {
	if len(d.Labels) > 0 {
		return d.Labels
	}
	return []int32{d.Label}
}

// Marshal encodes d in protobuf wire format.
func Marshal(d *Datum) []byte {
	b := make([]byte, 0, len(d.Data)+32+5*len(d.Labels))

	b = appendVarintField(b, fieldChannels, uint64(d.Channels))
	b = appendVarintField(b, fieldHeight, uint64(d.Height))
	b = appendVarintField(b, fieldWidth, uint64(d.Width))
	if len(d.Data) > 0 {
		b = protowire.AppendTag(b, fieldData, protowire.BytesType)
		b = protowire.AppendBytes(b, d.Data)
	}
	b = appendVarintField(b, fieldLabel, uint64(int64(d.Label)))
	if d.Encoded {
		b = appendVarintField(b, fieldEncoded, protowire.EncodeBool(true))
	}
	for _, l := range d.Labels {
		b = appendVarintField(b, fieldLabels, uint64(int64(l)))
	}

	return b
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// Unmarshal decodes a record produced by Marshal or by any Caffe-compatible
// writer. Data aliases b.
func Unmarshal(b []byte) (*Datum, error) {
	d := &Datum{}

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case typ == protowire.VarintType && num != fieldLabels:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return nil, fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(m))
			}
			b = b[m:]
			d.setVarint(num, v)

		case num == fieldData && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return nil, fmt.Errorf("%w: data: %v", ErrMalformed, protowire.ParseError(m))
			}
			b = b[m:]
			d.Data = v

		case num == fieldLabels:
			m, err := d.consumeLabels(typ, b)
			if err != nil {
				return nil, err
			}
			b = b[m:]

		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return nil, fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(m))
			}
			b = b[m:]
		}
	}

	if d.Channels < 0 || d.Height < 0 || d.Width < 0 {
		return nil, fmt.Errorf("%w: negative geometry %dx%dx%d", ErrMalformed, d.Height, d.Width, d.Channels)
	}

	return d, nil
}

func (d *Datum) setVarint(num protowire.Number, v uint64) {
	switch num {
	case fieldChannels:
		d.Channels = int(int32(v))
	case fieldHeight:
		d.Height = int(int32(v))
	case fieldWidth:
		d.Width = int(int32(v))
	case fieldLabel:
		d.Label = int32(v)
	case fieldEncoded:
		d.Encoded = protowire.DecodeBool(v)
	}
}

// consumeLabels reads either a single unpacked label or a packed run.
func (d *Datum) consumeLabels(typ protowire.Type, b []byte) (int, error) {
	switch typ {
	case protowire.VarintType:
		v, m := protowire.ConsumeVarint(b)
		if m < 0 {
			return 0, fmt.Errorf("%w: labels: %v", ErrMalformed, protowire.ParseError(m))
		}
		d.Labels = append(d.Labels, int32(v))
		return m, nil

	case protowire.BytesType:
		packed, m := protowire.ConsumeBytes(b)
		if m < 0 {
			return 0, fmt.Errorf("%w: labels: %v", ErrMalformed, protowire.ParseError(m))
		}
		for len(packed) > 0 {
			v, k := protowire.ConsumeVarint(packed)
			if k < 0 {
				return 0, fmt.Errorf("%w: packed labels: %v", ErrMalformed, protowire.ParseError(k))
			}
			packed = packed[k:]
			d.Labels = append(d.Labels, int32(v))
		}
		return m, nil

	default:
		return 0, fmt.Errorf("%w: labels has wire type %d", ErrMalformed, typ)
	}
}
