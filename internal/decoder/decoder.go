// Copyright (C) 2025-2026 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package decoder reads PLAIN encoded Parquet values. The set of decoders
// is closed: one Kind per encoding and target type combination, all behind
// the same Decoder type.
package decoder

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"unsafe"
)

// Kind selects the encoding and target type of a Decoder.
type Kind uint8

const (
	Int32Plain Kind = iota + 1
	Int64Plain
	DoublePlain
	BinaryPlain
	BinaryShortDecimalPlain
)

func (k Kind) String() string {
	switch k {
	case Int32Plain:
		return "INT32_PLAIN"
	case Int64Plain:
		return "INT64_PLAIN"
	case DoublePlain:
		return "DOUBLE_PLAIN"
	case BinaryPlain:
		return "BINARY_PLAIN"
	case BinaryShortDecimalPlain:
		return "BINARY_SHORT_DECIMAL_PLAIN"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// ValuesDecoder is the contract upstream producers rely on.
type ValuesDecoder interface {
	Kind() Kind
	ReadNext(values []any) error
	Skip(n int) error
	RetainedSizeInBytes() int64
}

// ErrUnknownKind is returned by New for a Kind outside the closed set.
var ErrUnknownKind = errors.New("unknown decoder kind")

// DecodeError is a malformed or unrepresentable value. It is permanent:
// reading the same data again fails the same way.
type DecodeError struct {
	Kind Kind
	Msg  string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Permanent reports that the error must not be retried.
func (e *DecodeError) Permanent() bool { return true }

// Decoder reads values of one Kind from a PLAIN encoded page.
type Decoder struct {
	kind Kind
	buf  []byte
	pos  int
}

var _ ValuesDecoder = (*Decoder)(nil)

var instanceSize = int64(unsafe.Sizeof(Decoder{}))

// New returns a decoder over buf. buf is retained, not copied.
func New(kind Kind, buf []byte) (*Decoder, error) {
	switch kind {
	case Int32Plain, Int64Plain, DoublePlain, BinaryPlain, BinaryShortDecimalPlain:
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, uint8(kind))
	}
	return &Decoder{kind: kind, buf: buf}, nil
}

func (d *Decoder) Kind() Kind { return d.kind }

// RetainedSizeInBytes is the decoder's own footprint; the page buffer is
// accounted by whoever owns it.
func (d *Decoder) RetainedSizeInBytes() int64 { return instanceSize }

// ReadNext fills values with the next len(values) values. Int32Plain yields
// int32, Int64Plain and BinaryShortDecimalPlain int64, DoublePlain float64
// and BinaryPlain []byte sharing the page buffer.
func (d *Decoder) ReadNext(values []any) error {
	for i := range values {
		v, err := d.next()
		if err != nil {
			return err
		}
		values[i] = v
	}
	return nil
}

// Skip discards the next n values.
func (d *Decoder) Skip(n int) error {
	if n < 0 {
		return fmt.Errorf("invalid length %d", n)
	}
	for range n {
		if _, err := d.raw(); err != nil {
			return err
		}
	}
	return nil
}

func (d *Decoder) next() (any, error) {
	raw, err := d.raw()
	if err != nil {
		return nil, err
	}
	switch d.kind {
	case Int32Plain:
		return int32(binary.LittleEndian.Uint32(raw)), nil
	case Int64Plain:
		return int64(binary.LittleEndian.Uint64(raw)), nil
	case DoublePlain:
		return math.Float64frombits(binary.LittleEndian.Uint64(raw)), nil
	case BinaryPlain:
		return raw, nil
	default:
		return ShortDecimalValue(raw)
	}
}

// raw returns the encoded bytes of the next value: the fixed width for
// numeric kinds, the payload after the 4 byte length prefix for binary ones.
func (d *Decoder) raw() ([]byte, error) {
	var width int
	switch d.kind {
	case Int32Plain:
		width = 4
	case Int64Plain, DoublePlain:
		width = 8
	default:
		if len(d.buf)-d.pos < 4 {
			return nil, d.truncated()
		}
		width = int(binary.LittleEndian.Uint32(d.buf[d.pos:]))
		d.pos += 4
	}
	if width < 0 || len(d.buf)-d.pos < width {
		return nil, d.truncated()
	}
	raw := d.buf[d.pos : d.pos+width : d.pos+width]
	d.pos += width
	return raw, nil
}

func (d *Decoder) truncated() error {
	return &DecodeError{Kind: d.kind, Msg: fmt.Sprintf("truncated page at offset %d", d.pos)}
}

// ShortDecimalValue decodes a big-endian two's complement unscaled decimal
// of at most 8 bytes, sign extending shorter values. An empty value is 0.
func ShortDecimalValue(b []byte) (int64, error) {
	if len(b) > 8 {
		return 0, &DecodeError{
			Kind: BinaryShortDecimalPlain,
			Msg:  fmt.Sprintf("unable to read BINARY type decimal of size %d as a short decimal", len(b)),
		}
	}
	var v int64
	if len(b) > 0 && b[0]&0x80 != 0 {
		v = -1
	}
	for _, c := range b {
		v = v<<8 | int64(c)
	}
	return v, nil
}
