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

// Package gob holds the gob encoding of run records.
//
// gob cannot carry nil interface values, so NULL columns are written as a
// separate list of names and restored on decode. Values keep their concrete
// Go type: int64, float64, string, bool and []byte round-trip exactly.
package gob

import (
	"encoding/gob"
	"io"
)

func init() {
	gob.Register(int64(0))
	gob.Register(float64(0))
	gob.Register("")
	gob.Register(false)
	gob.Register([]byte{})
}

// record is the on-disk layout.
type record struct {
	Seq    uint64
	Size   int64
	Values map[string]any
	Nulls  []string
}

// Config creates encoders and decoders for run records.
type Config struct{}

// NewConfig creates a gob configuration.
func NewConfig() *Config {
	return &Config{}
}

// Encoder writes records to a stream.
type Encoder struct {
	enc *gob.Encoder
}

// NewEncoder returns an encoder writing to w.
func (c *Config) NewEncoder(w io.Writer) *Encoder {
	return &Encoder{enc: gob.NewEncoder(w)}
}

// Encode writes one record. values is not modified.
func (e *Encoder) Encode(seq uint64, size int64, values map[string]any) error {
	rec := record{Seq: seq, Size: size, Values: make(map[string]any, len(values))}
	for k, v := range values {
		if v == nil {
			rec.Nulls = append(rec.Nulls, k)
			continue
		}
		rec.Values[k] = v
	}
	return e.enc.Encode(&rec)
}

// Decoder reads records from a stream.
type Decoder struct {
	dec *gob.Decoder
}

// NewDecoder returns a decoder reading from r.
func (c *Config) NewDecoder(r io.Reader) *Decoder {
	return &Decoder{dec: gob.NewDecoder(r)}
}

// Decode reads the next record. It returns io.EOF at a clean end of stream.
func (d *Decoder) Decode() (seq uint64, size int64, values map[string]any, err error) {
	var rec record
	if err := d.dec.Decode(&rec); err != nil {
		return 0, 0, nil, err
	}
	values = rec.Values
	if values == nil {
		values = make(map[string]any, len(rec.Nulls))
	}
	for _, k := range rec.Nulls {
		values[k] = nil
	}
	return rec.Seq, rec.Size, values, nil
}
