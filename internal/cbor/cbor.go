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

// Package cbor holds the CBOR configuration shared by run files.
//
// CBOR type behavior under this configuration:
//   - all integers decode as int64
//   - floats keep their encoded width; float64 values round-trip exactly, NaN included
//   - maps decode as map[string]any
//   - string, bool, []byte and nil are preserved exactly; a nil []byte encodes as empty
//   - invalid UTF-8 strings are allowed and decoded as-is
package cbor

import (
	"fmt"
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/cardinalhq/topnspill/internal/pipeline"
)

// Config holds matched encoder and decoder modes.
type Config struct {
	encMode cbor.EncMode
	decMode cbor.DecMode
}

// NewConfig creates the type-preserving configuration.
func NewConfig() (*Config, error) {
	encMode, err := cbor.EncOptions{
		Sort:          cbor.SortNone,
		ShortestFloat: cbor.ShortestFloatNone,
		NaNConvert:    cbor.NaNConvertNone,
		InfConvert:    cbor.InfConvertNone,
		BigIntConvert: cbor.BigIntConvertNone,
		Time:          cbor.TimeUnixMicro,
		TimeTag:       cbor.EncTagNone,
		NilContainers: cbor.NilContainerAsEmpty,
	}.EncMode()
	if err != nil {
		return nil, fmt.Errorf("failed to create CBOR encoder: %w", err)
	}

	decMode, err := cbor.DecOptions{
		BigIntDec:      cbor.BigIntDecodeValue,
		IntDec:         cbor.IntDecConvertSigned,
		DefaultMapType: reflect.TypeOf(map[string]any{}),
		UTF8:           cbor.UTF8DecodeInvalid,
	}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("failed to create CBOR decoder: %w", err)
	}

	return &Config{encMode: encMode, decMode: decMode}, nil
}

// NewEncoder returns a streaming encoder writing to w.
func (c *Config) NewEncoder(w io.Writer) *cbor.Encoder {
	return c.encMode.NewEncoder(w)
}

// NewDecoder returns a streaming decoder reading from r.
func (c *Config) NewDecoder(r io.Reader) *cbor.Decoder {
	return c.decMode.NewDecoder(r)
}

// Marshal encodes v.
func (c *Config) Marshal(v any) ([]byte, error) {
	return c.encMode.Marshal(v)
}

// Unmarshal decodes data into v.
func (c *Config) Unmarshal(data []byte, v any) error {
	return c.decMode.Unmarshal(data, v)
}

// EncodeRow encodes a Row with its keys flattened to strings.
func (c *Config) EncodeRow(row pipeline.Row) ([]byte, error) {
	return c.encMode.Marshal(pipeline.ToStringMap(row))
}

// DecodeRow is the inverse of EncodeRow.
func (c *Config) DecodeRow(data []byte) (pipeline.Row, error) {
	var raw map[string]any
	if err := c.decMode.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return pipeline.FromStringMap(raw), nil
}
