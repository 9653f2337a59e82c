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

package cbor

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/topnspill/internal/pipeline"
	"github.com/cardinalhq/topnspill/internal/pipeline/wkk"
)

func TestNewConfig(t *testing.T) {
	config, err := NewConfig()
	require.NoError(t, err)
	require.NotNil(t, config.encMode)
	require.NotNil(t, config.decMode)
}

func TestRowRoundTrip_PreservesKinds(t *testing.T) {
	config, err := NewConfig()
	require.NoError(t, err)

	row := pipeline.RowFromPairs(
		"i", int64(-9223372036854775808),
		"f", 3.25,
		"whole", float64(2),
		"s", "orderpriority",
		"b", true,
		"raw", []byte{0x00, 0xff},
		"null", nil,
	)

	data, err := config.EncodeRow(row)
	require.NoError(t, err)

	decoded, err := config.DecodeRow(data)
	require.NoError(t, err)
	assert.Equal(t, row, decoded)
	assert.IsType(t, float64(0), decoded[wkk.NewRowKey("whole")], "integral floats must stay float64")
}

func TestRowRoundTrip_NaN(t *testing.T) {
	config, err := NewConfig()
	require.NoError(t, err)

	data, err := config.EncodeRow(pipeline.RowFromPairs("f", math.NaN()))
	require.NoError(t, err)
	decoded, err := config.DecodeRow(data)
	require.NoError(t, err)

	f, ok := decoded[wkk.NewRowKey("f")].(float64)
	require.True(t, ok)
	assert.True(t, math.IsNaN(f))
}

func TestStreamingEncoderDecoder(t *testing.T) {
	config, err := NewConfig()
	require.NoError(t, err)

	type record struct {
		Seq    uint64         `cbor:"1,keyasint"`
		Values map[string]any `cbor:"2,keyasint"`
	}

	var buf bytes.Buffer
	enc := config.NewEncoder(&buf)
	for i := range 3 {
		require.NoError(t, enc.Encode(record{Seq: uint64(i), Values: map[string]any{"n": int64(i)}}))
	}

	dec := config.NewDecoder(&buf)
	for i := range 3 {
		var r record
		require.NoError(t, dec.Decode(&r))
		assert.Equal(t, uint64(i), r.Seq)
		assert.Equal(t, int64(i), r.Values["n"])
	}
}

func TestRowRoundTrip_NilBytesStayBytes(t *testing.T) {
	config, err := NewConfig()
	require.NoError(t, err)

	data, err := config.EncodeRow(pipeline.RowFromPairs("raw", []byte(nil)))
	require.NoError(t, err)
	decoded, err := config.DecodeRow(data)
	require.NoError(t, err)

	raw, ok := decoded[wkk.NewRowKey("raw")].([]byte)
	require.True(t, ok, "a nil []byte must not come back as NULL")
	assert.Empty(t, raw)
}
