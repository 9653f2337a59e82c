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

package gob

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_PreservesTypesAndNulls(t *testing.T) {
	cfg := NewConfig()
	var buf bytes.Buffer
	enc := cfg.NewEncoder(&buf)

	first := map[string]any{
		"i":    int64(-7),
		"f":    2.5,
		"s":    "hello",
		"b":    true,
		"blob": []byte{0x01, 0x02},
		"none": nil,
	}
	require.NoError(t, enc.Encode(3, 120, first))
	require.NoError(t, enc.Encode(4, 64, map[string]any{"only": nil}))
	assert.Contains(t, first, "none", "input must not be modified")

	dec := cfg.NewDecoder(&buf)
	seq, size, values, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), seq)
	assert.Equal(t, int64(120), size)
	assert.Equal(t, first, values)

	seq, _, values, err = dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, uint64(4), seq)
	assert.Equal(t, map[string]any{"only": nil}, values)

	_, _, _, err = dec.Decode()
	assert.ErrorIs(t, err, io.EOF)
}
