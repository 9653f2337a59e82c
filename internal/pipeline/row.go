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

package pipeline

import (
	"maps"

	"github.com/cardinalhq/topnspill/internal/pipeline/wkk"
)

// Row is a single data row keyed by interned column names.
type Row map[wkk.RowKey]any

// CopyRow returns a shallow copy of in. Values are treated as immutable, so
// sharing them between copies is safe.
func CopyRow(in Row) Row {
	out := make(Row, len(in))
	maps.Copy(out, in)
	return out
}

// ToStringMap converts a Row to a plain map for codecs that cannot handle RowKeys.
func ToStringMap(row Row) map[string]any {
	result := make(map[string]any, len(row))
	for key, value := range row {
		result[wkk.RowKeyValue(key)] = value
	}
	return result
}

// FromStringMap is the inverse of ToStringMap.
func FromStringMap(m map[string]any) Row {
	row := make(Row, len(m))
	for k, v := range m {
		row[wkk.NewRowKey(k)] = v
	}
	return row
}

// RowFromPairs builds a row from alternating column name / value arguments.
// It panics on an odd argument count or a non-string column name and is meant
// for tests and generators.
func RowFromPairs(kv ...any) Row {
	if len(kv)%2 != 0 {
		panic("pipeline.RowFromPairs: odd number of arguments")
	}
	row := make(Row, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		name, ok := kv[i].(string)
		if !ok {
			panic("pipeline.RowFromPairs: column name must be a string")
		}
		row[wkk.NewRowKey(name)] = kv[i+1]
	}
	return row
}
