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

package topn

import (
	"fmt"
	"math"
	"time"

	"github.com/cardinalhq/topnspill/internal/pipeline"
	"github.com/cardinalhq/topnspill/internal/pipeline/wkk"
)

// Size accounting constants. They approximate the Go heap footprint of a
// retained row and only need to be consistent, not exact.
const (
	rowOverheadBytes   = 96 // Row struct, map header, keys slice header
	fieldOverheadBytes = 32 // map bucket share for one key/value pair
	keyOverheadBytes   = 16 // one interface slot in the keys slice
	scalarBytes        = 8
	stringHeaderBytes  = 16
	sliceHeaderBytes   = 24
)

// Row is an immutable row held by the operator: the column values, the sort
// keys projected from them, the accounted size and the arrival sequence used
// to keep equal-ranked rows in arrival order.
type Row struct {
	values pipeline.Row
	keys   []any
	size   int64
	seq    uint64
}

// Values returns the row's columns. Callers must not modify the map.
func (r *Row) Values() pipeline.Row { return r.values }

// Get returns the value of column name, or nil when absent.
func (r *Row) Get(name string) any { return r.values[wkk.NewRowKey(name)] }

// SizeInBytes is the memory accounted for this row.
func (r *Row) SizeInBytes() int64 { return r.size }

// Seq is the arrival sequence number assigned by the operator.
func (r *Row) Seq() uint64 { return r.seq }

// UnsupportedValueError reports a column value of a type the operator cannot
// order or spill.
type UnsupportedValueError struct {
	Column string
	Value  any
}

func (e *UnsupportedValueError) Error() string {
	return fmt.Sprintf("column %q: unsupported value type %T", e.Column, e.Value)
}

// newRow builds an owned, normalized Row from values. The input map is not
// retained.
func newRow(values pipeline.Row, spec SortSpec, seq uint64) (Row, error) {
	owned := make(pipeline.Row, len(values))
	for k, v := range values {
		nv, err := normalizeValue(v)
		if err != nil {
			return Row{}, &UnsupportedValueError{Column: wkk.RowKeyValue(k), Value: v}
		}
		owned[k] = nv
	}
	return rowFromOwned(owned, spec, seq), nil
}

// rowFromOwned wraps an already normalized map without copying it.
func rowFromOwned(values pipeline.Row, spec SortSpec, seq uint64) Row {
	keys := spec.extract(values)
	return Row{
		values: values,
		keys:   keys,
		size:   estimateRowSize(values, len(keys)),
		seq:    seq,
	}
}

// projectKeys extracts and normalizes the sort keys of a row that has not
// been admitted yet, so rejected rows are never copied.
func projectKeys(values pipeline.Row, spec SortSpec) ([]any, error) {
	keys := make([]any, len(spec.fields))
	for i, f := range spec.fields {
		v, err := normalizeValue(values[f.Key])
		if err != nil {
			return nil, &UnsupportedValueError{Column: wkk.RowKeyValue(f.Key), Value: values[f.Key]}
		}
		keys[i] = v
	}
	return keys, nil
}

// normalizeValue maps every supported Go value onto the small set of kinds
// the ordering and spill codecs understand: nil, bool, int64, float64,
// string and []byte.
func normalizeValue(v any) (any, error) {
	switch x := v.(type) {
	case nil, bool, int64, float64, string:
		return v, nil
	case []byte:
		// A nil slice is an empty value, not NULL, and must read back as one.
		if x == nil {
			return []byte{}, nil
		}
		return x, nil
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return nil, fmt.Errorf("uint64 value %d overflows int64", x)
		}
		return int64(x), nil
	case float32:
		return float64(x), nil
	case time.Time:
		return x.UnixMicro(), nil
	default:
		return nil, fmt.Errorf("unsupported type %T", v)
	}
}

func estimateRowSize(values pipeline.Row, keyCount int) int64 {
	size := int64(rowOverheadBytes + keyCount*keyOverheadBytes)
	for _, v := range values {
		size += fieldOverheadBytes + valueBytes(v)
	}
	return size
}

func valueBytes(v any) int64 {
	switch x := v.(type) {
	case nil:
		return 0
	case string:
		return stringHeaderBytes + int64(len(x))
	case []byte:
		return sliceHeaderBytes + int64(len(x))
	default:
		return scalarBytes
	}
}
