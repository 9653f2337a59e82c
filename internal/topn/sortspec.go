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
	"bytes"
	"cmp"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/cardinalhq/topnspill/internal/pipeline"
	"github.com/cardinalhq/topnspill/internal/pipeline/wkk"
)

// Direction is the sort direction of one key.
type Direction uint8

const (
	Ascending Direction = iota
	Descending
)

func (d Direction) String() string {
	if d == Descending {
		return "desc"
	}
	return "asc"
}

// NullOrdering places NULLs before or after every non-NULL value, regardless
// of Direction. The zero value is NullsLast.
type NullOrdering uint8

const (
	NullsLast NullOrdering = iota
	NullsFirst
)

func (n NullOrdering) String() string {
	if n == NullsFirst {
		return "nulls_first"
	}
	return "nulls_last"
}

// SortField orders rows by a single column.
type SortField struct {
	Key       wkk.RowKey
	Direction Direction
	Nulls     NullOrdering
}

func (f SortField) String() string {
	return fmt.Sprintf("%s:%s:%s", wkk.RowKeyValue(f.Key), f.Direction, f.Nulls)
}

// Asc is shorthand for an ascending, nulls-last field.
func Asc(column string) SortField {
	return SortField{Key: wkk.NewRowKey(column)}
}

// Desc is shorthand for a descending, nulls-last field.
func Desc(column string) SortField {
	return SortField{Key: wkk.NewRowKey(column), Direction: Descending}
}

// ParseSortField parses "column[:asc|desc][:nulls_first|nulls_last]".
func ParseSortField(s string) (SortField, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if parts[0] == "" {
		return SortField{}, fmt.Errorf("sort field %q: empty column name", s)
	}
	f := SortField{Key: wkk.NewRowKey(parts[0])}
	for _, p := range parts[1:] {
		switch strings.ToLower(p) {
		case "asc":
			f.Direction = Ascending
		case "desc":
			f.Direction = Descending
		case "nulls_first":
			f.Nulls = NullsFirst
		case "nulls_last":
			f.Nulls = NullsLast
		default:
			return SortField{}, fmt.Errorf("sort field %q: unknown modifier %q", s, p)
		}
	}
	return f, nil
}

var errEmptySortSpec = errors.New("sort spec requires at least one field")

// SortSpec is the immutable ordering of an operator. Rows that compare
// "less" rank better and are emitted first.
type SortSpec struct {
	fields []SortField
}

// NewSortSpec builds a SortSpec from fields. The slice is copied.
func NewSortSpec(fields ...SortField) (SortSpec, error) {
	if len(fields) == 0 {
		return SortSpec{}, errEmptySortSpec
	}
	return SortSpec{fields: append([]SortField(nil), fields...)}, nil
}

// MustSortSpec is NewSortSpec that panics on error, for tests and constants.
func MustSortSpec(fields ...SortField) SortSpec {
	s, err := NewSortSpec(fields...)
	if err != nil {
		panic(err)
	}
	return s
}

// Fields returns a copy of the spec's fields.
func (s SortSpec) Fields() []SortField {
	return append([]SortField(nil), s.fields...)
}

func (s SortSpec) String() string {
	parts := make([]string, len(s.fields))
	for i, f := range s.fields {
		parts[i] = f.String()
	}
	return strings.Join(parts, ",")
}

func (s SortSpec) extract(values pipeline.Row) []any {
	keys := make([]any, len(s.fields))
	for i, f := range s.fields {
		keys[i] = values[f.Key]
	}
	return keys
}

// compareKeys orders two projected key tuples, ignoring arrival order.
func (s SortSpec) compareKeys(a, b []any) int {
	for i, f := range s.fields {
		if c := compareField(f, a[i], b[i]); c != 0 {
			return c
		}
	}
	return 0
}

// CompareKeys orders two rows by their sort keys alone. Rows with equal keys
// compare equal regardless of arrival.
func (s SortSpec) CompareKeys(a, b *Row) int {
	return s.compareKeys(a.keys, b.keys)
}

// Compare is the total order used everywhere in the operator: key order,
// then arrival order so earlier rows win ties.
func (s SortSpec) Compare(a, b *Row) int {
	if c := s.compareKeys(a.keys, b.keys); c != 0 {
		return c
	}
	return cmp.Compare(a.seq, b.seq)
}

func compareField(f SortField, a, b any) int {
	aNull, bNull := a == nil, b == nil
	switch {
	case aNull && bNull:
		return 0
	case aNull:
		if f.Nulls == NullsFirst {
			return -1
		}
		return 1
	case bNull:
		if f.Nulls == NullsFirst {
			return 1
		}
		return -1
	}
	c := compareValues(a, b)
	if f.Direction == Descending {
		return -c
	}
	return c
}

// kind ranks used when two values of different kinds meet in one column.
const (
	rankBool = iota
	rankNumber
	rankString
	rankBytes
)

func kindRank(v any) int {
	switch v.(type) {
	case bool:
		return rankBool
	case int64, float64:
		return rankNumber
	case string:
		return rankString
	default:
		return rankBytes
	}
}

// compareValues orders two non-NULL normalized values. NaN sorts above every
// other number.
func compareValues(a, b any) int {
	switch x := a.(type) {
	case int64:
		switch y := b.(type) {
		case int64:
			return cmp.Compare(x, y)
		case float64:
			return compareFloat(float64(x), y)
		}
	case float64:
		switch y := b.(type) {
		case float64:
			return compareFloat(x, y)
		case int64:
			return compareFloat(x, float64(y))
		}
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y)
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0
			case !x:
				return -1
			default:
				return 1
			}
		}
	case []byte:
		if y, ok := b.([]byte); ok {
			return bytes.Compare(x, y)
		}
	}
	return cmp.Compare(kindRank(a), kindRank(b))
}

func compareFloat(x, y float64) int {
	xNaN, yNaN := math.IsNaN(x), math.IsNaN(y)
	switch {
	case xNaN && yNaN:
		return 0
	case xNaN:
		return 1
	case yNaN:
		return -1
	}
	return cmp.Compare(x, y)
}
