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
	"container/heap"
	"slices"
)

// Accumulator keeps the best limit rows offered since the last drain. It is
// a bounded max-heap under the operator's ordering, so the root is always
// the worst kept row and the eviction candidate.
//
// Accumulator is not safe for concurrent use; only the operator's driver
// mutates it.
type Accumulator struct {
	spec  SortSpec
	limit int
	rows  worstFirstHeap
	size  int64
}

// NewAccumulator returns an empty accumulator holding at most limit rows.
func NewAccumulator(spec SortSpec, limit int) *Accumulator {
	if limit < 0 {
		limit = 0
	}
	return &Accumulator{
		spec:  spec,
		limit: limit,
		rows:  worstFirstHeap{spec: spec},
	}
}

// Len returns the number of rows held.
func (a *Accumulator) Len() int { return len(a.rows.rows) }

// Limit returns the maximum number of rows held.
func (a *Accumulator) Limit() int { return a.limit }

// SizeInBytes returns the accounted size of the held rows. It is maintained
// incrementally on every insert and eviction.
func (a *Accumulator) SizeInBytes() int64 { return a.size }

// Worst returns the current eviction candidate.
func (a *Accumulator) Worst() (*Row, bool) {
	if len(a.rows.rows) == 0 {
		return nil, false
	}
	return &a.rows.rows[0], true
}

// admits reports whether a row with the given keys and sequence would be
// kept by Offer. It lets the caller skip copying rows that would be
// discarded anyway.
func (a *Accumulator) admits(keys []any, seq uint64) bool {
	if a.limit == 0 {
		return false
	}
	if len(a.rows.rows) < a.limit {
		return true
	}
	worst := &a.rows.rows[0]
	if c := a.spec.compareKeys(keys, worst.keys); c != 0 {
		return c < 0
	}
	return seq < worst.seq
}

// Offer inserts row if there is room, or replaces the worst kept row if row
// ranks strictly better. Rows equal to the worst kept row lose to it when
// they arrived later. It returns whether row was kept.
func (a *Accumulator) Offer(row Row) bool {
	if !a.admits(row.keys, row.seq) {
		return false
	}
	if len(a.rows.rows) < a.limit {
		heap.Push(&a.rows, row)
		a.size += row.size
		return true
	}
	a.size += row.size - a.rows.rows[0].size
	a.rows.rows[0] = row
	heap.Fix(&a.rows, 0)
	return true
}

// DrainSorted returns the held rows best first and resets the accumulator to
// empty. The returned slice is owned by the caller.
func (a *Accumulator) DrainSorted() []Row {
	out := a.rows.rows
	a.rows.rows = nil
	a.size = 0
	slices.SortFunc(out, func(x, y Row) int {
		return a.spec.Compare(&x, &y)
	})
	return out
}

// worstFirstHeap implements heap.Interface with the worst row at the root.
type worstFirstHeap struct {
	spec SortSpec
	rows []Row
}

func (h *worstFirstHeap) Len() int { return len(h.rows) }

func (h *worstFirstHeap) Less(i, j int) bool {
	return h.spec.Compare(&h.rows[i], &h.rows[j]) > 0
}

func (h *worstFirstHeap) Swap(i, j int) { h.rows[i], h.rows[j] = h.rows[j], h.rows[i] }

func (h *worstFirstHeap) Push(x any) { h.rows = append(h.rows, x.(Row)) }

func (h *worstFirstHeap) Pop() any {
	n := len(h.rows) - 1
	r := h.rows[n]
	h.rows[n] = Row{}
	h.rows = h.rows[:n]
	return r
}
