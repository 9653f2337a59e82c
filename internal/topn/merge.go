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
	"context"
	"errors"
	"io"

	"github.com/hashicorp/go-multierror"
)

// MergeIterator yields the global top rows across the final in-memory drain
// and every spilled run. Each source is sorted best first, so a k-way merge
// over the source heads is enough; ties across sources fall back to the
// arrival sequence, which keeps the output identical to an unspilled run.
//
// Runs are deleted as soon as they are exhausted, when the limit is reached,
// and on Close. A MergeIterator is not restartable and not safe for
// concurrent use.
type MergeIterator struct {
	spec    SortSpec
	limit   int
	emitted int

	final []Row
	runs  []*Run

	started bool
	done    bool
	err     error
	heads   mergeHeap
	readers []*runReader
	onDone  func(err error)
}

// Merge returns an iterator over the best limit rows of final and runs.
// final must be sorted best first, as returned by DrainSorted. Runs are
// opened on the first call to Next.
func Merge(final []Row, runs []*Run, limit int, spec SortSpec) *MergeIterator {
	return &MergeIterator{
		spec:  spec,
		limit: limit,
		final: final,
		runs:  runs,
		heads: mergeHeap{spec: spec},
	}
}

// Next returns the next row in order, or io.EOF when the limit is reached or
// every source is exhausted. Once ctx is cancelled, Next deletes the
// remaining runs and returns the context error; no further rows are produced.
func (m *MergeIterator) Next(ctx context.Context) (Row, error) {
	if m.err != nil {
		return Row{}, m.err
	}
	if m.done {
		return Row{}, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return Row{}, m.finish(err)
	}
	if !m.started {
		m.started = true
		if err := m.init(); err != nil {
			return Row{}, m.finish(err)
		}
	}
	if m.emitted >= m.limit || m.heads.Len() == 0 {
		return Row{}, m.finish(nil)
	}

	cur := m.heads.cursors[0]
	row := cur.head
	if err := cur.advance(); err != nil {
		if !errors.Is(err, io.EOF) {
			return Row{}, m.finish(err)
		}
		heap.Pop(&m.heads)
		if err := cur.release(); err != nil {
			return Row{}, m.finish(err)
		}
	} else {
		heap.Fix(&m.heads, 0)
	}

	m.emitted++
	rowsOutCounter.Add(ctx, 1)
	return row, nil
}

// Close releases every open run reader and deletes every run that has not
// been deleted yet. It is safe to call more than once.
func (m *MergeIterator) Close() error {
	if m.err != nil || m.done {
		return nil
	}
	err := m.finish(nil)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (m *MergeIterator) init() error {
	if m.limit <= 0 {
		return nil
	}
	if len(m.final) > 0 {
		heap.Push(&m.heads, &mergeCursor{rows: m.final, head: m.final[0], pos: 1})
	}
	for _, run := range m.runs {
		reader, err := run.open(m.spec)
		if err != nil {
			return err
		}
		m.readers = append(m.readers, reader)
		cur := &mergeCursor{reader: reader}
		if err := cur.advance(); err != nil {
			if !errors.Is(err, io.EOF) {
				return err
			}
			if err := cur.release(); err != nil {
				return err
			}
			continue
		}
		heap.Push(&m.heads, cur)
	}
	return nil
}

// finish closes readers and deletes runs. A nil cause means the merge ended
// normally, and io.EOF is returned unless cleanup itself failed.
func (m *MergeIterator) finish(cause error) error {
	var result *multierror.Error
	for _, reader := range m.readers {
		if err := reader.close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	for _, run := range m.runs {
		if err := run.Delete(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	m.readers = nil
	m.final = nil
	m.heads.cursors = nil

	err := cause
	if cleanupErr := result.ErrorOrNil(); cleanupErr != nil {
		if err == nil {
			err = cleanupErr
		} else {
			err = multierror.Append(err, cleanupErr)
		}
	}

	if err != nil {
		m.err = err
	} else {
		m.done = true
	}
	if m.onDone != nil {
		m.onDone(err)
		m.onDone = nil
	}
	if err != nil {
		return err
	}
	return io.EOF
}

// mergeCursor is the head of one source: either the in-memory drain or a
// run being read.
type mergeCursor struct {
	head Row

	rows []Row
	pos  int

	reader *runReader
}

// advance loads the next head, returning io.EOF when the source is empty.
func (c *mergeCursor) advance() error {
	if c.reader != nil {
		row, err := c.reader.next()
		if err != nil {
			return err
		}
		c.head = row
		return nil
	}
	if c.pos >= len(c.rows) {
		c.head = Row{}
		return io.EOF
	}
	c.head = c.rows[c.pos]
	c.pos++
	return nil
}

// release closes and deletes an exhausted run source.
func (c *mergeCursor) release() error {
	if c.reader == nil {
		c.rows = nil
		return nil
	}
	if err := c.reader.close(); err != nil {
		return err
	}
	return c.reader.run.Delete()
}

type mergeHeap struct {
	spec    SortSpec
	cursors []*mergeCursor
}

func (h *mergeHeap) Len() int { return len(h.cursors) }

func (h *mergeHeap) Less(i, j int) bool {
	return h.spec.Compare(&h.cursors[i].head, &h.cursors[j].head) < 0
}

func (h *mergeHeap) Swap(i, j int) { h.cursors[i], h.cursors[j] = h.cursors[j], h.cursors[i] }

func (h *mergeHeap) Push(x any) { h.cursors = append(h.cursors, x.(*mergeCursor)) }

func (h *mergeHeap) Pop() any {
	n := len(h.cursors) - 1
	c := h.cursors[n]
	h.cursors[n] = nil
	h.cursors = h.cursors[:n]
	return c
}
