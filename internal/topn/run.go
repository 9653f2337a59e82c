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
	"context"
	"errors"
	"io"

	"github.com/cardinalhq/topnspill/internal/pipeline"
	"github.com/cardinalhq/topnspill/internal/topn/spillers"
)

// Run is a sorted, spilled sequence of at most limit rows. It is written
// once, read once by the final merge and then deleted.
type Run struct {
	file     *spillers.SpillFile
	spiller  spillers.Spiller
	memBytes int64
	deleted  bool
}

// Path is the run's file on spill storage.
func (r *Run) Path() string { return r.file.Path }

// RowCount is the number of rows in the run.
func (r *Run) RowCount() int64 { return r.file.RowCount }

// Bytes is the run's size on disk.
func (r *Run) Bytes() int64 { return r.file.Bytes }

// MemoryBytes is the accounted memory the run's rows held before the spill.
func (r *Run) MemoryBytes() int64 { return r.memBytes }

// Delete removes the run from storage. It is safe to call more than once.
func (r *Run) Delete() error {
	if r.deleted {
		return nil
	}
	if err := r.spiller.CleanupSpillFile(r.file); err != nil {
		return &SpillIOError{Op: "delete", Path: r.file.Path, Err: err}
	}
	r.deleted = true
	runsDeletedCounter.Add(context.Background(), 1)
	return nil
}

func (r *Run) open(spec SortSpec) (*runReader, error) {
	reader, err := r.spiller.OpenSpillFile(r.file)
	if err != nil {
		return nil, &SpillIOError{Op: "open", Path: r.file.Path, Err: err}
	}
	return &runReader{run: r, reader: reader, spec: spec}, nil
}

// runReader turns spilled records back into rows.
type runReader struct {
	run    *Run
	reader spillers.SpillReader
	spec   SortSpec
	closed bool
}

// next returns io.EOF when the run is exhausted.
func (rr *runReader) next() (Row, error) {
	rec, err := rr.reader.Next()
	if errors.Is(err, io.EOF) {
		return Row{}, io.EOF
	}
	if err != nil {
		return Row{}, &SpillIOError{Op: "read", Path: rr.run.file.Path, Err: err}
	}
	row := rowFromOwned(pipeline.FromStringMap(rec.Values), rr.spec, rec.Seq)
	if rec.Size > 0 {
		row.size = rec.Size
	}
	return row, nil
}

func (rr *runReader) close() error {
	if rr.closed {
		return nil
	}
	rr.closed = true
	if err := rr.reader.Close(); err != nil {
		return &SpillIOError{Op: "close", Path: rr.run.file.Path, Err: err}
	}
	return nil
}
