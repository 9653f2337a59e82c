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
	"fmt"
	"os"

	"github.com/cardinalhq/topnspill/internal/pipeline"
	"github.com/cardinalhq/topnspill/internal/spillspace"
	"github.com/cardinalhq/topnspill/internal/topn/spillers"
)

// SpillWriter turns the contents of an accumulator into runs under one
// directory. Run files are named topn-<operatorID>-<n>-*, so concurrent
// operators sharing a directory never collide.
type SpillWriter struct {
	dir        string
	operatorID string
	checker    *spillspace.Checker
	spiller    spillers.Spiller
	dirReady   bool
	next       int
}

// NewSpillWriter creates a writer. The directory is created on first use.
func NewSpillWriter(operatorID string, checker *spillspace.Checker, spiller spillers.Spiller) *SpillWriter {
	return &SpillWriter{
		dir:        checker.Dir(),
		operatorID: operatorID,
		checker:    checker,
		spiller:    spiller,
	}
}

// Dir returns the spill directory.
func (w *SpillWriter) Dir() string { return w.dir }

// Spill writes the accumulator's rows, best first, to a new run and leaves
// the accumulator empty. The space check happens before anything is drained
// or written: when it fails the returned error wraps ErrSpillSpaceExhausted
// and the accumulator is untouched. Any other failure is a *SpillIOError
// and no run file is left behind.
func (w *SpillWriter) Spill(acc *Accumulator) (*Run, error) {
	if !w.dirReady {
		if err := os.MkdirAll(w.dir, 0o755); err != nil {
			return nil, &SpillIOError{Op: "mkdir", Path: w.dir, Err: err}
		}
		w.dirReady = true
	}

	memBytes := acc.SizeInBytes()
	if err := w.checker.Reserve(memBytes); err != nil {
		if errors.Is(err, spillspace.ErrSpaceExhausted) {
			return nil, err
		}
		return nil, &SpillIOError{Op: "statfs", Path: w.dir, Err: err}
	}

	rows := acc.DrainSorted()
	records := make([]spillers.Record, len(rows))
	for i := range rows {
		records[i] = spillers.Record{
			Seq:    rows[i].seq,
			Size:   rows[i].size,
			Values: pipeline.ToStringMap(rows[i].values),
		}
	}

	prefix := fmt.Sprintf("%s%s-%d", spillspace.RunFilePrefix, w.operatorID, w.next)
	w.next++
	file, err := w.spiller.WriteSpillFile(w.dir, prefix, records)
	if err != nil {
		return nil, &SpillIOError{Op: "write", Path: w.dir, Err: err}
	}

	spilledBytesCounter.Add(context.Background(), file.Bytes)
	spillRowsHistogram.Record(context.Background(), file.RowCount)

	return &Run{file: file, spiller: w.spiller, memBytes: memBytes}, nil
}
