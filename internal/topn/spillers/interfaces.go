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

// Package spillers writes sorted runs of rows to disk and reads them back.
// Every codec lives in its own file so it can be swapped without touching
// the operator.
package spillers

import "errors"

// Record is one spilled row: its arrival sequence, its accounted in-memory
// size and its column values.
type Record struct {
	Seq    uint64
	Size   int64
	Values map[string]any
}

// SpillFile describes a run written to disk.
type SpillFile struct {
	// Path is the filesystem path of the run.
	Path string

	// RowCount is the number of records in the run.
	RowCount int64

	// Bytes is the size of the run on disk.
	Bytes int64
}

// SpillReader reads the records of a run in the order they were written.
type SpillReader interface {
	// Next returns the next record, or io.EOF when the run is exhausted.
	Next() (*Record, error)

	// Close releases the underlying file. The run itself is not removed.
	Close() error
}

// Spiller writes runs and reads them back.
type Spiller interface {
	// Name identifies the codec in logs and configuration.
	Name() string

	// WriteSpillFile writes records, in order, to a new file in dir whose
	// name starts with prefix. The file is synced before returning. On error
	// no file is left behind.
	WriteSpillFile(dir, prefix string, records []Record) (*SpillFile, error)

	// OpenSpillFile opens a run for sequential reading.
	OpenSpillFile(file *SpillFile) (SpillReader, error)

	// CleanupSpillFile removes the run. Removing a missing run is not an error.
	CleanupSpillFile(file *SpillFile) error
}

// ErrUnknownCodec is returned by New for an unregistered codec name.
var ErrUnknownCodec = errors.New("unknown spill codec")

// New returns the spiller registered under name ("cbor" or "gob").
func New(name string) (Spiller, error) {
	switch name {
	case "", CodecCBOR:
		return NewCborSpiller()
	case CodecGob:
		return NewGobSpiller(), nil
	default:
		return nil, ErrUnknownCodec
	}
}
