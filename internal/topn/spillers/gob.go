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

package spillers

import (
	"bufio"
	"fmt"
	"io"
	"os"

	rgob "github.com/cardinalhq/topnspill/internal/gob"
)

// CodecGob names the gob spiller.
const CodecGob = "gob"

// GobSpiller writes runs with encoding/gob.
type GobSpiller struct {
	config *rgob.Config
}

// NewGobSpiller creates a gob spiller.
func NewGobSpiller() *GobSpiller {
	return &GobSpiller{config: rgob.NewConfig()}
}

func (s *GobSpiller) Name() string { return CodecGob }

// WriteSpillFile writes records to a new gob run.
func (s *GobSpiller) WriteSpillFile(dir, prefix string, records []Record) (*SpillFile, error) {
	return writeFile(dir, prefix, ".gob", len(records), func(w *bufio.Writer) error {
		encoder := s.config.NewEncoder(w)
		for i := range records {
			if err := encoder.Encode(records[i].Seq, records[i].Size, records[i].Values); err != nil {
				return fmt.Errorf("encode row to spill file: %w", err)
			}
		}
		return nil
	})
}

// OpenSpillFile opens a gob run for reading.
func (s *GobSpiller) OpenSpillFile(spillFile *SpillFile) (SpillReader, error) {
	file, err := os.Open(spillFile.Path)
	if err != nil {
		return nil, fmt.Errorf("open spill file %s: %w", spillFile.Path, err)
	}
	return &gobSpillReader{
		file:    file,
		decoder: s.config.NewDecoder(bufio.NewReader(file)),
	}, nil
}

// CleanupSpillFile removes a gob run.
func (s *GobSpiller) CleanupSpillFile(spillFile *SpillFile) error {
	return removeFile(spillFile)
}

type gobSpillReader struct {
	file    *os.File
	decoder *rgob.Decoder
	closed  bool
}

func (r *gobSpillReader) Next() (*Record, error) {
	if r.closed {
		return nil, io.EOF
	}
	seq, size, values, err := r.decoder.Decode()
	if err != nil {
		return nil, err
	}
	return &Record{Seq: seq, Size: size, Values: values}, nil
}

func (r *gobSpillReader) Close() error {
	r.closed = true
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}
