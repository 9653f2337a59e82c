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
	"os"

	cbor2 "github.com/fxamacker/cbor/v2"

	"github.com/cardinalhq/topnspill/internal/cbor"
)

// CodecCBOR names the CBOR spiller.
const CodecCBOR = "cbor"

// cborRecord is the on-disk layout of a Record. Integer keys keep the
// per-row framing small.
type cborRecord struct {
	Seq    uint64         `cbor:"1,keyasint"`
	Size   int64          `cbor:"2,keyasint"`
	Values map[string]any `cbor:"3,keyasint"`
}

// CborSpiller writes runs as a stream of CBOR items, one per row.
type CborSpiller struct {
	config *cbor.Config
}

// NewCborSpiller creates a CBOR spiller.
func NewCborSpiller() (*CborSpiller, error) {
	config, err := cbor.NewConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to create CBOR config: %w", err)
	}
	return &CborSpiller{config: config}, nil
}

func (s *CborSpiller) Name() string { return CodecCBOR }

// WriteSpillFile writes records to a new CBOR run.
func (s *CborSpiller) WriteSpillFile(dir, prefix string, records []Record) (*SpillFile, error) {
	return writeFile(dir, prefix, ".cbor", len(records), func(w *bufio.Writer) error {
		encoder := s.config.NewEncoder(w)
		for i := range records {
			rec := cborRecord{Seq: records[i].Seq, Size: records[i].Size, Values: records[i].Values}
			if err := encoder.Encode(&rec); err != nil {
				return fmt.Errorf("failed to encode row: %w", err)
			}
		}
		return nil
	})
}

// OpenSpillFile opens a CBOR run for reading.
func (s *CborSpiller) OpenSpillFile(spillFile *SpillFile) (SpillReader, error) {
	file, err := os.Open(spillFile.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open spill file %s: %w", spillFile.Path, err)
	}
	return &cborSpillReader{
		file:    file,
		decoder: s.config.NewDecoder(bufio.NewReader(file)),
	}, nil
}

// CleanupSpillFile removes a CBOR run.
func (s *CborSpiller) CleanupSpillFile(spillFile *SpillFile) error {
	return removeFile(spillFile)
}

type cborSpillReader struct {
	file    *os.File
	decoder *cbor2.Decoder
}

// Next returns io.EOF, unwrapped, at the end of the run.
func (r *cborSpillReader) Next() (*Record, error) {
	var rec cborRecord
	if err := r.decoder.Decode(&rec); err != nil {
		return nil, err
	}
	if rec.Values == nil {
		rec.Values = map[string]any{}
	}
	return &Record{Seq: rec.Seq, Size: rec.Size, Values: rec.Values}, nil
}

func (r *cborSpillReader) Close() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}
