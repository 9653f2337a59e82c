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

package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/parquet-go/parquet-go"

	"github.com/cardinalhq/topnspill/internal/decoder"
	"github.com/cardinalhq/topnspill/internal/pipeline"
	"github.com/cardinalhq/topnspill/internal/pipeline/wkk"
)

// ParquetSource reads rows from a Parquet file. Nested columns are
// flattened with "_" separators. Decimal columns stored as binary are
// converted to their unscaled int64 value; a value wider than 8 bytes fails
// the read with a permanent *decoder.DecodeError.
type ParquetSource struct {
	file      *os.File
	pf        *parquet.File
	pfr       *parquet.GenericReader[map[string]any]
	decimals  map[string]bool
	closed    bool
	exhausted bool
	rowCount  int64
	readBuf   []map[string]any
}

var _ Reader = (*ParquetSource)(nil)

// OpenParquetSource opens path for reading.
func OpenParquetSource(path string, batchSize int) (*ParquetSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to stat parquet file: %w", err)
	}
	s, err := NewParquetSource(f, info.Size(), batchSize)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	s.file = f
	return s, nil
}

// NewParquetSource reads a Parquet stream of size bytes.
func NewParquetSource(reader io.ReaderAt, size int64, batchSize int) (*ParquetSource, error) {
	pf, err := parquet.OpenFile(reader, size)
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet file: %w", err)
	}
	if batchSize <= 0 {
		batchSize = pipeline.DefaultBatchSize
	}

	decimals := map[string]bool{}
	findBinaryDecimals(pf.Schema(), "", decimals)

	readBuf := make([]map[string]any, batchSize)
	for i := range readBuf {
		readBuf[i] = make(map[string]any)
	}

	return &ParquetSource{
		pf:       pf,
		pfr:      parquet.NewGenericReader[map[string]any](pf, pf.Schema()),
		decimals: decimals,
		readBuf:  readBuf,
	}, nil
}

// findBinaryDecimals records the top-level names of decimal columns with a
// binary physical type. Integer-backed decimals already decode to integers.
func findBinaryDecimals(node parquet.Node, prefix string, out map[string]bool) {
	if !node.Leaf() {
		for _, field := range node.Fields() {
			name := field.Name()
			if prefix != "" {
				name = prefix + "." + name
			}
			findBinaryDecimals(field, name, out)
		}
		return
	}
	if prefix == "" {
		return
	}
	typ := node.Type()
	lt := typ.LogicalType()
	if lt == nil || lt.Decimal == nil {
		return
	}
	switch typ.Kind() {
	case parquet.ByteArray, parquet.FixedLenByteArray:
		out[prefix] = true
	}
}

func (s *ParquetSource) Next(ctx context.Context) (*pipeline.Batch, error) {
	if s.closed || s.pfr == nil {
		return nil, errors.New("reader is closed or not initialized")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.exhausted {
		return nil, io.EOF
	}

	for i := range s.readBuf {
		clear(s.readBuf[i])
	}

	n, err := s.pfr.Read(s.readBuf)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parquet reader error: %w", err)
	}
	if n == 0 {
		s.exhausted = true
		return nil, io.EOF
	}

	batch := pipeline.GetBatch()
	for i := range n {
		dst := batch.AddRow()
		if convErr := s.flatten(dst, "", s.readBuf[i]); convErr != nil {
			pipeline.ReturnBatch(batch)
			return nil, convErr
		}
	}
	s.rowCount += int64(n)

	if errors.Is(err, io.EOF) {
		s.exhausted = true
	}
	return batch, nil
}

func (s *ParquetSource) flatten(dst pipeline.Row, prefix string, src map[string]any) error {
	for k, v := range src {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			if err := s.flatten(dst, path, nested); err != nil {
				return err
			}
			continue
		}
		if s.decimals[path] && v != nil {
			dec, err := binaryDecimal(v)
			if err != nil {
				return fmt.Errorf("column %s: %w", path, err)
			}
			v = dec
		}
		dst[wkk.NewRowKey(strings.ReplaceAll(path, ".", "_"))] = v
	}
	return nil
}

// binaryDecimal converts a binary decimal cell to its unscaled value.
func binaryDecimal(v any) (int64, error) {
	switch x := v.(type) {
	case []byte:
		return decoder.ShortDecimalValue(x)
	case string:
		return decoder.ShortDecimalValue([]byte(x))
	default:
		return 0, fmt.Errorf("unexpected decimal cell type %T", v)
	}
}

// TotalRowsReturned returns the number of rows returned by Next so far.
func (s *ParquetSource) TotalRowsReturned() int64 {
	return s.rowCount
}

func (s *ParquetSource) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var err error
	if s.pfr != nil {
		if closeErr := s.pfr.Close(); closeErr != nil {
			err = fmt.Errorf("failed to close parquet reader: %w", closeErr)
		}
		s.pfr = nil
	}
	s.pf = nil
	if s.file != nil {
		if closeErr := s.file.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close parquet file: %w", closeErr)
		}
		s.file = nil
	}
	return err
}
