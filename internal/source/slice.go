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
	"io"

	"github.com/cardinalhq/topnspill/internal/pipeline"
)

// SliceSource serves rows from memory in batches of at most batchSize.
type SliceSource struct {
	rows      []pipeline.Row
	pos       int
	batchSize int
	closed    bool
}

var _ Reader = (*SliceSource)(nil)

// NewSliceSource creates a source over rows. A batchSize of 0 or less means
// pipeline.DefaultBatchSize.
func NewSliceSource(rows []pipeline.Row, batchSize int) *SliceSource {
	if batchSize <= 0 {
		batchSize = pipeline.DefaultBatchSize
	}
	return &SliceSource{rows: rows, batchSize: batchSize}
}

func (s *SliceSource) Next(ctx context.Context) (*pipeline.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.closed || s.pos >= len(s.rows) {
		return nil, io.EOF
	}
	upper := min(s.pos+s.batchSize, len(s.rows))
	batch := pipeline.GetBatch()
	for _, row := range s.rows[s.pos:upper] {
		batch.AppendRow(row)
	}
	s.pos = upper
	return batch, nil
}

func (s *SliceSource) Close() error {
	s.closed = true
	return nil
}
