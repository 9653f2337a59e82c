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

// Package source produces batches of rows for operators to consume.
package source

import (
	"context"

	"github.com/cardinalhq/topnspill/internal/pipeline"
)

// Reader yields batches in no particular order.
type Reader interface {
	// Next returns the next batch, or io.EOF when the input is exhausted.
	// The caller owns the batch and returns it with pipeline.ReturnBatch.
	Next(ctx context.Context) (*pipeline.Batch, error)

	// Close releases resources held by the reader.
	Close() error
}
