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
	"fmt"
	"io"
	"math/rand/v2"

	"github.com/cardinalhq/topnspill/internal/pipeline"
	"github.com/cardinalhq/topnspill/internal/pipeline/wkk"
)

// Columns produced by GeneratedSource.
var (
	GeneratedIDKey    = wkk.NewRowKey("id")
	GeneratedScoreKey = wkk.NewRowKey("score")
	GeneratedNameKey  = wkk.NewRowKey("name")
	GeneratedGroupKey = wkk.NewRowKey("group")
)

// GeneratedSource produces a deterministic pseudo-random stream of rows for
// load experiments. Rows have an increasing id, a score that is NULL for
// roughly one row in twenty, a name and a small-cardinality group so that
// ties are common.
type GeneratedSource struct {
	total     int64
	produced  int64
	batchSize int
	rng       *rand.Rand
}

var _ Reader = (*GeneratedSource)(nil)

// NewGeneratedSource creates a source of total rows seeded with seed.
func NewGeneratedSource(total int64, seed uint64, batchSize int) *GeneratedSource {
	if batchSize <= 0 {
		batchSize = pipeline.DefaultBatchSize
	}
	return &GeneratedSource{
		total:     total,
		batchSize: batchSize,
		rng:       rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

func (g *GeneratedSource) Next(ctx context.Context) (*pipeline.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if g.produced >= g.total {
		return nil, io.EOF
	}
	n := min(int64(g.batchSize), g.total-g.produced)
	batch := pipeline.GetBatch()
	for range n {
		row := batch.AddRow()
		row[GeneratedIDKey] = g.produced
		if g.rng.IntN(20) == 0 {
			row[GeneratedScoreKey] = nil
		} else {
			row[GeneratedScoreKey] = g.rng.Float64() * 1000
		}
		row[GeneratedNameKey] = fmt.Sprintf("row-%08d", g.rng.IntN(100_000_000))
		row[GeneratedGroupKey] = int64(g.rng.IntN(16))
		g.produced++
	}
	return batch, nil
}

func (g *GeneratedSource) Close() error { return nil }
