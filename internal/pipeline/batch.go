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

package pipeline

import (
	"context"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	meter = otel.Meter("github.com/cardinalhq/topnspill/internal/pipeline")

	bufferpoolGetsCounter metric.Int64Counter
	bufferpoolPutsCounter metric.Int64Counter
)

func init() {
	var err error

	bufferpoolGetsCounter, err = meter.Int64Counter(
		"topnspill.pipeline.bufferpool.gets",
		metric.WithDescription("Total number of gets from the batch pool"),
	)
	if err != nil {
		panic(err)
	}

	bufferpoolPutsCounter, err = meter.Int64Counter(
		"topnspill.pipeline.bufferpool.puts",
		metric.WithDescription("Total number of puts back to the batch pool"),
	)
	if err != nil {
		panic(err)
	}
}

// DefaultBatchSize is the number of rows a pooled batch is created with.
const DefaultBatchSize = 1000

// Batch is owned by the Reader that returns it.
// Consumers must not hold references to its rows after returning it; copy
// rows that must outlive the batch with CopyRow.
type Batch struct {
	rows     []Row
	validLen int
}

type batchPool struct {
	pool  sync.Pool
	sz    int
	alloc atomic.Uint64
	gets  atomic.Uint64
	puts  atomic.Uint64
}

func newBatchPool(batchSize int) *batchPool {
	p := &batchPool{sz: batchSize}
	p.pool = sync.Pool{
		New: func() any {
			p.alloc.Add(1)
			return &Batch{rows: make([]Row, 0, batchSize)}
		},
	}
	return p
}

func (p *batchPool) Get() *Batch {
	p.gets.Add(1)
	bufferpoolGetsCounter.Add(context.Background(), 1)
	b := p.pool.Get().(*Batch)
	b.validLen = 0
	return b
}

func (p *batchPool) Put(b *Batch) {
	p.puts.Add(1)
	bufferpoolPutsCounter.Add(context.Background(), 1)
	// Drop oversized batches to avoid unbounded growth
	if cap(b.rows) > p.sz*4 {
		return
	}
	for i := range b.rows {
		clear(b.rows[i])
	}
	b.validLen = 0
	p.pool.Put(b)
}

// BatchPoolStats contains counters for batch pool usage.
type BatchPoolStats struct {
	Allocations uint64
	Gets        uint64
	Puts        uint64
}

// LeakedBatches returns the number of batches that were gotten but never returned.
func (s BatchPoolStats) LeakedBatches() uint64 {
	return s.Gets - s.Puts
}

var globalBatchPool = newBatchPool(DefaultBatchSize)

// GetBatch returns an empty batch from the global pool.
func GetBatch() *Batch {
	return globalBatchPool.Get()
}

// ReturnBatch hands a batch back to the global pool. The batch must not be
// used afterwards.
func ReturnBatch(batch *Batch) {
	if batch != nil {
		globalBatchPool.Put(batch)
	}
}

// GlobalBatchPoolStats returns usage counters for the global batch pool.
func GlobalBatchPoolStats() BatchPoolStats {
	return BatchPoolStats{
		Allocations: globalBatchPool.alloc.Load(),
		Gets:        globalBatchPool.gets.Load(),
		Puts:        globalBatchPool.puts.Load(),
	}
}

// Len returns the number of valid rows in the batch.
func (b *Batch) Len() int {
	return b.validLen
}

// Get returns the row at index, or nil when index is out of range. The row
// is reused once the batch goes back to the pool.
func (b *Batch) Get(index int) Row {
	if index < 0 || index >= b.validLen {
		return nil
	}
	return b.rows[index]
}

// AddRow appends an empty row to the batch and returns it for population.
func (b *Batch) AddRow() Row {
	if b.validLen < len(b.rows) {
		row := b.rows[b.validLen]
		clear(row)
		b.validLen++
		return row
	}
	row := make(Row)
	b.rows = append(b.rows, row)
	b.validLen++
	return row
}

// AppendRow copies the columns of row into a new row of the batch.
func (b *Batch) AppendRow(row Row) {
	dst := b.AddRow()
	for k, v := range row {
		dst[k] = v
	}
}
