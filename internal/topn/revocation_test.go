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
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/topnspill/internal/memory"
	"github.com/cardinalhq/topnspill/internal/pipeline"
	"github.com/cardinalhq/topnspill/internal/source"
)

func TestRevocationSignal_LargestTargetWins(t *testing.T) {
	var s revocationSignal
	assert.False(t, s.pending())
	assert.Equal(t, int64(0), s.take())

	s.request(10)
	s.request(50)
	s.request(20)
	assert.True(t, s.pending())
	assert.Equal(t, int64(50), s.take())
	assert.False(t, s.pending())
}

func TestRevocationSignal_ConcurrentRequests(t *testing.T) {
	var s revocationSignal
	var wg sync.WaitGroup
	for i := int64(1); i <= 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.request(i)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(64), s.take())
}

func TestRequestRevocation_SpillingDisabled(t *testing.T) {
	spec := MustSortSpec(Asc("k"))
	op, err := NewOperator(OperatorConfig{Spec: spec, Limit: 50}, &fakePool{})
	require.NoError(t, err)
	addBatches(t, op, testInput(100, 20), 50, nil)

	assert.Equal(t, int64(0), op.RevocableBytes())
	assert.Equal(t, int64(0), op.RequestRevocation(1000))
	assert.False(t, op.signal.pending())
}

func TestRequestRevocation_NothingHeld(t *testing.T) {
	spec := MustSortSpec(Asc("k"))
	cfg, _ := spillConfig(t, spec, 50)
	op, err := NewOperator(cfg, &fakePool{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), op.RequestRevocation(1000))
}

func TestRequestRevocation_RepeatedRequestsSpillOnce(t *testing.T) {
	spec := MustSortSpec(Asc("k"))
	cfg, dir := spillConfig(t, spec, 50)
	op, err := NewOperator(cfg, &fakePool{})
	require.NoError(t, err)
	addBatches(t, op, testInput(100, 21), 50, nil)

	held := op.acc.SizeInBytes()
	assert.Equal(t, held, op.RequestRevocation(10))
	assert.Equal(t, held, op.RequestRevocation(held*10))
	assert.Equal(t, held, op.RequestRevocation(0))
	assert.Equal(t, held, op.signal.target.Load(), "target is capped at what the operator holds")

	require.NoError(t, op.AddInput(context.Background(), nil))
	assert.Equal(t, 1, op.Stats().Spills)
	assert.Equal(t, 1, op.Stats().RevocationsHonored)
	assert.Len(t, listDir(t, dir), 1)
	assert.False(t, op.signal.pending())

	// Nothing left to give.
	assert.Equal(t, int64(0), op.RequestRevocation(10))
	require.NoError(t, op.Close())
}

func TestRequestRevocation_SpaceExhausted(t *testing.T) {
	spec := MustSortSpec(Asc("k"))
	cfg, dir := spillConfig(t, spec, 50)
	cfg.DiskUsage = noSpace
	op, err := NewOperator(cfg, &fakePool{})
	require.NoError(t, err)
	addBatches(t, op, testInput(100, 22), 50, nil)

	held := op.acc.SizeInBytes()
	require.Positive(t, op.RequestRevocation(held))

	// The spill is refused: no error, nothing freed, accumulator intact.
	require.NoError(t, op.AddInput(context.Background(), nil))
	assert.Equal(t, StateAccumulating, op.State())
	assert.Equal(t, 0, op.Stats().Spills)
	assert.Equal(t, held, op.acc.SizeInBytes())
	assert.Empty(t, listDir(t, dir))

	// Later requests report that nothing can be freed.
	assert.Equal(t, int64(0), op.RequestRevocation(held))
	assert.Equal(t, int64(0), op.RevocableBytes())
}

func TestRequestRevocation_IgnoredAfterFinish(t *testing.T) {
	spec := MustSortSpec(Asc("k"))
	cfg, _ := spillConfig(t, spec, 50)
	op, err := NewOperator(cfg, &fakePool{})
	require.NoError(t, err)
	addBatches(t, op, testInput(100, 23), 50, nil)

	it, err := op.Finish(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), op.RequestRevocation(100))
	assert.Len(t, collect(t, it), 50)
	assert.Equal(t, int64(0), op.RequestRevocation(100))
}

func TestRequestRevocation_RefusedSpillSettlesWithPool(t *testing.T) {
	spec := MustSortSpec(Asc("k"))
	pool := &fakePool{}
	cfg, _ := spillConfig(t, spec, 50)
	cfg.DiskUsage = noSpace
	op, err := NewOperator(cfg, pool)
	require.NoError(t, err)
	res := pool.only(t)
	addBatches(t, op, testInput(100, 24), 50, nil)
	assert.Zero(t, res.settled)

	require.Positive(t, op.RequestRevocation(1))
	require.NoError(t, op.AddInput(context.Background(), nil))
	assert.Equal(t, 1, res.settled)
	require.NoError(t, op.Close())
}

// An operator whose spill is refused must not keep the pool believing its
// memory is about to be freed; the pool has to turn to other operators.
func TestOperator_NodePoolRevokesOthersAfterRefusedSpill(t *testing.T) {
	ctx := context.Background()
	pool, err := memory.NewNodePool(memory.Config{
		NodeBytes:         100_000,
		RevokingThreshold: 0.2,
		RevokingTarget:    0.01,
	})
	require.NoError(t, err)

	spec := MustSortSpec(Asc("id"))
	fullCfg, fullDir := spillConfig(t, spec, 1000)
	fullCfg.DiskUsage = noSpace
	full, err := NewOperator(fullCfg, pool)
	require.NoError(t, err)

	src := source.NewSliceSource(testInput(1000, 25), 50)
	for pool.Used() < 30_000 {
		batch, err := src.Next(ctx)
		require.NoError(t, err)
		require.NoError(t, full.AddInput(ctx, batch))
		pipeline.ReturnBatch(batch)
	}
	held := pool.Used()
	require.Equal(t, held, pool.CheckAndRevoke())
	require.Equal(t, held, pool.Requested())

	// The spill is refused and the promise is withdrawn.
	require.NoError(t, full.AddInput(ctx, nil))
	assert.Equal(t, held, pool.Used())
	assert.Zero(t, pool.Requested())
	assert.Empty(t, listDir(t, fullDir))

	otherCfg, otherDir := spillConfig(t, spec, 1000)
	other, err := NewOperator(otherCfg, pool)
	require.NoError(t, err)
	addBatches(t, other, testInput(20, 26), 20, nil)
	otherHeld := other.RevocableBytes()
	require.Positive(t, otherHeld)

	assert.Equal(t, otherHeld, pool.CheckAndRevoke())
	require.NoError(t, other.AddInput(ctx, nil))
	assert.Len(t, listDir(t, otherDir), 1)
	assert.Equal(t, held, pool.Used())

	require.NoError(t, full.Close())
	require.NoError(t, other.Close())
	assert.Zero(t, pool.Used())
	assert.Zero(t, pool.Requested())
}
