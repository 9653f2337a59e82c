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
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mergeFixture struct {
	t      *testing.T
	dir    string
	spec   SortSpec
	writer *SpillWriter
	seq    uint64
}

func newMergeFixture(t *testing.T, spec SortSpec) *mergeFixture {
	dir := t.TempDir()
	return &mergeFixture{
		t:      t,
		dir:    dir,
		spec:   spec,
		writer: NewSpillWriter("merge", testChecker(t, dir, plentyOfSpace), newCborSpiller(t)),
	}
}

func (f *mergeFixture) accumulate(limit int, keys ...int64) *Accumulator {
	acc := NewAccumulator(f.spec, limit)
	for _, k := range keys {
		acc.Offer(testRow(f.t, f.spec, f.seq, "k", k))
		f.seq++
	}
	return acc
}

func (f *mergeFixture) run(limit int, keys ...int64) *Run {
	run, err := f.writer.Spill(f.accumulate(limit, keys...))
	require.NoError(f.t, err)
	return run
}

func collect(t *testing.T, it *MergeIterator) []Row {
	t.Helper()
	var out []Row
	for {
		row, err := it.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, row)
	}
}

func TestMerge_EarlyRunRowSurvives(t *testing.T) {
	spec := MustSortSpec(Asc("k"))
	f := newMergeFixture(t, spec)

	// The first run holds the global best rows. Everything accumulated
	// afterwards ranks worse, so dropping early runs would lose them.
	early := f.run(3, 1, 2, 40)
	middle := f.run(3, 30, 31, 32)
	final := f.accumulate(3, 20, 21, 22).DrainSorted()

	it := Merge(final, []*Run{early, middle}, 3, spec)
	got := collect(t, it)
	assert.Equal(t, []any{int64(1), int64(2), int64(20)}, keysOf(got, "k"))
	assert.Empty(t, listDir(t, f.dir), "all runs are deleted once the merge ends")
}

func TestMerge_InterleavesAllSources(t *testing.T) {
	spec := MustSortSpec(Desc("k"))
	f := newMergeFixture(t, spec)
	r1 := f.run(5, 10, 7, 4, 1)
	r2 := f.run(5, 9, 6, 3)
	final := f.accumulate(5, 8, 5, 2).DrainSorted()

	got := collect(t, Merge(final, []*Run{r1, r2}, 100, spec))
	assert.Equal(t, []any{int64(10), int64(9), int64(8), int64(7), int64(6), int64(5), int64(4), int64(3), int64(2), int64(1)}, keysOf(got, "k"))
}

func TestMerge_TiesFollowArrival(t *testing.T) {
	spec := MustSortSpec(Asc("k"))
	f := newMergeFixture(t, spec)
	// Arrival: r1 gets seq 0 and 1, final 2 and 3, r2 4.
	r1 := f.run(5, 1, 1)
	final := f.accumulate(5, 1, 1).DrainSorted()
	r2 := f.run(5, 1)

	got := collect(t, Merge(final, []*Run{r2, r1}, 10, spec))
	seqs := make([]uint64, len(got))
	for i := range got {
		seqs[i] = got[i].Seq()
	}
	assert.Equal(t, []uint64{0, 1, 2, 3, 4}, seqs)
}

func TestMerge_LimitDeletesRemainingRuns(t *testing.T) {
	spec := MustSortSpec(Asc("k"))
	f := newMergeFixture(t, spec)
	r1 := f.run(5, 1, 2, 3)
	r2 := f.run(5, 4, 5, 6)

	it := Merge(nil, []*Run{r1, r2}, 2, spec)
	got := collect(t, it)
	assert.Equal(t, []any{int64(1), int64(2)}, keysOf(got, "k"))
	assert.Empty(t, listDir(t, f.dir))

	_, err := it.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
	assert.NoError(t, it.Close())
}

func TestMerge_ExhaustedRunDeletedImmediately(t *testing.T) {
	spec := MustSortSpec(Asc("k"))
	f := newMergeFixture(t, spec)
	short := f.run(5, 1)
	long := f.run(5, 2, 3, 4)

	it := Merge(nil, []*Run{short, long}, 10, spec)
	ctx := context.Background()

	_, err := it.Next(ctx)
	require.NoError(t, err)
	// The short run is empty now, so it is already gone.
	_, err = it.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Base(long.Path())}, listDir(t, f.dir))

	require.NoError(t, it.Close())
	assert.Empty(t, listDir(t, f.dir))
}

func TestMerge_CloseBeforeNext(t *testing.T) {
	spec := MustSortSpec(Asc("k"))
	f := newMergeFixture(t, spec)
	f.run(5, 1, 2)
	f.run(5, 3)
	runs := []*Run{f.run(5, 4)}

	it := Merge(nil, runs, 10, spec)
	require.NoError(t, it.Close())
	require.NoError(t, it.Close())

	// Only the run handed to the merge is deleted.
	assert.Len(t, listDir(t, f.dir), 2)
	_, err := it.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestMerge_CancelStopsOutput(t *testing.T) {
	spec := MustSortSpec(Asc("k"))
	f := newMergeFixture(t, spec)
	run := f.run(5, 1, 2, 3)

	it := Merge(nil, []*Run{run}, 10, spec)
	ctx, cancel := context.WithCancel(context.Background())
	_, err := it.Next(ctx)
	require.NoError(t, err)

	cancel()
	_, err = it.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = it.Next(context.Background())
	assert.ErrorIs(t, err, context.Canceled, "no rows after cancellation")
	assert.Empty(t, listDir(t, f.dir))
}

func TestMerge_EmptyInputs(t *testing.T) {
	spec := MustSortSpec(Asc("k"))
	assert.Empty(t, collect(t, Merge(nil, nil, 10, spec)))

	f := newMergeFixture(t, spec)
	run := f.run(5, 1)
	assert.Empty(t, collect(t, Merge(nil, []*Run{run}, 0, spec)))
	assert.Empty(t, listDir(t, f.dir))
}

func TestMerge_OnDoneCalledOnce(t *testing.T) {
	spec := MustSortSpec(Asc("k"))
	calls := 0
	var got error
	it := Merge(nil, nil, 1, spec)
	it.onDone = func(err error) {
		calls++
		got = err
	}
	collect(t, it)
	require.NoError(t, it.Close())
	assert.Equal(t, 1, calls)
	assert.NoError(t, got)
}
