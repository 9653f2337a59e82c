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
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/topnspill/internal/topn/spillers"
)

// failingSpiller fails every write.
type failingSpiller struct {
	spillers.Spiller
}

func (failingSpiller) WriteSpillFile(string, string, []spillers.Record) (*spillers.SpillFile, error) {
	return nil, errors.New("disk on fire")
}

func newCborSpiller(t *testing.T) spillers.Spiller {
	t.Helper()
	s, err := spillers.New(spillers.CodecCBOR)
	require.NoError(t, err)
	return s
}

func fillAccumulator(t *testing.T, spec SortSpec, limit int, keys ...int64) *Accumulator {
	t.Helper()
	acc := NewAccumulator(spec, limit)
	for i, k := range keys {
		acc.Offer(testRow(t, spec, uint64(i), "k", k, "name", "row"))
	}
	return acc
}

func readRun(t *testing.T, run *Run, spec SortSpec) []Row {
	t.Helper()
	rr, err := run.open(spec)
	require.NoError(t, err)
	defer func() { _ = rr.close() }()
	var rows []Row
	for {
		row, err := rr.next()
		if err != nil {
			return rows
		}
		rows = append(rows, row)
	}
}

func TestSpillWriter_WritesSortedRun(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "spills")
	spec := MustSortSpec(Desc("k"))
	acc := fillAccumulator(t, spec, 10, 3, 9, 1, 7)
	memBytes := acc.SizeInBytes()

	w := NewSpillWriter("op1", testChecker(t, dir, plentyOfSpace), newCborSpiller(t))
	run, err := w.Spill(acc)
	require.NoError(t, err)

	assert.Equal(t, 0, acc.Len())
	assert.Equal(t, int64(0), acc.SizeInBytes())
	assert.Equal(t, int64(4), run.RowCount())
	assert.Positive(t, run.Bytes())
	assert.Equal(t, memBytes, run.MemoryBytes())
	assert.True(t, strings.HasPrefix(filepath.Base(run.Path()), "topn-op1-0-"))
	assert.Equal(t, dir, filepath.Dir(run.Path()))

	rows := readRun(t, run, spec)
	assert.Equal(t, []any{int64(9), int64(7), int64(3), int64(1)}, keysOf(rows, "k"))
	assert.Equal(t, "row", rows[0].Get("name"))
	assert.Equal(t, uint64(1), rows[0].Seq())

	// The accumulator is reusable and run names stay unique.
	acc.Offer(testRow(t, spec, 10, "k", int64(4)))
	run2, err := w.Spill(acc)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(filepath.Base(run2.Path()), "topn-op1-1-"))
	assert.NotEqual(t, run.Path(), run2.Path())
}

func TestSpillWriter_SpaceExhaustedLeavesAccumulator(t *testing.T) {
	dir := t.TempDir()
	spec := MustSortSpec(Asc("k"))
	acc := fillAccumulator(t, spec, 10, 1, 2, 3)
	before := acc.SizeInBytes()

	w := NewSpillWriter("op", testChecker(t, dir, noSpace), newCborSpiller(t))
	run, err := w.Spill(acc)
	require.Error(t, err)
	assert.Nil(t, run)
	assert.ErrorIs(t, err, ErrSpillSpaceExhausted)

	var se *SpillSpaceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, dir, se.Dir)

	assert.Equal(t, 3, acc.Len())
	assert.Equal(t, before, acc.SizeInBytes())
	assert.Empty(t, listDir(t, dir))
}

func TestSpillWriter_WriteFailure(t *testing.T) {
	dir := t.TempDir()
	spec := MustSortSpec(Asc("k"))
	acc := fillAccumulator(t, spec, 10, 1, 2)

	w := NewSpillWriter("op", testChecker(t, dir, plentyOfSpace), failingSpiller{newCborSpiller(t)})
	_, err := w.Spill(acc)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSpillIO)

	var ioErr *SpillIOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "write", ioErr.Op)
	assert.Contains(t, err.Error(), "disk on fire")
	assert.Empty(t, listDir(t, dir))
}

func TestSpillWriter_UsageFailureIsIOError(t *testing.T) {
	spec := MustSortSpec(Asc("k"))
	acc := fillAccumulator(t, spec, 10, 1)
	broken := func(string) (uint64, uint64, error) { return 0, 0, errors.New("statfs broke") }

	w := NewSpillWriter("op", testChecker(t, t.TempDir(), broken), newCborSpiller(t))
	_, err := w.Spill(acc)
	assert.ErrorIs(t, err, ErrSpillIO)
	assert.NotErrorIs(t, err, ErrSpillSpaceExhausted)
	assert.Equal(t, 1, acc.Len())
}

func TestRun_DeleteIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	spec := MustSortSpec(Asc("k"))
	w := NewSpillWriter("op", testChecker(t, dir, plentyOfSpace), newCborSpiller(t))
	run, err := w.Spill(fillAccumulator(t, spec, 10, 1))
	require.NoError(t, err)
	require.Len(t, listDir(t, dir), 1)

	require.NoError(t, run.Delete())
	require.NoError(t, run.Delete())
	assert.Empty(t, listDir(t, dir))
}

func TestRun_GobCodecPreservesKinds(t *testing.T) {
	dir := t.TempDir()
	spec := MustSortSpec(Asc("k"))
	gob, err := spillers.New(spillers.CodecGob)
	require.NoError(t, err)

	acc := NewAccumulator(spec, 4)
	acc.Offer(testRow(t, spec, 0, "k", int64(1), "f", 2.5, "b", true, "s", "str", "n", nil, "raw", []byte{1, 2}))

	w := NewSpillWriter("op", testChecker(t, dir, plentyOfSpace), gob)
	run, err := w.Spill(acc)
	require.NoError(t, err)

	rows := readRun(t, run, spec)
	require.Len(t, rows, 1)
	got := rows[0]
	assert.Equal(t, int64(1), got.Get("k"))
	assert.Equal(t, 2.5, got.Get("f"))
	assert.Equal(t, true, got.Get("b"))
	assert.Equal(t, "str", got.Get("s"))
	assert.Nil(t, got.Get("n"))
	assert.Equal(t, []byte{1, 2}, got.Get("raw"))
}
