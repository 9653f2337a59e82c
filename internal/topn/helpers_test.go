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
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/topnspill/internal/memory"
	"github.com/cardinalhq/topnspill/internal/pipeline"
	"github.com/cardinalhq/topnspill/internal/spillspace"
)

func testRow(t *testing.T, spec SortSpec, seq uint64, kv ...any) Row {
	t.Helper()
	row, err := newRow(pipeline.RowFromPairs(kv...), spec, seq)
	require.NoError(t, err)
	return row
}

func plentyOfSpace(string) (uint64, uint64, error) {
	return 10 << 20, 1 << 40, nil
}

func noSpace(string) (uint64, uint64, error) {
	return 99, 100, nil
}

func testChecker(t *testing.T, dir string, usage spillspace.DiskUsageFunc) *spillspace.Checker {
	t.Helper()
	c, err := spillspace.NewChecker(dir, 0.9, usage)
	require.NoError(t, err)
	return c
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

// fakePool records every reservation change and can enforce a limit.
type fakePool struct {
	mu       sync.Mutex
	limit    int64
	members  []*fakeReservation
	setCalls int
}

func (p *fakePool) Register(queryID string, r memory.Revocable) memory.Reservation {
	p.mu.Lock()
	defer p.mu.Unlock()
	res := &fakeReservation{pool: p, revocable: r}
	p.members = append(p.members, res)
	return res
}

func (p *fakePool) only(t *testing.T) *fakeReservation {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.Len(t, p.members, 1)
	return p.members[0]
}

type fakeReservation struct {
	pool      *fakePool
	revocable memory.Revocable
	bytes     int64
	settled   int
	closed    bool
}

func (r *fakeReservation) SetBytes(ctx context.Context, bytes int64) error {
	r.pool.mu.Lock()
	defer r.pool.mu.Unlock()
	r.pool.setCalls++
	if bytes > r.bytes && r.pool.limit > 0 && bytes > r.pool.limit {
		return &memory.QueryExceededError{
			QueryID:   "test",
			Kind:      memory.LimitPerQuery,
			Limit:     r.pool.limit,
			Reserved:  r.bytes,
			Requested: bytes - r.bytes,
		}
	}
	r.bytes = bytes
	return nil
}

func (r *fakeReservation) RevocationSettled() {
	r.pool.mu.Lock()
	defer r.pool.mu.Unlock()
	r.settled++
}

func (r *fakeReservation) Bytes() int64 {
	r.pool.mu.Lock()
	defer r.pool.mu.Unlock()
	return r.bytes
}

func (r *fakeReservation) Close() {
	r.pool.mu.Lock()
	defer r.pool.mu.Unlock()
	r.bytes = 0
	r.closed = true
}

func (r *fakeReservation) isClosed() bool {
	r.pool.mu.Lock()
	defer r.pool.mu.Unlock()
	return r.closed
}
