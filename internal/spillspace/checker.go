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

// Package spillspace guards the spill directory against running its
// filesystem past a configured used-space fraction.
package spillspace

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"
)

// DiskUsageFunc returns disk usage for the filesystem holding path.
type DiskUsageFunc func(path string) (usedBytes, totalBytes uint64, err error)

// DiskUsage reports used and total bytes of the filesystem containing path.
// Used space counts blocks unavailable to unprivileged users.
func DiskUsage(path string) (uint64, uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, 0, err
	}
	total := st.Blocks * uint64(st.Bsize)
	free := st.Bavail * uint64(st.Bsize)
	return total - free, total, nil
}

// ErrSpaceExhausted is wrapped by every SpaceError.
var ErrSpaceExhausted = errors.New("spill space exhausted")

// SpaceError reports a write that would push the spill filesystem past its
// threshold.
type SpaceError struct {
	Dir    string
	Used   uint64
	Needed uint64
	Limit  uint64
}

func (e *SpaceError) Error() string {
	return fmt.Sprintf("spill directory %s: writing %s with %s used would exceed the limit of %s",
		e.Dir, humanize.IBytes(e.Needed), humanize.IBytes(e.Used), humanize.IBytes(e.Limit))
}

func (e *SpaceError) Unwrap() error { return ErrSpaceExhausted }

// Checker admits spill writes while the filesystem stays at or below
// threshold × capacity.
type Checker struct {
	dir       string
	threshold float64
	usage     DiskUsageFunc
}

// NewChecker creates a checker for dir. A nil usage function uses DiskUsage.
func NewChecker(dir string, threshold float64, usage DiskUsageFunc) (*Checker, error) {
	if threshold <= 0 || threshold > 1 {
		return nil, fmt.Errorf("max used space threshold must be in (0, 1], got %v", threshold)
	}
	if usage == nil {
		usage = DiskUsage
	}
	return &Checker{dir: dir, threshold: threshold, usage: usage}, nil
}

// Dir returns the guarded directory.
func (c *Checker) Dir() string { return c.dir }

// Threshold returns the configured used-space fraction.
func (c *Checker) Threshold() float64 { return c.threshold }

// Reserve checks, before anything is written, that needed more bytes fit
// under the threshold. It returns a *SpaceError when they do not.
func (c *Checker) Reserve(needed int64) error {
	used, total, err := c.usage(c.dir)
	if err != nil {
		return fmt.Errorf("disk usage of %s: %w", c.dir, err)
	}
	if needed < 0 {
		needed = 0
	}
	limit := uint64(float64(total) * c.threshold)
	if used+uint64(needed) > limit {
		return &SpaceError{Dir: c.dir, Used: used, Needed: uint64(needed), Limit: limit}
	}
	return nil
}
