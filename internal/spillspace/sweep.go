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

package spillspace

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
)

// RunFilePrefix starts the name of every run file written to a spill
// directory.
const RunFilePrefix = "topn-"

// SweepStaleRuns removes run files in dir last modified before
// now - olderThan. These are left behind only when a process dies without
// running its cleanup. A missing dir is not an error.
func SweepStaleRuns(dir string, olderThan time.Duration, now time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	cutoff := now.Add(-olderThan)
	removed := 0
	var errs *multierror.Error
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !strings.HasPrefix(entry.Name(), RunFilePrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			if !os.IsNotExist(err) {
				errs = multierror.Append(errs, err)
			}
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			errs = multierror.Append(errs, err)
			continue
		}
		removed++
		slog.Debug("Removed stale spill run", slog.String("path", path), slog.Time("modified", info.ModTime()))
	}
	return removed, errs.ErrorOrNil()
}
