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

package spillers

import (
	"bufio"
	"fmt"
	"os"
)

// writeFile creates a run file in dir, lets encode stream into it through a
// buffered writer, then flushes and syncs. Any failure removes the file.
func writeFile(dir, prefix, ext string, rowCount int, encode func(w *bufio.Writer) error) (*SpillFile, error) {
	f, err := os.CreateTemp(dir, prefix+"-*"+ext)
	if err != nil {
		return nil, fmt.Errorf("create spill file: %w", err)
	}
	path := f.Name()

	fail := func(err error) (*SpillFile, error) {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, err
	}

	w := bufio.NewWriterSize(f, 64*1024)
	if err := encode(w); err != nil {
		return fail(fmt.Errorf("encode spill file %s: %w", path, err))
	}
	if err := w.Flush(); err != nil {
		return fail(fmt.Errorf("flush spill file %s: %w", path, err))
	}
	if err := f.Sync(); err != nil {
		return fail(fmt.Errorf("sync spill file %s: %w", path, err))
	}
	info, err := f.Stat()
	if err != nil {
		return fail(fmt.Errorf("stat spill file %s: %w", path, err))
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("close spill file %s: %w", path, err)
	}

	return &SpillFile{
		Path:     path,
		RowCount: int64(rowCount),
		Bytes:    info.Size(),
	}, nil
}

func removeFile(file *SpillFile) error {
	if file == nil || file.Path == "" {
		return nil
	}
	if err := os.Remove(file.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove spill file %s: %w", file.Path, err)
	}
	return nil
}
