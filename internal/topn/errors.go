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
	"fmt"

	"github.com/cardinalhq/topnspill/internal/spillspace"
)

var (
	// ErrSpillIO is wrapped by every SpillIOError.
	ErrSpillIO = errors.New("spill I/O error")

	// ErrSpillSpaceExhausted is returned, wrapped in a *SpillSpaceError, when
	// a spill would push the spill filesystem past its threshold.
	ErrSpillSpaceExhausted = spillspace.ErrSpaceExhausted

	// ErrOperatorClosed is returned by calls on an operator after Close, and
	// is the failure recorded when an unfinished operator is closed.
	ErrOperatorClosed = errors.New("operator closed")

	// ErrInvalidState is wrapped by every StateError.
	ErrInvalidState = errors.New("invalid operator state")
)

// SpillSpaceError reports the spill directory usage that refused a spill.
type SpillSpaceError = spillspace.SpaceError

// SpillIOError is a read, write or delete failure against spill storage.
type SpillIOError struct {
	Op   string
	Path string
	Err  error
}

func (e *SpillIOError) Error() string {
	return fmt.Sprintf("spill %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *SpillIOError) Unwrap() []error { return []error{ErrSpillIO, e.Err} }

// StateError reports an operator call made in a state that does not allow it.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: operator is %s", e.Op, e.State)
}

func (e *StateError) Unwrap() error { return ErrInvalidState }
