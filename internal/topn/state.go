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

import "sync/atomic"

// State is the lifecycle state of an Operator.
type State int32

const (
	StateAccumulating State = iota
	StateSpilling
	StateFinishing
	StateMerging
	StateFinished
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAccumulating:
		return "ACCUMULATING"
	case StateSpilling:
		return "SPILLING"
	case StateFinishing:
		return "FINISHING"
	case StateMerging:
		return "MERGING"
	case StateFinished:
		return "FINISHED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateFinished || s == StateFailed
}

// stateCell is written by the driver and read by the memory arbiter.
type stateCell struct {
	v atomic.Int32
}

func (c *stateCell) load() State { return State(c.v.Load()) }

func (c *stateCell) store(s State) { c.v.Store(int32(s)) }
