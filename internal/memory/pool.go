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

// Package memory defines the contract between operators and the node's
// shared memory pool, plus NodePool, a reference pool that enforces
// per-query and per-node ceilings and asks revocable participants to shed
// memory when usage crosses the revoking threshold.
package memory

import (
	"context"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
)

// Revocable is a pool participant that can release memory on request.
type Revocable interface {
	// RequestRevocation asks the participant to free targetBytes. It must not
	// block and must not call back into the pool. It returns the number of
	// bytes the participant expects to free, 0 if it cannot free anything.
	RequestRevocation(targetBytes int64) int64

	// RevocableBytes is the amount the participant could free right now.
	RevocableBytes() int64
}

// Reservation tracks the bytes one participant holds.
type Reservation interface {
	// SetBytes moves the reservation to bytes. Growing past a hard limit
	// fails with an error wrapping ErrMemoryExceeded and leaves the
	// reservation unchanged, as does growing with a cancelled ctx.
	// Shrinking never fails.
	SetBytes(ctx context.Context, bytes int64) error

	// RevocationSettled withdraws whatever is left of revocation requests
	// the participant promised against this reservation. Participants call
	// it once they have acted on a request, including when they freed
	// nothing, so the pool stops counting bytes that will never be released.
	RevocationSettled()

	// Bytes returns the currently reserved amount.
	Bytes() int64

	// Close releases the reservation and unregisters the participant.
	Close()
}

// Pool hands out reservations. Implementations must be safe for concurrent use.
type Pool interface {
	// Register adds a participant belonging to queryID. r may be nil for
	// participants that cannot revoke.
	Register(queryID string, r Revocable) Reservation
}

// ErrMemoryExceeded is wrapped by every QueryExceededError.
var ErrMemoryExceeded = errors.New("memory limit exceeded")

// Limit kinds reported by QueryExceededError.
const (
	LimitPerQuery = "per-query"
	LimitPerNode  = "per-node"
)

// QueryExceededError reports that a reservation would exceed a hard limit.
type QueryExceededError struct {
	QueryID   string
	Kind      string
	Limit     int64
	Reserved  int64
	Requested int64
}

func (e *QueryExceededError) Error() string {
	return fmt.Sprintf("query %s exceeded %s memory limit of %s (reserved %s, requested %s)",
		e.QueryID, e.Kind, humanize.IBytes(uint64(e.Limit)),
		humanize.IBytes(uint64(e.Reserved)), humanize.IBytes(uint64(e.Requested)))
}

func (e *QueryExceededError) Unwrap() error { return ErrMemoryExceeded }
