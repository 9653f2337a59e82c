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
	"log/slog"
	"sync/atomic"
)

// revocationSignal is the cell the memory arbiter writes and the driver
// drains at its yield points. Setting it again before it is honored keeps
// the largest target.
type revocationSignal struct {
	target atomic.Int64
}

func (s *revocationSignal) request(target int64) {
	for {
		cur := s.target.Load()
		if target <= cur {
			return
		}
		if s.target.CompareAndSwap(cur, target) {
			return
		}
	}
}

func (s *revocationSignal) pending() bool { return s.target.Load() > 0 }

// take clears the signal and returns the target that was set, or 0.
func (s *revocationSignal) take() int64 { return s.target.Swap(0) }

// RequestRevocation asks the operator to free targetBytes. It is safe to
// call from any goroutine and never blocks: the operator spills everything
// it holds at its next yield point between batches. The return value is the
// number of bytes that spill will free, or 0 when the operator cannot spill
// (spilling disabled, spill space exhausted, nothing held, or past the
// accumulating phase).
func (o *Operator) RequestRevocation(targetBytes int64) int64 {
	bytes := o.RevocableBytes()
	if bytes <= 0 {
		return 0
	}
	if targetBytes <= 0 || targetBytes > bytes {
		targetBytes = bytes
	}
	o.signal.request(targetBytes)
	revocationRequestCounter.Add(context.Background(), 1)
	return bytes
}

// RevocableBytes returns the bytes a revocation would free right now.
func (o *Operator) RevocableBytes() int64 {
	if !o.cfg.SpillEnabled || o.spaceExhausted.Load() {
		return 0
	}
	switch o.state.load() {
	case StateAccumulating, StateSpilling:
		return o.revocable.Load()
	default:
		return 0
	}
}

// yield is the only place a pending revocation is acted on. A spill refused
// for lack of space counts as zero bytes freed and is not an error here; the
// pool's hard limit decides whether the query can continue. Either way the
// request is settled with the pool.
func (o *Operator) yield(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target := o.signal.take()
	if target == 0 {
		return nil
	}
	freed, err := o.spill(ctx, reasonRevocation)
	o.reservation.RevocationSettled()
	if errors.Is(err, ErrSpillSpaceExhausted) {
		slog.Warn("Revocation could not spill, spill space exhausted",
			slog.String("operatorID", o.id),
			slog.Int64("targetBytes", target),
			slog.Any("error", err))
		return nil
	}
	if err != nil {
		return err
	}
	o.stats.RevocationsHonored++
	slog.Debug("Honored revocation request",
		slog.String("operatorID", o.id),
		slog.Int64("targetBytes", target),
		slog.Int64("freedBytes", freed))
	return nil
}
