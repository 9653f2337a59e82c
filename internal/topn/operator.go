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

// Package topn implements a bounded-memory top-N operator. It keeps the best
// N rows of an unbounded input in a bounded heap, spills that heap to sorted
// runs on disk when the node's memory pool revokes its memory, and merges
// the runs with the final heap contents when the input ends.
package topn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/topnspill/internal/idgen"
	"github.com/cardinalhq/topnspill/internal/memory"
	"github.com/cardinalhq/topnspill/internal/pipeline"
	"github.com/cardinalhq/topnspill/internal/source"
	"github.com/cardinalhq/topnspill/internal/spillspace"
	"github.com/cardinalhq/topnspill/internal/topn/spillers"
)

// DefaultMaxUsedSpaceThreshold is the spill filesystem fraction above which
// spills are refused.
const DefaultMaxUsedSpaceThreshold = 0.9

// OperatorConfig configures one Operator.
type OperatorConfig struct {
	// QueryID groups operators for the pool's per-query limit.
	QueryID string

	Spec  SortSpec
	Limit int

	// SpillEnabled allows the operator to satisfy revocation by spilling.
	SpillEnabled bool

	// SpillPath is the directory runs are written to.
	SpillPath string

	// MaxUsedSpaceThreshold is the fraction of the spill filesystem that
	// may be in use after a spill. Zero means DefaultMaxUsedSpaceThreshold.
	MaxUsedSpaceThreshold float64

	// Codec names the run encoding, "cbor" (default) or "gob".
	Codec string

	// DiskUsage overrides how spill filesystem usage is measured.
	DiskUsage spillspace.DiskUsageFunc

	// Spiller overrides the codec selected by Codec.
	Spiller spillers.Spiller
}

// Stats summarizes what an operator did.
type Stats struct {
	RowsIn             int64
	Spills             int
	BytesSpilled       int64
	RevocationsHonored int
	PeakReservation    int64
}

// Operator computes the top Limit rows of its input under Spec while holding
// a reservation against a shared memory pool.
//
// An Operator is driven by a single goroutine: AddInput, Finish, Close and
// the returned MergeIterator must not be called concurrently. Only
// RequestRevocation, RevocableBytes and State may be called from other
// goroutines.
type Operator struct {
	id   string
	cfg  OperatorConfig
	spec SortSpec

	acc         *Accumulator
	writer      *SpillWriter
	reservation memory.Reservation
	runs        []*Run
	seq         uint64
	merge       *MergeIterator

	state          stateCell
	signal         revocationSignal
	revocable      atomic.Int64
	spaceExhausted atomic.Bool

	stats    Stats
	failErr  error
	released bool
	closed   bool
}

var _ memory.Revocable = (*Operator)(nil)

// NewOperator creates an operator in the ACCUMULATING state and registers it
// with pool.
func NewOperator(cfg OperatorConfig, pool memory.Pool) (*Operator, error) {
	if pool == nil {
		return nil, errors.New("topn: memory pool is required")
	}
	if len(cfg.Spec.fields) == 0 {
		return nil, errEmptySortSpec
	}
	if cfg.Limit < 0 {
		return nil, fmt.Errorf("topn: limit must not be negative, got %d", cfg.Limit)
	}

	o := &Operator{
		id:   idgen.NextBase32ID(),
		cfg:  cfg,
		spec: cfg.Spec,
		acc:  NewAccumulator(cfg.Spec, cfg.Limit),
	}

	if cfg.SpillEnabled {
		if cfg.SpillPath == "" {
			return nil, errors.New("topn: spill path is required when spilling is enabled")
		}
		threshold := cfg.MaxUsedSpaceThreshold
		if threshold == 0 {
			threshold = DefaultMaxUsedSpaceThreshold
		}
		checker, err := spillspace.NewChecker(filepath.Clean(cfg.SpillPath), threshold, cfg.DiskUsage)
		if err != nil {
			return nil, fmt.Errorf("topn: %w", err)
		}
		spiller := cfg.Spiller
		if spiller == nil {
			spiller, err = spillers.New(cfg.Codec)
			if err != nil {
				return nil, fmt.Errorf("topn: spill codec %q: %w", cfg.Codec, err)
			}
		}
		o.writer = NewSpillWriter(o.id, checker, spiller)
	}

	o.state.store(StateAccumulating)
	o.reservation = pool.Register(cfg.QueryID, o)
	return o, nil
}

// ID returns the operator's identifier, used in run file names.
func (o *Operator) ID() string { return o.id }

// State returns the current lifecycle state.
func (o *Operator) State() State { return o.state.load() }

// Err returns the error that moved the operator to FAILED, if any.
func (o *Operator) Err() error { return o.failErr }

// Stats returns counters for the operator so far.
func (o *Operator) Stats() Stats { return o.stats }

// RunCount returns the number of runs currently on spill storage.
func (o *Operator) RunCount() int { return len(o.runs) }

// AddInput offers every row of batch and then reaches a yield point, where a
// pending revocation is honored. The batch is not retained; a nil batch
// only reaches the yield point.
//
// If growing the reservation hits a hard pool limit the operator spills and
// carries on; when it cannot spill it fails with an error wrapping
// memory.ErrMemoryExceeded. Any error moves the operator to FAILED, deletes
// its runs and releases its reservation.
func (o *Operator) AddInput(ctx context.Context, batch *pipeline.Batch) error {
	if err := o.expect("AddInput", StateAccumulating); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return o.fail(err)
	}

	n := 0
	if batch != nil {
		n = batch.Len()
	}
	for i := range n {
		values := batch.Get(i)
		keys, err := projectKeys(values, o.spec)
		if err != nil {
			return o.fail(err)
		}
		seq := o.seq
		o.seq++
		if !o.acc.admits(keys, seq) {
			continue
		}
		row, err := newRow(values, o.spec, seq)
		if err != nil {
			return o.fail(err)
		}
		o.acc.Offer(row)
	}
	o.stats.RowsIn += int64(n)
	rowsInCounter.Add(ctx, int64(n))

	if err := o.syncReservation(ctx); err != nil {
		return o.fail(err)
	}
	if err := o.yield(ctx); err != nil {
		return o.fail(err)
	}
	return nil
}

// Finish ends the input and returns the merged output. The reservation for
// the final in-memory rows is held until the iterator is drained or closed;
// at that point the operator becomes FINISHED, or FAILED if the merge failed.
func (o *Operator) Finish(ctx context.Context) (*MergeIterator, error) {
	if err := o.expect("Finish", StateAccumulating); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, o.fail(err)
	}

	o.state.store(StateFinishing)
	o.signal.take()
	o.revocable.Store(0)
	o.reservation.RevocationSettled()
	final := o.acc.DrainSorted()
	runs := o.runs
	o.runs = nil

	o.state.store(StateMerging)
	slog.Debug("Merging top-N sources",
		slog.String("operatorID", o.id),
		slog.Int("runs", len(runs)),
		slog.Int("finalRows", len(final)))

	o.merge = Merge(final, runs, o.cfg.Limit, o.spec)
	o.merge.onDone = o.mergeDone
	return o.merge, nil
}

// Run drives the operator over src and passes every output row to emit. It
// closes the operator, but not src, before returning.
func (o *Operator) Run(ctx context.Context, src source.Reader, emit func(Row) error) (err error) {
	defer func() {
		if closeErr := o.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	for {
		batch, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return o.fail(err)
		}
		err = o.AddInput(ctx, batch)
		pipeline.ReturnBatch(batch)
		if err != nil {
			return err
		}
	}

	it, err := o.Finish(ctx)
	if err != nil {
		return err
	}
	for {
		row, err := it.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := emit(row); err != nil {
			o.setFailed(err)
			_ = it.Close()
			return err
		}
	}
}

// Close releases everything the operator holds: open run readers, run files,
// the accumulator and the pool reservation. Closing an operator that has not
// finished moves it to FAILED with ErrOperatorClosed. Close is idempotent.
func (o *Operator) Close() error {
	if o.closed {
		return nil
	}
	o.closed = true

	var result *multierror.Error
	state := o.state.load()
	if state == StateMerging && o.merge != nil {
		if err := o.merge.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	} else if !state.Terminal() {
		o.setFailed(ErrOperatorClosed)
	}
	if err := o.cleanup(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

func (o *Operator) expect(op string, want State) error {
	if o.closed {
		return ErrOperatorClosed
	}
	if s := o.state.load(); s != want {
		if s == StateFailed && o.failErr != nil {
			return fmt.Errorf("%s: %w", op, o.failErr)
		}
		return &StateError{Op: op, State: s}
	}
	return nil
}

// syncReservation brings the pool reservation in line with the accumulator.
func (o *Operator) syncReservation(ctx context.Context) error {
	want := o.acc.SizeInBytes()
	o.revocable.Store(want)
	err := o.reservation.SetBytes(ctx, want)
	if err == nil {
		o.stats.PeakReservation = max(o.stats.PeakReservation, want)
		return nil
	}
	if !errors.Is(err, memory.ErrMemoryExceeded) || o.writer == nil {
		return err
	}

	// Over the hard limit: shed everything locally instead of waiting for
	// the arbiter.
	if _, spillErr := o.spill(ctx, reasonMemoryLimit); spillErr != nil {
		return fmt.Errorf("%w; spill failed: %w", err, spillErr)
	}
	return nil
}

// spill moves the accumulator to a new run and shrinks the reservation to
// match. It returns the bytes freed. On space exhaustion nothing changes
// and later revocation requests are refused until a spill succeeds.
func (o *Operator) spill(ctx context.Context, reason attribute.KeyValue) (int64, error) {
	if o.writer == nil {
		return 0, nil
	}
	if o.acc.Len() == 0 {
		return 0, nil
	}

	o.state.store(StateSpilling)
	run, err := o.writer.Spill(o.acc)
	if err != nil {
		if errors.Is(err, ErrSpillSpaceExhausted) {
			o.spaceExhausted.Store(true)
			o.state.store(StateAccumulating)
		}
		return 0, err
	}
	o.spaceExhausted.Store(false)
	o.runs = append(o.runs, run)
	o.revocable.Store(0)

	// Shrinking a reservation cannot fail while the operator holds it.
	_ = o.reservation.SetBytes(ctx, 0)

	o.stats.Spills++
	o.stats.BytesSpilled += run.Bytes()
	spillsCounter.Add(ctx, 1, otelmetric.WithAttributes(reason))

	slog.Debug("Spilled top-N accumulator",
		slog.String("operatorID", o.id),
		slog.String("reason", reason.Value.AsString()),
		slog.String("path", run.Path()),
		slog.Int64("rows", run.RowCount()),
		slog.Int64("fileSize", run.Bytes()),
		slog.Int64("freedBytes", run.MemoryBytes()))

	o.state.store(StateAccumulating)
	return run.MemoryBytes(), nil
}

// fail moves the operator to FAILED, cleans up and returns err.
func (o *Operator) fail(err error) error {
	o.setFailed(err)
	if cleanupErr := o.cleanup(); cleanupErr != nil {
		slog.Warn("Failed to clean up after operator failure",
			slog.String("operatorID", o.id),
			slog.Any("error", cleanupErr))
	}
	return err
}

func (o *Operator) setFailed(err error) {
	if o.state.load().Terminal() {
		return
	}
	o.failErr = err
	o.state.store(StateFailed)
	slog.Debug("Top-N operator failed",
		slog.String("operatorID", o.id),
		slog.Any("error", err))
}

// mergeDone runs once, when the merge iterator finishes or is closed.
func (o *Operator) mergeDone(err error) {
	if err != nil {
		o.setFailed(err)
	} else if o.state.load() == StateMerging {
		o.state.store(StateFinished)
	}
	if cleanupErr := o.cleanup(); cleanupErr != nil {
		slog.Warn("Failed to release operator resources",
			slog.String("operatorID", o.id),
			slog.Any("error", cleanupErr))
	}
}

// cleanup deletes runs still owned by the operator and releases the
// reservation. Runs handed to the merge are deleted by it. Runs that fail to
// delete are kept so a later call can retry them.
func (o *Operator) cleanup() error {
	var result *multierror.Error
	var remaining []*Run
	for _, run := range o.runs {
		if err := run.Delete(); err != nil {
			result = multierror.Append(result, err)
			remaining = append(remaining, run)
		}
	}
	o.runs = remaining

	if !o.released {
		o.released = true
		o.acc.DrainSorted()
		o.signal.take()
		o.revocable.Store(0)
		o.reservation.Close()
	}
	return result.ErrorOrNil()
}
