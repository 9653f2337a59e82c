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

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/cardinalhq/topnspill/config"
	"github.com/cardinalhq/topnspill/internal/debugging"
	"github.com/cardinalhq/topnspill/internal/idgen"
	"github.com/cardinalhq/topnspill/internal/memory"
	"github.com/cardinalhq/topnspill/internal/pipeline/wkk"
	"github.com/cardinalhq/topnspill/internal/source"
	"github.com/cardinalhq/topnspill/internal/spillspace"
	"github.com/cardinalhq/topnspill/internal/topn"
)

type runOptions struct {
	inputs      []string
	generate    int64
	seed        uint64
	operators   int
	limit       int
	orderBy     []string
	memory      string
	queryMemory string
}

// runSummary aggregates what every operator of one run did.
type runSummary struct {
	QueryID   string
	Operators int
	Rows      []topn.Row
	Stats     []topn.Stats
}

func (s *runSummary) totals() topn.Stats {
	var t topn.Stats
	for _, st := range s.Stats {
		t.RowsIn += st.RowsIn
		t.Spills += st.Spills
		t.BytesSpilled += st.BytesSpilled
		t.RevocationsHonored += st.RevocationsHonored
		t.PeakReservation = max(t.PeakReservation, st.PeakReservation)
	}
	return t
}

type sourceFactory func(partition int) (source.Reader, error)

func init() {
	opts := runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a top-N query",
		Long: `Run a top-N query with one operator per input file, or per generated
partition, all sharing one node memory pool. Result rows are written to stdout.`,
		RunE: func(c *cobra.Command, _ []string) error {
			servicename := "topnspill-run"
			doneCtx, doneFx, err := setupTelemetry(servicename)
			if err != nil {
				return fmt.Errorf("failed to setup telemetry: %w", err)
			}
			defer func() {
				if err := doneFx(); err != nil {
					slog.Error("Error shutting down telemetry", slog.Any("error", err))
				}
			}()

			debugging.RunPprof(doneCtx, debugging.PprofAddr())

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if err := opts.apply(cfg); err != nil {
				return err
			}

			factory, partitions, err := opts.sources(cfg.TopN.BatchSize)
			if err != nil {
				return err
			}

			summary, err := runTopN(doneCtx, cfg, opts, factory, partitions)
			if err != nil {
				return err
			}
			return writeRows(c.OutOrStdout(), summary.Rows)
		},
	}

	flags := cmd.Flags()
	flags.StringSliceVar(&opts.inputs, "input", nil, "Parquet file to read; repeat for one operator per file")
	flags.Int64Var(&opts.generate, "generate", 0, "Generate this many rows per operator instead of reading files")
	flags.Uint64Var(&opts.seed, "seed", 1, "Seed for generated rows")
	flags.IntVar(&opts.operators, "operators", 1, "Number of generated partitions, each with its own operator")
	flags.IntVar(&opts.limit, "limit", 10, "Number of rows to return")
	flags.StringSliceVar(&opts.orderBy, "order-by", []string{"score:desc"}, "Sort field as column[:asc|desc][:nulls_first|nulls_last]; repeatable")
	flags.StringVar(&opts.memory, "memory", "", "Node memory pool size, e.g. 64MiB (overrides memory.node_bytes)")
	flags.StringVar(&opts.queryMemory, "query-memory", "", "Per-query memory limit, e.g. 16MiB (overrides memory.query_max_bytes)")

	rootCmd.AddCommand(cmd)
}

// apply folds command line overrides into cfg.
func (o runOptions) apply(cfg *config.Config) error {
	if o.memory != "" {
		n, err := humanize.ParseBytes(o.memory)
		if err != nil {
			return fmt.Errorf("invalid --memory %q: %w", o.memory, err)
		}
		cfg.Memory.NodeBytes = int64(n)
	}
	if o.queryMemory != "" {
		n, err := humanize.ParseBytes(o.queryMemory)
		if err != nil {
			return fmt.Errorf("invalid --query-memory %q: %w", o.queryMemory, err)
		}
		cfg.Memory.QueryMaxBytes = int64(n)
	}
	return cfg.Validate()
}

// sources picks the input for each operator.
func (o runOptions) sources(batchSize int) (sourceFactory, int, error) {
	switch {
	case len(o.inputs) > 0 && o.generate > 0:
		return nil, 0, errors.New("--input and --generate are mutually exclusive")
	case len(o.inputs) > 0:
		inputs := slices.Clone(o.inputs)
		return func(i int) (source.Reader, error) {
			return source.OpenParquetSource(inputs[i], batchSize)
		}, len(inputs), nil
	case o.generate > 0:
		if o.operators <= 0 {
			return nil, 0, fmt.Errorf("--operators must be positive, got %d", o.operators)
		}
		total, seed := o.generate, o.seed
		return func(i int) (source.Reader, error) {
			return source.NewGeneratedSource(total, seed+uint64(i), batchSize), nil
		}, o.operators, nil
	default:
		return nil, 0, errors.New("one of --input or --generate is required")
	}
}

func (o runOptions) sortSpec() (topn.SortSpec, error) {
	fields := make([]topn.SortField, 0, len(o.orderBy))
	for _, s := range o.orderBy {
		f, err := topn.ParseSortField(s)
		if err != nil {
			return topn.SortSpec{}, err
		}
		fields = append(fields, f)
	}
	return topn.NewSortSpec(fields...)
}

// runTopN runs one operator per partition against a shared node pool and
// merges their results into the global top rows.
func runTopN(ctx context.Context, cfg *config.Config, opts runOptions, factory sourceFactory, partitions int) (*runSummary, error) {
	spec, err := opts.sortSpec()
	if err != nil {
		return nil, err
	}

	if cfg.Spill.Enabled && cfg.Spill.StaleAfter > 0 {
		removed, err := spillspace.SweepStaleRuns(cfg.Spill.Path, cfg.Spill.StaleAfter, time.Now())
		if err != nil {
			slog.Warn("Failed to sweep stale spill runs", slog.String("path", cfg.Spill.Path), slog.Any("error", err))
		} else if removed > 0 {
			slog.Info("Removed stale spill runs", slog.String("path", cfg.Spill.Path), slog.Int("count", removed))
		}
	}

	pool, err := memory.NewNodePool(cfg.Memory.PoolConfig())
	if err != nil {
		return nil, err
	}
	pool.Start()
	defer pool.Stop()

	start := time.Now()
	queryID := idgen.NewQueryID()
	ll := slog.Default().With(slog.String("queryID", queryID))
	ll.Info("Starting top-N run",
		slog.Int("operators", partitions),
		slog.Int("limit", opts.limit),
		slog.String("orderBy", spec.String()),
		slog.String("nodeMemory", humanize.IBytes(uint64(cfg.Memory.NodeBytes))),
		slog.Bool("spillEnabled", cfg.Spill.Enabled))

	results := make([][]topn.Row, partitions)
	stats := make([]topn.Stats, partitions)

	g, gctx := errgroup.WithContext(ctx)
	for i := range partitions {
		g.Go(func() error {
			src, err := factory(i)
			if err != nil {
				return fmt.Errorf("operator %d: open input: %w", i, err)
			}
			defer func() {
				if err := src.Close(); err != nil {
					ll.Warn("Failed to close input", slog.Int("partition", i), slog.Any("error", err))
				}
			}()

			op, err := topn.NewOperator(topn.OperatorConfig{
				QueryID:               queryID,
				Spec:                  spec,
				Limit:                 opts.limit,
				SpillEnabled:          cfg.Spill.Enabled,
				SpillPath:             cfg.Spill.Path,
				MaxUsedSpaceThreshold: cfg.Spill.MaxUsedSpaceThreshold,
				Codec:                 cfg.Spill.Codec,
			}, pool)
			if err != nil {
				return fmt.Errorf("operator %d: %w", i, err)
			}
			operatorCounter.Add(gctx, 1, metric.WithAttributeSet(commonAttributes))

			rows := make([]topn.Row, 0, opts.limit)
			err = op.Run(gctx, src, func(r topn.Row) error {
				rows = append(rows, r)
				return nil
			})
			stats[i] = op.Stats()
			if err != nil {
				return fmt.Errorf("operator %s: %w", op.ID(), err)
			}
			results[i] = rows
			ll.Debug("Operator finished",
				slog.String("operatorID", op.ID()),
				slog.Int64("rowsIn", stats[i].RowsIn),
				slog.Int("spills", stats[i].Spills))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	summary := &runSummary{
		QueryID:   queryID,
		Operators: partitions,
		Rows:      mergeResults(spec, opts.limit, results),
		Stats:     stats,
	}

	elapsed := time.Since(start)
	runDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributeSet(commonAttributes))
	t := summary.totals()
	ll.Info("Top-N run complete",
		slog.Int64("rowsIn", t.RowsIn),
		slog.Int("rowsOut", len(summary.Rows)),
		slog.Int("spills", t.Spills),
		slog.String("bytesSpilled", humanize.IBytes(uint64(t.BytesSpilled))),
		slog.Int("revocationsHonored", t.RevocationsHonored),
		slog.String("peakReservation", humanize.IBytes(uint64(t.PeakReservation))),
		slog.Duration("elapsed", elapsed))

	return summary, nil
}

// mergeResults combines per-operator top rows into the overall top limit.
// Each partition's rows are already sorted; equal rows keep partition order.
func mergeResults(spec topn.SortSpec, limit int, results [][]topn.Row) []topn.Row {
	var all []topn.Row
	for _, rows := range results {
		all = append(all, rows...)
	}
	slices.SortStableFunc(all, func(a, b topn.Row) int {
		return spec.CompareKeys(&a, &b)
	})
	if len(all) > limit {
		all = all[:limit]
	}
	return all
}

func writeRows(w io.Writer, rows []topn.Row) error {
	for _, r := range rows {
		if _, err := fmt.Fprintln(w, formatRow(r)); err != nil {
			return err
		}
	}
	return nil
}

// formatRow renders a row as space separated column=value pairs ordered by
// column name.
func formatRow(r topn.Row) string {
	values := r.Values()
	names := make([]string, 0, len(values))
	for k := range values {
		names = append(names, wkk.RowKeyValue(k))
	}
	sort.Strings(names)

	var sb strings.Builder
	for i, name := range names {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(name)
		sb.WriteByte('=')
		switch v := r.Get(name).(type) {
		case nil:
			sb.WriteString("null")
		case []byte:
			fmt.Fprintf(&sb, "%x", v)
		default:
			fmt.Fprint(&sb, v)
		}
	}
	return sb.String()
}
