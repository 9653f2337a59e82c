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
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	rowsInCounter            otelmetric.Int64Counter
	rowsOutCounter           otelmetric.Int64Counter
	spillsCounter            otelmetric.Int64Counter
	spilledBytesCounter      otelmetric.Int64Counter
	runsDeletedCounter       otelmetric.Int64Counter
	revocationRequestCounter otelmetric.Int64Counter
	spillRowsHistogram       otelmetric.Int64Histogram
)

var (
	reasonRevocation  = attribute.String("reason", "revocation")
	reasonMemoryLimit = attribute.String("reason", "memory_limit")
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/topnspill/internal/topn")

	var err error
	rowsInCounter, err = meter.Int64Counter(
		"topnspill.topn.rows.in",
		otelmetric.WithDescription("Number of rows offered to top-N operators"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create rows.in counter: %w", err))
	}

	rowsOutCounter, err = meter.Int64Counter(
		"topnspill.topn.rows.out",
		otelmetric.WithDescription("Number of rows emitted by the final merge"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create rows.out counter: %w", err))
	}

	spillsCounter, err = meter.Int64Counter(
		"topnspill.topn.spills",
		otelmetric.WithDescription("Number of runs written to spill storage"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create spills counter: %w", err))
	}

	spilledBytesCounter, err = meter.Int64Counter(
		"topnspill.topn.spilled.bytes",
		otelmetric.WithUnit("By"),
		otelmetric.WithDescription("Bytes written to spill storage"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create spilled.bytes counter: %w", err))
	}

	runsDeletedCounter, err = meter.Int64Counter(
		"topnspill.topn.runs.deleted",
		otelmetric.WithDescription("Number of run files removed from spill storage"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create runs.deleted counter: %w", err))
	}

	revocationRequestCounter, err = meter.Int64Counter(
		"topnspill.topn.revocation.requests",
		otelmetric.WithDescription("Number of revocation requests accepted by operators"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create revocation.requests counter: %w", err))
	}

	spillRowsHistogram, err = meter.Int64Histogram(
		"topnspill.topn.spill.rows",
		otelmetric.WithDescription("Rows per spilled run"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create spill.rows histogram: %w", err))
	}
}
