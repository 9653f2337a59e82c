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

package memory

import (
	"fmt"

	"go.opentelemetry.io/otel"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	revocationRequestsCounter otelmetric.Int64Counter
	revocationBytesCounter    otelmetric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/topnspill/internal/memory")

	var err error
	revocationRequestsCounter, err = meter.Int64Counter(
		"topnspill.memory.revocation.rounds",
		otelmetric.WithDescription("Number of revocation rounds that asked participants to free memory"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create revocation.rounds counter: %w", err))
	}

	revocationBytesCounter, err = meter.Int64Counter(
		"topnspill.memory.revocation.promised",
		otelmetric.WithUnit("By"),
		otelmetric.WithDescription("Bytes participants promised to free in response to revocation requests"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create revocation.promised counter: %w", err))
	}
}
