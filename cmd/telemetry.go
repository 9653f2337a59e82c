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
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cardinalhq/oteltools/pkg/telemetry"
	slogmulti "github.com/samber/slog-multi"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/instrumentation/host"
	iruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/topnspill/internal/idgen"
)

var (
	commonAttributes attribute.Set

	meter = otel.Meter("github.com/cardinalhq/topnspill")

	myInstanceID int64

	runDuration     metric.Float64Histogram
	operatorCounter metric.Int64Counter
)

func debugEnabled() bool {
	return os.Getenv("DEBUG") != "" || os.Getenv("TOPNSPILL_DEBUG") != ""
}

func setupTelemetry(servicename string) (context.Context, func() error, error) {
	myInstanceID = idgen.DefaultFlakeGenerator.NextID()

	// Catch signals to stop the process as gracefully as possible.
	doneCtx, doneCancel := handleSignals(context.Background())

	f := func() error {
		doneCancel()
		return nil
	}

	setupGlobalMetrics()
	commonAttributes = attribute.NewSet(attribute.Int64("instanceID", myInstanceID))

	var opts *slog.HandlerOptions
	if debugEnabled() {
		opts = &slog.HandlerOptions{Level: slog.LevelDebug}
	}

	// Logs go to stderr; stdout carries the result rows.
	if os.Getenv("OTEL_SERVICE_NAME") != "" && os.Getenv("ENABLE_OTLP_TELEMETRY") == "true" {
		slog.SetDefault(slog.New(slogmulti.Fanout(
			slog.NewTextHandler(os.Stderr, opts),
			otelslog.NewHandler(servicename),
		)).With(
			slog.String("service", servicename),
			slog.Int64("instanceID", myInstanceID),
		))
		slog.Info("OpenTelemetry exporting enabled")

		otelShutdown, err := telemetry.SetupOTelSDK(doneCtx)
		if err != nil {
			doneCancel()
			return doneCtx, nil, fmt.Errorf("failed to setup OpenTelemetry SDK: %w", err)
		}

		if err := iruntime.Start(iruntime.WithMinimumReadMemStatsInterval(time.Second * 10)); err != nil {
			slog.Warn("failed to start runtime metrics", "error", err.Error())
		}

		if err := host.Start(); err != nil {
			slog.Warn("failed to start host metrics", "error", err.Error())
		}

		f = func() error {
			defer doneCancel()
			slog.Info("Shutting down OpenTelemetry SDK")
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return otelShutdown(ctx)
		}
	} else {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)).With(
			slog.String("service", servicename),
			slog.Int64("instanceID", myInstanceID),
		))
	}

	return doneCtx, f, nil
}

func setupGlobalMetrics() {
	if runDuration != nil {
		return
	}

	h, err := meter.Float64Histogram(
		"topnspill.run.duration",
		metric.WithUnit("s"),
		metric.WithDescription("The duration in seconds of a top-N run across all of its operators"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create run.duration histogram: %w", err))
	}
	runDuration = h

	c, err := meter.Int64Counter(
		"topnspill.run.operators",
		metric.WithDescription("Number of operators started by top-N runs"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create run.operators counter: %w", err))
	}
	operatorCounter = c
}
