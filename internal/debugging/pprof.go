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

// Package debugging runs the pprof listener used while tuning memory and
// spill behavior.
package debugging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof"
	"os"
	"strconv"
)

const DefaultPprofPort = 6060

// PprofAddr returns the listen address selected by PPROF_PORT, or "" when
// the listener is disabled with 0, false or off.
func PprofAddr() string {
	port := pprofPort(os.Getenv("PPROF_PORT"))
	if port <= 0 {
		return ""
	}
	return fmt.Sprintf(":%d", port)
}

// RunPprof serves net/http/pprof on addr until ctx is done. An empty addr
// does nothing.
func RunPprof(ctx context.Context, addr string) {
	if addr == "" {
		return
	}

	server := &http.Server{
		Addr: addr,
	}

	go func() {
		slog.Info("Starting pprof server", slog.String("address", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Pprof server error", slog.Any("error", err))
		}
	}()

	go func() {
		<-ctx.Done()
		slog.Debug("Shutting down pprof server")
		if err := server.Shutdown(context.Background()); err != nil {
			slog.Error("Error shutting down pprof server", slog.Any("error", err))
		}
	}()
}

func pprofPort(envPort string) int {
	switch envPort {
	case "":
		return DefaultPprofPort
	case "0", "false", "off":
		return 0
	}

	port, err := strconv.Atoi(envPort)
	if err != nil || port < 0 || port > 65535 {
		slog.Warn("Invalid PPROF_PORT value, using default", slog.String("value", envPort), slog.Int("default", DefaultPprofPort))
		return DefaultPprofPort
	}
	return port
}
