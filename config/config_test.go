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

package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/topnspill/internal/memory"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.Spill.Enabled)
	assert.Equal(t, DefaultSpillPath(), cfg.Spill.Path)
	assert.Equal(t, 0.9, cfg.Spill.MaxUsedSpaceThreshold)
	assert.Equal(t, "cbor", cfg.Spill.Codec)
	assert.Equal(t, time.Hour, cfg.Spill.StaleAfter)
	assert.Equal(t, int64(1<<30), cfg.Memory.NodeBytes)
	assert.Equal(t, 0.9, cfg.Memory.RevokingThreshold)
	assert.Equal(t, 0.5, cfg.Memory.RevokingTarget)
	assert.Equal(t, 1000, cfg.TopN.BatchSize)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("TOPNSPILL_SPILL_ENABLED", "false")
	t.Setenv("TOPNSPILL_SPILL_PATH", "/var/spill")
	t.Setenv("TOPNSPILL_SPILL_MAX_USED_SPACE_THRESHOLD", "0.75")
	t.Setenv("TOPNSPILL_SPILL_CODEC", "gob")
	t.Setenv("TOPNSPILL_SPILL_STALE_AFTER", "0s")
	t.Setenv("TOPNSPILL_MEMORY_NODE_BYTES", "4096")
	t.Setenv("TOPNSPILL_MEMORY_QUERY_MAX_BYTES", "1024")
	t.Setenv("TOPNSPILL_MEMORY_CHECK_INTERVAL", "250ms")
	t.Setenv("TOPNSPILL_TOPN_BATCH_SIZE", "64")

	cfg, err := Load()
	require.NoError(t, err)

	require.False(t, cfg.Spill.Enabled)
	require.Equal(t, "/var/spill", cfg.Spill.Path)
	require.Equal(t, 0.75, cfg.Spill.MaxUsedSpaceThreshold)
	require.Equal(t, "gob", cfg.Spill.Codec)
	require.Zero(t, cfg.Spill.StaleAfter)
	require.Equal(t, int64(4096), cfg.Memory.NodeBytes)
	require.Equal(t, int64(1024), cfg.Memory.QueryMaxBytes)
	require.Equal(t, 250*time.Millisecond, cfg.Memory.CheckInterval)
	require.Equal(t, 64, cfg.TopN.BatchSize)

	pool := cfg.Memory.PoolConfig()
	assert.Equal(t, int64(4096), pool.NodeBytes)
	assert.Equal(t, int64(1024), pool.QueryMaxBytes)
}

func TestLoadRevokeAlways(t *testing.T) {
	t.Setenv("TOPNSPILL_MEMORY_REVOKING_THRESHOLD", "0.001")
	t.Setenv("TOPNSPILL_MEMORY_REVOKING_TARGET", "0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 0.001, cfg.Memory.RevokingThreshold)
	assert.Zero(t, cfg.Memory.RevokingTarget)

	pool, err := memory.NewNodePool(cfg.Memory.PoolConfig())
	require.NoError(t, err)
	assert.Zero(t, pool.Config().RevokingTarget)
	assert.Equal(t, 0.001, pool.Config().RevokingThreshold)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("TOPNSPILL_SPILL_MAX_USED_SPACE_THRESHOLD", "1.5")

	_, err := Load()
	var ce *ConfigError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "spill.max_used_space_threshold", ce.Field)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"spill path", func(c *Config) { c.Spill.Path = "" }, "spill.path"},
		{"stale after", func(c *Config) { c.Spill.StaleAfter = -time.Second }, "spill.stale_after"},
		{"codec", func(c *Config) { c.Spill.Codec = "zip" }, "spill.codec"},
		{"node bytes", func(c *Config) { c.Memory.NodeBytes = 0 }, "memory.node_bytes"},
		{"query bytes", func(c *Config) { c.Memory.QueryMaxBytes = -1 }, "memory.query_max_bytes"},
		{"target above threshold", func(c *Config) { c.Memory.RevokingTarget = 0.95 }, "memory"},
		{"negative target", func(c *Config) { c.Memory.RevokingTarget = -0.5 }, "memory"},
		{"batch size", func(c *Config) { c.TopN.BatchSize = 0 }, "topn.batch_size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			var ce *ConfigError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tt.field, ce.Field)
		})
	}

	cfg := DefaultConfig()
	cfg.Spill.Enabled = false
	cfg.Spill.Path = ""
	assert.NoError(t, cfg.Validate())
}
