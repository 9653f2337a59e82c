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
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cardinalhq/topnspill/internal/memory"
	"github.com/cardinalhq/topnspill/internal/pipeline"
	"github.com/cardinalhq/topnspill/internal/topn/spillers"
)

// Config aggregates configuration for the application.
type Config struct {
	Spill  SpillConfig  `mapstructure:"spill"`
	Memory MemoryConfig `mapstructure:"memory"`
	TopN   TopNConfig   `mapstructure:"topn"`
}

// SpillConfig controls where and whether operators spill.
type SpillConfig struct {
	Enabled               bool    `mapstructure:"enabled"`
	Path                  string  `mapstructure:"path"`
	MaxUsedSpaceThreshold float64 `mapstructure:"max_used_space_threshold"`
	Codec                 string  `mapstructure:"codec"`

	// StaleAfter is the age past which leftover run files are removed at
	// startup. Zero disables the sweep.
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

// MemoryConfig sizes the node memory pool.
type MemoryConfig struct {
	NodeBytes         int64         `mapstructure:"node_bytes"`
	QueryMaxBytes     int64         `mapstructure:"query_max_bytes"`
	RevokingThreshold float64       `mapstructure:"revoking_threshold"`
	RevokingTarget    float64       `mapstructure:"revoking_target"`
	CheckInterval     time.Duration `mapstructure:"check_interval"`
}

type TopNConfig struct {
	BatchSize int `mapstructure:"batch_size"`
}

// PoolConfig converts to the pool's own configuration.
func (m MemoryConfig) PoolConfig() memory.Config {
	return memory.Config{
		NodeBytes:         m.NodeBytes,
		QueryMaxBytes:     m.QueryMaxBytes,
		RevokingThreshold: m.RevokingThreshold,
		RevokingTarget:    m.RevokingTarget,
		CheckInterval:     m.CheckInterval,
	}
}

// DefaultSpillPath is $TMPDIR/topnspill/spills.
func DefaultSpillPath() string {
	return filepath.Join(os.TempDir(), "topnspill", "spills")
}

// DefaultConfig returns the configuration used when nothing overrides it.
func DefaultConfig() *Config {
	return &Config{
		Spill: SpillConfig{
			Enabled:               true,
			Path:                  DefaultSpillPath(),
			MaxUsedSpaceThreshold: 0.9,
			Codec:                 spillers.CodecCBOR,
			StaleAfter:            time.Hour,
		},
		Memory: MemoryConfig{
			NodeBytes:         1 << 30,
			RevokingThreshold: memory.DefaultRevokingThreshold,
			RevokingTarget:    memory.DefaultRevokingTarget,
			CheckInterval:     memory.DefaultCheckInterval,
		},
		TopN: TopNConfig{
			BatchSize: pipeline.DefaultBatchSize,
		},
	}
}

// ConfigError reports an invalid configuration value.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Message)
}

// Validate checks the loaded values.
func (c *Config) Validate() error {
	if c.Spill.Enabled && c.Spill.Path == "" {
		return &ConfigError{Field: "spill.path", Message: "required when spilling is enabled"}
	}
	if t := c.Spill.MaxUsedSpaceThreshold; t <= 0 || t > 1 {
		return &ConfigError{Field: "spill.max_used_space_threshold", Message: fmt.Sprintf("must be in (0, 1], got %v", t)}
	}
	if c.Spill.StaleAfter < 0 {
		return &ConfigError{Field: "spill.stale_after", Message: "must not be negative"}
	}
	if _, err := spillers.New(c.Spill.Codec); err != nil {
		return &ConfigError{Field: "spill.codec", Message: fmt.Sprintf("unknown codec %q", c.Spill.Codec)}
	}
	if c.Memory.NodeBytes <= 0 {
		return &ConfigError{Field: "memory.node_bytes", Message: "must be positive"}
	}
	if c.Memory.QueryMaxBytes < 0 {
		return &ConfigError{Field: "memory.query_max_bytes", Message: "must not be negative"}
	}
	if err := c.Memory.PoolConfig().Validate(); err != nil {
		return &ConfigError{Field: "memory", Message: err.Error()}
	}
	if c.TopN.BatchSize <= 0 {
		return &ConfigError{Field: "topn.batch_size", Message: "must be positive"}
	}
	return nil
}

// Load reads configuration from files and environment variables.
// Environment variables use the prefix "TOPNSPILL" and the dot character
// in keys is replaced by an underscore. For example, "spill.path" becomes
// "TOPNSPILL_SPILL_PATH".
func Load() (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.SetEnvPrefix("TOPNSPILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)
	_ = v.ReadInConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// bindEnvs registers all keys within cfg so that viper will look up
// corresponding environment variables when unmarshalling.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(parts, tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
