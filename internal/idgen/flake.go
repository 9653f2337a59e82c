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

// Package idgen generates the identifiers used to name operators, queries
// and their spill runs.
package idgen

import (
	"encoding/base32"
	"encoding/binary"
	"errors"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/sony/sonyflake"
)

var DefaultFlakeGenerator *SonyFlakeGenerator

func init() {
	var err error
	DefaultFlakeGenerator, err = newFlakeGenerator()
	if err != nil {
		panic(err)
	}
}

var base32NoPad = base32.StdEncoding.WithPadding(base32.NoPadding)

type SonyFlakeGenerator struct {
	sf *sonyflake.Sonyflake
}

func newFlakeGenerator() (*SonyFlakeGenerator, error) {
	settings := sonyflake.Settings{
		StartTime: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		// Operators are local to one process, so the machine ID only has to
		// be stable, not unique across hosts.
		MachineID: func() (uint16, error) { return 1, nil },
	}

	sf, err := sonyflake.New(settings)
	if err != nil {
		return nil, err
	}
	if sf == nil {
		return nil, errors.New("failed to create Sonyflake instance")
	}
	return &SonyFlakeGenerator{sf: sf}, nil
}

// NextID returns a positive int64 that'll increase roughly in time order.
func (sf *SonyFlakeGenerator) NextID() int64 {
	v, err := sf.sf.NextID()
	if err != nil {
		return rand.Int64()
	}
	return int64(v)
}

// NextBase32ID returns NextID as lower case, unpadded base32, suitable for
// file names.
func (sf *SonyFlakeGenerator) NextBase32ID() string {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(sf.NextID()))
	return strings.ToLower(base32NoPad.EncodeToString(b[:]))
}

// NextBase32ID returns an ID from DefaultFlakeGenerator.
func NextBase32ID() string {
	return DefaultFlakeGenerator.NextBase32ID()
}
