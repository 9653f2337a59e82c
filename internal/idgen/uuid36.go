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

package idgen

import (
	"math/big"
	"strings"

	"github.com/google/uuid"
)

const base36Width = 25

// NewQueryID returns a random query identifier as 25 base36 characters.
func NewQueryID() string {
	return UUIDToBase36(uuid.New())
}

// UUIDToBase36 renders id as a fixed-width, lower case base36 string.
func UUIDToBase36(id uuid.UUID) string {
	ret := new(big.Int).SetBytes(id[:]).Text(36)
	if len(ret) < base36Width {
		ret = strings.Repeat("0", base36Width-len(ret)) + ret
	}
	return ret
}
