// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package driver

import (
	"github.com/mcdee/casper-node/unit"
	"github.com/mcdee/casper-node/wire"
)

func encodeSignedUnit(su unit.SignedUnit) ([]byte, error) {
	return wire.Marshal(su)
}

func decodeSignedUnit(b []byte) (unit.SignedUnit, error) {
	var su unit.SignedUnit
	err := wire.Unmarshal(b, &su)
	return su, err
}

// DecodeVertex turns a gossiped unit payload back into a SignedUnit, for
// the reactor to pass into HandleNewVertex.
func DecodeVertex(b []byte) (unit.SignedUnit, error) {
	return decodeSignedUnit(b)
}
