// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package finality

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mcdee/casper-node/capability"
	"github.com/mcdee/casper-node/panorama"
	"github.com/mcdee/casper-node/validator"
)

// fakeLookup is a minimal in-memory DAG good enough to drive Level/Sees
// without pulling in the full state package (keeping this test focused on
// summit arithmetic, not unit validation).
type fakeLookup struct {
	block map[capability.Hash]capability.Hash
	self  map[capability.Hash]capability.Hash
	sees  map[capability.Hash]map[capability.Hash]bool
}

func newFakeLookup() *fakeLookup {
	return &fakeLookup{
		block: make(map[capability.Hash]capability.Hash),
		self:  make(map[capability.Hash]capability.Hash),
		sees:  make(map[capability.Hash]map[capability.Hash]bool),
	}
}

func (f *fakeLookup) SelfPredecessor(h capability.Hash) (capability.Hash, bool) {
	p, ok := f.self[h]
	return p, ok
}
func (f *fakeLookup) Timestamp(h capability.Hash) (int64, bool) { return 0, true }
func (f *fakeLookup) Sees(from, target capability.Hash) bool {
	if from == target {
		return true
	}
	return f.sees[from][target]
}
func (f *fakeLookup) BlockOf(h capability.Hash) capability.Hash { return f.block[h] }

func (f *fakeLookup) addSees(from, target capability.Hash) {
	if f.sees[from] == nil {
		f.sees[from] = make(map[capability.Hash]bool)
	}
	f.sees[from][target] = true
}

func TestLevelZeroWhenBelowQuorum(t *testing.T) {
	stakes := []validator.Stake{
		{ID: mkID(1), Amount: big.NewInt(100)},
		{ID: mkID(2), Amount: big.NewInt(100)},
		{ID: mkID(3), Amount: big.NewInt(100)},
	}
	set, err := validator.NewSet(stakes)
	require.NoError(t, err)
	d := New(set, Params{FTT: 0})

	look := newFakeLookup()
	var block capability.Hash
	block[0] = 0xB1
	look.block[hashFor(0)] = block

	pano := panorama.New(set.Len())
	pano.Update(0, panorama.Observation{Kind: panorama.Correct, Hash: hashFor(0)})
	require.Equal(t, 0, d.Level(look, pano, block))
}

func TestLevelOneAtQuorum(t *testing.T) {
	stakes := []validator.Stake{
		{ID: mkID(1), Amount: big.NewInt(100)},
		{ID: mkID(2), Amount: big.NewInt(100)},
		{ID: mkID(3), Amount: big.NewInt(100)},
	}
	set, err := validator.NewSet(stakes)
	require.NoError(t, err)
	d := New(set, Params{FTT: 0})

	look := newFakeLookup()
	var block capability.Hash
	block[0] = 0xB1

	pano := panorama.New(set.Len())
	for i := 0; i < 3; i++ {
		h := hashFor(byte(i))
		look.block[h] = block
		pano.Update(validator.Index(i), panorama.Observation{Kind: panorama.Correct, Hash: h})
	}
	// Full mutual visibility: every validator's latest unit sees every
	// other's, so the committee is stable and reaches a summit.
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			look.addSees(hashFor(byte(i)), hashFor(byte(j)))
		}
	}
	require.GreaterOrEqual(t, d.Level(look, pano, block), 1)
}

func TestFttExceeded(t *testing.T) {
	stakes := []validator.Stake{
		{ID: mkID(1), Amount: big.NewInt(100)},
		{ID: mkID(2), Amount: big.NewInt(100)},
		{ID: mkID(3), Amount: big.NewInt(100)},
	}
	set, err := validator.NewSet(stakes)
	require.NoError(t, err)
	d := New(set, Params{FTT: 50})
	require.False(t, d.FttExceeded())
	set.MarkFaulty(0)
	require.True(t, d.FttExceeded())
}

func hashFor(b byte) capability.Hash {
	var h capability.Hash
	h[1] = b + 1
	return h
}

func mkID(b byte) capability.ValidatorID {
	var id capability.ValidatorID
	id[0] = b
	return id
}
