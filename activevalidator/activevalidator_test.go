// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package activevalidator

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mcdee/casper-node/capability"
	"github.com/mcdee/casper-node/panorama"
	"github.com/mcdee/casper-node/validator"
	"github.com/mcdee/casper-node/wire"
)

type fakeCtx struct{ wire.DefaultHasher }

func (fakeCtx) Verify(pubKey []byte, h capability.Hash, sig capability.Signature) bool { return true }
func (fakeCtx) Sign(secret []byte, h capability.Hash) (capability.Signature, error) {
	return capability.Signature{0x01}, nil
}

func TestRoundMath(t *testing.T) {
	require.Equal(t, int64(1024), RoundLen(10))
	require.Equal(t, int64(1024), RoundID(1500, 10))
	require.Equal(t, int64(682), WitnessOffset(10))
}

func TestLeaderDeterministic(t *testing.T) {
	stakes := []validator.Stake{
		{ID: mkID(1), Amount: big.NewInt(100)},
		{ID: mkID(2), Amount: big.NewInt(100)},
		{ID: mkID(3), Amount: big.NewInt(100)},
	}
	set, err := validator.NewSet(stakes)
	require.NoError(t, err)

	hasher := wire.DefaultHasher{}
	a := Leader(hasher, []byte("instance"), 42, 1024, set)
	b := Leader(hasher, []byte("instance"), 42, 1024, set)
	require.Equal(t, a, b)
	require.True(t, set.Contains(a))
}

func TestCreateProposalAdvancesSeq(t *testing.T) {
	s := NewState(0, []byte{0x01}, []byte("instance"), 1, capability.Hash{}, 0, false)
	ctx := fakeCtx{}
	p := panorama.New(2)
	su, h, err := s.CreateProposal(ctx, p, 100, 10, []byte("value"))
	require.NoError(t, err)
	require.True(t, su.Wire.IsProposal())
	require.Equal(t, uint64(0), su.Wire.SeqNumber)
	require.True(t, s.HasLastHash)
	require.Equal(t, h, s.LastHash)

	su2, _, err := s.CreateWitness(ctx, p, 200, 10)
	require.NoError(t, err)
	require.Equal(t, uint64(1), su2.Wire.SeqNumber)
	self, ok := su2.Wire.Panorama.Get(0).CorrectHash()
	require.True(t, ok)
	require.Equal(t, h, self)
}

func mkID(b byte) capability.ValidatorID {
	var id capability.ValidatorID
	id[0] = b
	return id
}
