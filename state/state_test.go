// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mcdee/casper-node/capability"
	"github.com/mcdee/casper-node/panorama"
	"github.com/mcdee/casper-node/unit"
	"github.com/mcdee/casper-node/validator"
	"github.com/mcdee/casper-node/wire"
)

type fakeCtx struct{ wire.DefaultHasher }

func (fakeCtx) Verify(pubKey []byte, h capability.Hash, sig capability.Signature) bool {
	return len(sig) > 0 && sig[0] == pubKey[0]
}

func (fakeCtx) Sign(secret []byte, h capability.Hash) (capability.Signature, error) {
	return capability.Signature{secret[0]}, nil
}

func newTestSet(t *testing.T, n int) (*validator.Set, [][]byte) {
	t.Helper()
	stakes := make([]validator.Stake, n)
	secrets := make([][]byte, n)
	for i := 0; i < n; i++ {
		var id capability.ValidatorID
		id[0] = byte(i + 1)
		stakes[i] = validator.Stake{ID: id, Amount: big.NewInt(int64(100))}
		secrets[i] = []byte{byte(i + 1)}
	}
	set, err := validator.NewSet(stakes)
	require.NoError(t, err)
	return set, secrets
}

func mkUnit(t *testing.T, s *State, ctx capability.Context, secrets [][]byte, creator validator.Index, seq uint64, ts int64, pano panorama.Panorama, value []byte) (unit.SignedUnit, capability.Hash) {
	t.Helper()
	w := unit.WireUnit{
		Creator:    creator,
		Panorama:   pano,
		SeqNumber:  seq,
		Timestamp:  ts,
		RoundExp:   10,
		Value:      value,
		InstanceID: []byte("test-instance"),
	}
	su, h, err := unit.Sign(w, ctx, secrets[creator])
	require.NoError(t, err)
	return su, h
}

func newTestState(t *testing.T, n int) (*State, *validator.Set, [][]byte) {
	t.Helper()
	set, secrets := newTestSet(t, n)
	ctx := fakeCtx{}
	st := New(set, ctx, Params{
		InstanceID:       []byte("test-instance"),
		MinRoundExp:      0,
		MaxRoundExp:      20,
		MaxTimestampSkew: 60_000,
	})
	return st, set, secrets
}

func TestAddValidSimpleChain(t *testing.T) {
	st, set, secrets := newTestState(t, 2)
	ctx := fakeCtx{}
	pubKeys := secrets // pubKey[0] == secret[0] per fakeCtx

	p0 := panorama.New(set.Len())
	su0, h0 := mkUnit(t, st, ctx, secrets, 0, 0, 100, p0, []byte("block-a"))

	require.NoError(t, st.PreValidate(su0, h0, pubKeys[0]))
	require.NoError(t, st.Validate(su0, h0, 100))
	_, err := st.AddValid(su0, h0, fakeValue{hash: h0})
	require.NoError(t, err)
	require.True(t, st.HasUnit(h0))
	require.Equal(t, h0, st.ForkChoice())

	p1 := st.Panorama()
	su1, h1 := mkUnit(t, st, ctx, secrets, 1, 0, 110, p1, nil)
	require.NoError(t, st.PreValidate(su1, h1, pubKeys[1]))
	require.NoError(t, st.Validate(su1, h1, 110))
	_, err = st.AddValid(su1, h1, nil)
	require.NoError(t, err)
	require.Equal(t, h0, st.ForkChoice())
}

func TestMissingDependencies(t *testing.T) {
	st, set, _ := newTestState(t, 2)
	p := panorama.New(set.Len())
	var ghost capability.Hash
	ghost[0] = 0xAA
	p.Update(1, panorama.Observation{Kind: panorama.Correct, Hash: ghost})
	w := unit.WireUnit{Creator: 0, Panorama: p, SeqNumber: 0, Timestamp: 1}
	missing := st.MissingDependencies(&w)
	require.Len(t, missing, 1)
	require.Equal(t, ghost, missing[0])
}

func TestEquivocationDetected(t *testing.T) {
	st, set, secrets := newTestState(t, 2)
	ctx := fakeCtx{}
	p0 := panorama.New(set.Len())

	suA, hA := mkUnit(t, st, ctx, secrets, 0, 0, 100, p0, nil)
	require.NoError(t, st.Validate(suA, hA, 100))
	_, err := st.AddValid(suA, hA, nil)
	require.NoError(t, err)

	suB, hB := mkUnit(t, st, ctx, secrets, 0, 0, 101, p0, []byte("conflict"))
	ev, err := st.AddValid(suB, hB, fakeValue{hash: hB})
	require.NoError(t, err)
	require.NotNil(t, ev)
	require.Equal(t, validator.Index(0), ev.Creator)
	require.True(t, st.IsFaulty(0))
	_, ok := st.MaybeEvidence(0)
	require.True(t, ok)
}

func TestSeqNumberMismatchRejected(t *testing.T) {
	st, set, secrets := newTestState(t, 1)
	ctx := fakeCtx{}
	p0 := panorama.New(set.Len())
	su0, h0 := mkUnit(t, st, ctx, secrets, 0, 0, 100, p0, nil)
	require.NoError(t, st.Validate(su0, h0, 100))
	_, err := st.AddValid(su0, h0, nil)
	require.NoError(t, err)

	p1 := st.Panorama()
	// Skip seq number 1, jump to 2.
	su2, h2 := mkUnit(t, st, ctx, secrets, 0, 2, 110, p1, nil)
	err = st.Validate(su2, h2, 110)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, ValidationSeqNumberMismatch, verr.Kind)
}

type fakeValue struct{ hash capability.Hash }

func (v fakeValue) Hash() capability.Hash     { return v.hash }
func (v fakeValue) Parent() capability.Hash   { return capability.Hash{} }
func (v fakeValue) Timestamp() int64          { return 0 }
