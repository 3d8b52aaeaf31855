// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package validator

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mcdee/casper-node/capability"
)

func mkID(b byte) capability.ValidatorID {
	var id capability.ValidatorID
	id[0] = b
	return id
}

func TestNewSetSortsByIDAndAssignsDenseIndices(t *testing.T) {
	stakes := []Stake{
		{ID: mkID(3), Amount: big.NewInt(100)},
		{ID: mkID(1), Amount: big.NewInt(200)},
		{ID: mkID(2), Amount: big.NewInt(300)},
	}
	set, err := NewSet(stakes)
	require.NoError(t, err)
	require.Equal(t, 3, set.Len())

	idx, ok := set.IndexOf(mkID(1))
	require.True(t, ok)
	require.Equal(t, Index(0), idx)

	idx, ok = set.IndexOf(mkID(2))
	require.True(t, ok)
	require.Equal(t, Index(1), idx)

	idx, ok = set.IndexOf(mkID(3))
	require.True(t, ok)
	require.Equal(t, Index(2), idx)

	require.Equal(t, mkID(1), set.ID(0))
	require.Equal(t, Weight(200), set.Weight(0))
	require.Equal(t, Weight(600), set.TotalWeight())
}

func TestNewSetRejectsEmptyStakes(t *testing.T) {
	_, err := NewSet(nil)
	require.ErrorIs(t, err, ErrZeroTotalWeight)
}

func TestNewSetRejectsAllZeroAmounts(t *testing.T) {
	stakes := []Stake{
		{ID: mkID(1), Amount: big.NewInt(0)},
		{ID: mkID(2), Amount: big.NewInt(0)},
	}
	_, err := NewSet(stakes)
	require.ErrorIs(t, err, ErrZeroTotalWeight)
}

func TestNewSetScalesDownWhenTotalExceedsUint64(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 64) // 2^64
	stakes := []Stake{
		{ID: mkID(1), Amount: huge},
		{ID: mkID(2), Amount: huge},
	}
	set, err := NewSet(stakes)
	require.NoError(t, err)
	// Scaling must bring the combined weight within uint64 range without
	// overflowing (total is a Weight = uint64, so simply not panicking or
	// wrapping negative is the property under test).
	require.Greater(t, set.TotalWeight(), Weight(0))
	require.Greater(t, set.Weight(0), Weight(0))
	require.Greater(t, set.Weight(1), Weight(0))
}

func TestNewSetBannedStartsFaulty(t *testing.T) {
	stakes := []Stake{
		{ID: mkID(1), Amount: big.NewInt(100), Banned: true},
		{ID: mkID(2), Amount: big.NewInt(100)},
	}
	set, err := NewSet(stakes)
	require.NoError(t, err)

	idx, ok := set.IndexOf(mkID(1))
	require.True(t, ok)
	require.True(t, set.IsBanned(idx))
	require.True(t, set.IsFaulty(idx))

	idx, ok = set.IndexOf(mkID(2))
	require.True(t, ok)
	require.False(t, set.IsBanned(idx))
	require.False(t, set.IsFaulty(idx))
}

func TestMarkFaultyUpdatesFaultyAndHonestWeight(t *testing.T) {
	stakes := []Stake{
		{ID: mkID(1), Amount: big.NewInt(100)},
		{ID: mkID(2), Amount: big.NewInt(300)},
	}
	set, err := NewSet(stakes)
	require.NoError(t, err)
	require.Equal(t, Weight(0), set.FaultyWeight())
	require.Equal(t, Weight(400), set.HonestWeight())

	idx, _ := set.IndexOf(mkID(1))
	set.MarkFaulty(idx)
	require.True(t, set.IsFaulty(idx))
	require.Equal(t, Weight(100), set.FaultyWeight())
	require.Equal(t, Weight(300), set.HonestWeight())

	// Idempotent.
	set.MarkFaulty(idx)
	require.Equal(t, Weight(100), set.FaultyWeight())
}

func TestMarkFaultyOutOfRangeIsNoop(t *testing.T) {
	stakes := []Stake{{ID: mkID(1), Amount: big.NewInt(100)}}
	set, err := NewSet(stakes)
	require.NoError(t, err)
	set.MarkFaulty(Index(99))
	require.Equal(t, Weight(0), set.FaultyWeight())
	require.False(t, set.IsFaulty(Index(99)))
	require.False(t, set.IsBanned(Index(99)))
}

func TestCloneIsIndependent(t *testing.T) {
	stakes := []Stake{
		{ID: mkID(1), Amount: big.NewInt(100)},
		{ID: mkID(2), Amount: big.NewInt(100)},
	}
	set, err := NewSet(stakes)
	require.NoError(t, err)

	clone := set.Clone()
	idx, _ := set.IndexOf(mkID(1))
	set.MarkFaulty(idx)

	require.True(t, set.IsFaulty(idx))
	require.False(t, clone.IsFaulty(idx), "mutating the original must not affect the clone")
	require.Equal(t, set.TotalWeight(), clone.TotalWeight())
}

func TestEnumerateVisitsEveryValidatorInIndexOrder(t *testing.T) {
	stakes := []Stake{
		{ID: mkID(2), Amount: big.NewInt(100)},
		{ID: mkID(1), Amount: big.NewInt(100)},
	}
	set, err := NewSet(stakes)
	require.NoError(t, err)

	var seen []Index
	set.Enumerate(func(idx Index, id capability.ValidatorID, w Weight, faulty bool) {
		seen = append(seen, idx)
		require.Equal(t, set.ID(idx), id)
		require.Equal(t, set.Weight(idx), w)
		require.False(t, faulty)
	})
	require.Equal(t, []Index{0, 1}, seen)
}
