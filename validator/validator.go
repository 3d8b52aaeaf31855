// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package validator holds the era's validator set and weight map: ordered
// validator IDs, weights, ban/fault flags, and the total weight used
// throughout fault-tolerance accounting.
package validator

import (
	"errors"
	"math/big"
	"sort"

	"github.com/mcdee/casper-node/capability"
)

// Index is a dense integer 0..N indexing into the validator vector, assigned
// by sorting validator IDs ascending at era construction. It is stable for
// the whole era.
type Index uint16

// Weight is an unsigned 64-bit stake-equivalent quantity.
type Weight uint64

// ErrZeroTotalWeight is returned when a validator set's combined weight is
// zero; such a set can never reach a fault-tolerance threshold.
var ErrZeroTotalWeight = errors.New("validator: total weight is zero")

// entry is one validator's immutable identity/weight pair plus its mutable
// fault flag.
type entry struct {
	id     capability.ValidatorID
	weight Weight
	faulty bool
	banned bool
}

// Set is the ordered validator table for one era: validator IDs sorted
// ascending, their weights, and which are banned or have become faulty.
type Set struct {
	byIndex []entry
	byID    map[capability.ValidatorID]Index
	total   Weight
}

// Stake is an unscaled input stake amount, as supplied by the external
// staking/era-configuration collaborator (see spec.md §3: "scaling from
// arbitrary stake integers to u64 weights is performed at era construction
// by rounding the divisor up so total <= 2^64-1").
type Stake struct {
	ID     capability.ValidatorID
	Amount *big.Int
	Banned bool
}

// NewSet builds a validator Set from raw stakes, scaling every stake down to
// a uint64 Weight by a single shared divisor chosen so the total weight
// fits in 64 bits. IDs are sorted ascending and assigned dense indices in
// that order, matching the Rust implementation's
// `Validators: FromIterator<(VID, W)>` (sort by ID, then enumerate).
func NewSet(stakes []Stake) (*Set, error) {
	if len(stakes) == 0 {
		return nil, ErrZeroTotalWeight
	}

	divisor := scalingDivisor(stakes)

	sorted := make([]Stake, len(stakes))
	copy(sorted, stakes)
	sort.Slice(sorted, func(i, j int) bool {
		return lessID(sorted[i].ID, sorted[j].ID)
	})

	s := &Set{
		byIndex: make([]entry, len(sorted)),
		byID:    make(map[capability.ValidatorID]Index, len(sorted)),
	}
	for i, st := range sorted {
		w := scaledWeight(st.Amount, divisor)
		s.byIndex[i] = entry{id: st.ID, weight: w, banned: st.Banned, faulty: st.Banned}
		s.byID[st.ID] = Index(i)
		s.total += w
	}
	if s.total == 0 {
		return nil, ErrZeroTotalWeight
	}
	return s, nil
}

func lessID(a, b capability.ValidatorID) bool {
	return a.String() < b.String()
}

// scalingDivisor picks the smallest divisor D such that
// sum(amount/D, rounding up) fits in a uint64. A divisor of 1 is used
// whenever the raw sum already fits.
func scalingDivisor(stakes []Stake) *big.Int {
	sum := new(big.Int)
	for _, st := range stakes {
		sum.Add(sum, st.Amount)
	}
	maxU64 := new(big.Int).SetUint64(^uint64(0))
	if sum.Cmp(maxU64) <= 0 {
		return big.NewInt(1)
	}
	// divisor = ceil(sum / maxU64); then re-check the rounded-up total also
	// fits, bumping the divisor until it does (rounding up per stake can
	// push the scaled sum slightly above sum/divisor).
	divisor := new(big.Int).Add(new(big.Int).Div(sum, maxU64), big.NewInt(1))
	for {
		total := new(big.Int)
		for _, st := range stakes {
			total.Add(total, ceilDiv(st.Amount, divisor))
		}
		if total.Cmp(maxU64) <= 0 {
			return divisor
		}
		divisor.Add(divisor, big.NewInt(1))
	}
}

func ceilDiv(a, b *big.Int) *big.Int {
	q, r := new(big.Int), new(big.Int)
	q.DivMod(a, b, r)
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

func scaledWeight(amount, divisor *big.Int) Weight {
	return Weight(ceilDiv(amount, divisor).Uint64())
}

// Len returns the number of validators in the set.
func (s *Set) Len() int { return len(s.byIndex) }

// Contains reports whether idx is a valid index into this set.
func (s *Set) Contains(idx Index) bool {
	return int(idx) < len(s.byIndex)
}

// IndexOf returns the dense index of a validator ID, and whether it was
// found.
func (s *Set) IndexOf(id capability.ValidatorID) (Index, bool) {
	idx, ok := s.byID[id]
	return idx, ok
}

// ID returns the validator ID at idx. Panics if idx is out of range; callers
// must validate idx first (mirrors the Rust `get_by_index`, which expects a
// pre-validated index).
func (s *Set) ID(idx Index) capability.ValidatorID {
	return s.byIndex[idx].id
}

// Weight returns the weight of the validator at idx.
func (s *Set) Weight(idx Index) Weight {
	return s.byIndex[idx].weight
}

// TotalWeight returns the combined weight of every validator in the set,
// faulty or not.
func (s *Set) TotalWeight() Weight { return s.total }

// IsFaulty reports whether the validator at idx has been marked Faulty
// (by equivocation or a pre-era ban).
func (s *Set) IsFaulty(idx Index) bool {
	if !s.Contains(idx) {
		return false
	}
	return s.byIndex[idx].faulty
}

// IsBanned reports whether the validator at idx was excluded from the era at
// construction time.
func (s *Set) IsBanned(idx Index) bool {
	if !s.Contains(idx) {
		return false
	}
	return s.byIndex[idx].banned
}

// MarkFaulty records that the validator at idx has been caught equivocating.
// Idempotent.
func (s *Set) MarkFaulty(idx Index) {
	if s.Contains(idx) {
		s.byIndex[idx].faulty = true
	}
}

// FaultyWeight returns the combined weight of every validator currently
// marked Faulty.
func (s *Set) FaultyWeight() Weight {
	var w Weight
	for _, e := range s.byIndex {
		if e.faulty {
			w += e.weight
		}
	}
	return w
}

// HonestWeight returns TotalWeight minus FaultyWeight.
func (s *Set) HonestWeight() Weight {
	return s.total - s.FaultyWeight()
}

// Clone returns an independent copy of the set, including its current
// fault/ban flags. Each validator in a simulated network should hold its
// own Set rather than share one: fault flags are a locally observed
// conclusion (from equivocation evidence that validator has itself
// verified), not shared mutable global state.
func (s *Set) Clone() *Set {
	out := &Set{
		byIndex: make([]entry, len(s.byIndex)),
		byID:    make(map[capability.ValidatorID]Index, len(s.byID)),
		total:   s.total,
	}
	copy(out.byIndex, s.byIndex)
	for id, idx := range s.byID {
		out.byID[id] = idx
	}
	return out
}

// Enumerate calls fn for every validator in index order.
func (s *Set) Enumerate(fn func(idx Index, id capability.ValidatorID, w Weight, faulty bool)) {
	for i, e := range s.byIndex {
		fn(Index(i), e.id, e.weight, e.faulty)
	}
}
