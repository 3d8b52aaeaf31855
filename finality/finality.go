// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package finality implements summit detection: the recursive,
// layered-quorum agreement check that tells the driver how many levels of
// confirmation a fork-choice block has accumulated, and therefore whether
// it (and its ancestors) can be reported as finalized. It also tracks the
// era's fault-tolerance budget and raises FttExceeded once observed
// equivocating weight threatens the safety margin the configured quorum
// was sized for.
package finality

import (
	"github.com/mcdee/casper-node/capability"
	"github.com/mcdee/casper-node/panorama"
	"github.com/mcdee/casper-node/validator"
)

// Lookup is the capability Detector needs from State: the
// panorama.AncestorLookup methods (including the "sees" relation used to
// recurse through committee agreement) plus the block each unit votes for.
type Lookup interface {
	panorama.AncestorLookup
	BlockOf(h capability.Hash) capability.Hash
}

// Params configures the detector for one era.
type Params struct {
	// FTT is the fault-tolerance threshold: the maximum honest-weight
	// fraction of Byzantine validators the era's quorum size was chosen to
	// tolerate, expressed directly in weight units (not a fraction) so it
	// can be compared against validator.Set.FaultyWeight without floating
	// point.
	FTT validator.Weight
}

// Detector computes summit levels against a validator set and a DAG
// lookup. It is stateless beyond its configuration; all working state
// (the DAG, the panorama) is supplied per call.
type Detector struct {
	validators *validator.Set
	params     Params
}

// New constructs a Detector for the given validator set and parameters.
func New(validators *validator.Set, params Params) *Detector {
	return &Detector{validators: validators, params: params}
}

// quorum returns the minimum honest weight a committee must hold to count
// as a quorum: strictly more than half of (total - FTT), which is the
// largest committee size an adversary controlling up to FTT weight cannot
// prevent from existing, matching the BFT quorum-intersection argument
// spec.md §4.5 requires.
func (d *Detector) quorum() validator.Weight {
	safe := d.validators.TotalWeight() - d.params.FTT
	return safe/2 + 1
}

// Level returns the summit level achieved by block, the highest L such
// that a sequence of shrinking committees C_0 ⊇ ... ⊇ C_L exists where
// C_0 is every honest validator whose latest known unit sees block, each
// C_i holds at least quorum weight, and membership in C_{i+1} requires a
// validator's own latest unit to transitively see that a quorum of C_i's
// members have themselves reached level i (i.e. each level is a layer of
// "the quorum agrees that the quorum agrees... that block is final").
func (d *Detector) Level(look Lookup, pano panorama.Panorama, block capability.Hash) int {
	committee := d.seesBlock(look, pano, block)
	if d.committeeWeight(committee) < d.quorum() {
		return 0
	}

	level := 0
	for {
		next := d.refine(look, committee)
		if d.committeeWeight(next) < d.quorum() || len(next) == len(committee) && sameCommittee(next, committee) {
			if len(next) == len(committee) && sameCommittee(next, committee) {
				// Stable: the committee can no longer shrink, so this level
				// is the summit's ceiling — one more than the levels
				// already confirmed by virtue of being in committee at all.
				return level + 1
			}
			return level
		}
		committee = next
		level++
	}
}

// seesBlock returns, per validator index, whether that validator's latest
// known unit (per pano) transitively votes for block or a descendant.
func (d *Detector) seesBlock(look Lookup, pano panorama.Panorama, block capability.Hash) map[validator.Index]capability.Hash {
	committee := make(map[validator.Index]capability.Hash)
	pano.EnumerateCorrect(func(idx validator.Index, h capability.Hash) {
		if d.validators.IsFaulty(idx) {
			return
		}
		votedBlock := look.BlockOf(h)
		if votedBlock == block || isDescendant(look, votedBlock, block) {
			committee[idx] = h
		}
	})
	return committee
}

// isDescendant reports whether votedBlock is block itself or was proposed
// citing a panorama that sees block, using the DAG's Sees relation on the
// proposal units directly (proposal unit hashes equal their own block
// hash, see unit.StoredUnit.Block).
func isDescendant(look Lookup, votedBlock, block capability.Hash) bool {
	if votedBlock == block {
		return true
	}
	if block == (capability.Hash{}) {
		return true // everything descends from genesis
	}
	return look.Sees(votedBlock, block)
}

// refine computes the next, possibly smaller, committee: validators whose
// latest unit sees that at least a quorum's worth of the current
// committee's latest units have been cited.
func (d *Detector) refine(look Lookup, committee map[validator.Index]capability.Hash) map[validator.Index]capability.Hash {
	next := make(map[validator.Index]capability.Hash, len(committee))
	for idx, h := range committee {
		seenWeight := d.weightSeenBy(look, h, committee)
		if seenWeight >= d.quorum() {
			next[idx] = h
		}
	}
	return next
}

func (d *Detector) weightSeenBy(look Lookup, from capability.Hash, committee map[validator.Index]capability.Hash) validator.Weight {
	var w validator.Weight
	for idx, h := range committee {
		if from == h || look.Sees(from, h) {
			w += d.validators.Weight(idx)
		}
	}
	return w
}

func (d *Detector) committeeWeight(committee map[validator.Index]capability.Hash) validator.Weight {
	var w validator.Weight
	for idx := range committee {
		w += d.validators.Weight(idx)
	}
	return w
}

func sameCommittee(a, b map[validator.Index]capability.Hash) bool {
	if len(a) != len(b) {
		return false
	}
	for idx, h := range a {
		if bh, ok := b[idx]; !ok || bh != h {
			return false
		}
	}
	return true
}

// FttExceeded reports whether the validator set's currently observed
// faulty weight has grown large enough that the quorum this era was
// configured with no longer guarantees safety: once faulty weight exceeds
// FTT, two disjoint quorums could both appear to finalize conflicting
// blocks. Faulty weight equal to FTT is still within the configured
// tolerance (see DESIGN.md's Open Question decisions).
func (d *Detector) FttExceeded() bool {
	return d.validators.FaultyWeight() > d.params.FTT
}

// FinalizedBlock is the payload the driver attaches to an
// OutcomeFinalizedBlock outcome (Outcome.Finalized) once a block's summit
// level satisfies the era's finality requirement.
type FinalizedBlock struct {
	Value              capability.Value
	Timestamp          int64
	Height             uint64
	Equivocators       []capability.ValidatorID
	TerminalBlock      bool
	InactiveValidators []capability.ValidatorID
}
