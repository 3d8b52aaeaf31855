// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package state implements the causal-history DAG of units: structural and
// semantic validation, equivocation detection, and the weighted fork-choice
// rule that picks the current head block. It is the one component every
// other package in this module (activevalidator, finality, synchronizer,
// driver) is built on top of.
package state

import (
	"bytes"

	"github.com/mcdee/casper-node/capability"
	"github.com/mcdee/casper-node/panorama"
	"github.com/mcdee/casper-node/unit"
	"github.com/mcdee/casper-node/validator"
)

// Params bundles the era-scoped constants State needs to validate units.
type Params struct {
	InstanceID   []byte
	MinRoundExp  uint8
	MaxRoundExp  uint8
	MaxTimestampSkew int64 // units with Timestamp() further than this into the future are rejected
}

// State is the DAG: every unit seen so far, indexed by hash, plus the
// running panorama of "latest known unit per validator" and the set of
// equivocations discovered along the way.
type State struct {
	validators *validator.Set
	ctx        capability.Context
	params     Params

	units     map[capability.Hash]*unit.StoredUnit
	panorama  panorama.Panorama
	evidence  map[validator.Index]*unit.Evidence
	// seqHash remembers, per creator, the hash stored at each sequence
	// number we've accepted, so a second unit at the same seq number is
	// recognized as an equivocation instead of silently overwritten.
	seqHash map[validator.Index]map[uint64]capability.Hash
}

// New constructs an empty State for the given validator set.
func New(validators *validator.Set, ctx capability.Context, params Params) *State {
	return &State{
		validators: validators,
		ctx:        ctx,
		params:     params,
		units:      make(map[capability.Hash]*unit.StoredUnit),
		panorama:   panorama.New(validators.Len()),
		evidence:   make(map[validator.Index]*unit.Evidence),
		seqHash:    make(map[validator.Index]map[uint64]capability.Hash),
	}
}

// Panorama returns the current overall panorama (the join of every unit's
// own panorama plus every unit itself), i.e. the DAG's latest-known view.
func (s *State) Panorama() panorama.Panorama { return s.panorama.Clone() }

// HasUnit reports whether a unit with this hash has already been added.
func (s *State) HasUnit(h capability.Hash) bool {
	_, ok := s.units[h]
	return ok
}

// WireUnit returns the stored unit for h, if present.
func (s *State) WireUnit(h capability.Hash) (*unit.StoredUnit, bool) {
	su, ok := s.units[h]
	return su, ok
}

// IsFaulty reports whether idx has been marked faulty (equivocation
// evidence recorded).
func (s *State) IsFaulty(idx validator.Index) bool {
	return s.validators.IsFaulty(idx)
}

// MaybeEvidence returns the recorded equivocation evidence for idx, if any.
func (s *State) MaybeEvidence(idx validator.Index) (*unit.Evidence, bool) {
	e, ok := s.evidence[idx]
	return e, ok
}

// --- AncestorLookup, for panorama.Merge/Cutoff/Sees ---

// SelfPredecessor implements panorama.AncestorLookup.
func (s *State) SelfPredecessor(h capability.Hash) (capability.Hash, bool) {
	su, ok := s.units[h]
	if !ok {
		return capability.Hash{}, false
	}
	return su.SelfPredecessor()
}

// Timestamp implements panorama.AncestorLookup.
func (s *State) Timestamp(h capability.Hash) (int64, bool) {
	su, ok := s.units[h]
	if !ok {
		return 0, false
	}
	return su.Signed.Wire.Timestamp, true
}

// Sees implements panorama.AncestorLookup: does the unit at `from`
// transitively cite `target`, either because they share a creator (walked
// via the skip-list) or because from's own cited panorama already names a
// descendant of target from target's creator.
func (s *State) Sees(from, target capability.Hash) bool {
	if from == target {
		return true
	}
	cur, ok := s.units[from]
	if !ok {
		return false
	}
	tgt, ok := s.units[target]
	if !ok {
		return false
	}
	targetCreator := tgt.Signed.Wire.Creator
	if cur.Signed.Wire.Creator == targetCreator {
		return s.seesSameCreator(from, target)
	}
	obs := cur.Signed.Wire.Panorama.Get(targetCreator)
	if !obs.IsCorrect() {
		return false
	}
	if obs.Hash == target {
		return true
	}
	return s.seesSameCreator(obs.Hash, target)
}

// seesSameCreator walks the skip-list from `from` toward `target`, both
// known to share a creator, stepping down in sequence number until target
// is reached or passed.
func (s *State) seesSameCreator(from, target capability.Hash) bool {
	tgt, ok := s.units[target]
	if !ok {
		return false
	}
	h := from
	for {
		su, ok := s.units[h]
		if !ok {
			return false
		}
		if h == target {
			return true
		}
		if su.Signed.Wire.SeqNumber < tgt.Signed.Wire.SeqNumber {
			return false
		}
		next, ok := bestSkipHop(su, tgt.Signed.Wire.SeqNumber)
		if !ok {
			return false
		}
		h = next
	}
}

// bestSkipHop finds the furthest skip-list entry of su that does not
// overshoot targetSeq, mirroring the Rust skip-list descent in Vote::new's
// companion walk.
func bestSkipHop(su *unit.StoredUnit, targetSeq uint64) (capability.Hash, bool) {
	seq := su.Signed.Wire.SeqNumber
	for i := len(su.SkipIdx) - 1; i >= 0; i-- {
		step := uint64(1) << uint(i)
		if step > seq {
			continue
		}
		if seq-step >= targetSeq {
			return su.SkipIdx[i], true
		}
	}
	return capability.Hash{}, false
}

// MissingDependencies returns the hashes this unit cites (via its panorama)
// that State has not yet seen, in validator-index order. The synchronizer
// uses this to decide whether a vertex can be added yet.
func (s *State) MissingDependencies(w *unit.WireUnit) []capability.Hash {
	var missing []capability.Hash
	w.Panorama.EnumerateCorrect(func(_ validator.Index, h capability.Hash) {
		if !s.HasUnit(h) {
			missing = append(missing, h)
		}
	})
	return missing
}

// PreValidate performs the stateless checks spec.md §7 groups under
// "pre_validate": signature, instance id, round exponent bounds, and basic
// sequence-number sanity, none of which require consulting the DAG.
func (s *State) PreValidate(su unit.SignedUnit, h capability.Hash, pubKey []byte) error {
	w := su.Wire
	if !bytes.Equal(w.InstanceID, s.params.InstanceID) {
		return newPreValidationError(PreValidationWrongInstanceID, "state: unit instance id mismatch")
	}
	if w.RoundExp < s.params.MinRoundExp || w.RoundExp > s.params.MaxRoundExp {
		return newPreValidationError(PreValidationRoundExpOutOfRange, "state: round exponent out of configured range")
	}
	if int(w.Creator) >= s.validators.Len() {
		return newPreValidationError(PreValidationMalformed, "state: unknown creator index")
	}
	if w.SeqNumber == 0 && w.Panorama.Get(w.Creator).IsCorrect() {
		return newPreValidationError(PreValidationImpossibleSeqNumber, "state: seq 0 unit cites a self-predecessor")
	}
	if !unit.Verify(su, h, pubKey, s.ctx) {
		return newPreValidationError(PreValidationBadSignature, "state: signature verification failed")
	}
	return nil
}

// Validate performs the semantic checks that require the unit's cited
// dependencies to already be present in the DAG: sequence-number
// continuity, timestamp monotonicity against citations, and round-exponent
// non-regression. Proposals get the same checks as every other unit; their
// panorama is not checked against the creator's previous round.
func (s *State) Validate(su unit.SignedUnit, h capability.Hash, now int64) error {
	w := su.Wire

	if missing := s.MissingDependencies(&w); len(missing) > 0 {
		return newValidationError(ValidationMissingDependency, "state: unit cites unknown dependency")
	}

	if w.Timestamp > now+s.params.MaxTimestampSkew {
		return newValidationError(ValidationTimestampTooFarFuture, "state: unit timestamp too far in the future")
	}

	selfObs := w.Panorama.Get(w.Creator)
	switch {
	case w.SeqNumber == 0:
		if selfObs.IsCorrect() {
			return newValidationError(ValidationSeqNumberMismatch, "state: seq 0 unit cites a self-predecessor")
		}
	default:
		prevHash, ok := selfObs.CorrectHash()
		if !ok {
			return newValidationError(ValidationSeqNumberMismatch, "state: non-zero seq unit has no self-predecessor")
		}
		prev, ok := s.units[prevHash]
		if !ok {
			return newValidationError(ValidationMissingDependency, "state: self-predecessor not found")
		}
		if prev.Signed.Wire.SeqNumber+1 != w.SeqNumber {
			return newValidationError(ValidationSeqNumberMismatch, "state: seq number does not follow predecessor")
		}
		if w.Timestamp < prev.Signed.Wire.Timestamp {
			return newValidationError(ValidationTimestampBeforeCitation, "state: timestamp precedes self-predecessor")
		}
		if w.RoundExp < prev.Signed.Wire.RoundExp && !roundExpDecreaseAllowed(prev.Signed.Wire, w) {
			return newValidationError(ValidationRoundExpRegression, "state: round exponent decreased without completing a round")
		}
	}

	for idx := validator.Index(0); int(idx) < len(w.Panorama); idx++ {
		o := w.Panorama.Get(idx)
		if !o.IsCorrect() {
			continue
		}
		cited, ok := s.units[o.Hash]
		if !ok {
			return newValidationError(ValidationMissingDependency, "state: cited unit not found")
		}
		if cited.Signed.Wire.Timestamp > w.Timestamp {
			return newValidationError(ValidationTimestampBeforeCitation, "state: cites a unit from the future")
		}
	}

	return nil
}

// roundExpDecreaseAllowed permits a validator to move to a smaller (faster)
// round exponent only once it has crossed the boundary of the round it was
// previously in, matching the round-length semantics in spec.md §4.4: a
// round exponent can shrink only at a round boundary, never mid-round.
func roundExpDecreaseAllowed(prev, next unit.WireUnit) bool {
	prevRoundLen := int64(1) << prev.RoundExp
	prevRoundID := (prev.Timestamp >> prev.RoundExp) << prev.RoundExp
	return next.Timestamp >= prevRoundID+prevRoundLen
}

// AddValid inserts a unit already accepted by PreValidate and Validate into
// the DAG, updating the running panorama, the skip-list, the fork-choice
// block pointer, and detecting equivocation against any unit previously
// seen at the same (creator, seq number).
//
// value, if non-nil, is the already-decoded consensus value this unit
// proposes; it is nil for confirmations and witnesses.
func (s *State) AddValid(su unit.SignedUnit, h capability.Hash, value capability.Value) (*unit.Evidence, error) {
	if _, ok := s.units[h]; ok {
		return nil, ErrAlreadyPresent
	}
	w := su.Wire

	if perCreator, ok := s.seqHash[w.Creator]; ok {
		if existing, ok := perCreator[w.SeqNumber]; ok && existing != h {
			return s.recordEquivocation(w.Creator, existing, su, h)
		}
	}

	var skip []capability.Hash
	if w.SeqNumber > 0 {
		if prevHash, ok := w.Panorama.Get(w.Creator).CorrectHash(); ok {
			skip = unit.BuildSkipList(w.SeqNumber, prevHash, func(ph capability.Hash, level int) (capability.Hash, bool) {
				prevUnit, ok := s.units[ph]
				if !ok || level >= len(prevUnit.SkipIdx) {
					return capability.Hash{}, false
				}
				return prevUnit.SkipIdx[level], true
			})
		}
	}

	block := h
	var parent capability.Hash
	if w.IsProposal() {
		if value != nil {
			parent = value.Parent()
		}
	} else {
		block = s.forkChoiceFrom(w.Panorama)
	}

	stored := &unit.StoredUnit{Signed: su, Hash: h, Block: block, SkipIdx: skip, Parent: parent, Value: value}
	s.units[h] = stored

	if _, ok := s.seqHash[w.Creator]; !ok {
		s.seqHash[w.Creator] = make(map[uint64]capability.Hash)
	}
	s.seqHash[w.Creator][w.SeqNumber] = h

	merged := panorama.Merge(s.panorama, w.Panorama, s)
	merged.Update(w.Creator, panorama.Observation{Kind: panorama.Correct, Hash: h})
	s.panorama = merged

	return nil, nil
}

// recordEquivocation builds and stores Evidence for creator, marks it
// faulty in the validator set, and poisons its panorama entry.
func (s *State) recordEquivocation(creator validator.Index, firstHash capability.Hash, second unit.SignedUnit, secondHash capability.Hash) (*unit.Evidence, error) {
	first := s.units[firstHash]
	ev := unit.Evidence{Creator: creator, First: first.Signed, Second: second}
	s.evidence[creator] = &ev
	s.validators.MarkFaulty(creator)
	s.panorama.Update(creator, panorama.Observation{Kind: panorama.Faulty})
	return &ev, nil
}

// ForkChoice returns the current head block: the fork-choice descent from
// genesis through the overall panorama.
func (s *State) ForkChoice() capability.Hash {
	return s.forkChoiceFrom(s.panorama)
}

// forkChoiceFrom runs the weighted-GHOST descent described in spec.md §4.2:
// starting from the genesis (zero) block, at each step move to the child
// proposal block maximizing the honest weight of validators whose latest
// known unit votes for it or one of its descendants, breaking ties on the
// lowest block hash. Stop when no cited proposal extends the current block.
func (s *State) forkChoiceFrom(p panorama.Panorama) capability.Hash {
	current := capability.Hash{}
	for {
		weights := make(map[capability.Hash]validator.Weight)
		p.EnumerateCorrect(func(idx validator.Index, h capability.Hash) {
			if s.validators.IsFaulty(idx) {
				return
			}
			child, ok := s.childOnPathFrom(current, s.blockOf(h))
			if !ok {
				return
			}
			weights[child] += s.validators.Weight(idx)
		})
		if len(weights) == 0 {
			return current
		}
		var best capability.Hash
		var bestWeight validator.Weight
		first := true
		for block, weight := range weights {
			if first || weight > bestWeight || (weight == bestWeight && lessHash(block, best)) {
				best, bestWeight, first = block, weight, false
			}
		}
		current = best
	}
}

// blockOf returns the block a stored unit (by hash) votes for.
func (s *State) blockOf(h capability.Hash) capability.Hash {
	su, ok := s.units[h]
	if !ok {
		return capability.Hash{}
	}
	return su.Block
}

// BlockOf implements finality.Lookup: the block a stored unit votes for,
// exported for use outside this package.
func (s *State) BlockOf(h capability.Hash) capability.Hash { return s.blockOf(h) }

// childOnPathFrom walks up the proposal chain from block toward genesis via
// Parent pointers, returning the direct child of current that lies on that
// path. Returns ok=false if block does not descend from current (or equals
// it, in which case there is no child to report).
func (s *State) childOnPathFrom(current, block capability.Hash) (capability.Hash, bool) {
	if block == (capability.Hash{}) || block == current {
		return capability.Hash{}, false
	}
	child := block
	for i := 0; i < len(s.units)+1; i++ {
		parent, ok := s.blockParent(child)
		if !ok {
			return capability.Hash{}, false
		}
		if parent == current {
			return child, true
		}
		child = parent
	}
	return capability.Hash{}, false
}

// blockParent returns the parent block of a proposal block, as recorded on
// the proposing unit at insertion time.
func (s *State) blockParent(block capability.Hash) (capability.Hash, bool) {
	su, ok := s.units[block]
	if !ok || !su.Signed.Wire.IsProposal() {
		return capability.Hash{}, false
	}
	return su.Parent, true
}

func lessHash(a, b capability.Hash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
