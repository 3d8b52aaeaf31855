// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package activevalidator implements the scheduling and unit-creation logic
// of a validator that participates in consensus: round timing, deterministic
// leader election, and the propose/confirm/witness emission a validator
// performs in each round it is scheduled for.
package activevalidator

import (
	"encoding/binary"

	"github.com/mcdee/casper-node/capability"
	"github.com/mcdee/casper-node/panorama"
	"github.com/mcdee/casper-node/unit"
	"github.com/mcdee/casper-node/validator"
)

// RoundLen returns the length, in milliseconds, of a round with the given
// exponent: 2^roundExp, per spec.md §4.4.
func RoundLen(roundExp uint8) int64 { return int64(1) << roundExp }

// RoundID returns the start timestamp of the round containing t, for a
// round of the given exponent: the largest multiple of RoundLen(roundExp)
// not exceeding t.
func RoundID(t int64, roundExp uint8) int64 {
	return (t >> roundExp) << roundExp
}

// WitnessOffset returns the offset, in milliseconds, from the start of a
// round at which witness units are due: two thirds of the way through, so
// witnesses have time to observe the round's confirmations.
func WitnessOffset(roundExp uint8) int64 {
	return RoundLen(roundExp) * 2 / 3
}

// Leader deterministically elects the round's proposer from instanceID,
// eraSeed, and the round's start timestamp, by hashing them together and
// reducing the result modulo the validator set's total weight, then
// scanning cumulative weight in index order. Every honest validator
// computes the same result given the same inputs, without any
// coordination.
func Leader(hasher capability.Hasher, instanceID []byte, eraSeed uint64, roundID int64, validators *validator.Set) validator.Index {
	var buf []byte
	buf = append(buf, instanceID...)
	seedBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(seedBytes, eraSeed)
	buf = append(buf, seedBytes...)
	roundBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(roundBytes, uint64(roundID))
	buf = append(buf, roundBytes...)

	h := hasher.HashValueBytes(buf)
	draw := binary.BigEndian.Uint64(h[:8]) % uint64(validators.TotalWeight())

	var cumulative uint64
	last := validator.Index(0)
	for i := 0; i < validators.Len(); i++ {
		idx := validator.Index(i)
		last = idx
		cumulative += uint64(validators.Weight(idx))
		if draw < cumulative {
			return idx
		}
	}
	return last
}

// Effect is the sum type of actions ActiveValidator asks its caller (the
// driver) to perform, mirroring the Rust ActiveValidator::Effect enum:
// either a new unit was produced and must be hashed, signed, and gossiped,
// or a timer needs to be (re)scheduled.
type Effect struct {
	NewVote       *unit.WireUnit
	ScheduleTimer int64 // absolute timestamp, valid when non-zero and NewVote is nil
}

// State is a validator's own participation state: the secret it signs
// with, its dense index, and the last unit hash it produced, used as the
// self-panorama entry (and sequence-number base) for its next unit. The
// embedding binary may persist and reload that hash (see the persistence
// package); State never compares it against the DAG before signing.
type State struct {
	Index  validator.Index
	Secret []byte
	// LastHash and LastSeq describe the last unit this validator itself
	// produced, seeded from the persisted unit-hash file at startup.
	LastHash    capability.Hash
	LastSeq     uint64
	HasLastHash bool
	instanceID  []byte
	eraSeed     uint64
}

// NewState constructs a validator's own participation state. lastHash/
// lastSeq/hasLastHash should be loaded from the persisted unit-hash file,
// or zero values for a validator joining a fresh era.
func NewState(idx validator.Index, secret []byte, instanceID []byte, eraSeed uint64, lastHash capability.Hash, lastSeq uint64, hasLastHash bool) *State {
	return &State{
		Index: idx, Secret: secret, instanceID: instanceID, eraSeed: eraSeed,
		LastHash: lastHash, LastSeq: lastSeq, HasLastHash: hasLastHash,
	}
}

// IsLeader reports whether this validator is the elected proposer for the
// round starting at roundID.
func (s *State) IsLeader(hasher capability.Hasher, roundID int64, validators *validator.Set) bool {
	return Leader(hasher, s.instanceID, s.eraSeed, roundID, validators) == s.Index
}

// Leader returns the elected proposer's index for the round starting at
// roundID, using this validator's own instanceID/eraSeed. Exposed so a
// caller can check some other creator's claim to leadership, not just its
// own (e.g. whether a received proposal actually came from this round's
// leader), without reaching into unexported era parameters.
func (s *State) Leader(hasher capability.Hasher, roundID int64, validators *validator.Set) validator.Index {
	return Leader(hasher, s.instanceID, s.eraSeed, roundID, validators)
}

// CreateProposal builds and signs a new proposal unit citing currentPano,
// carrying valueBytes (the canonical bytes of the proposed consensus
// value).
func (s *State) CreateProposal(ctx capability.Context, currentPano panorama.Panorama, timestamp int64, roundExp uint8, valueBytes []byte) (unit.SignedUnit, capability.Hash, error) {
	return s.createUnit(ctx, currentPano, timestamp, roundExp, valueBytes)
}

// CreateWitness builds and signs a non-proposal unit (confirmation or
// witness) citing currentPano.
func (s *State) CreateWitness(ctx capability.Context, currentPano panorama.Panorama, timestamp int64, roundExp uint8) (unit.SignedUnit, capability.Hash, error) {
	return s.createUnit(ctx, currentPano, timestamp, roundExp, nil)
}

func (s *State) createUnit(ctx capability.Context, currentPano panorama.Panorama, timestamp int64, roundExp uint8, valueBytes []byte) (unit.SignedUnit, capability.Hash, error) {
	pano := currentPano.Clone()
	if s.HasLastHash {
		pano.Update(s.Index, panorama.Observation{Kind: panorama.Correct, Hash: s.LastHash})
	}
	seq := uint64(0)
	if s.HasLastHash {
		seq = s.LastSeq + 1
	}
	w := unit.WireUnit{
		Creator:    s.Index,
		Panorama:   pano,
		SeqNumber:  seq,
		Timestamp:  timestamp,
		RoundExp:   roundExp,
		Value:      valueBytes,
		InstanceID: s.instanceID,
	}
	su, h, err := unit.Sign(w, ctx, s.Secret)
	if err != nil {
		return unit.SignedUnit{}, capability.Hash{}, err
	}
	s.LastHash, s.LastSeq, s.HasLastHash = h, seq, true
	return su, h, nil
}

// CreatePing builds a heartbeat unit: structurally a witness, with its
// Ping flag set. Nothing in state or driver reads the flag, so a ping
// added to the DAG updates the panorama, and counts as progress for the
// driver's standstill check, like any other unit.
func (s *State) CreatePing(ctx capability.Context, currentPano panorama.Panorama, timestamp int64, roundExp uint8) (unit.SignedUnit, capability.Hash, error) {
	su, h, err := s.CreateWitness(ctx, currentPano, timestamp, roundExp)
	if err != nil {
		return su, h, err
	}
	su.Ping = true
	return su, h, nil
}
