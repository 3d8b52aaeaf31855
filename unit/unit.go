// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package unit defines the vertex type of the Highway DAG: the immutable,
// signed WireUnit a validator emits in each round, its on-disk/in-memory
// StoredUnit form (with derived fork-choice block and skip-list), and the
// Evidence record produced when two units from the same creator at the same
// sequence number disagree.
package unit

import (
	"github.com/mcdee/casper-node/capability"
	"github.com/mcdee/casper-node/panorama"
	"github.com/mcdee/casper-node/validator"
	"github.com/mcdee/casper-node/wire"
)

// MaxRoundExp is the largest round exponent a unit may declare (spec.md §3:
// "round_exp: u8 (<= 63)").
const MaxRoundExp = 63

// WireUnit is the immutable record a validator signs. A unit with Value set
// is a proposal; a unit with no value is a confirmation or a witness,
// distinguished only by its timestamp's position within the round.
type WireUnit struct {
	Creator     validator.Index     `cbor:"1,keyasint"`
	Panorama    panorama.Panorama   `cbor:"2,keyasint"`
	SeqNumber   uint64              `cbor:"3,keyasint"`
	Timestamp   int64               `cbor:"4,keyasint"`
	RoundExp    uint8               `cbor:"5,keyasint"`
	Value       []byte              `cbor:"6,keyasint,omitempty"` // canonical bytes of a capability.Value; nil for non-proposals
	InstanceID  []byte              `cbor:"7,keyasint"`
	Endorsed    []capability.Hash   `cbor:"8,keyasint,omitempty"`
}

// IsProposal reports whether this unit carries a consensus value.
func (u *WireUnit) IsProposal() bool { return len(u.Value) > 0 }

// SignedUnit wraps a WireUnit with the signature over its canonical bytes.
// Ping marks a unit as a heartbeat: structurally identical to a witness,
// set by activevalidator.CreatePing. It is not covered by the unit hash.
// The driver never creates pings (while paused it produces no units), and
// state.AddValid treats a ping like any other unit.
type SignedUnit struct {
	Wire      WireUnit          `cbor:"1,keyasint"`
	Signature capability.Signature `cbor:"2,keyasint"`
	Ping      bool              `cbor:"3,keyasint,omitempty"`
}

// CanonicalBytes returns the deterministic encoding of the wire unit that
// both the hash and the signature cover.
func (u *WireUnit) CanonicalBytes() ([]byte, error) {
	return wire.Marshal(u)
}

// Hash returns the domain-separated content hash of this unit, using the
// supplied Hasher.
func (u *WireUnit) Hash(h capability.Hasher) (capability.Hash, error) {
	b, err := u.CanonicalBytes()
	if err != nil {
		return capability.Hash{}, err
	}
	return h.HashUnitBytes(b), nil
}

// Sign produces a SignedUnit by hashing and signing the wire unit.
func Sign(w WireUnit, ctx capability.Context, secret []byte) (SignedUnit, capability.Hash, error) {
	h, err := w.Hash(ctx)
	if err != nil {
		return SignedUnit{}, capability.Hash{}, err
	}
	sig, err := ctx.Sign(secret, h)
	if err != nil {
		return SignedUnit{}, capability.Hash{}, err
	}
	return SignedUnit{Wire: w, Signature: sig}, h, nil
}

// Verify checks the signature on a SignedUnit against the claimed creator's
// public key, for the supplied content hash.
func Verify(su SignedUnit, h capability.Hash, pubKey []byte, ctx capability.Verifier) bool {
	return ctx.Verify(pubKey, h, su.Signature)
}

// StoredUnit is the wire unit plus data derived once at insertion time: the
// block this unit votes for (itself, if a proposal; otherwise the fork
// choice of its panorama) and a skip-list of prior self-units for O(log n)
// ancestor lookup.
type StoredUnit struct {
	Signed  SignedUnit
	Hash    capability.Hash
	Block   capability.Hash
	SkipIdx []capability.Hash // SkipIdx[i] = hash of the self-unit at SeqNumber - (1<<i)
	// Parent is the block this unit's value builds on (capability.Value's
	// Parent()), meaningful only when Signed.Wire.IsProposal() is true. The
	// zero hash means this proposal extends genesis.
	Parent capability.Hash
	// Value is the decoded consensus value this unit proposes, set only for
	// proposals once the reactor has confirmed it out of band (see
	// state.State.AddValid); nil for confirmations and witnesses.
	Value capability.Value
}

// SelfPredecessor returns the immediately preceding self-unit, i.e.
// SkipIdx[0], if any.
func (s *StoredUnit) SelfPredecessor() (capability.Hash, bool) {
	if len(s.SkipIdx) == 0 {
		return capability.Hash{}, false
	}
	return s.SkipIdx[0], true
}

// BuildSkipList constructs the skip-list for a new unit at seqNumber whose
// own-panorama predecessor is prevHash (the creator's previous self-unit),
// given a lookup of an already-stored unit's own skip-list.
//
// For every i such that 2^i divides seqNumber, entry i points to the older
// self-unit at seqNumber - 2^i. Entry 0 is always prevHash itself (since
// 2^0 == 1 always divides). This mirrors the Rust `Vote::new` construction,
// which walks `skip_idx` of the previous vote one level at a time.
func BuildSkipList(seqNumber uint64, prevHash capability.Hash, prevSkipIdx func(h capability.Hash, level int) (capability.Hash, bool)) []capability.Hash {
	if seqNumber == 0 {
		return nil
	}
	skip := []capability.Hash{prevHash}
	trailingZeros := trailingZeros64(seqNumber)
	for i := 0; i < trailingZeros; i++ {
		h, ok := prevSkipIdx(skip[i], i)
		if !ok {
			break
		}
		skip = append(skip, h)
	}
	return skip
}

func trailingZeros64(x uint64) int {
	if x == 0 {
		return 64
	}
	n := 0
	for x&1 == 0 {
		n++
		x >>= 1
	}
	return n
}

// Evidence is proof that a validator equivocated: two signed units from the
// same creator with the same sequence number but distinct hashes.
type Evidence struct {
	Creator validator.Index `cbor:"1,keyasint"`
	First   SignedUnit      `cbor:"2,keyasint"`
	Second  SignedUnit      `cbor:"3,keyasint"`
}

// Hash returns the content hash of this evidence record.
func (e Evidence) Hash(h capability.Hasher) (capability.Hash, error) {
	b, err := wire.Marshal(e)
	if err != nil {
		return capability.Hash{}, err
	}
	return h.HashEvidenceBytes(b), nil
}
