// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package panorama implements the per-validator observation vector: for
// each validator index, whether we have never seen a unit from them, seen a
// consistent chain of units (and know the latest one), or caught them
// equivocating.
package panorama

import (
	"github.com/mcdee/casper-node/capability"
	"github.com/mcdee/casper-node/validator"
)

// Kind tags the variant of an Observation.
type Kind uint8

const (
	// None: no unit by this validator has ever been observed.
	None Kind = iota
	// Correct: the validator's latest known unit, with no equivocation seen.
	Correct
	// Faulty: two conflicting units (or endorsements) from this validator
	// have been observed; evidence is recorded in State.
	Faulty
)

// Observation is one validator's entry in a Panorama.
type Observation struct {
	Kind Kind
	Hash capability.Hash // meaningful only when Kind == Correct
}

// IsCorrect reports whether this is a Correct(hash) observation.
func (o Observation) IsCorrect() bool { return o.Kind == Correct }

// IsFaulty reports whether this is a Faulty observation.
func (o Observation) IsFaulty() bool { return o.Kind == Faulty }

// CorrectHash returns the observed hash and true, if this is Correct.
func (o Observation) CorrectHash() (capability.Hash, bool) {
	if o.Kind != Correct {
		return capability.Hash{}, false
	}
	return o.Hash, true
}

// Panorama is the fixed-length vector of Observations, one per validator
// index, that a validator cites when signing a unit. It is also maintained
// by State as the DAG's "current view" of the world.
type Panorama []Observation

// New returns an empty Panorama (every entry None) sized for n validators.
func New(n int) Panorama {
	return make(Panorama, n)
}

// Get returns the observation for validator idx. Panics if idx is out of
// range; the caller must bound-check against the validator set first.
func (p Panorama) Get(idx validator.Index) Observation {
	return p[idx]
}

// Update sets the observation for validator idx, in place.
func (p Panorama) Update(idx validator.Index, obs Observation) {
	p[idx] = obs
}

// IsEmpty reports whether every entry is None, i.e. this panorama has never
// observed a unit from anyone.
func (p Panorama) IsEmpty() bool {
	for _, o := range p {
		if o.Kind != None {
			return false
		}
	}
	return true
}

// Clone returns an independent copy of p.
func (p Panorama) Clone() Panorama {
	c := make(Panorama, len(p))
	copy(c, p)
	return c
}

// EnumerateCorrect calls fn for every Correct entry, in validator-index
// order.
func (p Panorama) EnumerateCorrect(fn func(idx validator.Index, h capability.Hash)) {
	for i, o := range p {
		if o.Kind == Correct {
			fn(validator.Index(i), o.Hash)
		}
	}
}

// AncestorLookup is the capability Panorama needs from State to walk a
// validator's chain of self-units: given a unit hash, return its timestamp
// and its creator's previous unit (its self-predecessor), or ok=false if
// the hash is unknown.
type AncestorLookup interface {
	SelfPredecessor(h capability.Hash) (capability.Hash, bool)
	Timestamp(h capability.Hash) (int64, bool)
	// Sees reports whether the unit at `from` transitively cites `target`,
	// via cited panoramas and the stored skip-list (see unit.StoredUnit).
	Sees(from, target capability.Hash) bool
}

// Merge computes the componentwise lattice join of a and b: Faulty beats
// any Correct or None; between two Corrects, the one that transitively
// cites the other (is "ahead") wins; if neither cites the other this is an
// equivocation the caller (State) must detect separately — Merge itself
// just picks the lexicographically smaller hash in that degenerate case,
// since by construction callers only merge panoramas that already passed
// equivocation checks.
func Merge(a, b Panorama, look AncestorLookup) Panorama {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	out := make(Panorama, n)
	for i := 0; i < n; i++ {
		var oa, ob Observation
		if i < len(a) {
			oa = a[i]
		}
		if i < len(b) {
			ob = b[i]
		}
		out[i] = mergeOne(oa, ob, look)
	}
	return out
}

func mergeOne(a, b Observation, look AncestorLookup) Observation {
	switch {
	case a.Kind == Faulty || b.Kind == Faulty:
		return Observation{Kind: Faulty}
	case a.Kind == None && b.Kind == None:
		return Observation{Kind: None}
	case a.Kind == None:
		return b
	case b.Kind == None:
		return a
	case a.Hash == b.Hash:
		return a
	case look != nil && look.Sees(a.Hash, b.Hash):
		return a
	case look != nil && look.Sees(b.Hash, a.Hash):
		return b
	default:
		// Neither cites the other: this is only reachable if the creator
		// equivocated between a.Hash and b.Hash. State detects and records
		// the equivocation on insertion; here we deterministically prefer
		// the lexicographically smaller hash so merge stays associative
		// and commutative even before that detection runs.
		if lessHash(a.Hash, b.Hash) {
			return a
		}
		return b
	}
}

func lessHash(a, b capability.Hash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// Cutoff replaces each Correct(h) entry with the latest self-ancestor of h
// whose timestamp is <= t, possibly downgrading the entry to None if even
// the earliest self-unit postdates t. Used to build a witness panorama that
// only reflects what was knowable at time t.
func Cutoff(p Panorama, look AncestorLookup, t int64) Panorama {
	out := p.Clone()
	for i, o := range p {
		if o.Kind != Correct {
			continue
		}
		h := o.Hash
		for {
			ts, ok := look.Timestamp(h)
			if !ok {
				out[i] = Observation{Kind: None}
				break
			}
			if ts <= t {
				out[i] = Observation{Kind: Correct, Hash: h}
				break
			}
			pred, ok := look.SelfPredecessor(h)
			if !ok {
				out[i] = Observation{Kind: None}
				break
			}
			h = pred
		}
	}
	return out
}

// SeesCorrect reports whether any Correct entry in p transitively cites h.
func SeesCorrect(p Panorama, look AncestorLookup, h capability.Hash) bool {
	for _, o := range p {
		if o.Kind != Correct {
			continue
		}
		if o.Hash == h || look.Sees(o.Hash, h) {
			return true
		}
	}
	return false
}

// GreaterOrEqual reports whether a >= b: for every validator index, either
// a is Faulty, or b is None, or both are Correct with a's unit
// transitively citing b's unit (or being equal to it).
func GreaterOrEqual(a, b Panorama, look AncestorLookup) bool {
	n := len(b)
	for i := 0; i < n; i++ {
		var oa Observation
		if i < len(a) {
			oa = a[i]
		}
		ob := b[i]
		switch {
		case oa.Kind == Faulty:
			continue
		case ob.Kind == None:
			continue
		case oa.Kind == Correct && ob.Kind == Correct:
			if oa.Hash == ob.Hash || look.Sees(oa.Hash, ob.Hash) {
				continue
			}
			return false
		default:
			return false
		}
	}
	return true
}
