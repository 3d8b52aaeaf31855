// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package capability defines the pluggable cryptographic and domain-value
// interfaces the consensus core is written against. The core never imports
// a concrete signature scheme or hash function directly; it is handed a
// Context at era construction and calls back into it. This keeps signing
// and signature verification external collaborators, as required by the
// protocol scope: the core only ever consumes the *result* of verification.
package capability

import "github.com/luxfi/ids"

// Hash identifies a unit, a piece of evidence, or a consensus value by its
// canonical content digest.
type Hash = ids.ID

// ValidatorID is an opaque, comparable identity for a validator, stable for
// the lifetime of an era.
type ValidatorID = ids.NodeID

// Signature is an opaque signature over a Hash. Its scheme is defined by
// whatever Verifier/Signer implementation the deployment plugs in.
type Signature []byte

// Value is the accessor surface the core needs from a proposed consensus
// value (a block) without understanding its payload. Implementations live
// entirely outside the core.
type Value interface {
	// Hash is the content hash of this value, used to identify it when the
	// core asks the reactor to validate it out of band.
	Hash() Hash
	// Parent is the hash of the value this one builds on, or the zero hash
	// for the era's first block.
	Parent() Hash
	// Timestamp is the value's own declared timestamp, checked against the
	// timestamp of the unit that proposes it.
	Timestamp() int64
}

// Verifier checks a signature over a hash, given the claimed signer's
// public key material. It must be a pure function: no side effects, no
// network calls, safe to call from within State.Validate.
type Verifier interface {
	Verify(pubKey []byte, h Hash, sig Signature) bool
}

// Signer produces a signature over a hash using a secret held outside the
// core. Only ActiveValidator calls this; State and FinalityDetector never
// sign anything.
type Signer interface {
	Sign(secret []byte, h Hash) (Signature, error)
}

// Hasher computes the canonical, domain-separated content hash of a unit's
// wire bytes or of an opaque consensus value's bytes.
type Hasher interface {
	HashUnitBytes(canonicalBytes []byte) Hash
	HashValueBytes(canonicalBytes []byte) Hash
	HashEvidenceBytes(canonicalBytes []byte) Hash
}

// Context bundles everything the core needs from its embedding environment:
// hashing, signature verification/production, and consensus-value accessors.
// One Context is constructed per era and shared by State, ActiveValidator,
// and the Driver.
type Context interface {
	Hasher
	Verifier
	Signer
}
