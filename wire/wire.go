// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package wire provides the deterministic, canonical serialization and
// content hashing used throughout the consensus core. All hashes that feed
// a signature, an equivocation check, or a fork-choice comparison are
// produced here, so every implementation that encodes the same value must
// produce the same bytes and the same hash.
package wire

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/luxfi/ids"
	"github.com/zeebo/blake3"
)

// CodecVersion identifies the wire encoding in use, mirroring the teacher's
// codec.CodecVersion tag. Marshal does not write it into the encoded
// bytes, so a receiver cannot read it from a message.
type CodecVersion uint16

// CurrentVersion is the only version this build understands.
const CurrentVersion CodecVersion = 1

var encMode = mustCanonicalEncMode()

func mustCanonicalEncMode() cbor.EncMode {
	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		panic("wire: invalid canonical cbor options: " + err.Error())
	}
	return mode
}

// Marshal encodes v using canonical CBOR: definite-length arrays, sorted
// map keys, minimal integer encoding. Two implementations that agree on the
// struct shape will produce byte-identical output for equal values.
func Marshal(v interface{}) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes canonical CBOR bytes into v.
func Unmarshal(data []byte, v interface{}) error {
	return cbor.Unmarshal(data, v)
}

// Domain separation tags. Each is hashed as a one-byte prefix ahead of the
// canonical bytes so a unit, a consensus value, and an evidence record can
// never collide even if their encodings happen to coincide.
const (
	domainUnit byte = iota + 1
	domainValue
	domainEvidence
)

// HashUnitBytes returns the domain-separated content hash of a unit's
// canonical encoding.
func HashUnitBytes(canonicalBytes []byte) ids.ID {
	return digest(domainUnit, canonicalBytes)
}

// HashValueBytes returns the domain-separated content hash of a consensus
// value's canonical encoding.
func HashValueBytes(canonicalBytes []byte) ids.ID {
	return digest(domainValue, canonicalBytes)
}

// HashEvidenceBytes returns the domain-separated content hash of an
// evidence record's canonical encoding.
func HashEvidenceBytes(canonicalBytes []byte) ids.ID {
	return digest(domainEvidence, canonicalBytes)
}

func digest(domain byte, canonicalBytes []byte) ids.ID {
	h := blake3.New()
	h.Write([]byte{domain})
	h.Write(canonicalBytes)
	var out ids.ID
	copy(out[:], h.Sum(nil))
	return out
}

// DefaultHasher is the Hasher used whenever a deployment doesn't provide
// its own; it is the canonical BLAKE3 implementation above.
type DefaultHasher struct{}

// HashUnitBytes implements capability.Hasher.
func (DefaultHasher) HashUnitBytes(b []byte) ids.ID { return HashUnitBytes(b) }

// HashValueBytes implements capability.Hasher.
func (DefaultHasher) HashValueBytes(b []byte) ids.ID { return HashValueBytes(b) }

// HashEvidenceBytes implements capability.Hasher.
func (DefaultHasher) HashEvidenceBytes(b []byte) ids.ID { return HashEvidenceBytes(b) }
