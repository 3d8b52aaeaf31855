// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import "errors"

// PreValidationKind enumerates the reasons pre_validate can reject a unit
// before dependencies are even considered.
type PreValidationKind int

const (
	PreValidationBadSignature PreValidationKind = iota
	PreValidationMalformed
	PreValidationRoundExpOutOfRange
	PreValidationWrongInstanceID
	PreValidationImpossibleSeqNumber
	PreValidationTimestampTooFarFuture
)

// PreValidationError is the closed error type pre_validate returns, per
// spec.md §7 and §9's design note replacing a dynamic error type with a
// closed, comparable sum.
type PreValidationError struct {
	Kind PreValidationKind
	Msg  string
}

func (e *PreValidationError) Error() string { return e.Msg }

func newPreValidationError(kind PreValidationKind, msg string) *PreValidationError {
	return &PreValidationError{Kind: kind, Msg: msg}
}

// ValidationKind enumerates the reasons validate can reject an otherwise
// structurally sound, dependency-complete unit.
type ValidationKind int

const (
	ValidationTimestampBeforeCitation ValidationKind = iota
	ValidationPanoramaInconsistent
	ValidationSeqNumberMismatch
	ValidationRoundExpRegression
	ValidationMissingDependency
	ValidationProposalPanoramaMismatch
	ValidationTimestampTooFarFuture
)

// ValidationError is the closed error type validate returns.
type ValidationError struct {
	Kind ValidationKind
	Msg  string
}

func (e *ValidationError) Error() string { return e.Msg }

func newValidationError(kind ValidationKind, msg string) *ValidationError {
	return &ValidationError{Kind: kind, Msg: msg}
}

// Sentinel errors for conditions that are not tied to a specific unit.
var (
	// ErrUnknownHash is returned by accessors when a hash is not present in
	// the state.
	ErrUnknownHash = errors.New("state: unknown unit hash")
	// ErrAlreadyPresent is returned by AddValid for a hash already stored;
	// callers should treat this as success (add_valid is idempotent).
	ErrAlreadyPresent = errors.New("state: unit already present")
)
