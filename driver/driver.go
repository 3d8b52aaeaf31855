// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package driver is the top-level per-era orchestrator: it owns the DAG
// (state.State), the finality detector, the round-success meter, the
// synchronizer, and (if this node is a validator in the era) its own
// active-validator schedule. Every external event — an incoming vertex, a
// fired timer, a reactor's answer to a value-validation request — enters
// through one of the Driver's Handle* methods and comes back out as a
// slice of Outcome values for the embedding reactor to act on.
package driver

import (
	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mcdee/casper-node/activevalidator"
	"github.com/mcdee/casper-node/capability"
	"github.com/mcdee/casper-node/finality"
	"github.com/mcdee/casper-node/panorama"
	"github.com/mcdee/casper-node/roundsuccess"
	"github.com/mcdee/casper-node/state"
	"github.com/mcdee/casper-node/synchronizer"
	"github.com/mcdee/casper-node/unit"
	"github.com/mcdee/casper-node/validator"
)

// TimerID identifies which of the driver's recurring timers fired, mirroring
// the teacher-derived original's fixed timer numbering so a restarted node
// logging a raw timer id from a crash dump stays meaningful across builds.
type TimerID int

const (
	TimerActiveValidator TimerID = iota
	TimerFutureTimestamp
	TimerPurgeVertices
	TimerLogParticipation
	TimerStandstillAlert
	TimerSynchronizerLog
	TimerPanoramaRequest
)

// ActionID identifies a caller-scheduled follow-up action, analogous to the
// timer IDs but for one-shot work items rather than recurring timers.
type ActionID int

const (
	ActionAddVertex ActionID = iota
)

// OutcomeKind tags the variant of an Outcome.
type OutcomeKind int

const (
	OutcomeCreatedGossipMessage OutcomeKind = iota
	OutcomeCreatedTargetedMessage
	OutcomeInvalidIncomingMessage
	OutcomeScheduleTimer
	OutcomeQueueAction
	OutcomeCreateNewBlock
	OutcomeFinalizedBlock
	OutcomeValidateConsensusValue
	OutcomeNewEvidence
	OutcomeSendEvidence
	OutcomeWeAreFaulty
	OutcomeDoppelgangerDetected
	OutcomeFttExceeded
	OutcomeStandstillAlert
	OutcomeDisconnect
	OutcomeRequestDependency
)

// Outcome is the closed sum type every Driver method returns results as,
// mirroring the ConsensusProtocol::handle_* signatures whose single return
// type is a Vec of these variants. Only the fields relevant to Kind are
// populated; the rest are zero.
type Outcome struct {
	Kind OutcomeKind

	GossipMessage   []byte
	TargetedTo      capability.ValidatorID
	TargetedMessage []byte

	InvalidFrom   capability.ValidatorID
	InvalidReason string

	TimerID TimerID
	TimerAt int64

	ActionID ActionID
	ActionAt int64

	ParentBlock capability.Hash

	Finalized *finality.FinalizedBlock

	// ValidateValueHash/ValidateValueBytes identify the pending proposal's
	// raw value for the reactor to decode and validate out of band; the
	// reactor reports back via Driver.ResolveValidity.
	ValidateValueHash  capability.Hash
	ValidateValueBytes []byte

	Evidence       *unit.Evidence
	SendEvidenceTo capability.ValidatorID

	DisconnectFrom capability.ValidatorID

	// RequestDependencyHash/RequestDependencyFrom identify a missing
	// dependency a buffered vertex cites: the reactor should ask
	// RequestDependencyFrom (or the wider network) for the unit, evidence,
	// or endorsement at that hash.
	RequestDependencyHash capability.Hash
	RequestDependencyFrom capability.ValidatorID
}

// Params bundles every era-scoped configuration value the driver needs
// beyond what state.Params/finality.Params/roundsuccess.Params already
// cover.
type Params struct {
	State        state.Params
	Finality     finality.Params
	RoundSuccess roundsuccess.Params
	// StandstillTimeout is the longest span of time, in milliseconds,
	// the overall panorama may go unchanged before StandstillAlert fires.
	StandstillTimeout int64
	// MaxPendingPerSender bounds the synchronizer's per-sender backlog.
	MaxPendingPerSender int
	// PendingVertexTimeout bounds how far into the future a vertex's
	// timestamp may lie before it is rejected outright instead of buffered:
	// a vertex timestamped beyond now+PendingVertexTimeout is dropped, not
	// stored for later (spec.md §4.7/§8).
	PendingVertexTimeout int64
}

// Driver is the per-era protocol instance. It is not safe for concurrent
// use: calls into one Driver must be made serially.
type Driver struct {
	state      *state.State
	detector   *finality.Detector
	meter      *roundsuccess.Meter
	sync       *synchronizer.Synchronizer
	validators *validator.Set
	ctx        capability.Context
	params     Params
	log        log.Logger
	metrics    *metrics

	// pubKeys holds each validator's public key material, indexed by
	// validator.Index, for signature verification; the core never learns
	// how a key maps to a network identity beyond this lookup.
	pubKeys [][]byte

	own *activevalidator.State // nil if this node is not a validator in this era

	evidenceOnly bool
	paused       bool

	lastPanorama    panorama.Panorama
	finalizedHeight uint64
	finalizedBlocks map[capability.Hash]bool
	pendingValues   map[capability.Hash][]pendingVertex

	// ownRoundID/ownRoundHash/ownRoundActive track this node's own most
	// recent round, so its success can be scored (and fed to the
	// round-success meter) once the next round begins.
	ownRoundID     int64
	ownRoundHash   capability.Hash
	ownRoundActive bool
}

// pendingVertex is a vertex buffered awaiting out-of-band value
// validation: its unit is structurally sound and dependency-complete, but
// the reactor has not yet confirmed its proposed value is itself valid.
type pendingVertex struct {
	su  unit.SignedUnit
	h   capability.Hash
}

// NewDriver constructs a Driver for one era. pubKeys must have one entry
// per validator in validators, indexed by validator.Index. own is nil if
// this node does not hold a key in this era's validator set.
func NewDriver(validators *validator.Set, pubKeys [][]byte, ctx capability.Context, params Params, logger log.Logger, registerer prometheus.Registerer, own *activevalidator.State) (*Driver, error) {
	m, err := newMetrics(logger, registerer)
	if err != nil {
		return nil, err
	}
	st := state.New(validators, ctx, params.State)
	return &Driver{
		state:           st,
		detector:        finality.New(validators, params.Finality),
		meter:           roundsuccess.NewMeter(params.RoundSuccess, params.State.MinRoundExp),
		sync:            synchronizer.New(params.MaxPendingPerSender),
		validators:      validators,
		pubKeys:         pubKeys,
		ctx:             ctx,
		params:          params,
		log:             logger,
		metrics:         m,
		own:             own,
		lastPanorama:    st.Panorama(),
		finalizedBlocks: make(map[capability.Hash]bool),
		pendingValues:   make(map[capability.Hash][]pendingVertex),
	}, nil
}
