// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package driver

import (
	"github.com/mcdee/casper-node/activevalidator"
	"github.com/mcdee/casper-node/capability"
	"github.com/mcdee/casper-node/finality"
	"github.com/mcdee/casper-node/panorama"
	"github.com/mcdee/casper-node/state"
	"github.com/mcdee/casper-node/synchronizer"
	"github.com/mcdee/casper-node/unit"
	"github.com/mcdee/casper-node/validator"
)

// HandleNewVertex processes one incoming signed unit from sender. A unit
// claiming our own validator index that we did not already produce pauses
// our own active-validator schedule and is reported as a doppelganger
// rather than processed further. Otherwise it runs pre-validation, buffers
// the vertex in the synchronizer if dependencies are missing or its
// timestamp is still in the future, and otherwise adds it to the DAG and
// cascades to anything the synchronizer was holding pending on this hash.
func (d *Driver) HandleNewVertex(su unit.SignedUnit, sender capability.ValidatorID, now int64) []Outcome {
	w := su.Wire
	if int(w.Creator) >= len(d.pubKeys) {
		return []Outcome{{Kind: OutcomeInvalidIncomingMessage, InvalidFrom: sender, InvalidReason: "unknown creator index"}}
	}
	h, err := w.Hash(d.ctx)
	if err != nil {
		return []Outcome{{Kind: OutcomeInvalidIncomingMessage, InvalidFrom: sender, InvalidReason: "unhashable unit"}}
	}

	if d.state.HasUnit(h) {
		return nil
	}

	if d.own != nil && w.Creator == d.own.Index {
		d.SetPaused(true)
		return []Outcome{{Kind: OutcomeDoppelgangerDetected}}
	}

	if err := d.state.PreValidate(su, h, d.pubKeys[w.Creator]); err != nil {
		return []Outcome{{Kind: OutcomeInvalidIncomingMessage, InvalidFrom: sender, InvalidReason: err.Error()}}
	}

	if missing := d.state.MissingDependencies(&w); len(missing) > 0 {
		v := synchronizer.Vertex{Hash: h, Sender: sender, DependsOn: missing, Timestamp: w.Timestamp, SU: su}
		if !d.sync.ScheduleAddVertex(v, missing) {
			return []Outcome{{Kind: OutcomeInvalidIncomingMessage, InvalidFrom: sender, InvalidReason: "sender backlog full"}}
		}
		d.metrics.pendingVertices.Set(float64(d.sync.PendingCount()))
		out := make([]Outcome, 0, len(missing))
		for _, dep := range missing {
			out = append(out, Outcome{Kind: OutcomeRequestDependency, RequestDependencyHash: dep, RequestDependencyFrom: sender})
		}
		return out
	}

	if w.Timestamp > now {
		if w.Timestamp > now+d.params.PendingVertexTimeout {
			reason := (&state.PreValidationError{Kind: state.PreValidationTimestampTooFarFuture, Msg: "state: unit timestamp too far in the future to buffer"}).Error()
			return []Outcome{{Kind: OutcomeInvalidIncomingMessage, InvalidFrom: sender, InvalidReason: reason}}
		}
		d.sync.StoreForLater(synchronizer.Vertex{Hash: h, Sender: sender, Timestamp: w.Timestamp, SU: su})
		d.metrics.pendingVertices.Set(float64(d.sync.PendingCount()))
		return []Outcome{{Kind: OutcomeScheduleTimer, TimerID: TimerFutureTimestamp, TimerAt: w.Timestamp}}
	}

	return d.addAndCascade(su, h, now)
}

// addAndCascade runs the shared validation+insertion pipeline for a unit
// that is structurally ready (no missing dependencies, not future-dated).
// A proposal's value is not yet known to be valid, so it is parked in
// pendingValues and only actually inserted once ResolveValidity reports
// back; every other unit is inserted immediately.
func (d *Driver) addAndCascade(su unit.SignedUnit, h capability.Hash, now int64) []Outcome {
	w := su.Wire

	if err := d.state.Validate(su, h, now); err != nil {
		return []Outcome{{Kind: OutcomeInvalidIncomingMessage, InvalidFrom: d.validators.ID(w.Creator), InvalidReason: err.Error()}}
	}

	if w.IsProposal() {
		d.pendingValues[h] = append(d.pendingValues[h], pendingVertex{su: su, h: h})
		return []Outcome{{Kind: OutcomeValidateConsensusValue, ValidateValueHash: h, ValidateValueBytes: w.Value}}
	}

	return d.finishAdd(su, h, nil, now)
}

// ResolveValidity is called by the reactor once it has determined whether
// the consensus value proposed by the unit at h is valid; value is the
// reactor's decoded capability.Value when valid is true.
func (d *Driver) ResolveValidity(h capability.Hash, valid bool, value capability.Value, now int64) []Outcome {
	pending, ok := d.pendingValues[h]
	if !ok {
		return nil
	}
	delete(d.pendingValues, h)
	if !valid {
		d.sync.DropDependentVertices(h)
		return nil
	}
	var out []Outcome
	for _, p := range pending {
		out = append(out, d.finishAdd(p.su, p.h, value, now)...)
	}
	return out
}

// finishAdd inserts an already-validated unit into the DAG, cascades to
// any buffered vertex it unblocks, and re-runs finality detection.
func (d *Driver) finishAdd(su unit.SignedUnit, h capability.Hash, value capability.Value, now int64) []Outcome {
	var out []Outcome

	ev, err := d.state.AddValid(su, h, value)
	if err != nil {
		return out
	}
	d.metrics.unitsAdded.Inc()

	if ev != nil {
		d.metrics.equivocations.Inc()
		out = append(out, Outcome{Kind: OutcomeNewEvidence, Evidence: ev})
		if ev.Creator == d.ownIndex() {
			out = append(out, Outcome{Kind: OutcomeWeAreFaulty})
		}
	}

	for _, rh := range d.sync.RemoveSatisfiedDeps(h) {
		v, ok := d.sync.PopVertexToAdd(rh)
		if !ok {
			continue
		}
		out = append(out, Outcome{Kind: OutcomeQueueAction, ActionID: ActionAddVertex, ActionAt: v.Timestamp})
		out = append(out, d.addAndCascade(v.SU, v.Hash, now)...)
	}
	d.metrics.pendingVertices.Set(float64(d.sync.PendingCount()))

	out = append(out, d.maybeConfirmProposal(su, h, now)...)
	out = append(out, d.detectFinality(now)...)
	return out
}

// maybeConfirmProposal implements spec.md §4.4's on_new_unit confirmation
// rule: upon seeing a freshly inserted unit, a validator confirms it with
// its own unit iff it is a proposal from the current round's elected leader,
// that leader is not this node itself, the leader is not already known
// faulty, and this node has not already transitively cited it (which would
// make a separate confirmation redundant).
func (d *Driver) maybeConfirmProposal(su unit.SignedUnit, h capability.Hash, now int64) []Outcome {
	if d.own == nil || d.paused {
		return nil
	}
	w := su.Wire
	if !w.IsProposal() || w.Creator == d.own.Index {
		return nil
	}
	if d.validators.IsFaulty(w.Creator) {
		return nil
	}
	r := activevalidator.RoundID(w.Timestamp, w.RoundExp)
	if d.own.Leader(d.ctx, r, d.validators) != w.Creator {
		return nil
	}
	if d.own.HasLastHash && d.state.Sees(d.own.LastHash, h) {
		return nil
	}

	roundExp := d.meter.RoundExp()
	confirm, ch, err := d.own.CreateWitness(d.ctx, d.state.Panorama(), now, roundExp)
	if err != nil {
		return nil
	}
	out := d.finishAdd(confirm, ch, nil, now)
	d.recordOwnRound(ch, now, roundExp)
	b, encErr := encodeSignedUnit(confirm)
	if encErr == nil {
		out = append(out, Outcome{Kind: OutcomeCreatedGossipMessage, GossipMessage: b})
	}
	return out
}

// Panorama returns the driver's current overall panorama, for a caller that
// needs to build a unit outside the normal Handle* entry points (such as a
// test harness constructing a deliberately conflicting vote).
func (d *Driver) Panorama() panorama.Panorama { return d.state.Panorama() }

// ownIndex returns this node's own validator index, or an out-of-range
// sentinel if it is not a validator in this era.
func (d *Driver) ownIndex() validator.Index {
	if d.own == nil {
		return validator.Index(d.validators.Len())
	}
	return d.own.Index
}

// HandleTimer dispatches one fired timer to the appropriate internal
// action and returns the resulting outcomes, including rescheduling
// itself where the timer recurs.
func (d *Driver) HandleTimer(id TimerID, now int64) []Outcome {
	switch id {
	case TimerFutureTimestamp:
		return d.handleDueVertices(now)
	case TimerPurgeVertices:
		purged := d.sync.PurgeVertices(now - d.params.StandstillTimeout)
		d.log.Debug("purged stale vertices", "count", purged)
		d.metrics.pendingVertices.Set(float64(d.sync.PendingCount()))
		return []Outcome{{Kind: OutcomeScheduleTimer, TimerID: TimerPurgeVertices, TimerAt: now + d.params.StandstillTimeout}}
	case TimerStandstillAlert:
		return d.checkStandstill(now)
	case TimerActiveValidator:
		return d.handleActiveValidatorTimer(now)
	case TimerLogParticipation:
		d.log.Info("participation", "validators", d.validators.Len(), "faulty_weight", d.validators.FaultyWeight(), "total_weight", d.validators.TotalWeight())
		return []Outcome{{Kind: OutcomeScheduleTimer, TimerID: TimerLogParticipation, TimerAt: now + d.params.StandstillTimeout}}
	case TimerSynchronizerLog:
		d.log.Debug("synchronizer backlog", "pending", d.sync.PendingCount())
		return []Outcome{{Kind: OutcomeScheduleTimer, TimerID: TimerSynchronizerLog, TimerAt: now + d.params.StandstillTimeout}}
	case TimerPanoramaRequest:
		return []Outcome{{Kind: OutcomeCreatedGossipMessage, GossipMessage: nil}, {Kind: OutcomeScheduleTimer, TimerID: TimerPanoramaRequest, TimerAt: now + d.params.StandstillTimeout}}
	default:
		return nil
	}
}

func (d *Driver) handleDueVertices(now int64) []Outcome {
	var out []Outcome
	for _, v := range d.sync.PopDueVertices(now) {
		out = append(out, Outcome{Kind: OutcomeQueueAction, ActionID: ActionAddVertex, ActionAt: v.Timestamp})
		if missing := d.state.MissingDependencies(&v.SU.Wire); len(missing) > 0 {
			if d.sync.ScheduleAddVertex(v, missing) {
				for _, dep := range missing {
					out = append(out, Outcome{Kind: OutcomeRequestDependency, RequestDependencyHash: dep, RequestDependencyFrom: v.Sender})
				}
			}
			continue
		}
		out = append(out, d.addAndCascade(v.SU, v.Hash, now)...)
	}
	d.metrics.pendingVertices.Set(float64(d.sync.PendingCount()))
	return out
}

// checkStandstill compares the current overall panorama against the one
// recorded at the last check: if nothing has changed for longer than
// StandstillTimeout, the driver alerts the reactor that the network may
// have partitioned. Any unit added to the DAG counts as a change, including
// one whose Ping flag is set (see unit.SignedUnit.Ping).
func (d *Driver) checkStandstill(now int64) []Outcome {
	current := d.state.Panorama()
	changed := false
	for i := range current {
		if i >= len(d.lastPanorama) || current[i] != d.lastPanorama[i] {
			changed = true
			break
		}
	}
	d.lastPanorama = current

	reschedule := Outcome{Kind: OutcomeScheduleTimer, TimerID: TimerStandstillAlert, TimerAt: now + d.params.StandstillTimeout}
	if !changed {
		return []Outcome{{Kind: OutcomeStandstillAlert}, reschedule}
	}
	return []Outcome{reschedule}
}

// handleActiveValidatorTimer runs one tick of this node's own proposal/
// witness schedule, if it is a validator in this era. Per spec.md §4.4, the
// schedule has two due times within a round of id R: at R itself, the
// round's leader asks the reactor for a new block; at R + WitnessOffset,
// every validator builds a witness over the panorama cut off at that time,
// unless that cut-off panorama is empty.
// The timer reschedules itself for whichever of those two times comes next,
// so the caller never needs to know the schedule's shape in advance.
func (d *Driver) handleActiveValidatorTimer(now int64) []Outcome {
	if d.own == nil || d.paused {
		return nil
	}
	roundExp := d.closeOwnRound(now)
	d.metrics.currentRoundExp.Set(float64(roundExp))

	r := activevalidator.RoundID(now, roundExp)
	witnessOffset := activevalidator.WitnessOffset(roundExp)

	out := []Outcome{{Kind: OutcomeScheduleTimer, TimerID: TimerActiveValidator, TimerAt: d.nextActiveValidatorTick(now, roundExp)}}

	switch {
	case now == r && d.own.IsLeader(d.ctx, r, d.validators):
		out = append(out, Outcome{Kind: OutcomeCreateNewBlock, ParentBlock: d.state.ForkChoice()})
	case now == r+witnessOffset:
		pano := panorama.Cutoff(d.state.Panorama(), d.state, now)
		if pano.IsEmpty() {
			return out
		}
		su, h, err := d.own.CreateWitness(d.ctx, pano, now, roundExp)
		if err != nil {
			return out
		}
		out = append(out, d.finishAdd(su, h, nil, now)...)
		d.recordOwnRound(h, now, roundExp)
		b, encErr := encodeSignedUnit(su)
		if encErr == nil {
			out = append(out, Outcome{Kind: OutcomeCreatedGossipMessage, GossipMessage: b})
		}
	}
	return out
}

// nextActiveValidatorTick returns the next timestamp at which this node's
// schedule has something due: the start of the next round if now is at or
// past this round's witness point, otherwise this round's own witness
// point.
func (d *Driver) nextActiveValidatorTick(now int64, roundExp uint8) int64 {
	r := activevalidator.RoundID(now, roundExp)
	witnessAt := r + activevalidator.WitnessOffset(roundExp)
	if now < witnessAt {
		return witnessAt
	}
	return r + activevalidator.RoundLen(roundExp)
}

// CreateNewBlock is called by the reactor once it has produced the bytes
// of a new consensus value this node should propose, in response to an
// earlier OutcomeCreateNewBlock.
func (d *Driver) CreateNewBlock(valueBytes []byte, now int64) []Outcome {
	if d.own == nil || d.paused {
		return nil
	}
	roundExp := d.closeOwnRound(now)
	su, h, err := d.own.CreateProposal(d.ctx, d.state.Panorama(), now, roundExp, valueBytes)
	if err != nil {
		return nil
	}
	out := d.addAndCascade(su, h, now)
	d.recordOwnRound(h, now, roundExp)
	b, encErr := encodeSignedUnit(su)
	if encErr == nil {
		out = append(out, Outcome{Kind: OutcomeCreatedGossipMessage, GossipMessage: b})
	}
	return out
}

// closeOwnRound scores the previous round this node produced a unit in, if
// now has moved past it, feeding the result to the round-success meter
// before returning the (possibly newly adapted) round exponent to use next.
func (d *Driver) closeOwnRound(now int64) uint8 {
	roundExp := d.meter.RoundExp()
	if d.ownRoundActive && activevalidator.RoundID(now, roundExp) != d.ownRoundID {
		d.meter.RecordRound(d.roundSucceeded(d.ownRoundHash))
		d.ownRoundActive = false
		roundExp = d.meter.RoundExp()
	}
	return roundExp
}

// recordOwnRound remembers the unit this node just produced as the one to
// score for round-success once its round ends.
func (d *Driver) recordOwnRound(h capability.Hash, now int64, roundExp uint8) {
	d.ownRoundID = activevalidator.RoundID(now, roundExp)
	d.ownRoundHash = h
	d.ownRoundActive = true
}

// roundSucceeded reports whether h, a unit this node produced, was cited by
// a majority of honest weight by the time this was checked — the round's
// success criterion per spec.md §4.6.
func (d *Driver) roundSucceeded(h capability.Hash) bool {
	var seen validator.Weight
	d.state.Panorama().EnumerateCorrect(func(idx validator.Index, latest capability.Hash) {
		if d.validators.IsFaulty(idx) {
			return
		}
		if latest == h || d.state.Sees(latest, h) {
			seen += d.validators.Weight(idx)
		}
	})
	return seen > d.validators.HonestWeight()/2
}

// SetEvidenceOnly records the evidence-only flag. No Driver method reads
// the flag: incoming units are validated and added the same way whichever
// value it holds.
func (d *Driver) SetEvidenceOnly(v bool) { d.evidenceOnly = v }

// SetPaused toggles whether this node's own active-validator schedule is
// suspended, used while resolving a suspected doppelganger.
func (d *Driver) SetPaused(v bool) { d.paused = v }

// detectFinality checks whether the current fork-choice head has reached a
// summit, and if so walks back to the last block already reported
// finalized, emitting a FinalizedBlock outcome for every block in between
// in strict height order (oldest first): a summit at the head implies
// finality for its whole unfinalized prefix.
func (d *Driver) detectFinality(now int64) []Outcome {
	var out []Outcome
	if d.detector.FttExceeded() {
		out = append(out, Outcome{Kind: OutcomeFttExceeded})
	}

	head := d.state.ForkChoice()
	if head == (capability.Hash{}) {
		return out
	}
	if d.detector.Level(d.state, d.state.Panorama(), head) == 0 {
		return out
	}

	var chain []capability.Hash
	for b := head; b != (capability.Hash{}) && !d.finalizedBlocks[b]; {
		chain = append(chain, b)
		su, ok := d.state.WireUnit(b)
		if !ok {
			break
		}
		b = su.Parent
	}

	for i := len(chain) - 1; i >= 0; i-- {
		b := chain[i]
		d.finalizedBlocks[b] = true
		height := d.finalizedHeight
		d.finalizedHeight++
		d.metrics.finalizedBlocks.Inc()
		d.metrics.finalizedHeight.Set(float64(d.finalizedHeight))
		fb := finality.FinalizedBlock{Height: height, Equivocators: d.equivocatorIDs()}
		if su, ok := d.state.WireUnit(b); ok {
			fb.Value = su.Value
			fb.Timestamp = su.Signed.Wire.Timestamp
		}
		out = append(out, Outcome{Kind: OutcomeFinalizedBlock, Finalized: &fb})
	}
	return out
}

// equivocatorIDs returns the validator IDs of every validator marked faulty
// so far, for the Equivocators field of a FinalizedBlock outcome.
func (d *Driver) equivocatorIDs() []capability.ValidatorID {
	var ids []capability.ValidatorID
	d.validators.Enumerate(func(idx validator.Index, id capability.ValidatorID, _ validator.Weight, faulty bool) {
		if faulty {
			ids = append(ids, id)
		}
	})
	return ids
}
