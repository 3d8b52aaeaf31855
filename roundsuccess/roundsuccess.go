// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package roundsuccess tracks, over a sliding window of recent rounds,
// what fraction succeeded (as reported by the caller, see
// Meter.RecordRound) and adapts the round exponent up or down to keep that
// fraction within a target band.
package roundsuccess

// Params configures the adaptive window and thresholds. Defaults per
// SPEC_FULL.md §9 (window=10, high=0.8, low=0.5) are applied by
// NewMeter when a zero value is passed for any field.
type Params struct {
	WindowSize    int
	HighThreshold float64 // success ratio above which round_exp may decrease
	LowThreshold  float64 // success ratio below which round_exp must increase
	MinRoundExp   uint8
	MaxRoundExp   uint8
}

func (p Params) withDefaults() Params {
	if p.WindowSize <= 0 {
		p.WindowSize = 10
	}
	if p.HighThreshold <= 0 {
		p.HighThreshold = 0.8
	}
	if p.LowThreshold <= 0 {
		p.LowThreshold = 0.5
	}
	if p.MaxRoundExp == 0 {
		p.MaxRoundExp = 20
	}
	return p
}

// Meter is the sliding-window success tracker for one active validator's
// own rounds. It is not shared across validators: each validator adapts its
// own round_exp based on its own observed history, per spec.md §4.6.
type Meter struct {
	params      Params
	window      []bool // true = round succeeded; ring buffer
	pos         int
	filled      int
	currentExp  uint8
	// currentRoundID is not read or written by any Meter method; round
	// boundaries are tracked by the caller, which passes each round's
	// result to RecordRound.
	currentRoundID int64
}

// NewMeter constructs a Meter starting at the given initial round exponent.
func NewMeter(params Params, initialRoundExp uint8) *Meter {
	p := params.withDefaults()
	return &Meter{
		params:     p,
		window:     make([]bool, p.WindowSize),
		currentExp: initialRoundExp,
	}
}

// RoundExp returns the exponent the caller should use for its next round.
func (m *Meter) RoundExp() uint8 { return m.currentExp }

// RecordRound appends one round's outcome (succeeded or not) to the sliding
// window and re-evaluates the round exponent. The driver decides success:
// a round succeeds when the unit this validator produced in it is cited by
// validators holding more than half of the honest weight, checked once the
// validator's schedule has moved into a later round; whether the round's
// proposal was finalized is not taken into account. The driver computes
// that boolean via the DAG and passes it in here; Meter only tracks the
// moving average and threshold logic.
func (m *Meter) RecordRound(succeeded bool) {
	if len(m.window) == 0 {
		return
	}
	if !m.window[m.pos] && m.filled < len(m.window) {
		m.filled++
	}
	m.window[m.pos] = succeeded
	m.pos = (m.pos + 1) % len(m.window)
	m.adapt()
}

func (m *Meter) ratio() float64 {
	if m.filled == 0 {
		return 0
	}
	count := 0
	for i := 0; i < m.filled; i++ {
		if m.window[i] {
			count++
		}
	}
	return float64(count) / float64(m.filled)
}

// adapt implements the hysteresis: once the window is full, round_exp
// increases by one (slower, more tolerant rounds) when the recent success
// ratio falls below LowThreshold, and decreases by one (faster rounds) when
// it rises above HighThreshold; before the window is full it never changes,
// so a short early streak in either direction doesn't move the round.
// Never leaves [MinRoundExp, MaxRoundExp].
func (m *Meter) adapt() {
	if m.filled < len(m.window) {
		return
	}
	r := m.ratio()
	switch {
	case r < m.params.LowThreshold && m.currentExp < m.params.MaxRoundExp:
		m.currentExp++
	case r > m.params.HighThreshold && m.currentExp > m.params.MinRoundExp:
		m.currentExp--
	}
}

// NextEra returns a fresh Meter for a subsequent era, carrying over the
// current round exponent as the new era's starting point but resetting the
// success window, matching the Rust round_success_meter's behavior of
// persisting round_exp across era boundaries while history does not
// transfer (a new era has a different validator set and network
// conditions).
func (m *Meter) NextEra() *Meter {
	return NewMeter(m.params, m.currentExp)
}
