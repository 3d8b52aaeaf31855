// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package roundsuccess

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	m := NewMeter(Params{}, 10)
	require.Equal(t, uint8(10), m.RoundExp())
}

func TestIncreasesOnLowSuccess(t *testing.T) {
	m := NewMeter(Params{WindowSize: 4, LowThreshold: 0.5, HighThreshold: 0.9, MaxRoundExp: 20}, 5)
	for i := 0; i < 4; i++ {
		m.RecordRound(false)
	}
	require.Equal(t, uint8(6), m.RoundExp())
}

func TestDecreasesOnHighSuccess(t *testing.T) {
	m := NewMeter(Params{WindowSize: 4, LowThreshold: 0.1, HighThreshold: 0.5, MinRoundExp: 1}, 5)
	for i := 0; i < 4; i++ {
		m.RecordRound(true)
	}
	require.Equal(t, uint8(4), m.RoundExp())
}

func TestDoesNotAdaptBeforeWindowFull(t *testing.T) {
	m := NewMeter(Params{WindowSize: 4, LowThreshold: 0.9, HighThreshold: 0.99}, 5)
	m.RecordRound(false)
	m.RecordRound(false)
	require.Equal(t, uint8(5), m.RoundExp())
}

func TestNextEraCarriesExp(t *testing.T) {
	m := NewMeter(Params{WindowSize: 4, LowThreshold: 0.5, HighThreshold: 0.9, MaxRoundExp: 20}, 5)
	for i := 0; i < 4; i++ {
		m.RecordRound(false)
	}
	require.Equal(t, uint8(6), m.RoundExp())
	next := m.NextEra()
	require.Equal(t, uint8(6), next.RoundExp())
	require.Equal(t, 0, next.filled)
}
