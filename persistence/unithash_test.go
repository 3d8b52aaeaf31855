// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package persistence

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mcdee/casper-node/capability"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unit-hash")

	var h capability.Hash
	h[0] = 0xAB
	h[31] = 0xCD

	require.NoError(t, Save(path, h, 42))

	gotHash, gotSeq, ok, err := Load(path)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, h, gotHash)
	require.Equal(t, uint64(42), gotSeq)
}

func TestLoadMissingFileNotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist")

	_, _, ok, err := Load(path)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLoadRejectsWrongLength(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unit-hash")
	require.NoError(t, Save(path, capability.Hash{}, 1))

	// Corrupt the file to the wrong length.
	require.NoError(t, os.WriteFile(path, []byte{0, 1}, 0o600))

	_, _, _, err := Load(path)
	require.Error(t, err)
}
