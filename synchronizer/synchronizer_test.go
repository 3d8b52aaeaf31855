// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package synchronizer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mcdee/casper-node/capability"
)

func h(b byte) capability.Hash {
	var out capability.Hash
	out[0] = b
	return out
}

func TestScheduleAndResolve(t *testing.T) {
	s := New(0)
	v := Vertex{Hash: h(1), Sender: capability.ValidatorID{9}, DependsOn: []capability.Hash{h(2), h(3)}}
	require.True(t, s.ScheduleAddVertex(v, []capability.Hash{h(2), h(3)}))
	require.Equal(t, 1, s.PendingCount())

	ready := s.RemoveSatisfiedDeps(h(2))
	require.Empty(t, ready)
	ready = s.RemoveSatisfiedDeps(h(3))
	require.Equal(t, []capability.Hash{h(1)}, ready)

	got, ok := s.PopVertexToAdd(h(1))
	require.True(t, ok)
	require.Equal(t, v.Hash, got.Hash)
	require.Equal(t, 0, s.PendingCount())
}

func TestFutureTimestampOrdering(t *testing.T) {
	s := New(0)
	s.StoreForLater(Vertex{Hash: h(3), Timestamp: 300})
	s.StoreForLater(Vertex{Hash: h(1), Timestamp: 100})
	s.StoreForLater(Vertex{Hash: h(2), Timestamp: 200})

	due := s.PopDueVertices(150)
	require.Len(t, due, 1)
	require.Equal(t, h(1), due[0].Hash)

	due = s.PopDueVertices(250)
	require.Len(t, due, 1)
	require.Equal(t, h(2), due[0].Hash)
	require.Equal(t, 1, s.PendingCount())
}

func TestDropDependentVertices(t *testing.T) {
	s := New(0)
	s.ScheduleAddVertex(Vertex{Hash: h(2), Sender: capability.ValidatorID{1}}, []capability.Hash{h(1)})
	s.ScheduleAddVertex(Vertex{Hash: h(3), Sender: capability.ValidatorID{1}}, []capability.Hash{h(2)})

	dropped := s.DropDependentVertices(h(1))
	require.ElementsMatch(t, []capability.Hash{h(2), h(3)}, dropped)
	require.Equal(t, 0, s.PendingCount())
}

func TestPerSenderLimit(t *testing.T) {
	s := New(1)
	sender := capability.ValidatorID{1}
	require.True(t, s.ScheduleAddVertex(Vertex{Hash: h(1), Sender: sender}, []capability.Hash{h(9)}))
	require.False(t, s.ScheduleAddVertex(Vertex{Hash: h(2), Sender: sender}, []capability.Hash{h(9)}))
}

func TestPurgeVertices(t *testing.T) {
	s := New(0)
	s.ScheduleAddVertex(Vertex{Hash: h(1), Sender: capability.ValidatorID{1}, Timestamp: 10}, []capability.Hash{h(9)})
	s.StoreForLater(Vertex{Hash: h(2), Timestamp: 500})
	purged := s.PurgeVertices(100)
	require.Equal(t, 1, purged)
	require.Equal(t, 1, s.PendingCount())
}
