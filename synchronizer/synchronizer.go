// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package synchronizer buffers incoming vertices that cannot be added to
// the DAG yet: either because they cite dependencies not seen yet, or
// because their timestamp is still in the future from the local clock's
// point of view. It tracks, per dependency, which pending vertices it
// unblocks once added, and exposes purge/drop operations so the driver can
// bound memory use against slow or malicious senders.
package synchronizer

import (
	"github.com/mcdee/casper-node/capability"
	"github.com/mcdee/casper-node/unit"
)

// Vertex is the minimal shape the synchronizer needs to reason about: a
// hash, the sender it arrived from, the dependencies it cites, the
// timestamp it declares (used for the future-timestamp queue), and the
// signed unit itself so the driver can re-run insertion once it is ready,
// without having to keep a second index from hash back to payload.
type Vertex struct {
	Hash      capability.Hash
	Sender    capability.ValidatorID
	DependsOn []capability.Hash
	Timestamp int64
	SU        unit.SignedUnit
}

// entry is one buffered vertex plus the dependencies still outstanding.
type entry struct {
	vertex  Vertex
	waiting map[capability.Hash]struct{}
}

// Synchronizer holds vertices that are not yet addable, indexed both by
// their own hash and by each outstanding dependency, so resolving one
// dependency is an O(1) map lookup rather than a scan.
type Synchronizer struct {
	pending       map[capability.Hash]*entry
	waitingOn     map[capability.Hash]map[capability.Hash]struct{} // dependency hash -> set of pending vertex hashes blocked on it
	future        []Vertex                                        // vertices whose timestamp is still ahead of local time, earliest first
	perSender     map[capability.ValidatorID]int                  // outstanding vertex count, for basic per-sender bookkeeping
	maxPerSender  int
}

// New constructs an empty Synchronizer. maxPerSender bounds how many
// vertices from a single sender may be buffered at once; zero means
// unbounded.
func New(maxPerSender int) *Synchronizer {
	return &Synchronizer{
		pending:      make(map[capability.Hash]*entry),
		waitingOn:    make(map[capability.Hash]map[capability.Hash]struct{}),
		perSender:    make(map[capability.ValidatorID]int),
		maxPerSender: maxPerSender,
	}
}

// ScheduleAddVertex buffers v against its outstanding dependencies
// (missing, as reported by the caller via the state package). Returns
// false if the sender's buffer is already full and the vertex was
// dropped instead.
func (s *Synchronizer) ScheduleAddVertex(v Vertex, missing []capability.Hash) bool {
	if s.maxPerSender > 0 && s.perSender[v.Sender] >= s.maxPerSender {
		return false
	}
	if _, exists := s.pending[v.Hash]; exists {
		return true
	}
	e := &entry{vertex: v, waiting: make(map[capability.Hash]struct{}, len(missing))}
	for _, dep := range missing {
		e.waiting[dep] = struct{}{}
		if s.waitingOn[dep] == nil {
			s.waitingOn[dep] = make(map[capability.Hash]struct{})
		}
		s.waitingOn[dep][v.Hash] = struct{}{}
	}
	s.pending[v.Hash] = e
	s.perSender[v.Sender]++
	return true
}

// StoreForLater buffers v on the future-timestamp queue: it is structurally
// addable (no missing dependencies) but its declared timestamp is still
// ahead of the local clock.
func (s *Synchronizer) StoreForLater(v Vertex) {
	i := 0
	for i < len(s.future) && s.future[i].Timestamp <= v.Timestamp {
		i++
	}
	s.future = append(s.future, Vertex{})
	copy(s.future[i+1:], s.future[i:])
	s.future[i] = v
}

// PopDueVertices removes and returns every future-timestamp vertex whose
// timestamp is now <= t, in timestamp order.
func (s *Synchronizer) PopDueVertices(t int64) []Vertex {
	i := 0
	for i < len(s.future) && s.future[i].Timestamp <= t {
		i++
	}
	due := s.future[:i]
	s.future = s.future[i:]
	return due
}

// RemoveSatisfiedDeps is called once a dependency hash has been added to
// the DAG: it clears that dependency from every pending vertex waiting on
// it, and returns the hashes of vertices that are now fully satisfied and
// can be popped with PopVertexToAdd.
func (s *Synchronizer) RemoveSatisfiedDeps(dep capability.Hash) []capability.Hash {
	blocked, ok := s.waitingOn[dep]
	if !ok {
		return nil
	}
	delete(s.waitingOn, dep)
	var ready []capability.Hash
	for vh := range blocked {
		e, ok := s.pending[vh]
		if !ok {
			continue
		}
		delete(e.waiting, dep)
		if len(e.waiting) == 0 {
			ready = append(ready, vh)
		}
	}
	return ready
}

// PopVertexToAdd removes and returns a fully-satisfied pending vertex by
// hash. The caller is expected to have obtained hash from
// RemoveSatisfiedDeps.
func (s *Synchronizer) PopVertexToAdd(hash capability.Hash) (Vertex, bool) {
	e, ok := s.pending[hash]
	if !ok {
		return Vertex{}, false
	}
	delete(s.pending, hash)
	s.perSender[e.vertex.Sender]--
	return e.vertex, true
}

// DropDependentVertices discards every pending vertex that (transitively)
// depends on hash, used when a cited vertex turns out to be invalid: there
// is no point waiting on a dependency that will never arrive valid.
func (s *Synchronizer) DropDependentVertices(hash capability.Hash) []capability.Hash {
	var dropped []capability.Hash
	queue := []capability.Hash{hash}
	seen := map[capability.Hash]struct{}{hash: {}}
	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		blocked := s.waitingOn[h]
		delete(s.waitingOn, h)
		for vh := range blocked {
			if _, ok := s.pending[vh]; !ok {
				continue
			}
			s.removePending(vh)
			dropped = append(dropped, vh)
			if _, ok := seen[vh]; !ok {
				seen[vh] = struct{}{}
				queue = append(queue, vh)
			}
		}
	}
	return dropped
}

func (s *Synchronizer) removePending(hash capability.Hash) {
	e, ok := s.pending[hash]
	if !ok {
		return
	}
	for dep := range e.waiting {
		if set, ok := s.waitingOn[dep]; ok {
			delete(set, hash)
			if len(set) == 0 {
				delete(s.waitingOn, dep)
			}
		}
	}
	delete(s.pending, hash)
	s.perSender[e.vertex.Sender]--
}

// PurgeVertices drops every pending and future-timestamp vertex whose
// declared timestamp is older than the given cutoff, reclaiming memory
// from senders that gossiped something that will never become valid
// (e.g. the dependency graph stalled, or the clock moved on).
func (s *Synchronizer) PurgeVertices(cutoff int64) int {
	purged := 0
	for h, e := range s.pending {
		if e.vertex.Timestamp < cutoff {
			s.removePending(h)
			purged++
		}
	}
	kept := s.future[:0]
	for _, v := range s.future {
		if v.Timestamp < cutoff {
			purged++
			continue
		}
		kept = append(kept, v)
	}
	s.future = kept
	return purged
}

// PendingCount returns the number of vertices currently buffered, waiting
// on dependencies or the clock.
func (s *Synchronizer) PendingCount() int {
	return len(s.pending) + len(s.future)
}
