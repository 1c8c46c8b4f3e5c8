package storage

import "sync"

// lruKNode tracks the access history for a single frame. history holds the
// timestamps of its most recent accesses, oldest first, capped at k entries.
type lruKNode struct {
	history   []uint64
	evictable bool
}

// LRUKReplacer selects eviction victims using the k-distance policy: a frame
// accessed fewer than k times has infinite k-distance (it is a "new" frame,
// evicted ahead of anything with a full history) and ties among infinite
// frames go to whichever was first referenced longest ago. A frame with k or
// more accesses is ranked by the backward distance from now to its k-th most
// recent access; the largest such distance is evicted first.
type LRUKReplacer struct {
	mu               sync.Mutex
	nodes            map[FrameID]*lruKNode
	currentTimestamp uint64
	currSize         int
	replacerSize     int
	k                int
}

var _ Replacer = (*LRUKReplacer)(nil)

// NewLRUKReplacer creates a replacer over numFrames candidate frames, each
// weighted by its k most recent accesses.
func NewLRUKReplacer(numFrames int, k int) *LRUKReplacer {
	return &LRUKReplacer{
		nodes:        make(map[FrameID]*lruKNode),
		replacerSize: numFrames,
		k:            k,
	}
}

func (r *LRUKReplacer) RecordAccess(frameID FrameID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.currentTimestamp++
	if int(frameID) >= r.replacerSize || frameID < 0 {
		return ErrInvalidFrame("RecordAccess", frameID)
	}

	node, ok := r.nodes[frameID]
	if !ok {
		node = &lruKNode{}
		r.nodes[frameID] = node
	}
	node.history = append(node.history, r.currentTimestamp)
	if len(node.history) > r.k {
		node.history = node.history[len(node.history)-r.k:]
	}
	return nil
}

func (r *LRUKReplacer) SetEvictable(frameID FrameID, evictable bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[frameID]
	if !ok {
		return ErrUnknownFrame("SetEvictable", frameID)
	}
	if node.evictable == evictable {
		return nil
	}
	node.evictable = evictable
	if evictable {
		r.currSize++
	} else {
		r.currSize--
	}
	return nil
}

func (r *LRUKReplacer) Evict() (FrameID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.currSize == 0 {
		return 0, false
	}

	var victim FrameID
	found := false
	foundLessK := false
	var bestDist uint64

	for id, node := range r.nodes {
		if !node.evictable {
			continue
		}
		if len(node.history) < r.k {
			// Infinite k-distance: oldest first-reference wins among these.
			oldest := node.history[0]
			if !foundLessK || oldest < bestDist {
				foundLessK = true
				found = true
				bestDist = oldest
				victim = id
			}
			continue
		}
		if foundLessK {
			continue
		}
		dist := r.currentTimestamp - node.history[0]
		if !found || dist > bestDist {
			found = true
			bestDist = dist
			victim = id
		}
	}

	if !found {
		return 0, false
	}
	delete(r.nodes, victim)
	r.currSize--
	return victim, true
}

func (r *LRUKReplacer) Remove(frameID FrameID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[frameID]
	if !ok {
		return nil
	}
	if !node.evictable {
		return ErrNonEvictable("Remove", frameID)
	}
	delete(r.nodes, frameID)
	r.currSize--
	return nil
}

func (r *LRUKReplacer) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currSize
}
