// Copyright (c) 2016-2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/willf/bitset"
	"go.uber.org/zap"

	"github.com/torrentd/peerstack/core"
	"github.com/torrentd/peerstack/layout"
	"github.com/torrentd/peerstack/utils/syncutil"
)

// Storage is the narrow slice of storage.Torrent the Scheduler depends on:
// writing received bytes and verifying a completed piece's hash.
// storage.Torrent satisfies this directly.
type Storage interface {
	Write(r layout.BlockRange, buf []byte) error
	Verify(i int) (bool, error)
}

// CancelTarget names an outstanding request that should be cancelled at
// the peer actor layer because another peer's reply already satisfied it
// (endgame) or the whole piece it belongs to failed verification.
type CancelTarget struct {
	PeerID core.PeerID
	Block  layout.BlockRange
}

// BlockResult reports the outcome of OnBlockReceived.
type BlockResult struct {
	// PieceIndex is the piece the received block belonged to.
	PieceIndex int
	// PieceCompleted is true once every block of PieceIndex has arrived.
	PieceCompleted bool
	// Verified is only meaningful when PieceCompleted is true: whether the
	// completed piece's hash matched.
	Verified bool
	// Cancel lists in-flight duplicate (endgame) or now-moot requests the
	// caller should send wire Cancel messages for.
	Cancel []CancelTarget
}

// pieceState tracks in-flight block bookkeeping for one not-yet-owned
// piece: which byte ranges are still missing, and which peers currently
// have an outstanding request for which range (more than one peer only
// during endgame).
type pieceState struct {
	progress  *Progress
	requested map[layout.BlockRange]map[core.PeerID]bool
}

func newPieceState(pieceLen int64) *pieceState {
	return &pieceState{
		progress:  NewProgress(pieceLen),
		requested: make(map[layout.BlockRange]map[core.PeerID]bool),
	}
}

type backoffKey struct {
	peer  core.PeerID
	piece int
}

// Scheduler assigns torrent pieces and blocks to peer connections:
// piece assignment by the configured selection policy, bounded by max_assignments
// and max_replicates, endgame duplication once few pieces remain, and
// doubling backoff after a peer drops a requested piece.
type Scheduler struct {
	mu sync.Mutex

	config  Config
	layout  *layout.Layout
	storage Storage
	clk     clock.Clock
	logger  *zap.SugaredLogger
	policy  selectionPolicy

	owned           *bitset.BitSet
	numPeersByPiece *syncutil.Counters
	replicateCount  []int

	peerHave     map[core.PeerID]*bitset.BitSet
	peerUnchoked map[core.PeerID]bool
	assignments  map[core.PeerID]map[int]bool

	pieces map[int]*pieceState

	backoffDeadline map[backoffKey]time.Time
	backoffAttempt  map[backoffKey]int

	endgame bool
	updated map[core.PeerID]bool
}

// NewScheduler creates a Scheduler for a torrent with the given layout,
// initial owned-piece bitfield and storage sink.
func NewScheduler(
	config Config,
	l *layout.Layout,
	owned *bitset.BitSet,
	st Storage,
	clk clock.Clock,
	logger *zap.SugaredLogger,
) (*Scheduler, error) {
	config = config.applyDefaults()

	var policy selectionPolicy
	switch config.Policy {
	case DefaultPolicy:
		policy = newDefaultPolicy()
	case RarestFirstPolicy:
		policy = newRarestFirstPolicy()
	default:
		return nil, fmt.Errorf("scheduler: invalid piece selection policy: %s", config.Policy)
	}

	return &Scheduler{
		config:          config,
		layout:          l,
		storage:         st,
		clk:             clk,
		logger:          logger,
		policy:          policy,
		owned:           owned.Clone(),
		numPeersByPiece: syncutil.NewCounters(l.NumPieces()),
		replicateCount:  make([]int, l.NumPieces()),
		peerHave:        make(map[core.PeerID]*bitset.BitSet),
		peerUnchoked:    make(map[core.PeerID]bool),
		assignments:     make(map[core.PeerID]map[int]bool),
		pieces:          make(map[int]*pieceState),
		backoffDeadline: make(map[backoffKey]time.Time),
		backoffAttempt:  make(map[backoffKey]int),
		updated:         make(map[core.PeerID]bool),
	}, nil
}

// AddPeer registers a newly arrived peer with its initial possession
// bitfield and unchoked state, then assigns it pieces.
func (s *Scheduler) AddPeer(peerID core.PeerID, have *bitset.BitSet, unchoked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.peerHave[peerID] = have.Clone()
	s.peerUnchoked[peerID] = unchoked
	s.assignments[peerID] = make(map[int]bool)
	for i, ok := have.NextSet(0); ok; i, ok = have.NextSet(i + 1) {
		s.numPeersByPiece.Increment(int(i))
	}
	s.assign(peerID)
}

// RemovePeer unregisters a peer whose actor has been destroyed, releasing
// its assignments and possession counts.
func (s *Scheduler) RemovePeer(peerID core.PeerID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if have, ok := s.peerHave[peerID]; ok {
		for i, ok := have.NextSet(0); ok; i, ok = have.NextSet(i + 1) {
			s.numPeersByPiece.Decrement(int(i))
		}
	}
	for piece := range s.assignments[peerID] {
		s.unassignLocked(peerID, piece)
	}
	delete(s.peerHave, peerID)
	delete(s.peerUnchoked, peerID)
	delete(s.assignments, peerID)
	delete(s.updated, peerID)
	for _, ps := range s.pieces {
		for r, peers := range ps.requested {
			delete(peers, peerID)
			if len(peers) == 0 {
				delete(ps.requested, r)
			}
		}
	}
}

// UpdatePossession replaces a peer's known possession bitfield (driven by
// Have/Bitfield/HaveAll/HaveNone events) and reassigns it.
func (s *Scheduler) UpdatePossession(peerID core.PeerID, have *bitset.BitSet) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.peerHave[peerID]
	if !ok {
		prev = bitset.New(have.Len())
	}
	for i := uint(0); i < have.Len(); i++ {
		hadIt, hasIt := prev.Test(i), have.Test(i)
		if hasIt && !hadIt {
			s.numPeersByPiece.Increment(int(i))
		} else if hadIt && !hasIt {
			s.numPeersByPiece.Decrement(int(i))
		}
	}
	s.peerHave[peerID] = have.Clone()
	s.assign(peerID)
}

// SetUnchoked updates whether the peer has unchoked us. A peer transitioning
// to choked keeps its assignments (so in-flight blocks aren't abandoned) but
// is no longer eligible for further assignment until it unchokes again.
func (s *Scheduler) SetUnchoked(peerID core.PeerID, unchoked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peerUnchoked[peerID] = unchoked
	if unchoked {
		s.assign(peerID)
	}
}

// assign chooses up to (max_assignments - current) pieces, by the configured selection policy,
// peerID has and we lack, subject to max_replicates. Caller must hold s.mu.
func (s *Scheduler) assign(peerID core.PeerID) {
	if !s.peerUnchoked[peerID] {
		return
	}
	have, ok := s.peerHave[peerID]
	if !ok {
		return
	}

	maxAssignments, maxReplicates := s.limitsLocked()

	current := s.assignments[peerID]
	quota := maxAssignments - len(current)
	if quota <= 0 {
		return
	}

	candidates := have.Difference(s.owned)
	valid := func(i int) bool {
		if current[i] {
			return false
		}
		if s.replicateCount[i] >= maxReplicates {
			return false
		}
		if s.backoffActiveLocked(peerID, i) {
			return false
		}
		return true
	}

	pieces, err := s.policy.selectPieces(quota, valid, candidates, s.numPeersByPiece)
	if err != nil {
		s.logger.Errorf("piece selection failed for peer %s: %s", peerID, err)
		return
	}
	for _, i := range pieces {
		current[i] = true
		s.replicateCount[i]++
		if _, ok := s.pieces[i]; !ok {
			s.pieces[i] = newPieceState(s.layout.PieceLen(i))
		}
	}
	if len(pieces) > 0 {
		s.updated[peerID] = true
	}
}

// limitsLocked returns the currently effective max_assignments and
// max_replicates, entering/leaving endgame as the missing-piece fraction
// crosses EndgameThresholdFraction. Caller must hold s.mu.
func (s *Scheduler) limitsLocked() (maxAssignments, maxReplicates int) {
	if s.config.DisableEndgame {
		return s.config.MaxAssignments, s.config.MaxReplicates
	}
	total := s.layout.NumPieces()
	missing := total - int(s.owned.Count())
	fraction := float64(missing) / float64(total)
	s.endgame = fraction <= s.config.EndgameThresholdFraction
	if s.endgame {
		return s.config.EndgameMaxAssignments, s.config.EndgameMaxReplicates
	}
	return s.config.MaxAssignments, s.config.MaxReplicates
}

// Endgame reports whether the scheduler currently considers itself in
// endgame mode.
func (s *Scheduler) Endgame() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endgame
}

func (s *Scheduler) unassignLocked(peerID core.PeerID, piece int) {
	if s.assignments[peerID] == nil || !s.assignments[peerID][piece] {
		return
	}
	delete(s.assignments[peerID], piece)
	s.replicateCount[piece]--
}

// NextBlocks returns up to limit not-yet-requested blocks from pieces
// currently assigned to peerID, marking them requested.
func (s *Scheduler) NextBlocks(peerID core.PeerID, limit int) []layout.BlockRange {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []layout.BlockRange
	for piece := range s.assignments[peerID] {
		ps := s.pieces[piece]
		if ps == nil {
			continue
		}
		for _, g := range ps.progress.Missing() {
			for _, b := range s.layout.Blocks(piece) {
				if b.Offset < g.start || b.End() > g.end {
					continue
				}
				if ps.requested[b][peerID] {
					continue
				}
				if peers, ok := ps.requested[b]; ok && len(peers) > 0 && !s.endgame {
					continue
				}
				if ps.requested[b] == nil {
					ps.requested[b] = make(map[core.PeerID]bool)
				}
				ps.requested[b][peerID] = true
				out = append(out, b)
				if len(out) >= limit {
					return out
				}
			}
		}
	}
	return out
}

// OnBlockReceived records a block's arrival, writes it to storage and, if
// it completes the piece, verifies it against the expected hash.
func (s *Scheduler) OnBlockReceived(peerID core.PeerID, r layout.BlockRange, data []byte) (BlockResult, error) {
	s.mu.Lock()
	ps, ok := s.pieces[r.Piece]
	if !ok {
		ps = newPieceState(s.layout.PieceLen(r.Piece))
		s.pieces[r.Piece] = ps
	}

	var cancel []CancelTarget
	for other := range ps.requested[r] {
		if other != peerID {
			cancel = append(cancel, CancelTarget{PeerID: other, Block: r})
		}
	}
	delete(ps.requested, r)
	ps.progress.Add(r.Offset, r.Size)
	s.mu.Unlock()

	if err := s.storage.Write(r, data); err != nil {
		return BlockResult{}, fmt.Errorf("scheduler: write block: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.markUpdatedForPieceLocked(r.Piece)

	if !ps.progress.IsCompleted() {
		return BlockResult{PieceIndex: r.Piece, Cancel: cancel}, nil
	}

	ok, err := s.storage.Verify(r.Piece)
	if err != nil {
		return BlockResult{}, fmt.Errorf("scheduler: verify piece %d: %w", r.Piece, err)
	}
	for b, peers := range ps.requested {
		for p := range peers {
			cancel = append(cancel, CancelTarget{PeerID: p, Block: b})
		}
	}
	delete(s.pieces, r.Piece)

	if ok {
		s.owned.Set(uint(r.Piece))
		for p := range s.assignments {
			s.unassignLocked(p, r.Piece)
		}
		return BlockResult{PieceIndex: r.Piece, PieceCompleted: true, Verified: true, Cancel: cancel}, nil
	}

	// Verification failed: discard progress and re-queue the whole piece.
	for p := range s.assignments {
		s.unassignLocked(p, r.Piece)
	}
	return BlockResult{PieceIndex: r.Piece, PieceCompleted: true, Verified: false, Cancel: cancel}, nil
}

// OnBlockError handles a requested block being dropped, rejected, or timed
// out: it is re-queued and the (peer, piece) pair backs off for a doubling
// interval before being retried.
func (s *Scheduler) OnBlockError(peerID core.PeerID, r layout.BlockRange) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ps, ok := s.pieces[r.Piece]; ok {
		if peers, ok := ps.requested[r]; ok {
			delete(peers, peerID)
			if len(peers) == 0 {
				delete(ps.requested, r)
			}
		}
	}

	key := backoffKey{peer: peerID, piece: r.Piece}
	attempt := s.backoffAttempt[key]
	wait := s.config.BackoffMin << attempt
	if wait > s.config.BackoffMax || wait <= 0 {
		wait = s.config.BackoffMax
	}
	s.backoffAttempt[key] = attempt + 1
	s.backoffDeadline[key] = s.clk.Now().Add(wait)

	s.unassignLocked(peerID, r.Piece)
	s.updated[peerID] = true
}

func (s *Scheduler) backoffActiveLocked(peerID core.PeerID, piece int) bool {
	deadline, ok := s.backoffDeadline[backoffKey{peer: peerID, piece: piece}]
	return ok && s.clk.Now().Before(deadline)
}

// Tick removes expired backoffs and re-attempts assignment for any peer
// whose backoff entries have cleared since the previous tick.
func (s *Scheduler) Tick() {
	s.mu.Lock()
	now := s.clk.Now()
	var freed []core.PeerID
	for key, deadline := range s.backoffDeadline {
		if !now.Before(deadline) {
			delete(s.backoffDeadline, key)
			delete(s.backoffAttempt, key)
			freed = append(freed, key.peer)
		}
	}
	s.mu.Unlock()

	for _, peerID := range freed {
		s.mu.Lock()
		s.assign(peerID)
		s.mu.Unlock()
	}
}

func (s *Scheduler) markUpdatedForPieceLocked(piece int) {
	for peerID, assigned := range s.assignments {
		if assigned[piece] {
			s.updated[peerID] = true
		}
	}
}

// TakeUpdated returns peers whose assignments changed since the previous
// call, then clears the set.
func (s *Scheduler) TakeUpdated() []core.PeerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.PeerID, 0, len(s.updated))
	for p := range s.updated {
		out = append(out, p)
	}
	s.updated = make(map[core.PeerID]bool)
	return out
}

// Idle reports whether every needed piece currently has zero assignable
// peers: no peer both holds the piece and has unchoked us.
func (s *Scheduler) Idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := 0; i < s.layout.NumPieces(); i++ {
		if s.owned.Test(uint(i)) {
			continue
		}
		for peerID, have := range s.peerHave {
			if s.peerUnchoked[peerID] && have.Test(uint(i)) {
				return false
			}
		}
	}
	return true
}

// MissingCount returns the number of pieces not yet owned.
func (s *Scheduler) MissingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.layout.NumPieces() - int(s.owned.Count())
}

// Owned returns a snapshot of the owned-piece bitfield.
func (s *Scheduler) Owned() *bitset.BitSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owned.Clone()
}
