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
	"container/heap"

	"github.com/willf/bitset"

	"github.com/torrentd/peerstack/utils/syncutil"
)

// RarestFirstPolicy selects pieces that the fewest of our peers have,
// first, per BitTorrent's standard rarest-first piece selection.
const RarestFirstPolicy = "rarest_first"

type rarestFirstPolicy struct{}

func newRarestFirstPolicy() *rarestFirstPolicy {
	return &rarestFirstPolicy{}
}

// pieceHeap is a min-heap of candidate pieces ordered by how many peers
// have each piece, ascending.
type pieceHeap []pieceCandidate

type pieceCandidate struct {
	piece    int
	priority int
}

func (h pieceHeap) Len() int            { return len(h) }
func (h pieceHeap) Less(i, j int) bool  { return h[i].priority < h[j].priority }
func (h pieceHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *pieceHeap) Push(x interface{}) { *h = append(*h, x.(pieceCandidate)) }
func (h *pieceHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func (p *rarestFirstPolicy) selectPieces(
	limit int,
	valid func(int) bool,
	candidates *bitset.BitSet,
	numPeersByPiece *syncutil.Counters) ([]int, error) {

	h := make(pieceHeap, 0, candidates.Count())
	for i, ok := candidates.NextSet(0); ok; i, ok = candidates.NextSet(i + 1) {
		h = append(h, pieceCandidate{piece: int(i), priority: numPeersByPiece.Get(int(i))})
	}
	heap.Init(&h)

	pieces := make([]int, 0, limit)
	for len(pieces) < limit && h.Len() > 0 {
		c := heap.Pop(&h).(pieceCandidate)
		if valid(c.piece) {
			pieces = append(pieces, c.piece)
		}
	}
	return pieces, nil
}
