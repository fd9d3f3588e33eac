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
package peeractor

import (
	"sync"

	"github.com/willf/bitset"
)

// syncedBitfield guards a peer's possession bitfield with a mutex;
// *bitset.BitSet is not safe for concurrent use.
type syncedBitfield struct {
	mu  sync.Mutex
	b   *bitset.BitSet
}

func newSyncedBitfield(numPieces int) *syncedBitfield {
	return &syncedBitfield{b: bitset.New(uint(numPieces))}
}

func (s *syncedBitfield) set(i int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.b.Set(uint(i))
}

func (s *syncedBitfield) setAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := uint(0); i < s.b.Len(); i++ {
		s.b.Set(i)
	}
}

func (s *syncedBitfield) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.b = bitset.New(s.b.Len())
}

func (s *syncedBitfield) replace(b *bitset.BitSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.b = b
}

func (s *syncedBitfield) snapshot() *bitset.BitSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Clone()
}
