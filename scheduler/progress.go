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

import "sort"

// byteRange is a half-open [start, end) byte range within a single piece.
type byteRange struct {
	start, end int64
}

// Progress tracks the not-yet-received byte ranges of a single piece as
// an ordered list of gaps,
// shrinking as blocks arrive, empty once the piece is fully received.
// Add is commutative and idempotent on ranges already marked received.
type Progress struct {
	missing []byteRange
}

// NewProgress creates a Progress for a piece of the given length, entirely
// missing.
func NewProgress(pieceLen int64) *Progress {
	if pieceLen <= 0 {
		return &Progress{}
	}
	return &Progress{missing: []byteRange{{0, pieceLen}}}
}

// Add marks [offset, offset+size) as received. Overlapping or repeated
// calls are safe: the range is simply removed from whatever gaps remain.
func (p *Progress) Add(offset, size int64) {
	if size <= 0 {
		return
	}
	start, end := offset, offset+size
	out := p.missing[:0:0]
	for _, g := range p.missing {
		if end <= g.start || start >= g.end {
			// No overlap; gap survives untouched.
			out = append(out, g)
			continue
		}
		// Overlap: keep whatever slivers of g fall outside [start, end).
		if g.start < start {
			out = append(out, byteRange{g.start, start})
		}
		if g.end > end {
			out = append(out, byteRange{end, g.end})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].start < out[j].start })
	p.missing = out
}

// IsCompleted reports whether every byte of the piece has been added.
func (p *Progress) IsCompleted() bool { return len(p.missing) == 0 }

// Missing returns a copy of the remaining not-yet-received ranges.
func (p *Progress) Missing() []byteRange {
	out := make([]byteRange, len(p.missing))
	copy(out, p.missing)
	return out
}
