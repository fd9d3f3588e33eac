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

// Package layout computes the piece/block coordinate math shared by
// storage, the scheduler and the wire protocol: given a torrent's total
// size, piece size and block size, it derives per-piece sizes, byte
// offsets and the block ranges a piece decomposes into.
package layout

import (
	"errors"
	"fmt"
)

// Layout describes how a torrent's bytes are partitioned into pieces and
// blocks. It is immutable once constructed.
type Layout struct {
	size          int64
	pieceSize     int64
	lastPieceSize int64
	numPieces     int
	blockSize     int64
}

// New validates and constructs a Layout. It enforces the invariant
// (numPieces-1)*pieceSize < size <= numPieces*pieceSize and
// 0 < blockSize <= pieceSize.
func New(size, pieceSize, blockSize int64) (*Layout, error) {
	if size < 0 {
		return nil, errors.New("layout: size must be non-negative")
	}
	if pieceSize <= 0 {
		return nil, errors.New("layout: piece size must be positive")
	}
	if blockSize <= 0 || blockSize > pieceSize {
		return nil, fmt.Errorf("layout: block size must be in (0, %d]", pieceSize)
	}

	numPieces := int((size + pieceSize - 1) / pieceSize)
	lastPieceSize := pieceSize
	if numPieces == 0 {
		// An empty torrent still has exactly one (empty) piece slot so that
		// callers needn't special-case zero-length torrents.
		numPieces = 1
		lastPieceSize = 0
	} else if rem := size % pieceSize; rem != 0 {
		lastPieceSize = rem
	}

	return &Layout{
		size:          size,
		pieceSize:     pieceSize,
		lastPieceSize: lastPieceSize,
		numPieces:     numPieces,
		blockSize:     blockSize,
	}, nil
}

// Size returns the torrent's total size in bytes.
func (l *Layout) Size() int64 { return l.size }

// NumPieces returns the number of pieces in the torrent.
func (l *Layout) NumPieces() int { return l.numPieces }

// PieceSize returns the maximum (non-last) piece size.
func (l *Layout) PieceSize() int64 { return l.pieceSize }

// BlockSize returns the configured maximum block size.
func (l *Layout) BlockSize() int64 { return l.blockSize }

// PieceLen returns the size in bytes of piece i: pieceSize for every piece
// but the last, lastPieceSize for the last.
func (l *Layout) PieceLen(i int) int64 {
	if i < 0 || i >= l.numPieces {
		return 0
	}
	if i == l.numPieces-1 {
		return l.lastPieceSize
	}
	return l.pieceSize
}

// PieceOffset returns the byte offset of piece i within the torrent.
func (l *Layout) PieceOffset(i int) int64 {
	return int64(i) * l.pieceSize
}

// BlockRange is a (piece index, offset, size) triple identifying a
// contiguous byte range within a single piece. Offset and size are
// relative to the start of the piece, never the torrent.
type BlockRange struct {
	Piece  int
	Offset int64
	Size   int64
}

// End returns the exclusive end offset of r within its piece.
func (r BlockRange) End() int64 {
	return r.Offset + r.Size
}

func (r BlockRange) String() string {
	return fmt.Sprintf("BlockRange(piece=%d, offset=%d, size=%d)", r.Piece, r.Offset, r.Size)
}

// Blocks returns the sequence of BlockRanges piece i decomposes into. Every
// range is at most BlockSize bytes; ranges are contiguous, non-overlapping,
// and sum to PieceLen(i). No range straddles a piece boundary.
func (l *Layout) Blocks(i int) []BlockRange {
	pieceLen := l.PieceLen(i)
	if pieceLen == 0 {
		return nil
	}
	var blocks []BlockRange
	for off := int64(0); off < pieceLen; off += l.blockSize {
		size := l.blockSize
		if off+size > pieceLen {
			size = pieceLen - off
		}
		blocks = append(blocks, BlockRange{Piece: i, Offset: off, Size: size})
	}
	return blocks
}

// NumBlocks returns the number of blocks piece i decomposes into, without
// allocating the slice Blocks would.
func (l *Layout) NumBlocks(i int) int {
	pieceLen := l.PieceLen(i)
	if pieceLen == 0 {
		return 0
	}
	return int((pieceLen + l.blockSize - 1) / l.blockSize)
}

// CheckRange reports whether r is a valid range within this layout: the
// piece index is in bounds, the size is positive, and offset+size does not
// exceed the piece's length.
func (l *Layout) CheckRange(r BlockRange) error {
	if r.Piece < 0 || r.Piece >= l.numPieces {
		return fmt.Errorf("layout: piece %d out of bounds [0, %d)", r.Piece, l.numPieces)
	}
	if r.Size <= 0 {
		return fmt.Errorf("layout: range %s has non-positive size", r)
	}
	if r.Offset < 0 || r.End() > l.PieceLen(r.Piece) {
		return fmt.Errorf("layout: range %s exceeds piece length %d", r, l.PieceLen(r.Piece))
	}
	return nil
}

// GlobalOffset returns r's absolute byte offset within the torrent.
func (l *Layout) GlobalOffset(r BlockRange) int64 {
	return l.PieceOffset(r.Piece) + r.Offset
}
