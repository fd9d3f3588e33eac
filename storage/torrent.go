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
package storage

import (
	"bytes"
	"crypto/sha1"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/willf/bitset"

	"github.com/torrentd/peerstack/core"
	"github.com/torrentd/peerstack/layout"
)

// ErrPieceComplete occurs when a write targets a piece that is already
// marked complete.
var ErrPieceComplete = errors.New("storage: piece is already complete")

// hashBufSize bounds the memory used while hashing a piece: data is
// streamed through this buffer rather than read into memory whole.
const hashBufSize = 32 * 1024

// Torrent owns a torrent's on-disk byte range: one or many files under a
// root directory, addressed by piece/block coordinates from layout.Layout.
type Torrent struct {
	meta  *Metainfo
	root  string
	spans []fileSpan

	mu       sync.Mutex
	complete *bitset.BitSet
}

// New creates a Torrent rooted at root, preallocating every file named by
// meta.Files. root is created if it does not exist.
func New(meta *Metainfo, root string) (*Torrent, error) {
	if err := preallocate(root, meta.Files); err != nil {
		return nil, err
	}
	return &Torrent{
		meta:     meta,
		root:     root,
		spans:    layoutFiles(meta.Files),
		complete: bitset.New(uint(meta.Layout.NumPieces())),
	}, nil
}

// InfoHash returns the torrent's identifying hash.
func (t *Torrent) InfoHash() core.InfoHash { return t.meta.InfoHash }

// NumPieces returns the number of pieces in the torrent.
func (t *Torrent) NumPieces() int { return t.meta.Layout.NumPieces() }

// Length returns the torrent's total size in bytes.
func (t *Torrent) Length() int64 { return t.meta.Layout.Size() }

// Layout exposes the piece/block coordinate math for this torrent.
func (t *Torrent) Layout() *layout.Layout { return t.meta.Layout }

// Bitfield returns a snapshot of which pieces are complete.
func (t *Torrent) Bitfield() *bitset.BitSet {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.complete.Clone()
}

// HasPiece reports whether piece i is marked complete.
func (t *Torrent) HasPiece(i int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.complete.Test(uint(i))
}

// Complete reports whether every piece is marked complete.
func (t *Torrent) Complete() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return int(t.complete.Count()) == t.meta.Layout.NumPieces()
}

// MissingPieces returns the indices of every incomplete piece.
func (t *Torrent) MissingPieces() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	var missing []int
	for i := 0; i < t.meta.Layout.NumPieces(); i++ {
		if !t.complete.Test(uint(i)) {
			missing = append(missing, i)
		}
	}
	return missing
}

// Scan hashes every piece on disk and returns the resulting bitfield,
// marking each verified piece complete in-memory as a side effect.
func (t *Torrent) Scan() (*bitset.BitSet, error) {
	for i := 0; i < t.meta.Layout.NumPieces(); i++ {
		ok, err := t.Verify(i)
		if err != nil {
			return nil, err
		}
		t.mu.Lock()
		t.complete.SetTo(uint(i), ok)
		t.mu.Unlock()
	}
	return t.Bitfield(), nil
}

// Verify hashes piece i directly from disk and compares it against the
// expected SHA-1 digest, without marking any in-memory state.
func (t *Torrent) Verify(i int) (bool, error) {
	if i < 0 || i >= t.meta.Layout.NumPieces() {
		return false, fmt.Errorf("storage: piece %d out of bounds", i)
	}
	pieceLen := t.meta.Layout.PieceLen(i)
	h := sha1.New()
	if pieceLen > 0 {
		if err := t.hashRange(layout.BlockRange{Piece: i, Offset: 0, Size: pieceLen}, h); err != nil {
			return false, err
		}
	}
	var sum [sha1.Size]byte
	copy(sum[:], h.Sum(nil))
	return sum == t.meta.PieceHashes[i], nil
}

func (t *Torrent) hashRange(r layout.BlockRange, w io.Writer) error {
	buf := make([]byte, hashBufSize)
	remaining := r.Size
	offset := t.meta.Layout.GlobalOffset(r)
	for remaining > 0 {
		n := int64(len(buf))
		if n > remaining {
			n = remaining
		}
		if err := t.readAt(offset, buf[:n]); err != nil {
			return err
		}
		if _, err := w.Write(buf[:n]); err != nil {
			return err
		}
		offset += n
		remaining -= n
	}
	return nil
}

// WritePiece writes an entire piece's bytes, verifies it against the
// expected hash, and on success marks it complete. On failure the piece
// remains (or is returned to) incomplete so the caller can re-queue it.
func (t *Torrent) WritePiece(i int, data []byte) (bool, error) {
	if t.HasPiece(i) {
		return false, ErrPieceComplete
	}
	pieceLen := t.meta.Layout.PieceLen(i)
	if int64(len(data)) != pieceLen {
		return false, fmt.Errorf("storage: piece %d expects %d bytes, got %d", i, pieceLen, len(data))
	}
	if err := t.Write(layout.BlockRange{Piece: i, Offset: 0, Size: pieceLen}, data); err != nil {
		return false, err
	}
	ok, err := t.Verify(i)
	if err != nil {
		return false, err
	}
	if ok {
		t.mu.Lock()
		t.complete.Set(uint(i))
		t.mu.Unlock()
	}
	return ok, nil
}

// Read fills buf (len(buf) must equal r.Size) with the bytes addressed by
// r, seeking across file boundaries as needed.
func (t *Torrent) Read(r layout.BlockRange, buf []byte) error {
	if err := t.meta.Layout.CheckRange(r); err != nil {
		return err
	}
	if int64(len(buf)) != r.Size {
		return fmt.Errorf("storage: buffer length %d does not match range size %d", len(buf), r.Size)
	}
	return t.readAt(t.meta.Layout.GlobalOffset(r), buf)
}

// Write stores buf (len(buf) must equal r.Size) at the bytes addressed by
// r, seeking across file boundaries as needed.
func (t *Torrent) Write(r layout.BlockRange, buf []byte) error {
	if err := t.meta.Layout.CheckRange(r); err != nil {
		return err
	}
	if int64(len(buf)) != r.Size {
		return fmt.Errorf("storage: buffer length %d does not match range size %d", len(buf), r.Size)
	}
	return t.writeAt(t.meta.Layout.GlobalOffset(r), buf)
}

// GetPieceReader returns a lazy reader for an already-complete piece.
func (t *Torrent) GetPieceReader(i int) (io.ReadCloser, error) {
	if !t.HasPiece(i) {
		return nil, fmt.Errorf("storage: piece %d is not complete", i)
	}
	pieceLen := t.meta.Layout.PieceLen(i)
	buf := make([]byte, pieceLen)
	if pieceLen > 0 {
		if err := t.Read(layout.BlockRange{Piece: i, Offset: 0, Size: pieceLen}, buf); err != nil {
			return nil, err
		}
	}
	return io.NopCloser(bytes.NewReader(buf)), nil
}

// readAt/writeAt slice [offset, offset+len(buf)) across however many files
// it spans, opening each file only for the duration of its sub-range.
func (t *Torrent) readAt(offset int64, buf []byte) error {
	return t.forEachSpan(offset, int64(len(buf)), func(fullPath string, fileOff, bufOff, n int64) error {
		fd, err := os.Open(fullPath)
		if err != nil {
			return fmt.Errorf("storage: open %s: %s", fullPath, err)
		}
		defer fd.Close()
		_, err = fd.ReadAt(buf[bufOff:bufOff+n], fileOff)
		if err != nil {
			return fmt.Errorf("storage: read %s at %d: %s", fullPath, fileOff, err)
		}
		return nil
	})
}

func (t *Torrent) writeAt(offset int64, buf []byte) error {
	return t.forEachSpan(offset, int64(len(buf)), func(fullPath string, fileOff, bufOff, n int64) error {
		fd, err := os.OpenFile(fullPath, os.O_RDWR, 0644)
		if err != nil {
			return fmt.Errorf("storage: open %s: %s", fullPath, err)
		}
		defer fd.Close()
		_, err = fd.WriteAt(buf[bufOff:bufOff+n], fileOff)
		if err != nil {
			return fmt.Errorf("storage: write %s at %d: %s", fullPath, fileOff, err)
		}
		return nil
	})
}

// forEachSpan calls fn once per file that [offset, offset+size) crosses,
// with the byte range translated into that file's local offset and the
// corresponding slice of the caller's buffer.
func (t *Torrent) forEachSpan(offset, size int64, fn func(fullPath string, fileOff, bufOff, n int64) error) error {
	end := offset + size
	var bufOff int64
	for _, span := range t.spans {
		if span.end() <= offset || span.globalBase >= end {
			continue
		}
		lo := offset
		if lo < span.globalBase {
			lo = span.globalBase
		}
		hi := end
		if hi > span.end() {
			hi = span.end()
		}
		n := hi - lo
		fullPath := filepath.Join(t.root, filepath.FromSlash(span.info.Path))
		if err := fn(fullPath, lo-span.globalBase, bufOff, n); err != nil {
			return err
		}
		bufOff += n
	}
	if bufOff != size {
		return fmt.Errorf("storage: range [%d, %d) exceeds torrent length %d", offset, end, t.meta.Layout.Size())
	}
	return nil
}
