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

// Package storage owns a torrent's on-disk representation: the file
// layout derived from its metainfo, preallocation, piece verification and
// range-based reads/writes that may span multiple files.
package storage

import (
	"crypto/sha1"
	"fmt"
	"io"

	"github.com/jackpal/bencode-go"

	"github.com/torrentd/peerstack/core"
	"github.com/torrentd/peerstack/layout"
)

// FileInfo describes one file within a (possibly multi-file) torrent, with
// Path relative to the torrent's root directory.
type FileInfo struct {
	Path   string `bencode:"path"`
	Length int64  `bencode:"length"`
}

// rawInfo mirrors the bencoded "info" dictionary of a .torrent file.
type rawInfo struct {
	Name        string     `bencode:"name"`
	PieceLength int64      `bencode:"piece length"`
	Pieces      string     `bencode:"pieces"`
	Length      int64      `bencode:"length,omitempty"`
	Files       []FileInfo `bencode:"files,omitempty"`
}

type rawMetainfo struct {
	Announce string  `bencode:"announce,omitempty"`
	Info     rawInfo `bencode:"info"`
}

// Metainfo is the parsed, validated form of a .torrent file's info
// dictionary: the file layout, piece/block geometry and expected piece
// hashes, keyed by InfoHash for lookups against the DHT and peer wire.
type Metainfo struct {
	InfoHash    core.InfoHash
	Name        string
	Files       []FileInfo
	PieceHashes [][sha1.Size]byte
	Layout      *layout.Layout
}

// DefaultBlockSize is the block size used to decompose pieces when none is
// specified; 16 KiB is the size nearly every client requests in practice.
const DefaultBlockSize = 16 * 1024

// ParseMetainfo decodes a bencoded .torrent file and validates its info
// dictionary: single- or multi-file, relative paths only, a whole number
// of 20-byte piece hashes.
func ParseMetainfo(r io.Reader) (*Metainfo, error) {
	var raw rawMetainfo
	if err := bencode.Unmarshal(r, &raw); err != nil {
		return nil, fmt.Errorf("storage: decode metainfo: %s", err)
	}
	return newMetainfo(raw.Info)
}

func newMetainfo(info rawInfo) (*Metainfo, error) {
	if info.PieceLength <= 0 {
		return nil, fmt.Errorf("storage: invalid piece length %d", info.PieceLength)
	}
	if len(info.Pieces)%sha1.Size != 0 {
		return nil, fmt.Errorf("storage: pieces string length %d not a multiple of %d", len(info.Pieces), sha1.Size)
	}

	var files []FileInfo
	var total int64
	if len(info.Files) > 0 {
		for _, f := range info.Files {
			if err := checkRelativePath(f.Path); err != nil {
				return nil, err
			}
			files = append(files, f)
			total += f.Length
		}
	} else {
		if err := checkRelativePath(info.Name); err != nil {
			return nil, err
		}
		files = []FileInfo{{Path: info.Name, Length: info.Length}}
		total = info.Length
	}

	blockSize := int64(DefaultBlockSize)
	if blockSize > info.PieceLength {
		blockSize = info.PieceLength
	}
	lay, err := layout.New(total, info.PieceLength, blockSize)
	if err != nil {
		return nil, err
	}

	numHashes := len(info.Pieces) / sha1.Size
	if numHashes != lay.NumPieces() {
		return nil, fmt.Errorf(
			"storage: metainfo has %d piece hashes, expected %d", numHashes, lay.NumPieces())
	}
	hashes := make([][sha1.Size]byte, numHashes)
	for i := range hashes {
		copy(hashes[i][:], info.Pieces[i*sha1.Size:(i+1)*sha1.Size])
	}

	encoded, err := encodeInfo(info)
	if err != nil {
		return nil, err
	}
	infoHash := core.NewInfoHashFromBytes(encoded)

	return &Metainfo{
		InfoHash:    infoHash,
		Name:        info.Name,
		Files:       files,
		PieceHashes: hashes,
		Layout:      lay,
	}, nil
}

func encodeInfo(info rawInfo) ([]byte, error) {
	var buf writeBuffer
	if err := bencode.Marshal(&buf, info); err != nil {
		return nil, fmt.Errorf("storage: re-encode info dict: %s", err)
	}
	return buf.b, nil
}

// writeBuffer is a minimal io.Writer so we don't need to import bytes just
// for Marshal's sink.
type writeBuffer struct{ b []byte }

func (w *writeBuffer) Write(p []byte) (int, error) {
	w.b = append(w.b, p...)
	return len(p), nil
}
