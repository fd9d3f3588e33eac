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
package core

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
)

// InfoHash is the 20-byte SHA-1 hash of a torrent's canonical-bencoded info
// dictionary: the identifier exchanged in DHT
// get_peers/announce_peer queries, BitTorrent handshakes and peer-wire
// extension negotiation. It is ordered (for use as a routing/peers-map key
// alongside core.NodeID) and hashable by value.
type InfoHash [20]byte

// NewInfoHashFromHex converts a hexidemical string into an InfoHash
func NewInfoHashFromHex(s string) (InfoHash, error) {
	if len(s) != 40 {
		return InfoHash{}, fmt.Errorf("invalid hash: expected 40 characters, got %d", len(s))
	}
	var h InfoHash
	n, err := hex.Decode(h[:], []byte(s))
	if err != nil {
		return InfoHash{}, fmt.Errorf("invalid hex: %s", err)
	}
	if n != 20 {
		return InfoHash{}, fmt.Errorf("invariant violation: expected 20 bytes, got %d", n)
	}
	return h, nil
}

// NewInfoHashFromBytes hashes the canonical-bencoded info dictionary bytes b
// into an InfoHash. Callers re-encode a parsed metainfo's info dict
// (storage.LoadMetainfo) and pass the resulting bytes here; this package has
// no bencode dependency of its own (see bcodec/storage for that layer).
func NewInfoHashFromBytes(b []byte) InfoHash {
	var h InfoHash
	hasher := sha1.New()
	hasher.Write(b)
	copy(h[:], hasher.Sum(nil))
	return h
}

// Bytes converts h to raw bytes.
func (h InfoHash) Bytes() []byte {
	return h[:]
}

// Hex converts h into a hexidemical string.
func (h InfoHash) Hex() string {
	return hex.EncodeToString(h[:])
}

func (h InfoHash) String() string {
	return h.Hex()
}

// IsZero reports whether h is the zero InfoHash (never a valid SHA-1 digest
// of a non-empty info dict, but worth distinguishing from "not yet known").
func (h InfoHash) IsZero() bool {
	return h == InfoHash{}
}

// Compare orders two InfoHashes by unsigned byte value, giving a total
// order usable for sorted peers-per-torrent maps.
func (h InfoHash) Compare(other InfoHash) int {
	return bytes.Compare(h[:], other[:])
}

// Less reports whether h sorts before other under Compare.
func (h InfoHash) Less(other InfoHash) bool {
	return h.Compare(other) < 0
}
