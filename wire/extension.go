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
package wire

import (
	"fmt"
	"sync"

	"github.com/torrentd/peerstack/bcodec"
)

// ExtensionHandshakeID is the reserved Extended message id (0) used for the
// BEP 10 handshake dictionary itself; all other ids are assigned by the "m"
// map and are free to vary per connection.
const ExtensionHandshakeID = 0

// ExtensionHandshake is the bencoded dictionary sent as Extended message id
// 0, per BEP 10. v and reqq are optional but widely exchanged, so both
// are carried even though BEP 10 only requires "m".
type ExtensionHandshake struct {
	M            map[string]byte
	MetadataSize int
	HasMetadata  bool
	V            string
	Reqq         int
}

// Encode renders h as a canonical bencode dictionary.
func (h ExtensionHandshake) Encode() ([]byte, error) {
	m := bcodec.NewDict()
	for name, id := range h.M {
		m[name] = bcodec.Integer(id)
	}
	d := bcodec.NewDict()
	d["m"] = m
	if h.HasMetadata {
		d["metadata_size"] = bcodec.Integer(h.MetadataSize)
	}
	if h.V != "" {
		d["v"] = bcodec.NewString(h.V)
	}
	if h.Reqq != 0 {
		d["reqq"] = bcodec.Integer(h.Reqq)
	}
	return bcodec.Encode(d)
}

// DecodeExtensionHandshake parses a BEP 10 handshake dictionary.
func DecodeExtensionHandshake(b []byte) (*ExtensionHandshake, error) {
	v, err := bcodec.Decode(b)
	if err != nil {
		return nil, fmt.Errorf("decode extension handshake: %w", err)
	}
	d, ok := v.(bcodec.Dict)
	if !ok {
		return nil, fmt.Errorf("%w: extension handshake is not a dict", ErrMalformedMessage)
	}
	h := &ExtensionHandshake{M: make(map[string]byte)}
	mv, ok := d.GetDict("m")
	if !ok {
		return nil, fmt.Errorf("%w: extension handshake missing \"m\"", ErrMalformedMessage)
	}
	for name, val := range mv {
		id, ok := val.(bcodec.Integer)
		if !ok {
			return nil, fmt.Errorf("%w: \"m\" entry %q is not an integer", ErrMalformedMessage, name)
		}
		h.M[name] = byte(id)
	}
	if size, ok := d.GetInteger("metadata_size"); ok {
		h.MetadataSize = int(size)
		h.HasMetadata = true
	}
	if v, ok := d.GetString("v"); ok {
		h.V = string(v)
	}
	if reqq, ok := d.GetInteger("reqq"); ok {
		h.Reqq = int(reqq)
	}
	return h, nil
}

// IDMap is a bidirectional association between extension names and the
// numeric ids each side of a connection assigns them. The local-id half is fixed at construction;
// the peer-id half is populated from the peer's handshake dictionary.
type IDMap struct {
	mu        sync.RWMutex
	localByID map[byte]string
	local     map[string]byte
	peer      map[string]byte
}

// NewIDMap creates an IDMap advertising the given local name->id
// assignments.
func NewIDMap(local map[string]byte) *IDMap {
	byID := make(map[byte]string, len(local))
	for name, id := range local {
		byID[id] = name
	}
	return &IDMap{
		localByID: byID,
		local:     local,
		peer:      make(map[string]byte),
	}
}

// UpdatePeer replaces the peer's extension id assignments, as (re-)sent in
// its most recent handshake dictionary.
func (m *IDMap) UpdatePeer(peerM map[string]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.peer = make(map[string]byte, len(peerM))
	for name, id := range peerM {
		m.peer[name] = id
	}
}

// PeerID returns the numeric id the peer uses for the named extension.
func (m *IDMap) PeerID(name string) (byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.peer[name]
	return id, ok
}

// LocalName returns the extension name the local side assigned to id.
func (m *IDMap) LocalName(id byte) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	name, ok := m.localByID[id]
	return name, ok
}

// LocalM returns the local id assignments as sent in the handshake "m" map.
func (m *IDMap) LocalM() map[string]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]byte, len(m.local))
	for name, id := range m.local {
		out[name] = id
	}
	return out
}
