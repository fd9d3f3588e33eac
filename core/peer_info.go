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
	"fmt"
	"net"
	"sort"
)

// PeerInfo defines a swarm member's identity and address, as returned by the
// DHT's get_peers / announce_peer and used to dial a wire handshake.
type PeerInfo struct {
	PeerID   PeerID `json:"peer_id"`
	IP       string `json:"ip"`
	Port     int    `json:"port"`
	Complete bool   `json:"complete"`
}

// NewPeerInfo creates a new PeerInfo.
func NewPeerInfo(peerID PeerID, ip string, port int, complete bool) *PeerInfo {
	return &PeerInfo{
		PeerID:   peerID,
		IP:       ip,
		Port:     port,
		Complete: complete,
	}
}

// PeerInfoFromContext derives PeerInfo from a PeerContext.
func PeerInfoFromContext(pctx PeerContext, complete bool) *PeerInfo {
	return NewPeerInfo(pctx.PeerID, pctx.IP, pctx.Port, complete)
}

// Addr returns p's dialable TCP address.
func (p *PeerInfo) Addr() string {
	return fmt.Sprintf("%s:%d", p.IP, p.Port)
}

// CompactPeerInfoLen is the wire size of one compact peer entry: 4-byte IPv4
// + 2-byte big-endian port, per BEP 5 / BEP 23.
const CompactPeerInfoLen = 6

// EncodeCompactPeerInfo appends the compact encoding of p to buf. Compact
// peer entries carry no peer id; it is learned from the subsequent wire
// handshake.
func EncodeCompactPeerInfo(buf []byte, p *PeerInfo) ([]byte, error) {
	ip4 := net.ParseIP(p.IP).To4()
	if ip4 == nil {
		return nil, fmt.Errorf("peer %s: not an IPv4 address", p.IP)
	}
	buf = append(buf, ip4...)
	buf = append(buf, byte(p.Port>>8), byte(p.Port))
	return buf, nil
}

// DecodeCompactPeerInfos parses a concatenated list of compact peer entries.
func DecodeCompactPeerInfos(b []byte) ([]*PeerInfo, error) {
	if len(b)%CompactPeerInfoLen != 0 {
		return nil, fmt.Errorf("compact peers: invalid length %d", len(b))
	}
	var peers []*PeerInfo
	for i := 0; i+CompactPeerInfoLen <= len(b); i += CompactPeerInfoLen {
		ip := net.IPv4(b[i], b[i+1], b[i+2], b[i+3]).String()
		port := int(b[i+4])<<8 | int(b[i+5])
		peers = append(peers, &PeerInfo{IP: ip, Port: port})
	}
	return peers, nil
}

// PeerInfos groups PeerInfo structs for sorting.
type PeerInfos []*PeerInfo

// Len for sorting.
func (s PeerInfos) Len() int { return len(s) }

// Swap for sorting.
func (s PeerInfos) Swap(i, j int) { s[i], s[j] = s[j], s[i] }

// PeersByPeerID sorts PeerInfos by peer id.
type PeersByPeerID struct{ PeerInfos }

// Less for sorting.
func (s PeersByPeerID) Less(i, j int) bool {
	return s.PeerInfos[i].PeerID.LessThan(s.PeerInfos[j].PeerID)
}

// SortedByPeerID returns a copy of peers which has been sorted by peer id.
func SortedByPeerID(peers []*PeerInfo) []*PeerInfo {
	c := make([]*PeerInfo, len(peers))
	copy(c, peers)
	sort.Sort(PeersByPeerID{PeerInfos(c)})
	return c
}
