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

// NodeInfo is a DHT node's identity paired with its UDP endpoint.
type NodeInfo struct {
	ID   NodeID
	Addr *net.UDPAddr
}

// NewNodeInfo creates a NodeInfo.
func NewNodeInfo(id NodeID, addr *net.UDPAddr) NodeInfo {
	return NodeInfo{ID: id, Addr: addr}
}

func (n NodeInfo) String() string {
	return fmt.Sprintf("NodeInfo(id=%s, addr=%s)", n.ID, n.Addr)
}

// CompactNodeInfoLen is the wire size of one compact node entry: 20-byte id
// + 4-byte IPv4 + 2-byte big-endian port, per BEP 5.
const CompactNodeInfoLen = NodeIDLength + 4 + 2

// EncodeCompactNodeInfo appends the compact encoding of n to buf.
func EncodeCompactNodeInfo(buf []byte, n NodeInfo) ([]byte, error) {
	ip4 := n.Addr.IP.To4()
	if ip4 == nil {
		return nil, fmt.Errorf("node %s: not an IPv4 address", n.ID)
	}
	buf = append(buf, n.ID[:]...)
	buf = append(buf, ip4...)
	port := n.Addr.Port
	buf = append(buf, byte(port>>8), byte(port))
	return buf, nil
}

// DecodeCompactNodeInfos parses a concatenated list of compact node entries.
func DecodeCompactNodeInfos(b []byte) ([]NodeInfo, error) {
	if len(b)%CompactNodeInfoLen != 0 {
		return nil, fmt.Errorf("compact nodes: invalid length %d", len(b))
	}
	var nodes []NodeInfo
	for i := 0; i+CompactNodeInfoLen <= len(b); i += CompactNodeInfoLen {
		var id NodeID
		copy(id[:], b[i:i+NodeIDLength])
		ip := net.IPv4(b[i+20], b[i+21], b[i+22], b[i+23])
		port := int(b[i+24])<<8 | int(b[i+25])
		nodes = append(nodes, NodeInfo{ID: id, Addr: &net.UDPAddr{IP: ip, Port: port}})
	}
	return nodes, nil
}

// NodeInfos groups NodeInfo structs for sorting.
type NodeInfos []NodeInfo

func (s NodeInfos) Len() int      { return len(s) }
func (s NodeInfos) Swap(i, j int) { s[i], s[j] = s[j], s[i] }

// NodesByID sorts NodeInfos by node id.
type NodesByID struct{ NodeInfos }

// Less orders by ascending NodeID.
func (s NodesByID) Less(i, j int) bool {
	return s.NodeInfos[i].ID.Hex() < s.NodeInfos[j].ID.Hex()
}

// SortedByID returns a copy of nodes sorted by ascending NodeID.
func SortedByID(nodes []NodeInfo) []NodeInfo {
	c := make([]NodeInfo, len(nodes))
	copy(c, nodes)
	sort.Sort(NodesByID{NodeInfos(c)})
	return c
}

// byDistance sorts NodeInfos by ascending XOR distance to a fixed target.
type byDistance struct {
	nodes  []NodeInfo
	target NodeID
}

func (s byDistance) Len() int      { return len(s.nodes) }
func (s byDistance) Swap(i, j int) { s.nodes[i], s.nodes[j] = s.nodes[j], s.nodes[i] }
func (s byDistance) Less(i, j int) bool {
	return s.nodes[i].ID.CloserThan(s.nodes[j].ID, s.target)
}

// SortedByDistance returns a copy of nodes sorted by ascending XOR distance
// to target.
func SortedByDistance(nodes []NodeInfo, target NodeID) []NodeInfo {
	c := make([]NodeInfo, len(nodes))
	copy(c, nodes)
	sort.Sort(byDistance{c, target})
	return c
}
