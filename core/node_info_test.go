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
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompactNodeInfoRoundTrip(t *testing.T) {
	require := require.New(t)

	id, err := RandomNodeID()
	require.NoError(err)
	n := NewNodeInfo(id, &net.UDPAddr{IP: net.ParseIP("1.2.3.4"), Port: 6881})

	var buf []byte
	buf, err = EncodeCompactNodeInfo(buf, n)
	require.NoError(err)
	require.Len(buf, CompactNodeInfoLen)

	got, err := DecodeCompactNodeInfos(buf)
	require.NoError(err)
	require.Len(got, 1)
	require.Equal(n.ID, got[0].ID)
	require.Equal("1.2.3.4", got[0].Addr.IP.String())
	require.Equal(6881, got[0].Addr.Port)
}

func TestSortedByDistance(t *testing.T) {
	require := require.New(t)

	target, _ := NewNodeID("0000000000000000000000000000000000000000")
	near, _ := NewNodeID("0000000000000000000000000000000000000001")
	mid, _ := NewNodeID("0000000000000000000000000000000000000f00")
	far, _ := NewNodeID("ffffffffffffffffffffffffffffffffffffffff")

	nodes := []NodeInfo{
		NewNodeInfo(far, &net.UDPAddr{}),
		NewNodeInfo(near, &net.UDPAddr{}),
		NewNodeInfo(mid, &net.UDPAddr{}),
	}
	sorted := SortedByDistance(nodes, target)
	require.Equal(near, sorted[0].ID)
	require.Equal(mid, sorted[1].ID)
	require.Equal(far, sorted[2].ID)
}
