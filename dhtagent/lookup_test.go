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
package dhtagent

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/torrentd/peerstack/core"
)

// TestLookupReachesNodeTwoHopsAway: a only knows b, b knows c. An iterative
// find_node for c's id must traverse b and end with c in the closest set.
func TestLookupReachesNodeTwoHopsAway(t *testing.T) {
	require := require.New(t)

	a := newTestAgent(t, testNodeID(t, 0x01), Config{})
	b := newTestAgent(t, testNodeID(t, 0x80), Config{})
	c := newTestAgent(t, testNodeID(t, 0x82), Config{})

	require.Nil(a.table.Insert(core.NewNodeInfo(b.localID, b.udpAddr())))
	require.Nil(b.table.Insert(core.NewNodeInfo(c.localID, c.udpAddr())))

	res, err := Lookup(a.Agent, c.localID, 3, false)
	require.NoError(err)

	found := map[core.NodeID]bool{}
	for _, n := range res.Closest {
		found[n.ID] = true
	}
	require.True(found[b.localID])
	require.True(found[c.localID])

	// Results come back sorted by XOR distance to the target, so c itself
	// leads.
	require.Equal(c.localID, res.Closest[0].ID)
}

// TestLookupFindsAnnouncedPeers: a get_peers lookup that reaches a node
// holding announces for the info hash surfaces those peers along with the
// responder's token, ready for a follow-up announce_peer.
func TestLookupFindsAnnouncedPeers(t *testing.T) {
	require := require.New(t)

	a := newTestAgent(t, testNodeID(t, 0x01), Config{})
	b := newTestAgent(t, testNodeID(t, 0x80), Config{})

	require.Nil(a.table.Insert(core.NewNodeInfo(b.localID, b.udpAddr())))

	var ih core.InfoHash
	ih[0] = 0x81

	// Seed b with one announce from a.
	gp, err := a.GetPeers(b.udpAddr(), ih)
	require.NoError(err)
	require.NoError(a.AnnouncePeer(b.udpAddr(), ih, 6881, gp.Token))

	var target core.NodeID
	copy(target[:], ih[:])
	res, err := Lookup(a.Agent, target, 3, true)
	require.NoError(err)

	require.Len(res.Peers, 1)
	require.Equal(6881, res.Peers[0].Port)
	require.NotEmpty(res.Token)
	require.Equal(b.udpAddr().String(), res.From.String())
}

func TestLookupEmptyTable(t *testing.T) {
	a := newTestAgent(t, testNodeID(t, 0x01), Config{})

	_, err := Lookup(a.Agent, testNodeID(t, 0x42), 3, false)
	require.Equal(t, ErrLookupEmpty, err)
}
