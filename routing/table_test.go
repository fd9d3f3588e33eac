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
package routing

import (
	"net"
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/require"

	"github.com/torrentd/peerstack/core"
)

func mustNodeID(t *testing.T, hexStr string) core.NodeID {
	t.Helper()
	id, err := core.NewNodeID(hexStr)
	require.NoError(t, err)
	return id
}

func nodeInfo(id core.NodeID, port int) core.NodeInfo {
	return core.NewNodeInfo(id, &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: port})
}

// TestRoutingInsertSplitsOnlyLocalBucket covers the split boundary: local id 0x00...00, k=8, inserting nine distinct ids
// 0x80...00..0x88...00 leaves the bucket covering the local id split; the
// non-local bucket holds 8 entries and rejects the ninth with Full.
func TestRoutingInsertSplitsOnlyLocalBucket(t *testing.T) {
	require := require.New(t)

	local := mustNodeID(t, "0000000000000000000000000000000000000000")
	clk := clock.NewMock()
	tbl := New(Config{K: 8}, clk, local)

	ids := []string{
		"8000000000000000000000000000000000000000",
		"8100000000000000000000000000000000000000",
		"8200000000000000000000000000000000000000",
		"8300000000000000000000000000000000000000",
		"8400000000000000000000000000000000000000",
		"8500000000000000000000000000000000000000",
		"8600000000000000000000000000000000000000",
		"8700000000000000000000000000000000000000",
		"8800000000000000000000000000000000000000",
	}

	var full *Full
	for i, h := range ids {
		id := mustNodeID(t, h)
		f := tbl.Insert(nodeInfo(id, 6881+i))
		if f != nil {
			full = f
		}
	}

	require.NotNil(full, "the ninth entry into the non-local bucket must be rejected")
	require.Len(full.Incumbents, 8)
	require.Equal(8, tbl.Len())
}

func TestInsertUpdatesRecencyOnExistingEntry(t *testing.T) {
	require := require.New(t)

	local := mustNodeID(t, "0000000000000000000000000000000000000000")
	clk := clock.NewMock()
	tbl := New(Config{K: 8}, clk, local)

	id := mustNodeID(t, "ff00000000000000000000000000000000000000")
	require.Nil(tbl.Insert(nodeInfo(id, 1)))
	clk.Add(time.Minute)
	require.Nil(tbl.Insert(nodeInfo(id, 1)))
	require.Equal(1, tbl.Len())
}

func TestGetClosestOrdersByXORDistance(t *testing.T) {
	require := require.New(t)

	target := mustNodeID(t, "0000000000000000000000000000000000000000")
	clk := clock.NewMock()
	tbl := New(Config{K: 8}, clk, target)

	far := mustNodeID(t, "f000000000000000000000000000000000000000")
	near := mustNodeID(t, "0100000000000000000000000000000000000000")
	mid := mustNodeID(t, "7000000000000000000000000000000000000000")

	tbl.Insert(nodeInfo(far, 1))
	tbl.Insert(nodeInfo(near, 2))
	tbl.Insert(nodeInfo(mid, 3))

	closest := tbl.GetClosest(target)
	require.Len(closest, 3)
	require.Equal(near, closest[0].ID)
	require.Equal(mid, closest[1].ID)
	require.Equal(far, closest[2].ID)
}

func TestRemove(t *testing.T) {
	require := require.New(t)

	local := mustNodeID(t, "0000000000000000000000000000000000000000")
	clk := clock.NewMock()
	tbl := New(Config{K: 8}, clk, local)

	id := mustNodeID(t, "ff00000000000000000000000000000000000000")
	tbl.Insert(nodeInfo(id, 1))
	require.Equal(1, tbl.Len())

	tbl.Remove(id)
	require.Equal(0, tbl.Len())
}

func TestStaleReportsBucketsPastRefreshPeriod(t *testing.T) {
	require := require.New(t)

	local := mustNodeID(t, "0000000000000000000000000000000000000000")
	clk := clock.NewMock()
	tbl := New(Config{K: 8, RefreshPeriod: time.Minute}, clk, local)

	id := mustNodeID(t, "ff00000000000000000000000000000000000000")
	tbl.Insert(nodeInfo(id, 1))

	// Freshly touched: not yet stale.
	stale := tbl.Stale()
	require.Len(stale, 0)

	clk.Add(2 * time.Minute)
	stale = tbl.Stale()
	require.Len(stale, 1)
}

func TestRandomNodeIDInPrefixMatchesStaleBucketPrefix(t *testing.T) {
	require := require.New(t)

	local := mustNodeID(t, "0000000000000000000000000000000000000000")
	clk := clock.NewMock()
	tbl := New(Config{K: 1, RefreshPeriod: time.Minute}, clk, local)

	a := mustNodeID(t, "8000000000000000000000000000000000000000")
	b := mustNodeID(t, "4000000000000000000000000000000000000000")
	require.Nil(tbl.Insert(nodeInfo(a, 1)))
	// The root bucket (which covers the local id) is full after inserting a;
	// b's opposite leading bit forces a split and then lands in the other
	// half, which still covers the local id and has room.
	f := tbl.Insert(nodeInfo(b, 2))
	require.Nil(f)

	clk.Add(2 * time.Minute)
	for _, sb := range tbl.Stale() {
		target, err := core.RandomNodeIDInPrefix(sb.Prefix, sb.PrefixLen)
		require.NoError(err)
		require.GreaterOrEqual(target.PrefixLen(sb.Prefix), sb.PrefixLen)
	}
}
