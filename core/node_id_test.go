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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNodeIDHexRoundTrip(t *testing.T) {
	require := require.New(t)

	id, err := RandomNodeID()
	require.NoError(err)

	got, err := NewNodeID(id.Hex())
	require.NoError(err)
	require.Equal(id, got)
}

func TestNodeIDDistanceSelfIsZero(t *testing.T) {
	require := require.New(t)

	id, err := RandomNodeID()
	require.NoError(err)

	require.Equal(NodeID{}, id.Distance(id))
}

func TestNodeIDCloserThan(t *testing.T) {
	require := require.New(t)

	target, err := NewNodeID("0000000000000000000000000000000000000000")
	require.NoError(err)
	near, err := NewNodeID("0000000000000000000000000000000000000001")
	require.NoError(err)
	far, err := NewNodeID("8000000000000000000000000000000000000000")
	require.NoError(err)

	require.True(near.CloserThan(far, target))
	require.False(far.CloserThan(near, target))
}

func TestNodeIDPrefixLen(t *testing.T) {
	require := require.New(t)

	a, err := NewNodeID("8000000000000000000000000000000000000000")
	require.NoError(err)
	b, err := NewNodeID("8000000000000000000000000000000000000001")
	require.NoError(err)

	require.Equal(159, a.PrefixLen(b))
	require.Equal(160, a.PrefixLen(a))
}

func TestRandomNodeIDInPrefixSharesBits(t *testing.T) {
	require := require.New(t)

	prefix, err := NewNodeID("aabbccddeeff00112233445566778899aabbccdd")
	require.NoError(err)

	for _, n := range []int{0, 1, 4, 8, 16, 33, 159} {
		id, err := RandomNodeIDInPrefix(prefix, n)
		require.NoError(err)
		require.GreaterOrEqual(id.PrefixLen(prefix), n)
	}
}

func TestNodeIDBit(t *testing.T) {
	require := require.New(t)

	id, err := NewNodeID("8000000000000000000000000000000000000000")
	require.NoError(err)
	require.Equal(1, id.Bit(0))
	require.Equal(0, id.Bit(1))
}
