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
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddrHashPeerIDFactory(t *testing.T) {
	require := require.New(t)

	p1, err := AddrHashPeerIDFactory.GeneratePeerID("10.0.0.1", 28008)
	require.NoError(err)
	p2, err := AddrHashPeerIDFactory.GeneratePeerID("10.0.0.1", 28008)
	require.NoError(err)
	require.Equal(p1, p2)
}

func TestNewPeerIDErrors(t *testing.T) {
	tests := []struct {
		desc  string
		input string
	}{
		{"empty", ""},
		{"invalid hex", "invalid"},
		{"too short", "beef"},
	}
	for _, test := range tests {
		t.Run(test.desc, func(t *testing.T) {
			_, err := NewPeerID(test.input)
			require.Error(t, err)
		})
	}
}

func TestHashedPeerID(t *testing.T) {
	require := require.New(t)

	n := 50
	seen := make(map[PeerID]bool)
	for i := 0; i < n; i++ {
		addr := fmt.Sprintf("10.0.0.%d:%d", i%255, 28000+i)
		peerID, err := HashedPeerID(addr)
		require.NoError(err)
		seen[peerID] = true
	}
	require.Len(seen, n)
}

func TestHashedPeerIDReturnsErrOnEmpty(t *testing.T) {
	require := require.New(t)

	_, err := HashedPeerID("")
	require.Error(err)
}

func TestPeerIDLessThan(t *testing.T) {
	require := require.New(t)

	p1, err := RandomPeerID()
	require.NoError(err)
	p2, err := RandomPeerID()
	require.NoError(err)

	want := bytes.Compare(p1[:], p2[:]) < 0
	require.Equal(want, p1.LessThan(p2))
}

func TestPeerIDStringEscapesNonPrintable(t *testing.T) {
	require := require.New(t)

	var p PeerID
	copy(p[:], "-GT0001-")
	p[8] = 0x00
	p[9] = 0xff

	s := p.String()
	require.Contains(s, "-GT0001-")
	require.Contains(s, `\x00`)
	require.Contains(s, `\xff`)
}

func TestPeerIDHexRoundTrip(t *testing.T) {
	require := require.New(t)

	p, err := RandomPeerID()
	require.NoError(err)

	got, err := NewPeerID(p.Hex())
	require.NoError(err)
	require.Equal(p, got)
}
