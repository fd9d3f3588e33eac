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
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/torrentd/peerstack/core"
)

func TestFeatureReservedBitsRoundtrip(t *testing.T) {
	f := Features{Extension: true, Fast: false, DHT: true}
	r := f.reserved()
	require.Equal(t, f, parseFeatures(r))

	all := Features{Extension: true, Fast: true, DHT: true}
	require.Equal(t, all, parseFeatures(all.reserved()))

	none := Features{}
	require.Equal(t, none, parseFeatures(none.reserved()))
}

func TestPlaintextHandshakeRoundtrip(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	infoHash := core.NewInfoHashFromBytes([]byte("some torrent"))
	clientID, err := core.RandomPeerID()
	require.NoError(t, err)
	serverID, err := core.RandomPeerID()
	require.NoError(t, err)

	clientFeatures := Features{Extension: true, Fast: true, DHT: false}
	serverFeatures := Features{Extension: true, Fast: false, DHT: true}

	type result struct {
		hs  *Handshake
		err error
	}
	clientDone := make(chan result, 1)
	go func() {
		_, hs, err := Dial(clientConn, nil, false, infoHash, clientID, clientFeatures)
		clientDone <- result{hs, err}
	}()

	_, serverHS, err := AcceptHandshake(serverConn, nil,
		func([]byte) (core.InfoHash, bool) { return core.InfoHash{}, false },
		func(h core.InfoHash) bool { return h == infoHash },
		serverID, serverFeatures)
	require.NoError(t, err)
	require.Equal(t, clientID, serverHS.PeerID)
	require.Equal(t, infoHash, serverHS.InfoHash)
	require.False(t, serverHS.Obfuscated)
	require.Equal(t, clientFeatures, serverHS.Features)

	r := <-clientDone
	require.NoError(t, r.err)
	require.Equal(t, serverID, r.hs.PeerID)
	require.Equal(t, serverFeatures, r.hs.Features)
}

func TestPlaintextHandshakeRejectsUnknownInfoHash(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	infoHash := core.NewInfoHashFromBytes([]byte("unknown torrent"))
	clientID, err := core.RandomPeerID()
	require.NoError(t, err)

	go Dial(clientConn, nil, false, infoHash, clientID, Features{})

	_, _, err = AcceptHandshake(serverConn, nil,
		func([]byte) (core.InfoHash, bool) { return core.InfoHash{}, false },
		func(core.InfoHash) bool { return false },
		clientID, Features{})
	require.ErrorIs(t, err, ErrInfoHashMismatch)
}
