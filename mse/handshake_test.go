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
package mse

import (
	"bytes"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	return &Config{
		HandshakeTimeout:        5 * time.Second,
		ReceivePublicKeyTimeout: 5 * time.Second,
	}
}

// TestLoopback drives both sides of the handshake in-process: two
// endpoints with the same info hash complete the handshake and exchange
// ping/pong application bytes.
func TestLoopback(t *testing.T) {
	skey := []byte("0123456789abcdefghij")

	connectConn, acceptConn := net.Pipe()
	defer connectConn.Close()
	defer acceptConn.Close()

	type connectResult struct {
		s   *Stream
		err error
	}
	done := make(chan connectResult, 1)
	go func() {
		s, err := Connect(connectConn, testConfig(), skey)
		done <- connectResult{s, err}
	}()

	acceptStream, gotSKey, err := Accept(acceptConn, testConfig(), singleCandidateLookup(skey))
	require.NoError(t, err)
	require.Equal(t, skey, gotSKey)

	r := <-done
	require.NoError(t, r.err)
	connectStream := r.s

	go func() {
		connectStream.Write([]byte("ping"))
	}()
	buf := make([]byte, 4)
	_, err = io.ReadFull(acceptStream, buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf))

	go func() {
		acceptStream.Write([]byte("pong"))
	}()
	_, err = io.ReadFull(connectStream, buf)
	require.NoError(t, err)
	require.Equal(t, "pong", string(buf))
}

// singleCandidateLookup builds an SKeyLookup that recognizes exactly one
// torrent, the way a real accept side would try each known info hash's
// HASH('req2', candidate) against the recovered value.
func singleCandidateLookup(skey []byte) SKeyLookup {
	return func(req2Hash []byte) ([]byte, bool) {
		if bytes.Equal(hashWith("req2", skey), req2Hash) {
			return skey, true
		}
		return nil, false
	}
}

// TestPlaintextFallback exercises the method negotiation path where both
// sides only offer plaintext.
func TestPlaintextFallback(t *testing.T) {
	skey := []byte("0123456789abcdefghij")

	connectConn, acceptConn := net.Pipe()
	defer connectConn.Close()
	defer acceptConn.Close()

	cfg := testConfig()
	cfg.CryptoProvide = CryptoPlaintext

	type connectResult struct {
		s   *Stream
		err error
	}
	done := make(chan connectResult, 1)
	go func() {
		s, err := Connect(connectConn, cfg, skey)
		done <- connectResult{s, err}
	}()

	acceptStream, _, err := Accept(acceptConn, cfg, singleCandidateLookup(skey))
	require.NoError(t, err)
	require.Equal(t, CryptoPlaintext, acceptStream.Method())

	r := <-done
	require.NoError(t, r.err)
	require.Equal(t, CryptoPlaintext, r.s.Method())
}

// TestAcceptRejectsUnknownSKey confirms the accept side aborts when no
// candidate info hash matches the incoming HASH('req2', SKEY) value.
func TestAcceptRejectsUnknownSKey(t *testing.T) {
	skey := []byte("0123456789abcdefghij")

	connectConn, acceptConn := net.Pipe()
	defer connectConn.Close()
	defer acceptConn.Close()

	go Connect(connectConn, testConfig(), skey)

	_, _, err := Accept(acceptConn, testConfig(), func([]byte) ([]byte, bool) {
		return nil, false
	})
	require.ErrorIs(t, err, ErrSKeyNotFound)
}
