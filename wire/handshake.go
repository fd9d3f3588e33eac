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
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/torrentd/peerstack/core"
	"github.com/torrentd/peerstack/mse"
)

// protocolName is the fixed BitTorrent protocol identifier sent as the
// first byte (its length) plus these 19 bytes of the handshake.
const protocolName = "BitTorrent protocol"

// Feature bit offsets within the 8-byte (64-bit) reserved field, counted
// from the most significant bit, matching the de facto conventions of
// mainline BitTorrent clients (not formally part of any single BEP, but
// referenced by BEP 5, BEP 6 and BEP 10).
const (
	extensionBitOffset = 43 // reserved[5] & 0x10
	fastBitOffset       = 61 // reserved[7] & 0x04
	dhtBitOffset         = 63 // reserved[7] & 0x01
)

// Features is the set of optional protocol extensions a side advertises via
// the handshake's reserved bits.
type Features struct {
	Extension bool
	Fast      bool
	DHT       bool
}

func (f Features) reserved() [8]byte {
	var r [8]byte
	if f.Extension {
		setBit(&r, extensionBitOffset)
	}
	if f.Fast {
		setBit(&r, fastBitOffset)
	}
	if f.DHT {
		setBit(&r, dhtBitOffset)
	}
	return r
}

func setBit(r *[8]byte, offset int) {
	r[offset/8] |= 0x80 >> uint(offset%8)
}

func parseFeatures(r [8]byte) Features {
	return Features{
		Extension: r[extensionBitOffset/8]&(0x80>>uint(extensionBitOffset%8)) != 0,
		Fast:      r[fastBitOffset/8]&(0x80>>uint(fastBitOffset%8)) != 0,
		DHT:       r[dhtBitOffset/8]&(0x80>>uint(dhtBitOffset%8)) != 0,
	}
}

// Handshake is the parsed result of a completed BitTorrent handshake.
type Handshake struct {
	InfoHash core.InfoHash
	PeerID   core.PeerID
	Features Features

	// Obfuscated reports whether this connection passed through an MSE
	// handshake before the BitTorrent handshake was exchanged.
	Obfuscated bool
}

// ErrInfoHashMismatch is returned when a peer's handshake carries an info
// hash other than the one the local side expected.
var ErrInfoHashMismatch = errors.New("wire: info hash mismatch")

// writeHandshake writes the fixed 68-byte handshake frame.
func writeHandshake(w io.Writer, infoHash core.InfoHash, peerID core.PeerID, features Features) error {
	buf := make([]byte, 0, 68)
	buf = append(buf, byte(len(protocolName)))
	buf = append(buf, protocolName...)
	reserved := features.reserved()
	buf = append(buf, reserved[:]...)
	buf = append(buf, infoHash.Bytes()...)
	buf = append(buf, peerID[:]...)
	_, err := w.Write(buf)
	return err
}

// readHandshake reads and parses the fixed 68-byte handshake frame. It
// assumes the 1-byte protocol name length and 19-byte protocol name have
// already been consumed by the caller (peeked during MSE/plaintext
// detection) unless peeked is nil.
func readHandshake(r io.Reader, peeked []byte) (*Handshake, error) {
	rest := make([]byte, 68-len(peeked))
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, fmt.Errorf("read handshake: %w", err)
	}
	buf := append(append([]byte{}, peeked...), rest...)
	if int(buf[0]) != len(protocolName) || string(buf[1:20]) != protocolName {
		return nil, fmt.Errorf("%w: unrecognized protocol header", ErrMalformedMessage)
	}
	var reserved [8]byte
	copy(reserved[:], buf[20:28])
	var infoHash core.InfoHash
	copy(infoHash[:], buf[28:48])
	var peerID core.PeerID
	copy(peerID[:], buf[48:68])
	return &Handshake{
		InfoHash: infoHash,
		PeerID:   peerID,
		Features: parseFeatures(reserved),
	}, nil
}

// Dial performs the connect-side handshake over nc: an MSE obfuscation
// handshake (if useMSE is true) followed by the plaintext BitTorrent
// handshake, then verifies the remote's info hash matches infoHash.
func Dial(nc net.Conn, mseConfig *mse.Config, useMSE bool, infoHash core.InfoHash, localPeerID core.PeerID, features Features) (net.Conn, *Handshake, error) {
	stream := nc
	if useMSE {
		s, err := mse.Connect(nc, mseConfig, infoHash.Bytes())
		if err != nil {
			return nil, nil, fmt.Errorf("mse connect: %w", err)
		}
		stream = s
	}
	if err := writeHandshake(stream, infoHash, localPeerID, features); err != nil {
		return nil, nil, fmt.Errorf("write handshake: %w", err)
	}
	hs, err := readHandshake(stream, nil)
	if err != nil {
		return nil, nil, err
	}
	hs.Obfuscated = useMSE
	if hs.InfoHash != infoHash {
		return nil, nil, ErrInfoHashMismatch
	}
	return stream, hs, nil
}

// AcceptHandshake accepts an inbound connection whose first bytes may be
// either an MSE public-key exchange or a plaintext BitTorrent handshake. It
// sniffs the first byte: 0x13 (19) is the plaintext protocol-name length
// prefix, anything else is assumed to be MSE's obfuscated Diffie-Hellman
// public value per BEP 8's recommended fallback behavior.
//
// findBySKey resolves the torrent whose info hash produced the incoming
// HASH('req2', SKEY) value, needed to derive the RC4 keys before the
// BitTorrent handshake can be read. hasTorrent reports whether the local
// side recognizes an info hash presented by a plaintext (non-MSE) peer.
func AcceptHandshake(
	nc net.Conn,
	mseConfig *mse.Config,
	findBySKey func(req2Hash []byte) (core.InfoHash, bool),
	hasTorrent func(core.InfoHash) bool,
	localPeerID core.PeerID,
	features Features,
) (net.Conn, *Handshake, error) {
	br := bufio.NewReader(nc)
	first, err := br.Peek(1)
	if err != nil {
		return nil, nil, fmt.Errorf("peek first byte: %w", err)
	}

	var stream net.Conn = &bufReaderConn{Conn: nc, r: br}
	obfuscated := first[0] != byte(len(protocolName))
	if obfuscated {
		s, skey, err := mse.Accept(stream, mseConfig, func(req2Hash []byte) ([]byte, bool) {
			infoHash, ok := findBySKey(req2Hash)
			if !ok {
				return nil, false
			}
			return infoHash.Bytes(), true
		})
		if err != nil {
			return nil, nil, fmt.Errorf("mse accept: %w", err)
		}
		stream = s
		var infoHash core.InfoHash
		copy(infoHash[:], skey)

		hs, err := readHandshake(stream, nil)
		if err != nil {
			return nil, nil, err
		}
		if hs.InfoHash != infoHash {
			return nil, nil, ErrInfoHashMismatch
		}
		hs.Obfuscated = true
		if err := writeHandshake(stream, infoHash, localPeerID, features); err != nil {
			return nil, nil, fmt.Errorf("write handshake: %w", err)
		}
		return stream, hs, nil
	}

	hs, err := readHandshake(stream, nil)
	if err != nil {
		return nil, nil, err
	}
	if !hasTorrent(hs.InfoHash) {
		return nil, nil, ErrInfoHashMismatch
	}
	if err := writeHandshake(stream, hs.InfoHash, localPeerID, features); err != nil {
		return nil, nil, fmt.Errorf("write handshake: %w", err)
	}
	return stream, hs, nil
}

// bufReaderConn adapts a net.Conn whose initial bytes have already been
// buffered into a bufio.Reader (for protocol sniffing) back into the
// net.Conn interface.
type bufReaderConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufReaderConn) Read(p []byte) (int, error) { return c.r.Read(p) }
