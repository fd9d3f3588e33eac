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

// Package mse implements Message Stream Encryption (BEP 8): a 768-bit
// Diffie-Hellman key exchange used to obfuscate the subsequent BitTorrent
// handshake, optionally followed by RC4 stream encryption of the
// connection.
package mse

import (
	"crypto/rand"
	"math/big"
)

// dhKeyLen is the byte length of a 768-bit Diffie-Hellman public value.
const dhKeyLen = 96

// p is the 768-bit prime BEP 8 specifies.
var p = mustPrime(
	"FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD129024E088A67CC7" +
		"4020BBEA63B139B22514A08798E3404DDEF9519B3CD3A431B302B0A6DF25F14" +
		"374FE1356D6D51C245E485B576625E7EC6F44C42E9A63A36210000000000090563")

// g is the DH generator BEP 8 specifies.
var g = big.NewInt(2)

func mustPrime(hexStr string) *big.Int {
	n, ok := new(big.Int).SetString(hexStr, 16)
	if !ok {
		panic("mse: invalid prime constant")
	}
	return n
}

// keyPair is a Diffie-Hellman private/public value pair.
type keyPair struct {
	priv *big.Int
	pub  *big.Int
}

// generateKeyPair picks a private exponent and computes the corresponding
// public value Y = g^x mod p.
func generateKeyPair() (*keyPair, error) {
	priv, err := rand.Int(rand.Reader, p)
	if err != nil {
		return nil, err
	}
	pub := new(big.Int).Exp(g, priv, p)
	return &keyPair{priv: priv, pub: pub}, nil
}

// publicBytes renders Y as a fixed dhKeyLen-byte big-endian value.
func (kp *keyPair) publicBytes() []byte {
	return leftPad(kp.pub.Bytes(), dhKeyLen)
}

// sharedSecret computes S = peerY^priv mod p for a received peer public
// value, returned as a fixed dhKeyLen-byte big-endian value.
func (kp *keyPair) sharedSecret(peerPub []byte) []byte {
	y := new(big.Int).SetBytes(peerPub)
	s := new(big.Int).Exp(y, kp.priv, p)
	return leftPad(s.Bytes(), dhKeyLen)
}

func leftPad(b []byte, n int) []byte {
	if len(b) >= n {
		return b[len(b)-n:]
	}
	out := make([]byte, n)
	copy(out[n-len(b):], b)
	return out
}
