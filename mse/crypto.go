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
	"crypto/rc4"
	"crypto/sha1"
)

func hashWith(prefix string, parts ...[]byte) []byte {
	h := sha1.New()
	h.Write([]byte(prefix))
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

// req1Hash is HASH('req1', S).
func req1Hash(s []byte) []byte {
	return hashWith("req1", s)
}

// req23Hash is HASH('req2', SKEY) xor HASH('req3', S).
func req23Hash(s, skey []byte) []byte {
	a := hashWith("req2", skey)
	b := hashWith("req3", s)
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// rc4KeyDiscard is how many initial keystream bytes BEP 8 discards before
// using the cipher, to defeat the WEP-style known-keystream-prefix attack
// on RC4.
const rc4KeyDiscard = 1024

// newRC4Stream builds an RC4 cipher keyed by HASH(label, S, SKEY), then
// discards the first rc4KeyDiscard bytes of keystream.
func newRC4Stream(label string, s, skey []byte) (*rc4.Cipher, error) {
	key := hashWith(label, s, skey)
	c, err := rc4.NewCipher(key)
	if err != nil {
		return nil, err
	}
	discard := make([]byte, rc4KeyDiscard)
	c.XORKeyStream(discard, discard)
	return c, nil
}

// newRC4Pair returns the (write, read) ciphers for a connect-side peer:
// writes use keyA, reads use keyB. An accept-side peer swaps the two.
func newRC4Pair(s, skey []byte, connectSide bool) (write, read *rc4.Cipher, err error) {
	a, err := newRC4Stream("keyA", s, skey)
	if err != nil {
		return nil, nil, err
	}
	b, err := newRC4Stream("keyB", s, skey)
	if err != nil {
		return nil, nil, err
	}
	if connectSide {
		return a, b, nil
	}
	return b, a, nil
}
