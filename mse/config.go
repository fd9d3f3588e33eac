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

import "time"

// CryptoMethod is a bitmask of the obfuscation methods a side is willing to
// use, negotiated via crypto_provide / crypto_select.
type CryptoMethod uint32

const (
	// CryptoPlaintext leaves the stream unmodified after the handshake.
	CryptoPlaintext CryptoMethod = 1 << 0
	// CryptoRC4 wraps every subsequent byte in an RC4 stream cipher keyed
	// off the Diffie-Hellman shared secret.
	CryptoRC4 CryptoMethod = 1 << 1
)

// Config controls handshake timeouts and the methods a side offers or
// accepts.
type Config struct {
	// HandshakeTimeout bounds the entire four-step exchange.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`

	// ReceivePublicKeyTimeout bounds just the wait for the peer's
	// Diffie-Hellman public value, which is narrower than the overall
	// handshake timeout.
	ReceivePublicKeyTimeout time.Duration `yaml:"receive_public_key_timeout"`

	// CryptoProvide is the set of methods this side is willing to use. When
	// both sides allow RC4 it is chosen over plaintext.
	CryptoProvide CryptoMethod `yaml:"crypto_provide"`

	// MaxPadLen bounds the random padding appended after each
	// Diffie-Hellman public value, and the scan window used to locate the
	// peer's HASH('req1', S) marker.
	MaxPadLen int `yaml:"max_pad_len"`
}

func (c *Config) applyDefaults() {
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 60 * time.Second
	}
	if c.ReceivePublicKeyTimeout == 0 {
		c.ReceivePublicKeyTimeout = 30 * time.Second
	}
	if c.CryptoProvide == 0 {
		c.CryptoProvide = CryptoPlaintext | CryptoRC4
	}
	if c.MaxPadLen == 0 {
		c.MaxPadLen = 512
	}
}

// selectMethod picks the first method both crypto_provide bitmasks share,
// preferring RC4 over plaintext when both are viable.
func selectMethod(provide, accept CryptoMethod) (CryptoMethod, bool) {
	both := provide & accept
	if both&CryptoRC4 != 0 {
		return CryptoRC4, true
	}
	if both&CryptoPlaintext != 0 {
		return CryptoPlaintext, true
	}
	return 0, false
}
