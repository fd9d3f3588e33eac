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
	"net"
)

// Stream wraps an established net.Conn after the MSE handshake, applying
// the negotiated method (plaintext or RC4) to every byte read or written.
// The two stream ciphers run in independent directions, so Read and Write
// may be called concurrently from separate goroutines.
type Stream struct {
	net.Conn
	method CryptoMethod
	write  *rc4.Cipher
	read   *rc4.Cipher
}

func newStream(conn net.Conn, method CryptoMethod, write, read *rc4.Cipher) *Stream {
	return &Stream{Conn: conn, method: method, write: write, read: read}
}

// Method reports the negotiated obfuscation method.
func (s *Stream) Method() CryptoMethod { return s.method }

// Read fills p from the underlying connection, decrypting in place when
// RC4 was selected.
func (s *Stream) Read(p []byte) (int, error) {
	n, err := s.Conn.Read(p)
	if n > 0 && s.method == CryptoRC4 {
		s.read.XORKeyStream(p[:n], p[:n])
	}
	return n, err
}

// Write encrypts a copy of p when RC4 was selected, then writes it to the
// underlying connection. The caller's slice is not mutated.
func (s *Stream) Write(p []byte) (int, error) {
	if s.method != CryptoRC4 {
		return s.Conn.Write(p)
	}
	enc := make([]byte, len(p))
	s.write.XORKeyStream(enc, p)
	return s.Conn.Write(enc)
}
