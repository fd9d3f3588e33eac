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

import "github.com/willf/bitset"

// PackBitfield renders a *bitset.BitSet of numPieces bits into the
// big-endian-within-byte packed form the Bitfield message carries on the
// wire: bit 0 of byte 0 is piece 0, the high bit of the final byte may be
// padding.
func PackBitfield(bits *bitset.BitSet, numPieces int) []byte {
	out := make([]byte, (numPieces+7)/8)
	for i := 0; i < numPieces; i++ {
		if bits.Test(uint(i)) {
			out[i/8] |= 0x80 >> uint(i%8)
		}
	}
	return out
}

// UnpackBitfield parses a packed Bitfield payload into a *bitset.BitSet of
// numPieces bits. It rejects a payload whose length does not match the
// byte count numPieces requires, and any set padding bit beyond numPieces.
func UnpackBitfield(b []byte, numPieces int) (*bitset.BitSet, error) {
	want := (numPieces + 7) / 8
	if len(b) != want {
		return nil, ErrMalformedMessage
	}
	bits := bitset.New(uint(numPieces))
	for i := 0; i < numPieces; i++ {
		if b[i/8]&(0x80>>uint(i%8)) != 0 {
			bits.Set(uint(i))
		}
	}
	for i := numPieces; i < want*8; i++ {
		if b[i/8]&(0x80>>uint(i%8)) != 0 {
			return nil, ErrMalformedMessage
		}
	}
	return bits, nil
}
