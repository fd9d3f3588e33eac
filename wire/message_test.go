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
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/torrentd/peerstack/layout"
)

func blockRange(piece int, offset, size int64) layout.BlockRange {
	return layout.BlockRange{Piece: piece, Offset: offset, Size: size}
}

func roundtrip(t *testing.T, m *Message) *Message {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, m))
	out, err := Decode(&buf)
	require.NoError(t, err)
	return out
}

func TestMessageRoundtrip(t *testing.T) {
	tests := []*Message{
		{ID: Choke},
		{ID: Unchoke},
		{ID: Interested},
		{ID: NotInterested},
		{ID: HaveAll},
		{ID: HaveNone},
		NewHave(7),
		NewBitfield([]byte{0xff, 0x80}),
		NewRequest(blockRange(3, 16384, 16384)),
		NewCancel(blockRange(3, 16384, 16384)),
		NewReject(blockRange(3, 16384, 16384)),
		NewPiece(3, 16384, []byte("hello world")),
		{ID: Port, DHTPort: 6881},
		{ID: Suggest, PieceIndex: 5},
		{ID: AllowedFast, PieceIndex: 9},
		{ID: Extended, ExtensionID: 2, ExtPayload: []byte("payload")},
	}
	for _, m := range tests {
		out := roundtrip(t, m)
		require.Equal(t, m, out)
	}
}

func TestKeepAlive(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, KeepAlive))
	require.Equal(t, []byte{0, 0, 0, 0}, buf.Bytes())
	out, err := Decode(&buf)
	require.NoError(t, err)
	require.True(t, out.IsKeepAlive())
}

func TestDecodeRejectsWrongPayloadSize(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, &Message{ID: Have, PieceIndex: 1}))
	b := buf.Bytes()
	b[3] = 2 // claim 1-byte body (length includes the id byte).
	_, err := Decode(bytes.NewReader(b[:5]))
	require.Error(t, err)
}
