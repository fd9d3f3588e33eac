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
package dhtagent

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/torrentd/peerstack/bcodec"
)

func TestEncodeDecodeQuery(t *testing.T) {
	require := require.New(t)

	m := &Message{
		TxID:  []byte("aa"),
		Type:  TypeQuery,
		Query: Ping,
		Args:  bcodec.Dict{"id": bcodec.NewString("abcdefghij0123456789")},
	}
	buf, err := Encode(m)
	require.NoError(err)
	require.Equal("d1:ad2:id20:abcdefghij0123456789e1:q4:ping1:t2:aa1:y1:qe", string(buf))

	decoded, err := Decode(buf)
	require.NoError(err)
	require.Equal(m.TxID, decoded.TxID)
	require.Equal(TypeQuery, decoded.Type)
	require.Equal(Ping, decoded.Query)
	id, ok := decoded.Args.GetString("id")
	require.True(ok)
	require.Equal("abcdefghij0123456789", string(id))
}

func TestEncodeDecodeResponse(t *testing.T) {
	require := require.New(t)

	m := &Message{
		TxID:     []byte("aa"),
		Type:     TypeResponse,
		Response: bcodec.Dict{"id": bcodec.NewString("mnopqrstuvwxyz123456")},
	}
	buf, err := Encode(m)
	require.NoError(err)
	require.Equal("d1:rd2:id20:mnopqrstuvwxyz123456e1:t2:aa1:y1:re", string(buf))

	decoded, err := Decode(buf)
	require.NoError(err)
	require.Equal(TypeResponse, decoded.Type)
	id, ok := decoded.Response.GetString("id")
	require.True(ok)
	require.Equal("mnopqrstuvwxyz123456", string(id))
}

func TestEncodeDecodeError(t *testing.T) {
	require := require.New(t)

	m := &Message{
		TxID:      []byte("aa"),
		Type:      TypeError,
		ErrorCode: ErrGeneric,
		ErrorMsg:  "A Generic Error Ocurred",
	}
	buf, err := Encode(m)
	require.NoError(err)
	require.Equal("d1:eli201e23:A Generic Error Ocurrede1:t2:aa1:y1:ee", string(buf))

	decoded, err := Decode(buf)
	require.NoError(err)
	require.Equal(TypeError, decoded.Type)
	require.Equal(ErrGeneric, decoded.ErrorCode)
	require.Equal("A Generic Error Ocurred", decoded.ErrorMsg)
}

func TestDecodeRejectsMalformed(t *testing.T) {
	tests := []struct {
		desc  string
		input string
	}{
		{"not a dict", "le"},
		{"missing t", "d1:y1:qe"},
		{"missing y", "d1:t2:aae"},
		{"empty y", "d1:t2:aa1:y0:e"},
		{"unknown type", "d1:t2:aa1:y1:xe"},
		{"query missing q", "d1:ade1:t2:aa1:y1:qe"},
		{"query missing a", "d1:q4:ping1:t2:aa1:y1:qe"},
		{"response missing r", "d1:t2:aa1:y1:re"},
		{"error wrong arity", "d1:eli201ee1:t2:aa1:y1:ee"},
		{"error non-integer code", "d1:el3:2013:msge1:t2:aa1:y1:ee"},
	}
	for _, test := range tests {
		t.Run(test.desc, func(t *testing.T) {
			_, err := Decode([]byte(test.input))
			require.Error(t, err)
		})
	}
}

func TestCompactPeerRoundTrip(t *testing.T) {
	require := require.New(t)

	addr := &net.UDPAddr{IP: net.ParseIP("192.168.1.42"), Port: 6881}
	buf, err := encodeCompactPeer(nil, addr)
	require.NoError(err)
	require.Len(buf, 6)

	decoded, err := decodeCompactPeer(buf)
	require.NoError(err)
	require.True(decoded.IP.Equal(addr.IP))
	require.Equal(addr.Port, decoded.Port)
}

func TestCompactPeerRejectsIPv6(t *testing.T) {
	addr := &net.UDPAddr{IP: net.ParseIP("::1"), Port: 6881}
	_, err := encodeCompactPeer(nil, addr)
	require.Error(t, err)
}

func TestDecodeCompactPeerRejectsWrongLength(t *testing.T) {
	_, err := decodeCompactPeer([]byte{1, 2, 3})
	require.Error(t, err)
}
