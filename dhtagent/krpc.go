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

// Package dhtagent implements the DHT's KRPC query/response protocol and
// the iterative node/peer lookup built on top of it (BEP 5),
// wired onto the routing table, token source and compact node encoding
// already implemented by the routing, token and core packages.
package dhtagent

import (
	"fmt"
	"net"

	"github.com/torrentd/peerstack/bcodec"
	"github.com/torrentd/peerstack/core"
)

// MessageType identifies a KRPC message's "y" field.
type MessageType byte

const (
	TypeQuery    MessageType = 'q'
	TypeResponse MessageType = 'r'
	TypeError    MessageType = 'e'
)

// Query names, per BEP 5.
const (
	Ping         = "ping"
	FindNode     = "find_node"
	GetPeers     = "get_peers"
	AnnouncePeer = "announce_peer"
)

// Standard KRPC error codes.
const (
	ErrGeneric      = 201
	ErrServer       = 202
	ErrProtocol     = 203
	ErrMethUnknown  = 204
)

// Message is a decoded KRPC envelope: exactly one of Query, Response or
// Error is meaningful, selected by Type.
type Message struct {
	TxID []byte
	Type MessageType

	Query string
	Args  bcodec.Dict

	Response bcodec.Dict

	ErrorCode int
	ErrorMsg  string
}

// ErrMalformed wraps any failure to parse a KRPC envelope.
type ErrMalformed struct{ Reason string }

func (e *ErrMalformed) Error() string { return fmt.Sprintf("dhtagent: malformed krpc message: %s", e.Reason) }

// Encode serializes m into a bencoded KRPC datagram.
func Encode(m *Message) ([]byte, error) {
	d := bcodec.NewDict()
	d["t"] = bcodec.String(m.TxID)
	d["y"] = bcodec.NewString(string(m.Type))
	switch m.Type {
	case TypeQuery:
		d["q"] = bcodec.NewString(m.Query)
		d["a"] = m.Args
	case TypeResponse:
		d["r"] = m.Response
	case TypeError:
		d["e"] = bcodec.List{bcodec.Integer(m.ErrorCode), bcodec.NewString(m.ErrorMsg)}
	default:
		return nil, &ErrMalformed{Reason: fmt.Sprintf("unknown type %q", m.Type)}
	}
	return bcodec.Encode(d)
}

// Decode parses a bencoded KRPC datagram.
func Decode(b []byte) (*Message, error) {
	v, err := bcodec.Decode(b)
	if err != nil {
		return nil, err
	}
	d, ok := v.(bcodec.Dict)
	if !ok {
		return nil, &ErrMalformed{Reason: "top-level value is not a dict"}
	}

	tx, ok := d.GetString("t")
	if !ok {
		return nil, &ErrMalformed{Reason: "missing t"}
	}
	y, ok := d.GetString("y")
	if !ok || len(y) == 0 {
		return nil, &ErrMalformed{Reason: "missing y"}
	}

	m := &Message{TxID: []byte(tx), Type: MessageType(y[0])}
	switch m.Type {
	case TypeQuery:
		q, ok := d.GetString("q")
		if !ok {
			return nil, &ErrMalformed{Reason: "missing q"}
		}
		a, ok := d.GetDict("a")
		if !ok {
			return nil, &ErrMalformed{Reason: "missing a"}
		}
		m.Query = string(q)
		m.Args = a
	case TypeResponse:
		r, ok := d.GetDict("r")
		if !ok {
			return nil, &ErrMalformed{Reason: "missing r"}
		}
		m.Response = r
	case TypeError:
		e, ok := d.GetList("e")
		if !ok || len(e) != 2 {
			return nil, &ErrMalformed{Reason: "malformed e"}
		}
		code, ok := e[0].(bcodec.Integer)
		if !ok {
			return nil, &ErrMalformed{Reason: "e[0] not an integer"}
		}
		msg, ok := e[1].(bcodec.String)
		if !ok {
			return nil, &ErrMalformed{Reason: "e[1] not a string"}
		}
		m.ErrorCode = int(code)
		m.ErrorMsg = string(msg)
	default:
		return nil, &ErrMalformed{Reason: fmt.Sprintf("unknown type %q", y)}
	}
	return m, nil
}

// newQuery builds a query Message carrying the caller-supplied transaction
// id and the sender's node id.
func newQuery(txID []byte, id core.NodeID, query string, extra bcodec.Dict) *Message {
	args := bcodec.NewDict()
	args["id"] = bcodec.String(id[:])
	for k, v := range extra {
		args[k] = v
	}
	return &Message{TxID: txID, Type: TypeQuery, Query: query, Args: args}
}

func newResponse(txID []byte, id core.NodeID, extra bcodec.Dict) *Message {
	r := bcodec.NewDict()
	r["id"] = bcodec.String(id[:])
	for k, v := range extra {
		r[k] = v
	}
	return &Message{TxID: txID, Type: TypeResponse, Response: r}
}

func newError(txID []byte, code int, msg string) *Message {
	return &Message{TxID: txID, Type: TypeError, ErrorCode: code, ErrorMsg: msg}
}

// encodeCompactPeer appends a peer's compact "IP:port" encoding, as used in
// get_peers' "values" list, to buf.
func encodeCompactPeer(buf []byte, addr *net.UDPAddr) ([]byte, error) {
	ip4 := addr.IP.To4()
	if ip4 == nil {
		return nil, fmt.Errorf("dhtagent: not an IPv4 address: %s", addr)
	}
	buf = append(buf, ip4...)
	buf = append(buf, byte(addr.Port>>8), byte(addr.Port))
	return buf, nil
}

func decodeCompactPeer(b []byte) (*net.UDPAddr, error) {
	if len(b) != 6 {
		return nil, fmt.Errorf("dhtagent: invalid compact peer length %d", len(b))
	}
	return &net.UDPAddr{
		IP:   net.IPv4(b[0], b[1], b[2], b[3]),
		Port: int(b[4])<<8 | int(b[5]),
	}, nil
}
