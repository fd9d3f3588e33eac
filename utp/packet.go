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

// Package utp implements the micro transport protocol (BEP 29) used as an
// alternative to TCP for the peer wire protocol.
package utp

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// PacketType identifies the kind of a uTP packet, per BEP 29.
type PacketType byte

// Packet types. ST_SYN establishes a connection; ST_DATA carries payload;
// ST_STATE is a pure ack; ST_FIN closes the send half; ST_RESET aborts.
const (
	TypeData  PacketType = 0
	TypeFin   PacketType = 1
	TypeState PacketType = 2
	TypeReset PacketType = 3
	TypeSyn   PacketType = 4
)

func (t PacketType) String() string {
	switch t {
	case TypeData:
		return "data"
	case TypeFin:
		return "fin"
	case TypeState:
		return "state"
	case TypeReset:
		return "reset"
	case TypeSyn:
		return "syn"
	default:
		return fmt.Sprintf("unknown(%d)", byte(t))
	}
}

// protocolVersion is the only version defined by BEP 29.
const protocolVersion = 1

// extensionSelectiveAck is the extension id carrying a SelectiveAck bitmask.
const extensionSelectiveAck = 1

// HeaderSize is the fixed length of a uTP packet header with no extensions.
const HeaderSize = 20

// ErrShortPacket is returned when a buffer is too small to hold a header.
var ErrShortPacket = errors.New("utp: packet shorter than header")

// SelectiveAck is the optional extension reporting which sequence numbers
// above ack have been received out of order, one bit per packet starting at
// ack+2.
type SelectiveAck struct {
	Bitmask []byte
}

// Header is the fixed 20-byte uTP packet header.
type Header struct {
	Type          PacketType
	ConnID        uint16
	Timestamp     uint32 // microseconds, free-running, wraps at 2^32.
	TimestampDiff uint32 // microseconds, 0 means "unknown" per BEP 29.
	WindowSize    uint32 // bytes the sender is willing to receive.
	Seq           uint16
	Ack           uint16
}

// Packet is a decoded uTP datagram: its header, optional SelectiveAck
// extension, and payload (empty for all but ST_DATA).
type Packet struct {
	Header       Header
	SelectiveAck *SelectiveAck
	Payload      []byte
}

// Encode serializes p into the uTP wire format.
func Encode(p *Packet) []byte {
	extLen := 0
	if p.SelectiveAck != nil {
		extLen = 2 + len(p.SelectiveAck.Bitmask)
	}
	buf := make([]byte, HeaderSize+extLen+len(p.Payload))

	nextExt := byte(0)
	if p.SelectiveAck != nil {
		nextExt = extensionSelectiveAck
	}
	buf[0] = byte(p.Header.Type)<<4 | protocolVersion
	buf[1] = nextExt
	binary.BigEndian.PutUint16(buf[2:4], p.Header.ConnID)
	binary.BigEndian.PutUint32(buf[4:8], p.Header.Timestamp)
	binary.BigEndian.PutUint32(buf[8:12], p.Header.TimestampDiff)
	binary.BigEndian.PutUint32(buf[12:16], p.Header.WindowSize)
	binary.BigEndian.PutUint16(buf[16:18], p.Header.Seq)
	binary.BigEndian.PutUint16(buf[18:20], p.Header.Ack)

	off := HeaderSize
	if p.SelectiveAck != nil {
		buf[off] = 0 // no further extensions.
		buf[off+1] = byte(len(p.SelectiveAck.Bitmask))
		copy(buf[off+2:], p.SelectiveAck.Bitmask)
		off += extLen
	}
	copy(buf[off:], p.Payload)
	return buf
}

// Decode parses a uTP datagram. The returned Packet's Payload and
// SelectiveAck.Bitmask alias buf; callers that retain the Packet beyond the
// lifetime of buf must copy them.
func Decode(buf []byte) (*Packet, error) {
	if len(buf) < HeaderSize {
		return nil, ErrShortPacket
	}
	p := &Packet{
		Header: Header{
			Type:          PacketType(buf[0] >> 4),
			ConnID:        binary.BigEndian.Uint16(buf[2:4]),
			Timestamp:     binary.BigEndian.Uint32(buf[4:8]),
			TimestampDiff: binary.BigEndian.Uint32(buf[8:12]),
			WindowSize:    binary.BigEndian.Uint32(buf[12:16]),
			Seq:           binary.BigEndian.Uint16(buf[16:18]),
			Ack:           binary.BigEndian.Uint16(buf[18:20]),
		},
	}

	ext := buf[1]
	off := HeaderSize
	for ext != 0 {
		if off+2 > len(buf) {
			return nil, fmt.Errorf("%w: truncated extension", ErrShortPacket)
		}
		nextExt := buf[off]
		length := int(buf[off+1])
		off += 2
		if off+length > len(buf) {
			return nil, fmt.Errorf("%w: truncated extension body", ErrShortPacket)
		}
		if ext == extensionSelectiveAck {
			p.SelectiveAck = &SelectiveAck{Bitmask: buf[off : off+length]}
		}
		off += length
		ext = nextExt
	}
	if off < len(buf) {
		p.Payload = buf[off:]
	}
	return p, nil
}
