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

// Package wire implements the BitTorrent peer wire protocol: the handshake,
// the length-prefixed message frame, and the standard plus Fast-extension
// plus Extension-protocol message set.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/torrentd/peerstack/layout"
)

// ID identifies the type of a framed peer message.
type ID byte

// Message ids, per BEP 3, BEP 5 (Port), BEP 6 (Fast extension) and BEP 10
// (Extended).
const (
	Choke         ID = 0
	Unchoke       ID = 1
	Interested    ID = 2
	NotInterested ID = 3
	Have          ID = 4
	Bitfield      ID = 5
	Request       ID = 6
	Piece         ID = 7
	Cancel        ID = 8
	Port          ID = 9
	Suggest       ID = 0x0D
	HaveAll       ID = 0x0E
	HaveNone      ID = 0x0F
	Reject        ID = 0x10
	AllowedFast   ID = 0x11
	Extended      ID = 0x14
)

func (id ID) String() string {
	switch id {
	case Choke:
		return "choke"
	case Unchoke:
		return "unchoke"
	case Interested:
		return "interested"
	case NotInterested:
		return "not_interested"
	case Have:
		return "have"
	case Bitfield:
		return "bitfield"
	case Request:
		return "request"
	case Piece:
		return "piece"
	case Cancel:
		return "cancel"
	case Port:
		return "port"
	case Suggest:
		return "suggest"
	case HaveAll:
		return "have_all"
	case HaveNone:
		return "have_none"
	case Reject:
		return "reject"
	case AllowedFast:
		return "allowed_fast"
	case Extended:
		return "extended"
	default:
		return fmt.Sprintf("unknown(%d)", byte(id))
	}
}

// ErrMalformedMessage is returned for a frame whose declared length does not
// match its id-specific payload shape.
var ErrMalformedMessage = errors.New("wire: malformed message")

// maxMessageLen bounds the length prefix of a non-payload-bearing message
// frame read off the wire, guarding against a hostile peer advertising an
// absurd allocation.
const maxMessageLen = 1 << 20

// BlockInfo identifies a block within a piece, as carried by Request,
// Cancel, Reject and AllowedFast-adjacent messages.
type BlockInfo struct {
	Index  int
	Offset int64
	Length int64
}

// Message is a single decoded peer wire message. Exactly one of the typed
// fields below is populated, selected by ID.
type Message struct {
	ID ID

	// Have
	PieceIndex int

	// Bitfield
	BitfieldBytes []byte

	// Request, Cancel, Reject, Suggest (IndexOnly), AllowedFast (IndexOnly)
	Block BlockInfo

	// Piece
	PieceData []byte

	// Port
	DHTPort uint16

	// Extended
	ExtensionID byte
	ExtPayload  []byte
}

// KeepAlive is the zero-length frame with no id, sent to hold a connection
// open across an idle period.
var KeepAlive = &Message{ID: 0xFF}

// IsKeepAlive reports whether m represents a keep-alive frame rather than a
// typed message.
func (m *Message) IsKeepAlive() bool { return m.ID == 0xFF }

// Encode serializes m as a length-prefixed frame.
func Encode(w io.Writer, m *Message) error {
	if m.IsKeepAlive() {
		return binary.Write(w, binary.BigEndian, uint32(0))
	}
	body, err := encodeBody(m)
	if err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint32(1+len(body))); err != nil {
		return err
	}
	if _, err := w.Write([]byte{byte(m.ID)}); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

func encodeBody(m *Message) ([]byte, error) {
	switch m.ID {
	case Choke, Unchoke, Interested, NotInterested, HaveAll, HaveNone:
		return nil, nil
	case Have, Suggest, AllowedFast:
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, uint32(m.PieceIndex))
		return b, nil
	case Bitfield:
		return m.BitfieldBytes, nil
	case Request, Cancel, Reject:
		b := make([]byte, 12)
		binary.BigEndian.PutUint32(b[0:4], uint32(m.Block.Index))
		binary.BigEndian.PutUint32(b[4:8], uint32(m.Block.Offset))
		binary.BigEndian.PutUint32(b[8:12], uint32(m.Block.Length))
		return b, nil
	case Piece:
		b := make([]byte, 8+len(m.PieceData))
		binary.BigEndian.PutUint32(b[0:4], uint32(m.Block.Index))
		binary.BigEndian.PutUint32(b[4:8], uint32(m.Block.Offset))
		copy(b[8:], m.PieceData)
		return b, nil
	case Port:
		b := make([]byte, 2)
		binary.BigEndian.PutUint16(b, m.DHTPort)
		return b, nil
	case Extended:
		return append([]byte{m.ExtensionID}, m.ExtPayload...), nil
	default:
		return nil, fmt.Errorf("wire: unknown message id %d", m.ID)
	}
}

// Decode reads and parses exactly one length-prefixed frame from r. The
// returned Message's PieceData aliases the buffer read from r; callers that
// retain it across the next Decode call must copy it.
func Decode(r io.Reader) (*Message, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, err
	}
	if length == 0 {
		return KeepAlive, nil
	}
	if length > maxMessageLen {
		return nil, fmt.Errorf("%w: frame length %d exceeds limit", ErrMalformedMessage, length)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return decodeBody(ID(buf[0]), buf[1:])
}

func decodeBody(id ID, body []byte) (*Message, error) {
	m := &Message{ID: id}
	switch id {
	case Choke, Unchoke, Interested, NotInterested, HaveAll, HaveNone:
		if len(body) != 0 {
			return nil, fmt.Errorf("%w: %s takes no payload", ErrMalformedMessage, id)
		}
	case Have, Suggest, AllowedFast:
		if len(body) != 4 {
			return nil, fmt.Errorf("%w: %s wants 4 bytes", ErrMalformedMessage, id)
		}
		m.PieceIndex = int(binary.BigEndian.Uint32(body))
	case Bitfield:
		m.BitfieldBytes = body
	case Request, Cancel, Reject:
		if len(body) != 12 {
			return nil, fmt.Errorf("%w: %s wants 12 bytes", ErrMalformedMessage, id)
		}
		m.Block = BlockInfo{
			Index:  int(binary.BigEndian.Uint32(body[0:4])),
			Offset: int64(binary.BigEndian.Uint32(body[4:8])),
			Length: int64(binary.BigEndian.Uint32(body[8:12])),
		}
	case Piece:
		if len(body) < 8 {
			return nil, fmt.Errorf("%w: piece wants >=8 bytes", ErrMalformedMessage)
		}
		m.Block = BlockInfo{
			Index:  int(binary.BigEndian.Uint32(body[0:4])),
			Offset: int64(binary.BigEndian.Uint32(body[4:8])),
			Length: int64(len(body) - 8),
		}
		m.PieceData = body[8:]
	case Port:
		if len(body) != 2 {
			return nil, fmt.Errorf("%w: port wants 2 bytes", ErrMalformedMessage)
		}
		m.DHTPort = binary.BigEndian.Uint16(body)
	case Extended:
		if len(body) < 1 {
			return nil, fmt.Errorf("%w: extended wants >=1 byte", ErrMalformedMessage)
		}
		m.ExtensionID = body[0]
		m.ExtPayload = body[1:]
	default:
		return nil, fmt.Errorf("%w: unknown message id %d", ErrMalformedMessage, id)
	}
	return m, nil
}

// NewRequest builds a Request message for a layout.BlockRange.
func NewRequest(r layout.BlockRange) *Message {
	return &Message{ID: Request, Block: BlockInfo{Index: r.Piece, Offset: r.Offset, Length: r.Size}}
}

// NewCancel builds a Cancel message for a layout.BlockRange.
func NewCancel(r layout.BlockRange) *Message {
	return &Message{ID: Cancel, Block: BlockInfo{Index: r.Piece, Offset: r.Offset, Length: r.Size}}
}

// NewReject builds a Reject message for a layout.BlockRange.
func NewReject(r layout.BlockRange) *Message {
	return &Message{ID: Reject, Block: BlockInfo{Index: r.Piece, Offset: r.Offset, Length: r.Size}}
}

// NewPiece builds a Piece message carrying data for the given range.
func NewPiece(index int, offset int64, data []byte) *Message {
	return &Message{ID: Piece, Block: BlockInfo{Index: index, Offset: offset, Length: int64(len(data))}, PieceData: data}
}

// NewHave builds a Have message.
func NewHave(index int) *Message { return &Message{ID: Have, PieceIndex: index} }

// NewBitfield builds a Bitfield message from packed bytes.
func NewBitfield(b []byte) *Message { return &Message{ID: Bitfield, BitfieldBytes: b} }
