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

// Package peeractor implements the per-peer state machine: a single
// goroutine owns one peer's framed wire.Message stream, translating it
// into possession/state events for the scheduler while enforcing the
// incoming/outgoing request queue byte caps and per-request timeouts.
package peeractor

import (
	"time"

	"github.com/c2h5oh/datasize"
)

// Config tunes an Actor's queues and timeouts.
type Config struct {
	// OutgoingByteLimit caps the total size of blocks we have requested
	// from the peer but not yet received. Request returns ErrFull once
	// reached.
	OutgoingByteLimit datasize.ByteSize `yaml:"outgoing_byte_limit"`

	// IncomingByteLimit caps the total size of blocks the peer has
	// requested from us but we have not yet served. Exceeding it refuses
	// the request at the connection level.
	IncomingByteLimit datasize.ByteSize `yaml:"incoming_byte_limit"`

	// RequestTimeout bounds how long an outgoing request may remain
	// unanswered before it is failed back to the caller.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// IncomingRequestTimeout bounds how long an accepted incoming request
	// may sit unserved before the actor auto-rejects it to the peer.
	IncomingRequestTimeout time.Duration `yaml:"incoming_request_timeout"`

	// SendBufferSize is the capacity of the outbound message channel.
	SendBufferSize int `yaml:"send_buffer_size"`

	// CloseGracePeriod bounds how long Cancel waits for the write loop to
	// flush queued messages before the socket is torn down regardless.
	CloseGracePeriod time.Duration `yaml:"close_grace_period"`

	// IdleTimeout is how long a connection may carry no traffic in either
	// direction before Idle reports true and the owning transceiver
	// cancels the actor.
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

func (c Config) applyDefaults() Config {
	if c.OutgoingByteLimit == 0 {
		c.OutgoingByteLimit = 4 << 20
	}
	if c.IncomingByteLimit == 0 {
		c.IncomingByteLimit = 4 << 20
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.IncomingRequestTimeout == 0 {
		c.IncomingRequestTimeout = 10 * time.Second
	}
	if c.SendBufferSize == 0 {
		c.SendBufferSize = 64
	}
	if c.CloseGracePeriod == 0 {
		c.CloseGracePeriod = 2 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 2 * time.Minute
	}
	return c
}
