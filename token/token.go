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

// Package token issues and validates the opaque tokens a DHT node hands out
// in get_peers responses and checks on announce_peer, per BEP 5 §"Tokens".
// The recipe binds the token to the requester's endpoint, a coarse time
// bucket and a secret private to the Source's lifetime; it intentionally
// diverges from the recipe some implementations use by folding the UDP
// port into the hash -- reimplementers
// must mirror this exactly to validate tokens issued by this Source.
package token

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"net"
	"time"

	"github.com/andres-erbsen/clock"
)

// Config configures a Source.
type Config struct {
	// Period is the duration of one age bucket.
	Period time.Duration `yaml:"period"`
	// ValidSince is how far back (in addition to the current bucket) a
	// token may have been generated and still validate.
	ValidSince time.Duration `yaml:"valid_since"`
}

func (c Config) applyDefaults() Config {
	if c.Period == 0 {
		c.Period = 5 * time.Minute
	}
	if c.ValidSince == 0 {
		c.ValidSince = 10 * time.Minute
	}
	return c
}

// Source generates and validates age-bucketed SHA-1 tokens for a single DHT
// node's lifetime. The secret is supplied by the caller at construction and
// never exposed.
type Source struct {
	config Config
	clk    clock.Clock
	start  time.Time
	secret [8]byte
}

// SecretFunc supplies a fixed 8-byte secret of the kind New takes. New does
// not call one; the caller passes the secret itself.
type SecretFunc func() ([8]byte, error)

// New creates a Source whose age buckets are measured from clk.Now() at
// construction time.
func New(config Config, clk clock.Clock, secret [8]byte) *Source {
	config = config.applyDefaults()
	return &Source{
		config: config,
		clk:    clk,
		start:  clk.Now(),
		secret: secret,
	}
}

// Age returns the age bucket containing t.
func (s *Source) Age(t time.Time) int64 {
	d := t.Sub(s.start)
	if d < 0 {
		return 0
	}
	return int64(d / s.config.Period)
}

// Generate returns the token for endpoint addr at the current age.
func (s *Source) Generate(addr *net.UDPAddr) []byte {
	return s.generateAt(addr, s.Age(s.clk.Now()))
}

// GenerateAt returns the token for endpoint addr at the given age, exposed
// so callers (and tests) can compute the recipe for an arbitrary bucket.
func (s *Source) GenerateAt(addr *net.UDPAddr, age int64) []byte {
	return s.generateAt(addr, age)
}

func (s *Source) generateAt(addr *net.UDPAddr, age int64) []byte {
	var buf bytes.Buffer
	ip4 := addr.IP.To4()
	if ip4 != nil {
		buf.Write(ip4)
	} else {
		buf.Write(addr.IP)
	}
	var portBuf [2]byte
	binary.BigEndian.PutUint16(portBuf[:], uint16(addr.Port))
	buf.Write(portBuf[:])
	var ageBuf [8]byte
	binary.BigEndian.PutUint64(ageBuf[:], uint64(age))
	buf.Write(ageBuf[:])
	buf.Write(s.secret[:])
	sum := sha1.Sum(buf.Bytes())
	return sum[:]
}

// Validate reports whether tok is a valid, unexpired token for addr. It
// scans ages oldest-to-newest from max(0, age(now) - floor(ValidSince/Period))
// to age(now) and returns true on the first match.
func (s *Source) Validate(addr *net.UDPAddr, tok []byte) bool {
	now := s.Age(s.clk.Now())
	window := int64(s.config.ValidSince / s.config.Period)
	oldest := now - window
	if oldest < 0 {
		oldest = 0
	}
	for a := oldest; a <= now; a++ {
		if bytes.Equal(s.generateAt(addr, a), tok) {
			return true
		}
	}
	return false
}
