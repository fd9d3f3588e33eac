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

//go:build !linux

package utp

import (
	"errors"
	"net"

	"go.uber.org/zap"
)

// ErrMTUProbeUnsupported is returned by NewMTUProber on platforms other
// than Linux, where the raw-ICMP probe is not implemented; callers
// elsewhere should treat MTU discovery as an optional extension and carry
// on with Config.PacketSize unchanged.
var ErrMTUProbeUnsupported = errors.New("utp: path mtu probing is linux-only")

// MTUUpdate reports a freshly discovered path MTU for a remote endpoint.
type MTUUpdate struct {
	Remote  *net.UDPAddr
	PathMTU int
}

// MTUProber is a no-op stand-in on non-Linux platforms.
type MTUProber struct{}

// NewMTUProber always fails on non-Linux platforms.
func NewMTUProber(config Config, logger *zap.SugaredLogger) (*MTUProber, error) {
	return nil, ErrMTUProbeUnsupported
}

// Probe is a no-op.
func (p *MTUProber) Probe(remote *net.UDPAddr) {}

// Close is a no-op.
func (p *MTUProber) Close() error { return nil }

// ToPacketSize converts a discovered path MTU into the uTP packet size
// budget, subtracting the IPv4 and UDP headers.
func ToPacketSize(pathMTU int) int {
	return pathMTU - 20 - 8
}
