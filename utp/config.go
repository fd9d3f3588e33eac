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
package utp

import "time"

// minPacketSize is the smallest payload a data packet may carry, used when
// forcing a send past a stalled congestion window.
const minPacketSize = 150

// Config tunes a Conn's congestion control, resend behavior and packet
// sizing.
type Config struct {
	// PacketSize bounds the size of outgoing packets, including the header.
	PacketSize int

	// InitialWindowSize is the starting congestion window, in bytes.
	InitialWindowSize int

	// RecvBufferSize is the advertised receive buffer capacity, in bytes.
	RecvBufferSize int

	// ResendLimit is the maximum number of times a data packet is
	// retransmitted before the connection is torn down.
	ResendLimit int

	// CongestionTarget is BEP 29's target queuing delay.
	CongestionTarget time.Duration

	// MaxWindowIncreasePerRTT clamps the congestion window's per-update
	// change, in bytes.
	MaxWindowIncreasePerRTT int

	// InitialRTO is the retransmission timeout used before any RTT sample
	// has been observed.
	InitialRTO time.Duration

	// AckInterval bounds how long a Conn waits before acking data it has
	// received, absent other outgoing traffic to piggyback on.
	AckInterval time.Duration

	// IdleTimeout closes a Conn that neither sends nor receives anything
	// for this long.
	IdleTimeout time.Duration

	// PathMTUMaxProbeSize bounds the largest path MTU an MTUProber will
	// try before concluding the path supports at least that much (§4.8,
	// §9's "path-MTU probe sizes" global-config knob).
	PathMTUMaxProbeSize int

	// PathMTUMinProbeSize is the smallest path MTU an MTUProber will fall
	// back to after repeated EMSGSIZE without a kernel-reported MTU.
	PathMTUMinProbeSize int

	// PathMTUProbeTimeout bounds how long an MTUProber waits for an ICMP
	// echo reply before giving up on a single probe attempt.
	PathMTUProbeTimeout time.Duration

	// PathMTUQueueSize bounds the MTUProber's probe-request and
	// path-MTU-update channels.
	PathMTUQueueSize int
}

// DefaultConfig returns the configuration used when none is supplied,
// matching values BEP 29 recommends or widely deployed clients default to.
func DefaultConfig() Config {
	return Config{
		PacketSize:              1350,
		InitialWindowSize:       3 * minPacketSize,
		RecvBufferSize:          1 << 20,
		ResendLimit:             5,
		CongestionTarget:        100 * time.Millisecond,
		MaxWindowIncreasePerRTT: 3000,
		InitialRTO:              time.Second,
		AckInterval:             500 * time.Millisecond,
		IdleTimeout:             2 * time.Minute,
		PathMTUMaxProbeSize:     1500,
		PathMTUMinProbeSize:     576,
		PathMTUProbeTimeout:     2 * time.Second,
		PathMTUQueueSize:        16,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.PacketSize <= 0 {
		c.PacketSize = d.PacketSize
	}
	if c.PacketSize < minPacketSize {
		c.PacketSize = minPacketSize
	}
	if c.InitialWindowSize <= 0 {
		c.InitialWindowSize = d.InitialWindowSize
	}
	if c.RecvBufferSize <= 0 {
		c.RecvBufferSize = d.RecvBufferSize
	}
	if c.ResendLimit <= 0 {
		c.ResendLimit = d.ResendLimit
	}
	if c.CongestionTarget <= 0 {
		c.CongestionTarget = d.CongestionTarget
	}
	if c.MaxWindowIncreasePerRTT <= 0 {
		c.MaxWindowIncreasePerRTT = d.MaxWindowIncreasePerRTT
	}
	if c.InitialRTO <= 0 {
		c.InitialRTO = d.InitialRTO
	}
	if c.AckInterval <= 0 {
		c.AckInterval = d.AckInterval
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.PathMTUMaxProbeSize <= 0 {
		c.PathMTUMaxProbeSize = d.PathMTUMaxProbeSize
	}
	if c.PathMTUMinProbeSize <= 0 {
		c.PathMTUMinProbeSize = d.PathMTUMinProbeSize
	}
	if c.PathMTUProbeTimeout <= 0 {
		c.PathMTUProbeTimeout = d.PathMTUProbeTimeout
	}
	if c.PathMTUQueueSize <= 0 {
		c.PathMTUQueueSize = d.PathMTUQueueSize
	}
}
