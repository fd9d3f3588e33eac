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

//go:build linux

package utp

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

// Path MTU discovery: probe via ICMP echo with the don't-fragment bit
// set, halve the probe size on EMSGSIZE until a reply arrives, and convert
// the discovered path MTU into a uTP packet size. A path MTU reported by the
// kernel with EMSGSIZE is not read.
// IPv6 probing is left as an extension point.
const (
	ipHeaderSize   = 20
	udpHeaderSize  = 8
	icmpHeaderSize = 8
)

// ErrIPv6Unsupported is returned (never fatally) when asked to probe an
// IPv6 endpoint. IPv6 probing is an extension point rather than an error
// condition, but Probe needs a sentinel to skip the attempt cleanly.
var ErrIPv6Unsupported = errors.New("utp: ipv6 path mtu probing not supported")

// ToPacketSize converts a discovered path MTU into the uTP packet size
// budget, subtracting the IPv4 and UDP headers.
func ToPacketSize(pathMTU int) int {
	return pathMTU - ipHeaderSize - udpHeaderSize
}

func toICMPPayloadSize(pathMTU int) int {
	return pathMTU - ipHeaderSize - icmpHeaderSize
}

// MTUUpdate reports a freshly discovered path MTU for a remote endpoint.
// Receivers (Conns, via Socket.notifyMTU) accept these over a channel
// rather than through a direct call, so probing stays
// decoupled from any particular Conn's lifetime.
type MTUUpdate struct {
	Remote  *net.UDPAddr
	PathMTU int
}

// MTUProber issues Linux ICMP-echo-with-DF probes on demand and reports
// discovered path MTUs on Updates. One prober's ICMP socket is shared
// across every Conn a Socket multiplexes.
type MTUProber struct {
	conn    *icmp.PacketConn
	logger  *zap.SugaredLogger
	probec  chan *net.UDPAddr
	Updates chan MTUUpdate
	closec  chan struct{}
	wg      sync.WaitGroup

	maxProbeSize int
	minProbeSize int
	probeTimeout time.Duration
}

// NewMTUProber opens a raw ICMP socket (requires CAP_NET_RAW or an
// equivalent capability) and starts the prober's background actor.
func NewMTUProber(config Config, logger *zap.SugaredLogger) (*MTUProber, error) {
	config.applyDefaults()

	conn, err := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	if err != nil {
		return nil, fmt.Errorf("utp: open icmp socket: %w", err)
	}
	if err := setPathMTUDiscoverDoNotFragment(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("utp: enable pmtu discovery: %w", err)
	}

	p := &MTUProber{
		conn:         conn,
		logger:       logger,
		probec:       make(chan *net.UDPAddr, config.PathMTUQueueSize),
		Updates:      make(chan MTUUpdate, config.PathMTUQueueSize),
		closec:       make(chan struct{}),
		maxProbeSize: config.PathMTUMaxProbeSize,
		minProbeSize: config.PathMTUMinProbeSize,
		probeTimeout: config.PathMTUProbeTimeout,
	}
	p.wg.Add(1)
	go p.run()
	return p, nil
}

// Probe requests a path MTU discovery for remote, non-blocking: if the
// probe queue is full the request is dropped with a warning so a slow
// prober never blocks connection setup.
func (p *MTUProber) Probe(remote *net.UDPAddr) {
	if remote.IP.To4() == nil {
		p.logger.Debugw("skipping path mtu probe for ipv6 endpoint", "remote", remote)
		return
	}
	select {
	case p.probec <- remote:
	default:
		p.logger.Warnw("path mtu probe queue full, dropping request", "remote", remote)
	}
}

// Close stops the prober's background actor and closes its ICMP socket.
func (p *MTUProber) Close() error {
	close(p.closec)
	err := p.conn.Close()
	p.wg.Wait()
	return err
}

func (p *MTUProber) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.closec:
			return
		case remote := <-p.probec:
			pathMTU, err := p.probeOne(remote)
			if err != nil {
				p.logger.Debugw("path mtu probe failed", "remote", remote, "error", err)
				continue
			}
			select {
			case p.Updates <- MTUUpdate{Remote: remote, PathMTU: pathMTU}:
			default:
				p.logger.Warnw("path mtu update queue full, dropping result", "remote", remote)
			}
		}
	}
}

// probeOne sends successively smaller ICMP echoes with DF set until one
// elicits a reply, halving the probe size on EMSGSIZE. The reported-MTU
// branch below is reached only if mtuFromEMSGSIZE returns a positive value,
// which it currently never does.
func (p *MTUProber) probeOne(remote *net.UDPAddr) (int, error) {
	pathMTU := p.maxProbeSize
	seq := 1
	for {
		payload := make([]byte, toICMPPayloadSize(pathMTU))
		msg := icmp.Message{
			Type: ipv4.ICMPTypeEcho,
			Code: 0,
			Body: &icmp.Echo{
				ID:   os.Getpid() & 0xffff,
				Seq:  seq,
				Data: payload,
			},
		}
		seq++
		b, err := msg.Marshal(nil)
		if err != nil {
			return 0, err
		}

		_, err = p.conn.WriteTo(b, &net.IPAddr{IP: remote.IP})
		if err == nil {
			reply := make([]byte, 65536)
			if err := p.conn.SetReadDeadline(time.Now().Add(p.probeTimeout)); err != nil {
				return 0, err
			}
			if _, _, err := p.conn.ReadFrom(reply); err != nil {
				return 0, fmt.Errorf("icmp reply timeout: %w", err)
			}
			return pathMTU, nil
		}

		reported, ok := mtuFromEMSGSIZE(err)
		if !ok {
			return 0, err
		}
		if reported > 0 {
			pathMTU = reported
		} else {
			pathMTU /= 2
		}
		if pathMTU < p.minProbeSize {
			return p.minProbeSize, nil
		}
	}
}

// setPathMTUDiscoverDoNotFragment sets IP_MTU_DISCOVER to IP_PMTUDISC_DO
// (set the don't-fragment bit on every outgoing packet and surface
// EMSGSIZE with the kernel's current path MTU estimate instead of
// fragmenting).
func setPathMTUDiscoverDoNotFragment(conn *icmp.PacketConn) error {
	rawConn, err := conn.IPv4PacketConn().SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = rawConn.Control(func(fd uintptr) {
		sockErr = syscall.SetsockoptInt(int(fd), syscall.IPPROTO_IP, syscall.IP_MTU_DISCOVER, syscall.IP_PMTUDISC_DO)
	})
	if err != nil {
		return err
	}
	return sockErr
}

// mtuFromEMSGSIZE reports whether err wraps EMSGSIZE. It does not read the
// kernel's path MTU estimate for the socket, so the returned mtu is always 0.
func mtuFromEMSGSIZE(err error) (mtu int, isEMSGSIZE bool) {
	var errno syscall.Errno
	if !errors.As(err, &errno) || errno != syscall.EMSGSIZE {
		return 0, false
	}
	return 0, true
}
